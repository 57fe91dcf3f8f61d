package queueing

import (
	"sort"

	"github.com/artisanmarket/callcenter/internal/types"
)

// FairnessStrategy orders eligible agents for assignment attempts
type FairnessStrategy interface {
	Rank(candidates []types.Agent) []types.Agent
}

// LeastRecentlyAssigned orders agents by the oldest LastAssignedAt so work
// spreads evenly; ties break by agent ID for determinism.
type LeastRecentlyAssigned struct{}

// Rank returns the candidates sorted by assignment recency
func (l *LeastRecentlyAssigned) Rank(candidates []types.Agent) []types.Agent {
	ranked := make([]types.Agent, len(candidates))
	copy(ranked, candidates)

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].LastAssignedAt.Equal(ranked[j].LastAssignedAt) {
			return ranked[i].ID < ranked[j].ID
		}
		return ranked[i].LastAssignedAt.Before(ranked[j].LastAssignedAt)
	})
	return ranked
}
