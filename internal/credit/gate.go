package credit

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/artisanmarket/callcenter/internal/metrics"
	"github.com/artisanmarket/callcenter/internal/store"
	"github.com/artisanmarket/callcenter/internal/types"
)

// Gate applies the prepaid-balance policy on the answer path. Answering a
// call debits one unit for balance-carrying roles; the debit happens at
// most once per call, before the answer message goes out.
type Gate struct {
	store  store.Store
	logger zerolog.Logger
}

// NewGate creates a credit gate backed by the directory store
func NewGate(st store.Store, logger zerolog.Logger) *Gate {
	return &Gate{
		store:  st,
		logger: logger.With().Str("component", "credit").Logger(),
	}
}

// TryDebit decrements one unit if the callee role carries a balance and
// units remain. ok=false means insufficient balance and nothing was
// mutated. Roles without a balance concept always pass.
func (g *Gate) TryDebit(ctx context.Context, calleeID string, calleeRole types.Role) (bool, error) {
	if !calleeRole.HasBalance() {
		return true, nil
	}

	err := g.store.DebitUnit(ctx, calleeID)
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		g.logger.Info().Str("callee_id", calleeID).Msg("answer blocked, insufficient balance")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.Get().RecordDebit()
	g.logger.Debug().Str("callee_id", calleeID).Msg("debited one unit")
	return true, nil
}
