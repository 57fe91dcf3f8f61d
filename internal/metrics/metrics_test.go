package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/artisanmarket/callcenter/internal/types"
)

func TestRecordAndSnapshot(t *testing.T) {
	m := Get()
	before := m.GetSnapshot()

	m.RecordEnqueue(types.AssignmentRinging)
	m.RecordEnqueue(types.AssignmentNoAgent)
	m.RecordCallStarted()
	m.RecordCallConnected()
	m.RecordCallFinished(types.CallStatusEnded)
	m.RecordDebit()

	after := m.GetSnapshot()

	if after.EnqueueTotal-before.EnqueueTotal != 2 {
		t.Errorf("enqueue delta = %d, want 2", after.EnqueueTotal-before.EnqueueTotal)
	}
	if after.AssignmentsRinging-before.AssignmentsRinging != 1 {
		t.Errorf("ringing delta wrong")
	}
	if after.AssignmentsNoAgent-before.AssignmentsNoAgent != 1 {
		t.Errorf("no_agent delta wrong")
	}
	if after.CallsStartedTotal-before.CallsStartedTotal != 1 {
		t.Errorf("started delta wrong")
	}
	if after.CallsFinished[types.CallStatusEnded]-before.CallsFinished[types.CallStatusEnded] != 1 {
		t.Errorf("finished delta wrong")
	}
	if after.DebitsTotal-before.DebitsTotal != 1 {
		t.Errorf("debit delta wrong")
	}
}

func TestFeedConnectionGauge(t *testing.T) {
	m := Get()
	before := m.GetSnapshot()

	m.RecordFeedConnect()
	m.RecordFeedConnect()
	m.RecordFeedDisconnect()

	after := m.GetSnapshot()
	if after.ActiveFeedConnections-before.ActiveFeedConnections != 1 {
		t.Errorf("active gauge delta = %d, want 1", after.ActiveFeedConnections-before.ActiveFeedConnections)
	}
}

func TestHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()

	Get().Handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %s", ct)
	}

	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	if snap.UptimeSeconds < 0 {
		t.Errorf("negative uptime %f", snap.UptimeSeconds)
	}
}
