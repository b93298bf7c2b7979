package tallyimport

import (
	"context"
	"sync"
	"testing"

	"github.com/himanshudhami/invoicex/models"
)

type captureSink struct {
	mu        sync.Mutex
	snapshots []ProgressSnapshot
}

func (s *captureSink) Publish(_ context.Context, snapshot ProgressSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func TestTracker_PhaseAccounting(t *testing.T) {
	sink := &captureSink{}
	tracker := NewTracker(7, sink)
	ctx := context.Background()

	tracker.BeginPhase(ctx, models.PhaseMasters, 4)
	tracker.RecordDone(ctx, true, "")
	tracker.RecordDone(ctx, true, "")
	tracker.RecordDone(ctx, false, "target write failed")
	tracker.RecordDone(ctx, true, "")
	tracker.BeginPhase(ctx, models.PhaseVouchers, 1)
	tracker.RecordDone(ctx, true, "")

	snapshot := tracker.Snapshot()
	if snapshot.BatchId != 7 {
		t.Errorf("batch id = %d", snapshot.BatchId)
	}
	if snapshot.Phase != models.PhaseVouchers {
		t.Errorf("current phase = %s, want vouchers", snapshot.Phase)
	}

	masters := snapshot.Phases[models.PhaseMasters]
	if masters.Total != 4 || masters.Processed != 4 || masters.Succeeded != 3 || masters.Failed != 1 {
		t.Errorf("masters phase = %+v", masters)
	}
	if snapshot.PercentComplete != 100 {
		t.Errorf("percent = %f, want 100", snapshot.PercentComplete)
	}
	if snapshot.LastError != "target write failed" {
		t.Errorf("last error = %q", snapshot.LastError)
	}
	if len(sink.snapshots) != 7 {
		t.Errorf("published %d snapshots, want 7 (2 phase starts + 5 records)", len(sink.snapshots))
	}
}

func TestNewProgressSink_SelectsByConfiguration(t *testing.T) {
	t.Setenv("PUBSUB_PROJECT_ID", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")
	if _, ok := NewProgressSink(nil).(*LogProgressSink); !ok {
		t.Error("expected the log sink when no project is configured")
	}

	t.Setenv("PUBSUB_PROJECT_ID", "demo-project")
	sink, ok := NewProgressSink(nil).(*PubSubProgressSink)
	if !ok {
		t.Fatal("expected the pubsub sink when a project is configured")
	}
	if sink.topic != "tally-import-progress" {
		t.Errorf("topic = %q", sink.topic)
	}
}

func TestTracker_BeginPhaseIsAdditive(t *testing.T) {
	tracker := NewTracker(1, &captureSink{})
	ctx := context.Background()

	// Each master record type adds its share to the same phase total.
	tracker.BeginPhase(ctx, models.PhaseMasters, 3)
	tracker.BeginPhase(ctx, models.PhaseMasters, 2)

	snapshot := tracker.Snapshot()
	if got := snapshot.Phases[models.PhaseMasters].Total; got != 5 {
		t.Errorf("masters total = %d, want 5", got)
	}
	if snapshot.PercentComplete != 0 {
		t.Errorf("percent = %f, want 0", snapshot.PercentComplete)
	}
}
