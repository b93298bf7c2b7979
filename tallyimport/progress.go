package tallyimport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/himanshudhami/invoicex/config"
	"github.com/himanshudhami/invoicex/models"
	"github.com/sirupsen/logrus"
)

type PhaseProgress struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type ProgressSnapshot struct {
	BatchId         int                                     `json:"batch_id"`
	Phase           models.ImportPhase                      `json:"phase"`
	Phases          map[models.ImportPhase]PhaseProgress    `json:"phases"`
	PercentComplete float64                                 `json:"percent_complete"`
	LastError       string                                  `json:"last_error"`
	ElapsedMs       int64                                   `json:"elapsed_ms"`
	EstimatedMs     int64                                   `json:"estimated_remaining_ms"`
}

// ProgressSink receives snapshots while a batch runs. Consumed by whatever
// polls or streams progress to the operator.
type ProgressSink interface {
	Publish(ctx context.Context, snapshot ProgressSnapshot) error
}

// NewProgressSink picks the configured sink: Pub/Sub when a project id is
// set, the structured log otherwise.
func NewProgressSink(logger *logrus.Logger) ProgressSink {
	if config.PubSubConfigured() {
		return &PubSubProgressSink{topic: progressTopicName()}
	}
	return &LogProgressSink{Logger: logger}
}

// LogProgressSink writes snapshots to the structured log. It is the default
// sink and also the fallback when no other sink is configured.
type LogProgressSink struct {
	Logger *logrus.Logger
}

func (s *LogProgressSink) Publish(_ context.Context, snapshot ProgressSnapshot) error {
	logger := s.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	logger.WithFields(logrus.Fields{
		"batch_id": snapshot.BatchId,
		"phase":    snapshot.Phase,
		"percent":  snapshot.PercentComplete,
	}).Info("import progress")
	return nil
}

// Tracker accumulates per-phase progress for one running batch. Safe for
// concurrent use; worker pools within a phase report through the same
// tracker.
type Tracker struct {
	mu        sync.Mutex
	batchId   int
	phase     models.ImportPhase
	phases    map[models.ImportPhase]*PhaseProgress
	lastError string
	startedAt time.Time
	sink      ProgressSink
}

func NewTracker(batchId int, sink ProgressSink) *Tracker {
	if sink == nil {
		sink = &LogProgressSink{}
	}
	return &Tracker{
		batchId:   batchId,
		phases:    map[models.ImportPhase]*PhaseProgress{},
		startedAt: time.Now(),
		sink:      sink,
	}
}

func (t *Tracker) BeginPhase(ctx context.Context, phase models.ImportPhase, total int) {
	t.mu.Lock()
	t.phase = phase
	if existing, ok := t.phases[phase]; ok {
		existing.Total += total
	} else {
		t.phases[phase] = &PhaseProgress{Total: total}
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	_ = t.sink.Publish(ctx, snapshot)
	cacheProgress(snapshot)
}

// RecordDone marks one record processed. Failed records carry the error
// message forward as the snapshot's LastError.
func (t *Tracker) RecordDone(ctx context.Context, succeeded bool, errMessage string) {
	t.mu.Lock()
	progress, ok := t.phases[t.phase]
	if !ok {
		progress = &PhaseProgress{}
		t.phases[t.phase] = progress
	}
	progress.Processed++
	if succeeded {
		progress.Succeeded++
	} else {
		progress.Failed++
		if errMessage != "" {
			t.lastError = errMessage
		}
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	_ = t.sink.Publish(ctx, snapshot)
	cacheProgress(snapshot)
}

// cacheProgress stores the latest snapshot for polling reads; the batch row
// only carries the final snapshot, written when the run finishes.
func cacheProgress(snapshot ProgressSnapshot) {
	_ = config.SetRedisObject(progressCacheKey(snapshot.BatchId), snapshot, time.Hour)
}

func progressCacheKey(batchId int) string {
	return fmt.Sprintf("import:progress:%d", batchId)
}

func (t *Tracker) Snapshot() ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() ProgressSnapshot {
	snapshot := ProgressSnapshot{
		BatchId:   t.batchId,
		Phase:     t.phase,
		Phases:    map[models.ImportPhase]PhaseProgress{},
		LastError: t.lastError,
		ElapsedMs: time.Since(t.startedAt).Milliseconds(),
	}

	total, processed := 0, 0
	for phase, progress := range t.phases {
		snapshot.Phases[phase] = *progress
		total += progress.Total
		processed += progress.Processed
	}
	if total > 0 {
		snapshot.PercentComplete = float64(processed) / float64(total) * 100
	}
	if processed > 0 && processed < total {
		perRecord := snapshot.ElapsedMs / int64(processed)
		snapshot.EstimatedMs = perRecord * int64(total-processed)
	}
	return snapshot
}
