// Package progress tracks run counters and logs them periodically while a
// batch is in flight. Counters are append-only; the final snapshot feeds the
// run summary.
package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Snapshot struct {
	FeaturesRead int
	Normalized   int
	Discarded    int
	Classified   int
	Skipped      int
	Records      int
}

type Tracker struct {
	mu       sync.Mutex
	snap     Snapshot
	started  time.Time
	interval time.Duration
	log      *zap.Logger
}

func New(log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}

	return &Tracker{
		started:  time.Now().UTC(),
		interval: 5 * time.Second,
		log:      log,
	}
}

func (t *Tracker) IncrFeaturesRead(n int) { t.incr(func(s *Snapshot) { s.FeaturesRead += n }) }
func (t *Tracker) IncrNormalized(n int)   { t.incr(func(s *Snapshot) { s.Normalized += n }) }
func (t *Tracker) IncrDiscarded(n int)    { t.incr(func(s *Snapshot) { s.Discarded += n }) }
func (t *Tracker) IncrClassified(n int)   { t.incr(func(s *Snapshot) { s.Classified += n }) }
func (t *Tracker) IncrSkipped(n int)      { t.incr(func(s *Snapshot) { s.Skipped += n }) }
func (t *Tracker) IncrRecords(n int)      { t.incr(func(s *Snapshot) { s.Records += n }) }

func (t *Tracker) incr(fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&t.snap)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snap
}

// Run logs the counters every interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.logState("run in progress")
		}
	}
}

// Finish logs the final counters with the total elapsed time.
func (t *Tracker) Finish() {
	t.logState("run finished")
}

func (t *Tracker) logState(msg string) {
	snap := t.Snapshot()

	t.log.Info(msg,
		zap.Int("features_read", snap.FeaturesRead),
		zap.Int("normalized", snap.Normalized),
		zap.Int("discarded", snap.Discarded),
		zap.Int("classified", snap.Classified),
		zap.Int("skipped", snap.Skipped),
		zap.Int("records", snap.Records),
		zap.Duration("elapsed", time.Since(t.started)),
	)
}
