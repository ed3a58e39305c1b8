package roster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Fetcher supplies normalized roster records.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Record, error)
}

// Syncer fetches the roster and reconciles it, on demand or on a ticker.
// Runs never overlap: a second caller waits for the first to finish.
type Syncer struct {
	fetcher    Fetcher
	reconciler *Reconciler
	log        *slog.Logger
	mu         sync.Mutex
}

// NewSyncer creates a syncer.
func NewSyncer(f Fetcher, rc *Reconciler, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{fetcher: f, reconciler: rc, log: logger}
}

// RunOnce performs one fetch and reconciliation.
func (s *Syncer) RunOnce(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	records, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch roster: %w", err)
	}
	res, err := s.reconciler.Reconcile(ctx, records)
	if err != nil {
		return res, err
	}
	s.log.Info("roster sync finished",
		slog.Int("total", res.Total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

// Start runs RunOnce immediately and then every interval until ctx is done.
func (s *Syncer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("roster sync scheduler started", slog.Duration("interval", interval))
	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("roster sync scheduler stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Syncer) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("roster sync failed", slog.String("error", err.Error()))
	}
}
