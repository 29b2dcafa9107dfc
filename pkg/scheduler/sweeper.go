package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"songforge/pkg/data"
	"songforge/pkg/session"
)

// Sweeper periodically refreshes every session sitting in a deadline-bearing
// stage so that elapsed deadlines advance even without user traffic. The
// refresh operation is idempotent, so the sweep can overlap lazy on-access
// checks safely.
type Sweeper struct {
	cron     *cron.Cron
	repo     data.Repository
	sessions *session.Manager
	logger   *zap.Logger
	entryID  cron.EntryID
	running  bool
	mu       sync.Mutex

	// SweepStats, guarded by mu
	sweeps        int64
	lastSweep     time.Time
	lastSweepSize int
}

// SweeperStats reports sweep activity.
type SweeperStats struct {
	Sweeps        int64
	LastSweep     time.Time
	LastSweepSize int
}

// NewSweeper creates a sweeper on the given cron schedule (with seconds
// field).
func NewSweeper(repo data.Repository, sessions *session.Manager, schedule string, logger *zap.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:     cron.New(cron.WithSeconds()),
		repo:     repo,
		sessions: sessions,
		logger:   logger,
	}

	entryID, err := s.cron.AddFunc(schedule, s.sweep)
	if err != nil {
		return nil, fmt.Errorf("registering sweep schedule: %w", err)
	}
	s.entryID = entryID

	return s, nil
}

// Start begins periodic sweeping.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Deadline sweeper started")
}

// Stop halts sweeping and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Deadline sweeper stopped")
}

// Stats returns sweep activity counters.
func (s *Sweeper) Stats() SweeperStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SweeperStats{
		Sweeps:        s.sweeps,
		LastSweep:     s.lastSweep,
		LastSweepSize: s.lastSweepSize,
	}
}

// Private methods

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	candidates, err := s.repo.ListSessionsByStage(ctx, data.StageLyricsOpen, data.StageLyricsVoting)
	if err != nil {
		s.logger.Warn("Deadline sweep failed to list sessions", zap.Error(err))
		return
	}

	for _, candidate := range candidates {
		if _, err := s.sessions.Refresh(ctx, candidate.ID); err != nil {
			s.logger.Warn("Deadline sweep failed to refresh session",
				zap.String("sessionID", candidate.ID),
				zap.Error(err))
		}
	}

	s.mu.Lock()
	s.sweeps++
	s.lastSweep = time.Now().UTC()
	s.lastSweepSize = len(candidates)
	s.mu.Unlock()
}
