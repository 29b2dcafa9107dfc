package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"songforge/pkg/data"
	"songforge/pkg/events"
	"songforge/pkg/reputation"
)

// nextStage is the fixed forward order of the lifecycle. Cancellation is the
// only edge outside it.
var nextStage = map[data.Stage]data.Stage{
	data.StageDraft:        data.StageLyricsOpen,
	data.StageLyricsOpen:   data.StageLyricsVoting,
	data.StageLyricsVoting: data.StageGeneration,
	data.StageGeneration:   data.StageSongVoting,
	data.StageSongVoting:   data.StageCompleted,
}

// deadlineEdges are the transitions a deadline may trigger.
var deadlineEdges = map[data.Stage]bool{
	data.StageLyricsOpen:   true,
	data.StageLyricsVoting: true,
}

// Manager owns session stage, gates which operations are legal in each stage
// and performs stage transitions. Transitions are serialized per session by
// the write side of the shared session lock; concurrent votes hold the read
// side, so a transition waits for in-flight votes and every vote arriving
// after it observes the new stage.
type Manager struct {
	repo        data.Repository
	store       *SubmissionStore
	reputation  *reputation.Engine
	broadcaster events.Broadcaster
	locks       *keyedRWMutex
	logger      *zap.Logger
	now         func() time.Time
}

// CreateSession creates a session in draft for the given host.
func (m *Manager) CreateSession(ctx context.Context, hostID, title string, settings data.SessionSettings) (*data.Session, error) {
	session, err := data.NewSession(hostID, title, settings)
	if err != nil {
		return nil, err
	}

	if err := m.repo.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	m.broadcaster.Publish(session.ID, events.EventSessionCreated, events.StageChangedPayload{
		NewStage: string(session.Stage),
	})

	m.logger.Info("Session created",
		zap.String("sessionID", session.ID),
		zap.String("hostID", hostID),
		zap.String("votingSystem", string(settings.VotingSystem)))

	return session, nil
}

// Get returns the session after lazily applying any due deadline transition.
func (m *Manager) Get(ctx context.Context, sessionID string) (*data.Session, error) {
	return m.Refresh(ctx, sessionID)
}

// Advance moves the session to the next stage in the fixed order. Returns the
// new stage, or fails with ErrInvalidTransition, ErrPreconditionNotMet or
// ErrAlreadyTerminal. The ranking for the lyrics-voting → generation edge is
// computed here, under the same exclusion, exactly once.
func (m *Manager) Advance(ctx context.Context, sessionID string, trigger Trigger) (data.Stage, error) {
	release := m.locks.Lock(sessionID)
	defer release()

	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if session.Stage.Terminal() {
		return session.Stage, data.ErrAlreadyTerminal
	}

	next, ok := nextStage[session.Stage]
	if !ok {
		return session.Stage, data.ErrInvalidTransition
	}
	if trigger == TriggerDeadline && !deadlineEdges[session.Stage] {
		return session.Stage, data.ErrInvalidTransition
	}

	payload := events.StageChangedPayload{
		OldStage: string(session.Stage),
		NewStage: string(next),
		Trigger:  string(trigger),
	}

	switch session.Stage {
	case data.StageDraft:
		if session.TotalSubmissions > 0 {
			return session.Stage, fmt.Errorf("%w: session already has submissions", data.ErrPreconditionNotMet)
		}
	case data.StageLyricsOpen:
		if session.TotalSubmissions == 0 {
			return session.Stage, fmt.Errorf("%w: no submissions to vote on", data.ErrPreconditionNotMet)
		}
	case data.StageLyricsVoting:
		ranking, err := m.finalizeRanking(ctx, session)
		if err != nil {
			return session.Stage, err
		}
		payload.Ranking = ranking
	}

	old := session.Stage
	session.Stage = next
	if err := m.repo.UpdateSession(ctx, session); err != nil {
		return old, fmt.Errorf("saving stage transition: %w", err)
	}

	m.broadcaster.Publish(sessionID, events.EventStageChanged, payload)

	m.logger.Info("Session stage advanced",
		zap.String("sessionID", sessionID),
		zap.String("from", string(old)),
		zap.String("to", string(next)),
		zap.String("trigger", string(trigger)))

	return next, nil
}

// Cancel moves any non-terminal session to the cancelled stage. Sessions are
// never physically deleted once submissions exist; cancellation is the soft
// delete.
func (m *Manager) Cancel(ctx context.Context, sessionID string) (data.Stage, error) {
	release := m.locks.Lock(sessionID)
	defer release()

	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if session.Stage.Terminal() {
		return session.Stage, data.ErrAlreadyTerminal
	}

	old := session.Stage
	session.Stage = data.StageCancelled
	if err := m.repo.UpdateSession(ctx, session); err != nil {
		return old, fmt.Errorf("saving cancellation: %w", err)
	}

	m.broadcaster.Publish(sessionID, events.EventStageChanged, events.StageChangedPayload{
		OldStage: string(old),
		NewStage: string(data.StageCancelled),
	})

	m.logger.Info("Session cancelled",
		zap.String("sessionID", sessionID),
		zap.String("from", string(old)))

	return data.StageCancelled, nil
}

// Refresh applies any due deadline transition and returns the current
// session. Idempotent: a session with no due deadline is returned unchanged,
// so this is safe to call on every access and from the periodic sweep. A
// deadline transition blocked by a precondition (no submissions yet) leaves
// the session in place for the host to extend the deadline.
func (m *Manager) Refresh(ctx context.Context, sessionID string) (*data.Session, error) {
	for {
		session, err := m.repo.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		if !m.deadlineDue(session) {
			return session, nil
		}

		_, err = m.Advance(ctx, sessionID, TriggerDeadline)
		if err == nil {
			continue // a later deadline may already be due as well
		}
		if errors.Is(err, data.ErrPreconditionNotMet) ||
			errors.Is(err, data.ErrInvalidTransition) ||
			errors.Is(err, data.ErrAlreadyTerminal) {
			// Lost a race with another caller or the transition cannot
			// proceed; the stored stage is authoritative.
			return m.repo.GetSession(ctx, sessionID)
		}
		return nil, err
	}
}

// Private methods

func (m *Manager) deadlineDue(session *data.Session) bool {
	now := m.now()
	switch session.Stage {
	case data.StageLyricsOpen:
		return session.Settings.LyricsDeadline != nil && now.After(*session.Settings.LyricsDeadline)
	case data.StageLyricsVoting:
		return session.Settings.VotingDeadline != nil && now.After(*session.Settings.VotingDeadline)
	}
	return false
}

// finalizeRanking ranks approved lyric submissions and writes final statuses:
// rank 0 winner, ranks 1-3 runner-up. Runs under the session write lock, after
// all in-flight votes have completed, and exactly once per session.
func (m *Manager) finalizeRanking(ctx context.Context, session *data.Session) ([]events.RankingEntry, error) {
	ranked, err := m.store.Rank(ctx, session.ID, data.KindLyrics, session.Settings.VotingSystem)
	if err != nil {
		return nil, fmt.Errorf("ranking submissions: %w", err)
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: no approved submissions to rank", data.ErrPreconditionNotMet)
	}

	entries := make([]events.RankingEntry, 0, len(ranked))
	for i, sub := range ranked {
		status := sub.Status
		switch {
		case i == 0:
			status = data.StatusWinner
		case i <= 3:
			status = data.StatusRunnerUp
		}

		if status != sub.Status {
			if err := m.repo.UpdateSubmissionStatus(ctx, sub.ID, status); err != nil {
				return nil, fmt.Errorf("finalizing submission %s: %w", sub.ID, err)
			}
		}

		entries = append(entries, events.RankingEntry{
			Rank:              i,
			SubmissionID:      sub.ID,
			Status:            string(status),
			Votes:             sub.Votes,
			WeightedVoteScore: sub.WeightedVoteScore,
		})
	}

	if winner := ranked[0]; winner.AuthorID != "" {
		award, err := m.reputation.RecordWin(ctx, winner.AuthorID)
		if err != nil {
			m.logger.Warn("Failed to award session win",
				zap.String("userID", winner.AuthorID),
				zap.Error(err))
		} else if award.LevelChanged || len(award.NewBadges) > 0 {
			m.broadcaster.Publish(session.ID, events.EventReputationChanged, award)
		}
	}

	return entries, nil
}
