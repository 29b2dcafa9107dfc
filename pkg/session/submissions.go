package session

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"songforge/pkg/data"
	"songforge/pkg/events"
	"songforge/pkg/reputation"
)

// SubmissionStore owns submission intake and ranking. Vote aggregates on
// submissions are mutated only through the voting engine's repository path.
type SubmissionStore struct {
	repo        data.Repository
	reputation  *reputation.Engine
	broadcaster events.Broadcaster
	locks       *keyedRWMutex
	logger      *zap.Logger
}

// EntryRequest carries a submission intake request.
type EntryRequest struct {
	SessionID string
	AuthorID  string
	Title     string
	Body      string
	Sections  []data.Section
	Anonymous bool
}

// SubmitEntry validates and stores one lyric submission. Intake holds the
// session write lock so the per-user limit check and the insert are atomic
// against concurrent submissions from the same author.
func (s *SubmissionStore) SubmitEntry(ctx context.Context, req EntryRequest) (*data.Submission, error) {
	release := s.locks.Lock(req.SessionID)
	defer release()

	session, err := s.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if session.Stage != data.StageLyricsOpen {
		return nil, fmt.Errorf("%w: submissions are only accepted while lyrics are open", data.ErrPreconditionNotMet)
	}
	if req.Anonymous && !session.Settings.AllowAnonymous {
		return nil, data.ErrAnonymousNotAllowed
	}

	authorID := req.AuthorID
	if req.Anonymous {
		authorID = ""
	}

	if authorID != "" {
		count, err := s.repo.CountSubmissionsByAuthor(ctx, req.SessionID, authorID)
		if err != nil {
			return nil, fmt.Errorf("counting submissions: %w", err)
		}
		if count >= session.Settings.MaxSubmissionsPerUser {
			return nil, data.ErrSubmissionLimitExceeded
		}
	}

	sub, err := data.NewSubmission(req.SessionID, authorID, req.Title, req.Body, req.Sections)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("saving submission: %w", err)
	}

	s.broadcaster.Publish(req.SessionID, events.EventSubmissionCreated, events.SubmissionPayload{
		SubmissionID: sub.ID,
		Kind:         string(sub.Kind),
		Title:        sub.Title,
		AuthorID:     sub.AuthorID,
	})

	if authorID != "" {
		if award, err := s.reputation.RecordSubmission(ctx, authorID); err != nil {
			s.logger.Warn("Failed to award submission score",
				zap.String("userID", authorID),
				zap.Error(err))
		} else if award.LevelChanged || len(award.NewBadges) > 0 {
			s.broadcaster.Publish(req.SessionID, events.EventReputationChanged, award)
		}
	}

	return sub, nil
}

// AddSongEntry stores a generated song as a vote target for the song-voting
// stage. Song entries have no author.
func (s *SubmissionStore) AddSongEntry(ctx context.Context, sessionID, title, body string) (*data.Submission, error) {
	release := s.locks.Lock(sessionID)
	defer release()

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Stage != data.StageGeneration {
		return nil, fmt.Errorf("%w: song entries are only accepted during generation", data.ErrPreconditionNotMet)
	}

	sub, err := data.NewSongEntry(sessionID, title, body)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("saving song entry: %w", err)
	}

	s.broadcaster.Publish(sessionID, events.EventSubmissionCreated, events.SubmissionPayload{
		SubmissionID: sub.ID,
		Kind:         string(sub.Kind),
		Title:        sub.Title,
	})

	return sub, nil
}

// Get retrieves one submission.
func (s *SubmissionStore) Get(ctx context.Context, submissionID string) (*data.Submission, error) {
	return s.repo.GetSubmission(ctx, submissionID)
}

// List returns a session's submissions of one kind, oldest first.
func (s *SubmissionStore) List(ctx context.Context, sessionID string, kind data.SubmissionKind) ([]*data.Submission, error) {
	return s.repo.ListSubmissions(ctx, data.SubmissionFilter{
		SessionID: sessionID,
		Kind:      kind,
	})
}

// Rank returns submissions with status approved, winner or runner-up sorted
// by the scoring field the voting system implies, descending, with ties
// broken by earliest creation time. A pure read: ranking statuses are written
// only by the state machine's transition logic.
func (s *SubmissionStore) Rank(ctx context.Context, sessionID string, kind data.SubmissionKind, system data.VotingSystem) ([]*data.Submission, error) {
	subs, err := s.repo.ListSubmissions(ctx, data.SubmissionFilter{
		SessionID: sessionID,
		Kind:      kind,
		Statuses:  []data.SubmissionStatus{data.StatusApproved, data.StatusWinner, data.StatusRunnerUp},
	})
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}

	// Input is ordered by createdAt ascending; the stable sort keeps that
	// order within equal scores.
	if system == data.VotingWeighted {
		sort.SliceStable(subs, func(i, j int) bool {
			return subs[i].WeightedVoteScore > subs[j].WeightedVoteScore
		})
	} else {
		sort.SliceStable(subs, func(i, j int) bool {
			return subs[i].Votes > subs[j].Votes
		})
	}

	return subs, nil
}

// Moderate applies a moderation override to a submission's status. Only
// approved and rejected may be set this way; winner and runner-up are owned
// by the transition logic.
func (s *SubmissionStore) Moderate(ctx context.Context, submissionID string, status data.SubmissionStatus) error {
	if status != data.StatusApproved && status != data.StatusRejected {
		return fmt.Errorf("%w: moderation may only approve or reject", data.ErrPreconditionNotMet)
	}
	return s.repo.UpdateSubmissionStatus(ctx, submissionID, status)
}
