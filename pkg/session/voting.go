package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"songforge/pkg/data"
	"songforge/pkg/events"
	"songforge/pkg/reputation"
)

const maxWeightedValue = 10

// VotingEngine validates and applies votes. Each cast holds the session read
// lock (so stage transitions cannot overlap it) and the target submission's
// mutex (so the duplicate check and the aggregate increments are atomic as a
// unit against concurrent casts).
type VotingEngine struct {
	repo            data.Repository
	reputation      *reputation.Engine
	broadcaster     events.Broadcaster
	sessions        *Manager
	wallet          Wallet
	sessionLocks    *keyedRWMutex
	submissionLocks *keyedMutex
	logger          *zap.Logger
}

// CastVote applies one user's vote to a submission and returns the updated
// aggregate so the caller can render it without a second read. Constraints
// are checked in order, first failure wins: stage gate, self-vote, duplicate,
// value range.
func (v *VotingEngine) CastVote(ctx context.Context, sessionID, submissionID, voterID string, value int) (*data.VoteTally, error) {
	// Lazy deadline check happens before taking the read lock; a due
	// deadline needs the write side.
	if _, err := v.sessions.Refresh(ctx, sessionID); err != nil {
		return nil, err
	}

	release := v.sessionLocks.RLock(sessionID)
	defer release()

	session, err := v.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Stage.VotingStage() {
		return nil, data.ErrVotingClosed
	}

	subRelease := v.submissionLocks.Lock(submissionID)
	defer subRelease()

	sub, err := v.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.SessionID != sessionID {
		return nil, data.ErrNotFound
	}
	if !kindMatchesStage(sub.Kind, session.Stage) {
		return nil, data.ErrVotingClosed
	}
	if sub.AuthorID != "" && sub.AuthorID == voterID {
		return nil, data.ErrSelfVoteForbidden
	}
	if sub.HasVoter(voterID) {
		return nil, data.ErrDuplicateVote
	}
	if err := validateValue(session.Settings.VotingSystem, value); err != nil {
		return nil, err
	}

	weight := 1.0
	if session.Settings.VotingSystem != data.VotingSimple {
		weight, err = v.reputation.WeightFor(ctx, voterID)
		if err != nil {
			return nil, fmt.Errorf("resolving vote weight: %w", err)
		}
	}

	vote, err := data.NewVote(sessionID, submissionID, voterID, value, weight)
	if err != nil {
		return nil, err
	}

	// The debit is the last step before the vote write. The wallet contract
	// is at most once with no refund: if ApplyVote itself fails afterwards,
	// the tokens stay spent.
	if session.Settings.VotingSystem == data.VotingTokenized {
		if v.wallet == nil {
			return nil, fmt.Errorf("%w: no token wallet configured", data.ErrPreconditionNotMet)
		}
		if err := v.wallet.Debit(voterID, value); err != nil {
			return nil, fmt.Errorf("%w: token debit refused: %v", data.ErrPreconditionNotMet, err)
		}
	}

	tally, err := v.repo.ApplyVote(ctx, vote)
	if err != nil {
		return nil, err
	}

	v.broadcaster.Publish(sessionID, events.EventVoteCast,
		votePayload(session, submissionID, voterID, tally))

	if award, err := v.reputation.RecordVoteCast(ctx, voterID); err != nil {
		v.logger.Warn("Failed to award vote score",
			zap.String("userID", voterID),
			zap.Error(err))
	} else if award.LevelChanged || len(award.NewBadges) > 0 {
		v.broadcaster.Publish(sessionID, events.EventReputationChanged, award)
	}

	return tally, nil
}

// RemoveVote retracts a previously cast vote and reverses its contribution.
// Permitted only while the session is in the voting stage matching the
// submission's kind; aggregates frozen by an earlier finalization stay frozen.
func (v *VotingEngine) RemoveVote(ctx context.Context, sessionID, submissionID, voterID string) (*data.VoteTally, error) {
	if _, err := v.sessions.Refresh(ctx, sessionID); err != nil {
		return nil, err
	}

	release := v.sessionLocks.RLock(sessionID)
	defer release()

	session, err := v.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Stage.VotingStage() {
		return nil, data.ErrVotingClosed
	}

	subRelease := v.submissionLocks.Lock(submissionID)
	defer subRelease()

	sub, err := v.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.SessionID != sessionID {
		return nil, data.ErrNotFound
	}
	if !kindMatchesStage(sub.Kind, session.Stage) {
		return nil, data.ErrVotingClosed
	}

	tally, err := v.repo.RemoveVote(ctx, submissionID, voterID)
	if err != nil {
		return nil, err
	}

	v.broadcaster.Publish(sessionID, events.EventVoteRemoved,
		votePayload(session, submissionID, voterID, tally))

	return tally, nil
}

// HasVoted reports whether the user has a recorded vote on the submission.
func (v *VotingEngine) HasVoted(ctx context.Context, submissionID, voterID string) (bool, error) {
	_, err := v.repo.GetVote(ctx, submissionID, voterID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Private helpers

func kindMatchesStage(kind data.SubmissionKind, stage data.Stage) bool {
	switch stage {
	case data.StageLyricsVoting:
		return kind == data.KindLyrics
	case data.StageSongVoting:
		return kind == data.KindSong
	}
	return false
}

func validateValue(system data.VotingSystem, value int) error {
	switch system {
	case data.VotingSimple, data.VotingTokenized:
		if value != 1 {
			return data.ErrInvalidVoteValue
		}
	case data.VotingWeighted:
		if value < 1 || value > maxWeightedValue {
			return data.ErrInvalidVoteValue
		}
	default:
		return data.ErrInvalidVoteValue
	}
	return nil
}

// votePayload hides aggregate counts while the session's settings suppress
// them during voting.
func votePayload(session *data.Session, submissionID, voterID string, tally *data.VoteTally) events.VotePayload {
	payload := events.VotePayload{
		SubmissionID: submissionID,
		VoterID:      voterID,
	}
	if session.Settings.ShowVoteCounts {
		votes := tally.Votes
		score := tally.WeightedVoteScore
		payload.Votes = &votes
		payload.WeightedVoteScore = &score
	}
	return payload
}
