package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSession(t *testing.T, repo *MemoryRepository) *Session {
	t.Helper()
	session, err := NewSession("host", "Test Session", SessionSettings{VotingSystem: VotingSimple})
	require.NoError(t, err)
	require.NoError(t, repo.SaveSession(context.Background(), session))
	return session
}

func seedSubmission(t *testing.T, repo *MemoryRepository, sessionID, authorID string) *Submission {
	t.Helper()
	sub, err := NewSubmission(sessionID, authorID, "Title by "+authorID, "body", nil)
	require.NoError(t, err)
	require.NoError(t, repo.SaveSubmission(context.Background(), sub))
	return sub
}

func TestMemoryRepository_SessionRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	session := seedSession(t, repo)

	assert.ErrorIs(t, repo.SaveSession(ctx, session), ErrDuplicate)

	stored, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, stored.ID)
	assert.Equal(t, StageDraft, stored.Stage)

	stored.Stage = StageLyricsOpen
	require.NoError(t, repo.UpdateSession(ctx, stored))

	updated, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StageLyricsOpen, updated.Stage)
	assert.Equal(t, stored.CreatedAt, updated.CreatedAt, "createdAt is immutable")

	_, err = repo.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	missing, err := NewSession("host", "Ghost", SessionSettings{VotingSystem: VotingSimple})
	require.NoError(t, err)
	assert.ErrorIs(t, repo.UpdateSession(ctx, missing), ErrNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	session := seedSession(t, repo)

	first, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	first.Title = "mutated"

	second, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test Session", second.Title, "callers cannot reach stored state")
}

func TestMemoryRepository_ListSessionsByStage(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	a := seedSession(t, repo)
	b := seedSession(t, repo)

	stored, err := repo.GetSession(ctx, b.ID)
	require.NoError(t, err)
	stored.Stage = StageLyricsVoting
	require.NoError(t, repo.UpdateSession(ctx, stored))

	drafts, err := repo.ListSessionsByStage(ctx, StageDraft)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, a.ID, drafts[0].ID)

	both, err := repo.ListSessionsByStage(ctx, StageDraft, StageLyricsVoting)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	_, err = repo.ListSessionsByStage(ctx)
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestMemoryRepository_SaveSubmissionBumpsSessionCounter(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	session := seedSession(t, repo)
	seedSubmission(t, repo, session.ID, "alice")
	seedSubmission(t, repo, session.ID, "bob")

	stored, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.TotalSubmissions)

	orphan, err := NewSubmission("missing-session", "alice", "Orphan", "body", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.SaveSubmission(ctx, orphan), ErrNotFound)
}

func TestMemoryRepository_ListSubmissionsFilter(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	session := seedSession(t, repo)
	mine := seedSubmission(t, repo, session.ID, "alice")
	other := seedSubmission(t, repo, session.ID, "bob")
	require.NoError(t, repo.UpdateSubmissionStatus(ctx, other.ID, StatusRejected))

	byAuthor, err := repo.ListSubmissions(ctx, SubmissionFilter{SessionID: session.ID, AuthorID: "alice"})
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	assert.Equal(t, mine.ID, byAuthor[0].ID)

	approved, err := repo.ListSubmissions(ctx, SubmissionFilter{
		SessionID: session.ID,
		Statuses:  []SubmissionStatus{StatusApproved},
	})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, mine.ID, approved[0].ID)

	paged, err := repo.ListSubmissions(ctx, SubmissionFilter{SessionID: session.ID, Offset: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, other.ID, paged[0].ID, "listing is createdAt ascending")

	_, err = repo.ListSubmissions(ctx, SubmissionFilter{})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestMemoryRepository_CountSubmissionsByAuthor(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	session := seedSession(t, repo)
	seedSubmission(t, repo, session.ID, "alice")
	seedSubmission(t, repo, session.ID, "alice")

	anon, err := NewSongEntry(session.ID, "Anon Take", "body")
	require.NoError(t, err)
	require.NoError(t, repo.SaveSubmission(ctx, anon))

	count, err := repo.CountSubmissionsByAuthor(ctx, session.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Authorless rows never match, even against an empty author id
	count, err = repo.CountSubmissionsByAuthor(ctx, session.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemoryRepository_ApplyAndRemoveVote(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	session := seedSession(t, repo)
	sub := seedSubmission(t, repo, session.ID, "alice")

	vote, err := NewVote(session.ID, sub.ID, "bob", 2, 1.5)
	require.NoError(t, err)

	tally, err := repo.ApplyVote(ctx, vote)
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Votes)
	assert.InDelta(t, 3.0, tally.WeightedVoteScore, 1e-9)

	_, err = repo.ApplyVote(ctx, vote)
	assert.ErrorIs(t, err, ErrDuplicateVote)

	stored, err := repo.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Votes)
	assert.True(t, stored.HasVoter("bob"))

	updatedSession, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updatedSession.TotalVotes)

	tally, err = repo.RemoveVote(ctx, sub.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, tally.Votes)
	assert.Zero(t, tally.WeightedVoteScore)

	_, err = repo.RemoveVote(ctx, sub.ID, "bob")
	assert.ErrorIs(t, err, ErrVoteNotFound)

	cleared, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cleared.TotalVotes)
}

func TestMemoryRepository_VoteLookups(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	session := seedSession(t, repo)
	first := seedSubmission(t, repo, session.ID, "alice")
	second := seedSubmission(t, repo, session.ID, "bob")

	for _, target := range []string{first.ID, second.ID} {
		vote, err := NewVote(session.ID, target, "carol", 1, 1.0)
		require.NoError(t, err)
		_, err = repo.ApplyVote(ctx, vote)
		require.NoError(t, err)
	}

	got, err := repo.GetVote(ctx, first.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", got.VoterID)

	_, err = repo.GetVote(ctx, first.ID, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	bySub, err := repo.ListVotesBySubmission(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, bySub, 1)

	byVoter, err := repo.ListVotesByVoter(ctx, "carol")
	require.NoError(t, err)
	assert.Len(t, byVoter, 2)
}

func TestMemoryRepository_Profiles(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.GetProfile(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	profile, err := NewReputationProfile("alice")
	require.NoError(t, err)
	profile.Score = 750
	require.NoError(t, repo.SaveProfile(ctx, profile))

	stored, err := repo.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(750), stored.Score)

	stored.Score = 9999
	again, err := repo.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(750), again.Score, "stored profile is isolated from callers")
}
