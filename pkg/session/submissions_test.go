package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songforge/pkg/data"
)

func TestSubmitEntry_OnlyWhileLyricsOpen(t *testing.T) {
	core, _, _, _ := newTestCore(t)
	ctx := context.Background()
	sess := mustCreateSession(t, core, data.VotingSimple)

	// Draft: no submissions yet
	_, err := core.Submissions.SubmitEntry(ctx, EntryRequest{
		SessionID: sess.ID,
		AuthorID:  "alice",
		Title:     "Too Early",
		Body:      "text",
	})
	assert.ErrorIs(t, err, data.ErrPreconditionNotMet)

	mustAdvance(t, core, sess.ID)
	mustSubmit(t, core, sess.ID, "alice", "On Time")
	mustAdvance(t, core, sess.ID)

	// Voting stage: intake closed again
	_, err = core.Submissions.SubmitEntry(ctx, EntryRequest{
		SessionID: sess.ID,
		AuthorID:  "bob",
		Title:     "Too Late",
		Body:      "text",
	})
	assert.ErrorIs(t, err, data.ErrPreconditionNotMet)
}

func TestSubmitEntry_PerUserLimit(t *testing.T) {
	core, _, _, _ := newTestCore(t)
	ctx := context.Background()

	sess, err := core.Sessions.CreateSession(ctx, "host", "Limited", data.SessionSettings{
		VotingSystem:          data.VotingSimple,
		MaxSubmissionsPerUser: 2,
	})
	require.NoError(t, err)
	mustAdvance(t, core, sess.ID)

	mustSubmit(t, core, sess.ID, "alice", "One")
	mustSubmit(t, core, sess.ID, "alice", "Two")

	_, err = core.Submissions.SubmitEntry(ctx, EntryRequest{
		SessionID: sess.ID,
		AuthorID:  "alice",
		Title:     "Three",
		Body:      "text",
	})
	assert.ErrorIs(t, err, data.ErrSubmissionLimitExceeded)

	// Other authors are unaffected
	mustSubmit(t, core, sess.ID, "bob", "Bob's One")
}

func TestSubmitEntry_Anonymous(t *testing.T) {
	core, _, _, _ := newTestCore(t)
	ctx := context.Background()

	t.Run("rejected when not allowed", func(t *testing.T) {
		sess := mustCreateSession(t, core, data.VotingSimple)
		mustAdvance(t, core, sess.ID)

		_, err := core.Submissions.SubmitEntry(ctx, EntryRequest{
			SessionID: sess.ID,
			AuthorID:  "alice",
			Title:     "Masked",
			Body:      "text",
			Anonymous: true,
		})
		assert.ErrorIs(t, err, data.ErrAnonymousNotAllowed)
	})

	t.Run("author stripped when allowed", func(t *testing.T) {
		sess, err := core.Sessions.CreateSession(ctx, "host", "Masked Round", data.SessionSettings{
			VotingSystem:   data.VotingSimple,
			AllowAnonymous: true,
		})
		require.NoError(t, err)
		mustAdvance(t, core, sess.ID)

		sub, err := core.Submissions.SubmitEntry(ctx, EntryRequest{
			SessionID: sess.ID,
			AuthorID:  "alice",
			Title:     "Masked",
			Body:      "text",
			Anonymous: true,
		})
		require.NoError(t, err)
		assert.Empty(t, sub.AuthorID)

		// Anonymous submissions do not count against the author's limit, and
		// the author may even vote for it since authorship is not recorded.
		mustAdvance(t, core, sess.ID)
		_, err = core.Votes.CastVote(ctx, sess.ID, sub.ID, "alice", 1)
		require.NoError(t, err)
	})
}

func TestRank_TieBreaksByCreatedAt(t *testing.T) {
	core, repo, _, _ := newTestCore(t)
	ctx := context.Background()

	sess := mustCreateSession(t, core, data.VotingWeighted)
	mustAdvance(t, core, sess.ID)

	first := mustSubmit(t, core, sess.ID, "alice", "First")
	second := mustSubmit(t, core, sess.ID, "bob", "Second")

	// The memory repository timestamps with nanosecond precision, so the two
	// creation times are strictly ordered.
	older, err := repo.GetSubmission(ctx, first.ID)
	require.NoError(t, err)
	newer, err := repo.GetSubmission(ctx, second.ID)
	require.NoError(t, err)
	require.True(t, older.CreatedAt.Before(newer.CreatedAt))

	mustAdvance(t, core, sess.ID)

	// Equal weighted scores: 15.0 each
	_, err = core.Votes.CastVote(ctx, sess.ID, first.ID, "carol", 5)
	require.NoError(t, err)
	_, err = core.Votes.CastVote(ctx, sess.ID, first.ID, "dave", 10)
	require.NoError(t, err)
	_, err = core.Votes.CastVote(ctx, sess.ID, second.ID, "carol", 10)
	require.NoError(t, err)
	_, err = core.Votes.CastVote(ctx, sess.ID, second.ID, "dave", 5)
	require.NoError(t, err)

	ranked, err := core.Submissions.Rank(ctx, sess.ID, data.KindLyrics, data.VotingWeighted)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, ranked[0].WeightedVoteScore, ranked[1].WeightedVoteScore)
	assert.Equal(t, first.ID, ranked[0].ID, "earlier submission wins the tie")

	// Determinism: a second call returns the identical order
	again, err := core.Submissions.Rank(ctx, sess.ID, data.KindLyrics, data.VotingWeighted)
	require.NoError(t, err)
	for i := range ranked {
		assert.Equal(t, ranked[i].ID, again[i].ID)
	}
}

func TestRank_SystemSelectsScoringField(t *testing.T) {
	core, _, _, _ := newTestCore(t)
	ctx := context.Background()

	sess := mustCreateSession(t, core, data.VotingWeighted)
	mustAdvance(t, core, sess.ID)
	popular := mustSubmit(t, core, sess.ID, "alice", "Popular")
	heavy := mustSubmit(t, core, sess.ID, "bob", "Heavy")
	mustAdvance(t, core, sess.ID)

	// "popular" gets two low-value votes, "heavy" one high-value vote
	_, err := core.Votes.CastVote(ctx, sess.ID, popular.ID, "carol", 1)
	require.NoError(t, err)
	_, err = core.Votes.CastVote(ctx, sess.ID, popular.ID, "dave", 1)
	require.NoError(t, err)
	_, err = core.Votes.CastVote(ctx, sess.ID, heavy.ID, "carol", 9)
	require.NoError(t, err)

	weighted, err := core.Submissions.Rank(ctx, sess.ID, data.KindLyrics, data.VotingWeighted)
	require.NoError(t, err)
	assert.Equal(t, heavy.ID, weighted[0].ID)

	simple, err := core.Submissions.Rank(ctx, sess.ID, data.KindLyrics, data.VotingSimple)
	require.NoError(t, err)
	assert.Equal(t, popular.ID, simple[0].ID)
}

func TestFinalizeRanking_StatusesWrittenOnce(t *testing.T) {
	core, repo, _, _ := newTestCore(t)
	ctx := context.Background()

	sess := mustCreateSession(t, core, data.VotingSimple)
	mustAdvance(t, core, sess.ID)

	authors := []string{"a", "b", "c", "d", "e", "f"}
	subs := make([]*data.Submission, 0, len(authors))
	for _, author := range authors {
		subs = append(subs, mustSubmit(t, core, sess.ID, author, "By "+author))
	}
	mustAdvance(t, core, sess.ID)

	// Give the first submission the most votes, tapering down
	voters := []string{"v1", "v2", "v3", "v4", "v5", "v6"}
	for i, sub := range subs {
		for _, voter := range voters[:len(subs)-i] {
			_, err := core.Votes.CastVote(ctx, sess.ID, sub.ID, voter, 1)
			require.NoError(t, err)
		}
	}

	mustAdvance(t, core, sess.ID) // finalize

	winner, err := repo.GetSubmission(ctx, subs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, data.StatusWinner, winner.Status)

	for _, sub := range subs[1:4] {
		finalized, err := repo.GetSubmission(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, data.StatusRunnerUp, finalized.Status)
	}

	for _, sub := range subs[4:] {
		rest, err := repo.GetSubmission(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, data.StatusApproved, rest.Status)
	}

	// The winning author received the session-win award
	profile, err := repo.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.Stats.SessionsWon)
}

func TestModerate_OnlyApproveOrReject(t *testing.T) {
	core, repo, _, _ := newTestCore(t)
	ctx := context.Background()

	sess := mustCreateSession(t, core, data.VotingSimple)
	mustAdvance(t, core, sess.ID)
	sub := mustSubmit(t, core, sess.ID, "alice", "Edgy")

	require.NoError(t, core.Submissions.Moderate(ctx, sub.ID, data.StatusRejected))

	stored, err := repo.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, data.StatusRejected, stored.Status)

	err = core.Submissions.Moderate(ctx, sub.ID, data.StatusWinner)
	assert.ErrorIs(t, err, data.ErrPreconditionNotMet)
}

func TestRejectedSubmissionsExcludedFromRanking(t *testing.T) {
	core, _, _, _ := newTestCore(t)
	ctx := context.Background()

	sess := mustCreateSession(t, core, data.VotingSimple)
	mustAdvance(t, core, sess.ID)
	keep := mustSubmit(t, core, sess.ID, "alice", "Keep")
	drop := mustSubmit(t, core, sess.ID, "bob", "Drop")

	require.NoError(t, core.Submissions.Moderate(ctx, drop.ID, data.StatusRejected))

	ranked, err := core.Submissions.Rank(ctx, sess.ID, data.KindLyrics, data.VotingSimple)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, keep.ID, ranked[0].ID)
}

func TestAddSongEntry_OnlyDuringGeneration(t *testing.T) {
	core, _, _, _ := newTestCore(t)
	ctx := context.Background()

	sess, _ := votingSession(t, core, data.VotingSimple, "alice")

	_, err := core.Submissions.AddSongEntry(ctx, sess.ID, "Take 1", "audio-ref")
	assert.ErrorIs(t, err, data.ErrPreconditionNotMet)

	mustAdvance(t, core, sess.ID) // generation

	song, err := core.Submissions.AddSongEntry(ctx, sess.ID, "Take 1", "audio-ref")
	require.NoError(t, err)
	assert.Equal(t, data.KindSong, song.Kind)
	assert.Empty(t, song.AuthorID)
}
