package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Session operations
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
	ListSessionsByStage(ctx context.Context, stages ...Stage) ([]*Session, error)

	// Submission operations
	SaveSubmission(ctx context.Context, sub *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*Submission, error)
	UpdateSubmissionStatus(ctx context.Context, id string, status SubmissionStatus) error
	CountSubmissionsByAuthor(ctx context.Context, sessionID, authorID string) (int, error)

	// Vote operations. ApplyVote and RemoveVote are the only mutation paths
	// for votes/weighted_vote_score/voter_ids; each is atomic across the
	// vote row, the submission aggregates and the session counter.
	ApplyVote(ctx context.Context, vote *Vote) (*VoteTally, error)
	RemoveVote(ctx context.Context, submissionID, voterID string) (*VoteTally, error)
	GetVote(ctx context.Context, submissionID, voterID string) (*Vote, error)
	ListVotesBySubmission(ctx context.Context, submissionID string) ([]*Vote, error)
	ListVotesByVoter(ctx context.Context, voterID string) ([]*Vote, error)

	// Reputation operations
	GetProfile(ctx context.Context, userID string) (*ReputationProfile, error)
	SaveProfile(ctx context.Context, profile *ReputationProfile) error
}

// SubmissionFilter defines filter parameters for submission queries.
type SubmissionFilter struct {
	SessionID string
	AuthorID  string
	Kind      SubmissionKind
	Statuses  []SubmissionStatus
	Limit     int
	Offset    int
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository instance.
func NewPostgresRepository(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	repo := &PostgresRepository{
		pool:   pool,
		logger: logger,
	}

	if err := repo.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return repo, nil
}

// Close releases all database resources.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// SaveSession persists a new session.
func (r *PostgresRepository) SaveSession(ctx context.Context, session *Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validating session: %w", err)
	}

	settings, err := json.Marshal(session.Settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	query := `
		INSERT INTO sessions (
			id, host_id, title, stage, settings,
			total_submissions, total_votes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		session.ID, session.HostID, session.Title, string(session.Stage), settings,
		session.TotalSubmissions, session.TotalVotes, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID.
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, host_id, title, stage, settings,
			   total_submissions, total_votes, created_at, updated_at
		FROM sessions
		WHERE id = $1`

	return scanSession(r.pool.QueryRow(ctx, query, id))
}

// UpdateSession updates an existing session row.
func (r *PostgresRepository) UpdateSession(ctx context.Context, session *Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validating session: %w", err)
	}

	settings, err := json.Marshal(session.Settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	query := `
		UPDATE sessions
		SET title = $2, stage = $3, settings = $4,
			total_submissions = $5, total_votes = $6, updated_at = $7
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		session.ID, session.Title, string(session.Stage), settings,
		session.TotalSubmissions, session.TotalVotes, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListSessionsByStage returns all sessions currently in any of the given stages.
func (r *PostgresRepository) ListSessionsByStage(ctx context.Context, stages ...Stage) ([]*Session, error) {
	if len(stages) == 0 {
		return nil, ErrInvalidFilter
	}

	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}

	query := `
		SELECT id, host_id, title, stage, settings,
			   total_submissions, total_votes, created_at, updated_at
		FROM sessions
		WHERE stage = ANY($1)
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// SaveSubmission persists a submission and bumps the session's intake counter
// in the same transaction.
func (r *PostgresRepository) SaveSubmission(ctx context.Context, sub *Submission) error {
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("validating submission: %w", err)
	}

	sections, err := json.Marshal(sub.Sections)
	if err != nil {
		return fmt.Errorf("marshaling sections: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO submissions (
			id, session_id, author_id, kind, title, body, sections, status,
			votes, weighted_vote_score, voter_ids, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = tx.Exec(ctx, query,
		sub.ID, sub.SessionID, nullable(sub.AuthorID), string(sub.Kind), sub.Title,
		sub.Body, sections, string(sub.Status), sub.Votes, sub.WeightedVoteScore,
		sub.VoterIDs, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting submission: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET total_submissions = total_submissions + 1, updated_at = $2 WHERE id = $1`,
		sub.SessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("incrementing submission counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing submission: %w", err)
	}

	return nil
}

// GetSubmission retrieves a submission by ID.
func (r *PostgresRepository) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	query := submissionColumns + ` WHERE id = $1`
	return scanSubmission(r.pool.QueryRow(ctx, query, id))
}

// ListSubmissions returns submissions matching the filter, oldest first.
func (r *PostgresRepository) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*Submission, error) {
	if filter.SessionID == "" {
		return nil, ErrInvalidFilter
	}

	query := submissionColumns + ` WHERE session_id = $1`
	args := []interface{}{filter.SessionID}

	if filter.AuthorID != "" {
		args = append(args, filter.AuthorID)
		query += fmt.Sprintf(" AND author_id = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		names := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			names[i] = string(s)
		}
		args = append(args, names)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}

	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// UpdateSubmissionStatus sets the status of a single submission.
func (r *PostgresRepository) UpdateSubmissionStatus(ctx context.Context, id string, status SubmissionStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating submission status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountSubmissionsByAuthor counts one author's lyric entries in a session.
func (r *PostgresRepository) CountSubmissionsByAuthor(ctx context.Context, sessionID, authorID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE session_id = $1 AND author_id = $2`,
		sessionID, authorID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting submissions: %w", err)
	}
	return count, nil
}

// ApplyVote inserts the vote row and applies all aggregate increments in one
// transaction. A unique index on (submission_id, voter_id) backs the
// engine-level duplicate check.
func (r *PostgresRepository) ApplyVote(ctx context.Context, vote *Vote) (*VoteTally, error) {
	if err := vote.Validate(); err != nil {
		return nil, fmt.Errorf("validating vote: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO votes (id, session_id, submission_id, voter_id, value, weight, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		vote.ID, vote.SessionID, vote.SubmissionID, vote.VoterID,
		vote.Value, vote.Weight, vote.CreatedAt,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return nil, ErrDuplicateVote
		}
		return nil, fmt.Errorf("inserting vote: %w", err)
	}

	tally := &VoteTally{}
	err = tx.QueryRow(ctx, `
		UPDATE submissions
		SET votes = votes + 1,
			weighted_vote_score = weighted_vote_score + $2,
			voter_ids = array_append(voter_ids, $3),
			updated_at = $4
		WHERE id = $1
		RETURNING votes, weighted_vote_score`,
		vote.SubmissionID, vote.TotalPower(), vote.VoterID, time.Now().UTC(),
	).Scan(&tally.Votes, &tally.WeightedVoteScore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating submission aggregates: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions SET total_votes = total_votes + 1, updated_at = $2 WHERE id = $1`,
		vote.SessionID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("incrementing session vote counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing vote: %w", err)
	}

	return tally, nil
}

// RemoveVote deletes the vote row and reverses its aggregate contributions.
func (r *PostgresRepository) RemoveVote(ctx context.Context, submissionID, voterID string) (*VoteTally, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var sessionID string
	var value int
	var weight float64
	err = tx.QueryRow(ctx, `
		DELETE FROM votes
		WHERE submission_id = $1 AND voter_id = $2
		RETURNING session_id, value, weight`,
		submissionID, voterID,
	).Scan(&sessionID, &value, &weight)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoteNotFound
		}
		return nil, fmt.Errorf("deleting vote: %w", err)
	}

	tally := &VoteTally{}
	err = tx.QueryRow(ctx, `
		UPDATE submissions
		SET votes = votes - 1,
			weighted_vote_score = weighted_vote_score - $2,
			voter_ids = array_remove(voter_ids, $3),
			updated_at = $4
		WHERE id = $1
		RETURNING votes, weighted_vote_score`,
		submissionID, float64(value)*weight, voterID, time.Now().UTC(),
	).Scan(&tally.Votes, &tally.WeightedVoteScore)
	if err != nil {
		return nil, fmt.Errorf("reversing submission aggregates: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions SET total_votes = total_votes - 1, updated_at = $2 WHERE id = $1`,
		sessionID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("decrementing session vote counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing vote removal: %w", err)
	}

	return tally, nil
}

// GetVote retrieves one user's vote on one submission.
func (r *PostgresRepository) GetVote(ctx context.Context, submissionID, voterID string) (*Vote, error) {
	query := voteColumns + ` WHERE submission_id = $1 AND voter_id = $2`
	return scanVote(r.pool.QueryRow(ctx, query, submissionID, voterID))
}

// ListVotesBySubmission returns the vote ledger of one submission.
func (r *PostgresRepository) ListVotesBySubmission(ctx context.Context, submissionID string) ([]*Vote, error) {
	return r.queryVotes(ctx, voteColumns+` WHERE submission_id = $1 ORDER BY created_at`, submissionID)
}

// ListVotesByVoter returns all votes one user has cast.
func (r *PostgresRepository) ListVotesByVoter(ctx context.Context, voterID string) ([]*Vote, error) {
	return r.queryVotes(ctx, voteColumns+` WHERE voter_id = $1 ORDER BY created_at`, voterID)
}

// GetProfile retrieves a user's reputation profile.
func (r *PostgresRepository) GetProfile(ctx context.Context, userID string) (*ReputationProfile, error) {
	var (
		profile ReputationProfile
		stats   []byte
		badges  []byte
		level   string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT user_id, score, level, vote_weight, stats, badges, updated_at
		FROM reputation_profiles
		WHERE user_id = $1`, userID,
	).Scan(&profile.UserID, &profile.Score, &level, &profile.VoteWeight,
		&stats, &badges, &profile.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	profile.Level = Level(level)
	if err := json.Unmarshal(stats, &profile.Stats); err != nil {
		return nil, fmt.Errorf("unmarshaling stats: %w", err)
	}
	if err := json.Unmarshal(badges, &profile.Badges); err != nil {
		return nil, fmt.Errorf("unmarshaling badges: %w", err)
	}

	return &profile, nil
}

// SaveProfile upserts a reputation profile.
func (r *PostgresRepository) SaveProfile(ctx context.Context, profile *ReputationProfile) error {
	stats, err := json.Marshal(profile.Stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	badges, err := json.Marshal(profile.Badges)
	if err != nil {
		return fmt.Errorf("marshaling badges: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO reputation_profiles (user_id, score, level, vote_weight, stats, badges, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET score = EXCLUDED.score, level = EXCLUDED.level,
			vote_weight = EXCLUDED.vote_weight, stats = EXCLUDED.stats,
			badges = EXCLUDED.badges, updated_at = EXCLUDED.updated_at`,
		profile.UserID, profile.Score, string(profile.Level), profile.VoteWeight,
		stats, badges, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}

	return nil
}

// Private helpers

var ErrInvalidFilter = errors.New("invalid filter parameters")

const submissionColumns = `
	SELECT id, session_id, author_id, kind, title, body, sections, status,
		   votes, weighted_vote_score, voter_ids, created_at, updated_at
	FROM submissions`

const voteColumns = `
	SELECT id, session_id, submission_id, voter_id, value, weight, created_at
	FROM votes`

func (r *PostgresRepository) queryVotes(ctx context.Context, query string, arg interface{}) ([]*Vote, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying votes: %w", err)
	}
	defer rows.Close()

	var votes []*Vote
	for rows.Next() {
		vote, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		votes = append(votes, vote)
	}

	return votes, rows.Err()
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		session  Session
		stage    string
		settings []byte
	)

	err := row.Scan(&session.ID, &session.HostID, &session.Title, &stage, &settings,
		&session.TotalSubmissions, &session.TotalVotes, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	session.Stage = Stage(stage)
	if err := json.Unmarshal(settings, &session.Settings); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}

	return &session, nil
}

func scanSubmission(row pgx.Row) (*Submission, error) {
	var (
		sub      Submission
		author   *string
		kind     string
		status   string
		sections []byte
	)

	err := row.Scan(&sub.ID, &sub.SessionID, &author, &kind, &sub.Title, &sub.Body,
		&sections, &status, &sub.Votes, &sub.WeightedVoteScore, &sub.VoterIDs,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning submission: %w", err)
	}

	if author != nil {
		sub.AuthorID = *author
	}
	sub.Kind = SubmissionKind(kind)
	sub.Status = SubmissionStatus(status)
	if sub.VoterIDs == nil {
		sub.VoterIDs = []string{}
	}
	if err := json.Unmarshal(sections, &sub.Sections); err != nil {
		return nil, fmt.Errorf("unmarshaling sections: %w", err)
	}

	return &sub, nil
}

func scanVote(row pgx.Row) (*Vote, error) {
	var vote Vote
	err := row.Scan(&vote.ID, &vote.SessionID, &vote.SubmissionID, &vote.VoterID,
		&vote.Value, &vote.Weight, &vote.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning vote: %w", err)
	}
	return &vote, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
