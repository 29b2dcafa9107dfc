package data

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error variables for consistent error handling. Store-level conditions first,
// then the domain taxonomy shared by the session and voting engines.
var (
	ErrInvalidID   = errors.New("invalid identifier")
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("duplicate record")
	ErrUnavailable = errors.New("storage unavailable")

	// State-machine errors
	ErrInvalidTransition  = errors.New("invalid stage transition")
	ErrPreconditionNotMet = errors.New("transition precondition not met")
	ErrAlreadyTerminal    = errors.New("session is in a terminal stage")

	// Voting errors
	ErrVotingClosed      = errors.New("voting is closed for this session stage")
	ErrSelfVoteForbidden = errors.New("voting for your own submission is forbidden")
	ErrDuplicateVote     = errors.New("user has already voted for this submission")
	ErrInvalidVoteValue  = errors.New("vote value out of range for voting system")
	ErrVoteNotFound      = errors.New("vote not found")

	// Submission intake errors
	ErrSubmissionLimitExceeded = errors.New("submission limit exceeded for user")
	ErrAnonymousNotAllowed     = errors.New("anonymous submissions not allowed")
)

// VotingSystem determines how vote values are validated and weighted.
type VotingSystem string

const (
	VotingSimple    VotingSystem = "simple"
	VotingWeighted  VotingSystem = "weighted"
	VotingTokenized VotingSystem = "tokenized"
)

// Valid reports whether the voting system is a known value.
func (v VotingSystem) Valid() bool {
	switch v {
	case VotingSimple, VotingWeighted, VotingTokenized:
		return true
	}
	return false
}

// Stage represents a session's position in the collaboration lifecycle.
type Stage string

const (
	StageDraft        Stage = "draft"
	StageLyricsOpen   Stage = "lyrics-open"
	StageLyricsVoting Stage = "lyrics-voting"
	StageGeneration   Stage = "generation"
	StageSongVoting   Stage = "song-voting"
	StageCompleted    Stage = "completed"
	StageCancelled    Stage = "cancelled"
)

// Terminal reports whether the stage is absorbing.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageCancelled
}

// VotingStage reports whether votes may be cast while in this stage.
func (s Stage) VotingStage() bool {
	return s == StageLyricsVoting || s == StageSongVoting
}

// SessionSettings holds the host-chosen rules for one session.
type SessionSettings struct {
	VotingSystem          VotingSystem `json:"voting_system"`
	MaxSubmissionsPerUser int          `json:"max_submissions_per_user"`
	LyricsDeadline        *time.Time   `json:"lyrics_deadline,omitempty"`
	VotingDeadline        *time.Time   `json:"voting_deadline,omitempty"`
	AllowAnonymous        bool         `json:"allow_anonymous"`
	ShowVoteCounts        bool         `json:"show_vote_counts_during_voting"`
}

// Session represents one collaborative round.
type Session struct {
	ID               string          `json:"id"`
	HostID           string          `json:"host_id"`
	Title            string          `json:"title"`
	Stage            Stage           `json:"stage"`
	Settings         SessionSettings `json:"settings"`
	TotalSubmissions int             `json:"total_submissions"`
	TotalVotes       int             `json:"total_votes"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewSession creates a new Session in draft with validated settings.
func NewSession(hostID, title string, settings SessionSettings) (*Session, error) {
	if hostID == "" {
		return nil, errors.New("host ID cannot be empty")
	}
	if title == "" {
		return nil, errors.New("title cannot be empty")
	}
	if !settings.VotingSystem.Valid() {
		return nil, fmt.Errorf("unknown voting system %q", settings.VotingSystem)
	}
	if settings.MaxSubmissionsPerUser <= 0 {
		settings.MaxSubmissionsPerUser = 1
	}

	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New().String(),
		HostID:    hostID,
		Title:     title,
		Stage:     StageDraft,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks if the session is valid.
func (s *Session) Validate() error {
	if s.ID == "" {
		return ErrInvalidID
	}
	if s.HostID == "" {
		return errors.New("host ID cannot be empty")
	}
	if !s.Settings.VotingSystem.Valid() {
		return fmt.Errorf("unknown voting system %q", s.Settings.VotingSystem)
	}
	if s.Stage == "" {
		return errors.New("stage cannot be empty")
	}
	return nil
}

// SubmissionKind distinguishes lyric entries from generated song entries.
type SubmissionKind string

const (
	KindLyrics SubmissionKind = "lyrics"
	KindSong   SubmissionKind = "song"
)

// SubmissionStatus tracks a submission through review and finalization.
type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "pending"
	StatusApproved SubmissionStatus = "approved"
	StatusRejected SubmissionStatus = "rejected"
	StatusWinner   SubmissionStatus = "winner"
	StatusRunnerUp SubmissionStatus = "runnerUp"
)

// Section is one ordered part of a submission body (verse, chorus, bridge).
type Section struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Submission is one candidate contribution to a session.
// AuthorID is empty for anonymous submissions and for generated song entries.
type Submission struct {
	ID                string           `json:"id"`
	SessionID         string           `json:"session_id"`
	AuthorID          string           `json:"author_id,omitempty"`
	Kind              SubmissionKind   `json:"kind"`
	Title             string           `json:"title"`
	Body              string           `json:"body"`
	Sections          []Section        `json:"sections,omitempty"`
	Status            SubmissionStatus `json:"status"`
	Votes             int              `json:"votes"`
	WeightedVoteScore float64          `json:"weighted_vote_score"`
	VoterIDs          []string         `json:"voter_ids"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NewSubmission creates a new lyric submission with validation.
func NewSubmission(sessionID, authorID, title, body string, sections []Section) (*Submission, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}
	if title == "" {
		return nil, errors.New("title cannot be empty")
	}
	if body == "" && len(sections) == 0 {
		return nil, errors.New("submission content cannot be empty")
	}

	now := time.Now().UTC()
	return &Submission{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		AuthorID:  authorID,
		Kind:      KindLyrics,
		Title:     title,
		Body:      body,
		Sections:  sections,
		Status:    StatusApproved,
		VoterIDs:  []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewSongEntry creates a generated song entry for the song-voting stage.
func NewSongEntry(sessionID, title, body string) (*Submission, error) {
	sub, err := NewSubmission(sessionID, "", title, body, nil)
	if err != nil {
		return nil, err
	}
	sub.Kind = KindSong
	return sub, nil
}

// Validate checks if the submission is valid.
func (s *Submission) Validate() error {
	if s.ID == "" {
		return ErrInvalidID
	}
	if s.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}
	if s.Kind != KindLyrics && s.Kind != KindSong {
		return fmt.Errorf("unknown submission kind %q", s.Kind)
	}
	if s.Votes != len(s.VoterIDs) {
		return fmt.Errorf("vote count %d does not match voter list length %d", s.Votes, len(s.VoterIDs))
	}
	return nil
}

// HasVoter reports whether the given user already appears in the voter list.
func (s *Submission) HasVoter(userID string) bool {
	for _, id := range s.VoterIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Vote is one user's endorsement of one submission. Weight is a snapshot of
// the voter's reputation weight at cast time and is never recomputed.
type Vote struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	SubmissionID string    `json:"submission_id"`
	VoterID      string    `json:"voter_id"`
	Value        int       `json:"value"`
	Weight       float64   `json:"weight"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewVote creates a new Vote instance.
func NewVote(sessionID, submissionID, voterID string, value int, weight float64) (*Vote, error) {
	if sessionID == "" || submissionID == "" {
		return nil, ErrInvalidID
	}
	if voterID == "" {
		return nil, errors.New("voter ID cannot be empty")
	}
	if value <= 0 {
		return nil, ErrInvalidVoteValue
	}
	if weight <= 0 {
		return nil, errors.New("weight must be positive")
	}

	return &Vote{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		SubmissionID: submissionID,
		VoterID:      voterID,
		Value:        value,
		Weight:       weight,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// TotalPower is the vote's weighted contribution to its target's score.
func (v *Vote) TotalPower() float64 {
	return float64(v.Value) * v.Weight
}

// Validate checks if the vote is valid.
func (v *Vote) Validate() error {
	if v.ID == "" || v.SessionID == "" || v.SubmissionID == "" {
		return ErrInvalidID
	}
	if v.VoterID == "" {
		return errors.New("voter ID cannot be empty")
	}
	if v.Value <= 0 {
		return ErrInvalidVoteValue
	}
	if v.CreatedAt.IsZero() {
		return errors.New("invalid timestamp")
	}
	return nil
}

// Level represents a reputation tier derived from score.
type Level string

const (
	LevelBronze   Level = "bronze"
	LevelSilver   Level = "silver"
	LevelGold     Level = "gold"
	LevelPlatinum Level = "platinum"
	LevelDiamond  Level = "diamond"
)

// Badge is a one-time achievement award. Badges are append-only.
type Badge struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AwardedAt time.Time `json:"awarded_at"`
}

// UserStats is the snapshot badge predicates are evaluated against.
type UserStats struct {
	Score              int64 `json:"score"`
	VotesCast          int   `json:"votes_cast"`
	SubmissionsCreated int   `json:"submissions_created"`
	SessionsWon        int   `json:"sessions_won"`
}

// ReputationProfile tracks a user's score and everything derived from it.
// Level and VoteWeight are pure functions of Score, cached here; they are
// recomputed by the reputation engine on every score change and must never
// be written from outside it.
type ReputationProfile struct {
	UserID     string    `json:"user_id"`
	Score      int64     `json:"score"`
	Level      Level     `json:"level"`
	VoteWeight float64   `json:"vote_weight"`
	Stats      UserStats `json:"stats"`
	Badges     []Badge   `json:"badges"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewReputationProfile creates a fresh profile at score zero.
func NewReputationProfile(userID string) (*ReputationProfile, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}
	return &ReputationProfile{
		UserID:     userID,
		Score:      0,
		Level:      LevelBronze,
		VoteWeight: 1.0,
		Badges:     []Badge{},
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

// HasBadge reports whether the badge was already awarded.
func (p *ReputationProfile) HasBadge(badgeID string) bool {
	for _, b := range p.Badges {
		if b.ID == badgeID {
			return true
		}
	}
	return false
}

// VoteTally is the aggregate returned from a vote mutation so callers can
// render the new counts without a second read.
type VoteTally struct {
	Votes             int     `json:"votes"`
	WeightedVoteScore float64 `json:"weighted_vote_score"`
}
