package events

import (
	"time"
)

// EventType identifies a session-scoped notification.
type EventType string

const (
	EventSessionCreated    EventType = "session.created"
	EventStageChanged      EventType = "session.stage-changed"
	EventSubmissionCreated EventType = "submission.created"
	EventVoteCast          EventType = "vote.cast"
	EventVoteRemoved       EventType = "vote.removed"
	EventReputationChanged EventType = "reputation.changed"
)

// Event is one ordered, session-scoped notification. Seq is assigned by the
// hub and increases by one per session, so subscribers can detect gaps.
type Event struct {
	SessionID string      `json:"session_id"`
	Type      EventType   `json:"type"`
	Seq       uint64      `json:"seq"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Broadcaster publishes state-mutation events to all subscribers of a
// session. Delivery is fire-and-forget, at-most-once and best-effort; the
// caller publishes from inside its mutation exclusion scope, so publish order
// matches commit order per session, and Publish must therefore never block.
type Broadcaster interface {
	Publish(sessionID string, eventType EventType, payload interface{})
}

// Sink receives every published event asynchronously, in publish order.
// Implementations fan events out to external transports.
type Sink interface {
	Emit(event Event) error
}

// StageChangedPayload carries a stage transition and, for the edge into
// generation, the finalized ranking.
type StageChangedPayload struct {
	OldStage string         `json:"old_stage"`
	NewStage string         `json:"new_stage"`
	Trigger  string         `json:"trigger,omitempty"`
	Ranking  []RankingEntry `json:"ranking,omitempty"`
}

// RankingEntry is one row of a finalized ranking.
type RankingEntry struct {
	Rank              int     `json:"rank"`
	SubmissionID      string  `json:"submission_id"`
	Status            string  `json:"status"`
	Votes             int     `json:"votes"`
	WeightedVoteScore float64 `json:"weighted_vote_score"`
}

// VotePayload carries a vote mutation. Counts are omitted while the session
// hides them during voting.
type VotePayload struct {
	SubmissionID      string   `json:"submission_id"`
	VoterID           string   `json:"voter_id"`
	Votes             *int     `json:"votes,omitempty"`
	WeightedVoteScore *float64 `json:"weighted_vote_score,omitempty"`
}

// SubmissionPayload announces a new submission.
type SubmissionPayload struct {
	SubmissionID string `json:"submission_id"`
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	AuthorID     string `json:"author_id,omitempty"`
}
