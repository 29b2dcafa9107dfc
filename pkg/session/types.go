package session

import (
	"time"

	"go.uber.org/zap"

	"songforge/pkg/data"
	"songforge/pkg/events"
	"songforge/pkg/reputation"
)

// Trigger identifies what caused a stage transition attempt.
type Trigger string

const (
	TriggerHost     Trigger = "host"
	TriggerDeadline Trigger = "deadline"
)

// Wallet is the external token-debit collaborator for tokenized voting.
// Its rules are owned entirely by the wallet service; this core only requires
// that a refused debit returns an error.
type Wallet interface {
	Debit(userID string, tokens int) error
}

// Core bundles the session state machine, submission store and voting engine
// over one shared lock discipline.
type Core struct {
	Sessions    *Manager
	Submissions *SubmissionStore
	Votes       *VotingEngine
}

// Option configures optional collaborators on the core.
type Option func(*Core)

// WithWallet installs the token wallet used by tokenized sessions.
func WithWallet(w Wallet) Option {
	return func(c *Core) {
		c.Votes.wallet = w
	}
}

// WithClock overrides the time source, used by deadline tests.
func WithClock(now func() time.Time) Option {
	return func(c *Core) {
		c.Sessions.now = now
	}
}

// New wires the three core components together. They share the per-session
// lock table so vote casts (readers) and stage transitions (writer) exclude
// each other correctly.
func New(repo data.Repository, rep *reputation.Engine, broadcaster events.Broadcaster, logger *zap.Logger, opts ...Option) *Core {
	sessionLocks := newKeyedRWMutex()

	manager := &Manager{
		repo:        repo,
		reputation:  rep,
		broadcaster: broadcaster,
		locks:       sessionLocks,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}

	store := &SubmissionStore{
		repo:        repo,
		reputation:  rep,
		broadcaster: broadcaster,
		locks:       sessionLocks,
		logger:      logger,
	}

	votes := &VotingEngine{
		repo:            repo,
		reputation:      rep,
		broadcaster:     broadcaster,
		sessions:        manager,
		sessionLocks:    sessionLocks,
		submissionLocks: newKeyedMutex(),
		logger:          logger,
	}

	manager.store = store

	core := &Core{
		Sessions:    manager,
		Submissions: store,
		Votes:       votes,
	}
	for _, opt := range opts {
		opt(core)
	}
	return core
}
