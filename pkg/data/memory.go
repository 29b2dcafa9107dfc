package data

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is a map-backed Repository used by tests and by the
// development server when no database is configured. Mutations take the same
// all-or-nothing shape as the Postgres implementation.
type MemoryRepository struct {
	sessions    map[string]*Session
	submissions map[string]*Submission
	votes       map[string]*Vote // keyed by submissionID + "/" + voterID
	profiles    map[string]*ReputationProfile
	mu          sync.RWMutex
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions:    make(map[string]*Session),
		submissions: make(map[string]*Submission),
		votes:       make(map[string]*Vote),
		profiles:    make(map[string]*ReputationProfile),
	}
}

func voteKey(submissionID, voterID string) string {
	return submissionID + "/" + voterID
}

// Session operations

func (m *MemoryRepository) SaveSession(ctx context.Context, session *Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return ErrDuplicate
	}
	m.sessions[session.ID] = copySession(session)
	return nil
}

func (m *MemoryRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copySession(session), nil
}

func (m *MemoryRepository) UpdateSession(ctx context.Context, session *Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.sessions[session.ID]
	if !exists {
		return ErrNotFound
	}
	next := copySession(session)
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	m.sessions[session.ID] = next
	return nil
}

func (m *MemoryRepository) ListSessionsByStage(ctx context.Context, stages ...Stage) ([]*Session, error) {
	if len(stages) == 0 {
		return nil, ErrInvalidFilter
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*Session
	for _, session := range m.sessions {
		for _, stage := range stages {
			if session.Stage == stage {
				sessions = append(sessions, copySession(session))
				break
			}
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Submission operations

func (m *MemoryRepository) SaveSubmission(ctx context.Context, sub *Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.submissions[sub.ID]; exists {
		return ErrDuplicate
	}
	session, exists := m.sessions[sub.SessionID]
	if !exists {
		return ErrNotFound
	}

	m.submissions[sub.ID] = copySubmission(sub)
	session.TotalSubmissions++
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.submissions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copySubmission(sub), nil
}

func (m *MemoryRepository) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*Submission, error) {
	if filter.SessionID == "" {
		return nil, ErrInvalidFilter
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []*Submission
	for _, sub := range m.submissions {
		if !matchesFilter(sub, filter) {
			continue
		}
		subs = append(subs, copySubmission(sub))
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(subs) {
			return nil, nil
		}
		subs = subs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(subs) {
		subs = subs[:filter.Limit]
	}
	return subs, nil
}

func (m *MemoryRepository) UpdateSubmissionStatus(ctx context.Context, id string, status SubmissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, exists := m.submissions[id]
	if !exists {
		return ErrNotFound
	}
	sub.Status = status
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) CountSubmissionsByAuthor(ctx context.Context, sessionID, authorID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, sub := range m.submissions {
		if sub.SessionID == sessionID && sub.AuthorID != "" && sub.AuthorID == authorID {
			count++
		}
	}
	return count, nil
}

// Vote operations

func (m *MemoryRepository) ApplyVote(ctx context.Context, vote *Vote) (*VoteTally, error) {
	if err := vote.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := voteKey(vote.SubmissionID, vote.VoterID)
	if _, exists := m.votes[key]; exists {
		return nil, ErrDuplicateVote
	}
	sub, exists := m.submissions[vote.SubmissionID]
	if !exists {
		return nil, ErrNotFound
	}
	session, exists := m.sessions[vote.SessionID]
	if !exists {
		return nil, ErrNotFound
	}

	stored := *vote
	m.votes[key] = &stored

	sub.Votes++
	sub.WeightedVoteScore += vote.TotalPower()
	sub.VoterIDs = append(sub.VoterIDs, vote.VoterID)
	sub.UpdatedAt = time.Now().UTC()

	session.TotalVotes++
	session.UpdatedAt = sub.UpdatedAt

	return &VoteTally{Votes: sub.Votes, WeightedVoteScore: sub.WeightedVoteScore}, nil
}

func (m *MemoryRepository) RemoveVote(ctx context.Context, submissionID, voterID string) (*VoteTally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := voteKey(submissionID, voterID)
	vote, exists := m.votes[key]
	if !exists {
		return nil, ErrVoteNotFound
	}
	sub, exists := m.submissions[submissionID]
	if !exists {
		return nil, ErrNotFound
	}
	session, exists := m.sessions[vote.SessionID]
	if !exists {
		return nil, ErrNotFound
	}

	delete(m.votes, key)

	sub.Votes--
	sub.WeightedVoteScore -= vote.TotalPower()
	for i, id := range sub.VoterIDs {
		if id == voterID {
			sub.VoterIDs = append(sub.VoterIDs[:i], sub.VoterIDs[i+1:]...)
			break
		}
	}
	sub.UpdatedAt = time.Now().UTC()

	session.TotalVotes--
	session.UpdatedAt = sub.UpdatedAt

	return &VoteTally{Votes: sub.Votes, WeightedVoteScore: sub.WeightedVoteScore}, nil
}

func (m *MemoryRepository) GetVote(ctx context.Context, submissionID, voterID string) (*Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vote, exists := m.votes[voteKey(submissionID, voterID)]
	if !exists {
		return nil, ErrNotFound
	}
	stored := *vote
	return &stored, nil
}

func (m *MemoryRepository) ListVotesBySubmission(ctx context.Context, submissionID string) ([]*Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var votes []*Vote
	for _, vote := range m.votes {
		if vote.SubmissionID == submissionID {
			stored := *vote
			votes = append(votes, &stored)
		}
	}
	sortVotes(votes)
	return votes, nil
}

func (m *MemoryRepository) ListVotesByVoter(ctx context.Context, voterID string) ([]*Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var votes []*Vote
	for _, vote := range m.votes {
		if vote.VoterID == voterID {
			stored := *vote
			votes = append(votes, &stored)
		}
	}
	sortVotes(votes)
	return votes, nil
}

// Reputation operations

func (m *MemoryRepository) GetProfile(ctx context.Context, userID string) (*ReputationProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, exists := m.profiles[userID]
	if !exists {
		return nil, ErrNotFound
	}
	return copyProfile(profile), nil
}

func (m *MemoryRepository) SaveProfile(ctx context.Context, profile *ReputationProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profiles[profile.UserID] = copyProfile(profile)
	return nil
}

// Private helpers

func matchesFilter(sub *Submission, filter SubmissionFilter) bool {
	if sub.SessionID != filter.SessionID {
		return false
	}
	if filter.AuthorID != "" && sub.AuthorID != filter.AuthorID {
		return false
	}
	if filter.Kind != "" && sub.Kind != filter.Kind {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if sub.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortVotes(votes []*Vote) {
	sort.Slice(votes, func(i, j int) bool {
		return votes[i].CreatedAt.Before(votes[j].CreatedAt)
	})
}

func copySession(s *Session) *Session {
	next := *s
	if s.Settings.LyricsDeadline != nil {
		d := *s.Settings.LyricsDeadline
		next.Settings.LyricsDeadline = &d
	}
	if s.Settings.VotingDeadline != nil {
		d := *s.Settings.VotingDeadline
		next.Settings.VotingDeadline = &d
	}
	return &next
}

func copySubmission(s *Submission) *Submission {
	next := *s
	next.Sections = append([]Section(nil), s.Sections...)
	next.VoterIDs = append([]string{}, s.VoterIDs...)
	return &next
}

func copyProfile(p *ReputationProfile) *ReputationProfile {
	next := *p
	next.Badges = append([]Badge{}, p.Badges...)
	return &next
}
