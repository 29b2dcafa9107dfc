package reputation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"songforge/pkg/data"
)

const (
	// MaxVoteWeight bounds the influence of any single highly active user in
	// weighted voting.
	MaxVoteWeight = 5.0

	// Level thresholds, inclusive on the lower end.
	silverThreshold   = 500
	goldThreshold     = 2000
	platinumThreshold = 5000
	diamondThreshold  = 10000
)

// Reason strings for the score ledger.
const (
	ReasonVoteCast           = "VOTE_CAST"
	ReasonSubmissionAccepted = "SUBMISSION_ACCEPTED"
	ReasonSessionWon         = "SESSION_WON"
)

// Rewards holds the score deltas granted for lifecycle events.
type Rewards struct {
	VoteCast           int64
	SubmissionAccepted int64
	SessionWon         int64
}

// DefaultRewards returns the standard reward schedule.
func DefaultRewards() Rewards {
	return Rewards{
		VoteCast:           5,
		SubmissionAccepted: 25,
		SessionWon:         250,
	}
}

// AwardResult reports everything a score change produced.
type AwardResult struct {
	Score        int64
	Level        data.Level
	LevelChanged bool
	Weight       float64
	NewBadges    []data.Badge
}

// Engine owns reputation scores and everything derived from them. AddScore is
// the only write path for score; level, weight and badges are recomputed there
// and nowhere else.
type Engine struct {
	repo    data.Repository
	rules   []BadgeRule
	rewards Rewards
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewEngine creates a reputation engine with the default badge table.
func NewEngine(repo data.Repository, logger *zap.Logger, rewards Rewards) *Engine {
	return &Engine{
		repo:    repo,
		rules:   DefaultBadgeRules(),
		rewards: rewards,
		logger:  logger,
	}
}

// WeightForScore computes the vote weight for a score:
// min(round2(1 + score/1000), 5).
func WeightForScore(score int64) float64 {
	weight := 1 + float64(score)/1000
	weight = math.Round(weight*100) / 100
	return math.Min(weight, MaxVoteWeight)
}

// LevelForScore maps a score onto its reputation tier.
func LevelForScore(score int64) data.Level {
	switch {
	case score >= diamondThreshold:
		return data.LevelDiamond
	case score >= platinumThreshold:
		return data.LevelPlatinum
	case score >= goldThreshold:
		return data.LevelGold
	case score >= silverThreshold:
		return data.LevelSilver
	default:
		return data.LevelBronze
	}
}

// WeightFor returns the current vote weight for a user. Users without a
// profile vote at the base weight.
func (e *Engine) WeightFor(ctx context.Context, userID string) (float64, error) {
	profile, err := e.repo.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return WeightForScore(0), nil
		}
		return 0, fmt.Errorf("loading profile: %w", err)
	}
	return profile.VoteWeight, nil
}

// Profile returns a user's reputation profile, materializing a fresh one for
// users who have not earned any score yet.
func (e *Engine) Profile(ctx context.Context, userID string) (*data.ReputationProfile, error) {
	profile, err := e.repo.GetProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	return data.NewReputationProfile(userID)
}

// AddScore applies a score delta, recomputes level and weight, evaluates the
// badge table against the updated stats and persists the result. Returns the
// set of newly earned badges and whether the level changed.
func (e *Engine) AddScore(ctx context.Context, userID string, delta int64, reason string) (*AwardResult, error) {
	return e.apply(ctx, userID, delta, reason, nil)
}

// RecordVoteCast awards the vote-cast delta and bumps the voter's stat.
func (e *Engine) RecordVoteCast(ctx context.Context, userID string) (*AwardResult, error) {
	return e.apply(ctx, userID, e.rewards.VoteCast, ReasonVoteCast, func(stats *data.UserStats) {
		stats.VotesCast++
	})
}

// RecordSubmission awards the submission delta and bumps the author's stat.
func (e *Engine) RecordSubmission(ctx context.Context, userID string) (*AwardResult, error) {
	return e.apply(ctx, userID, e.rewards.SubmissionAccepted, ReasonSubmissionAccepted, func(stats *data.UserStats) {
		stats.SubmissionsCreated++
	})
}

// RecordWin awards the session-win delta and bumps the winner's stat.
func (e *Engine) RecordWin(ctx context.Context, userID string) (*AwardResult, error) {
	return e.apply(ctx, userID, e.rewards.SessionWon, ReasonSessionWon, func(stats *data.UserStats) {
		stats.SessionsWon++
	})
}

// Private methods

func (e *Engine) apply(ctx context.Context, userID string, delta int64, reason string, bump func(*data.UserStats)) (*AwardResult, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	profile, err := e.repo.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, data.ErrNotFound) {
			return nil, fmt.Errorf("loading profile: %w", err)
		}
		profile, err = data.NewReputationProfile(userID)
		if err != nil {
			return nil, err
		}
	}

	oldLevel := profile.Level

	profile.Score += delta
	if profile.Score < 0 {
		profile.Score = 0
	}
	profile.Stats.Score = profile.Score
	if bump != nil {
		bump(&profile.Stats)
	}

	profile.Level = LevelForScore(profile.Score)
	profile.VoteWeight = WeightForScore(profile.Score)
	profile.UpdatedAt = time.Now().UTC()

	newBadges := e.evaluateBadges(profile)

	if err := e.repo.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("saving profile: %w", err)
	}

	levelChanged := profile.Level != oldLevel
	if levelChanged || len(newBadges) > 0 {
		e.logger.Info("Reputation milestone",
			zap.String("userID", userID),
			zap.Int64("score", profile.Score),
			zap.String("level", string(profile.Level)),
			zap.Int("newBadges", len(newBadges)),
			zap.String("reason", reason))
	}

	return &AwardResult{
		Score:        profile.Score,
		Level:        profile.Level,
		LevelChanged: levelChanged,
		Weight:       profile.VoteWeight,
		NewBadges:    newBadges,
	}, nil
}

// evaluateBadges awards every rule whose predicate matches and that has not
// been awarded before. Badges are append-only and never revoked.
func (e *Engine) evaluateBadges(profile *data.ReputationProfile) []data.Badge {
	var earned []data.Badge
	now := time.Now().UTC()

	for _, rule := range e.rules {
		if profile.HasBadge(rule.ID) {
			continue
		}
		if !rule.Predicate(profile.Stats) {
			continue
		}
		badge := data.Badge{ID: rule.ID, Name: rule.Name, AwardedAt: now}
		profile.Badges = append(profile.Badges, badge)
		earned = append(earned, badge)
	}

	return earned
}
