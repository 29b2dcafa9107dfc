package reputation

import (
	"songforge/pkg/data"
)

// BadgeRule pairs a badge id with a pure predicate over a user's stat
// snapshot. Rules are evaluated idempotently: a badge is awarded at most once
// and never removed.
type BadgeRule struct {
	ID        string
	Name      string
	Predicate func(data.UserStats) bool
}

// DefaultBadgeRules returns the built-in badge table.
func DefaultBadgeRules() []BadgeRule {
	return []BadgeRule{
		{
			ID:   "first-submission",
			Name: "First Words",
			Predicate: func(s data.UserStats) bool {
				return s.SubmissionsCreated >= 1
			},
		},
		{
			ID:   "prolific-writer",
			Name: "Prolific Writer",
			Predicate: func(s data.UserStats) bool {
				return s.SubmissionsCreated >= 10
			},
		},
		{
			ID:   "first-vote",
			Name: "First Ballot",
			Predicate: func(s data.UserStats) bool {
				return s.VotesCast >= 1
			},
		},
		{
			ID:   "ballot-regular",
			Name: "Ballot Regular",
			Predicate: func(s data.UserStats) bool {
				return s.VotesCast >= 50
			},
		},
		{
			ID:   "first-win",
			Name: "Chart Debut",
			Predicate: func(s data.UserStats) bool {
				return s.SessionsWon >= 1
			},
		},
		{
			ID:   "hit-maker",
			Name: "Hit Maker",
			Predicate: func(s data.UserStats) bool {
				return s.SessionsWon >= 5
			},
		},
		{
			ID:   "gold-standing",
			Name: "Gold Standing",
			Predicate: func(s data.UserStats) bool {
				return LevelForScore(s.Score) == data.LevelGold ||
					LevelForScore(s.Score) == data.LevelPlatinum ||
					LevelForScore(s.Score) == data.LevelDiamond
			},
		},
		{
			ID:   "diamond-standing",
			Name: "Diamond Standing",
			Predicate: func(s data.UserStats) bool {
				return LevelForScore(s.Score) == data.LevelDiamond
			},
		},
	}
}
