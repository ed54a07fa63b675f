package domain

import "time"

// Tier is the score-derived reputation class.
type Tier string

const (
	TierBronze   Tier = "BRONZE"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
)

const (
	MinReputationScore     int64 = 0
	MaxReputationScore     int64 = 1000
	DefaultReputationScore int64 = 250
)

// TierFor maps a score to its tier.
func TierFor(score int64) Tier {
	switch {
	case score < 300:
		return TierBronze
	case score < 600:
		return TierSilver
	case score < 850:
		return TierGold
	default:
		return TierPlatinum
	}
}

// Reputation is one user's score and counters.
type Reputation struct {
	Address        Address   `json:"address"`
	Score          int64     `json:"score"`
	Tier           Tier      `json:"tier"`
	LatePayments   int       `json:"late_payments"`
	Forfeits       int       `json:"forfeits"`
	GoalsCompleted int       `json:"goals_completed"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ReputationEntry is one line of a user's score history.
type ReputationEntry struct {
	Address    Address   `json:"address"`
	Delta      int64     `json:"delta"`
	Reason     string    `json:"reason"`
	Caller     Address   `json:"caller"`
	ScoreAfter int64     `json:"score_after"`
	At         time.Time `json:"at"`
}

// Reason tags recorded in reputation history.
const (
	ReasonOnTimeContribution = "on_time_contribution"
	ReasonLatePayment        = "late_payment"
	ReasonForfeit            = "forfeit"
	ReasonGoalCompleted      = "goal_completed"
	ReasonCircleCompleted    = "circle_completed"
)
