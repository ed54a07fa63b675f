package domain

import (
	"math/bits"
	"time"
)

type GoalState string

const (
	GoalActive    GoalState = "ACTIVE"
	GoalCompleted GoalState = "COMPLETED"
	GoalWithdrawn GoalState = "WITHDRAWN"
)

// Goal is a personal savings target.
type Goal struct {
	ID                 int64      `json:"id"`
	Owner              Address    `json:"owner"`
	Name               string     `json:"name"`
	TargetAmount       int64      `json:"target_amount"`
	ContributionAmount int64      `json:"contribution_amount"`
	CurrentAmount      int64      `json:"current_amount"`
	Frequency          Frequency  `json:"frequency"`
	Deadline           time.Time  `json:"deadline"`
	State              GoalState  `json:"state"`
	Contributions      int        `json:"contributions"`
	LastContributionAt *time.Time `json:"last_contribution_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	PenaltyPaid        int64      `json:"penalty_paid"`
}

// CreateGoalParams carries the caller-supplied goal settings.
type CreateGoalParams struct {
	Name               string    `json:"name"`
	TargetAmount       int64     `json:"target_amount"`
	ContributionAmount int64     `json:"contribution_amount"`
	Frequency          Frequency `json:"frequency"`
	Deadline           time.Time `json:"deadline"`
}

// TargetReached reports whether the goal has accumulated its target.
func (g Goal) TargetReached() bool {
	return g.CurrentAmount >= g.TargetAmount
}

// ProgressBps is the current amount as basis points of the target.
func (g Goal) ProgressBps() int64 {
	if g.TargetAmount <= 0 || g.CurrentAmount <= 0 {
		return 0
	}
	if g.CurrentAmount >= g.TargetAmount {
		return 10000
	}
	hi, lo := bits.Mul64(uint64(g.CurrentAmount), 10000)
	q, _ := bits.Div64(hi, lo, uint64(g.TargetAmount))
	return int64(q)
}

// WithdrawalQuote describes what an early withdrawal would pay out.
type WithdrawalQuote struct {
	GoalID      int64 `json:"goal_id"`
	Current     int64 `json:"current_amount"`
	ProgressBps int64 `json:"progress_bps"`
	PenaltyBps  int64 `json:"penalty_bps"`
	Penalty     int64 `json:"penalty"`
	Payout      int64 `json:"payout"`
}
