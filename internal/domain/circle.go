/**
 * @description
 * Domain models for savings circles: the circle itself, its members, and the per-round
 * contribution and forfeiture records that drive round resolution.
 */
package domain

import (
	"strings"
	"time"
)

// Frequency fixes the length of a circle round or a goal contribution period.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// ParseFrequency accepts any casing of a known frequency.
func ParseFrequency(raw string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(raw)))
	if !f.Valid() {
		return "", ErrInvalidFrequency
	}
	return f, nil
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Period is the length of one round (or one goal contribution window).
func (f Frequency) Period() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityPublic  Visibility = "PUBLIC"
)

// ParseVisibility accepts any casing of a known visibility.
func ParseVisibility(raw string) (Visibility, error) {
	v := Visibility(strings.ToUpper(strings.TrimSpace(raw)))
	if v != VisibilityPrivate && v != VisibilityPublic {
		return "", ErrInvalidVisibility
	}
	return v, nil
}

// CircleState is the lifecycle state of a circle.
type CircleState string

const (
	CircleCreated   CircleState = "CREATED"
	CircleOpen      CircleState = "OPEN"
	CircleActive    CircleState = "ACTIVE"
	CircleCompleted CircleState = "COMPLETED"
	CircleCancelled CircleState = "CANCELLED"
)

// Enrolling reports whether the circle still accepts members.
func (s CircleState) Enrolling() bool {
	return s == CircleCreated || s == CircleOpen
}

// Closed reports whether the circle reached a terminal state.
func (s CircleState) Closed() bool {
	return s == CircleCompleted || s == CircleCancelled
}

// MaxAmount bounds contribution and goal amounts, in minor units. Basis-point products
// of amounts up to this value fit in an int64.
const MaxAmount int64 = 1_000_000_000_000

// Circle represents a rotating savings group.
type Circle struct {
	ID                 int64       `json:"id"`
	Creator            Address     `json:"creator"`
	Name               string      `json:"name"`
	ContributionAmount int64       `json:"contribution_amount"`
	Frequency          Frequency   `json:"frequency"`
	MaxMembers         int         `json:"max_members"`
	CurrentMembers     int         `json:"current_members"`
	Visibility         Visibility  `json:"visibility"`
	State              CircleState `json:"state"`
	CurrentRound       int         `json:"current_round"`
	RoundStartedAt     *time.Time  `json:"round_started_at,omitempty"`
	Pot                int64       `json:"pot"`
	VotingStartedAt    *time.Time  `json:"voting_started_at,omitempty"`
	YesVotes           int         `json:"yes_votes"`
	TotalDeposited     int64       `json:"total_deposited"`
	TotalPaidOut       int64       `json:"total_paid_out"`
	TotalRefunded      int64       `json:"total_refunded"`
	CreatedAt          time.Time   `json:"created_at"`
	ActivatedAt        *time.Time  `json:"activated_at,omitempty"`
	ClosedAt           *time.Time  `json:"closed_at,omitempty"`
}

// CreateCircleParams carries the caller-supplied circle settings.
type CreateCircleParams struct {
	Name               string     `json:"name"`
	ContributionAmount int64      `json:"contribution_amount"`
	Frequency          Frequency  `json:"frequency"`
	MaxMembers         int        `json:"max_members"`
	Visibility         Visibility `json:"visibility"`
}

// Member is one address enrolled in a circle.
type Member struct {
	Address          Address   `json:"address"`
	Position         int       `json:"position"`
	CollateralLocked int64     `json:"collateral_locked"`
	HasReceived      bool      `json:"has_received"`
	JoinedAt         time.Time `json:"joined_at"`
	JoinSeq          int       `json:"join_seq"`
	ReputationScore  int64     `json:"reputation_score"`
	Forfeits         int       `json:"forfeits"`
	LatePayments     int       `json:"late_payments"`
}

// Contribution records one member paying into one round.
type Contribution struct {
	Round  int       `json:"round"`
	Member Address   `json:"member"`
	Amount int64     `json:"amount"`
	Late   bool      `json:"late"`
	At     time.Time `json:"at"`
}

// Forfeiture records a collateral deduction for a missed round.
type Forfeiture struct {
	Round  int       `json:"round"`
	Member Address   `json:"member"`
	Amount int64     `json:"amount"`
	By     Address   `json:"by"`
	At     time.Time `json:"at"`
}

// Payout records a pot or collateral release leaving custody.
type Payout struct {
	Round     int       `json:"round"`
	Recipient Address   `json:"recipient"`
	Amount    int64     `json:"amount"`
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`
}

const (
	PayoutKindPot      = "pot"
	PayoutKindRefund   = "collateral_refund"
	PayoutKindReleased = "collateral_release"
)

// CircleAggregate is a full snapshot of one circle, used for persistence and restore.
type CircleAggregate struct {
	Circle        Circle         `json:"circle"`
	Members       []Member       `json:"members"`
	Invited       []Address      `json:"invited"`
	Voters        []Address      `json:"voters"`
	Contributions []Contribution `json:"contributions"`
	Forfeitures   []Forfeiture   `json:"forfeitures"`
	Payouts       []Payout       `json:"payouts"`
}

// RoundStatus summarizes the active round of a circle.
type RoundStatus struct {
	CircleID       int64     `json:"circle_id"`
	Round          int       `json:"round"`
	Recipient      Address   `json:"recipient"`
	StartedAt      time.Time `json:"started_at"`
	DueAt          time.Time `json:"due_at"`
	GraceUntil     time.Time `json:"grace_until"`
	Pot            int64     `json:"pot"`
	Contributed    []Address `json:"contributed"`
	Forfeited      []Address `json:"forfeited"`
	Outstanding    []Address `json:"outstanding"`
	IsOverdue      bool      `json:"is_overdue"`
	IsWithinGrace  bool      `json:"is_within_grace"`
	ForfeitAllowed bool      `json:"forfeit_allowed"`
}

// ForfeitResult reports how each listed address was handled by a forfeiture call.
type ForfeitResult struct {
	CircleID      int64     `json:"circle_id"`
	Round         int       `json:"round"`
	Forfeited     []Address `json:"forfeited"`
	Skipped       []Address `json:"skipped"`
	Deducted      int64     `json:"deducted"`
	RoundResolved bool      `json:"round_resolved"`
}

// CircleAccounting is the conservation view of a circle's custody balance.
type CircleAccounting struct {
	CircleID        int64 `json:"circle_id"`
	CollateralTotal int64 `json:"collateral_total"`
	Pot             int64 `json:"pot"`
	TotalDeposited  int64 `json:"total_deposited"`
	TotalPaidOut    int64 `json:"total_paid_out"`
	TotalRefunded   int64 `json:"total_refunded"`
	Held            int64 `json:"held"`
	Balanced        bool  `json:"balanced"`
}
