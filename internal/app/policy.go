package app

import (
	"time"

	"github.com/circlepot/rosca-service/internal/domain"
)

// Policy holds the tunable rules of the circle engine.
type Policy struct {
	MinContribution         int64
	MaxContribution         int64
	MinMembers              int
	MaxMembersCap           int
	CollateralMultiplierBps int64
	TierDiscountBps         map[domain.Tier]int64
	ForfeitPenaltyBps       int64
	VotingDelay             time.Duration
	MinMembersToStart       int
	GracePeriods            map[domain.Frequency]time.Duration
	EnrollmentTimeout       time.Duration
	OnTimeBonus             int64
	CircleCompletedBonus    int64
	// PositionWeight orders members for payout; higher weight pays out earlier.
	// It must be non-decreasing in score.
	PositionWeight func(score int64) int64
}

// maxCollateralMultiplierBps caps the bond at ten contributions.
const maxCollateralMultiplierBps = 100000

func DefaultPolicy() Policy {
	return Policy{
		MinContribution:         100,
		MaxContribution:         domain.MaxAmount,
		MinMembers:              4,
		MaxMembersCap:           100,
		CollateralMultiplierBps: 20000,
		TierDiscountBps: map[domain.Tier]int64{
			domain.TierBronze:   0,
			domain.TierSilver:   1000,
			domain.TierGold:     2500,
			domain.TierPlatinum: 4000,
		},
		ForfeitPenaltyBps: 100,
		VotingDelay:       72 * time.Hour,
		MinMembersToStart: 2,
		GracePeriods: map[domain.Frequency]time.Duration{
			domain.FrequencyDaily:   12 * time.Hour,
			domain.FrequencyWeekly:  48 * time.Hour,
			domain.FrequencyMonthly: 5 * 24 * time.Hour,
		},
		EnrollmentTimeout:    30 * 24 * time.Hour,
		OnTimeBonus:          2,
		CircleCompletedBonus: 25,
		PositionWeight:       func(score int64) int64 { return score },
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MinContribution <= 0 {
		p.MinContribution = d.MinContribution
	}
	if p.MinMembers < 2 {
		p.MinMembers = d.MinMembers
	}
	if p.MaxMembersCap < p.MinMembers {
		p.MaxMembersCap = d.MaxMembersCap
	}
	if p.MaxContribution <= 0 || p.MaxContribution > domain.MaxAmount {
		p.MaxContribution = d.MaxContribution
	}
	if p.CollateralMultiplierBps <= 0 || p.CollateralMultiplierBps > maxCollateralMultiplierBps {
		p.CollateralMultiplierBps = d.CollateralMultiplierBps
	}
	if p.TierDiscountBps == nil {
		p.TierDiscountBps = d.TierDiscountBps
	}
	if p.ForfeitPenaltyBps < 0 || p.ForfeitPenaltyBps > 10000 {
		p.ForfeitPenaltyBps = d.ForfeitPenaltyBps
	}
	if p.VotingDelay < 0 {
		p.VotingDelay = d.VotingDelay
	}
	if p.MinMembersToStart < 2 {
		p.MinMembersToStart = d.MinMembersToStart
	}
	if p.GracePeriods == nil {
		p.GracePeriods = d.GracePeriods
	}
	if p.EnrollmentTimeout <= 0 {
		p.EnrollmentTimeout = d.EnrollmentTimeout
	}
	if p.PositionWeight == nil {
		p.PositionWeight = d.PositionWeight
	}
	return p
}

// BaseCollateral is the undiscounted bond for a contribution amount.
func (p Policy) BaseCollateral(contribution int64) int64 {
	return contribution * p.CollateralMultiplierBps / 10000
}

// Collateral is the bond required from a member with the given reputation score.
func (p Policy) Collateral(contribution, score int64) int64 {
	base := p.BaseCollateral(contribution)
	discount := p.TierDiscountBps[domain.TierFor(score)]
	if discount < 0 {
		discount = 0
	}
	if discount > 10000 {
		discount = 10000
	}
	return base - base*discount/10000
}

// ForfeitCharge is what a missed round costs, capped at the remaining collateral.
func (p Policy) ForfeitCharge(contribution, collateral int64) int64 {
	charge := contribution + contribution*p.ForfeitPenaltyBps/10000
	if charge > collateral {
		return collateral
	}
	return charge
}

func (p Policy) GracePeriod(f domain.Frequency) time.Duration {
	return p.GracePeriods[f]
}

// RoundWindow returns when a round's contributions are due and when its grace ends.
func (p Policy) RoundWindow(f domain.Frequency, startedAt time.Time) (dueAt, graceUntil time.Time) {
	dueAt = startedAt.Add(f.Period())
	return dueAt, dueAt.Add(p.GracePeriod(f))
}
