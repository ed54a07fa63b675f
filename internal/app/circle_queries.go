package app

import (
	"context"
	"sort"
	"time"

	"github.com/circlepot/rosca-service/internal/domain"
)

// CircleFilter narrows ListCircles. Zero fields match everything.
type CircleFilter struct {
	State  domain.CircleState
	Member domain.Address
}

// read runs fn under the engine lock without a working copy.
func (s *CircleService) read(ctx context.Context, circleID int64, fn func(st *circleState) error) error {
	_, release, err := s.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	st, ok := s.circles[circleID]
	if !ok {
		return domain.ErrCircleNotFound
	}
	return fn(st)
}

func (s *CircleService) GetCircle(ctx context.Context, circleID int64) (domain.Circle, error) {
	var out domain.Circle
	err := s.read(ctx, circleID, func(st *circleState) error {
		out = st.circle
		return nil
	})
	return out, err
}

func (s *CircleService) ListCircles(ctx context.Context, filter CircleFilter) ([]domain.Circle, error) {
	_, release, err := s.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]domain.Circle, 0, len(s.circles))
	for _, st := range s.circles {
		if filter.State != "" && st.circle.State != filter.State {
			continue
		}
		if !filter.Member.IsZero() && st.member(filter.Member) == nil {
			continue
		}
		out = append(out, st.circle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Members returns the circle's members in payout order.
func (s *CircleService) Members(ctx context.Context, circleID int64) ([]domain.Member, error) {
	var out []domain.Member
	err := s.read(ctx, circleID, func(st *circleState) error {
		for _, m := range st.byPosition() {
			out = append(out, *m)
		}
		return nil
	})
	return out, err
}

func (s *CircleService) Member(ctx context.Context, circleID int64, addr domain.Address) (domain.Member, error) {
	var out domain.Member
	err := s.read(ctx, circleID, func(st *circleState) error {
		m := st.member(addr)
		if m == nil {
			return domain.ErrNotMember
		}
		out = *m
		return nil
	})
	return out, err
}

func (s *CircleService) Invited(ctx context.Context, circleID int64) ([]domain.Address, error) {
	var out []domain.Address
	err := s.read(ctx, circleID, func(st *circleState) error {
		out = st.aggregate().Invited
		return nil
	})
	return out, err
}

// RoundStatus describes the active round.
func (s *CircleService) RoundStatus(ctx context.Context, circleID int64) (domain.RoundStatus, error) {
	var out domain.RoundStatus
	err := s.read(ctx, circleID, func(st *circleState) error {
		if st.circle.State != domain.CircleActive {
			return domain.ErrCircleNotActive
		}
		out = s.roundStatus(st, s.now())
		return nil
	})
	return out, err
}

func (s *CircleService) roundStatus(st *circleState, now time.Time) domain.RoundStatus {
	c := st.circle
	round := c.CurrentRound
	dueAt, graceUntil := s.policy.RoundWindow(c.Frequency, *c.RoundStartedAt)
	status := domain.RoundStatus{
		CircleID:       c.ID,
		Round:          round,
		StartedAt:      *c.RoundStartedAt,
		DueAt:          dueAt,
		GraceUntil:     graceUntil,
		Pot:            c.Pot,
		Outstanding:    st.outstanding(),
		IsOverdue:      now.After(dueAt),
		IsWithinGrace:  now.After(dueAt) && !now.After(graceUntil),
		ForfeitAllowed: now.After(graceUntil),
	}
	if r := st.recipient(); r != nil {
		status.Recipient = r.Address
	}
	for _, m := range st.byPosition() {
		if st.contributed(round, m.Address) {
			status.Contributed = append(status.Contributed, m.Address)
		}
		if st.forfeited(round, m.Address) {
			status.Forfeited = append(status.Forfeited, m.Address)
		}
	}
	return status
}

// HasContributed reports whether member paid into the given round.
func (s *CircleService) HasContributed(ctx context.Context, circleID int64, round int, member domain.Address) (bool, error) {
	var out bool
	err := s.read(ctx, circleID, func(st *circleState) error {
		out = st.contributed(round, member)
		return nil
	})
	return out, err
}

// Contributions lists the contributions recorded for a round.
func (s *CircleService) Contributions(ctx context.Context, circleID int64, round int) ([]domain.Contribution, error) {
	var out []domain.Contribution
	err := s.read(ctx, circleID, func(st *circleState) error {
		for _, c := range st.aggregate().Contributions {
			if c.Round == round {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}

func (s *CircleService) Payouts(ctx context.Context, circleID int64) ([]domain.Payout, error) {
	var out []domain.Payout
	err := s.read(ctx, circleID, func(st *circleState) error {
		out = append(out, st.payouts...)
		return nil
	})
	return out, err
}

// Accounting reports the circle's custody balance against its locked collateral and pot.
func (s *CircleService) Accounting(ctx context.Context, circleID int64) (domain.CircleAccounting, error) {
	var out domain.CircleAccounting
	err := s.read(ctx, circleID, func(st *circleState) error {
		out = accountingOf(st)
		return nil
	})
	return out, err
}

func accountingOf(st *circleState) domain.CircleAccounting {
	c := st.circle
	acc := domain.CircleAccounting{
		CircleID:        c.ID,
		CollateralTotal: st.collateralTotal(),
		Pot:             c.Pot,
		TotalDeposited:  c.TotalDeposited,
		TotalPaidOut:    c.TotalPaidOut,
		TotalRefunded:   c.TotalRefunded,
		Held:            c.TotalDeposited - c.TotalPaidOut - c.TotalRefunded,
	}
	acc.Balanced = acc.Held == acc.CollateralTotal+acc.Pot
	return acc
}

// OverdueCircles lists active circles whose grace window has passed with members
// still outstanding.
func (s *CircleService) OverdueCircles(ctx context.Context, now time.Time) ([]int64, error) {
	_, release, err := s.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var out []int64
	for id, st := range s.circles {
		if st.circle.State != domain.CircleActive {
			continue
		}
		_, graceUntil := s.policy.RoundWindow(st.circle.Frequency, *st.circle.RoundStartedAt)
		if now.After(graceUntil) && len(st.outstanding()) > 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// AbandonedCircles lists circles still enrolling after the enrollment timeout.
func (s *CircleService) AbandonedCircles(ctx context.Context, now time.Time) ([]int64, error) {
	_, release, err := s.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var out []int64
	for id, st := range s.circles {
		if st.circle.State.Enrolling() && !now.Before(s.abandonedAt(st.circle)) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// RequiredCollateral is what addr would lock to join the circle now.
func (s *CircleService) RequiredCollateral(ctx context.Context, circleID int64, addr domain.Address) (int64, error) {
	var out int64
	err := s.read(ctx, circleID, func(st *circleState) error {
		score := s.reputationScore(ctx, addr)
		out = s.policy.Collateral(st.circle.ContributionAmount, score)
		return nil
	})
	return out, err
}
