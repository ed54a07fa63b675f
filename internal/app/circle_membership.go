package app

import (
	"context"
	"strings"
	"time"

	"github.com/circlepot/rosca-service/internal/domain"
)

func (s *CircleService) validateParams(creator domain.Address, p domain.CreateCircleParams) error {
	if creator.IsZero() {
		return domain.ErrInvalidAddress
	}
	if p.ContributionAmount < s.policy.MinContribution || p.ContributionAmount > s.policy.MaxContribution {
		return domain.ErrInvalidContributionAmount
	}
	if p.MaxMembers < s.policy.MinMembers || p.MaxMembers > s.policy.MaxMembersCap {
		return domain.ErrInvalidMemberCount
	}
	if !p.Frequency.Valid() {
		return domain.ErrInvalidFrequency
	}
	if p.Visibility != domain.VisibilityPrivate && p.Visibility != domain.VisibilityPublic {
		return domain.ErrInvalidVisibility
	}
	return nil
}

// CreateCircle opens a circle with creator enrolled at position 1 and their collateral
// locked.
func (s *CircleService) CreateCircle(ctx context.Context, creator domain.Address, params domain.CreateCircleParams) (domain.Circle, error) {
	tx, err := s.create(ctx, creator, params)
	s.metrics.observeOperation(circleEngine, "create", err)
	if err != nil {
		return domain.Circle{}, err
	}
	s.finish(ctx, tx)
	s.logger.Info("circle created", "circle_id", tx.st.circle.ID, "creator", creator, "contribution_amount", params.ContributionAmount)
	return tx.st.circle, nil
}

func (s *CircleService) create(ctx context.Context, creator domain.Address, params domain.CreateCircleParams) (*circleTx, error) {
	if err := s.validateParams(creator, params); err != nil {
		return nil, err
	}
	ctx, release, err := s.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	id := s.nextID + 1
	tx := s.begin(ctx, nil)
	tx.st = newCircleState(domain.Circle{
		ID:                 id,
		Creator:            creator,
		Name:               strings.TrimSpace(params.Name),
		ContributionAmount: params.ContributionAmount,
		Frequency:          params.Frequency,
		MaxMembers:         params.MaxMembers,
		CurrentMembers:     1,
		Visibility:         params.Visibility,
		State:              domain.CircleCreated,
		CurrentRound:       0,
		CreatedAt:          tx.now,
	})

	score := s.reputationScore(ctx, creator)
	collateral := s.policy.Collateral(params.ContributionAmount, score)
	if err := tx.collect(creator, collateral); err != nil {
		return nil, err
	}
	tx.st.members = append(tx.st.members, &domain.Member{
		Address:          creator,
		Position:         1,
		CollateralLocked: collateral,
		JoinedAt:         tx.now,
		JoinSeq:          1,
		ReputationScore:  score,
	})
	tx.emit(domain.EventCircleCreated, creator, map[string]any{
		"contribution_amount": params.ContributionAmount,
		"frequency":           params.Frequency,
		"max_members":         params.MaxMembers,
		"visibility":          params.Visibility,
		"collateral":          collateral,
	})

	if err := s.commit(ctx, tx, nil); err != nil {
		return nil, err
	}
	s.nextID = id
	return tx, nil
}

// InviteMembers adds addresses to a circle's invite list. Creator only. It returns the
// number of addresses that were not already invited.
func (s *CircleService) InviteMembers(ctx context.Context, circleID int64, caller domain.Address, invitees []domain.Address) (int, error) {
	added := 0
	tx, err := s.mutate(ctx, circleID, func(tx *circleTx) error {
		c := tx.st.circle
		if caller != c.Creator {
			return domain.ErrNotCreator
		}
		if !c.State.Enrolling() {
			return domain.ErrCircleNotJoinable
		}
		var fresh []domain.Address
		for _, addr := range invitees {
			if addr.IsZero() || addr == c.Creator || tx.st.invited[addr] {
				continue
			}
			tx.st.invited[addr] = true
			fresh = append(fresh, addr)
		}
		added = len(fresh)
		if added > 0 {
			tx.emit(domain.EventCircleInvited, caller, map[string]any{"invitees": fresh})
		}
		return nil
	})
	s.metrics.observeOperation(circleEngine, "invite", err)
	if err != nil {
		return 0, err
	}
	s.finish(ctx, tx)
	return added, nil
}

// JoinCircle enrolls caller, locking collateral discounted by their reputation tier.
// A circle that fills is activated immediately.
func (s *CircleService) JoinCircle(ctx context.Context, circleID int64, caller domain.Address) (domain.Member, error) {
	if caller.IsZero() {
		return domain.Member{}, domain.ErrInvalidAddress
	}
	var joined domain.Member
	tx, err := s.mutate(ctx, circleID, func(tx *circleTx) error {
		c := &tx.st.circle
		if !c.State.Enrolling() {
			return domain.ErrCircleNotJoinable
		}
		if c.CurrentMembers >= c.MaxMembers {
			return domain.ErrCircleFull
		}
		if tx.st.member(caller) != nil {
			return domain.ErrAlreadyMember
		}
		if c.Visibility == domain.VisibilityPrivate && !tx.st.invited[caller] {
			return domain.ErrNotInvited
		}

		score := s.reputationScore(tx.ctx, caller)
		collateral := s.policy.Collateral(c.ContributionAmount, score)
		if err := tx.collect(caller, collateral); err != nil {
			return err
		}

		m := &domain.Member{
			Address:          caller,
			CollateralLocked: collateral,
			JoinedAt:         tx.now,
			JoinSeq:          len(tx.st.members) + 1,
			ReputationScore:  score,
		}
		tx.st.members = append(tx.st.members, m)
		c.CurrentMembers++
		tx.st.assignPositions(s.policy.PositionWeight)
		tx.emit(domain.EventCircleMemberJoined, caller, map[string]any{
			"collateral":       collateral,
			"reputation_score": score,
			"current_members":  c.CurrentMembers,
		})

		if c.CurrentMembers == c.MaxMembers {
			s.activate(tx, "filled")
		}
		joined = *m
		return nil
	})
	s.metrics.observeOperation(circleEngine, "join", err)
	if err != nil {
		return domain.Member{}, err
	}
	s.finish(ctx, tx)
	s.logger.Info("member joined circle", "circle_id", circleID, "member", caller, "position", joined.Position)
	return joined, nil
}

// activate freezes positions over the current members and starts round 1.
func (s *CircleService) activate(tx *circleTx, reason string) {
	c := &tx.st.circle
	tx.st.assignPositions(s.policy.PositionWeight)
	now := tx.now
	c.State = domain.CircleActive
	c.ActivatedAt = &now
	c.RoundStartedAt = &now
	c.CurrentRound = 1
	c.Pot = 0

	positions := make(map[string]int, len(tx.st.members))
	for _, m := range tx.st.members {
		positions[string(m.Address)] = m.Position
	}
	tx.emit(domain.EventCircleActivated, "", map[string]any{
		"reason":    reason,
		"members":   c.CurrentMembers,
		"positions": positions,
	})
}

// CancelCircle closes a circle that never activated and refunds all collateral. The
// creator may cancel at any time; other members and keepers only once the enrollment
// timeout has passed.
func (s *CircleService) CancelCircle(ctx context.Context, circleID int64, caller domain.Address) (domain.Circle, error) {
	tx, err := s.mutate(ctx, circleID, func(tx *circleTx) error {
		c := &tx.st.circle
		if !c.State.Enrolling() {
			return domain.ErrCircleNotCancellable
		}
		if caller != c.Creator {
			allowed := tx.st.member(caller) != nil || s.isKeeper(caller)
			if !allowed || tx.now.Before(s.abandonedAt(*c)) {
				return domain.ErrNotCreator
			}
		}
		for _, m := range tx.st.byPosition() {
			tx.pay(m.Address, m.CollateralLocked, domain.PayoutKindRefund)
			m.CollateralLocked = 0
		}
		now := tx.now
		c.State = domain.CircleCancelled
		c.ClosedAt = &now
		tx.emit(domain.EventCircleCancelled, caller, map[string]any{
			"refunded": c.TotalRefunded,
			"members":  c.CurrentMembers,
		})
		return nil
	})
	s.metrics.observeOperation(circleEngine, "cancel", err)
	if err != nil {
		return domain.Circle{}, err
	}
	s.finish(ctx, tx)
	s.logger.Info("circle cancelled", "circle_id", circleID, "by", caller)
	return tx.st.circle, nil
}

func (s *CircleService) abandonedAt(c domain.Circle) time.Time {
	return c.CreatedAt.Add(s.policy.EnrollmentTimeout)
}
