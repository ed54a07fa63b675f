package app

import (
	"context"

	"github.com/circlepot/rosca-service/internal/domain"
)

// InitiateVoting opens an early-start vote on an under-filled circle.
func (s *CircleService) InitiateVoting(ctx context.Context, circleID int64, caller domain.Address) (domain.Circle, error) {
	tx, err := s.mutate(ctx, circleID, func(tx *circleTx) error {
		c := &tx.st.circle
		if tx.st.member(caller) == nil {
			return domain.ErrNotMember
		}
		switch c.State {
		case domain.CircleCreated:
		case domain.CircleOpen:
			return domain.ErrVotingAlreadyOpen
		default:
			return domain.ErrCircleNotJoinable
		}
		if c.CurrentMembers >= c.MaxMembers {
			return domain.ErrCircleFull
		}
		if tx.now.Before(c.CreatedAt.Add(s.policy.VotingDelay)) {
			return domain.ErrVotingTooEarly
		}
		if c.CurrentMembers < s.policy.MinMembersToStart {
			return domain.ErrNotEnoughMembers
		}
		now := tx.now
		c.State = domain.CircleOpen
		c.VotingStartedAt = &now
		c.YesVotes = 0
		tx.st.voters = make(map[domain.Address]bool)
		tx.emit(domain.EventCircleVotingOpened, caller, map[string]any{"current_members": c.CurrentMembers})
		return nil
	})
	s.metrics.observeOperation(circleEngine, "initiate_voting", err)
	if err != nil {
		return domain.Circle{}, err
	}
	s.finish(ctx, tx)
	return tx.st.circle, nil
}

// VoteToStart records caller's yes vote. A strict majority of the current members
// activates the circle with exactly those members.
func (s *CircleService) VoteToStart(ctx context.Context, circleID int64, caller domain.Address) (domain.Circle, error) {
	tx, err := s.mutate(ctx, circleID, func(tx *circleTx) error {
		c := &tx.st.circle
		if tx.st.member(caller) == nil {
			return domain.ErrNotMember
		}
		if c.State != domain.CircleOpen {
			return domain.ErrVotingNotOpen
		}
		if tx.st.voters[caller] {
			return domain.ErrAlreadyVoted
		}
		tx.st.voters[caller] = true
		c.YesVotes++
		tx.emit(domain.EventCircleVoteCast, caller, map[string]any{
			"yes_votes":       c.YesVotes,
			"current_members": c.CurrentMembers,
		})
		if quorumReached(c.YesVotes, c.CurrentMembers) {
			s.activate(tx, "voted")
		}
		return nil
	})
	s.metrics.observeOperation(circleEngine, "vote", err)
	if err != nil {
		return domain.Circle{}, err
	}
	s.finish(ctx, tx)
	if tx.st.circle.State == domain.CircleActive {
		s.logger.Info("circle activated by vote", "circle_id", circleID, "members", tx.st.circle.CurrentMembers)
	}
	return tx.st.circle, nil
}

func quorumReached(yes, members int) bool {
	return yes*2 > members
}
