/**
 * @description
 * Round state machine for active circles: contributions, forfeiture of late members,
 * pot payout and completion.
 *
 * @notes
 * - The round recipient never pays into their own round and can never be forfeited for it.
 * - A round resolves as soon as every other member has paid or been forfeited.
 */
package app

import (
	"context"

	"github.com/circlepot/rosca-service/internal/domain"
)

// Contribute pays the round contribution from caller into the pot.
func (s *CircleService) Contribute(ctx context.Context, circleID int64, caller domain.Address) (domain.Contribution, error) {
	var made domain.Contribution
	tx, err := s.mutate(ctx, circleID, func(tx *circleTx) error {
		c := &tx.st.circle
		if c.State != domain.CircleActive {
			return domain.ErrCircleNotActive
		}
		m := tx.st.member(caller)
		if m == nil {
			return domain.ErrNotMember
		}
		round := c.CurrentRound
		if m.Position == round {
			return domain.ErrRecipientCannotContribute
		}
		if tx.st.contributed(round, caller) {
			return domain.ErrAlreadyContributed
		}
		if tx.st.forfeited(round, caller) {
			return domain.ErrAlreadyForfeited
		}

		if err := tx.collect(caller, c.ContributionAmount); err != nil {
			return err
		}
		dueAt, _ := s.policy.RoundWindow(c.Frequency, *c.RoundStartedAt)
		made = domain.Contribution{
			Round:  round,
			Member: caller,
			Amount: c.ContributionAmount,
			Late:   tx.now.After(dueAt),
			At:     tx.now,
		}
		tx.st.contributions[roundKey{round: round, member: caller}] = made
		c.Pot += c.ContributionAmount

		if made.Late {
			m.LatePayments++
			tx.notify(notice{kind: noticeLate, user: caller})
		} else if s.policy.OnTimeBonus > 0 {
			tx.notify(notice{kind: noticeIncrease, user: caller, delta: s.policy.OnTimeBonus, reason: domain.ReasonOnTimeContribution})
		}
		tx.emit(domain.EventCircleContribution, caller, map[string]any{
			"round":  round,
			"amount": c.ContributionAmount,
			"late":   made.Late,
			"pot":    c.Pot,
		})
		s.resolveRound(tx)
		return nil
	})
	s.metrics.observeOperation(circleEngine, "contribute", err)
	if err != nil {
		return domain.Contribution{}, err
	}
	s.finish(ctx, tx)
	s.logger.Info("contribution recorded", "circle_id", circleID, "round", made.Round, "member", caller, "late", made.Late)
	return made, nil
}

// ForfeitMember deducts the missed contribution plus penalty from the collateral of each
// listed member who has not paid this round. Entries naming the recipient, a member who
// already paid or was already forfeited, or a non-member are skipped.
func (s *CircleService) ForfeitMember(ctx context.Context, circleID int64, caller domain.Address, lateMembers []domain.Address) (domain.ForfeitResult, error) {
	var result domain.ForfeitResult
	tx, err := s.mutate(ctx, circleID, func(tx *circleTx) error {
		c := &tx.st.circle
		if tx.st.member(caller) == nil && !s.isKeeper(caller) {
			return domain.ErrNotMember
		}
		if c.State != domain.CircleActive {
			return domain.ErrCircleNotActive
		}
		_, graceUntil := s.policy.RoundWindow(c.Frequency, *c.RoundStartedAt)
		if !tx.now.After(graceUntil) {
			return domain.ErrGracePeriodActive
		}

		round := c.CurrentRound
		result = domain.ForfeitResult{CircleID: c.ID, Round: round}
		seen := make(map[domain.Address]bool, len(lateMembers))
		for _, addr := range lateMembers {
			if seen[addr] {
				continue
			}
			seen[addr] = true

			m := tx.st.member(addr)
			if m == nil || m.Position == round || tx.st.contributed(round, addr) || tx.st.forfeited(round, addr) {
				result.Skipped = append(result.Skipped, addr)
				continue
			}

			charge := s.policy.ForfeitCharge(c.ContributionAmount, m.CollateralLocked)
			m.CollateralLocked -= charge
			m.Forfeits++
			m.LatePayments++
			c.Pot += charge
			tx.st.forfeitures[roundKey{round: round, member: addr}] = domain.Forfeiture{
				Round:  round,
				Member: addr,
				Amount: charge,
				By:     caller,
				At:     tx.now,
			}
			result.Forfeited = append(result.Forfeited, addr)
			result.Deducted += charge

			tx.notify(notice{kind: noticeLate, user: addr})
			tx.notify(notice{kind: noticeForfeit, user: addr})
			tx.emit(domain.EventCircleForfeited, caller, map[string]any{
				"round":                round,
				"member":               addr,
				"amount":               charge,
				"collateral_remaining": m.CollateralLocked,
			})
		}
		if len(result.Forfeited) > 0 {
			result.RoundResolved = s.resolveRound(tx)
		}
		return nil
	})
	s.metrics.observeOperation(circleEngine, "forfeit", err)
	if err != nil {
		return domain.ForfeitResult{}, err
	}
	s.finish(ctx, tx)
	if len(result.Forfeited) > 0 {
		s.logger.Info("members forfeited", "circle_id", circleID, "round", result.Round, "count", len(result.Forfeited), "deducted", result.Deducted)
	}
	return result, nil
}

// resolveRound pays the pot to the recipient and advances the round once every other
// member is settled. It reports whether the round advanced.
func (s *CircleService) resolveRound(tx *circleTx) bool {
	st := tx.st
	c := &st.circle
	if len(st.outstanding()) > 0 {
		return false
	}

	round := c.CurrentRound
	pot := c.Pot
	if recipient := st.recipient(); recipient != nil {
		recipient.HasReceived = true
		tx.pay(recipient.Address, pot, domain.PayoutKindPot)
		tx.emit(domain.EventCirclePayout, "", map[string]any{
			"round":     round,
			"recipient": recipient.Address,
			"amount":    pot,
		})
	}
	c.Pot = 0
	c.CurrentRound++
	now := tx.now
	c.RoundStartedAt = &now

	if c.CurrentRound > c.CurrentMembers {
		s.complete(tx)
	}
	return true
}

// complete releases all remaining collateral and rewards members who never forfeited.
func (s *CircleService) complete(tx *circleTx) {
	c := &tx.st.circle
	var released int64
	for _, m := range tx.st.byPosition() {
		released += m.CollateralLocked
		tx.pay(m.Address, m.CollateralLocked, domain.PayoutKindReleased)
		m.CollateralLocked = 0
		if m.Forfeits == 0 && s.policy.CircleCompletedBonus > 0 {
			tx.notify(notice{kind: noticeIncrease, user: m.Address, delta: s.policy.CircleCompletedBonus, reason: domain.ReasonCircleCompleted})
		}
	}
	now := tx.now
	c.State = domain.CircleCompleted
	c.ClosedAt = &now
	tx.emit(domain.EventCircleCompleted, "", map[string]any{
		"rounds":              c.CurrentMembers,
		"collateral_released": released,
		"total_paid_out":      c.TotalPaidOut,
	})
}
