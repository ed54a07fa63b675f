/**
 * @description
 * GoalService runs personal savings goals: periodic contributions toward a target,
 * completion, and early withdrawal with a progress-based penalty sent to the treasury.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/circlepot/rosca-service/internal/domain"
)

const goalEngine = "goal"

// GoalStore persists goals and the penalty treasury.
type GoalStore interface {
	SaveGoal(ctx context.Context, goal domain.Goal) error
	LoadGoals(ctx context.Context) ([]domain.Goal, error)
	SaveTreasury(ctx context.Context, treasury domain.Address) error
	// LoadTreasury returns an empty address when none was saved.
	LoadTreasury(ctx context.Context) (domain.Address, error)
}

// GoalServiceConfig carries the identities a GoalService is built with.
type GoalServiceConfig struct {
	Address  domain.Address
	Owner    domain.Address
	Treasury domain.Address
}

type GoalService struct {
	guard      guard
	goals      map[int64]*domain.Goal
	nextID     int64
	address    domain.Address
	owner      domain.Address
	treasury   domain.Address
	ledger     AssetLedger
	reputation ReputationEngine
	repo       GoalStore
	events     EventSink
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewGoalService(cfg GoalServiceConfig, ledger AssetLedger, reputation ReputationEngine, repo GoalStore, events EventSink, metrics *Metrics, logger *slog.Logger) *GoalService {
	if events == nil {
		events = discardEvents{}
	}
	return &GoalService{
		guard:      guard{engine: goalEngine},
		goals:      make(map[int64]*domain.Goal),
		address:    cfg.Address,
		owner:      cfg.Owner,
		treasury:   cfg.Treasury,
		ledger:     ledger,
		reputation: reputation,
		repo:       repo,
		events:     events,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *GoalService) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	ctx, release, err := s.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	goals, err := s.repo.LoadGoals(ctx)
	if err != nil {
		return fmt.Errorf("failed to load goals: %w", err)
	}
	for i := range goals {
		g := goals[i]
		s.goals[g.ID] = &g
		if g.ID > s.nextID {
			s.nextID = g.ID
		}
	}
	treasury, err := s.repo.LoadTreasury(ctx)
	if err != nil {
		return fmt.Errorf("failed to load treasury: %w", err)
	}
	if !treasury.IsZero() {
		s.treasury = treasury
	}
	s.logger.Info("restored goals", "count", len(goals), "treasury", s.treasury)
	return nil
}

// SetTreasury changes where withdrawal penalties are paid. Owner only. The choice is
// saved and survives restarts.
func (s *GoalService) SetTreasury(ctx context.Context, owner, treasury domain.Address) error {
	if owner != s.owner {
		return domain.ErrNotOwner
	}
	if treasury.IsZero() {
		return domain.ErrInvalidAddress
	}
	_, release, err := s.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	if s.repo != nil {
		if err := s.repo.SaveTreasury(ctx, treasury); err != nil {
			return err
		}
	}
	s.treasury = treasury
	s.logger.Info("goal treasury changed", "treasury", treasury)
	return nil
}

func (s *GoalService) Treasury() domain.Address {
	s.guard.mu.Lock()
	defer s.guard.mu.Unlock()
	return s.treasury
}

func (s *GoalService) CreateGoal(ctx context.Context, owner domain.Address, params domain.CreateGoalParams) (domain.Goal, error) {
	goal, err := s.createGoal(ctx, owner, params)
	s.metrics.observeOperation(goalEngine, "create", err)
	if err != nil {
		return domain.Goal{}, err
	}
	s.events.Emit(ctx, newEvent(domain.EventGoalCreated, goal.ID, owner, goal.CreatedAt, map[string]any{
		"target_amount":       goal.TargetAmount,
		"contribution_amount": goal.ContributionAmount,
		"frequency":           goal.Frequency,
		"deadline":            goal.Deadline,
	}))
	return goal, nil
}

func (s *GoalService) createGoal(ctx context.Context, owner domain.Address, p domain.CreateGoalParams) (domain.Goal, error) {
	if owner.IsZero() {
		return domain.Goal{}, domain.ErrInvalidAddress
	}
	if p.TargetAmount <= 0 || p.TargetAmount > domain.MaxAmount || p.ContributionAmount <= 0 || p.ContributionAmount > p.TargetAmount {
		return domain.Goal{}, domain.ErrInvalidGoalAmount
	}
	if !p.Frequency.Valid() {
		return domain.Goal{}, domain.ErrInvalidFrequency
	}
	ctx, release, err := s.guard.enter(ctx)
	if err != nil {
		return domain.Goal{}, err
	}
	defer release()

	now := s.now()
	if !p.Deadline.After(now) {
		return domain.Goal{}, domain.ErrDeadlineInPast
	}
	goal := domain.Goal{
		ID:                 s.nextID + 1,
		Owner:              owner,
		Name:               strings.TrimSpace(p.Name),
		TargetAmount:       p.TargetAmount,
		ContributionAmount: p.ContributionAmount,
		Frequency:          p.Frequency,
		Deadline:           p.Deadline,
		State:              domain.GoalActive,
		CreatedAt:          now,
	}
	if err := s.save(ctx, goal); err != nil {
		return domain.Goal{}, err
	}
	s.goals[goal.ID] = &goal
	s.nextID = goal.ID
	return goal, nil
}

// goalTx is the working copy of one goal during an operation.
type goalTx struct {
	ctx    context.Context
	now    time.Time
	goal   domain.Goal
	settle *settlement
}

func (s *GoalService) mutate(ctx context.Context, goalID int64, caller domain.Address, fn func(tx *goalTx) error) (domain.Goal, error) {
	ctx, release, err := s.guard.enter(ctx)
	if err != nil {
		return domain.Goal{}, err
	}
	defer release()

	prev, ok := s.goals[goalID]
	if !ok {
		return domain.Goal{}, domain.ErrGoalNotFound
	}
	if prev.Owner != caller {
		return domain.Goal{}, domain.ErrNotGoalOwner
	}
	if prev.State != domain.GoalActive {
		return domain.Goal{}, domain.ErrGoalNotActive
	}
	tx := &goalTx{
		ctx:  ctx,
		now:  s.now(),
		goal: *prev,
		settle: &settlement{
			ledger:  s.ledger,
			logger:  s.logger,
			metrics: s.metrics,
			engine:  goalEngine,
		},
	}
	if err := fn(tx); err != nil {
		tx.settle.compensate(ctx)
		return domain.Goal{}, err
	}
	if err := s.save(ctx, tx.goal); err != nil {
		tx.settle.compensate(ctx)
		return domain.Goal{}, err
	}
	next := tx.goal
	s.goals[goalID] = &next
	if err := tx.settle.payOut(ctx); err != nil {
		s.goals[goalID] = prev
		if serr := s.save(ctx, *prev); serr != nil {
			s.logger.Error("failed to restore goal after payout failure", "goal_id", goalID, "error", serr)
		}
		tx.settle.compensate(ctx)
		return domain.Goal{}, err
	}
	return next, nil
}

func (s *GoalService) save(ctx context.Context, goal domain.Goal) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.SaveGoal(ctx, goal); err != nil {
		return fmt.Errorf("failed to save goal %d: %w", goal.ID, err)
	}
	return nil
}

// ContributeToGoal pays one period's contribution, capped at the amount still missing.
func (s *GoalService) ContributeToGoal(ctx context.Context, goalID int64, caller domain.Address) (domain.Goal, error) {
	var paid int64
	goal, err := s.mutate(ctx, goalID, caller, func(tx *goalTx) error {
		g := &tx.goal
		if g.TargetReached() {
			return domain.ErrGoalTargetReached
		}
		if g.LastContributionAt != nil && tx.now.Before(g.LastContributionAt.Add(g.Frequency.Period())) {
			return domain.ErrContributionTooSoon
		}
		paid = g.ContributionAmount
		if remaining := g.TargetAmount - g.CurrentAmount; paid > remaining {
			paid = remaining
		}
		if err := tx.settle.collect(tx.ctx, caller, paid); err != nil {
			return err
		}
		now := tx.now
		g.CurrentAmount += paid
		g.Contributions++
		g.LastContributionAt = &now
		return nil
	})
	s.metrics.observeOperation(goalEngine, "contribute", err)
	if err != nil {
		return domain.Goal{}, err
	}
	s.events.Emit(ctx, newEvent(domain.EventGoalContribution, goal.ID, caller, *goal.LastContributionAt, map[string]any{
		"amount":         paid,
		"current_amount": goal.CurrentAmount,
		"target_reached": goal.TargetReached(),
	}))
	return goal, nil
}

// WithdrawFromGoal closes the goal early, paying the balance minus the penalty for its
// progress bucket. The penalty goes to the treasury.
func (s *GoalService) WithdrawFromGoal(ctx context.Context, goalID int64, caller domain.Address) (domain.WithdrawalQuote, error) {
	var quote domain.WithdrawalQuote
	goal, err := s.mutate(ctx, goalID, caller, func(tx *goalTx) error {
		g := &tx.goal
		if g.CurrentAmount <= 0 {
			return domain.ErrNothingToWithdraw
		}
		quote = QuoteWithdrawal(*g)
		tx.settle.queue(s.treasury, quote.Penalty)
		tx.settle.queue(g.Owner, quote.Payout)
		now := tx.now
		g.PenaltyPaid = quote.Penalty
		g.CurrentAmount = 0
		g.State = domain.GoalWithdrawn
		g.ClosedAt = &now
		return nil
	})
	s.metrics.observeOperation(goalEngine, "withdraw", err)
	if err != nil {
		return domain.WithdrawalQuote{}, err
	}
	s.events.Emit(ctx, newEvent(domain.EventGoalWithdrawn, goal.ID, caller, *goal.ClosedAt, map[string]any{
		"penalty":     quote.Penalty,
		"penalty_bps": quote.PenaltyBps,
		"payout":      quote.Payout,
		"treasury":    s.treasury,
	}))
	s.logger.Info("goal withdrawn", "goal_id", goal.ID, "owner", caller, "penalty", quote.Penalty, "payout", quote.Payout)
	return quote, nil
}

// CompleteGoal pays out the full balance once the target is reached or the deadline has
// passed.
func (s *GoalService) CompleteGoal(ctx context.Context, goalID int64, caller domain.Address) (domain.Goal, int64, error) {
	var paid int64
	var reached bool
	goal, err := s.mutate(ctx, goalID, caller, func(tx *goalTx) error {
		g := &tx.goal
		reached = g.TargetReached()
		if !reached && tx.now.Before(g.Deadline) {
			return domain.ErrGoalNotCompletable
		}
		paid = g.CurrentAmount
		tx.settle.queue(g.Owner, paid)
		now := tx.now
		g.CurrentAmount = 0
		g.State = domain.GoalCompleted
		g.ClosedAt = &now
		return nil
	})
	s.metrics.observeOperation(goalEngine, "complete", err)
	if err != nil {
		return domain.Goal{}, 0, err
	}
	if reached && s.reputation != nil {
		if err := s.reputation.RecordGoalCompleted(ctx, s.address, caller, goal.ID); err != nil {
			s.metrics.observeNotifyFailure("goal_completed")
			s.logger.Warn("reputation update failed", "kind", "goal_completed", "goal_id", goal.ID, "error", err)
		}
	}
	s.events.Emit(ctx, newEvent(domain.EventGoalCompleted, goal.ID, caller, *goal.ClosedAt, map[string]any{
		"amount":         paid,
		"target_reached": reached,
	}))
	s.logger.Info("goal completed", "goal_id", goal.ID, "owner", caller, "amount", paid)
	return goal, paid, nil
}

func (s *GoalService) GetGoal(ctx context.Context, goalID int64) (domain.Goal, error) {
	_, release, err := s.guard.enter(ctx)
	if err != nil {
		return domain.Goal{}, err
	}
	defer release()
	g, ok := s.goals[goalID]
	if !ok {
		return domain.Goal{}, domain.ErrGoalNotFound
	}
	return *g, nil
}

// ListGoals returns the owner's goals by ID.
func (s *GoalService) ListGoals(ctx context.Context, owner domain.Address) ([]domain.Goal, error) {
	_, release, err := s.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	out := []domain.Goal{}
	for _, g := range s.goals {
		if owner.IsZero() || g.Owner == owner {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PenaltyFor quotes an early withdrawal of the goal as it stands.
func (s *GoalService) PenaltyFor(ctx context.Context, goalID int64) (domain.WithdrawalQuote, error) {
	g, err := s.GetGoal(ctx, goalID)
	if err != nil {
		return domain.WithdrawalQuote{}, err
	}
	return QuoteWithdrawal(g), nil
}
