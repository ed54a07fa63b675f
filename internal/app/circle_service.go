/**
 * @description
 * CircleService runs the savings-circle state machine: enrollment, early-start voting,
 * round contributions, forfeiture and payout rotation.
 *
 * Key features:
 * - Circles live in an in-memory arena keyed by a monotonic ID and are written through
 *   to the repository as whole aggregates after every change.
 * - Every operation works on a copy of the circle. Funds flowing in are collected before
 *   the copy is committed; funds flowing out are paid after. A failure at any step
 *   restores the previous circle and returns collected funds.
 * - Reputation notifications, events and metrics run after the commit and never fail the
 *   operation.
 *
 * @dependencies
 * - internal/domain: circle models and errors.
 * - log/slog: structured logging.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/circlepot/rosca-service/internal/domain"
)

const circleEngine = "circle"

// CircleStore persists circle aggregates and the keeper allowlist.
type CircleStore interface {
	SaveCircle(ctx context.Context, agg domain.CircleAggregate) error
	LoadCircles(ctx context.Context) ([]domain.CircleAggregate, error)
	SaveAuthorization(ctx context.Context, role string, addr domain.Address, authorized bool) error
	LoadAuthorizations(ctx context.Context, role string) ([]domain.Address, error)
}

// CircleServiceConfig carries the identities and rules a CircleService is built with.
type CircleServiceConfig struct {
	// Address identifies the engine when it calls the reputation engine.
	Address domain.Address
	Owner   domain.Address
	Keepers []domain.Address
	Policy  Policy
}

// CircleService owns every circle.
type CircleService struct {
	guard      guard
	circles    map[int64]*circleState
	nextID     int64
	keepers    map[domain.Address]bool
	address    domain.Address
	owner      domain.Address
	policy     Policy
	ledger     AssetLedger
	reputation ReputationEngine
	repo       CircleStore
	events     EventSink
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewCircleService(cfg CircleServiceConfig, ledger AssetLedger, reputation ReputationEngine, repo CircleStore, events EventSink, metrics *Metrics, logger *slog.Logger) *CircleService {
	if repo == nil {
		repo = discardCircles{}
	}
	if events == nil {
		events = discardEvents{}
	}
	s := &CircleService{
		guard:      guard{engine: circleEngine},
		circles:    make(map[int64]*circleState),
		keepers:    make(map[domain.Address]bool),
		address:    cfg.Address,
		owner:      cfg.Owner,
		policy:     cfg.Policy.withDefaults(),
		ledger:     ledger,
		reputation: reputation,
		repo:       repo,
		events:     events,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
	for _, k := range cfg.Keepers {
		if !k.IsZero() {
			s.keepers[k] = true
		}
	}
	return s
}

func (s *CircleService) Policy() Policy { return s.policy }

// Restore rebuilds the arena from the repository.
func (s *CircleService) Restore(ctx context.Context) error {
	ctx, release, err := s.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	aggs, err := s.repo.LoadCircles(ctx)
	if err != nil {
		return fmt.Errorf("failed to load circles: %w", err)
	}
	keepers, err := s.repo.LoadAuthorizations(ctx, RoleKeeper)
	if err != nil {
		return fmt.Errorf("failed to load keepers: %w", err)
	}
	for _, agg := range aggs {
		st := stateFromAggregate(agg)
		s.circles[st.circle.ID] = st
		if st.circle.ID > s.nextID {
			s.nextID = st.circle.ID
		}
	}
	for _, k := range keepers {
		s.keepers[k] = true
	}
	s.refreshGauges()
	s.logger.Info("restored circles", "count", len(aggs), "next_id", s.nextID+1, "keepers", len(s.keepers))
	return nil
}

// RegisterKeeper allows keeper to forfeit late members and cancel abandoned circles.
// Owner only.
func (s *CircleService) RegisterKeeper(ctx context.Context, owner, keeper domain.Address) error {
	return s.setKeeper(ctx, owner, keeper, true)
}

func (s *CircleService) RemoveKeeper(ctx context.Context, owner, keeper domain.Address) error {
	return s.setKeeper(ctx, owner, keeper, false)
}

func (s *CircleService) setKeeper(ctx context.Context, owner, keeper domain.Address, allowed bool) error {
	if owner != s.owner {
		return domain.ErrNotOwner
	}
	if keeper.IsZero() {
		return domain.ErrInvalidAddress
	}
	ctx, release, err := s.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := s.repo.SaveAuthorization(ctx, RoleKeeper, keeper, allowed); err != nil {
		return fmt.Errorf("failed to save keeper: %w", err)
	}
	if allowed {
		s.keepers[keeper] = true
	} else {
		delete(s.keepers, keeper)
	}
	return nil
}

// circleTx is the working copy of one circle during an operation.
type circleTx struct {
	ctx     context.Context
	now     time.Time
	st      *circleState
	settle  *settlement
	events  []domain.Event
	notices []notice
}

// notice is a reputation update sent after the commit.
type notice struct {
	kind   string
	user   domain.Address
	delta  int64
	reason string
}

const (
	noticeIncrease = "increase"
	noticeLate     = "late_payment"
	noticeForfeit  = "forfeit"
)

func (tx *circleTx) emit(eventType string, actor domain.Address, payload map[string]any) {
	tx.events = append(tx.events, newEvent(eventType, tx.st.circle.ID, actor, tx.now, payload))
}

func (tx *circleTx) notify(n notice) {
	tx.notices = append(tx.notices, n)
}

// collect pulls amount into custody and books it as a deposit.
func (tx *circleTx) collect(from domain.Address, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := tx.settle.collect(tx.ctx, from, amount); err != nil {
		return err
	}
	tx.st.circle.TotalDeposited += amount
	return nil
}

// pay queues amount to leave custody after the commit.
func (tx *circleTx) pay(to domain.Address, amount int64, kind string) {
	if amount <= 0 {
		return
	}
	tx.settle.queue(to, amount)
	if kind == domain.PayoutKindPot {
		tx.st.circle.TotalPaidOut += amount
	} else {
		tx.st.circle.TotalRefunded += amount
	}
	tx.st.payouts = append(tx.st.payouts, domain.Payout{
		Round:     tx.st.circle.CurrentRound,
		Recipient: to,
		Amount:    amount,
		Kind:      kind,
		At:        tx.now,
	})
}

func (s *CircleService) begin(ctx context.Context, st *circleState) *circleTx {
	return &circleTx{
		ctx: ctx,
		now: s.now(),
		st:  st,
		settle: &settlement{
			ledger:  s.ledger,
			logger:  s.logger,
			metrics: s.metrics,
			engine:  circleEngine,
		},
	}
}

// mutate runs fn against a copy of the circle and commits it. The returned tx carries
// the side effects to run once the lock is released.
func (s *CircleService) mutate(ctx context.Context, circleID int64, fn func(tx *circleTx) error) (*circleTx, error) {
	ctx, release, err := s.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	prev, ok := s.circles[circleID]
	if !ok {
		return nil, domain.ErrCircleNotFound
	}
	tx := s.begin(ctx, prev.clone())
	if err := fn(tx); err != nil {
		tx.settle.compensate(ctx)
		return nil, err
	}
	if err := s.commit(ctx, tx, prev); err != nil {
		return nil, err
	}
	return tx, nil
}

// commit persists the working copy, swaps it into the arena and pays queued outflows.
// prev is nil for a new circle.
func (s *CircleService) commit(ctx context.Context, tx *circleTx, prev *circleState) error {
	id := tx.st.circle.ID
	if err := s.repo.SaveCircle(ctx, tx.st.aggregate()); err != nil {
		tx.settle.compensate(ctx)
		return fmt.Errorf("failed to save circle %d: %w", id, err)
	}
	s.circles[id] = tx.st

	if err := tx.settle.payOut(ctx); err != nil {
		if prev == nil {
			delete(s.circles, id)
		} else {
			s.circles[id] = prev
			if serr := s.repo.SaveCircle(ctx, prev.aggregate()); serr != nil {
				s.logger.Error("failed to restore circle after payout failure", "circle_id", id, "error", serr)
			}
		}
		tx.settle.compensate(ctx)
		return err
	}
	s.refreshGauges()
	return nil
}

// finish delivers reputation notices and events for a committed tx.
func (s *CircleService) finish(ctx context.Context, tx *circleTx) {
	for _, n := range tx.notices {
		s.deliver(ctx, n)
	}
	s.events.Emit(ctx, tx.events...)
}

func (s *CircleService) deliver(ctx context.Context, n notice) {
	if s.reputation == nil {
		return
	}
	var err error
	switch n.kind {
	case noticeIncrease:
		err = s.reputation.IncreaseReputation(ctx, s.address, n.user, n.delta, n.reason)
	case noticeLate:
		err = s.reputation.RecordLatePayment(ctx, s.address, n.user)
	case noticeForfeit:
		err = s.reputation.RecordForfeit(ctx, s.address, n.user)
	}
	if err != nil {
		s.metrics.observeNotifyFailure(n.kind)
		s.logger.Warn("reputation update failed", "kind", n.kind, "member", n.user, "error", err)
	}
}

// reputationScore reads a score, falling back to the default when the engine fails.
func (s *CircleService) reputationScore(ctx context.Context, user domain.Address) int64 {
	if s.reputation == nil {
		return domain.DefaultReputationScore
	}
	score, err := s.reputation.GetReputation(ctx, user)
	if err != nil {
		s.metrics.observeNotifyFailure("get_reputation")
		s.logger.Warn("reputation lookup failed, using default score", "member", user, "error", err)
		return domain.DefaultReputationScore
	}
	return score
}

func (s *CircleService) isKeeper(addr domain.Address) bool {
	return s.keepers[addr]
}

func (s *CircleService) refreshGauges() {
	if s.metrics == nil {
		return
	}
	counts := map[string]int{
		string(domain.CircleCreated):   0,
		string(domain.CircleOpen):      0,
		string(domain.CircleActive):    0,
		string(domain.CircleCompleted): 0,
		string(domain.CircleCancelled): 0,
	}
	for _, st := range s.circles {
		counts[string(st.circle.State)]++
	}
	s.metrics.setCircleStates(counts)
}

type discardCircles struct{}

func (discardCircles) SaveCircle(context.Context, domain.CircleAggregate) error { return nil }
func (discardCircles) LoadCircles(context.Context) ([]domain.CircleAggregate, error) {
	return nil, nil
}
func (discardCircles) SaveAuthorization(context.Context, string, domain.Address, bool) error {
	return nil
}
func (discardCircles) LoadAuthorizations(context.Context, string) ([]domain.Address, error) {
	return nil, nil
}
