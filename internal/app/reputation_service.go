/**
 * @description
 * Reputation bookkeeping consumed by the circle and goal engines. Scores live in memory
 * and every change is written through to the repository together with a history entry.
 *
 * Key features:
 * - Only callers on the owner-managed allowlist may change a score.
 * - Scores are clamped to [0, 1000]; the tier is derived from the score.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/circlepot/rosca-service/internal/domain"
)

// ReputationEngine is the reputation surface the savings engines depend on.
type ReputationEngine interface {
	GetReputation(ctx context.Context, user domain.Address) (int64, error)
	IncreaseReputation(ctx context.Context, caller, user domain.Address, delta int64, reason string) error
	DecreaseReputation(ctx context.Context, caller, user domain.Address, delta int64, reason string) error
	RecordLatePayment(ctx context.Context, caller, user domain.Address) error
	RecordForfeit(ctx context.Context, caller, user domain.Address) error
	RecordGoalCompleted(ctx context.Context, caller, user domain.Address, goalID int64) error
}

// ReputationStore persists reputations, their history and the caller allowlist.
type ReputationStore interface {
	SaveReputation(ctx context.Context, rep domain.Reputation, entry domain.ReputationEntry) error
	LoadReputations(ctx context.Context) ([]domain.Reputation, error)
	LoadReputationHistory(ctx context.Context) ([]domain.ReputationEntry, error)
	SaveAuthorization(ctx context.Context, role string, addr domain.Address, authorized bool) error
	LoadAuthorizations(ctx context.Context, role string) ([]domain.Address, error)
}

const (
	RoleReputationCaller = "reputation_caller"
	RoleKeeper           = "keeper"
)

// ReputationDeltas are the score changes applied by the record helpers.
type ReputationDeltas struct {
	LatePayment   int64
	Forfeit       int64
	GoalCompleted int64
}

func DefaultReputationDeltas() ReputationDeltas {
	return ReputationDeltas{LatePayment: 20, Forfeit: 50, GoalCompleted: 15}
}

// ReputationService implements ReputationEngine.
type ReputationService struct {
	mu         sync.Mutex
	owner      domain.Address
	authorized map[domain.Address]bool
	scores     map[domain.Address]*domain.Reputation
	history    map[domain.Address][]domain.ReputationEntry
	deltas     ReputationDeltas
	repo       ReputationStore
	events     EventSink
	logger     *slog.Logger
	now        func() time.Time
}

func NewReputationService(owner domain.Address, deltas ReputationDeltas, repo ReputationStore, events EventSink, logger *slog.Logger) *ReputationService {
	if events == nil {
		events = discardEvents{}
	}
	return &ReputationService{
		owner:      owner,
		authorized: make(map[domain.Address]bool),
		scores:     make(map[domain.Address]*domain.Reputation),
		history:    make(map[domain.Address][]domain.ReputationEntry),
		deltas:     deltas,
		repo:       repo,
		events:     events,
		logger:     logger,
		now:        time.Now,
	}
}

// Restore loads scores, history and the allowlist from the repository.
func (s *ReputationService) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	reps, err := s.repo.LoadReputations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load reputations: %w", err)
	}
	entries, err := s.repo.LoadReputationHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load reputation history: %w", err)
	}
	callers, err := s.repo.LoadAuthorizations(ctx, RoleReputationCaller)
	if err != nil {
		return fmt.Errorf("failed to load reputation callers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range reps {
		rep := reps[i]
		s.scores[rep.Address] = &rep
	}
	for _, e := range entries {
		s.history[e.Address] = append(s.history[e.Address], e)
	}
	for _, addr := range callers {
		s.authorized[addr] = true
	}
	s.logger.Info("restored reputations", "users", len(reps), "callers", len(callers))
	return nil
}

// Authorize adds caller to the allowlist. Owner only.
func (s *ReputationService) Authorize(ctx context.Context, owner, caller domain.Address) error {
	return s.setAuthorized(ctx, owner, caller, true)
}

// Revoke removes caller from the allowlist. Owner only.
func (s *ReputationService) Revoke(ctx context.Context, owner, caller domain.Address) error {
	return s.setAuthorized(ctx, owner, caller, false)
}

func (s *ReputationService) setAuthorized(ctx context.Context, owner, caller domain.Address, authorized bool) error {
	if owner != s.owner {
		return domain.ErrNotOwner
	}
	if caller.IsZero() {
		return domain.ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo != nil {
		if err := s.repo.SaveAuthorization(ctx, RoleReputationCaller, caller, authorized); err != nil {
			return fmt.Errorf("failed to save reputation caller: %w", err)
		}
	}
	if authorized {
		s.authorized[caller] = true
	} else {
		delete(s.authorized, caller)
	}
	s.events.Emit(ctx, newEvent(domain.EventReputationCallerSet, 0, owner, s.now(), map[string]any{
		"caller":     caller,
		"authorized": authorized,
	}))
	return nil
}

func (s *ReputationService) IsAuthorized(caller domain.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized[caller]
}

// AuthorizedCallers lists the allowlist in address order.
func (s *ReputationService) AuthorizedCallers() []domain.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Address, 0, len(s.authorized))
	for addr := range s.authorized {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *ReputationService) GetReputation(ctx context.Context, user domain.Address) (int64, error) {
	rep := s.Reputation(user)
	return rep.Score, nil
}

// Reputation returns the full record, or a default record for an unknown user.
func (s *ReputationService) Reputation(user domain.Address) domain.Reputation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(user)
}

// History returns up to limit entries for user, newest first. limit <= 0 returns all.
func (s *ReputationService) History(user domain.Address, limit int) []domain.ReputationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[user]
	out := make([]domain.ReputationEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (s *ReputationService) IncreaseReputation(ctx context.Context, caller, user domain.Address, delta int64, reason string) error {
	if delta <= 0 {
		return domain.ErrInvalidAmount
	}
	return s.apply(ctx, caller, user, delta, reason, nil)
}

func (s *ReputationService) DecreaseReputation(ctx context.Context, caller, user domain.Address, delta int64, reason string) error {
	if delta <= 0 {
		return domain.ErrInvalidAmount
	}
	return s.apply(ctx, caller, user, -delta, reason, nil)
}

func (s *ReputationService) RecordLatePayment(ctx context.Context, caller, user domain.Address) error {
	return s.apply(ctx, caller, user, -s.deltas.LatePayment, domain.ReasonLatePayment, func(r *domain.Reputation) {
		r.LatePayments++
	})
}

func (s *ReputationService) RecordForfeit(ctx context.Context, caller, user domain.Address) error {
	return s.apply(ctx, caller, user, -s.deltas.Forfeit, domain.ReasonForfeit, func(r *domain.Reputation) {
		r.Forfeits++
	})
}

func (s *ReputationService) RecordGoalCompleted(ctx context.Context, caller, user domain.Address, goalID int64) error {
	reason := fmt.Sprintf("%s:%d", domain.ReasonGoalCompleted, goalID)
	return s.apply(ctx, caller, user, s.deltas.GoalCompleted, reason, func(r *domain.Reputation) {
		r.GoalsCompleted++
	})
}

func (s *ReputationService) apply(ctx context.Context, caller, user domain.Address, delta int64, reason string, counters func(*domain.Reputation)) error {
	if user.IsZero() {
		return domain.ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authorized[caller] {
		return domain.ErrUnauthorizedCaller
	}

	now := s.now()
	next := s.current(user)
	next.Score = clampScore(next.Score + delta)
	next.Tier = domain.TierFor(next.Score)
	next.UpdatedAt = now
	if counters != nil {
		counters(&next)
	}
	entry := domain.ReputationEntry{
		Address:    user,
		Delta:      delta,
		Reason:     reason,
		Caller:     caller,
		ScoreAfter: next.Score,
		At:         now,
	}

	if s.repo != nil {
		if err := s.repo.SaveReputation(ctx, next, entry); err != nil {
			return fmt.Errorf("failed to save reputation for %s: %w", user, err)
		}
	}
	s.scores[user] = &next
	s.history[user] = append(s.history[user], entry)

	s.events.Emit(ctx, newEvent(domain.EventReputationChanged, 0, caller, now, map[string]any{
		"address": user,
		"delta":   delta,
		"reason":  reason,
		"score":   next.Score,
		"tier":    next.Tier,
	}))
	return nil
}

func (s *ReputationService) current(user domain.Address) domain.Reputation {
	if rep, ok := s.scores[user]; ok {
		return *rep
	}
	return domain.Reputation{
		Address: user,
		Score:   domain.DefaultReputationScore,
		Tier:    domain.TierFor(domain.DefaultReputationScore),
	}
}

func clampScore(score int64) int64 {
	if score < domain.MinReputationScore {
		return domain.MinReputationScore
	}
	if score > domain.MaxReputationScore {
		return domain.MaxReputationScore
	}
	return score
}
