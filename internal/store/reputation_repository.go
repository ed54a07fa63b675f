package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/circlepot/rosca-service/internal/domain"
)

// SaveReputation upserts the score and appends the history entry atomically.
func (r *Repository) SaveReputation(ctx context.Context, rep domain.Reputation, entry domain.ReputationEntry) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(`
INSERT INTO reputations (address, score, tier, late_payments, forfeits, goals_completed, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (address) DO UPDATE SET
    score = excluded.score,
    tier = excluded.tier,
    late_payments = excluded.late_payments,
    forfeits = excluded.forfeits,
    goals_completed = excluded.goals_completed,
    updated_at = excluded.updated_at`),
			string(rep.Address), rep.Score, string(rep.Tier), rep.LatePayments, rep.Forfeits, rep.GoalsCompleted, toMillis(rep.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to upsert reputation: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.rebind(`
INSERT INTO reputation_history (id, address, delta, reason, caller, score_after, at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			uuid.NewString(), string(entry.Address), entry.Delta, entry.Reason, string(entry.Caller), entry.ScoreAfter, toMillis(entry.At),
		); err != nil {
			return fmt.Errorf("failed to insert reputation history: %w", err)
		}
		return nil
	})
}

func (r *Repository) LoadReputations(ctx context.Context) ([]domain.Reputation, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT address, score, tier, late_payments, forfeits, goals_completed, updated_at FROM reputations ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reputations: %w", err)
	}
	defer rows.Close()
	var reps []domain.Reputation
	for rows.Next() {
		var rep domain.Reputation
		var addr, tier string
		var updatedAt int64
		if err := rows.Scan(&addr, &rep.Score, &tier, &rep.LatePayments, &rep.Forfeits, &rep.GoalsCompleted, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reputation: %w", err)
		}
		rep.Address = domain.Address(addr)
		rep.Tier = domain.Tier(tier)
		rep.UpdatedAt = fromMillis(updatedAt)
		reps = append(reps, rep)
	}
	return reps, rows.Err()
}

// LoadReputationHistory returns every history entry, oldest first.
func (r *Repository) LoadReputationHistory(ctx context.Context) ([]domain.ReputationEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT address, delta, reason, caller, score_after, at FROM reputation_history ORDER BY at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reputation history: %w", err)
	}
	defer rows.Close()
	var entries []domain.ReputationEntry
	for rows.Next() {
		var e domain.ReputationEntry
		var addr, caller string
		var at int64
		if err := rows.Scan(&addr, &e.Delta, &e.Reason, &caller, &e.ScoreAfter, &at); err != nil {
			return nil, fmt.Errorf("failed to scan reputation history: %w", err)
		}
		e.Address = domain.Address(addr)
		e.Caller = domain.Address(caller)
		e.At = fromMillis(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveAuthorization grants or revokes role for addr.
func (r *Repository) SaveAuthorization(ctx context.Context, role string, addr domain.Address, authorized bool) error {
	var err error
	if authorized {
		_, err = r.db.ExecContext(ctx, r.rebind(`
INSERT INTO authorizations (role, address, granted_at) VALUES (?, ?, ?) ON CONFLICT (role, address) DO NOTHING`),
			role, string(addr), toMillis(time.Now()))
	} else {
		_, err = r.db.ExecContext(ctx, r.rebind("DELETE FROM authorizations WHERE role = ? AND address = ?"), role, string(addr))
	}
	if err != nil {
		return fmt.Errorf("failed to save %s authorization for %s: %w", role, addr, err)
	}
	return nil
}

func (r *Repository) LoadAuthorizations(ctx context.Context, role string) ([]domain.Address, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind("SELECT address FROM authorizations WHERE role = ? ORDER BY address"), role)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s authorizations: %w", role, err)
	}
	defer rows.Close()
	var out []domain.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, domain.Address(addr))
	}
	return out, rows.Err()
}
