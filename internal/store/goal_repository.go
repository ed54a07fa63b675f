package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/circlepot/rosca-service/internal/domain"
)

// SaveGoal inserts or updates a goal.
func (r *Repository) SaveGoal(ctx context.Context, g domain.Goal) error {
	query := r.rebind(`
INSERT INTO goals (
    id, owner, name, target_amount, contribution_amount, current_amount, frequency, deadline,
    state, contributions, last_contribution_at, penalty_paid, created_at, closed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    current_amount = excluded.current_amount,
    state = excluded.state,
    contributions = excluded.contributions,
    last_contribution_at = excluded.last_contribution_at,
    penalty_paid = excluded.penalty_paid,
    closed_at = excluded.closed_at`)
	_, err := r.db.ExecContext(ctx, query,
		g.ID, string(g.Owner), g.Name, g.TargetAmount, g.ContributionAmount, g.CurrentAmount, string(g.Frequency), toMillis(g.Deadline),
		string(g.State), g.Contributions, nullMillis(g.LastContributionAt), g.PenaltyPaid, toMillis(g.CreatedAt), nullMillis(g.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save goal %d: %w", g.ID, err)
	}
	return nil
}

// LoadGoals reads every goal, ordered by ID.
func (r *Repository) LoadGoals(ctx context.Context) ([]domain.Goal, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, owner, name, target_amount, contribution_amount, current_amount, frequency, deadline,
       state, contributions, last_contribution_at, penalty_paid, created_at, closed_at
FROM goals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var goals []domain.Goal
	for rows.Next() {
		var g domain.Goal
		var owner, frequency, state string
		var deadline, createdAt int64
		var lastContribution, closedAt sql.NullInt64
		if err := rows.Scan(&g.ID, &owner, &g.Name, &g.TargetAmount, &g.ContributionAmount, &g.CurrentAmount, &frequency, &deadline,
			&state, &g.Contributions, &lastContribution, &g.PenaltyPaid, &createdAt, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		g.Owner = domain.Address(owner)
		g.Frequency = domain.Frequency(frequency)
		g.State = domain.GoalState(state)
		g.Deadline = fromMillis(deadline)
		g.CreatedAt = fromMillis(createdAt)
		g.LastContributionAt = timePtr(lastContribution)
		g.ClosedAt = timePtr(closedAt)
		goals = append(goals, g)
	}
	return goals, rows.Err()
}
