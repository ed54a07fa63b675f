package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/circlepot/rosca-service/internal/domain"
)

const upsertCircleSQL = `
INSERT INTO circles (
    id, creator, name, contribution_amount, frequency, max_members, current_members,
    visibility, state, current_round, round_started_at, pot, voting_started_at, yes_votes,
    total_deposited, total_paid_out, total_refunded, created_at, activated_at, closed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    current_members = excluded.current_members,
    state = excluded.state,
    current_round = excluded.current_round,
    round_started_at = excluded.round_started_at,
    pot = excluded.pot,
    voting_started_at = excluded.voting_started_at,
    yes_votes = excluded.yes_votes,
    total_deposited = excluded.total_deposited,
    total_paid_out = excluded.total_paid_out,
    total_refunded = excluded.total_refunded,
    activated_at = excluded.activated_at,
    closed_at = excluded.closed_at`

var circleChildTables = []string{
	"circle_members",
	"circle_invites",
	"circle_votes",
	"circle_contributions",
	"circle_forfeitures",
	"circle_payouts",
}

// SaveCircle writes the whole aggregate in one transaction, replacing its child rows.
func (r *Repository) SaveCircle(ctx context.Context, agg domain.CircleAggregate) error {
	c := agg.Circle
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(upsertCircleSQL),
			c.ID, string(c.Creator), c.Name, c.ContributionAmount, string(c.Frequency), c.MaxMembers, c.CurrentMembers,
			string(c.Visibility), string(c.State), c.CurrentRound, nullMillis(c.RoundStartedAt), c.Pot, nullMillis(c.VotingStartedAt), c.YesVotes,
			c.TotalDeposited, c.TotalPaidOut, c.TotalRefunded, toMillis(c.CreatedAt), nullMillis(c.ActivatedAt), nullMillis(c.ClosedAt),
		); err != nil {
			return fmt.Errorf("failed to upsert circle %d: %w", c.ID, err)
		}

		for _, table := range circleChildTables {
			if _, err := tx.ExecContext(ctx, r.rebind("DELETE FROM "+table+" WHERE circle_id = ?"), c.ID); err != nil {
				return fmt.Errorf("failed to clear %s for circle %d: %w", table, c.ID, err)
			}
		}

		for _, m := range agg.Members {
			if _, err := tx.ExecContext(ctx, r.rebind(`
INSERT INTO circle_members (circle_id, address, position, collateral_locked, has_received, joined_at, join_seq, reputation_score, forfeits, late_payments)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				c.ID, string(m.Address), m.Position, m.CollateralLocked, boolInt(m.HasReceived), toMillis(m.JoinedAt), m.JoinSeq, m.ReputationScore, m.Forfeits, m.LatePayments,
			); err != nil {
				return fmt.Errorf("failed to insert member %s: %w", m.Address, err)
			}
		}
		for _, addr := range agg.Invited {
			if _, err := tx.ExecContext(ctx, r.rebind("INSERT INTO circle_invites (circle_id, address) VALUES (?, ?)"), c.ID, string(addr)); err != nil {
				return fmt.Errorf("failed to insert invite %s: %w", addr, err)
			}
		}
		for _, addr := range agg.Voters {
			if _, err := tx.ExecContext(ctx, r.rebind("INSERT INTO circle_votes (circle_id, address) VALUES (?, ?)"), c.ID, string(addr)); err != nil {
				return fmt.Errorf("failed to insert vote %s: %w", addr, err)
			}
		}
		for _, ct := range agg.Contributions {
			if _, err := tx.ExecContext(ctx, r.rebind(`
INSERT INTO circle_contributions (circle_id, round, member, amount, late, at) VALUES (?, ?, ?, ?, ?, ?)`),
				c.ID, ct.Round, string(ct.Member), ct.Amount, boolInt(ct.Late), toMillis(ct.At),
			); err != nil {
				return fmt.Errorf("failed to insert contribution: %w", err)
			}
		}
		for _, f := range agg.Forfeitures {
			if _, err := tx.ExecContext(ctx, r.rebind(`
INSERT INTO circle_forfeitures (circle_id, round, member, amount, forfeited_by, at) VALUES (?, ?, ?, ?, ?, ?)`),
				c.ID, f.Round, string(f.Member), f.Amount, string(f.By), toMillis(f.At),
			); err != nil {
				return fmt.Errorf("failed to insert forfeiture: %w", err)
			}
		}
		for i, p := range agg.Payouts {
			if _, err := tx.ExecContext(ctx, r.rebind(`
INSERT INTO circle_payouts (circle_id, seq, round, recipient, amount, kind, at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
				c.ID, i+1, p.Round, string(p.Recipient), p.Amount, p.Kind, toMillis(p.At),
			); err != nil {
				return fmt.Errorf("failed to insert payout: %w", err)
			}
		}
		return nil
	})
}

// LoadCircles reads every circle aggregate, ordered by ID.
func (r *Repository) LoadCircles(ctx context.Context) ([]domain.CircleAggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, creator, name, contribution_amount, frequency, max_members, current_members,
       visibility, state, current_round, round_started_at, pot, voting_started_at, yes_votes,
       total_deposited, total_paid_out, total_refunded, created_at, activated_at, closed_at
FROM circles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query circles: %w", err)
	}
	defer rows.Close()

	var aggs []domain.CircleAggregate
	index := make(map[int64]int)
	for rows.Next() {
		var c domain.Circle
		var creator, frequency, visibility, state string
		var roundStartedAt, votingStartedAt, activatedAt, closedAt sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&c.ID, &creator, &c.Name, &c.ContributionAmount, &frequency, &c.MaxMembers, &c.CurrentMembers,
			&visibility, &state, &c.CurrentRound, &roundStartedAt, &c.Pot, &votingStartedAt, &c.YesVotes,
			&c.TotalDeposited, &c.TotalPaidOut, &c.TotalRefunded, &createdAt, &activatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan circle: %w", err)
		}
		c.Creator = domain.Address(creator)
		c.Frequency = domain.Frequency(frequency)
		c.Visibility = domain.Visibility(visibility)
		c.State = domain.CircleState(state)
		c.RoundStartedAt = timePtr(roundStartedAt)
		c.VotingStartedAt = timePtr(votingStartedAt)
		c.CreatedAt = fromMillis(createdAt)
		c.ActivatedAt = timePtr(activatedAt)
		c.ClosedAt = timePtr(closedAt)
		index[c.ID] = len(aggs)
		aggs = append(aggs, domain.CircleAggregate{Circle: c})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if len(aggs) == 0 {
		return nil, nil
	}

	if err := r.loadMembers(ctx, aggs, index); err != nil {
		return nil, err
	}
	if err := r.loadAddressSet(ctx, "circle_invites", aggs, index, func(a *domain.CircleAggregate, addr domain.Address) {
		a.Invited = append(a.Invited, addr)
	}); err != nil {
		return nil, err
	}
	if err := r.loadAddressSet(ctx, "circle_votes", aggs, index, func(a *domain.CircleAggregate, addr domain.Address) {
		a.Voters = append(a.Voters, addr)
	}); err != nil {
		return nil, err
	}
	if err := r.loadContributions(ctx, aggs, index); err != nil {
		return nil, err
	}
	if err := r.loadForfeitures(ctx, aggs, index); err != nil {
		return nil, err
	}
	if err := r.loadPayouts(ctx, aggs, index); err != nil {
		return nil, err
	}
	return aggs, nil
}

func (r *Repository) loadMembers(ctx context.Context, aggs []domain.CircleAggregate, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx, `
SELECT circle_id, address, position, collateral_locked, has_received, joined_at, join_seq, reputation_score, forfeits, late_payments
FROM circle_members ORDER BY circle_id, join_seq`)
	if err != nil {
		return fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var circleID, joinedAt int64
		var addr string
		var hasReceived int
		var m domain.Member
		if err := rows.Scan(&circleID, &addr, &m.Position, &m.CollateralLocked, &hasReceived, &joinedAt, &m.JoinSeq, &m.ReputationScore, &m.Forfeits, &m.LatePayments); err != nil {
			return fmt.Errorf("failed to scan member: %w", err)
		}
		i, ok := index[circleID]
		if !ok {
			continue
		}
		m.Address = domain.Address(addr)
		m.HasReceived = hasReceived != 0
		m.JoinedAt = fromMillis(joinedAt)
		aggs[i].Members = append(aggs[i].Members, m)
	}
	return rows.Err()
}

func (r *Repository) loadAddressSet(ctx context.Context, table string, aggs []domain.CircleAggregate, index map[int64]int, add func(*domain.CircleAggregate, domain.Address)) error {
	rows, err := r.db.QueryContext(ctx, "SELECT circle_id, address FROM "+table+" ORDER BY circle_id, address")
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var circleID int64
		var addr string
		if err := rows.Scan(&circleID, &addr); err != nil {
			return fmt.Errorf("failed to scan %s: %w", table, err)
		}
		if i, ok := index[circleID]; ok {
			add(&aggs[i], domain.Address(addr))
		}
	}
	return rows.Err()
}

func (r *Repository) loadContributions(ctx context.Context, aggs []domain.CircleAggregate, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx, "SELECT circle_id, round, member, amount, late, at FROM circle_contributions ORDER BY circle_id, round, member")
	if err != nil {
		return fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var circleID, at int64
		var member string
		var late int
		var c domain.Contribution
		if err := rows.Scan(&circleID, &c.Round, &member, &c.Amount, &late, &at); err != nil {
			return fmt.Errorf("failed to scan contribution: %w", err)
		}
		if i, ok := index[circleID]; ok {
			c.Member = domain.Address(member)
			c.Late = late != 0
			c.At = fromMillis(at)
			aggs[i].Contributions = append(aggs[i].Contributions, c)
		}
	}
	return rows.Err()
}

func (r *Repository) loadForfeitures(ctx context.Context, aggs []domain.CircleAggregate, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx, "SELECT circle_id, round, member, amount, forfeited_by, at FROM circle_forfeitures ORDER BY circle_id, round, member")
	if err != nil {
		return fmt.Errorf("failed to query forfeitures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var circleID, at int64
		var member, by string
		var f domain.Forfeiture
		if err := rows.Scan(&circleID, &f.Round, &member, &f.Amount, &by, &at); err != nil {
			return fmt.Errorf("failed to scan forfeiture: %w", err)
		}
		if i, ok := index[circleID]; ok {
			f.Member = domain.Address(member)
			f.By = domain.Address(by)
			f.At = fromMillis(at)
			aggs[i].Forfeitures = append(aggs[i].Forfeitures, f)
		}
	}
	return rows.Err()
}

func (r *Repository) loadPayouts(ctx context.Context, aggs []domain.CircleAggregate, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx, "SELECT circle_id, round, recipient, amount, kind, at FROM circle_payouts ORDER BY circle_id, seq")
	if err != nil {
		return fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var circleID, at int64
		var recipient string
		var p domain.Payout
		if err := rows.Scan(&circleID, &p.Round, &recipient, &p.Amount, &p.Kind, &at); err != nil {
			return fmt.Errorf("failed to scan payout: %w", err)
		}
		if i, ok := index[circleID]; ok {
			p.Recipient = domain.Address(recipient)
			p.At = fromMillis(at)
			aggs[i].Payouts = append(aggs[i].Payouts, p)
		}
	}
	return rows.Err()
}
