/**
 * @description
 * SQLBank keeps wallet balances in the wallets table and records every movement in
 * ledger_entries. Debits are conditional so a balance can never go negative.
 */
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/circlepot/rosca-service/internal/domain"
)

// SQLBank implements the wallet store on top of the repository database.
type SQLBank struct {
	repo *Repository
}

func NewSQLBank(repo *Repository) *SQLBank {
	return &SQLBank{repo: repo}
}

// Move debits from and credits to in one transaction.
func (b *SQLBank) Move(ctx context.Context, from, to domain.Address, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return b.repo.withTx(ctx, func(tx *sql.Tx) error {
		if err := b.debit(ctx, tx, from, amount); err != nil {
			return err
		}
		if err := b.credit(ctx, tx, to, amount); err != nil {
			return err
		}
		return b.record(ctx, tx, from, to, amount)
	})
}

// Deposit credits holder from outside the system.
func (b *SQLBank) Deposit(ctx context.Context, holder domain.Address, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return b.repo.withTx(ctx, func(tx *sql.Tx) error {
		if err := b.credit(ctx, tx, holder, amount); err != nil {
			return err
		}
		return b.record(ctx, tx, "", holder, amount)
	})
}

func (b *SQLBank) Balance(ctx context.Context, holder domain.Address) (int64, error) {
	var balance int64
	err := b.repo.db.QueryRowContext(ctx, b.repo.rebind("SELECT balance FROM wallets WHERE address = ?"), string(holder)).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance for %s: %w", holder, err)
	}
	return balance, nil
}

func (b *SQLBank) debit(ctx context.Context, tx *sql.Tx, holder domain.Address, amount int64) error {
	res, err := tx.ExecContext(ctx, b.repo.rebind("UPDATE wallets SET balance = balance - ? WHERE address = ? AND balance >= ?"), amount, string(holder), amount)
	if err != nil {
		return fmt.Errorf("failed to debit %s: %w", holder, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to debit %s: %w", holder, err)
	}
	if n == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

func (b *SQLBank) credit(ctx context.Context, tx *sql.Tx, holder domain.Address, amount int64) error {
	_, err := tx.ExecContext(ctx, b.repo.rebind(`
INSERT INTO wallets (address, balance) VALUES (?, ?)
ON CONFLICT (address) DO UPDATE SET balance = wallets.balance + excluded.balance`), string(holder), amount)
	if err != nil {
		return fmt.Errorf("failed to credit %s: %w", holder, err)
	}
	return nil
}

func (b *SQLBank) record(ctx context.Context, tx *sql.Tx, from, to domain.Address, amount int64) error {
	_, err := tx.ExecContext(ctx, b.repo.rebind(`
INSERT INTO ledger_entries (id, from_address, to_address, amount, at) VALUES (?, ?, ?, ?, ?)`),
		uuid.NewString(), string(from), string(to), amount, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}
