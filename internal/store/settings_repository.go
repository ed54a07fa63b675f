package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/circlepot/rosca-service/internal/domain"
)

const settingTreasury = "goal_treasury"

// SaveTreasury records the address that receives goal withdrawal penalties.
func (r *Repository) SaveTreasury(ctx context.Context, treasury domain.Address) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`
INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		settingTreasury, string(treasury), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save treasury: %w", err)
	}
	return nil
}

// LoadTreasury returns the saved treasury, or an empty address when none was set.
func (r *Repository) LoadTreasury(ctx context.Context) (domain.Address, error) {
	var value string
	err := r.db.QueryRowContext(ctx, r.rebind("SELECT value FROM settings WHERE name = ?"), settingTreasury).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load treasury: %w", err)
	}
	return domain.Address(value), nil
}
