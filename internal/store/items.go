package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"expiry-compliance/internal/models"

	"github.com/jmoiron/sqlx"
)

var ErrItemNotFound = errors.New("item not found")

const itemColumns = `id, name, expiry_date, quantity, reorder_point, location, removed, removed_at, created_at, updated_at`

// GetItems retrieves every item of an account, removed ones included
func (s *Store) GetItems(ctx context.Context, accountID string) ([]models.Item, error) {
	items := []models.Item{}
	err := s.db.SelectContext(ctx, &items,
		"SELECT "+itemColumns+" FROM items WHERE account_id = $1 ORDER BY created_at, id", accountID)
	return items, err
}

// GetItemByID retrieves one item
func (s *Store) GetItemByID(ctx context.Context, accountID, id string) (*models.Item, error) {
	var item models.Item
	err := s.db.GetContext(ctx, &item,
		"SELECT "+itemColumns+" FROM items WHERE account_id = $1 AND id = $2", accountID, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetSettings retrieves the account settings, or nil if none are stored
func (s *Store) GetSettings(ctx context.Context, accountID string) (*models.Settings, error) {
	var settings models.Settings
	err := s.db.GetContext(ctx, &settings,
		"SELECT warning_days, timezone, sla_threshold_minutes FROM account_settings WHERE account_id = $1", accountID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpsertSettings stores the account settings
func (s *Store) UpsertSettings(ctx context.Context, accountID string, settings models.Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_settings (account_id, warning_days, timezone, sla_threshold_minutes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE
		SET warning_days = EXCLUDED.warning_days,
			timezone = EXCLUDED.timezone,
			sla_threshold_minutes = EXCLUDED.sla_threshold_minutes,
			updated_at = NOW()`,
		accountID, settings.WarningDays, settings.Timezone, settings.SLAThresholdMinutes)
	return err
}

// GetRemovalAuditEntries retrieves the account's "removed" audit entries
func (s *Store) GetRemovalAuditEntries(ctx context.Context, accountID string) ([]models.AuditEntry, error) {
	entries := []models.AuditEntry{}
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, item_id, action, occurred_at AS "timestamp"
		FROM item_audit
		WHERE account_id = $1 AND action = $2
		ORDER BY occurred_at`,
		accountID, models.AuditActionRemoved)
	return entries, err
}

// InsertItem creates an item and its "added" audit entry. Inserting an
// item that already exists is a no-op.
func (s *Store) InsertItem(ctx context.Context, accountID string, item models.Item) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO items (id, account_id, name, expiry_date, quantity, reorder_point, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		item.ID, accountID, item.Name, item.ExpiryDate, item.Quantity, item.ReorderPoint, item.Location)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	if err := insertAudit(ctx, tx, accountID, item.ID, models.AuditActionAdded, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateItem overwrites the mutable fields of an item
func (s *Store) UpdateItem(ctx context.Context, accountID string, item models.Item) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE items
		SET name = $1, expiry_date = $2, quantity = $3, reorder_point = $4, location = $5, updated_at = NOW()
		WHERE account_id = $6 AND id = $7`,
		item.Name, item.ExpiryDate, item.Quantity, item.ReorderPoint, item.Location, accountID, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, item.ID)
	}

	if err := insertAudit(ctx, tx, accountID, item.ID, models.AuditActionUpdated, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveItem marks an item removed and records the "removed" audit entry in
// the same transaction. Removing an already removed item is a no-op.
func (s *Store) RemoveItem(ctx context.Context, accountID, itemID string, removedAt time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var removed bool
	err = tx.GetContext(ctx, &removed,
		"SELECT removed FROM items WHERE account_id = $1 AND id = $2 FOR UPDATE", accountID, itemID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock item: %w", err)
	}
	if removed {
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE items SET removed = TRUE, removed_at = $1, updated_at = NOW() WHERE account_id = $2 AND id = $3",
		removedAt, accountID, itemID)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}

	if err := insertAudit(ctx, tx, accountID, itemID, models.AuditActionRemoved, removedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func insertAudit(ctx context.Context, tx *sqlx.Tx, accountID, itemID, action string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO item_audit (account_id, item_id, action, occurred_at) VALUES ($1, $2, $3, $4)",
		accountID, itemID, action, at)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}
