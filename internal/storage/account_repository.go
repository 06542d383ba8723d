package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/trader-mirror/internal/errors"
	"github.com/trader-mirror/internal/models"
)

// AccountRepository handles account data persistence
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

// DB returns the underlying database connection for raw queries
func (r *AccountRepository) DB() *PostgresDB {
	return r.db
}

const accountColumns = `id, asset_class, active, sync_tier, last_synced_at,
	   last_trade_at, first_failure_at, last_failure_reason, created_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.AssetClass,
		&account.Active,
		&account.SyncTier,
		&account.LastSyncedAt,
		&account.LastTradeAt,
		&account.FirstFailureAt,
		&account.LastFailureReason,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Create creates a new account record
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (
			id, asset_class, active, sync_tier, created_at
		)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		account.ID,
		account.AssetClass,
		account.Active,
		account.SyncTier,
		account.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// Get retrieves an account by id
func (r *AccountRepository) Get(ctx context.Context, id string) (*models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1`, accountColumns)

	account, err := scanAccount(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("account", id)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// ListActive retrieves all active accounts
func (r *AccountRepository) ListActive(ctx context.Context) ([]*models.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM accounts
		WHERE active = true
		ORDER BY sync_tier ASC, created_at ASC
	`, accountColumns)

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// ListStale retrieves active accounts whose last sync is older than their
// tier's staleness threshold (cadence times the staleness multiplier).
// Accounts that never synced sort first; otherwise higher tiers win.
func (r *AccountRepository) ListStale(ctx context.Context, limit int) ([]*models.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM accounts a
		JOIN sync_policy p ON p.tier = a.sync_tier
		WHERE a.active = true
		  AND (a.last_synced_at IS NULL
		       OR a.last_synced_at < now() - (p.cadence_seconds * p.staleness_multiplier) * interval '1 second')
		ORDER BY a.sync_tier ASC, a.last_synced_at ASC NULLS FIRST
		LIMIT $1
	`, "a.id, a.asset_class, a.active, a.sync_tier, a.last_synced_at, a.last_trade_at, a.first_failure_at, a.last_failure_reason, a.created_at")

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale accounts: %w", err)
	}

	return accounts, nil
}

// ListFailingSince retrieves active accounts whose first failure predates
// the cutoff. Used by the reaper to purge persistently broken accounts.
func (r *AccountRepository) ListFailingSince(ctx context.Context, cutoff time.Time) ([]*models.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM accounts
		WHERE first_failure_at IS NOT NULL AND first_failure_at < $1
		ORDER BY first_failure_at ASC
	`, accountColumns)

	rows, err := r.db.Pool().Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list failing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failing accounts: %w", err)
	}

	return accounts, nil
}

// SetTier updates the sync tier for an account
func (r *AccountRepository) SetTier(ctx context.Context, id string, tier int) error {
	query := `UPDATE accounts SET sync_tier = $2 WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, id, tier)
	if err != nil {
		return fmt.Errorf("failed to set account tier: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("account", id)
	}

	return nil
}

// MarkFailure records a failed sync attempt. first_failure_at is set only
// when no failure streak is already open, so it marks the start of the
// streak rather than the most recent failure.
func (r *AccountRepository) MarkFailure(ctx context.Context, id, reason string, at time.Time) error {
	query := `
		UPDATE accounts
		SET first_failure_at = COALESCE(first_failure_at, $3),
			last_failure_reason = $2
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, reason, at)
	if err != nil {
		return fmt.Errorf("failed to mark account failure: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("account", id)
	}

	return nil
}

// Deactivate flags an account inactive without removing its data
func (r *AccountRepository) Deactivate(ctx context.Context, id, reason string) error {
	query := `
		UPDATE accounts
		SET active = false, last_failure_reason = $2
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("account", id)
	}

	return nil
}

// Reactivate clears the failure streak and flags the account active again
func (r *AccountRepository) Reactivate(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET active = true, first_failure_at = NULL, last_failure_reason = NULL
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reactivate account: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("account", id)
	}

	return nil
}

// Delete removes an account and, via foreign keys, all of its derived data
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM accounts WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("account", id)
	}

	return nil
}

// CountActive returns the number of active accounts
func (r *AccountRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE active = true`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return count, nil
}
