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

// CredentialRepository handles encrypted credential persistence. Only
// ciphertext ever touches this layer; encryption and decryption live in
// the vault package.
type CredentialRepository struct {
	db *PostgresDB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *PostgresDB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert stores or replaces the credential for an account
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO credentials (account_id, ciphertext, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id)
		DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		cred.AccountID,
		cred.Ciphertext,
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	return nil
}

// Get retrieves the credential for an account
func (r *CredentialRepository) Get(ctx context.Context, accountID string) (*models.Credential, error) {
	query := `
		SELECT account_id, ciphertext, updated_at
		FROM credentials
		WHERE account_id = $1
	`

	var cred models.Credential
	err := r.db.Pool().QueryRow(ctx, query, accountID).Scan(
		&cred.AccountID,
		&cred.Ciphertext,
		&cred.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("credential", accountID)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// Delete removes the credential for an account. Missing rows are not an
// error; revocation on a 401 must be idempotent.
func (r *CredentialRepository) Delete(ctx context.Context, accountID string) error {
	query := `DELETE FROM credentials WHERE account_id = $1`

	if _, err := r.db.Pool().Exec(ctx, query, accountID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	return nil
}
