// Package registry handles account onboarding: registration, token
// re-authorization and revocation.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/trader-mirror/internal/errors"
	"github.com/trader-mirror/internal/logging"
	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/vault"
)

// Accounts is the account persistence surface
type Accounts interface {
	Create(ctx context.Context, account *models.Account) error
	Get(ctx context.Context, id string) (*models.Account, error)
	Reactivate(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id, reason string) error
}

// Credentials is the credential persistence surface
type Credentials interface {
	Upsert(ctx context.Context, cred *models.Credential) error
	Delete(ctx context.Context, accountID string) error
}

// Schedule seeds and cancels sync slots
type Schedule interface {
	Schedule(ctx context.Context, accountID string, delay time.Duration) error
	Cancel(ctx context.Context, accountID string) error
}

// Service registers accounts and manages their credentials. New accounts
// start in the lowest tier and climb through reconciliation; the first
// sync is seeded immediately so a fresh registration shows data without
// waiting a full cadence.
type Service struct {
	accounts    Accounts
	credentials Credentials
	schedule    Schedule
	vault       *vault.Vault
	logger      *logging.Logger
}

// NewService creates a registry service
func NewService(accounts Accounts, credentials Credentials, schedule Schedule, v *vault.Vault, logger *logging.Logger) (*Service, error) {
	if accounts == nil || credentials == nil || schedule == nil {
		return nil, fmt.Errorf("accounts, credentials and schedule are required")
	}
	if v == nil {
		return nil, fmt.Errorf("vault is required")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Service{
		accounts:    accounts,
		credentials: credentials,
		schedule:    schedule,
		vault:       v,
		logger:      logger,
	}, nil
}

// Register onboards a new account for the given access token and returns
// its id. The token is encrypted bound to the new id before anything is
// persisted.
func (s *Service) Register(ctx context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, apperrors.NewValidationError("access token is required")
	}

	accountID := uuid.NewString()

	ciphertext, err := s.vault.Encrypt(token, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	account := &models.Account{
		ID:        accountID,
		Active:    true,
		SyncTier:  5,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	if err := s.credentials.Upsert(ctx, &models.Credential{
		AccountID:  accountID,
		Ciphertext: ciphertext,
	}); err != nil {
		return nil, err
	}

	if err := s.schedule.Schedule(ctx, accountID, 0); err != nil {
		// The account is persisted; the reconciliation cycle will pick it
		// up as stale even if the immediate seed fails.
		s.logger.WithField("account", accountID).WithError(err).Warn("Failed to seed initial sync")
	}

	s.logger.WithField("account", accountID).Info("Account registered")
	return account, nil
}

// Reauthorize replaces an account's credential after the old one was
// revoked, reactivates it and restarts its sync loop.
func (s *Service) Reauthorize(ctx context.Context, accountID, token string) error {
	if token == "" {
		return apperrors.NewValidationError("access token is required")
	}

	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return err
	}

	ciphertext, err := s.vault.Encrypt(token, accountID)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	if err := s.credentials.Upsert(ctx, &models.Credential{
		AccountID:  accountID,
		Ciphertext: ciphertext,
	}); err != nil {
		return err
	}
	if err := s.accounts.Reactivate(ctx, accountID); err != nil {
		return err
	}

	if err := s.schedule.Schedule(ctx, accountID, 0); err != nil {
		s.logger.WithField("account", accountID).WithError(err).Warn("Failed to seed sync after reauthorization")
	}

	s.logger.WithField("account", accountID).Info("Account reauthorized")
	return nil
}

// Revoke drops an account's credential and stops its sync loop. The
// account row and its derived data survive until the reaper ages them out
// or the owner reauthorizes.
func (s *Service) Revoke(ctx context.Context, accountID string) error {
	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return err
	}

	if err := s.credentials.Delete(ctx, accountID); err != nil {
		return err
	}
	if err := s.accounts.Deactivate(ctx, accountID, "credential revoked by owner"); err != nil {
		return err
	}
	if err := s.schedule.Cancel(ctx, accountID); err != nil {
		s.logger.WithField("account", accountID).WithError(err).Warn("Failed to cancel schedule after revocation")
	}

	s.logger.WithField("account", accountID).Info("Account revoked")
	return nil
}
