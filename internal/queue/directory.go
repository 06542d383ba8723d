package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/storage"
)

// RepoDirectory adapts the storage repositories to the dispatcher's
// Directory interface.
type RepoDirectory struct {
	accounts    *storage.AccountRepository
	credentials *storage.CredentialRepository
	policies    *storage.PolicyRepository
}

// NewRepoDirectory creates a directory over the repositories
func NewRepoDirectory(db *storage.PostgresDB) *RepoDirectory {
	return &RepoDirectory{
		accounts:    storage.NewAccountRepository(db),
		credentials: storage.NewCredentialRepository(db),
		policies:    storage.NewPolicyRepository(db),
	}
}

// GetAccount retrieves an account
func (d *RepoDirectory) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return d.accounts.Get(ctx, id)
}

// CadenceForTier resolves a tier's poll cadence from the policy table
func (d *RepoDirectory) CadenceForTier(ctx context.Context, tier int) (time.Duration, error) {
	policy, err := d.policies.Get(ctx, tier)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve cadence for tier %d: %w", tier, err)
	}
	return time.Duration(policy.CadenceSeconds) * time.Second, nil
}

// DeleteCredential removes an account's stored credential
func (d *RepoDirectory) DeleteCredential(ctx context.Context, id string) error {
	return d.credentials.Delete(ctx, id)
}

// DeactivateAccount flags an account inactive
func (d *RepoDirectory) DeactivateAccount(ctx context.Context, id, reason string) error {
	return d.accounts.Deactivate(ctx, id, reason)
}
