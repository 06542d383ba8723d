package syncer

import (
	"context"
	"time"

	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/storage"
)

// RepoStore adapts the storage repositories to the actor's Store interface
type RepoStore struct {
	Accounts    *storage.AccountRepository
	Credentials *storage.CredentialRepository
	Anchors     *storage.AnchorRepository
	Sync        *storage.SyncStore
}

// NewRepoStore wires the repositories behind one sync-facing surface
func NewRepoStore(db *storage.PostgresDB) *RepoStore {
	return &RepoStore{
		Accounts:    storage.NewAccountRepository(db),
		Credentials: storage.NewCredentialRepository(db),
		Anchors:     storage.NewAnchorRepository(db),
		Sync:        storage.NewSyncStore(db),
	}
}

// GetAccount retrieves an account
func (s *RepoStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return s.Accounts.Get(ctx, id)
}

// GetCredential retrieves the encrypted credential for an account
func (s *RepoStore) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	return s.Credentials.Get(ctx, id)
}

// GetAnchor retrieves the trade count anchor for an account
func (s *RepoStore) GetAnchor(ctx context.Context, id string) (*models.TradeCountAnchor, error) {
	return s.Anchors.Get(ctx, id)
}

// ApplySyncResult persists one sync pass atomically
func (s *RepoStore) ApplySyncResult(ctx context.Context, result *storage.SyncResult) error {
	return s.Sync.ApplySyncResult(ctx, result)
}

// MarkFailure records a failed sync attempt
func (s *RepoStore) MarkFailure(ctx context.Context, id, reason string, at time.Time) error {
	return s.Accounts.MarkFailure(ctx, id, reason, at)
}
