package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/trader-mirror/internal/errors"
	"github.com/trader-mirror/internal/models"
)

// PolicyRepository handles per-tier sync cadence persistence. Defaults are
// seeded by migration; operators can tune cadences without a deploy.
type PolicyRepository struct {
	db *PostgresDB
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *PostgresDB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// List retrieves all sync policies ordered by tier
func (r *PolicyRepository) List(ctx context.Context) ([]models.SyncPolicy, error) {
	query := `
		SELECT tier, cadence_seconds, staleness_multiplier
		FROM sync_policy
		ORDER BY tier ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync policies: %w", err)
	}
	defer rows.Close()

	var policies []models.SyncPolicy
	for rows.Next() {
		var p models.SyncPolicy
		if err := rows.Scan(&p.Tier, &p.CadenceSeconds, &p.StalenessMultiplier); err != nil {
			return nil, fmt.Errorf("failed to scan sync policy: %w", err)
		}
		policies = append(policies, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync policies: %w", err)
	}

	return policies, nil
}

// Get retrieves the policy for a tier
func (r *PolicyRepository) Get(ctx context.Context, tier int) (*models.SyncPolicy, error) {
	query := `
		SELECT tier, cadence_seconds, staleness_multiplier
		FROM sync_policy
		WHERE tier = $1
	`

	var policy models.SyncPolicy
	err := r.db.Pool().QueryRow(ctx, query, tier).Scan(
		&policy.Tier,
		&policy.CadenceSeconds,
		&policy.StalenessMultiplier,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("sync policy", fmt.Sprintf("tier %d", tier))
		}
		return nil, fmt.Errorf("failed to get sync policy: %w", err)
	}

	return &policy, nil
}

// Upsert stores or replaces a tier policy after validating it
func (r *PolicyRepository) Upsert(ctx context.Context, policy *models.SyncPolicy) error {
	if policy.Tier < 1 || policy.Tier > 5 {
		return apperrors.NewValidationError(fmt.Sprintf("tier must be in [1, 5], got %d", policy.Tier))
	}
	if policy.CadenceSeconds <= 0 {
		return apperrors.NewValidationError(fmt.Sprintf("cadence must be positive, got %d", policy.CadenceSeconds))
	}
	if policy.StalenessMultiplier <= 0 {
		return apperrors.NewValidationError(fmt.Sprintf("staleness multiplier must be positive, got %d", policy.StalenessMultiplier))
	}

	query := `
		INSERT INTO sync_policy (tier, cadence_seconds, staleness_multiplier)
		VALUES ($1, $2, $3)
		ON CONFLICT (tier)
		DO UPDATE SET
			cadence_seconds = EXCLUDED.cadence_seconds,
			staleness_multiplier = EXCLUDED.staleness_multiplier
	`

	_, err := r.db.Pool().Exec(ctx, query,
		policy.Tier,
		policy.CadenceSeconds,
		policy.StalenessMultiplier,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert sync policy: %w", err)
	}

	return nil
}
