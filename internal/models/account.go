// Package models defines the persisted data model for the trader mirror
// service.
package models

import "time"

// AssetClass classifies what an account has traded. Once an account has
// touched both equities and crypto it stays "both" permanently.
type AssetClass string

const (
	AssetClassEquity AssetClass = "equity"
	AssetClassCrypto AssetClass = "crypto"
	AssetClassBoth   AssetClass = "both"
)

// Merge applies the sticky classification rule
func (a AssetClass) Merge(observed AssetClass) AssetClass {
	if a == AssetClassBoth || observed == AssetClassBoth {
		return AssetClassBoth
	}
	if a == "" {
		return observed
	}
	if observed == "" || observed == a {
		return a
	}
	return AssetClassBoth
}

// Account represents one tracked trading account. One row per entity;
// created on registration, mutated by every sync pass and by the reaper.
type Account struct {
	ID                string     `json:"id" db:"id"`
	AssetClass        AssetClass `json:"assetClass" db:"asset_class"`
	Active            bool       `json:"active" db:"active"`
	SyncTier          int        `json:"syncTier" db:"sync_tier"`
	LastSyncedAt      *time.Time `json:"lastSyncedAt,omitempty" db:"last_synced_at"`
	LastTradeAt       *time.Time `json:"lastTradeAt,omitempty" db:"last_trade_at"`
	FirstFailureAt    *time.Time `json:"firstFailureAt,omitempty" db:"first_failure_at"`
	LastFailureReason *string    `json:"lastFailureReason,omitempty" db:"last_failure_reason"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
}
