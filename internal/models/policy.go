package models

import "time"

// Credential is an encrypted access token bound to one account. The
// ciphertext carries the account id as AEAD additional data, so a row
// swapped between accounts fails to decrypt.
type Credential struct {
	AccountID  string    `json:"accountId" db:"account_id"`
	Ciphertext string    `json:"-" db:"ciphertext"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// SyncPolicy is a per-tier cadence override persisted in the policy table.
type SyncPolicy struct {
	Tier                int `json:"tier" db:"tier"`
	CadenceSeconds      int `json:"cadenceSeconds" db:"cadence_seconds"`
	StalenessMultiplier int `json:"stalenessMultiplier" db:"staleness_multiplier"`
}
