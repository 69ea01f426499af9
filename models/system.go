package models

import (
	"fmt"
	"time"
)

// VaultStateENUMType vault storage lifecycle state ENUM
type VaultStateENUMType string

const (
	// VaultStatePreInit storage opened before any vault was created
	VaultStatePreInit VaultStateENUMType = "PRE_INITIALIZATION"
	// VaultStateInit vault is performing first time initialization
	VaultStateInit VaultStateENUMType = "INITIALIZING"
	// VaultStateReady vault fully initialized
	VaultStateReady VaultStateENUMType = "READY"
)

// CurrentVaultVersion version recorded by newly initialized vaults
const CurrentVaultVersion = 1

// VaultParams vault operating parameters singleton
type VaultParams struct {
	// ID param entry ID. It must always be vault-parameters
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,oneof=vault-parameters"`

	// State vault storage lifecycle state
	State VaultStateENUMType `json:"state" gorm:"column:state;not null" validate:"required,vault_state"`

	// Version persisted schema generation of this vault
	Version int `json:"version" gorm:"column:version;not null" validate:"gte=0"`

	// SchemaHash content hash of the data table CREATE statements, recorded
	// on first mount. A later mount refuses to proceed if it differs.
	SchemaHash string `json:"schema_hash" gorm:"column:schema_hash"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateNextState verify can transition to new state
func (p *VaultParams) ValidateNextState(newState VaultStateENUMType) error {
	statesWithTransitions := map[VaultStateENUMType]map[VaultStateENUMType]bool{
		VaultStatePreInit: {
			VaultStatePreInit: true,
			VaultStateInit:    true,
		},
		VaultStateInit: {
			VaultStateInit:  true,
			VaultStateReady: true,
		},
		VaultStateReady: {
			VaultStateReady: true,
			// Destroying the vault returns storage to the pre-init state
			VaultStatePreInit: true,
		},
	}

	availableNextStates, ok := statesWithTransitions[p.State]
	if !ok {
		return fmt.Errorf("vault can't transition out of state '%s'", p.State)
	}

	if _, ok := availableNextStates[newState]; !ok {
		return fmt.Errorf("vault can't transition from '%s' to '%s'", p.State, newState)
	}

	return nil
}
