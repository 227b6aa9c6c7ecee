package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCollateral AccountSubType = iota
	SubTypeMargin

	// System sub-types
	SubTypeSystemTreasury
	SubTypeSystemClearing

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AccountKey is the in-memory key for balance tracking. A single unit of
// account is assumed, so there is no asset dimension.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // owner UUID for user accounts
	SubType  AccountSubType
	Market   string // set for per-market accounts (margin, clearing)
}

// UserCollateral is the owner's free collateral.
func UserCollateral(owner uuid.UUID) AccountKey {
	return AccountKey{Scope: AccountScopeUser, EntityID: owner, SubType: SubTypeCollateral}
}

// UserMargin is the margin posted by owner to its position in market.
func UserMargin(owner uuid.UUID, market string) AccountKey {
	return AccountKey{Scope: AccountScopeUser, EntityID: owner, SubType: SubTypeMargin, Market: market}
}

// Treasury receives trading and liquidation fees.
func Treasury() AccountKey {
	return AccountKey{Scope: AccountScopeSystem, SubType: SubTypeSystemTreasury}
}

// Clearing is the per-market pool that pays and receives realized P&L.
func Clearing(market string) AccountKey {
	return AccountKey{Scope: AccountScopeSystem, SubType: SubTypeSystemClearing, Market: market}
}

// ExternalDeposits is the boundary account funding deposits.
func ExternalDeposits() AccountKey {
	return AccountKey{Scope: AccountScopeExternal, SubType: SubTypeExternalDeposits}
}

// ExternalWithdrawals is the boundary account receiving withdrawals.
func ExternalWithdrawals() AccountKey {
	return AccountKey{Scope: AccountScopeExternal, SubType: SubTypeExternalWithdrawals}
}

// IsUser reports whether the account belongs to a participant. User
// accounts may never go negative.
func (k AccountKey) IsUser() bool {
	return k.Scope == AccountScopeUser
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		if k.Market != "" {
			return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), k.Market)
		}
		return fmt.Sprintf("user:%s:%s", uid.String(), k.subTypeName())
	case AccountScopeSystem:
		if k.Market != "" {
			return fmt.Sprintf("system:%s:%s", k.subTypeName(), k.Market)
		}
		return fmt.Sprintf("system:%s", k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeMargin:
		return "margin"
	case SubTypeSystemTreasury:
		return "treasury"
	case SubTypeSystemClearing:
		return "clearing"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}
