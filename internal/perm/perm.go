// Package perm is the single source of truth for capability derivation.
// Every surface consults Derive; no caller may inline its own predicate —
// that is exactly the class of drift this package exists to kill.
package perm

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Permissions is the derived capability set. Pure output, never persisted;
// recompute whenever the connected address or observed roles change.
type Permissions struct {
	IsInitialSuperAdmin bool `json:"isInitialSuperAdmin"`
	CanGrantAdmin       bool `json:"canGrantAdmin"`
	CanGrantSuperAdmin  bool `json:"canGrantSuperAdmin"`
	CanApproveProjects  bool `json:"canApproveProjects"`
	CanMintTokens       bool `json:"canMintTokens"`
}

// Engine carries the one immutable address the whole policy pivots on.
type Engine struct {
	InitialSuperAdmin common.Address
}

// Derive computes permissions for a possibly-absent connected address and
// the two on-chain role booleans. Deterministic and case-insensitive in the
// address. No address yields the all-false set.
func (e Engine) Derive(connected string, isAdmin, isSuperAdmin bool) Permissions {
	var p Permissions
	if strings.TrimSpace(connected) != "" {
		p.IsInitialSuperAdmin = strings.EqualFold(
			strings.TrimSpace(connected), e.InitialSuperAdmin.Hex())
	}
	// Only the immutable initial admin may create new super admins.
	p.CanGrantSuperAdmin = p.IsInitialSuperAdmin
	p.CanGrantAdmin = isSuperAdmin || p.IsInitialSuperAdmin
	p.CanApproveProjects = isAdmin || isSuperAdmin || p.IsInitialSuperAdmin
	p.CanMintTokens = p.CanApproveProjects
	return p
}

// IsInitial reports whether addr is the immutable initial super admin.
func (e Engine) IsInitial(addr string) bool {
	return strings.EqualFold(strings.TrimSpace(addr), e.InitialSuperAdmin.Hex())
}
