// Package roles orchestrates admin role grants and revocations: validate,
// check capability, submit, track, and refresh the admin list from chain.
package roles

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/verdantgrid/irecdesk/internal/chain"
	"github.com/verdantgrid/irecdesk/internal/ethaddr"
	"github.com/verdantgrid/irecdesk/internal/perm"
	"github.com/verdantgrid/irecdesk/internal/state"
	"github.com/verdantgrid/irecdesk/internal/txflow"
)

// Tier names the role level an operation targets.
type Tier string

const (
	TierAdmin      Tier = "admin"
	TierSuperAdmin Tier = "super_admin"
)

func (t Tier) chainTier() uint8 {
	if t == TierSuperAdmin {
		return chain.TierSuperAdmin
	}
	return chain.TierAdmin
}

// GrantRequest asks to grant a role to an address.
type GrantRequest struct {
	Actor       string `json:"actor"`
	Address     string `json:"address"`
	DisplayName string `json:"displayName"`
	Tier        Tier   `json:"tier"`
}

// RevokeRequest asks to revoke a role from an address.
type RevokeRequest struct {
	Actor   string `json:"actor"`
	Address string `json:"address"`
	Tier    Tier   `json:"tier"`
}

// NameWriter persists display names alongside successful grants.
type NameWriter interface {
	Set(ctx context.Context, addr, name string) error
}

// Orchestrator composes permission checks, submission and tracking for role
// changes.
type Orchestrator struct {
	Perm      perm.Engine
	Pipeline  *txflow.Pipeline
	Refresher *state.Refresher
	Store     *state.Store
	Guard     *txflow.Guard
	Names     NameWriter
	Registry  common.Address
	Logger    *slog.Logger
}

// Result pairs the terminal outcome with the refreshed admin list.
type Result struct {
	Outcome txflow.Outcome         `json:"outcome"`
	Admins  []state.RoleAssignment `json:"admins,omitempty"`
}

// Grant grants req.Tier to req.Address.
func (o *Orchestrator) Grant(ctx context.Context, req GrantRequest) (Result, error) {
	if !ethaddr.Valid(req.Address) {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeInvalidAddress, "address %q is malformed", req.Address)
	}
	if len(strings.TrimSpace(req.DisplayName)) < 2 {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeInvalidName, "display name must be at least 2 characters")
	}
	p, err := o.actorPermissions(ctx, req.Actor)
	if err != nil {
		return Result{}, err
	}
	if req.Tier == TierSuperAdmin && !p.CanGrantSuperAdmin {
		return Result{}, txflow.Faultf(txflow.KindPermissionDenied, "", "only the initial super admin may grant super admin")
	}
	if req.Tier != TierSuperAdmin && !p.CanGrantAdmin {
		return Result{}, txflow.Faultf(txflow.KindPermissionDenied, "", "granting admin requires super admin rights")
	}

	key := opKey(req.Address, req.Tier)
	if !o.Guard.Acquire(key) {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeDuplicateInFlight, "a role change for this address is already in flight")
	}
	defer o.Guard.Release(key)

	target, _ := ethaddr.Parse(req.Address)
	call := txflow.Call{
		Target: o.Registry,
		ABI:    &chain.RegistryABI,
		Method: "grantRole",
		Args:   []any{target, req.Tier.chainTier()},
	}
	out, err := o.Pipeline.Execute(ctx, "role_grant", call, func(pending txflow.Outcome) {
		addr := ethaddr.Normalize(req.Address)
		name := strings.TrimSpace(req.DisplayName)
		tier := req.Tier
		o.Store.AddOverlay(state.Overlay{ID: pending.OpID, Apply: func(s *state.Snapshot) {
			for i := range s.Admins {
				if ethaddr.Equal(s.Admins[i].Address, addr) {
					applyTier(&s.Admins[i], tier, true)
					return
				}
			}
			ra := state.RoleAssignment{Address: addr, DisplayName: name}
			applyTier(&ra, tier, true)
			s.Admins = append(s.Admins, ra)
			state.SortAdmins(s.Admins)
		}})
	})
	o.Store.DropOverlay(out.OpID)
	if err != nil {
		return Result{Outcome: out}, err
	}
	if out.Status == txflow.StatusSuccess {
		if o.Names != nil {
			if nerr := o.Names.Set(ctx, req.Address, req.DisplayName); nerr != nil && o.Logger != nil {
				o.Logger.Warn("display name not persisted", "address", req.Address, "err", nerr)
			}
		}
		return Result{Outcome: out, Admins: o.refreshAdmins(ctx)}, nil
	}
	return Result{Outcome: out}, nil
}

// Revoke removes req.Tier from req.Address. An actor can never revoke their
// own role, and the initial super admin's role can never be revoked.
func (o *Orchestrator) Revoke(ctx context.Context, req RevokeRequest) (Result, error) {
	if !ethaddr.Valid(req.Address) {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeInvalidAddress, "address %q is malformed", req.Address)
	}
	if ethaddr.Equal(req.Actor, req.Address) {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeCannotRevokeSelf, "you cannot revoke your own role")
	}
	if o.Perm.IsInitial(req.Address) {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeProtectedRole, "the initial super admin role is immutable")
	}
	p, err := o.actorPermissions(ctx, req.Actor)
	if err != nil {
		return Result{}, err
	}
	if req.Tier == TierSuperAdmin && !p.CanGrantSuperAdmin {
		return Result{}, txflow.Faultf(txflow.KindPermissionDenied, "", "only the initial super admin may revoke super admin")
	}
	if req.Tier != TierSuperAdmin && !p.CanGrantAdmin {
		return Result{}, txflow.Faultf(txflow.KindPermissionDenied, "", "revoking admin requires super admin rights")
	}

	key := opKey(req.Address, req.Tier)
	if !o.Guard.Acquire(key) {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeDuplicateInFlight, "a role change for this address is already in flight")
	}
	defer o.Guard.Release(key)

	target, _ := ethaddr.Parse(req.Address)
	call := txflow.Call{
		Target: o.Registry,
		ABI:    &chain.RegistryABI,
		Method: "revokeRole",
		Args:   []any{target, req.Tier.chainTier()},
	}
	out, err := o.Pipeline.Execute(ctx, "role_revoke", call, func(pending txflow.Outcome) {
		addr := ethaddr.Normalize(req.Address)
		tier := req.Tier
		o.Store.AddOverlay(state.Overlay{ID: pending.OpID, Apply: func(s *state.Snapshot) {
			for i := range s.Admins {
				if ethaddr.Equal(s.Admins[i].Address, addr) {
					applyTier(&s.Admins[i], tier, false)
					return
				}
			}
		}})
	})
	o.Store.DropOverlay(out.OpID)
	if err != nil {
		return Result{Outcome: out}, err
	}
	if out.Status == txflow.StatusSuccess {
		return Result{Outcome: out, Admins: o.refreshAdmins(ctx)}, nil
	}
	return Result{Outcome: out}, nil
}

// actorPermissions derives the caller's capability set from live chain
// role flags. Every capability decision funnels through perm.Engine.
func (o *Orchestrator) actorPermissions(ctx context.Context, actor string) (perm.Permissions, error) {
	if !ethaddr.Valid(actor) {
		return perm.Permissions{}, txflow.Faultf(txflow.KindWalletNotConnected, "", "no connected account")
	}
	addr, _ := ethaddr.Parse(actor)
	ra, err := o.Refresher.RoleOf(ctx, addr)
	if err != nil {
		return perm.Permissions{}, txflow.WrapFault(txflow.KindProvider, "role lookup", err)
	}
	return o.Perm.Derive(actor, ra.IsAdmin, ra.IsSuperAdmin), nil
}

// refreshAdmins re-reads the admin list after a confirmed role change; role
// changes fan out into derived fields, so a local patch is not enough.
func (o *Orchestrator) refreshAdmins(ctx context.Context) []state.RoleAssignment {
	snap, err := o.Refresher.Refresh(ctx)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("post-grant refresh failed, serving cached view", "err", err)
		}
		return o.Store.View().Admins
	}
	o.Store.SetSnapshot(snap)
	return snap.Admins
}

func applyTier(ra *state.RoleAssignment, t Tier, val bool) {
	if t == TierSuperAdmin {
		ra.IsSuperAdmin = val
	} else {
		ra.IsAdmin = val
	}
}

func opKey(addr string, t Tier) string {
	return ethaddr.Normalize(addr) + "|" + string(t)
}
