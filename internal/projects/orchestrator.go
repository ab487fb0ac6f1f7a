// Package projects orchestrates project approval lifecycle and certificate
// minting against the registry contract.
package projects

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/verdantgrid/irecdesk/internal/chain"
	"github.com/verdantgrid/irecdesk/internal/ethaddr"
	"github.com/verdantgrid/irecdesk/internal/perm"
	"github.com/verdantgrid/irecdesk/internal/state"
	"github.com/verdantgrid/irecdesk/internal/txflow"
)

// Orchestrator composes capability checks, submission and tracking for
// project approval, revocation, removal and minting.
type Orchestrator struct {
	Perm      perm.Engine
	Pipeline  *txflow.Pipeline
	Refresher *state.Refresher
	Store     *state.Store
	Guard     *txflow.Guard
	Registry  common.Address
	Logger    *slog.Logger
}

// Result pairs the terminal outcome with the refreshed project list.
type Result struct {
	Outcome  txflow.Outcome  `json:"outcome"`
	Projects []state.Project `json:"projects,omitempty"`
}

// MintRequest asks to mint a certificate against an approved project.
type MintRequest struct {
	Actor          string `json:"actor"`
	ProjectAddress string `json:"projectAddress"`
	MetadataURI    string `json:"metadataUri"`
	EnergyAmount   uint64 `json:"energyAmount"`
}

// Approve approves a project. Approving an already-approved project is a
// no-op reported as success without spending gas.
func (o *Orchestrator) Approve(ctx context.Context, actor, projectAddr string) (Result, error) {
	project, err := o.validate(ctx, actor, projectAddr, false)
	if err != nil {
		return Result{}, err
	}
	if project.Approved {
		return Result{
			Outcome:  txflow.Outcome{Action: "project_approve", Status: txflow.StatusSuccess, Message: "project already approved"},
			Projects: o.Store.View().Projects,
		}, nil
	}
	return o.run(ctx, "project_approve", "approveProject", projectAddr, true)
}

// Revoke withdraws approval. Requires the same capability as approval.
func (o *Orchestrator) Revoke(ctx context.Context, actor, projectAddr string) (Result, error) {
	if _, err := o.validate(ctx, actor, projectAddr, false); err != nil {
		return Result{}, err
	}
	return o.run(ctx, "project_revoke", "revokeProject", projectAddr, false)
}

// Remove deletes the project record entirely. Stricter than revocation:
// super-admin tier only.
func (o *Orchestrator) Remove(ctx context.Context, actor, projectAddr string) (Result, error) {
	if _, err := o.validate(ctx, actor, projectAddr, true); err != nil {
		return Result{}, err
	}
	return o.run(ctx, "project_remove", "removeProject", projectAddr, false)
}

// Mint issues a certificate token against an approved project.
func (o *Orchestrator) Mint(ctx context.Context, req MintRequest) (txflow.Outcome, error) {
	project, err := o.validate(ctx, req.Actor, req.ProjectAddress, false)
	if err != nil {
		return txflow.Outcome{}, err
	}
	if !project.Approved {
		return txflow.Outcome{}, txflow.Faultf(txflow.KindValidation, "", "project %s is not approved for minting", ethaddr.Shorten(req.ProjectAddress))
	}
	if strings.TrimSpace(req.MetadataURI) == "" {
		return txflow.Outcome{}, txflow.Faultf(txflow.KindValidation, "", "metadata URI is required")
	}

	key := "mint|" + ethaddr.Normalize(req.ProjectAddress) + "|" + req.MetadataURI
	if !o.Guard.Acquire(key) {
		return txflow.Outcome{}, txflow.Faultf(txflow.KindValidation, txflow.CodeDuplicateInFlight, "an identical mint is already in flight")
	}
	defer o.Guard.Release(key)

	target, _ := ethaddr.Parse(req.ProjectAddress)
	out, err := o.Pipeline.Execute(ctx, "token_mint", txflow.Call{
		Target: o.Registry,
		ABI:    &chain.RegistryABI,
		Method: "mintCertificate",
		Args:   []any{target, req.MetadataURI, new(big.Int).SetUint64(req.EnergyAmount)},
	}, nil)
	if err != nil {
		return out, err
	}
	if out.Status == txflow.StatusSuccess {
		o.refresh(ctx)
	}
	return out, nil
}

// validate runs the shared pre-submission checks and returns the fresh
// project record. superTier selects the stricter capability requirement.
func (o *Orchestrator) validate(ctx context.Context, actor, projectAddr string, superTier bool) (state.Project, error) {
	if !ethaddr.Valid(projectAddr) {
		return state.Project{}, txflow.Faultf(txflow.KindValidation, txflow.CodeInvalidAddress, "project address %q is malformed", projectAddr)
	}
	if !ethaddr.Valid(actor) {
		return state.Project{}, txflow.Faultf(txflow.KindWalletNotConnected, "", "no connected account")
	}
	addr, _ := ethaddr.Parse(actor)
	ra, err := o.Refresher.RoleOf(ctx, addr)
	if err != nil {
		return state.Project{}, txflow.WrapFault(txflow.KindProvider, "role lookup", err)
	}
	p := o.Perm.Derive(actor, ra.IsAdmin, ra.IsSuperAdmin)
	if superTier {
		if !p.CanGrantAdmin { // super-admin tier or the initial admin
			return state.Project{}, txflow.Faultf(txflow.KindPermissionDenied, "", "removing a project requires super admin rights")
		}
	} else if !p.CanApproveProjects {
		return state.Project{}, txflow.Faultf(txflow.KindPermissionDenied, "", "project approval rights required")
	}

	fresh, err := o.Refresher.Projects(ctx)
	if err != nil {
		return state.Project{}, txflow.WrapFault(txflow.KindProvider, "project lookup", err)
	}
	for _, pr := range fresh {
		if ethaddr.Equal(pr.Address, projectAddr) {
			return pr, nil
		}
	}
	return state.Project{}, txflow.Faultf(txflow.KindValidation, txflow.CodeUnknownProject, "project %s is not registered", ethaddr.Shorten(projectAddr))
}

func (o *Orchestrator) run(ctx context.Context, action, method, projectAddr string, approvedAfter bool) (Result, error) {
	// Keyed by project alone: an approve and a revoke of the same project
	// must never be in flight together.
	key := "project|" + ethaddr.Normalize(projectAddr)
	if !o.Guard.Acquire(key) {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeDuplicateInFlight, "an operation on this project is already in flight")
	}
	defer o.Guard.Release(key)

	target, _ := ethaddr.Parse(projectAddr)
	out, err := o.Pipeline.Execute(ctx, action, txflow.Call{
		Target: o.Registry,
		ABI:    &chain.RegistryABI,
		Method: method,
		Args:   []any{target},
	}, func(pending txflow.Outcome) {
		addr := ethaddr.Normalize(projectAddr)
		o.Store.AddOverlay(state.Overlay{ID: pending.OpID, Apply: func(s *state.Snapshot) {
			for i := range s.Projects {
				if ethaddr.Equal(s.Projects[i].Address, addr) {
					s.Projects[i].Approved = approvedAfter
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
		return Result{Outcome: out, Projects: o.refresh(ctx)}, nil
	}
	return Result{Outcome: out}, nil
}

func (o *Orchestrator) refresh(ctx context.Context) []state.Project {
	snap, err := o.Refresher.Refresh(ctx)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("post-approval refresh failed, serving cached view", "err", err)
		}
		return o.Store.View().Projects
	}
	o.Store.SetSnapshot(snap)
	return snap.Projects
}
