package state

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/verdantgrid/irecdesk/internal/chain"
	"github.com/verdantgrid/irecdesk/internal/ethaddr"
	"github.com/verdantgrid/irecdesk/internal/perm"
)

// NameSource supplies display names for admin addresses. Absence must yield
// a usable fallback, never an error.
type NameSource interface {
	DisplayName(addr string) string
}

// packUnpacker is the slice of abi.ABI the read path needs.
type packUnpacker interface {
	Pack(name string, args ...any) ([]byte, error)
	Unpack(name string, data []byte) ([]any, error)
}

// Refresher rebuilds snapshots from chain reads. All reads are idempotent
// and may be retried freely.
type Refresher struct {
	Reader   chain.Reader
	Registry common.Address
	Market   common.Address
	Perm     perm.Engine
	Names    NameSource
	Logger   *slog.Logger
}

// Refresh reads a full coherent snapshot.
func (r *Refresher) Refresh(ctx context.Context) (Snapshot, error) {
	admins, err := r.Admins(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("refresh admins: %w", err)
	}
	projects, err := r.Projects(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("refresh projects: %w", err)
	}
	tokens, err := r.Tokens(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("refresh tokens: %w", err)
	}
	listings, err := r.Listings(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("refresh listings: %w", err)
	}
	return Snapshot{
		Admins:      admins,
		Projects:    projects,
		Tokens:      tokens,
		Listings:    listings,
		RefreshedAt: time.Now(),
	}, nil
}

// Admins reads the admin list with per-address role flags, sorted for
// display.
func (r *Refresher) Admins(ctx context.Context) ([]RoleAssignment, error) {
	out, err := r.call(ctx, r.Registry, chain.RegistryABI, "getAdmins")
	if err != nil {
		return nil, err
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("getAdmins: unexpected return type %T", out[0])
	}

	admins := make([]RoleAssignment, 0, len(addrs)+1)
	seenInitial := false
	for _, a := range addrs {
		ra, err := r.roleOf(ctx, a)
		if err != nil {
			return nil, err
		}
		seenInitial = seenInitial || ra.IsInitialSuperAdmin
		admins = append(admins, ra)
	}
	// The initial super admin is always part of the view, listed or not.
	if !seenInitial {
		ra, err := r.roleOf(ctx, r.Perm.InitialSuperAdmin)
		if err != nil {
			return nil, err
		}
		admins = append(admins, ra)
	}
	SortAdmins(admins)
	return admins, nil
}

// RoleOf reads the current role flags for one address. Used by the
// orchestrators' capability checks against live chain state.
func (r *Refresher) RoleOf(ctx context.Context, a common.Address) (RoleAssignment, error) {
	return r.roleOf(ctx, a)
}

func (r *Refresher) roleOf(ctx context.Context, a common.Address) (RoleAssignment, error) {
	isAdmin, err := r.callBool(ctx, r.Registry, chain.RegistryABI, "isAdmin", a)
	if err != nil {
		return RoleAssignment{}, err
	}
	isSuper, err := r.callBool(ctx, r.Registry, chain.RegistryABI, "isSuperAdmin", a)
	if err != nil {
		return RoleAssignment{}, err
	}
	hex := a.Hex()
	ra := RoleAssignment{
		Address:             ethaddr.Normalize(hex),
		IsAdmin:             isAdmin,
		IsSuperAdmin:        isSuper,
		IsInitialSuperAdmin: r.Perm.IsInitial(hex),
	}
	if r.Names != nil {
		ra.DisplayName = r.Names.DisplayName(ra.Address)
	}
	return ra, nil
}

// Projects reads every registered project record.
func (r *Refresher) Projects(ctx context.Context) ([]Project, error) {
	out, err := r.call(ctx, r.Registry, chain.RegistryABI, "getProjects")
	if err != nil {
		return nil, err
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("getProjects: unexpected return type %T", out[0])
	}
	projects := make([]Project, 0, len(addrs))
	for _, a := range addrs {
		vals, err := r.call(ctx, r.Registry, chain.RegistryABI, "getProject", a)
		if err != nil {
			return nil, err
		}
		p := Project{Address: ethaddr.Normalize(a.Hex())}
		p.Approved, _ = vals[0].(bool)
		p.Name, _ = vals[1].(string)
		p.Description, _ = vals[2].(string)
		if e, ok := vals[3].(*big.Int); ok && e.Sign() > 0 && e.IsUint64() {
			v := e.Uint64()
			p.EnergyGenerated = &v
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// Tokens reads every minted certificate.
func (r *Refresher) Tokens(ctx context.Context) ([]Token, error) {
	total, err := r.callUint64(ctx, r.Registry, chain.RegistryABI, "totalCertificates")
	if err != nil {
		return nil, err
	}
	tokens := make([]Token, 0, total)
	for id := uint64(0); id < total; id++ {
		vals, err := r.call(ctx, r.Registry, chain.RegistryABI, "getCertificate", new(big.Int).SetUint64(id))
		if err != nil {
			return nil, err
		}
		t := Token{TokenID: id}
		if owner, ok := vals[0].(common.Address); ok {
			t.Owner = ethaddr.Normalize(owner.Hex())
		}
		if proj, ok := vals[1].(common.Address); ok {
			t.ProjectAddress = ethaddr.Normalize(proj.Hex())
		}
		t.MetadataURI, _ = vals[2].(string)
		if e, ok := vals[3].(*big.Int); ok && e.Sign() > 0 && e.IsUint64() {
			v := e.Uint64()
			t.EnergyAmount = &v
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// Listings reads every marketplace listing.
func (r *Refresher) Listings(ctx context.Context) ([]Listing, error) {
	count, err := r.callUint64(ctx, r.Market, chain.MarketABI, "listingCount")
	if err != nil {
		return nil, err
	}
	listings := make([]Listing, 0, count)
	for id := uint64(0); id < count; id++ {
		l, err := r.Listing(ctx, id)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, nil
}

// Listing reads one listing; used by the purchase flow for its fresh
// pre-submission re-read.
func (r *Refresher) Listing(ctx context.Context, id uint64) (Listing, error) {
	vals, err := r.call(ctx, r.Market, chain.MarketABI, "getListing", new(big.Int).SetUint64(id))
	if err != nil {
		return Listing{}, err
	}
	l := Listing{ListingID: id}
	if seller, ok := vals[0].(common.Address); ok {
		l.Seller = ethaddr.Normalize(seller.Hex())
	}
	if tid, ok := vals[1].(*big.Int); ok {
		l.TokenID = tid.Uint64()
	}
	if price, ok := vals[2].(*big.Int); ok {
		l.Price = price
	}
	l.Active, _ = vals[3].(bool)
	if te, ok := vals[4].(*big.Int); ok {
		l.TotalEnergy = te.Uint64()
	}
	if ept, ok := vals[5].(*big.Int); ok {
		l.EnergyPerToken = ept.Uint64()
	}
	if rem, ok := vals[6].(*big.Int); ok && rem.IsUint64() {
		v := rem.Uint64()
		l.RemainingTokens = &v
	}
	return l, nil
}

func (r *Refresher) call(ctx context.Context, target common.Address, a packUnpacker, method string, args ...any) ([]any, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	ret, err := chain.CallWithRetry(ctx, r.Reader, ethereum.CallMsg{To: &target, Data: data})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := a.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("call %s: empty return", method)
	}
	return vals, nil
}

func (r *Refresher) callBool(ctx context.Context, target common.Address, a packUnpacker, method string, args ...any) (bool, error) {
	vals, err := r.call(ctx, target, a, method, args...)
	if err != nil {
		return false, err
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected return type %T", method, vals[0])
	}
	return b, nil
}

func (r *Refresher) callUint64(ctx context.Context, target common.Address, a packUnpacker, method string, args ...any) (uint64, error) {
	vals, err := r.call(ctx, target, a, method, args...)
	if err != nil {
		return 0, err
	}
	n, ok := vals[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("%s: unexpected return %v", method, vals[0])
	}
	return n.Uint64(), nil
}
