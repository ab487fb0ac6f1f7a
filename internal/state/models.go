// Package state keeps the local view of chain truth: the last refreshed
// snapshot plus transient optimistic overlays for in-flight operations.
package state

import (
	"math/big"
	"sort"
	"strings"
	"time"
)

// RoleAssignment is one row of the admin list. IsInitialSuperAdmin is
// derived from the configured constant, never read from chain.
type RoleAssignment struct {
	Address             string `json:"address"`
	IsAdmin             bool   `json:"isAdmin"`
	IsSuperAdmin        bool   `json:"isSuperAdmin"`
	IsInitialSuperAdmin bool   `json:"isInitialSuperAdmin"`
	DisplayName         string `json:"displayName,omitempty"`
}

// PrivilegeLevel orders admins: initial super admin 3, super admin 2,
// admin 1, none 0.
func (r RoleAssignment) PrivilegeLevel() int {
	switch {
	case r.IsInitialSuperAdmin:
		return 3
	case r.IsSuperAdmin:
		return 2
	case r.IsAdmin:
		return 1
	default:
		return 0
	}
}

// SortAdmins sorts by privilege level descending, then address ascending
// for a stable display order.
func SortAdmins(admins []RoleAssignment) {
	sort.SliceStable(admins, func(i, j int) bool {
		pi, pj := admins[i].PrivilegeLevel(), admins[j].PrivilegeLevel()
		if pi != pj {
			return pi > pj
		}
		return strings.ToLower(admins[i].Address) < strings.ToLower(admins[j].Address)
	})
}

// Project mirrors the registry's project record.
type Project struct {
	Address         string  `json:"address"`
	Approved        bool    `json:"approved"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	EnergyGenerated *uint64 `json:"energyGenerated,omitempty"`
}

// Token mirrors a minted certificate. Ownership is observed, never mutated
// locally.
type Token struct {
	TokenID        uint64  `json:"tokenId"`
	Owner          string  `json:"owner"`
	ProjectAddress string  `json:"projectAddress"`
	MetadataURI    string  `json:"metadataUri"`
	EnergyAmount   *uint64 `json:"energyAmount,omitempty"`
}

// Listing mirrors a marketplace listing. Price is in the smallest currency
// unit.
type Listing struct {
	ListingID       uint64   `json:"listingId"`
	Seller          string   `json:"seller"`
	TokenID         uint64   `json:"tokenId"`
	Price           *big.Int `json:"price"`
	Active          bool     `json:"active"`
	TotalEnergy     uint64   `json:"totalEnergy"`
	EnergyPerToken  uint64   `json:"energyPerToken"`
	RemainingTokens *uint64  `json:"remainingTokens,omitempty"`
}

// Fractionalizable reports whether fractional purchase is valid at all.
// Zero energy-per-token or zero total energy means whole-item only.
func (l Listing) Fractionalizable() bool {
	return l.EnergyPerToken > 0 && l.TotalEnergy > 0
}

// TokenCount is the number of fractions the listing divides into.
func (l Listing) TokenCount() uint64 {
	if !l.Fractionalizable() {
		return 0
	}
	return l.TotalEnergy / l.EnergyPerToken
}

// Snapshot is one coherent view of chain state.
type Snapshot struct {
	Admins      []RoleAssignment `json:"admins"`
	Projects    []Project        `json:"projects"`
	Tokens      []Token          `json:"tokens"`
	Listings    []Listing        `json:"listings"`
	RefreshedAt time.Time        `json:"refreshedAt"`
}

// FindProject returns the cached project for addr, case-insensitively.
func (s Snapshot) FindProject(addr string) (Project, bool) {
	for _, p := range s.Projects {
		if strings.EqualFold(p.Address, addr) {
			return p, true
		}
	}
	return Project{}, false
}

// FindListing returns the cached listing by id.
func (s Snapshot) FindListing(id uint64) (Listing, bool) {
	for _, l := range s.Listings {
		if l.ListingID == id {
			return l, true
		}
	}
	return Listing{}, false
}
