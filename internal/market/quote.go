// Package market orchestrates marketplace trades: listing, purchasing and
// fractionalizing certificate tokens.
package market

import (
	"math/big"
	"strings"

	"github.com/verdantgrid/irecdesk/internal/state"
	"github.com/verdantgrid/irecdesk/internal/txflow"
)

// Quote is the payment owed for a purchase, computed before submission.
//
// Division rule: price-per-token = listing price / token count with
// truncating integer division; the remainder stays inside the seller's
// quoted listing price and is not charged to fractional buyers. The
// platform fee is additive on top of the item cost, never deducted from the
// seller's price. Fee and Total are exact rationals; Payable rounds the
// total UP to the next smallest currency unit so a buyer can never
// underpay.
type Quote struct {
	ListingID     uint64   `json:"listingId"`
	Fractional    bool     `json:"fractional"`
	Amount        uint64   `json:"amount"`
	TokenCount    uint64   `json:"tokenCount,omitempty"`
	PricePerToken *big.Int `json:"pricePerToken,omitempty"`
	ItemCost      *big.Int `json:"itemCost"`
	Fee           *big.Rat `json:"-"`
	Total         *big.Rat `json:"-"`
	Payable       *big.Int `json:"payable"`

	// RemainingAtQuote pins the listing's remaining-token count the quote
	// was computed against; the purchase flow fails closed when it moves.
	RemainingAtQuote *uint64 `json:"remainingAtQuote,omitempty"`
}

// ComputeQuote derives the payment owed for a whole or fractional purchase
// of listing l at feeBps basis points.
func ComputeQuote(l state.Listing, fractional bool, amount uint64, feeBps int64) (Quote, error) {
	if l.Price == nil || l.Price.Sign() <= 0 {
		return Quote{}, txflow.Faultf(txflow.KindValidation, "", "listing %d has no price", l.ListingID)
	}
	q := Quote{ListingID: l.ListingID, Fractional: fractional, Amount: amount, RemainingAtQuote: l.RemainingTokens}

	if !fractional {
		q.Amount = 1
		q.ItemCost = new(big.Int).Set(l.Price)
	} else {
		if !l.Fractionalizable() {
			return Quote{}, txflow.Faultf(txflow.KindValidation, txflow.CodeFractionalUnavailable,
				"listing %d is not fractionalized; only whole purchase is available", l.ListingID)
		}
		if amount == 0 {
			return Quote{}, txflow.Faultf(txflow.KindValidation, "", "amount must be at least 1")
		}
		remaining := l.TokenCount()
		if l.RemainingTokens != nil {
			remaining = *l.RemainingTokens
		}
		if amount > remaining {
			return Quote{}, txflow.Faultf(txflow.KindValidation, txflow.CodeInsufficientRemaining,
				"requested %d tokens but only %d remain", amount, remaining)
		}
		q.TokenCount = l.TokenCount()
		q.PricePerToken = new(big.Int).Quo(l.Price, new(big.Int).SetUint64(q.TokenCount))
		q.ItemCost = new(big.Int).Mul(q.PricePerToken, new(big.Int).SetUint64(amount))
	}

	q.Fee = new(big.Rat).SetFrac(
		new(big.Int).Mul(q.ItemCost, big.NewInt(feeBps)),
		big.NewInt(10_000),
	)
	q.Total = new(big.Rat).Add(new(big.Rat).SetInt(q.ItemCost), q.Fee)
	q.Payable = ceilRat(q.Total)
	return q, nil
}

// ceilRat rounds a rational up to the next integer.
func ceilRat(r *big.Rat) *big.Int {
	out := new(big.Int)
	rem := new(big.Int)
	out.QuoRem(r.Num(), r.Denom(), rem)
	if rem.Sign() > 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}

// FractionalizationRequest asks to split a certificate into fixed-size
// energy fractions.
type FractionalizationRequest struct {
	TokenID        uint64 `json:"tokenId"`
	TotalEnergy    uint64 `json:"totalEnergy"`
	EnergyPerToken uint64 `json:"energyPerToken"`
	TokenName      string `json:"tokenName"`
	TokenSymbol    string `json:"tokenSymbol"`
}

// ValidateFractionalization runs the local checks that must pass before any
// submission: the chain rejects these too, but only after gas is spent.
func ValidateFractionalization(req FractionalizationRequest, minEnergyPerFraction uint64) error {
	if req.TotalEnergy == 0 || req.EnergyPerToken == 0 {
		return txflow.Faultf(txflow.KindValidation, txflow.CodeInvalidFraction,
			"total energy and energy per token must be positive")
	}
	if req.EnergyPerToken < minEnergyPerFraction {
		return txflow.Faultf(txflow.KindValidation, txflow.CodeInvalidFraction,
			"energy per token must be at least %d", minEnergyPerFraction)
	}
	if req.TotalEnergy%req.EnergyPerToken != 0 {
		return txflow.Faultf(txflow.KindValidation, txflow.CodeInvalidFraction,
			"total energy %d does not divide evenly into units of %d", req.TotalEnergy, req.EnergyPerToken)
	}
	if strings.TrimSpace(req.TokenName) == "" || strings.TrimSpace(req.TokenSymbol) == "" {
		return txflow.Faultf(txflow.KindValidation, txflow.CodeInvalidFraction,
			"fraction token name and symbol are required")
	}
	return nil
}
