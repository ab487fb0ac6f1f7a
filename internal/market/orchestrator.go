package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/verdantgrid/irecdesk/internal/chain"
	"github.com/verdantgrid/irecdesk/internal/ethaddr"
	"github.com/verdantgrid/irecdesk/internal/state"
	"github.com/verdantgrid/irecdesk/internal/txflow"
)

// Orchestrator composes submission and tracking for the three marketplace
// flows. Token ownership checks are delegated to the contract; local
// validation covers what can be checked without it.
type Orchestrator struct {
	Pipeline  *txflow.Pipeline
	Refresher *state.Refresher
	Store     *state.Store
	Guard     *txflow.Guard
	Market    common.Address
	FeeBps    int64
	MinUnit   uint64
	Logger    *slog.Logger
}

// PurchaseRequest asks to buy a listing, whole or fractionally.
// ExpectedRemaining carries the remaining-token count the buyer quoted
// against; the flow fails closed when the listing moved since then.
type PurchaseRequest struct {
	Actor             string  `json:"actor"`
	ListingID         uint64  `json:"listingId"`
	Fractional        bool    `json:"fractional"`
	Amount            uint64  `json:"amount"`
	ExpectedRemaining *uint64 `json:"expectedRemaining,omitempty"`
}

// Result pairs the terminal outcome with the refreshed listings.
type Result struct {
	Outcome  txflow.Outcome  `json:"outcome"`
	Quote    *Quote          `json:"quote,omitempty"`
	Listings []state.Listing `json:"listings,omitempty"`
}

// CreateListing lists a token for sale. Ownership is enforced by the
// contract itself; locally only presence of the inputs is checked.
func (o *Orchestrator) CreateListing(ctx context.Context, actor string, tokenID uint64, price *big.Int) (Result, error) {
	if !ethaddr.Valid(actor) {
		return Result{}, txflow.Faultf(txflow.KindWalletNotConnected, "", "no connected account")
	}
	if price == nil || price.Sign() <= 0 {
		return Result{}, txflow.Faultf(txflow.KindValidation, "", "price must be positive")
	}

	key := fmt.Sprintf("list|%d", tokenID)
	if !o.Guard.Acquire(key) {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeDuplicateInFlight, "this token is already being listed")
	}
	defer o.Guard.Release(key)

	out, err := o.Pipeline.Execute(ctx, "market_list", txflow.Call{
		Target: o.Market,
		ABI:    &chain.MarketABI,
		Method: "listToken",
		Args:   []any{new(big.Int).SetUint64(tokenID), price},
	}, nil)
	if err != nil {
		return Result{Outcome: out}, err
	}
	if out.Status == txflow.StatusSuccess {
		return Result{Outcome: out, Listings: o.refresh(ctx)}, nil
	}
	return Result{Outcome: out}, nil
}

// Purchase re-reads the listing and recomputes the owed payment immediately
// before submission; a cached quote is never trusted across a delay.
func (o *Orchestrator) Purchase(ctx context.Context, req PurchaseRequest) (Result, error) {
	if !ethaddr.Valid(req.Actor) {
		return Result{}, txflow.Faultf(txflow.KindWalletNotConnected, "", "no connected account")
	}

	key := fmt.Sprintf("buy|%d|%s", req.ListingID, ethaddr.Normalize(req.Actor))
	if !o.Guard.Acquire(key) {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeDuplicateInFlight, "a purchase of this listing is already in flight")
	}
	defer o.Guard.Release(key)

	listing, err := o.Refresher.Listing(ctx, req.ListingID)
	if err != nil {
		return Result{}, txflow.WrapFault(txflow.KindProvider, "listing lookup", err)
	}
	if !listing.Active {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeListingNoLongerActive, "listing %d is no longer active", req.ListingID)
	}
	if req.ExpectedRemaining != nil && listing.RemainingTokens != nil && *req.ExpectedRemaining != *listing.RemainingTokens {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodePaymentStale,
			"listing %d changed since the quote (%d remaining, expected %d); re-quote and retry",
			req.ListingID, *listing.RemainingTokens, *req.ExpectedRemaining)
	}

	quote, err := ComputeQuote(listing, req.Fractional, req.Amount, o.FeeBps)
	if err != nil {
		return Result{}, err
	}

	call := txflow.Call{
		Target: o.Market,
		ABI:    &chain.MarketABI,
		Method: "buyToken",
		Args:   []any{new(big.Int).SetUint64(req.ListingID)},
		Value:  quote.Payable,
	}
	if req.Fractional {
		call.Method = "buyFraction"
		call.Args = []any{new(big.Int).SetUint64(req.ListingID), new(big.Int).SetUint64(req.Amount)}
	}

	out, err := o.Pipeline.Execute(ctx, "market_purchase", call, func(pending txflow.Outcome) {
		id := req.ListingID
		amount := quote.Amount
		fractional := req.Fractional
		o.Store.AddOverlay(state.Overlay{ID: pending.OpID, Apply: func(s *state.Snapshot) {
			for i := range s.Listings {
				if s.Listings[i].ListingID != id {
					continue
				}
				if !fractional {
					s.Listings[i].Active = false
				} else if s.Listings[i].RemainingTokens != nil && *s.Listings[i].RemainingTokens >= amount {
					rem := *s.Listings[i].RemainingTokens - amount
					s.Listings[i].RemainingTokens = &rem
				}
				return
			}
		}})
	})
	o.Store.DropOverlay(out.OpID)
	if err != nil {
		return Result{Outcome: out, Quote: &quote}, err
	}
	if out.Status == txflow.StatusSuccess {
		return Result{Outcome: out, Quote: &quote, Listings: o.refresh(ctx)}, nil
	}
	return Result{Outcome: out, Quote: &quote}, nil
}

// Fractionalize splits a certificate into fixed-size fractions. All
// parameter checks run locally first: a doomed transaction still costs gas.
func (o *Orchestrator) Fractionalize(ctx context.Context, actor string, req FractionalizationRequest) (Result, error) {
	if !ethaddr.Valid(actor) {
		return Result{}, txflow.Faultf(txflow.KindWalletNotConnected, "", "no connected account")
	}
	if err := ValidateFractionalization(req, o.MinUnit); err != nil {
		return Result{}, err
	}

	key := fmt.Sprintf("frac|%d", req.TokenID)
	if !o.Guard.Acquire(key) {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeDuplicateInFlight, "this token is already being fractionalized")
	}
	defer o.Guard.Release(key)

	out, err := o.Pipeline.Execute(ctx, "market_fractionalize", txflow.Call{
		Target: o.Market,
		ABI:    &chain.MarketABI,
		Method: "fractionalize",
		Args: []any{
			new(big.Int).SetUint64(req.TokenID),
			new(big.Int).SetUint64(req.TotalEnergy),
			new(big.Int).SetUint64(req.EnergyPerToken),
			req.TokenName,
			req.TokenSymbol,
		},
	}, nil)
	if err != nil {
		return Result{Outcome: out}, err
	}
	if out.Status == txflow.StatusSuccess {
		return Result{Outcome: out, Listings: o.refresh(ctx)}, nil
	}
	return Result{Outcome: out}, nil
}

// CancelListing deactivates a listing. Seller authority is the contract's
// call; a listing already gone is reported as ListingNoLongerActive.
func (o *Orchestrator) CancelListing(ctx context.Context, actor string, listingID uint64) (Result, error) {
	if !ethaddr.Valid(actor) {
		return Result{}, txflow.Faultf(txflow.KindWalletNotConnected, "", "no connected account")
	}
	listing, err := o.Refresher.Listing(ctx, listingID)
	if err != nil {
		return Result{}, txflow.WrapFault(txflow.KindProvider, "listing lookup", err)
	}
	if !listing.Active {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeListingNoLongerActive, "listing %d is already inactive", listingID)
	}

	key := fmt.Sprintf("cancel|%d", listingID)
	if !o.Guard.Acquire(key) {
		return Result{}, txflow.Faultf(txflow.KindValidation, txflow.CodeDuplicateInFlight, "a cancellation of this listing is already in flight")
	}
	defer o.Guard.Release(key)

	out, err := o.Pipeline.Execute(ctx, "market_cancel", txflow.Call{
		Target: o.Market,
		ABI:    &chain.MarketABI,
		Method: "cancelListing",
		Args:   []any{new(big.Int).SetUint64(listingID)},
	}, nil)
	if err != nil {
		return Result{Outcome: out}, err
	}
	if out.Status == txflow.StatusSuccess {
		return Result{Outcome: out, Listings: o.refresh(ctx)}, nil
	}
	return Result{Outcome: out}, nil
}

func (o *Orchestrator) refresh(ctx context.Context) []state.Listing {
	snap, err := o.Refresher.Refresh(ctx)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("post-trade refresh failed, serving cached view", "err", err)
		}
		return o.Store.View().Listings
	}
	o.Store.SetSnapshot(snap)
	return snap.Listings
}
