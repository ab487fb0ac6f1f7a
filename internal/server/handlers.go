package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"github.com/verdantgrid/irecdesk/internal/ethaddr"
	"github.com/verdantgrid/irecdesk/internal/market"
	"github.com/verdantgrid/irecdesk/internal/observability/metrics"
	"github.com/verdantgrid/irecdesk/internal/projects"
	"github.com/verdantgrid/irecdesk/internal/roles"
	"github.com/verdantgrid/irecdesk/internal/txflow"
)

// errorBody is the error half of the UI collaborator envelope.
type errorBody struct {
	Kind    txflow.Kind `json:"kind"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.store.AllowRefresh() {
		if snap, err := s.refresher.Refresh(r.Context()); err == nil {
			s.store.SetSnapshot(snap)
			metrics.RecordRefresh("ok")
		} else {
			metrics.RecordRefresh("error")
			s.logger.Warn("snapshot refresh failed, serving cached view", "err", err)
		}
	}
	writeJSON(w, http.StatusOK, s.store.View())
}

func (s *Server) handleAdmins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.View().Admins)
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("address")
	if addr == "" {
		// No connected address: the all-false permission set, not an error.
		writeJSON(w, http.StatusOK, s.perm.Derive("", false, false))
		return
	}
	if !ethaddr.Valid(addr) {
		writeFault(w, txflow.Faultf(txflow.KindValidation, txflow.CodeInvalidAddress, "address %q is malformed", addr))
		return
	}
	parsed, _ := ethaddr.Parse(addr)
	ra, err := s.refresher.RoleOf(r.Context(), parsed)
	if err != nil {
		writeFault(w, txflow.WrapFault(txflow.KindProvider, "role lookup", err))
		return
	}
	writeJSON(w, http.StatusOK, s.perm.Derive(addr, ra.IsAdmin, ra.IsSuperAdmin))
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	var req roles.GrantRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.roles.Grant(r.Context(), req)
	respond(w, res, err)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	var req roles.RevokeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.roles.Revoke(r.Context(), req)
	respond(w, res, err)
}

type projectRequest struct {
	Actor   string `json:"actor"`
	Address string `json:"address"`
}

func (s *Server) handleApproveProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.projects.Approve(r.Context(), req.Actor, req.Address)
	respond(w, res, err)
}

func (s *Server) handleRevokeProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.projects.Revoke(r.Context(), req.Actor, req.Address)
	respond(w, res, err)
}

func (s *Server) handleRemoveProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.projects.Remove(r.Context(), req.Actor, req.Address)
	respond(w, res, err)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req projects.MintRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.projects.Mint(r.Context(), req)
	respond(w, out, err)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listingID, err := strconv.ParseUint(q.Get("listingId"), 10, 64)
	if err != nil {
		writeFault(w, txflow.Faultf(txflow.KindValidation, "", "listingId is required"))
		return
	}
	fractional := q.Get("fractional") == "true"
	var amount uint64
	if v := q.Get("amount"); v != "" {
		if amount, err = strconv.ParseUint(v, 10, 64); err != nil {
			writeFault(w, txflow.Faultf(txflow.KindValidation, "", "amount must be a non-negative integer"))
			return
		}
	}

	listing, err := s.refresher.Listing(r.Context(), listingID)
	if err != nil {
		writeFault(w, txflow.WrapFault(txflow.KindProvider, "listing lookup", err))
		return
	}
	quote, err := market.ComputeQuote(listing, fractional, amount, s.market.FeeBps)
	if err != nil {
		writeFault(w, txflow.AsFault(err))
		return
	}
	writeJSON(w, http.StatusOK, quoteBody(quote))
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor   string `json:"actor"`
		TokenID uint64 `json:"tokenId"`
		Price   string `json:"price"`
	}
	if !decode(w, r, &req) {
		return
	}
	price, ok := new(big.Int).SetString(req.Price, 10)
	if !ok {
		writeFault(w, txflow.Faultf(txflow.KindValidation, "", "price must be a base-10 integer in the smallest currency unit"))
		return
	}
	res, err := s.market.CreateListing(r.Context(), req.Actor, req.TokenID, price)
	respond(w, res, err)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req market.PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.market.Purchase(r.Context(), req)
	respond(w, res, err)
}

func (s *Server) handleFractionalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string `json:"actor"`
		market.FractionalizationRequest
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := s.market.Fractionalize(r.Context(), req.Actor, req.FractionalizationRequest)
	respond(w, res, err)
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor     string `json:"actor"`
		ListingID uint64 `json:"listingId"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := s.market.CancelListing(r.Context(), req.Actor, req.ListingID)
	respond(w, res, err)
}

// quoteBody renders the exact rational fee and total as strings alongside
// the integer payable amount.
func quoteBody(q market.Quote) map[string]any {
	body := map[string]any{
		"listingId":  q.ListingID,
		"fractional": q.Fractional,
		"amount":     q.Amount,
		"itemCost":   q.ItemCost.String(),
		"fee":        q.Fee.RatString(),
		"total":      q.Total.RatString(),
		"payable":    q.Payable.String(),
	}
	if q.Fractional {
		body["tokenCount"] = q.TokenCount
		body["pricePerToken"] = q.PricePerToken.String()
	}
	if q.RemainingAtQuote != nil {
		body["remainingAtQuote"] = *q.RemainingAtQuote
	}
	return body
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeFault(w, txflow.Faultf(txflow.KindValidation, "", "invalid request body: %v", err))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, result any, err error) {
	if err != nil {
		writeFault(w, txflow.AsFault(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func writeFault(w http.ResponseWriter, f *txflow.Fault) {
	writeJSON(w, statusFor(f), map[string]any{"error": errorBody{Kind: f.Kind, Code: f.Code, Message: f.Message}})
}

func statusFor(f *txflow.Fault) int {
	switch f.Kind {
	case txflow.KindValidation:
		if f.Code == txflow.CodeDuplicateInFlight {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case txflow.KindPermissionDenied:
		return http.StatusForbidden
	case txflow.KindWalletNotConnected, txflow.KindWalletNotInstalled:
		return http.StatusPreconditionFailed
	case txflow.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
