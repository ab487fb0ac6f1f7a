package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantgrid/irecdesk/internal/chain"
	"github.com/verdantgrid/irecdesk/internal/chain/chaintest"
	"github.com/verdantgrid/irecdesk/internal/config"
	"github.com/verdantgrid/irecdesk/internal/market"
	"github.com/verdantgrid/irecdesk/internal/perm"
	"github.com/verdantgrid/irecdesk/internal/projects"
	"github.com/verdantgrid/irecdesk/internal/roles"
	"github.com/verdantgrid/irecdesk/internal/state"
	"github.com/verdantgrid/irecdesk/internal/txflow"
)

const (
	signerKey    = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	initialAdmin = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

var (
	registryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	marketAddr   = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

// newTestServer wires the full core over a fake backend serving one fixed
// fractional listing and an empty registry.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	b := chaintest.New()

	b.Handle(chain.RegistryABI, "getAdmins", func(_ []any) []any {
		return []any{[]common.Address{}}
	})
	b.Handle(chain.RegistryABI, "isAdmin", func(_ []any) []any { return []any{false} })
	b.Handle(chain.RegistryABI, "isSuperAdmin", func(_ []any) []any { return []any{false} })
	b.Handle(chain.RegistryABI, "getProjects", func(_ []any) []any {
		return []any{[]common.Address{}}
	})
	b.Handle(chain.RegistryABI, "totalCertificates", func(_ []any) []any {
		return []any{big.NewInt(0)}
	})
	b.Handle(chain.MarketABI, "listingCount", func(_ []any) []any {
		return []any{big.NewInt(1)}
	})
	b.Handle(chain.MarketABI, "getListing", func(args []any) []any {
		return []any{
			common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906"),
			big.NewInt(3),
			big.NewInt(100),
			true,
			big.NewInt(1000),
			big.NewInt(50),
			big.NewInt(20),
		}
	})

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Chain.RegistryAddress = registryAddr.Hex()
	cfg.Chain.MarketAddress = marketAddr.Hex()
	cfg.Chain.InitialSuperAdmin = initialAdmin

	eng := perm.Engine{InitialSuperAdmin: common.HexToAddress(initialAdmin)}
	store := state.NewStore(600)
	refresher := &state.Refresher{Reader: b, Registry: registryAddr, Market: marketAddr, Perm: eng}
	pipeline := &txflow.Pipeline{
		Submitter: &txflow.Submitter{
			Backend: b, ChainID: big.NewInt(31337), Source: chain.KeySource(signerKey),
			TipGwei: 1, BasefeeMul: 2, GasBufferPct: 20,
		},
		Tracker: &txflow.Tracker{Reader: b},
		Opts:    txflow.TrackOptions{Confirmations: 1, PollInterval: time.Millisecond, Timeout: 2 * time.Second},
	}
	guard := txflow.NewGuard()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := New(cfg, Deps{
		Perm:      eng,
		Store:     store,
		Refresher: refresher,
		Roles: &roles.Orchestrator{
			Perm: eng, Pipeline: pipeline, Refresher: refresher,
			Store: store, Guard: guard, Registry: registryAddr, Logger: logger,
		},
		Projects: &projects.Orchestrator{
			Perm: eng, Pipeline: pipeline, Refresher: refresher,
			Store: store, Guard: guard, Registry: registryAddr, Logger: logger,
		},
		Market: &market.Orchestrator{
			Pipeline: pipeline, Refresher: refresher, Store: store, Guard: guard,
			Market: marketAddr, FeeBps: 250, MinUnit: 50, Logger: logger,
		},
	}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, body := getJSON(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestPermissionsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	// No address: every capability false, not an error.
	status, body := getJSON(t, ts.URL+"/api/v1/permissions")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["canGrantAdmin"])

	status, body = getJSON(t, ts.URL+"/api/v1/permissions?address="+initialAdmin)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isInitialSuperAdmin"])
	assert.Equal(t, true, body["canGrantSuperAdmin"])

	status, _ = getJSON(t, ts.URL+"/api/v1/permissions?address=nope")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestQuoteEndpoint(t *testing.T) {
	ts := newTestServer(t)

	status, body := getJSON(t, ts.URL+"/api/v1/market/quote?listingId=0&fractional=true&amount=4")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "20", body["itemCost"])
	assert.Equal(t, "1/2", body["fee"])
	assert.Equal(t, "41/2", body["total"])
	assert.Equal(t, "21", body["payable"])
	assert.Equal(t, float64(20), body["remainingAtQuote"])

	status, _ = getJSON(t, ts.URL+"/api/v1/market/quote")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGrantEndpointStatusCodes(t *testing.T) {
	ts := newTestServer(t)

	// Malformed body.
	resp, err := http.Post(ts.URL+"/api/v1/roles/grant", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Actor without rights.
	payload := `{"actor":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8","address":"0x90F79bf6EB2c4f870365E785982E1f101E93b906","displayName":"Someone","tier":"admin"}`
	resp, err = http.Post(ts.URL+"/api/v1/roles/grant", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(txflow.KindPermissionDenied), errObj["kind"])
}
