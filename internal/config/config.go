// Package config loads service settings from an optional TOML file with
// environment overrides. Env keys accept both UPPER_CASE and lower_case.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"github.com/verdantgrid/irecdesk/internal/ethaddr"
)

// Settings keeps all configuration options.
type Settings struct {
	Chain   ChainConfig   `toml:"chain"`
	Tx      TxConfig      `toml:"tx"`
	Market  MarketConfig  `toml:"market"`
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Logging LoggingConfig `toml:"logging"`
}

// ChainConfig identifies the chain and the two platform contracts.
type ChainConfig struct {
	RPCURL            string `toml:"rpc_url"`
	ChainID           int64  `toml:"chain_id"`
	RegistryAddress   string `toml:"registry_address"`
	MarketAddress     string `toml:"market_address"`
	InitialSuperAdmin string `toml:"initial_super_admin"`
	SignerKeyHex      string `toml:"-"` // env only, never written to disk
}

// TxConfig carries tracking policy. Confirmations and timeout are defaults
// carried over from the platform frontend, not hard invariants.
type TxConfig struct {
	Confirmations  int           `toml:"confirmations"`
	ReceiptTimeout time.Duration `toml:"receipt_timeout"`
	PollInterval   time.Duration `toml:"poll_interval"`
	GasBufferPct   int64         `toml:"gas_buffer_pct"`
	TipGwei        int64         `toml:"tip_gwei"`
	BasefeeMul     int64         `toml:"basefee_mul"`
}

// MarketConfig carries marketplace policy knobs.
type MarketConfig struct {
	PlatformFeeBps       int64  `toml:"platform_fee_bps"`
	MinEnergyPerFraction uint64 `toml:"min_energy_per_fraction"`
	RefreshPerMinute     int    `toml:"refresh_per_minute"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
}

// StoreConfig holds local persistence settings.
type StoreConfig struct {
	SQLitePath string `toml:"sqlite_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

func defaults() Settings {
	return Settings{
		Chain: ChainConfig{
			RPCURL: "https://eth.llamarpc.com",
		},
		Tx: TxConfig{
			Confirmations:  2,
			ReceiptTimeout: 60 * time.Second,
			PollInterval:   3 * time.Second,
			GasBufferPct:   5,
			TipGwei:        2,
			BasefeeMul:     2,
		},
		Market: MarketConfig{
			PlatformFeeBps:       250,
			MinEnergyPerFraction: 50,
			RefreshPerMinute:     30,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			MetricsEnabled: true,
		},
		Store: StoreConfig{
			SQLitePath: "data/irecdesk.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads irecdesk.toml (or the file named by IRECDESK_CONFIG) when
// present, then applies environment overrides on top of defaults.
func Load() (Settings, error) {
	st := defaults()

	path := get([]string{"irecdesk_config", "IRECDESK_CONFIG"}, "irecdesk.toml")
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &st); err != nil {
			return st, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	st.Chain.RPCURL = get([]string{"rpc_url", "RPC_URL"}, st.Chain.RPCURL)
	st.Chain.ChainID = getInt64([]string{"chain_id", "CHAIN_ID"}, st.Chain.ChainID)
	st.Chain.RegistryAddress = get([]string{"registry_address", "REGISTRY_ADDRESS"}, st.Chain.RegistryAddress)
	st.Chain.MarketAddress = get([]string{"market_address", "MARKET_ADDRESS"}, st.Chain.MarketAddress)
	st.Chain.InitialSuperAdmin = get([]string{"initial_super_admin", "INITIAL_SUPER_ADMIN"}, st.Chain.InitialSuperAdmin)
	st.Chain.SignerKeyHex = get([]string{"signer_key", "SIGNER_KEY"}, "")

	st.Tx.Confirmations = getInt([]string{"confirmations", "CONFIRMATIONS"}, st.Tx.Confirmations)
	st.Tx.ReceiptTimeout = getDuration([]string{"receipt_timeout", "RECEIPT_TIMEOUT"}, st.Tx.ReceiptTimeout)
	st.Tx.PollInterval = getDuration([]string{"poll_interval", "POLL_INTERVAL"}, st.Tx.PollInterval)
	st.Tx.GasBufferPct = getInt64([]string{"gas_buffer_pct", "GAS_BUFFER_PCT"}, st.Tx.GasBufferPct)
	st.Tx.TipGwei = getInt64([]string{"tip_gwei", "TIP_GWEI"}, st.Tx.TipGwei)
	st.Tx.BasefeeMul = getInt64([]string{"basefee_mul", "BASEFEE_MUL"}, st.Tx.BasefeeMul)

	st.Market.PlatformFeeBps = getInt64([]string{"platform_fee_bps", "PLATFORM_FEE_BPS"}, st.Market.PlatformFeeBps)
	st.Market.MinEnergyPerFraction = uint64(getInt64([]string{"min_energy_per_fraction", "MIN_ENERGY_PER_FRACTION"}, int64(st.Market.MinEnergyPerFraction)))
	st.Market.RefreshPerMinute = getInt([]string{"refresh_per_minute", "REFRESH_PER_MINUTE"}, st.Market.RefreshPerMinute)

	st.Server.Host = get([]string{"host", "HOST"}, st.Server.Host)
	st.Server.Port = getInt([]string{"port", "PORT"}, st.Server.Port)
	st.Store.SQLitePath = get([]string{"sqlite_path", "SQLITE_PATH"}, st.Store.SQLitePath)
	st.Logging.Level = get([]string{"log_level", "LOG_LEVEL"}, st.Logging.Level)
	st.Logging.Format = get([]string{"log_format", "LOG_FORMAT"}, st.Logging.Format)

	return st, nil
}

// Validate checks the fields every chain-facing component depends on.
func (s Settings) Validate() error {
	if s.Chain.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	for name, addr := range map[string]string{
		"registry_address":    s.Chain.RegistryAddress,
		"market_address":      s.Chain.MarketAddress,
		"initial_super_admin": s.Chain.InitialSuperAdmin,
	} {
		if !ethaddr.Valid(addr) {
			return fmt.Errorf("%s: %q is not a valid address", name, addr)
		}
	}
	if s.Tx.Confirmations < 1 {
		return fmt.Errorf("confirmations must be >= 1")
	}
	return nil
}

// InitialSuperAdminAddr returns the parsed immutable super-admin address.
// Call after Validate.
func (s Settings) InitialSuperAdminAddr() common.Address {
	return common.HexToAddress(s.Chain.InitialSuperAdmin)
}

func get(keys []string, def string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return def
}

func getInt(keys []string, def int) int {
	s := get(keys, "")
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func getInt64(keys []string, def int64) int64 {
	s := get(keys, "")
	if s == "" {
		return def
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return def
}

func getDuration(keys []string, def time.Duration) time.Duration {
	s := get(keys, "")
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	// bare numbers are taken as seconds, matching the frontend's literals
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
