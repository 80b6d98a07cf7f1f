package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/boltz-exchange/swapd/chain"
	"github.com/boltz-exchange/swapd/rates"
	"github.com/boltz-exchange/swapd/swapdb"
)

var (
	swapdDirBase = btcutil.AppDataDir("swapd", false)

	defaultNetwork        = "mainnet"
	defaultLogLevel       = "info"
	defaultConfigFilename = "swapd.conf"
	defaultRPCListen      = "localhost:9736"
	defaultWSListen       = "localhost:9737"
	defaultDBFileName     = "swapd.db"
)

// pairConfig configures one supported trading pair's amount and expiry
// bounds, the operator-facing counterpart of rates.Limits. go-flags has no
// clean way to bind a repeated INI section to a slice of structs, so pairs
// are loaded separately from a JSON file (PairsFile below) rather than
// forced into the flag struct the way the rest of the config is.
type pairConfig struct {
	Base              string `json:"base"`
	Quote             string `json:"quote"`
	MinAmount         int64  `json:"minAmount"`
	MaxAmount         int64  `json:"maxAmount"`
	MaxZeroConfAmount int64  `json:"maxZeroConfAmount"`
	MinCltvDelta      int32  `json:"minCltvDelta"`
	MaxCltvDelta      int32  `json:"maxCltvDelta"`
}

func (p *pairConfig) toPair() (rates.Pair, rates.Limits) {
	return rates.Pair{Base: p.Base, Quote: p.Quote}, rates.Limits{
		MinAmount:         btcutil.Amount(p.MinAmount),
		MaxAmount:         btcutil.Amount(p.MaxAmount),
		MaxZeroConfAmount: btcutil.Amount(p.MaxZeroConfAmount),
		MinCltvDelta:      p.MinCltvDelta,
		MaxCltvDelta:      p.MaxCltvDelta,
	}
}

type lightningConfig struct {
	Host        string `long:"host" description:"lnd instance rpc address"`
	MacaroonDir string `long:"macaroondir" description:"Path to the directory containing the required lnd macaroons"`
	TLSPath     string `long:"tlspath" description:"Path to lnd's tls certificate"`
	NodePubkey  string `long:"nodepubkey" description:"This node's own public key, hex encoded, used to build routing hints for our own invoices."`
}

// Config is cmd/swapd's top-level configuration, parsed by go-flags from
// both the command line and swapd.conf.
type Config struct {
	ShowVersion bool   `long:"version" description:"Display version information and exit"`
	Network     string `long:"network" description:"network to run on" choice:"regtest" choice:"testnet" choice:"mainnet"`
	RPCListen   string `long:"rpclisten" description:"Address to listen on for gRPC clients"`
	WSListen    string `long:"wslisten" description:"Address to listen on for WebSocket swap update subscribers. Empty disables the WebSocket listener."`

	SwapdDir   string `long:"swapddir" description:"The directory for all of swapd's data."`
	ConfigFile string `long:"configfile" description:"Path to configuration file."`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}."`

	Database *DatabaseConfig `group:"database" namespace:"database"`

	Bitcoin *chain.BitcoindConfig `group:"bitcoin" namespace:"bitcoin"`
	Liquid  *chain.BitcoindConfig `group:"liquid" namespace:"liquid"`

	Lightning *lightningConfig `group:"lightning" namespace:"lightning"`

	PairsFile string `long:"pairsfile" description:"Path to a JSON file describing the accepted trading pairs and their limits."`

	pairs []pairConfig
}

// DatabaseConfig selects and configures one of the two swapdb backends.
// Exactly one of Sqlite or Postgres is expected to carry real values; which
// one is picked is decided by Backend.
type DatabaseConfig struct {
	Backend  string                 `long:"backend" description:"Storage backend to use" choice:"sqlite" choice:"postgres"`
	Sqlite   *swapdb.SqliteConfig   `group:"sqlite" namespace:"sqlite"`
	Postgres *swapdb.PostgresConfig `group:"postgres" namespace:"postgres"`
}

// DefaultConfig returns the zero-value config filled in with the same
// defaults loopd.DefaultConfig ships: a default network, default listen
// addresses, and a per-network data directory under the OS's application
// data path.
func DefaultConfig() Config {
	return Config{
		Network:    defaultNetwork,
		RPCListen:  defaultRPCListen,
		WSListen:   defaultWSListen,
		SwapdDir:   swapdDirBase,
		ConfigFile: filepath.Join(swapdDirBase, defaultConfigFilename),
		DebugLevel: defaultLogLevel,
		Database: &DatabaseConfig{
			Backend: "sqlite",
			Sqlite: &swapdb.SqliteConfig{
				DatabaseFileName: filepath.Join(swapdDirBase, defaultDBFileName),
			},
			Postgres: &swapdb.PostgresConfig{},
		},
		Bitcoin:   &chain.BitcoindConfig{Symbol: "BTC"},
		Liquid:    &chain.BitcoindConfig{Symbol: "L-BTC"},
		Lightning: &lightningConfig{Host: "localhost:10009"},
	}
}

// cleanAndExpandPath expands a leading ~ and environment variables in path,
// the small piece of lncfg.CleanAndExpandPath this daemon actually needs.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// validateConfig cleans up paths and fills in the database file path from
// SwapdDir when the operator hasn't overridden it explicitly, the way
// loopd.Validate namespaces LoopDir's subdirectories per network.
func validateConfig(cfg *Config) error {
	cfg.SwapdDir = cleanAndExpandPath(cfg.SwapdDir)
	cfg.SwapdDir = filepath.Join(cfg.SwapdDir, cfg.Network)

	if err := os.MkdirAll(cfg.SwapdDir, 0700); err != nil {
		return fmt.Errorf("creating swapd directory: %w", err)
	}

	defaultDBPath := filepath.Join(swapdDirBase, defaultDBFileName)
	if cfg.Database.Backend == "sqlite" &&
		(cfg.Database.Sqlite.DatabaseFileName == "" ||
			cfg.Database.Sqlite.DatabaseFileName == defaultDBPath) {

		cfg.Database.Sqlite.DatabaseFileName = filepath.Join(
			cfg.SwapdDir, defaultDBFileName,
		)
	}

	if cfg.PairsFile == "" {
		return fmt.Errorf("--pairsfile is required")
	}

	raw, err := os.ReadFile(cleanAndExpandPath(cfg.PairsFile))
	if err != nil {
		return fmt.Errorf("reading pairs file: %w", err)
	}

	var pairs []pairConfig
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return fmt.Errorf("parsing pairs file: %w", err)
	}
	if len(pairs) == 0 {
		return fmt.Errorf("pairs file must describe at least one pair")
	}
	cfg.pairs = pairs

	return nil
}
