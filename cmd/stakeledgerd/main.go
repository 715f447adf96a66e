package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"stakeledger/config"
	"stakeledger/core"
	"stakeledger/core/genesis"
	"stakeledger/observability/logging"
	"stakeledger/rpc"
	"stakeledger/storage"
)

const genesisPathEnv = "STAKELEDGER_GENESIS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides STAKELEDGER_GENESIS and config GenesisFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("STAKELEDGER_ENV"))
	logger := logging.Setup("stakeledgerd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("Failed to open database", slog.String("backend", cfg.Backend), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node := core.NewNode(db)

	if err := ensureInitialized(node, resolveGenesisPath(*genesisFlag, cfg.GenesisFile), logger); err != nil {
		logger.Error("Failed to initialize ledger", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Ledger node ready",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("backend", cfg.Backend),
	)

	server := rpc.NewServer(node)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(cfg.DatabasePath())
	case config.BackendLevelDB:
		return storage.NewLevelDB(cfg.DatabasePath())
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func resolveGenesisPath(flagValue, configValue string) string {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv(genesisPathEnv)); path != "" {
		return path
	}
	return strings.TrimSpace(configValue)
}

// ensureInitialized applies genesis exactly once. An already-initialised
// database ignores the genesis file; a fresh database requires one.
func ensureInitialized(node *core.Node, genesisPath string, logger *slog.Logger) error {
	done, err := node.Initialized()
	if err != nil {
		return err
	}
	if done {
		if genesisPath != "" {
			logger.Info("Ledger already initialized, ignoring genesis file", slog.String("path", genesisPath))
		}
		return nil
	}
	if genesisPath == "" {
		return errors.New("fresh database requires a genesis file (set --genesis, STAKELEDGER_GENESIS, or GenesisFile)")
	}
	spec, err := genesis.Load(genesisPath)
	if err != nil {
		return err
	}
	if err := node.ApplyGenesis(spec); err != nil {
		return err
	}
	logger.Info("Applied genesis", slog.String("path", genesisPath), slog.String("admin", spec.Admin))
	return nil
}
