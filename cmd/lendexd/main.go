package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendex/config"
	"lendex/crypto"
	"lendex/lending"
	"lendex/observability"
	"lendex/observability/logging"
	"lendex/oracle"
	"lendex/storage"
	"lendex/storage/state"
	"lendex/token"
)

func main() {
	configPath := flag.String("config", "./config.toml", "Path to the lendexd configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("lendexd", cfg.Environment)

	command := flag.Arg(0)
	switch command {
	case "init":
		err = runInit(cfg, logger)
	case "status":
		err = runStatus(cfg, logger)
	case "demo":
		err = runDemo(cfg, logger)
	default:
		fmt.Fprintln(os.Stderr, "usage: lendexd [-config path] init|status|demo")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
}

func openEngine(cfg *config.Config) (*lending.Engine, storage.Database, error) {
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	engine := lending.NewEngine()
	engine.SetState(state.NewStore(db))
	engine.SetMaxPriceAge(cfg.OracleMaxAgeSeconds)
	return engine, db, nil
}

// runInit creates the two asset pools from the configured risk parameters.
func runInit(cfg *config.Config, logger *slog.Logger) error {
	engine, db, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	authorityKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	authority := authorityKey.PubKey().Address()

	for _, entry := range []struct {
		asset lending.AssetClass
		pool  config.PoolConfig
	}{
		{lending.AssetPrimary, cfg.Primary},
		{lending.AssetSecondary, cfg.Secondary},
	} {
		pool, err := engine.InitializePool(authority, entry.asset, entry.pool.Denom, entry.pool.Decimals, entry.pool.FeedID, entry.pool.RiskParameters())
		if err != nil {
			return err
		}
		logger.Info("pool initialised",
			slog.String("asset", pool.Asset.String()),
			slog.String("denom", pool.Denom),
			slog.String("reserve", pool.ReserveAddress.String()),
			slog.String("authority", authority.String()))
	}
	return nil
}

// runStatus prints the stored pool records as JSON.
func runStatus(cfg *config.Config, logger *slog.Logger) error {
	_, db, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store := state.NewStore(db)
	for _, asset := range []lending.AssetClass{lending.AssetPrimary, lending.AssetSecondary} {
		pool, err := store.GetPool(asset)
		if err != nil {
			return err
		}
		if pool == nil {
			logger.Warn("pool not initialised", slog.String("asset", asset.String()))
			continue
		}
		encoded, err := json.MarshalIndent(pool, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
	}
	return nil
}

// runDemo executes a deterministic deposit/borrow/repay/withdraw scenario
// against an in-memory ledger, recording operation metrics. When a metrics
// address is configured the prometheus endpoint stays up after the run.
func runDemo(cfg *config.Config, logger *slog.Logger) error {
	engine := lending.NewEngine()
	engine.SetState(state.NewStore(storage.NewMemDB()))
	engine.SetMaxPriceAge(cfg.OracleMaxAgeSeconds)

	now := time.Now().Unix()
	engine.SetTimeSource(func() int64 { return now })

	feeds := oracle.NewStaticSource()
	feeds.Publish(cfg.Primary.FeedID, big.NewRat(1, 1), now)
	feeds.Publish(cfg.Secondary.FeedID, big.NewRat(1, 1), now)
	engine.SetPriceSource(feeds)

	vault := token.NewVaultLedger()
	engine.SetTransferService(vault)

	authorityKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	authority := authorityKey.PubKey().Address()

	primary, err := engine.InitializePool(authority, lending.AssetPrimary, cfg.Primary.Denom, cfg.Primary.Decimals, cfg.Primary.FeedID, cfg.Primary.RiskParameters())
	if err != nil {
		return err
	}
	secondary, err := engine.InitializePool(authority, lending.AssetSecondary, cfg.Secondary.Denom, cfg.Secondary.Decimals, cfg.Secondary.FeedID, cfg.Secondary.RiskParameters())
	if err != nil {
		return err
	}
	vault.RegisterReserve(primary.ReserveAddress, authority)
	vault.RegisterReserve(secondary.ReserveAddress, authority)

	userKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	user := userKey.PubKey().Address()
	if _, err := engine.InitializePosition(user, lending.AssetSecondary); err != nil {
		return err
	}

	vault.Credit(token.AccountRef{Holder: user, Denom: primary.Denom}, big.NewInt(1_000))
	vault.Credit(token.AccountRef{Holder: secondary.ReserveAddress, Denom: secondary.Denom}, big.NewInt(10_000))

	metrics := observability.EngineMetrics()
	steps := []struct {
		name string
		run  func() error
	}{
		{"deposit", func() error { return engine.Deposit(user, lending.AssetPrimary, big.NewInt(1_000)) }},
		{"borrow", func() error { return engine.Borrow(user, lending.AssetSecondary, big.NewInt(500)) }},
		{"repay", func() error { return engine.Repay(user, lending.AssetSecondary, big.NewInt(500)) }},
		{"withdraw", func() error { return engine.Withdraw(user, lending.AssetPrimary, big.NewInt(1_000)) }},
	}
	for _, step := range steps {
		start := time.Now()
		err := step.run()
		metrics.Observe(step.name, start, err)
		if err != nil {
			return fmt.Errorf("demo %s: %w", step.name, err)
		}
		logger.Info("operation applied", slog.String("operation", step.name))
	}

	if cfg.MetricsAddress != "" {
		logger.Info("serving metrics", slog.String("address", cfg.MetricsAddress))
		http.Handle("/metrics", promhttp.Handler())
		return http.ListenAndServe(cfg.MetricsAddress, nil)
	}
	return nil
}
