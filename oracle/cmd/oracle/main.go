package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/malbeclabs/distributor-oracle/oracle/internal/config"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/chain"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/claims"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/coordinator"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/metrics"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/server"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/signer"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/validator"
	"github.com/malbeclabs/distributor-oracle/utils/pkg/logger"
	"github.com/malbeclabs/distributor-oracle/utils/pkg/retry"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.LedgerMigrate {
		return migrate(ctx, log, cfg)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry initialized", "environment", cfg.SentryEnvironment)
	}

	if cfg.PprofAddr != "" {
		go func() {
			log.Info("starting pprof server", "address", cfg.PprofAddr)
			if err := http.ListenAndServe(cfg.PprofAddr, nil); err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	oracleKey, err := signer.Load(cfg.KeypairPath)
	if err != nil {
		return err
	}
	log.Info("oracle key loaded", "oracle", oracleKey.PublicKey(), "index", cfg.OracleIndex)

	store, err := openLedger(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	rewards := ledger.NewInstrumented(store, retry.DefaultConfig())

	rpcReader, err := chain.NewRPCReader(chain.RPCReaderConfig{
		Logger: log,
		URL:    cfg.SolanaURL,
	})
	if err != nil {
		return err
	}
	assets := chain.NewDASClient(log, cfg.AssetAPIURL)

	txValidator, err := validator.New(validator.Config{
		Logger:           log,
		Ledger:           rewards,
		Chain:            rpcReader,
		Signer:           oracleKey,
		LazyDistributor:  cfg.LazyDistributor,
		Dao:              cfg.Dao,
		WillPayRecipient: cfg.WillPayRecipient,
	})
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	coord, err := coordinator.New(coordinator.Config{
		Logger:          log,
		Validator:       txValidator,
		Ledger:          rewards,
		Chain:           rpcReader,
		Signer:          oracleKey,
		LazyDistributor: cfg.LazyDistributor,
		Dao:             cfg.Dao,
		OracleIndex:     cfg.OracleIndex,
	})
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	builder, err := claims.New(claims.Config{
		Logger:          log,
		Ledger:          rewards,
		Chain:           rpcReader,
		Assets:          assets,
		Signer:          oracleKey,
		LazyDistributor: cfg.LazyDistributor,
		TaskQueue:       cfg.TaskQueue,
		OracleIndex:     cfg.OracleIndex,
		PublicURL:       cfg.PublicURL,
		MaxClaimsPerTx:  cfg.MaxClaimsPerTx,
		BaseFeeLamports: cfg.BaseFeeLamports,
	})
	if err != nil {
		return fmt.Errorf("failed to create claim builder: %w", err)
	}

	totals, err := metrics.NewTotalRewardsCache(metrics.TotalRewardsCacheConfig{
		Logger: log,
		Source: rewards,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:             log,
		ListenAddr:         cfg.ListenAddr,
		ShutdownTimeout:    cfg.ShutdownTimeout,
		RequestTimeout:     cfg.RequestTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		VersionInfo:        server.VersionInfo{Version: version, Commit: commit, Date: date},
		Ledger:             rewards,
		Validator:          txValidator,
		Coordinator:        coord,
		Claims:             builder,
		RewardsCache:       totals,
		Oracle:             oracleKey.PublicKey(),
		OracleIndex:        cfg.OracleIndex,
		LazyDistributor:    cfg.LazyDistributor,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Run(ctx)
}

func openLedger(ctx context.Context, log *slog.Logger, cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.LedgerBackend {
	case config.LedgerBackendClickHouse:
		return ledger.NewClickHouse(ctx, log, cfg.ClickHouse)
	default:
		return ledger.NewPostgres(ctx, log, cfg.Postgres.ConnString(), cfg.Postgres.MaxConns)
	}
}

func migrate(ctx context.Context, log *slog.Logger, cfg *config.Config) error {
	switch cfg.LedgerBackend {
	case config.LedgerBackendClickHouse:
		return ledger.MigrateClickHouse(ctx, log, cfg.ClickHouse)
	default:
		return ledger.MigratePostgres(ctx, log, cfg.Postgres.ConnString())
	}
}
