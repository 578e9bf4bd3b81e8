// Package config reads the oracle's startup configuration from flags, the
// environment, and an optional .env file. Environment variables win over
// flags when set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/claims"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
	flag "github.com/spf13/pflag"
)

const (
	LedgerBackendPostgres   = "postgres"
	LedgerBackendClickHouse = "clickhouse"

	DefaultListenAddr = ":8080"
	DefaultSolanaURL  = "https://api.mainnet-beta.solana.com"
)

type Config struct {
	Verbose         bool
	ListenAddr      string
	PprofAddr       string
	PublicURL       string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// RateLimitPerMinute is the per-client budget; negative disables limiting.
	RateLimitPerMinute int

	KeypairPath string
	SolanaURL   string
	// AssetAPIURL serves the DAS asset methods; defaults to SolanaURL.
	AssetAPIURL string

	LazyDistributor  solana.PublicKey
	Dao              solana.PublicKey
	TaskQueue        solana.PublicKey
	WillPayRecipient bool
	OracleIndex      uint16
	MaxClaimsPerTx   int
	BaseFeeLamports  uint64

	LedgerBackend string
	LedgerMigrate bool
	Postgres      ledger.PostgresConfig
	ClickHouse    ledger.ClickHouseConfig

	SentryDSN         string
	SentryEnvironment string
}

// LoadDotEnv loads variables from the given files (".env" if none) into the
// process environment without overriding variables already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load parses args and then applies environment overrides read through getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	flags := flag.NewFlagSet("oracle", flag.ContinueOnError)

	verbose := flags.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddr := flags.String("listen-addr", DefaultListenAddr, "HTTP listen address (or set LISTEN_ADDR env var)")
	pprofAddr := flags.String("pprof-addr", "", "serve net/http/pprof on this address when set (or set PPROF_ADDR env var)")
	publicURL := flags.String("public-url", "", "externally reachable base URL used in queued task URLs (or set PUBLIC_URL env var)")
	requestTimeout := flags.Duration("request-timeout", 30*time.Second, "per-request deadline")
	shutdownTimeout := flags.Duration("shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
	rateLimit := flags.Int("rate-limit-per-minute", 600, "requests per minute per client, negative to disable (or set RATE_LIMIT_PER_MINUTE env var)")

	keypairPath := flags.String("keypair", "", "oracle keypair file (or set ORACLE_KEYPAIR_PATH env var)")
	solanaURL := flags.String("solana-url", DefaultSolanaURL, "Solana RPC URL (or set SOLANA_URL env var)")
	assetAPIURL := flags.String("asset-api-url", "", "DAS asset API URL, defaults to the Solana RPC URL (or set ASSET_API_URL env var)")

	lazyDistributor := flags.String("lazy-distributor", "", "lazy distributor account (or set LAZY_DISTRIBUTOR env var)")
	dao := flags.String("dao", "", "DAO account key-to-asset records are registered under (or set DAO env var)")
	taskQueue := flags.String("task-queue", "", "task queue wallet claims are queued on (or set TASK_QUEUE env var)")
	willPayRecipient := flags.Bool("will-pay-recipient", false, "allow the oracle to fund recipient account creation (or set WILL_PAY_RECIPIENT=true env var)")
	oracleIndex := flags.Uint16("oracle-index", 0, "index of this oracle in the lazy distributor's oracle set (or set ORACLE_INDEX env var)")
	maxClaimsPerTx := flags.Int("max-claims-per-tx", claims.DefaultMaxClaimsPerTx, "claims queued per wallet batch (or set MAX_CLAIMS_PER_TX env var)")
	baseFeeLamports := flags.Uint64("base-fee-lamports", claims.DefaultBaseFeeLamports, "lamports a claim transaction needs beyond rent (or set BASE_FEE_LAMPORTS env var)")

	ledgerBackend := flags.String("ledger-backend", LedgerBackendPostgres, "reward ledger backend: postgres or clickhouse (or set LEDGER_BACKEND env var)")
	ledgerMigrate := flags.Bool("ledger-migrate", false, "apply the reward ledger schema and exit")

	sentryDSN := flags.String("sentry-dsn", "", "Sentry DSN (or set SENTRY_DSN env var)")
	sentryEnv := flags.String("sentry-environment", "", "Sentry environment (or set SENTRY_ENVIRONMENT env var)")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	e := env{getenv: getenv}
	e.setString("LISTEN_ADDR", listenAddr)
	e.setString("PPROF_ADDR", pprofAddr)
	e.setString("PUBLIC_URL", publicURL)
	e.setInt("RATE_LIMIT_PER_MINUTE", rateLimit)
	e.setString("ORACLE_KEYPAIR_PATH", keypairPath)
	e.setString("SOLANA_URL", solanaURL)
	e.setString("ASSET_API_URL", assetAPIURL)
	e.setString("LAZY_DISTRIBUTOR", lazyDistributor)
	e.setString("DAO", dao)
	e.setString("TASK_QUEUE", taskQueue)
	e.setBool("WILL_PAY_RECIPIENT", willPayRecipient)
	e.setUint16("ORACLE_INDEX", oracleIndex)
	e.setInt("MAX_CLAIMS_PER_TX", maxClaimsPerTx)
	e.setUint64("BASE_FEE_LAMPORTS", baseFeeLamports)
	e.setString("LEDGER_BACKEND", ledgerBackend)
	e.setString("SENTRY_DSN", sentryDSN)
	e.setString("SENTRY_ENVIRONMENT", sentryEnv)
	if e.err != nil {
		return nil, e.err
	}

	cfg := &Config{
		Verbose:            *verbose,
		ListenAddr:         *listenAddr,
		PprofAddr:          *pprofAddr,
		PublicURL:          *publicURL,
		RequestTimeout:     *requestTimeout,
		ShutdownTimeout:    *shutdownTimeout,
		RateLimitPerMinute: *rateLimit,
		KeypairPath:        *keypairPath,
		SolanaURL:          *solanaURL,
		AssetAPIURL:        *assetAPIURL,
		WillPayRecipient:   *willPayRecipient,
		OracleIndex:        *oracleIndex,
		MaxClaimsPerTx:     *maxClaimsPerTx,
		BaseFeeLamports:    *baseFeeLamports,
		LedgerBackend:      strings.ToLower(*ledgerBackend),
		LedgerMigrate:      *ledgerMigrate,
		SentryDSN:          *sentryDSN,
		SentryEnvironment:  *sentryEnv,
		Postgres: ledger.PostgresConfig{
			Host:     getenv("POSTGRES_HOST"),
			Port:     getenv("POSTGRES_PORT"),
			Database: getenv("POSTGRES_DB"),
			Username: getenv("POSTGRES_USER"),
			Password: getenv("POSTGRES_PASSWORD"),
			SSLMode:  getenv("POSTGRES_SSLMODE"),
		},
		ClickHouse: ledger.ClickHouseConfig{
			Addr:     getenv("CLICKHOUSE_ADDR"),
			Database: getenv("CLICKHOUSE_DATABASE"),
			Username: getenv("CLICKHOUSE_USERNAME"),
			Password: getenv("CLICKHOUSE_PASSWORD"),
			Secure:   getenv("CLICKHOUSE_SECURE") == "true",
		},
	}

	var err error
	if cfg.LazyDistributor, err = parseKey("LAZY_DISTRIBUTOR", *lazyDistributor); err != nil {
		return nil, err
	}
	if cfg.Dao, err = parseKey("DAO", *dao); err != nil {
		return nil, err
	}
	if cfg.TaskQueue, err = parseKey("TASK_QUEUE", *taskQueue); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills defaults and rejects missing required values. With
// LedgerMigrate set only the ledger settings are required.
func (cfg *Config) Validate() error {
	switch cfg.LedgerBackend {
	case LedgerBackendPostgres:
		if err := cfg.Postgres.Validate(); err != nil {
			return err
		}
	case LedgerBackendClickHouse:
		if err := cfg.ClickHouse.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
	if cfg.LedgerMigrate {
		return nil
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.KeypairPath == "" {
		return errors.New("ORACLE_KEYPAIR_PATH is required")
	}
	if cfg.SolanaURL == "" {
		return errors.New("SOLANA_URL is required")
	}
	if cfg.AssetAPIURL == "" {
		cfg.AssetAPIURL = cfg.SolanaURL
	}
	if cfg.PublicURL == "" {
		return errors.New("PUBLIC_URL is required")
	}
	if cfg.LazyDistributor.IsZero() {
		return errors.New("LAZY_DISTRIBUTOR is required")
	}
	if cfg.Dao.IsZero() {
		return errors.New("DAO is required")
	}
	if cfg.TaskQueue.IsZero() {
		return errors.New("TASK_QUEUE is required")
	}
	if cfg.MaxClaimsPerTx <= 0 {
		return fmt.Errorf("MAX_CLAIMS_PER_TX must be positive, got %d", cfg.MaxClaimsPerTx)
	}
	// One task per claim plus the requeue must fit the task's free_tasks byte.
	if cfg.MaxClaimsPerTx > 254 {
		return fmt.Errorf("MAX_CLAIMS_PER_TX must be at most 254, got %d", cfg.MaxClaimsPerTx)
	}
	if cfg.RateLimitPerMinute == 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be non-zero, use a negative value to disable")
	}
	return nil
}

func parseKey(name, s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, nil
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return pk, nil
}

// env applies set environment variables over flag values, keeping the first
// parse error.
type env struct {
	getenv func(string) string
	err    error
}

func (e *env) lookup(name string) (string, bool) {
	v := e.getenv(name)
	return v, v != "" && e.err == nil
}

func (e *env) fail(name, v string, err error) {
	e.err = fmt.Errorf("invalid %s %q: %w", name, v, err)
}

func (e *env) setString(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *env) setBool(name string, dst *bool) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

func (e *env) setInt(name string, dst *int) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *env) setUint16(name string, dst *uint16) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = uint16(n)
}

func (e *env) setUint64(name string, dst *uint64) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}
