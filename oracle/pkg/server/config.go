package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/claims"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/coordinator"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/validator"
)

const (
	DefaultReadHeaderTimeout  = 10 * time.Second
	DefaultShutdownTimeout    = 15 * time.Second
	DefaultRequestTimeout     = 30 * time.Second
	DefaultRateLimitPerMinute = 600

	// maxBulkKeys caps list-valued request bodies.
	maxBulkKeys = 1000
	// maxBodyBytes caps request bodies; a Solana transaction is at most 1232 bytes.
	maxBodyBytes = 4 << 20
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type TransactionValidator interface {
	Validate(ctx context.Context, raw []byte) (*validator.Result, error)
}

type BatchSigner interface {
	SignMany(ctx context.Context, txs [][]byte) (*coordinator.BatchResult, error)
	SignClaimMessages(ctx context.Context, keys []solana.PublicKey) (*coordinator.ClaimMessages, error)
}

type ClaimBuilder interface {
	BuildAssetClaim(ctx context.Context, asset solana.PublicKey, tc claims.TaskContext) (*claims.Envelope, error)
	BuildKeyToAssetClaim(ctx context.Context, address solana.PublicKey, tc claims.TaskContext) (*claims.Envelope, error)
	BuildWalletClaims(ctx context.Context, wallet solana.PublicKey, batchNumber int, tc claims.TaskContext) (*claims.Envelope, error)
}

type RewardsCache interface {
	RefreshIfStale(ctx context.Context)
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	// RateLimitPerMinute is the per-client request budget; negative disables limiting.
	RateLimitPerMinute int
	VersionInfo        VersionInfo

	Ledger       ledger.Ledger
	Validator    TransactionValidator
	Coordinator  BatchSigner
	Claims       ClaimBuilder
	RewardsCache RewardsCache

	Oracle          solana.PublicKey
	OracleIndex     uint16
	LazyDistributor solana.PublicKey
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Validator == nil {
		return errors.New("validator is required")
	}
	if cfg.Coordinator == nil {
		return errors.New("coordinator is required")
	}
	if cfg.Claims == nil {
		return errors.New("claim builder is required")
	}
	if cfg.RewardsCache == nil {
		return errors.New("rewards cache is required")
	}
	if cfg.Oracle.IsZero() {
		return errors.New("oracle public key is required")
	}
	if cfg.LazyDistributor.IsZero() {
		return errors.New("lazy distributor is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	return nil
}
