// Package chain reads the on-chain state the oracle needs at request time:
// account data, balances, rent, address lookup tables, and compressed asset
// metadata from a DAS-compatible asset API.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/distributor-oracle/utils/pkg/retry"
)

// ErrAccountNotFound is returned when an account does not exist on chain.
var ErrAccountNotFound = errors.New("account not found")

// Reader is the subset of chain reads the oracle performs. Implementations
// must be safe for concurrent use.
type Reader interface {
	GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
}

type RPCReaderConfig struct {
	Logger     *slog.Logger
	URL        string
	Commitment rpc.CommitmentType
	Retry      retry.Config
}

func (cfg *RPCReaderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.URL == "" {
		return errors.New("rpc url is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// RPCReader implements Reader on a Solana JSON-RPC endpoint, retrying
// transient failures.
type RPCReader struct {
	log    *slog.Logger
	cfg    RPCReaderConfig
	client *rpc.Client
}

func NewRPCReader(cfg RPCReaderConfig) (*RPCReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rpc reader config: %w", err)
	}
	return &RPCReader{
		log:    cfg.Logger,
		cfg:    cfg,
		client: rpc.New(cfg.URL),
	}, nil
}

func (r *RPCReader) GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, r.cfg.Retry, func() error {
		res, err := r.client.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: r.cfg.Commitment,
		})
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		if res == nil || res.Value == nil {
			return ErrAccountNotFound
		}
		data = res.Value.Data.GetBinary()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
		}
		r.log.Debug("chain: get account failed", "account", account, "error", err)
		return nil, fmt.Errorf("failed to get account %s: %w", account, err)
	}
	return data, nil
}

func (r *RPCReader) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var balance uint64
	err := retry.Do(ctx, r.cfg.Retry, func() error {
		res, err := r.client.GetBalance(ctx, account, r.cfg.Commitment)
		if err != nil {
			return err
		}
		balance = res.Value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", account, err)
	}
	return balance, nil
}

func (r *RPCReader) GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	var lamports uint64
	err := retry.Do(ctx, r.cfg.Retry, func() error {
		var err error
		lamports, err = r.client.GetMinimumBalanceForRentExemption(ctx, size, r.cfg.Commitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get rent exemption for %d bytes: %w", size, err)
	}
	return lamports, nil
}

// AccountExists reports whether account exists, distinguishing absence from read failures.
func AccountExists(ctx context.Context, r Reader, account solana.PublicKey) (bool, error) {
	_, err := r.GetAccountData(ctx, account)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	return false, err
}
