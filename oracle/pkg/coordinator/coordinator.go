// Package coordinator signs in bulk: batches of client transactions that must
// all pass validation, and pre-signed claim messages for many entities.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/chain"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/metrics"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/programs"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/signer"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/validator"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 8

// ErrNotFound is returned when a key-to-asset account cannot be resolved.
var ErrNotFound = errors.New("key to asset not found")

type TransactionValidator interface {
	Validate(ctx context.Context, raw []byte) (*validator.Result, error)
}

type Config struct {
	Logger          *slog.Logger
	Validator       TransactionValidator
	Ledger          ledger.Ledger
	Chain           chain.Reader
	Signer          *signer.Signer
	LazyDistributor solana.PublicKey
	Dao             solana.PublicKey
	OracleIndex     uint16
	// Concurrency bounds in-flight lookups while signing claim messages.
	Concurrency int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Validator == nil {
		return errors.New("validator is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain reader is required")
	}
	if cfg.Signer == nil {
		return errors.New("signer is required")
	}
	if cfg.LazyDistributor.IsZero() {
		return errors.New("lazy distributor is required")
	}
	if cfg.Dao.IsZero() {
		return errors.New("dao is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return nil
}

type Coordinator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{log: cfg.Logger, cfg: cfg}, nil
}

// BatchResult holds either every signed transaction, in input order, or the
// first rejection.
type BatchResult struct {
	OK           bool
	Transactions [][]byte
	FailingIndex int
	Code         validator.Code
	Reason       string
}

// SignMany validates txs in order and stops at the first rejection.
func (c *Coordinator) SignMany(ctx context.Context, txs [][]byte) (*BatchResult, error) {
	signed := make([][]byte, 0, len(txs))
	for i, raw := range txs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := c.cfg.Validator.Validate(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to validate transaction %d: %w", i, err)
		}
		if !res.OK {
			return &BatchResult{FailingIndex: i, Code: res.Code, Reason: res.Reason}, nil
		}
		signed = append(signed, res.Transaction)
	}
	return &BatchResult{OK: true, Transactions: signed, FailingIndex: -1}, nil
}

// SignedMessage is a ProposedRewards record and the oracle's signature over it.
type SignedMessage struct {
	KeyToAsset     solana.PublicKey
	EntityKey      string
	CurrentRewards uint64
	Message        []byte
	Signature      solana.Signature
}

type ClaimMessages struct {
	Oracle   solana.PublicKey
	Messages []SignedMessage
}

// SignClaimMessages signs a ProposedRewards message at the current lifetime
// reward of each key-to-asset. Results are in input order.
func (c *Coordinator) SignClaimMessages(ctx context.Context, keys []solana.PublicKey) (*ClaimMessages, error) {
	out := &ClaimMessages{
		Oracle:   c.cfg.Signer.PublicKey(),
		Messages: make([]SignedMessage, len(keys)),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, key := range keys {
		g.Go(func() error {
			msg, err := c.signClaimMessage(gctx, key)
			if err != nil {
				return err
			}
			out.Messages[i] = *msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.SignedClaimMessagesTotal.Add(float64(len(keys)))
	return out, nil
}

func (c *Coordinator) signClaimMessage(ctx context.Context, address solana.PublicKey) (*SignedMessage, error) {
	data, err := c.cfg.Chain.GetAccountData(ctx, address)
	if errors.Is(err, chain.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key to asset %s: %w", address, err)
	}
	kta, err := programs.DecodeKeyToAsset(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, address, err)
	}
	expected, err := programs.KeyToAssetAddress(c.cfg.Dao, kta.EntityKey)
	if err != nil {
		return nil, err
	}
	if !expected.Equals(address) {
		return nil, fmt.Errorf("%w: %s is not registered under the configured dao", ErrNotFound, address)
	}

	entityKey := kta.EncodedEntityKey()
	lifetime, err := ledger.LifetimeReward(ctx, c.cfg.Ledger, entityKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read lifetime rewards for %s: %w", entityKey, err)
	}

	message, err := (&programs.ProposedRewards{
		LazyDistributor: c.cfg.LazyDistributor,
		KeyToAsset:      address,
		OracleIndex:     c.cfg.OracleIndex,
		CurrentRewards:  lifetime,
	}).Marshal()
	if err != nil {
		return nil, err
	}
	sig, err := c.cfg.Signer.Sign(message)
	if err != nil {
		return nil, err
	}
	return &SignedMessage{
		KeyToAsset:     address,
		EntityKey:      entityKey,
		CurrentRewards: lifetime,
		Message:        message,
		Signature:      sig,
	}, nil
}
