package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/metrics"
	"github.com/malbeclabs/distributor-oracle/utils/pkg/retry"
)

// Instrumented wraps a Ledger with transient-error retries and per-operation
// query metrics. ErrNotFound is an answer, not a failure.
type Instrumented struct {
	Ledger
	retry retry.Config
}

func NewInstrumented(l Ledger, cfg retry.Config) *Instrumented {
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	return &Instrumented{Ledger: l, retry: cfg}
}

func (i *Instrumented) observe(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := retry.DoIf(ctx, i.retry, IsTransient, fn)
	if errors.Is(err, ErrNotFound) {
		metrics.RecordLedgerQuery(op, time.Since(start), nil)
		return err
	}
	metrics.RecordLedgerQuery(op, time.Since(start), err)
	return err
}

func (i *Instrumented) Record(ctx context.Context, entityKey string) (rec *RewardRecord, err error) {
	err = i.observe(ctx, "record", func() error {
		rec, err = i.Ledger.Record(ctx, entityKey)
		return err
	})
	return rec, err
}

func (i *Instrumented) RecordByAsset(ctx context.Context, asset solana.PublicKey) (rec *RewardRecord, err error) {
	err = i.observe(ctx, "record_by_asset", func() error {
		rec, err = i.Ledger.RecordByAsset(ctx, asset)
		return err
	})
	return rec, err
}

func (i *Instrumented) BulkLifetimeRewards(ctx context.Context, entityKeys []string) (out map[string]uint64, err error) {
	err = i.observe(ctx, "bulk_lifetime_rewards", func() error {
		out, err = i.Ledger.BulkLifetimeRewards(ctx, entityKeys)
		return err
	})
	return out, err
}

func (i *Instrumented) KeyToAssetByAsset(ctx context.Context, asset solana.PublicKey) (kta *KeyToAsset, err error) {
	err = i.observe(ctx, "key_to_asset_by_asset", func() error {
		kta, err = i.Ledger.KeyToAssetByAsset(ctx, asset)
		return err
	})
	return kta, err
}

func (i *Instrumented) TotalRewards(ctx context.Context) (total *big.Int, err error) {
	err = i.observe(ctx, "total_rewards", func() error {
		total, err = i.Ledger.TotalRewards(ctx)
		return err
	})
	return total, err
}

func (i *Instrumented) ActiveEntityCount(ctx context.Context, kind RewardKind, since time.Time) (n uint64, err error) {
	err = i.observe(ctx, "active_entity_count", func() error {
		n, err = i.Ledger.ActiveEntityCount(ctx, kind, since)
		return err
	})
	return n, err
}

func (i *Instrumented) WalletRewards(ctx context.Context, wallet solana.PublicKey, role WalletRole, lazyDistributor solana.PublicKey) (w *WalletRewards, err error) {
	err = i.observe(ctx, "wallet_rewards", func() error {
		w, err = i.Ledger.WalletRewards(ctx, wallet, role, lazyDistributor)
		return err
	})
	return w, err
}

func (i *Instrumented) WalletEntities(ctx context.Context, wallet, lazyDistributor solana.PublicKey, limit, offset int) (out []WalletEntity, err error) {
	err = i.observe(ctx, "wallet_entities", func() error {
		out, err = i.Ledger.WalletEntities(ctx, wallet, lazyDistributor, limit, offset)
		return err
	})
	return out, err
}
