// Package ledger is the read-only query surface over the reward index: the
// authoritative lifetime reward per entity maintained by an external
// ingestion pipeline, plus the on-chain mirrors needed to answer per-wallet
// questions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ErrNotFound is returned when a key has no ledger entry.
var ErrNotFound = errors.New("not found")

type RewardKind string

const (
	RewardKindIotGateway            RewardKind = "iot_gateway"
	RewardKindMobileGateway         RewardKind = "mobile_gateway"
	RewardKindMobileSubscriber      RewardKind = "mobile_subscriber"
	RewardKindMobileServiceProvider RewardKind = "mobile_service_provider"
	RewardKindMobileMapper          RewardKind = "mobile_mapper"
)

var rewardKinds = map[RewardKind]struct{}{
	RewardKindIotGateway:            {},
	RewardKindMobileGateway:         {},
	RewardKindMobileSubscriber:      {},
	RewardKindMobileServiceProvider: {},
	RewardKindMobileMapper:          {},
}

func ParseRewardKind(s string) (RewardKind, error) {
	k := RewardKind(s)
	if _, ok := rewardKinds[k]; !ok {
		return "", fmt.Errorf("unknown reward kind %q", s)
	}
	return k, nil
}

// RewardRecord is one entity's row in the reward index.
type RewardRecord struct {
	EntityKey      string
	LifetimeReward uint64
	LastRewardAt   time.Time
	Kind           RewardKind
}

// KeyToAsset is the ledger's mirror of an on-chain key-to-asset account.
type KeyToAsset struct {
	Address   solana.PublicKey
	Asset     solana.PublicKey
	EntityKey string
}

type WalletRole string

const (
	WalletRoleOwner       WalletRole = "owner"
	WalletRoleDestination WalletRole = "destination"
)

// WalletRewards aggregates every entity paying out to a wallet.
type WalletRewards struct {
	Lifetime *big.Int
	Pending  *big.Int
}

// WalletEntity is a rewarded entity held by a wallet, with what its
// recipient has claimed so far.
type WalletEntity struct {
	KeyToAsset solana.PublicKey
	Asset      solana.PublicKey
	EntityKey  string
	Lifetime   uint64
	Claimed    uint64
}

// Pending reports whether the entity has unclaimed rewards.
func (e WalletEntity) Pending() bool {
	return e.Lifetime > e.Claimed
}

// Ledger is safe for concurrent use. Lookups that find nothing return ErrNotFound.
type Ledger interface {
	// Record returns the reward index row for an encoded entity key.
	Record(ctx context.Context, entityKey string) (*RewardRecord, error)
	// RecordByAsset resolves the entity behind asset and returns its row.
	RecordByAsset(ctx context.Context, asset solana.PublicKey) (*RewardRecord, error)
	// BulkLifetimeRewards returns lifetime rewards for the keys that exist; missing keys are omitted.
	BulkLifetimeRewards(ctx context.Context, entityKeys []string) (map[string]uint64, error)
	KeyToAssetByAsset(ctx context.Context, asset solana.PublicKey) (*KeyToAsset, error)
	TotalRewards(ctx context.Context) (*big.Int, error)
	ActiveEntityCount(ctx context.Context, kind RewardKind, since time.Time) (uint64, error)
	WalletRewards(ctx context.Context, wallet solana.PublicKey, role WalletRole, lazyDistributor solana.PublicKey) (*WalletRewards, error)
	// WalletEntities pages, in key-to-asset address order, through every
	// rewarded entity the wallet holds, claimed or not. Claims landing
	// between pages do not move entities across page boundaries.
	WalletEntities(ctx context.Context, wallet, lazyDistributor solana.PublicKey, limit, offset int) ([]WalletEntity, error)
	Close()
}

// LifetimeReward returns the lifetime reward for entityKey, treating an
// entity the ledger has never rewarded as zero.
func LifetimeReward(ctx context.Context, l Ledger, entityKey string) (uint64, error) {
	rec, err := l.Record(ctx, entityKey)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.LifetimeReward, nil
}

// LifetimeRewardByAsset is LifetimeReward keyed by asset.
func LifetimeRewardByAsset(ctx context.Context, l Ledger, asset solana.PublicKey) (uint64, error) {
	rec, err := l.RecordByAsset(ctx, asset)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.LifetimeReward, nil
}

func parseKey(s string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid key %q in ledger: %w", s, err)
	}
	return pk, nil
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid ledger amount %q", s)
	}
	return v, nil
}

func parseAmount(s string) (uint64, error) {
	v, err := parseBig(s)
	if err != nil {
		return 0, err
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("ledger amount %s out of range", s)
	}
	return v.Uint64(), nil
}
