package ledgertesting

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
)

// MemLedger is an in-memory ledger.Ledger for unit tests. Err, when set, is
// returned from every call.
type MemLedger struct {
	mu          sync.Mutex
	records     map[string]ledger.RewardRecord
	keyToAssets map[solana.PublicKey]ledger.KeyToAsset
	entities    map[solana.PublicKey][]ledger.WalletEntity
	wallets     map[solana.PublicKey]ledger.WalletRewards
	calls       int

	Err error
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		records:     map[string]ledger.RewardRecord{},
		keyToAssets: map[solana.PublicKey]ledger.KeyToAsset{},
		entities:    map[solana.PublicKey][]ledger.WalletEntity{},
		wallets:     map[solana.PublicKey]ledger.WalletRewards{},
	}
}

// SetReward sets the lifetime reward of entityKey.
func (m *MemLedger) SetReward(entityKey string, lifetime uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[entityKey] = ledger.RewardRecord{
		EntityKey:      entityKey,
		LifetimeReward: lifetime,
		LastRewardAt:   time.Now().UTC(),
		Kind:           ledger.RewardKindIotGateway,
	}
}

func (m *MemLedger) SetRecord(rec ledger.RewardRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.EntityKey] = rec
}

func (m *MemLedger) AddKeyToAsset(kta ledger.KeyToAsset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyToAssets[kta.Asset] = kta
}

// AddWalletEntity registers a rewarded entity held by wallet.
func (m *MemLedger) AddWalletEntity(wallet solana.PublicKey, e ledger.WalletEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[wallet] = append(m.entities[wallet], e)
	sort.Slice(m.entities[wallet], func(i, j int) bool {
		a, b := m.entities[wallet][i].KeyToAsset, m.entities[wallet][j].KeyToAsset
		return bytes.Compare(a[:], b[:]) < 0
	})
}

// SetClaimed records that the recipient behind keyToAsset has claimed
// claimed in total, as the recipient mirror would once a claim lands.
func (m *MemLedger) SetClaimed(keyToAsset solana.PublicKey, claimed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for wallet, es := range m.entities {
		for i := range es {
			if es[i].KeyToAsset.Equals(keyToAsset) {
				m.entities[wallet][i].Claimed = claimed
			}
		}
	}
}

func (m *MemLedger) SetWalletRewards(wallet solana.PublicKey, w ledger.WalletRewards) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[wallet] = w
}

// Calls returns how many ledger methods have been invoked.
func (m *MemLedger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MemLedger) enter() error {
	m.mu.Lock()
	m.calls++
	return m.Err
}

func (m *MemLedger) Record(_ context.Context, entityKey string) (*ledger.RewardRecord, error) {
	if err := m.enter(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	rec, ok := m.records[entityKey]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &rec, nil
}

func (m *MemLedger) RecordByAsset(_ context.Context, asset solana.PublicKey) (*ledger.RewardRecord, error) {
	if err := m.enter(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	kta, ok := m.keyToAssets[asset]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	rec, ok := m.records[kta.EntityKey]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &rec, nil
}

func (m *MemLedger) BulkLifetimeRewards(_ context.Context, entityKeys []string) (map[string]uint64, error) {
	if err := m.enter(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	out := map[string]uint64{}
	for _, k := range entityKeys {
		if rec, ok := m.records[k]; ok {
			out[k] = rec.LifetimeReward
		}
	}
	return out, nil
}

func (m *MemLedger) KeyToAssetByAsset(_ context.Context, asset solana.PublicKey) (*ledger.KeyToAsset, error) {
	if err := m.enter(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	kta, ok := m.keyToAssets[asset]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &kta, nil
}

func (m *MemLedger) TotalRewards(context.Context) (*big.Int, error) {
	if err := m.enter(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	total := new(big.Int)
	for _, rec := range m.records {
		total.Add(total, new(big.Int).SetUint64(rec.LifetimeReward))
	}
	return total, nil
}

func (m *MemLedger) ActiveEntityCount(_ context.Context, kind ledger.RewardKind, since time.Time) (uint64, error) {
	if err := m.enter(); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	defer m.mu.Unlock()
	var n uint64
	for _, rec := range m.records {
		if rec.Kind == kind && !rec.LastRewardAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemLedger) WalletRewards(_ context.Context, wallet solana.PublicKey, _ ledger.WalletRole, _ solana.PublicKey) (*ledger.WalletRewards, error) {
	if err := m.enter(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	w, ok := m.wallets[wallet]
	if !ok {
		return &ledger.WalletRewards{Lifetime: new(big.Int), Pending: new(big.Int)}, nil
	}
	return &w, nil
}

func (m *MemLedger) WalletEntities(_ context.Context, wallet, _ solana.PublicKey, limit, offset int) ([]ledger.WalletEntity, error) {
	if err := m.enter(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	all := m.entities[wallet]
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return append([]ledger.WalletEntity(nil), all[offset:end]...), nil
}

func (m *MemLedger) Close() {}
