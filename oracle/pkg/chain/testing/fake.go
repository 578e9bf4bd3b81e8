package chaintesting

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/chain"
)

// RentPerByte approximates mainnet rent-exempt minimums for fake readers.
const RentPerByte = 6960

// FakeReader is an in-memory chain.Reader.
type FakeReader struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey][]byte
	balances map[solana.PublicKey]uint64
	reads    int

	Err error
}

func NewFakeReader() *FakeReader {
	return &FakeReader{
		accounts: map[solana.PublicKey][]byte{},
		balances: map[solana.PublicKey]uint64{},
	}
}

func (f *FakeReader) SetAccount(key solana.PublicKey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[key] = data
}

func (f *FakeReader) SetBalance(key solana.PublicKey, lamports uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[key] = lamports
}

// Reads returns how many account reads have been served.
func (f *FakeReader) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *FakeReader) GetAccountData(_ context.Context, account solana.PublicKey) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.Err != nil {
		return nil, f.Err
	}
	data, ok := f.accounts[account]
	if !ok {
		return nil, chain.ErrAccountNotFound
	}
	return data, nil
}

func (f *FakeReader) GetBalance(_ context.Context, account solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return f.balances[account], nil
}

func (f *FakeReader) GetMinimumBalanceForRentExemption(_ context.Context, size uint64) (uint64, error) {
	if f.Err != nil {
		return 0, f.Err
	}
	return Rent(size), nil
}

// Rent is what FakeReader charges for an account of size bytes.
func Rent(size uint64) uint64 {
	return (size + 128) * RentPerByte
}

// FakeAssetAPI is an in-memory chain.AssetAPI.
type FakeAssetAPI struct {
	mu     sync.Mutex
	assets map[solana.PublicKey]*chain.Asset
	proofs map[solana.PublicKey]*chain.AssetProof
}

func NewFakeAssetAPI() *FakeAssetAPI {
	return &FakeAssetAPI{
		assets: map[solana.PublicKey]*chain.Asset{},
		proofs: map[solana.PublicKey]*chain.AssetProof{},
	}
}

func (f *FakeAssetAPI) AddAsset(a *chain.Asset, proof *chain.AssetProof) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[a.ID] = a
	if proof != nil {
		f.proofs[a.ID] = proof
	}
}

func (f *FakeAssetAPI) GetAsset(_ context.Context, id solana.PublicKey) (*chain.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[id]
	if !ok {
		return nil, chain.ErrAssetNotFound
	}
	return a, nil
}

func (f *FakeAssetAPI) GetAssetProof(_ context.Context, id solana.PublicKey) (*chain.AssetProof, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proofs[id]
	if !ok {
		return nil, chain.ErrAssetNotFound
	}
	return p, nil
}
