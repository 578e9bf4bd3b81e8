// Package ledgertesting starts ledger backends in containers and seeds them
// with fixtures for tests.
package ledgertesting

import (
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
)

type RecipientRow struct {
	Address         solana.PublicKey
	LazyDistributor solana.PublicKey
	Asset           solana.PublicKey
	TotalRewards    uint64
	Destination     solana.PublicKey
}

// Fixture is the ledger state a test seeds. EntityKey in KeyToAssets is the
// encoded key and is stored as-is.
type Fixture struct {
	Dao         solana.PublicKey
	Rewards     []ledger.RewardRecord
	KeyToAssets []ledger.KeyToAsset
	Recipients  []RecipientRow
	Owners      map[solana.PublicKey]solana.PublicKey
}
