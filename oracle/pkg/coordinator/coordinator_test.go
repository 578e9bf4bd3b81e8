package coordinator_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	chaintesting "github.com/malbeclabs/distributor-oracle/oracle/pkg/chain/testing"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/coordinator"
	ledgertesting "github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger/testing"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/programs"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/signer"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/validator"
	oracletesting "github.com/malbeclabs/distributor-oracle/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedValidator accepts every transaction except those whose first byte is 0xff.
type scriptedValidator struct {
	calls int
	err   error
}

func (s *scriptedValidator) Validate(_ context.Context, raw []byte) (*validator.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(raw) > 0 && raw[0] == 0xff {
		return &validator.Result{Code: validator.CodeAmountExceedsLifetime, Reason: "invalid amount, 2 is greater than actual rewards 1"}, nil
	}
	return &validator.Result{OK: true, Code: validator.CodeAccepted, Transaction: append([]byte("signed:"), raw...)}, nil
}

type fixture struct {
	oracle *signer.Signer
	ld     solana.PublicKey
	dao    solana.PublicKey
	ledger *ledgertesting.MemLedger
	chain  *chaintesting.FakeReader
	v      *scriptedValidator
}

func newFixture(t *testing.T) *fixture {
	oracle, err := signer.New(solana.NewWallet().PrivateKey)
	require.NoError(t, err)
	return &fixture{
		oracle: oracle,
		ld:     solana.NewWallet().PublicKey(),
		dao:    solana.NewWallet().PublicKey(),
		ledger: ledgertesting.NewMemLedger(),
		chain:  chaintesting.NewFakeReader(),
		v:      &scriptedValidator{},
	}
}

func (f *fixture) coordinator(t *testing.T) *coordinator.Coordinator {
	c, err := coordinator.New(coordinator.Config{
		Logger:          oracletesting.NewLogger(),
		Validator:       f.v,
		Ledger:          f.ledger,
		Chain:           f.chain,
		Signer:          f.oracle,
		LazyDistributor: f.ld,
		Dao:             f.dao,
		OracleIndex:     3,
		Concurrency:     2,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) addKeyToAsset(t *testing.T, key string, lifetime uint64) solana.PublicKey {
	address, err := programs.KeyToAssetAddress(f.dao, []byte(key))
	require.NoError(t, err)
	data, err := (&programs.KeyToAsset{
		Dao:              f.dao,
		Asset:            solana.NewWallet().PublicKey(),
		EntityKey:        []byte(key),
		KeySerialization: programs.KeySerializationUTF8,
	}).Marshal()
	require.NoError(t, err)
	f.chain.SetAccount(address, data)
	f.ledger.SetReward(key, lifetime)
	return address
}

func TestSignMany(t *testing.T) {
	t.Run("all accepted", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.coordinator(t).SignMany(context.Background(), [][]byte{{1}, {2}, {3}})
		require.NoError(t, err)
		require.True(t, res.OK)
		assert.Equal(t, -1, res.FailingIndex)
		assert.Equal(t, [][]byte{[]byte("signed:\x01"), []byte("signed:\x02"), []byte("signed:\x03")}, res.Transactions)
	})

	t.Run("stops at first rejection", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.coordinator(t).SignMany(context.Background(), [][]byte{{1}, {0xff}, {0xff}, {4}})
		require.NoError(t, err)
		assert.False(t, res.OK)
		assert.Equal(t, 1, res.FailingIndex)
		assert.Equal(t, validator.CodeAmountExceedsLifetime, res.Code)
		assert.Nil(t, res.Transactions)
		assert.Equal(t, 2, f.v.calls)
	})

	t.Run("upstream error", func(t *testing.T) {
		f := newFixture(t)
		f.v.err = errors.New("ledger down")
		_, err := f.coordinator(t).SignMany(context.Background(), [][]byte{{1}})
		assert.ErrorContains(t, err, "ledger down")
	})

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.coordinator(t).SignMany(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Empty(t, res.Transactions)
	})
}

func TestSignClaimMessages(t *testing.T) {
	f := newFixture(t)
	var keys []solana.PublicKey
	for i := range 5 {
		keys = append(keys, f.addKeyToAsset(t, fmt.Sprintf("hotspot-%d", i), uint64(100*(i+1))))
	}

	out, err := f.coordinator(t).SignClaimMessages(context.Background(), keys)
	require.NoError(t, err)
	assert.Equal(t, f.oracle.PublicKey(), out.Oracle)
	require.Len(t, out.Messages, len(keys))
	for i, msg := range out.Messages {
		assert.Equal(t, keys[i], msg.KeyToAsset)
		assert.Equal(t, uint64(100*(i+1)), msg.CurrentRewards)
		assert.True(t, msg.Signature.Verify(f.oracle.PublicKey(), msg.Message))

		require.Len(t, msg.Message, 32+32+2+8)
		assert.Equal(t, f.ld[:], msg.Message[:32])
		assert.Equal(t, keys[i][:], msg.Message[32:64])
		assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(msg.Message[64:66]))
		assert.Equal(t, msg.CurrentRewards, binary.LittleEndian.Uint64(msg.Message[66:]))
	}
}

func TestSignClaimMessages_NotFound(t *testing.T) {
	f := newFixture(t)
	known := f.addKeyToAsset(t, "hotspot-1", 10)

	_, err := f.coordinator(t).SignClaimMessages(context.Background(), []solana.PublicKey{known, solana.NewWallet().PublicKey()})
	assert.ErrorIs(t, err, coordinator.ErrNotFound)

	forged := solana.NewWallet().PublicKey()
	data, err := (&programs.KeyToAsset{Dao: f.dao, Asset: solana.NewWallet().PublicKey(), EntityKey: []byte("hotspot-1")}).Marshal()
	require.NoError(t, err)
	f.chain.SetAccount(forged, data)
	_, err = f.coordinator(t).SignClaimMessages(context.Background(), []solana.PublicKey{forged})
	assert.ErrorIs(t, err, coordinator.ErrNotFound)
}

func TestSignClaimMessages_UnrewardedEntity(t *testing.T) {
	f := newFixture(t)
	address := f.addKeyToAsset(t, "hotspot-new", 0)
	f.ledger = ledgertesting.NewMemLedger()

	out, err := f.coordinator(t).SignClaimMessages(context.Background(), []solana.PublicKey{address})
	require.NoError(t, err)
	assert.Zero(t, out.Messages[0].CurrentRewards)
}
