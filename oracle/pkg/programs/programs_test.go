package programs_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/programs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metaKeys(ix solana.Instruction) []solana.PublicKey {
	var keys []solana.PublicKey
	for _, m := range ix.Accounts() {
		keys = append(keys, m.PublicKey)
	}
	return keys
}

func roundTrip(t *testing.T, ix programs.Instruction) programs.Instruction {
	t.Helper()
	built, err := ix.Build()
	require.NoError(t, err)
	data, err := built.Data()
	require.NoError(t, err)
	decoded, err := programs.Decode(built.ProgramID(), metaKeys(built), data)
	require.NoError(t, err)
	return decoded
}

func TestDecode_SetCurrentRewardsV0(t *testing.T) {
	ix := &programs.SetCurrentRewardsV0{
		Payer:           solana.NewWallet().PublicKey(),
		LazyDistributor: solana.NewWallet().PublicKey(),
		Recipient:       solana.NewWallet().PublicKey(),
		Oracle:          solana.NewWallet().PublicKey(),
		OracleIndex:     2,
		CurrentRewards:  1000,
	}
	decoded := roundTrip(t, ix)
	assert.Equal(t, ix, decoded)
	assert.Equal(t, programs.NameSetCurrentRewardsV0, decoded.Name())

	setter, ok := decoded.(programs.RewardSetter)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), setter.ProposedRewards())
	assert.Equal(t, ix.Recipient, setter.RecipientAccount())
}

func TestDecode_WrapperVariants(t *testing.T) {
	accounts := programs.WrapperAccounts{
		Oracle:          solana.NewWallet().PublicKey(),
		LazyDistributor: solana.NewWallet().PublicKey(),
		Recipient:       solana.NewWallet().PublicKey(),
		KeyToAsset:      solana.NewWallet().PublicKey(),
		OracleSigner:    solana.NewWallet().PublicKey(),
	}
	v0 := &programs.SetCurrentRewardsWrapperV0{
		WrapperAccounts: accounts,
		EntityKey:       []byte("entity"),
		OracleIndex:     1,
		CurrentRewards:  42,
	}
	assert.Equal(t, v0, roundTrip(t, v0))

	v1 := &programs.SetCurrentRewardsWrapperV1{
		WrapperAccounts: accounts,
		OracleIndex:     0,
		CurrentRewards:  7,
	}
	assert.Equal(t, v1, roundTrip(t, v1))
}

func TestDecode_DistributeVariants(t *testing.T) {
	common := programs.DistributeAccounts{
		Payer:              solana.NewWallet().PublicKey(),
		LazyDistributor:    solana.NewWallet().PublicKey(),
		Recipient:          solana.NewWallet().PublicKey(),
		RewardsMint:        solana.NewWallet().PublicKey(),
		RewardsEscrow:      solana.NewWallet().PublicKey(),
		CircuitBreaker:     solana.NewWallet().PublicKey(),
		Owner:              solana.NewWallet().PublicKey(),
		DestinationAccount: solana.NewWallet().PublicKey(),
	}

	plain := &programs.DistributeRewardsV0{DistributeAccounts: common, RecipientMintAccount: solana.NewWallet().PublicKey()}
	assert.Equal(t, plain, roundTrip(t, plain))

	custom := &programs.DistributeCustomDestinationV0{DistributeAccounts: common}
	assert.Equal(t, custom, roundTrip(t, custom))

	compressed := &programs.DistributeCompressionRewardsV0{
		DistributeAccounts: common,
		MerkleTree:         solana.NewWallet().PublicKey(),
		Args:               programs.CompressionArgs{DataHash: [32]byte{1}, CreatorHash: [32]byte{2}, Root: [32]byte{3}, Index: 9},
		Proof:              []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()},
	}
	assert.Equal(t, compressed, roundTrip(t, compressed))
}

func TestDecode_InitializeCompressionRecipientAssetID(t *testing.T) {
	tree := solana.NewWallet().PublicKey()
	ix := &programs.InitializeCompressionRecipientV0{
		Payer:           solana.NewWallet().PublicKey(),
		LazyDistributor: solana.NewWallet().PublicKey(),
		Recipient:       solana.NewWallet().PublicKey(),
		MerkleTree:      tree,
		Owner:           solana.NewWallet().PublicKey(),
		Delegate:        solana.NewWallet().PublicKey(),
		Args:            programs.CompressionArgs{Index: 5},
	}
	decoded := roundTrip(t, ix)
	init, ok := decoded.(programs.RecipientInitializer)
	require.True(t, ok)

	want, err := programs.AssetIDAddress(tree, 5)
	require.NoError(t, err)
	got, err := init.AssetID()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecode_Errors(t *testing.T) {
	t.Run("unknown program", func(t *testing.T) {
		_, err := programs.Decode(solana.SystemProgramID, nil, make([]byte, 12))
		assert.ErrorIs(t, err, programs.ErrUnknownInstruction)
	})

	t.Run("short data", func(t *testing.T) {
		_, err := programs.Decode(programs.LazyDistributorProgramID, nil, []byte{1, 2})
		assert.ErrorIs(t, err, programs.ErrUnknownInstruction)
	})

	t.Run("unknown discriminator", func(t *testing.T) {
		_, err := programs.Decode(programs.LazyDistributorProgramID, nil, make([]byte, 8))
		assert.ErrorIs(t, err, programs.ErrUnknownInstruction)
	})

	t.Run("too few accounts", func(t *testing.T) {
		ix := &programs.SetCurrentRewardsV0{CurrentRewards: 1}
		built, err := ix.Build()
		require.NoError(t, err)
		data, err := built.Data()
		require.NoError(t, err)
		_, err = programs.Decode(built.ProgramID(), metaKeys(built)[:3], data)
		assert.ErrorIs(t, err, programs.ErrMalformedInstruction)
	})

	t.Run("truncated args", func(t *testing.T) {
		ix := &programs.SetCurrentRewardsV0{CurrentRewards: 1}
		built, err := ix.Build()
		require.NoError(t, err)
		data, err := built.Data()
		require.NoError(t, err)
		_, err = programs.Decode(built.ProgramID(), metaKeys(built), data[:12])
		assert.ErrorIs(t, err, programs.ErrMalformedInstruction)
	})
}

func TestRecipient_MarshalDecode(t *testing.T) {
	one := uint64(100)
	r := &programs.Recipient{
		LazyDistributor:      solana.NewWallet().PublicKey(),
		Asset:                solana.NewWallet().PublicKey(),
		TotalRewards:         500,
		CurrentConfigVersion: 3,
		CurrentRewards:       []*uint64{&one, nil},
		BumpSeed:             254,
		Destination:          solana.NewWallet().PublicKey(),
	}
	data, err := r.Marshal()
	require.NoError(t, err)

	got, err := programs.DecodeRecipient(data)
	require.NoError(t, err)
	assert.Equal(t, r, got)
	assert.True(t, got.HasDestination())

	_, err = programs.DecodeKeyToAsset(data)
	assert.ErrorIs(t, err, programs.ErrInvalidAccountData)
}

func TestKeyToAsset_EncodedEntityKey(t *testing.T) {
	k := &programs.KeyToAsset{EntityKey: []byte("hello"), KeySerialization: programs.KeySerializationUTF8}
	assert.Equal(t, "hello", k.EncodedEntityKey())

	k.KeySerialization = programs.KeySerializationB58
	assert.Equal(t, "Cn8eVZg", k.EncodedEntityKey())

	raw, err := programs.DecodeEntityKey("Cn8eVZg", programs.KeySerializationB58)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), raw)

	_, err = programs.DecodeEntityKey("0OIl", programs.KeySerializationB58)
	assert.Error(t, err)
}

func TestParseKeySerialization(t *testing.T) {
	for in, want := range map[string]programs.KeySerialization{
		"":     programs.KeySerializationB58,
		"b58":  programs.KeySerializationB58,
		"utf8": programs.KeySerializationUTF8,
		"UTF8": programs.KeySerializationUTF8,
	} {
		got, err := programs.ParseKeySerialization(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := programs.ParseKeySerialization("hex")
	assert.Error(t, err)
}

func TestKeyToAssetAddress_Deterministic(t *testing.T) {
	dao := solana.NewWallet().PublicKey()
	a, err := programs.KeyToAssetAddress(dao, []byte("key-a"))
	require.NoError(t, err)
	again, err := programs.KeyToAssetAddress(dao, []byte("key-a"))
	require.NoError(t, err)
	b, err := programs.KeyToAssetAddress(dao, []byte("key-b"))
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
}

func TestCompile_OrdersAccountsByRank(t *testing.T) {
	custody := solana.NewWallet().PublicKey()
	queueAuthority := solana.NewWallet().PublicKey()
	writable := solana.NewWallet().PublicKey()
	readonly := solana.NewWallet().PublicKey()
	program := solana.NewWallet().PublicKey()

	ix := solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.NewAccountMeta(readonly, false, false),
		solana.NewAccountMeta(writable, true, false),
		solana.NewAccountMeta(queueAuthority, false, true),
		solana.NewAccountMeta(custody, true, true),
	}, []byte{1, 2, 3})

	tx, err := programs.Compile([]solana.Instruction{ix}, [][][]byte{{[]byte("custody"), {255}}})
	require.NoError(t, err)

	assert.Equal(t, []solana.PublicKey{custody, queueAuthority, writable, readonly, program}, tx.Accounts)
	assert.Equal(t, uint8(1), tx.NumRwSigners)
	assert.Equal(t, uint8(1), tx.NumRoSigners)
	assert.Equal(t, uint8(1), tx.NumRw)
	require.Len(t, tx.Instructions, 1)
	assert.Equal(t, uint8(4), tx.Instructions[0].ProgramIDIndex)
	assert.Equal(t, []uint8{3, 2, 1, 0}, tx.Instructions[0].Accounts)

	remaining := tx.RemainingAccounts()
	require.Len(t, remaining, 5)
	for i, m := range remaining {
		assert.False(t, m.IsSigner)
		assert.Equal(t, i == 0 || i == 2, m.IsWritable, "account %d", i)
	}
}

func TestRemoteTaskTransaction_RoundTrip(t *testing.T) {
	tx, err := programs.Compile([]solana.Instruction{programs.NewMemoInstruction("nothing to claim")}, nil)
	require.NoError(t, err)

	env := &programs.RemoteTaskTransactionV0{
		Task:         solana.NewWallet().PublicKey(),
		TaskQueuedAt: 1_700_000_000,
		Transaction:  tx,
	}
	data, err := env.Marshal()
	require.NoError(t, err)

	got, err := programs.DecodeRemoteTaskTransaction(data)
	require.NoError(t, err)
	assert.Equal(t, env.Task, got.Task)
	assert.Equal(t, env.TaskQueuedAt, got.TaskQueuedAt)
	assert.Equal(t, []solana.PublicKey{programs.MemoProgramID}, got.Transaction.Accounts)
	require.Len(t, got.Transaction.Instructions, 1)
	assert.Equal(t, []byte("nothing to claim"), got.Transaction.Instructions[0].Data)
}

func TestQueueTaskV0_RoundTrip(t *testing.T) {
	reward := uint64(10000)
	ix := &programs.QueueTaskV0{
		Payer:              solana.NewWallet().PublicKey(),
		QueueAuthority:     solana.NewWallet().PublicKey(),
		TaskQueueAuthority: solana.NewWallet().PublicKey(),
		TaskQueue:          solana.NewWallet().PublicKey(),
		Task:               solana.NewWallet().PublicKey(),
		Args: programs.QueueTaskArgs{
			ID:          12,
			URL:         "https://oracle.example/v1/tuktuk/kta/abc",
			Signer:      solana.NewWallet().PublicKey(),
			CrankReward: &reward,
			FreeTasks:   0,
			Description: "claim abc",
		},
	}
	assert.Equal(t, ix, roundTrip(t, ix))
}
