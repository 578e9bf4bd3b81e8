package validator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	chaintesting "github.com/malbeclabs/distributor-oracle/oracle/pkg/chain/testing"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
	ledgertesting "github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger/testing"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/programs"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/signer"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/validator"
	oracletesting "github.com/malbeclabs/distributor-oracle/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const entityKey = "gateway-1"

type fixture struct {
	oracle    *signer.Signer
	payer     solana.PublicKey
	ld        solana.PublicKey
	dao       solana.PublicKey
	asset     solana.PublicKey
	recipient solana.PublicKey
	kta       solana.PublicKey
	ledger    *ledgertesting.MemLedger
	chain     *chaintesting.FakeReader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	oracle, err := signer.New(solana.NewWallet().PrivateKey)
	require.NoError(t, err)

	f := &fixture{
		oracle: oracle,
		payer:  solana.NewWallet().PublicKey(),
		ld:     solana.NewWallet().PublicKey(),
		dao:    solana.NewWallet().PublicKey(),
		asset:  solana.NewWallet().PublicKey(),
		ledger: ledgertesting.NewMemLedger(),
		chain:  chaintesting.NewFakeReader(),
	}
	f.recipient, err = programs.RecipientAddress(f.ld, f.asset)
	require.NoError(t, err)
	f.kta, err = programs.KeyToAssetAddress(f.dao, []byte(entityKey))
	require.NoError(t, err)

	f.setRecipient(t, f.recipient, f.ld, f.asset)
	f.setKeyToAsset(t, f.kta, f.asset, []byte(entityKey))
	f.ledger.AddKeyToAsset(ledger.KeyToAsset{Address: f.kta, Asset: f.asset, EntityKey: entityKey})
	f.ledger.SetReward(entityKey, 1000)
	return f
}

func (f *fixture) setRecipient(t *testing.T, address, ld, asset solana.PublicKey) {
	data, err := (&programs.Recipient{LazyDistributor: ld, Asset: asset}).Marshal()
	require.NoError(t, err)
	f.chain.SetAccount(address, data)
}

func (f *fixture) setKeyToAsset(t *testing.T, address, asset solana.PublicKey, key []byte) {
	data, err := (&programs.KeyToAsset{
		Dao:              f.dao,
		Asset:            asset,
		EntityKey:        key,
		KeySerialization: programs.KeySerializationUTF8,
	}).Marshal()
	require.NoError(t, err)
	f.chain.SetAccount(address, data)
}

func (f *fixture) validator(t *testing.T, willPay bool) *validator.Validator {
	t.Helper()
	v, err := validator.New(validator.Config{
		Logger:           oracletesting.NewLogger(),
		Ledger:           f.ledger,
		Chain:            f.chain,
		Signer:           f.oracle,
		LazyDistributor:  f.ld,
		Dao:              f.dao,
		WillPayRecipient: willPay,
	})
	require.NoError(t, err)
	return v
}

func (f *fixture) setRewards(amount uint64) *programs.SetCurrentRewardsV0 {
	return &programs.SetCurrentRewardsV0{
		Payer:           f.payer,
		LazyDistributor: f.ld,
		Recipient:       f.recipient,
		Oracle:          f.oracle.PublicKey(),
		CurrentRewards:  amount,
	}
}

func (f *fixture) wrapperAccounts(t *testing.T) programs.WrapperAccounts {
	oracleSigner, err := programs.OracleSignerAddress()
	require.NoError(t, err)
	return programs.WrapperAccounts{
		Oracle:          f.oracle.PublicKey(),
		LazyDistributor: f.ld,
		Recipient:       f.recipient,
		KeyToAsset:      f.kta,
		OracleSigner:    oracleSigner,
	}
}

func build(t *testing.T, ix programs.Instruction) solana.Instruction {
	t.Helper()
	built, err := ix.Build()
	require.NoError(t, err)
	return built
}

func buildTx(t *testing.T, payer solana.PublicKey, ixs ...solana.Instruction) []byte {
	t.Helper()
	tx, err := solana.NewTransaction(ixs, solana.Hash{}, solana.TransactionPayer(payer))
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func requireOracleSignature(t *testing.T, oracle solana.PublicKey, raw []byte) {
	t.Helper()
	tx, err := solana.TransactionFromBytes(raw)
	require.NoError(t, err)
	message, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	for i, key := range tx.Message.AccountKeys[:tx.Message.Header.NumRequiredSignatures] {
		if key.Equals(oracle) {
			require.Less(t, i, len(tx.Signatures))
			assert.True(t, tx.Signatures[i].Verify(oracle, message), "oracle signature does not verify")
			return
		}
	}
	t.Fatal("oracle is not a signer of the transaction")
}

func TestValidator_Config(t *testing.T) {
	_, err := validator.New(validator.Config{Logger: oracletesting.NewLogger()})
	assert.Error(t, err)
}

func TestValidator_LifetimeBoundary(t *testing.T) {
	f := newFixture(t)
	v := f.validator(t, false)

	res, err := v.Validate(context.Background(), buildTx(t, f.payer, build(t, f.setRewards(1000))))
	require.NoError(t, err)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, validator.CodeAccepted, res.Code)
	requireOracleSignature(t, f.oracle.PublicKey(), res.Transaction)

	res, err = v.Validate(context.Background(), buildTx(t, f.payer, build(t, f.setRewards(1001))))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, validator.CodeAmountExceedsLifetime, res.Code)
	assert.Contains(t, res.Reason, "1001")
	assert.Contains(t, res.Reason, "1000")
	assert.Nil(t, res.Transaction)
}

func TestValidator_MissingEntityHasZeroLifetime(t *testing.T) {
	f := newFixture(t)
	f.ledger = ledgertesting.NewMemLedger()
	v := f.validator(t, false)

	res, err := v.Validate(context.Background(), buildTx(t, f.payer, build(t, f.setRewards(0))))
	require.NoError(t, err)
	assert.True(t, res.OK, res.Reason)

	res, err = v.Validate(context.Background(), buildTx(t, f.payer, build(t, f.setRewards(1))))
	require.NoError(t, err)
	assert.Equal(t, validator.CodeAmountExceedsLifetime, res.Code)
}

func TestValidator_OracleFeePayer(t *testing.T) {
	f := newFixture(t)
	v := f.validator(t, false)

	ix := f.setRewards(500)
	ix.Payer = f.oracle.PublicKey()
	res, err := v.Validate(context.Background(), buildTx(t, f.oracle.PublicKey(), build(t, ix)))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, validator.CodeOracleFeePayer, res.Code)
}

func TestValidator_AllowList(t *testing.T) {
	f := newFixture(t)
	v := f.validator(t, false)

	transfer := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(f.payer, true, true),
		solana.NewAccountMeta(f.oracle.PublicKey(), true, false),
	}, []byte{2, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0})

	queueTask := build(t, &programs.QueueTaskV0{
		Payer:              f.payer,
		QueueAuthority:     solana.NewWallet().PublicKey(),
		TaskQueueAuthority: solana.NewWallet().PublicKey(),
		TaskQueue:          solana.NewWallet().PublicKey(),
		Task:               solana.NewWallet().PublicKey(),
		Args:               programs.QueueTaskArgs{URL: "https://example.com"},
	})

	unknownDiscriminator := solana.NewInstruction(programs.LazyDistributorProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(f.payer, true, true),
	}, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	truncated := solana.NewInstruction(programs.RewardsOracleProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(f.payer, true, true),
	}, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	tests := []struct {
		name string
		ix   solana.Instruction
	}{
		{"system transfer", transfer},
		{"automation program", queueTask},
		{"unknown lazy distributor instruction", unknownDiscriminator},
		{"wrapper with too few accounts", truncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := buildTx(t, f.payer, build(t, f.setRewards(10)), tt.ix)
			res, err := v.Validate(context.Background(), raw)
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.Equal(t, validator.CodeInvalidInstructions, res.Code)
			assert.Equal(t, validator.ReasonInvalidInstructions, res.Reason)
		})
	}
}

func TestValidator_ComputeBudgetIgnored(t *testing.T) {
	f := newFixture(t)
	v := f.validator(t, false)

	setLimit := solana.NewInstruction(programs.ComputeBudgetProgramID, solana.AccountMetaSlice{}, []byte{2, 0x40, 0x0d, 0x03, 0x00})
	res, err := v.Validate(context.Background(), buildTx(t, f.payer, setLimit, build(t, f.setRewards(1000))))
	require.NoError(t, err)
	assert.True(t, res.OK, res.Reason)
}

func TestValidator_Deterministic(t *testing.T) {
	f := newFixture(t)
	v := f.validator(t, false)

	accepted := buildTx(t, f.payer, build(t, f.setRewards(900)))
	first, err := v.Validate(context.Background(), accepted)
	require.NoError(t, err)
	second, err := v.Validate(context.Background(), accepted)
	require.NoError(t, err)
	assert.Equal(t, first.Transaction, second.Transaction)

	rejected := buildTx(t, f.payer, build(t, f.setRewards(5000)))
	first, err = v.Validate(context.Background(), rejected)
	require.NoError(t, err)
	second, err = v.Validate(context.Background(), rejected)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestValidator_OracleNotSignerReturnsUnchanged(t *testing.T) {
	f := newFixture(t)
	v := f.validator(t, false)

	distribute := build(t, &programs.DistributeRewardsV0{
		DistributeAccounts: programs.DistributeAccounts{
			Payer:              f.payer,
			LazyDistributor:    f.ld,
			Recipient:          f.recipient,
			RewardsMint:        solana.NewWallet().PublicKey(),
			RewardsEscrow:      solana.NewWallet().PublicKey(),
			CircuitBreaker:     solana.NewWallet().PublicKey(),
			Owner:              solana.NewWallet().PublicKey(),
			DestinationAccount: solana.NewWallet().PublicKey(),
		},
		RecipientMintAccount: solana.NewWallet().PublicKey(),
	})
	raw := buildTx(t, f.payer, distribute)
	res, err := v.Validate(context.Background(), raw)
	require.NoError(t, err)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, raw, res.Transaction)
}

func TestValidator_PendingRecipientBinding(t *testing.T) {
	newAsset := solana.NewWallet().PublicKey()

	setup := func(t *testing.T) (*fixture, *programs.InitializeRecipientV0, *programs.SetCurrentRewardsV0) {
		f := newFixture(t)
		recipient, err := programs.RecipientAddress(f.ld, newAsset)
		require.NoError(t, err)
		f.ledger.AddKeyToAsset(ledger.KeyToAsset{Address: solana.NewWallet().PublicKey(), Asset: newAsset, EntityKey: "gateway-2"})
		f.ledger.SetReward("gateway-2", 250)

		init := &programs.InitializeRecipientV0{
			Payer:           f.payer,
			LazyDistributor: f.ld,
			Recipient:       recipient,
			Mint:            newAsset,
			TargetMetadata:  solana.NewWallet().PublicKey(),
		}
		set := f.setRewards(250)
		set.Recipient = recipient
		return f, init, set
	}

	t.Run("recipient created in same transaction", func(t *testing.T) {
		f, init, set := setup(t)
		res, err := f.validator(t, false).Validate(context.Background(), buildTx(t, f.payer, build(t, init), build(t, set)))
		require.NoError(t, err)
		assert.True(t, res.OK, res.Reason)
	})

	t.Run("recipient neither pending nor on chain", func(t *testing.T) {
		f, _, set := setup(t)
		res, err := f.validator(t, false).Validate(context.Background(), buildTx(t, f.payer, build(t, set)))
		require.NoError(t, err)
		assert.Equal(t, validator.CodeRecipientNotFound, res.Code)
	})

	t.Run("oracle pays recipient", func(t *testing.T) {
		f, init, set := setup(t)
		init.Payer = f.oracle.PublicKey()
		raw := buildTx(t, f.payer, build(t, init), build(t, set))

		res, err := f.validator(t, false).Validate(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, validator.CodeOraclePaysRecipient, res.Code)

		res, err = f.validator(t, true).Validate(context.Background(), raw)
		require.NoError(t, err)
		assert.True(t, res.OK, res.Reason)
	})
}

func TestValidator_InvalidLazyDistributor(t *testing.T) {
	f := newFixture(t)
	other := solana.NewWallet().PublicKey()
	recipient, err := programs.RecipientAddress(other, f.asset)
	require.NoError(t, err)
	f.setRecipient(t, recipient, other, f.asset)

	set := f.setRewards(10)
	set.LazyDistributor = other
	set.Recipient = recipient
	res, err := f.validator(t, false).Validate(context.Background(), buildTx(t, f.payer, build(t, set)))
	require.NoError(t, err)
	assert.Equal(t, validator.CodeInvalidLazyDistributor, res.Code)
	assert.Equal(t, "invalid lazy distributor", res.Reason)
}

func TestValidator_WrapperV1(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t)
		ix := &programs.SetCurrentRewardsWrapperV1{WrapperAccounts: f.wrapperAccounts(t), CurrentRewards: 1000}
		res, err := f.validator(t, false).Validate(context.Background(), buildTx(t, f.payer, build(t, ix)))
		require.NoError(t, err)
		require.True(t, res.OK, res.Reason)
		requireOracleSignature(t, f.oracle.PublicKey(), res.Transaction)
	})

	t.Run("exceeds lifetime", func(t *testing.T) {
		f := newFixture(t)
		ix := &programs.SetCurrentRewardsWrapperV1{WrapperAccounts: f.wrapperAccounts(t), CurrentRewards: 1001}
		res, err := f.validator(t, false).Validate(context.Background(), buildTx(t, f.payer, build(t, ix)))
		require.NoError(t, err)
		assert.Equal(t, validator.CodeAmountExceedsLifetime, res.Code)
	})

	t.Run("key to asset at wrong address", func(t *testing.T) {
		f := newFixture(t)
		forged := solana.NewWallet().PublicKey()
		f.setKeyToAsset(t, forged, f.asset, []byte(entityKey))
		accounts := f.wrapperAccounts(t)
		accounts.KeyToAsset = forged
		ix := &programs.SetCurrentRewardsWrapperV1{WrapperAccounts: accounts, CurrentRewards: 1}
		res, err := f.validator(t, false).Validate(context.Background(), buildTx(t, f.payer, build(t, ix)))
		require.NoError(t, err)
		assert.Equal(t, validator.CodeKeyToAssetMismatch, res.Code)
	})

	t.Run("key to asset for another asset", func(t *testing.T) {
		f := newFixture(t)
		f.setKeyToAsset(t, f.kta, solana.NewWallet().PublicKey(), []byte(entityKey))
		ix := &programs.SetCurrentRewardsWrapperV1{WrapperAccounts: f.wrapperAccounts(t), CurrentRewards: 1}
		res, err := f.validator(t, false).Validate(context.Background(), buildTx(t, f.payer, build(t, ix)))
		require.NoError(t, err)
		assert.Equal(t, validator.CodeAssetMismatch, res.Code)
	})

	t.Run("key to asset missing", func(t *testing.T) {
		f := newFixture(t)
		f.chain = chaintesting.NewFakeReader()
		f.setRecipient(t, f.recipient, f.ld, f.asset)
		ix := &programs.SetCurrentRewardsWrapperV1{WrapperAccounts: f.wrapperAccounts(t), CurrentRewards: 1}
		res, err := f.validator(t, false).Validate(context.Background(), buildTx(t, f.payer, build(t, ix)))
		require.NoError(t, err)
		assert.Equal(t, validator.CodeKeyToAssetNotFound, res.Code)
	})
}

func TestValidator_WrapperV0(t *testing.T) {
	f := newFixture(t)
	v := f.validator(t, false)

	ix := &programs.SetCurrentRewardsWrapperV0{WrapperAccounts: f.wrapperAccounts(t), EntityKey: []byte(entityKey), CurrentRewards: 1000}
	res, err := v.Validate(context.Background(), buildTx(t, f.payer, build(t, ix)))
	require.NoError(t, err)
	assert.True(t, res.OK, res.Reason)

	ix.EntityKey = []byte("gateway-other")
	res, err = v.Validate(context.Background(), buildTx(t, f.payer, build(t, ix)))
	require.NoError(t, err)
	assert.Equal(t, validator.CodeKeyToAssetMismatch, res.Code)
}

func TestValidator_AddressLookupTable(t *testing.T) {
	f := newFixture(t)
	table := solana.NewWallet().PublicKey()
	tableData := make([]byte, 56)
	tableData = append(tableData, f.recipient[:]...)
	f.chain.SetAccount(table, tableData)

	set, err := f.setRewards(1000).Build()
	require.NoError(t, err)
	tx, err := solana.NewTransaction([]solana.Instruction{set}, solana.Hash{},
		solana.TransactionPayer(f.payer),
		solana.TransactionAddressTables(map[solana.PublicKey]solana.PublicKeySlice{table: {f.recipient}}),
	)
	require.NoError(t, err)
	require.NotEmpty(t, tx.Message.AddressTableLookups)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	res, err := f.validator(t, false).Validate(context.Background(), raw)
	require.NoError(t, err)
	require.True(t, res.OK, res.Reason)
	requireOracleSignature(t, f.oracle.PublicKey(), res.Transaction)

	f.chain.SetAccount(table, make([]byte, 57))
	res, err = f.validator(t, false).Validate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, validator.CodeMalformed, res.Code)
}

func TestValidator_Malformed(t *testing.T) {
	f := newFixture(t)
	v := f.validator(t, false)
	for _, raw := range [][]byte{nil, []byte("not a transaction")} {
		res, err := v.Validate(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, validator.CodeMalformed, res.Code)
	}
}

func TestValidator_UpstreamErrors(t *testing.T) {
	f := newFixture(t)
	f.ledger.Err = errors.New("connection refused")
	_, err := f.validator(t, false).Validate(context.Background(), buildTx(t, f.payer, build(t, f.setRewards(1))))
	assert.Error(t, err)

	f = newFixture(t)
	f.chain.Err = errors.New("rpc unavailable")
	_, err = f.validator(t, false).Validate(context.Background(), buildTx(t, f.payer, build(t, f.setRewards(1))))
	assert.Error(t, err)
}
