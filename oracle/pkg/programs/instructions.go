package programs

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Instruction names as they appear in the programs' interface descriptions.
const (
	NameInitializeRecipientV0            = "initializeRecipientV0"
	NameInitializeCompressionRecipientV0 = "initializeCompressionRecipientV0"
	NameSetCurrentRewardsV0              = "setCurrentRewardsV0"
	NameDistributeRewardsV0              = "distributeRewardsV0"
	NameDistributeCompressionRewardsV0   = "distributeCompressionRewardsV0"
	NameDistributeCustomDestinationV0    = "distributeCustomDestinationV0"
	NameSetCurrentRewardsWrapperV0       = "setCurrentRewardsWrapperV0"
	NameSetCurrentRewardsWrapperV1       = "setCurrentRewardsWrapperV1"
	NameQueueTaskV0                      = "queueTaskV0"
)

var (
	// ErrUnknownInstruction is returned for a program or discriminator outside the known set.
	ErrUnknownInstruction = errors.New("unknown instruction")
	// ErrMalformedInstruction is returned when a known instruction has too few accounts or bad args.
	ErrMalformedInstruction = errors.New("malformed instruction")
)

// Instruction is the closed set of decoded instructions. Each concrete type
// carries its accounts as named fields.
type Instruction interface {
	Name() string
	Program() solana.PublicKey
	Build() (solana.Instruction, error)
}

// RecipientInitializer is implemented by instructions that create a recipient record.
type RecipientInitializer interface {
	Instruction
	PayerAccount() solana.PublicKey
	LazyDistributorAccount() solana.PublicKey
	RecipientAccount() solana.PublicKey
	AssetID() (solana.PublicKey, error)
}

// RewardSetter is implemented by instructions that propose a current rewards value.
type RewardSetter interface {
	Instruction
	LazyDistributorAccount() solana.PublicKey
	RecipientAccount() solana.PublicKey
	ProposedRewards() uint64
}

// CompressionArgs identify a compressed asset leaf.
type CompressionArgs struct {
	DataHash    [32]byte
	CreatorHash [32]byte
	Root        [32]byte
	Index       uint32
}

func (a CompressionArgs) write(w *borshWriter) {
	w.raw(a.DataHash[:])
	w.raw(a.CreatorHash[:])
	w.raw(a.Root[:])
	w.put(a.Index)
}

func readCompressionArgs(r *borshReader) CompressionArgs {
	return CompressionArgs{
		DataHash:    r.hash(),
		CreatorHash: r.hash(),
		Root:        r.hash(),
		Index:       r.u32(),
	}
}

type InitializeRecipientV0 struct {
	Payer           solana.PublicKey
	LazyDistributor solana.PublicKey
	Recipient       solana.PublicKey
	Mint            solana.PublicKey
	TargetMetadata  solana.PublicKey
}

func (ix *InitializeRecipientV0) Name() string                             { return NameInitializeRecipientV0 }
func (ix *InitializeRecipientV0) Program() solana.PublicKey                { return LazyDistributorProgramID }
func (ix *InitializeRecipientV0) PayerAccount() solana.PublicKey           { return ix.Payer }
func (ix *InitializeRecipientV0) LazyDistributorAccount() solana.PublicKey { return ix.LazyDistributor }
func (ix *InitializeRecipientV0) RecipientAccount() solana.PublicKey       { return ix.Recipient }
func (ix *InitializeRecipientV0) AssetID() (solana.PublicKey, error)       { return ix.Mint, nil }

func (ix *InitializeRecipientV0) Build() (solana.Instruction, error) {
	return solana.NewInstruction(LazyDistributorProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ix.Payer, true, true),
		solana.NewAccountMeta(ix.LazyDistributor, false, false),
		solana.NewAccountMeta(ix.Recipient, true, false),
		solana.NewAccountMeta(ix.Mint, false, false),
		solana.NewAccountMeta(ix.TargetMetadata, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, discInitializeRecipientV0[:]), nil
}

type InitializeCompressionRecipientV0 struct {
	Payer           solana.PublicKey
	LazyDistributor solana.PublicKey
	Recipient       solana.PublicKey
	MerkleTree      solana.PublicKey
	Owner           solana.PublicKey
	Delegate        solana.PublicKey
	Args            CompressionArgs
}

func (ix *InitializeCompressionRecipientV0) Name() string { return NameInitializeCompressionRecipientV0 }
func (ix *InitializeCompressionRecipientV0) Program() solana.PublicKey {
	return LazyDistributorProgramID
}
func (ix *InitializeCompressionRecipientV0) PayerAccount() solana.PublicKey { return ix.Payer }
func (ix *InitializeCompressionRecipientV0) LazyDistributorAccount() solana.PublicKey {
	return ix.LazyDistributor
}
func (ix *InitializeCompressionRecipientV0) RecipientAccount() solana.PublicKey { return ix.Recipient }

// AssetID derives the compressed asset id from the tree and leaf index.
func (ix *InitializeCompressionRecipientV0) AssetID() (solana.PublicKey, error) {
	return AssetIDAddress(ix.MerkleTree, uint64(ix.Args.Index))
}

func (ix *InitializeCompressionRecipientV0) Build() (solana.Instruction, error) {
	w := newBorshWriter()
	w.raw(discInitializeCompressionRecipientV0[:])
	ix.Args.write(w)
	data, err := w.bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(LazyDistributorProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ix.Payer, true, true),
		solana.NewAccountMeta(ix.LazyDistributor, false, false),
		solana.NewAccountMeta(ix.Recipient, true, false),
		solana.NewAccountMeta(ix.MerkleTree, false, false),
		solana.NewAccountMeta(ix.Owner, false, false),
		solana.NewAccountMeta(ix.Delegate, false, false),
		solana.NewAccountMeta(AccountCompressionProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data), nil
}

type SetCurrentRewardsV0 struct {
	Payer           solana.PublicKey
	LazyDistributor solana.PublicKey
	Recipient       solana.PublicKey
	Oracle          solana.PublicKey
	OracleIndex     uint16
	CurrentRewards  uint64
}

func (ix *SetCurrentRewardsV0) Name() string                             { return NameSetCurrentRewardsV0 }
func (ix *SetCurrentRewardsV0) Program() solana.PublicKey                { return LazyDistributorProgramID }
func (ix *SetCurrentRewardsV0) LazyDistributorAccount() solana.PublicKey { return ix.LazyDistributor }
func (ix *SetCurrentRewardsV0) RecipientAccount() solana.PublicKey       { return ix.Recipient }
func (ix *SetCurrentRewardsV0) ProposedRewards() uint64                  { return ix.CurrentRewards }

func (ix *SetCurrentRewardsV0) Build() (solana.Instruction, error) {
	w := newBorshWriter()
	w.raw(discSetCurrentRewardsV0[:])
	w.put(ix.OracleIndex)
	w.put(ix.CurrentRewards)
	data, err := w.bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(LazyDistributorProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ix.Payer, true, true),
		solana.NewAccountMeta(ix.LazyDistributor, false, false),
		solana.NewAccountMeta(ix.Recipient, true, false),
		solana.NewAccountMeta(ix.Oracle, false, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data), nil
}

// DistributeAccounts is the account prefix shared by every distribute variant.
type DistributeAccounts struct {
	Payer              solana.PublicKey
	LazyDistributor    solana.PublicKey
	Recipient          solana.PublicKey
	RewardsMint        solana.PublicKey
	RewardsEscrow      solana.PublicKey
	CircuitBreaker     solana.PublicKey
	Owner              solana.PublicKey
	DestinationAccount solana.PublicKey
}

const distributeCommonAccounts = 12

func (a DistributeAccounts) metas() solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Payer, true, true),
		solana.NewAccountMeta(a.LazyDistributor, true, false),
		solana.NewAccountMeta(a.Recipient, true, false),
		solana.NewAccountMeta(a.RewardsMint, false, false),
		solana.NewAccountMeta(a.RewardsEscrow, true, false),
		solana.NewAccountMeta(a.CircuitBreaker, true, false),
		solana.NewAccountMeta(a.Owner, true, false),
		solana.NewAccountMeta(a.DestinationAccount, true, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(CircuitBreakerProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
}

func decodeDistributeAccounts(accounts []solana.PublicKey) DistributeAccounts {
	return DistributeAccounts{
		Payer:              accounts[0],
		LazyDistributor:    accounts[1],
		Recipient:          accounts[2],
		RewardsMint:        accounts[3],
		RewardsEscrow:      accounts[4],
		CircuitBreaker:     accounts[5],
		Owner:              accounts[6],
		DestinationAccount: accounts[7],
	}
}

type DistributeRewardsV0 struct {
	DistributeAccounts
	RecipientMintAccount solana.PublicKey
}

func (ix *DistributeRewardsV0) Name() string              { return NameDistributeRewardsV0 }
func (ix *DistributeRewardsV0) Program() solana.PublicKey { return LazyDistributorProgramID }

func (ix *DistributeRewardsV0) Build() (solana.Instruction, error) {
	metas := append(ix.metas(), solana.NewAccountMeta(ix.RecipientMintAccount, false, false))
	return solana.NewInstruction(LazyDistributorProgramID, metas, discDistributeRewardsV0[:]), nil
}

type DistributeCompressionRewardsV0 struct {
	DistributeAccounts
	MerkleTree solana.PublicKey
	Args       CompressionArgs
	// Proof nodes are passed as trailing read-only accounts.
	Proof []solana.PublicKey
}

func (ix *DistributeCompressionRewardsV0) Name() string { return NameDistributeCompressionRewardsV0 }
func (ix *DistributeCompressionRewardsV0) Program() solana.PublicKey {
	return LazyDistributorProgramID
}

func (ix *DistributeCompressionRewardsV0) Build() (solana.Instruction, error) {
	w := newBorshWriter()
	w.raw(discDistributeCompressionRewardsV0[:])
	ix.Args.write(w)
	data, err := w.bytes()
	if err != nil {
		return nil, err
	}
	metas := append(ix.metas(),
		solana.NewAccountMeta(ix.MerkleTree, false, false),
		solana.NewAccountMeta(AccountCompressionProgramID, false, false),
	)
	for _, node := range ix.Proof {
		metas = append(metas, solana.NewAccountMeta(node, false, false))
	}
	return solana.NewInstruction(LazyDistributorProgramID, metas, data), nil
}

// DistributeCustomDestinationV0 pays the recipient's configured destination
// wallet; Owner carries that destination.
type DistributeCustomDestinationV0 struct {
	DistributeAccounts
}

func (ix *DistributeCustomDestinationV0) Name() string { return NameDistributeCustomDestinationV0 }
func (ix *DistributeCustomDestinationV0) Program() solana.PublicKey {
	return LazyDistributorProgramID
}

func (ix *DistributeCustomDestinationV0) Build() (solana.Instruction, error) {
	return solana.NewInstruction(LazyDistributorProgramID, ix.metas(), discDistributeCustomDestinationV0[:]), nil
}

// WrapperAccounts are the accounts of the rewards-oracle set_current_rewards wrappers.
type WrapperAccounts struct {
	Oracle          solana.PublicKey
	LazyDistributor solana.PublicKey
	Recipient       solana.PublicKey
	KeyToAsset      solana.PublicKey
	OracleSigner    solana.PublicKey
}

func (a WrapperAccounts) metas() solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Oracle, true, true),
		solana.NewAccountMeta(a.LazyDistributor, false, false),
		solana.NewAccountMeta(a.Recipient, true, false),
		solana.NewAccountMeta(a.KeyToAsset, false, false),
		solana.NewAccountMeta(a.OracleSigner, false, false),
		solana.NewAccountMeta(LazyDistributorProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
}

// SetCurrentRewardsWrapperV0 carries the entity key in its arguments.
type SetCurrentRewardsWrapperV0 struct {
	WrapperAccounts
	EntityKey      []byte
	OracleIndex    uint16
	CurrentRewards uint64
}

func (ix *SetCurrentRewardsWrapperV0) Name() string                             { return NameSetCurrentRewardsWrapperV0 }
func (ix *SetCurrentRewardsWrapperV0) Program() solana.PublicKey                { return RewardsOracleProgramID }
func (ix *SetCurrentRewardsWrapperV0) LazyDistributorAccount() solana.PublicKey { return ix.LazyDistributor }
func (ix *SetCurrentRewardsWrapperV0) RecipientAccount() solana.PublicKey       { return ix.Recipient }
func (ix *SetCurrentRewardsWrapperV0) ProposedRewards() uint64                  { return ix.CurrentRewards }

func (ix *SetCurrentRewardsWrapperV0) Build() (solana.Instruction, error) {
	w := newBorshWriter()
	w.raw(discSetCurrentRewardsWrapperV0[:])
	w.vec(ix.EntityKey)
	w.put(ix.OracleIndex)
	w.put(ix.CurrentRewards)
	data, err := w.bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(RewardsOracleProgramID, ix.metas(), data), nil
}

// SetCurrentRewardsWrapperV1 reads the entity key from the key-to-asset account.
type SetCurrentRewardsWrapperV1 struct {
	WrapperAccounts
	OracleIndex    uint16
	CurrentRewards uint64
}

func (ix *SetCurrentRewardsWrapperV1) Name() string                             { return NameSetCurrentRewardsWrapperV1 }
func (ix *SetCurrentRewardsWrapperV1) Program() solana.PublicKey                { return RewardsOracleProgramID }
func (ix *SetCurrentRewardsWrapperV1) LazyDistributorAccount() solana.PublicKey { return ix.LazyDistributor }
func (ix *SetCurrentRewardsWrapperV1) RecipientAccount() solana.PublicKey       { return ix.Recipient }
func (ix *SetCurrentRewardsWrapperV1) ProposedRewards() uint64                  { return ix.CurrentRewards }

func (ix *SetCurrentRewardsWrapperV1) Build() (solana.Instruction, error) {
	w := newBorshWriter()
	w.raw(discSetCurrentRewardsWrapperV1[:])
	w.put(ix.OracleIndex)
	w.put(ix.CurrentRewards)
	data, err := w.bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(RewardsOracleProgramID, ix.metas(), data), nil
}

// Decode parses one instruction given its program, its resolved accounts in
// instruction order, and its data.
func Decode(program solana.PublicKey, accounts []solana.PublicKey, data []byte) (Instruction, error) {
	if len(data) < 8 {
		return nil, ErrUnknownInstruction
	}
	var d discriminator
	copy(d[:], data[:8])
	args := newBorshReader(data[8:])

	var (
		ix          Instruction
		minAccounts int
	)
	switch {
	case program.Equals(LazyDistributorProgramID):
		switch d {
		case discInitializeRecipientV0:
			minAccounts = 6
			if len(accounts) >= minAccounts {
				ix = &InitializeRecipientV0{
					Payer:           accounts[0],
					LazyDistributor: accounts[1],
					Recipient:       accounts[2],
					Mint:            accounts[3],
					TargetMetadata:  accounts[4],
				}
			}
		case discInitializeCompressionRecipientV0:
			minAccounts = 8
			if len(accounts) >= minAccounts {
				ix = &InitializeCompressionRecipientV0{
					Payer:           accounts[0],
					LazyDistributor: accounts[1],
					Recipient:       accounts[2],
					MerkleTree:      accounts[3],
					Owner:           accounts[4],
					Delegate:        accounts[5],
					Args:            readCompressionArgs(args),
				}
			}
		case discSetCurrentRewardsV0:
			minAccounts = 5
			if len(accounts) >= minAccounts {
				ix = &SetCurrentRewardsV0{
					Payer:           accounts[0],
					LazyDistributor: accounts[1],
					Recipient:       accounts[2],
					Oracle:          accounts[3],
					OracleIndex:     args.u16(),
					CurrentRewards:  args.u64(),
				}
			}
		case discDistributeRewardsV0:
			minAccounts = distributeCommonAccounts + 1
			if len(accounts) >= minAccounts {
				ix = &DistributeRewardsV0{
					DistributeAccounts:   decodeDistributeAccounts(accounts),
					RecipientMintAccount: accounts[distributeCommonAccounts],
				}
			}
		case discDistributeCompressionRewardsV0:
			minAccounts = distributeCommonAccounts + 2
			if len(accounts) >= minAccounts {
				ix = &DistributeCompressionRewardsV0{
					DistributeAccounts: decodeDistributeAccounts(accounts),
					MerkleTree:         accounts[distributeCommonAccounts],
					Args:               readCompressionArgs(args),
					Proof:              append([]solana.PublicKey(nil), accounts[minAccounts:]...),
				}
			}
		case discDistributeCustomDestinationV0:
			minAccounts = distributeCommonAccounts
			if len(accounts) >= minAccounts {
				ix = &DistributeCustomDestinationV0{DistributeAccounts: decodeDistributeAccounts(accounts)}
			}
		default:
			return nil, ErrUnknownInstruction
		}
	case program.Equals(RewardsOracleProgramID):
		minAccounts = 7
		if len(accounts) < minAccounts {
			break
		}
		wrapper := WrapperAccounts{
			Oracle:          accounts[0],
			LazyDistributor: accounts[1],
			Recipient:       accounts[2],
			KeyToAsset:      accounts[3],
			OracleSigner:    accounts[4],
		}
		switch d {
		case discSetCurrentRewardsWrapperV0:
			ix = &SetCurrentRewardsWrapperV0{
				WrapperAccounts: wrapper,
				EntityKey:       args.vec(),
				OracleIndex:     args.u16(),
				CurrentRewards:  args.u64(),
			}
		case discSetCurrentRewardsWrapperV1:
			ix = &SetCurrentRewardsWrapperV1{
				WrapperAccounts: wrapper,
				OracleIndex:     args.u16(),
				CurrentRewards:  args.u64(),
			}
		default:
			return nil, ErrUnknownInstruction
		}
	case program.Equals(TuktukProgramID):
		if d != discQueueTaskV0 {
			return nil, ErrUnknownInstruction
		}
		minAccounts = 6
		if len(accounts) >= minAccounts {
			ix = &QueueTaskV0{
				Payer:              accounts[0],
				QueueAuthority:     accounts[1],
				TaskQueueAuthority: accounts[2],
				TaskQueue:          accounts[3],
				Task:               accounts[4],
				Args:               readQueueTaskArgs(args),
			}
		}
	default:
		return nil, ErrUnknownInstruction
	}

	if ix == nil {
		return nil, fmt.Errorf("%w: expected at least %d accounts, got %d", ErrMalformedInstruction, minAccounts, len(accounts))
	}
	if args.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInstruction, args.err)
	}
	return ix, nil
}
