// Package claims builds the transactions the tuktuk automation program asks
// for when a queued claim task runs. Every build reads chain and ledger state
// at call time and returns an envelope bound to the requesting task, signed
// by the oracle.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/chain"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/metrics"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/programs"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/signer"
)

const (
	DefaultMaxClaimsPerTx  = 5
	DefaultBaseFeeLamports = 10000

	MemoBurned              = "asset is burned"
	MemoNoRewards           = "no rewards to claim"
	MemoInsufficientBalance = "insufficient custody balance to claim"
	MemoAllClaimed          = "all rewards claimed"
)

// ErrNotEnoughFreeTasks is returned when a wallet batch needs more task ids
// than the callback offered.
var ErrNotEnoughFreeTasks = errors.New("not enough free task ids")

// TaskContext identifies the queued task a build answers.
type TaskContext struct {
	Task         solana.PublicKey
	TaskQueuedAt int64
	FreeTaskIDs  []uint16
}

// Envelope is a signed RemoteTaskTransactionV0.
type Envelope struct {
	Transaction       []byte
	Signature         solana.Signature
	RemainingAccounts []*solana.AccountMeta
	// Memo is set when the envelope carries only a memo instruction.
	Memo string
}

type Config struct {
	Logger          *slog.Logger
	Ledger          ledger.Ledger
	Chain           chain.Reader
	Assets          chain.AssetAPI
	Signer          *signer.Signer
	LazyDistributor solana.PublicKey
	TaskQueue       solana.PublicKey
	OracleIndex     uint16
	// PublicURL is the externally reachable base URL of this service, used in queued task URLs.
	PublicURL       string
	MaxClaimsPerTx  int
	BaseFeeLamports uint64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain reader is required")
	}
	if cfg.Assets == nil {
		return errors.New("asset api is required")
	}
	if cfg.Signer == nil {
		return errors.New("signer is required")
	}
	if cfg.LazyDistributor.IsZero() {
		return errors.New("lazy distributor is required")
	}
	if cfg.TaskQueue.IsZero() {
		return errors.New("task queue is required")
	}
	if cfg.PublicURL == "" {
		return errors.New("public url is required")
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if cfg.MaxClaimsPerTx <= 0 {
		cfg.MaxClaimsPerTx = DefaultMaxClaimsPerTx
	}
	if cfg.BaseFeeLamports == 0 {
		cfg.BaseFeeLamports = DefaultBaseFeeLamports
	}
	return nil
}

// Builder holds no state between calls.
type Builder struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{log: cfg.Logger, cfg: cfg}, nil
}

// BuildAssetClaim claims the pending rewards of asset, resolving its entity
// through the ledger's key-to-asset mirror.
func (b *Builder) BuildAssetClaim(ctx context.Context, assetID solana.PublicKey, tc TaskContext) (*Envelope, error) {
	asset, err := b.cfg.Assets.GetAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to get asset %s: %w", assetID, err)
	}
	if asset.Burnt {
		return b.memo("asset", tc, MemoBurned)
	}
	kta, err := b.cfg.Ledger.KeyToAssetByAsset(ctx, assetID)
	if errors.Is(err, ledger.ErrNotFound) {
		return b.memo("asset", tc, MemoNoRewards)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve entity for asset %s: %w", assetID, err)
	}
	return b.buildClaim(ctx, "asset", asset, kta.Address, kta.EntityKey, tc)
}

// BuildKeyToAssetClaim claims the pending rewards of the entity registered at
// the key-to-asset account address.
func (b *Builder) BuildKeyToAssetClaim(ctx context.Context, address solana.PublicKey, tc TaskContext) (*Envelope, error) {
	data, err := b.cfg.Chain.GetAccountData(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to read key to asset %s: %w", address, err)
	}
	kta, err := programs.DecodeKeyToAsset(data)
	if err != nil {
		return nil, err
	}
	asset, err := b.cfg.Assets.GetAsset(ctx, kta.Asset)
	if err != nil {
		return nil, fmt.Errorf("failed to get asset %s: %w", kta.Asset, err)
	}
	if asset.Burnt {
		return b.memo("kta", tc, MemoBurned)
	}
	return b.buildClaim(ctx, "kta", asset, address, kta.EncodedEntityKey(), tc)
}

func (b *Builder) buildClaim(ctx context.Context, kind string, asset *chain.Asset, ktaAddress solana.PublicKey, entityKey string, tc TaskContext) (*Envelope, error) {
	ld := b.cfg.LazyDistributor
	ldData, err := b.cfg.Chain.GetAccountData(ctx, ld)
	if err != nil {
		return nil, fmt.Errorf("failed to read lazy distributor: %w", err)
	}
	distributor, err := programs.DecodeLazyDistributor(ldData)
	if err != nil {
		return nil, err
	}

	recipientAddress, err := programs.RecipientAddress(ld, asset.ID)
	if err != nil {
		return nil, err
	}
	var recipient *programs.Recipient
	data, err := b.cfg.Chain.GetAccountData(ctx, recipientAddress)
	switch {
	case errors.Is(err, chain.ErrAccountNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to read recipient %s: %w", recipientAddress, err)
	default:
		if recipient, err = programs.DecodeRecipient(data); err != nil {
			return nil, err
		}
	}

	lifetime, err := ledger.LifetimeReward(ctx, b.cfg.Ledger, entityKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read lifetime rewards for %s: %w", entityKey, err)
	}

	custody, custodySeeds, err := programs.CustodyAddress(asset.Owner)
	if err != nil {
		return nil, err
	}
	destinationWallet := asset.Owner
	if recipient != nil && recipient.HasDestination() {
		destinationWallet = recipient.Destination
	}
	destinationAccount, _, err := solana.FindAssociatedTokenAddress(destinationWallet, distributor.RewardsMint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive destination token account: %w", err)
	}

	required := b.cfg.BaseFeeLamports
	if recipient == nil {
		rent, err := b.cfg.Chain.GetMinimumBalanceForRentExemption(ctx, programs.RecipientAccountSize)
		if err != nil {
			return nil, fmt.Errorf("failed to get recipient rent: %w", err)
		}
		required += rent
	}
	destinationExists, err := chain.AccountExists(ctx, b.cfg.Chain, destinationAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to check destination token account: %w", err)
	}
	if !destinationExists {
		rent, err := b.cfg.Chain.GetMinimumBalanceForRentExemption(ctx, programs.TokenAccountSize)
		if err != nil {
			return nil, fmt.Errorf("failed to get token account rent: %w", err)
		}
		required += rent
	}
	balance, err := b.cfg.Chain.GetBalance(ctx, custody)
	if err != nil {
		return nil, fmt.Errorf("failed to get custody balance: %w", err)
	}
	if balance < required {
		b.log.Info("claims: insufficient custody balance", "asset", asset.ID, "custody", custody, "balance", balance, "required", required)
		return b.memo(kind, tc, MemoInsufficientBalance)
	}

	var claimed uint64
	if recipient != nil {
		claimed = recipient.TotalRewards
	}
	if lifetime <= claimed {
		return b.memo(kind, tc, MemoNoRewards)
	}

	var proof *chain.AssetProof
	if asset.Compressed {
		if proof, err = b.cfg.Assets.GetAssetProof(ctx, asset.ID); err != nil {
			return nil, fmt.Errorf("failed to get asset proof for %s: %w", asset.ID, err)
		}
	}

	var ixs []programs.Instruction
	if recipient == nil {
		init, err := initializeRecipient(custody, ld, recipientAddress, asset, proof)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, init)
	}

	oracleSigner, err := programs.OracleSignerAddress()
	if err != nil {
		return nil, err
	}
	ixs = append(ixs, &programs.SetCurrentRewardsWrapperV1{
		WrapperAccounts: programs.WrapperAccounts{
			Oracle:          b.cfg.Signer.PublicKey(),
			LazyDistributor: ld,
			Recipient:       recipientAddress,
			KeyToAsset:      ktaAddress,
			OracleSigner:    oracleSigner,
		},
		OracleIndex:    b.cfg.OracleIndex,
		CurrentRewards: lifetime,
	})

	circuitBreaker, err := programs.CircuitBreakerAddress(distributor.RewardsEscrow)
	if err != nil {
		return nil, err
	}
	accounts := programs.DistributeAccounts{
		Payer:              custody,
		LazyDistributor:    ld,
		Recipient:          recipientAddress,
		RewardsMint:        distributor.RewardsMint,
		RewardsEscrow:      distributor.RewardsEscrow,
		CircuitBreaker:     circuitBreaker,
		Owner:              destinationWallet,
		DestinationAccount: destinationAccount,
	}
	switch {
	case recipient != nil && recipient.HasDestination():
		ixs = append(ixs, &programs.DistributeCustomDestinationV0{DistributeAccounts: accounts})
	case asset.Compressed:
		ixs = append(ixs, &programs.DistributeCompressionRewardsV0{
			DistributeAccounts: accounts,
			MerkleTree:         asset.Tree,
			Args:               compressionArgs(asset, proof),
			Proof:              proof.Proof,
		})
	default:
		recipientMintAccount, _, err := solana.FindAssociatedTokenAddress(asset.Owner, asset.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to derive asset token account: %w", err)
		}
		ixs = append(ixs, &programs.DistributeRewardsV0{DistributeAccounts: accounts, RecipientMintAccount: recipientMintAccount})
	}

	built, err := buildAll(ixs)
	if err != nil {
		return nil, err
	}
	env, err := b.envelope(tc, built, [][][]byte{custodySeeds})
	if err != nil {
		return nil, err
	}
	metrics.RemoteTasksTotal.WithLabelValues(kind, "claim").Inc()
	b.log.Debug("claims: built claim", "asset", asset.ID, "entity", entityKey, "lifetime", lifetime, "claimed", claimed)
	return env, nil
}

func initializeRecipient(payer, ld, recipient solana.PublicKey, asset *chain.Asset, proof *chain.AssetProof) (programs.Instruction, error) {
	if asset.Compressed {
		return &programs.InitializeCompressionRecipientV0{
			Payer:           payer,
			LazyDistributor: ld,
			Recipient:       recipient,
			MerkleTree:      asset.Tree,
			Owner:           asset.Owner,
			Delegate:        asset.Delegate,
			Args:            compressionArgs(asset, proof),
		}, nil
	}
	metadata, err := programs.MetadataAddress(asset.ID)
	if err != nil {
		return nil, err
	}
	return &programs.InitializeRecipientV0{
		Payer:           payer,
		LazyDistributor: ld,
		Recipient:       recipient,
		Mint:            asset.ID,
		TargetMetadata:  metadata,
	}, nil
}

func compressionArgs(asset *chain.Asset, proof *chain.AssetProof) programs.CompressionArgs {
	return programs.CompressionArgs{
		DataHash:    asset.DataHash,
		CreatorHash: asset.CreatorHash,
		Root:        proof.Root,
		Index:       asset.LeafIndex,
	}
}

func buildAll(ixs []programs.Instruction) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(ixs))
	for _, ix := range ixs {
		built, err := ix.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build %s: %w", ix.Name(), err)
		}
		out = append(out, built)
	}
	return out, nil
}

func (b *Builder) memo(kind string, tc TaskContext, text string) (*Envelope, error) {
	env, err := b.envelope(tc, []solana.Instruction{programs.NewMemoInstruction(text)}, nil)
	if err != nil {
		return nil, err
	}
	env.Memo = text
	metrics.RemoteTasksTotal.WithLabelValues(kind, "memo").Inc()
	return env, nil
}

// envelope compiles ixs, binds them to the task, and signs the serialized result.
func (b *Builder) envelope(tc TaskContext, ixs []solana.Instruction, signerSeeds [][][]byte) (*Envelope, error) {
	compiled, err := programs.Compile(ixs, signerSeeds)
	if err != nil {
		return nil, fmt.Errorf("failed to compile remote transaction: %w", err)
	}
	remote := &programs.RemoteTaskTransactionV0{
		Task:         tc.Task,
		TaskQueuedAt: tc.TaskQueuedAt,
		Transaction:  compiled,
	}
	data, err := remote.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize remote transaction: %w", err)
	}
	sig, err := b.cfg.Signer.Sign(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Transaction:       data,
		Signature:         sig,
		RemainingAccounts: compiled.RemainingAccounts(),
	}, nil
}
