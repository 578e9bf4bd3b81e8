// Package programs describes the on-chain program surface the oracle consumes:
// program IDs, PDA derivations, instruction and account layouts, and the
// remote task wire format used by the tuktuk automation program.
package programs

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

var (
	LazyDistributorProgramID    = solana.MustPublicKeyFromBase58("1azyuavdMyvsivtNxPoz6SucD18eDHeXzFCUPq5XU7w")
	RewardsOracleProgramID      = solana.MustPublicKeyFromBase58("rorcfdX4h9m9swCKgcypaHJ8NGYVANBpmV9EHn3cYrF")
	EntityManagerProgramID      = solana.MustPublicKeyFromBase58("hemjuPXBpNvggtaUnN1MwT3wrdhttKEfosTcc2P9Pg8")
	CircuitBreakerProgramID     = solana.MustPublicKeyFromBase58("circAbx64bbsscPbQzZAUvuXpHqrCe6fLMzc2uKXz9g")
	TuktukProgramID             = solana.MustPublicKeyFromBase58("tuktukUrfhXT6ZT77QTU8RQtvgL967uRuVagWF57zVA")
	CronsProgramID              = solana.MustPublicKeyFromBase58("hcrLPFgFUY6sCUKzqLWxXx5bntDiDCrAZVcrXfx9AHu")
	BubblegumProgramID          = solana.MustPublicKeyFromBase58("BGUMAp9Gq7iTEuizy4pqaxsTyUCBK68MDfK752saRPUY")
	AccountCompressionProgramID = solana.MustPublicKeyFromBase58("cmtDvXumGCrqC1Age74AVPhSRVXJMd8PJS91L8KbNCK")
	TokenMetadataProgramID      = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")
	ComputeBudgetProgramID      = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	MemoProgramID               = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
)

// discriminator is the 8 byte anchor prefix of an instruction or account.
type discriminator [8]byte

func instructionDiscriminator(name string) discriminator {
	return hashDiscriminator("global:" + name)
}

func accountDiscriminator(name string) discriminator {
	return hashDiscriminator("account:" + name)
}

func hashDiscriminator(preimage string) discriminator {
	sum := sha256.Sum256([]byte(preimage))
	var d discriminator
	copy(d[:], sum[:8])
	return d
}

var (
	discInitializeRecipientV0            = instructionDiscriminator("initialize_recipient_v0")
	discInitializeCompressionRecipientV0 = instructionDiscriminator("initialize_compression_recipient_v0")
	discSetCurrentRewardsV0              = instructionDiscriminator("set_current_rewards_v0")
	discDistributeRewardsV0              = instructionDiscriminator("distribute_rewards_v0")
	discDistributeCompressionRewardsV0   = instructionDiscriminator("distribute_compression_rewards_v0")
	discDistributeCustomDestinationV0    = instructionDiscriminator("distribute_custom_destination_v0")
	discSetCurrentRewardsWrapperV0       = instructionDiscriminator("set_current_rewards_wrapper_v0")
	discSetCurrentRewardsWrapperV1       = instructionDiscriminator("set_current_rewards_wrapper_v1")
	discQueueTaskV0                      = instructionDiscriminator("queue_task_v0")

	discRecipientV0       = accountDiscriminator("RecipientV0")
	discKeyToAssetV0      = accountDiscriminator("KeyToAssetV0")
	discLazyDistributorV0 = accountDiscriminator("LazyDistributorV0")
	discTaskQueueV0       = accountDiscriminator("TaskQueueV0")
)
