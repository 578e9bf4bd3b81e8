package programs

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// RecipientAddress derives the recipient record tracking claims for asset under lazyDistributor.
func RecipientAddress(lazyDistributor, asset solana.PublicKey) (solana.PublicKey, error) {
	return findAddress(LazyDistributorProgramID, []byte("recipient"), lazyDistributor[:], asset[:])
}

// KeyToAssetAddress derives the entity key registry record for entityKey under dao.
func KeyToAssetAddress(dao solana.PublicKey, entityKey []byte) (solana.PublicKey, error) {
	hash := sha256.Sum256(entityKey)
	return findAddress(EntityManagerProgramID, []byte("key_to_asset"), dao[:], hash[:])
}

// OracleSignerAddress is the rewards-oracle PDA that signs set_current_rewards on the oracle's behalf.
func OracleSignerAddress() (solana.PublicKey, error) {
	return findAddress(RewardsOracleProgramID, []byte("oracle_signer"))
}

func CircuitBreakerAddress(rewardsEscrow solana.PublicKey) (solana.PublicKey, error) {
	return findAddress(CircuitBreakerProgramID, []byte("account_windowed_breaker"), rewardsEscrow[:])
}

// AssetIDAddress derives the id of the compressed asset stored at leaf index of tree.
func AssetIDAddress(tree solana.PublicKey, index uint64) (solana.PublicKey, error) {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], index)
	return findAddress(BubblegumProgramID, []byte("asset"), tree[:], le[:])
}

func MetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	return findAddress(TokenMetadataProgramID, []byte("metadata"), TokenMetadataProgramID[:], mint[:])
}

// CustodyAddress derives the SOL custody account that pays for automated claims of wallet.
// The returned seeds, bump included, let the automation program sign for it.
func CustodyAddress(wallet solana.PublicKey) (solana.PublicKey, [][]byte, error) {
	return findSigner(CronsProgramID, []byte("custody"), wallet[:])
}

func QueueAuthorityAddress() (solana.PublicKey, [][]byte, error) {
	return findSigner(CronsProgramID, []byte("queue_authority"))
}

func TaskQueueAuthorityAddress(taskQueue, queueAuthority solana.PublicKey) (solana.PublicKey, error) {
	return findAddress(TuktukProgramID, []byte("task_queue_authority"), taskQueue[:], queueAuthority[:])
}

func TaskAddress(taskQueue solana.PublicKey, id uint16) (solana.PublicKey, error) {
	var le [2]byte
	binary.LittleEndian.PutUint16(le[:], id)
	return findAddress(TuktukProgramID, []byte("task"), taskQueue[:], le[:])
}

func findAddress(program solana.PublicKey, seeds ...[]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive address: %w", err)
	}
	return addr, nil
}

func findSigner(program solana.PublicKey, seeds ...[]byte) (solana.PublicKey, [][]byte, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("failed to derive address: %w", err)
	}
	signerSeeds := make([][]byte, 0, len(seeds)+1)
	signerSeeds = append(signerSeeds, seeds...)
	signerSeeds = append(signerSeeds, []byte{bump})
	return addr, signerSeeds, nil
}
