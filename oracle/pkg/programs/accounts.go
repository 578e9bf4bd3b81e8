package programs

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

const (
	// RecipientAccountSize is the allocated size of a RecipientV0 account.
	RecipientAccountSize = 163
	// TokenAccountSize is the size of an SPL token account.
	TokenAccountSize = 165
)

// KeySerialization is how an entity key's bytes are rendered as a ledger key.
type KeySerialization uint8

const (
	KeySerializationB58 KeySerialization = iota
	KeySerializationUTF8
)

func (k KeySerialization) String() string {
	switch k {
	case KeySerializationB58:
		return "b58"
	case KeySerializationUTF8:
		return "utf8"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseKeySerialization accepts the query-string spellings used by clients.
func ParseKeySerialization(s string) (KeySerialization, error) {
	switch s {
	case "", "b58", "B58":
		return KeySerializationB58, nil
	case "utf8", "UTF8":
		return KeySerializationUTF8, nil
	default:
		return 0, fmt.Errorf("unknown key serialization %q", s)
	}
}

// EncodeEntityKey renders raw entity key bytes as the string the reward ledger is keyed by.
func EncodeEntityKey(key []byte, serialization KeySerialization) string {
	if serialization == KeySerializationUTF8 {
		return string(key)
	}
	return base58.Encode(key)
}

// DecodeEntityKey is the inverse of EncodeEntityKey.
func DecodeEntityKey(encoded string, serialization KeySerialization) ([]byte, error) {
	if serialization == KeySerializationUTF8 {
		return []byte(encoded), nil
	}
	key, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid b58 entity key: %w", err)
	}
	return key, nil
}

// Recipient is the lazy distributor's per-asset claim record.
type Recipient struct {
	LazyDistributor      solana.PublicKey
	Asset                solana.PublicKey
	TotalRewards         uint64
	CurrentConfigVersion uint16
	CurrentRewards       []*uint64
	BumpSeed             uint8
	Destination          solana.PublicKey
}

func (r *Recipient) HasDestination() bool {
	return !r.Destination.IsZero()
}

func DecodeRecipient(data []byte) (*Recipient, error) {
	rd := newBorshReader(data)
	rd.discriminator(discRecipientV0)
	r := &Recipient{
		LazyDistributor:      rd.pubkey(),
		Asset:                rd.pubkey(),
		TotalRewards:         rd.u64(),
		CurrentConfigVersion: rd.u16(),
	}
	n := rd.u32()
	for i := uint32(0); i < n && rd.err == nil; i++ {
		r.CurrentRewards = append(r.CurrentRewards, rd.optionU64())
	}
	r.BumpSeed = rd.u8()
	_ = rd.u64() // reserved
	r.Destination = rd.pubkey()
	if rd.err != nil {
		return nil, fmt.Errorf("failed to decode recipient: %w", rd.err)
	}
	return r, nil
}

func (r *Recipient) Marshal() ([]byte, error) {
	w := newBorshWriter()
	w.raw(discRecipientV0[:])
	w.pubkey(r.LazyDistributor)
	w.pubkey(r.Asset)
	w.put(r.TotalRewards)
	w.put(r.CurrentConfigVersion)
	w.put(uint32(len(r.CurrentRewards)))
	for _, v := range r.CurrentRewards {
		w.optionU64(v)
	}
	w.put(r.BumpSeed)
	w.put(uint64(0))
	w.pubkey(r.Destination)
	return w.bytes()
}

// KeyToAsset maps an entity key to the asset that represents it.
type KeyToAsset struct {
	Dao              solana.PublicKey
	Asset            solana.PublicKey
	EntityKey        []byte
	BumpSeed         uint8
	KeySerialization KeySerialization
}

// EncodedEntityKey is the reward ledger key for this entity.
func (k *KeyToAsset) EncodedEntityKey() string {
	return EncodeEntityKey(k.EntityKey, k.KeySerialization)
}

func DecodeKeyToAsset(data []byte) (*KeyToAsset, error) {
	rd := newBorshReader(data)
	rd.discriminator(discKeyToAssetV0)
	k := &KeyToAsset{
		Dao:       rd.pubkey(),
		Asset:     rd.pubkey(),
		EntityKey: rd.vec(),
		BumpSeed:  rd.u8(),
	}
	k.KeySerialization = KeySerialization(rd.u8())
	if rd.err != nil {
		return nil, fmt.Errorf("failed to decode key to asset: %w", rd.err)
	}
	if k.KeySerialization > KeySerializationUTF8 {
		return nil, fmt.Errorf("%w: key serialization %d", ErrInvalidAccountData, k.KeySerialization)
	}
	return k, nil
}

func (k *KeyToAsset) Marshal() ([]byte, error) {
	w := newBorshWriter()
	w.raw(discKeyToAssetV0[:])
	w.pubkey(k.Dao)
	w.pubkey(k.Asset)
	w.vec(k.EntityKey)
	w.put(k.BumpSeed)
	w.put(uint8(k.KeySerialization))
	return w.bytes()
}

type OracleConfig struct {
	Oracle solana.PublicKey
	URL    string
}

// LazyDistributor holds the fields of LazyDistributorV0 the oracle reads. Trailing
// window configuration is not decoded.
type LazyDistributor struct {
	Version       uint16
	RewardsMint   solana.PublicKey
	RewardsEscrow solana.PublicKey
	Authority     solana.PublicKey
	Oracles       []OracleConfig
	BumpSeed      uint8
}

func DecodeLazyDistributor(data []byte) (*LazyDistributor, error) {
	rd := newBorshReader(data)
	rd.discriminator(discLazyDistributorV0)
	ld := &LazyDistributor{
		Version:       rd.u16(),
		RewardsMint:   rd.pubkey(),
		RewardsEscrow: rd.pubkey(),
		Authority:     rd.pubkey(),
	}
	n := rd.u32()
	for i := uint32(0); i < n && rd.err == nil; i++ {
		ld.Oracles = append(ld.Oracles, OracleConfig{Oracle: rd.pubkey(), URL: rd.str()})
	}
	ld.BumpSeed = rd.u8()
	if rd.err != nil {
		return nil, fmt.Errorf("failed to decode lazy distributor: %w", rd.err)
	}
	return ld, nil
}

func (ld *LazyDistributor) Marshal() ([]byte, error) {
	w := newBorshWriter()
	w.raw(discLazyDistributorV0[:])
	w.put(ld.Version)
	w.pubkey(ld.RewardsMint)
	w.pubkey(ld.RewardsEscrow)
	w.pubkey(ld.Authority)
	w.put(uint32(len(ld.Oracles)))
	for _, o := range ld.Oracles {
		w.pubkey(o.Oracle)
		w.str(o.URL)
	}
	w.put(ld.BumpSeed)
	return w.bytes()
}

// TaskQueue holds the leading fields of a tuktuk TaskQueueV0.
type TaskQueue struct {
	TuktukConfig    solana.PublicKey
	ID              uint32
	UpdateAuthority solana.PublicKey
	Reserved        solana.PublicKey
	MinCrankReward  uint64
}

func DecodeTaskQueue(data []byte) (*TaskQueue, error) {
	rd := newBorshReader(data)
	rd.discriminator(discTaskQueueV0)
	q := &TaskQueue{
		TuktukConfig:    rd.pubkey(),
		ID:              rd.u32(),
		UpdateAuthority: rd.pubkey(),
		Reserved:        rd.pubkey(),
		MinCrankReward:  rd.u64(),
	}
	if rd.err != nil {
		return nil, fmt.Errorf("failed to decode task queue: %w", rd.err)
	}
	return q, nil
}

func (q *TaskQueue) Marshal() ([]byte, error) {
	w := newBorshWriter()
	w.raw(discTaskQueueV0[:])
	w.pubkey(q.TuktukConfig)
	w.put(q.ID)
	w.pubkey(q.UpdateAuthority)
	w.pubkey(q.Reserved)
	w.put(q.MinCrankReward)
	return w.bytes()
}
