package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// lookupTableHeaderSize is the fixed metadata prefix of an address lookup
// table account; addresses follow as packed 32 byte keys.
const lookupTableHeaderSize = 56

var ErrInvalidLookupTable = errors.New("invalid address lookup table")

// ResolveAccountKeys returns the flat account list a transaction's compiled
// instructions index into: static keys, then every table's writable
// addresses, then every table's read-only addresses.
func ResolveAccountKeys(ctx context.Context, r Reader, tx *solana.Transaction) ([]solana.PublicKey, error) {
	keys := append([]solana.PublicKey(nil), tx.Message.AccountKeys...)
	lookups := tx.Message.AddressTableLookups
	if len(lookups) == 0 {
		return keys, nil
	}

	tables := make([][]solana.PublicKey, len(lookups))
	for i, lookup := range lookups {
		data, err := r.GetAccountData(ctx, lookup.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read lookup table %s: %w", lookup.AccountKey, err)
		}
		addresses, err := decodeLookupTable(data)
		if err != nil {
			return nil, fmt.Errorf("lookup table %s: %w", lookup.AccountKey, err)
		}
		tables[i] = addresses
	}

	pick := func(table []solana.PublicKey, indexes []uint8) ([]solana.PublicKey, error) {
		out := make([]solana.PublicKey, 0, len(indexes))
		for _, idx := range indexes {
			if int(idx) >= len(table) {
				return nil, fmt.Errorf("%w: index %d out of range (%d addresses)", ErrInvalidLookupTable, idx, len(table))
			}
			out = append(out, table[idx])
		}
		return out, nil
	}
	for i, lookup := range lookups {
		writable, err := pick(tables[i], lookup.WritableIndexes)
		if err != nil {
			return nil, err
		}
		keys = append(keys, writable...)
	}
	for i, lookup := range lookups {
		readonly, err := pick(tables[i], lookup.ReadonlyIndexes)
		if err != nil {
			return nil, err
		}
		keys = append(keys, readonly...)
	}
	return keys, nil
}

func decodeLookupTable(data []byte) ([]solana.PublicKey, error) {
	if len(data) < lookupTableHeaderSize || (len(data)-lookupTableHeaderSize)%solana.PublicKeyLength != 0 {
		return nil, fmt.Errorf("%w: unexpected size %d", ErrInvalidLookupTable, len(data))
	}
	n := (len(data) - lookupTableHeaderSize) / solana.PublicKeyLength
	addresses := make([]solana.PublicKey, n)
	for i := range addresses {
		off := lookupTableHeaderSize + i*solana.PublicKeyLength
		addresses[i] = solana.PublicKeyFromBytes(data[off : off+solana.PublicKeyLength])
	}
	return addresses, nil
}
