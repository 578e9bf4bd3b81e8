package chain_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/chain"
	oracletesting "github.com/malbeclabs/distributor-oracle/utils/pkg/testing"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	accounts map[solana.PublicKey][]byte
}

func (f *fakeReader) GetAccountData(_ context.Context, account solana.PublicKey) ([]byte, error) {
	data, ok := f.accounts[account]
	if !ok {
		return nil, chain.ErrAccountNotFound
	}
	return data, nil
}

func (f *fakeReader) GetBalance(context.Context, solana.PublicKey) (uint64, error) { return 0, nil }

func (f *fakeReader) GetMinimumBalanceForRentExemption(context.Context, uint64) (uint64, error) {
	return 0, nil
}

func lookupTableData(addresses ...solana.PublicKey) []byte {
	data := make([]byte, 56)
	for _, a := range addresses {
		data = append(data, a[:]...)
	}
	return data
}

func TestResolveAccountKeys(t *testing.T) {
	static := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}
	tableA := solana.NewWallet().PublicKey()
	tableB := solana.NewWallet().PublicKey()
	a := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}
	b := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}

	reader := &fakeReader{accounts: map[solana.PublicKey][]byte{
		tableA: lookupTableData(a...),
		tableB: lookupTableData(b...),
	}}

	tx := &solana.Transaction{}
	tx.Message.AccountKeys = static
	tx.Message.AddressTableLookups = solana.MessageAddressTableLookupSlice{
		{AccountKey: tableA, WritableIndexes: []uint8{2}, ReadonlyIndexes: []uint8{0}},
		{AccountKey: tableB, WritableIndexes: []uint8{1}, ReadonlyIndexes: []uint8{0}},
	}

	keys, err := chain.ResolveAccountKeys(context.Background(), reader, tx)
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{static[0], static[1], a[2], b[1], a[0], b[0]}, keys)
}

func TestResolveAccountKeys_Errors(t *testing.T) {
	table := solana.NewWallet().PublicKey()

	t.Run("index out of range", func(t *testing.T) {
		reader := &fakeReader{accounts: map[solana.PublicKey][]byte{table: lookupTableData(solana.NewWallet().PublicKey())}}
		tx := &solana.Transaction{}
		tx.Message.AddressTableLookups = solana.MessageAddressTableLookupSlice{
			{AccountKey: table, WritableIndexes: []uint8{3}},
		}
		_, err := chain.ResolveAccountKeys(context.Background(), reader, tx)
		assert.ErrorIs(t, err, chain.ErrInvalidLookupTable)
	})

	t.Run("missing table", func(t *testing.T) {
		tx := &solana.Transaction{}
		tx.Message.AddressTableLookups = solana.MessageAddressTableLookupSlice{{AccountKey: table}}
		_, err := chain.ResolveAccountKeys(context.Background(), &fakeReader{}, tx)
		assert.ErrorIs(t, err, chain.ErrAccountNotFound)
	})

	t.Run("bad size", func(t *testing.T) {
		reader := &fakeReader{accounts: map[solana.PublicKey][]byte{table: make([]byte, 60)}}
		tx := &solana.Transaction{}
		tx.Message.AddressTableLookups = solana.MessageAddressTableLookupSlice{{AccountKey: table}}
		_, err := chain.ResolveAccountKeys(context.Background(), reader, tx)
		assert.ErrorIs(t, err, chain.ErrInvalidLookupTable)
	})
}

func TestAccountExists(t *testing.T) {
	present := solana.NewWallet().PublicKey()
	reader := &fakeReader{accounts: map[solana.PublicKey][]byte{present: {1}}}

	ok, err := chain.AccountExists(context.Background(), reader, present)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = chain.AccountExists(context.Background(), reader, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.False(t, ok)
}

func newDASServer(t *testing.T, handler func(method string, params map[string]string) (any, *map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params map[string]string `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		if rpcErr != nil {
			resp["error"] = *rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDASClient_GetAsset(t *testing.T) {
	id := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	tree := solana.NewWallet().PublicKey()
	dataHash := [32]byte{7}

	srv := newDASServer(t, func(method string, params map[string]string) (any, *map[string]any) {
		assert.Equal(t, "getAsset", method)
		assert.Equal(t, id.String(), params["id"])
		return map[string]any{
			"id":    id.String(),
			"burnt": false,
			"compression": map[string]any{
				"compressed":   true,
				"tree":         tree.String(),
				"leaf_id":      17,
				"data_hash":    base58.Encode(dataHash[:]),
				"creator_hash": base58.Encode(make([]byte, 32)),
			},
			"ownership": map[string]any{"owner": owner.String(), "delegate": nil},
		}, nil
	})

	client := chain.NewDASClient(oracletesting.NewLogger(), srv.URL)
	asset, err := client.GetAsset(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, asset.ID)
	assert.Equal(t, owner, asset.Owner)
	assert.True(t, asset.Delegate.IsZero())
	assert.True(t, asset.Compressed)
	assert.Equal(t, tree, asset.Tree)
	assert.Equal(t, uint32(17), asset.LeafIndex)
	assert.Equal(t, dataHash, asset.DataHash)
}

func TestDASClient_NotFound(t *testing.T) {
	srv := newDASServer(t, func(string, map[string]string) (any, *map[string]any) {
		e := map[string]any{"code": -32000, "message": "Asset Not Found"}
		return nil, &e
	})
	client := chain.NewDASClient(oracletesting.NewLogger(), srv.URL)
	_, err := client.GetAsset(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, chain.ErrAssetNotFound)
}

func TestDASClient_GetAssetProof(t *testing.T) {
	nodes := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}
	tree := solana.NewWallet().PublicKey()
	root := [32]byte{9, 9}

	srv := newDASServer(t, func(method string, _ map[string]string) (any, *map[string]any) {
		assert.Equal(t, "getAssetProof", method)
		return map[string]any{
			"root":    base58.Encode(root[:]),
			"proof":   []string{nodes[0].String(), nodes[1].String()},
			"tree_id": tree.String(),
		}, nil
	})
	client := chain.NewDASClient(oracletesting.NewLogger(), srv.URL)
	proof, err := client.GetAssetProof(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, root, proof.Root)
	assert.Equal(t, tree, proof.Tree)
	assert.Equal(t, nodes, proof.Proof)
}

func TestDASClient_RetriesUnavailable(t *testing.T) {
	id := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"id":        id.String(),
				"ownership": map[string]any{"owner": owner.String()},
			},
		})
	}))
	defer srv.Close()

	client := chain.NewDASClient(oracletesting.NewLogger(), srv.URL)
	asset, err := client.GetAsset(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, owner, asset.Owner)
	assert.Equal(t, 2, calls)
}

func TestDASClient_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client := chain.NewDASClient(oracletesting.NewLogger(), srv.URL)
	_, err := client.GetAsset(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("%d", http.StatusForbidden))
}
