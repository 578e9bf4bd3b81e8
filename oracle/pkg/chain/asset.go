package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/malbeclabs/distributor-oracle/utils/pkg/retry"
	"github.com/mr-tron/base58"
)

// ErrAssetNotFound is returned when the asset API has no record of an asset.
var ErrAssetNotFound = errors.New("asset not found")

// Asset is the subset of DAS asset metadata the claim builder uses.
type Asset struct {
	ID          solana.PublicKey
	Owner       solana.PublicKey
	Delegate    solana.PublicKey
	Burnt       bool
	Compressed  bool
	Tree        solana.PublicKey
	LeafIndex   uint32
	DataHash    [32]byte
	CreatorHash [32]byte
}

type AssetProof struct {
	Root  [32]byte
	Proof []solana.PublicKey
	Tree  solana.PublicKey
}

// AssetAPI looks up compressed and uncompressed NFT metadata.
type AssetAPI interface {
	GetAsset(ctx context.Context, id solana.PublicKey) (*Asset, error)
	GetAssetProof(ctx context.Context, id solana.PublicKey) (*AssetProof, error)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string   { return fmt.Sprintf("unexpected status code: %d", e.code) }
func (e *statusError) StatusCode() int { return e.code }

type assetResult struct {
	ID          string `json:"id"`
	Burnt       bool   `json:"burnt"`
	Compression struct {
		Compressed  bool   `json:"compressed"`
		Tree        string `json:"tree"`
		LeafID      uint32 `json:"leaf_id"`
		DataHash    string `json:"data_hash"`
		CreatorHash string `json:"creator_hash"`
	} `json:"compression"`
	Ownership struct {
		Owner    string  `json:"owner"`
		Delegate *string `json:"delegate"`
	} `json:"ownership"`
}

type assetProofResult struct {
	Root   string   `json:"root"`
	Proof  []string `json:"proof"`
	TreeID string   `json:"tree_id"`
}

// DASClient is a JSON-RPC client for the Digital Asset Standard API.
type DASClient struct {
	log   *slog.Logger
	rpc   jsonrpc.RPCClient
	retry retry.Config
}

func NewDASClient(log *slog.Logger, url string) *DASClient {
	return &DASClient{
		log: log,
		rpc: jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
			HTTPClient: &http.Client{Timeout: 10 * time.Second},
		}),
		retry: retry.DefaultConfig(),
	}
}

func (c *DASClient) GetAsset(ctx context.Context, id solana.PublicKey) (*Asset, error) {
	var res assetResult
	if err := c.call(ctx, "getAsset", map[string]string{"id": id.String()}, &res); err != nil {
		return nil, fmt.Errorf("failed to get asset %s: %w", id, err)
	}

	asset := &Asset{
		ID:         id,
		Burnt:      res.Burnt,
		Compressed: res.Compression.Compressed,
		LeafIndex:  res.Compression.LeafID,
	}
	var err error
	if asset.Owner, err = parseOptionalKey(res.Ownership.Owner); err != nil {
		return nil, fmt.Errorf("invalid owner for asset %s: %w", id, err)
	}
	if res.Ownership.Delegate != nil {
		if asset.Delegate, err = parseOptionalKey(*res.Ownership.Delegate); err != nil {
			return nil, fmt.Errorf("invalid delegate for asset %s: %w", id, err)
		}
	}
	if asset.Compressed {
		if asset.Tree, err = parseOptionalKey(res.Compression.Tree); err != nil {
			return nil, fmt.Errorf("invalid tree for asset %s: %w", id, err)
		}
		if asset.DataHash, err = parseHash(res.Compression.DataHash); err != nil {
			return nil, fmt.Errorf("invalid data hash for asset %s: %w", id, err)
		}
		if asset.CreatorHash, err = parseHash(res.Compression.CreatorHash); err != nil {
			return nil, fmt.Errorf("invalid creator hash for asset %s: %w", id, err)
		}
	}
	return asset, nil
}

func (c *DASClient) GetAssetProof(ctx context.Context, id solana.PublicKey) (*AssetProof, error) {
	var res assetProofResult
	if err := c.call(ctx, "getAssetProof", map[string]string{"id": id.String()}, &res); err != nil {
		return nil, fmt.Errorf("failed to get asset proof %s: %w", id, err)
	}
	root, err := parseHash(res.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid proof root for asset %s: %w", id, err)
	}
	tree, err := parseOptionalKey(res.TreeID)
	if err != nil {
		return nil, fmt.Errorf("invalid proof tree for asset %s: %w", id, err)
	}
	proof := &AssetProof{Root: root, Tree: tree}
	for _, node := range res.Proof {
		pk, err := solana.PublicKeyFromBase58(node)
		if err != nil {
			return nil, fmt.Errorf("invalid proof node for asset %s: %w", id, err)
		}
		proof.Proof = append(proof.Proof, pk)
	}
	return proof, nil
}

// call sends params as a named-parameter object, which DAS methods expect.
func (c *DASClient) call(ctx context.Context, method string, params map[string]string, out any) error {
	var resp *jsonrpc.RPCResponse
	err := retry.Do(ctx, c.retry, func() error {
		var err error
		resp, err = c.rpc.Call(ctx, method, params)
		var httpErr *jsonrpc.HTTPError
		if errors.As(err, &httpErr) {
			return fmt.Errorf("%w: %w", &statusError{code: httpErr.Code}, err)
		}
		return err
	})
	if err != nil {
		c.log.Debug("chain: asset api call failed", "method", method, "error", err)
		return err
	}
	if resp.Error != nil {
		if strings.Contains(strings.ToLower(resp.Error.Message), "not found") {
			return ErrAssetNotFound
		}
		return fmt.Errorf("RPC error: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return ErrAssetNotFound
	}
	if err := resp.GetObject(out); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return nil
}

func parseOptionalKey(s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, nil
	}
	return solana.PublicKeyFromBase58(s)
}

func parseHash(s string) ([32]byte, error) {
	var h [32]byte
	if s == "" {
		return h, nil
	}
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return h, err
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}
