package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/programs"
)

// activeDeviceWindow is how recently an entity must have been rewarded to count as active.
const activeDeviceWindow = 30 * 24 * time.Hour

type walletRewardsResponse struct {
	Lifetime string `json:"lifetime"`
	Pending  string `json:"pending"`
}

// handleWalletRewards sums rewards across a wallet's entities, by owner or by
// claim destination.
func (s *Server) handleWalletRewards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, destination := q.Get("owner"), q.Get("destination")

	var (
		raw  string
		role ledger.WalletRole
	)
	switch {
	case owner != "" && destination != "":
		writeError(w, http.StatusBadRequest, "specify only one of owner or destination")
		return
	case owner != "":
		raw, role = owner, ledger.WalletRoleOwner
	case destination != "":
		raw, role = destination, ledger.WalletRoleDestination
	default:
		writeError(w, http.StatusBadRequest, "owner or destination is required")
		return
	}
	wallet, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+string(role)+": "+err.Error())
		return
	}

	rewards, err := s.cfg.Ledger.WalletRewards(r.Context(), wallet, role, s.cfg.LazyDistributor)
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletRewardsResponse{
		Lifetime: rewards.Lifetime.String(),
		Pending:  rewards.Pending.String(),
	})
}

type currentRewardsResponse struct {
	CurrentRewards string `json:"currentRewards"`
}

// handleCurrentRewards reports one entity's lifetime rewards, addressed by
// asset or by encoded entity key.
func (s *Server) handleCurrentRewards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	var (
		lifetime uint64
		err      error
	)
	switch {
	case q.Get("assetId") != "":
		asset, perr := solana.PublicKeyFromBase58(q.Get("assetId"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid assetId: "+perr.Error())
			return
		}
		kta, kerr := s.cfg.Ledger.KeyToAssetByAsset(ctx, asset)
		if errors.Is(kerr, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		if kerr != nil {
			s.writeInternalError(w, r, kerr)
			return
		}
		lifetime, err = ledger.LifetimeReward(ctx, s.cfg.Ledger, kta.EntityKey)
	case q.Get("entityKey") != "":
		entityKey := q.Get("entityKey")
		serialization, perr := programs.ParseKeySerialization(q.Get("keySerialization"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		if _, perr := programs.DecodeEntityKey(entityKey, serialization); perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		lifetime, err = ledger.LifetimeReward(ctx, s.cfg.Ledger, entityKey)
	default:
		writeError(w, http.StatusBadRequest, "assetId or entityKey is required")
		return
	}
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, currentRewardsResponse{CurrentRewards: strconv.FormatUint(lifetime, 10)})
}

type bulkRewardsRequest struct {
	EntityKeys []string `json:"entityKeys"`
}

type bulkRewardsResponse struct {
	CurrentRewards map[string]string `json:"currentRewards"`
}

// handleBulkRewards reports lifetime rewards for many entity keys. Keys the
// ledger has never rewarded report zero.
func (s *Server) handleBulkRewards(w http.ResponseWriter, r *http.Request) {
	var req bulkRewardsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.EntityKeys) == 0 {
		writeError(w, http.StatusBadRequest, "entityKeys is required")
		return
	}
	if len(req.EntityKeys) > maxBulkKeys {
		writeError(w, http.StatusBadRequest, "too many entityKeys, max "+strconv.Itoa(maxBulkKeys))
		return
	}

	found, err := s.cfg.Ledger.BulkLifetimeRewards(r.Context(), req.EntityKeys)
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	out := make(map[string]string, len(req.EntityKeys))
	for _, key := range req.EntityKeys {
		out[key] = strconv.FormatUint(found[key], 10)
	}
	writeJSON(w, http.StatusOK, bulkRewardsResponse{CurrentRewards: out})
}

type activeDevicesResponse struct {
	Count uint64 `json:"count"`
}

func (s *Server) handleActiveDevices(w http.ResponseWriter, r *http.Request) {
	kind, err := ledger.ParseRewardKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	count, err := s.cfg.Ledger.ActiveEntityCount(r.Context(), kind, time.Now().Add(-activeDeviceWindow))
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		s.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activeDevicesResponse{Count: count})
}
