package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/chain"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/claims"
)

// remoteTaskRequest is the body the automation program posts when a queued
// remote task runs.
type remoteTaskRequest struct {
	Task         string    `json:"task"`
	TaskQueuedAt flexInt64 `json:"task_queued_at"`
	FreeTaskIDs  []uint16  `json:"free_task_ids"`
}

type remainingAccount struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

type remoteTaskResponse struct {
	Transaction       string             `json:"transaction"`
	Signature         string             `json:"signature"`
	RemainingAccounts []remainingAccount `json:"remaining_accounts"`
}

func (s *Server) handleTuktukAsset(w http.ResponseWriter, r *http.Request) {
	s.handleRemoteTask(w, r, "assetId", func(r *http.Request, key solana.PublicKey, tc claims.TaskContext) (*claims.Envelope, error) {
		return s.cfg.Claims.BuildAssetClaim(r.Context(), key, tc)
	})
}

func (s *Server) handleTuktukKeyToAsset(w http.ResponseWriter, r *http.Request) {
	s.handleRemoteTask(w, r, "keyToAsset", func(r *http.Request, key solana.PublicKey, tc claims.TaskContext) (*claims.Envelope, error) {
		return s.cfg.Claims.BuildKeyToAssetClaim(r.Context(), key, tc)
	})
}

func (s *Server) handleTuktukWallet(w http.ResponseWriter, r *http.Request) {
	batchNumber := 0
	if raw := r.URL.Query().Get("batchNumber"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid batchNumber")
			return
		}
		batchNumber = n
	}
	s.handleRemoteTask(w, r, "wallet", func(r *http.Request, key solana.PublicKey, tc claims.TaskContext) (*claims.Envelope, error) {
		return s.cfg.Claims.BuildWalletClaims(r.Context(), key, batchNumber, tc)
	})
}

type buildFunc func(r *http.Request, key solana.PublicKey, tc claims.TaskContext) (*claims.Envelope, error)

func (s *Server) handleRemoteTask(w http.ResponseWriter, r *http.Request, param string, build buildFunc) {
	key, err := solana.PublicKeyFromBase58(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param+": "+err.Error())
		return
	}
	var req remoteTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := solana.PublicKeyFromBase58(req.Task)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task: "+err.Error())
		return
	}

	env, err := build(r, key, claims.TaskContext{
		Task:         task,
		TaskQueuedAt: int64(req.TaskQueuedAt),
		FreeTaskIDs:  req.FreeTaskIDs,
	})
	switch {
	case errors.Is(err, chain.ErrAssetNotFound), errors.Is(err, chain.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, claims.ErrNotEnoughFreeTasks):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.writeInternalError(w, r, err)
		return
	}

	out := remoteTaskResponse{
		Transaction:       base64.StdEncoding.EncodeToString(env.Transaction),
		Signature:         base64.StdEncoding.EncodeToString(env.Signature[:]),
		RemainingAccounts: make([]remainingAccount, len(env.RemainingAccounts)),
	}
	for i, acc := range env.RemainingAccounts {
		out.RemainingAccounts[i] = remainingAccount{
			Pubkey:     acc.PublicKey.String(),
			IsSigner:   acc.IsSigner,
			IsWritable: acc.IsWritable,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
