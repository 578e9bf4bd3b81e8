package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/coordinator"
)

type signRequest struct {
	Transaction *buffer `json:"transaction"`
}

type signResponse struct {
	Success     bool   `json:"success"`
	Transaction buffer `json:"transaction"`
}

// handleSign validates one client transaction and returns it co-signed.
func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Transaction == nil || len(req.Transaction.Data) == 0 {
		writeError(w, http.StatusBadRequest, "transaction is required")
		return
	}

	res, err := s.cfg.Validator.Validate(r.Context(), req.Transaction.Data)
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	if !res.OK {
		writeError(w, http.StatusBadRequest, res.Reason)
		return
	}
	writeJSON(w, http.StatusOK, signResponse{Success: true, Transaction: newBuffer(res.Transaction)})
}

type bulkSignRequest struct {
	Transactions []byteArray `json:"transactions"`
}

type bulkSignResponse struct {
	Success      bool     `json:"success"`
	Transactions []buffer `json:"transactions"`
}

// handleBulkSign co-signs every transaction or none of them.
func (s *Server) handleBulkSign(w http.ResponseWriter, r *http.Request) {
	var req bulkSignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, http.StatusBadRequest, "transactions is required")
		return
	}
	if len(req.Transactions) > maxBulkKeys {
		writeError(w, http.StatusBadRequest, "too many transactions, max "+strconv.Itoa(maxBulkKeys))
		return
	}

	txs := make([][]byte, len(req.Transactions))
	for i, tx := range req.Transactions {
		txs[i] = tx
	}
	res, err := s.cfg.Coordinator.SignMany(r.Context(), txs)
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	if !res.OK {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("transaction %d: %s", res.FailingIndex, res.Reason))
		return
	}

	out := make([]buffer, len(res.Transactions))
	for i, tx := range res.Transactions {
		out[i] = newBuffer(tx)
	}
	writeJSON(w, http.StatusOK, bulkSignResponse{Success: true, Transactions: out})
}

type signClaimMessagesRequest struct {
	KeyToAssetKeys []string `json:"keyToAssetKeys"`
}

type signedMessage struct {
	KeyToAsset     string `json:"keyToAsset"`
	EntityKey      string `json:"entityKey"`
	CurrentRewards string `json:"currentRewards"`
	// Message is the base64 serialized ProposedRewards record.
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type signClaimMessagesResponse struct {
	Oracle   string          `json:"oracle"`
	Messages []signedMessage `json:"messages"`
}

// handleSignClaimMessages returns oracle-signed reward proposals for many
// key-to-asset accounts.
func (s *Server) handleSignClaimMessages(w http.ResponseWriter, r *http.Request) {
	var req signClaimMessagesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.KeyToAssetKeys) == 0 {
		writeError(w, http.StatusBadRequest, "keyToAssetKeys is required")
		return
	}
	if len(req.KeyToAssetKeys) > maxBulkKeys {
		writeError(w, http.StatusBadRequest, "too many keyToAssetKeys, max "+strconv.Itoa(maxBulkKeys))
		return
	}
	keys := make([]solana.PublicKey, len(req.KeyToAssetKeys))
	for i, raw := range req.KeyToAssetKeys {
		key, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid key to asset %q: %v", raw, err))
			return
		}
		keys[i] = key
	}

	res, err := s.cfg.Coordinator.SignClaimMessages(r.Context(), keys)
	if errors.Is(err, coordinator.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}

	out := signClaimMessagesResponse{
		Oracle:   res.Oracle.String(),
		Messages: make([]signedMessage, len(res.Messages)),
	}
	for i, m := range res.Messages {
		out.Messages[i] = signedMessage{
			KeyToAsset:     m.KeyToAsset.String(),
			EntityKey:      m.EntityKey,
			CurrentRewards: strconv.FormatUint(m.CurrentRewards, 10),
			Message:        base64.StdEncoding.EncodeToString(m.Message),
			Signature:      base64.StdEncoding.EncodeToString(m.Signature[:]),
		}
	}
	writeJSON(w, http.StatusOK, out)
}
