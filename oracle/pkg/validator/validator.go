// Package validator decides whether a client-built transaction may carry the
// oracle's signature. A transaction is signed only when every instruction is
// on the allow-list and every proposed reward is backed by the reward ledger.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/chain"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/metrics"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/programs"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/signer"
)

// Code classifies a validation outcome.
type Code string

const (
	CodeAccepted               Code = "accepted"
	CodeMalformed              Code = "malformed"
	CodeInvalidInstructions    Code = "invalid_instructions"
	CodeOraclePaysRecipient    Code = "oracle_pays_recipient"
	CodeKeyToAssetNotFound     Code = "key_to_asset_not_found"
	CodeKeyToAssetMismatch     Code = "key_to_asset_mismatch"
	CodeRecipientNotFound      Code = "recipient_not_found"
	CodeAmountExceedsLifetime  Code = "amount_exceeds_lifetime"
	CodeInvalidLazyDistributor Code = "invalid_lazy_distributor"
	CodeAssetMismatch          Code = "asset_mismatch"
	CodeOracleFeePayer         Code = "oracle_fee_payer"
)

const ReasonInvalidInstructions = "invalid instructions in transaction"

// Result is the outcome of a validation. Transaction holds the serialized,
// possibly co-signed, transaction when OK is true.
type Result struct {
	OK          bool
	Code        Code
	Reason      string
	Transaction []byte
}

func reject(code Code, format string, args ...any) *Result {
	return &Result{Code: code, Reason: fmt.Sprintf(format, args...)}
}

type Config struct {
	Logger          *slog.Logger
	Ledger          ledger.Ledger
	Chain           chain.Reader
	Signer          *signer.Signer
	LazyDistributor solana.PublicKey
	Dao             solana.PublicKey
	// WillPayRecipient allows the oracle key to fund recipient account creation.
	WillPayRecipient bool
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
	if cfg.Signer == nil {
		return errors.New("signer is required")
	}
	if cfg.LazyDistributor.IsZero() {
		return errors.New("lazy distributor is required")
	}
	if cfg.Dao.IsZero() {
		return errors.New("dao is required")
	}
	return nil
}

// Validator is stateless between calls and safe for concurrent use.
type Validator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{log: cfg.Logger, cfg: cfg}, nil
}

// binding is the (lazy distributor, asset) pair a recipient record belongs to.
type binding struct {
	lazyDistributor solana.PublicKey
	asset           solana.PublicKey
}

// Validate inspects raw and, if acceptable, returns it with the oracle's
// signature applied. Policy rejections are reported in the Result; the error
// is reserved for ledger and chain failures.
func (v *Validator) Validate(ctx context.Context, raw []byte) (*Result, error) {
	res, err := v.validate(ctx, raw)
	if err != nil {
		metrics.ValidationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ValidationsTotal.WithLabelValues(string(res.Code)).Inc()
	if !res.OK {
		v.log.Info("validator: rejected transaction", "code", res.Code, "reason", res.Reason)
	}
	return res, nil
}

func (v *Validator) validate(ctx context.Context, raw []byte) (*Result, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil || len(tx.Message.AccountKeys) == 0 {
		return reject(CodeMalformed, "failed to deserialize transaction"), nil
	}

	keys, err := chain.ResolveAccountKeys(ctx, v.cfg.Chain, tx)
	if errors.Is(err, chain.ErrAccountNotFound) || errors.Is(err, chain.ErrInvalidLookupTable) {
		return reject(CodeMalformed, "invalid address lookup table"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve transaction accounts: %w", err)
	}

	oracle := v.cfg.Signer.PublicKey()
	pending := make(map[solana.PublicKey]binding)
	var setters []programs.RewardSetter

	for i, cix := range tx.Message.Instructions {
		if int(cix.ProgramIDIndex) >= len(keys) {
			return reject(CodeMalformed, "instruction %d references missing program account", i), nil
		}
		program := keys[cix.ProgramIDIndex]
		if programs.IsComputeBudget(program) {
			continue
		}
		if !program.Equals(programs.LazyDistributorProgramID) && !program.Equals(programs.RewardsOracleProgramID) {
			return reject(CodeInvalidInstructions, ReasonInvalidInstructions), nil
		}

		accounts := make([]solana.PublicKey, len(cix.Accounts))
		for j, idx := range cix.Accounts {
			if int(idx) >= len(keys) {
				return reject(CodeMalformed, "instruction %d references missing account", i), nil
			}
			accounts[j] = keys[idx]
		}

		ix, err := programs.Decode(program, accounts, cix.Data)
		if err != nil {
			v.log.Debug("validator: failed to decode instruction", "index", i, "program", program, "error", err)
			return reject(CodeInvalidInstructions, ReasonInvalidInstructions), nil
		}

		switch ix := ix.(type) {
		case programs.RecipientInitializer:
			if ix.PayerAccount().Equals(oracle) && !v.cfg.WillPayRecipient {
				return reject(CodeOraclePaysRecipient, "oracle cannot pay for recipient creation"), nil
			}
			asset, err := ix.AssetID()
			if err != nil {
				return reject(CodeMalformed, "failed to derive asset for recipient %s", ix.RecipientAccount()), nil
			}
			pending[ix.RecipientAccount()] = binding{lazyDistributor: ix.LazyDistributorAccount(), asset: asset}
		case programs.RewardSetter:
			setters = append(setters, ix)
		}
	}

	for _, s := range setters {
		res, err := v.checkSetter(ctx, s, pending)
		if err != nil || res != nil {
			return res, err
		}
	}

	if keys[0].Equals(oracle) {
		return reject(CodeOracleFeePayer, "oracle cannot be the fee payer"), nil
	}

	signed, err := v.sign(tx, raw)
	if err != nil {
		return nil, err
	}
	return &Result{OK: true, Code: CodeAccepted, Transaction: signed}, nil
}

// checkSetter returns a non-nil Result only on rejection.
func (v *Validator) checkSetter(ctx context.Context, s programs.RewardSetter, pending map[solana.PublicKey]binding) (*Result, error) {
	var (
		kta       *programs.KeyToAsset
		entityKey string
	)
	switch w := s.(type) {
	case *programs.SetCurrentRewardsWrapperV0:
		expected, err := programs.KeyToAssetAddress(v.cfg.Dao, w.EntityKey)
		if err != nil {
			return nil, err
		}
		if !expected.Equals(w.KeyToAsset) {
			return reject(CodeKeyToAssetMismatch, "key to asset does not match entity key"), nil
		}
		var res *Result
		if kta, res, err = v.readKeyToAsset(ctx, w.KeyToAsset); res != nil || err != nil {
			return res, err
		}
		entityKey = programs.EncodeEntityKey(w.EntityKey, kta.KeySerialization)
	case *programs.SetCurrentRewardsWrapperV1:
		var (
			res *Result
			err error
		)
		if kta, res, err = v.readKeyToAsset(ctx, w.KeyToAsset); res != nil || err != nil {
			return res, err
		}
		expected, err := programs.KeyToAssetAddress(v.cfg.Dao, kta.EntityKey)
		if err != nil {
			return nil, err
		}
		if !expected.Equals(w.KeyToAsset) {
			return reject(CodeKeyToAssetMismatch, "key to asset does not match entity key"), nil
		}
		entityKey = kta.EncodedEntityKey()
	}

	b, ok := pending[s.RecipientAccount()]
	if !ok {
		data, err := v.cfg.Chain.GetAccountData(ctx, s.RecipientAccount())
		if errors.Is(err, chain.ErrAccountNotFound) {
			return reject(CodeRecipientNotFound, "recipient %s not found", s.RecipientAccount()), nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read recipient %s: %w", s.RecipientAccount(), err)
		}
		recipient, err := programs.DecodeRecipient(data)
		if err != nil {
			return reject(CodeRecipientNotFound, "recipient %s not found", s.RecipientAccount()), nil
		}
		b = binding{lazyDistributor: recipient.LazyDistributor, asset: recipient.Asset}
	}

	var (
		lifetime uint64
		err      error
	)
	if kta != nil {
		lifetime, err = ledger.LifetimeReward(ctx, v.cfg.Ledger, entityKey)
	} else {
		lifetime, err = ledger.LifetimeRewardByAsset(ctx, v.cfg.Ledger, b.asset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lifetime rewards: %w", err)
	}

	if proposed := s.ProposedRewards(); proposed > lifetime {
		return reject(CodeAmountExceedsLifetime, "invalid amount, %d is greater than actual rewards %d", proposed, lifetime), nil
	}
	if !b.lazyDistributor.Equals(v.cfg.LazyDistributor) || !s.LazyDistributorAccount().Equals(v.cfg.LazyDistributor) {
		return reject(CodeInvalidLazyDistributor, "invalid lazy distributor"), nil
	}
	if kta != nil && !kta.Asset.Equals(b.asset) {
		return reject(CodeAssetMismatch, "key to asset %s does not belong to recipient asset %s", kta.Asset, b.asset), nil
	}
	return nil, nil
}

func (v *Validator) readKeyToAsset(ctx context.Context, address solana.PublicKey) (*programs.KeyToAsset, *Result, error) {
	data, err := v.cfg.Chain.GetAccountData(ctx, address)
	if errors.Is(err, chain.ErrAccountNotFound) {
		return nil, reject(CodeKeyToAssetNotFound, "key to asset %s not found", address), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read key to asset %s: %w", address, err)
	}
	kta, err := programs.DecodeKeyToAsset(data)
	if err != nil {
		return nil, reject(CodeKeyToAssetNotFound, "key to asset %s not found", address), nil
	}
	return kta, nil, nil
}

// sign adds the oracle's signature when the oracle is one of the message's
// required signers; otherwise raw is returned as is.
func (v *Validator) sign(tx *solana.Transaction, raw []byte) ([]byte, error) {
	oracle := v.cfg.Signer.PublicKey()
	required := min(int(tx.Message.Header.NumRequiredSignatures), len(tx.Message.AccountKeys))
	index := -1
	for i := 0; i < required; i++ {
		if tx.Message.AccountKeys[i].Equals(oracle) {
			index = i
			break
		}
	}
	if index < 0 {
		return append([]byte(nil), raw...), nil
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	sig, err := v.cfg.Signer.Sign(message)
	if err != nil {
		return nil, err
	}
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	tx.Signatures[index] = sig

	out, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return out, nil
}
