package programs

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrTooManyAccounts is returned when a compiled transaction would need more
// accounts than a u8 index can address.
var ErrTooManyAccounts = errors.New("too many accounts in compiled transaction")

const maxCompiledAccounts = 256

type CompiledInstructionV0 struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// CompiledTransactionV0 is the instruction list the automation program
// executes on a task's behalf. Accounts are ordered writable signers,
// read-only signers, writable, read-only. Signers are PDAs signed through
// SignerSeeds.
type CompiledTransactionV0 struct {
	NumRwSigners uint8
	NumRoSigners uint8
	NumRw        uint8
	Accounts     []solana.PublicKey
	Instructions []CompiledInstructionV0
	SignerSeeds  [][][]byte
}

type accountRank int

const (
	rankRwSigner accountRank = iota
	rankRoSigner
	rankRw
	rankRo
)

// Compile flattens ixs into a CompiledTransactionV0. Account order within a
// rank follows first appearance.
func Compile(ixs []solana.Instruction, signerSeeds [][][]byte) (*CompiledTransactionV0, error) {
	type entry struct {
		key      solana.PublicKey
		signer   bool
		writable bool
	}
	var entries []*entry
	seen := map[solana.PublicKey]*entry{}
	add := func(key solana.PublicKey, signer, writable bool) {
		if e, ok := seen[key]; ok {
			e.signer = e.signer || signer
			e.writable = e.writable || writable
			return
		}
		e := &entry{key: key, signer: signer, writable: writable}
		seen[key] = e
		entries = append(entries, e)
	}
	for _, ix := range ixs {
		accounts := ix.Accounts()
		for _, meta := range accounts {
			add(meta.PublicKey, meta.IsSigner, meta.IsWritable)
		}
		add(ix.ProgramID(), false, false)
	}
	if len(entries) > maxCompiledAccounts {
		return nil, fmt.Errorf("%w: %d", ErrTooManyAccounts, len(entries))
	}

	rank := func(e *entry) accountRank {
		switch {
		case e.signer && e.writable:
			return rankRwSigner
		case e.signer:
			return rankRoSigner
		case e.writable:
			return rankRw
		default:
			return rankRo
		}
	}
	tx := &CompiledTransactionV0{SignerSeeds: signerSeeds}
	index := make(map[solana.PublicKey]uint8, len(entries))
	for r := rankRwSigner; r <= rankRo; r++ {
		for _, e := range entries {
			if rank(e) != r {
				continue
			}
			index[e.key] = uint8(len(tx.Accounts))
			tx.Accounts = append(tx.Accounts, e.key)
			switch r {
			case rankRwSigner:
				tx.NumRwSigners++
			case rankRoSigner:
				tx.NumRoSigners++
			case rankRw:
				tx.NumRw++
			}
		}
	}

	for _, ix := range ixs {
		data, err := ix.Data()
		if err != nil {
			return nil, fmt.Errorf("failed to get instruction data: %w", err)
		}
		compiled := CompiledInstructionV0{
			ProgramIDIndex: index[ix.ProgramID()],
			Data:           data,
		}
		for _, meta := range ix.Accounts() {
			compiled.Accounts = append(compiled.Accounts, index[meta.PublicKey])
		}
		tx.Instructions = append(tx.Instructions, compiled)
	}
	return tx, nil
}

// RemainingAccounts lists the compiled accounts as they must be passed to the
// automation program's run instruction. PDA signers are signed by the program,
// so none of them is a transaction signer.
func (tx *CompiledTransactionV0) RemainingAccounts() []*solana.AccountMeta {
	signers := int(tx.NumRwSigners) + int(tx.NumRoSigners)
	metas := make([]*solana.AccountMeta, 0, len(tx.Accounts))
	for i, key := range tx.Accounts {
		writable := i < int(tx.NumRwSigners) || (i >= signers && i < signers+int(tx.NumRw))
		metas = append(metas, solana.NewAccountMeta(key, writable, false))
	}
	return metas
}

func (tx *CompiledTransactionV0) write(w *borshWriter) {
	w.put(tx.NumRwSigners)
	w.put(tx.NumRoSigners)
	w.put(tx.NumRw)
	w.put(uint32(len(tx.Accounts)))
	for _, key := range tx.Accounts {
		w.pubkey(key)
	}
	w.put(uint32(len(tx.Instructions)))
	for _, ix := range tx.Instructions {
		w.put(ix.ProgramIDIndex)
		w.vec(ix.Accounts)
		w.vec(ix.Data)
	}
	w.put(uint32(len(tx.SignerSeeds)))
	for _, seeds := range tx.SignerSeeds {
		w.put(uint32(len(seeds)))
		for _, seed := range seeds {
			w.vec(seed)
		}
	}
}

func readCompiledTransaction(r *borshReader) *CompiledTransactionV0 {
	tx := &CompiledTransactionV0{
		NumRwSigners: r.u8(),
		NumRoSigners: r.u8(),
		NumRw:        r.u8(),
	}
	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		tx.Accounts = append(tx.Accounts, r.pubkey())
	}
	n = r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		tx.Instructions = append(tx.Instructions, CompiledInstructionV0{
			ProgramIDIndex: r.u8(),
			Accounts:       r.vec(),
			Data:           r.vec(),
		})
	}
	n = r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		m := r.u32()
		var seeds [][]byte
		for j := uint32(0); j < m && r.err == nil; j++ {
			seeds = append(seeds, r.vec())
		}
		tx.SignerSeeds = append(tx.SignerSeeds, seeds)
	}
	return tx
}

// RemoteTaskTransactionV0 binds a compiled transaction to one queued task so a
// signature cannot be replayed for a different task or queue time.
type RemoteTaskTransactionV0 struct {
	Task         solana.PublicKey
	TaskQueuedAt int64
	Transaction  *CompiledTransactionV0
}

func (r *RemoteTaskTransactionV0) Marshal() ([]byte, error) {
	w := newBorshWriter()
	w.pubkey(r.Task)
	w.put(r.TaskQueuedAt)
	r.Transaction.write(w)
	return w.bytes()
}

func DecodeRemoteTaskTransaction(data []byte) (*RemoteTaskTransactionV0, error) {
	rd := newBorshReader(data)
	r := &RemoteTaskTransactionV0{
		Task:         rd.pubkey(),
		TaskQueuedAt: rd.i64(),
	}
	r.Transaction = readCompiledTransaction(rd)
	if rd.err != nil {
		return nil, fmt.Errorf("failed to decode remote task transaction: %w", rd.err)
	}
	return r, nil
}

// ProposedRewards is the pre-signed claim message a downstream transaction
// builder embeds to set current rewards on the oracle's behalf.
type ProposedRewards struct {
	LazyDistributor solana.PublicKey
	KeyToAsset      solana.PublicKey
	OracleIndex     uint16
	CurrentRewards  uint64
}

func (p *ProposedRewards) Marshal() ([]byte, error) {
	w := newBorshWriter()
	w.pubkey(p.LazyDistributor)
	w.pubkey(p.KeyToAsset)
	w.put(p.OracleIndex)
	w.put(p.CurrentRewards)
	return w.bytes()
}
