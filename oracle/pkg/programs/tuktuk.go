package programs

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	triggerNow uint8 = 0

	transactionSourceCompiledV0 uint8 = 0
	transactionSourceRemoteV0   uint8 = 1
)

// QueueTaskArgs schedules a remote task: when it runs, the automation program
// asks URL for the transaction and verifies it was signed by Signer.
type QueueTaskArgs struct {
	ID          uint16
	URL         string
	Signer      solana.PublicKey
	CrankReward *uint64
	FreeTasks   uint8
	Description string
}

func (a QueueTaskArgs) write(w *borshWriter) {
	w.put(a.ID)
	w.put(triggerNow)
	w.put(transactionSourceRemoteV0)
	w.str(a.URL)
	w.pubkey(a.Signer)
	w.optionU64(a.CrankReward)
	w.put(a.FreeTasks)
	w.str(a.Description)
}

func readQueueTaskArgs(r *borshReader) QueueTaskArgs {
	var a QueueTaskArgs
	a.ID = r.u16()
	if trigger := r.u8(); trigger != triggerNow && r.err == nil {
		r.err = fmt.Errorf("%w: unsupported trigger %d", ErrInvalidAccountData, trigger)
	}
	if source := r.u8(); source != transactionSourceRemoteV0 && r.err == nil {
		r.err = fmt.Errorf("%w: unsupported transaction source %d", ErrInvalidAccountData, source)
	}
	a.URL = r.str()
	a.Signer = r.pubkey()
	a.CrankReward = r.optionU64()
	a.FreeTasks = r.u8()
	a.Description = r.str()
	return a
}

// QueueTaskV0 is the tuktuk instruction that adds a task to a task queue.
type QueueTaskV0 struct {
	Payer              solana.PublicKey
	QueueAuthority     solana.PublicKey
	TaskQueueAuthority solana.PublicKey
	TaskQueue          solana.PublicKey
	Task               solana.PublicKey
	Args               QueueTaskArgs
}

func (ix *QueueTaskV0) Name() string              { return NameQueueTaskV0 }
func (ix *QueueTaskV0) Program() solana.PublicKey { return TuktukProgramID }

func (ix *QueueTaskV0) Build() (solana.Instruction, error) {
	w := newBorshWriter()
	w.raw(discQueueTaskV0[:])
	ix.Args.write(w)
	data, err := w.bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(TuktukProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ix.Payer, true, true),
		solana.NewAccountMeta(ix.QueueAuthority, false, true),
		solana.NewAccountMeta(ix.TaskQueueAuthority, false, false),
		solana.NewAccountMeta(ix.TaskQueue, true, false),
		solana.NewAccountMeta(ix.Task, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data), nil
}

// NewMemoInstruction returns a memo with no signers. The automation program
// executes it as a no-op.
func NewMemoInstruction(text string) solana.Instruction {
	return solana.NewInstruction(MemoProgramID, solana.AccountMetaSlice{}, []byte(text))
}

// IsComputeBudget reports whether program is the fee/compute budget program.
func IsComputeBudget(program solana.PublicKey) bool {
	return program.Equals(ComputeBudgetProgramID)
}
