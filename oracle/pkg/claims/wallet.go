package claims

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/metrics"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/programs"
)

// maxDescriptionLen is the longest task description the automation program stores.
const maxDescriptionLen = 40

// BuildWalletClaims queues one claim task per pending entity owned by wallet,
// MaxClaimsPerTx at a time, plus a task that requeues the wallet for the next
// batch. Pages are taken over every entity the wallet holds, so claims landing
// between batches never shift unvisited entities behind the cursor. Once the
// page is empty the envelope is a completion memo.
func (b *Builder) BuildWalletClaims(ctx context.Context, wallet solana.PublicKey, batchNumber int, tc TaskContext) (*Envelope, error) {
	if batchNumber < 0 {
		return nil, fmt.Errorf("invalid batch number %d", batchNumber)
	}

	data, err := b.cfg.Chain.GetAccountData(ctx, b.cfg.TaskQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to read task queue: %w", err)
	}
	queue, err := programs.DecodeTaskQueue(data)
	if err != nil {
		return nil, err
	}

	limit := b.cfg.MaxClaimsPerTx
	page, err := b.cfg.Ledger.WalletEntities(ctx, wallet, b.cfg.LazyDistributor, limit, batchNumber*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities for %s: %w", wallet, err)
	}
	if len(page) == 0 {
		return b.memo("wallet", tc, MemoAllClaimed)
	}
	entities := make([]ledger.WalletEntity, 0, len(page))
	for _, e := range page {
		if e.Pending() {
			entities = append(entities, e)
		}
	}

	custody, custodySeeds, err := programs.CustodyAddress(wallet)
	if err != nil {
		return nil, err
	}
	balance, err := b.cfg.Chain.GetBalance(ctx, custody)
	if err != nil {
		return nil, fmt.Errorf("failed to get custody balance: %w", err)
	}
	tasks := uint64(len(entities) + 1)
	crankRewards := queue.MinCrankReward * tasks
	if crankRewards > balance {
		b.log.Info("claims: insufficient custody balance for wallet batch", "wallet", wallet, "custody", custody, "balance", balance, "required", crankRewards)
		return b.memo("wallet", tc, MemoInsufficientBalance)
	}
	if uint64(len(tc.FreeTaskIDs)) < tasks {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrNotEnoughFreeTasks, tasks, len(tc.FreeTaskIDs))
	}

	queueAuthority, queueAuthoritySeeds, err := programs.QueueAuthorityAddress()
	if err != nil {
		return nil, err
	}
	taskQueueAuthority, err := programs.TaskQueueAuthorityAddress(b.cfg.TaskQueue, queueAuthority)
	if err != nil {
		return nil, err
	}

	transfer, err := system.NewTransferInstruction(crankRewards, custody, b.cfg.TaskQueue).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build crank reward transfer: %w", err)
	}
	ixs := []solana.Instruction{transfer}

	queueTask := func(id uint16, taskURL, description string, freeTasks uint8) error {
		task, err := programs.TaskAddress(b.cfg.TaskQueue, id)
		if err != nil {
			return err
		}
		ix, err := (&programs.QueueTaskV0{
			Payer:              custody,
			QueueAuthority:     queueAuthority,
			TaskQueueAuthority: taskQueueAuthority,
			TaskQueue:          b.cfg.TaskQueue,
			Task:               task,
			Args: programs.QueueTaskArgs{
				ID:          id,
				URL:         taskURL,
				Signer:      b.cfg.Signer.PublicKey(),
				FreeTasks:   freeTasks,
				Description: truncate(description, maxDescriptionLen),
			},
		}).Build()
		if err != nil {
			return err
		}
		ixs = append(ixs, ix)
		return nil
	}

	for i, e := range entities {
		taskURL := fmt.Sprintf("%s/v1/tuktuk/kta/%s", b.cfg.PublicURL, e.KeyToAsset)
		if err := queueTask(tc.FreeTaskIDs[i], taskURL, "claim "+e.EntityKey, 0); err != nil {
			return nil, fmt.Errorf("failed to queue claim for %s: %w", e.EntityKey, err)
		}
	}
	next := fmt.Sprintf("%s/v1/tuktuk/wallet/%s?%s", b.cfg.PublicURL, wallet,
		url.Values{"batchNumber": {strconv.Itoa(batchNumber + 1)}}.Encode())
	if err := queueTask(tc.FreeTaskIDs[len(entities)], next, fmt.Sprintf("claim batch %d", batchNumber+1), uint8(limit+1)); err != nil {
		return nil, fmt.Errorf("failed to requeue wallet: %w", err)
	}

	env, err := b.envelope(tc, ixs, [][][]byte{custodySeeds, queueAuthoritySeeds})
	if err != nil {
		return nil, err
	}
	metrics.RemoteTasksTotal.WithLabelValues("wallet", "claim").Inc()
	b.log.Debug("claims: built wallet batch", "wallet", wallet, "batch", batchNumber, "entities", len(page), "pending", len(entities))
	return env, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
