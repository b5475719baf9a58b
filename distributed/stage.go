package distributed

import (
	"context"
	"fmt"

	"github.com/tolelom/repochain/events"
	"github.com/tolelom/repochain/ledger"
	"github.com/tolelom/repochain/rawrepo"
	"github.com/tolelom/repochain/rawrepo/async"
	"github.com/tolelom/repochain/semantic"
)

// StageTransaction queues tx for the next CommitStaged call. It does not
// touch the repository — staging is purely in-memory, the adapted form
// of the teacher's mempool trimmed to this spec's single generic
// transfer payload.
func (n *Node) StageTransaction(tx *ledger.Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("distributed: stage transaction: %w", err)
	}
	n.stageMu.Lock()
	n.staged = append(n.staged, tx)
	n.stageMu.Unlock()
	n.emit(events.Event{Type: events.EventTxStaged, CommitHash: tx.ID})
	return nil
}

// CommitStaged drains the staging queue, writing one Transaction
// semantic commit per staged tx onto work, in staging order, after a
// clean checkout of work. It returns the hashes of the commits created.
func (n *Node) CommitStaged(ctx context.Context) ([]rawrepo.Hash, error) {
	n.stageMu.Lock()
	batch := n.staged
	n.staged = nil
	n.stageMu.Unlock()
	if len(batch) == 0 {
		return nil, nil
	}

	return async.Do(ctx, n.repo, func(repo *rawrepo.Repository) ([]rawrepo.Hash, error) {
		if err := repo.Checkout(BranchWork); err != nil {
			return nil, fmt.Errorf("distributed: commit staged: %w", err)
		}
		if err := repo.CheckoutClean(); err != nil {
			return nil, fmt.Errorf("distributed: commit staged: %w", err)
		}
		hashes := make([]rawrepo.Hash, 0, len(batch))
		for i, tx := range batch {
			sc, err := semantic.Encode(semantic.Event{Kind: semantic.KindTransaction, Transaction: &semantic.Transaction{Tx: *tx}})
			if err != nil {
				n.requeue(batch[i:])
				return hashes, fmt.Errorf("distributed: commit staged: %w", err)
			}
			hash, err := repo.CreateSemanticCommit(sc)
			if err != nil {
				n.requeue(batch[i:])
				return hashes, fmt.Errorf("distributed: commit staged: %w", err)
			}
			hashes = append(hashes, hash)
		}
		return hashes, nil
	})
}

// requeue puts txs back at the front of the staging queue, used when
// CommitStaged fails partway through a batch so the untried transactions
// are not silently dropped.
func (n *Node) requeue(txs []*ledger.Transaction) {
	n.stageMu.Lock()
	n.staged = append(append([]*ledger.Transaction(nil), txs...), n.staged...)
	n.stageMu.Unlock()
}
