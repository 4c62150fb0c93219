// Package scheduler reconstructs per-sender FIFO order out of Contagion's
// unordered delivery stream: a min-heap keyed on (sequence, sender) holds
// deliveries that cannot yet be applied, and a fixpoint pass retries the
// heap against the ledger until it stops shrinking.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"time"

	"github.com/at2-node/at2/internal/ledger"
	"github.com/at2-node/at2/internal/wire"
	"github.com/at2-node/at2/pkg/helpers"
	"github.com/at2-node/at2/pkg/logging"
)

// ttlSweepInterval is how often the scheduler re-passes the heap purely to
// age out items whose predecessor never arrived, independent of new input.
const ttlSweepInterval = 5 * time.Second

// LedgerClient is the subset of internal/ledger.Agent the scheduler needs;
// satisfied by *ledger.Agent in production and a fake in tests.
type LedgerClient interface {
	Transfer(sender wire.AccountID, seq wire.Sequence, recipient wire.AccountID, amount uint64) error
}

// RecentLogClient is the subset of internal/recentlog.Agent the scheduler
// needs; satisfied by *recentlog.Agent in production and a fake in tests.
type RecentLogClient interface {
	Update(key wire.PayloadKey, state wire.TxState) error
}

type item struct {
	key        wire.PayloadKey
	tx         wire.Transaction
	enqueuedAt time.Time
	index      int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	a, b := h[i].key, h[j].key
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return helpers.CompareBytes(a.Sender[:], b.Sender[:]) < 0
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Agent consumes a delivery stream and applies it to a ledger in sequence
// order, single-goroutine owned per the actor convention the rest of the
// node follows.
type Agent struct {
	ledger    LedgerClient
	recentLog RecentLogClient
	log       *logging.Logger

	pq itemHeap

	in     <-chan wire.Payload
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a scheduler agent that reads deliveries from in (normally
// internal/contagion.Layer.Deliveries()) until in is closed or ctx is
// cancelled.
func New(ctx context.Context, in <-chan wire.Payload, lc LedgerClient, rc RecentLogClient) *Agent {
	ctx, cancel := context.WithCancel(ctx)
	a := &Agent{
		ledger:    lc,
		recentLog: rc,
		log:       logging.GetDefault().Component("scheduler"),
		in:        in,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go a.run()
	return a
}

// Stop cancels the agent and waits for its goroutine to exit.
func (a *Agent) Stop() {
	a.cancel()
	<-a.done
}

func (a *Agent) run() {
	defer close(a.done)

	ticker := time.NewTicker(ttlSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case p, ok := <-a.in:
			if !ok {
				return
			}
			heap.Push(&a.pq, &item{key: p.Key(), tx: p.Tx, enqueuedAt: time.Now()})
			a.fixpoint()
		case <-ticker.C:
			a.fixpoint()
		}
	}
}

// fixpoint repeatedly sweeps the heap, applying every item to the ledger.
// InconsecutiveSequence items go back in the heap; every other outcome
// (success, overflow, underflow, TTL expiry) is terminal and removed. The
// sweep repeats while the heap strictly shrinks.
func (a *Agent) fixpoint() {
	for {
		before := a.pq.Len()
		if before == 0 {
			return
		}

		var retry []*item
		now := time.Now()
		for a.pq.Len() > 0 {
			it := heap.Pop(&a.pq).(*item)

			if now.Sub(it.enqueuedAt) > wire.TransactionTTL {
				if err := a.recentLog.Update(it.key, wire.StateFailure); err != nil {
					a.log.Warn("recent log update failed on TTL expiry", "error", err)
				}
				continue
			}

			err := a.ledger.Transfer(it.key.Sender, it.key.Sequence, it.tx.Recipient, it.tx.Amount)
			switch {
			case errors.Is(err, ledger.ErrInconsecutiveSequence):
				retry = append(retry, it)
			case err == nil:
				if uerr := a.recentLog.Update(it.key, wire.StateSuccess); uerr != nil {
					a.log.Warn("recent log update failed on success", "error", uerr)
				}
			default:
				if uerr := a.recentLog.Update(it.key, wire.StateFailure); uerr != nil {
					a.log.Warn("recent log update failed on terminal error", "error", uerr)
				}
			}
		}

		for _, it := range retry {
			heap.Push(&a.pq, it)
		}
		if len(retry) == before {
			return
		}
	}
}
