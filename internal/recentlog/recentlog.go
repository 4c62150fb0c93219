// Package recentlog owns the bounded FIFO of recent transaction records,
// following the same single-goroutine-owns-the-state discipline as
// internal/ledger.
package recentlog

import (
	"context"
	"errors"
	"time"

	"github.com/at2-node/at2/internal/wire"
	"github.com/at2-node/at2/pkg/logging"
)

// ErrDuplicatePut is returned when Put targets an already-present (sender, sequence) key.
var ErrDuplicatePut = errors.New("recentlog: (sender, sequence) already recorded")

// Actor lifecycle sentinels, mirroring internal/ledger.
var (
	ErrGoneOnSend = errors.New("recentlog: agent is gone, command not accepted")
	ErrGoneOnRecv = errors.New("recentlog: agent is gone, reply never arrived")
)

type command interface {
	execute(s *state)
}

// state is the bounded FIFO plus an index for O(1) lookups, owned exclusively
// by the actor goroutine.
type state struct {
	entries []wire.FullTransaction
	index   map[wire.PayloadKey]int // key -> position in entries
}

func newState() *state {
	return &state{entries: make([]wire.FullTransaction, 0, wire.LatestMax), index: make(map[wire.PayloadKey]int)}
}

func (s *state) put(ft wire.FullTransaction) error {
	key := ft.Key()
	if _, exists := s.index[key]; exists {
		return ErrDuplicatePut
	}

	if len(s.entries) >= wire.LatestMax {
		evicted := s.entries[0]
		s.entries = s.entries[1:]
		delete(s.index, evicted.Key())
		for k, v := range s.index {
			s.index[k] = v - 1
		}
	}

	s.entries = append(s.entries, ft)
	s.index[key] = len(s.entries) - 1
	return nil
}

func (s *state) update(key wire.PayloadKey, st wire.TxState) {
	pos, ok := s.index[key]
	if !ok {
		return // scheduler may update after eviction; a no-op.
	}
	s.entries[pos].State = st
}

func (s *state) getAll() []wire.FullTransaction {
	out := make([]wire.FullTransaction, len(s.entries))
	copy(out, s.entries)
	return out
}

type putCmd struct {
	tx    wire.FullTransaction
	reply chan error
}

func (c putCmd) execute(s *state) { c.reply <- s.put(c.tx) }

type updateCmd struct {
	key   wire.PayloadKey
	state wire.TxState
	done  chan struct{}
}

func (c updateCmd) execute(s *state) {
	s.update(c.key, c.state)
	close(c.done)
}

type getAllCmd struct {
	reply chan []wire.FullTransaction
}

func (c getAllCmd) execute(s *state) { c.reply <- s.getAll() }

// Agent is the running recent-transactions actor.
type Agent struct {
	cmds   chan command
	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a recent-transactions actor and returns a handle to it.
func New() *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		cmds:   make(chan command, wire.CommandChannelDepth),
		log:    logging.GetDefault().Component("recentlog"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Agent) run() {
	defer close(a.done)
	s := newState()
	for {
		select {
		case <-a.ctx.Done():
			return
		case cmd := <-a.cmds:
			cmd.execute(s)
		}
	}
}

// Stop terminates the actor.
func (a *Agent) Stop() {
	a.cancel()
	<-a.done
	a.log.Info("recentlog agent stopped")
}

func (a *Agent) send(cmd command) error {
	// Checked first: the buffered command channel would otherwise accept
	// sends from a stopped agent and strand the caller on the reply.
	if a.ctx.Err() != nil {
		return ErrGoneOnSend
	}
	select {
	case a.cmds <- cmd:
		return nil
	case <-a.ctx.Done():
		return ErrGoneOnSend
	}
}

// Put appends a new Pending record. It fails with ErrDuplicatePut if
// (sender, sequence) is already present, matching the fail-closed resolution
// recorded for this design: callers must reject the RPC and skip broadcast
// on this error rather than continuing.
func (a *Agent) Put(sender wire.AccountID, seq wire.Sequence, recipient wire.AccountID, amount uint64, at time.Time) error {
	ft := wire.FullTransaction{
		Timestamp:      at,
		Sender:         sender,
		SenderSequence: seq,
		Recipient:      recipient,
		Amount:         amount,
		State:          wire.StatePending,
	}
	reply := make(chan error, 1)
	if err := a.send(putCmd{tx: ft, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-a.ctx.Done():
		return ErrGoneOnRecv
	}
}

// Update overwrites the state of an existing record. It is a no-op if the
// key has already been evicted, since the scheduler may complete a
// transaction after it has aged out of the bounded FIFO.
func (a *Agent) Update(key wire.PayloadKey, newState wire.TxState) error {
	done := make(chan struct{})
	if err := a.send(updateCmd{key: key, state: newState, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-a.ctx.Done():
		return ErrGoneOnRecv
	}
}

// GetAll returns a FIFO-ordered (oldest first) snapshot of the recent log.
func (a *Agent) GetAll() ([]wire.FullTransaction, error) {
	reply := make(chan []wire.FullTransaction, 1)
	if err := a.send(getAllCmd{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-a.ctx.Done():
		return nil, ErrGoneOnRecv
	}
}
