// Package ledger owns the per-account balance/sequence state machine. A
// single goroutine serializes every mutation; callers interact with it
// exclusively through bounded command channels with one-shot replies.
package ledger

import (
	"context"
	"errors"

	"github.com/at2-node/at2/internal/wire"
	"github.com/at2-node/at2/pkg/logging"
)

// Sentinel errors surfaced by Transfer and the actor's lifecycle.
var (
	ErrInconsecutiveSequence = errors.New("ledger: sequence is not sender.last_sequence + 1")
	ErrUnderflow             = errors.New("ledger: balance underflow")
	ErrOverflow              = errors.New("ledger: balance overflow")
	ErrGoneOnSend            = errors.New("ledger: agent is gone, command not accepted")
	ErrGoneOnRecv            = errors.New("ledger: agent is gone, reply never arrived")
)

// command is one request against the ledger's owning goroutine.
type command interface {
	execute(l map[wire.AccountID]*wire.Account)
}

type getBalanceCmd struct {
	user  wire.AccountID
	reply chan uint64
}

func (c getBalanceCmd) execute(l map[wire.AccountID]*wire.Account) {
	a := getOrCreate(l, c.user)
	c.reply <- a.Balance
}

type getLastSequenceCmd struct {
	user  wire.AccountID
	reply chan wire.Sequence
}

func (c getLastSequenceCmd) execute(l map[wire.AccountID]*wire.Account) {
	a := getOrCreate(l, c.user)
	c.reply <- a.LastSequence
}

type transferCmd struct {
	sender    wire.AccountID
	seq       wire.Sequence
	recipient wire.AccountID
	amount    uint64
	reply     chan error
}

func (c transferCmd) execute(l map[wire.AccountID]*wire.Account) {
	c.reply <- applyTransfer(l, c.sender, c.seq, c.recipient, c.amount)
}

// getOrCreate materializes an account on first reference with InitialBalance,
// per the ledger's implicit-account-creation rule.
func getOrCreate(l map[wire.AccountID]*wire.Account, id wire.AccountID) *wire.Account {
	a, ok := l[id]
	if !ok {
		a = &wire.Account{LastSequence: 0, Balance: wire.InitialBalance}
		l[id] = a
	}
	return a
}

// applyTransfer implements C6's Transfer contract: sequence is consumed on
// any structurally valid debit (under/overflow included), and reverted only
// when the sequence itself was not consecutive.
func applyTransfer(l map[wire.AccountID]*wire.Account, sender wire.AccountID, seq wire.Sequence, recipient wire.AccountID, amount uint64) error {
	s := getOrCreate(l, sender)
	if seq != s.LastSequence+1 {
		return ErrInconsecutiveSequence
	}

	if sender == recipient {
		// Self-transfer is neutral: balance is unaffected, sequence still advances.
		s.LastSequence = seq
		return nil
	}

	if s.Balance < amount {
		s.LastSequence = seq
		return ErrUnderflow
	}

	r := getOrCreate(l, recipient)
	newRecipientBalance := r.Balance + amount
	if newRecipientBalance < r.Balance {
		s.LastSequence = seq
		return ErrOverflow
	}

	s.Balance -= amount
	s.LastSequence = seq
	r.Balance = newRecipientBalance
	return nil
}

// Agent is the running ledger actor.
type Agent struct {
	cmds   chan command
	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a ledger actor and returns a handle to it.
func New() *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		cmds:   make(chan command, wire.CommandChannelDepth),
		log:    logging.GetDefault().Component("ledger"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Agent) run() {
	defer close(a.done)
	ledger := make(map[wire.AccountID]*wire.Account)
	for {
		select {
		case <-a.ctx.Done():
			return
		case cmd := <-a.cmds:
			cmd.execute(ledger)
		}
	}
}

// Stop terminates the actor. Callers still holding a handle observe
// ErrGoneOnSend/ErrGoneOnRecv on further use.
func (a *Agent) Stop() {
	a.cancel()
	<-a.done
	a.log.Info("ledger agent stopped")
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

// GetBalance returns the account's balance, or InitialBalance if the account
// has never been referenced.
func (a *Agent) GetBalance(user wire.AccountID) (uint64, error) {
	reply := make(chan uint64, 1)
	if err := a.send(getBalanceCmd{user: user, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-a.ctx.Done():
		return 0, ErrGoneOnRecv
	}
}

// GetLastSequence returns the account's last consumed sequence, or 0 if the
// account has never been referenced.
func (a *Agent) GetLastSequence(user wire.AccountID) (wire.Sequence, error) {
	reply := make(chan wire.Sequence, 1)
	if err := a.send(getLastSequenceCmd{user: user, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-a.ctx.Done():
		return 0, ErrGoneOnRecv
	}
}

// Transfer validates and applies a debit/credit pair. The returned error, if
// any, is one of ErrInconsecutiveSequence, ErrUnderflow, ErrOverflow, or an
// actor-lifecycle error; any other outcome means the transfer succeeded.
func (a *Agent) Transfer(sender wire.AccountID, seq wire.Sequence, recipient wire.AccountID, amount uint64) error {
	reply := make(chan error, 1)
	if err := a.send(transferCmd{sender: sender, seq: seq, recipient: recipient, amount: amount, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-a.ctx.Done():
		return ErrGoneOnRecv
	}
}
