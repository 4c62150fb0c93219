package ledger

import (
	"errors"
	"testing"

	"github.com/at2-node/at2/internal/wire"
)

func accountID(b byte) wire.AccountID {
	var a wire.AccountID
	a[0] = b
	return a
}

// S1: a fresh account queries at InitialBalance.
func TestS1_BootAndQuery(t *testing.T) {
	l := New()
	defer l.Stop()

	bal, err := l.GetBalance(accountID(1))
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal != wire.InitialBalance {
		t.Fatalf("balance = %d, want %d", bal, wire.InitialBalance)
	}
	seq, err := l.GetLastSequence(accountID(1))
	if err != nil {
		t.Fatalf("GetLastSequence: %v", err)
	}
	if seq != 0 {
		t.Fatalf("sequence = %d, want 0", seq)
	}
}

// S2: a simple transfer debits A, credits B, and advances only A's sequence.
func TestS2_SimpleTransfer(t *testing.T) {
	l := New()
	defer l.Stop()

	A, B := accountID(1), accountID(2)
	if err := l.Transfer(A, 1, B, 10); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if bal, _ := l.GetBalance(A); bal != 99990 {
		t.Fatalf("A.balance = %d, want 99990", bal)
	}
	if bal, _ := l.GetBalance(B); bal != 100010 {
		t.Fatalf("B.balance = %d, want 100010", bal)
	}
	if seq, _ := l.GetLastSequence(A); seq != 1 {
		t.Fatalf("A.last_sequence = %d, want 1", seq)
	}
	if seq, _ := l.GetLastSequence(B); seq != 0 {
		t.Fatalf("B.last_sequence = %d, want 0", seq)
	}
}

// S3: out-of-order delivery is reconciled by the caller applying seq=1 before
// seq=2 regardless of arrival order; the ledger itself only enforces strict
// consecutiveness, so this test drives it in the order the scheduler would.
func TestS3_OutOfOrderDeliveryAppliedInSequenceOrder(t *testing.T) {
	l := New()
	defer l.Stop()

	A, B := accountID(1), accountID(2)
	if err := l.Transfer(A, 1, B, 5); err != nil {
		t.Fatalf("Transfer seq=1: %v", err)
	}
	if err := l.Transfer(A, 2, B, 7); err != nil {
		t.Fatalf("Transfer seq=2: %v", err)
	}

	if bal, _ := l.GetBalance(A); bal != 99988 {
		t.Fatalf("A.balance = %d, want 99988", bal)
	}
	if bal, _ := l.GetBalance(B); bal != 100012 {
		t.Fatalf("B.balance = %d, want 100012", bal)
	}
	if seq, _ := l.GetLastSequence(A); seq != 2 {
		t.Fatalf("A.last_sequence = %d, want 2", seq)
	}
}

// S4: re-submitting an already-applied sequence is rejected as inconsecutive.
func TestS4_DuplicateSequenceRejected(t *testing.T) {
	l := New()
	defer l.Stop()

	A, B := accountID(1), accountID(2)
	if err := l.Transfer(A, 1, B, 5); err != nil {
		t.Fatalf("Transfer seq=1: %v", err)
	}
	if err := l.Transfer(A, 1, B, 5); !errors.Is(err, ErrInconsecutiveSequence) {
		t.Fatalf("replayed seq=1: got %v, want ErrInconsecutiveSequence", err)
	}
}

// S5: skipping ahead is rejected; the skipped sequence later succeeds.
func TestS5_Inconsecutive(t *testing.T) {
	l := New()
	defer l.Stop()

	A, B := accountID(1), accountID(2)
	if err := l.Transfer(A, 2, B, 1); !errors.Is(err, ErrInconsecutiveSequence) {
		t.Fatalf("Transfer seq=2 on fresh account: got %v, want ErrInconsecutiveSequence", err)
	}
	if bal, _ := l.GetBalance(A); bal != wire.InitialBalance {
		t.Fatalf("A.balance = %d, want unchanged %d", bal, wire.InitialBalance)
	}
	if seq, _ := l.GetLastSequence(A); seq != 0 {
		t.Fatalf("A.last_sequence = %d, want 0", seq)
	}

	if err := l.Transfer(A, 1, B, 1); err != nil {
		t.Fatalf("Transfer seq=1: %v", err)
	}
}

// S6: an overdraft still consumes the sender's sequence.
func TestS6_OverdraftConsumesSequence(t *testing.T) {
	l := New()
	defer l.Stop()

	A, B := accountID(1), accountID(2)
	err := l.Transfer(A, 1, B, wire.InitialBalance+1)
	if !errors.Is(err, ErrUnderflow) {
		t.Fatalf("Transfer: got %v, want ErrUnderflow", err)
	}
	if bal, _ := l.GetBalance(A); bal != wire.InitialBalance {
		t.Fatalf("A.balance = %d, want %d", bal, wire.InitialBalance)
	}
	if seq, _ := l.GetLastSequence(A); seq != 1 {
		t.Fatalf("A.last_sequence = %d, want 1 (sequence consumed)", seq)
	}
	if bal, _ := l.GetBalance(B); bal != wire.InitialBalance {
		t.Fatalf("B.balance = %d, want unchanged %d", bal, wire.InitialBalance)
	}
}

func TestSelfTransferNeutrality(t *testing.T) {
	l := New()
	defer l.Stop()

	A := accountID(1)
	if err := l.Transfer(A, 1, A, 500); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if bal, _ := l.GetBalance(A); bal != wire.InitialBalance {
		t.Fatalf("A.balance = %d, want unchanged %d", bal, wire.InitialBalance)
	}
	if seq, _ := l.GetLastSequence(A); seq != 1 {
		t.Fatalf("A.last_sequence = %d, want 1", seq)
	}
}

// applyTransfer is exercised directly (white-box) since driving a real
// account balance to the uint64 ceiling through the public API would take
// an unreasonable number of transfers.
func TestOverflowConsumesSequence(t *testing.T) {
	A, B := accountID(1), accountID(2)
	l := map[wire.AccountID]*wire.Account{
		A: {LastSequence: 0, Balance: wire.InitialBalance},
		B: {LastSequence: 0, Balance: ^uint64(0) - 1},
	}

	err := applyTransfer(l, A, 1, B, 10)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("applyTransfer: got %v, want ErrOverflow", err)
	}
	if l[A].LastSequence != 1 {
		t.Fatalf("A.last_sequence = %d, want 1 (sequence consumed on overflow)", l[A].LastSequence)
	}
	if l[A].Balance != wire.InitialBalance {
		t.Fatalf("A.balance = %d, want unchanged %d", l[A].Balance, wire.InitialBalance)
	}
}

func TestGoneAfterStop(t *testing.T) {
	l := New()
	l.Stop()

	if _, err := l.GetBalance(accountID(1)); !errors.Is(err, ErrGoneOnSend) {
		t.Fatalf("GetBalance after Stop: got %v, want ErrGoneOnSend", err)
	}
}
