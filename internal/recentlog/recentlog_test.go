package recentlog

import (
	"errors"
	"testing"
	"time"

	"github.com/at2-node/at2/internal/wire"
)

func accountID(b byte) wire.AccountID {
	var a wire.AccountID
	a[0] = b
	return a
}

func TestPutGetAllFIFOOrder(t *testing.T) {
	a := New()
	defer a.Stop()

	A, B := accountID(1), accountID(2)
	for i := 1; i <= 3; i++ {
		if err := a.Put(A, wire.Sequence(i), B, uint64(i), time.Now()); err != nil {
			t.Fatalf("Put seq=%d: %v", i, err)
		}
	}

	all, err := a.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i, ft := range all {
		if ft.SenderSequence != wire.Sequence(i+1) {
			t.Fatalf("entry %d: sequence = %d, want %d", i, ft.SenderSequence, i+1)
		}
		if ft.State != wire.StatePending {
			t.Fatalf("entry %d: state = %v, want Pending", i, ft.State)
		}
	}
}

func TestDuplicatePutRejected(t *testing.T) {
	a := New()
	defer a.Stop()

	A, B := accountID(1), accountID(2)
	if err := a.Put(A, 1, B, 10, time.Now()); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := a.Put(A, 1, B, 10, time.Now()); !errors.Is(err, ErrDuplicatePut) {
		t.Fatalf("second Put: got %v, want ErrDuplicatePut", err)
	}
}

func TestBoundedEviction(t *testing.T) {
	a := New()
	defer a.Stop()

	A, B := accountID(1), accountID(2)
	for i := 1; i <= wire.LatestMax+5; i++ {
		if err := a.Put(A, wire.Sequence(i), B, 1, time.Now()); err != nil {
			t.Fatalf("Put seq=%d: %v", i, err)
		}
	}

	all, err := a.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != wire.LatestMax {
		t.Fatalf("len = %d, want %d", len(all), wire.LatestMax)
	}
	if all[0].SenderSequence != 6 {
		t.Fatalf("oldest surviving sequence = %d, want 6 (evicted 1..5)", all[0].SenderSequence)
	}
	if all[len(all)-1].SenderSequence != wire.Sequence(wire.LatestMax+5) {
		t.Fatalf("newest sequence = %d, want %d", all[len(all)-1].SenderSequence, wire.LatestMax+5)
	}
}

func TestUpdateAppliesState(t *testing.T) {
	a := New()
	defer a.Stop()

	A, B := accountID(1), accountID(2)
	if err := a.Put(A, 1, B, 10, time.Now()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	key := wire.PayloadKey{Sender: A, Sequence: 1}
	if err := a.Update(key, wire.StateSuccess); err != nil {
		t.Fatalf("Update: %v", err)
	}

	all, _ := a.GetAll()
	if all[0].State != wire.StateSuccess {
		t.Fatalf("state = %v, want Success", all[0].State)
	}
}

func TestUpdateAfterEvictionIsNoop(t *testing.T) {
	a := New()
	defer a.Stop()

	A := accountID(1)
	key := wire.PayloadKey{Sender: A, Sequence: 1}
	// Update on a key that was never (or no longer) present must not error or panic.
	if err := a.Update(key, wire.StateFailure); err != nil {
		t.Fatalf("Update on absent key: %v", err)
	}
}
