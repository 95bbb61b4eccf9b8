package checkpoint

import (
	"errors"
	"testing"

	"github.com/zecwire/zecd/pkg/chain"
)

func newEntry(height chain.Height, hash chain.Hash) (*pendingEntry, <-chan Result) {
	done := make(chan Result, 1)
	return &pendingEntry{height: height, hash: hash, done: done}, done
}

func TestPendingQueueInsertAndAt(t *testing.T) {
	q := newPendingQueue()
	e1, _ := newEntry(5, hashN(1))
	e2, _ := newEntry(5, hashN(2))
	q.insert(e1)
	q.insert(e2)

	at := q.at(5)
	if len(at) != 2 {
		t.Fatalf("at(5) returned %d entries, want 2", len(at))
	}
	if q.len() != 2 {
		t.Fatalf("len() = %d, want 2", q.len())
	}
}

func TestPendingQueueHasAllHeights(t *testing.T) {
	q := newPendingQueue()
	e1, _ := newEntry(1, hashN(1))
	e2, _ := newEntry(2, hashN(2))
	q.insert(e1)
	q.insert(e2)

	if !q.hasAllHeights(true, 0, 2) {
		t.Fatal("hasAllHeights(true, 0, 2) should be true: heights 1 and 2 are both present")
	}

	q.removeAt(1)
	if q.hasAllHeights(true, 0, 2) {
		t.Fatal("hasAllHeights(true, 0, 2) should be false once height 1 is removed")
	}
}

func TestPendingQueueHasAllHeightsGenesisSentinel(t *testing.T) {
	q := newPendingQueue()
	e0, _ := newEntry(0, hashN(1))
	q.insert(e0)

	if !q.hasAllHeights(false, 0, 0) {
		t.Fatal("hasAllHeights(false, 0, 0) should be true: the pre-genesis segment is [0,0]")
	}
	if q.hasAllHeights(false, 0, 1) {
		t.Fatal("hasAllHeights(false, 0, 1) should be false: height 1 is missing")
	}
}

func TestPendingQueueDrainSegment(t *testing.T) {
	q := newPendingQueue()
	e1, _ := newEntry(1, hashN(1))
	e2, _ := newEntry(2, hashN(2))
	e3, _ := newEntry(3, hashN(3))
	q.insert(e1)
	q.insert(e2)
	q.insert(e3)

	drained := q.drainSegment(true, 0, 2)
	if len(drained) != 2 {
		t.Fatalf("drainSegment(true, 0, 2) returned %d entries, want 2", len(drained))
	}
	if drained[0].height != 1 || drained[1].height != 2 {
		t.Fatalf("drainSegment should return entries ordered by ascending height, got %+v", drained)
	}

	if q.len() != 1 {
		t.Fatalf("queue should retain the undrained entry, len() = %d", q.len())
	}
	if len(q.at(3)) != 1 {
		t.Fatal("height 3 should still be pending")
	}
}

func TestPendingQueueDrainSegmentPreGenesisSentinel(t *testing.T) {
	q := newPendingQueue()
	e0, _ := newEntry(0, hashN(1))
	e1, _ := newEntry(1, hashN(2))
	q.insert(e0)
	q.insert(e1)

	drained := q.drainSegment(false, 0, 0)
	if len(drained) != 1 || drained[0].height != 0 {
		t.Fatalf("drainSegment(false, 0, 0) = %+v, want just height 0", drained)
	}
	if q.len() != 1 {
		t.Fatalf("height 1 entry should remain pending, len() = %d", q.len())
	}
}

func TestPendingQueueClearAll(t *testing.T) {
	q := newPendingQueue()
	e1, done1 := newEntry(1, hashN(1))
	e2, done2 := newEntry(2, hashN(2))
	q.insert(e1)
	q.insert(e2)

	q.clearAll(ErrVerifierDropped)

	if q.len() != 0 {
		t.Fatalf("clearAll should empty the queue, len() = %d", q.len())
	}
	for _, done := range []<-chan Result{done1, done2} {
		res := <-done
		if !errors.Is(res.Err, ErrVerifierDropped) {
			t.Fatalf("expected ErrVerifierDropped, got %v", res.Err)
		}
	}
}
