package netmux

import (
	"testing"
)

// TestPriorityBuffer_HighBeforeNormal is S4: enqueue many normal items
// while the underlying channel has no reader, then one high item, then
// start draining. The high item must be the first one delivered (§8
// property 1).
func TestPriorityBuffer_HighBeforeNormal(t *testing.T) {
	t.Parallel()

	// Buffered large enough that a single trySend drains both lanes in
	// one call, so the delivery order is observable just by reading out
	// afterward.
	out := make(chan int, 200)
	done := make(chan struct{})
	b := newPriorityBuffer(out, done)

	for i := 0; i < 100; i++ {
		b.pushNormal(i)
	}
	b.pushHigh(-1)

	if got := b.trySend(); got != sendOK {
		t.Fatalf("trySend() = %v, want sendOK", got)
	}

	first := <-out
	if first != -1 {
		t.Fatalf("first delivered item = %d, want -1 (the high-priority one)", first)
	}
	for i := 0; i < 100; i++ {
		if got := <-out; got != i {
			t.Fatalf("normal item %d = %d, want %d", i, got, i)
		}
	}
}

// TestPriorityBuffer_PendingWhenSinkBlocked exercises §8 property 6's
// back-pressure half at the buffer level: trySend must report Pending
// (not silently drop or block) when the underlying channel isn't ready.
func TestPriorityBuffer_PendingWhenSinkBlocked(t *testing.T) {
	t.Parallel()

	out := make(chan int) // never read in this test
	done := make(chan struct{})
	b := newPriorityBuffer(out, done)

	b.pushNormal(1)
	if got := b.trySend(); got != sendPending {
		t.Fatalf("trySend() = %v, want sendPending", got)
	}
	if b.len() != 1 {
		t.Fatalf("len() = %d, want 1 (item requeued, not dropped)", b.len())
	}
}

// TestPriorityBuffer_Disconnect reports sendDisconnected once done closes.
func TestPriorityBuffer_Disconnect(t *testing.T) {
	t.Parallel()

	out := make(chan int)
	done := make(chan struct{})
	close(done)

	b := newPriorityBuffer(out, done)
	b.pushNormal(1)
	if got := b.trySend(); got != sendDisconnected {
		t.Fatalf("trySend() after done closed = %v, want sendDisconnected", got)
	}
}

// TestPriorityBuffer_OkWhenEmpty reports sendOK when both lanes are empty,
// even with no reader.
func TestPriorityBuffer_OkWhenEmpty(t *testing.T) {
	t.Parallel()

	out := make(chan int)
	done := make(chan struct{})
	b := newPriorityBuffer(out, done)

	if got := b.trySend(); got != sendOK {
		t.Fatalf("trySend() on empty buffer = %v, want sendOK", got)
	}
}

// TestPriorityBuffer_Take snapshots pending items high-then-normal and
// clears the buffer.
func TestPriorityBuffer_Take(t *testing.T) {
	t.Parallel()

	out := make(chan int)
	done := make(chan struct{})
	b := newPriorityBuffer(out, done)

	b.pushNormal(1)
	b.pushNormal(2)
	b.pushHigh(3)

	ch, pending := b.take()
	if ch != out {
		t.Fatal("take() returned wrong channel")
	}
	want := []int{3, 1, 2}
	if len(pending) != len(want) {
		t.Fatalf("pending = %v, want %v", pending, want)
	}
	for i, v := range want {
		if pending[i] != v {
			t.Fatalf("pending[%d] = %d, want %d", i, pending[i], v)
		}
	}
	if !b.isEmpty() {
		t.Fatal("buffer not empty after take()")
	}
}

// TestPriorityBuffer_ClearNormal drops only the normal lane.
func TestPriorityBuffer_ClearNormal(t *testing.T) {
	t.Parallel()

	out := make(chan int)
	done := make(chan struct{})
	b := newPriorityBuffer(out, done)

	b.pushNormal(1)
	b.pushHigh(2)
	b.clearNormal()

	if b.len() != 1 {
		t.Fatalf("len() after clearNormal = %d, want 1", b.len())
	}
	_, pending := b.take()
	if len(pending) != 1 || pending[0] != 2 {
		t.Fatalf("pending after clearNormal = %v, want [2]", pending)
	}
}
