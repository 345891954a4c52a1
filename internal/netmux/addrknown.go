package netmux

import (
	"container/heap"
	"sync"
	"time"
)

// addrTimeEntry is one (insertion-instant, address) pair in the eviction
// heap. Entries become stale when their address is re-inserted with a
// later instant; staleness is detected lazily at eviction time by
// comparing against AddrKnown.insertedAt, the same lazy-deletion trick a
// timer wheel uses for cancelled timers.
type addrTimeEntry struct {
	at   time.Time
	addr ConnectableAddr
}

type addrHeap []addrTimeEntry

func (h addrHeap) Len() int            { return len(h) }
func (h addrHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h addrHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *addrHeap) Push(x interface{}) { *h = append(*h, x.(addrTimeEntry)) }
func (h *addrHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// AddrKnown is a bounded, time-ordered, LRU-like set of ConnectableAddr
// (§3, §4.2). It backs the optional discovery protocol's duplicate-address
// filtering: three logical indexes (a membership set, an addr→insertion-time
// map, and a time→addr order) are kept in lockstep at every observable
// point (§8 property 3).
//
// Go has no built-in ordered map, so the time→addr index is realized as a
// min-heap of (instant, addr) pairs with lazy deletion: re-inserting an
// address leaves its old heap entry in place but stale, and eviction skips
// stale entries by checking against insertedAt.
type AddrKnown struct {
	mu sync.Mutex

	maxKnown int
	addrs    map[ConnectableAddr]struct{}
	inserted map[ConnectableAddr]time.Time
	order    addrHeap

	lastInstant time.Time
}

// defaultMaxKnown is the capacity used when NewAddrKnown is given 0.
const defaultMaxKnown = 5000

// NewAddrKnown creates an AddrKnown with the given capacity. A maxKnown of
// 0 uses the §6 default of 5000.
func NewAddrKnown(maxKnown int) *AddrKnown {
	if maxKnown <= 0 {
		maxKnown = defaultMaxKnown
	}
	return &AddrKnown{
		maxKnown: maxKnown,
		addrs:    make(map[ConnectableAddr]struct{}),
		inserted: make(map[ConnectableAddr]time.Time),
	}
}

// Insert records a into the known set, evicting the single oldest entry if
// this insert pushes the set over capacity (§4.2).
//
// Per Design Note / Open Question 1, insertion instants are clamped to be
// strictly greater than the previous instant so that two inserts in the
// same monotonic tick never collide in the time index.
func (k *AddrKnown) Insert(a ConnectableAddr) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	if !now.After(k.lastInstant) {
		now = k.lastInstant.Add(time.Nanosecond)
	}
	k.lastInstant = now

	k.addrs[a] = struct{}{}
	k.inserted[a] = now
	heap.Push(&k.order, addrTimeEntry{at: now, addr: a})

	if len(k.addrs) > k.maxKnown {
		k.evictOldestLocked()
	}
}

// evictOldestLocked pops stale heap entries until it finds (and removes)
// the single oldest live entry. Caller must hold k.mu.
func (k *AddrKnown) evictOldestLocked() {
	for k.order.Len() > 0 {
		oldest := heap.Pop(&k.order).(addrTimeEntry)
		current, live := k.inserted[oldest.addr]
		if !live || !current.Equal(oldest.at) {
			continue // stale: addr was removed or re-inserted since.
		}
		delete(k.addrs, oldest.addr)
		delete(k.inserted, oldest.addr)
		return
	}
}

// Contains reports whether a is in the known set.
func (k *AddrKnown) Contains(a ConnectableAddr) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.addrs[a]
	return ok
}

// Remove deletes every address in addrs from all three indexes.
func (k *AddrKnown) Remove(addrs ...ConnectableAddr) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, a := range addrs {
		delete(k.addrs, a)
		delete(k.inserted, a)
	}
}

// Len returns the number of addresses currently known.
func (k *AddrKnown) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.addrs)
}
