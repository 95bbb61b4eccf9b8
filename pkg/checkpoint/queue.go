package checkpoint

import (
	"sort"

	"github.com/zecwire/zecd/pkg/chain"
)

// pendingEntry is one submitted block awaiting resolution.
type pendingEntry struct {
	block  *chain.Block
	height chain.Height
	hash   chain.Hash
	done   chan<- Result // single-use completion handle, owned by the queue
}

// resolve delivers res on the entry's completion handle exactly once.
func (e *pendingEntry) resolve(res Result) {
	e.done <- res
	close(e.done)
}

// pendingQueue is a height-keyed multimap of entries not yet resolved.
// Multiple entries may share a height (competing candidate blocks); all
// are retained until resolution. Adapted from the teacher's
// map[uint64]*Checkpoint pattern, generalized to a multimap because the
// checkpoint verifier must tolerate competing submissions at one height.
type pendingQueue struct {
	byHeight map[chain.Height][]*pendingEntry
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{byHeight: make(map[chain.Height][]*pendingEntry)}
}

// insert adds an entry to the queue, keyed by its height.
func (q *pendingQueue) insert(e *pendingEntry) {
	q.byHeight[e.height] = append(q.byHeight[e.height], e)
}

// at returns the entries queued at height h, without removing them.
func (q *pendingQueue) at(h chain.Height) []*pendingEntry {
	return q.byHeight[h]
}

// removeAt discards the entries at height h.
func (q *pendingQueue) removeAt(h chain.Height) {
	delete(q.byHeight, h)
}

// drainSegment removes and returns all entries whose heights lie in
// (fromExclusive, toInclusive], ordered by ascending height. hasFrom is
// false only for the pre-genesis sentinel segment, where the lower bound
// isn't a real height and the range collapses to [0, toInclusive].
func (q *pendingQueue) drainSegment(hasFrom bool, fromExclusive, toInclusive chain.Height) []*pendingEntry {
	start := fromExclusive + 1
	if !hasFrom {
		start = 0
	}

	var heights []chain.Height
	for h := range q.byHeight {
		if h >= start && h <= toInclusive {
			heights = append(heights, h)
		}
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	var out []*pendingEntry
	for _, h := range heights {
		out = append(out, q.byHeight[h]...)
		delete(q.byHeight, h)
	}
	return out
}

// hasAllHeights reports whether every height in the segment (fromExclusive,
// toInclusive] (or [0, toInclusive] when !hasFrom) has at least one pending
// entry, the precondition for attempting to close that segment.
func (q *pendingQueue) hasAllHeights(hasFrom bool, fromExclusive, toInclusive chain.Height) bool {
	start := fromExclusive + 1
	if !hasFrom {
		start = 0
	}
	for h := start; h <= toInclusive; h++ {
		if len(q.byHeight[h]) == 0 {
			return false
		}
	}
	return true
}

// len returns the total number of pending entries across all heights.
func (q *pendingQueue) len() int {
	n := 0
	for _, entries := range q.byHeight {
		n += len(entries)
	}
	return n
}

// clearAll resolves every remaining entry with reason and empties the
// queue. The verifier calls it on teardown.
func (q *pendingQueue) clearAll(reason error) {
	for h, entries := range q.byHeight {
		for _, e := range entries {
			e.resolve(Result{Err: reason})
		}
		delete(q.byHeight, h)
	}
}
