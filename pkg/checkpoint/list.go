package checkpoint

import (
	"sort"

	"github.com/zecwire/zecd/pkg/chain"
)

// List is an immutable, ordered height -> expected hash mapping. Once
// constructed by NewList it never changes for the verifier's lifetime.
//
// Adapted from the teacher's CheckpointManager (pkg/consensus/checkpoint.go),
// whose map-of-height shape this keeps, but restructured as a sorted slice
// plus an index map since nothing here may mutate after construction.
type List struct {
	heights []chain.Height          // ascending, unique
	byHeight map[chain.Height]chain.Hash
}

// NewList validates and builds an immutable List from a height->hash
// mapping. It fails with ErrEmptyList if m is empty, or ErrMissingGenesis
// if height 0 is absent.
func NewList(m map[chain.Height]chain.Hash) (*List, error) {
	if len(m) == 0 {
		return nil, ErrEmptyList
	}
	if _, ok := m[0]; !ok {
		return nil, ErrMissingGenesis
	}

	heights := make([]chain.Height, 0, len(m))
	byHeight := make(map[chain.Height]chain.Hash, len(m))
	for h, hash := range m {
		heights = append(heights, h)
		byHeight[h] = hash
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	return &List{heights: heights, byHeight: byHeight}, nil
}

// MaxHeight returns the greatest checkpoint height.
func (l *List) MaxHeight() chain.Height {
	return l.heights[len(l.heights)-1]
}

// Contains reports whether h is a checkpoint height.
func (l *List) Contains(h chain.Height) bool {
	_, ok := l.byHeight[h]
	return ok
}

// HashAt returns the expected hash at height h, and whether h is a
// checkpoint height.
func (l *List) HashAt(h chain.Height) (chain.Hash, bool) {
	hash, ok := l.byHeight[h]
	return hash, ok
}

// NextCheckpointAfter returns the smallest checkpoint height strictly
// greater than h, and whether one exists.
func (l *List) NextCheckpointAfter(h chain.Height) (chain.Height, bool) {
	// heights is sorted ascending; binary search for the first > h.
	i := sort.Search(len(l.heights), func(i int) bool { return l.heights[i] > h })
	if i == len(l.heights) {
		return 0, false
	}
	return l.heights[i], true
}

// Entry is a single (height, expected hash) checkpoint pair.
type Entry struct {
	Height chain.Height
	Hash   chain.Hash
}

// Entries returns every checkpoint in the list, ordered by ascending
// height. Used to serialize a snapshot for distribution.
func (l *List) Entries() []Entry {
	out := make([]Entry, len(l.heights))
	for i, h := range l.heights {
		out[i] = Entry{Height: h, Hash: l.byHeight[h]}
	}
	return out
}

// NewListFromEntries builds a List from an explicit slice of entries,
// failing with ErrDuplicateHeight if the same height appears twice. Use
// this constructor (instead of NewList's map) when the source of
// checkpoints can't already guarantee uniqueness, e.g. a checkpoint file
// fetched over IPFS.
func NewListFromEntries(entries []Entry) (*List, error) {
	m := make(map[chain.Height]chain.Hash, len(entries))
	for _, e := range entries {
		if _, dup := m[e.Height]; dup {
			return nil, ErrDuplicateHeight
		}
		m[e.Height] = e.Hash
	}
	return NewList(m)
}
