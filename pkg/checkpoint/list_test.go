package checkpoint

import (
	"errors"
	"testing"

	"github.com/zecwire/zecd/pkg/chain"
)

func hashN(b byte) chain.Hash {
	var h chain.Hash
	h[0] = b
	return h
}

func TestNewListRequiresGenesis(t *testing.T) {
	_, err := NewList(map[chain.Height]chain.Hash{100: hashN(1)})
	if !errors.Is(err, ErrMissingGenesis) {
		t.Fatalf("expected ErrMissingGenesis, got %v", err)
	}
}

func TestNewListRejectsEmpty(t *testing.T) {
	_, err := NewList(nil)
	if !errors.Is(err, ErrEmptyList) {
		t.Fatalf("expected ErrEmptyList, got %v", err)
	}
}

func TestNewListFromEntriesRejectsDuplicateHeight(t *testing.T) {
	_, err := NewListFromEntries([]Entry{
		{Height: 0, Hash: hashN(1)},
		{Height: 0, Hash: hashN(2)},
	})
	if !errors.Is(err, ErrDuplicateHeight) {
		t.Fatalf("expected ErrDuplicateHeight, got %v", err)
	}
}

func TestListLookups(t *testing.T) {
	list, err := NewList(map[chain.Height]chain.Hash{
		0:   hashN(1),
		100: hashN(2),
		200: hashN(3),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := list.MaxHeight(); got != 200 {
		t.Fatalf("MaxHeight() = %d, want 200", got)
	}

	if !list.Contains(100) {
		t.Fatal("expected list to contain height 100")
	}
	if list.Contains(150) {
		t.Fatal("expected list not to contain height 150")
	}

	hash, ok := list.HashAt(100)
	if !ok || hash != hashN(2) {
		t.Fatalf("HashAt(100) = (%v, %v), want (%v, true)", hash, ok, hashN(2))
	}
	if _, ok := list.HashAt(150); ok {
		t.Fatal("HashAt(150) should report false")
	}

	next, ok := list.NextCheckpointAfter(0)
	if !ok || next != 100 {
		t.Fatalf("NextCheckpointAfter(0) = (%d, %v), want (100, true)", next, ok)
	}
	next, ok = list.NextCheckpointAfter(100)
	if !ok || next != 200 {
		t.Fatalf("NextCheckpointAfter(100) = (%d, %v), want (200, true)", next, ok)
	}
	if _, ok := list.NextCheckpointAfter(200); ok {
		t.Fatal("NextCheckpointAfter(200) should report false: 200 is the max height")
	}
}

func TestListEntriesRoundTrip(t *testing.T) {
	entries := []Entry{
		{Height: 0, Hash: hashN(1)},
		{Height: 50, Hash: hashN(2)},
	}
	list, err := NewListFromEntries(entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := list.Entries()
	if len(got) != len(entries) {
		t.Fatalf("Entries() returned %d entries, want %d", len(got), len(entries))
	}
	if got[0].Height != 0 || got[1].Height != 50 {
		t.Fatalf("Entries() not ordered by ascending height: %+v", got)
	}
}
