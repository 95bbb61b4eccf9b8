package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zecwire/zecd/internal/logger"
	"github.com/zecwire/zecd/pkg/chain"
)

func testLogger() *logger.Logger {
	return logger.NewLogger("error")
}

// buildChain returns n+1 contiguous, correctly hash-linked blocks at
// heights 0..n, genesis's previous hash is the zero hash.
func buildChain(n int) []*chain.Block {
	blocks := make([]*chain.Block, n+1)
	prev := chain.Hash{}
	for h := 0; h <= n; h++ {
		b := chain.NewBlock(chain.Height(h), prev, nil)
		b.Finalize()
		blocks[h] = b
		prev = chain.HashOf(b)
	}
	return blocks
}

func mustCall(t *testing.T, v *Verifier, block *chain.Block) CompletionHandle {
	t.Helper()
	token, err := v.Ready()
	if err != nil {
		t.Fatalf("Ready() returned error: %v", err)
	}
	return v.Call(token, block)
}

func mustWait(t *testing.T, h CompletionHandle) (chain.Hash, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hash, err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("handle did not resolve in time")
	}
	return hash, err
}

// S1 — single-checkpoint genesis.
func TestVerifierSingleCheckpointGenesis(t *testing.T) {
	chainBlocks := buildChain(0)
	genesisHash := chain.HashOf(chainBlocks[0])

	list, err := NewList(map[chain.Height]chain.Hash{0: genesisHash})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := New(list, testLogger())
	defer v.Close()

	if !v.PreviousCheckpointHeight().IsBeforeGenesis() {
		t.Fatal("progress should start at BeforeGenesis")
	}
	if v.TargetCheckpointHeight() != WaitingForBlocks {
		t.Fatal("target should start at WaitingForBlocks")
	}

	handle := mustCall(t, v, chainBlocks[0])
	hash, err := mustWait(t, handle)
	if err != nil {
		t.Fatalf("unexpected error resolving genesis: %v", err)
	}
	if hash != genesisHash {
		t.Fatalf("resolved hash = %v, want %v", hash, genesisHash)
	}

	if !v.PreviousCheckpointHeight().IsFinal() {
		t.Fatal("progress should be FinalCheckpoint after the only checkpoint resolves")
	}
	if !v.TargetCheckpointHeight().IsFinished() {
		t.Fatal("target should be FinishedVerifying after the only checkpoint resolves")
	}
}

// S2 — two contiguous checkpoints.
func TestVerifierTwoContiguousCheckpoints(t *testing.T) {
	chainBlocks := buildChain(1)
	list, err := NewList(map[chain.Height]chain.Hash{
		0: chain.HashOf(chainBlocks[0]),
		1: chain.HashOf(chainBlocks[1]),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := New(list, testLogger())
	defer v.Close()

	h0 := mustCall(t, v, chainBlocks[0])
	hash0, err := mustWait(t, h0)
	if err != nil {
		t.Fatalf("unexpected error resolving block 0: %v", err)
	}
	if hash0 != chain.HashOf(chainBlocks[0]) {
		t.Fatal("block 0 resolved to the wrong hash")
	}
	height, ok := v.PreviousCheckpointHeight().PreviousHeight()
	if !ok || height != 0 {
		t.Fatalf("progress after block 0 should be PreviousCheckpoint(0), got height=%d ok=%v", height, ok)
	}
	if v.TargetCheckpointHeight() != WaitingForBlocks {
		t.Fatal("target after block 0 should be WaitingForBlocks, checkpoint 1 not yet supplied")
	}

	h1 := mustCall(t, v, chainBlocks[1])
	hash1, err := mustWait(t, h1)
	if err != nil {
		t.Fatalf("unexpected error resolving block 1: %v", err)
	}
	if hash1 != chain.HashOf(chainBlocks[1]) {
		t.Fatal("block 1 resolved to the wrong hash")
	}
	if !v.PreviousCheckpointHeight().IsFinal() {
		t.Fatal("progress should be FinalCheckpoint after the last checkpoint resolves")
	}
}

// S3 — sparse checkpoints, dense submissions: checkpoints at 0, 5, 10, with
// every intervening block submitted in order.
func TestVerifierSparseCheckpointsDenseSubmissions(t *testing.T) {
	chainBlocks := buildChain(10)
	list, err := NewList(map[chain.Height]chain.Hash{
		0:  chain.HashOf(chainBlocks[0]),
		5:  chain.HashOf(chainBlocks[5]),
		10: chain.HashOf(chainBlocks[10]),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := New(list, testLogger())
	defer v.Close()

	handles := make([]CompletionHandle, len(chainBlocks))
	for h, block := range chainBlocks {
		handles[h] = mustCall(t, v, block)
	}

	for h, handle := range handles {
		hash, err := mustWait(t, handle)
		if err != nil {
			t.Fatalf("block %d: unexpected error: %v", h, err)
		}
		if hash != chain.HashOf(chainBlocks[h]) {
			t.Fatalf("block %d resolved to the wrong hash", h)
		}
	}

	if !v.PreviousCheckpointHeight().IsFinal() {
		t.Fatal("progress should be FinalCheckpoint once every checkpoint has resolved")
	}
	if !v.TargetCheckpointHeight().IsFinished() {
		t.Fatal("target should be FinishedVerifying once every checkpoint has resolved")
	}
}

// S4 — out-of-range block.
func TestVerifierOutOfRangeBlock(t *testing.T) {
	chainBlocks := buildChain(0)
	list, err := NewList(map[chain.Height]chain.Hash{0: chain.HashOf(chainBlocks[0])})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := New(list, testLogger())
	defer v.Close()

	farBlock := chain.NewBlock(415000, chain.Hash{}, nil)
	farBlock.Finalize()

	handle := mustCall(t, v, farBlock)
	_, err = mustWait(t, handle)
	if !errors.Is(err, ErrBeyondMaxCheckpoint) {
		t.Fatalf("expected ErrBeyondMaxCheckpoint, got %v", err)
	}

	if !v.PreviousCheckpointHeight().IsBeforeGenesis() {
		t.Fatal("state should be unchanged after an out-of-range submission")
	}
}

// S5 — bad hash then good hash: two malformed genesis candidates stay
// pending until the correct genesis block resolves the segment, at which
// point they resolve with an error rather than succeeding.
func TestVerifierBadHashThenGoodHash(t *testing.T) {
	chainBlocks := buildChain(0)
	genesis := chainBlocks[0]
	genesisHash := chain.HashOf(genesis)

	list, err := NewList(map[chain.Height]chain.Hash{0: genesisHash})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := New(list, testLogger())
	defer v.Close()

	bad1 := chain.NewBlock(0, chain.Hash{}, nil)
	bad1.Header.Nonce = [32]byte{1}
	bad1.Finalize()

	bad2 := chain.NewBlock(0, chain.Hash{}, nil)
	bad2.Header.Nonce = [32]byte{2}
	bad2.Finalize()

	if chain.HashOf(bad1) == genesisHash || chain.HashOf(bad2) == genesisHash {
		t.Fatal("test fixture error: a bad candidate accidentally hashes to the real genesis hash")
	}

	badHandle1 := mustCall(t, v, bad1)
	badHandle2 := mustCall(t, v, bad2)

	time.Sleep(50 * time.Millisecond)
	// Neither bad handle should have resolved yet: the segment can't close
	// until a candidate whose hash matches the checkpoint arrives.
	select {
	case res := <-badHandle1.ch:
		t.Fatalf("bad candidate resolved early with %+v", res)
	default:
	}

	goodHandle := mustCall(t, v, genesis)
	hash, err := mustWait(t, goodHandle)
	if err != nil {
		t.Fatalf("unexpected error resolving the correct genesis block: %v", err)
	}
	if hash != genesisHash {
		t.Fatal("correct genesis block resolved to the wrong hash")
	}

	if _, err := mustWait(t, badHandle1); err == nil {
		t.Fatal("expected bad candidate 1 to resolve with an error")
	} else if !errors.Is(err, ErrCheckpointHashMismatch) && !errors.Is(err, ErrSupersededByPeer) {
		t.Fatalf("expected CheckpointHashMismatch or SupersededByPeer, got %v", err)
	}
	if _, err := mustWait(t, badHandle2); err == nil {
		t.Fatal("expected bad candidate 2 to resolve with an error")
	} else if !errors.Is(err, ErrCheckpointHashMismatch) && !errors.Is(err, ErrSupersededByPeer) {
		t.Fatalf("expected CheckpointHashMismatch or SupersededByPeer, got %v", err)
	}
}

// S6 — drop cancels pending segments: a resolvable prefix resolves
// successfully, a non-contiguous tail is abandoned with ErrVerifierDropped
// once Close is called.
func TestVerifierDropCancelsPendingSegments(t *testing.T) {
	chainBlocks := buildChain(1)
	far1 := chain.NewBlock(415000, chain.Hash{}, nil)
	far1.Finalize()
	far2 := chain.NewBlock(434873, chain.HashOf(far1), nil)
	far2.Finalize()

	list, err := NewList(map[chain.Height]chain.Hash{
		0:      chain.HashOf(chainBlocks[0]),
		1:      chain.HashOf(chainBlocks[1]),
		415000: chain.HashOf(far1),
		434873: chain.HashOf(far2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := New(list, testLogger())

	h0 := mustCall(t, v, chainBlocks[0])
	h1 := mustCall(t, v, chainBlocks[1])
	hFar1 := mustCall(t, v, far1)
	hFar2 := mustCall(t, v, far2)

	if _, err := mustWait(t, h0); err != nil {
		t.Fatalf("unexpected error resolving block 0: %v", err)
	}
	if _, err := mustWait(t, h1); err != nil {
		t.Fatalf("unexpected error resolving block 1: %v", err)
	}

	height, ok := v.PreviousCheckpointHeight().PreviousHeight()
	if !ok || height != 1 {
		t.Fatalf("progress should be PreviousCheckpoint(1) once the contiguous prefix resolves, got height=%d ok=%v", height, ok)
	}

	v.Close()

	if _, err := mustWait(t, hFar1); !errors.Is(err, ErrVerifierDropped) {
		t.Fatalf("expected ErrVerifierDropped for the far pending block, got %v", err)
	}
	if _, err := mustWait(t, hFar2); !errors.Is(err, ErrVerifierDropped) {
		t.Fatalf("expected ErrVerifierDropped for the far pending block, got %v", err)
	}
}

func TestVerifierReadyFailsAfterClose(t *testing.T) {
	chainBlocks := buildChain(0)
	list, err := NewList(map[chain.Height]chain.Hash{0: chain.HashOf(chainBlocks[0])})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := New(list, testLogger())
	v.Close()

	if _, err := v.Ready(); !errors.Is(err, ErrDropped) {
		t.Fatalf("expected ErrDropped after Close, got %v", err)
	}
}

func TestVerifierSubmissionAfterFinalCheckpoint(t *testing.T) {
	chainBlocks := buildChain(1)
	list, err := NewList(map[chain.Height]chain.Hash{0: chain.HashOf(chainBlocks[0])})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := New(list, testLogger())
	defer v.Close()

	h0 := mustCall(t, v, chainBlocks[0])
	if _, err := mustWait(t, h0); err != nil {
		t.Fatalf("unexpected error resolving the only checkpoint: %v", err)
	}

	late := mustCall(t, v, chainBlocks[1])
	if _, err := mustWait(t, late); !errors.Is(err, ErrAfterFinalCheckpoint) {
		t.Fatalf("expected ErrAfterFinalCheckpoint, got %v", err)
	}
}

func TestVerifierAlreadyVerifiedHeight(t *testing.T) {
	chainBlocks := buildChain(1)
	list, err := NewList(map[chain.Height]chain.Hash{
		0: chain.HashOf(chainBlocks[0]),
		1: chain.HashOf(chainBlocks[1]),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := New(list, testLogger())
	defer v.Close()

	h0 := mustCall(t, v, chainBlocks[0])
	if _, err := mustWait(t, h0); err != nil {
		t.Fatalf("unexpected error resolving block 0: %v", err)
	}

	replay := mustCall(t, v, chainBlocks[0])
	if _, err := mustWait(t, replay); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}
}
