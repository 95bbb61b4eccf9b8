// Package checkpoint implements the checkpoint-based block verifier: it
// admits blocks to zecd by proving each one belongs to a predeclared,
// trusted chain of hashes, before the expensive consensus pipeline runs.
//
// The verifier never parses blocks, computes hashes, verifies proofs, or
// persists state — it only orders and gates, using chain.HashOf and the
// block's own declared coinbase height / previous-block hash as its only
// external collaborators.
package checkpoint

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zecwire/zecd/internal/logger"
	"github.com/zecwire/zecd/pkg/chain"
	"github.com/zecwire/zecd/pkg/consensus"
)

// pipelineAdmitTimeout bounds how long forwarding a verified block to the
// consensus pipeline may take before it's logged and abandoned.
const pipelineAdmitTimeout = 30 * time.Second

// Result is delivered exactly once on a completion handle.
type Result struct {
	Hash chain.Hash
	Err  error
}

// ReadyToken grants permission to call Call exactly once. It is
// non-transferable: obtain one from Ready immediately before each Call.
type ReadyToken struct{}

// CompletionHandle is the single-producer, single-consumer, one-shot
// primitive returned by Call. Exactly one of Result.Hash or Result.Err
// will be meaningful once it resolves.
type CompletionHandle struct {
	ch <-chan Result
}

// Wait blocks until the handle resolves or ctx is done. Callers wanting
// to bound latency wrap their own timeout around the handle; the verifier
// itself imposes no per-call timeout.
func (h CompletionHandle) Wait(ctx context.Context) (chain.Hash, error) {
	select {
	case res := <-h.ch:
		return res.Hash, res.Err
	case <-ctx.Done():
		return chain.Hash{}, ctx.Err()
	}
}

// Observer receives best-effort notifications of verifier state, used to
// drive pkg/metrics. A nil Observer is always safe to call through.
type Observer interface {
	ObservePendingDepth(n int)
	ObserveProgress(p Progress)
	ObserveResolution(err error)
}

type noopObserver struct{}

func (noopObserver) ObservePendingDepth(int)  {}
func (noopObserver) ObserveProgress(Progress) {}
func (noopObserver) ObserveResolution(error)  {}

// MultiObserver fans calls out to every observer in order. Use it when
// more than one subsystem (metrics, indexer notifications, ...) needs to
// watch the same verifier.
type MultiObserver []Observer

func (m MultiObserver) ObservePendingDepth(n int) {
	for _, o := range m {
		o.ObservePendingDepth(n)
	}
}

func (m MultiObserver) ObserveProgress(p Progress) {
	for _, o := range m {
		o.ObserveProgress(p)
	}
}

func (m MultiObserver) ObserveResolution(err error) {
	for _, o := range m {
		o.ObserveResolution(err)
	}
}

// Option configures a Verifier at construction time.
type Option func(*Verifier)

// WithPipeline wires p as the sink every successfully resolved block is
// forwarded to, fire-and-forget, after its segment closes. The verifier
// itself never blocks on p.Admit.
func WithPipeline(p consensus.Pipeline) Option {
	return func(v *Verifier) { v.pipeline = p }
}

// WithObserver wires o to receive best-effort progress/metrics
// notifications. WithObserver(nil) keeps the default no-op Observer.
func WithObserver(o Observer) Option {
	return func(v *Verifier) {
		if o != nil {
			v.observer = o
		}
	}
}

type submission struct {
	block *chain.Block
	done  chan Result
}

// Verifier is the checkpoint verifier service described in spec.md §4.4.
// Internally it is a single owner goroutine processing submissions from a
// channel, which gives segment closes — which must resolve many handles
// as one atomic logical step — a natural home without a mutex protecting
// ad hoc critical sections.
type Verifier struct {
	list     *List
	log      *logger.Logger
	pipeline consensus.Pipeline
	observer Observer

	submitCh chan submission
	stopCh   chan struct{}
	doneCh   chan struct{}
	closing  atomic.Bool

	snapshot atomic.Pointer[snapshot]
}

type snapshot struct {
	progress Progress
	target   Target
}

// New creates a Verifier from an immutable checkpoint list and starts its
// owner goroutine.
func New(list *List, log *logger.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		list:     list,
		log:      log,
		observer: noopObserver{},
		submitCh: make(chan submission),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}

	// A conformant implementation need not expose the real target
	// checkpoint before the first admission attempt runs against it.
	v.publish(BeforeGenesis, WaitingForBlocks)

	go v.run()
	return v
}

// Ready reports whether the verifier is prepared to accept one more
// block. It fails with ErrDropped once teardown has begun.
func (v *Verifier) Ready() (ReadyToken, error) {
	if v.closing.Load() {
		return ReadyToken{}, ErrDropped
	}
	return ReadyToken{}, nil
}

// Call consumes a ReadyToken, enqueues block, and returns a completion
// handle immediately. Call itself never blocks on resolution.
func (v *Verifier) Call(_ ReadyToken, block *chain.Block) CompletionHandle {
	done := make(chan Result, 1)
	select {
	case v.submitCh <- submission{block: block, done: done}:
	case <-v.stopCh:
		done <- Result{Err: ErrVerifierDropped}
	}
	return CompletionHandle{ch: done}
}

// Close tears the verifier down: every still-pending handle resolves with
// ErrVerifierDropped, deterministically, before Close returns.
func (v *Verifier) Close() {
	if !v.closing.CompareAndSwap(false, true) {
		<-v.doneCh
		return
	}
	close(v.stopCh)
	<-v.doneCh
}

// PreviousCheckpointHeight reports the most recently verified checkpoint.
// Idempotent: reading it has no observable side effect.
func (v *Verifier) PreviousCheckpointHeight() Progress {
	return v.snapshot.Load().progress
}

// TargetCheckpointHeight reports the checkpoint currently being pursued.
// Idempotent: reading it has no observable side effect.
func (v *Verifier) TargetCheckpointHeight() Target {
	return v.snapshot.Load().target
}

// CheckpointListMaxHeight returns the checkpoint list's maximum height.
func (v *Verifier) CheckpointListMaxHeight() chain.Height {
	return v.list.MaxHeight()
}

func (v *Verifier) publish(p Progress, t Target) {
	v.snapshot.Store(&snapshot{progress: p, target: t})
	v.observer.ObserveProgress(p)
}

// run is the verifier's single owner goroutine: every submission and
// every segment-close decision happens here, serialized, so that a
// segment close resolves its handles as one atomic logical step.
func (v *Verifier) run() {
	progress := BeforeGenesis
	queue := newPendingQueue()

	for {
		select {
		case s := <-v.submitCh:
			progress = v.admit(progress, queue, s)
			v.observer.ObservePendingDepth(queue.len())
		case <-v.stopCh:
			queue.clearAll(ErrVerifierDropped)
			v.observer.ObservePendingDepth(0)
			close(v.doneCh)
			return
		}
	}
}

// anchor returns the last verified checkpoint's height and hash, and
// whether one exists yet. When progress is BeforeGenesis there is no real
// anchor: the pre-genesis sentinel is represented by hasAnchor=false, and
// callers must special-case it rather than read height/hash.
func (v *Verifier) anchor(progress Progress) (height chain.Height, hash chain.Hash, hasAnchor bool) {
	h, ok := progress.PreviousHeight()
	if !ok {
		return 0, chain.Hash{}, false
	}
	hash, _ = v.list.HashAt(h)
	return h, hash, true
}

// target computes T = next_checkpoint_after(anchor_height), special-cased
// for the pre-genesis sentinel: the first checkpoint is always genesis
// (guaranteed present by List's construction invariant), so T = 0.
func (v *Verifier) target(hasAnchor bool, anchorHeight chain.Height) (chain.Height, bool) {
	if !hasAnchor {
		return 0, true
	}
	return v.list.NextCheckpointAfter(anchorHeight)
}

// admit runs the admission algorithm from spec.md §4.4 for one submitted
// block, then drives segment closes forward as far as the current queue
// allows. It returns the (possibly advanced) Progress.
func (v *Verifier) admit(progress Progress, queue *pendingQueue, s submission) Progress {
	// Step 1.
	if progress.IsFinal() {
		s.done <- Result{Err: ErrAfterFinalCheckpoint}
		close(s.done)
		v.observer.ObserveResolution(ErrAfterFinalCheckpoint)
		v.publish(progress, FinishedVerifying)
		return progress
	}

	// Step 2.
	anchorHeight, _, hasAnchor := v.anchor(progress)
	h := s.block.CoinbaseHeight()

	// Step 3.
	switch {
	case hasAnchor && h <= anchorHeight:
		s.done <- Result{Err: ErrAlreadyVerified}
		close(s.done)
		v.observer.ObserveResolution(ErrAlreadyVerified)
	case h > v.list.MaxHeight():
		s.done <- Result{Err: ErrBeyondMaxCheckpoint}
		close(s.done)
		v.observer.ObserveResolution(ErrBeyondMaxCheckpoint)
	default:
		queue.insert(&pendingEntry{
			block:  s.block,
			height: h,
			hash:   chain.HashOf(s.block),
			done:   s.done,
		})
	}

	return v.drainClosableSegments(progress, queue)
}

// drainClosableSegments repeatedly attempts to close the segment from the
// current anchor to its next checkpoint, advancing Progress each time one
// closes, until no further segment can close with the blocks on hand.
func (v *Verifier) drainClosableSegments(progress Progress, queue *pendingQueue) Progress {
	for {
		if progress.IsFinal() {
			v.publish(progress, FinishedVerifying)
			return progress
		}

		anchorHeight, anchorHash, hasAnchor := v.anchor(progress)
		target, hasTarget := v.target(hasAnchor, anchorHeight)
		if !hasTarget {
			v.publish(progress, FinishedVerifying)
			return progress
		}

		if !queue.hasAllHeights(hasAnchor, anchorHeight, target) {
			v.publish(progress, WaitingForBlocks)
			return progress
		}

		selected, required, ok := v.findChain(queue, hasAnchor, anchorHeight, anchorHash, target)
		if !ok {
			// Steps 7 & 8: retain the queue and wait for a correct
			// candidate or more blocks; never reject proactively.
			v.publish(progress, WaitingForBlocks)
			return progress
		}

		progress = v.closeSegment(queue, selected, required, hasAnchor, anchorHeight, target, progress)
		// Loop again: another segment may now be closable.
	}
}

// findChain selects one queued entry per height in (anchorHeight, target]
// (or just {0} when !hasAnchor) forming a hash-linked chain ending at the
// checkpoint hash at target. It also returns, for every height it visited,
// the hash a winning candidate at that height had to have — used by
// closeSegment to classify the entries that lost.
func (v *Verifier) findChain(
	queue *pendingQueue,
	hasAnchor bool,
	anchorHeight chain.Height,
	anchorHash chain.Hash,
	target chain.Height,
) (selected map[chain.Height]*pendingEntry, required map[chain.Height]chain.Hash, ok bool) {
	expectedAtTarget, _ := v.list.HashAt(target)

	var chosen *pendingEntry
	for _, e := range queue.at(target) {
		if e.hash == expectedAtTarget {
			chosen = e
			break
		}
	}
	required = map[chain.Height]chain.Hash{target: expectedAtTarget}
	if chosen == nil {
		return nil, required, false
	}

	selected = map[chain.Height]*pendingEntry{target: chosen}
	expectedParentHash := chosen.block.PreviousBlockHash()

	lowerBound := chain.Height(0)
	if hasAnchor {
		lowerBound = anchorHeight + 1
	}

	for h := target; h > lowerBound; h-- {
		prevHeight := h - 1
		required[prevHeight] = expectedParentHash

		var parent *pendingEntry
		for _, e := range queue.at(prevHeight) {
			if e.hash == expectedParentHash {
				parent = e
				break
			}
		}
		if parent == nil {
			return nil, required, false
		}
		selected[prevHeight] = parent
		expectedParentHash = parent.block.PreviousBlockHash()
	}

	if hasAnchor && expectedParentHash != anchorHash {
		// The lowest selected entry doesn't actually back-link to the
		// anchor: the chain is internally consistent but orphaned.
		return nil, required, false
	}

	return selected, required, true
}

// closeSegment advances Progress, then resolves every entry in
// (anchorHeight, target] (drained via pendingQueue.drainSegment), and
// forwards each resolved block to the consensus pipeline, fire-and-forget.
// Progress is published before any handle resolves, so a caller whose
// handle has resolved already observes the advanced Progress.
func (v *Verifier) closeSegment(
	queue *pendingQueue,
	selected map[chain.Height]*pendingEntry,
	required map[chain.Height]chain.Hash,
	hasAnchor bool,
	anchorHeight, target chain.Height,
	progress Progress,
) Progress {
	drained := queue.drainSegment(hasAnchor, anchorHeight, target)

	next := PreviousCheckpointHeight(target)
	if target == v.list.MaxHeight() {
		next = FinalCheckpoint
		v.publish(next, FinishedVerifying)
	} else {
		v.publish(next, WaitingForBlocks)
	}

	for _, e := range drained {
		winner := selected[e.height]
		switch {
		case e == winner:
			e.resolve(Result{Hash: e.hash})
			v.observer.ObserveResolution(nil)
			if v.pipeline != nil {
				go v.forwardToPipeline(e.block)
			}
		case e.hash == required[e.height]:
			// Same hash as the winner: a duplicate submission of the
			// same block that simply lost the race to resolve first.
			e.resolve(Result{Err: ErrSupersededByPeer})
			v.observer.ObserveResolution(ErrSupersededByPeer)
		case e.height == target:
			e.resolve(Result{Err: ErrCheckpointHashMismatch})
			v.observer.ObserveResolution(ErrCheckpointHashMismatch)
		default:
			e.resolve(Result{Err: ErrChainDiscontinuity})
			v.observer.ObserveResolution(ErrChainDiscontinuity)
		}
	}

	return next
}

// forwardToPipeline hands a verified block to the consensus pipeline off
// the owner goroutine, so a slow or stalled pipeline can never delay
// admission of the next block.
func (v *Verifier) forwardToPipeline(block *chain.Block) {
	ctx, cancel := context.WithTimeout(context.Background(), pipelineAdmitTimeout)
	defer cancel()
	if err := v.pipeline.Admit(ctx, block); err != nil {
		v.log.WithFields(logger.Fields{
			"height": block.CoinbaseHeight(),
			"error":  err,
		}).Warn("consensus pipeline rejected verified block")
	}
}
