package checkpoint

import "errors"

// Construction errors, returned by NewList / NewListFromEntries.
var (
	// ErrEmptyList is returned when the checkpoint mapping has no entries.
	ErrEmptyList = errors.New("checkpoint: list is empty")
	// ErrMissingGenesis is returned when the checkpoint mapping has no
	// entry at height 0.
	ErrMissingGenesis = errors.New("checkpoint: list is missing genesis (height 0)")
	// ErrDuplicateHeight is returned by NewListFromEntries when the same
	// height appears more than once.
	ErrDuplicateHeight = errors.New("checkpoint: duplicate height in entries")
)

// Call-resolution errors, delivered through a completion handle.
var (
	// ErrAlreadyVerified is returned when a submitted block's height is at
	// or below the last verified checkpoint.
	ErrAlreadyVerified = errors.New("checkpoint: block height already verified")
	// ErrBeyondMaxCheckpoint is returned when a submitted block's height
	// exceeds the checkpoint list's maximum height.
	ErrBeyondMaxCheckpoint = errors.New("checkpoint: block height beyond max checkpoint")
	// ErrCheckpointHashMismatch is returned when a candidate at a
	// checkpoint height has the wrong hash.
	ErrCheckpointHashMismatch = errors.New("checkpoint: hash mismatch at checkpoint height")
	// ErrChainDiscontinuity is returned when no back-link chain exists
	// within a segment at close time.
	ErrChainDiscontinuity = errors.New("checkpoint: no contiguous back-link chain")
	// ErrSupersededByPeer is returned to entries at a height that lost to
	// a different entry selected as part of the verified chain.
	ErrSupersededByPeer = errors.New("checkpoint: superseded by a competing block at the same height")
	// ErrAfterFinalCheckpoint is returned when a block is submitted after
	// the verifier has reached its terminal state.
	ErrAfterFinalCheckpoint = errors.New("checkpoint: submitted after final checkpoint")
	// ErrVerifierDropped is returned to every handle still pending when
	// the verifier is torn down.
	ErrVerifierDropped = errors.New("checkpoint: verifier dropped")
)

// ErrDropped is returned by Ready when the verifier has begun teardown.
var ErrDropped = errors.New("checkpoint: verifier is shutting down")
