package checkpoint

import (
	"fmt"

	"github.com/zecwire/zecd/pkg/chain"
)

// progressKind tags which variant a Progress value holds. Go has no tagged
// union; this is the idiomatic stand-in for the Rust enum it mirrors.
type progressKind uint8

const (
	progressBeforeGenesis progressKind = iota
	progressPreviousCheckpoint
	progressFinalCheckpoint
)

// Progress describes the most recently verified checkpoint height.
type Progress struct {
	kind   progressKind
	height chain.Height // valid only when kind == progressPreviousCheckpoint
}

// BeforeGenesis is the initial Progress: no block has yet been verified.
var BeforeGenesis = Progress{kind: progressBeforeGenesis}

// FinalCheckpoint is the terminal Progress: all checkpoints reached.
var FinalCheckpoint = Progress{kind: progressFinalCheckpoint}

// PreviousCheckpointHeight returns the Progress variant recording that the
// most recent verified block was at checkpoint height h.
func PreviousCheckpointHeight(h chain.Height) Progress {
	return Progress{kind: progressPreviousCheckpoint, height: h}
}

// IsBeforeGenesis reports whether p is BeforeGenesis.
func (p Progress) IsBeforeGenesis() bool { return p.kind == progressBeforeGenesis }

// IsFinal reports whether p is FinalCheckpoint.
func (p Progress) IsFinal() bool { return p.kind == progressFinalCheckpoint }

// PreviousHeight returns the checkpoint height p is pinned to, and whether
// p is the PreviousCheckpoint variant.
func (p Progress) PreviousHeight() (chain.Height, bool) {
	if p.kind != progressPreviousCheckpoint {
		return 0, false
	}
	return p.height, true
}

func (p Progress) String() string {
	switch p.kind {
	case progressBeforeGenesis:
		return "BeforeGenesis"
	case progressFinalCheckpoint:
		return "FinalCheckpoint"
	default:
		return fmt.Sprintf("PreviousCheckpoint(%d)", p.height)
	}
}

// targetKind tags which variant a Target value holds.
type targetKind uint8

const (
	targetWaitingForBlocks targetKind = iota
	targetCheckpoint
	targetFinishedVerifying
)

// Target describes the checkpoint the verifier is currently pursuing.
type Target struct {
	kind   targetKind
	height chain.Height // valid only when kind == targetCheckpoint
}

// WaitingForBlocks is the Target variant meaning the verifier lacks the
// blocks needed to close its current segment.
var WaitingForBlocks = Target{kind: targetWaitingForBlocks}

// FinishedVerifying is the terminal Target, emitted only when Progress is
// FinalCheckpoint.
var FinishedVerifying = Target{kind: targetFinishedVerifying}

// CheckpointTarget returns the Target variant naming the height currently
// being pursued.
func CheckpointTarget(h chain.Height) Target {
	return Target{kind: targetCheckpoint, height: h}
}

// IsFinished reports whether t is FinishedVerifying.
func (t Target) IsFinished() bool { return t.kind == targetFinishedVerifying }

func (t Target) String() string {
	switch t.kind {
	case targetWaitingForBlocks:
		return "WaitingForBlocks"
	case targetFinishedVerifying:
		return "FinishedVerifying"
	default:
		return fmt.Sprintf("Checkpoint(%d)", t.height)
	}
}
