// Package consensus hosts the block-level consensus concerns that sit
// downstream of checkpoint admission: everything a block still needs once
// the checkpoint verifier has proven it belongs to the trusted chain.
package consensus

import (
	"context"
	"fmt"

	"github.com/zecwire/zecd/internal/logger"
	"github.com/zecwire/zecd/pkg/chain"
)

// Pipeline is the sink every block the checkpoint verifier admits is
// forwarded to. Implementations typically re-derive the block's own
// commitments and persist it; they run off the verifier's owner goroutine
// and may take as long as they need.
type Pipeline interface {
	Admit(ctx context.Context, block *chain.Block) error
}

// BlockStore is the subset of pkg/store.Store the default pipeline needs.
// Declared here, not imported from pkg/store, so pkg/consensus stays the
// dependency-light side of that relationship.
type BlockStore interface {
	Put(ctx context.Context, block *chain.Block) error
}

// DefaultPipeline is the reference Pipeline: it recomputes the block's
// merkle root as a defense-in-depth check against the checkpoint
// verifier's own bookkeeping, then persists the block.
type DefaultPipeline struct {
	log   *logger.Logger
	store BlockStore
}

// NewDefaultPipeline builds a DefaultPipeline writing through to store.
func NewDefaultPipeline(log *logger.Logger, store BlockStore) *DefaultPipeline {
	return &DefaultPipeline{log: log, store: store}
}

// Admit re-verifies block's merkle root and persists it.
func (p *DefaultPipeline) Admit(ctx context.Context, block *chain.Block) error {
	if got, want := chain.ComputeMerkleRoot(block.Transactions), block.Header.MerkleRoot; got != want {
		return fmt.Errorf("consensus: merkle root mismatch at height %d", block.Header.Height)
	}

	if err := p.store.Put(ctx, block); err != nil {
		return fmt.Errorf("consensus: persist block %d: %w", block.Header.Height, err)
	}

	p.log.WithFields(logger.Fields{
		"height": block.Header.Height,
	}).Debug("block admitted to consensus pipeline")
	return nil
}
