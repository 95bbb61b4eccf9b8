// Integration tests for the P2P networking layer.
package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/zecwire/zecd/internal/logger"
	"github.com/zecwire/zecd/pkg/chain"
	"github.com/zecwire/zecd/pkg/chain/params"
	"github.com/zecwire/zecd/pkg/checkpoint"
)

func testP2PConfig() P2PConfig {
	return P2PConfig{Network: params.NetworkRegtest, MaxPeers: 50}
}

func TestHostCreation(t *testing.T) {
	ctx := context.Background()
	log := logger.NewLogger("error")

	host, err := NewHost(ctx, 0, []string{}, testP2PConfig(), log)
	if err != nil {
		t.Fatalf("failed to create host: %v", err)
	}
	defer host.Close()

	if host.ID().String() == "" {
		t.Fatal("host ID should not be empty")
	}
	if len(host.Addrs()) == 0 {
		t.Fatal("host should have listen addresses")
	}
}

func TestPeerScoring(t *testing.T) {
	ctx := context.Background()
	log := logger.NewLogger("error")

	ps := NewPeerScoring(ctx, QuarantineThreshold, BanThreshold, log)
	defer ps.Close()

	host, err := NewHost(ctx, 0, []string{}, testP2PConfig(), log)
	if err != nil {
		t.Fatalf("failed to create host: %v", err)
	}
	defer host.Close()

	peerID := host.ID()

	if score := ps.GetScore(peerID); score != InitialPeerScore {
		t.Fatalf("initial score should be %d, got %d", InitialPeerScore, score)
	}

	ps.RecordValidMessage(peerID)
	if score := ps.GetScore(peerID); score != InitialPeerScore+ScoreValidMessage {
		t.Fatalf("score should be %d after valid message, got %d", InitialPeerScore+ScoreValidMessage, score)
	}

	for i := 0; i < 10; i++ {
		ps.RecordInvalidMessage(peerID)
	}
	if !ps.IsQuarantined(peerID) {
		t.Fatal("peer should be quarantined after many invalid messages")
	}
}

func TestPeerScoringRecordResolution(t *testing.T) {
	ctx := context.Background()
	log := logger.NewLogger("error")

	ps := NewPeerScoring(ctx, QuarantineThreshold, BanThreshold, log)
	defer ps.Close()

	host, err := NewHost(ctx, 0, []string{}, testP2PConfig(), log)
	if err != nil {
		t.Fatalf("failed to create host: %v", err)
	}
	defer host.Close()
	peerID := host.ID()

	base := ps.GetScore(peerID)
	ps.RecordResolution(peerID, checkpoint.ErrSupersededByPeer)
	if got := ps.GetScore(peerID); got != base {
		t.Fatalf("benign resolution kind should not move score: got %d, want %d", got, base)
	}

	ps.RecordResolution(peerID, checkpoint.ErrCheckpointHashMismatch)
	if got := ps.GetScore(peerID); got >= base {
		t.Fatalf("a checkpoint hash mismatch should penalize the peer: got %d, want < %d", got, base)
	}
}

// TestBlockGossipAdmitsThroughVerifier wires a fresh BlockGossip to a
// genesis-only verifier and checks that a well-formed wire block fed
// straight into admit() resolves through it without panicking.
func TestBlockGossipAdmitsThroughVerifier(t *testing.T) {
	log := logger.NewLogger("error")

	block := chain.NewBlock(0, chain.Hash{}, nil)
	block.Finalize()

	list, err := checkpoint.NewList(map[chain.Height]chain.Hash{0: chain.HashOf(block)})
	if err != nil {
		t.Fatalf("failed to build checkpoint list: %v", err)
	}
	v := checkpoint.New(list, log)
	defer v.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bg := &BlockGossip{
		verifier: v,
		log:      log,
		ctx:      ctx,
	}

	done := make(chan struct{})
	go func() {
		bg.admit("", block)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("admit did not return in time")
	}

	if p := v.PreviousCheckpointHeight(); !p.IsFinal() {
		t.Fatalf("verifier should be at FinalCheckpoint once its only checkpoint (genesis) resolves, got %v", p)
	}
}
