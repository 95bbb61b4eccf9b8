// Block gossip: blocks received from peers are fed straight into the
// checkpoint verifier's Ready/Call contract; blocks the verifier admits
// locally are broadcast back out. Adapted from the teacher's
// BlockGossip/BlockMessage pair, rewired from its EVM-style block shape to
// chain.Block and a libp2p-pubsub topic specific to this node.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/zecwire/zecd/internal/logger"
	"github.com/zecwire/zecd/pkg/chain"
	"github.com/zecwire/zecd/pkg/checkpoint"
)

const (
	// BlockGossipTopic is the pubsub topic blocks are broadcast on.
	BlockGossipTopic = "/zecd/blocks/1.0.0"

	// BlockSyncProtocol is the request/response protocol for historical
	// block ranges, used to backfill a segment before it can close.
	BlockSyncProtocol = protocol.ID("/zecd/blocksync/1.0.0")

	// BlockBroadcastTimeout bounds how long publishing a block may take.
	BlockBroadcastTimeout = 5 * time.Second
)

// BlockMessage is a chain.Block on the wire.
type BlockMessage struct {
	Height            uint32     `json:"height"`
	PreviousBlockHash [32]byte   `json:"previous_block_hash"`
	MerkleRoot        [32]byte   `json:"merkle_root"`
	Timestamp         int64      `json:"timestamp"`
	Version           uint32     `json:"version"`
	Bits              uint32     `json:"bits"`
	Nonce             [32]byte   `json:"nonce"`
	Transactions      [][32]byte `json:"transactions"`
}

func toWire(b *chain.Block) BlockMessage {
	txs := make([][32]byte, len(b.Transactions))
	for i, h := range b.Transactions {
		txs[i] = h
	}
	return BlockMessage{
		Height:            uint32(b.Header.Height),
		PreviousBlockHash: b.Header.PreviousBlockHash,
		MerkleRoot:        b.Header.MerkleRoot,
		Timestamp:         b.Header.Timestamp,
		Version:           b.Header.Version,
		Bits:              b.Header.Bits,
		Nonce:             b.Header.Nonce,
		Transactions:      txs,
	}
}

func (m BlockMessage) toBlock() *chain.Block {
	txs := make([]chain.Hash, len(m.Transactions))
	for i, h := range m.Transactions {
		txs[i] = h
	}
	block := chain.NewBlock(chain.Height(m.Height), m.PreviousBlockHash, txs)
	block.Header.Timestamp = m.Timestamp
	block.Header.Version = m.Version
	block.Header.Bits = m.Bits
	block.Header.Nonce = m.Nonce
	block.Finalize()
	return block
}

// BlockSyncRequest requests blocks by height range.
type BlockSyncRequest struct {
	FromHeight uint32 `json:"from_height"`
	ToHeight   uint32 `json:"to_height"`
	MaxBlocks  int    `json:"max_blocks"`
}

// BlockSyncResponse contains the blocks requested, in ascending height.
type BlockSyncResponse struct {
	Blocks []BlockMessage `json:"blocks"`
}

// BlockHistory is the local source BlockSyncRequest replies are served
// from. pkg/store.Store satisfies it.
type BlockHistory interface {
	GetByHeight(ctx context.Context, height chain.Height) (*chain.Block, error)
}

// BlockGossip publishes locally-admitted blocks and feeds received blocks
// into a checkpoint verifier.
type BlockGossip struct {
	host   host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	log    *logger.Logger

	verifier *checkpoint.Verifier
	scorer   *PeerScoring
	history  BlockHistory

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBlockGossip joins BlockGossipTopic and starts feeding received blocks
// into verifier. scorer and history may be nil.
func NewBlockGossip(
	ctx context.Context,
	h host.Host,
	ps *pubsub.PubSub,
	verifier *checkpoint.Verifier,
	scorer *PeerScoring,
	history BlockHistory,
	log *logger.Logger,
) (*BlockGossip, error) {
	topic, err := ps.Join(BlockGossipTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic: %w", err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	bg := &BlockGossip{
		host:     h,
		pubsub:   ps,
		topic:    topic,
		sub:      sub,
		log:      log,
		verifier: verifier,
		scorer:   scorer,
		history:  history,
		ctx:      ctx,
		cancel:   cancel,
	}

	go bg.receiveLoop()
	h.SetStreamHandler(BlockSyncProtocol, bg.handleBlockSyncRequest)

	log.WithField("topic", BlockGossipTopic).Info("block gossip initialized")
	return bg, nil
}

// receiveLoop admits every block received from the network through the
// verifier's Ready/Call contract, fire-and-forget: gossip doesn't wait for
// a segment to close before relaying to the next peer.
func (bg *BlockGossip) receiveLoop() {
	for {
		msg, err := bg.sub.Next(bg.ctx)
		if err != nil {
			if bg.ctx.Err() != nil {
				return
			}
			bg.log.WithError(err).Error("failed to receive block message")
			continue
		}

		if msg.ReceivedFrom == bg.host.ID() {
			continue
		}

		var wire BlockMessage
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			bg.log.WithError(err).Warn("failed to decode block message")
			if bg.scorer != nil {
				bg.scorer.PenalizeMalformed(msg.ReceivedFrom)
			}
			continue
		}

		go bg.admit(msg.ReceivedFrom, wire.toBlock())
	}
}

func (bg *BlockGossip) admit(from peer.ID, block *chain.Block) {
	token, err := bg.verifier.Ready()
	if err != nil {
		return // verifier is shutting down
	}

	handle := bg.verifier.Call(token, block)
	ctx, cancel := context.WithTimeout(bg.ctx, 30*time.Second)
	defer cancel()

	_, err = handle.Wait(ctx)
	if bg.scorer != nil {
		bg.scorer.RecordResolution(from, err)
	}
	if err != nil && err != checkpoint.ErrAlreadyVerified && err != checkpoint.ErrSupersededByPeer {
		bg.log.WithFields(logger.Fields{
			"height": block.Header.Height,
			"peer":   from.String(),
			"error":  err,
		}).Debug("gossiped block not admitted")
	}
}

// BroadcastBlock publishes block to the topic, for blocks admitted
// locally via the RPC surface.
func (bg *BlockGossip) BroadcastBlock(block *chain.Block) error {
	data, err := json.Marshal(toWire(block))
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}

	ctx, cancel := context.WithTimeout(bg.ctx, BlockBroadcastTimeout)
	defer cancel()

	if err := bg.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish block: %w", err)
	}

	bg.log.WithField("height", block.Header.Height).Info("block broadcast to network")
	return nil
}

func (bg *BlockGossip) handleBlockSyncRequest(stream network.Stream) {
	defer stream.Close()

	var req BlockSyncRequest
	if err := json.NewDecoder(stream).Decode(&req); err != nil {
		bg.log.WithError(err).Warn("failed to decode block sync request")
		return
	}

	resp := BlockSyncResponse{}
	if bg.history != nil {
		max := req.MaxBlocks
		if max <= 0 || max > 500 {
			max = 500
		}
		for h := req.FromHeight; h <= req.ToHeight && len(resp.Blocks) < max; h++ {
			block, err := bg.history.GetByHeight(stream.Context(), chain.Height(h))
			if err != nil {
				continue
			}
			resp.Blocks = append(resp.Blocks, toWire(block))
		}
	}

	if err := json.NewEncoder(stream).Encode(resp); err != nil {
		bg.log.WithError(err).Error("failed to send block sync response")
	}
}

// RequestBlocks asks peerID for blocks in [fromHeight, toHeight].
func (bg *BlockGossip) RequestBlocks(ctx context.Context, peerID peer.ID, fromHeight, toHeight chain.Height, maxBlocks int) ([]*chain.Block, error) {
	stream, err := bg.host.NewStream(ctx, peerID, BlockSyncProtocol)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	req := BlockSyncRequest{FromHeight: uint32(fromHeight), ToHeight: uint32(toHeight), MaxBlocks: maxBlocks}
	if err := json.NewEncoder(stream).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp BlockSyncResponse
	if err := json.NewDecoder(stream).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	blocks := make([]*chain.Block, len(resp.Blocks))
	for i, wire := range resp.Blocks {
		blocks[i] = wire.toBlock()
	}
	return blocks, nil
}

// Close shuts down block gossip.
func (bg *BlockGossip) Close() error {
	bg.cancel()
	bg.sub.Cancel()
	bg.host.RemoveStreamHandler(BlockSyncProtocol)
	return bg.topic.Close()
}
