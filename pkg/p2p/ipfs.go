// Checkpoint-list snapshot distribution over IPFS. Adapted from the
// teacher's CIDGossip, which broadcast arbitrary problem/solution/block
// CIDs over pubsub; this module narrows that to a single artifact — a
// versioned snapshot of a checkpoint.List — published to IPFS and
// announced by CID so late-joining or out-of-date nodes can bootstrap
// their checkpoint list without a trusted config file.
package p2p

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/zecwire/zecd/internal/logger"
	"github.com/zecwire/zecd/pkg/chain"
	"github.com/zecwire/zecd/pkg/checkpoint"
)

const (
	// CheckpointSnapshotTopic is the pubsub topic snapshot announcements
	// are broadcast on.
	CheckpointSnapshotTopic = "/zecd/checkpoints/1.0.0"

	// CheckpointPublishTimeout bounds how long adding a snapshot to IPFS
	// or announcing it over pubsub may take.
	CheckpointPublishTimeout = 30 * time.Second

	// CheckpointFetchTimeout bounds how long retrieving a snapshot by CID
	// from IPFS may take.
	CheckpointFetchTimeout = 30 * time.Second
)

func hashHex(h chain.Hash) string {
	return hex.EncodeToString(h[:])
}

func parseHash(s string) (chain.Hash, error) {
	var h chain.Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid hash %q: want %d bytes, got %d", s, len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// checkpointEntry is the wire shape of a checkpoint.Entry.
type checkpointEntry struct {
	Height uint32 `json:"height"`
	Hash   string `json:"hash"`
}

// CheckpointSnapshot is a versioned, self-describing serialization of a
// checkpoint.List, the unit published to and fetched from IPFS.
type CheckpointSnapshot struct {
	Version     int               `json:"version"`
	Network     string            `json:"network"`
	GeneratedAt int64             `json:"generated_at"`
	Entries     []checkpointEntry `json:"entries"`
}

// CheckpointAnnouncement is gossiped over CheckpointSnapshotTopic whenever
// a node publishes a new snapshot, so peers know a CID is worth fetching.
type CheckpointAnnouncement struct {
	CID         string `json:"cid"`
	Network     string `json:"network"`
	MaxHeight   uint32 `json:"max_height"`
	GeneratedAt int64  `json:"generated_at"`
}

func snapshotFromList(list *checkpoint.List, network string, generatedAt int64) CheckpointSnapshot {
	entries := list.Entries()
	wire := make([]checkpointEntry, len(entries))
	for i, e := range entries {
		wire[i] = checkpointEntry{Height: uint32(e.Height), Hash: hashHex(e.Hash)}
	}
	return CheckpointSnapshot{
		Version:     1,
		Network:     network,
		GeneratedAt: generatedAt,
		Entries:     wire,
	}
}

func (s CheckpointSnapshot) toList() (*checkpoint.List, error) {
	entries := make([]checkpoint.Entry, len(s.Entries))
	for i, e := range s.Entries {
		hash, err := parseHash(e.Hash)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries[i] = checkpoint.Entry{Height: chain.Height(e.Height), Hash: hash}
	}
	return checkpoint.NewListFromEntries(entries)
}

// CheckpointDistributor publishes checkpoint.List snapshots to IPFS and
// announces their CIDs over pubsub, and fetches snapshots announced by
// peers on request.
type CheckpointDistributor struct {
	host   host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	shell  *shell.Shell
	log    *logger.Logger

	network string

	mu         sync.RWMutex
	lastCID    string
	onAnnounce func(CheckpointAnnouncement)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCheckpointDistributor joins CheckpointSnapshotTopic and dials the
// IPFS HTTP API at apiAddr (e.g. "localhost:5001"). onAnnounce, if
// non-nil, is invoked for every announcement received from a peer —
// callers typically use it to fetch and adopt the advertised snapshot.
func NewCheckpointDistributor(
	ctx context.Context,
	h host.Host,
	ps *pubsub.PubSub,
	apiAddr string,
	network string,
	log *logger.Logger,
	onAnnounce func(CheckpointAnnouncement),
) (*CheckpointDistributor, error) {
	topic, err := ps.Join(CheckpointSnapshotTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic: %w", err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	cd := &CheckpointDistributor{
		host:       h,
		pubsub:     ps,
		topic:      topic,
		sub:        sub,
		shell:      shell.NewShell(apiAddr),
		log:        log,
		network:    network,
		onAnnounce: onAnnounce,
		ctx:        ctx,
		cancel:     cancel,
	}

	go cd.receiveLoop()

	log.WithFields(logger.Fields{"topic": CheckpointSnapshotTopic, "ipfs_api": apiAddr}).
		Info("checkpoint snapshot distribution initialized")
	return cd, nil
}

// receiveLoop dispatches every CheckpointAnnouncement seen on the topic
// to onAnnounce, skipping our own publications.
func (cd *CheckpointDistributor) receiveLoop() {
	for {
		msg, err := cd.sub.Next(cd.ctx)
		if err != nil {
			if cd.ctx.Err() != nil {
				return
			}
			cd.log.WithError(err).Error("failed to receive checkpoint announcement")
			continue
		}

		if msg.ReceivedFrom == cd.host.ID() {
			continue
		}

		var ann CheckpointAnnouncement
		if err := json.Unmarshal(msg.Data, &ann); err != nil {
			cd.log.WithError(err).Warn("failed to decode checkpoint announcement")
			continue
		}

		cd.log.WithFields(logger.Fields{
			"cid":        ann.CID,
			"max_height": ann.MaxHeight,
			"peer":       msg.ReceivedFrom.String(),
		}).Info("received checkpoint snapshot announcement")

		if cd.onAnnounce != nil {
			cd.onAnnounce(ann)
		}
	}
}

// Publish adds a snapshot of list to IPFS, pins it, and announces the
// resulting CID to the topic. generatedAt is a caller-supplied unix
// timestamp; Publish does not read the clock itself.
func (cd *CheckpointDistributor) Publish(list *checkpoint.List, generatedAt int64) (string, error) {
	snap := snapshotFromList(list, cd.network, generatedAt)
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	cid, err := cd.shell.Add(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to add snapshot to ipfs: %w", err)
	}

	if err := cd.shell.Pin(cid); err != nil {
		cd.log.WithFields(logger.Fields{"cid": cid, "error": err}).Warn("failed to pin checkpoint snapshot")
	}

	cd.mu.Lock()
	cd.lastCID = cid
	cd.mu.Unlock()

	ann := CheckpointAnnouncement{
		CID:         cid,
		Network:     cd.network,
		MaxHeight:   uint32(list.MaxHeight()),
		GeneratedAt: generatedAt,
	}
	annData, err := json.Marshal(ann)
	if err != nil {
		return cid, fmt.Errorf("failed to marshal announcement: %w", err)
	}

	ctx, cancel := context.WithTimeout(cd.ctx, CheckpointPublishTimeout)
	defer cancel()
	if err := cd.topic.Publish(ctx, annData); err != nil {
		return cid, fmt.Errorf("failed to announce snapshot: %w", err)
	}

	cd.log.WithFields(logger.Fields{"cid": cid, "max_height": ann.MaxHeight}).
		Info("checkpoint snapshot published")
	return cid, nil
}

// Fetch retrieves the snapshot at cid from IPFS and decodes it into a
// checkpoint.List.
func (cd *CheckpointDistributor) Fetch(cid string) (*checkpoint.List, error) {
	return fetchSnapshot(cd.shell, cid)
}

// FetchCheckpointSnapshot dials apiAddr and retrieves the snapshot at cid,
// for bootstrapping a checkpoint.List before a libp2p host exists.
func FetchCheckpointSnapshot(apiAddr, cid string) (*checkpoint.List, error) {
	return fetchSnapshot(shell.NewShell(apiAddr), cid)
}

func fetchSnapshot(sh *shell.Shell, cid string) (*checkpoint.List, error) {
	rc, err := sh.Cat(cid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot %s: %w", cid, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", cid, err)
	}

	var snap CheckpointSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", cid, err)
	}

	list, err := snap.toList()
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", cid, err)
	}
	return list, nil
}

// LastPublishedCID returns the CID of the most recently published
// snapshot, and whether one has been published yet.
func (cd *CheckpointDistributor) LastPublishedCID() (string, bool) {
	cd.mu.RLock()
	defer cd.mu.RUnlock()
	return cd.lastCID, cd.lastCID != ""
}

// Close shuts down the distributor.
func (cd *CheckpointDistributor) Close() error {
	cd.cancel()
	cd.sub.Cancel()
	return cd.topic.Close()
}
