// Package store persists verified blocks to SQLite. Adapted from the
// teacher's pkg/state/blocks.go: same table shape and query style, rewired
// against chain.Block/chain.Hash and given its own connection lifecycle
// since the teacher's StateManager it originally leaned on isn't part of
// this service.
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zecwire/zecd/internal/logger"
	"github.com/zecwire/zecd/pkg/chain"
)

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	height             INTEGER PRIMARY KEY,
	hash               BLOB NOT NULL UNIQUE,
	previous_block_hash BLOB NOT NULL,
	merkle_root        BLOB NOT NULL,
	timestamp          INTEGER NOT NULL,
	version            INTEGER NOT NULL,
	bits               INTEGER NOT NULL,
	nonce              BLOB NOT NULL,
	tx_hashes          BLOB NOT NULL,
	created_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blocks_hash ON blocks(hash);
`

// Store is a SQLite-backed append-only log of blocks the consensus
// pipeline has admitted.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *logger.Logger
}

// Open opens (creating if necessary) a SQLite database at path and
// ensures the blocks table exists.
func Open(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put persists block, keyed by its header hash. Put is idempotent: storing
// the same height twice with an identical hash is a no-op success.
func (s *Store) Put(ctx context.Context, block *chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txData, err := json.Marshal(hashesToHex(block.Transactions))
	if err != nil {
		return fmt.Errorf("store: marshal transactions: %w", err)
	}

	hash := chain.HashOf(block)
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blocks (
			height, hash, previous_block_hash, merkle_root,
			timestamp, version, bits, nonce, tx_hashes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		block.Header.Height,
		hash[:],
		block.Header.PreviousBlockHash[:],
		block.Header.MerkleRoot[:],
		block.Header.Timestamp,
		block.Header.Version,
		block.Header.Bits,
		block.Header.Nonce[:],
		txData,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: insert block %d: %w", block.Header.Height, err)
	}

	s.log.WithField("height", block.Header.Height).Debug("block persisted")
	return nil
}

// GetByHeight retrieves the block stored at height.
func (s *Store) GetByHeight(ctx context.Context, height chain.Height) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT height, previous_block_hash, merkle_root, timestamp, version, bits, nonce, tx_hashes
		FROM blocks WHERE height = ?
	`, height)
	return scanBlock(row)
}

// GetByHash retrieves the block whose header hashes to hash.
func (s *Store) GetByHash(ctx context.Context, hash chain.Hash) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT height, previous_block_hash, merkle_root, timestamp, version, bits, nonce, tx_hashes
		FROM blocks WHERE hash = ?
	`, hash[:])
	return scanBlock(row)
}

// Latest retrieves the highest-height stored block.
func (s *Store) Latest(ctx context.Context) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT height, previous_block_hash, merkle_root, timestamp, version, bits, nonce, tx_hashes
		FROM blocks ORDER BY height DESC LIMIT 1
	`)
	return scanBlock(row)
}

// Count returns the total number of stored blocks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count blocks: %w", err)
	}
	return n, nil
}

// ErrNotFound is returned when a lookup finds no matching block.
var ErrNotFound = fmt.Errorf("store: block not found")

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBlock(row rowScanner) (*chain.Block, error) {
	var height uint32
	var previousHash, merkleRoot, nonce []byte
	var timestamp int64
	var version, bits uint32
	var txData []byte

	err := row.Scan(&height, &previousHash, &merkleRoot, &timestamp, &version, &bits, &nonce, &txData)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan block: %w", err)
	}

	var hexHashes []string
	if err := json.Unmarshal(txData, &hexHashes); err != nil {
		return nil, fmt.Errorf("store: unmarshal transactions: %w", err)
	}
	txs, err := hexesToHashes(hexHashes)
	if err != nil {
		return nil, err
	}

	block := &chain.Block{
		Header: chain.Header{
			Height:    chain.Height(height),
			Timestamp: timestamp,
			Version:   version,
			Bits:      bits,
		},
		Transactions: txs,
	}
	copy(block.Header.PreviousBlockHash[:], previousHash)
	copy(block.Header.MerkleRoot[:], merkleRoot)
	copy(block.Header.Nonce[:], nonce)
	block.Finalize()
	return block, nil
}

func hashesToHex(hashes []chain.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = hex.EncodeToString(h[:])
	}
	return out
}

func hexesToHashes(hexHashes []string) ([]chain.Hash, error) {
	out := make([]chain.Hash, len(hexHashes))
	for i, hx := range hexHashes {
		raw, err := hex.DecodeString(hx)
		if err != nil {
			return nil, fmt.Errorf("store: decode tx hash %q: %w", hx, err)
		}
		copy(out[i][:], raw)
	}
	return out, nil
}
