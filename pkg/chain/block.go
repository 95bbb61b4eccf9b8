// Block structure and hashing for the zecd checkpoint node.
package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// Height is a block height. Genesis is 0. Totally ordered.
type Height uint32

// Hash is an opaque 32-byte block header identifier. Equality only.
type Hash [32]byte

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Header holds the fields of a block that determine its hash. Splitting it
// from the block body keeps HashOf cheap: it never touches transactions.
type Header struct {
	Height            Height
	PreviousBlockHash Hash
	MerkleRoot        Hash
	Timestamp         int64
	Version           uint32
	Bits              uint32
	Nonce             [32]byte
}

// Block is a shared, immutable-after-Finalize value: the same *Block may
// live simultaneously in a verifier's pending queue and in the submitter's
// own closure.
type Block struct {
	Header       Header
	Transactions []Hash

	// hash caches computeHeaderHash, set once by Finalize.
	hash Hash
}

// NewBlock builds an unfinalized block at height over the given parent.
func NewBlock(height Height, previousBlockHash Hash, txs []Hash) *Block {
	return &Block{
		Header: Header{
			Height:            height,
			PreviousBlockHash: previousBlockHash,
			Timestamp:         time.Now().Unix(),
		},
		Transactions: txs,
	}
}

// CoinbaseHeight returns the height declared by the block's coinbase
// transaction, per spec.md's external block interface.
func (b *Block) CoinbaseHeight() Height {
	return b.Header.Height
}

// PreviousBlockHash returns the block's declared parent hash.
func (b *Block) PreviousBlockHash() Hash {
	return b.Header.PreviousBlockHash
}

// Finalize computes the transaction merkle root and the block hash. Call
// once, before the block is shared with anything that reads its hash.
func (b *Block) Finalize() {
	b.Header.MerkleRoot = ComputeMerkleRoot(b.Transactions)
	b.hash = computeHeaderHash(b.Header)
}

// computeHeaderHash serializes and hashes a block header. Pure function,
// stdlib only: this is exactly the kind of allocation-light, dependency-free
// routine the rest of the ecosystem hand-rolls too.
func computeHeaderHash(h Header) Hash {
	buf := make([]byte, 0, 4+32+32+8+4+4+32)
	buf = appendHeight(buf, h.Height)
	buf = append(buf, h.PreviousBlockHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = appendInt64(buf, h.Timestamp)
	buf = appendUint32(buf, h.Version)
	buf = appendUint32(buf, h.Bits)
	buf = append(buf, h.Nonce[:]...)
	return sha256.Sum256(buf)
}

// HashOf computes the header hash of b. It is a pure function of b's
// header; the checkpoint verifier treats it as an external collaborator
// (spec.md §6) and never computes hashes itself.
func HashOf(b *Block) Hash {
	if b.hash.IsZero() {
		return computeHeaderHash(b.Header)
	}
	return b.hash
}

func appendHeight(buf []byte, h Height) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(h))
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return append(buf, tmp[:]...)
}
