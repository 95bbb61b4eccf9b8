// Package rpc exposes zecd's checkpoint verifier and block store over
// HTTP, plus a best-effort websocket feed of chain-tip changes for
// indexers. Handler style follows the gin-based light-client API seen
// across the retrieved pack; wire types are named after zebra-rpc's
// transaction.rs, trimmed to what a checkpoint-scoped node can answer.
package rpc

import "github.com/zecwire/zecd/pkg/chain"

// TransactionObject is the read model returned for an admitted submission
// (POST /blocks) and built by NewConfirmedTransaction: enough
// to let a client confirm a transaction without re-deriving it from the
// raw block.
type TransactionObject struct {
	Hash          string `json:"hash"`
	Height        uint32 `json:"height"`
	Confirmations uint32 `json:"confirmations"`
	InBlock       string `json:"in_block"`
}

// TransactionTemplate is the response shape for endpoints that describe a
// pending submission rather than a confirmed one: no height/confirmations
// yet, since checkpoint admission hasn't resolved it.
type TransactionTemplate struct {
	Hash   string `json:"hash"`
	Status string `json:"status"` // "pending", "rejected"
	Reason string `json:"reason,omitempty"`
}

// NewConfirmedTransaction builds a TransactionObject for a transaction
// hash known to be included in block at height, confirmed up to tip.
func NewConfirmedTransaction(hash chain.Hash, height, tip chain.Height, blockHash chain.Hash) TransactionObject {
	confirmations := uint32(0)
	if tip >= height {
		confirmations = uint32(tip-height) + 1
	}
	return TransactionObject{
		Hash:          hashHex(hash),
		Height:        uint32(height),
		Confirmations: confirmations,
		InBlock:       hashHex(blockHash),
	}
}

// NewPendingTransaction builds a TransactionTemplate for a submission that
// hasn't resolved yet.
func NewPendingTransaction(hash chain.Hash) TransactionTemplate {
	return TransactionTemplate{Hash: hashHex(hash), Status: "pending"}
}

// NewRejectedTransaction builds a TransactionTemplate for a submission the
// verifier rejected, carrying the error kind as a human-readable reason.
func NewRejectedTransaction(hash chain.Hash, reason string) TransactionTemplate {
	return TransactionTemplate{Hash: hashHex(hash), Status: "rejected", Reason: reason}
}

// ErrorResponse is the body returned on any handler failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ChainTipChanged is broadcast over the indexer websocket feed every time
// the verifier's previous-checkpoint progress advances.
type ChainTipChanged struct {
	Height uint32 `json:"height"`
	Final  bool   `json:"final"`
}

func hashHex(h chain.Hash) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 0, len(h)*2)
	for _, b := range h {
		buf = append(buf, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(buf)
}
