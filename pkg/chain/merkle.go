package chain

import "crypto/sha256"

// ComputeMerkleRoot computes the Merkle root of a list of transaction
// hashes using a simple binary tree, duplicating the last node on odd
// levels. Adapted from the teacher's consensus merkle helper; used by
// Block.Finalize as the pure "transaction hashing" collaborator spec.md
// §1 assumes is available to (but not implemented by) the verifier.
func ComputeMerkleRoot(hashes []Hash) Hash {
	if len(hashes) == 0 {
		return Hash{}
	}
	if len(hashes) == 1 {
		return hashes[0]
	}

	level := make([]Hash, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		var next []Hash
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}

func hashPair(a, b Hash) Hash {
	var combined [64]byte
	copy(combined[:32], a[:])
	copy(combined[32:], b[:])
	return sha256.Sum256(combined[:])
}

// VerifyMerkleProof reports whether leaf, combined with proof along index's
// path, reduces to root.
func VerifyMerkleProof(leaf Hash, proof []Hash, root Hash, index int) bool {
	current := leaf
	for i, sibling := range proof {
		if (index>>i)&1 == 0 {
			current = hashPair(current, sibling)
		} else {
			current = hashPair(sibling, current)
		}
	}
	return current == root
}
