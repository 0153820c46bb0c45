// Package merkle builds the Merkle root over an ordered transaction list
// and produces/verifies inclusion proofs, the classic Bitcoin pairwise
// hash-tree construction (duplicate the last node on an odd level),
// named after the pack's one concrete reference for this algorithm
// (a btcsuite-style BuildMerkleTreeStore).
package merkle

import "github.com/groundx/blocksim/common"

// Side indicates which side of the current hash a sibling sits on when
// recombining during proof verification.
type Side int

const (
	Left Side = iota
	Right
)

// ProofStep is one sibling hash plus the side it sits on.
type ProofStep struct {
	Sibling string
	Side    Side
}

// LeafHasher produces the leaf hash for item i of the original input. The
// ledger supplies this as the hash of a transaction's canonical
// serialization; tests may supply arbitrary leaf hashers.
type LeafHasher func(i int) string

// Root computes the Merkle root over n leaves, given a function that
// returns the leaf hash for any index. If n is zero, it returns the hash
// of the empty string per spec.
func Root(n int, leaf LeafHasher) string {
	if n == 0 {
		return common.Sha256Hex(nil)
	}
	level := make([]string, n)
	for i := 0; i < n; i++ {
		level[i] = leaf(i)
	}
	return reduce(level)
}

func reduce(level []string) string {
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, len(level)/2)
		for i := 0; i < len(next); i++ {
			next[i] = common.Sha256Hex([]byte(level[2*i] + level[2*i+1]))
		}
		level = next
	}
	return level[0]
}

// Proof returns the ordered inclusion proof for leaf i among n leaves.
func Proof(n int, leaf LeafHasher, i int) []ProofStep {
	if n == 0 || i < 0 || i >= n {
		return nil
	}
	level := make([]string, n)
	for j := 0; j < n; j++ {
		level[j] = leaf(j)
	}
	var proof []ProofStep
	idx := i
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		var sibIdx int
		var side Side
		if idx%2 == 0 {
			sibIdx = idx + 1
			side = Right
		} else {
			sibIdx = idx - 1
			side = Left
		}
		proof = append(proof, ProofStep{Sibling: level[sibIdx], Side: side})

		next := make([]string, len(level)/2)
		for j := 0; j < len(next); j++ {
			next[j] = common.Sha256Hex([]byte(level[2*j] + level[2*j+1]))
		}
		level = next
		idx /= 2
	}
	return proof
}

// Verify recombines leafHash with proof and checks the result against
// expectedRoot.
func Verify(leafHash string, proof []ProofStep, expectedRoot string) bool {
	h := leafHash
	for _, step := range proof {
		switch step.Side {
		case Left:
			h = common.Sha256Hex([]byte(step.Sibling + h))
		case Right:
			h = common.Sha256Hex([]byte(h + step.Sibling))
		}
	}
	return h == expectedRoot
}
