package ledger

import (
	"github.com/groundx/blocksim/common"
	"github.com/groundx/blocksim/merkle"
)

// txLeafHash is the leaf hash merkle.Root/Proof use for a transaction: the
// hash of its canonical serialization (spec §4.4).
func txLeafHash(tx Transaction) string {
	return common.Sha256Hex(common.CanonicalJSON(txCanonical{
		Sender:    tx.Sender,
		Receiver:  tx.Receiver,
		Amount:    tx.Amount,
		Fee:       tx.Fee,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
	}))
}

// MerkleRootOf computes the Merkle root over txs.
func MerkleRootOf(txs []Transaction) string {
	return merkle.Root(len(txs), func(i int) string { return txLeafHash(txs[i]) })
}

// MerkleProofOf returns the inclusion proof for txs[i].
func MerkleProofOf(txs []Transaction, i int) []merkle.ProofStep {
	return merkle.Proof(len(txs), func(j int) string { return txLeafHash(txs[j]) }, i)
}
