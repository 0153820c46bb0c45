package ledger

import "github.com/groundx/blocksim/common"

// CoinbaseSender is the reserved sender address of a coinbase transaction.
const CoinbaseSender = "COINBASE"

// Transaction is a single ledger entry: a value transfer from sender to
// receiver, optionally carrying a fee paid to whichever miner includes it.
type Transaction struct {
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    float64 `json:"amount"`
	Fee       float64 `json:"fee"`
	Nonce     uint64  `json:"nonce"`
	Timestamp int64   `json:"timestamp"`
	Signature string  `json:"signature"`
	TxID      string  `json:"txid"`
}

// txCanonical is the canonical serialization used to derive TxID: the
// JSON object {sender, receiver, amount, fee, nonce, timestamp}, in that
// exact key order, excluding signature (spec §3, §6).
type txCanonical struct {
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    float64 `json:"amount"`
	Fee       float64 `json:"fee"`
	Nonce     uint64  `json:"nonce"`
	Timestamp int64   `json:"timestamp"`
}

// ComputeTxID returns the hash of tx's canonical serialization.
func ComputeTxID(tx Transaction) string {
	c := txCanonical{
		Sender:    tx.Sender,
		Receiver:  tx.Receiver,
		Amount:    tx.Amount,
		Fee:       tx.Fee,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
	}
	return common.Sha256Hex(common.CanonicalJSON(c))
}

// IsCoinbase reports whether tx is a coinbase transaction.
func (tx Transaction) IsCoinbase() bool { return tx.Sender == CoinbaseSender }

// Block is one link of the chain.
type Block struct {
	Index        uint64        `json:"index"`
	PreviousHash string        `json:"previous_hash"`
	Transactions []Transaction `json:"transactions"`
	Timestamp    int64         `json:"timestamp"`
	Nonce        uint64        `json:"nonce"`
	Difficulty   int           `json:"difficulty"`
	MerkleRoot   string        `json:"merkle_root"`
	MinerAddress string        `json:"miner_address"`
	Hash         string        `json:"hash"`
}

// blockHeaderCanonical is the canonical header serialization used to
// derive Hash: {index, previous_hash, merkle_root, timestamp, nonce,
// difficulty, miner_address}, in that exact key order (spec §6).
type blockHeaderCanonical struct {
	Index        uint64 `json:"index"`
	PreviousHash string `json:"previous_hash"`
	MerkleRoot   string `json:"merkle_root"`
	Timestamp    int64  `json:"timestamp"`
	Nonce        uint64 `json:"nonce"`
	Difficulty   int    `json:"difficulty"`
	MinerAddress string `json:"miner_address"`
}

// ComputeBlockHash returns the hash of b's canonical header serialization.
func ComputeBlockHash(b Block) string {
	c := blockHeaderCanonical{
		Index:        b.Index,
		PreviousHash: b.PreviousHash,
		MerkleRoot:   b.MerkleRoot,
		Timestamp:    b.Timestamp,
		Nonce:        b.Nonce,
		Difficulty:   b.Difficulty,
		MinerAddress: b.MinerAddress,
	}
	return common.Sha256Hex(common.CanonicalJSON(c))
}

// MeetsDifficulty reports whether hash begins with difficulty hex zero
// nibbles.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}

// GenesisBlock returns the fixed genesis block: index 0, all-zero previous
// hash, no transactions, a fixed timestamp so every node derives the same
// hash.
func GenesisBlock() Block {
	b := Block{
		Index:        0,
		PreviousHash: common.ZeroHash,
		Transactions: nil,
		Timestamp:    0,
		Nonce:        0,
		Difficulty:   0,
		MinerAddress: "",
	}
	b.MerkleRoot = MerkleRootOf(b.Transactions)
	b.Hash = ComputeBlockHash(b)
	return b
}
