package gossip

import "github.com/groundx/blocksim/ledger"

// Kind identifies a gossip message's payload shape (spec §4.5).
type Kind string

const (
	KindHello          Kind = "HELLO"
	KindNewTx          Kind = "NEW_TX"
	KindNewBlock       Kind = "NEW_BLOCK"
	KindGetChain       Kind = "GET_CHAIN"
	KindChainResponse  Kind = "CHAIN_RESPONSE"
)

// Frame is the wire envelope: a 4-byte big-endian length prefix (handled
// by codec.go) followed by this JSON object.
type Frame struct {
	Kind     Kind   `json:"kind"`
	Payload  []byte `json:"payload"` // raw JSON of the kind-specific payload
	OriginID string `json:"origin_id"`
}

// HelloPayload announces a node's identity and listen port. Exchanged
// immediately on connect; never broadcast.
type HelloPayload struct {
	PeerID     string `json:"peer_id"`
	ListenPort int    `json:"listen_port"`
}

// NewTxPayload carries one pending transaction.
type NewTxPayload struct {
	Tx ledger.Transaction `json:"tx"`
}

// NewBlockPayload carries one mined or relayed block.
type NewBlockPayload struct {
	Block ledger.Block `json:"block"`
}

// GetChainPayload requests blocks starting at FromIndex.
type GetChainPayload struct {
	FromIndex uint64 `json:"from_index"`
}

// ChainResponsePayload answers a GET_CHAIN.
type ChainResponsePayload struct {
	Blocks []ledger.Block `json:"blocks"`
}
