package node

// Status is a read-only snapshot of a node's state, the shape the status
// endpoint and CLI banner print (spec §4.6, §5).
type Status struct {
	NodeID      string   `json:"node_id"`
	State       string   `json:"state"`
	Height      uint64   `json:"height"`
	TipHash     string   `json:"tip_hash"`
	Balance     float64  `json:"balance_of_self"`
	MempoolSize int      `json:"mempool_size"`
	PeerIDs     []string `json:"peer_ids"`
	IsMining    bool     `json:"is_mining"`
}

// Status returns a snapshot of the node's current state.
func (n *Node) Status() Status {
	tip := n.ledger.Tip()
	peers := n.transport.Peers()
	if peers == nil {
		peers = []string{}
	}
	return Status{
		NodeID:      n.cfg.PeerID,
		State:       n.currentState().String(),
		Height:      n.ledger.Height(),
		TipHash:     tip.Hash,
		Balance:     n.ledger.BalanceOf(n.cfg.MinerAddress),
		MempoolSize: n.mempool.Size(),
		PeerIDs:     peers,
		IsMining:    n.miner.IsMining(),
	}
}

// RecentBlocks returns up to n of the most recently committed blocks, tip
// last.
func (n *Node) RecentBlocks(count int) []map[string]interface{} {
	blocks := n.ledger.RecentBlocks(count)
	out := make([]map[string]interface{}, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, map[string]interface{}{
			"index":         b.Index,
			"hash":          b.Hash,
			"previous_hash": b.PreviousHash,
			"miner_address": b.MinerAddress,
			"tx_count":      len(b.Transactions),
			"timestamp":     b.Timestamp,
		})
	}
	return out
}
