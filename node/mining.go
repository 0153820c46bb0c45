package node

import (
	"github.com/groundx/blocksim/gossip"
	"github.com/groundx/blocksim/ledger"
	"github.com/groundx/blocksim/miner"
)

// maybeStartMining starts a mining round when auto-mining is enabled,
// no round is currently in flight, and the mempool has at least one
// pending transaction (spec §4.6: "whenever the mempool transitions from
// empty to non-empty or whenever a block is appended and transactions
// remain").
func (n *Node) maybeStartMining() {
	if !n.cfg.AutoMine {
		return
	}
	if n.currentState() != Up {
		return
	}
	if n.miner.IsMining() {
		return
	}
	if n.mempool.Size() == 0 {
		return
	}
	n.miner.Start(n.buildCandidate)
}

// buildCandidate assembles the next candidate block body: the current
// tip, and the highest-value applicable slice of the mempool (spec
// §4.3's candidate_factory).
func (n *Node) buildCandidate() miner.Candidate {
	tip := n.ledger.Tip()
	view := map[string]ledger.Account{}
	for _, addr := range n.mempool.Senders() {
		view[addr] = ledger.Account{Balance: n.ledger.BalanceOf(addr), Nonce: n.ledger.NonceOf(addr)}
	}
	txs := n.mempool.Take(n.cfg.MaxTxsPerBlock, view)
	return miner.Candidate{
		PreviousHash: tip.Hash,
		Index:        tip.Index + 1,
		Difficulty:   n.cfg.Difficulty,
		Transactions: txs,
		MinerAddress: n.cfg.MinerAddress,
		BlockReward:  n.cfg.BlockReward,
	}
}

// onBlockMined is the miner's Sink: append the freshly mined block to our
// own ledger, remove its transactions from the mempool, and broadcast it.
func (n *Node) onBlockMined(b ledger.Block) {
	committed, err := n.ledger.Append(b)
	if err != nil {
		logger.Warnw("own mined block rejected", "index", b.Index, "err", err)
		return
	}
	for _, tx := range committed {
		n.mempool.Remove(tx.TxID)
	}
	n.mempool.PromoteFutures()
	n.transport.Broadcast(gossip.KindNewBlock, gossip.EncodeNewBlock(b))
	logger.Infow("broadcast mined block", "index", b.Index, "hash", b.Hash)
	n.maybeStartMining()
}
