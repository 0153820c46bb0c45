package node

import (
	"github.com/groundx/blocksim/gossip"
	"github.com/groundx/blocksim/ledger"
)

// OnHello immediately issues a chain-sync request to the newly connected
// peer, covering both the "sync on startup" and the "restart redials and
// immediately issues GET_CHAIN" requirements of spec §4.6: both paths
// connect through Dial/accept and land here.
func (n *Node) OnHello(peer *gossip.Peer, payload gossip.HelloPayload) {
	height := n.ledger.Height()
	n.transport.SendTo(peer.PeerID, gossip.KindGetChain, gossip.EncodeGetChain(height))
}

// OnNewTx implements spec §4.6's NEW_TX arrival rule: add to the mempool,
// rebroadcast on accept, discard silently on reject.
func (n *Node) OnNewTx(fromPeerID string, tx ledger.Transaction) bool {
	wasEmpty := n.mempool.Size() == 0
	ok, reason := n.mempool.Add(tx)
	if !ok {
		logger.Debugw("rejected tx", "txid", tx.TxID, "reason", reason)
		return false
	}
	if wasEmpty {
		n.maybeStartMining()
	}
	return true
}

// OnNewBlock implements the three cases of spec §4.6's NEW_BLOCK arrival
// rule.
func (n *Node) OnNewBlock(fromPeerID string, block ledger.Block) bool {
	height := n.ledger.Height()

	switch {
	case block.Index == height+1 && block.PreviousHash == n.ledger.Tip().Hash:
		return n.tryAppend(block)

	case block.Index > height+1:
		n.orphans.add(block)
		n.transport.SendTo(fromPeerID, gossip.KindGetChain, gossip.EncodeGetChain(height))
		return false

	default: // block.Index <= height: only a GET_CHAIN round can tell if it wins a fork.
		n.transport.SendTo(fromPeerID, gossip.KindGetChain, gossip.EncodeGetChain(height))
		return false
	}
}

// tryAppend appends block directly onto the tip, reconciles the mempool,
// preempts the miner, attempts to reattach any buffered orphan whose
// parent is this block, and reports whether the block should be
// rebroadcast.
func (n *Node) tryAppend(block ledger.Block) bool {
	committed, err := n.ledger.Append(block)
	if err != nil {
		return false
	}
	for _, tx := range committed {
		n.mempool.Remove(tx.TxID)
	}
	n.mempool.PromoteFutures()
	n.miner.Preempt()
	n.reattachOrphans(block.Hash)
	n.maybeStartMining()
	return true
}

// reattachOrphans tries to re-append any orphan whose previous_hash is
// parentHash, recursively, since reattaching one orphan may unblock the
// next (spec §3 Orphan buffer).
func (n *Node) reattachOrphans(parentHash string) {
	for {
		b, ok := n.orphans.takeChildOf(parentHash)
		if !ok {
			return
		}
		if _, err := n.ledger.Append(b); err != nil {
			continue
		}
		n.mempool.PromoteFutures()
		n.miner.Preempt()
		parentHash = b.Hash
	}
}

// OnGetChain answers with every block this node has from fromIndex on.
func (n *Node) OnGetChain(fromPeerID string, fromIndex uint64) {
	blocks := n.ledger.ChainFrom(fromIndex)
	n.transport.SendTo(fromPeerID, gossip.KindChainResponse, gossip.EncodeChainResponse(blocks))
}

// OnChainResponse applies a chain-sync reply via ledger.ReplaceChain when
// it extends or replaces the local chain; responses that do neither are
// discarded (spec §4.6). Extension and replacement share one code path
// here because both require full end-to-end validation of untrusted
// remote blocks, which is exactly what ReplaceChain already does.
func (n *Node) OnChainResponse(fromPeerID string, blocks []ledger.Block) {
	if len(blocks) == 0 {
		return
	}
	prefix := n.ledger.ChainFrom(0)
	if blocks[0].Index > uint64(len(prefix)) {
		return // gap: we don't have a contiguous prefix to attach these to
	}
	candidate := append(append([]ledger.Block(nil), prefix[:int(blocks[0].Index)]...), blocks...)

	committed, reverted, err := n.ledger.ReplaceChain(candidate)
	if err != nil {
		return // not longer, or failed validation: discard
	}
	for _, tx := range committed {
		n.mempool.Remove(tx.TxID)
	}
	n.mempool.Reapply(reverted)
	n.mempool.PromoteFutures()
	n.miner.Preempt()
	n.maybeStartMining()
}
