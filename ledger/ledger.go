// Package ledger stores the canonical chain, replays transactions to
// derive balances/nonces, validates incoming blocks, and resolves forks
// by the longest-chain rule (spec §4.1).
package ledger

import (
	"sync"

	"github.com/groundx/blocksim/log"
	"github.com/pkg/errors"
)

var logger = log.NewModuleLogger("ledger")

// Account is the derived balance/nonce state for one address.
type Account struct {
	Balance float64
	Nonce   uint64
}

// Config holds the economic constants the ledger needs to validate
// coinbase payouts.
type Config struct {
	BlockReward float64
	KeyStore    KeyStore
}

// Ledger owns the canonical chain and the account state derived from it.
// Every mutation runs to completion without interleaving (spec §5): it is
// the orchestrator's job to only ever call into one Ledger from its own
// single-threaded scheduler.
type Ledger struct {
	mu       sync.Mutex
	cfg      Config
	chain    []Block
	accounts map[string]Account
}

// New returns a Ledger seeded with the genesis block.
func New(cfg Config) *Ledger {
	l := &Ledger{cfg: cfg, accounts: make(map[string]Account)}
	l.chain = []Block{GenesisBlock()}
	return l
}

// Height returns the index of the tip block.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain[len(l.chain)-1].Index
}

// Tip returns the current highest-index block.
func (l *Ledger) Tip() Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain[len(l.chain)-1]
}

// Len returns the number of blocks in the chain, including genesis.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chain)
}

// BalanceOf returns addr's current balance.
func (l *Ledger) BalanceOf(addr string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[addr].Balance
}

// NonceOf returns addr's current account nonce (number of transactions
// already committed from addr).
func (l *Ledger) NonceOf(addr string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[addr].Nonce
}

// BlockAt returns the block at the given index, if present.
func (l *Ledger) BlockAt(index uint64) (Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index >= uint64(len(l.chain)) {
		return Block{}, false
	}
	return l.chain[index], true
}

// RecentBlocks returns up to n of the most recent blocks, tip last.
func (l *Ledger) RecentBlocks(n int) []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.chain) {
		n = len(l.chain)
	}
	out := make([]Block, n)
	copy(out, l.chain[len(l.chain)-n:])
	return out
}

// ChainFrom returns a copy of the chain starting at fromIndex (inclusive),
// used to answer GET_CHAIN.
func (l *Ledger) ChainFrom(fromIndex uint64) []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fromIndex >= uint64(len(l.chain)) {
		return nil
	}
	out := make([]Block, len(l.chain)-int(fromIndex))
	copy(out, l.chain[fromIndex:])
	return out
}

// CanApply reports whether tx is individually applicable against view:
// sender balance >= amount+fee, nonce strictly equals the sender's
// account nonce in view, and the signature verifies.
func (l *Ledger) CanApply(view map[string]Account, tx Transaction) error {
	if tx.IsCoinbase() {
		return nil
	}
	key, ok := l.keyFor(tx.Sender)
	if !ok || !VerifySignature(tx.TxID, tx.Signature, key) {
		return ErrBadSignature
	}
	acc := view[tx.Sender]
	if tx.Nonce != acc.Nonce {
		return ErrBadNonce
	}
	if acc.Balance < tx.Amount+tx.Fee {
		return ErrInsufficientBalance
	}
	return nil
}

func (l *Ledger) keyFor(addr string) ([]byte, bool) {
	if l.cfg.KeyStore == nil {
		return nil, false
	}
	return l.cfg.KeyStore.KeyFor(addr)
}

// applyLocked applies tx to view in place. Caller must have already
// validated it with CanApply.
func applyLocked(view map[string]Account, tx Transaction) {
	if tx.IsCoinbase() {
		recv := view[tx.Receiver]
		recv.Balance += tx.Amount
		view[tx.Receiver] = recv
		return
	}
	sender := view[tx.Sender]
	sender.Balance -= tx.Amount + tx.Fee
	sender.Nonce++
	view[tx.Sender] = sender

	recv := view[tx.Receiver]
	recv.Balance += tx.Amount
	view[tx.Receiver] = recv
}

// validateBlockAgainst validates b's header and transactions against the
// given predecessor block and scratch account view, applying accepted
// transactions to view in place. It does not touch Ledger state.
func (l *Ledger) validateBlockAgainst(prev Block, b Block, view map[string]Account) error {
	if b.Index != prev.Index+1 {
		return ErrHeightMismatch
	}
	if b.PreviousHash != prev.Hash {
		return ErrParentMismatch
	}
	if !MeetsDifficulty(b.Hash, b.Difficulty) {
		return ErrBadPoW
	}
	if ComputeBlockHash(b) != b.Hash {
		return ErrBadPoW
	}
	if MerkleRootOf(b.Transactions) != b.MerkleRoot {
		return ErrBadMerkle
	}

	if b.Index == 0 {
		if len(b.Transactions) != 0 {
			return ErrBadCoinbase
		}
		return nil
	}

	if len(b.Transactions) == 0 || !b.Transactions[0].IsCoinbase() {
		return ErrBadCoinbase
	}
	var feeSum float64
	for _, tx := range b.Transactions[1:] {
		if tx.IsCoinbase() {
			return ErrBadCoinbase
		}
		if err := l.CanApply(view, tx); err != nil {
			return err
		}
		feeSum += tx.Fee
	}
	coinbase := b.Transactions[0]
	if coinbase.Receiver != b.MinerAddress {
		return ErrBadCoinbase
	}
	if coinbase.Nonce != 0 || coinbase.Fee != 0 || coinbase.Signature != "" {
		return ErrBadCoinbase
	}
	wantReward := l.cfg.BlockReward + feeSum
	if coinbase.Amount != wantReward {
		return ErrBadCoinbase
	}

	applyLocked(view, coinbase)
	for _, tx := range b.Transactions[1:] {
		applyLocked(view, tx)
	}
	return nil
}

// Append accepts b onto the current tip, per the acceptance rules of
// spec §4.1. On success it returns the non-coinbase transactions that
// were committed, so the caller can remove them from its mempool.
func (l *Ledger) Append(b Block) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.chain[len(l.chain)-1]
	view := cloneAccounts(l.accounts)
	if err := l.validateBlockAgainst(prev, b, view); err != nil {
		logger.Warnw("rejected block", "index", b.Index, "reason", err)
		return nil, errors.Wrapf(err, "append block %d", b.Index)
	}
	l.chain = append(l.chain, b)
	l.accounts = view
	logger.Infow("appended block", "index", b.Index, "hash", b.Hash, "txs", len(b.Transactions))

	if b.Index == 0 {
		return nil, nil
	}
	return append([]Transaction(nil), b.Transactions[1:]...), nil
}

// ValidateChain replays candidate end-to-end from its own genesis on a
// scratch account view, returning the resulting account state on success.
func ValidateChain(cfg Config, candidate []Block) (map[string]Account, error) {
	if len(candidate) == 0 || candidate[0].Index != 0 {
		return nil, ErrGenesisMismatch
	}
	want := GenesisBlock()
	if candidate[0].Hash != want.Hash {
		return nil, ErrGenesisMismatch
	}
	l := &Ledger{cfg: cfg}
	view := map[string]Account{}
	for i := 1; i < len(candidate); i++ {
		if err := l.validateBlockAgainst(candidate[i-1], candidate[i], view); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// ReplaceChain accepts candidate only if it is strictly longer than the
// current chain, shares genesis, and validates end-to-end. On success it
// returns the transactions newly committed by candidate (to drop from the
// mempool) and the non-coinbase transactions that were committed by the
// discarded suffix of the old chain (to return to the mempool).
func (l *Ledger) ReplaceChain(candidate []Block) (committed, reverted []Transaction, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(candidate) <= len(l.chain) {
		return nil, nil, ErrNotLonger
	}
	view, verr := ValidateChain(l.cfg, candidate)
	if verr != nil {
		logger.Warnw("rejected candidate chain", "len", len(candidate), "reason", verr)
		return nil, nil, verr
	}

	oldChain := l.chain
	l.chain = append([]Block(nil), candidate...)
	l.accounts = view
	logger.Infow("replaced chain", "old_height", oldChain[len(oldChain)-1].Index, "new_height", l.chain[len(l.chain)-1].Index)

	commonLen := commonPrefixLen(oldChain, candidate)
	for _, b := range oldChain[commonLen:] {
		for _, tx := range b.Transactions {
			if !tx.IsCoinbase() {
				reverted = append(reverted, tx)
			}
		}
	}
	for _, b := range candidate[commonLen:] {
		for _, tx := range b.Transactions {
			if !tx.IsCoinbase() {
				committed = append(committed, tx)
			}
		}
	}
	return committed, reverted, nil
}

func commonPrefixLen(a, b []Block) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i].Hash == b[i].Hash {
		i++
	}
	return i
}

func cloneAccounts(a map[string]Account) map[string]Account {
	out := make(map[string]Account, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
