// Package mempool holds pending, not-yet-mined transactions, enforcing
// per-sender nonce ordering and deduplication (spec §4.2).
package mempool

import (
	"sort"
	"sync"

	"github.com/groundx/blocksim/ledger"
	"github.com/groundx/blocksim/log"
)

var logger = log.NewModuleLogger("mempool")

// RejectReason explains why Add refused a transaction.
type RejectReason string

const (
	RejectNone        RejectReason = ""
	RejectDuplicate   RejectReason = "duplicate"
	RejectBadSig      RejectReason = "bad_signature"
	RejectStaleNonce  RejectReason = "stale_nonce"
	RejectNonceClash  RejectReason = "nonce_clash"
)

// AccountView resolves a sender's current committed nonce, the same view
// the ledger exposes.
type AccountView interface {
	NonceOf(addr string) uint64
	CanApply(view map[string]ledger.Account, tx ledger.Transaction) error
}

// futureGap is how far ahead of the current nonce a transaction may sit
// before Take considers it "future" and ineligible (spec §4.2, §9).
const futureGap = 16

type entry struct {
	tx       ledger.Transaction
	arrival  int64
	isFuture bool
}

// Mempool is the node's local pending-transaction set, keyed by txid with
// a secondary per-sender index.
type Mempool struct {
	mu      sync.Mutex
	ledger  AccountView
	byTxID  map[string]*entry
	bySender map[string]map[string]*entry // sender -> txid -> entry
	clock   int64
}

// New returns an empty Mempool backed by ledger for nonce/signature
// validation.
func New(l AccountView) *Mempool {
	return &Mempool{
		ledger:   l,
		byTxID:   make(map[string]*entry),
		bySender: make(map[string]map[string]*entry),
	}
}

// Add validates and inserts tx. It rejects duplicates, transactions whose
// nonce is already stale, transactions whose signature fails to verify,
// and a second transaction from the same sender at the same nonce.
// Transactions with nonce far ahead of the account nonce are accepted but
// marked future: Take will not return them until the gap closes.
func (m *Mempool) Add(tx ledger.Transaction) (bool, RejectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byTxID[tx.TxID]; exists {
		return false, RejectDuplicate
	}
	accNonce := m.ledger.NonceOf(tx.Sender)
	if tx.Nonce < accNonce {
		return false, RejectStaleNonce
	}
	view := map[string]ledger.Account{tx.Sender: {Balance: 1 << 60, Nonce: accNonce}}
	if err := m.ledger.CanApply(view, tx); err == ledger.ErrBadSignature {
		return false, RejectBadSig
	}
	senderTxs := m.bySender[tx.Sender]
	if senderTxs != nil {
		for _, e := range senderTxs {
			if e.tx.Nonce == tx.Nonce {
				return false, RejectNonceClash
			}
		}
	}

	m.clock++
	e := &entry{tx: tx, arrival: m.clock, isFuture: tx.Nonce > accNonce+futureGap}
	m.byTxID[tx.TxID] = e
	if m.bySender[tx.Sender] == nil {
		m.bySender[tx.Sender] = make(map[string]*entry)
	}
	m.bySender[tx.Sender][tx.TxID] = e
	logger.Debugw("mempool add", "txid", tx.TxID, "sender", tx.Sender, "nonce", tx.Nonce, "future", e.isFuture)
	return true, RejectNone
}

// Remove drops a committed or permanently-invalid transaction.
func (m *Mempool) Remove(txid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(txid)
}

func (m *Mempool) removeLocked(txid string) {
	e, ok := m.byTxID[txid]
	if !ok {
		return
	}
	delete(m.byTxID, txid)
	if senderTxs := m.bySender[e.tx.Sender]; senderTxs != nil {
		delete(senderTxs, txid)
		if len(senderTxs) == 0 {
			delete(m.bySender, e.tx.Sender)
		}
	}
}

// Size returns the number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTxID)
}

// Senders returns the distinct sender addresses with at least one
// pending transaction.
func (m *Mempool) Senders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.bySender))
	for s := range m.bySender {
		out = append(out, s)
	}
	return out
}

// PendingBySender returns the transactions currently pending from addr.
func (m *Mempool) PendingBySender(addr string) []ledger.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	senderTxs := m.bySender[addr]
	out := make([]ledger.Transaction, 0, len(senderTxs))
	for _, e := range senderTxs {
		out = append(out, e.tx)
	}
	return out
}

// Take returns up to maxN currently-applicable transactions, ordered by
// sender nonce ascending, then fee descending, then arrival ascending. The
// supplied view is a virtual account snapshot: taking a transaction
// advances the per-sender nonce within view, so a second transaction from
// the same sender in the same round becomes eligible.
func (m *Mempool) Take(maxN int, view map[string]ledger.Account) []ledger.Transaction {
	m.mu.Lock()
	candidates := make([]*entry, 0, len(m.byTxID))
	for _, e := range m.byTxID {
		if !e.isFuture {
			candidates = append(candidates, e)
		}
	}
	m.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.tx.Nonce != b.tx.Nonce {
			return a.tx.Nonce < b.tx.Nonce
		}
		if a.tx.Fee != b.tx.Fee {
			return a.tx.Fee > b.tx.Fee
		}
		return a.arrival < b.arrival
	})

	localView := cloneView(view)
	out := make([]ledger.Transaction, 0, maxN)
	for _, e := range candidates {
		if len(out) >= maxN {
			break
		}
		acc := localView[e.tx.Sender]
		if e.tx.Nonce != acc.Nonce {
			continue
		}
		if acc.Balance < e.tx.Amount+e.tx.Fee {
			continue
		}
		acc.Balance -= e.tx.Amount + e.tx.Fee
		acc.Nonce++
		localView[e.tx.Sender] = acc
		out = append(out, e.tx)
	}
	return out
}

func cloneView(v map[string]ledger.Account) map[string]ledger.Account {
	out := make(map[string]ledger.Account, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Reapply re-inserts transactions displaced by a fork switch, silently
// dropping any that are no longer applicable (stale nonce or already
// committed under the new chain).
func (m *Mempool) Reapply(txs []ledger.Transaction) {
	for _, tx := range txs {
		accNonce := m.ledger.NonceOf(tx.Sender)
		if tx.Nonce < accNonce {
			continue
		}
		m.Add(tx)
	}
}

// PromoteFutures re-scans every pending transaction against its sender's
// current account nonce. It clears the future flag on any future-marked
// transaction whose nonce now sits within futureGap of the account nonce,
// and it drops any transaction whose nonce has fallen permanently stale
// (strictly below the account nonce): once a sender's other transaction
// at that nonce has committed, this one can never apply, the fate of the
// losing sibling in a double-spend (spec §3, §4.2). The node orchestrator
// calls this after every accepted block, since that's when account nonces
// advance.
func (m *Mempool) PromoteFutures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []string
	for _, e := range m.byTxID {
		accNonce := m.ledger.NonceOf(e.tx.Sender)
		if e.tx.Nonce < accNonce {
			stale = append(stale, e.tx.TxID)
			continue
		}
		if e.isFuture && e.tx.Nonce <= accNonce+futureGap {
			e.isFuture = false
		}
	}
	for _, txid := range stale {
		m.removeLocked(txid)
	}
}
