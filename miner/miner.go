// Package miner assembles candidate blocks and searches for a
// proof-of-work nonce, structured after the teacher lineage's CpuAgent: a
// channel-driven goroutine that can be preempted mid-search (spec §4.3).
package miner

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/groundx/blocksim/ledger"
	"github.com/groundx/blocksim/log"
)

var logger = log.NewModuleLogger("miner")

// yieldEvery is how many nonce attempts the search loop makes before it
// checks the preemption flag and yields to the scheduler (spec §4.3: "at
// least every ~100 000 attempts").
const yieldEvery = 100000

// Candidate is everything CandidateFactory must supply for one mining
// attempt.
type Candidate struct {
	PreviousHash   string
	Index          uint64
	Difficulty     int
	Transactions   []ledger.Transaction
	MinerAddress   string
	BlockReward    float64
}

// CandidateFactory builds the next candidate block body. It is called
// once per mining round, immediately before the nonce search starts.
type CandidateFactory func() Candidate

// Sink is where a successfully mined block is delivered.
type Sink func(ledger.Block)

// Miner runs at most one mining goroutine at a time. Start begins (or
// restarts) a round; Preempt aborts the in-flight search without
// stopping the miner; Stop halts it entirely.
type Miner struct {
	mu       sync.Mutex
	running  int32
	quit     chan struct{}
	factory  CandidateFactory
	sink     Sink
	wg       sync.WaitGroup
}

// New returns a Miner that delivers mined blocks to sink.
func New(sink Sink) *Miner {
	return &Miner{sink: sink}
}

// Start begins a mining round using factory. If a round is already in
// flight it is preempted first.
func (m *Miner) Start(factory CandidateFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preemptLocked()
	m.factory = factory
	quit := make(chan struct{})
	m.quit = quit
	atomic.StoreInt32(&m.running, 1)
	m.wg.Add(1)
	go m.run(quit)
}

// Preempt aborts the in-flight search, if any, and clears the mining
// flag so a new round can be started; unlike Stop it does not wait for
// the search goroutine to exit. The node orchestrator calls this
// whenever a block arrives that extends the tip or wins a fork, so the
// stale candidate is discarded (spec §4.1, §4.6).
func (m *Miner) Preempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preemptLocked()
	atomic.StoreInt32(&m.running, 0)
}

func (m *Miner) preemptLocked() {
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
}

// Stop halts the miner and waits for its goroutine to exit.
func (m *Miner) Stop() {
	m.mu.Lock()
	m.preemptLocked()
	atomic.StoreInt32(&m.running, 0)
	m.mu.Unlock()
	m.wg.Wait()
}

// IsMining reports whether a round is currently in flight.
func (m *Miner) IsMining() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *Miner) run(quit chan struct{}) {
	defer m.wg.Done()
	cand := m.factory()

	var feeSum float64
	for _, t := range cand.Transactions {
		feeSum += t.Fee
	}
	coinbase := ledger.Transaction{
		Sender:    ledger.CoinbaseSender,
		Receiver:  cand.MinerAddress,
		Amount:    cand.BlockReward + feeSum,
		Fee:       0,
		Nonce:     0,
		Timestamp: time.Now().Unix(),
	}
	coinbase.TxID = ledger.ComputeTxID(coinbase)

	all := append([]ledger.Transaction{coinbase}, cand.Transactions...)
	b := ledger.Block{
		Index:        cand.Index,
		PreviousHash: cand.PreviousHash,
		Transactions: all,
		Timestamp:    time.Now().Unix(),
		Difficulty:   cand.Difficulty,
		MinerAddress: cand.MinerAddress,
	}
	b.MerkleRoot = ledger.MerkleRootOf(all)

	logger.Debugw("mining round started", "index", b.Index, "difficulty", b.Difficulty, "txs", len(all))

	var nonce uint64
	for {
		for i := 0; i < yieldEvery; i++ {
			b.Nonce = nonce
			b.Hash = ledger.ComputeBlockHash(b)
			if ledger.MeetsDifficulty(b.Hash, b.Difficulty) {
				atomic.StoreInt32(&m.running, 0)
				logger.Infow("mined block", "index", b.Index, "hash", b.Hash, "nonce", b.Nonce)
				m.sink(b)
				return
			}
			nonce++
		}
		// Cooperative yield point: check preemption, then hand control
		// back to the scheduler before resuming the search.
		select {
		case <-quit:
			logger.Debugw("mining round preempted", "index", b.Index)
			return
		default:
			runtime.Gosched()
		}
	}
}
