// Package node owns a node's lifecycle, routes inbound gossip messages to
// the ledger/mempool/miner, triggers chain resynchronization on startup
// and on taller-tip discovery, and publishes a read-only status snapshot
// (spec §4.6).
package node

import (
	"sync"
	"time"

	"github.com/groundx/blocksim/gossip"
	"github.com/groundx/blocksim/ledger"
	"github.com/groundx/blocksim/log"
	"github.com/groundx/blocksim/mempool"
	"github.com/groundx/blocksim/miner"
	"github.com/pkg/errors"
)

var logger = log.NewModuleLogger("node")

// State is the node's lifecycle state (spec §4.6).
type State int

const (
	Down State = iota
	Starting
	Up
	Stopping
)

func (s State) String() string {
	switch s {
	case Down:
		return "DOWN"
	case Starting:
		return "STARTING"
	case Up:
		return "UP"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// ErrAlreadyRunning and ErrNotRunning are orchestrator errors: attempting
// a lifecycle transition that doesn't apply from the current state (spec
// §7, "observable as a failure return without side effects").
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
)

// PeerAddr is a dialable peer address, known to the orchestrator so
// Restart can redial it (spec §4.6).
type PeerAddr struct {
	Host string
	Port int
}

// Config configures one node. MinerAddress is the coinbase recipient
// when this node mines; it need not equal PeerID.
type Config struct {
	PeerID           string
	ListenPort       int
	MinerAddress     string
	Difficulty       int
	BlockReward      float64
	KeyStore         ledger.KeyStore
	KnownPeers       []PeerAddr
	AutoMine         bool
	MaxTxsPerBlock   int
	ChainSyncTimeout time.Duration
	OrphanBufferSize int
}

const defaultMaxTxsPerBlock = 500
const defaultChainSyncTimeout = 5 * time.Second

// Node is one participant in the simulated network.
type Node struct {
	cfg Config

	mu    sync.Mutex
	state State

	ledger    *ledger.Ledger
	mempool   *mempool.Mempool
	miner     *miner.Miner
	transport *gossip.Transport
	orphans   *orphanBuffer

	knownPeers []PeerAddr
}

// New constructs a node in the DOWN state. The ledger and mempool are
// created here and survive crash/restart for the lifetime of the
// process, per spec §4.6.
func New(cfg Config) *Node {
	if cfg.MaxTxsPerBlock <= 0 {
		cfg.MaxTxsPerBlock = defaultMaxTxsPerBlock
	}
	if cfg.ChainSyncTimeout <= 0 {
		cfg.ChainSyncTimeout = defaultChainSyncTimeout
	}
	n := &Node{
		cfg:        cfg,
		state:      Down,
		ledger:     ledger.New(ledger.Config{BlockReward: cfg.BlockReward, KeyStore: cfg.KeyStore}),
		orphans:    newOrphanBuffer(cfg.OrphanBufferSize),
		knownPeers: append([]PeerAddr(nil), cfg.KnownPeers...),
	}
	n.mempool = mempool.New(n.ledger)
	n.miner = miner.New(n.onBlockMined)
	n.transport = gossip.New(cfg.PeerID, cfg.ListenPort, n)
	return n
}

// Start transitions DOWN -> STARTING -> UP: opens the listener, dials
// every known peer, and (via OnHello) issues GET_CHAIN to each as it
// connects.
func (n *Node) Start() error {
	n.mu.Lock()
	if n.state != Down {
		n.mu.Unlock()
		return ErrAlreadyRunning
	}
	n.state = Starting
	n.mu.Unlock()

	if err := n.transport.Listen(); err != nil {
		n.mu.Lock()
		n.state = Down
		n.mu.Unlock()
		return err
	}

	n.mu.Lock()
	peers := append([]PeerAddr(nil), n.knownPeers...)
	n.state = Up
	n.mu.Unlock()

	for _, p := range peers {
		go n.dialPeer(p)
	}
	n.maybeStartMining()
	logger.Infow("node started", "peer_id", n.cfg.PeerID, "port", n.cfg.ListenPort)
	return nil
}

func (n *Node) dialPeer(p PeerAddr) {
	if err := n.transport.Dial(p.Host, p.Port); err != nil {
		logger.Warnw("dial failed", "host", p.Host, "port", p.Port, "err", err)
	}
}

// Stop transitions UP -> STOPPING -> DOWN: signals the miner to preempt
// and awaits its exit, then tears down the transport.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.state != Up {
		n.mu.Unlock()
		return ErrNotRunning
	}
	n.state = Stopping
	n.mu.Unlock()

	n.miner.Stop()
	n.transport.Close()

	n.mu.Lock()
	n.state = Down
	n.mu.Unlock()
	logger.Infow("node stopped", "peer_id", n.cfg.PeerID)
	return nil
}

// Crash is immediate cancellation: sockets closed, miner halted, no
// graceful drain, but the ledger and mempool are preserved in memory
// (spec §4.6, §5).
func (n *Node) Crash() error {
	n.mu.Lock()
	if n.state != Up {
		n.mu.Unlock()
		return ErrNotRunning
	}
	n.state = Down
	n.mu.Unlock()

	n.miner.Stop()
	n.transport.Close()
	logger.Warnw("node crashed", "peer_id", n.cfg.PeerID)
	return nil
}

// Restart re-enters STARTING, reopens the listener, redials previously
// known peers, and (via OnHello) immediately issues GET_CHAIN to each.
func (n *Node) Restart() error {
	n.mu.Lock()
	if n.state != Down {
		n.mu.Unlock()
		return ErrAlreadyRunning
	}
	n.mu.Unlock()
	logger.Infow("node restarting", "peer_id", n.cfg.PeerID)
	return n.Start()
}

func (n *Node) currentState() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}
