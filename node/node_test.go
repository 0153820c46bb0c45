package node

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/groundx/blocksim/ledger"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testKeys() ledger.MapKeyStore {
	return ledger.MapKeyStore{
		"alice": []byte("alice-key"),
		"bob":   []byte("bob-key"),
	}
}

func newTestNode(t *testing.T, id string, peers ...PeerAddr) *Node {
	cfg := Config{
		PeerID:       id,
		ListenPort:   freePort(t),
		MinerAddress: id,
		Difficulty:   1,
		BlockReward:  50,
		KeyStore:     testKeys(),
		KnownPeers:   peers,
		AutoMine:     true,
	}
	n := New(cfg)
	require.NoError(t, n.Start())
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestLifecycleTransitions(t *testing.T) {
	n := New(Config{PeerID: "a", ListenPort: 0, Difficulty: 1, KeyStore: testKeys()})
	require.Equal(t, Down, n.currentState())
	require.ErrorIs(t, n.Stop(), ErrNotRunning)

	n.cfg.ListenPort = freePort(t)
	require.NoError(t, n.Start())
	require.Equal(t, Up, n.currentState())
	require.ErrorIs(t, n.Start(), ErrAlreadyRunning)

	require.NoError(t, n.Stop())
	require.Equal(t, Down, n.currentState())

	require.NoError(t, n.Restart())
	require.Equal(t, Up, n.currentState())
	require.NoError(t, n.Crash())
	require.Equal(t, Down, n.currentState())
}

func TestTwoNodesSyncAndMine(t *testing.T) {
	a := newTestNode(t, "a")
	defer a.Stop()

	aAddr := PeerAddr{Host: "127.0.0.1", Port: a.cfg.ListenPort}
	b := newTestNode(t, "b", aAddr)
	defer b.Stop()

	// Auto-mining starts only once the mempool holds a transaction. A
	// zero-amount, zero-fee transfer is applicable even from an unfunded
	// account, so it commits in a's first block and mining then stops.
	tx := ledger.Transaction{Sender: "alice", Receiver: "bob", Amount: 0, Nonce: 0, Timestamp: 1}
	tx.TxID = ledger.ComputeTxID(tx)
	tx.Signature = ledger.Signer{Address: "alice", Key: []byte("alice-key")}.Sign(tx.TxID)
	require.True(t, a.OnNewTx("local-submit", tx))

	waitFor(t, 5*time.Second, func() bool {
		return a.ledger.Height() >= 1 && b.ledger.Height() >= 1
	})

	waitFor(t, 5*time.Second, func() bool {
		return len(a.transport.Peers()) == 1 && len(b.transport.Peers()) == 1
	})

	waitFor(t, 10*time.Second, func() bool {
		return a.ledger.Tip().Hash == b.ledger.Tip().Hash && a.ledger.Height() == b.ledger.Height()
	})
}

func TestOnNewTxAcceptsAndRejects(t *testing.T) {
	n := New(Config{PeerID: "a", ListenPort: freePort(t), Difficulty: 1, KeyStore: testKeys(), BlockReward: 50})
	require.NoError(t, n.Start())
	defer n.Stop()

	tx := ledger.Transaction{Sender: "alice", Receiver: "bob", Amount: 1, Nonce: 0, Timestamp: 1}
	tx.TxID = ledger.ComputeTxID(tx)
	tx.Signature = ledger.Signer{Address: "alice", Key: []byte("alice-key")}.Sign(tx.TxID)

	require.True(t, n.OnNewTx("peerX", tx))
	require.False(t, n.OnNewTx("peerX", tx)) // duplicate

	bad := tx
	bad.Nonce = 99
	bad.TxID = ledger.ComputeTxID(bad)
	bad.Signature = ledger.Signer{Address: "alice", Key: []byte("wrong-key")}.Sign(bad.TxID)
	require.False(t, n.OnNewTx("peerX", bad))
}

func TestOnNewBlockOutOfOrderBuffersOrphan(t *testing.T) {
	n := New(Config{PeerID: "a", ListenPort: freePort(t), Difficulty: 1, KeyStore: testKeys(), BlockReward: 50})
	require.NoError(t, n.Start())
	defer n.Stop()

	genesis := n.ledger.Tip()
	b1 := mineTestBlock(genesis, 1, nil, "alice", 50)
	b2 := mineTestBlock(b1, 1, nil, "bob", 50)

	require.False(t, n.OnNewBlock("peerX", b2))
	require.Equal(t, 1, n.orphans.Len())

	require.True(t, n.OnNewBlock("peerX", b1))
	waitFor(t, time.Second, func() bool { return n.ledger.Height() == 2 })
	require.Equal(t, 0, n.orphans.Len())
}

func mineTestBlock(prev ledger.Block, difficulty int, txs []ledger.Transaction, miner string, reward float64) ledger.Block {
	var feeSum float64
	for _, tx := range txs {
		feeSum += tx.Fee
	}
	coinbase := ledger.Transaction{Sender: ledger.CoinbaseSender, Receiver: miner, Amount: reward + feeSum, Nonce: 0, Fee: 0, Timestamp: 1}
	coinbase.TxID = ledger.ComputeTxID(coinbase)
	all := append([]ledger.Transaction{coinbase}, txs...)

	b := ledger.Block{
		Index:        prev.Index + 1,
		PreviousHash: prev.Hash,
		Transactions: all,
		Timestamp:    1,
		Difficulty:   difficulty,
		MinerAddress: miner,
	}
	b.MerkleRoot = ledger.MerkleRootOf(all)
	for nonce := uint64(0); ; nonce++ {
		b.Nonce = nonce
		b.Hash = ledger.ComputeBlockHash(b)
		if ledger.MeetsDifficulty(b.Hash, difficulty) {
			return b
		}
	}
}

func TestStatusSnapshot(t *testing.T) {
	n := New(Config{PeerID: "a", ListenPort: freePort(t), Difficulty: 1, KeyStore: testKeys(), BlockReward: 50, MinerAddress: "alice"})
	require.NoError(t, n.Start())
	defer n.Stop()

	st := n.Status()
	require.Equal(t, "a", st.NodeID)
	require.Equal(t, "UP", st.State)
	require.Equal(t, uint64(0), st.Height)

	blocks := n.RecentBlocks(5)
	require.Len(t, blocks, 1)
	require.Equal(t, fmt.Sprintf("%v", uint64(0)), fmt.Sprintf("%v", blocks[0]["index"]))
}
