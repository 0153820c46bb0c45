package gossip

import (
	"net"
	"testing"
	"time"

	"github.com/groundx/blocksim/ledger"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	txs     chan ledger.Transaction
	blocks  chan ledger.Block
	getChs  chan uint64
	chainRs chan []ledger.Block
	accept  bool
}

func newStubHandler(accept bool) *stubHandler {
	return &stubHandler{
		txs:     make(chan ledger.Transaction, 8),
		blocks:  make(chan ledger.Block, 8),
		getChs:  make(chan uint64, 8),
		chainRs: make(chan []ledger.Block, 8),
		accept:  accept,
	}
}

func (s *stubHandler) OnHello(peer *Peer, payload HelloPayload) {}
func (s *stubHandler) OnNewTx(fromPeerID string, tx ledger.Transaction) bool {
	s.txs <- tx
	return s.accept
}
func (s *stubHandler) OnNewBlock(fromPeerID string, block ledger.Block) bool {
	s.blocks <- block
	return s.accept
}
func (s *stubHandler) OnGetChain(fromPeerID string, fromIndex uint64) { s.getChs <- fromIndex }
func (s *stubHandler) OnChainResponse(fromPeerID string, blocks []ledger.Block) {
	s.chainRs <- blocks
}

func freeTransportPort(t *testing.T) int {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func connectTransports(t *testing.T, a, b *Transport, bPort int) {
	require.NoError(t, a.Listen())
	require.NoError(t, b.Listen())
	require.NoError(t, b.Dial("127.0.0.1", a.listenPort))
	_ = bPort
	time.Sleep(100 * time.Millisecond)
}

func TestNewTxBroadcastAndDedup(t *testing.T) {
	hA := newStubHandler(true)
	hB := newStubHandler(true)
	a := New("a", freeTransportPort(t), hA)
	b := New("b", freeTransportPort(t), hB)
	connectTransports(t, a, b, b.listenPort)
	defer a.Close()
	defer b.Close()

	tx := ledger.Transaction{Sender: "alice", Receiver: "bob", Amount: 1, TxID: "tx1"}
	a.Broadcast(KindNewTx, EncodeNewTx(tx))

	select {
	case got := <-hB.txs:
		require.Equal(t, tx.TxID, got.TxID)
	case <-time.After(2 * time.Second):
		t.Fatal("tx never arrived at b")
	}

	// Re-delivering the identical frame must not re-invoke the handler.
	a.broadcastExcept("", Frame{Kind: KindNewTx, Payload: EncodeNewTx(tx), OriginID: "a"})
	select {
	case <-hB.txs:
		t.Fatal("duplicate frame should have been suppressed by the seen-set")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestGetChainIsPointToPointNeverRebroadcast(t *testing.T) {
	hA := newStubHandler(true)
	hB := newStubHandler(true)
	hC := newStubHandler(true)
	a := New("a", freeTransportPort(t), hA)
	b := New("b", freeTransportPort(t), hB)
	c := New("c", freeTransportPort(t), hC)
	require.NoError(t, a.Listen())
	require.NoError(t, b.Listen())
	require.NoError(t, c.Listen())
	require.NoError(t, b.Dial("127.0.0.1", a.listenPort))
	require.NoError(t, c.Dial("127.0.0.1", a.listenPort))
	time.Sleep(150 * time.Millisecond)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	require.True(t, b.SendTo("a", KindGetChain, EncodeGetChain(0)))

	select {
	case idx := <-hA.getChs:
		require.Equal(t, uint64(0), idx)
	case <-time.After(2 * time.Second):
		t.Fatal("get_chain never reached a")
	}

	select {
	case <-hC.getChs:
		t.Fatal("get_chain must not be rebroadcast to c")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEnqueueOverflowDropsNewestNonTx(t *testing.T) {
	p := newPeer("x", "127.0.0.1", 0, false, &discardConn{})
	for i := 0; i < maxQueuedFrames; i++ {
		p.enqueue(Frame{Kind: KindChainResponse, Payload: []byte("a")})
	}
	p.enqueue(Frame{Kind: KindChainResponse, Payload: []byte("overflow")})
	require.Len(t, p.queue, maxQueuedFrames)
	require.Equal(t, []byte("a"), p.queue[len(p.queue)-1].Payload)
}

// discardConn is a no-op net.Conn so enqueue tests don't need a real socket.
type discardConn struct{ net.Conn }

func (discardConn) Write(b []byte) (int, error) { return len(b), nil }
func (discardConn) Close() error                { return nil }
