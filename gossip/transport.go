// Package gossip frames length-prefixed JSON messages over TCP,
// maintains peer sessions, suppresses duplicates, applies configured
// drop/delay fault injection, and forwards messages to every peer except
// the immediate sender (spec §4.5).
package gossip

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/groundx/blocksim/ledger"
	"github.com/groundx/blocksim/log"
)

var logger = log.NewModuleLogger("gossip")

// Handler receives decoded payloads from the transport. The node
// orchestrator is the one production implementation (spec §4.6); tests
// may supply a stub.
type Handler interface {
	OnHello(peer *Peer, payload HelloPayload)
	// OnNewTx and OnNewBlock return whether the message should be
	// rebroadcast, letting the orchestrator's accept/reject decision
	// (spec §4.6) gate the flood instead of the transport rebroadcasting
	// unconditionally.
	OnNewTx(fromPeerID string, tx ledger.Transaction) bool
	OnNewBlock(fromPeerID string, block ledger.Block) bool
	OnGetChain(fromPeerID string, fromIndex uint64)
	OnChainResponse(fromPeerID string, blocks []ledger.Block)
}

// DialTimeout bounds outbound connection attempts (spec §5 default 2s).
const DialTimeout = 2 * time.Second

// Transport owns one node's peer table, listener, and fault-injection
// settings.
type Transport struct {
	selfID     string
	listenPort int
	handler    Handler
	seen       *seenSet

	mu        sync.Mutex
	peers     map[string]*Peer
	listener  net.Listener
	dropProb  float64
	delayMode delayMode
	delayMs   int
}

type delayMode int

const (
	delayNone delayMode = iota
	delayFixed
	delayUniform
)

// New returns a Transport for node selfID, listening on listenPort once
// Listen is called.
func New(selfID string, listenPort int, handler Handler) *Transport {
	return &Transport{
		selfID:     selfID,
		listenPort: listenPort,
		handler:    handler,
		seen:       newSeenSet(DefaultSeenSetSize),
		peers:      make(map[string]*Peer),
	}
}

// SetDropProbability sets the per-node probability, in [0,1], that an
// inbound frame is silently dropped before processing (spec §4.5, §6
// fault-injection hooks).
func (t *Transport) SetDropProbability(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	t.mu.Lock()
	t.dropProb = p
	t.mu.Unlock()
}

// SetDelay configures a fixed per-frame delay in milliseconds.
func (t *Transport) SetDelay(ms int) {
	t.mu.Lock()
	t.delayMode = delayFixed
	t.delayMs = ms
	t.mu.Unlock()
}

// SetUniformDelay configures a delay drawn uniformly from [0, maxMs) per
// frame.
func (t *Transport) SetUniformDelay(maxMs int) {
	t.mu.Lock()
	t.delayMode = delayUniform
	t.delayMs = maxMs
	t.mu.Unlock()
}

func (t *Transport) faultSettings() (float64, delayMode, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropProb, t.delayMode, t.delayMs
}

// Listen opens the TCP listener and begins accepting inbound connections
// in the background.
func (t *Transport) Listen() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.listenPort))
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()
	go t.acceptLoop(ln)
	return nil
}

func (t *Transport) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed by Close()
		}
		go t.serveInbound(conn, false, "", 0)
	}
}

// Close stops accepting connections and tears down every peer session,
// without touching the seen-set (spec §4.5: "connection loss ... seen-set
// remains unchanged").
func (t *Transport) Close() {
	t.mu.Lock()
	ln := t.listener
	t.listener = nil
	peers := t.peers
	t.peers = make(map[string]*Peer)
	t.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, p := range peers {
		p.markClosed()
	}
}

// Dial opens an outbound connection to host:port and exchanges HELLO.
func (t *Transport) Dial(host string, port int) error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), DialTimeout)
	if err != nil {
		return err
	}
	go t.serveInbound(conn, true, host, port)
	return nil
}

func (t *Transport) serveInbound(conn net.Conn, outbound bool, dialHost string, dialPort int) {
	if err := WriteFrame(conn, Frame{
		Kind:     KindHello,
		Payload:  encodePayload(HelloPayload{PeerID: t.selfID, ListenPort: t.listenPort}),
		OriginID: t.selfID,
	}); err != nil {
		conn.Close()
		return
	}

	first, err := ReadFrame(conn)
	if err != nil || first.Kind != KindHello {
		conn.Close()
		return
	}
	var hello HelloPayload
	if err := decodePayload(first.Payload, &hello); err != nil {
		conn.Close()
		return
	}

	host := dialHost
	if host == "" {
		if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			host = tcpAddr.IP.String()
		}
	}
	port := dialPort
	if port == 0 {
		port = hello.ListenPort
	}

	peer := newPeer(hello.PeerID, host, port, outbound, conn)
	t.mu.Lock()
	t.peers[peer.PeerID] = peer
	t.mu.Unlock()
	go peer.writeLoop()

	logger.Infow("peer connected", "peer_id", peer.PeerID, "outbound", outbound)
	t.handler.OnHello(peer, hello)

	t.readLoop(peer)
}

func (t *Transport) readLoop(peer *Peer) {
	defer func() {
		t.mu.Lock()
		delete(t.peers, peer.PeerID)
		t.mu.Unlock()
		peer.markClosed()
		logger.Infow("peer disconnected", "peer_id", peer.PeerID)
	}()

	for {
		f, err := ReadFrame(peer.conn)
		if err != nil {
			return
		}
		peer.touch()
		t.process(peer, f)
	}
}

func (t *Transport) process(peer *Peer, f Frame) {
	dropProb, mode, ms := t.faultSettings()
	if dropProb > 0 && rand.Float64() < dropProb {
		return
	}
	switch mode {
	case delayFixed:
		if ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	case delayUniform:
		if ms > 0 {
			time.Sleep(time.Duration(rand.Intn(ms)) * time.Millisecond)
		}
	}

	if f.Kind != KindHello {
		if t.seen.seenOrAdd(f.Kind, f.Payload) {
			return // duplicate: no state change, no rebroadcast (spec invariant 4)
		}
	}

	var rebroadcast bool
	switch f.Kind {
	case KindNewTx:
		var p NewTxPayload
		if err := decodePayload(f.Payload, &p); err != nil {
			return
		}
		rebroadcast = t.handler.OnNewTx(peer.PeerID, p.Tx)
	case KindNewBlock:
		var p NewBlockPayload
		if err := decodePayload(f.Payload, &p); err != nil {
			return
		}
		rebroadcast = t.handler.OnNewBlock(peer.PeerID, p.Block)
	case KindGetChain:
		var p GetChainPayload
		if err := decodePayload(f.Payload, &p); err != nil {
			return
		}
		t.handler.OnGetChain(peer.PeerID, p.FromIndex)
		return // request/response, never rebroadcast
	case KindChainResponse:
		var p ChainResponsePayload
		if err := decodePayload(f.Payload, &p); err != nil {
			return
		}
		t.handler.OnChainResponse(peer.PeerID, p.Blocks)
		return // point-to-point, never rebroadcast
	default:
		return
	}

	if rebroadcast {
		t.broadcastExcept(peer.PeerID, f)
	}
}

// broadcastExcept forwards f to every peer except exceptID, preserving
// the original origin_id.
func (t *Transport) broadcastExcept(exceptID string, f Frame) {
	t.mu.Lock()
	peers := make([]*Peer, 0, len(t.peers))
	for id, p := range t.peers {
		if id != exceptID {
			peers = append(peers, p)
		}
	}
	t.mu.Unlock()
	for _, p := range peers {
		p.enqueue(f)
	}
}

// Broadcast sends a self-originated message (this node's own new
// transaction or newly mined block) to every connected peer.
func (t *Transport) Broadcast(kind Kind, payload []byte) {
	f := Frame{Kind: kind, Payload: payload, OriginID: t.selfID}
	t.seen.seenOrAdd(kind, payload) // don't re-process our own echo if it loops back
	t.broadcastExcept("", f)
}

// SendTo sends a message to one specific peer (GET_CHAIN requests,
// CHAIN_RESPONSE replies).
func (t *Transport) SendTo(peerID string, kind Kind, payload []byte) bool {
	t.mu.Lock()
	p := t.peers[peerID]
	t.mu.Unlock()
	if p == nil {
		return false
	}
	p.enqueue(Frame{Kind: kind, Payload: payload, OriginID: t.selfID})
	return true
}

// Peers returns a snapshot of currently connected peer IDs.
func (t *Transport) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

// EncodeNewTx, EncodeNewBlock, EncodeGetChain, and EncodeChainResponse
// are small helpers so callers outside this package don't need to reach
// for encoding/json directly.
func EncodeNewTx(tx ledger.Transaction) []byte       { return encodePayload(NewTxPayload{Tx: tx}) }
func EncodeNewBlock(b ledger.Block) []byte           { return encodePayload(NewBlockPayload{Block: b}) }
func EncodeGetChain(fromIndex uint64) []byte         { return encodePayload(GetChainPayload{FromIndex: fromIndex}) }
func EncodeChainResponse(blocks []ledger.Block) []byte {
	return encodePayload(ChainResponsePayload{Blocks: blocks})
}
