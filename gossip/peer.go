package gossip

import (
	"net"
	"sync"
	"time"
)

// maxQueuedFrames bounds a peer's outbound queue, generalizing the
// teacher's maxQueuedTxs/maxQueuedProps/maxQueuedAnns constants
// (node/cn/peer.go) into one send-queue depth shared by all kinds, since
// this protocol has far fewer message shapes than klay's eth-derived
// wire format.
const maxQueuedFrames = 256

// Peer is one gossip session: a peer record (spec §3) plus the transport
// plumbing to reach it.
type Peer struct {
	PeerID   string
	Host     string
	Port     int
	Outbound bool

	mu       sync.Mutex
	lastSeen time.Time
	conn     net.Conn
	queue    []Frame
	closed   bool
	notify   chan struct{}
}

func newPeer(id, host string, port int, outbound bool, conn net.Conn) *Peer {
	return &Peer{
		PeerID:   id,
		Host:     host,
		Port:     port,
		Outbound: outbound,
		conn:     conn,
		lastSeen: time.Now(),
		notify:   make(chan struct{}, 1),
	}
}

// LastSeen returns the last time a frame was received from this peer.
func (p *Peer) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// enqueue applies the per-kind overflow policy from spec §4.5 and wakes
// the writer loop. NEW_TX overflow drops the oldest queued frame of the
// same kind (the new tx is more likely to still be relevant), or the new
// tx itself when no NEW_TX is queued; everything else (most importantly
// CHAIN_RESPONSE, since re-request is cheap) drops the incoming frame
// instead.
func (p *Peer) enqueue(f Frame) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if len(p.queue) >= maxQueuedFrames {
		if f.Kind == KindNewTx {
			for i, qf := range p.queue {
				if qf.Kind == KindNewTx {
					p.queue = append(p.queue[:i], p.queue[i+1:]...)
					p.queue = append(p.queue, f)
					break
				}
			}
		}
		// Any other kind, including CHAIN_RESPONSE: drop the new frame.
	} else {
		p.queue = append(p.queue, f)
	}
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Peer) dequeueAll() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.queue
	p.queue = nil
	return out
}

func (p *Peer) markClosed() {
	p.mu.Lock()
	p.closed = true
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// writeLoop drains the send queue to the connection until the peer is
// closed.
func (p *Peer) writeLoop() {
	for {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		frames := p.dequeueAll()
		for _, f := range frames {
			if err := WriteFrame(p.conn, f); err != nil {
				p.markClosed()
				return
			}
		}
		<-p.notify
	}
}
