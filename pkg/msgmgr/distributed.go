package msgmgr

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
)

// distributedTransport is the receive side of a distributed mailbox: a
// TCP listener at the mailbox address plus one reader goroutine per peer
// stream. Frames are deserialized through the message factory and fed to
// the mailbox queue, the same queue a local post lands in.
//
// A malformed frame or unknown id resets the offending peer stream, not
// the listener; a slow peer only stalls its own reader.
type distributedTransport struct {
	mb *mailboxImpl

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	stopping atomic.Bool
}

// NewDistributedMailbox creates a mailbox that listens for framed
// messages on a TCP socket at the given address. The returned owner
// handle holds the first reference; the listener binds on Activate.
func NewDistributedMailbox(address MailboxAddress, cfg MailboxConfig) *MailboxOwnerHandle {
	address.LocationType = LocationDistributed
	mb := newMailboxImpl(address, cfg)
	mb.trans = &distributedTransport{
		mb:    mb,
		conns: make(map[net.Conn]struct{}),
	}
	return newOwnerHandle(mb)
}

func (t *distributedTransport) start() error {
	ln, err := net.Listen("tcp", t.mb.address.Inet())
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()
	t.stopping.Store(false)

	t.wg.Add(1)
	go t.acceptLoop(ln)
	return nil
}

func (t *distributedTransport) stop() {
	t.stopping.Store(true)

	t.mu.Lock()
	ln := t.listener
	t.listener = nil
	conns := make([]net.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	t.wg.Wait()
}

func (t *distributedTransport) acceptLoop(ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// A closed listener is a clean shutdown; anything else while
			// not stopping is worth a log line.
			if t.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.mb.logger.Errorf("accept failed: %v", err)
			return
		}
		t.trackConn(conn)
		t.wg.Add(1)
		go t.readLoop(conn)
	}
}

func (t *distributedTransport) trackConn(conn net.Conn) {
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
}

func (t *distributedTransport) dropConn(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	_ = conn.Close()
}

// readLoop drains frames from one peer stream until it closes or sends
// garbage.
func (t *distributedTransport) readLoop(conn net.Conn) {
	defer t.wg.Done()
	defer t.dropConn(conn)

	for {
		payload, err := readFrame(conn)
		if err != nil {
			if errors.Is(err, ErrWireFraming) {
				t.mb.logger.Warnf("resetting peer %s: %v", conn.RemoteAddr(), err)
				t.mb.metrics.RecordFramingError(t.mb.address.MailboxName)
			}
			// EOF and reset are normal peer departures.
			return
		}
		msg, err := recreatePayload(t.mb.cfg.Factory, payload)
		if err != nil {
			t.mb.logger.Warnf("resetting peer %s: %v", conn.RemoteAddr(), err)
			t.mb.metrics.RecordFramingError(t.mb.address.MailboxName)
			return
		}
		if err := t.mb.deliverInbound(msg); err != nil {
			t.mb.logger.Warnf("inbound message id 0x%04x dropped: %v", msg.MessageID(), err)
		}
	}
}

// ListeningAddr returns the actual listener address, useful when the
// configured port is 0. Empty when not listening.
func (t *distributedTransport) ListeningAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}
