package msgmgr

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"
)

// groupTransport is the receive side of a group mailbox: a datagram
// socket joined to a multicast group (when the address IP falls in
// 224.0.0.0/4) or bound for broadcast. Each datagram carries exactly one
// frame; there is no reassembly.
type groupTransport struct {
	mb *mailboxImpl

	mu       sync.Mutex
	conn     *net.UDPConn
	wg       sync.WaitGroup
	stopping atomic.Bool
}

// NewGroupMailbox creates a mailbox receiving framed datagrams on a
// multicast or broadcast socket. Loopback and TTL come from the config;
// the socket binds on Activate.
func NewGroupMailbox(address MailboxAddress, cfg MailboxConfig) *MailboxOwnerHandle {
	address.LocationType = LocationGroup
	mb := newMailboxImpl(address, cfg)
	mb.trans = &groupTransport{mb: mb}
	return newOwnerHandle(mb)
}

func (t *groupTransport) start() error {
	ip := net.ParseIP(t.mb.address.IP)
	if ip == nil {
		return errors.New("msgmgr: group mailbox address has no usable IP")
	}

	var conn *net.UDPConn
	var err error
	if ip.IsMulticast() {
		gaddr := &net.UDPAddr{IP: ip, Port: int(t.mb.address.Port)}
		conn, err = net.ListenMulticastUDP("udp4", nil, gaddr)
		if err != nil {
			return err
		}
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastLoopback(t.mb.cfg.MulticastLoopback); err != nil {
			t.mb.logger.Warnf("multicast loopback not applied: %v", err)
		}
		if err := pc.SetMulticastTTL(t.mb.cfg.MulticastTTL); err != nil {
			t.mb.logger.Warnf("multicast TTL not applied: %v", err)
		}
	} else {
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{Port: int(t.mb.address.Port)})
		if err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.stopping.Store(false)

	t.wg.Add(1)
	go t.readLoop(conn)
	return nil
}

func (t *groupTransport) stop() {
	t.stopping.Store(true)
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	t.wg.Wait()
}

func (t *groupTransport) readLoop(conn *net.UDPConn) {
	defer t.wg.Done()
	buf := make([]byte, MaxMessageLength)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !t.stopping.Load() && !errors.Is(err, net.ErrClosed) {
				t.mb.logger.Errorf("datagram read failed: %v", err)
			}
			return
		}
		payload, err := decodeDatagram(buf[:n])
		if err != nil {
			t.mb.logger.Warnf("discarding datagram from %s: %v", peer, err)
			t.mb.metrics.RecordFramingError(t.mb.address.MailboxName)
			continue
		}
		msg, err := recreatePayload(t.mb.cfg.Factory, payload)
		if err != nil {
			t.mb.logger.Warnf("discarding datagram from %s: %v", peer, err)
			t.mb.metrics.RecordFramingError(t.mb.address.MailboxName)
			continue
		}
		if err := t.mb.deliverInbound(msg); err != nil {
			t.mb.logger.Warnf("inbound message id 0x%04x dropped: %v", msg.MessageID(), err)
		}
	}
}
