package msgmgr

import (
	"fmt"
	"net"
	"sync"

	"github.com/fluxorio/msgmgr/pkg/core"
	"github.com/fluxorio/msgmgr/pkg/metrics"
	"golang.org/x/net/ipv4"
)

// ProxyMailbox is the sending side of a remote mailbox: Post serializes
// the message, frames it and writes it to the transport. Proxies are
// created through the lookup service and shared process-wide.
type ProxyMailbox interface {
	// Address returns the remote mailbox address this proxy targets.
	Address() MailboxAddress

	// Post ships one message. When it returns an error the message was
	// not sent and remains owned by the caller.
	Post(msg Message) error

	// Close releases the transport. A subsequent post reconnects
	// (distributed) or opens a new datagram socket (group).
	Close()
}

// ProxyOptions configures outbound transport behavior.
type ProxyOptions struct {
	// MulticastTTL applies to group proxies, 1..255. 0 uses 1.
	MulticastTTL int

	// MulticastLoopback controls whether the sending host's own group
	// mailboxes see the datagrams.
	MulticastLoopback bool

	Logger  core.Logger
	Metrics *metrics.Metrics
}

func (o ProxyOptions) withDefaults() ProxyOptions {
	if o.MulticastTTL <= 0 {
		o.MulticastTTL = 1
	}
	if o.Logger == nil {
		o.Logger = core.NewLogger(core.LoggerConfig{Level: "INFO", Subsystem: "msgmgr"})
	}
	return o
}

// distributedProxy holds one TCP connection to a remote distributed
// mailbox. The connection is dialed lazily on first post and retained.
// Posts are serialized: one outstanding write at a time.
type distributedProxy struct {
	address MailboxAddress
	opts    ProxyOptions

	mu   sync.Mutex
	conn net.Conn
}

// NewDistributedProxy creates the sending-side stub for a remote
// distributed mailbox. No connection is made until the first post.
func NewDistributedProxy(address MailboxAddress, opts ProxyOptions) ProxyMailbox {
	return &distributedProxy{address: address, opts: opts.withDefaults()}
}

func (p *distributedProxy) Address() MailboxAddress { return p.address }

// Post frames the message and writes it to the stream. On a write error
// the connection is rebuilt and the write retried exactly once within
// the same call; a second failure surfaces ErrTransportDown and the
// caller keeps ownership of the unsent message.
func (p *distributedProxy) Post(msg Message) error {
	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		if err := p.dialLocked(); err != nil {
			return fmt.Errorf("%w: %v", ErrTransportDown, err)
		}
	}

	if _, err := p.conn.Write(frame); err == nil {
		return nil
	}

	// One rebuild, one retry. The retry semantics are deliberately not
	// any wider than that.
	p.closeLocked()
	p.opts.Metrics.RecordReconnect(p.address.Inet())
	if err := p.dialLocked(); err != nil {
		p.opts.Logger.Errorf("proxy to %s: reconnect failed: %v", p.address.Inet(), err)
		return fmt.Errorf("%w: %v", ErrTransportDown, err)
	}
	if _, err := p.conn.Write(frame); err != nil {
		p.closeLocked()
		p.opts.Logger.Errorf("proxy to %s: retry write failed: %v", p.address.Inet(), err)
		return fmt.Errorf("%w: %v", ErrTransportDown, err)
	}
	return nil
}

func (p *distributedProxy) dialLocked() error {
	conn, err := net.Dial("tcp", p.address.Inet())
	if err != nil {
		return err
	}
	p.conn = conn
	return nil
}

func (p *distributedProxy) closeLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *distributedProxy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

// groupProxy sends each post as an independent datagram to the group
// address. Unreliable by design: no retry is attempted.
type groupProxy struct {
	address MailboxAddress
	opts    ProxyOptions

	mu   sync.Mutex
	conn net.PacketConn
	dst  *net.UDPAddr
}

// NewGroupProxy creates the sending-side stub for a multicast or
// broadcast group mailbox.
func NewGroupProxy(address MailboxAddress, opts ProxyOptions) ProxyMailbox {
	return &groupProxy{address: address, opts: opts.withDefaults()}
}

func (p *groupProxy) Address() MailboxAddress { return p.address }

func (p *groupProxy) Post(msg Message) error {
	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		if err := p.openLocked(); err != nil {
			return fmt.Errorf("%w: %v", ErrTransportDown, err)
		}
	}
	if _, err := p.conn.WriteTo(frame, p.dst); err != nil {
		p.closeLocked()
		return fmt.Errorf("%w: %v", ErrTransportDown, err)
	}
	return nil
}

func (p *groupProxy) openLocked() error {
	ip := net.ParseIP(p.address.IP)
	if ip == nil {
		return fmt.Errorf("group address has no usable IP: %q", p.address.IP)
	}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return err
	}
	if ip.IsMulticast() {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastTTL(p.opts.MulticastTTL); err != nil {
			p.opts.Logger.Warnf("multicast TTL not applied: %v", err)
		}
		if err := pc.SetMulticastLoopback(p.opts.MulticastLoopback); err != nil {
			p.opts.Logger.Warnf("multicast loopback not applied: %v", err)
		}
	}
	p.conn = conn
	p.dst = &net.UDPAddr{IP: ip, Port: int(p.address.Port)}
	return nil
}

func (p *groupProxy) closeLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *groupProxy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}
