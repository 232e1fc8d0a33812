package msgmgr

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fluxorio/msgmgr/pkg/core"
	"github.com/fluxorio/msgmgr/pkg/metrics"
)

// DiscoveryOperation names a registry mutation carried by a discovery
// message.
type DiscoveryOperation uint32

const (
	DiscoveryRegister DiscoveryOperation = iota + 1
	DiscoveryDeregister
)

func (op DiscoveryOperation) String() string {
	switch op {
	case DiscoveryRegister:
		return "REGISTER"
	case DiscoveryDeregister:
		return "DEREGISTER"
	}
	return "UNKNOWN"
}

// DiscoveryMessage is the wire message gossiped between discovery
// managers: an operation, the PID of the originating process and the
// subject address being (de)registered.
type DiscoveryMessage struct {
	MessageBase
	Operation      DiscoveryOperation
	OriginatingPID uint32
	Subject        MailboxAddress
}

// NewDiscoveryMessage builds a discovery update originating here.
func NewDiscoveryMessage(source MailboxAddress, op DiscoveryOperation, pid uint32, subject MailboxAddress) *DiscoveryMessage {
	return &DiscoveryMessage{
		MessageBase:    NewMessageBase(source, 1),
		Operation:      op,
		OriginatingPID: pid,
		Subject:        subject,
	}
}

func (m *DiscoveryMessage) MessageID() uint16 { return MsgIDDiscovery }

func (m *DiscoveryMessage) Serialize(buf *MessageBuffer) error {
	m.SerializeBase(buf)
	buf.InsertUint32(uint32(m.Operation))
	buf.InsertUint32(m.OriginatingPID)
	buf.InsertAddress(m.Subject)
	return nil
}

// DeserializeDiscoveryMessage is the factory bootstrap for discovery
// updates arriving off the group transport.
func DeserializeDiscoveryMessage(buf *MessageBuffer) (Message, error) {
	m := &DiscoveryMessage{}
	m.DeserializeBase(buf)
	var op uint32
	buf.ExtractUint32(&op)
	buf.ExtractUint32(&m.OriginatingPID)
	buf.ExtractAddress(&m.Subject)
	m.Operation = DiscoveryOperation(op)
	if m.Operation != DiscoveryRegister && m.Operation != DiscoveryDeregister {
		return nil, fmt.Errorf("discovery message carries unknown operation %d", op)
	}
	return m, nil
}

func (m *DiscoveryMessage) String() string {
	return fmt.Sprintf("DiscoveryMessage[op=%s pid=%d subject=%s]", m.Operation, m.OriginatingPID, m.Subject.MailboxName)
}

// DiscoveryLocalMessage is the in-process request posted to the
// discovery manager's own mailbox when a local remote-type mailbox
// registers or deregisters. It never crosses the group transport.
type DiscoveryLocalMessage struct {
	MessageBase
	Operation DiscoveryOperation
	Subject   MailboxAddress
}

// NewDiscoveryLocalMessage builds a local (de)registration request.
func NewDiscoveryLocalMessage(source MailboxAddress, op DiscoveryOperation, subject MailboxAddress) *DiscoveryLocalMessage {
	return &DiscoveryLocalMessage{
		MessageBase: NewMessageBase(source, 1),
		Operation:   op,
		Subject:     subject,
	}
}

func (m *DiscoveryLocalMessage) MessageID() uint16 { return MsgIDDiscoveryLocal }

func (m *DiscoveryLocalMessage) Serialize(buf *MessageBuffer) error {
	m.SerializeBase(buf)
	buf.InsertUint32(uint32(m.Operation))
	buf.InsertAddress(m.Subject)
	return nil
}

// DeserializeDiscoveryLocalMessage exists so the id stays registered in
// the factory even though the message is local-only.
func DeserializeDiscoveryLocalMessage(buf *MessageBuffer) (Message, error) {
	m := &DiscoveryLocalMessage{}
	m.DeserializeBase(buf)
	var op uint32
	buf.ExtractUint32(&op)
	buf.ExtractAddress(&m.Subject)
	m.Operation = DiscoveryOperation(op)
	return m, nil
}

func (m *DiscoveryLocalMessage) String() string {
	return fmt.Sprintf("DiscoveryLocalMessage[op=%s subject=%s]", m.Operation, m.Subject.MailboxName)
}

// DiscoveryConfig configures a discovery manager instance.
type DiscoveryConfig struct {
	// GroupAddress is the well-known multicast address every discovery
	// manager joins. Zero value uses DiscoveryGroupAddress().
	GroupAddress MailboxAddress

	// MulticastTTL is the datagram time-to-live, 1..255.
	MulticastTTL int

	// MulticastLoopback must stay enabled when multiple processes share
	// a host; the PID filter handles the duplicates it causes.
	MulticastLoopback bool

	// QueueDepth bounds the discovery mailbox queue.
	QueueDepth int
}

func (c DiscoveryConfig) withDefaults() DiscoveryConfig {
	if c.GroupAddress == (MailboxAddress{}) {
		c.GroupAddress = DiscoveryGroupAddress()
	}
	if c.MulticastTTL <= 0 {
		c.MulticastTTL = 1
	}
	return c
}

type discoverySubscription struct {
	filter MailboxAddress
	notify *MailboxHandle
}

// DiscoveryManager propagates non-proxy remote mailbox registrations to
// every node through a well-known group mailbox, and fans incoming
// updates out to interested local mailboxes.
//
// The self-filter on (source address, originating PID) is the only
// defense against multicast loopback duplicates. A message carrying a
// different PID is always accepted, even when its source address fields
// match ours, because multiple processes may share a host.
type DiscoveryManager struct {
	cfg     DiscoveryConfig
	logger  core.Logger
	metrics *metrics.Metrics
	lookup  *LookupService
	factory *MessageFactory
	pid     uint32

	mailbox   *MailboxOwnerHandle
	processor *Processor

	proxyMu sync.Mutex
	proxy   ProxyMailbox

	updatesMu sync.Mutex
	updates   []discoverySubscription

	wg      sync.WaitGroup
	started bool
}

// NewDiscoveryManager creates a discovery manager bound to a lookup
// service. Call Start to join the group and begin processing.
func NewDiscoveryManager(cfg DiscoveryConfig, lookup *LookupService, factory *MessageFactory, logger core.Logger, m *metrics.Metrics) *DiscoveryManager {
	if logger == nil {
		logger = core.NewLogger(core.LoggerConfig{Level: "INFO", Subsystem: "discovery"})
	}
	if factory == nil {
		factory = NewMessageFactory(logger)
	}
	return &DiscoveryManager{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
		lookup:  lookup,
		factory: factory,
		pid:     uint32(os.Getpid()),
	}
}

// Start joins the discovery group: the group mailbox is created and
// activated, handlers are bound, the outbound proxy is built and a
// dedicated processor goroutine begins draining the queue.
func (d *DiscoveryManager) Start() error {
	if d.started {
		return errors.New("msgmgr: discovery manager already started")
	}

	d.factory.RegisterSupport(MsgIDDiscovery, DeserializeDiscoveryMessage)
	d.factory.RegisterSupport(MsgIDDiscoveryLocal, DeserializeDiscoveryLocalMessage)

	d.mailbox = NewGroupMailbox(d.cfg.GroupAddress, MailboxConfig{
		QueueDepth:        d.cfg.QueueDepth,
		Factory:           d.factory,
		MulticastLoopback: d.cfg.MulticastLoopback,
		MulticastTTL:      d.cfg.MulticastTTL,
		Logger:            d.logger,
		Metrics:           d.metrics,
	})
	d.mailbox.AddHandler(MsgIDDiscovery, d.handleRemote)
	d.mailbox.AddHandler(MsgIDDiscoveryLocal, d.handleLocal)

	if err := d.mailbox.Activate(); err != nil {
		d.mailbox.Release()
		d.mailbox = nil
		return fmt.Errorf("activating discovery group mailbox: %w", err)
	}

	if err := d.rebuildProxy(); err != nil {
		d.mailbox.Deactivate()
		d.mailbox.Release()
		d.mailbox = nil
		return fmt.Errorf("creating discovery proxy: %w", err)
	}

	d.processor = NewProcessor(nil, d.logger, d.metrics)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.processor.Process(d.mailbox, 1)
	}()

	d.started = true
	d.logger.Infof("discovery manager joined %s (pid %d)", d.cfg.GroupAddress.Inet(), d.pid)
	return nil
}

// Stop leaves the group and waits for the processor to drain.
func (d *DiscoveryManager) Stop() {
	if !d.started {
		return
	}
	d.started = false
	d.mailbox.Deactivate()
	d.wg.Wait()
	d.proxyMu.Lock()
	if d.proxy != nil {
		d.proxy.Close()
		d.proxy = nil
	}
	d.proxyMu.Unlock()
	d.mailbox.Release()
	d.mailbox = nil
}

// RegisterLocalAddress announces a locally-owned remote-type address to
// the fleet. The request rides through the discovery mailbox so registry
// mutation and gossip happen on the processor thread.
func (d *DiscoveryManager) RegisterLocalAddress(address MailboxAddress) error {
	return d.postLocal(DiscoveryRegister, address)
}

// DeregisterLocalAddress is the inverse of RegisterLocalAddress.
func (d *DiscoveryManager) DeregisterLocalAddress(address MailboxAddress) error {
	return d.postLocal(DiscoveryDeregister, address)
}

func (d *DiscoveryManager) postLocal(op DiscoveryOperation, address MailboxAddress) error {
	if !d.started {
		return ErrInactiveMailbox
	}
	return d.mailbox.Post(NewDiscoveryLocalMessage(d.cfg.GroupAddress, op, address))
}

// RegisterForUpdates subscribes a mailbox to discovery events whose
// subject matches the filter, and returns a snapshot of the matching
// addresses already known. The notify mailbox must handle
// MsgIDDiscovery.
func (d *DiscoveryManager) RegisterForUpdates(filter MailboxAddress, notify *MailboxHandle) []MailboxAddress {
	d.updatesMu.Lock()
	d.updates = append(d.updates, discoverySubscription{filter: filter, notify: notify})
	d.updatesMu.Unlock()
	return d.lookup.NonProxyAddresses(filter)
}

// handleLocal applies a local (de)registration and emits exactly one
// discovery update to the fleet.
func (d *DiscoveryManager) handleLocal(msg Message) error {
	req, ok := msg.(*DiscoveryLocalMessage)
	if !ok {
		return fmt.Errorf("unexpected message type for id 0x%04x", msg.MessageID())
	}

	switch req.Operation {
	case DiscoveryRegister:
		d.lookup.addNonProxy(req.Subject)
	case DiscoveryDeregister:
		d.lookup.removeNonProxy(req.Subject)
	default:
		return fmt.Errorf("local discovery request carries unknown operation %d", req.Operation)
	}
	d.metrics.RecordDiscovery(req.Operation.String())

	return d.postDiscovery(req.Operation, req.Subject)
}

// postDiscovery gossips one update. A send failure triggers a single
// proxy rebuild and retry; a persistent failure is logged and the update
// abandoned — receivers tolerate gaps because the registry is a set.
func (d *DiscoveryManager) postDiscovery(op DiscoveryOperation, subject MailboxAddress) error {
	msg := NewDiscoveryMessage(d.cfg.GroupAddress, op, d.pid, subject)

	d.proxyMu.Lock()
	defer d.proxyMu.Unlock()

	err := d.proxy.Post(msg)
	if err == nil {
		return nil
	}
	d.logger.Warnf("discovery post failed, rebuilding proxy: %v", err)
	if err := d.rebuildProxyLocked(); err != nil {
		d.logger.Errorf("discovery proxy rebuild failed, abandoning %s of %q: %v", op, subject.MailboxName, err)
		return err
	}
	if err := d.proxy.Post(msg); err != nil {
		d.logger.Errorf("discovery retry failed, abandoning %s of %q: %v", op, subject.MailboxName, err)
		return err
	}
	return nil
}

func (d *DiscoveryManager) rebuildProxy() error {
	d.proxyMu.Lock()
	defer d.proxyMu.Unlock()
	return d.rebuildProxyLocked()
}

func (d *DiscoveryManager) rebuildProxyLocked() error {
	if d.proxy != nil {
		d.proxy.Close()
	}
	d.proxy = NewGroupProxy(d.cfg.GroupAddress, ProxyOptions{
		MulticastTTL:      d.cfg.MulticastTTL,
		MulticastLoopback: d.cfg.MulticastLoopback,
		Logger:            d.logger,
		Metrics:           d.metrics,
	})
	return nil
}

// handleRemote applies a gossiped update from another node and fans it
// out to matching subscribers.
func (d *DiscoveryManager) handleRemote(msg Message) error {
	update, ok := msg.(*DiscoveryMessage)
	if !ok {
		return fmt.Errorf("unexpected message type for id 0x%04x", msg.MessageID())
	}

	// Loopback self-filter: drop only when both the PID and the source
	// address are ours. A different process on this host shares neither.
	if update.OriginatingPID == d.pid && update.SourceAddress().Equal(d.cfg.GroupAddress) {
		d.logger.Developerf("dropping self-posted discovery update for %q", update.Subject.MailboxName)
		return nil
	}

	switch update.Operation {
	case DiscoveryRegister:
		if d.lookup.addNonProxy(update.Subject) {
			d.logger.Infof("discovered mailbox %q at %s", update.Subject.MailboxName, update.Subject.Inet())
		}
	case DiscoveryDeregister:
		if d.lookup.removeNonProxy(update.Subject) {
			d.logger.Infof("mailbox %q at %s departed", update.Subject.MailboxName, update.Subject.Inet())
		}
	default:
		return fmt.Errorf("discovery update carries unknown operation %d", update.Operation)
	}
	d.metrics.RecordDiscovery(update.Operation.String())

	d.fanOut(update)
	return nil
}

// fanOut posts a copy of the update to every subscriber whose filter
// matches the subject. The registry lock is held for the full iteration.
func (d *DiscoveryManager) fanOut(update *DiscoveryMessage) {
	d.updatesMu.Lock()
	defer d.updatesMu.Unlock()

	for _, sub := range d.updates {
		if !Matches(sub.filter, update.Subject) {
			continue
		}
		dup := NewDiscoveryMessage(update.SourceAddress(), update.Operation, update.OriginatingPID, update.Subject)
		if err := sub.notify.Post(dup); err != nil {
			d.logger.Warnf("discovery notification to %q dropped: %v", sub.notify.Address().MailboxName, err)
		}
	}
}
