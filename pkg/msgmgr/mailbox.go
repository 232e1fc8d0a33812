package msgmgr

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/msgmgr/pkg/core"
	"github.com/fluxorio/msgmgr/pkg/metrics"
)

// Mailbox lifecycle states. Only an activated mailbox accepts posts.
const (
	stateConstructed int32 = iota
	stateActivated
	stateDeactivated
	stateDestroyed
)

// defaultMaxTimers bounds the active-timer count per mailbox.
const defaultMaxTimers = 256

// MailboxConfig carries per-mailbox creation options. The zero value is
// usable for a local mailbox.
type MailboxConfig struct {
	// QueueDepth is the bounded queue's high-water mark. 0 uses the
	// framework default.
	QueueDepth int

	// MaxTimers bounds concurrently armed timers. 0 uses the default.
	MaxTimers int

	// Factory reconstructs inbound messages on remote transports. nil
	// creates a private factory (local mailboxes never consult it).
	Factory *MessageFactory

	// MulticastLoopback controls whether a group mailbox sees its own
	// datagrams. Group transport only.
	MulticastLoopback bool

	// MulticastTTL is the datagram time-to-live, 1..255. Group transport
	// only; 0 uses 1.
	MulticastTTL int

	Logger  core.Logger
	Metrics *metrics.Metrics
}

func (c MailboxConfig) withDefaults(subsystem string) MailboxConfig {
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.MaxTimers <= 0 {
		c.MaxTimers = defaultMaxTimers
	}
	if c.MulticastTTL <= 0 {
		c.MulticastTTL = 1
	}
	if c.Logger == nil {
		c.Logger = core.NewLogger(core.LoggerConfig{Level: "INFO", Subsystem: subsystem})
	}
	if c.Factory == nil {
		c.Factory = NewMessageFactory(c.Logger)
	}
	return c
}

// transport is the receive-side machinery a remote mailbox starts on
// activation and stops on deactivation. Local mailboxes have none.
type transport interface {
	start() error
	stop()
}

// MailboxStats is a point-in-time snapshot for debugging surfaces.
type MailboxStats struct {
	Name         string `json:"name"`
	Location     string `json:"location"`
	State        string `json:"state"`
	QueueDepth   int    `json:"queue_depth"`
	Posted       uint64 `json:"posted"`
	Received     uint64 `json:"received"`
	ActiveTimers int32  `json:"active_timers"`
	References   int32  `json:"references"`
}

// mailboxImpl is the state shared by every mailbox flavor: the priority
// queue, the handler table, the timer machinery, the lifecycle state
// machine and the reference count. Transport-specific receivers feed the
// same queue a local post does.
type mailboxImpl struct {
	address MailboxAddress
	cfg     MailboxConfig
	queue   *messageQueue
	logger  core.Logger
	metrics *metrics.Metrics

	state    atomic.Int32
	refCount atomic.Int32

	handlersMu sync.RWMutex
	handlers   map[uint16]MessageHandler

	timersMu     sync.Mutex
	timers       map[TimerID]*time.Timer
	activeTimers atomic.Int32

	// trans is nil for local mailboxes.
	trans transport

	// lookup is set when the mailbox registers, so the final release can
	// deregister it.
	lookup *LookupService

	posted   atomic.Uint64
	received atomic.Uint64
}

func newMailboxImpl(address MailboxAddress, cfg MailboxConfig) *mailboxImpl {
	cfg = cfg.withDefaults("msgmgr")
	return &mailboxImpl{
		address:  address,
		cfg:      cfg,
		queue:    newMessageQueue(cfg.QueueDepth),
		logger:   cfg.Logger.WithFields(map[string]interface{}{"mailbox": address.MailboxName}),
		metrics:  cfg.Metrics,
		handlers: make(map[uint16]MessageHandler),
		timers:   make(map[TimerID]*time.Timer),
	}
}

// NewLocalMailbox creates an in-process mailbox and returns its owner
// handle, which holds the first reference.
func NewLocalMailbox(name string, cfg MailboxConfig) *MailboxOwnerHandle {
	mb := newMailboxImpl(LocalAddress(name), cfg)
	return newOwnerHandle(mb)
}

func (mb *mailboxImpl) stateName() string {
	switch mb.state.Load() {
	case stateConstructed:
		return "constructed"
	case stateActivated:
		return "activated"
	case stateDeactivated:
		return "deactivated"
	}
	return "destroyed"
}

// post enqueues a message. Every transport and the local path funnel
// through here so the activation check and metrics are uniform.
func (mb *mailboxImpl) post(msg Message) error {
	if mb.state.Load() != stateActivated {
		mb.metrics.RecordDropped(mb.address.MailboxName, "inactive")
		return ErrInactiveMailbox
	}
	if err := mb.queue.enqueue(msg); err != nil {
		mb.metrics.RecordDropped(mb.address.MailboxName, "queue_full")
		return err
	}
	mb.posted.Add(1)
	mb.metrics.RecordPosted(mb.address.MailboxName)
	mb.metrics.SetQueueDepth(mb.address.MailboxName, mb.queue.depth())
	return nil
}

// dequeue blocks until a message arrives or the mailbox deactivates.
func (mb *mailboxImpl) dequeue() Message {
	msg := mb.queue.dequeue()
	if msg != nil {
		mb.metrics.SetQueueDepth(mb.address.MailboxName, mb.queue.depth())
	}
	return msg
}

// addHandler binds a handler to a message id. A duplicate bind replaces
// the previous handler.
func (mb *mailboxImpl) addHandler(id uint16, h MessageHandler) {
	mb.handlersMu.Lock()
	defer mb.handlersMu.Unlock()
	if _, exists := mb.handlers[id]; exists {
		mb.logger.Warnf("replacing handler for message id 0x%04x", id)
	}
	mb.handlers[id] = h
}

func (mb *mailboxImpl) findHandler(id uint16) (MessageHandler, bool) {
	mb.handlersMu.RLock()
	defer mb.handlersMu.RUnlock()
	h, ok := mb.handlers[id]
	return h, ok
}

// activate transitions constructed or deactivated to activated and
// starts the transport receiver.
func (mb *mailboxImpl) activate() error {
	s := mb.state.Load()
	if s == stateDestroyed {
		return fmt.Errorf("%w: mailbox destroyed", ErrInactiveMailbox)
	}
	if s == stateActivated {
		return nil
	}
	if mb.queue == nil || mb.queue.closedOnce() {
		mb.queue = newMessageQueue(mb.cfg.QueueDepth)
	}
	if mb.trans != nil {
		if err := mb.trans.start(); err != nil {
			return err
		}
	}
	mb.state.Store(stateActivated)
	mb.logger.Infof("mailbox activated at %s", mb.address.Inet())
	return nil
}

// deactivate stops the transport, discards pending timers and wakes any
// blocked dequeuers. Pending queued messages are dropped.
func (mb *mailboxImpl) deactivate() {
	if !mb.state.CompareAndSwap(stateActivated, stateDeactivated) {
		return
	}
	if mb.trans != nil {
		mb.trans.stop()
	}
	mb.cancelAllTimers()
	mb.queue.close()
	mb.logger.Info("mailbox deactivated")
}

// scheduleTimer arms a timer for the message's timeout. On expiration
// the observed wall time is stamped and the message is posted onto the
// same queue ordinary messages use, so dispatch honors priority and
// handler bindings. A nonzero restart interval re-arms on the same
// cadence, mirroring interval timers.
func (mb *mailboxImpl) scheduleTimer(tm *TimerMessage) (TimerID, error) {
	if mb.state.Load() != stateActivated {
		return 0, ErrInactiveMailbox
	}
	mb.timersMu.Lock()
	defer mb.timersMu.Unlock()

	if int(mb.activeTimers.Load()) >= mb.cfg.MaxTimers {
		return 0, ErrTimerExhausted
	}
	id := tm.TimerID()
	mb.timers[id] = time.AfterFunc(tm.Timeout, func() { mb.fireTimer(id, tm) })
	mb.activeTimers.Add(1)
	mb.metrics.SetActiveTimers(mb.address.MailboxName, int(mb.activeTimers.Load()))
	return id, nil
}

func (mb *mailboxImpl) fireTimer(id TimerID, tm *TimerMessage) {
	mb.timersMu.Lock()
	_, live := mb.timers[id]
	if live {
		if tm.RestartInterval > 0 {
			mb.timers[id] = time.AfterFunc(tm.RestartInterval, func() { mb.fireTimer(id, tm) })
		} else {
			delete(mb.timers, id)
			mb.activeTimers.Add(-1)
		}
	}
	mb.timersMu.Unlock()
	if !live {
		return
	}
	mb.metrics.SetActiveTimers(mb.address.MailboxName, int(mb.activeTimers.Load()))

	tm.stampExpiration(time.Now())
	if err := mb.post(tm); err != nil {
		mb.logger.Warnf("timer %d expiration dropped: %v", id, err)
	}
}

// cancelTimer removes a pending expiration. A message already enqueued
// is still delivered; there is no in-queue cancellation.
func (mb *mailboxImpl) cancelTimer(id TimerID) bool {
	mb.timersMu.Lock()
	defer mb.timersMu.Unlock()

	t, ok := mb.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(mb.timers, id)
	mb.activeTimers.Add(-1)
	mb.metrics.SetActiveTimers(mb.address.MailboxName, int(mb.activeTimers.Load()))
	return true
}

func (mb *mailboxImpl) cancelAllTimers() {
	mb.timersMu.Lock()
	defer mb.timersMu.Unlock()
	for id, t := range mb.timers {
		t.Stop()
		delete(mb.timers, id)
	}
	mb.activeTimers.Store(0)
	mb.metrics.SetActiveTimers(mb.address.MailboxName, 0)
}

// destroy runs when the last reference is released: deactivate, then
// deregister from the lookup service, then mark destroyed.
func (mb *mailboxImpl) destroy() {
	mb.deactivate()
	if mb.lookup != nil {
		mb.lookup.deregisterImpl(mb)
	}
	mb.state.Store(stateDestroyed)
	mb.logger.Debugf("mailbox destroyed")
}

// stats snapshots the mailbox for debug surfaces.
func (mb *mailboxImpl) stats() MailboxStats {
	return MailboxStats{
		Name:         mb.address.MailboxName,
		Location:     mb.address.LocationType.String(),
		State:        mb.stateName(),
		QueueDepth:   mb.queue.depth(),
		Posted:       mb.posted.Load(),
		Received:     mb.received.Load(),
		ActiveTimers: mb.activeTimers.Load(),
		References:   mb.refCount.Load(),
	}
}

// deliverInbound is the shared path for transport receivers: count the
// arrival and enqueue. Errors are logged by the caller with transport
// context.
func (mb *mailboxImpl) deliverInbound(msg Message) error {
	if err := mb.post(msg); err != nil {
		return err
	}
	mb.received.Add(1)
	mb.metrics.RecordReceived(mb.address.MailboxName)
	return nil
}

func (mb *mailboxImpl) String() string {
	return fmt.Sprintf("Mailbox[%s state=%s depth=%d refs=%d]",
		mb.address.MailboxName, mb.stateName(), mb.queue.depth(), mb.refCount.Load())
}
