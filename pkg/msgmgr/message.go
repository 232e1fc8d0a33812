package msgmgr

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrNotSerializable is returned by the default Serialize implementation.
// Only messages that cross a distributed or group transport need to
// marshal themselves.
var ErrNotSerializable = errors.New("msgmgr: message does not implement serialization")

// Message is the contract every message in the system satisfies. Concrete
// messages embed MessageBase and add their own fields, a MessageID and a
// String method.
type Message interface {
	// MessageID returns the registered 16 bit id for this message type.
	MessageID() uint16

	// Priority returns the queue priority. Default 0; higher values are
	// dequeued ahead of lower ones.
	Priority() uint32

	// Version returns the message version number.
	Version() uint32

	// SourceAddress returns the address of the mailbox that sent the
	// message.
	SourceAddress() MailboxAddress

	// IsReusable reports whether the dispatcher must leave the message
	// intact after the handler runs.
	IsReusable() bool

	// Serialize marshals the message into the buffer in wire order:
	// source address block, version, then message-specific fields.
	Serialize(buf *MessageBuffer) error

	// String renders the message for debug output.
	String() string
}

// MessageHandler is a per-id callback bound into a mailbox's handler
// table.
type MessageHandler func(msg Message) error

// DeserializeFunc reconstructs a typed message from a buffer positioned
// just past the message id.
type DeserializeFunc func(buf *MessageBuffer) (Message, error)

// MessageBase carries the fields common to every message. It is meant to
// be embedded, never used on its own.
type MessageBase struct {
	source        MailboxAddress
	version       uint32
	sourceContext uint32
	destContext   uint32
	priority      uint32
	reusable      bool
}

// NewMessageBase builds the embedded base for a concrete message.
func NewMessageBase(source MailboxAddress, version uint32) MessageBase {
	return MessageBase{source: source, version: version}
}

// NewContextMessageBase builds a base carrying application context ids.
func NewContextMessageBase(source MailboxAddress, version, sourceContext, destContext uint32) MessageBase {
	return MessageBase{
		source:        source,
		version:       version,
		sourceContext: sourceContext,
		destContext:   destContext,
	}
}

func (m *MessageBase) Priority() uint32 { return m.priority }

// SetPriority flags the message for re-ordering in the mailbox queue.
// Priorities greater than 0 overtake queued messages of lower priority.
func (m *MessageBase) SetPriority(p uint32) { m.priority = p }

func (m *MessageBase) Version() uint32 { return m.version }

// SetVersion is used by the framework to re-apply the version number
// after deserialization.
func (m *MessageBase) SetVersion(v uint32) { m.version = v }

func (m *MessageBase) SourceAddress() MailboxAddress { return m.source }

// SourceContextID returns the application-defined source context.
func (m *MessageBase) SourceContextID() uint32 { return m.sourceContext }

// DestinationContextID returns the application-defined destination
// context.
func (m *MessageBase) DestinationContextID() uint32 { return m.destContext }

func (m *MessageBase) IsReusable() bool { return m.reusable }

// SetReusable marks the message as surviving handler invocation.
func (m *MessageBase) SetReusable(reusable bool) { m.reusable = reusable }

// Serialize is the default implementation; messages that never cross a
// remote transport inherit it.
func (m *MessageBase) Serialize(buf *MessageBuffer) error {
	return ErrNotSerializable
}

// SerializeBase writes the common wire prefix: the source address block
// followed by the version number. Concrete serializers call this first.
func (m *MessageBase) SerializeBase(buf *MessageBuffer) {
	buf.InsertAddress(m.source)
	buf.InsertUint32(m.version)
}

// DeserializeBase reads the common wire prefix written by SerializeBase.
func (m *MessageBase) DeserializeBase(buf *MessageBuffer) {
	buf.ExtractAddress(&m.source)
	buf.ExtractUint32(&m.version)
}

// SerializeContexts writes the optional context id pair. Message types
// that carry contexts call this immediately after SerializeBase.
func (m *MessageBase) SerializeContexts(buf *MessageBuffer) {
	buf.InsertUint32(m.sourceContext)
	buf.InsertUint32(m.destContext)
}

// DeserializeContexts reads the context id pair.
func (m *MessageBase) DeserializeContexts(buf *MessageBuffer) {
	buf.ExtractUint32(&m.sourceContext)
	buf.ExtractUint32(&m.destContext)
}

// timerSeq feeds locally unique timer ids.
var timerSeq atomic.Uint64

// TimerMessage is a message delivered through a mailbox's timer machinery
// instead of a post. Scheduling it arms a one-shot timer; a nonzero
// RestartInterval makes it recurring, which implicitly marks it reusable
// so the dispatcher never consumes it.
type TimerMessage struct {
	MessageBase

	// Timeout is the delay before first expiration.
	Timeout time.Duration

	// RestartInterval, when nonzero, re-arms the timer at each
	// expiration, before the message is queued; the re-arm does not
	// wait for the handler to return.
	RestartInterval time.Duration

	// expiration is the wall time observed when the timer fired, not the
	// scheduled time; handlers can subtract to measure queue latency.
	expiration time.Time

	id TimerID
}

// TimerID identifies a scheduled timer for cancellation.
type TimerID uint64

// NewTimerMessage creates a timer message. A nonzero restartInterval
// makes the timer recurring and the message reusable.
func NewTimerMessage(source MailboxAddress, version uint32, timeout, restartInterval time.Duration) *TimerMessage {
	t := &TimerMessage{
		MessageBase:     NewMessageBase(source, version),
		Timeout:         timeout,
		RestartInterval: restartInterval,
		id:              TimerID(timerSeq.Add(1)),
	}
	if restartInterval > 0 {
		t.SetReusable(true)
	}
	return t
}

func (t *TimerMessage) MessageID() uint16 { return MsgIDBaseTimer }

// TimerID returns the id usable with CancelTimer.
func (t *TimerMessage) TimerID() TimerID { return t.id }

// ExpirationTime returns the wall time stamped when the timer fired.
func (t *TimerMessage) ExpirationTime() time.Time { return t.expiration }

// stampExpiration records the observed expiration time; called by the
// mailbox timer machinery just before the message is enqueued.
func (t *TimerMessage) stampExpiration(now time.Time) { t.expiration = now }

func (t *TimerMessage) String() string {
	return fmt.Sprintf("TimerMessage[id=%d timeout=%v restart=%v expired=%s]",
		t.id, t.Timeout, t.RestartInterval, t.expiration.Format(time.RFC3339Nano))
}
