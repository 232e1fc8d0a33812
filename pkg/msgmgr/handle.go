package msgmgr

import (
	"sync/atomic"

	"github.com/fluxorio/msgmgr/pkg/core/failfast"
	"github.com/google/uuid"
)

// MailboxHandle is a non-owning reference to a mailbox. Each live handle
// holds one reference; releasing the last one deactivates the mailbox,
// deregisters it from the lookup service and destroys it.
//
// Handles are safe to Post on concurrently. Releasing a handle twice, or
// using it after release, is a programming error and panics.
type MailboxHandle struct {
	mb       *mailboxImpl
	id       string
	released atomic.Bool
}

func newHandle(mb *mailboxImpl) *MailboxHandle {
	mb.refCount.Add(1)
	return &MailboxHandle{mb: mb, id: uuid.NewString()}
}

func (h *MailboxHandle) checkLive() {
	failfast.If(!h.released.Load(), "mailbox handle %s used after release", h.id)
	failfast.If(h.mb.state.Load() != stateDestroyed, "mailbox %s already destroyed", h.mb.address.MailboxName)
}

// ID returns the unique id of this handle.
func (h *MailboxHandle) ID() string { return h.id }

// Address returns the mailbox's address.
func (h *MailboxHandle) Address() MailboxAddress {
	return h.mb.address
}

// Post enqueues a message. Fails with ErrInactiveMailbox before
// activation or after deactivation, and ErrQueueFull past the
// high-water mark.
func (h *MailboxHandle) Post(msg Message) error {
	h.checkLive()
	return h.mb.post(msg)
}

// ScheduleTimer arms the timer message on the mailbox and returns a
// timer id usable with CancelTimer.
func (h *MailboxHandle) ScheduleTimer(tm *TimerMessage) (TimerID, error) {
	h.checkLive()
	return h.mb.scheduleTimer(tm)
}

// CancelTimer removes a pending expiration. A timer message already in
// the queue is still delivered. Returns false when no such timer is
// armed.
func (h *MailboxHandle) CancelTimer(id TimerID) bool {
	h.checkLive()
	return h.mb.cancelTimer(id)
}

// Acquire returns a new handle to the same mailbox, taking one more
// reference.
func (h *MailboxHandle) Acquire() *MailboxHandle {
	h.checkLive()
	return newHandle(h.mb)
}

// Release drops this handle's reference. The last release destroys the
// mailbox: deactivate, deregister, destroy, in that order.
func (h *MailboxHandle) Release() {
	failfast.If(h.released.CompareAndSwap(false, true), "mailbox handle %s released twice", h.id)
	if h.mb.refCount.Add(-1) == 0 {
		h.mb.destroy()
	}
}

// Stats snapshots the mailbox for debug output.
func (h *MailboxHandle) Stats() MailboxStats {
	return h.mb.stats()
}

// MailboxOwnerHandle is the distinguished handle returned by mailbox
// creation. Only the owner may activate or deactivate the mailbox or
// bind handlers; every other handle can only post and schedule timers.
type MailboxOwnerHandle struct {
	MailboxHandle
}

func newOwnerHandle(mb *mailboxImpl) *MailboxOwnerHandle {
	mb.refCount.Add(1)
	return &MailboxOwnerHandle{MailboxHandle{mb: mb, id: uuid.NewString()}}
}

// Activate transitions the mailbox to the activated state and starts the
// transport receiver, if any. Posts are rejected in every other state.
func (h *MailboxOwnerHandle) Activate() error {
	h.checkLive()
	return h.mb.activate()
}

// Deactivate drains the reactor and ceases posts. Pending timers are
// discarded.
func (h *MailboxOwnerHandle) Deactivate() {
	h.checkLive()
	h.mb.deactivate()
}

// AddHandler binds a handler for a message id. A duplicate bind replaces
// the prior handler.
func (h *MailboxOwnerHandle) AddHandler(id uint16, handler MessageHandler) {
	failfast.NotNil(handler, "message handler")
	h.checkLive()
	h.mb.addHandler(id, handler)
}
