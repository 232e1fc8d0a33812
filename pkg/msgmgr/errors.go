package msgmgr

import "errors"

// Framework error taxonomy. All failures surface as one of these values
// (possibly wrapped); no panics cross the framework boundary for runtime
// conditions.
var (
	// ErrLookupMiss means no mailbox exists for the requested address.
	ErrLookupMiss = errors.New("msgmgr: no mailbox for address")

	// ErrDuplicateRegistration means an identical local registration
	// already exists.
	ErrDuplicateRegistration = errors.New("msgmgr: duplicate mailbox registration")

	// ErrQueueFull means the bounded queue rejected a post.
	ErrQueueFull = errors.New("msgmgr: mailbox queue full")

	// ErrWireFraming means incoming bytes do not form a valid frame.
	ErrWireFraming = errors.New("msgmgr: invalid wire frame")

	// ErrUnknownMessageID means a well-formed frame carries an id that is
	// not registered with the MessageFactory.
	ErrUnknownMessageID = errors.New("msgmgr: unknown message id")

	// ErrTransportDown means a proxy write or connection failed. A
	// distributed proxy returns it for a write error only after its one
	// rebuild-and-retry attempt; a group proxy does not retry.
	ErrTransportDown = errors.New("msgmgr: transport down")

	// ErrInactiveMailbox means a post was attempted before activation or
	// after deactivation.
	ErrInactiveMailbox = errors.New("msgmgr: mailbox not activated")

	// ErrTimerExhausted means the mailbox cannot accept another timer.
	ErrTimerExhausted = errors.New("msgmgr: timer resources exhausted")

	// ErrFrameTooLarge means a serialized message exceeded the maximum
	// frame size at post time.
	ErrFrameTooLarge = errors.New("msgmgr: frame exceeds maximum length")
)
