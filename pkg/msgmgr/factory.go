package msgmgr

import (
	"fmt"
	"sync"

	"github.com/fluxorio/msgmgr/pkg/core"
	"github.com/fluxorio/msgmgr/pkg/core/failfast"
)

// MessageFactory maps message ids to deserializers. It is the only bridge
// from wire bytes back to typed messages: a receiving transport hands the
// factory a buffer and gets a reconstructed message, or nil when the id
// is unknown.
//
// Each process typically uses one factory shared by all of its mailboxes,
// but tests may build isolated instances.
type MessageFactory struct {
	mu       sync.Mutex
	registry map[uint16]DeserializeFunc
	logger   core.Logger
}

// NewMessageFactory creates an empty factory.
func NewMessageFactory(logger core.Logger) *MessageFactory {
	if logger == nil {
		logger = core.NewLogger(core.LoggerConfig{Level: "INFO", Subsystem: "msgmgr"})
	}
	return &MessageFactory{
		registry: make(map[uint16]DeserializeFunc),
		logger:   logger,
	}
}

// RegisterSupport binds a deserializer to a message id, replacing any
// prior binding.
func (f *MessageFactory) RegisterSupport(id uint16, fn DeserializeFunc) {
	failfast.NotNil(fn, "deserializer")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.registry[id]; exists {
		f.logger.Debugf("replacing deserializer for message id 0x%04x", id)
	}
	f.registry[id] = fn
}

// Recreate reads the leading 16 bit message id from the buffer, looks up
// the registered deserializer and invokes it. An unknown id is a warning,
// not an error: the transport discards the frame and keeps running.
func (f *MessageFactory) Recreate(buf *MessageBuffer) (Message, error) {
	var id uint16
	buf.ExtractUint16(&id)

	f.mu.Lock()
	fn, ok := f.registry[id]
	f.mu.Unlock()

	if !ok {
		f.logger.Warnf("no deserializer registered for message id 0x%04x", id)
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnknownMessageID, id)
	}

	msg, err := fn(buf)
	if err != nil {
		return nil, fmt.Errorf("deserializing message id 0x%04x: %w", id, err)
	}
	return msg, nil
}
