package msgmgr

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire framing for the distributed and group transports. Each message is
// framed as
//
//	offset 0: uint16 total payload length (network order)
//	offset 2: uint16 message id           (network order)
//	offset 4: serialized message fields (address block, version, ...)
//
// The total length counts every byte after the length field itself. One
// datagram carries exactly one frame; streams carry frames back to back.
const (
	frameHeaderLen = 2
	// minFramePayload is just the message id: a message with no fields.
	minFramePayload = 2
	maxFramePayload = MaxMessageLength - frameHeaderLen
)

// encodeFrame serializes a message into a complete wire frame.
func encodeFrame(msg Message) ([]byte, error) {
	buf := NewMessageBuffer(MaxMessageLength, true)
	buf.InsertUint16(0) // patched with the total below
	buf.InsertUint16(msg.MessageID())
	if err := msg.Serialize(buf); err != nil {
		return nil, fmt.Errorf("serializing message id 0x%04x: %w", msg.MessageID(), err)
	}
	if buf.Overflowed() {
		return nil, fmt.Errorf("%w: message id 0x%04x", ErrFrameTooLarge, msg.MessageID())
	}
	raw := buf.Raw()
	binary.BigEndian.PutUint16(raw[0:2], uint16(len(raw)-frameHeaderLen))
	return raw, nil
}

// readFrame reads one length-prefixed frame from a stream, returning the
// payload (message id plus fields). Partial reads block inside ReadFull
// until the frame completes; an impossible length is a framing error and
// the caller resets the peer.
func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	total := int(binary.BigEndian.Uint16(header[:]))
	if total < minFramePayload || total > maxFramePayload {
		return nil, fmt.Errorf("%w: impossible payload length %d", ErrWireFraming, total)
	}
	payload := make([]byte, total)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: truncated frame: %v", ErrWireFraming, err)
	}
	return payload, nil
}

// decodeDatagram validates a datagram as a single self-contained frame
// and returns the payload.
func decodeDatagram(data []byte) ([]byte, error) {
	if len(data) < frameHeaderLen+minFramePayload {
		return nil, fmt.Errorf("%w: short datagram (%d bytes)", ErrWireFraming, len(data))
	}
	total := int(binary.BigEndian.Uint16(data[0:2]))
	if total < minFramePayload || total > maxFramePayload || frameHeaderLen+total > len(data) {
		return nil, fmt.Errorf("%w: datagram claims %d payload bytes, has %d", ErrWireFraming, total, len(data)-frameHeaderLen)
	}
	return data[frameHeaderLen : frameHeaderLen+total], nil
}

// recreatePayload rebuilds a typed message from a frame payload.
func recreatePayload(factory *MessageFactory, payload []byte) (Message, error) {
	buf := NewMessageBuffer(len(payload), true)
	buf.Assign(payload)
	return factory.Recreate(buf)
}
