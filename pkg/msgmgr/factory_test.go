package msgmgr

import (
	"errors"
	"testing"
)

func TestFactoryRecreateRoundTrip(t *testing.T) {
	factory := NewMessageFactory(nil)
	factory.RegisterSupport(MsgIDTestDistributed, deserializeWireTestMessage)

	src := DistributedAddress("Sender", LocalIPAddress, 12900)
	in := newWireTestMessage(src, 42, "abc")

	frame, err := encodeFrame(in)
	if err != nil {
		t.Fatalf("encodeFrame failed: %v", err)
	}
	payload, err := decodeDatagram(frame)
	if err != nil {
		t.Fatalf("decodeDatagram failed: %v", err)
	}

	msg, err := recreatePayload(factory, payload)
	if err != nil {
		t.Fatalf("recreate failed: %v", err)
	}
	out, ok := msg.(*wireTestMessage)
	if !ok {
		t.Fatalf("recreate returned %T", msg)
	}
	if out.Number != 42 || out.Text != "abc" {
		t.Errorf("payload mismatch: %d %q", out.Number, out.Text)
	}
	if !out.SourceAddress().Equal(src) {
		t.Errorf("source mismatch: %s", out.SourceAddress())
	}
	if out.Version() != in.Version() {
		t.Errorf("version mismatch: %d vs %d", out.Version(), in.Version())
	}
}

func TestFactoryUnknownID(t *testing.T) {
	factory := NewMessageFactory(nil)

	buf := NewMessageBuffer(16, true)
	buf.InsertUint16(0x03FF)

	if _, err := factory.Recreate(buf); !errors.Is(err, ErrUnknownMessageID) {
		t.Errorf("recreate of unknown id = %v, want ErrUnknownMessageID", err)
	}
}

func TestFactoryReplacesBinding(t *testing.T) {
	factory := NewMessageFactory(nil)
	factory.RegisterSupport(MsgIDTest1, func(buf *MessageBuffer) (Message, error) {
		return newTestMessage(MailboxAddress{}, "old"), nil
	})
	factory.RegisterSupport(MsgIDTest1, func(buf *MessageBuffer) (Message, error) {
		return newTestMessage(MailboxAddress{}, "new"), nil
	})

	buf := NewMessageBuffer(16, true)
	buf.InsertUint16(MsgIDTest1)
	msg, err := factory.Recreate(buf)
	if err != nil {
		t.Fatalf("recreate failed: %v", err)
	}
	if got := msg.(*testMessage).Text; got != "new" {
		t.Errorf("recreate used %q deserializer, want the replacement", got)
	}
}

func TestFrameTooLargeRejectedAtPostTime(t *testing.T) {
	in := newWireTestMessage(MailboxAddress{}, 1, string(make([]byte, 255)))
	// Inflate past the frame cap with repeated serialization through a
	// message whose payload cannot fit.
	big := &oversizeMessage{}
	if _, err := encodeFrame(big); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("encodeFrame of oversize message = %v, want ErrFrameTooLarge", err)
	}
	if _, err := encodeFrame(in); err != nil {
		t.Errorf("encodeFrame of normal message failed: %v", err)
	}
}

// oversizeMessage serializes more bytes than a frame can carry.
type oversizeMessage struct {
	MessageBase
}

func (m *oversizeMessage) MessageID() uint16 { return MsgIDTest2 }

func (m *oversizeMessage) Serialize(buf *MessageBuffer) error {
	m.SerializeBase(buf)
	for i := 0; i < MaxMessageLength/4+2; i++ {
		buf.InsertUint32(uint32(i))
	}
	return nil
}

func (m *oversizeMessage) String() string { return "oversizeMessage" }
