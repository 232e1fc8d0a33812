package msgmgr

import "fmt"

// testMessage is a local-only message carrying a text payload.
type testMessage struct {
	MessageBase
	Text string
}

func newTestMessage(source MailboxAddress, text string) *testMessage {
	return &testMessage{MessageBase: NewMessageBase(source, 1), Text: text}
}

func (m *testMessage) MessageID() uint16 { return MsgIDTest1 }

func (m *testMessage) String() string {
	return fmt.Sprintf("testMessage[%s]", m.Text)
}

// wireTestMessage crosses distributed and group transports carrying an
// integer and a string.
type wireTestMessage struct {
	MessageBase
	Number int32
	Text   string
}

func newWireTestMessage(source MailboxAddress, number int32, text string) *wireTestMessage {
	return &wireTestMessage{MessageBase: NewMessageBase(source, 1), Number: number, Text: text}
}

func (m *wireTestMessage) MessageID() uint16 { return MsgIDTestDistributed }

func (m *wireTestMessage) Serialize(buf *MessageBuffer) error {
	m.SerializeBase(buf)
	buf.InsertInt32(m.Number)
	buf.InsertString(m.Text)
	return nil
}

func deserializeWireTestMessage(buf *MessageBuffer) (Message, error) {
	m := &wireTestMessage{}
	m.DeserializeBase(buf)
	buf.ExtractInt32(&m.Number)
	buf.ExtractString(&m.Text)
	return m, nil
}

func (m *wireTestMessage) String() string {
	return fmt.Sprintf("wireTestMessage[%d %q]", m.Number, m.Text)
}

// pooledTestMessage participates in an object pool.
type pooledTestMessage struct {
	MessageBase
	Text string
}

func (m *pooledTestMessage) MessageID() uint16 { return MsgIDTest2 }

func (m *pooledTestMessage) String() string {
	return fmt.Sprintf("pooledTestMessage[%s]", m.Text)
}

func (m *pooledTestMessage) Clean() {
	m.Text = ""
}
