package msgmgr

import (
	"net"
	"testing"
	"time"
)

func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("cannot probe for a free UDP port: %v", err)
	}
	port := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	conn.Close()
	return port
}

func TestGroupDatagramRoundTrip(t *testing.T) {
	factory := NewMessageFactory(nil)
	factory.RegisterSupport(MsgIDTestDistributed, deserializeWireTestMessage)

	port := freeUDPPort(t)
	addr := GroupAddress("G", LocalIPAddress, port)
	owner := NewGroupMailbox(addr, MailboxConfig{Factory: factory})
	defer owner.Release()

	got := make(chan *wireTestMessage, 1)
	owner.AddHandler(MsgIDTestDistributed, func(msg Message) error {
		got <- msg.(*wireTestMessage)
		return nil
	})
	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	go NewProcessor(nil, nil, nil).Process(owner, 1)
	defer owner.Deactivate()

	proxy := NewGroupProxy(addr, ProxyOptions{})
	defer proxy.Close()

	if err := proxy.Post(newWireTestMessage(addr, 9, "fan-out")); err != nil {
		t.Fatalf("group post failed: %v", err)
	}

	select {
	case m := <-got:
		if m.Number != 9 || m.Text != "fan-out" {
			t.Errorf("received %d %q", m.Number, m.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("datagram never arrived")
	}
}

func TestGroupMalformedDatagramDiscarded(t *testing.T) {
	factory := NewMessageFactory(nil)
	factory.RegisterSupport(MsgIDTestDistributed, deserializeWireTestMessage)

	port := freeUDPPort(t)
	addr := GroupAddress("G", LocalIPAddress, port)
	owner := NewGroupMailbox(addr, MailboxConfig{Factory: factory})
	defer owner.Release()

	got := make(chan struct{}, 1)
	owner.AddHandler(MsgIDTestDistributed, func(msg Message) error {
		got <- struct{}{}
		return nil
	})
	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	go NewProcessor(nil, nil, nil).Process(owner, 1)
	defer owner.Deactivate()

	// Garbage datagram: logged, discarded, socket stays up.
	junk, err := net.Dial("udp4", addr.Inet())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	junk.Write([]byte{0xFF})
	junk.Close()

	proxy := NewGroupProxy(addr, ProxyOptions{})
	defer proxy.Close()
	if err := proxy.Post(newWireTestMessage(addr, 1, "after")); err != nil {
		t.Fatalf("post after junk failed: %v", err)
	}

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("valid datagram after junk never arrived")
	}
}
