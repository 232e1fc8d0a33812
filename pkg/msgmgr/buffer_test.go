package msgmgr

import (
	"testing"

	"github.com/fluxorio/msgmgr/pkg/opm"
)

func TestBufferScalarRoundTrip(t *testing.T) {
	for _, netConvert := range []bool{true, false} {
		buf := NewMessageBuffer(256, netConvert)
		buf.InsertInt32(-42)
		buf.InsertUint32(0xDEADBEEF)
		buf.InsertUint16(12775)
		buf.InsertUint8(7)
		buf.InsertBool(true)
		buf.InsertString("hello")

		var i int32
		var u uint32
		var s uint16
		var b uint8
		var ok bool
		var str string
		buf.ExtractInt32(&i)
		buf.ExtractUint32(&u)
		buf.ExtractUint16(&s)
		buf.ExtractUint8(&b)
		buf.ExtractBool(&ok)
		buf.ExtractString(&str)

		if i != -42 || u != 0xDEADBEEF || s != 12775 || b != 7 || !ok || str != "hello" {
			t.Errorf("netConvert=%v: round trip mismatch: %d %x %d %d %v %q", netConvert, i, u, s, b, ok, str)
		}
		if !buf.IsDrained() {
			t.Errorf("netConvert=%v: buffer should be drained", netConvert)
		}
	}
}

func TestBufferAddressRoundTripRemote(t *testing.T) {
	a := DistributedAddress("FaultManager", LocalIPAddress, FaultManagerPort)
	a.NEID = "NE-4"
	a.ShelfNumber = 1
	a.SlotNumber = 9
	a.RedundantRole = RoleActive

	buf := NewMessageBuffer(256, true)
	buf.InsertAddress(a)

	var out MailboxAddress
	buf.ExtractAddress(&out)

	if !out.Equal(a) {
		t.Errorf("address round trip mismatch:\n  in:  %s\n  out: %s", a, out)
	}
}

func TestBufferAddressRoundTripLocal(t *testing.T) {
	a := LocalAddress("Worker")

	buf := NewMessageBuffer(64, true)
	buf.InsertAddress(a)

	var out MailboxAddress
	buf.ExtractAddress(&out)

	if out.LocationType != LocationLocal || out.MailboxName != "Worker" {
		t.Errorf("local address round trip mismatch: %s", out)
	}
}

func TestBufferOverflowIsNoOp(t *testing.T) {
	buf := NewMessageBuffer(4, true)
	buf.InsertUint32(1)
	buf.InsertUint32(2) // no room

	if buf.Len() != 4 {
		t.Errorf("overflowing insert should be a no-op, len=%d", buf.Len())
	}
	if !buf.Overflowed() {
		t.Error("overflow flag should be set")
	}

	buf.Clear()
	if buf.Overflowed() {
		t.Error("Clear should reset the overflow flag")
	}
}

func TestBufferUnderflowIsNoOp(t *testing.T) {
	buf := NewMessageBuffer(16, true)
	buf.InsertUint16(5)

	var a, b uint16
	buf.ExtractUint16(&a)
	buf.ExtractUint16(&b) // drained

	if a != 5 {
		t.Errorf("first extract = %d, want 5", a)
	}
	if b != 0 {
		t.Errorf("underflowing extract should leave the target untouched, got %d", b)
	}
}

func TestBufferAssign(t *testing.T) {
	src := NewMessageBuffer(64, true)
	src.InsertUint32(99)

	dst := NewMessageBuffer(64, true)
	dst.Assign(src.Raw())

	var v uint32
	dst.ExtractUint32(&v)
	if v != 99 {
		t.Errorf("Assign round trip = %d, want 99", v)
	}
}

func TestBufferPoolParticipation(t *testing.T) {
	mgr := opm.NewManager(nil)
	pool, err := mgr.CreatePool(opm.PoolConfig{
		ID:       "wire-buffers",
		Capacity: 2,
		New:      func() opm.Poolable { return NewMessageBuffer(MaxMessageLength, true) },
	})
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}

	obj, err := pool.Reserve()
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	buf := obj.(*MessageBuffer)
	buf.InsertUint32(7)

	if err := pool.Release(buf); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Clean should reset the buffer, len=%d", buf.Len())
	}
}

func TestBufferTruncatedAddressRejected(t *testing.T) {
	buf := NewMessageBuffer(64, true)
	// A total-size field claiming more bytes than the buffer holds.
	buf.InsertUint16(60)
	buf.InsertUint32(uint32(LocationDistributed))

	var out MailboxAddress
	buf.ExtractAddress(&out)

	if out.LocationType != LocationUnknown {
		t.Errorf("truncated address block should not be applied, got %s", out)
	}
}
