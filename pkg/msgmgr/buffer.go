package msgmgr

import (
	"encoding/binary"
	"fmt"

	"github.com/fluxorio/msgmgr/pkg/core"
)

// MaxMessageLength is the hard cap on a serialized message frame,
// including the framing header. Posts that would exceed it fail with
// ErrFrameTooLarge.
const MaxMessageLength = 4096

// bufLog is the logger for buffer overflow/underflow diagnostics. The
// buffer is a hot-path value type, so it does not carry its own logger.
var bufLog = core.NewLogger(core.LoggerConfig{Level: "INFO", Subsystem: "msgmgr"})

// SetBufferLogger replaces the logger used for serialization diagnostics.
func SetBufferLogger(l core.Logger) {
	if l != nil {
		bufLog = l
	}
}

// MessageBuffer wraps the byte array used to serialize and deserialize
// messages. It owns two cursors: an insert position advanced by Insert*
// calls and an extract position advanced by Extract* calls. Overflowing
// the capacity or draining past the inserted contents logs an error and
// leaves the buffer unchanged.
//
// Multi-byte integers are converted to network byte order when network
// conversion is enabled (the default for distributed and group
// transports); shared-memory transport disables it. Strings are copied
// verbatim with a one-byte length prefix, which caps them at 255 bytes.
type MessageBuffer struct {
	buf        []byte
	insertPos  int
	extractPos int
	netConvert bool
	overflow   bool
}

// Overflowed reports whether any insertion was rejected for lack of
// capacity since the last Clear. Frame writers check this before
// shipping bytes.
func (b *MessageBuffer) Overflowed() bool {
	return b.overflow
}

// NewMessageBuffer creates an empty buffer of the given capacity.
// A size of 0 uses MaxMessageLength.
func NewMessageBuffer(size int, networkConversion bool) *MessageBuffer {
	if size <= 0 || size > MaxMessageLength {
		size = MaxMessageLength
	}
	return &MessageBuffer{
		buf:        make([]byte, size),
		netConvert: networkConversion,
	}
}

// Assign replaces the buffer contents with received bytes, positioning
// the insert cursor past them so extraction sees exactly len(data) bytes.
func (b *MessageBuffer) Assign(data []byte) {
	if len(data) > len(b.buf) {
		b.buf = make([]byte, len(data))
	}
	copy(b.buf, data)
	b.insertPos = len(data)
	b.extractPos = 0
}

// AssignEmpty replaces the backing array with an empty buffer of the
// given capacity.
func (b *MessageBuffer) AssignEmpty(capacity int) {
	if capacity <= 0 || capacity > MaxMessageLength {
		capacity = MaxMessageLength
	}
	if capacity > len(b.buf) {
		b.buf = make([]byte, capacity)
	}
	b.insertPos = 0
	b.extractPos = 0
}

// Clear resets both cursors, keeping the backing array.
func (b *MessageBuffer) Clear() {
	b.insertPos = 0
	b.extractPos = 0
	b.overflow = false
}

// Clean implements the pool-participant contract so buffers can live in
// object pools.
func (b *MessageBuffer) Clean() {
	b.Clear()
}

// SetNetworkConversion controls host/network byte-order conversion for
// multi-byte integers.
func (b *MessageBuffer) SetNetworkConversion(on bool) {
	b.netConvert = on
}

// Raw returns the serialized contents inserted so far.
func (b *MessageBuffer) Raw() []byte {
	return b.buf[:b.insertPos]
}

// Len returns the number of bytes inserted.
func (b *MessageBuffer) Len() int {
	return b.insertPos
}

// Cap returns the backing array capacity.
func (b *MessageBuffer) Cap() int {
	return len(b.buf)
}

// IsDrained reports whether every inserted byte has been extracted.
func (b *MessageBuffer) IsDrained() bool {
	return b.extractPos >= b.insertPos
}

func (b *MessageBuffer) checkInsert(n int) bool {
	if b.insertPos+n > len(b.buf) {
		bufLog.Errorf("message buffer overflow: need %d bytes at %d, capacity %d", n, b.insertPos, len(b.buf))
		b.overflow = true
		return false
	}
	return true
}

func (b *MessageBuffer) checkExtract(n int) bool {
	if b.extractPos+n > b.insertPos {
		bufLog.Errorf("message buffer drained: need %d bytes at %d, contents %d", n, b.extractPos, b.insertPos)
		return false
	}
	return true
}

func (b *MessageBuffer) putUint16(v uint16) {
	if b.netConvert {
		binary.BigEndian.PutUint16(b.buf[b.insertPos:], v)
	} else {
		binary.LittleEndian.PutUint16(b.buf[b.insertPos:], v)
	}
	b.insertPos += 2
}

func (b *MessageBuffer) putUint32(v uint32) {
	if b.netConvert {
		binary.BigEndian.PutUint32(b.buf[b.insertPos:], v)
	} else {
		binary.LittleEndian.PutUint32(b.buf[b.insertPos:], v)
	}
	b.insertPos += 4
}

func (b *MessageBuffer) getUint16() uint16 {
	var v uint16
	if b.netConvert {
		v = binary.BigEndian.Uint16(b.buf[b.extractPos:])
	} else {
		v = binary.LittleEndian.Uint16(b.buf[b.extractPos:])
	}
	b.extractPos += 2
	return v
}

func (b *MessageBuffer) getUint32() uint32 {
	var v uint32
	if b.netConvert {
		v = binary.BigEndian.Uint32(b.buf[b.extractPos:])
	} else {
		v = binary.LittleEndian.Uint32(b.buf[b.extractPos:])
	}
	b.extractPos += 4
	return v
}

// InsertInt32 appends a signed 32 bit integer.
func (b *MessageBuffer) InsertInt32(v int32) *MessageBuffer {
	if b.checkInsert(4) {
		b.putUint32(uint32(v))
	}
	return b
}

// InsertUint32 appends an unsigned 32 bit integer.
func (b *MessageBuffer) InsertUint32(v uint32) *MessageBuffer {
	if b.checkInsert(4) {
		b.putUint32(v)
	}
	return b
}

// InsertUint16 appends an unsigned 16 bit integer.
func (b *MessageBuffer) InsertUint16(v uint16) *MessageBuffer {
	if b.checkInsert(2) {
		b.putUint16(v)
	}
	return b
}

// InsertUint8 appends a single byte.
func (b *MessageBuffer) InsertUint8(v uint8) *MessageBuffer {
	if b.checkInsert(1) {
		b.buf[b.insertPos] = v
		b.insertPos++
	}
	return b
}

// InsertBool appends a bool as one byte.
func (b *MessageBuffer) InsertBool(v bool) *MessageBuffer {
	var by uint8
	if v {
		by = 1
	}
	return b.InsertUint8(by)
}

// InsertString appends a length-prefixed string. Strings longer than 255
// bytes are rejected.
func (b *MessageBuffer) InsertString(s string) *MessageBuffer {
	if len(s) > 255 {
		bufLog.Errorf("string exceeds length-prefix limit: %d bytes", len(s))
		return b
	}
	if b.checkInsert(1 + len(s)) {
		b.buf[b.insertPos] = uint8(len(s))
		b.insertPos++
		copy(b.buf[b.insertPos:], s)
		b.insertPos += len(s)
	}
	return b
}

// ExtractInt32 reads a signed 32 bit integer.
func (b *MessageBuffer) ExtractInt32(v *int32) *MessageBuffer {
	if b.checkExtract(4) {
		*v = int32(b.getUint32())
	}
	return b
}

// ExtractUint32 reads an unsigned 32 bit integer.
func (b *MessageBuffer) ExtractUint32(v *uint32) *MessageBuffer {
	if b.checkExtract(4) {
		*v = b.getUint32()
	}
	return b
}

// ExtractUint16 reads an unsigned 16 bit integer.
func (b *MessageBuffer) ExtractUint16(v *uint16) *MessageBuffer {
	if b.checkExtract(2) {
		*v = b.getUint16()
	}
	return b
}

// ExtractUint8 reads a single byte.
func (b *MessageBuffer) ExtractUint8(v *uint8) *MessageBuffer {
	if b.checkExtract(1) {
		*v = b.buf[b.extractPos]
		b.extractPos++
	}
	return b
}

// ExtractBool reads a bool.
func (b *MessageBuffer) ExtractBool(v *bool) *MessageBuffer {
	var by uint8
	b.ExtractUint8(&by)
	*v = by != 0
	return b
}

// ExtractString reads a length-prefixed string.
func (b *MessageBuffer) ExtractString(s *string) *MessageBuffer {
	if !b.checkExtract(1) {
		return b
	}
	n := int(b.buf[b.extractPos])
	if !b.checkExtract(1 + n) {
		return b
	}
	b.extractPos++
	*s = string(b.buf[b.extractPos : b.extractPos+n])
	b.extractPos += n
	return b
}

// InsertAddress appends a MailboxAddress. Serialization is polymorphic on
// the location type: local addresses carry only {location, name}; remote
// and shared-memory addresses carry the full field set. All forms are
// preceded by a 16 bit total-size field covering the bytes that follow it.
func (b *MessageBuffer) InsertAddress(a MailboxAddress) *MessageBuffer {
	if a.LocationType == LocationLocal {
		// A local address on the wire is a smell: the receiver cannot
		// route a reply to it. Serialized anyway for completeness.
		bufLog.Developerf("local mailbox address serialized: %s", a.MailboxName)

		total := 4 + 1 + len(a.MailboxName)
		if !b.checkInsert(2 + total) {
			return b
		}
		b.putUint16(uint16(total))
		b.putUint32(uint32(a.LocationType))
		b.buf[b.insertPos] = uint8(len(a.MailboxName))
		b.insertPos++
		copy(b.buf[b.insertPos:], a.MailboxName)
		b.insertPos += len(a.MailboxName)
		return b
	}

	inet := a.Inet()
	total := 4 + // location
		1 + len(a.MailboxName) +
		1 + len(a.NEID) +
		4 + // address type
		4 + 4 + // shelf, slot
		4 + // redundant role
		1 + len(inet)
	if !b.checkInsert(2 + total) {
		return b
	}
	b.putUint16(uint16(total))
	b.putUint32(uint32(a.LocationType))
	b.insertRawString(a.MailboxName)
	b.insertRawString(a.NEID)
	b.putUint32(uint32(a.AddressType))
	b.putUint32(uint32(a.ShelfNumber))
	b.putUint32(uint32(a.SlotNumber))
	b.putUint32(uint32(a.RedundantRole))
	b.insertRawString(inet)
	return b
}

// insertRawString appends a length-prefixed string without capacity
// checks; callers have already sized the write.
func (b *MessageBuffer) insertRawString(s string) {
	b.buf[b.insertPos] = uint8(len(s))
	b.insertPos++
	copy(b.buf[b.insertPos:], s)
	b.insertPos += len(s)
}

// ExtractAddress reads a MailboxAddress written by InsertAddress. The
// total-size prefix bounds every subfield read; a block that claims more
// bytes than the buffer holds is rejected.
func (b *MessageBuffer) ExtractAddress(a *MailboxAddress) *MessageBuffer {
	if !b.checkExtract(2) {
		return b
	}
	total := int(b.getUint16())
	if b.extractPos+total > b.insertPos {
		bufLog.Errorf("address block truncated: claims %d bytes, %d available", total, b.insertPos-b.extractPos)
		b.extractPos -= 2
		return b
	}
	end := b.extractPos + total

	var loc uint32
	b.ExtractUint32(&loc)
	a.LocationType = LocationType(loc)

	if a.LocationType == LocationLocal {
		bufLog.Developer("local mailbox address deserialized")
		b.ExtractString(&a.MailboxName)
		b.extractPos = end
		return b
	}

	var inet string
	var addrType, shelf, slot, role uint32
	b.ExtractString(&a.MailboxName)
	b.ExtractString(&a.NEID)
	b.ExtractUint32(&addrType)
	b.ExtractUint32(&shelf)
	b.ExtractUint32(&slot)
	b.ExtractUint32(&role)
	b.ExtractString(&inet)
	a.AddressType = AddressType(addrType)
	a.ShelfNumber = int32(shelf)
	a.SlotNumber = int32(slot)
	a.RedundantRole = RedundantRole(role)
	if host, port, err := splitInet(inet); err == nil {
		a.IP = host
		a.Port = port
	} else {
		bufLog.Errorf("malformed inet address in address block: %q", inet)
	}
	b.extractPos = end
	return b
}

// String renders cursor state for debug output.
func (b *MessageBuffer) String() string {
	return fmt.Sprintf("MessageBuffer[len=%d cap=%d extracted=%d netConvert=%v]",
		b.insertPos, len(b.buf), b.extractPos, b.netConvert)
}
