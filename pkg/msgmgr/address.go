package msgmgr

import (
	"fmt"
	"net"
	"strconv"
)

// LocationType describes the kind of communication a mailbox is capable of.
type LocationType int32

const (
	LocationUnknown LocationType = iota
	// LocationLocal is for threads within the same process exchanging
	// messages by pointer. No copy is made.
	LocationLocal
	// LocationLocalSharedMemory is for processes on the same node
	// exchanging messages through a shared memory queue. A copy is made
	// but no byte-order conversion is performed.
	LocationLocalSharedMemory
	// LocationDistributed is for processes on different nodes exchanging
	// messages over a TCP stream. Messages are serialized.
	LocationDistributed
	// LocationGroup is for posting to multiple nodes simultaneously over
	// a multicast or broadcast datagram socket. Messages are serialized.
	LocationGroup
)

func (t LocationType) String() string {
	switch t {
	case LocationLocal:
		return "Local"
	case LocationLocalSharedMemory:
		return "LocalSharedMemory"
	case LocationDistributed:
		return "Distributed"
	case LocationGroup:
		return "Group"
	}
	return "Unknown"
}

// isRemote reports whether the location participates in discovery, meaning
// other nodes can address it over the network.
func (t LocationType) isRemote() bool {
	return t == LocationDistributed || t == LocationGroup
}

// AddressType describes whether a mailbox serves a physical function tied
// to a specific card or a logical function that may float across a
// redundant pair.
type AddressType int32

const (
	AddressTypeUnknown AddressType = iota
	AddressTypePhysical
	AddressTypeLogical
)

func (t AddressType) String() string {
	switch t {
	case AddressTypePhysical:
		return "Physical"
	case AddressTypeLogical:
		return "Logical"
	}
	return "Unknown"
}

// RedundantRole is the redundancy role of the application behind a mailbox.
type RedundantRole int32

const (
	RoleUnknown RedundantRole = iota
	RoleStandby
	RoleActive
	RoleLoadshared
)

func (r RedundantRole) String() string {
	switch r {
	case RoleStandby:
		return "Standby"
	case RoleActive:
		return "Active"
	case RoleLoadshared:
		return "Loadshared"
	}
	return "Unknown"
}

// MailboxAddress identifies a mailbox anywhere in the system. The zero
// value is the fully-unknown address; unknown fields act as wildcards for
// Matches.
type MailboxAddress struct {
	// LocationType is the transport the mailbox participates in.
	LocationType LocationType

	// AddressType marks the mailbox as physical or logical.
	AddressType AddressType

	// ShelfNumber and SlotNumber locate the hosting card geographically.
	ShelfNumber int32
	SlotNumber  int32

	// MailboxName is the application-given well-known name.
	MailboxName string

	// NEID is the network element identifier of the hosting node.
	NEID string

	// IP and Port address the mailbox's socket. The loopback IP can be
	// used for on-card distributed communication.
	IP   string
	Port uint16

	// RedundantRole is the redundancy role of the owning application.
	RedundantRole RedundantRole
}

// Inet renders the socket coordinates as "ip:port".
func (a MailboxAddress) Inet() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(int(a.Port)))
}

// Equal reports field-for-field equality.
func (a MailboxAddress) Equal(rhs MailboxAddress) bool {
	return a == rhs
}

// orderingKey is the sort key used by the registries: name, then location,
// then socket coordinates. Remaining fields deliberately do not
// participate in ordering.
func (a MailboxAddress) orderingKey() string {
	return a.MailboxName + "\x00" + strconv.Itoa(int(a.LocationType)) + "\x00" + a.Inet()
}

// Less orders addresses by (name, location, ip:port). This is the only
// comparison the registries rely on.
func (a MailboxAddress) Less(rhs MailboxAddress) bool {
	return a.orderingKey() < rhs.orderingKey()
}

// Matches applies the filter-matching algorithm: every non-default field of
// the criteria must match the candidate, and at least one field of the
// criteria must be non-default. When the candidate is a local mailbox only
// the location and the name are compared; the remaining fields have no
// meaning for an in-process mailbox and are ignored even when the criteria
// sets them.
func Matches(criteria, candidate MailboxAddress) bool {
	if criteria == (MailboxAddress{}) {
		return false
	}

	if criteria.LocationType != LocationUnknown && criteria.LocationType != candidate.LocationType {
		return false
	}
	if candidate.LocationType == LocationLocal {
		return criteria.MailboxName == "" || criteria.MailboxName == candidate.MailboxName
	}
	if criteria.AddressType != AddressTypeUnknown && criteria.AddressType != candidate.AddressType {
		return false
	}
	if criteria.ShelfNumber != 0 && criteria.ShelfNumber != candidate.ShelfNumber {
		return false
	}
	if criteria.SlotNumber != 0 && criteria.SlotNumber != candidate.SlotNumber {
		return false
	}
	if criteria.MailboxName != "" && criteria.MailboxName != candidate.MailboxName {
		return false
	}
	if criteria.NEID != "" && criteria.NEID != candidate.NEID {
		return false
	}
	if criteria.IP != "" && criteria.IP != candidate.IP {
		return false
	}
	if criteria.Port != 0 && criteria.Port != candidate.Port {
		return false
	}
	if criteria.RedundantRole != RoleUnknown && criteria.RedundantRole != candidate.RedundantRole {
		return false
	}
	return true
}

// String renders the address for debug output.
func (a MailboxAddress) String() string {
	return fmt.Sprintf("MailboxAddress[name=%s location=%s type=%s shelf=%d slot=%d neid=%s inet=%s role=%s]",
		a.MailboxName, a.LocationType, a.AddressType, a.ShelfNumber, a.SlotNumber, a.NEID, a.Inet(), a.RedundantRole)
}

// splitInet parses an "ip:port" string produced by Inet.
func splitInet(s string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return host, uint16(port), nil
}

// LocalAddress builds an address for an in-process mailbox.
func LocalAddress(name string) MailboxAddress {
	return MailboxAddress{
		LocationType: LocationLocal,
		MailboxName:  name,
	}
}

// DistributedAddress builds an address for a TCP-reachable mailbox.
func DistributedAddress(name, ip string, port uint16) MailboxAddress {
	return MailboxAddress{
		LocationType: LocationDistributed,
		AddressType:  AddressTypePhysical,
		MailboxName:  name,
		IP:           ip,
		Port:         port,
	}
}

// GroupAddress builds an address for a multicast or broadcast mailbox.
func GroupAddress(name, ip string, port uint16) MailboxAddress {
	return MailboxAddress{
		LocationType: LocationGroup,
		AddressType:  AddressTypeLogical,
		MailboxName:  name,
		IP:           ip,
		Port:         port,
	}
}
