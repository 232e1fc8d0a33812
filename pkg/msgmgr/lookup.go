package msgmgr

import (
	"sync"

	"github.com/fluxorio/msgmgr/pkg/core"
	"github.com/fluxorio/msgmgr/pkg/metrics"
)

// LookupService resolves mailbox addresses to in-process mailboxes or
// outbound proxies. It owns three process-wide registries:
//
//   - the local registry of mailboxes this process created,
//   - the proxy registry of outbound proxies this process established,
//   - the non-proxy registry of remote-type addresses known to exist
//     anywhere in the fleet, maintained by the discovery protocol.
//
// It is an explicitly constructed service object so tests can stand up
// an isolated messaging universe.
type LookupService struct {
	logger  core.Logger
	metrics *metrics.Metrics

	proxyOpts ProxyOptions

	proxyMu sync.Mutex
	proxies map[string]ProxyMailbox

	localMu sync.Mutex
	local   map[string]*mailboxImpl

	nonProxyMu sync.Mutex
	nonProxy   map[string]MailboxAddress

	discovery *DiscoveryManager
}

// NewLookupService creates an empty lookup service. The proxy options
// apply to every proxy it creates.
func NewLookupService(logger core.Logger, m *metrics.Metrics, proxyOpts ProxyOptions) *LookupService {
	if logger == nil {
		logger = core.NewLogger(core.LoggerConfig{Level: "INFO", Subsystem: "mls"})
	}
	proxyOpts.Logger = logger
	proxyOpts.Metrics = m
	return &LookupService{
		logger:    logger,
		metrics:   m,
		proxyOpts: proxyOpts,
		proxies:   make(map[string]ProxyMailbox),
		local:     make(map[string]*mailboxImpl),
		nonProxy:  make(map[string]MailboxAddress),
	}
}

// AttachDiscovery wires a discovery manager so remote-type registrations
// propagate to the rest of the fleet. Optional; a service without one is
// a single-node universe.
func (s *LookupService) AttachDiscovery(d *DiscoveryManager) {
	s.discovery = d
}

// Poster is the posting surface common to mailbox handles and proxies;
// it is what Find hands back regardless of transport.
type Poster interface {
	Address() MailboxAddress
	Post(msg Message) error
}

// Find resolves an address. For a local address it returns a fresh
// *MailboxHandle to the in-process mailbox — taking a reference the
// caller must Release — or ErrLookupMiss. For a distributed or group
// address it returns the ProxyMailbox for that peer, creating and
// registering one on first lookup.
func (s *LookupService) Find(address MailboxAddress) (Poster, error) {
	switch address.LocationType {
	case LocationLocal:
		s.localMu.Lock()
		mb, ok := s.local[address.MailboxName]
		s.localMu.Unlock()
		if !ok {
			return nil, ErrLookupMiss
		}
		return newHandle(mb), nil

	case LocationDistributed, LocationGroup:
		return s.findOrCreateProxy(address), nil
	}
	return nil, ErrLookupMiss
}

func (s *LookupService) findOrCreateProxy(address MailboxAddress) ProxyMailbox {
	key := address.orderingKey()
	s.proxyMu.Lock()
	defer s.proxyMu.Unlock()

	if p, ok := s.proxies[key]; ok {
		return p
	}
	var p ProxyMailbox
	if address.LocationType == LocationGroup {
		p = NewGroupProxy(address, s.proxyOpts)
	} else {
		p = NewDistributedProxy(address, s.proxyOpts)
	}
	s.proxies[key] = p
	s.logger.Debugf("created %s proxy to %s", address.LocationType, address.Inet())
	return p
}

// Register adds the mailbox behind the owner handle to the local
// registry. A duplicate name is rejected. Remote-type mailboxes are
// announced through the discovery manager so the rest of the fleet
// learns the address.
func (s *LookupService) Register(owner *MailboxOwnerHandle) error {
	mb := owner.mb
	name := mb.address.MailboxName

	s.localMu.Lock()
	if _, exists := s.local[name]; exists {
		s.localMu.Unlock()
		return ErrDuplicateRegistration
	}
	s.local[name] = mb
	mb.lookup = s
	count := len(s.local)
	s.localMu.Unlock()

	s.metrics.SetRegisteredMailboxes(count)
	s.logger.Infof("registered mailbox %q (%s)", name, mb.address.LocationType)

	if mb.address.LocationType.isRemote() && s.discovery != nil {
		if err := s.discovery.RegisterLocalAddress(mb.address); err != nil {
			s.logger.Warnf("discovery registration for %q failed: %v", name, err)
		}
	}
	return nil
}

// Deregister removes the mailbox from the local registry and, for
// remote-type mailboxes, announces the departure.
func (s *LookupService) Deregister(owner *MailboxOwnerHandle) {
	s.deregisterImpl(owner.mb)
}

func (s *LookupService) deregisterImpl(mb *mailboxImpl) {
	name := mb.address.MailboxName

	s.localMu.Lock()
	current, ok := s.local[name]
	if !ok || current != mb {
		s.localMu.Unlock()
		return
	}
	delete(s.local, name)
	count := len(s.local)
	s.localMu.Unlock()

	s.metrics.SetRegisteredMailboxes(count)
	s.logger.Infof("deregistered mailbox %q", name)

	if mb.address.LocationType.isRemote() && s.discovery != nil {
		if err := s.discovery.DeregisterLocalAddress(mb.address); err != nil {
			s.logger.Warnf("discovery deregistration for %q failed: %v", name, err)
		}
	}
}

// Non-proxy registry mutations, driven by the discovery protocol. Set
// semantics make remote updates idempotent.

func (s *LookupService) addNonProxy(address MailboxAddress) bool {
	s.nonProxyMu.Lock()
	defer s.nonProxyMu.Unlock()
	key := address.orderingKey()
	if _, exists := s.nonProxy[key]; exists {
		return false
	}
	s.nonProxy[key] = address
	return true
}

func (s *LookupService) removeNonProxy(address MailboxAddress) bool {
	s.nonProxyMu.Lock()
	defer s.nonProxyMu.Unlock()
	key := address.orderingKey()
	if _, exists := s.nonProxy[key]; !exists {
		return false
	}
	delete(s.nonProxy, key)
	return true
}

// NonProxyAddresses returns the remote-type addresses matching the
// filter; a zero-value filter matches nothing, so callers use field
// wildcards deliberately.
func (s *LookupService) NonProxyAddresses(filter MailboxAddress) []MailboxAddress {
	s.nonProxyMu.Lock()
	defer s.nonProxyMu.Unlock()

	var out []MailboxAddress
	for _, a := range s.nonProxy {
		if Matches(filter, a) {
			out = append(out, a)
		}
	}
	return out
}

// nonProxySize reports the registry size, for tests and debug surfaces.
func (s *LookupService) nonProxySize() int {
	s.nonProxyMu.Lock()
	defer s.nonProxyMu.Unlock()
	return len(s.nonProxy)
}

// Stats snapshots every local mailbox for debug surfaces.
func (s *LookupService) Stats() []MailboxStats {
	s.localMu.Lock()
	boxes := make([]*mailboxImpl, 0, len(s.local))
	for _, mb := range s.local {
		boxes = append(boxes, mb)
	}
	s.localMu.Unlock()

	out := make([]MailboxStats, 0, len(boxes))
	for _, mb := range boxes {
		out = append(out, mb.stats())
	}
	return out
}
