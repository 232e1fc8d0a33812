package msgmgr

// Well-known mailbox names and their distributed ports. All platform
// processes on a node communicate over the loopback IP.
const (
	LocalIPAddress = "127.0.0.1"

	UnknownMailboxName = "UNKNOWN"

	LoggerMailboxName = "Logger"

	DiscoveryManagerMailboxName = "DiscoveryManager"
	DiscoveryManagerIPAddress   = "224.9.9.1"
	DiscoveryManagerPort        = 12775

	FaultManagerMailboxName = "FaultManager"
	FaultManagerPort        = 12776

	ProcessManagerMailboxName = "ProcessManager"
	ProcessManagerPort        = 12777

	ResourceMonitorMailboxName = "ResourceMonitor"
	ResourceMonitorPort        = 12778

	ClientAgentMailboxName = "ClientAgent"
	ClientAgentPort        = 12877
)

// DiscoveryGroupAddress is the well-known group mailbox address every
// DiscoveryManager instance joins.
func DiscoveryGroupAddress() MailboxAddress {
	return GroupAddress(DiscoveryManagerMailboxName, DiscoveryManagerIPAddress, DiscoveryManagerPort)
}
