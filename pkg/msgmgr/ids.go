package msgmgr

// Message ids are 16 bits: the upper 6 bits name the owning module, the
// lower 10 bits the message within that module.
const (
	MessageModuleMask uint16 = 0xFC00
	MessageIDMask     uint16 = 0x03FF
)

// ModuleOf returns the module portion of a message id.
func ModuleOf(id uint16) uint16 {
	return id & MessageModuleMask
}

// Reserved message ids. Platform modules claim the leading blocks; the
// MsgMgr base module is 0.
const (
	// MsgMgr base module (module id 0)
	MsgIDBase           uint16 = 0x0001
	MsgIDBaseTimer      uint16 = 0x0002
	MsgIDDiscovery      uint16 = 0x0003
	MsgIDDiscoveryLocal uint16 = 0x0004
	MsgIDTest1          uint16 = 0x0005
	MsgIDTest2          uint16 = 0x0006
	MsgIDTestTimer      uint16 = 0x0007
	MsgIDTestDistributed uint16 = 0x0008
	MsgIDTestGroup      uint16 = 0x0009

	// Process Manager module (module id 1)
	MsgIDProcMgrBase              uint16 = 0x0400
	MsgIDProcMgrHeartbeat         uint16 = 0x0401
	MsgIDProcMgrHeartbeatResponse uint16 = 0x0402

	// Timer Manager module (module id 2)
	MsgIDTimerMgrBase uint16 = 0x0800

	// Resource Monitor module (module id 3)
	MsgIDResourceMonitorBase  uint16 = 0x0C00
	MsgIDResourceMonitorTimer uint16 = 0x0C01

	// Fault Manager module (module id 4)
	MsgIDFaultManagerBase       uint16 = 0x1000
	MsgIDFaultManagerAlarmEvent uint16 = 0x1001
)
