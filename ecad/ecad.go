// Package ecad names ESC register addresses and the values written to them.
package ecad

const (
	Type                 = 0x0000
	Revision             = 0x0001
	Build                = 0x0002
	FMMUsSupported       = 0x0004
	RAMSize              = 0x0006
	PortDescriptor       = 0x0007
	ESCFeaturesSupported = 0x0008

	ConfiguredStationAddress = 0x0010
	ConfiguredStationAlias   = 0x0012

	DLControl = 0x0100
	DLStatus  = 0x0110

	ALControl    = 0x0120
	ALStatus     = 0x0130
	ALStatusCode = 0x0134
	PDIControl   = 0x0140

	ECATEventMask = 0x0200

	ESIEEPROMInterface   = 0x0500
	EEPROMConfiguration  = 0x0500
	EEPROMPDIAccessState = 0x0501
	EEPROMControlStatus  = 0x0502
	EEPROMAddress        = 0x0504
	EEPROMData           = 0x0508

	FMMUBase = 0x0600

	SyncMangerBase                 = 0x0800
	SyncManagerChannelLen          = 0x08
	SyncManagerPhysStartAddrOffset = 0x00
	SyncManagerLengthOffset        = 0x02
	SyncManagerControlOffset       = 0x04
	SyncManagerStatusOffset        = 0x05
	SyncManagerActivateOffset      = 0x06
	SyncManagerPDIControlOffset    = 0x07

	// distributed clocks
	DCReceiveTime            = 0x0900
	DCSystemTime             = 0x0910
	DCSystemTimeOffset       = 0x0920
	DCSystemTimeDelay        = 0x0928
	DCSystemTimeDifference   = 0x092C
	DCCyclicUnitControl      = 0x0980
	DCSyncActivation         = 0x0981
	DCSyncStartTime          = 0x0990
	DCSync0CycleTime         = 0x09A0
	DCSync1CycleTime         = 0x09A4
	DCSystemTimeDifferenceSz = 4
)

// AL states as found in the low nibble of ALControl and ALStatus.
const (
	StateNone      = 0x00
	StateInit      = 0x01
	StatePreOp     = 0x02
	StateBoot      = 0x03
	StateSafeOp    = 0x04
	StateOp        = 0x08
	StateMask      = 0x0f
	StateErrorFlag = 0x10 // status: error indication, control: error ack
)

// DCSyncActivation bits
const (
	SyncActivateCyclic = 0x01
	SyncActivateSync0  = 0x02
)

// EEPROM word addresses of the slave information interface.
const (
	SIIVendorID    = 0x0008
	SIIProductCode = 0x000A
	SIIRevisionNo  = 0x000C
	SIISerialNo    = 0x000E
)

// StateName returns the conventional name of an AL state.
func StateName(state uint16) string {
	s := ""
	switch state & StateMask {
	case StateNone:
		s = "NONE"
	case StateInit:
		s = "INIT"
	case StatePreOp:
		s = "PRE_OP"
	case StateBoot:
		s = "BOOT"
	case StateSafeOp:
		s = "SAFE_OP"
	case StateOp:
		s = "OPERATIONAL"
	default:
		s = "UNKNOWN"
	}
	if state&StateErrorFlag != 0 {
		s += " + ERROR"
	}
	return s
}
