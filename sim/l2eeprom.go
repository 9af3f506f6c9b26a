package sim

import (
	"encoding/binary"

	"github.com/distributed/ecatlink/ecad"
)

// EEPROM control/status word bits, register 0x0502.
const (
	eeWriteEnable   uint16 = 1 << 0
	eeReadSize8     uint16 = 1 << 6
	eeAddress2Bytes uint16 = 1 << 7
	eeCmdMask       uint16 = 0x0700
	eeChecksumError uint16 = 1 << 11
	eeNotLoaded     uint16 = 1 << 12
	eeMissingAck    uint16 = 1 << 13
	eeErrWriteEn    uint16 = 1 << 14
	eeBusy          uint16 = 1 << 15

	eeErrors = eeChecksumError | eeNotLoaded | eeMissingAck | eeErrWriteEn
)

const (
	eeCmdNop uint16 = iota << 8
	eeCmdRead
	eeCmdWrite
	eeCmdReload
)

// L2EEPROM is the SII EEPROM of a simulated slave together with its ESC
// interface registers. Reads complete within the datagram that issues them.
type L2EEPROM struct {
	Words [8 * 1024]uint16

	Busy bool

	pdiOwned bool
	status   uint16
	addr     uint32
	data     [8]byte
}

func NewL2EEPROM() *L2EEPROM {
	ee := &L2EEPROM{}
	for i := range ee.Words {
		ee.Words[i] = 0xee00 | uint16(i&0xff)
	}
	return ee
}

// SetIdentity fills the SII identity words.
func (ee *L2EEPROM) SetIdentity(vendor, product, revision, serial uint32) {
	for _, w := range []struct {
		at int
		v  uint32
	}{
		{ecad.SIIVendorID, vendor},
		{ecad.SIIProductCode, product},
		{ecad.SIIRevisionNo, revision},
		{ecad.SIISerialNo, serial},
	} {
		ee.Words[w.at] = uint16(w.v)
		ee.Words[w.at+1] = uint16(w.v >> 16)
	}
}

// Reg maps the EEPROM interface registers 0x0500..0x050f.
func (ee *L2EEPROM) Reg() RegisterBlock { return eepromRegs{ee} }

// image is the register area as the ESC presents it.
func (ee *L2EEPROM) image() (img [16]byte) {
	if ee.pdiOwned {
		img[0] = 0x01
	}
	cs := ee.status&(eeWriteEnable|eeErrors) | eeReadSize8 | eeAddress2Bytes
	if ee.Busy {
		cs |= eeBusy
	}
	binary.LittleEndian.PutUint16(img[2:], cs)
	binary.LittleEndian.PutUint32(img[4:], ee.addr)
	copy(img[8:], ee.data[:])
	return
}

func (ee *L2EEPROM) command(cmd uint16) {
	switch cmd {
	case eeCmdNop:
		ee.status &^= eeErrors
	case eeCmdRead:
		for i := 0; i < len(ee.data)/2; i++ {
			w := ee.Words[(int(ee.addr)+i)%len(ee.Words)]
			binary.LittleEndian.PutUint16(ee.data[2*i:], w)
		}
	case eeCmdWrite:
		if ee.status&eeWriteEnable == 0 {
			ee.status |= eeErrWriteEn
			return
		}
		ee.Words[int(ee.addr)%len(ee.Words)] = binary.LittleEndian.Uint16(ee.data[:])
	}
}

type eepromRegs struct{ *L2EEPROM }

func (r eepromRegs) Read(offs uint16, dp *uint8) bool {
	img := r.image()
	if int(offs) >= len(img) {
		panic("sim: read past the EEPROM interface registers")
	}
	*dp = img[offs]
	return true
}

// Writable refuses the control word while a command is in progress.
func (r eepromRegs) Writable(offs uint16) bool {
	return !(r.Busy && (offs == 2 || offs == 3))
}

func (r eepromRegs) Latch(shadow []byte, written []bool) {
	if written[0] {
		r.pdiOwned = shadow[0]&0x01 != 0
	}
	if written[2] {
		r.status = r.status&^eeWriteEnable | uint16(shadow[2])&eeWriteEnable
	}
	for i := 4; i < 8; i++ {
		if written[i] {
			shift := uint(i-4) * 8
			r.addr = r.addr&^(0xff<<shift) | uint32(shadow[i])<<shift
		}
	}
	for i := 8; i < 16; i++ {
		if written[i] {
			r.data[i-8] = shadow[i]
		}
	}
	// the command runs last so it sees the address written with it
	if written[3] {
		r.command(uint16(shadow[3]) << 8 & eeCmdMask)
	}
}
