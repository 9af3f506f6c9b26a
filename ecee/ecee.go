// Package ecee accesses the SII EEPROM of a slave through the ESC EEPROM
// interface registers.
package ecee

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/distributed/ecatlink/ecad"
	"github.com/distributed/ecatlink/ecfr"
	"github.com/distributed/ecatlink/ecmd"
)

var ErrClosed = errors.New("ecee eeprom is already closed")

// ErrBusy is returned when the EEPROM interface stays busy past the
// configured timeout.
var ErrBusy = errors.New("ecee eeprom interface stays busy")

const DefaultIdleTimeout = 250 * time.Millisecond

type blindEEPROM struct {
	addr        ecfr.DatagramAddress
	commander   ecmd.Commander
	idleTimeout time.Duration
	closed      bool
}

type EEPROM interface {
	ReadWord(addr uint32) (word uint16, err error)
	WriteWord(addr uint32, word uint16) (err error)
	Close() error
}

func New(commander ecmd.Commander, addr ecfr.DatagramAddress) (EEPROM, error) {
	ee := &blindEEPROM{
		addr:        addr,
		commander:   commander,
		idleTimeout: DefaultIdleTimeout,
	}

	err := ee.waitForIdle()
	if err != nil {
		return nil, err
	}

	return ee, nil
}

func (ee *blindEEPROM) waitForIdle() error {
	tot := time.Now().Add(ee.idleTimeout)

	for {
		addr := ee.addr
		addr.SetOffset(ecad.EEPROMControlStatus)
		rb, err := ecmd.ExecuteRead(ee.commander, addr, 2, 1)
		if err != nil {
			return err
		}

		if rb[1]&0x80 == 0 {
			return nil
		}

		if time.Now().After(tot) {
			return ErrBusy
		}
	}
}

func (ee *blindEEPROM) writeAddress(addr uint32) error {
	dgaddr := ee.addr
	dgaddr.SetOffset(ecad.EEPROMAddress)
	wb := make([]byte, 4)
	binary.LittleEndian.PutUint32(wb, addr)
	return ecmd.ExecuteWrite(ee.commander, dgaddr, wb, 1)
}

func (ee *blindEEPROM) checkStatus() error {
	dgaddr := ee.addr
	dgaddr.SetOffset(ecad.EEPROMControlStatus)
	rb, err := ecmd.ExecuteRead(ee.commander, dgaddr, 2, 1)
	if err != nil {
		return err
	}

	if rb[1]&0x78 != 0x00 {
		return fmt.Errorf("EEPROM status word bits indicate error, bytes are % x", rb)
	}
	return nil
}

func (ee *blindEEPROM) ReadWord(addr uint32) (word uint16, err error) {
	var rb []byte
	rb, err = ee.read(addr)
	if err != nil {
		return
	}

	word = binary.LittleEndian.Uint16(rb)
	return
}

func (ee *blindEEPROM) read(addr uint32) (rb []byte, err error) {
	if ee.closed {
		err = ErrClosed
		return
	}

	err = ee.waitForIdle()
	if err != nil {
		return
	}

	// write EEPROM address to ESC
	err = ee.writeAddress(addr)
	if err != nil {
		return
	}

	// write "read command"
	dgaddr := ee.addr
	dgaddr.SetOffset(ecad.EEPROMControlStatus)
	err = ecmd.ExecuteWrite(ee.commander, dgaddr, []byte{0x00, 0x01}, 1)
	if err != nil {
		return
	}

	err = ee.waitForIdle()
	if err != nil {
		return
	}

	err = ee.checkStatus()
	if err != nil {
		return
	}

	dgaddr.SetOffset(ecad.EEPROMData)
	return ecmd.ExecuteRead(ee.commander, dgaddr, 4, 1)
}

func (ee *blindEEPROM) WriteWord(addr uint32, word uint16) (err error) {
	if ee.closed {
		err = ErrClosed
		return
	}

	err = ee.waitForIdle()
	if err != nil {
		return
	}

	err = ee.writeAddress(addr)
	if err != nil {
		return
	}

	dgaddr := ee.addr

	// write data
	dgaddr.SetOffset(ecad.EEPROMData)
	wb := []byte{uint8(word), uint8(word >> 8)}
	err = ecmd.ExecuteWrite(ee.commander, dgaddr, wb, 1)
	if err != nil {
		return
	}

	// write "write command"
	dgaddr.SetOffset(ecad.EEPROMControlStatus)
	wb = []byte{0x01, 0x02} // write command
	err = ecmd.ExecuteWrite(ee.commander, dgaddr, wb, 1)
	if err != nil {
		return
	}

	err = ee.waitForIdle()
	if err != nil {
		return
	}

	return ee.checkStatus()
}

func (ee *blindEEPROM) Close() error {
	ee.closed = true
	return nil
}

// ReadUint32 reads two consecutive words starting at addr.
func ReadUint32(ee EEPROM, addr uint32) (uint32, error) {
	if bee, ok := ee.(*blindEEPROM); ok {
		rb, err := bee.read(addr)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(rb), nil
	}

	lo, err := ee.ReadWord(addr)
	if err != nil {
		return 0, err
	}
	hi, err := ee.ReadWord(addr + 1)
	if err != nil {
		return 0, err
	}
	return uint32(lo) | uint32(hi)<<16, nil
}

// Identity is the SII identity of a slave.
type Identity struct {
	VendorID    uint32
	ProductCode uint32
	RevisionNo  uint32
	SerialNo    uint32
}

func (id Identity) String() string {
	return fmt.Sprintf("vendor %#08x product %#08x rev %#08x serial %d",
		id.VendorID, id.ProductCode, id.RevisionNo, id.SerialNo)
}

func ReadIdentity(ee EEPROM) (id Identity, err error) {
	for _, f := range []struct {
		addr uint32
		v    *uint32
	}{
		{ecad.SIIVendorID, &id.VendorID},
		{ecad.SIIProductCode, &id.ProductCode},
		{ecad.SIIRevisionNo, &id.RevisionNo},
		{ecad.SIISerialNo, &id.SerialNo},
	} {
		*f.v, err = ReadUint32(ee, f.addr)
		if err != nil {
			err = fmt.Errorf("reading SII word %#04x: %w", f.addr, err)
			return
		}
	}
	return
}
