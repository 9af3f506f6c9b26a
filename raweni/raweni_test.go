package raweni

import (
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distributed/ecatlink/ecee"
)

func TestReadLatin1(t *testing.T) {
	eci, err := ReadEtherCATInfoFromFile("testdata/el2810.xml")
	require.NoError(t, err)

	assert.EqualValues(t, 2, eci.Vendor.ID())
	assert.Equal(t, "Beckhoff Automation GmbH & Co. KG", eci.Vendor.Name)

	require.Len(t, eci.Descriptions.Groups, 1)
	g := eci.Descriptions.Groups[0]
	assert.Equal(t, "Digital Outputs", g.Name())
	assert.Equal(t, "Digitale Ausgänge", g.Names[0].String)

	require.Len(t, eci.Descriptions.Devices, 2, spew.Sdump(eci.Descriptions))
	d := eci.Descriptions.Devices[0]
	assert.Equal(t, "EL2810", d.Type.Name)
	assert.EqualValues(t, 0x0af93052, d.Type.ProductCode())
	assert.EqualValues(t, 0x00100000, d.Type.RevisionNo())
	assert.Equal(t, "DigOut", d.GroupType)
	assert.Equal(t, "EL2810 16Ch. Dig. Output 24V, 0.5A", d.Name())
	assert.Contains(t, d.Names[0].String, "Grüße")

	require.Len(t, d.Sms, 2)
	assert.EqualValues(t, 0x0f01, d.Sms[1].StartAddress())
	assert.EqualValues(t, 0x44, d.Sms[1].ControlByte())
	assert.EqualValues(t, 1, d.Sms[1].DefaultSize)
	assert.EqualValues(t, 2048, d.Eeprom.ByteSize)

	// without an English name the first one is used
	assert.Equal(t, "EL2810 Rev. 17 Grüße 2", eci.Descriptions.Devices[1].Name())
}

func TestNamesAreNormalized(t *testing.T) {
	eci, err := ReadEtherCATInfoFromFile("testdata/mueller.xml")
	require.NoError(t, err)

	assert.EqualValues(t, 1337, eci.Vendor.ID())
	require.Len(t, eci.Descriptions.Devices, 1)
	assert.Equal(t, "Müller IO", eci.Descriptions.Devices[0].Name())
}

func TestReadBroken(t *testing.T) {
	_, err := ReadEtherCATInfo(strings.NewReader("<EtherCATInfo><Vendor>"))
	assert.Error(t, err)

	_, err = ReadEtherCATInfo(strings.NewReader(`<?xml version="1.0" encoding="x-unknown"?><EtherCATInfo/>`))
	assert.Error(t, err)

	_, err = ReadEtherCATInfoFromFile("testdata/missing.xml")
	assert.Error(t, err)
}

func TestCatalogLookup(t *testing.T) {
	c, err := LoadCatalog("testdata")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 3)

	e, ok := c.Lookup(ecee.Identity{VendorID: 2, ProductCode: 0x0af93052, RevisionNo: 0x00110000})
	require.True(t, ok)
	assert.EqualValues(t, 0x00110000, e.Device.Type.RevisionNo())

	e, ok = c.Lookup(ecee.Identity{VendorID: 2, ProductCode: 0x0af93052, RevisionNo: 0x00190000})
	require.True(t, ok, "other revisions of a known product match")
	assert.EqualValues(t, 0x00100000, e.Device.Type.RevisionNo())
	assert.Equal(t, "Beckhoff Automation GmbH & Co. KG EL2810 (EL2810 16Ch. Dig. Output 24V, 0.5A)", e.String())

	_, ok = c.Lookup(ecee.Identity{VendorID: 3, ProductCode: 0x0af93052})
	assert.False(t, ok)

	e, ok = c.Lookup(ecee.Identity{VendorID: 1337, ProductCode: 42, RevisionNo: 1})
	require.True(t, ok)
	assert.Equal(t, "MF-IO", e.Device.Type.Name)
}

func TestBeckhoffHex(t *testing.T) {
	for in, want := range map[string]uint64{
		"#x10":  16,
		"10":    10,
		" #xff": 255,
		"#xzz":  0,
		"":      0,
	} {
		assert.Equal(t, want, bh2i(in), "%q", in)
	}
}
