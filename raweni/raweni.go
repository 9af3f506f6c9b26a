// Package raweni reads EtherCAT slave information (ESI) files, the XML
// device descriptions vendors ship with their slaves, and matches their
// devices against identities read from slave EEPROMs.
package raweni

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/unicode/norm"

	"github.com/distributed/ecatlink/ecee"
)

// LcIDEnglish is the locale preferred when a name exists in several.
const LcIDEnglish = 1033

func ReadEtherCATInfoFromFile(filename string) (eci EtherCATInfo, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return
	}
	defer f.Close()

	eci, err = ReadEtherCATInfo(f)
	if err != nil {
		err = fmt.Errorf("%s: %w", filename, err)
	}
	return
}

// ReadEtherCATInfo decodes an ESI document. Files are commonly ISO-8859-1
// encoded, the declared charset is honored.
func ReadEtherCATInfo(r io.Reader) (eci EtherCATInfo, err error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	err = dec.Decode(&eci)
	return
}

type EtherCATInfo struct {
	Vendor       Vendor
	Descriptions Descriptions
}

type Vendor struct {
	IdRaw string `xml:"Id"`
	Name  string
}

func (v Vendor) ID() uint32 {
	return uint32(bh2i(v.IdRaw))
}

type Descriptions struct {
	Groups  []Group  `xml:"Groups>Group"`
	Devices []Device `xml:"Devices>Device"`
}

type Group struct {
	Type  string
	Names []LcIdentifiedName `xml:"Name"`
}

type LcIdentifiedName struct {
	String string `xml:",chardata"`
	LcId   uint   `xml:",attr"`
}

// pickName prefers English, then the first name. Names are NFC normalized
// and trimmed.
func pickName(names []LcIdentifiedName) string {
	if len(names) == 0 {
		return ""
	}
	n := names[0]
	for _, c := range names {
		if c.LcId == LcIDEnglish {
			n = c
			break
		}
	}
	return norm.NFC.String(strings.TrimSpace(n.String))
}

func (g Group) Name() string { return pickName(g.Names) }

type Device struct {
	Type      DeviceType
	GroupType string
	Names     []LcIdentifiedName `xml:"Name"`
	Sms       []Sm               `xml:"Sm"`
	Eeprom    Eeprom
}

func (d Device) Name() string { return pickName(d.Names) }

type DeviceType struct {
	Name           string `xml:",chardata"`
	ProductCodeRaw string `xml:"ProductCode,attr"`
	RevisionNoRaw  string `xml:"RevisionNo,attr"`
}

func (d DeviceType) ProductCode() uint32 {
	return uint32(bh2i(d.ProductCodeRaw))
}

func (d DeviceType) RevisionNo() uint32 {
	return uint32(bh2i(d.RevisionNoRaw))
}

type Sm struct {
	Name                          string `xml:",chardata"`
	MinSize, MaxSize, DefaultSize uint   `xml:",attr"`
	StartAddressRaw               string `xml:"StartAddress,attr"`
	ControlByteRaw                string `xml:"ControlByte,attr"`
}

func (s Sm) StartAddress() uint16 {
	return uint16(bh2i(s.StartAddressRaw))
}

func (s Sm) ControlByte() uint8 {
	return uint8(bh2i(s.ControlByteRaw))
}

// beckhoff hex string to integer, 0 on failure
func bh2i(s string) uint64 {
	var (
		n   uint64
		err error
	)

	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#x") {
		n, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		n, err = strconv.ParseUint(s, 10, 64)
	}

	if err != nil {
		return 0
	}

	return n
}

type Eeprom struct {
	ByteSize      uint
	ConfigDataRaw string `xml:"ConfigData"`
}

// Entry is a device of a catalog together with its vendor.
type Entry struct {
	Vendor Vendor
	Device Device
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s (%s)", e.Vendor.Name, e.Device.Type.Name, e.Device.Name())
}

// Catalog is a set of ESI documents to look up slaves in.
type Catalog struct {
	infos []EtherCATInfo
}

func NewCatalog(infos ...EtherCATInfo) *Catalog {
	return &Catalog{infos: infos}
}

// LoadCatalog reads all .xml files in dir.
func LoadCatalog(dir string) (*Catalog, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, err
	}
	c := &Catalog{}
	for _, p := range paths {
		eci, err := ReadEtherCATInfoFromFile(p)
		if err != nil {
			return nil, err
		}
		c.infos = append(c.infos, eci)
	}
	return c, nil
}

func (c *Catalog) Add(eci EtherCATInfo) { c.infos = append(c.infos, eci) }

// Entries lists the devices of all documents.
func (c *Catalog) Entries() []Entry {
	var es []Entry
	for _, eci := range c.infos {
		for _, d := range eci.Descriptions.Devices {
			es = append(es, Entry{Vendor: eci.Vendor, Device: d})
		}
	}
	return es
}

// Lookup finds the device description for a slave identity. Vendor and
// product code must match. A device with the same revision wins over one
// with another revision of the same product.
func (c *Catalog) Lookup(id ecee.Identity) (Entry, bool) {
	var (
		fallback Entry
		found    bool
	)
	for _, e := range c.Entries() {
		if e.Vendor.ID() != id.VendorID || e.Device.Type.ProductCode() != id.ProductCode {
			continue
		}
		if e.Device.Type.RevisionNo() == id.RevisionNo {
			return e, true
		}
		if !found {
			fallback, found = e, true
		}
	}
	return fallback, found
}
