package sim

// RegisterBlock is a group of registers the slave maps into its address
// space. Writes go to a shadow copy first, Latch applies the bytes marked
// written once the datagram is through.
type RegisterBlock interface {
	Read(offs uint16, dp *uint8) bool
	Writable(offs uint16) bool
	Latch(shadow []byte, written []bool)
}

type blockMapping struct {
	start, length uint16
	block         RegisterBlock
}

func (m blockMapping) contains(addr uint16) bool {
	return addr >= m.start && addr < m.start+m.length
}
