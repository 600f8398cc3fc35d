package pci

import (
	"bytes"
	"encoding/binary"
)

// ConfigAccess is the config space transport: byte/half/word reads and
// writes addressed by bus location and byte offset. Implementations
// serialize access across the whole bus; the device core adds no
// locking of its own.
type ConfigAccess interface {
	ReadByte(a BusAddress, off uint16) (uint8, error)
	ReadHalf(a BusAddress, off uint16) (uint16, error)
	ReadWord(a BusAddress, off uint16) (uint32, error)
	WriteByte(a BusAddress, off uint16, v uint8) error
	WriteHalf(a BusAddress, off uint16, v uint16) error
	WriteWord(a BusAddress, off uint16, v uint32) error
}

// Fixed offsets in the first 64 bytes of config space.
const (
	cfgVendorID      = 0x00 // 16-bit
	cfgDeviceID      = 0x02 // 16-bit
	cfgCommand       = 0x04 // 16-bit
	cfgStatus        = 0x06 // 16-bit
	cfgRevision      = 0x08
	cfgProgIF        = 0x09
	cfgClassSub      = 0x0a
	cfgClassBase     = 0x0b
	cfgHeaderType    = 0x0e // low 7 bits; bit 7 = multi-function
	cfgBaseAddresses = 0x10 // six 32-bit slots
	cfgCapsPtr       = 0x34 // same offset for header types 0 and 1
	cfgInterruptLine = 0x3c
	cfgInterruptPin  = 0x3d
)

const configHeaderBytes = 64

// readConfig pulls in the whole standardized header in one pass.
func readConfig(cs ConfigAccess, a BusAddress) (c DeviceConfig, err error) {
	var buf [configHeaderBytes]byte
	for off := 0; off < configHeaderBytes; off += 4 {
		var w uint32
		if w, err = cs.ReadWord(a, uint16(off)); err != nil {
			return
		}
		binary.LittleEndian.PutUint32(buf[off:], w)
	}
	err = binary.Read(bytes.NewReader(buf[:]), binary.LittleEndian, &c)
	return
}
