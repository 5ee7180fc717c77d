package block

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a wtstore file, matching spec.md §4.3's descriptor
// block magic number.
const Magic uint32 = 0x101064

// descriptorFixedSize is the byte length of the descriptor's fixed fields
// (magic through hostname). The descriptor block itself fills the first
// allocsize bytes of a file, written once at create, per spec.md §4.3/§6.
const descriptorFixedSize = 4 + 2 + 2 + 4 + 4 + 32 // magic,major,minor,allocsize,compat,hostname

// Descriptor is the file header block.
type Descriptor struct {
	Major     uint16
	Minor     uint16
	Allocsize uint32
	Compat    uint32
	Hostname  [32]byte
	// SalvageHints is the 128 bytes of room spec.md §4.3 reserves.
	SalvageHints [128]byte
}

// Encode serializes the descriptor into an allocsize-sized buffer.
func (d Descriptor) Encode(allocsize uint32) []byte {
	buf := make([]byte, allocsize)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], d.Major)
	binary.LittleEndian.PutUint16(buf[6:8], d.Minor)
	binary.LittleEndian.PutUint32(buf[8:12], d.Allocsize)
	binary.LittleEndian.PutUint32(buf[12:16], d.Compat)
	copy(buf[16:48], d.Hostname[:])
	copy(buf[48:48+128], d.SalvageHints[:])
	return buf
}

// DecodeDescriptor parses and validates a descriptor block, round-tripping
// through the same little-endian layout Encode wrote (spec.md requires the
// descriptor "round-trip through byteswap" — on a little-endian Go host
// that's a no-op, but the field layout itself is what's verified here).
func DecodeDescriptor(buf []byte) (Descriptor, error) {
	if len(buf) < descriptorFixedSize+128 {
		return Descriptor{}, fmt.Errorf("block: descriptor too short")
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return Descriptor{}, fmt.Errorf("block: bad descriptor magic %#x", magic)
	}
	var d Descriptor
	d.Major = binary.LittleEndian.Uint16(buf[4:6])
	d.Minor = binary.LittleEndian.Uint16(buf[6:8])
	d.Allocsize = binary.LittleEndian.Uint32(buf[8:12])
	d.Compat = binary.LittleEndian.Uint32(buf[12:16])
	copy(d.Hostname[:], buf[16:48])
	copy(d.SalvageHints[:], buf[48:48+128])
	return d, nil
}
