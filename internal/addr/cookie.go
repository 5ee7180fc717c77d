package addr

import "fmt"

// MaxSize is the largest legal block payload: spec.md §3 caps size at
// 2^32-1024 bytes so the on-disk u32 disk_size field never overflows once
// the header is added.
const MaxSize = (1 << 32) - 1024

// Cookie is the opaque address cookie naming one block in a file-local
// block manager: (object_id, offset, size, checksum). Offset and size are
// always multiples of the file's allocation size. Size == 0 is the
// sentinel "no block".
type Cookie struct {
	ObjectID uint32
	Offset   uint64
	Size     uint32
	Checksum uint32
}

// Invalid reports whether this is the "no block" sentinel.
func (c Cookie) Invalid() bool { return c.Size == 0 }

// NilCookie is the canonical sentinel value.
var NilCookie = Cookie{}

// Pack serializes a Cookie the way spec.md §6 specifies: vpack(offset in
// allocation units + 1), vpack(size in allocation units), vpack(checksum).
// The sentinel packs to a single zero byte for the offset field and
// nothing else: a real block's offset field is at least 1 (offset + 1),
// so Unpack recognizes an offset field of 0 as the sentinel before the
// remaining fields are read.
func Pack(c Cookie, allocsize uint32) []byte {
	if c.Invalid() {
		return []byte{0}
	}
	offsetUnits := c.Offset/uint64(allocsize) + 1
	sizeUnits := uint64(c.Size) / uint64(allocsize)
	out := make([]byte, 0, 16)
	out = PackUint(out, offsetUnits)
	out = PackUint(out, sizeUnits)
	out = PackUint(out, uint64(c.Checksum))
	return out
}

// Unpack is the inverse of Pack. unpack(pack(o,s,c)) == (o,s,c) for all
// legal (offset, size, checksum) per P1; the sentinel round-trips to the
// zero Cookie.
func Unpack(b []byte, allocsize uint32) (Cookie, error) {
	offsetUnits, rest, err := UnpackUint(b)
	if err != nil {
		return Cookie{}, err
	}
	if offsetUnits == 0 {
		return NilCookie, nil
	}
	sizeUnits, rest, err := UnpackUint(rest)
	if err != nil {
		return Cookie{}, err
	}
	checksum, _, err := UnpackUint(rest)
	if err != nil {
		return Cookie{}, err
	}
	size := sizeUnits * uint64(allocsize)
	if size > MaxSize {
		return Cookie{}, fmt.Errorf("addr: size %d exceeds max block size", size)
	}
	return Cookie{
		Offset:   (offsetUnits - 1) * uint64(allocsize),
		Size:     uint32(size),
		Checksum: uint32(checksum),
	}, nil
}

// Disaggregated is the object-store address cookie from spec.md §3, used
// when the backing store is an object store rather than a single file.
// PageID == InvalidPageID encodes the "no block" sentinel.
type Disaggregated struct {
	PageID          uint64
	CheckpointID    uint64
	ReconciliationID uint64
	Size            uint32
	Checksum        uint32
}

// InvalidPageID is the Disaggregated sentinel page id.
const InvalidPageID = ^uint64(0)

// Invalid reports whether d is the "no block" sentinel.
func (d Disaggregated) Invalid() bool { return d.PageID == InvalidPageID }
