// Package addr implements the packed address cookie spec.md §3/§6 describes:
// the opaque byte string naming a block on disk, plus its disaggregated
// (object-store) variant.
package addr

import "fmt"

// PackUint is wtstore's __wt_vpack_uint: a one-byte tag holding the number
// of little-endian payload bytes that follow (0..8), then the payload
// itself. Zero packs to a single tag byte with no payload, which is what
// lets the sentinel "no block" cookie be a zero-length-payload encoding.
func PackUint(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, 0)
	}
	var buf [8]byte
	n := 0
	for x := v; x != 0; x >>= 8 {
		buf[n] = byte(x)
		n++
	}
	dst = append(dst, byte(n))
	dst = append(dst, buf[:n]...)
	return dst
}

// UnpackUint reads one PackUint-encoded value from src, returning the value
// and the remaining, unconsumed bytes.
func UnpackUint(src []byte) (uint64, []byte, error) {
	if len(src) < 1 {
		return 0, nil, fmt.Errorf("vpack: empty input")
	}
	n := int(src[0])
	src = src[1:]
	if n > 8 || len(src) < n {
		return 0, nil, fmt.Errorf("vpack: corrupt tag %d", n)
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(src[i])
	}
	return v, src[n:], nil
}
