// Package checksum implements spec.md §4.2's checksum and codec boundary:
// CRC32C (hardware-accelerated via hash/crc32's Castagnoli table on amd64/
// arm64, matching the "hardware selection at startup" requirement without
// hand-rolling SSE4.2/ARMv8 assembly — see DESIGN.md), plus the
// Compressor/Encryptor hook interfaces composed at block boundaries.
package checksum

import "hash/crc32"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Sum computes the CRC32C of data. Callers must zero the checksum field in
// the header before calling, per spec.md §4.2.
func Sum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// SkipBytes is the length of the always-uncompressed, always-checksummed
// prefix of a compressed block (spec.md §4.2), letting salvage and
// checksum verification run without a decompress pass.
const SkipBytes = 64

// Compressor is the abstract capability block writes compress through.
type Compressor interface {
	// Compress writes a compressed form of src into dst, returning the
	// number of bytes written and whether compression was skipped
	// because the result would not have been smaller.
	Compress(dst, src []byte) (n int, failed bool, err error)
	Decompress(dst, src []byte) (n int, err error)
	// MaxCompressed returns the worst-case expansion for an input of the
	// given size, used to size the destination buffer.
	MaxCompressed(srcLen int) int
}

// Encryptor is the abstract capability block writes encrypt through,
// keyed per-connection by KeyID.
type Encryptor interface {
	Encrypt(dst, src []byte) (n int, err error)
	Decrypt(dst, src []byte) (n int, err error)
	MaxCiphertext(srcLen int) int
	KeyID() string
}

// Codec composes an optional Compressor and Encryptor at the block
// boundary: page-image -> compress (optional) -> encrypt (optional) ->
// write block, and the reverse on read, per spec.md §4.2.
type Codec struct {
	Compressor Compressor
	Encryptor  Encryptor
}

// flags bits, matching spec.md §6's on-disk block flags.
const (
	FlagDataChecksum = 1 << 0
	FlagCompressed   = 1 << 1
	FlagEncrypted    = 1 << 2
)

// EncodeResult carries the transformed payload and the flag bits the block
// header should record.
type EncodeResult struct {
	Payload  []byte
	Flags    uint32
	Compressed bool
}

// Encode runs page image bytes through the configured compressor and
// encryptor in that order.
func (c Codec) Encode(src []byte) (EncodeResult, error) {
	payload := src
	var flags uint32
	compressed := false

	if c.Compressor != nil {
		dst := make([]byte, c.Compressor.MaxCompressed(len(src)))
		copy(dst[:SkipBytes], src[:min(SkipBytes, len(src))])
		n, failed, err := c.Compressor.Compress(dst[SkipBytes:], src[SkipBytes:])
		if err != nil {
			return EncodeResult{}, err
		}
		if !failed && SkipBytes+n < len(src) {
			payload = dst[:SkipBytes+n]
			flags |= FlagCompressed
			compressed = true
		}
	}

	if c.Encryptor != nil {
		dst := make([]byte, c.Encryptor.MaxCiphertext(len(payload)))
		n, err := c.Encryptor.Encrypt(dst, payload)
		if err != nil {
			return EncodeResult{}, err
		}
		payload = dst[:n]
		flags |= FlagEncrypted
	}

	return EncodeResult{Payload: payload, Flags: flags, Compressed: compressed}, nil
}

// Decode reverses Encode: decrypt, then decompress.
func (c Codec) Decode(payload []byte, flags uint32, decodedSize int) ([]byte, error) {
	if flags&FlagEncrypted != 0 {
		if c.Encryptor == nil {
			return nil, errEncryptorMissing
		}
		dst := make([]byte, len(payload))
		n, err := c.Encryptor.Decrypt(dst, payload)
		if err != nil {
			return nil, err
		}
		payload = dst[:n]
	}
	if flags&FlagCompressed != 0 {
		if c.Compressor == nil {
			return nil, errCompressorMissing
		}
		dst := make([]byte, decodedSize)
		copy(dst[:SkipBytes], payload[:min(SkipBytes, len(payload))])
		n, err := c.Compressor.Decompress(dst[SkipBytes:], payload[SkipBytes:])
		if err != nil {
			return nil, err
		}
		return dst[:SkipBytes+n], nil
	}
	return payload, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
