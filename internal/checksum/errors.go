package checksum

import "errors"

var (
	errEncryptorMissing = errors.New("checksum: block flagged encrypted but no encryptor configured")
	errCompressorMissing = errors.New("checksum: block flagged compressed but no compressor configured")
)
