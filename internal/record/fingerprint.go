package record

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes an ordered sequence of values. Each value is length
// prefixed so that moving bytes between neighbouring values changes the hash.
func Fingerprint(values []string) string {
	d := xxhash.New()
	var prefix [binary.MaxVarintLen64]byte
	for _, v := range values {
		n := binary.PutUvarint(prefix[:], uint64(len(v)))
		d.Write(prefix[:n])
		d.WriteString(v)
	}

	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], d.Sum64())
	return hex.EncodeToString(sum[:])
}
