package dht

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/bits"
)

// IDSizeBits is the width, in bits, of a node ID or info-hash.
const IDSizeBits = sha1.Size * 8

// ID is a 160-bit opaque identifier: a node ID or an info-hash.
type ID [sha1.Size]byte

// RandomID returns a cryptographically random 160-bit identifier.
func RandomID() ID {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return id
}

// XOR returns the bitwise XOR distance between a and b.
func XOR(a, b ID) ID {
	var d ID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// LogDistance returns the position of the highest bit at which a and b
// differ, counting bit 0 as the least significant bit of the XOR distance,
// so the result is in [0, IDSizeBits-1]. LogDistance(x, x) is -1, by
// convention nearer than any other value, so callers that sort ascending
// always see an identical pair first.
func LogDistance(a, b ID) int {
	d := XOR(a, b)

	leadingZeros := 0
	for _, by := range d {
		if by == 0 {
			leadingZeros += 8
			continue
		}
		leadingZeros += bits.LeadingZeros8(by)
		break
	}

	if leadingZeros == IDSizeBits {
		return -1
	}
	return IDSizeBits - 1 - leadingZeros
}

// Compare reports whether a is closer to target than b: -1 if a is closer,
// 1 if b is closer, 0 if equidistant.
func Compare(target, a, b ID) int {
	da, db := LogDistance(target, a), LogDistance(target, b)
	switch {
	case da < db:
		return -1
	case da > db:
		return 1
	default:
		return 0
	}
}

// BucketIndex returns which of the 160 routing-table buckets remoteID
// belongs in, relative to localID.
func BucketIndex(localID, remoteID ID) int {
	d := LogDistance(localID, remoteID)
	if d < 0 {
		return 0
	}
	return d
}

// String returns the hex encoding of id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseID decodes a 40-character hex string into an ID.
func ParseID(s string) (ID, error) {
	var id ID

	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid id %q: want %d bytes, got %d", s, len(id), len(b))
	}

	copy(id[:], b)
	return id, nil
}
