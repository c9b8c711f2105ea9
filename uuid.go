package gattclient

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// UUID is a GATT attribute UUID, stored little-endian exactly as it
// appears on the wire: 2 bytes for a 16-bit UUID, 16 bytes for a
// 128-bit one.
type UUID []byte

// UUID16 builds a UUID from a 16-bit value.
func UUID16(v uint16) UUID {
	u := make(UUID, 2)
	binary.LittleEndian.PutUint16(u, v)
	return u
}

// Equal reports whether two UUIDs name the same attribute type.
func (u UUID) Equal(v UUID) bool {
	if len(u) != len(v) {
		return false
	}
	for i := range u {
		if u[i] != v[i] {
			return false
		}
	}
	return true
}

// String renders a 16-bit UUID as "0x2A00" and a 128-bit UUID as the
// usual hyphenated hex form, matching the Bluetooth base UUID layout.
func (u UUID) String() string {
	switch len(u) {
	case 2:
		return fmt.Sprintf("0x%04X", binary.LittleEndian.Uint16(u))
	case 16:
		b := make([]byte, 16)
		for i, v := range u {
			b[15-i] = v
		}
		return fmt.Sprintf("%s-%s-%s-%s-%s",
			hex.EncodeToString(b[0:4]), hex.EncodeToString(b[4:6]),
			hex.EncodeToString(b[6:8]), hex.EncodeToString(b[8:10]),
			hex.EncodeToString(b[10:16]))
	default:
		return hex.EncodeToString(u)
	}
}
