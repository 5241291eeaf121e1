package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// GUIDSize is the wire size of a Loxone state/control identifier.
const GUIDSize = 16

// CanonicalID converts a 16-byte little-endian-GUID-encoded identifier (the
// wire layout where the first three groups are byte-swapped relative to
// RFC 4122 order) into its canonical lowercase 8-4-4-4-12 hex string.
func CanonicalID(wireBytes []byte) (string, error) {
	if len(wireBytes) != GUIDSize {
		return "", fmt.Errorf("wire: guid requires %d bytes, got %d", GUIDSize, len(wireBytes))
	}
	var be [GUIDSize]byte
	copy(be[:], wireBytes)
	swapLEGroups(be[:])
	id, err := uuid.FromBytes(be[:])
	if err != nil {
		return "", fmt.Errorf("wire: invalid guid: %w", err)
	}
	return id.String(), nil
}

// WireID converts a canonical identifier string back to its 16-byte
// little-endian-GUID wire encoding. It is the inverse of CanonicalID.
func WireID(canonical string) ([]byte, error) {
	id, err := uuid.Parse(canonical)
	if err != nil {
		return nil, fmt.Errorf("wire: invalid canonical id %q: %w", canonical, err)
	}
	be := id
	raw := [GUIDSize]byte(be)
	swapLEGroups(raw[:])
	return raw[:], nil
}

// swapLEGroups reverses the byte order of the first three GUID groups
// (4 bytes, 2 bytes, 2 bytes), converting between the little-endian wire
// layout and RFC 4122 big-endian order in either direction (the operation is
// its own inverse).
func swapLEGroups(b []byte) {
	reverse(b[0:4])
	reverse(b[4:6])
	reverse(b[6:8])
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
