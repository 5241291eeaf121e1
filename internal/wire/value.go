package wire

import (
	"encoding/binary"
	"math"
)

// valueEntrySize is the wire size of a single VALUE-batch record: 16 bytes
// GUID + 8 bytes IEEE-754 double, both little-endian.
const valueEntrySize = 16 + 8

// ValueUpdate is a single decoded entry from a VALUE_STATES batch.
type ValueUpdate struct {
	StateID string
	Value   float64
}

// DecodeValueBatch parses a VALUE_STATES payload into a list of updates.
// Trailing bytes that don't form a complete 24-byte record are discarded
// silently, matching the controller's own framing leniency.
func DecodeValueBatch(payload []byte) ([]ValueUpdate, error) {
	var updates []ValueUpdate
	for off := 0; off+valueEntrySize <= len(payload); off += valueEntrySize {
		id, err := CanonicalID(payload[off : off+16])
		if err != nil {
			return nil, err
		}
		bits := binary.LittleEndian.Uint64(payload[off+16 : off+24])
		updates = append(updates, ValueUpdate{
			StateID: id,
			Value:   math.Float64frombits(bits),
		})
	}
	return updates, nil
}

// EncodeValueBatch serializes updates into a VALUE_STATES payload, the
// inverse of DecodeValueBatch for any list of finite-valued updates.
func EncodeValueBatch(updates []ValueUpdate) ([]byte, error) {
	buf := make([]byte, 0, len(updates)*valueEntrySize)
	for _, u := range updates {
		wireID, err := WireID(u.StateID)
		if err != nil {
			return nil, err
		}
		buf = append(buf, wireID...)
		var valBuf [8]byte
		binary.LittleEndian.PutUint64(valBuf[:], math.Float64bits(u.Value))
		buf = append(buf, valBuf[:]...)
	}
	return buf, nil
}
