package wire

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"
)

// textRecordMinSize is the minimum size of a TEXT_STATES record before its
// variable-length text: 16 bytes state id + 16 bytes icon id + 4 bytes length.
const textRecordMinSize = 16 + 16 + 4

// TextUpdate is a single decoded entry from a TEXT_STATES batch. The icon
// identifier is parsed off the wire but not retained; it has no projection
// in the metric model.
type TextUpdate struct {
	StateID string
	Text    string
}

// DecodeTextBatch parses a TEXT_STATES payload into a list of updates.
//
// A record whose declared text length would run past the end of the
// payload stops parsing at that record; all records decoded before it are
// still returned.
func DecodeTextBatch(payload []byte) ([]TextUpdate, error) {
	var updates []TextUpdate
	off := 0
	for off+textRecordMinSize <= len(payload) {
		id, err := CanonicalID(payload[off : off+16])
		if err != nil {
			return updates, err
		}
		off += 16
		off += 16 // icon id, ignored
		textLen := binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4

		end := off + int(textLen)
		if end < off || end > len(payload) {
			break
		}
		raw := payload[off:end]
		raw = bytes.TrimRight(raw, "\x00")
		text := toUTF8(raw)
		updates = append(updates, TextUpdate{StateID: id, Text: text})

		padded := int(textLen) + (4-int(textLen)%4)%4
		off += padded
	}
	return updates, nil
}

// toUTF8 decodes raw as UTF-8, replacing invalid sequences with the Unicode
// replacement character rather than failing the whole batch.
func toUTF8(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	var b bytes.Buffer
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		b.WriteRune(r)
		raw = raw[size:]
	}
	return b.String()
}
