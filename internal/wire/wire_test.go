package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Type: MsgValueStates, Reserved: 0, PayloadLength: 0, Estimated: false},
		{Type: MsgTextStates, Reserved: 7, PayloadLength: 123456, Estimated: true},
		{Type: MsgKeepalive, Reserved: 0, PayloadLength: 0, Estimated: false},
	}
	for _, h := range cases {
		got, err := DecodeHeader(EncodeHeader(h))
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader([]byte{0x03, 0x02})
	assert.Error(t, err)
}

func TestDecodeHeaderBadStart(t *testing.T) {
	buf := EncodeHeader(Header{Type: MsgText})
	buf[0] = 0x99
	_, err := DecodeHeader(buf)
	assert.Error(t, err)
}

func TestIdentifierRoundTrip(t *testing.T) {
	ids := []string{
		"0f236d8a-02c0-4d04-8f34-00d3c7a1e4b2",
		"00000000-0000-0000-0000-000000000000",
		"ffffffff-ffff-ffff-ffff-ffffffffffff",
	}
	for _, want := range ids {
		w, err := WireID(want)
		require.NoError(t, err)
		got, err := CanonicalID(w)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestValueBatchRoundTrip(t *testing.T) {
	id1, _ := CanonicalID(make([]byte, 16))
	updates := []ValueUpdate{
		{StateID: id1, Value: 1.0},
		{StateID: id1, Value: -42.5},
	}
	encoded, err := EncodeValueBatch(updates)
	require.NoError(t, err)

	got, err := DecodeValueBatch(encoded)
	require.NoError(t, err)
	assert.Equal(t, updates, got)
}

func TestValueBatchTrailingPartialRecordDropped(t *testing.T) {
	id1, _ := CanonicalID(make([]byte, 16))
	encoded, err := EncodeValueBatch([]ValueUpdate{{StateID: id1, Value: 2.0}})
	require.NoError(t, err)

	encoded = append(encoded, 0x01, 0x02, 0x03) // short trailing garbage
	got, err := DecodeValueBatch(encoded)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Value)
}

func TestTextBatchRoundTrip(t *testing.T) {
	payload := buildTextRecord(t, "hello world") // 11 bytes + NUL = 12, already 4-byte aligned
	updates, err := DecodeTextBatch(payload)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "hello world", updates[0].Text)
}

func TestTextBatchOverrunStopsAtThatRecord(t *testing.T) {
	good := buildTextRecord(t, "ok")
	bad := buildTextRecord(t, "truncated")
	bad = bad[:len(bad)-4] // lie about length vs. available payload

	payload := append(good, bad...)
	updates, err := DecodeTextBatch(payload)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "ok", updates[0].Text)
}

func buildTextRecord(t *testing.T, text string) []byte {
	t.Helper()
	id, err := CanonicalID(make([]byte, 16))
	require.NoError(t, err)
	wireID, err := WireID(id)
	require.NoError(t, err)

	buf := append([]byte{}, wireID...)
	buf = append(buf, make([]byte, 16)...) // icon id, ignored

	raw := append([]byte(text), 0x00)
	length := len(raw)
	lenBuf := make([]byte, 4)
	lenBuf[0] = byte(length)
	lenBuf[1] = byte(length >> 8)
	lenBuf[2] = byte(length >> 16)
	lenBuf[3] = byte(length >> 24)
	buf = append(buf, lenBuf...)

	padded := length + (4-length%4)%4
	padding := make([]byte, padded-length)
	buf = append(buf, raw...)
	buf = append(buf, padding...)
	return buf
}
