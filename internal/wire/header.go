// Package wire implements the Loxone Miniserver framed binary protocol: the
// 8-byte message header and the VALUE/TEXT batch payload codecs.
package wire

import (
	"encoding/binary"
	"fmt"
)

// MsgType identifies the kind of payload that follows a Header frame.
type MsgType uint8

const (
	MsgText          MsgType = 0
	MsgBinaryFile    MsgType = 1
	MsgValueStates   MsgType = 2
	MsgTextStates    MsgType = 3
	MsgDaytimerState MsgType = 4
	MsgOutOfService  MsgType = 5
	MsgKeepalive     MsgType = 6
	MsgWeatherStates MsgType = 7
)

// HeaderSize is the fixed, wire-exact size of a Loxone message header.
const HeaderSize = 8

// headerStartByte is the fixed first byte of every header frame.
const headerStartByte = 0x03

// estimatedFlag is the low bit of the info_flags byte: when set, the
// payload_length in this header is an estimate and a corrected header will
// follow before the payload.
const estimatedFlag = 0x01

// Header is the decoded form of the 8-byte little-endian Loxone message
// header.
type Header struct {
	Type          MsgType
	Reserved      uint8
	PayloadLength uint32
	Estimated     bool
}

// DecodeHeader parses exactly HeaderSize bytes into a Header. It returns an
// error if data is short or the start byte doesn't match the fixed marker.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("wire: header requires %d bytes, got %d", HeaderSize, len(data))
	}
	if data[0] != headerStartByte {
		return Header{}, fmt.Errorf("wire: unexpected header start byte 0x%02x", data[0])
	}
	info := data[2]
	return Header{
		Type:          MsgType(data[1]),
		Reserved:      data[3],
		PayloadLength: binary.LittleEndian.Uint32(data[4:8]),
		Estimated:     info&estimatedFlag != 0,
	}, nil
}

// EncodeHeader serializes h into an 8-byte wire frame. It is the inverse of
// DecodeHeader for the four user-controlled fields (Type, Reserved,
// PayloadLength, Estimated); the start byte is always the fixed marker.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = headerStartByte
	buf[1] = byte(h.Type)
	if h.Estimated {
		buf[2] = estimatedFlag
	}
	buf[3] = h.Reserved
	binary.LittleEndian.PutUint32(buf[4:8], h.PayloadLength)
	return buf
}
