// FLV tag framing: an RTMP message wrapped in the 11-byte FLV tag header
// plus a trailing 4-byte "previous tag size" back-pointer, the shape the
// GOP cache and any downstream recorder consume regardless of codec.

package main

import "encoding/binary"

const flvTagHeaderSize = 11
const flvPrevTagSizeFieldLen = 4

// createFlvTag wraps a single RTMP packet in an FLV tag: type byte, 3-byte
// payload length, 3-byte timestamp + 1 timestamp-extension byte, a 3-byte
// stream id (always zero), the payload itself, and the trailing tag-size
// back-pointer used to seek backwards through an FLV stream.
func createFlvTag(packet RTMPPacket) []byte {
	tagSize := flvTagHeaderSize + packet.header.length
	tag := make([]byte, tagSize+flvPrevTagSizeFieldLen)

	tag[0] = byte(packet.header.packet_type)

	lengthField := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthField, packet.header.length)
	copy(tag[1:4], lengthField[1:4])

	ts := packet.header.timestamp
	tag[4] = byte(ts >> 16)
	tag[5] = byte(ts >> 8)
	tag[6] = byte(ts)
	tag[7] = byte(ts >> 24) // extended timestamp byte (high bits)

	// bytes 8-10: stream id, always 0

	copy(tag[flvTagHeaderSize:], packet.payload[:packet.header.length])

	prevTagSizeField := make([]byte, 4)
	binary.BigEndian.PutUint32(prevTagSizeField, tagSize)
	copy(tag[tagSize:], prevTagSizeField)

	return tag
}
