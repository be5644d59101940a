// RTMP packet framing: header tracking for a single message plus the logic
// to split it into wire chunks.

package main

import "encoding/binary"

// RTMPPacketHeader carries the fields of an RTMP chunk message header,
// inherited across fmt 1/2/3 chunks per the chunk stream's cache rules.
type RTMPPacketHeader struct {
	timestamp int64

	fmt uint32 // chunk format (0-3)
	cid uint32 // chunk stream id

	packet_type uint32
	stream_id   uint32
	length      uint32 // payload length
}

// RTMPPacket is one RTMP message, possibly still being assembled from
// several incoming chunks (bytes < length) or ready to send/dispatch.
type RTMPPacket struct {
	header RTMPPacketHeader
	clock  int64 // running timestamp for this chunk stream, used to resolve extended timestamps and deltas

	capacity    uint32
	bytes       uint32 // bytes received so far for the current message
	handled     bool
	lastChunkAt int64 // unix ms of the last chunk received, for idle purging

	payload []byte
}

const RTMP_PACKET_BASE_SIZE = 65

func createBlankRTMPPacket() RTMPPacket {
	return RTMPPacket{payload: []byte{}}
}

// rtmpChunkBasicHeaderCreate encodes the 1/2/3-byte basic header: fmt in the
// top 2 bits, then the chunk stream id either inline (cid<64), or offset by
// 64 in one extra byte (64<=cid<64+255), or offset by 64 in two extra bytes
// (larger cid) per the RTMP chunk stream ID encoding.
func rtmpChunkBasicHeaderCreate(fmt uint32, cid uint32) []byte {
	switch {
	case cid >= 64+255:
		return []byte{
			byte(fmt<<6) | 1,
			byte((cid - 64) & 0xff),
			byte((cid - 64) >> 8 & 0xff),
		}
	case cid >= 64:
		return []byte{
			byte(fmt << 6),
			byte((cid - 64) & 0xff),
		}
	default:
		return []byte{byte(fmt<<6) | byte(cid)}
	}
}

// rtmpChunkMessageHeaderCreate encodes the message header portion that
// follows the basic header, whose length depends on packet.header.fmt:
// fmt0 carries all five fields, fmt1 omits the stream id, fmt2 carries only
// the timestamp delta, fmt3 carries nothing (full inheritance). A
// timestamp at or above 0xffffff is pinned to 0xffffff here, signaling the
// reader to expect a trailing 4-byte extended timestamp field instead.
func rtmpChunkMessageHeaderCreate(packet *RTMPPacket) []byte {
	out := make([]byte, 0, 11)

	if packet.header.fmt <= RTMP_CHUNK_TYPE_2 {
		ts := uint32(packet.header.timestamp)
		if packet.header.timestamp >= 0xffffff {
			ts = 0xffffff
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], ts)
		out = append(out, b[1:]...)
	}

	if packet.header.fmt <= RTMP_CHUNK_TYPE_1 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], packet.header.length)
		out = append(out, b[1:]...)
		out = append(out, byte(packet.header.packet_type))
	}

	if packet.header.fmt == RTMP_CHUNK_TYPE_0 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], packet.header.stream_id)
		out = append(out, b[:]...)
	}

	return out
}

// CreateChunks serializes packet as one or more wire chunks of at most
// outChunkSize payload bytes each: an initial chunk with the full basic +
// message header (and the extended timestamp field, if the timestamp
// didn't fit in 3 bytes), followed by fmt3 continuation chunks — each
// re-stating the extended timestamp too, when one was used — for any
// payload remainder.
func (packet *RTMPPacket) CreateChunks(outChunkSize int) []byte {
	basicHeader := rtmpChunkBasicHeaderCreate(packet.header.fmt, packet.header.cid)
	continuationBasicHeader := rtmpChunkBasicHeaderCreate(RTMP_CHUNK_TYPE_3, packet.header.cid)
	messageHeader := rtmpChunkMessageHeaderCreate(packet)

	extended := packet.header.timestamp >= 0xffffff
	payloadSize := int(packet.header.length)

	headerSize := len(basicHeader) + len(messageHeader)
	if extended {
		headerSize += 4
	}

	fullChunks := payloadSize / outChunkSize
	remainder := payloadSize % outChunkSize

	total := headerSize + payloadSize + fullChunks
	if extended {
		total += fullChunks * 4
	}
	if remainder == 0 && fullChunks > 0 {
		// The last full-size run needs no trailing continuation chunk.
		total--
		if extended {
			total -= 4
		}
	}

	out := make([]byte, total)
	offset := 0

	offset += copy(out[offset:], basicHeader)
	offset += copy(out[offset:], messageHeader)
	if extended {
		binary.BigEndian.PutUint32(out[offset:offset+4], uint32(packet.header.timestamp))
		offset += 4
	}

	payloadOffset := 0
	remaining := payloadSize
	for remaining > 0 {
		run := remaining
		if run > outChunkSize {
			run = outChunkSize
		}

		offset += copy(out[offset:], packet.payload[payloadOffset:payloadOffset+run])
		payloadOffset += run
		remaining -= run

		if remaining > 0 {
			offset += copy(out[offset:], continuationBasicHeader)
			if extended {
				binary.BigEndian.PutUint32(out[offset:offset+4], uint32(packet.header.timestamp))
				offset += 4
			}
		}
	}

	return out
}
