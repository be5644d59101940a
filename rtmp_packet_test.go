package main

import "testing"

func TestRtmpChunkBasicHeaderWidths(t *testing.T) {
	// cid < 64 fits in the fmt/cid byte itself.
	if h := rtmpChunkBasicHeaderCreate(RTMP_CHUNK_TYPE_0, 3); len(h) != 1 || h[0] != 0x03 {
		t.Fatalf("small cid: got %v", h)
	}
	// 64 <= cid < 64+255 takes the 2-byte form.
	if h := rtmpChunkBasicHeaderCreate(RTMP_CHUNK_TYPE_0, 64); len(h) != 2 || h[0] != 0x00 || h[1] != 0x00 {
		t.Fatalf("2-byte cid: got %v", h)
	}
	if h := rtmpChunkBasicHeaderCreate(RTMP_CHUNK_TYPE_0, 318); len(h) != 2 || h[1] != 0xfe {
		t.Fatalf("2-byte cid upper bound: got %v", h)
	}
	// cid >= 64+255 takes the 3-byte form.
	if h := rtmpChunkBasicHeaderCreate(RTMP_CHUNK_TYPE_0, 319); len(h) != 3 || h[0]&0x3f != 1 {
		t.Fatalf("3-byte cid: got %v", h)
	}
}

func TestCreateChunksSinglePacketFitsOneChunk(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	packet := RTMPPacket{
		header: RTMPPacketHeader{
			timestamp:   100,
			fmt:         RTMP_CHUNK_TYPE_0,
			cid:         4,
			packet_type: 8,
			stream_id:   1,
			length:      uint32(len(payload)),
		},
		payload: payload,
	}

	chunks := packet.CreateChunks(128)

	// basic header (1) + fmt0 message header (11) + payload (5), no fmt3 continuation.
	wantLen := 1 + 11 + len(payload)
	if len(chunks) != wantLen {
		t.Fatalf("got %d bytes, want %d: %v", len(chunks), wantLen, chunks)
	}
	if chunks[0] != 0x04 {
		t.Fatalf("basic header: got %x, want 0x04", chunks[0])
	}
	tail := chunks[len(chunks)-len(payload):]
	for i, b := range payload {
		if tail[i] != b {
			t.Fatalf("payload mismatch at %d: got %x, want %x", i, tail[i], b)
		}
	}
}

func TestCreateChunksSplitsAcrossChunkSize(t *testing.T) {
	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i)
	}

	packet := RTMPPacket{
		header: RTMPPacketHeader{
			timestamp:   0,
			fmt:         RTMP_CHUNK_TYPE_0,
			cid:         4,
			packet_type: 9,
			stream_id:   1,
			length:      uint32(len(payload)),
		},
		payload: payload,
	}

	chunkSize := 4
	chunks := packet.CreateChunks(chunkSize)

	// Expect a fmt3 continuation basic header (1 byte, cid=4) inserted after
	// every full chunkSize-sized run of payload bytes.
	basicHeader := rtmpChunkBasicHeaderCreate(RTMP_CHUNK_TYPE_0, 4)
	messageHeader := rtmpChunkMessageHeaderCreate(&packet)
	continuationHeader := rtmpChunkBasicHeaderCreate(RTMP_CHUNK_TYPE_3, 4)

	offset := 0
	if string(chunks[offset:offset+len(basicHeader)]) != string(basicHeader) {
		t.Fatalf("missing initial basic header")
	}
	offset += len(basicHeader)

	if string(chunks[offset:offset+len(messageHeader)]) != string(messageHeader) {
		t.Fatalf("missing initial message header")
	}
	offset += len(messageHeader)

	// First chunkSize bytes of payload.
	for i := 0; i < chunkSize; i++ {
		if chunks[offset+i] != payload[i] {
			t.Fatalf("first run mismatch at %d", i)
		}
	}
	offset += chunkSize

	if string(chunks[offset:offset+len(continuationHeader)]) != string(continuationHeader) {
		t.Fatalf("expected fmt3 continuation header at offset %d, got %v", offset, chunks[offset:offset+len(continuationHeader)])
	}
	offset += len(continuationHeader)

	for i := 0; i < chunkSize; i++ {
		if chunks[offset+i] != payload[chunkSize+i] {
			t.Fatalf("second run mismatch at %d", i)
		}
	}
	offset += chunkSize

	if string(chunks[offset:offset+len(continuationHeader)]) != string(continuationHeader) {
		t.Fatalf("expected second fmt3 continuation header at offset %d", offset)
	}
	offset += len(continuationHeader)

	remaining := len(payload) - 2*chunkSize
	for i := 0; i < remaining; i++ {
		if chunks[offset+i] != payload[2*chunkSize+i] {
			t.Fatalf("final run mismatch at %d", i)
		}
	}
	offset += remaining

	if offset != len(chunks) {
		t.Fatalf("leftover bytes: consumed %d of %d", offset, len(chunks))
	}
}

func TestCreateChunksExtendedTimestamp(t *testing.T) {
	payload := []byte{0xAA}
	packet := RTMPPacket{
		header: RTMPPacketHeader{
			timestamp:   0x1000000, // >= 0xffffff, triggers the extended timestamp field
			fmt:         RTMP_CHUNK_TYPE_0,
			cid:         4,
			packet_type: 8,
			stream_id:   1,
			length:      uint32(len(payload)),
		},
		payload: payload,
	}

	chunks := packet.CreateChunks(128)

	// basic header(1) + fmt0 message header with timestamp field pinned to
	// 0xffffff(11) + extended timestamp(4) + payload(1).
	wantLen := 1 + 11 + 4 + len(payload)
	if len(chunks) != wantLen {
		t.Fatalf("got %d bytes, want %d", len(chunks), wantLen)
	}

	// The 3-byte timestamp field inside the message header must read 0xffffff.
	if chunks[1] != 0xff || chunks[2] != 0xff || chunks[3] != 0xff {
		t.Fatalf("expected pinned 0xffffff timestamp field, got % x", chunks[1:4])
	}
}
