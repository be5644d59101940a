package main

import (
	"encoding/binary"
	"testing"
)

func TestCreateFlvTagLayout(t *testing.T) {
	payload := []byte{0xAF, 0x01, 0x10, 0x20}
	packet := createBlankRTMPPacket()
	packet.header.packet_type = RTMP_TYPE_AUDIO
	packet.header.timestamp = 0x01020304
	packet.payload = payload
	packet.header.length = uint32(len(payload))

	tag := createFlvTag(packet)

	wantLen := flvTagHeaderSize + len(payload) + flvPrevTagSizeFieldLen
	if len(tag) != wantLen {
		t.Fatalf("tag length: got %d, want %d", len(tag), wantLen)
	}

	if tag[0] != RTMP_TYPE_AUDIO {
		t.Fatalf("tag type: got %d, want %d", tag[0], RTMP_TYPE_AUDIO)
	}

	gotSize := uint32(tag[1])<<16 | uint32(tag[2])<<8 | uint32(tag[3])
	if gotSize != uint32(len(payload)) {
		t.Fatalf("data size: got %d, want %d", gotSize, len(payload))
	}

	// Timestamp: low 24 bits big-endian, then the extension byte with the
	// high 8 bits.
	gotTs := int64(tag[4])<<16 | int64(tag[5])<<8 | int64(tag[6]) | int64(tag[7])<<24
	if gotTs != packet.header.timestamp {
		t.Fatalf("timestamp: got %d, want %d", gotTs, packet.header.timestamp)
	}

	for i, b := range payload {
		if tag[flvTagHeaderSize+i] != b {
			t.Fatalf("payload mismatch at %d", i)
		}
	}

	backPointer := binary.BigEndian.Uint32(tag[len(tag)-4:])
	if backPointer != uint32(flvTagHeaderSize+len(payload)) {
		t.Fatalf("previous tag size: got %d, want %d", backPointer, flvTagHeaderSize+len(payload))
	}
}
