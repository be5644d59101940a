package main

import (
	"bufio"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"
)

// newTestSession wires a session to one end of an in-memory pipe, backed
// by a listener-less server with a working registry, and returns the
// other end for the test to play the peer.
func newTestSession(t *testing.T) (*RTMPSession, net.Conn) {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})

	server := &RTMPServer{
		mutex:    &sync.Mutex{},
		ipMutex:  &sync.Mutex{},
		sessions: make(map[uint64]*RTMPSession),
		channels: make(map[string]*RTMPChannel),
		ipCount:  make(map[string]uint32),
	}

	s := CreateRTMPSession(server, 1, "127.0.0.1", serverSide)
	server.sessions[s.id] = &s
	return &s, clientSide
}

// fmt0Header builds a full chunk message header for cid < 64.
func fmt0Header(cid byte, timestamp uint32, length uint32, msgType byte, streamId uint32) []byte {
	h := make([]byte, 12)
	h[0] = cid // fmt0
	h[1] = byte(timestamp >> 16)
	h[2] = byte(timestamp >> 8)
	h[3] = byte(timestamp)
	h[4] = byte(length >> 16)
	h[5] = byte(length >> 8)
	h[6] = byte(length)
	h[7] = msgType
	binary.LittleEndian.PutUint32(h[8:12], streamId)
	return h
}

func TestReadChunkReassemblesAcrossContinuations(t *testing.T) {
	s, peer := newTestSession(t)

	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}

	go func() {
		// Acknowledgement carries no handler side effects, so the test can
		// inspect the assembled buffer afterwards.
		peer.Write(fmt0Header(3, 1000, 300, RTMP_TYPE_ACKNOWLEDGEMENT, 0))
		peer.Write(payload[:128]) // default inbound chunk size
		peer.Write([]byte{0xc3})  // fmt3 continuation, cid 3
		peer.Write(payload[128:256])
		peer.Write([]byte{0xc3})
		peer.Write(payload[256:])
	}()

	r := bufio.NewReader(s.conn)
	for i := 0; i < 3; i++ {
		if !s.ReadChunk(r) {
			t.Fatalf("chunk %d rejected", i)
		}
	}

	packet := s.inPackets[3]
	if packet == nil {
		t.Fatal("no assembly buffer for cid 3")
	}
	if !packet.handled {
		t.Fatal("message not complete after both chunks")
	}
	if packet.bytes != 300 || len(packet.payload) != 300 {
		t.Fatalf("got %d bytes assembled, want 300", packet.bytes)
	}
	for i, b := range payload {
		if packet.payload[i] != b {
			t.Fatalf("payload mismatch at %d", i)
		}
	}
	if packet.clock != 1000 {
		t.Fatalf("clock: got %d, want 1000", packet.clock)
	}
}

func TestReadChunkExtendedTimestamp(t *testing.T) {
	s, peer := newTestSession(t)

	const realTs = 0x1234567

	go func() {
		peer.Write(fmt0Header(3, 0xffffff, 1, RTMP_TYPE_ACKNOWLEDGEMENT, 0))
		var ext [4]byte
		binary.BigEndian.PutUint32(ext[:], realTs)
		peer.Write(ext[:])
		peer.Write([]byte{0x00})
	}()

	if !s.ReadChunk(bufio.NewReader(s.conn)) {
		t.Fatal("chunk rejected")
	}

	if s.inPackets[3].clock != realTs {
		t.Fatalf("clock: got %d, want %d", s.inPackets[3].clock, realTs)
	}
}

func TestSetChunkSizeAppliedAndBounded(t *testing.T) {
	s, peer := newTestSession(t)

	go func() {
		var p [4]byte
		binary.BigEndian.PutUint32(p[:], 4096)
		peer.Write(fmt0Header(2, 0, 4, RTMP_TYPE_SET_CHUNK_SIZE, 0))
		peer.Write(p[:])
	}()

	if !s.ReadChunk(bufio.NewReader(s.conn)) {
		t.Fatal("legal chunk size rejected")
	}
	if s.inChunkSize != 4096 {
		t.Fatalf("inChunkSize: got %d, want 4096", s.inChunkSize)
	}

	go func() {
		var p [4]byte
		binary.BigEndian.PutUint32(p[:], RTMP_CHUNK_SIZE_MAX+1)
		peer.Write(fmt0Header(2, 0, 4, RTMP_TYPE_SET_CHUNK_SIZE, 0))
		peer.Write(p[:])
	}()

	if s.ReadChunk(bufio.NewReader(s.conn)) {
		t.Fatal("oversized chunk size must end the session")
	}
}

func TestReadChunkRejectsUnknownMessageType(t *testing.T) {
	s, peer := newTestSession(t)

	go func() {
		peer.Write(fmt0Header(3, 0, 1, 23, 0)) // type ids stop at 22
		peer.Write([]byte{0x00})
	}()

	if s.ReadChunk(bufio.NewReader(s.conn)) {
		t.Fatal("unknown message type must end the session")
	}
}

func TestNormalizeVideoPayloadEnhancedHEVC(t *testing.T) {
	s, _ := newTestSession(t)

	// Enhanced bit set, frame type 1, SequenceStart, FourCC hvc1, config bytes.
	payload := append([]byte{0x90}, []byte("hvc1")...)
	payload = append(payload, 0x01, 0x02, 0x03)

	normalized, codecId, isHeader := s.normalizeVideoPayload(payload)

	if codecId != AVC_CODEC_HEVC {
		t.Fatalf("codec: got %d, want %d", codecId, AVC_CODEC_HEVC)
	}
	if !isHeader {
		t.Fatal("SequenceStart must report as a sequence header")
	}
	// Legacy shape: (frameType<<4)|12, AVCPacketType 0, zero composition time.
	want := []byte{0x1c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03}
	if len(normalized) != len(want) {
		t.Fatalf("normalized length: got %d, want %d", len(normalized), len(want))
	}
	for i := range want {
		if normalized[i] != want[i] {
			t.Fatalf("normalized[%d]: got %x, want %x", i, normalized[i], want[i])
		}
	}
}

func TestNormalizeVideoPayloadLegacyPassthrough(t *testing.T) {
	s, _ := newTestSession(t)

	// Legacy keyframe AVC sequence header.
	payload := []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0xAA}

	normalized, codecId, isHeader := s.normalizeVideoPayload(payload)

	if &normalized[0] != &payload[0] {
		t.Fatal("legacy payload must pass through unmodified")
	}
	if codecId != AVC_CODEC_H264 || !isHeader {
		t.Fatalf("got codec=%d isHeader=%v, want codec=%d isHeader=true", codecId, isHeader, AVC_CODEC_H264)
	}
}

// drainConn collects everything written to c until it is closed.
func drainConn(c net.Conn, out chan<- []byte) {
	var collected []byte
	buf := make([]byte, 4096)
	for {
		c.SetReadDeadline(time.Now().Add(time.Second))
		n, e := c.Read(buf)
		collected = append(collected, buf[:n]...)
		if e != nil {
			out <- collected
			return
		}
	}
}

func TestSendPacketHeaderCompression(t *testing.T) {
	s, peer := newTestSession(t)

	received := make(chan []byte, 1)
	go drainConn(peer, received)

	send := func(timestamp int64) {
		packet := createBlankRTMPPacket()
		packet.header.cid = RTMP_CHANNEL_AUDIO
		packet.header.packet_type = RTMP_TYPE_AUDIO
		packet.header.stream_id = 1
		packet.header.timestamp = timestamp
		packet.payload = []byte{0xAF, 0x01, 0x00}
		packet.header.length = 3
		s.SendPacket(&packet)
	}

	send(0)  // nothing cached: full fmt0 header
	send(20) // same size/type/stream: delta-only fmt2
	send(40) // identical delta: fmt3
	s.conn.Close()

	out := <-received

	// Message 1: fmt0 basic header + 11-byte header + 3 payload.
	if out[0]>>6 != RTMP_CHUNK_TYPE_0 {
		t.Fatalf("first message fmt: got %d, want 0", out[0]>>6)
	}
	second := out[1+11+3:]
	if second[0]>>6 != RTMP_CHUNK_TYPE_2 {
		t.Fatalf("second message fmt: got %d, want 2", second[0]>>6)
	}
	// fmt2 carries the 3-byte delta only.
	delta := uint32(second[1])<<16 | uint32(second[2])<<8 | uint32(second[3])
	if delta != 20 {
		t.Fatalf("second message delta: got %d, want 20", delta)
	}
	third := second[1+3+3:]
	if third[0]>>6 != RTMP_CHUNK_TYPE_3 {
		t.Fatalf("third message fmt: got %d, want 3", third[0]>>6)
	}
}

func TestPurgeIdlePackets(t *testing.T) {
	s, _ := newTestSession(t)

	now := time.Now().UnixMilli()
	idleMs := RTMP_CHUNK_IDLE_TIMEOUT.Milliseconds()

	stale := createBlankRTMPPacket()
	stale.bytes = 10
	stale.lastChunkAt = now - idleMs - 1000
	s.inPackets[7] = &stale

	fresh := createBlankRTMPPacket()
	fresh.bytes = 10
	fresh.lastChunkAt = now
	s.inPackets[8] = &fresh

	s.lastPurgeTime = now - idleMs - 1
	s.purgeIdlePackets(now)

	if s.inPackets[7] != nil {
		t.Fatal("stale assembly buffer not purged")
	}
	if s.inPackets[8] == nil {
		t.Fatal("fresh assembly buffer must survive")
	}
}

// A play request for an app with no live publisher must be refused with
// NetStream.Play.BadName and end the session, leaving no registry entry
// behind.
func TestHandlePlayNoPublisher(t *testing.T) {
	s, peer := newTestSession(t)

	received := make(chan []byte, 1)
	go drainConn(peer, received)

	s.isConnected = true
	s.channel = "live"

	streamName := createAMF0Value(AMF0_TYPE_STRING)
	streamName.str_val = "abc"
	cmd := RTMPCommand{
		cmd:       "play",
		arguments: map[string]*AMF0Value{"streamName": &streamName},
	}

	pkt := createBlankRTMPPacket()
	pkt.header.stream_id = 1

	if s.HandlePlay(&cmd, &pkt) {
		t.Fatal("play with no publisher must end the session")
	}

	if s.server.channels["live"] != nil {
		t.Fatal("rejected player must not leave a registry entry behind")
	}
	if s.isPlaying || s.isIdling {
		t.Fatal("rejected player must not be marked playing or idling")
	}
}

func TestReadChunkWideChunkStreamIds(t *testing.T) {
	s, peer := newTestSession(t)

	go func() {
		// 2-byte basic header: cs=0, one extra byte, csid = 64 + b.
		header := append([]byte{0x00, 0x00}, fmt0Header(0, 0, 1, RTMP_TYPE_ACKNOWLEDGEMENT, 0)[1:]...)
		peer.Write(header)
		peer.Write([]byte{0x00})

		// 3-byte basic header: cs=1, csid = 64 + b1 + b2*256.
		header = append([]byte{0x01, 0x01, 0x01}, fmt0Header(0, 0, 1, RTMP_TYPE_ACKNOWLEDGEMENT, 0)[1:]...)
		peer.Write(header)
		peer.Write([]byte{0x00})
	}()

	r := bufio.NewReader(s.conn)
	if !s.ReadChunk(r) || !s.ReadChunk(r) {
		t.Fatal("chunks rejected")
	}

	if s.inPackets[64] == nil {
		t.Fatal("2-byte basic header must decode to csid 64")
	}
	if s.inPackets[64+1+256] == nil {
		t.Fatal("3-byte basic header must decode to csid 321")
	}
}

func TestAbortDiscardsPartialMessage(t *testing.T) {
	s, peer := newTestSession(t)

	go func() {
		// Start a 300-byte message on cid 7 but only deliver one chunk.
		peer.Write(fmt0Header(7, 0, 300, RTMP_TYPE_ACKNOWLEDGEMENT, 0))
		peer.Write(make([]byte, 128))
		// Abort for cid 7, sent on the control chunk stream.
		var target [4]byte
		binary.BigEndian.PutUint32(target[:], 7)
		peer.Write(fmt0Header(2, 0, 4, RTMP_TYPE_ABORT, 0))
		peer.Write(target[:])
	}()

	r := bufio.NewReader(s.conn)
	if !s.ReadChunk(r) || !s.ReadChunk(r) {
		t.Fatal("chunks rejected")
	}

	if s.inPackets[7] != nil {
		t.Fatal("aborted chunk stream must drop its partial message")
	}
}
