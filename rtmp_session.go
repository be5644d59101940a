// Per-connection RTMP session: handshake, chunk stream decoding, message
// dispatch and the publish/play command handlers.

package main

import (
	"bufio"
	"container/list"
	"encoding/binary"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BitRateCache accumulates received bytes over a fixed interval so the
// session can expose an approximate inbound bitrate.
type BitRateCache struct {
	intervalMs int64
	lastUpdate int64  // unix milliseconds
	bytes      uint64 // bytes received since lastUpdate
}

// RTMPSession is the full state of one accepted connection, from handshake
// to teardown. Reads happen on the accepting goroutine; relayed media for
// players is written by the outbox goroutine.
type RTMPSession struct {
	server *RTMPServer
	conn   net.Conn

	id uint64
	ip string

	inChunkSize  uint32 // chunk size announced by the peer
	outChunkSize uint32 // chunk size this server announces

	ackSize   uint32 // window acknowledgement size requested by the peer
	inAckSize uint32 // total bytes read, for acknowledgements
	inLastAck uint32 // bytes already acknowledged

	peerBandwidth      uint32 // last Set Peer Bandwidth window received
	peerBandwidthLimit byte   // its limit type (0 hard, 1 soft, 2 dynamic)

	objectEncoding uint32
	connectTime    int64 // unix milliseconds

	mutex        *sync.Mutex // guards conn writes and close
	publishMutex *sync.Mutex // guards publishing state, GOP cache and metadata

	// Partially assembled inbound messages, keyed by chunk stream id.
	// Entries left incomplete for too long are purged (see purgeIdlePackets).
	inPackets     map[uint32]*RTMPPacket
	lastPurgeTime int64 // unix milliseconds

	playStreamId    uint32
	publishStreamId uint32
	streams         uint32 // createStream counter

	receiveAudio bool
	receiveVideo bool

	channel          string // app name from connect
	key              string // stream key from publish/play
	externalStreamId string // stream id assigned by the callback / coordinator

	isConnected  bool
	isPublishing bool
	isPlaying    bool
	isIdling     bool // playing a channel that has no publisher yet
	isPause      bool

	metaData          []byte
	audioCodec        uint32 // sound format nibble from the first audio packet
	audioCodecName    string
	audioProfile      string // from the AAC sequence header
	audioSampleRate   uint32
	audioChannels     uint32
	videoCodec        uint32 // legacy FLV nibble, or the AV1 placeholder after Enhanced-RTMP normalization
	videoCodecName    string
	videoProfile      string // from the video sequence header
	videoLevel        float32
	videoWidth        uint32
	videoHeight       uint32
	aacSequenceHeader []byte
	avcSequenceHeader []byte // AVC/HEVC/AV1, normalized to legacy FLV shape

	clock int64 // publisher clock, driven by inbound media timestamps

	rtmpGopCache     *list.List
	gopCacheSize     int64
	gopCacheLimit    int64
	gopCacheDisabled bool
	gopPlayNo        bool // player refused GOP replay (cache=no)
	gopPlayClear     bool // player asked for the cache to be cleared (cache=clear)

	bitRate      uint64 // bit/ms
	bitRateCache BitRateCache

	outMutex       *sync.Mutex               // guards outChunkStates
	outChunkStates map[uint32]*outChunkState // last header sent per channel id

	outbox         chan *RTMPPacket // bounded fan-out queue for this session as a player
	outboxDone     chan struct{}
	outboxDoneOnce sync.Once
}

// Bounded per-subscriber fan-out: a full outbox means the player isn't
// draining fast enough, so it gets dropped instead of stalling the
// publisher's goroutine with a blocking write.
const PLAYER_OUTBOX_CAPACITY = 1024

// Tracks the last header written to a given channel ID, so later messages
// on the same channel can be sent as a compressed fmt 1/2/3 chunk instead
// of a full fmt 0 record.
type outChunkState struct {
	hasSent           bool
	streamId          uint32
	absoluteTimestamp int64
	delta             int64
	length            uint32
	packetType        uint32
	wireTimestamp     int64 // value actually serialized: absolute for fmt0, delta for fmt1/2, carried over for fmt3
}

// CreateRTMPSession builds the initial state for a freshly accepted
// connection. Nothing is read from the socket here.
func CreateRTMPSession(server *RTMPServer, id uint64, ip string, c net.Conn) RTMPSession {
	return RTMPSession{
		server: server,
		conn:   c,
		id:     id,
		ip:     ip,

		mutex:        &sync.Mutex{},
		publishMutex: &sync.Mutex{},

		inChunkSize:  RTMP_CHUNK_SIZE_DEFAULT,
		outChunkSize: server.getOutChunkSize(),

		inPackets: make(map[uint32]*RTMPPacket),

		receiveAudio: true,
		receiveVideo: true,

		metaData:          make([]byte, 0),
		aacSequenceHeader: make([]byte, 0),
		avcSequenceHeader: make([]byte, 0),

		rtmpGopCache:  list.New(),
		gopCacheLimit: server.gopCacheLimit,

		bitRateCache: BitRateCache{intervalMs: 1000},

		outMutex:       &sync.Mutex{},
		outChunkStates: make(map[uint32]*outChunkState),

		outbox:     make(chan *RTMPPacket, PLAYER_OUTBOX_CAPACITY),
		outboxDone: make(chan struct{}),
	}
}

// SendSync writes raw bytes to the peer, serialized against other writers.
func (s *RTMPSession) SendSync(b []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.conn.Write(b) //nolint:errcheck
}

// Kill closes the connection, unblocking any pending read.
func (s *RTMPSession) Kill() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.conn.Close()
}

// runOutboxWriter drains the fan-out queue and performs the actual chunked
// write, on its own goroutine so a publisher relaying audio/video never
// blocks on this session's socket. Runs until stopOutboxWriter is called.
func (s *RTMPSession) runOutboxWriter() {
	for {
		select {
		case pkt := <-s.outbox:
			s.SendPacket(pkt)
		case <-s.outboxDone:
			return
		}
	}
}

// stopOutboxWriter signals runOutboxWriter to return. Safe to call more
// than once.
func (s *RTMPSession) stopOutboxWriter() {
	s.outboxDoneOnce.Do(func() {
		close(s.outboxDone)
	})
}

// enqueueOutboxPacket attempts a non-blocking hand-off to the outbox.
// Returns false when the queue is full, meaning this session isn't
// draining fast enough to keep up with the stream.
func (s *RTMPSession) enqueueOutboxPacket(pkt *RTMPPacket) bool {
	select {
	case s.outbox <- pkt:
		return true
	default:
		return false
	}
}

// GetStreamPath returns /{CHANNEL}/{KEY}.
func (s *RTMPSession) GetStreamPath() string {
	return "/" + s.channel + "/" + s.key
}

// SendPacket picks the cheapest chunk header form for pkt's channel ID
// given what was last sent on it (FULL when the stream ID changes or
// nothing has been sent yet, MESSAGE when only length/type differ, TIME
// when just the timestamp delta differs, fmt3 to repeat an identical
// delta), rewrites pkt.header accordingly, and sends it.
func (s *RTMPSession) SendPacket(pkt *RTMPPacket) {
	s.outMutex.Lock()
	defer s.outMutex.Unlock()

	absoluteTs := pkt.header.timestamp
	st := s.outChunkStates[pkt.header.cid]

	switch {
	case st == nil || st.streamId != pkt.header.stream_id:
		pkt.header.fmt = RTMP_CHUNK_TYPE_0
	case st.length != pkt.header.length || st.packetType != pkt.header.packet_type:
		pkt.header.fmt = RTMP_CHUNK_TYPE_1
	default:
		delta := absoluteTs - st.absoluteTimestamp
		if st.hasSent && st.delta == delta {
			pkt.header.fmt = RTMP_CHUNK_TYPE_3
		} else {
			pkt.header.fmt = RTMP_CHUNK_TYPE_2
		}
	}

	var wireTimestamp int64
	var delta int64

	switch pkt.header.fmt {
	case RTMP_CHUNK_TYPE_0:
		wireTimestamp = absoluteTs
	case RTMP_CHUNK_TYPE_1, RTMP_CHUNK_TYPE_2:
		delta = absoluteTs - st.absoluteTimestamp
		wireTimestamp = delta
	case RTMP_CHUNK_TYPE_3:
		delta = st.delta
		wireTimestamp = st.wireTimestamp
	}

	pkt.header.timestamp = wireTimestamp

	chunks := pkt.CreateChunks(int(s.outChunkSize))
	s.SendSync(chunks)

	s.outChunkStates[pkt.header.cid] = &outChunkState{
		hasSent:           true,
		streamId:          pkt.header.stream_id,
		absoluteTimestamp: absoluteTs,
		delta:             delta,
		length:            pkt.header.length,
		packetType:        pkt.header.packet_type,
		wireTimestamp:     wireTimestamp,
	}
}

// doHandshake runs C0/C1 -> S0/S1/S2 -> C2. The whole exchange shares one
// deadline: a peer that can't finish within RTMP_HANDSHAKE_TIMEOUT is cut
// off.
func (s *RTMPSession) doHandshake(r *bufio.Reader) bool {
	deadline := time.Now().Add(RTMP_HANDSHAKE_TIMEOUT)
	if s.conn.SetReadDeadline(deadline) != nil {
		return false
	}

	version, e := r.ReadByte()
	if e != nil {
		return false
	}
	if version != RTMP_VERSION && version != RTMP_VERSION_ENHANCED {
		LogDebugSession(s.id, s.ip, "Invalid protocol version: "+strconv.Itoa(int(version)))
		return false
	}

	c1 := make([]byte, RTMP_HANDSHAKE_SIZE)
	if _, e := io.ReadFull(r, c1); e != nil {
		LogDebugSession(s.id, s.ip, "Invalid handshake received")
		return false
	}

	s0s1s2 := generateS0S1S2(c1)
	if n, e := s.conn.Write(s0s1s2); e != nil || n != len(s0s1s2) {
		LogDebugSession(s.id, s.ip, "Could not send handshake message")
		return false
	}

	// C2 is an echo of S1; nothing in it is needed past this point.
	c2 := make([]byte, RTMP_HANDSHAKE_SIZE)
	if _, e := io.ReadFull(r, c2); e != nil {
		LogDebugSession(s.id, s.ip, "Invalid handshake response received")
		return false
	}

	return true
}

// HandleSession performs the handshake and then decodes chunks until the
// connection dies or a protocol error is hit.
func (s *RTMPSession) HandleSession() {
	r := bufio.NewReader(s.conn)

	if !s.doHandshake(r) {
		return
	}

	for s.ReadChunk(r) {
	}
}

// renewReadDeadline pushes the read deadline forward before a blocking
// read. A session silent for RTMP_PING_TIMEOUT is considered gone.
func (s *RTMPSession) renewReadDeadline() bool {
	e := s.conn.SetReadDeadline(time.Now().Add(RTMP_PING_TIMEOUT * time.Millisecond))
	if e != nil {
		LogDebugSession(s.id, s.ip, "Could not set deadline: "+e.Error())
	}
	return e == nil
}

// readBasicHeader decodes the 1-3 byte basic header. The 2-bit fmt rides
// on top of the first byte; chunk stream ids 2-63 fit inline, 64-319 take
// one extra byte and 64-65599 take two (little-endian, offset by 64).
func (s *RTMPSession) readBasicHeader(r *bufio.Reader, read *uint32) (fmtType uint32, cid uint32, ok bool) {
	if !s.renewReadDeadline() {
		return 0, 0, false
	}

	b0, e := r.ReadByte()
	if e != nil {
		LogDebugSession(s.id, s.ip, "Could not read chunk start byte: "+e.Error())
		return 0, 0, false
	}
	*read++

	fmtType = uint32(b0 >> 6)

	extra := 0
	switch b0 & 0x3f {
	case 0:
		extra = 1
	case 1:
		extra = 2
	}

	if extra == 0 {
		return fmtType, uint32(b0 & 0x3f), true
	}

	ext := make([]byte, extra)
	if !s.renewReadDeadline() {
		return 0, 0, false
	}
	if _, e := io.ReadFull(r, ext); e != nil {
		LogDebugSession(s.id, s.ip, "Could not read chunk basic header")
		return 0, 0, false
	}
	*read += uint32(extra)

	cid = 64 + uint32(ext[0])
	if extra == 2 {
		cid += uint32(ext[1]) * 256
	}
	return fmtType, cid, true
}

// packetForChunkStream returns the assembly buffer for cid, recycling a
// finished one or allocating on first use.
func (s *RTMPSession) packetForChunkStream(cid uint32) *RTMPPacket {
	packet := s.inPackets[cid]
	if packet == nil {
		bp := createBlankRTMPPacket()
		packet = &bp
		s.inPackets[cid] = packet
	} else if packet.handled {
		packet.handled = false
		packet.payload = make([]byte, 0)
		packet.bytes = 0
	}
	return packet
}

// purgeIdlePackets drops assembly buffers whose peer stopped sending
// mid-message, bounding memory against a client that opens chunk streams
// and never completes them. Runs at most once per timeout interval.
func (s *RTMPSession) purgeIdlePackets(now int64) {
	idleMs := RTMP_CHUNK_IDLE_TIMEOUT.Milliseconds()
	if now-s.lastPurgeTime < idleMs {
		return
	}
	s.lastPurgeTime = now

	for cid, packet := range s.inPackets {
		if !packet.handled && packet.bytes > 0 && now-packet.lastChunkAt > idleMs {
			LogDebugSession(s.id, s.ip, "Purged idle chunk stream: "+strconv.Itoa(int(cid)))
			delete(s.inPackets, cid)
		}
	}
}

// ReadChunk decodes one inbound chunk: basic header, whatever portion of
// the message header the fmt value says is present (inheriting the rest
// from the chunk stream's previous header), the optional extended
// timestamp, and up to one chunk size of payload. Dispatches the message
// once fully assembled. Returns false to end the session.
func (s *RTMPSession) ReadChunk(r *bufio.Reader) bool {
	var bytesReadCount uint32

	fmtType, cid, ok := s.readBasicHeader(r, &bytesReadCount)
	if !ok {
		return false
	}

	headerSize := int(rtmpHeaderSize[fmtType])
	header := make([]byte, headerSize)
	if headerSize > 0 {
		if !s.renewReadDeadline() {
			return false
		}
		if _, e := io.ReadFull(r, header); e != nil {
			LogDebugSession(s.id, s.ip, "Could not read chunk header")
			return false
		}
		bytesReadCount += uint32(headerSize)
	}

	packet := s.packetForChunkStream(cid)
	packet.header.cid = cid
	packet.header.fmt = fmtType

	// fmt0 carries an absolute timestamp, fmt1/2 a delta, fmt3 nothing;
	// length/type stop at fmt1 and the stream id is fmt0-only. Omitted
	// fields keep their values from the previous header on this cid.
	if fmtType <= RTMP_CHUNK_TYPE_2 {
		packet.header.timestamp = int64(uint32(header[0])<<16 | uint32(header[1])<<8 | uint32(header[2]))
	}
	if fmtType <= RTMP_CHUNK_TYPE_1 {
		packet.header.length = uint32(header[3])<<16 | uint32(header[4])<<8 | uint32(header[5])
		packet.header.packet_type = uint32(header[6])
	}
	if fmtType == RTMP_CHUNK_TYPE_0 {
		packet.header.stream_id = binary.LittleEndian.Uint32(header[7:11])
	}

	if packet.header.packet_type > RTMP_TYPE_METADATA {
		LogDebugSession(s.id, s.ip, "Unknown message type: "+strconv.Itoa(int(packet.header.packet_type)))
		return false
	}

	// A 3-byte field pinned at 0xffffff means the real value follows as 4
	// bytes. The pin survives into fmt3 continuations, so those re-read
	// the extended field too (the FFmpeg behavior).
	timestamp := packet.header.timestamp
	if timestamp == 0xffffff {
		ext := make([]byte, 4)
		if !s.renewReadDeadline() {
			return false
		}
		if _, e := io.ReadFull(r, ext); e != nil {
			LogDebugSession(s.id, s.ip, "Could not read extended timestamp")
			return false
		}
		bytesReadCount += 4
		timestamp = int64(binary.BigEndian.Uint32(ext))
	}

	now := time.Now().UnixMilli()
	packet.lastChunkAt = now

	if packet.bytes == 0 {
		if packet.header.fmt == RTMP_CHUNK_TYPE_0 {
			packet.clock = timestamp
		} else {
			packet.clock += timestamp
		}

		s.SetClock(packet.clock)

		if packet.capacity < packet.header.length {
			packet.capacity = 1024 + packet.header.length
		}
	}

	// Payload: the message arrives in runs of at most inChunkSize bytes.
	sizeToRead := s.inChunkSize - (packet.bytes % s.inChunkSize)
	if sizeToRead > packet.header.length-packet.bytes {
		sizeToRead = packet.header.length - packet.bytes
	}
	if sizeToRead > 0 {
		chunkPayload := make([]byte, sizeToRead)
		if !s.renewReadDeadline() {
			return false
		}
		if _, e := io.ReadFull(r, chunkPayload); e != nil {
			LogDebugSession(s.id, s.ip, "Could not read chunk payload: "+e.Error())
			return false
		}
		bytesReadCount += sizeToRead

		packet.bytes += sizeToRead
		packet.payload = append(packet.payload, chunkPayload...)
	}

	if packet.bytes >= packet.header.length {
		packet.handled = true
		if packet.clock <= 0xffffffff {
			if !s.HandlePacket(packet) {
				LogDebugSession(s.id, s.ip, "Could not handle packet")
				return false
			}
		}
	}

	if !s.accountReadBytes(bytesReadCount, now) {
		return false
	}

	s.purgeIdlePackets(now)

	return true
}

// accountReadBytes updates the acknowledgement counters (sending an ACK
// whenever another window's worth of bytes has arrived) and the bitrate
// estimate.
func (s *RTMPSession) accountReadBytes(n uint32, now int64) bool {
	s.inAckSize += n
	if s.inAckSize >= 0xf0000000 {
		s.inAckSize = 0
		s.inLastAck = 0
	}
	if s.ackSize > 0 && s.inAckSize-s.inLastAck >= s.ackSize {
		s.inLastAck = s.inAckSize
		if !s.SendACK(s.inAckSize) {
			LogDebugSession(s.id, s.ip, "Could not send ACK")
			return false
		}
		LogDebugSession(s.id, s.ip, "Sent ACK: "+strconv.Itoa(int(s.inAckSize)))
	}

	s.bitRateCache.bytes += uint64(n)
	elapsed := now - s.bitRateCache.lastUpdate
	if elapsed >= s.bitRateCache.intervalMs {
		s.bitRate = uint64(math.Round(float64(s.bitRateCache.bytes) * 8 / float64(elapsed)))
		s.bitRateCache.bytes = 0
		s.bitRateCache.lastUpdate = now
		LogDebugSession(s.id, s.ip, "Bitrate is now: "+strconv.Itoa(int(s.bitRate)))
	}

	return true
}

// HandlePacket routes a fully assembled message by its type id.
func (s *RTMPSession) HandlePacket(packet *RTMPPacket) bool {
	switch packet.header.packet_type {
	case RTMP_TYPE_SET_CHUNK_SIZE:
		if len(packet.payload) < 4 {
			return false
		}
		newChunkSize := binary.BigEndian.Uint32(packet.payload[0:4])
		if newChunkSize < RTMP_CHUNK_SIZE_DEFAULT || newChunkSize > RTMP_CHUNK_SIZE_MAX {
			LogDebugSession(s.id, s.ip, "Invalid chunk size requested: "+strconv.Itoa(int(newChunkSize)))
			return false
		}
		s.inChunkSize = newChunkSize
		LogDebugSession(s.id, s.ip, "Chunk size updated: "+strconv.Itoa(int(newChunkSize)))
	case RTMP_TYPE_ABORT:
		// The peer gave up on the message being assembled on this chunk
		// stream; throw away the partial payload.
		if len(packet.payload) >= 4 {
			abortCid := binary.BigEndian.Uint32(packet.payload[0:4])
			delete(s.inPackets, abortCid)
			LogDebugSession(s.id, s.ip, "Aborted chunk stream: "+strconv.Itoa(int(abortCid)))
		}
	case RTMP_TYPE_ACKNOWLEDGEMENT:
		// Stats only; nothing gates on the peer's ack position.
	case RTMP_TYPE_WINDOW_ACKNOWLEDGEMENT_SIZE:
		if len(packet.payload) < 4 {
			return false
		}
		s.ackSize = binary.BigEndian.Uint32(packet.payload[0:4])
		LogDebugSession(s.id, s.ip, "ACK size updated: "+strconv.Itoa(int(s.ackSize)))
	case RTMP_TYPE_SET_PEER_BANDWIDTH:
		if len(packet.payload) >= 5 {
			s.peerBandwidth = binary.BigEndian.Uint32(packet.payload[0:4])
			s.peerBandwidthLimit = packet.payload[4]
			LogDebugSession(s.id, s.ip, "Peer bandwidth: "+strconv.Itoa(int(s.peerBandwidth)))
		}
	case RTMP_TYPE_AUDIO:
		return s.HandleAudioPacket(packet)
	case RTMP_TYPE_VIDEO:
		return s.HandleVideoPacket(packet)
	case RTMP_TYPE_INVOKE, RTMP_TYPE_FLEX_MESSAGE:
		return s.HandleInvoke(packet)
	case RTMP_TYPE_DATA:
		return s.HandleDataPacketAMF0(packet)
	case RTMP_TYPE_FLEX_STREAM:
		return s.HandleDataPacketAMF3(packet)
	default:
		LogDebugSession(s.id, s.ip, "Ignored message type: "+strconv.Itoa(int(packet.header.packet_type)))
	}

	return true
}

// HandleInvoke decodes a command message (AMF3 commands carry a leading
// zero byte before the AMF0 payload) and dispatches it by name.
func (s *RTMPSession) HandleInvoke(packet *RTMPPacket) bool {
	payload := packet.payload[:packet.header.length]
	if packet.header.packet_type == RTMP_TYPE_FLEX_MESSAGE {
		payload = payload[1:]
	}

	cmd := decodeRTMPCommand(payload)

	LogDebugSession(s.id, s.ip, "Received invoke: "+cmd.ToString())

	switch cmd.cmd {
	case "connect":
		return s.HandleConnect(&cmd)
	case "createStream":
		return s.HandleCreateStream(&cmd)
	case "publish":
		return s.HandlePublish(&cmd, packet)
	case "play":
		return s.HandlePlay(&cmd, packet)
	case "pause":
		return s.HandlePause(&cmd)
	case "deleteStream":
		return s.HandleDeleteStream(&cmd)
	case "closeStream":
		return s.HandleCloseStream(&cmd, packet)
	case "releaseStream", "FCPublish", "FCUnpublish", "getStreamLength":
		// Accepted, no response required.
	case "receiveAudio":
		s.receiveAudio = cmd.GetArg("bool").GetBool()
	case "receiveVideo":
		s.receiveVideo = cmd.GetArg("bool").GetBool()
	}

	return true
}

// HandleConnect stores the peer's connect parameters and replies with the
// protocol control burst plus NetConnection.Connect.Success.
func (s *RTMPSession) HandleConnect(cmd *RTMPCommand) bool {
	cmdObj := cmd.GetArg("cmdObj")
	s.channel = cmdObj.GetProperty("app").GetString()

	if !validateStreamIDString(s.channel, s.server.streamIdMaxLength) {
		LogRequest(s.id, s.ip, "INVALID CHANNEL '"+s.channel+"'")
		return false
	}

	s.objectEncoding = uint32(cmdObj.GetProperty("objectEncoding").GetInteger())
	s.connectTime = time.Now().UnixMilli()
	s.bitRateCache.lastUpdate = s.connectTime
	s.bitRateCache.bytes = 0
	s.isConnected = true

	LogRequest(s.id, s.ip, "CONNECT '"+s.channel+"'")

	s.SendWindowACK(RTMP_WINDOW_ACK_SIZE_DEFAULT)
	s.SetPeerBandwidth(RTMP_WINDOW_ACK_SIZE_DEFAULT, 2)
	s.SetChunkSize(s.outChunkSize)
	s.RespondConnect(cmd.GetArg("transId").GetInteger(), !cmdObj.GetProperty("objectEncoding").IsUndefined())

	return true
}

// HandleCreateStream allocates the next stream id for the session.
func (s *RTMPSession) HandleCreateStream(cmd *RTMPCommand) bool {
	s.RespondCreateStream(cmd.GetArg("transId").GetInteger())
	return true
}

// HandlePublish validates the stream key, asks the coordinator or the HTTP
// callback for authorization, claims the channel in the registry and
// starts any players that were idling on it.
func (s *RTMPSession) HandlePublish(cmd *RTMPCommand, packet *RTMPPacket) bool {
	streamName := cmd.GetArg("streamName").GetString()
	s.key, _, _ = strings.Cut(streamName, "?")

	if !s.isConnected {
		return true
	}

	s.publishStreamId = packet.header.stream_id

	if s.key == "" {
		s.SendStatusMessage(s.publishStreamId, "error", "NetStream.publish.Unauthorized", "No stream key provided")
		return false
	}

	if !validateStreamIDString(s.key, s.server.streamIdMaxLength) {
		s.SendStatusMessage(s.publishStreamId, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
		return false
	}

	if s.isPublishing {
		s.SendStatusMessage(s.publishStreamId, "error", "NetStream.Publish.BadConnection", "Connection already publishing")
		return true
	}

	if s.server.isPublishing(s.channel) {
		s.SendStatusMessage(s.publishStreamId, "error", "NetStream.Publish.BadName", "Stream already publishing")
		return false
	}

	LogRequest(s.id, s.ip, "PUBLISH ("+strconv.Itoa(int(s.publishStreamId))+") '"+s.channel+"'")

	if s.server.websocketControlConnection != nil {
		accepted, streamId := s.server.websocketControlConnection.RequestPublish(s.channel, s.key, s.ip)
		if !accepted {
			LogRequest(s.id, s.ip, "Error: Invalid streaming key provided")
			s.SendStatusMessage(s.publishStreamId, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
			return false
		}
		s.externalStreamId = streamId
	} else if !s.SendStartCallback() {
		LogRequest(s.id, s.ip, "Error: Invalid streaming key provided")
		s.SendStatusMessage(s.publishStreamId, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
		return false
	}

	// The registry claim is the authoritative duplicate check: the
	// isPublishing lookup above runs outside the registry lock, so a
	// concurrent publisher can still win the insert here.
	if !s.server.SetPublisher(s.channel, s.key, s.externalStreamId, s) {
		s.SendStatusMessage(s.publishStreamId, "error", "NetStream.Publish.BadName", "Stream already publishing")
		return false
	}
	s.isPublishing = true

	s.SendStatusMessage(s.publishStreamId, "status", "NetStream.Publish.Start", s.GetStreamPath()+" is now published.")

	s.StartIdlePlayers()

	return true
}

// HandlePlay subscribes the session to a channel, replaying the cached
// metadata, codec headers and (unless opted out) the GOP window. A play
// against an app with no live publisher is refused with
// NetStream.Play.BadName and the session is closed; Play.Start is only
// sent once a publisher is confirmed.
func (s *RTMPSession) HandlePlay(cmd *RTMPCommand, packet *RTMPPacket) bool {
	streamName := cmd.GetArg("streamName").GetString()
	var query string
	s.key, query, _ = strings.Cut(streamName, "?")

	if query != "" {
		playParams := getRTMPParamsSimple(query)
		s.gopPlayNo = playParams["cache"] == "no"
		s.gopPlayClear = playParams["cache"] == "clear"
	}

	if s.key == "" || !s.isConnected {
		return true
	}

	s.playStreamId = packet.header.stream_id

	if s.isIdling || s.isPlaying {
		s.SendStatusMessage(s.playStreamId, "error", "NetStream.Play.BadConnection", "Connection already playing")
		return true
	}

	if !s.CanPlay() {
		s.SendStatusMessage(s.playStreamId, "error", "NetStream.Play.BadName", "Your net address is not whitelisted for playing")
		return false
	}

	LogRequest(s.id, s.ip, "PLAY ("+strconv.Itoa(int(s.playStreamId))+") '"+s.channel+"'")

	idle, e := s.server.AddPlayer(s.channel, s.key, s)
	if e != nil {
		LogRequest(s.id, s.ip, "Error: Invalid streaming key provided")
		s.SendStatusMessage(s.playStreamId, "error", "NetStream.Play.BadName", "Invalid stream key provided")
		return false
	}

	// No publisher registered for this app.
	if idle {
		s.server.RemovePlayer(s.channel, s.key, s)
		LogRequest(s.id, s.ip, "Error: No publisher for this stream")
		s.SendStatusMessage(s.playStreamId, "error", "NetStream.Play.BadName", "No publisher for this stream")
		return false
	}

	publisher := s.server.GetPublisher(s.channel)
	if publisher == nil {
		// The publisher dropped between the registry insert and here.
		s.server.RemovePlayer(s.channel, s.key, s)
		s.SendStatusMessage(s.playStreamId, "error", "NetStream.Play.BadName", "No publisher for this stream")
		return false
	}

	s.RespondPlay()
	publisher.StartPlayer(s)

	return true
}

// HandlePause pauses or resumes delivery for a playing session. Resume
// re-sends the codec headers so the decoder can pick the stream back up.
func (s *RTMPSession) HandlePause(cmd *RTMPCommand) bool {
	if !s.isPlaying {
		return true
	}

	s.isPause = cmd.GetArg("pause").GetBool()

	if s.isPause {
		s.SendStreamStatus(STREAM_EOF, s.playStreamId)
		s.SendStatusMessage(s.playStreamId, "status", "NetStream.Pause.Notify", "Paused live")
		LogRequest(s.id, s.ip, "PAUSE '"+s.channel+"'")
		return true
	}

	s.SendStreamStatus(STREAM_BEGIN, s.playStreamId)

	if publisher := s.server.GetPublisher(s.channel); publisher != nil {
		LogRequest(s.id, s.ip, "RESUME '"+s.channel+"'")
		publisher.ResumePlayer(s)
	} else {
		LogRequest(s.id, s.ip, "PLAY IDLE '"+s.channel+"'")
	}

	s.SendStatusMessage(s.playStreamId, "status", "NetStream.Unpause.Notify", "Unpaused live")

	return true
}

// HandleDeleteStream tears down whichever of the session's streams the
// given id names: its play subscription, its publish, or neither.
func (s *RTMPSession) HandleDeleteStream(cmd *RTMPCommand) bool {
	streamId := uint32(cmd.GetArg("streamId").GetInteger())

	if streamId != 0 && streamId == s.playStreamId {
		LogRequest(s.id, s.ip, "PLAY STOP '"+s.channel+"'")

		s.server.RemovePlayer(s.channel, s.key, s)
		s.SendStatusMessage(s.playStreamId, "status", "NetStream.Play.Stop", "Stopped playing stream.")

		s.playStreamId = 0
		s.isPlaying = false
		s.isIdling = false
	}

	if streamId != 0 && streamId == s.publishStreamId {
		LogDebugSession(s.id, s.ip, "Close publish stream")

		if s.isPublishing {
			s.EndPublish(false)
		}

		s.publishStreamId = 0
	}

	return true
}

// DeleteStream is the close-driven variant of HandleDeleteStream: same
// cleanup, but without the Play.Stop courtesy message since the socket is
// already gone.
func (s *RTMPSession) DeleteStream(streamId uint32) {
	if streamId == s.playStreamId {
		LogDebugSession(s.id, s.ip, "Close play stream: "+strconv.Itoa(int(streamId)))

		s.server.RemovePlayer(s.channel, s.key, s)

		s.playStreamId = 0
		s.isPlaying = false
		s.isIdling = false
	}

	if streamId == s.publishStreamId {
		LogDebugSession(s.id, s.ip, "Close publish stream: "+strconv.Itoa(int(streamId)))

		if s.isPublishing {
			s.EndPublish(true)
		}

		s.publishStreamId = 0
	}
}

// HandleCloseStream treats closeStream as deleteStream on the message's
// own stream id.
func (s *RTMPSession) HandleCloseStream(cmd *RTMPCommand, packet *RTMPPacket) bool {
	streamId := createAMF0Value(AMF0_TYPE_NUMBER)
	streamId.SetIntegerVal(int64(packet.header.stream_id))
	cmd.arguments["streamId"] = &streamId
	return s.HandleDeleteStream(cmd)
}

// pushToGopCache appends a relayed media packet to the bounded GOP window,
// evicting from the front once over the byte limit.
func (s *RTMPSession) pushToGopCache(pkt *RTMPPacket) {
	s.rtmpGopCache.PushBack(pkt)
	s.gopCacheSize += int64(pkt.header.length) + RTMP_PACKET_BASE_SIZE

	for s.gopCacheSize > s.gopCacheLimit {
		front := s.rtmpGopCache.Front()
		if evicted, ok := front.Value.(*RTMPPacket); ok {
			s.gopCacheSize -= int64(evicted.header.length)
		}
		s.rtmpGopCache.Remove(front)
		s.gopCacheSize -= RTMP_PACKET_BASE_SIZE
	}
}

// relayMedia builds the fan-out packet for one inbound media message,
// caches it (unless it is a sequence header) and enqueues it to every
// active player that wants this media kind.
func (s *RTMPSession) relayMedia(cid uint32, packetType uint32, payload []byte, isHeader bool, wantsIt func(*RTMPSession) bool) {
	out := createBlankRTMPPacket()
	out.header.fmt = RTMP_CHUNK_TYPE_0
	out.header.cid = cid
	out.header.packet_type = packetType
	out.payload = payload
	out.header.length = uint32(len(payload))
	out.header.timestamp = s.clock

	if !isHeader && !s.gopCacheDisabled {
		s.pushToGopCache(&out)
	}

	players := s.server.GetPlayers(s.channel)
	for _, player := range players {
		if player.isPlaying && !player.isPause && wantsIt(player) {
			player.SendCachePacket(&out)
		}
	}
}

// HandleAudioPacket extracts codec information from the first packets of a
// publish (codec id, then the AAC config from the sequence header) and
// relays the payload to players.
func (s *RTMPSession) HandleAudioPacket(packet *RTMPPacket) bool {
	s.publishMutex.Lock()
	defer s.publishMutex.Unlock()

	if !s.isPublishing || len(packet.payload) == 0 {
		return true
	}

	soundFormat := uint32(packet.payload[0]>>4) & 0x0f

	if s.audioCodec == 0 {
		s.audioCodec = soundFormat
		if int(soundFormat) < len(AUDIO_CODEC_NAME) {
			s.audioCodecName = AUDIO_CODEC_NAME[soundFormat]
		}
	}

	isHeader := (soundFormat == AUDIO_CODEC_AAC || soundFormat == AUDIO_CODEC_OPUS_LEGACY) &&
		len(packet.payload) > 1 && packet.payload[1] == 0

	if isHeader {
		s.aacSequenceHeader = packet.payload

		if soundFormat == AUDIO_CODEC_AAC {
			if cfg, ok := readAACSpecificConfig(packet.payload); ok {
				s.audioProfile = getAACProfileName(cfg)
				s.audioSampleRate = cfg.sample_rate
				s.audioChannels = cfg.channels
				LogRequest(s.id, s.ip, "AUDIO CONFIG: "+s.audioCodecName+" "+s.audioProfile+
					" sample_rate="+strconv.Itoa(int(s.audioSampleRate))+" channels="+strconv.Itoa(int(s.audioChannels)))
			}
		}
	}

	s.relayMedia(RTMP_CHANNEL_AUDIO, RTMP_TYPE_AUDIO, packet.payload, isHeader, func(p *RTMPSession) bool {
		return p.receiveAudio
	})

	return true
}

// HandleVideoPacket normalizes Enhanced-RTMP payloads to the legacy FLV
// shape, extracts the codec configuration from sequence headers and relays
// the payload to players. A new sequence header resets the GOP cache,
// since the cached frames reference the previous decoder configuration.
func (s *RTMPSession) HandleVideoPacket(packet *RTMPPacket) bool {
	s.publishMutex.Lock()
	defer s.publishMutex.Unlock()

	if !s.isPublishing {
		return true
	}

	payload, codecId, isHeader := s.normalizeVideoPayload(packet.payload)
	if payload == nil {
		return true
	}

	if s.videoCodec == 0 {
		s.videoCodec = codecId
		switch codecId {
		case AVC_CODEC_AV1:
			s.videoCodecName = "AV1"
		case AVC_CODEC_HEVC:
			s.videoCodecName = "H265"
		default:
			if int(codecId) < len(VIDEO_CODEC_NAME) {
				s.videoCodecName = VIDEO_CODEC_NAME[codecId]
			}
		}
	}

	if isHeader {
		s.avcSequenceHeader = payload
		s.rtmpGopCache = list.New()
		s.gopCacheSize = 0

		if cfg, ok := readAVCSpecificConfig(payload); ok {
			s.videoProfile = getAVCProfileName(cfg)
			s.videoWidth, s.videoHeight, s.videoLevel = getAVCPictureSize(cfg)
			LogRequest(s.id, s.ip, "VIDEO CONFIG: "+s.videoCodecName+" "+s.videoProfile+
				" "+strconv.Itoa(int(s.videoWidth))+"x"+strconv.Itoa(int(s.videoHeight))+
				" level="+strconv.FormatFloat(float64(s.videoLevel), 'f', 1, 32))
		}
	}

	s.relayMedia(RTMP_CHANNEL_VIDEO, RTMP_TYPE_VIDEO, payload, isHeader, func(p *RTMPSession) bool {
		return p.receiveVideo
	})

	return true
}

// HandleDataPacketAMF0 handles a data message (AMF0-encoded).
func (s *RTMPSession) HandleDataPacketAMF0(packet *RTMPPacket) bool {
	data := decodeRTMPData(packet.payload)
	return s.HandleRTMPData(&data)
}

// HandleDataPacketAMF3 handles a data message in AMF3 framing, which is
// the same AMF0 payload behind a one-byte prefix.
func (s *RTMPSession) HandleDataPacketAMF3(packet *RTMPPacket) bool {
	if len(packet.payload) < 1 {
		return true
	}
	data := decodeRTMPData(packet.payload[1:])
	return s.HandleRTMPData(&data)
}

// HandleRTMPData processes a decoded data message. Only @setDataFrame is
// meaningful: it carries the stream metadata, re-broadcast to players as
// onMetaData.
func (s *RTMPSession) HandleRTMPData(data *RTMPData) bool {
	LogDebugSession(s.id, s.ip, "Received data: "+data.ToString())

	if data.tag == "@setDataFrame" {
		s.SetMetaData(s.BuildMetadata(data))
	}

	return true
}

// OnClose runs after the TCP connection goes away, tearing down whatever
// roles the session still held. Idempotent: both DeleteStream branches
// no-op once their stream id is cleared.
func (s *RTMPSession) OnClose() {
	if s.playStreamId > 0 {
		s.DeleteStream(s.playStreamId)
	}
	if s.publishStreamId > 0 {
		s.DeleteStream(s.publishStreamId)
	}

	s.isConnected = false
}
