// Outbound message builders for a session: protocol control messages,
// status/invoke/data replies and the codec-header replay used when a
// player joins late.

package main

import (
	"encoding/binary"
	"net"
	"os"
	"strings"
	"time"

	"github.com/netdata/go.d.plugin/pkg/iprange"
)

// sendProtocolControl writes a protocol control message: always a full
// fmt0 header on the reserved control chunk stream (CSID 2), message
// stream 0, timestamp 0.
func (s *RTMPSession) sendProtocolControl(msgType byte, payload []byte) {
	b := make([]byte, 12+len(payload))
	b[0] = RTMP_CHANNEL_PROTOCOL // fmt0, csid 2
	b[4] = byte(len(payload) >> 16)
	b[5] = byte(len(payload) >> 8)
	b[6] = byte(len(payload))
	b[7] = msgType
	copy(b[12:], payload)

	s.SendSync(b)
}

func (s *RTMPSession) SendACK(size uint32) bool {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], size)
	s.sendProtocolControl(RTMP_TYPE_ACKNOWLEDGEMENT, p[:])
	return true
}

func (s *RTMPSession) SendWindowACK(size uint32) bool {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], size)
	s.sendProtocolControl(RTMP_TYPE_WINDOW_ACKNOWLEDGEMENT_SIZE, p[:])
	return true
}

func (s *RTMPSession) SetPeerBandwidth(size uint32, t byte) bool {
	var p [5]byte
	binary.BigEndian.PutUint32(p[:4], size)
	p[4] = t
	s.sendProtocolControl(RTMP_TYPE_SET_PEER_BANDWIDTH, p[:])
	return true
}

func (s *RTMPSession) SetChunkSize(size uint32) bool {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], size)
	s.sendProtocolControl(RTMP_TYPE_SET_CHUNK_SIZE, p[:])
	return true
}

// SendStreamStatus sends a User Control event (StreamBegin, StreamEOF...)
// for the given message stream.
func (s *RTMPSession) SendStreamStatus(st uint16, id uint32) bool {
	var p [6]byte
	binary.BigEndian.PutUint16(p[:2], st)
	binary.BigEndian.PutUint32(p[2:], id)
	s.sendProtocolControl(RTMP_TYPE_EVENT, p[:])
	return true
}

// SendPingRequest sends a ping user-control event stamped with the
// session-relative time, keeping quiet connections alive.
func (s *RTMPSession) SendPingRequest() {
	if !s.isConnected {
		return
	}

	currentTimestamp := time.Now().UnixMilli() - s.connectTime

	packet := createBlankRTMPPacket()
	packet.header.cid = RTMP_CHANNEL_PROTOCOL
	packet.header.packet_type = RTMP_TYPE_EVENT
	packet.header.timestamp = currentTimestamp
	packet.payload = []byte{
		0, 6, // PingRequest
		byte(currentTimestamp >> 24),
		byte(currentTimestamp >> 16),
		byte(currentTimestamp >> 8),
		byte(currentTimestamp),
	}
	packet.header.length = uint32(len(packet.payload))

	LogDebugSession(s.id, s.ip, "Sending ping request")
	s.SendPacket(&packet)
}

func (s *RTMPSession) SendInvokeMessage(streamId uint32, cmd RTMPCommand) {
	LogDebugSession(s.id, s.ip, "Sending invoke message: "+cmd.ToString())

	packet := createBlankRTMPPacket()
	packet.header.cid = RTMP_CHANNEL_INVOKE
	packet.header.packet_type = RTMP_TYPE_INVOKE
	packet.header.stream_id = streamId
	packet.payload = cmd.Encode()
	packet.header.length = uint32(len(packet.payload))

	s.SendPacket(&packet)
}

func (s *RTMPSession) SendDataMessage(streamId uint32, data RTMPData) {
	packet := createBlankRTMPPacket()
	packet.header.cid = RTMP_CHANNEL_DATA
	packet.header.packet_type = RTMP_TYPE_DATA
	packet.header.stream_id = streamId
	packet.payload = data.Encode()
	packet.header.length = uint32(len(packet.payload))

	s.SendPacket(&packet)
}

// SendStatusMessage sends the onStatus invoke RTMP clients key their UI
// and reconnect logic off: a level (status/error), a dotted code and an
// optional human-readable description.
func (s *RTMPSession) SendStatusMessage(streamId uint32, level string, code string, description string) {
	cmd := RTMPCommand{
		cmd:       "onStatus",
		arguments: make(map[string]*AMF0Value),
	}

	transId := createAMF0Value(AMF0_TYPE_NUMBER)
	cmd.arguments["transId"] = &transId

	cmdObj := createAMF0Value(AMF0_TYPE_NULL)
	cmd.arguments["cmdObj"] = &cmdObj

	info := createAMF0Value(AMF0_TYPE_OBJECT)
	infoLevel := createAMF0Value(AMF0_TYPE_STRING)
	infoLevel.str_val = level
	info.obj_val["level"] = &infoLevel

	infoCode := createAMF0Value(AMF0_TYPE_STRING)
	infoCode.str_val = code
	info.obj_val["code"] = &infoCode

	if description != "" {
		infoDescription := createAMF0Value(AMF0_TYPE_STRING)
		infoDescription.str_val = description
		info.obj_val["description"] = &infoDescription
	}

	cmd.arguments["info"] = &info

	s.SendInvokeMessage(streamId, cmd)
}

// SendSampleAccess tells the player it may not access raw audio/video
// sample data from script.
func (s *RTMPSession) SendSampleAccess(streamId uint32) {
	data := RTMPData{
		tag:       "|RtmpSampleAccess",
		arguments: make(map[string]*AMF0Value),
	}

	audioAccess := createAMF0Value(AMF0_TYPE_BOOL)
	data.arguments["bool1"] = &audioAccess

	videoAccess := createAMF0Value(AMF0_TYPE_BOOL)
	data.arguments["bool2"] = &videoAccess

	s.SendDataMessage(streamId, data)
}

// RespondConnect replies _result to connect with the server description
// object and the NetConnection.Connect.Success info object, echoing the
// peer's objectEncoding back when it sent one.
func (s *RTMPSession) RespondConnect(tid int64, hasObjectEncoding bool) {
	cmd := RTMPCommand{
		cmd:       "_result",
		arguments: make(map[string]*AMF0Value),
	}

	transId := createAMF0Value(AMF0_TYPE_NUMBER)
	transId.SetIntegerVal(tid)
	cmd.arguments["transId"] = &transId

	cmdObj := createAMF0Value(AMF0_TYPE_OBJECT)
	fmsVer := createAMF0Value(AMF0_TYPE_STRING)
	fmsVer.str_val = "MasterStream/8,2"
	cmdObj.obj_val["fmsVer"] = &fmsVer

	capabilities := createAMF0Value(AMF0_TYPE_NUMBER)
	capabilities.SetIntegerVal(31)
	cmdObj.obj_val["capabilities"] = &capabilities

	cmd.arguments["cmdObj"] = &cmdObj

	info := createAMF0Value(AMF0_TYPE_OBJECT)
	infoLevel := createAMF0Value(AMF0_TYPE_STRING)
	infoLevel.str_val = "status"
	info.obj_val["level"] = &infoLevel

	infoCode := createAMF0Value(AMF0_TYPE_STRING)
	infoCode.str_val = "NetConnection.Connect.Success"
	info.obj_val["code"] = &infoCode

	infoDescription := createAMF0Value(AMF0_TYPE_STRING)
	infoDescription.str_val = "Connection succeeded."
	info.obj_val["description"] = &infoDescription

	if hasObjectEncoding {
		objectEncoding := createAMF0Value(AMF0_TYPE_NUMBER)
		objectEncoding.SetIntegerVal(int64(s.objectEncoding))
		info.obj_val["objectEncoding"] = &objectEncoding
	} else {
		objectEncoding := createAMF0Value(AMF0_TYPE_UNDEFINED)
		info.obj_val["objectEncoding"] = &objectEncoding
	}

	cmd.arguments["info"] = &info

	s.SendInvokeMessage(0, cmd)
}

// RespondCreateStream replies _result carrying the next stream id for
// this session.
func (s *RTMPSession) RespondCreateStream(tid int64) {
	s.streams++

	cmd := RTMPCommand{
		cmd:       "_result",
		arguments: make(map[string]*AMF0Value),
	}

	transId := createAMF0Value(AMF0_TYPE_NUMBER)
	transId.SetIntegerVal(tid)
	cmd.arguments["transId"] = &transId

	cmdObj := createAMF0Value(AMF0_TYPE_NULL)
	cmd.arguments["cmdObj"] = &cmdObj

	info := createAMF0Value(AMF0_TYPE_NUMBER)
	info.SetIntegerVal(int64(s.streams))
	cmd.arguments["info"] = &info

	s.SendInvokeMessage(0, cmd)
}

// RespondPlay sends the status burst a player expects before media starts
// flowing.
func (s *RTMPSession) RespondPlay() {
	s.SendStreamStatus(STREAM_BEGIN, s.playStreamId)
	s.SendStatusMessage(s.playStreamId, "status", "NetStream.Play.Reset", "Playing and resetting stream.")
	s.SendStatusMessage(s.playStreamId, "status", "NetStream.Play.Start", "Started playing stream.")
	s.SendSampleAccess(0)
}

// SendMetadata replays the publisher's cached onMetaData to this player.
func (s *RTMPSession) SendMetadata(metaData []byte, timestamp int64) {
	if len(metaData) == 0 {
		return
	}

	LogDebugSession(s.id, s.ip, "Send meta data")

	packet := createBlankRTMPPacket()
	packet.header.cid = RTMP_CHANNEL_DATA
	packet.header.packet_type = RTMP_TYPE_DATA
	packet.payload = metaData
	packet.header.length = uint32(len(packet.payload))
	packet.header.stream_id = s.playStreamId
	packet.header.timestamp = timestamp

	s.SendPacket(&packet)
}

// SendAudioCodecHeader replays the cached audio sequence header, which a
// late joiner must receive before any audio frame is decodable.
func (s *RTMPSession) SendAudioCodecHeader(audioCodec uint32, aacSequenceHeader []byte, timestamp int64) {
	if audioCodec != AUDIO_CODEC_AAC && audioCodec != AUDIO_CODEC_OPUS_LEGACY {
		return
	}

	LogDebugSession(s.id, s.ip, "Send AUDIO codec header")

	packet := createBlankRTMPPacket()
	packet.header.cid = RTMP_CHANNEL_AUDIO
	packet.header.packet_type = RTMP_TYPE_AUDIO
	packet.payload = aacSequenceHeader
	packet.header.length = uint32(len(packet.payload))
	packet.header.stream_id = s.playStreamId
	packet.header.timestamp = timestamp

	s.SendPacket(&packet)
}

// SendVideoCodecHeader replays the cached video sequence header (AVC,
// HEVC or AV1 decoder configuration) to a late joiner.
func (s *RTMPSession) SendVideoCodecHeader(videoCodec uint32, avcSequenceHeader []byte, timestamp int64) {
	if videoCodec != AVC_CODEC_H264 && videoCodec != AVC_CODEC_HEVC && videoCodec != AVC_CODEC_AV1 {
		return
	}

	LogDebugSession(s.id, s.ip, "Send VIDEO codec header")

	packet := createBlankRTMPPacket()
	packet.header.cid = RTMP_CHANNEL_VIDEO
	packet.header.packet_type = RTMP_TYPE_VIDEO
	packet.payload = avcSequenceHeader
	packet.header.length = uint32(len(packet.payload))
	packet.header.stream_id = s.playStreamId
	packet.header.timestamp = timestamp

	s.SendPacket(&packet)
}

// BuildMetadata re-wraps a publisher's @setDataFrame payload as the
// onMetaData message players receive.
func (s *RTMPSession) BuildMetadata(data *RTMPData) []byte {
	cmd := RTMPData{
		tag:       "onMetaData",
		arguments: make(map[string]*AMF0Value),
	}

	cmd.arguments["dataObj"] = data.GetArg("dataObj")

	return cmd.Encode()
}

// SendCachePacket relays a publisher's audio/video chunk to this player.
// The write is handed off through the bounded outbox instead of happening
// here directly, so a player that can't keep up gets dropped instead of
// blocking the publisher's goroutine.
func (s *RTMPSession) SendCachePacket(cache *RTMPPacket) {
	packet := createBlankRTMPPacket()
	packet.header.cid = cache.header.cid
	packet.header.packet_type = cache.header.packet_type
	packet.payload = cache.payload
	packet.header.length = uint32(len(packet.payload))
	packet.header.stream_id = s.playStreamId
	packet.header.timestamp = cache.header.timestamp

	if !s.enqueueOutboxPacket(&packet) {
		LogDebugSession(s.id, s.ip, "Player outbox full, dropping slow consumer")
		go s.Kill()
	}
}

// normalizeVideoPayload detects an Enhanced-RTMP (FourCC) video packet and
// rewrites it to the legacy FLV shape (codec nibble + AVCPacketType + 3-byte
// composition time) so the rest of the pipeline (sequence header caching,
// codec-config parsing, fan-out) only ever has to deal with one shape.
// Plain legacy packets pass through with only the header fields parsed out.
// Returns (nil, 0, false) when the payload is too short to have a header.
func (s *RTMPSession) normalizeVideoPayload(payload []byte) ([]byte, uint32, bool) {
	if len(payload) == 0 {
		return nil, 0, false
	}

	isEnhanced := (payload[0]>>4)&0x08 != 0
	if !isEnhanced {
		frameType := uint32(payload[0]>>4) & 0x0f
		codecId := uint32(payload[0] & 0x0f)
		isHeader := (codecId == AVC_CODEC_H264 || codecId == AVC_CODEC_HEVC) &&
			frameType == 1 && len(payload) > 1 && payload[1] == 0
		return payload, codecId, isHeader
	}

	if len(payload) < 5 {
		return nil, 0, false
	}

	packetType := payload[0] & 0x0f
	frameType := uint32(payload[0]>>4) & 0x07
	fourcc := string(payload[1:5])

	var codecId uint32
	switch fourcc {
	case FOURCC_HEVC:
		codecId = AVC_CODEC_HEVC
	case FOURCC_AV1:
		codecId = AVC_CODEC_AV1
	default:
		// VP9 or unrecognized FourCC: no legacy shape defined, forward
		// the Enhanced payload untouched and skip config extraction.
		return payload, 0, false
	}

	var avcPacketType byte
	switch packetType {
	case ENHANCED_PACKET_SEQUENCE_START:
		avcPacketType = 0
	case ENHANCED_PACKET_SEQUENCE_END:
		avcPacketType = 2
	default:
		avcPacketType = 1
	}

	isHeader := packetType == ENHANCED_PACKET_SEQUENCE_START

	rest := payload[5:]
	normalized := make([]byte, 0, 5+len(rest))
	normalized = append(normalized, (byte(frameType)<<4)|byte(codecId), avcPacketType, 0, 0, 0)
	normalized = append(normalized, rest...)

	return normalized, codecId, isHeader
}

// CanPlay checks the play whitelist: when RTMP_PLAY_WHITELIST is set,
// only the listed address ranges may subscribe to streams.
func (s *RTMPSession) CanPlay() bool {
	r := os.Getenv("RTMP_PLAY_WHITELIST")

	if r == "" || r == "*" {
		return true
	}

	ip := net.ParseIP(s.ip)

	for _, part := range strings.Split(r, ",") {
		rang, e := iprange.ParseRange(part)
		if e != nil {
			LogError(e)
			continue
		}
		if rang.Contains(ip) {
			return true
		}
	}

	return false
}
