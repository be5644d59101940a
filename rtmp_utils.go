// RTMP protocol constants

package main

import "time"

const RTMP_VERSION = 3
const RTMP_VERSION_ENHANCED = 6

const RTMP_HANDSHAKE_SIZE = 1536
const RTMP_HANDSHAKE_TIMEOUT = 5 * time.Second

const RTMP_PING_TIME = 60000    // ms, interval between pings sent to each session
const RTMP_PING_TIMEOUT = 30000 // ms, read deadline renewed on every read

const RTMP_CHUNK_SIZE_DEFAULT = 128
const RTMP_CHUNK_SIZE_MAX = 10 * 1024 * 1024
const RTMP_OUT_CHUNK_SIZE_DEFAULT = 4096
const RTMP_WINDOW_ACK_SIZE_DEFAULT = 5000000

const RTMP_CHUNK_TYPE_0 = 0 // 11-bytes: timestamp(3) + length(3) + type(1) + stream id(4)
const RTMP_CHUNK_TYPE_1 = 1 // 7-bytes: delta(3) + length(3) + type(1)
const RTMP_CHUNK_TYPE_2 = 2 // 3-bytes: delta(3)
const RTMP_CHUNK_TYPE_3 = 3 // 0-byte: inherit everything

const RTMP_CHANNEL_PROTOCOL = 2
const RTMP_CHANNEL_INVOKE = 3
const RTMP_CHANNEL_AUDIO = 4
const RTMP_CHANNEL_VIDEO = 5
const RTMP_CHANNEL_DATA = 6

const RTMP_CHUNK_IDLE_TIMEOUT = 120 * time.Second

var rtmpHeaderSize = []uint32{11, 7, 3, 0}

/* Protocol Control Messages */
const RTMP_TYPE_SET_CHUNK_SIZE = 1
const RTMP_TYPE_ABORT = 2
const RTMP_TYPE_ACKNOWLEDGEMENT = 3
const RTMP_TYPE_WINDOW_ACKNOWLEDGEMENT_SIZE = 5
const RTMP_TYPE_SET_PEER_BANDWIDTH = 6

/* User Control Messages */
const RTMP_TYPE_EVENT = 4

/* Audio/video */
const RTMP_TYPE_AUDIO = 8
const RTMP_TYPE_VIDEO = 9

/* Data Message */
const RTMP_TYPE_FLEX_STREAM = 15 // AMF3, prefixed with a 0 byte
const RTMP_TYPE_DATA = 18        // AMF0

/* Shared Object Message */
const RTMP_TYPE_FLEX_OBJECT = 16
const RTMP_TYPE_SHARED_OBJECT = 19

/* Command Message */
const RTMP_TYPE_FLEX_MESSAGE = 17 // AMF3, prefixed with a 0 byte
const RTMP_TYPE_INVOKE = 20       // AMF0

/* Aggregate Message */
const RTMP_TYPE_METADATA = 22

const STREAM_BEGIN = 0x00
const STREAM_EOF = 0x01
const STREAM_DRY = 0x02
const STREAM_EMPTY = 0x1f
const STREAM_READY = 0x20

/* Audio codec ids, as carried in the sound format nibble. Video codec ids
live next to the codec-config parsers. */
const AUDIO_CODEC_AAC = 10
const AUDIO_CODEC_OPUS_LEGACY = 13

/* Enhanced RTMP (FourCC) video packet subtypes: low nibble of byte 0 when the 0x08 bit of the high nibble is set */
const ENHANCED_PACKET_SEQUENCE_START = 0
const ENHANCED_PACKET_CODED_FRAMES = 1
const ENHANCED_PACKET_SEQUENCE_END = 2
const ENHANCED_PACKET_CODED_FRAMES_X = 3
const ENHANCED_PACKET_METADATA = 4
const ENHANCED_PACKET_MPEG2TS_SEQUENCE_START = 5

const FOURCC_HEVC = "hvc1"
const FOURCC_AV1 = "av01"
const FOURCC_VP9 = "vp09"

var AUDIO_CODEC_NAME = []string{
	"", "ADPCM", "MP3", "LinearLE", "Nellymoser16", "Nellymoser8",
	"Nellymoser", "G711A", "G711U", "", "AAC", "Speex", "",
	"OPUS", "MP3-8K", "DeviceSpecific", "Uncompressed",
}

var AUDIO_SOUND_RATE = []uint32{5512, 11025, 22050, 44100}

var VIDEO_CODEC_NAME = []string{
	"", "Jpeg", "Sorenson-H263", "ScreenVideo", "On2-VP6",
	"On2-VP6-Alpha", "ScreenVideo2", "H264", "", "", "", "", "H265",
}
