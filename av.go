// Audio and video codec configuration record parsing: AAC, H.264/AVC,
// H.265/HEVC and AV1 sequence headers, enough to surface profile/level and
// picture size for logging and status reporting. All parsers tolerate
// truncated input (reporting ok=false) instead of panicking, since the
// payload comes directly off the wire.

package main

/* AAC (Advanced Audio Coding) */

var AAC_SAMPLE_RATE = []uint32{
	96000, 88200, 64000, 48000,
	44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000,
	7350, 0, 0, 0,
}

var AAC_CHANNELS = []uint32{
	0, 1, 2, 3, 4, 5, 6, 8,
}

type AACSpecificConfig struct {
	object_type     uint32
	sample_rate     uint32
	sampling_index  byte
	chan_config     uint32
	channels        uint32
	sbr             int32
	ps              int32
	ext_object_type uint32
}

func getAudioObjectType(bitop *Bitop) uint32 {
	r := bitop.Read(5)
	if r == 31 {
		r = bitop.Read(6) + 32
	}
	return r
}

func getAudioSampleRate(bitop *Bitop, sampling_index byte) uint32 {
	if sampling_index == 0x0f {
		return bitop.Read(24)
	} else if int(sampling_index) < len(AAC_SAMPLE_RATE) {
		return AAC_SAMPLE_RATE[sampling_index]
	}
	return 0
}

// readAACSpecificConfig parses an AudioSpecificConfig (ISO 14496-3) as
// carried in the AAC sequence header payload, after the 2-byte
// SoundFormat/SoundRate/SoundSize/SoundType/AACPacketType prefix.
func readAACSpecificConfig(aacSequenceHeader []byte) (AACSpecificConfig, bool) {
	res := AACSpecificConfig{}

	bitop := createBitop(aacSequenceHeader)
	bitop.Read(16)

	res.object_type = getAudioObjectType(bitop)
	res.sampling_index = byte(bitop.Read(4))
	res.sample_rate = getAudioSampleRate(bitop, res.sampling_index)
	res.chan_config = bitop.Read(4)

	if int(res.chan_config) < len(AAC_CHANNELS) {
		res.channels = AAC_CHANNELS[res.chan_config]
	}

	res.sbr = -1
	res.ps = -1

	// SBR/PS extension: object types 5 (explicit SBR) and 29 (explicit PS,
	// which implies SBR) carry a second sampling rate and object type pair.
	if res.object_type == 5 || res.object_type == 29 {
		if res.object_type == 29 {
			res.ps = 1
		}
		res.ext_object_type = 5
		res.sbr = 1
		res.sampling_index = byte(bitop.Read(4))
		res.sample_rate = getAudioSampleRate(bitop, res.sampling_index)
		res.object_type = getAudioObjectType(bitop)
	}

	return res, !bitop.Error()
}

func getAACProfileName(info AACSpecificConfig) string {
	switch info.object_type {
	case 1:
		return "Main"
	case 2:
		if info.ps > 0 {
			return "HEv2"
		}
		if info.sbr > 0 {
			return "HE"
		}
		return "LC"
	case 3:
		return "SSR"
	case 4:
		return "LTP"
	case 5:
		return "SBR"
	default:
		return ""
	}
}

/* H264 Video Codec */

type H264SpecificConfig struct {
	width          uint32
	height         uint32
	profile        byte
	compat         byte
	level          float32
	nalu           byte
	nb_sps         byte
	avc_ref_frames uint32
}

// h264HasChromaExtras reports whether an SPS's profile_idc carries the
// high-profile chroma/bit-depth fields (Annex A high profiles).
func h264HasChromaExtras(profileIdc uint32) bool {
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118:
		return true
	default:
		return false
	}
}

// skipH264ChromaExtras consumes the chroma_format_idc / bit depth /
// seq_scaling_matrix fields that only appear for high-profile SPS NALs.
func skipH264ChromaExtras(bitop *Bitop) {
	chromaFormatIdc := bitop.ReadGolomb()

	if chromaFormatIdc == 3 {
		bitop.Read(1) // separate_colour_plane_flag
	}

	bitop.ReadGolomb() // bit_depth_luma_minus8
	bitop.ReadGolomb() // bit_depth_chroma_minus8
	bitop.Read(1)      // qpprime_y_zero_transform_bypass_flag

	if bitop.Read(1) != 0 { // seq_scaling_matrix_present_flag
		if chromaFormatIdc == 3 {
			bitop.Read(12)
		} else {
			bitop.Read(8)
		}
	}
}

// skipH264PicOrderCount consumes the pic_order_cnt_type-dependent fields of
// an SPS; type 1 carries a variable-length list of frame offsets.
func skipH264PicOrderCount(bitop *Bitop) {
	switch bitop.ReadGolomb() { // pic_order_cnt_type
	case 0:
		bitop.ReadGolomb() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		bitop.Read(1)                         // delta_pic_order_always_zero_flag
		bitop.ReadGolomb()                     // offset_for_non_ref_pic
		bitop.ReadGolomb()                     // offset_for_top_to_bottom_field
		deltaCount := bitop.ReadGolomb()       // num_ref_frames_in_pic_order_cnt_cycle
		for n := uint32(0); n < deltaCount && !bitop.Error(); n++ {
			bitop.ReadGolomb() // offset_for_ref_frame[n]
		}
	}
}

// parseH264SPS walks the bits of a raw SPS NAL payload (profile_idc
// already consumed by the caller) far enough to compute picture size.
func parseH264SPS(bitop *Bitop, res *H264SpecificConfig, profileIdc uint32) {
	bitop.Read(8)      // constraint flags + reserved
	bitop.Read(8)      // level_idc
	bitop.ReadGolomb() // seq_parameter_set_id

	if h264HasChromaExtras(profileIdc) {
		skipH264ChromaExtras(bitop)
	}

	bitop.ReadGolomb() // log2_max_frame_num_minus4
	skipH264PicOrderCount(bitop)

	res.avc_ref_frames = bitop.ReadGolomb() // max_num_ref_frames
	bitop.Read(1)                           // gaps_in_frame_num_value_allowed_flag

	widthInMbsMinus1 := bitop.ReadGolomb()
	heightInMapUnitsMinus1 := bitop.ReadGolomb()

	frameMbsOnly := bitop.Read(1)
	if frameMbsOnly == 0 {
		bitop.Read(1) // mb_adaptive_frame_field_flag
	}
	bitop.Read(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	if bitop.Read(1) != 0 { // frame_cropping_flag
		cropLeft = bitop.ReadGolomb()
		cropRight = bitop.ReadGolomb()
		cropTop = bitop.ReadGolomb()
		cropBottom = bitop.ReadGolomb()
	}

	res.level = res.level / 10.0
	res.width = (widthInMbsMinus1+1)*16 - (cropLeft+cropRight)*2
	res.height = (2-frameMbsOnly)*(heightInMapUnitsMinus1+1)*16 - (cropTop+cropBottom)*2
}

// readH264SpecificConfig parses an AVCDecoderConfigurationRecord and, when
// it carries at least one SPS NAL unit, its picture dimensions and level.
func readH264SpecificConfig(avcSequenceHeader []byte) (H264SpecificConfig, bool) {
	res := H264SpecificConfig{}

	bitop := createBitop(avcSequenceHeader)
	bitop.Read(48) // FLV video tag + AVCPacketType + composition time

	res.profile = byte(bitop.Read(8))
	res.compat = byte(bitop.Read(8))
	res.level = float32(bitop.Read(8))

	res.nalu = (byte(bitop.Read(8)) & 0x03) + 1
	res.nb_sps = byte(bitop.Read(8)) & 0x1F

	if res.nb_sps != 0 {
		bitop.Read(16) // SPS NAL length
		nalType := bitop.Read(8)

		if nalType == 0x67 { // SPS
			profileIdc := bitop.Read(8)
			parseH264SPS(bitop, &res, profileIdc)
		}
	}

	return res, !bitop.Error()
}

/* HEVC */

// hevcProfileTierLevel mirrors the profile_tier_level() syntax element,
// including its optional per-sub-layer fields.
type hevcProfileTierLevel struct {
	profileSpace               uint32
	tierFlag                   uint32
	profileIdc                 uint32
	profileCompatibilityFlags  uint32
	progressiveSourceFlag      uint32
	interlacedSourceFlag       uint32
	nonPackedConstraintFlag    uint32
	frameOnlyConstraintFlag    uint32
	levelIdc                   uint32

	subLayerProfilePresent []byte
	subLayerLevelPresent   []byte
	subLayerLevelIdc       []byte
}

// parseHEVCProfileTierLevel reads the general profile/tier/level fields
// plus whatever sub-layer fields maxSubLayersMinus1 calls for, per HEVC
// section 7.3.3. Sub-layer profile/tier details beyond the presence flags
// aren't needed for picture-size reporting and are skipped in place.
func parseHEVCProfileTierLevel(bitop *Bitop, maxSubLayersMinus1 uint32) hevcProfileTierLevel {
	ptl := hevcProfileTierLevel{}

	ptl.profileSpace = bitop.Read(2)
	ptl.tierFlag = bitop.Read(1)
	ptl.profileIdc = bitop.Read(5)
	ptl.profileCompatibilityFlags = bitop.Read(32)
	ptl.progressiveSourceFlag = bitop.Read(1)
	ptl.interlacedSourceFlag = bitop.Read(1)
	ptl.nonPackedConstraintFlag = bitop.Read(1)
	ptl.frameOnlyConstraintFlag = bitop.Read(1)
	bitop.Read(32) // reserved constraint flags, high bits
	bitop.Read(12) // reserved constraint flags, low bits
	ptl.levelIdc = bitop.Read(8)

	for i := uint32(0); i < maxSubLayersMinus1; i++ {
		ptl.subLayerProfilePresent = append(ptl.subLayerProfilePresent, byte(bitop.Read(1)))
		ptl.subLayerLevelPresent = append(ptl.subLayerLevelPresent, byte(bitop.Read(1)))
	}

	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			bitop.Read(2) // reserved_zero_2bits
		}
	}

	for i := 0; i < int(maxSubLayersMinus1); i++ {
		if i < len(ptl.subLayerProfilePresent) && ptl.subLayerProfilePresent[i] != 0 {
			bitop.Read(2)  // sub_layer_profile_space
			bitop.Read(1)  // sub_layer_tier_flag
			bitop.Read(5)  // sub_layer_profile_idc
			bitop.Read(32) // sub_layer_profile_compatibility_flag
			bitop.Read(1)  // sub_layer_progressive_source_flag
			bitop.Read(1)  // sub_layer_interlaced_source_flag
			bitop.Read(1)  // sub_layer_non_packed_constraint_flag
			bitop.Read(1)  // sub_layer_frame_only_constraint_flag
			bitop.Read(32)
			bitop.Read(12)
		}
		if i < len(ptl.subLayerLevelPresent) && ptl.subLayerLevelPresent[i] != 0 {
			ptl.subLayerLevelIdc = append(ptl.subLayerLevelIdc, byte(bitop.Read(8)))
		} else {
			ptl.subLayerLevelIdc = append(ptl.subLayerLevelIdc, byte(1))
		}
	}

	return ptl
}

// hevcSPS carries just the SPS fields this package needs: the
// profile/tier/level plus the chroma format and conformance window used
// to compute the reported picture size.
type hevcSPS struct {
	profileTierLevel hevcProfileTierLevel

	maxSubLayersMinus1 uint32
	chromaFormatIdc    uint32
	widthLumaSamples   uint32
	heightLumaSamples  uint32
	confWinLeft        uint32
	confWinRight       uint32
	confWinTop         uint32
	confWinBottom      uint32
}

// extractRBSP strips the 2-byte NAL header and any emulation-prevention
// "0x03" bytes from a raw HEVC NAL unit, yielding the raw byte sequence
// payload the rest of the SPS fields are parsed from.
func extractRBSP(nal []byte) []byte {
	bitop := createBitop(nal)
	rbsp := make([]byte, 0, len(nal))

	bitop.Read(1) // forbidden_zero_bit
	bitop.Read(6) // nal_unit_type
	bitop.Read(6) // nuh_layer_id
	bitop.Read(3) // nuh_temporal_id_plus1

	total := len(nal)
	for i := 2; i < total && !bitop.Error(); i++ {
		if i+2 < total && bitop.Look(24) == 0x000003 {
			rbsp = append(rbsp, byte(bitop.Read(8)), byte(bitop.Read(8)))
			i += 2
			bitop.Read(8) // emulation_prevention_three_byte
		} else {
			rbsp = append(rbsp, byte(bitop.Read(8)))
		}
	}

	return rbsp
}

// parseHEVCSPS decodes a raw SPS NAL unit (with its emulation-prevention
// bytes already removed by the caller, or not — extractRBSP handles both)
// into the fields needed for picture size and profile/level.
func parseHEVCSPS(nal []byte) hevcSPS {
	sps := hevcSPS{}
	bitop := createBitop(extractRBSP(nal))

	bitop.Read(4) // sps_video_parameter_set_id
	sps.maxSubLayersMinus1 = bitop.Read(3)
	bitop.Read(1) // sps_temporal_id_nesting_flag

	sps.profileTierLevel = parseHEVCProfileTierLevel(bitop, sps.maxSubLayersMinus1)

	bitop.ReadGolomb() // sps_seq_parameter_set_id
	sps.chromaFormatIdc = bitop.ReadGolomb()
	if sps.chromaFormatIdc == 3 {
		bitop.Read(1) // separate_colour_plane_flag
	}

	sps.widthLumaSamples = bitop.ReadGolomb()
	sps.heightLumaSamples = bitop.ReadGolomb()

	if bitop.Read(1) != 0 { // conformance_window_flag
		vertMult := uint32(1)
		if sps.chromaFormatIdc < 2 {
			vertMult = 2
		}
		horizMult := uint32(1)
		if sps.chromaFormatIdc < 3 {
			horizMult = 2
		}

		sps.confWinLeft = bitop.ReadGolomb() * horizMult
		sps.confWinRight = bitop.ReadGolomb() * horizMult
		sps.confWinTop = bitop.ReadGolomb() * vertMult
		sps.confWinBottom = bitop.ReadGolomb() * vertMult
	}

	return sps
}

type HEVCSpecificConfig struct {
	width   uint32
	height  uint32
	profile uint32
	level   float32
}

// hevcFixedHeaderFields are the byte-aligned fields of a
// HEVCDecoderConfigurationRecord that precede the NAL array list; only
// general_profile_idc/general_level_idc are needed here, the rest exist
// to document the record's layout.
type hevcFixedHeaderFields struct {
	generalProfileIdc uint32
	generalLevelIdc   uint32
}

func parseHEVCFixedHeader(b []byte) hevcFixedHeaderFields {
	return hevcFixedHeaderFields{
		generalProfileIdc: uint32(b[1]) & 0x1F,
		generalLevelIdc:   uint32(b[12]),
	}
}

// findFirstHEVCSPS scans a HEVCDecoderConfigurationRecord's NAL array list
// (following the 23-byte fixed header) for the first SPS (array type 33)
// NAL unit and returns its raw bytes.
func findFirstHEVCSPS(arrayList []byte) ([]byte, bool) {
	numArrays := int(arrayList[0])
	p := arrayList[1:]

	for i := 0; i < numArrays; i++ {
		if len(p) < 3 {
			return nil, false
		}
		naluType := p[0]
		numNalus := (uint32(p[1]) << 8) | uint32(p[2])
		p = p[3:]

		for j := uint32(0); j < numNalus; j++ {
			if len(p) < 2 {
				return nil, false
			}
			nalLen := (uint32(p[0]) << 8) | uint32(p[1])
			p = p[2:]
			if uint32(len(p)) < nalLen {
				return nil, false
			}

			if naluType == 33 {
				sps := make([]byte, nalLen)
				copy(sps, p[:nalLen])
				return sps, true
			}

			p = p[nalLen:]
		}
	}

	return nil, false
}

// readHEVCSpecificConfig parses a HEVCDecoderConfigurationRecord, picking
// the first embedded SPS NAL unit to resolve picture size and profile.
func readHEVCSpecificConfig(hevcSequenceHeader []byte) (HEVCSpecificConfig, bool) {
	info := HEVCSpecificConfig{}

	if len(hevcSequenceHeader) < 5 {
		return info, false
	}
	hevcSequenceHeader = hevcSequenceHeader[5:] // legacy AVCPacketType + composition time

	if len(hevcSequenceHeader) < 23 {
		return info, false
	}
	if hevcSequenceHeader[0] != 1 { // configurationVersion
		return info, false
	}

	fixed := parseHEVCFixedHeader(hevcSequenceHeader)

	sps, found := findFirstHEVCSPS(hevcSequenceHeader[22:])
	if !found {
		return info, true
	}

	parsedSPS := parseHEVCSPS(sps)

	info.profile = fixed.generalProfileIdc
	info.level = float32(fixed.generalLevelIdc) / 30.0
	info.width = parsedSPS.widthLumaSamples - (parsedSPS.confWinLeft + parsedSPS.confWinRight)
	info.height = parsedSPS.heightLumaSamples - (parsedSPS.confWinTop + parsedSPS.confWinBottom)

	return info, true
}

/* AV1 */

// AV1's leb128-encoded OBU framing is a separate concern from the bit-level
// sequence_header_obu fields, so it gets its own byte-oriented reader.
func readLeb128(buf []byte) (uint64, int) {
	var value uint64
	var i int
	for i = 0; i < len(buf) && i < 8; i++ {
		b := buf[i]
		value |= uint64(b&0x7f) << (uint(i) * 7)
		if b&0x80 == 0 {
			i++
			break
		}
	}
	return value, i
}

type AV1SpecificConfig struct {
	seq_profile   uint32
	seq_level_idx uint32
	seq_tier      uint32
	width         uint32
	height        uint32
	bit_depth     uint32
	monochrome    uint32
}

// readAV1SpecificConfig locates the sequence_header_obu inside an AV1
// CodecConfigurationRecord (skipping the 4-byte fixed header) and parses
// the fields needed for profile/level/size, per AV1 section 5.5.
func readAV1SpecificConfig(av1SequenceHeader []byte) (AV1SpecificConfig, bool) {
	info := AV1SpecificConfig{}

	if len(av1SequenceHeader) < 4 {
		return info, false
	}

	// AV1CodecConfigurationRecord: marker/version/seq_profile/seq_level_idx_0/
	// seq_tier_0/high_bitdepth/twelve_bit/monochrome/chroma_subsampling bits,
	// then the config OBUs.
	configOBUs := av1SequenceHeader[4:]

	pos := 0
	for pos < len(configOBUs) {
		header := configOBUs[pos]
		obuType := (header >> 3) & 0x0F
		hasExtension := (header >> 2) & 0x01
		hasSize := (header >> 1) & 0x01

		pos++
		if hasExtension != 0 {
			pos++
		}

		var obuSize int
		if hasSize != 0 {
			if pos >= len(configOBUs) {
				return info, false
			}
			size, n := readLeb128(configOBUs[pos:])
			if n == 0 {
				return info, false
			}
			pos += n
			obuSize = int(size)
		} else {
			obuSize = len(configOBUs) - pos
		}

		if pos+obuSize > len(configOBUs) {
			return info, false
		}

		const obuSequenceHeader = 1
		if obuType == obuSequenceHeader {
			return parseAV1SequenceHeaderOBU(configOBUs[pos : pos+obuSize])
		}

		pos += obuSize
	}

	return info, false
}

func parseAV1SequenceHeaderOBU(buf []byte) (AV1SpecificConfig, bool) {
	info := AV1SpecificConfig{}
	bitop := createBitop(buf)

	info.seq_profile = bitop.Read(3)
	bitop.Read(1) // still_picture
	reducedStillPictureHeader := bitop.Read(1)

	var decoderModelInfoPresent uint32
	var initialDisplayDelayPresent uint32
	var bufferDelayLengthMinus1 uint32

	if reducedStillPictureHeader != 0 {
		bitop.Read(5) // seq_level_idx[0]
		info.seq_level_idx = 0
	} else {
		if bitop.Read(1) != 0 { // timing_info_present_flag
			bitop.Read(32) // num_units_in_display_tick
			bitop.Read(32) // time_scale
			if bitop.Read(1) != 0 {
				bitop.ReadGolomb() // num_ticks_per_picture_minus_1
			}

			decoderModelInfoPresent = bitop.Read(1)
			if decoderModelInfoPresent != 0 {
				bufferDelayLengthMinus1 = bitop.Read(5)
				bitop.Read(32) // num_units_in_decoding_tick
				bitop.Read(5)  // buffer_removal_time_length_minus_1
				bitop.Read(5)  // frame_presentation_time_length_minus_1
			}
		}

		initialDisplayDelayPresent = bitop.Read(1)

		operatingPointsCntMinus1 := bitop.Read(5)
		for i := uint32(0); i <= operatingPointsCntMinus1 && !bitop.Error(); i++ {
			bitop.Read(12) // operating_point_idc
			levelIdx := bitop.Read(5)
			if i == 0 {
				info.seq_level_idx = levelIdx
			}
			if levelIdx > 7 {
				tier := bitop.Read(1)
				if i == 0 {
					info.seq_tier = tier
				}
			}
			if decoderModelInfoPresent != 0 {
				if bitop.Read(1) != 0 { // decoder_model_present_for_this_op
					n := bufferDelayLengthMinus1 + 1
					bitop.Read(n) // decoder_buffer_delay
					bitop.Read(n) // encoder_buffer_delay
					bitop.Read(1) // low_delay_mode_flag
				}
			}
			if initialDisplayDelayPresent != 0 {
				if bitop.Read(1) != 0 {
					bitop.Read(4) // initial_display_delay_minus_1
				}
			}
		}
	}

	frameWidthBitsMinus1 := bitop.Read(4)
	frameHeightBitsMinus1 := bitop.Read(4)
	maxFrameWidthMinus1 := bitop.Read(frameWidthBitsMinus1 + 1)
	maxFrameHeightMinus1 := bitop.Read(frameHeightBitsMinus1 + 1)

	info.width = maxFrameWidthMinus1 + 1
	info.height = maxFrameHeightMinus1 + 1

	var frameIdNumbersPresent uint32
	if reducedStillPictureHeader == 0 {
		frameIdNumbersPresent = bitop.Read(1)
	}
	if frameIdNumbersPresent != 0 {
		bitop.Read(4) // delta_frame_id_length_minus_2
		bitop.Read(3) // additional_frame_id_length_minus_1
	}

	bitop.Read(1) // use_128x128_superblock
	bitop.Read(1) // enable_filter_intra
	bitop.Read(1) // enable_intra_edge_filter

	if reducedStillPictureHeader == 0 {
		bitop.Read(1) // enable_interintra_compound
		bitop.Read(1) // enable_masked_compound
		bitop.Read(1) // enable_warped_motion
		bitop.Read(1) // enable_dual_filter
		enableOrderHint := bitop.Read(1)
		if enableOrderHint != 0 {
			bitop.Read(1) // enable_jnt_comp
			bitop.Read(1) // enable_ref_frame_mvs
		}
		seqForceScreenContentTools := uint32(2)
		if bitop.Read(1) == 0 { // seq_choose_screen_content_tools
			seqForceScreenContentTools = bitop.Read(1)
		}
		if seqForceScreenContentTools > 0 {
			if bitop.Read(1) == 0 { // seq_choose_integer_mv
				bitop.Read(1) // seq_force_integer_mv
			}
		}
		if enableOrderHint != 0 {
			bitop.Read(3) // order_hint_bits_minus_1
		}
	}

	bitop.Read(1) // enable_superres
	bitop.Read(1) // enable_cdef
	bitop.Read(1) // enable_restoration

	// color_config()
	highBitdepth := bitop.Read(1)
	switch {
	case info.seq_profile == 2 && highBitdepth != 0:
		if bitop.Read(1) != 0 { // twelve_bit
			info.bit_depth = 12
		} else {
			info.bit_depth = 10
		}
	case info.seq_profile <= 2:
		if highBitdepth != 0 {
			info.bit_depth = 10
		} else {
			info.bit_depth = 8
		}
	}

	if info.seq_profile != 1 {
		info.monochrome = bitop.Read(1)
	}

	return info, !bitop.Error()
}

func getAV1ProfileName(info AV1SpecificConfig) string {
	switch info.seq_profile {
	case 0:
		return "Main"
	case 1:
		return "High"
	case 2:
		return "Professional"
	default:
		return ""
	}
}

/* Video config */

const AVC_CODEC_H264 = 7
const AVC_CODEC_HEVC = 12
const AVC_CODEC_AV1 = 13 // not a real FLV codec id; assigned here to carry Enhanced-RTMP AV1 through the same dispatch as legacy codecs, after normalization in HandleVideoPacket

type AVCSpecificConfig struct {
	codec uint32
	h264  H264SpecificConfig
	hevc  HEVCSpecificConfig
	av1   AV1SpecificConfig
}

// readAVCSpecificConfig dispatches on the codec id carried in the first
// payload byte. It expects a normalized legacy-shape payload: byte 0 low
// nibble = codec id, byte 1 = AVCPacketType, bytes 2-4 = composition time,
// then the decoder configuration record.
func readAVCSpecificConfig(avcSequenceHeader []byte) (AVCSpecificConfig, bool) {
	if len(avcSequenceHeader) == 0 {
		return AVCSpecificConfig{}, false
	}

	codecId := avcSequenceHeader[0] & 0x0f
	r := AVCSpecificConfig{codec: uint32(codecId)}

	var ok bool
	switch codecId {
	case AVC_CODEC_H264:
		r.h264, ok = readH264SpecificConfig(avcSequenceHeader)
	case AVC_CODEC_HEVC:
		r.hevc, ok = readHEVCSpecificConfig(avcSequenceHeader)
	case AVC_CODEC_AV1:
		if len(avcSequenceHeader) < 5 {
			return r, false
		}
		r.av1, ok = readAV1SpecificConfig(avcSequenceHeader[5:])
	default:
		ok = false
	}

	return r, ok
}

func getAVCProfileName(info AVCSpecificConfig) string {
	switch info.codec {
	case AVC_CODEC_H264:
		switch info.h264.profile {
		case 66:
			return "Baseline"
		case 77:
			return "Main"
		case 88:
			return "Extended"
		case 100:
			return "High"
		case 110:
			return "High 10"
		case 122:
			return "High 4:2:2"
		case 244:
			return "High 4:4:4"
		default:
			return ""
		}
	case AVC_CODEC_HEVC:
		switch info.hevc.profile {
		case 1:
			return "Main"
		case 2:
			return "Main 10"
		case 3:
			return "Main Still Picture"
		default:
			return ""
		}
	case AVC_CODEC_AV1:
		return getAV1ProfileName(info.av1)
	default:
		return ""
	}
}

// getAVCPictureSize returns width, height and level from whichever codec
// variant readAVCSpecificConfig populated.
func getAVCPictureSize(info AVCSpecificConfig) (uint32, uint32, float32) {
	switch info.codec {
	case AVC_CODEC_H264:
		return info.h264.width, info.h264.height, info.h264.level
	case AVC_CODEC_HEVC:
		return info.hevc.width, info.hevc.height, info.hevc.level
	case AVC_CODEC_AV1:
		return info.av1.width, info.av1.height, float32(info.av1.seq_level_idx)/8.0
	default:
		return 0, 0, 0
	}
}
