package main

import "testing"

func TestReadAACSpecificConfigLC(t *testing.T) {
	// 2-byte sound format prefix (skipped), then AudioSpecificConfig:
	// object_type=2 (LC), sampling_index=4 (44100Hz), chan_config=2 (stereo).
	header := []byte{0xAF, 0x00, 0x12, 0x10}

	cfg, ok := readAACSpecificConfig(header)
	if !ok {
		t.Fatal("expected ok=true for well-formed AudioSpecificConfig")
	}
	if cfg.object_type != 2 {
		t.Fatalf("object_type: got %d, want 2", cfg.object_type)
	}
	if cfg.sample_rate != 44100 {
		t.Fatalf("sample_rate: got %d, want 44100", cfg.sample_rate)
	}
	if cfg.channels != 2 {
		t.Fatalf("channels: got %d, want 2", cfg.channels)
	}
	if name := getAACProfileName(cfg); name != "LC" {
		t.Fatalf("profile name: got %q, want LC", name)
	}
}

func TestGetAACProfileNameHE(t *testing.T) {
	cfg := AACSpecificConfig{object_type: 2, sbr: 1, ps: -1}
	if name := getAACProfileName(cfg); name != "HE" {
		t.Fatalf("got %q, want HE", name)
	}

	cfg.ps = 1
	if name := getAACProfileName(cfg); name != "HEv2" {
		t.Fatalf("got %q, want HEv2", name)
	}
}

func TestGetAudioSampleRateExplicit(t *testing.T) {
	// sampling_index 0x0f means the rate follows as a raw 24-bit field.
	bitop := createBitop([]byte{0x01, 0x77, 0x00})
	if rate := getAudioSampleRate(bitop, 0x0f); rate != 0x017700 {
		t.Fatalf("got %d, want %d", rate, 0x017700)
	}
}

func TestReadAVCSpecificConfigDispatchesOnCodecID(t *testing.T) {
	// A truncated H264 record still reports the codec id even though
	// there's no SPS to parse.
	cfg, ok := readAVCSpecificConfig([]byte{byte(AVC_CODEC_H264)})
	if ok {
		t.Fatal("expected ok=false for a record with no SPS")
	}
	if cfg.codec != AVC_CODEC_H264 {
		t.Fatalf("codec: got %d, want %d", cfg.codec, AVC_CODEC_H264)
	}
}

func TestReadAVCSpecificConfigUnknownCodec(t *testing.T) {
	cfg, ok := readAVCSpecificConfig([]byte{0x09})
	if ok {
		t.Fatal("expected ok=false for an unrecognized codec id")
	}
	if name := getAVCProfileName(cfg); name != "" {
		t.Fatalf("expected empty profile name, got %q", name)
	}
}

func TestReadAVCSpecificConfigAV1TooShort(t *testing.T) {
	_, ok := readAVCSpecificConfig([]byte{byte(AVC_CODEC_AV1), 0x00, 0x00})
	if ok {
		t.Fatal("expected ok=false for an AV1 record shorter than the fixed prefix")
	}
}

func TestGetAVCPictureSize(t *testing.T) {
	cases := []struct {
		name string
		info AVCSpecificConfig
		w, h uint32
		lvl  float32
	}{
		{"h264", AVCSpecificConfig{codec: AVC_CODEC_H264, h264: H264SpecificConfig{width: 1920, height: 1080, level: 3.1}}, 1920, 1080, 3.1},
		{"hevc", AVCSpecificConfig{codec: AVC_CODEC_HEVC, hevc: HEVCSpecificConfig{width: 3840, height: 2160, level: 5.0}}, 3840, 2160, 5.0},
		{"av1", AVCSpecificConfig{codec: AVC_CODEC_AV1, av1: AV1SpecificConfig{width: 1280, height: 720, seq_level_idx: 8}}, 1280, 720, 1.0},
		{"unknown", AVCSpecificConfig{codec: 99}, 0, 0, 0},
	}

	for _, c := range cases {
		w, h, lvl := getAVCPictureSize(c.info)
		if w != c.w || h != c.h || lvl != c.lvl {
			t.Errorf("%s: got (%d, %d, %v), want (%d, %d, %v)", c.name, w, h, lvl, c.w, c.h, c.lvl)
		}
	}
}

func TestGetAV1ProfileName(t *testing.T) {
	cases := map[uint32]string{0: "Main", 1: "High", 2: "Professional", 3: ""}
	for profile, want := range cases {
		if got := getAV1ProfileName(AV1SpecificConfig{seq_profile: profile}); got != want {
			t.Errorf("profile %d: got %q, want %q", profile, got, want)
		}
	}
}

func TestReadLeb128(t *testing.T) {
	// 0xE5 0x8E 0x26 encodes 624485 in LEB128.
	v, n := readLeb128([]byte{0xE5, 0x8E, 0x26})
	if n != 3 {
		t.Fatalf("consumed: got %d, want 3", n)
	}
	if v != 624485 {
		t.Fatalf("value: got %d, want 624485", v)
	}

	// A single byte with the continuation bit clear is a one-byte value.
	v, n = readLeb128([]byte{0x05})
	if n != 1 || v != 5 {
		t.Fatalf("single byte: got (%d, %d), want (5, 1)", v, n)
	}
}

func TestReadHEVCSpecificConfigTooShort(t *testing.T) {
	_, ok := readHEVCSpecificConfig([]byte{0, 0, 0, 0, 0})
	if ok {
		t.Fatal("expected ok=false for a record shorter than the fixed HEVC header")
	}
}

// TestReadAVCSpecificConfigH264BoundaryCase feeds a hand-built
// AVCDecoderConfigurationRecord carrying a single 1920x1080 baseline/level
// 3.1 SPS through the real Exp-Golomb bitstream walk, rather than asserting
// against a struct literal.
func TestReadAVCSpecificConfigH264BoundaryCase(t *testing.T) {
	record := []byte{
		0x17, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x42, 0x00, 0x1f, 0xff, 0xe1, 0x00, 0x09,
		0x67, 0x42, 0x00, 0x1f, 0xf4, 0x03, 0xc0, 0x11, 0x3f, 0x28,
	}

	cfg, ok := readAVCSpecificConfig(record)
	if !ok {
		t.Fatal("expected ok=true for a well-formed AVCDecoderConfigurationRecord")
	}
	if cfg.codec != AVC_CODEC_H264 {
		t.Fatalf("codec: got %d, want %d", cfg.codec, AVC_CODEC_H264)
	}

	w, h, lvl := getAVCPictureSize(cfg)
	if w != 1920 || h != 1080 {
		t.Fatalf("picture size: got (%d, %d), want (1920, 1080)", w, h)
	}
	if lvl != 3.1 {
		t.Fatalf("level: got %v, want 3.1", lvl)
	}
	if name := getAVCProfileName(cfg); name != "Baseline" {
		t.Fatalf("profile name: got %q, want Baseline", name)
	}
}

// TestReadAVCSpecificConfigHEVCCropBoundaryCase feeds a hand-built
// HEVCDecoderConfigurationRecord whose SPS reports a 1924-luma-sample-wide
// picture with a conformance window cropping 2 samples off each side, so
// the reported width must come out 4 samples narrower than the luma size.
func TestReadAVCSpecificConfigHEVCCropBoundaryCase(t *testing.T) {
	record := []byte{
		0x0c, 0x00, 0x00, 0x00, 0x00, // legacy codec id / AVCPacketType / composition time
		0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // configurationVersion..constraint flags
		0x78, 0xf0, 0x00, 0xfc, 0xfc, 0xf8, 0xf8, 0x00, 0x00, 0x00, 0x01, // level_idc..numOfArrays
		0x21, 0x00, 0x01, 0x00, 0x1a, // SPS array header + 2-byte NAL length
		0x42, 0x01, 0x00, 0x01, 0x00, 0x00, 0x03, 0x00, 0x00, 0xb0,
		0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00, 0x78, 0x90, 0x00,
		0x78, 0x50, 0x02, 0x1c, 0xdb, 0xc0, // SPS NAL (header + emulation-escaped RBSP)
	}

	cfg, ok := readAVCSpecificConfig(record)
	if !ok {
		t.Fatal("expected ok=true for a well-formed HEVCDecoderConfigurationRecord")
	}
	if cfg.codec != AVC_CODEC_HEVC {
		t.Fatalf("codec: got %d, want %d", cfg.codec, AVC_CODEC_HEVC)
	}

	w, h, lvl := getAVCPictureSize(cfg)
	if w != 1920 {
		t.Fatalf("width: got %d, want 1920 (1924 luma samples minus 2+2 crop)", w)
	}
	if h != 1080 {
		t.Fatalf("height: got %d, want 1080 (no vertical crop)", h)
	}
	if lvl != 4.0 {
		t.Fatalf("level: got %v, want 4.0", lvl)
	}
	if name := getAVCProfileName(cfg); name != "Main" {
		t.Fatalf("profile name: got %q, want Main", name)
	}
}
