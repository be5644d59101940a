package main

import "testing"

func TestAMF3UI29RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFF, 0x200000, 0x1FFFFFFF}

	for _, want := range cases {
		s := AMFDecodingStream{buffer: amf3EncodeUI29(want)}
		if got := s.amf3decUI29(); got != want {
			t.Errorf("u29 %#x: decoded %#x", want, got)
		}
		if !s.IsEnded() {
			t.Errorf("u29 %#x: trailing bytes left undecoded", want)
		}
	}
}

func TestAMF3StringRoundTrip(t *testing.T) {
	v := createAMF3Value(AMF3_TYPE_STRING)
	v.str_val = "onMetaData"

	s := AMFDecodingStream{buffer: amf3EncodeOne(v)}
	decoded := s.ReadAMF3()

	if decoded.str_val != "onMetaData" {
		t.Fatalf("got %q, want onMetaData", decoded.str_val)
	}
}

func TestAMF3IntegerRoundTrip(t *testing.T) {
	v := createAMF3Value(AMF3_TYPE_INTEGER)
	v.int_val = 268435455 // max U29 value

	s := AMFDecodingStream{buffer: amf3EncodeOne(v)}
	decoded := s.ReadAMF3()

	if decoded.int_val != v.int_val {
		t.Fatalf("got %d, want %d", decoded.int_val, v.int_val)
	}
}

func TestAMF3BoolValues(t *testing.T) {
	trueVal := createAMF3Value(AMF3_TYPE_TRUE)
	if !trueVal.GetBool() {
		t.Fatal("TRUE marker must read as true")
	}
	falseVal := createAMF3Value(AMF3_TYPE_FALSE)
	if falseVal.GetBool() {
		t.Fatal("FALSE marker must read as false")
	}
}
