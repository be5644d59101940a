package main

import "testing"

func encodeDecode(t *testing.T, v AMF0Value) AMF0Value {
	t.Helper()
	s := AMFDecodingStream{buffer: amf0EncodeOne(v)}
	return s.ReadOne()
}

func TestAMF0NumberRoundTrip(t *testing.T) {
	v := createAMF0Value(AMF0_TYPE_NUMBER)
	v.SetFloatVal(3.25)

	decoded := encodeDecode(t, v)
	if decoded.GetDouble() != 3.25 {
		t.Fatalf("got %v, want 3.25", decoded.GetDouble())
	}
}

func TestAMF0StringRoundTrip(t *testing.T) {
	v := createAMF0Value(AMF0_TYPE_STRING)
	v.str_val = "live/stream1"

	decoded := encodeDecode(t, v)
	if decoded.GetString() != "live/stream1" {
		t.Fatalf("got %q, want %q", decoded.GetString(), "live/stream1")
	}
}

func TestAMF0BoolRoundTrip(t *testing.T) {
	v := createAMF0Value(AMF0_TYPE_BOOL)
	v.bool_val = true

	decoded := encodeDecode(t, v)
	if !decoded.GetBool() {
		t.Fatal("expected decoded bool to be true")
	}
}

func TestAMF0DateRoundTrip(t *testing.T) {
	v := createAMF0Value(AMF0_TYPE_DATE)
	v.SetFloatVal(1500000000000)

	decoded := encodeDecode(t, v)
	if decoded.GetDouble() != 1500000000000 {
		t.Fatalf("got %v, want 1500000000000", decoded.GetDouble())
	}
}

func TestAMF0ObjectRoundTrip(t *testing.T) {
	code := createAMF0Value(AMF0_TYPE_STRING)
	code.str_val = "NetStream.Publish.Start"

	obj := createAMF0Value(AMF0_TYPE_OBJECT)
	obj.obj_val["code"] = &code

	decoded := encodeDecode(t, obj)
	if got := decoded.GetProperty("code").GetString(); got != "NetStream.Publish.Start" {
		t.Fatalf("got %q, want NetStream.Publish.Start", got)
	}
}

// A nested object's end marker must be consumed, or the outer object's
// remaining properties get cut off.
func TestAMF0NestedObjectRoundTrip(t *testing.T) {
	level := createAMF0Value(AMF0_TYPE_STRING)
	level.str_val = "status"

	info := createAMF0Value(AMF0_TYPE_OBJECT)
	info.obj_val["level"] = &level

	after := createAMF0Value(AMF0_TYPE_NUMBER)
	after.SetIntegerVal(7)

	outer := createAMF0Value(AMF0_TYPE_OBJECT)
	outer.obj_val["info"] = &info
	// "z..." sorts after "info", so it is encoded after the nested object.
	outer.obj_val["zStreamId"] = &after

	decoded := encodeDecode(t, outer)

	if got := decoded.GetProperty("info").GetProperty("level").GetString(); got != "status" {
		t.Fatalf("nested property: got %q, want status", got)
	}
	if got := decoded.GetProperty("zStreamId").GetInteger(); got != 7 {
		t.Fatalf("property after nested object: got %d, want 7", got)
	}
}

func TestAMF0ECMAArrayRoundTrip(t *testing.T) {
	duration := createAMF0Value(AMF0_TYPE_NUMBER)
	duration.SetFloatVal(12.5)

	arr := createAMF0Value(AMF0_TYPE_ARRAY)
	arr.obj_val["duration"] = &duration

	decoded := encodeDecode(t, arr)
	if got := decoded.GetProperty("duration").GetDouble(); got != 12.5 {
		t.Fatalf("got %v, want 12.5", got)
	}
}

func TestAMF0StrictArrayRoundTrip(t *testing.T) {
	first := createAMF0Value(AMF0_TYPE_NUMBER)
	first.SetIntegerVal(1)
	second := createAMF0Value(AMF0_TYPE_STRING)
	second.str_val = "two"

	arr := createAMF0Value(AMF0_TYPE_STRICT_ARRAY)
	arr.array_val = []*AMF0Value{&first, &second}

	decoded := encodeDecode(t, arr)
	items := decoded.GetArray()
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].GetInteger() != 1 || items[1].GetString() != "two" {
		t.Fatalf("items mismatch: %v, %q", items[0].GetInteger(), items[1].GetString())
	}
}

func TestAMFDecodingStreamReadOneOrEOF(t *testing.T) {
	v := createAMF0Value(AMF0_TYPE_STRING)
	v.str_val = "x"

	s := AMFDecodingStream{buffer: amf0EncodeOne(v)}

	got, ok := s.ReadOneOrEOF()
	if !ok {
		t.Fatal("expected a value before EOF")
	}
	if got.GetString() != "x" {
		t.Fatalf("got %q, want \"x\"", got.GetString())
	}

	if _, ok = s.ReadOneOrEOF(); ok {
		t.Fatal("expected EOF after consuming the only value")
	}
}

func TestAMFDecodingStreamTruncatedInput(t *testing.T) {
	// A NUMBER marker with only 3 of its 8 payload bytes must not panic and
	// must leave the stream ended.
	s := AMFDecodingStream{buffer: []byte{AMF0_TYPE_NUMBER, 0x40, 0x08, 0x00}}

	v := s.ReadOne()
	if v.GetDouble() != 0 {
		t.Fatalf("truncated number: got %v, want 0", v.GetDouble())
	}
	if !s.IsEnded() {
		t.Fatal("stream must be exhausted after a truncated read")
	}
}
