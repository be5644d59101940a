// AMF3 encoding/decoding: the newer, denser wire format AMF0 switches into
// via the 0x11 marker, using a variable-length U29 integer encoding instead
// of AMF0's fixed-width fields.

package main

import (
	"encoding/binary"
	"math"
)

const AMF3_TYPE_UNDEFINED = 0x00
const AMF3_TYPE_NULL = 0x01
const AMF3_TYPE_FALSE = 0x02
const AMF3_TYPE_TRUE = 0x03
const AMF3_TYPE_INTEGER = 0x04
const AMF3_TYPE_DOUBLE = 0x05
const AMF3_TYPE_STRING = 0x06
const AMF3_TYPE_XML_DOC = 0x07
const AMF3_TYPE_DATE = 0x08
const AMF3_TYPE_ARRAY = 0x09
const AMF3_TYPE_OBJECT = 0x0A
const AMF3_TYPE_XML = 0x0B
const AMF3_TYPE_BYTE_ARRAY = 0x0C

// AMF3Value holds a decoded AMF3 value. Only the field matching amf_type is
// meaningful; the rest sit at their zero value.
type AMF3Value struct {
	amf_type  byte
	int_val   int32
	float_val float64
	str_val   string
	bytes_val []byte
}

func createAMF3Value(amfType byte) AMF3Value {
	return AMF3Value{amf_type: amfType, bytes_val: make([]byte, 0)}
}

func (v *AMF3Value) GetBool() bool {
	return v.amf_type == AMF3_TYPE_TRUE
}

// amf3EncodeUI29 packs num into AMF3's variable-length U29 format,
// most-significant group first: 1-3 bytes each carrying 7 bits with the
// high bit as a continuation flag, or 3 continuation bytes plus a 4th
// byte carrying a full 8 bits when the value needs more than 21 bits.
func amf3EncodeUI29(num uint32) []byte {
	switch {
	case num < 0x80:
		return []byte{byte(num)}
	case num < 0x4000:
		return []byte{
			byte(num>>7) | 0x80,
			byte(num & 0x7F),
		}
	case num < 0x200000:
		return []byte{
			byte(num>>14) | 0x80,
			byte(num>>7) | 0x80,
			byte(num & 0x7F),
		}
	default:
		return []byte{
			byte(num>>22) | 0x80,
			byte(num>>15) | 0x80,
			byte(num>>8) | 0x80,
			byte(num),
		}
	}
}

func amf3EncodeOne(val AMF3Value) []byte {
	result := []byte{val.amf_type}

	switch val.amf_type {
	case AMF3_TYPE_INTEGER:
		result = append(result, amf3EncodeInteger(val.int_val)...)
	case AMF3_TYPE_DOUBLE:
		result = append(result, amf3EncodeDouble(val.float_val)...)
	case AMF3_TYPE_STRING, AMF3_TYPE_XML, AMF3_TYPE_XML_DOC:
		result = append(result, amf3EncodeString(val.str_val)...)
	case AMF3_TYPE_DATE:
		result = append(result, amf3EncodeDate(val.float_val)...)
	case AMF3_TYPE_BYTE_ARRAY:
		result = append(result, amf3EncodeByteArray(val.bytes_val)...)
	}

	return result
}

// amf3EncodeString packs a UTF-8 string as a U29 "length << 1" header
// (the low bit distinguishes an inline value from a string-table
// reference, which this encoder never emits) followed by the raw bytes.
func amf3EncodeString(str string) []byte {
	b := []byte(str)
	header := amf3EncodeUI29(uint32(len(b)) << 1)
	return append(header, b...)
}

func amf3EncodeInteger(i int32) []byte {
	return amf3EncodeUI29(uint32(i) & 0x3FFFFFFF)
}

func amf3EncodeDouble(d float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(d))
	return b
}

func amf3EncodeDate(ts float64) []byte {
	header := amf3EncodeUI29(1) // reference flag, always inline here
	return append(header, amf3EncodeDouble(ts)...)
}

func amf3EncodeByteArray(b []byte) []byte {
	header := amf3EncodeUI29(uint32(len(b)) << 1)
	return append(header, b...)
}

// amf3decUI29 reads up to 4 bytes, stopping at the first byte with its
// continuation bit clear — except the 4th byte, which always terminates
// and contributes a full 8 bits rather than 7, mirroring the encoder's
// split at 0x200000.
func (s *AMFDecodingStream) amf3decUI29() uint32 {
	var val uint32

	for i := 0; i < 3; i++ {
		b := s.Read(1)
		if len(b) == 0 {
			return val
		}
		if b[0] < 0x80 {
			return val<<7 | uint32(b[0])
		}
		val = val<<7 | uint32(b[0]&0x7F)
	}

	b := s.Read(1)
	if len(b) == 0 {
		return val
	}
	return val<<8 | uint32(b[0])
}

func (s *AMFDecodingStream) ReadAMF3() AMF3Value {
	marker := s.Read(1)
	if len(marker) == 0 {
		return createAMF3Value(AMF3_TYPE_UNDEFINED)
	}
	r := createAMF3Value(marker[0])

	switch r.amf_type {
	case AMF3_TYPE_INTEGER:
		r.int_val = int32(s.amf3decUI29())
	case AMF3_TYPE_DOUBLE:
		r.float_val = s.ReadNumber()
	case AMF3_TYPE_DATE:
		r.int_val = int32(s.amf3decUI29())
		r.float_val = s.ReadNumber()
	case AMF3_TYPE_STRING, AMF3_TYPE_XML, AMF3_TYPE_XML_DOC:
		r.str_val = s.ReadAMF3String()
	case AMF3_TYPE_BYTE_ARRAY:
		r.bytes_val = s.ReadAMF3ByteArray()
	}

	return r
}

func (s *AMFDecodingStream) ReadAMF3String() string {
	l := s.amf3decUI29()
	return string(s.Read(int(l)))
}

func (s *AMFDecodingStream) ReadAMF3ByteArray() []byte {
	l := s.amf3decUI29()
	return s.Read(int(l))
}
