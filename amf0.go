// AMF0 value codec. RTMP carries its RPC arguments and stream metadata as
// AMF0 sequences; this file implements the typed value model plus the
// byte-level encoder and the cursor-based decoder over a message payload.

package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const AMF0_TYPE_NUMBER = 0x00
const AMF0_TYPE_BOOL = 0x01
const AMF0_TYPE_STRING = 0x02
const AMF0_TYPE_OBJECT = 0x03
const AMF0_TYPE_NULL = 0x05
const AMF0_TYPE_UNDEFINED = 0x06
const AMF0_TYPE_REF = 0x07
const AMF0_TYPE_ARRAY = 0x08
const AMF0_TYPE_STRICT_ARRAY = 0x0A
const AMF0_TYPE_DATE = 0x0B
const AMF0_TYPE_LONG_STRING = 0x0C
const AMF0_TYPE_XML_DOC = 0x0F
const AMF0_TYPE_TYPED_OBJ = 0x10
const AMF0_TYPE_SWITCH_AMF3 = 0x11

// Objects end with an empty property name followed by this marker byte.
const AMF0_OBJECT_TERM_CODE = 0x09

// AMF0Value is one decoded value. A single struct carries every variant;
// only the fields matching amf_type are meaningful.
type AMF0Value struct {
	amf_type  byte
	bool_val  bool
	str_val   string
	int_val   int64
	float_val float64
	obj_val   map[string]*AMF0Value
	array_val []*AMF0Value
	amf3      *AMF3Value
}

func createAMF0Value(amfType byte) AMF0Value {
	return AMF0Value{
		amf_type:  amfType,
		obj_val:   make(map[string]*AMF0Value),
		array_val: make([]*AMF0Value, 0),
	}
}

// SetFloatVal stores a numeric value, keeping the integer view in sync.
func (v *AMF0Value) SetFloatVal(val float64) {
	v.float_val = val
	v.int_val = int64(val)
}

// SetIntegerVal stores a numeric value, keeping the float view in sync.
func (v *AMF0Value) SetIntegerVal(val int64) {
	v.int_val = val
	v.float_val = float64(val)
}

func (v *AMF0Value) IsAMF3() bool {
	return v.amf_type == AMF0_TYPE_SWITCH_AMF3 && v.amf3 != nil
}

func (v *AMF0Value) IsUndefined() bool {
	if v.IsAMF3() {
		return v.amf3.amf_type == AMF3_TYPE_UNDEFINED
	}
	return v.amf_type == AMF0_TYPE_UNDEFINED
}

func (v *AMF0Value) IsNull() bool {
	if v.IsAMF3() {
		return v.amf3.amf_type == AMF3_TYPE_NULL
	}
	return v.amf_type == AMF0_TYPE_NULL
}

// GetBool reads the value as a boolean; numbers count as true when
// non-zero, anything else is false.
func (v *AMF0Value) GetBool() bool {
	switch {
	case v.IsAMF3():
		return v.amf3.GetBool()
	case v.amf_type == AMF0_TYPE_BOOL:
		return v.bool_val
	case v.amf_type == AMF0_TYPE_NUMBER:
		return v.float_val != 0
	default:
		return false
	}
}

func (v *AMF0Value) GetInteger() int64 {
	if v.IsAMF3() {
		return int64(v.amf3.int_val)
	}
	return v.int_val
}

func (v *AMF0Value) GetDouble() float64 {
	if v.IsAMF3() {
		return v.amf3.float_val
	}
	return v.float_val
}

func (v *AMF0Value) GetString() string {
	if v.IsAMF3() {
		return v.amf3.str_val
	}
	return v.str_val
}

func (v *AMF0Value) GetByteArray() []byte {
	if v.IsAMF3() {
		return v.amf3.bytes_val
	}
	return []byte(v.str_val)
}

func (v *AMF0Value) GetObject() map[string]*AMF0Value {
	if v.IsAMF3() {
		return make(map[string]*AMF0Value)
	}
	return v.obj_val
}

// GetProperty looks a property up on an object value, returning an
// UNDEFINED value (never nil) when absent so callers can chain lookups.
func (v *AMF0Value) GetProperty(propName string) *AMF0Value {
	if p := v.GetObject()[propName]; p != nil {
		return p
	}
	n := createAMF0Value(AMF0_TYPE_UNDEFINED)
	return &n
}

func (v *AMF0Value) GetArray() []*AMF0Value {
	if v.IsAMF3() {
		return make([]*AMF0Value, 0)
	}
	return v.array_val
}

// ToString renders the value for debug logs; tabs is the indentation
// prefix for nested members.
func (v *AMF0Value) ToString(tabs string) string {
	if v.IsAMF3() {
		return "AMF3()"
	}

	switch v.amf_type {
	case AMF0_TYPE_NULL:
		return "NULL"
	case AMF0_TYPE_UNDEFINED:
		return "UNDEFINED"
	case AMF0_TYPE_BOOL:
		if v.bool_val {
			return "TRUE"
		}
		return "FALSE"
	case AMF0_TYPE_STRING:
		return "'" + v.str_val + "'"
	case AMF0_TYPE_LONG_STRING:
		return "L'" + v.str_val + "'"
	case AMF0_TYPE_XML_DOC:
		return "XML'" + v.str_val + "'"
	case AMF0_TYPE_NUMBER:
		return fmt.Sprintf("%f", v.float_val)
	case AMF0_TYPE_DATE:
		return fmt.Sprintf("DATE(%f)", v.float_val)
	case AMF0_TYPE_REF:
		return "REF#" + strconv.Itoa(int(v.int_val))
	case AMF0_TYPE_OBJECT:
		return v.membersToString(tabs, "{", "}")
	case AMF0_TYPE_TYPED_OBJ:
		return v.str_val + " " + v.membersToString(tabs, "{", "}")
	case AMF0_TYPE_ARRAY:
		return " ARRAY " + v.membersToString(tabs, "[", "]")
	case AMF0_TYPE_STRICT_ARRAY:
		var sb strings.Builder
		sb.WriteString(" STRICT_ARRAY [\n")
		for _, item := range v.array_val {
			sb.WriteString(tabs + "    " + item.ToString(tabs+"    ") + "\n")
		}
		sb.WriteString(tabs + "]")
		return sb.String()
	default:
		return "UNKNOWN_TYPE"
	}
}

func (v *AMF0Value) membersToString(tabs string, open string, closeCh string) string {
	var sb strings.Builder
	sb.WriteString(open + "\n")
	for key, val := range v.obj_val {
		sb.WriteString(tabs + "    '" + key + "' = " + val.ToString(tabs+"    ") + "\n")
	}
	sb.WriteString(tabs + closeCh)
	return sb.String()
}

/* Encoding */

// amf0EncodeOne serializes a value as its type marker followed by the
// type-specific body.
func amf0EncodeOne(val AMF0Value) []byte {
	out := []byte{val.amf_type}

	switch val.amf_type {
	case AMF0_TYPE_NUMBER:
		out = append(out, amf0EncodeNumber(val.float_val)...)
	case AMF0_TYPE_BOOL:
		out = append(out, amf0EncodeBool(val.bool_val)...)
	case AMF0_TYPE_DATE:
		// Millisecond epoch double plus a two-byte timezone field, which
		// is reserved and always written as zero.
		out = append(out, amf0EncodeNumber(val.float_val)...)
		out = append(out, 0x00, 0x00)
	case AMF0_TYPE_STRING, AMF0_TYPE_XML_DOC:
		out = append(out, amf0EncodeString(val.str_val)...)
	case AMF0_TYPE_LONG_STRING:
		out = append(out, amf0EncodeLongString(val.str_val)...)
	case AMF0_TYPE_OBJECT:
		out = append(out, amf0EncodeObject(val.obj_val)...)
	case AMF0_TYPE_REF:
		var ref [2]byte
		binary.BigEndian.PutUint16(ref[:], uint16(val.int_val))
		out = append(out, ref[:]...)
	case AMF0_TYPE_ARRAY:
		var count [4]byte
		binary.BigEndian.PutUint32(count[:], uint32(len(val.obj_val)))
		out = append(out, count[:]...)
		out = append(out, amf0EncodeObject(val.obj_val)...)
	case AMF0_TYPE_STRICT_ARRAY:
		var count [4]byte
		binary.BigEndian.PutUint32(count[:], uint32(len(val.array_val)))
		out = append(out, count[:]...)
		for _, item := range val.array_val {
			out = append(out, amf0EncodeOne(*item)...)
		}
	case AMF0_TYPE_TYPED_OBJ:
		out = append(out, amf0EncodeString(val.str_val)...)
		out = append(out, amf0EncodeObject(val.obj_val)...)
	case AMF0_TYPE_SWITCH_AMF3:
		out = append(out, amf3EncodeOne(*val.amf3)...)
	}

	return out
}

func amf0EncodeNumber(num float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(num))
	return b[:]
}

func amf0EncodeBool(b bool) []byte {
	if b {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// amf0EncodeString writes the short form: 16-bit length prefix plus UTF-8
// bytes. Strings over 64 KiB need the LONG_STRING type instead.
func amf0EncodeString(str string) []byte {
	b := []byte(str)
	out := make([]byte, 2, 2+len(b))
	binary.BigEndian.PutUint16(out, uint16(len(b)))
	return append(out, b...)
}

func amf0EncodeLongString(str string) []byte {
	b := []byte(str)
	out := make([]byte, 4, 4+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	return append(out, b...)
}

// amf0EncodeObject writes the property list followed by the object-end
// marker. Properties are emitted in sorted key order so the output is
// deterministic.
func amf0EncodeObject(o map[string]*AMF0Value) []byte {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]byte, 0)
	for _, key := range keys {
		out = append(out, amf0EncodeString(key)...)
		out = append(out, amf0EncodeOne(*o[key])...)
	}

	out = append(out, amf0EncodeString("")...)
	return append(out, AMF0_OBJECT_TERM_CODE)
}

/* Decoding */

// AMFDecodingStream is a cursor over one message payload. Reads past the
// end return empty slices rather than panicking, and leave the cursor at
// the end so IsEnded reports exhaustion.
type AMFDecodingStream struct {
	buffer []byte
	pos    int
}

func (s *AMFDecodingStream) Read(n int) []byte {
	r := s.Look(n)
	s.pos += len(r)
	return r
}

func (s *AMFDecodingStream) Look(n int) []byte {
	end := s.pos + n
	if end > len(s.buffer) {
		end = len(s.buffer)
	}
	return s.buffer[s.pos:end]
}

func (s *AMFDecodingStream) Skip(n int) {
	s.pos += n
	if s.pos > len(s.buffer) {
		s.pos = len(s.buffer)
	}
}

func (s *AMFDecodingStream) IsEnded() bool {
	return s.pos >= len(s.buffer)
}

// ReadOneOrEOF reads one value if the stream is not exhausted, returning
// (value, true); returns (zero value, false) once the stream is exhausted.
// Argument lists are walked with this instead of looping until a decode
// error, so parsing is a bounded loop rather than exception-driven.
func (s *AMFDecodingStream) ReadOneOrEOF() (AMF0Value, bool) {
	if s.IsEnded() {
		return AMF0Value{}, false
	}
	return s.ReadOne(), true
}

// ReadOne decodes the value at the cursor: a type marker byte followed by
// the type-specific body.
func (s *AMFDecodingStream) ReadOne() AMF0Value {
	marker := s.Read(1)
	if len(marker) == 0 {
		return createAMF0Value(AMF0_TYPE_UNDEFINED)
	}

	r := createAMF0Value(marker[0])

	switch marker[0] {
	case AMF0_TYPE_NUMBER:
		r.SetFloatVal(s.ReadNumber())
	case AMF0_TYPE_BOOL:
		r.bool_val = s.ReadBool()
	case AMF0_TYPE_DATE:
		r.SetFloatVal(s.ReadNumber())
		s.Skip(2) // timezone, reserved
	case AMF0_TYPE_STRING, AMF0_TYPE_XML_DOC:
		r.str_val = s.ReadString()
	case AMF0_TYPE_LONG_STRING:
		r.str_val = s.ReadLongString()
	case AMF0_TYPE_OBJECT:
		r.obj_val = s.ReadObject()
	case AMF0_TYPE_TYPED_OBJ:
		r.str_val = s.ReadString()
		r.obj_val = s.ReadObject()
	case AMF0_TYPE_REF:
		ref := s.Read(2)
		if len(ref) == 2 {
			r.int_val = int64(binary.BigEndian.Uint16(ref))
		}
	case AMF0_TYPE_ARRAY:
		s.Skip(4) // associative count hint, not trusted
		r.obj_val = s.ReadObject()
	case AMF0_TYPE_STRICT_ARRAY:
		r.array_val = s.ReadStrictArray()
	case AMF0_TYPE_SWITCH_AMF3:
		o3 := s.ReadAMF3()
		r.amf3 = &o3
	}

	return r
}

func (s *AMFDecodingStream) ReadNumber() float64 {
	buf := s.Read(8)
	if len(buf) < 8 {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf))
}

func (s *AMFDecodingStream) ReadBool() bool {
	buf := s.Read(1)
	return len(buf) == 1 && buf[0] != 0x00
}

func (s *AMFDecodingStream) ReadString() string {
	l := s.Read(2)
	if len(l) < 2 {
		return ""
	}
	return string(s.Read(int(binary.BigEndian.Uint16(l))))
}

func (s *AMFDecodingStream) ReadLongString() string {
	l := s.Read(4)
	if len(l) < 4 {
		return ""
	}
	return string(s.Read(int(binary.BigEndian.Uint32(l))))
}

// ReadObject decodes properties until the terminator (an empty name
// followed by the object-end marker), consuming the marker so the cursor
// lands on whatever comes after the object.
func (s *AMFDecodingStream) ReadObject() map[string]*AMF0Value {
	o := make(map[string]*AMF0Value)

	for !s.IsEnded() {
		propName := s.ReadString()

		// 0x09 is not a value marker, so seeing it here always means the
		// object is over, whether or not the name before it was empty.
		next := s.Look(1)
		if len(next) == 1 && next[0] == AMF0_OBJECT_TERM_CODE {
			s.Skip(1)
			break
		}

		if s.IsEnded() {
			break
		}

		propVal := s.ReadOne()
		o[propName] = &propVal
	}

	return o
}

func (s *AMFDecodingStream) ReadStrictArray() []*AMF0Value {
	r := make([]*AMF0Value, 0)

	l := s.Read(4)
	if len(l) < 4 {
		return r
	}

	count := binary.BigEndian.Uint32(l)
	for i := uint32(0); i < count && !s.IsEnded(); i++ {
		v := s.ReadOne()
		r = append(r, &v)
	}

	return r
}
