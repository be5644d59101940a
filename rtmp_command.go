// RTMP command (AMF0 INVOKE) and data (AMF0 DATA) message codecs.
//
// A command message is the AMF0 sequence [name, transactionId, commandObject,
// ...optionalArguments]; a data message is [tag, ...optionalArguments]. Both
// are decoded into a flat name->value map so handlers can look values up by
// the name the spec gives them, rather than by position.

package main

import (
	"strconv"
	"strings"
)

// validateStreamIDString enforces the non-empty, length-bounded, printable
// charset a channel name or stream key must satisfy before it is accepted
// into the registry. RTMP gives no charset of its own, so this follows the
// conservative subset (alphanumeric plus - _ .) that is safe to use as a
// map key and, eventually, a path segment.
func validateStreamIDString(id string, maxLength int) bool {
	if id == "" {
		return false
	}
	if maxLength > 0 && len(id) > maxLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}

// getRTMPParamsSimple parses a "k=v&k2=v2" query string (the part of a
// play stream name after the first "?") into a flat map. Malformed pairs
// are skipped rather than rejected, since this only ever feeds optional
// play-time hints like cache=no.
func getRTMPParamsSimple(query string) map[string]string {
	params := make(map[string]string)

	pairs := strings.Split(query, "&")
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		params[kv[0]] = kv[1]
	}

	return params
}

type RTMPCommand struct {
	cmd       string
	arguments map[string]*AMF0Value
}

type RTMPData struct {
	tag       string
	arguments map[string]*AMF0Value
}

func (cmd *RTMPCommand) GetArg(name string) *AMF0Value {
	v := cmd.arguments[name]
	if v == nil {
		n := createAMF0Value(AMF0_TYPE_UNDEFINED)
		return &n
	}
	return v
}

func (cmd *RTMPCommand) ToString() string {
	return cmd.cmd + "(" + strconv.Itoa(len(cmd.arguments)) + " args)"
}

// Encode serializes the command back into an AMF0 command message payload:
// name, transId, cmdObj, then info/extra arguments in a fixed order.
func (cmd *RTMPCommand) Encode() []byte {
	nameVal := createAMF0Value(AMF0_TYPE_STRING)
	nameVal.str_val = cmd.cmd

	out := amf0EncodeOne(nameVal)

	if transId := cmd.arguments["transId"]; transId != nil {
		out = append(out, amf0EncodeOne(*transId)...)
	}
	if cmdObj := cmd.arguments["cmdObj"]; cmdObj != nil {
		out = append(out, amf0EncodeOne(*cmdObj)...)
	}
	if info := cmd.arguments["info"]; info != nil {
		out = append(out, amf0EncodeOne(*info)...)
	}

	return out
}

// decodeRTMPCommand parses an AMF0 INVOKE payload. Extra positional
// arguments are named according to the command, since AMF0 commands have no
// self-describing argument names beyond position.
func decodeRTMPCommand(payload []byte) RTMPCommand {
	s := &AMFDecodingStream{buffer: payload}

	nameVal, ok := s.ReadOneOrEOF()
	if !ok {
		return RTMPCommand{cmd: "", arguments: make(map[string]*AMF0Value)}
	}

	args := make(map[string]*AMF0Value)

	if transId, ok := s.ReadOneOrEOF(); ok {
		args["transId"] = &transId
	}
	if cmdObj, ok := s.ReadOneOrEOF(); ok {
		args["cmdObj"] = &cmdObj
	}

	switch nameVal.str_val {
	case "publish", "play":
		if streamName, ok := s.ReadOneOrEOF(); ok {
			args["streamName"] = &streamName
		}
		if extra, ok := s.ReadOneOrEOF(); ok {
			args["mode"] = &extra
		}
	case "pause":
		if pause, ok := s.ReadOneOrEOF(); ok {
			args["pause"] = &pause
		}
		if ms, ok := s.ReadOneOrEOF(); ok {
			args["milliSeconds"] = &ms
		}
	case "deleteStream":
		if streamId, ok := s.ReadOneOrEOF(); ok {
			args["streamId"] = &streamId
		}
	case "receiveAudio", "receiveVideo":
		if b, ok := s.ReadOneOrEOF(); ok {
			args["bool"] = &b
		}
	default:
		for i := 0; ; i++ {
			v, ok := s.ReadOneOrEOF()
			if !ok {
				break
			}
			args["arg"+strconv.Itoa(i)] = &v
		}
	}

	return RTMPCommand{cmd: nameVal.str_val, arguments: args}
}

func (d *RTMPData) GetArg(name string) *AMF0Value {
	v := d.arguments[name]
	if v == nil {
		n := createAMF0Value(AMF0_TYPE_UNDEFINED)
		return &n
	}
	return v
}

func (d *RTMPData) ToString() string {
	return d.tag + "(" + strconv.Itoa(len(d.arguments)) + " args)"
}

func (d *RTMPData) Encode() []byte {
	tagVal := createAMF0Value(AMF0_TYPE_STRING)
	tagVal.str_val = d.tag

	out := amf0EncodeOne(tagVal)

	if dataObj := d.arguments["dataObj"]; dataObj != nil {
		out = append(out, amf0EncodeOne(*dataObj)...)
	}
	if b1 := d.arguments["bool1"]; b1 != nil {
		out = append(out, amf0EncodeOne(*b1)...)
	}
	if b2 := d.arguments["bool2"]; b2 != nil {
		out = append(out, amf0EncodeOne(*b2)...)
	}

	return out
}

// decodeRTMPData parses an AMF0 DATA payload. `@setDataFrame` messages wrap
// an inner tag (almost always `onMetaData`) followed by the metadata
// object; other tags carry their arguments directly.
func decodeRTMPData(payload []byte) RTMPData {
	s := &AMFDecodingStream{buffer: payload}

	tagVal, ok := s.ReadOneOrEOF()
	if !ok {
		return RTMPData{tag: "", arguments: make(map[string]*AMF0Value)}
	}

	args := make(map[string]*AMF0Value)

	if tagVal.str_val == "@setDataFrame" {
		if _, ok := s.ReadOneOrEOF(); !ok { // inner tag name, usually "onMetaData"
			return RTMPData{tag: tagVal.str_val, arguments: args}
		}
		if dataObj, ok := s.ReadOneOrEOF(); ok {
			args["dataObj"] = &dataObj
		}
		return RTMPData{tag: tagVal.str_val, arguments: args}
	}

	if dataObj, ok := s.ReadOneOrEOF(); ok {
		args["dataObj"] = &dataObj
	}
	if b1, ok := s.ReadOneOrEOF(); ok {
		args["bool1"] = &b1
	}
	if b2, ok := s.ReadOneOrEOF(); ok {
		args["bool2"] = &b2
	}

	return RTMPData{tag: tagVal.str_val, arguments: args}
}
