// Complex/simple RTMP handshake (the "Genuine Adobe" digest scheme) plus
// the basic S0/S1/S2 fallback for clients that skip it entirely.

package main

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
)

const MESSAGE_FORMAT_0 = 0 // basic handshake, no digest
const MESSAGE_FORMAT_1 = 1 // digest embedded at the client-const offset (bytes 8-12)
const MESSAGE_FORMAT_2 = 2 // digest embedded at the server-const offset (bytes 772-776)

const RTMP_SIG_SIZE = 1536
const SHA256DL = 32

var randomCrud = []byte{
	0xf0, 0xee, 0xc2, 0x4a, 0x80, 0x68, 0xbe, 0xe8,
	0x2e, 0x00, 0xd0, 0xd1, 0x02, 0x9e, 0x7e, 0x57,
	0x6e, 0xec, 0x5d, 0x2d, 0x29, 0x80, 0x6f, 0xab,
	0x93, 0xb8, 0xe6, 0x36, 0xcf, 0xeb, 0x31, 0xae,
}

const genuineFMSConst = "Genuine Adobe Flash Media Server 001"

var genuineFMSConstCrud = append([]byte(genuineFMSConst), randomCrud...)

const genuineFPConst = "Genuine Adobe Flash Player 001"

func calcHmac(message []byte, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

func signaturesEqual(a []byte, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// padOrTruncate returns b resized to exactly n bytes: zero-padded on the
// right if shorter, cut off if longer. Used throughout the digest scheme,
// which always hashes a fixed-size message.
func padOrTruncate(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// genuineConstDigestOffset computes where in a 1536-byte handshake
// signature the digest lives, given the 4 "offset" bytes read at fixed
// position base (8 for the client const, 772 for the server const): the
// sum of those 4 bytes mod 728, plus base+4.
func genuineConstDigestOffset(offsetBytes []byte, base uint32) uint32 {
	sum := uint32(offsetBytes[0]) + uint32(offsetBytes[1]) + uint32(offsetBytes[2]) + uint32(offsetBytes[3])
	return (sum % 728) + base + 4
}

func GetClientGenuineConstDigestOffset(buf []byte) uint32 {
	return genuineConstDigestOffset(buf, 8)
}

func GetServerGenuineConstDigestOffset(buf []byte) uint32 {
	return genuineConstDigestOffset(buf, 772)
}

// digestMessage extracts a 1536-byte signature with the 32-byte digest at
// digestOffset cut out and the remainder padded/truncated back to the fixed
// message length the HMAC is computed over.
func digestMessage(sig []byte, digestOffset uint32) []byte {
	msg := make([]byte, digestOffset)
	copy(msg, sig[0:digestOffset])
	msg = append(msg, sig[digestOffset+SHA256DL:]...)
	return padOrTruncate(msg, RTMP_SIG_SIZE-SHA256DL)
}

// detectClientMessageFormat figures out which of the two digest offsets
// (client-const at bytes 8-12, server-const at bytes 772-776) the peer
// actually used, trying the server-const offset first since real clients
// overwhelmingly use it. Falls back to MESSAGE_FORMAT_0 (no digest at all)
// when neither HMAC matches.
func detectClientMessageFormat(clientSig []byte) uint32 {
	try := func(offset uint32) bool {
		msg := digestMessage(clientSig, offset)
		computed := calcHmac(msg, []byte(genuineFPConst))
		provided := clientSig[offset : offset+SHA256DL]
		return signaturesEqual(computed, provided)
	}

	if try(GetServerGenuineConstDigestOffset(clientSig[772:776])) {
		return MESSAGE_FORMAT_2
	}
	if try(GetClientGenuineConstDigestOffset(clientSig[8:12])) {
		return MESSAGE_FORMAT_1
	}
	return MESSAGE_FORMAT_0
}

// generateS1 builds the server's half of the digest handshake: 4 zero
// bytes, a fixed 4-byte version tag, random filler out to RTMP_SIG_SIZE,
// then the HMAC digest written in over the offset dictated by the client's
// detected format.
func generateS1(messageFormat uint32) []byte {
	randomBytes := make([]byte, RTMP_SIG_SIZE-8)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(err)
	}

	handshakeBytes := append([]byte{0, 0, 0, 0, 1, 2, 3, 4}, randomBytes...)
	handshakeBytes = padOrTruncate(handshakeBytes, RTMP_SIG_SIZE)

	// The digest goes at the offset style the client used, derived from
	// S1's own offset bytes.
	var digestOffset uint32
	if messageFormat == MESSAGE_FORMAT_1 {
		digestOffset = GetClientGenuineConstDigestOffset(handshakeBytes[8:12])
	} else {
		digestOffset = GetServerGenuineConstDigestOffset(handshakeBytes[772:776])
	}

	msg := make([]byte, digestOffset)
	copy(msg, handshakeBytes[0:digestOffset])
	msg = append(msg, handshakeBytes[digestOffset+SHA256DL:]...)
	msg = padOrTruncate(msg, RTMP_SIG_SIZE-SHA256DL)

	digest := calcHmac(msg, []byte(genuineFMSConst))
	copy(handshakeBytes[digestOffset:digestOffset+SHA256DL], digest)

	return handshakeBytes
}

// generateS2 echoes the client's challenge back, signed with a key derived
// from the client's own digest: random filler followed by an HMAC of that
// filler keyed on HMAC(client digest, genuineFMSConstCrud).
func generateS2(messageFormat uint32, clientSig []byte) []byte {
	randomBytes := make([]byte, RTMP_SIG_SIZE-SHA256DL)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(err)
	}

	var challengeKeyOffset uint32
	if messageFormat == MESSAGE_FORMAT_1 {
		challengeKeyOffset = GetClientGenuineConstDigestOffset(clientSig[8:12])
	} else {
		challengeKeyOffset = GetServerGenuineConstDigestOffset(clientSig[772:776])
	}
	challengeKey := clientSig[challengeKeyOffset : challengeKeyOffset+SHA256DL]

	key := calcHmac(challengeKey, genuineFMSConstCrud)
	signature := calcHmac(randomBytes, key)

	s2Bytes := append(randomBytes, signature...)
	return padOrTruncate(s2Bytes, RTMP_SIG_SIZE)
}

// generateS0S1S2 builds the full server handshake reply to a client's C1
// signature: the basic echo-back handshake when no digest was detected, or
// the full digest-signed S1+S2 otherwise.
func generateS0S1S2(clientSig []byte) []byte {
	reply := []byte{RTMP_VERSION}
	messageFormat := detectClientMessageFormat(clientSig)

	if messageFormat == MESSAGE_FORMAT_0 {
		LogDebug("Using basic handshake")
		reply = append(reply, clientSig...)
		reply = append(reply, clientSig...)
		return reply
	}

	LogDebug("Using S1S2 handshake")
	reply = append(reply, generateS1(messageFormat)...)
	reply = append(reply, generateS2(messageFormat, clientSig)...)
	return reply
}
