package voice

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// discoveryRequestLen and discoveryReplyLen are the fixed sizes of the IP
// discovery request/response datagrams (spec §4.4).
const (
	discoveryRequestLen = 74
	discoveryReplyLen   = 74
	discoveryIPOffset   = 8
	discoveryIPMaxLen   = 64 // offsets 8..71
	discoveryPortHi     = 72
	discoveryPortLo     = 73
)

var (
	errShortDiscoveryReply = errors.New("voice: discovery reply shorter than 74 bytes")
	errNotDiscoveryReply   = errors.New("voice: received non-discovery packet after discovery")
)

// buildDiscoveryRequest lays out the 74-byte IP discovery request: a
// 0x0001 request marker, a length field fixed at 70, the local SSRC, and
// 66 zero bytes reserved for the reflexive address the server echoes
// back.
func buildDiscoveryRequest(ssrc uint32) []byte {
	buf := make([]byte, discoveryRequestLen)
	buf[0], buf[1] = 0x00, 0x01
	buf[2], buf[3] = 0x00, 0x46
	binary.BigEndian.PutUint32(buf[4:8], ssrc)
	return buf
}

// parseDiscoveryReply extracts the reflexive IPv4 address and port from a
// discovery response.
//
// The documented reply length is 74 bytes. The original implementation
// this core descends from reads the port as response[73]<<8|response[74],
// which walks one byte off the end of an exactly-74-byte buffer; this
// reads the corrected offsets response[72]<<8|response[73] and bounds-
// checks the buffer first. The IP string is also capped to offsets 8..71
// (64 bytes) rather than scanned for a NUL terminator with no limit.
func parseDiscoveryReply(reply []byte) (ip string, port uint16, err error) {
	if len(reply) < discoveryReplyLen {
		return "", 0, errShortDiscoveryReply
	}
	if reply[0] != 0x00 || reply[1] != 0x02 {
		return "", 0, errNotDiscoveryReply
	}

	ipField := reply[discoveryIPOffset : discoveryIPOffset+discoveryIPMaxLen]
	if nul := bytes.IndexByte(ipField, 0); nul >= 0 {
		ipField = ipField[:nul]
	}
	port = binary.BigEndian.Uint16(reply[discoveryPortHi : discoveryPortLo+1])
	return string(ipField), port, nil
}
