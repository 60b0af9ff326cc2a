// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netstack

const ICMPHeaderLen = 8

const (
	ICMPTypeEchoReply   = 0
	ICMPTypeEchoRequest = 8
)

// EchoReply answers an ICMP echo request in place: it flips the type
// byte to EchoReply and recomputes the checksum, leaving the
// identifier/sequence/payload bytes untouched (spec §4.7, RX path).
func EchoReply(icmp []byte) ([]byte, bool) {
	if len(icmp) < ICMPHeaderLen || icmp[0] != ICMPTypeEchoRequest {
		return nil, false
	}
	out := append([]byte(nil), icmp...)
	out[0] = ICMPTypeEchoReply
	out[2] = 0
	out[3] = 0
	sum := Checksum16(out)
	out[2] = byte(sum >> 8)
	out[3] = byte(sum)
	return out, true
}

// NewEchoRequest builds an ICMP echo request with id/seq and payload,
// for PingSession's TX side.
func NewEchoRequest(id, seq uint16, payload []byte) []byte {
	out := make([]byte, ICMPHeaderLen+len(payload))
	out[0] = ICMPTypeEchoRequest
	out[1] = 0
	out[4] = byte(id >> 8)
	out[5] = byte(id)
	out[6] = byte(seq >> 8)
	out[7] = byte(seq)
	copy(out[8:], payload)
	sum := Checksum16(out)
	out[2] = byte(sum >> 8)
	out[3] = byte(sum)
	return out
}
