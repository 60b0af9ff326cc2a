// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package netstack is the summarized network stack (spec §4.7):
// Ethernet/ARP/IPv4/ICMP/UDP/DHCP framing and the RX/TX path that
// demuxes and answers them. NIC rings reuse pkg/internal/ring, an
// overwrite-oldest-on-full primitive, matching the spec's "drop on
// overflow" NIC/socket contract.
package netstack

import "encoding/binary"

// MAC is a 6-byte hardware address.
type MAC [6]byte

func (m MAC) IsBroadcast() bool {
	return m == MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// EtherType identifies the payload carried by an Ethernet II frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

const EthernetHeaderLen = 14

// EthernetFrame is a decoded Ethernet II header plus its payload.
type EthernetFrame struct {
	Dst     MAC
	Src     MAC
	Type    EtherType
	Payload []byte
}

// DecodeEthernet parses the 14-byte Ethernet II header from raw.
func DecodeEthernet(raw []byte) (EthernetFrame, bool) {
	if len(raw) < EthernetHeaderLen {
		return EthernetFrame{}, false
	}
	var f EthernetFrame
	copy(f.Dst[:], raw[0:6])
	copy(f.Src[:], raw[6:12])
	f.Type = EtherType(binary.BigEndian.Uint16(raw[12:14]))
	f.Payload = raw[14:]
	return f, true
}

// Encode serializes f back into a raw Ethernet II frame.
func (f EthernetFrame) Encode() []byte {
	out := make([]byte, EthernetHeaderLen+len(f.Payload))
	copy(out[0:6], f.Dst[:])
	copy(out[6:12], f.Src[:])
	binary.BigEndian.PutUint16(out[12:14], uint16(f.Type))
	copy(out[14:], f.Payload)
	return out
}
