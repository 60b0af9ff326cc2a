// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netstack

import (
	"encoding/binary"
	"sync"
)

const ARPPacketLen = 28

// ARPOp is the ARP opcode.
type ARPOp uint16

const (
	ARPRequest ARPOp = 1
	ARPReply   ARPOp = 2
)

// ARPPacket is a decoded Ethernet ARP packet (IPv4-over-Ethernet only).
type ARPPacket struct {
	Op     ARPOp
	SrcMAC MAC
	SrcIP  IPv4Addr
	DstMAC MAC
	DstIP  IPv4Addr
}

// DecodeARP parses a 28-byte ARP packet.
func DecodeARP(raw []byte) (ARPPacket, bool) {
	if len(raw) < ARPPacketLen {
		return ARPPacket{}, false
	}
	htype := binary.BigEndian.Uint16(raw[0:2])
	ptype := binary.BigEndian.Uint16(raw[2:4])
	if htype != 1 || ptype != uint16(EtherTypeIPv4) {
		return ARPPacket{}, false
	}
	var p ARPPacket
	p.Op = ARPOp(binary.BigEndian.Uint16(raw[6:8]))
	copy(p.SrcMAC[:], raw[8:14])
	copy(p.SrcIP[:], raw[14:18])
	copy(p.DstMAC[:], raw[18:24])
	copy(p.DstIP[:], raw[24:28])
	return p, true
}

// Encode serializes an ARP packet (hlen=6, plen=4, IPv4-over-Ethernet).
func (p ARPPacket) Encode() []byte {
	out := make([]byte, ARPPacketLen)
	binary.BigEndian.PutUint16(out[0:2], 1)
	binary.BigEndian.PutUint16(out[2:4], uint16(EtherTypeIPv4))
	out[4] = 6
	out[5] = 4
	binary.BigEndian.PutUint16(out[6:8], uint16(p.Op))
	copy(out[8:14], p.SrcMAC[:])
	copy(out[14:18], p.SrcIP[:])
	copy(out[18:24], p.DstMAC[:])
	copy(out[24:28], p.DstIP[:])
	return out
}

// ARPCache maps resolved IPv4 addresses to hardware addresses.
type ARPCache struct {
	mu      sync.Mutex
	entries map[IPv4Addr]MAC
}

func NewARPCache() *ARPCache {
	return &ARPCache{entries: make(map[IPv4Addr]MAC)}
}

func (c *ARPCache) Update(ip IPv4Addr, mac MAC) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ip] = mac
}

func (c *ARPCache) Lookup(ip IPv4Addr) (MAC, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mac, ok := c.entries[ip]
	return mac, ok
}
