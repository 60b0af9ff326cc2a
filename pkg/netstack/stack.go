// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netstack

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/rohos/kernel/pkg/errors"
	"github.com/rohos/kernel/pkg/internal/ring"
)

func errARPMiss(ip IPv4Addr) error {
	return errors.State("netstack: arp cache miss for %s, request sent", fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3]))
}

// RingCapacity bounds the NIC RX/TX rings; a full ring drops the
// oldest frame rather than blocking the IRQ path (spec §4.7/§5).
const RingCapacity = 64

// Config describes this stack's own identity.
type Config struct {
	MAC     MAC
	IP      IPv4Addr
	Netmask IPv4Addr
	Gateway IPv4Addr
}

// Stack is the summarized network stack: Ethernet/ARP/IPv4/ICMP/UDP
// RX demux and a routing-aware TX path, built on the same
// overwrite-oldest ring used elsewhere in the kernel for bounded,
// IRQ-fed queues.
type Stack struct {
	mu sync.Mutex

	logger  logr.Logger
	cfg     Config
	arp     *ARPCache
	sockets *Sockets

	rx *ring.Ring[[]byte]
	tx *ring.Ring[[]byte]
}

// New creates a Stack for the given identity.
func New(logger logr.Logger, cfg Config) (*Stack, error) {
	rx, err := ring.New[[]byte](RingCapacity)
	if err != nil {
		return nil, err
	}
	tx, err := ring.New[[]byte](RingCapacity)
	if err != nil {
		return nil, err
	}
	return &Stack{
		logger:  logger.WithName("netstack"),
		cfg:     cfg,
		arp:     NewARPCache(),
		sockets: NewSockets(),
		rx:      rx,
		tx:      tx,
	}, nil
}

func (s *Stack) Sockets() *Sockets { return s.sockets }
func (s *Stack) ARP() *ARPCache    { return s.arp }

// DrainTX returns and clears every frame queued for transmit, for the
// driver layer (or a test harness) to actually put on the wire.
func (s *Stack) DrainTX() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.tx.GetAll()
	s.tx.Clear()
	return out
}

func (s *Stack) queueTX(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx.Push(frame)
}

// HandleFrame is the RX path: the NIC IRQ handler calls this once per
// received frame. It validates the Ethernet header, demuxes by
// ethertype, and answers ARP/ICMP in place where the protocol calls
// for it.
func (s *Stack) HandleFrame(raw []byte) {
	eth, ok := DecodeEthernet(raw)
	if !ok {
		return
	}
	switch eth.Type {
	case EtherTypeARP:
		s.handleARP(eth)
	case EtherTypeIPv4:
		s.handleIPv4(eth)
	}
}

func (s *Stack) handleARP(eth EthernetFrame) {
	pkt, ok := DecodeARP(eth.Payload)
	if !ok {
		return
	}
	s.arp.Update(pkt.SrcIP, pkt.SrcMAC)

	if pkt.Op == ARPRequest && pkt.DstIP == s.cfg.IP {
		reply := ARPPacket{
			Op:     ARPReply,
			SrcMAC: s.cfg.MAC,
			SrcIP:  s.cfg.IP,
			DstMAC: pkt.SrcMAC,
			DstIP:  pkt.SrcIP,
		}
		out := EthernetFrame{Dst: pkt.SrcMAC, Src: s.cfg.MAC, Type: EtherTypeARP, Payload: reply.Encode()}
		s.queueTX(out.Encode())
	}
}

func (s *Stack) handleIPv4(eth EthernetFrame) {
	hdr, payload, ok := DecodeIPv4(eth.Payload)
	if !ok {
		return
	}
	if hdr.Dst != s.cfg.IP && !hdr.Dst.IsBroadcast() {
		return
	}

	switch hdr.Proto {
	case ProtoICMP:
		s.handleICMP(eth.Src, hdr, payload)
	case ProtoUDP:
		s.handleUDP(hdr, payload)
	}
}

func (s *Stack) handleICMP(srcMAC MAC, hdr IPv4Header, payload []byte) {
	reply, ok := EchoReply(payload)
	if !ok {
		return
	}
	replyIP := IPv4Header{TTL: 64, Proto: ProtoICMP, Src: s.cfg.IP, Dst: hdr.Src}
	out := EthernetFrame{Dst: srcMAC, Src: s.cfg.MAC, Type: EtherTypeIPv4, Payload: replyIP.Encode(reply)}
	s.queueTX(out.Encode())
}

func (s *Stack) handleUDP(hdr IPv4Header, payload []byte) {
	udpHdr, udpPayload, ok := DecodeUDP(payload)
	if !ok {
		return
	}
	s.sockets.Deliver(udpHdr.DstPort, Datagram{SrcIP: hdr.Src, SrcPort: udpHdr.SrcPort, Data: udpPayload})
}

// sameSubnet reports whether ip is on this stack's local network.
func (s *Stack) sameSubnet(ip IPv4Addr) bool {
	for i := 0; i < 4; i++ {
		if (ip[i] & s.cfg.Netmask[i]) != (s.cfg.IP[i] & s.cfg.Netmask[i]) {
			return false
		}
	}
	return true
}

// nextHop picks the ARP target for a packet bound for dst: dst itself
// if on-link, else the default gateway.
func (s *Stack) nextHop(dst IPv4Addr) IPv4Addr {
	if s.sameSubnet(dst) {
		return dst
	}
	return s.cfg.Gateway
}

// SendUDP builds and queues a UDP datagram to dstIP:dstPort. An ARP
// cache miss on the next hop emits a request instead of the packet
// and returns an error; the caller (pipe/socket layer) is expected to
// retry once the cache is populated by the resulting reply.
func (s *Stack) SendUDP(dstIP IPv4Addr, dstPort, srcPort uint16, payload []byte) error {
	hop := s.nextHop(dstIP)
	mac, ok := s.arp.Lookup(hop)
	if !ok {
		s.sendARPRequest(hop)
		return errARPMiss(hop)
	}

	udp := UDPHeader{SrcPort: srcPort, DstPort: dstPort}.Encode(payload)
	ip := IPv4Header{TTL: 64, Proto: ProtoUDP, Src: s.cfg.IP, Dst: dstIP}.Encode(udp)
	eth := EthernetFrame{Dst: mac, Src: s.cfg.MAC, Type: EtherTypeIPv4, Payload: ip}
	s.queueTX(eth.Encode())
	return nil
}

// sendBroadcastUDP queues a UDP datagram addressed to the all-ones
// broadcast MAC and IP, bypassing ARP entirely: used for DHCP
// DISCOVER/REQUEST, which are sent before the client has a usable
// source address to resolve a server's hardware address against.
func (s *Stack) sendBroadcastUDP(dstPort, srcPort uint16, payload []byte) {
	s.mu.Lock()
	srcIP, srcMAC := s.cfg.IP, s.cfg.MAC
	s.mu.Unlock()

	udp := UDPHeader{SrcPort: srcPort, DstPort: dstPort}.Encode(payload)
	ip := IPv4Header{TTL: 64, Proto: ProtoUDP, Src: srcIP, Dst: IPv4Addr{255, 255, 255, 255}}.Encode(udp)
	eth := EthernetFrame{Dst: MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, Src: srcMAC, Type: EtherTypeIPv4, Payload: ip}
	s.queueTX(eth.Encode())
}

// SetIP updates the stack's own IPv4 address, e.g. once a DHCP lease
// has been acquired.
func (s *Stack) SetIP(ip IPv4Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.IP = ip
}

func (s *Stack) sendARPRequest(target IPv4Addr) {
	req := ARPPacket{Op: ARPRequest, SrcMAC: s.cfg.MAC, SrcIP: s.cfg.IP, DstMAC: MAC{}, DstIP: target}
	eth := EthernetFrame{Dst: MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, Src: s.cfg.MAC, Type: EtherTypeARP, Payload: req.Encode()}
	s.queueTX(eth.Encode())
}
