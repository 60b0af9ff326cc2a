// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netstack

import (
	"encoding/binary"
	"sync"

	"github.com/rohos/kernel/pkg/errors"
	"github.com/rohos/kernel/pkg/internal/ring"
)

const UDPHeaderLen = 8

// UDPHeader is a decoded UDP header.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
}

// DecodeUDP parses raw as a UDP header plus payload.
func DecodeUDP(raw []byte) (UDPHeader, []byte, bool) {
	if len(raw) < UDPHeaderLen {
		return UDPHeader{}, nil, false
	}
	h := UDPHeader{
		SrcPort: binary.BigEndian.Uint16(raw[0:2]),
		DstPort: binary.BigEndian.Uint16(raw[2:4]),
	}
	length := binary.BigEndian.Uint16(raw[4:6])
	if int(length) > len(raw) || length < UDPHeaderLen {
		return UDPHeader{}, nil, false
	}
	return h, raw[UDPHeaderLen:length], true
}

// Encode serializes a UDP datagram. The checksum is left zero
// (optional over IPv4), matching a minimal hobby stack.
func (h UDPHeader) Encode(payload []byte) []byte {
	out := make([]byte, UDPHeaderLen+len(payload))
	binary.BigEndian.PutUint16(out[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(out[2:4], h.DstPort)
	binary.BigEndian.PutUint16(out[4:6], uint16(len(out)))
	binary.BigEndian.PutUint16(out[6:8], 0)
	copy(out[8:], payload)
	return out
}

// Datagram is one received UDP payload queued for a bound socket.
type Datagram struct {
	SrcIP   IPv4Addr
	SrcPort uint16
	Data    []byte
}

// SocketRingCapacity bounds each UDP socket's receive queue; excess
// datagrams are dropped (spec §4.7, "drop on overflow").
const SocketRingCapacity = 16

// Sockets is the small bound socket table UDP demuxes incoming
// datagrams against, one fixed-capacity ring per bound port.
type Sockets struct {
	mu    sync.Mutex
	ports map[uint16]*ring.Ring[Datagram]
}

func NewSockets() *Sockets {
	return &Sockets{ports: make(map[uint16]*ring.Ring[Datagram])}
}

// Bind reserves port, creating its receive ring if not already bound.
func (s *Sockets) Bind(port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ports[port]; ok {
		return errors.State("udp: port %d already bound", port)
	}
	r, err := ring.New[Datagram](SocketRingCapacity)
	if err != nil {
		return err
	}
	s.ports[port] = r
	return nil
}

func (s *Sockets) Unbind(port uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ports, port)
}

// Deliver enqueues dg on port's ring, if bound. Returns false if no
// socket is bound to that port (an ICMP port-unreachable in a fuller
// stack; this one just drops).
func (s *Sockets) Deliver(port uint16, dg Datagram) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ports[port]
	if !ok {
		return false
	}
	r.Push(dg)
	return true
}

// Drain returns and clears every datagram queued for port.
func (s *Sockets) Drain(port uint16) []Datagram {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ports[port]
	if !ok {
		return nil
	}
	out := r.GetAll()
	r.Clear()
	return out
}
