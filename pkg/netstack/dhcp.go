// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netstack

import (
	"encoding/binary"

	"github.com/rohos/kernel/pkg/errors"
)

// DHCPFixedLen is the fixed DHCP header, 236 bytes; the 4-byte magic
// cookie follows it (spec "Wire formats (network)").
const DHCPFixedLen = 236

var dhcpMagicCookie = [4]byte{99, 130, 83, 99}

// DHCPOp is BOOTREQUEST or BOOTREPLY.
type DHCPOp uint8

const (
	DHCPBootRequest DHCPOp = 1
	DHCPBootReply   DHCPOp = 2
)

// DHCPMessageType is option 53's value.
type DHCPMessageType uint8

const (
	DHCPDiscover DHCPMessageType = 1
	DHCPOffer    DHCPMessageType = 2
	DHCPRequest  DHCPMessageType = 3
	DHCPAck      DHCPMessageType = 5
)

const (
	optMessageType = 53
	optEnd         = 255
)

// DHCPClientPort and DHCPServerPort are the well-known DHCP UDP ports.
const (
	DHCPClientPort = 68
	DHCPServerPort = 67
)

// DHCPMessage is a decoded-enough view of a DHCP packet: the fields
// this client state machine actually inspects, plus the offered lease
// fields a server response carries.
type DHCPMessage struct {
	Op          DHCPOp
	XID         uint32
	YourIP      IPv4Addr
	MessageType DHCPMessageType
	ServerID    IPv4Addr
}

// EncodeDHCP builds a minimal DHCP message: fixed header, magic
// cookie, and a message-type option terminated by the end option.
func EncodeDHCP(op DHCPOp, xid uint32, yourIP, clientIP IPv4Addr, clientMAC MAC, msgType DHCPMessageType) []byte {
	out := make([]byte, DHCPFixedLen+4+4)
	out[0] = byte(op)
	out[1] = 1 // htype: ethernet
	out[2] = 6 // hlen
	out[3] = 0 // hops
	binary.BigEndian.PutUint32(out[4:8], xid)
	copy(out[16:20], yourIP[:])
	copy(out[12:16], clientIP[:])
	copy(out[28:34], clientMAC[:])
	copy(out[236:240], dhcpMagicCookie[:])
	out[240] = optMessageType
	out[241] = 1
	out[242] = byte(msgType)
	out[243] = optEnd
	return out
}

// DecodeDHCP parses the fixed header and scans options for the
// message-type (53) and server-identifier (54) options.
func DecodeDHCP(raw []byte) (DHCPMessage, bool) {
	if len(raw) < DHCPFixedLen+4 {
		return DHCPMessage{}, false
	}
	var m DHCPMessage
	m.Op = DHCPOp(raw[0])
	m.XID = binary.BigEndian.Uint32(raw[4:8])
	copy(m.YourIP[:], raw[16:20])

	opts := raw[DHCPFixedLen+4:]
	for i := 0; i < len(opts); {
		code := opts[i]
		if code == optEnd || code == 0 {
			break
		}
		if i+1 >= len(opts) {
			break
		}
		length := int(opts[i+1])
		if i+2+length > len(opts) {
			break
		}
		val := opts[i+2 : i+2+length]
		switch code {
		case optMessageType:
			if length == 1 {
				m.MessageType = DHCPMessageType(val[0])
			}
		case 54:
			if length == 4 {
				copy(m.ServerID[:], val)
			}
		}
		i += 2 + length
	}
	return m, true
}

// DHCPClientState is the client's position in the DISCOVER/OFFER/
// REQUEST/ACK exchange.
type DHCPClientState int

const (
	DHCPStateInit DHCPClientState = iota
	DHCPStateSelecting
	DHCPStateRequesting
	DHCPStateBound
)

// DHCPClient drives the lease-acquisition handshake. It does not own
// timing; the caller polls it with received messages and decides when
// a deadline has elapsed (spec §5: "DHCP and ping use kernel-mode
// polling loops with their own deadlines").
type DHCPClient struct {
	mac   MAC
	xid   uint32
	state DHCPClientState

	OfferedIP IPv4Addr
	ServerIP  IPv4Addr
	LeasedIP  IPv4Addr
}

func NewDHCPClient(mac MAC, xid uint32) *DHCPClient {
	return &DHCPClient{mac: mac, xid: xid, state: DHCPStateInit}
}

// Discover builds the initial DISCOVER message and moves to SELECTING.
func (c *DHCPClient) Discover() []byte {
	c.state = DHCPStateSelecting
	return EncodeDHCP(DHCPBootRequest, c.xid, IPv4Addr{}, IPv4Addr{}, c.mac, DHCPDiscover)
}

// HandleOffer processes a received OFFER while SELECTING and returns
// the REQUEST message to send, or nil if msg wasn't a usable offer.
func (c *DHCPClient) HandleOffer(msg DHCPMessage) []byte {
	if c.state != DHCPStateSelecting || msg.MessageType != DHCPOffer || msg.XID != c.xid {
		return nil
	}
	c.OfferedIP = msg.YourIP
	c.ServerIP = msg.ServerID
	c.state = DHCPStateRequesting
	return EncodeDHCP(DHCPBootRequest, c.xid, IPv4Addr{}, IPv4Addr{}, c.mac, DHCPRequest)
}

// HandleAck processes a received ACK while REQUESTING and transitions
// to BOUND, recording the leased address.
func (c *DHCPClient) HandleAck(msg DHCPMessage) bool {
	if c.state != DHCPStateRequesting || msg.MessageType != DHCPAck || msg.XID != c.xid {
		return false
	}
	c.LeasedIP = msg.YourIP
	c.state = DHCPStateBound
	return true
}

func (c *DHCPClient) State() DHCPClientState { return c.state }

// Await reports whether the lease negotiation is finished: nil once
// Bound, a RetryableError while now is still before deadline (the
// caller should keep polling), or a plain, non-retryable error once
// the deadline has elapsed with no lease — the caller's cue to fall
// back to static configuration (spec §4.7: "falls back to hard-coded
// static config if timeout elapses").
func (c *DHCPClient) Await(now, deadline uint64) error {
	if c.state == DHCPStateBound {
		return nil
	}
	if now < deadline {
		return errors.NewRetryable("dhcp: lease not yet acquired")
	}
	return errors.State("dhcp: no lease acquired before deadline (tick %d)", deadline)
}

// DHCPNegotiator drives the DISCOVER/OFFER/REQUEST/ACK exchange over a
// Stack's bound client port, racing a tick deadline (spec §4.7, §5
// "DHCP ... use kernel-mode polling loops with their own deadlines").
type DHCPNegotiator struct {
	stack    *Stack
	client   *DHCPClient
	deadline uint64
	started  bool
}

// NewDHCPNegotiator binds the well-known DHCP client port on stack and
// prepares to negotiate a lease for mac, giving up after deadline
// ticks (as measured by the now passed to Poll).
func NewDHCPNegotiator(stack *Stack, mac MAC, xid uint32, deadline uint64) (*DHCPNegotiator, error) {
	if err := stack.sockets.Bind(DHCPClientPort); err != nil {
		return nil, err
	}
	return &DHCPNegotiator{stack: stack, client: NewDHCPClient(mac, xid), deadline: deadline}, nil
}

// Poll advances the negotiation by one step: the first call broadcasts
// DISCOVER; every call drains whatever OFFER/ACK messages have arrived
// on the client port and feeds them to the DHCPClient state machine,
// broadcasting REQUEST in response to a usable OFFER. It returns
// whatever DHCPClient.Await returns for now.
func (n *DHCPNegotiator) Poll(now uint64) error {
	if !n.started {
		n.started = true
		n.stack.sendBroadcastUDP(DHCPServerPort, DHCPClientPort, n.client.Discover())
	}

	for _, dg := range n.stack.sockets.Drain(DHCPClientPort) {
		msg, ok := DecodeDHCP(dg.Data)
		if !ok {
			continue
		}
		if req := n.client.HandleOffer(msg); req != nil {
			n.stack.sendBroadcastUDP(DHCPServerPort, DHCPClientPort, req)
			continue
		}
		n.client.HandleAck(msg)
	}

	return n.client.Await(now, n.deadline)
}

// Lease returns the negotiated address and the server that offered it.
// Only meaningful once Poll has returned nil.
func (n *DHCPNegotiator) Lease() (ip, server IPv4Addr) {
	return n.client.LeasedIP, n.client.ServerIP
}

// Close unbinds the negotiator's client port.
func (n *DHCPNegotiator) Close() {
	n.stack.sockets.Unbind(DHCPClientPort)
}
