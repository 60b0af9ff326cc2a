// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netstack_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohos/kernel/pkg/netstack"
)

func testConfig() netstack.Config {
	return netstack.Config{
		MAC:     netstack.MAC{0x02, 0, 0, 0, 0, 1},
		IP:      netstack.IPv4Addr{10, 0, 0, 1},
		Netmask: netstack.IPv4Addr{255, 255, 255, 0},
		Gateway: netstack.IPv4Addr{10, 0, 0, 254},
	}
}

func TestARPRequestGetsAnswered(t *testing.T) {
	s, err := netstack.New(logr.Discard(), testConfig())
	require.NoError(t, err)

	peer := netstack.MAC{0x02, 0, 0, 0, 0, 2}
	peerIP := netstack.IPv4Addr{10, 0, 0, 2}
	req := netstack.ARPPacket{Op: netstack.ARPRequest, SrcMAC: peer, SrcIP: peerIP, DstIP: testConfig().IP}
	frame := netstack.EthernetFrame{Dst: netstack.MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, Src: peer, Type: netstack.EtherTypeARP, Payload: req.Encode()}

	s.HandleFrame(frame.Encode())

	tx := s.DrainTX()
	require.Len(t, tx, 1)
	reply, ok := netstack.DecodeEthernet(tx[0])
	require.True(t, ok)
	assert.Equal(t, netstack.EtherTypeARP, reply.Type)

	mac, ok := s.ARP().Lookup(peerIP)
	require.True(t, ok)
	assert.Equal(t, peer, mac)
}

func TestICMPEchoRequestGetsRepliedTo(t *testing.T) {
	s, err := netstack.New(logr.Discard(), testConfig())
	require.NoError(t, err)

	peer := netstack.MAC{0x02, 0, 0, 0, 0, 2}
	peerIP := netstack.IPv4Addr{10, 0, 0, 2}
	icmp := netstack.NewEchoRequest(1, 1, []byte("ping"))
	icmp[0] = netstack.ICMPTypeEchoRequest

	ipHdr := netstack.IPv4Header{TTL: 64, Proto: netstack.ProtoICMP, Src: peerIP, Dst: testConfig().IP}
	eth := netstack.EthernetFrame{Dst: testConfig().MAC, Src: peer, Type: netstack.EtherTypeIPv4, Payload: ipHdr.Encode(icmp)}

	s.HandleFrame(eth.Encode())

	tx := s.DrainTX()
	require.Len(t, tx, 1)
	replyEth, ok := netstack.DecodeEthernet(tx[0])
	require.True(t, ok)
	replyHdr, replyPayload, ok := netstack.DecodeIPv4(replyEth.Payload)
	require.True(t, ok)
	assert.Equal(t, netstack.ProtoICMP, replyHdr.Proto)
	assert.Equal(t, byte(netstack.ICMPTypeEchoReply), replyPayload[0])
}

func TestUDPDeliversToboundSocket(t *testing.T) {
	s, err := netstack.New(logr.Discard(), testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Sockets().Bind(6000))

	peerIP := netstack.IPv4Addr{10, 0, 0, 2}
	udp := netstack.UDPHeader{SrcPort: 7000, DstPort: 6000}.Encode([]byte("payload"))
	ipHdr := netstack.IPv4Header{TTL: 64, Proto: netstack.ProtoUDP, Src: peerIP, Dst: testConfig().IP}
	eth := netstack.EthernetFrame{Dst: testConfig().MAC, Src: netstack.MAC{0x02, 0, 0, 0, 0, 2}, Type: netstack.EtherTypeIPv4, Payload: ipHdr.Encode(udp)}

	s.HandleFrame(eth.Encode())

	got := s.Sockets().Drain(6000)
	require.Len(t, got, 1)
	assert.Equal(t, "payload", string(got[0].Data))
}

func TestSendUDPWithoutARPEntryEmitsRequestAndErrors(t *testing.T) {
	s, err := netstack.New(logr.Discard(), testConfig())
	require.NoError(t, err)

	err = s.SendUDP(netstack.IPv4Addr{10, 0, 0, 5}, 53, 12345, []byte("x"))
	assert.Error(t, err)

	tx := s.DrainTX()
	require.Len(t, tx, 1)
	f, ok := netstack.DecodeEthernet(tx[0])
	require.True(t, ok)
	assert.Equal(t, netstack.EtherTypeARP, f.Type)
}

func TestDHCPDiscoverOfferRequestAck(t *testing.T) {
	mac := netstack.MAC{0x02, 0, 0, 0, 0, 9}
	c := netstack.NewDHCPClient(mac, 0xABCD1234)

	discover := c.Discover()
	msg, ok := netstack.DecodeDHCP(discover)
	require.True(t, ok)
	assert.Equal(t, netstack.DHCPDiscover, msg.MessageType)

	offer := netstack.DHCPMessage{MessageType: netstack.DHCPOffer, XID: msg.XID, YourIP: netstack.IPv4Addr{10, 0, 0, 50}, ServerID: netstack.IPv4Addr{10, 0, 0, 1}}
	reqBytes := c.HandleOffer(offer)
	require.NotNil(t, reqBytes)
	assert.Equal(t, netstack.DHCPStateRequesting, c.State())

	ack := netstack.DHCPMessage{MessageType: netstack.DHCPAck, XID: msg.XID, YourIP: netstack.IPv4Addr{10, 0, 0, 50}}
	require.True(t, c.HandleAck(ack))
	assert.Equal(t, netstack.DHCPStateBound, c.State())
	assert.Equal(t, netstack.IPv4Addr{10, 0, 0, 50}, c.LeasedIP)
}

func TestPingSessionMatchesReplyByIDAndSeq(t *testing.T) {
	p := netstack.NewPingSession(netstack.IPv4Addr{10, 0, 0, 9}, 42)
	req := p.Send(100, []byte("abc"))
	assert.Equal(t, byte(netstack.ICMPTypeEchoRequest), req[0])

	reply, ok := netstack.EchoReply(req)
	require.True(t, ok)

	rtt, ok := p.HandleReply(105, reply)
	require.True(t, ok)
	assert.EqualValues(t, 5, rtt)
}

func TestPingSessionTimesOut(t *testing.T) {
	p := netstack.NewPingSession(netstack.IPv4Addr{10, 0, 0, 9}, 1)
	p.Send(0, nil)
	assert.True(t, p.TimedOut(10, 5))
}
