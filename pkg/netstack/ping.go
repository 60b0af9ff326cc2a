// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netstack

import "github.com/rohos/kernel/pkg/errors"

// PingSession tracks one outstanding ICMP echo request/reply round
// trip for the userland ping command (a feature the distilled call
// table omits but the original shell-and-tools layer provides).
type PingSession struct {
	dst      IPv4Addr
	id       uint16
	seq      uint16
	sentTick uint64
	pending  bool
}

// NewPingSession creates a session targeting dst, identified by id for
// demuxing replies against other concurrent sessions.
func NewPingSession(dst IPv4Addr, id uint16) *PingSession {
	return &PingSession{dst: dst, id: id}
}

// Send builds the next echo request and records it as pending at the
// given tick.
func (p *PingSession) Send(now uint64, payload []byte) []byte {
	p.seq++
	p.sentTick = now
	p.pending = true
	return NewEchoRequest(p.id, p.seq, payload)
}

// HandleReply matches an inbound ICMP message against the pending
// request: it must be an echo reply, carry this session's id, and
// match the outstanding sequence number. Returns the round-trip tick
// count on a match.
func (p *PingSession) HandleReply(now uint64, icmp []byte) (rtt uint64, ok bool) {
	if !p.pending || len(icmp) < ICMPHeaderLen || icmp[0] != ICMPTypeEchoReply {
		return 0, false
	}
	gotID := uint16(icmp[4])<<8 | uint16(icmp[5])
	gotSeq := uint16(icmp[6])<<8 | uint16(icmp[7])
	if gotID != p.id || gotSeq != p.seq {
		return 0, false
	}
	p.pending = false
	return now - p.sentTick, true
}

// TimedOut reports whether the pending request has aged past
// deadlineTicks without a reply.
func (p *PingSession) TimedOut(now, deadlineTicks uint64) bool {
	return p.pending && now-p.sentTick >= deadlineTicks
}

// ErrTimeout is returned by callers that wrap TimedOut into an error
// path (the ping command surfaces this as "Request timed out").
var ErrTimeout = errors.IO("netstack: ping request timed out")
