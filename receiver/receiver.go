// SPDX-License-Identifier: GPL-3.0-or-later

// Package receiver implements the subscribing side of the bridge: it
// reconstructs a strictly-ordered update stream out of a lossy,
// reordering, duplicating UDP feed, reassembles fragmented values, and
// dispatches whole channel updates into a Sink, entirely without ever
// talking back to the sender.
package receiver

import (
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/epics-diode/diode-go/config"
	"github.com/epics-diode/diode-go/wire"
)

// noGlobalSeqNo is the sentinel meaning "no packet processed yet",
// the Go equivalent of the original's (uint32_t)-1.
const noGlobalSeqNo uint32 = 0xFFFFFFFF

// maxPacketsPerIteration bounds how many datagrams the loop drains
// before re-checking housekeeping (liveness), so a sender running
// flat-out can never starve the disconnect timer.
const maxPacketsPerIteration = 100

// Transport is the minimal receive surface Receiver needs;
// transport/udp's Receiver satisfies it. Returning (0, nil, err) with a
// timeout error is the expected idle case, not a failure.
type Transport interface {
	Receive(buf []byte) (n int, from net.Addr, err error)
}

// Receiver reconstructs one logical sender's update stream and
// dispatches it to a Sink.
type Receiver struct {
	log *log.Entry

	configHash      uint64
	heartbeatPeriod time.Duration

	transport Transport
	engine    *engine

	primary []byte
	held    []byte
	heldLen int
	heldSeq uint32

	lastGlobalSeqNo uint32
	lastStartupTime uint64

	lastHeartbeatCheck time.Time
}

// New builds a Receiver for cfg, reading datagrams from transport and
// dispatching reconstructed updates to sink.
func New(cfg config.Config, transport Transport, sink Sink) *Receiver {
	return &Receiver{
		log:                log.WithField("component", "receiver"),
		configHash:         config.Hash(cfg),
		heartbeatPeriod:     cfg.HeartbeatPeriod,
		transport:          transport,
		engine:             newEngine(buildChannelStates(cfg), sink),
		primary:            make([]byte, wire.MaxMessageSize),
		held:               make([]byte, wire.MaxMessageSize),
		lastGlobalSeqNo:    noGlobalSeqNo,
		lastHeartbeatCheck: time.Time{},
	}
}

// Run drives the receive loop until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	r.lastHeartbeatCheck = time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		budget := maxPacketsPerIteration
		for budget > 0 && r.receiveOne() {
			budget--
		}

		r.checkNoUpdates(time.Now())
	}
}

// receiveOne reads and processes at most one datagram, returning
// whether one was actually available.
func (r *Receiver) receiveOne() bool {
	n, from, err := r.transport.Receive(r.primary)
	if err != nil || n <= 0 {
		return false
	}
	r.ingest(r.primary[:n], from, time.Now())
	return true
}

// ingest implements the reorder buffer: validate the header, track
// sender identity, then decide whether to process this packet now,
// hold it for one slot waiting on a still-missing predecessor, or drop
// it as old or duplicate.
func (r *Receiver) ingest(data []byte, from net.Addr, now time.Time) {
	c := wire.NewCursor(data)
	header, validMagic := wire.ReadHeader(c)
	if !validMagic || !c.Good() {
		r.log.WithField("from", from).Warn("invalid header received")
		return
	}

	if header.ConfigHash != r.configHash {
		r.log.WithField("from", from).Warn("configuration mismatch with sender")
		return
	}

	if !r.validateSender(header.StartupTime) {
		r.log.WithField("from", from).Warn("rejecting older sender, multiple senders detected")
		return
	}

	globalSeqNo := header.GlobalSeqNo
	payload := data[wire.HeaderSize:]

	if r.lastGlobalSeqNo == noGlobalSeqNo {
		r.lastGlobalSeqNo = globalSeqNo
		r.engine.processPacketData(payload, now)
		return
	}

	expected := r.lastGlobalSeqNo + 1

	if int32(globalSeqNo-r.lastGlobalSeqNo) <= 0 {
		r.log.Debugf("dropped old/duplicate packet: seq %d (expected > %d)", globalSeqNo, r.lastGlobalSeqNo)
		return
	}

	if globalSeqNo == expected {
		r.engine.processPacketData(payload, now)
		if r.heldLen > 0 {
			r.engine.processPacketData(r.held[wire.HeaderSize:r.heldLen], now)
			r.lastGlobalSeqNo = r.heldSeq
			r.heldLen = 0
		} else {
			r.lastGlobalSeqNo = globalSeqNo
		}
		return
	}

	if globalSeqNo == expected+1 && r.heldLen == 0 {
		if cap(r.held) < len(data) {
			r.held = make([]byte, len(data))
		}
		r.held = r.held[:len(data)]
		copy(r.held, data)
		r.heldLen = len(data)
		r.heldSeq = globalSeqNo
		return
	}

	if r.heldLen > 0 && globalSeqNo == r.heldSeq {
		return // duplicate of the held packet
	}

	r.log.Infof("gap detected: lost %d packet(s) (%d-%d)", globalSeqNo-expected, expected, globalSeqNo-1)
	if r.heldLen > 0 {
		r.engine.processPacketData(r.held[wire.HeaderSize:r.heldLen], now)
		r.heldLen = 0
	}
	r.engine.processPacketData(payload, now)
	r.lastGlobalSeqNo = globalSeqNo
}

// validateSender implements sender-identity tracking: a strictly newer
// startup time means the sender restarted, so ordering state resets; a
// strictly older one means this is a stale sender sharing the
// multicast group, whose packets are rejected outright.
func (r *Receiver) validateSender(startupTime uint64) bool {
	switch {
	case startupTime == r.lastStartupTime:
		return true
	case startupTime > r.lastStartupTime:
		r.lastStartupTime = startupTime
		r.lastGlobalSeqNo = noGlobalSeqNo
		return true
	default:
		return false
	}
}

// checkNoUpdates synthesizes a disconnect callback for any channel
// that has produced no update for two full heartbeat periods, run at
// most once per heartbeat period itself.
func (r *Receiver) checkNoUpdates(now time.Time) {
	if r.heartbeatPeriod <= 0 || now.Sub(r.lastHeartbeatCheck) < r.heartbeatPeriod {
		return
	}

	invalidateAfter := 2 * r.heartbeatPeriod
	for i := range r.engine.channels {
		r.engine.statesMu.Lock()
		ch := &r.engine.channels[i]
		expired := !ch.disconnected && now.Sub(ch.lastUpdateTime) >= invalidateAfter
		if expired {
			ch.disconnected = true
		}
		r.engine.statesMu.Unlock()

		if expired {
			r.engine.dispatch(uint32(i), 0, DisconnectedCount, nil)
		}
	}

	r.lastHeartbeatCheck = now
}
