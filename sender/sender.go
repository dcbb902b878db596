// SPDX-License-Identifier: GPL-3.0-or-later

// Package sender implements the publishing side of the bridge: it
// tracks a flattened table of channels, batches whatever changed since
// the last tick into as few datagrams as possible, fragments any
// value too large to inline, and re-marks silent channels on a
// heartbeat so a receiver's liveness timer never fires while the
// sender is still alive.
package sender

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/epics-diode/diode-go/config"
	"github.com/epics-diode/diode-go/valuehash"
	"github.com/epics-diode/diode-go/wire"
)

// Minimum periods a configuration's timing values are clamped to,
// protecting the loop against a misconfigured near-zero period.
const (
	MinUpdatePeriod             = 25 * time.Millisecond
	MinPolledFieldsUpdatePeriod = 3 * time.Second
	MinHeartbeatPeriod          = 100 * time.Millisecond
)

// Transport is the minimal send surface Sender needs; transport/udp's
// Sender satisfies it, and tests use an in-memory stand-in.
type Transport interface {
	Send(datagram []byte) error
}

// Sender tracks one flattened channel table and emits datagrams for
// whatever has changed.
type Sender struct {
	log *log.Entry

	updatePeriod             time.Duration
	polledFieldsUpdatePeriod time.Duration
	heartbeatPeriod          time.Duration
	pfIterations             uint64
	hbIterations             uint64

	source    Source
	transport Transport

	configHash  uint64
	startupTime uint64

	globalSeqNo uint32
	msgSeqNo    uint16

	sendBuffer []byte
	queue      *updateQueue
	channels   []*channel
	groups     []group  // groups[i] describes the bare channel at flat index i's parent group
	names      []string // names[i] is the upstream name this Sender asked the Source for
}

// New builds a Sender for cfg, wiring each flattened channel's
// subscription or poll against source and addressing outgoing
// datagrams through transport. startupTimeMillis should be the
// process's own start time in Unix milliseconds; it is advertised in
// every header so receivers can detect a sender restart.
func New(cfg config.Config, source Source, transport Transport, startupTimeMillis uint64) (*Sender, error) {
	s := &Sender{
		log:                      log.WithField("component", "sender"),
		updatePeriod:             clampMin(cfg.MinUpdatePeriod, MinUpdatePeriod),
		polledFieldsUpdatePeriod: clampMin(cfg.PolledFieldsUpdatePeriod, MinPolledFieldsUpdatePeriod),
		heartbeatPeriod:          clampMin(cfg.HeartbeatPeriod, MinHeartbeatPeriod),
		source:                   source,
		transport:                transport,
		configHash:               config.Hash(cfg),
		startupTime:              startupTimeMillis,
		sendBuffer:                make([]byte, wire.MaxMessageSize),
		queue:                    &updateQueue{},
	}
	s.pfIterations = iterationsFor(s.polledFieldsUpdatePeriod, s.updatePeriod)
	s.hbIterations = iterationsFor(s.heartbeatPeriod, s.updatePeriod)

	s.log.WithFields(log.Fields{
		"update_period":    s.updatePeriod,
		"heartbeat_period": s.heartbeatPeriod,
	}).Info("sender configured")

	if err := s.createChannels(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func clampMin(v, min time.Duration) time.Duration {
	if v < min {
		return min
	}
	return v
}

func iterationsFor(period, step time.Duration) uint64 {
	n := uint64((float64(period)/float64(step))+0.5)
	if n < 1 {
		n = 1
	}
	return n
}

// createChannels builds the flattened channel table and subscribes (or
// registers for polling) every entry, in the same order Flatten
// assigns wire indices.
func (s *Sender) createChannels(cfg config.Config) error {
	flat := config.Flatten(cfg)
	s.channels = make([]*channel, len(flat))
	s.groups = make([]group, len(flat))
	s.names = make([]string, len(flat))

	for _, fc := range flat {
		ch := &channel{
			index:       fc.Index,
			isPolled:    fc.Polled,
			queue:       s.queue,
		}
		if fc.Field == "" {
			ch.parentIndex = fc.Index
		} else {
			ch.parentIndex = s.channels[firstIndexOfChannel(flat, fc.Channel)].index
		}
		s.channels[fc.Index] = ch
	}
	for i, ch := range s.channels {
		if ch.isBare() {
			ch.parent = ch
		} else {
			ch.parent = s.channels[ch.parentIndex]
		}
		s.groups[i] = groupFor(flat, i)
	}

	for i, fc := range flat {
		ch := s.channels[i]
		name := fc.FullName(cfg)
		s.names[i] = name
		s.log.WithField("index", i).Debugf("creating channel %q", name)

		if ch.isPolled {
			continue // polled fields are read on a timer, not subscribed
		}

		bareField := fc.Field == ""
		unsub, err := s.source.Subscribe(name, bareField, s.onUpdate(ch))
		if err != nil {
			s.log.WithError(err).Errorf("failed to subscribe to %q", name)
			continue
		}
		ch.unsubscribe = unsub
	}
	return nil
}

func firstIndexOfChannel(flat []config.FlatChannel, channelOrdinal int) int {
	for i, fc := range flat {
		if fc.Channel == channelOrdinal && fc.Field == "" {
			return i
		}
	}
	return 0
}

func groupFor(flat []config.FlatChannel, index int) group {
	parent := flat[index].Channel
	start := index
	for start > 0 && flat[start-1].Channel == parent {
		start--
	}
	end := index
	for end+1 < len(flat) && flat[end+1].Channel == parent {
		end++
	}
	return group{startIndex: uint32(start), endIndex: uint32(end)}
}

// onUpdate returns the callback wired to ch's subscription or poll.
func (s *Sender) onUpdate(ch *channel) func(Update) {
	return func(u Update) {
		changed := ch.applyUpdate(u.Connected, u.Type, u.Count, u.Value, valuehash.Hash)
		if !u.Connected {
			ch.markUpdate()
			return
		}
		if changed {
			ch.markUpdate()
		}
	}
}

// Close cancels every live subscription.
func (s *Sender) Close() {
	for _, ch := range s.channels {
		if ch.unsubscribe != nil {
			ch.unsubscribe()
		}
	}
}

// Run drives the send loop on a ticker until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.updatePeriod)
	defer ticker.Stop()

	var iteration uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			iteration++
			if iteration%s.pfIterations == 0 {
				s.checkPolledFields()
			}
			if iteration%s.hbIterations == 0 {
				s.markHeartbeatUpdates()
			}
			if err := s.sendUpdates(); err != nil {
				return err
			}
		}
	}
}

func (s *Sender) checkPolledFields() {
	for i, ch := range s.channels {
		if !ch.isPolled {
			continue
		}
		if err := s.source.ReadOnce(s.names[i], s.onUpdate(ch)); err != nil {
			s.log.WithError(err).Debugf("poll failed for %q", s.names[i])
		}
	}
}

func (s *Sender) markHeartbeatUpdates() {
	var connected, marked int
	for _, ch := range s.channels {
		if !ch.isBare() {
			continue
		}
		if ch.markHeartbeatUpdate() {
			marked++
		}
		if c, _, _, _ := ch.snapshot(); c {
			connected++
		}
	}
	s.log.WithFields(log.Fields{
		"connected": connected,
		"stalled":   marked,
		"total":     len(s.channels),
	}).Debug("heartbeat check")
}

func (s *Sender) nextHeader() wire.Header {
	h := wire.Header{GlobalSeqNo: s.globalSeqNo, StartupTime: s.startupTime, ConfigHash: s.configHash}
	s.globalSeqNo++
	return h
}

// sendUpdates drains the update queue, packing as many whole channel
// groups as fit into successive datagrams, falling back to
// fragmentation for any single group too large to inline.
func (s *Sender) sendUpdates() error {
	for !s.queue.empty() {
		c := wire.NewCursor(s.sendBuffer)
		wire.WriteHeader(c, s.nextHeader())

		wire.WriteSubmessageHeader(c, wire.SubmessageHeader{ID: wire.DataMessage, Flags: wire.FlagLittleEndian})

		msgSeqNo := s.msgSeqNo
		s.msgSeqNo++
		dataHeaderPos := c.Pos()
		wire.WriteDataMessageHeader(c, wire.DataMessageHeader{MsgSeqNo: msgSeqNo})

		var updateCount uint16
		fragmentPending := false

		for {
			parentIndex, ok := s.queue.peek()
			if !ok {
				break
			}
			g := s.groups[parentIndex]
			groupSize := s.groupValueSize(g)

			if groupSize > wire.MaxInlineValueSize {
				fragmentPending = true
				break
			}
			if !s.fitsAligned(c, g) {
				break
			}

			for i := g.startIndex; i <= g.endIndex; i++ {
				ch := s.channels[i]
				connected, t, count, value := ch.snapshot()
				rec := wire.ChannelRecordHeader{ID: i, Type: uint16(t)}
				if connected {
					rec.Count = uint16(count)
				} else {
					rec.Count = wire.DisconnectedCount
				}
				wire.WriteChannelRecordHeader(c, rec)
				if connected {
					c.WriteBytes(value)
				}
				c.PadAlign(wire.Alignment)
				updateCount++
			}
			s.channels[parentIndex].clearUpdate()
		}

		rewrite := wire.NewCursor(s.sendBuffer[dataHeaderPos:])
		wire.WriteDataMessageHeader(rewrite, wire.DataMessageHeader{MsgSeqNo: msgSeqNo, ChannelCount: updateCount})

		total := c.Pos()
		if updateCount > 0 {
			if err := s.transport.Send(s.sendBuffer[:total]); err != nil {
				return err
			}
		}

		if fragmentPending {
			if err := s.sendFragmentedUpdates(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sender) groupValueSize(g group) int {
	size := 0
	for i := g.startIndex; i <= g.endIndex; i++ {
		_, _, _, value := s.channels[i].snapshot()
		size += len(value)
	}
	return size
}

// fitsAligned reports whether the whole group, plus per-record headers
// and 8-byte padding, still fits in the remaining space of c.
func (s *Sender) fitsAligned(c *wire.Cursor, g group) bool {
	total := 0
	for i := g.startIndex; i <= g.endIndex; i++ {
		_, _, _, value := s.channels[i].snapshot()
		recSize := wire.ChannelRecordHeaderSize + len(value)
		if rem := recSize % wire.Alignment; rem != 0 {
			recSize += wire.Alignment - rem
		}
		total += recSize
	}
	return c.Remaining() >= total
}

// sendFragmentedUpdates drains any channel groups at the front of the
// queue whose packed value no longer fits in a single datagram.
func (s *Sender) sendFragmentedUpdates() error {
	for {
		parentIndex, ok := s.queue.peek()
		if !ok {
			return nil
		}
		g := s.groups[parentIndex]
		if s.groupValueSize(g) <= wire.MaxInlineValueSize {
			return nil
		}
		if g.count() != 1 {
			// A multi-member group should never exceed the inline
			// budget on its own; only a single bare channel's value
			// is ever large enough to need fragmenting.
			s.channels[parentIndex].clearUpdate()
			continue
		}
		if err := s.sendFragmentedUpdate(s.channels[g.startIndex]); err != nil {
			return err
		}
		s.channels[parentIndex].clearUpdate()
	}
}

func (s *Sender) sendFragmentedUpdate(ch *channel) error {
	connected, t, count, value := ch.snapshot()
	if !connected {
		return nil
	}

	allFragsSeqNo := s.msgSeqNo
	s.msgSeqNo++
	var fragSeqNo uint16
	remaining := value

	for len(remaining) > 0 {
		c := wire.NewCursor(s.sendBuffer)
		wire.WriteHeader(c, s.nextHeader())
		wire.WriteSubmessageHeader(c, wire.SubmessageHeader{ID: wire.FragDataMessage, Flags: wire.FlagLittleEndian})

		fragHeaderPos := c.Pos()
		c.Advance(wire.FragMessageHeaderSize)

		maxFrag := c.Remaining()
		fragSize := len(remaining)
		if fragSize > maxFrag {
			fragSize = maxFrag
		}

		rewrite := wire.NewCursor(s.sendBuffer[fragHeaderPos:])
		wire.WriteFragMessageHeader(rewrite, wire.FragMessageHeader{
			MsgSeqNo:     allFragsSeqNo,
			FragSeqNo:    fragSeqNo,
			ChannelID:    ch.index,
			Count:        count,
			Type:         uint16(t),
			FragmentSize: uint16(fragSize),
		})
		fragSeqNo++

		c.WriteBytes(remaining[:fragSize])
		c.PadAlign(wire.Alignment)
		remaining = remaining[fragSize:]

		if err := s.transport.Send(c.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
