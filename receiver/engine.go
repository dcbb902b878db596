// SPDX-License-Identifier: GPL-3.0-or-later

package receiver

import (
	"sync"
	"time"

	"github.com/howeyc/crc16"
	log "github.com/sirupsen/logrus"

	"github.com/epics-diode/diode-go/dbr"
	"github.com/epics-diode/diode-go/wire"
)

// noFragmentSeqNo is the sentinel meaning "no fragment sequence is
// currently active", the Go equivalent of the original's (uint16_t)-1.
const noFragmentSeqNo uint16 = 0xFFFF

// fragmentCRCTable is used only for the debug-level integrity hint
// logged once a fragment group completes; it never gates acceptance.
var fragmentCRCTable = crc16.MakeTable(crc16.CCITT)

// engine holds the state that spans multiple datagrams for a single
// logical sender: fragment reassembly and per-channel liveness. It has
// no notion of datagram ordering; that is the receive loop's job,
// since only the loop can see held/duplicate/gapped packets.
type engine struct {
	log  *log.Entry
	sink Sink

	// statesMu guards channels against concurrent reads from Snapshot,
	// which callers may drive from a goroutine other than the one
	// running processPacketData/checkNoUpdates.
	statesMu sync.RWMutex
	channels []channelState

	activeFragmentSeqNo uint16
	lastFragmentSeqNo   uint16
	fragmentBuf         []byte
	fragmentFilled      int
	fragmentChannelID   uint32
	fragmentType        dbr.Type
	fragmentCount       uint32

	// currentProcessingSeqNo records the sub-message sequence number of
	// the most recently dispatched record or fragment group; it is only
	// written, nothing in this package reads it back.
	currentProcessingSeqNo uint16
}

func newEngine(channels []channelState, sink Sink) *engine {
	return &engine{
		log:                  log.WithField("component", "receiver"),
		sink:                 sink,
		channels:             channels,
		activeFragmentSeqNo:  noFragmentSeqNo,
		lastFragmentSeqNo:    noFragmentSeqNo,
	}
}

// processPacketData walks every sub-message in data (the datagram
// bytes past the packet header) and dispatches each complete channel
// record or completed fragment group to the sink.
func (e *engine) processPacketData(data []byte, now time.Time) {
	c := wire.NewCursor(data)

	for c.Remaining() >= wire.SubmessageHeaderSize {
		sub := wire.ReadSubmessageHeader(c)
		if sub.Flags&wire.FlagLittleEndian == 0 {
			e.log.Warn("only little-endian sub-messages are supported, dropping packet")
			return
		}

		payloadPos := c.Pos()

		switch sub.ID {
		case wire.DataMessage:
			e.processDataMessage(c, now)
		case wire.FragDataMessage:
			e.processFragDataMessage(c, now)
		default:
			e.log.Debugf("unknown sub-message id %d, skipping", sub.ID)
		}

		if sub.BytesToNextHeader == 0 {
			return
		}
		if !c.SetPos(payloadPos + int(sub.BytesToNextHeader)) {
			e.log.Warn("sub-message bytes_to_next_header out of bounds, dropping rest of packet")
			return
		}
	}
}

func (e *engine) processDataMessage(c *wire.Cursor, now time.Time) {
	if c.Remaining() < wire.DataMessageHeaderSize {
		return
	}
	dm := wire.ReadDataMessageHeader(c)

	for i := uint16(0); i < dm.ChannelCount; i++ {
		if c.Remaining() < wire.ChannelRecordHeaderSize {
			return
		}
		rec := wire.ReadChannelRecordHeader(c)
		disconnected := rec.Disconnected()

		if int(rec.ID) < len(e.channels) {
			e.statesMu.Lock()
			ch := &e.channels[rec.ID]
			ch.disconnected = disconnected
			ch.lastUpdateTime = now
			e.statesMu.Unlock()

			count := uint32(rec.Count)
			if disconnected {
				count = DisconnectedCount
			}

			var value []byte
			if !disconnected {
				size, err := dbr.SizeN(dbr.Type(rec.Type), uint32(rec.Count))
				if err == nil {
					value = c.ReadBytes(size)
				}
			}

			e.currentProcessingSeqNo = dm.MsgSeqNo
			e.dispatch(rec.ID, dbr.Type(rec.Type), count, value)
		} else if !disconnected {
			size, err := dbr.SizeN(dbr.Type(rec.Type), uint32(rec.Count))
			if err == nil {
				c.ReadBytes(size)
			}
		}

		c.PosAlign(wire.Alignment)
	}
}

func (e *engine) processFragDataMessage(c *wire.Cursor, now time.Time) {
	if c.Remaining() < wire.FragMessageHeaderSize {
		return
	}
	fh := wire.ReadFragMessageHeader(c)

	if !e.validateFragmentSequence(fh.MsgSeqNo, fh.FragSeqNo) {
		e.log.Debugf("fragment sequence mismatch (msg %d, fragment %d), dropping fragment", fh.MsgSeqNo, fh.FragSeqNo)
		c.ReadBytes(int(fh.FragmentSize))
		c.PosAlign(wire.Alignment)
		return
	}

	if int(fh.ChannelID) >= len(e.channels) {
		c.ReadBytes(int(fh.FragmentSize))
		c.PosAlign(wire.Alignment)
		return
	}

	if fh.FragSeqNo == 0 {
		total, err := dbr.SizeN(dbr.Type(fh.Type), fh.Count)
		if err != nil {
			c.ReadBytes(int(fh.FragmentSize))
			c.PosAlign(wire.Alignment)
			return
		}
		if cap(e.fragmentBuf) < total {
			e.fragmentBuf = make([]byte, total)
		}
		e.fragmentBuf = e.fragmentBuf[:total]
		e.fragmentFilled = 0
		e.fragmentChannelID = fh.ChannelID
		e.fragmentType = dbr.Type(fh.Type)
		e.fragmentCount = fh.Count
		e.log.Debugf("expecting %d total bytes of fragments for %q", total, e.channels[fh.ChannelID].name)
	}

	remaining := len(e.fragmentBuf) - e.fragmentFilled
	if int(fh.FragmentSize) > remaining {
		e.log.Debug("total fragment size out of bounds")
		c.ReadBytes(int(fh.FragmentSize))
		c.PosAlign(wire.Alignment)
		return
	}

	chunk := c.ReadBytes(int(fh.FragmentSize))
	copy(e.fragmentBuf[e.fragmentFilled:], chunk)
	e.fragmentFilled += int(fh.FragmentSize)
	c.PosAlign(wire.Alignment)

	if e.fragmentFilled == len(e.fragmentBuf) {
		e.log.WithField("crc16", crc16.Checksum(e.fragmentBuf, fragmentCRCTable)).Debug("fragment group complete")

		e.statesMu.Lock()
		ch := &e.channels[e.fragmentChannelID]
		ch.disconnected = false
		ch.lastUpdateTime = now
		e.statesMu.Unlock()

		e.currentProcessingSeqNo = fh.MsgSeqNo
		e.dispatch(e.fragmentChannelID, e.fragmentType, e.fragmentCount, e.fragmentBuf)
	}
}

// validateFragmentSequence mirrors the original fragment-sequence
// state machine: a new group starts at fragment zero, and every
// following fragment must belong to the same group and arrive exactly
// one past the last one seen.
func (e *engine) validateFragmentSequence(seqNo, fragSeqNo uint16) bool {
	if fragSeqNo == 0 {
		e.activeFragmentSeqNo = seqNo
		e.lastFragmentSeqNo = 0
		return true
	}
	if e.activeFragmentSeqNo != seqNo {
		e.activeFragmentSeqNo = noFragmentSeqNo
		return false
	}
	e.lastFragmentSeqNo++
	if e.lastFragmentSeqNo == fragSeqNo {
		return true
	}
	e.activeFragmentSeqNo = noFragmentSeqNo
	return false
}

// dispatch invokes the sink, converting a panic into a logged error so
// one bad channel's callback cannot abort the whole receive loop.
func (e *engine) dispatch(channelIndex uint32, t dbr.Type, count uint32, value []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("sink callback panicked for channel %d: %v", channelIndex, r)
		}
	}()
	e.sink.OnUpdate(channelIndex, t, count, value)
}
