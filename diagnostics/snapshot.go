// SPDX-License-Identifier: GPL-3.0-or-later

// Package diagnostics exports a point-in-time snapshot of a receiver's
// channel table for operational tooling, entirely off the wire path:
// it is CBOR-encoded, optionally xz-compressed for archival, and never
// touches the UDP transport or the sender.
package diagnostics

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
	"github.com/ulikunitz/xz"

	"github.com/epics-diode/diode-go/receiver"
)

// ChannelSnapshot is one channel's exported liveness record.
type ChannelSnapshot struct {
	Index          uint32
	Name           string
	Disconnected   bool
	LastUpdateTime time.Time
}

// Snapshot is a full channel table export, stamped with the time it
// was taken.
type Snapshot struct {
	TakenAt  time.Time
	Channels []ChannelSnapshot
}

// Capture builds a Snapshot from a running Receiver's current state.
func Capture(r *receiver.Receiver, now time.Time) Snapshot {
	statuses := r.Snapshot()
	channels := make([]ChannelSnapshot, len(statuses))
	for i, s := range statuses {
		channels[i] = ChannelSnapshot{
			Index:          s.Index,
			Name:           s.Name,
			Disconnected:   s.Disconnected,
			LastUpdateTime: s.LastUpdateTime,
		}
	}
	return Snapshot{TakenAt: now, Channels: channels}
}

// MarshalCbor writes s as a two-element CBOR array: the capture time
// as a Unix-nanosecond uint, followed by an array of per-channel
// records.
func (s *Snapshot) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(s.TakenAt.UnixNano()), w); err != nil {
		return err
	}

	if err := cboring.WriteArrayLength(uint64(len(s.Channels)), w); err != nil {
		return err
	}
	for i := range s.Channels {
		if err := s.Channels[i].MarshalCbor(w); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalCbor reads a Snapshot written by MarshalCbor.
func (s *Snapshot) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("diagnostics: expected a 2-element snapshot array, got %d", l)
	}

	takenAtNanos, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	s.TakenAt = time.Unix(0, int64(takenAtNanos)).UTC()

	count, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}

	s.Channels = make([]ChannelSnapshot, count)
	for i := range s.Channels {
		if err := s.Channels[i].UnmarshalCbor(r); err != nil {
			return err
		}
	}
	return nil
}

// MarshalCbor writes cs as a five-element CBOR array. LastUpdateTime is
// guarded by an explicit "has a value" flag rather than relying on
// time.Time's zero value surviving a UnixNano round trip, which it
// does not: a never-updated channel's zero Time predates what int64
// nanoseconds can represent.
func (cs *ChannelSnapshot) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(5, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(cs.Index), w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(cs.Name, w); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(cs.Disconnected, w); err != nil {
		return err
	}

	hasLastUpdate := !cs.LastUpdateTime.IsZero()
	if err := cboring.WriteBoolean(hasLastUpdate, w); err != nil {
		return err
	}
	if !hasLastUpdate {
		return cboring.WriteUInt(0, w)
	}
	return cboring.WriteUInt(uint64(cs.LastUpdateTime.UnixNano()), w)
}

// UnmarshalCbor reads a ChannelSnapshot written by MarshalCbor.
func (cs *ChannelSnapshot) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 5 {
		return fmt.Errorf("diagnostics: expected a 5-element channel record array, got %d", l)
	}

	index, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	cs.Index = uint32(index)

	cs.Name, err = cboring.ReadTextString(r)
	if err != nil {
		return err
	}

	cs.Disconnected, err = cboring.ReadBoolean(r)
	if err != nil {
		return err
	}

	hasLastUpdate, err := cboring.ReadBoolean(r)
	if err != nil {
		return err
	}

	lastUpdate, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	if hasLastUpdate {
		cs.LastUpdateTime = time.Unix(0, int64(lastUpdate)).UTC()
	} else {
		cs.LastUpdateTime = time.Time{}
	}

	return nil
}

// Export encodes s as CBOR and compresses it with xz, producing a
// self-contained archival blob.
func Export(s *Snapshot) ([]byte, error) {
	var cbor bytes.Buffer
	if err := s.MarshalCbor(&cbor); err != nil {
		return nil, fmt.Errorf("diagnostics: encode snapshot: %w", err)
	}

	var compressed bytes.Buffer
	xzW, err := xz.NewWriter(&compressed)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: open xz writer: %w", err)
	}
	if _, err := xzW.Write(cbor.Bytes()); err != nil {
		return nil, fmt.Errorf("diagnostics: compress snapshot: %w", err)
	}
	if err := xzW.Close(); err != nil {
		return nil, fmt.Errorf("diagnostics: finish compression: %w", err)
	}

	return compressed.Bytes(), nil
}

// Import decompresses and decodes a blob produced by Export.
func Import(blob []byte) (Snapshot, error) {
	xzR, err := xz.NewReader(bytes.NewReader(blob))
	if err != nil {
		return Snapshot{}, fmt.Errorf("diagnostics: open xz reader: %w", err)
	}

	var s Snapshot
	if err := s.UnmarshalCbor(xzR); err != nil {
		return Snapshot{}, fmt.Errorf("diagnostics: decode snapshot: %w", err)
	}
	return s, nil
}
