// SPDX-License-Identifier: GPL-3.0-or-later

package wire

// DisconnectedCount is the in-band marker carried in a ChannelRecord's
// Count field to signal that a channel went disconnected; the record
// then carries no value bytes.
const DisconnectedCount uint16 = 0xFFFF

// DisconnectedSinkCount is the corresponding marker passed across the
// sink boundary (§6.2), widened to 32 bits.
const DisconnectedSinkCount uint32 = 0xFFFFFFFF

// DataMessageHeaderSize is the fixed size of a CA_DATA_MESSAGE payload's
// own header, ahead of its channel records.
const DataMessageHeaderSize = 4

// DataMessageHeader is the payload header of a DataMessage sub-message.
type DataMessageHeader struct {
	MsgSeqNo     uint16
	ChannelCount uint16
}

// WriteDataMessageHeader writes h at the cursor's current position.
func WriteDataMessageHeader(c *Cursor, h DataMessageHeader) {
	c.WriteUint16(h.MsgSeqNo)
	c.WriteUint16(h.ChannelCount)
}

// ReadDataMessageHeader reads a DataMessageHeader at the cursor's current
// position.
func ReadDataMessageHeader(c *Cursor) DataMessageHeader {
	return DataMessageHeader{
		MsgSeqNo:     c.ReadUint16(),
		ChannelCount: c.ReadUint16(),
	}
}

// ChannelRecordHeaderSize is the fixed size of a channel record's header,
// ahead of its value bytes.
const ChannelRecordHeaderSize = 8

// ChannelRecordHeader is one channel record's header inside a
// CA_DATA_MESSAGE payload.
type ChannelRecordHeader struct {
	ID    uint32
	Count uint16
	Type  uint16
}

// Disconnected reports whether this record's Count carries the
// disconnected marker.
func (h ChannelRecordHeader) Disconnected() bool {
	return h.Count == DisconnectedCount
}

// WriteChannelRecordHeader writes h at the cursor's current position.
func WriteChannelRecordHeader(c *Cursor, h ChannelRecordHeader) {
	c.WriteUint32(h.ID)
	c.WriteUint16(h.Count)
	c.WriteUint16(h.Type)
}

// ReadChannelRecordHeader reads a ChannelRecordHeader at the cursor's
// current position.
func ReadChannelRecordHeader(c *Cursor) ChannelRecordHeader {
	return ChannelRecordHeader{
		ID:    c.ReadUint32(),
		Count: c.ReadUint16(),
		Type:  c.ReadUint16(),
	}
}
