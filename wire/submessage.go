// SPDX-License-Identifier: GPL-3.0-or-later

package wire

// SubmessageID identifies the kind of a sub-message.
type SubmessageID uint8

const (
	// DataMessage carries a batch of whole channel records.
	DataMessage SubmessageID = 16
	// FragDataMessage carries one fragment of an over-size channel
	// record's value.
	FragDataMessage SubmessageID = 17
)

// Sub-message flag bits.
const (
	FlagLittleEndian uint8 = 0x01
)

// SubmessageHeaderSize is the fixed size of a sub-message header.
const SubmessageHeaderSize = 4

// Alignment is the byte boundary every sub-message payload is padded to.
const Alignment = 8

// SubmessageHeader precedes every sub-message's payload.
type SubmessageHeader struct {
	ID                SubmessageID
	Flags             uint8
	BytesToNextHeader uint16 // 0 means "runs to end of datagram"
}

// WriteSubmessageHeader writes h at the cursor's current position.
func WriteSubmessageHeader(c *Cursor, h SubmessageHeader) {
	c.WriteUint8(uint8(h.ID))
	c.WriteUint8(h.Flags)
	c.WriteUint16(h.BytesToNextHeader)
}

// ReadSubmessageHeader reads a SubmessageHeader at the cursor's current
// position.
func ReadSubmessageHeader(c *Cursor) SubmessageHeader {
	return SubmessageHeader{
		ID:                SubmessageID(c.ReadUint8()),
		Flags:             c.ReadUint8(),
		BytesToNextHeader: c.ReadUint16(),
	}
}
