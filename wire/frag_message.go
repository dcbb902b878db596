// SPDX-License-Identifier: GPL-3.0-or-later

package wire

// FragMessageHeaderSize is the fixed size of a CA_FRAG_DATA_MESSAGE
// payload's header, ahead of its raw fragment bytes.
const FragMessageHeaderSize = 16

// FragMessageHeader is the payload header of a FragDataMessage
// sub-message. All fragments of one oversize group share MsgSeqNo,
// ChannelID, Count and Type; FragSeqNo increases by one per fragment
// starting at zero.
type FragMessageHeader struct {
	MsgSeqNo     uint16
	FragSeqNo    uint16
	ChannelID    uint32
	Count        uint32
	Type         uint16
	FragmentSize uint16
}

// WriteFragMessageHeader writes h at the cursor's current position.
func WriteFragMessageHeader(c *Cursor, h FragMessageHeader) {
	c.WriteUint16(h.MsgSeqNo)
	c.WriteUint16(h.FragSeqNo)
	c.WriteUint32(h.ChannelID)
	c.WriteUint32(h.Count)
	c.WriteUint16(h.Type)
	c.WriteUint16(h.FragmentSize)
}

// ReadFragMessageHeader reads a FragMessageHeader at the cursor's current
// position.
func ReadFragMessageHeader(c *Cursor) FragMessageHeader {
	return FragMessageHeader{
		MsgSeqNo:     c.ReadUint16(),
		FragSeqNo:    c.ReadUint16(),
		ChannelID:    c.ReadUint32(),
		Count:        c.ReadUint32(),
		Type:         c.ReadUint16(),
		FragmentSize: c.ReadUint16(),
	}
}
