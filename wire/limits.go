// SPDX-License-Identifier: GPL-3.0-or-later

package wire

// MaxInlineValueSize is the largest value a single channel record may
// carry inline in a CA_DATA_MESSAGE before the sender must fragment it
// across CA_FRAG_DATA_MESSAGE sub-messages instead. It mirrors the
// upstream source library's CAChannelData::max_data_size: the datagram
// budget left over after the packet header, one sub-message header, one
// data-message header and one channel-record header.
const MaxInlineValueSize = MaxMessageSize - HeaderSize - SubmessageHeaderSize - DataMessageHeaderSize - ChannelRecordHeaderSize

// MaxFragmentValueSize is the largest number of raw value bytes a single
// CA_FRAG_DATA_MESSAGE fragment may carry, after its own header.
const MaxFragmentValueSize = MaxMessageSize - HeaderSize - SubmessageHeaderSize - FragMessageHeaderSize
