// SPDX-License-Identifier: GPL-3.0-or-later

package wire

// HeaderSize is the fixed size of the packet header: magic(4) + version(1)
// + reserved(3) + global_seq_no(4) + startup_time(8) + config_hash(8).
const HeaderSize = 28

// Version is the only wire version this codec understands.
const Version uint8 = 1

// Magic identifies a diode packet: "pvAC".
var Magic = [4]byte{0x70, 0x76, 0x41, 0x43}

// MaxMessageSize is the largest payload a single UDP datagram may carry,
// chosen to be 8-byte aligned and within the IPv4 UDP MTU worst case.
const MaxMessageSize = 65504

// Header is the fixed prefix of every datagram.
type Header struct {
	GlobalSeqNo uint32 // wraps modulo 2^32
	StartupTime uint64 // unix-millis of sender process start
	ConfigHash  uint64
}

// WriteHeader writes h at the cursor's current position.
func WriteHeader(c *Cursor, h Header) {
	c.WriteBytes(Magic[:])
	c.WriteUint8(Version)
	c.WriteBytes([]byte{0, 0, 0}) // reserved
	c.WriteUint32(h.GlobalSeqNo)
	c.WriteUint64(h.StartupTime)
	c.WriteUint64(h.ConfigHash)
}

// ReadHeader reads a Header at the cursor's current position along with
// whether the magic and version are valid. The caller must separately
// check c.Good() for a truncated buffer.
func ReadHeader(c *Cursor) (h Header, validMagic bool) {
	magic := c.ReadBytes(4)
	version := c.ReadUint8()
	c.Advance(3) // reserved
	h.GlobalSeqNo = c.ReadUint32()
	h.StartupTime = c.ReadUint64()
	h.ConfigHash = c.ReadUint64()

	validMagic = len(magic) == 4 && magic[0] == Magic[0] && magic[1] == Magic[1] &&
		magic[2] == Magic[2] && magic[3] == Magic[3] && version == Version
	return
}
