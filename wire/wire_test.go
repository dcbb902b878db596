// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderSize)
	c := NewCursor(buf)

	want := Header{GlobalSeqNo: 42, StartupTime: 1700000000123, ConfigHash: 0xdeadbeefcafef00d}
	WriteHeader(c, want)
	if !c.Good() || c.Pos() != HeaderSize {
		t.Fatalf("write: good=%v pos=%d", c.Good(), c.Pos())
	}

	rc := NewCursor(buf)
	got, validMagic := ReadHeader(rc)
	if !validMagic {
		t.Fatal("expected valid magic/version")
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	c := NewCursor(buf)
	WriteHeader(c, Header{})
	buf[0] = 0xFF

	rc := NewCursor(buf)
	_, validMagic := ReadHeader(rc)
	if validMagic {
		t.Fatal("expected invalid magic")
	}
}

func TestChannelRecordRoundTripAndAlignment(t *testing.T) {
	value := []byte{1, 2, 3, 4, 5} // 5 bytes -> needs 3 bytes padding after an 8-byte header

	buf := make([]byte, 64)
	c := NewCursor(buf)

	WriteChannelRecordHeader(c, ChannelRecordHeader{ID: 7, Count: 5, Type: uint16(4)})
	c.WriteBytes(value)
	c.PadAlign(Alignment)

	if !c.Good() {
		t.Fatal("write not good")
	}
	if c.Pos()%Alignment != 0 {
		t.Fatalf("cursor not aligned: pos=%d", c.Pos())
	}

	rc := NewCursor(buf)
	hdr := ReadChannelRecordHeader(rc)
	if hdr.ID != 7 || hdr.Count != 5 || hdr.Type != 4 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
	if hdr.Disconnected() {
		t.Fatal("should not be disconnected")
	}
	got := rc.ReadBytes(int(hdr.Count))
	if !bytes.Equal(got, value) {
		t.Fatalf("got %v, want %v", got, value)
	}
	rc.PosAlign(Alignment)
	if rc.Pos() != c.Pos() {
		t.Fatalf("read cursor %d != write cursor %d", rc.Pos(), c.Pos())
	}
}

func TestChannelRecordDisconnectedMarker(t *testing.T) {
	h := ChannelRecordHeader{ID: 3, Count: DisconnectedCount, Type: 0}
	if !h.Disconnected() {
		t.Fatal("expected disconnected")
	}
}

func TestSubmessageHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, SubmessageHeaderSize)
	c := NewCursor(buf)
	want := SubmessageHeader{ID: DataMessage, Flags: FlagLittleEndian, BytesToNextHeader: 128}
	WriteSubmessageHeader(c, want)

	rc := NewCursor(buf)
	got := ReadSubmessageHeader(rc)
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFragMessageHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, FragMessageHeaderSize)
	c := NewCursor(buf)
	want := FragMessageHeader{
		MsgSeqNo: 9, FragSeqNo: 2, ChannelID: 55, Count: 40, Type: 4, FragmentSize: 14,
	}
	WriteFragMessageHeader(c, want)

	rc := NewCursor(buf)
	got := ReadFragMessageHeader(rc)
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCursorOverflowSetsGoodFalse(t *testing.T) {
	buf := make([]byte, 4)
	c := NewCursor(buf)
	c.WriteUint64(1)
	if c.Good() {
		t.Fatal("expected overflow to clear good")
	}
}

func TestFullPacketRoundTrip(t *testing.T) {
	buf := make([]byte, MaxMessageSize)
	c := NewCursor(buf)

	WriteHeader(c, Header{GlobalSeqNo: 1, StartupTime: 123, ConfigHash: 456})
	subStart := c.Pos()
	WriteSubmessageHeader(c, SubmessageHeader{ID: DataMessage, Flags: FlagLittleEndian, BytesToNextHeader: 0})
	WriteDataMessageHeader(c, DataMessageHeader{MsgSeqNo: 1, ChannelCount: 2})

	values := [][]byte{{9, 9}, {1, 2, 3}}
	for i, v := range values {
		WriteChannelRecordHeader(c, ChannelRecordHeader{ID: uint32(i), Count: uint16(len(v)), Type: uint16(TypeCharForTest)})
		c.WriteBytes(v)
		c.PadAlign(Alignment)
	}
	total := c.Pos()
	_ = subStart

	if !c.Good() {
		t.Fatal("write not good")
	}

	rc := NewCursor(buf[:total])
	hdr, validMagic := ReadHeader(rc)
	if !validMagic || hdr.GlobalSeqNo != 1 {
		t.Fatalf("bad header: %+v valid=%v", hdr, validMagic)
	}

	sub := ReadSubmessageHeader(rc)
	if sub.ID != DataMessage {
		t.Fatalf("bad submessage id: %v", sub.ID)
	}

	dm := ReadDataMessageHeader(rc)
	if dm.ChannelCount != 2 {
		t.Fatalf("bad channel count: %d", dm.ChannelCount)
	}

	for i, want := range values {
		rh := ReadChannelRecordHeader(rc)
		if int(rh.ID) != i {
			t.Fatalf("record %d: bad id %d", i, rh.ID)
		}
		got := rc.ReadBytes(int(rh.Count))
		if !bytes.Equal(got, want) {
			t.Fatalf("record %d: got %v, want %v", i, got, want)
		}
		rc.PosAlign(Alignment)
	}

	if rc.Pos() != total {
		t.Fatalf("trailing cursor %d != %d", rc.Pos(), total)
	}
	if rc.Pos()%Alignment != 0 {
		t.Fatalf("trailing cursor not aligned: %d", rc.Pos())
	}
}

// TypeCharForTest avoids importing the dbr package just for a literal in
// this codec-level test.
const TypeCharForTest = 4
