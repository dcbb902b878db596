// SPDX-License-Identifier: GPL-3.0-or-later

package sender

import (
	"sync"
	"testing"

	"github.com/epics-diode/diode-go/config"
	"github.com/epics-diode/diode-go/dbr"
	"github.com/epics-diode/diode-go/wire"
)

type fakeSource struct {
	mu   sync.Mutex
	subs map[string]func(Update)
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[string]func(Update))}
}

func (f *fakeSource) Subscribe(name string, bareField bool, onUpdate func(Update)) (Unsubscribe, error) {
	f.mu.Lock()
	f.subs[name] = onUpdate
	f.mu.Unlock()
	return func() {}, nil
}

func (f *fakeSource) ReadOnce(name string, onUpdate func(Update)) error {
	onUpdate(Update{Type: dbr.TypeDouble, Count: 1, Value: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Connected: true})
	return nil
}

func (f *fakeSource) push(name string, u Update) {
	f.mu.Lock()
	cb := f.subs[name]
	f.mu.Unlock()
	if cb != nil {
		cb(u)
	}
}

type fakeTransport struct {
	mu        sync.Mutex
	datagrams [][]byte
}

func (f *fakeTransport) Send(datagram []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte{}, datagram...)
	f.datagrams = append(f.datagrams, cp)
	return nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Channels = []config.Channel{
		{Name: "pv:1", ExtraFields: []string{"HIHI"}},
		{Name: "pv:2"},
	}
	return cfg
}

func TestNewBuildsFlattenedChannelTable(t *testing.T) {
	src := newFakeSource()
	tr := &fakeTransport{}

	s, err := New(testConfig(), src, tr, 1000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(s.channels) != 3 {
		t.Fatalf("expected 3 flattened channels, got %d", len(s.channels))
	}
	if !s.channels[0].isBare() || s.channels[1].isBare() {
		t.Fatal("expected channel 0 bare, channel 1 a field")
	}
	if s.channels[1].parentIndex != 0 {
		t.Fatalf("expected channel 1's parent to be 0, got %d", s.channels[1].parentIndex)
	}
}

func TestSendUpdatesPacksAndClearsQueue(t *testing.T) {
	src := newFakeSource()
	tr := &fakeTransport{}

	s, err := New(testConfig(), src, tr, 1000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	src.push("pv:1", Update{Type: dbr.TypeTimeDouble, Count: 1, Value: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Connected: true})

	if err := s.sendUpdates(); err != nil {
		t.Fatalf("sendUpdates: %v", err)
	}
	if !s.queue.empty() {
		t.Fatal("expected queue to be drained")
	}
	if len(tr.datagrams) != 1 {
		t.Fatalf("expected 1 datagram, got %d", len(tr.datagrams))
	}

	dg := tr.datagrams[0]
	c := wire.NewCursor(dg)
	hdr, validMagic := wire.ReadHeader(c)
	if !validMagic {
		t.Fatal("expected valid magic/version")
	}
	if hdr.ConfigHash != s.configHash {
		t.Fatalf("got config hash %d, want %d", hdr.ConfigHash, s.configHash)
	}

	sub := wire.ReadSubmessageHeader(c)
	if sub.ID != wire.DataMessage {
		t.Fatalf("expected a data message, got id %d", sub.ID)
	}
	dm := wire.ReadDataMessageHeader(c)
	if dm.ChannelCount != 2 {
		t.Fatalf("expected 2 channel records (pv:1 and pv:1.HIHI), got %d", dm.ChannelCount)
	}
}

func TestSendUpdatesMarksDisconnect(t *testing.T) {
	src := newFakeSource()
	tr := &fakeTransport{}

	s, err := New(testConfig(), src, tr, 1000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	src.push("pv:2", Update{Connected: false})
	if err := s.sendUpdates(); err != nil {
		t.Fatalf("sendUpdates: %v", err)
	}

	dg := tr.datagrams[0]
	c := wire.NewCursor(dg)
	wire.ReadHeader(c)
	wire.ReadSubmessageHeader(c)
	wire.ReadDataMessageHeader(c)
	rec := wire.ReadChannelRecordHeader(c)
	if !rec.Disconnected() {
		t.Fatal("expected the disconnect marker")
	}
}

func TestCheckPolledFieldsOnlyPollsPolledChannels(t *testing.T) {
	src := newFakeSource()
	tr := &fakeTransport{}

	cfg := config.Default()
	cfg.Channels = []config.Channel{
		{Name: "pv:1", PolledFields: []string{"DESC"}},
	}
	s, err := New(cfg, src, tr, 1000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.checkPolledFields()
	if s.queue.empty() {
		t.Fatal("expected the polled field's first read to mark an update")
	}
}

func TestMarkHeartbeatUpdatesReMarksSilentChannel(t *testing.T) {
	src := newFakeSource()
	tr := &fakeTransport{}

	s, err := New(testConfig(), src, tr, 1000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.markHeartbeatUpdates()
	if s.queue.empty() {
		t.Fatal("expected every bare channel to be marked on its first heartbeat")
	}
}
