// SPDX-License-Identifier: GPL-3.0-or-later

package diagnostics

import (
	"testing"
	"time"

	"github.com/epics-diode/diode-go/config"
	"github.com/epics-diode/diode-go/dbr"
	"github.com/epics-diode/diode-go/receiver"
)

type nopSink struct{}

func (nopSink) OnUpdate(channelIndex uint32, t dbr.Type, count uint32, value []byte) {}

func newTestReceiver() *receiver.Receiver {
	cfg := config.Default()
	cfg.Channels = []config.Channel{{Name: "pv:1"}, {Name: "pv:2"}}
	return receiver.New(cfg, nil, nopSink{})
}

func TestCaptureReflectsChannelNames(t *testing.T) {
	r := newTestReceiver()
	snap := Capture(r, time.Now())

	if len(snap.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(snap.Channels))
	}
	if snap.Channels[0].Name != "pv:1" || snap.Channels[1].Name != "pv:2" {
		t.Fatalf("unexpected channel names: %+v", snap.Channels)
	}
	for _, ch := range snap.Channels {
		if ch.Disconnected {
			t.Fatalf("expected freshly created channels to start connected, got %+v", ch)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	r := newTestReceiver()
	now := time.Unix(1_700_000_000, 0).UTC()
	snap := Capture(r, now)

	blob, err := Export(&snap)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("expected a non-empty compressed export")
	}

	got, err := Import(blob)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	if !got.TakenAt.Equal(snap.TakenAt) {
		t.Fatalf("expected TakenAt %v, got %v", snap.TakenAt, got.TakenAt)
	}
	if len(got.Channels) != len(snap.Channels) {
		t.Fatalf("expected %d channels, got %d", len(snap.Channels), len(got.Channels))
	}
	for i := range snap.Channels {
		want, have := snap.Channels[i], got.Channels[i]
		if want.Index != have.Index || want.Name != have.Name || want.Disconnected != have.Disconnected {
			t.Fatalf("channel %d mismatch: want %+v, got %+v", i, want, have)
		}
		if !want.LastUpdateTime.Equal(have.LastUpdateTime) {
			t.Fatalf("channel %d LastUpdateTime mismatch: want %v, got %v", i, want.LastUpdateTime, have.LastUpdateTime)
		}
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	if _, err := Import([]byte("not a valid xz stream")); err == nil {
		t.Fatal("expected an error decoding a non-xz blob")
	}
}
