// SPDX-License-Identifier: GPL-3.0-or-later

package httpstatus

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/epics-diode/diode-go/config"
	"github.com/epics-diode/diode-go/dbr"
	"github.com/epics-diode/diode-go/receiver"
)

type nopSink struct{}

func (nopSink) OnUpdate(channelIndex uint32, t dbr.Type, count uint32, value []byte) {}

func newTestServer() *Server {
	cfg := config.Default()
	cfg.Channels = []config.Channel{{Name: "pv:1"}, {Name: "pv:2"}}
	recv := receiver.New(cfg, nil, nopSink{})
	return NewServer(recv)
}

func TestHealthzReturnsOK(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestChannelsReportsEveryFlattenedChannel(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var out []channelStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(out))
	}
	if out[0].Name != "pv:1" || out[1].Name != "pv:2" {
		t.Fatalf("unexpected channel names: %+v", out)
	}
	if !out[0].Disconnected || !out[1].Disconnected {
		t.Fatalf("expected fresh channels to be reported disconnected: %+v", out)
	}
}

func TestChannelsRejectsPost(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/channels", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatal("expected POST /channels to be rejected")
	}
}
