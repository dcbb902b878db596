// SPDX-License-Identifier: GPL-3.0-or-later

package wsfeed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/epics-diode/diode-go/dbr"
	"github.com/epics-diode/diode-go/receiver"
)

func dialFeed(t *testing.T, feed *Feed) (*websocket.Conn, func()) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(feed.HandleWebSocket))
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	u.Scheme = "ws"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func TestFeedBroadcastsUpdatesToConnectedClient(t *testing.T) {
	feed := NewFeed()
	conn, closeAll := dialFeed(t, feed)
	defer closeAll()

	time.Sleep(20 * time.Millisecond) // let registration land before broadcasting

	sink := feed.Wrap(nil)
	sink.OnUpdate(3, dbr.TypeDouble, 1, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	_, r, err := conn.NextReader()
	if err != nil {
		t.Fatalf("NextReader: %v", err)
	}

	var frame updateFrame
	if err := json.NewDecoder(r).Decode(&frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.ChannelIndex != 3 || frame.Type != dbr.TypeDouble || frame.Count != 1 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if frame.Disconnected {
		t.Fatal("expected a connected update")
	}
}

func TestFeedMarksDisconnect(t *testing.T) {
	feed := NewFeed()
	conn, closeAll := dialFeed(t, feed)
	defer closeAll()

	time.Sleep(20 * time.Millisecond)

	sink := feed.Wrap(nil)
	sink.OnUpdate(5, 0, receiver.DisconnectedCount, nil)

	_, r, err := conn.NextReader()
	if err != nil {
		t.Fatalf("NextReader: %v", err)
	}

	var frame updateFrame
	if err := json.NewDecoder(r).Decode(&frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if !frame.Disconnected {
		t.Fatal("expected the frame to be marked disconnected")
	}
	if frame.Value != "" {
		t.Fatalf("expected no value on a disconnect frame, got %q", frame.Value)
	}
}

func TestFeedForwardsToWrappedSink(t *testing.T) {
	feed := NewFeed()

	var calls []uint32
	inner := receiver.SinkFunc(func(channelIndex uint32, t dbr.Type, count uint32, value []byte) {
		calls = append(calls, channelIndex)
	})

	sink := feed.Wrap(inner)
	sink.OnUpdate(1, dbr.TypeShort, 1, []byte{0, 1})
	sink.OnUpdate(2, dbr.TypeShort, 1, []byte{0, 2})

	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Fatalf("expected the wrapped sink to see both updates, got %v", calls)
	}
}

func TestFeedUnregistersOnClientClose(t *testing.T) {
	feed := NewFeed()
	conn, closeAll := dialFeed(t, feed)

	time.Sleep(20 * time.Millisecond)

	feed.mu.Lock()
	n := len(feed.clients)
	feed.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 registered client, got %d", n)
	}

	_ = conn.Close()
	closeAll()
	time.Sleep(50 * time.Millisecond)

	feed.mu.Lock()
	n = len(feed.clients)
	feed.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected the client to be unregistered after close, got %d remaining", n)
	}
}

