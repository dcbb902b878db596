// SPDX-License-Identifier: GPL-3.0-or-later

// Package wsfeed fans out every sink callback invocation to connected
// WebSocket clients as JSON frames, for live operator dashboards. It
// is a pure observer bolted onto the sink boundary: it cannot affect
// delivery, ordering, or the wire protocol, and it never sends
// anything back toward a sender.
package wsfeed

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/gorilla/websocket"

	"github.com/epics-diode/diode-go/dbr"
	"github.com/epics-diode/diode-go/receiver"
)

// updateFrame is one sink callback invocation, as sent to every
// connected client.
type updateFrame struct {
	ChannelIndex uint32    `json:"channel_index"`
	Type         dbr.Type  `json:"type"`
	Count        uint32    `json:"count"`
	Disconnected bool      `json:"disconnected"`
	Value        string    `json:"value,omitempty"` // base64, omitted when disconnected
	ObservedAt   time.Time `json:"observed_at"`
}

// clientSendBuffer bounds how far a slow client can lag before the
// feed gives up on it rather than blocking the dispatch path that
// feeds it.
const clientSendBuffer = 64

// Feed broadcasts update frames to every currently-connected client.
type Feed struct {
	log      *log.Entry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan updateFrame
}

// NewFeed builds an empty Feed with no connected clients.
func NewFeed() *Feed {
	return &Feed{
		log:      log.WithField("component", "wsfeed"),
		upgrader: websocket.Upgrader{},
		clients:  make(map[*client]struct{}),
	}
}

// Wrap returns a Sink that forwards every update to inner unchanged
// and then broadcasts it to connected clients. inner may be nil, in
// which case the feed is the only observer.
func (f *Feed) Wrap(inner receiver.Sink) receiver.Sink {
	return receiver.SinkFunc(func(channelIndex uint32, t dbr.Type, count uint32, value []byte) {
		if inner != nil {
			inner.OnUpdate(channelIndex, t, count, value)
		}
		f.broadcast(channelIndex, t, count, value)
	})
}

func (f *Feed) broadcast(channelIndex uint32, t dbr.Type, count uint32, value []byte) {
	frame := updateFrame{
		ChannelIndex: channelIndex,
		Type:         t,
		Count:        count,
		Disconnected: count == receiver.DisconnectedCount,
		ObservedAt:   time.Now(),
	}
	if !frame.Disconnected && len(value) > 0 {
		frame.Value = base64.StdEncoding.EncodeToString(value)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- frame:
		default:
			f.log.Warn("dropping update for a client whose send buffer is full")
		}
	}
}

// HandleWebSocket upgrades r to a WebSocket connection and streams
// every subsequent broadcast to it as a JSON frame until the
// connection closes.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.WithError(err).Warn("failed to upgrade websocket connection")
		return
	}

	c := &client{conn: conn, send: make(chan updateFrame, clientSendBuffer)}
	f.register(c)
	defer f.unregister(c)

	go f.writeLoop(c)
	f.drainIncoming(c)
}

// drainIncoming discards anything a client sends, purely to notice
// when it closes the connection; this feed never reads client intent.
func (f *Feed) drainIncoming(c *client) {
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			_ = c.conn.Close()
			return
		}
	}
}

func (f *Feed) writeLoop(c *client) {
	for frame := range c.send {
		wc, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		if err := encodeFrame(wc, frame); err != nil {
			f.log.WithError(err).Debug("failed to encode update frame")
			_ = wc.Close()
			return
		}
		if err := wc.Close(); err != nil {
			return
		}
	}
}

func encodeFrame(w io.Writer, frame updateFrame) error {
	return json.NewEncoder(w).Encode(frame)
}

func (f *Feed) register(c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[c] = struct{}{}
}

func (f *Feed) unregister(c *client) {
	f.mu.Lock()
	delete(f.clients, c)
	f.mu.Unlock()
	close(c.send)
}
