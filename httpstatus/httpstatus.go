// SPDX-License-Identifier: GPL-3.0-or-later

// Package httpstatus serves a read-only operator view of a running
// receiver's channel liveness. It never accepts anything that could
// feed back toward a sender; every handler here is GET-only.
package httpstatus

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/gorilla/mux"

	"github.com/epics-diode/diode-go/receiver"
)

// channelStatusResponse is one channel's liveness, as reported over
// /channels.
type channelStatusResponse struct {
	Index          uint32    `json:"index"`
	Name           string    `json:"name"`
	Disconnected   bool      `json:"disconnected"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// Server exposes /healthz and /channels for one Receiver.
type Server struct {
	router *mux.Router
	recv   *receiver.Receiver
}

// NewServer builds a Server backed by recv. Call Server's ServeHTTP
// (or embed router access) to wire it into an http.Server.
func NewServer(recv *receiver.Receiver) *Server {
	s := &Server{
		router: mux.NewRouter(),
		recv:   recv,
	}

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/channels", s.handleChannels).Methods(http.MethodGet)

	return s
}

// ServeHTTP lets Server be used directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealthz reports liveness of the status endpoint itself, not
// of any individual channel — a 200 here means the process is up.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		log.WithError(err).Warn("failed to write healthz response")
	}
}

// handleChannels reports the current liveness of every flattened
// channel the receiver knows about.
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	statuses := s.recv.Snapshot()
	out := make([]channelStatusResponse, len(statuses))
	for i, st := range statuses {
		out[i] = channelStatusResponse{
			Index:          st.Index,
			Name:           st.Name,
			Disconnected:   st.Disconnected,
			LastUpdateTime: st.LastUpdateTime,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.WithError(err).Warn("failed to write channels response")
	}
}
