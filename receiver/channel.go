// SPDX-License-Identifier: GPL-3.0-or-later

package receiver

import (
	"time"

	"github.com/epics-diode/diode-go/config"
)

// channelState tracks one flattened channel's liveness on the
// receiving side: whether it is currently considered connected, and
// when it last produced an update, so the housekeeping pass can
// synthesize a disconnect after a sender goes silent.
type channelState struct {
	name           string
	disconnected   bool
	lastUpdateTime time.Time
}

func buildChannelStates(cfg config.Config) []channelState {
	flat := config.Flatten(cfg)
	states := make([]channelState, len(flat))
	for i, fc := range flat {
		states[i] = channelState{name: fc.FullName(cfg)}
	}
	return states
}

// ChannelStatus is a read-only, point-in-time view of one flattened
// channel's liveness, exported for operational tooling outside the
// wire path (diagnostics export, status endpoints).
type ChannelStatus struct {
	Index          uint32
	Name           string
	Disconnected   bool
	LastUpdateTime time.Time
}

// Snapshot returns the current liveness of every flattened channel.
// It holds the engine's statesMu read lock while copying, so it may be
// called from a goroutine other than the one driving Run; the result
// is a point-in-time copy that does not track later updates.
func (r *Receiver) Snapshot() []ChannelStatus {
	r.engine.statesMu.RLock()
	defer r.engine.statesMu.RUnlock()

	states := r.engine.channels
	out := make([]ChannelStatus, len(states))
	for i, s := range states {
		out[i] = ChannelStatus{
			Index:          uint32(i),
			Name:           s.name,
			Disconnected:   s.disconnected,
			LastUpdateTime: s.lastUpdateTime,
		}
	}
	return out
}
