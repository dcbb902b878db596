// SPDX-License-Identifier: GPL-3.0-or-later

package sender

import "github.com/epics-diode/diode-go/dbr"

// Update is one value delivered by a Source, either pushed through a
// live subscription or returned from a one-shot poll.
type Update struct {
	Type         dbr.Type
	Count        uint32
	Value        []byte
	Connected    bool
}

// Unsubscribe cancels a previously established subscription. It is
// safe to call more than once.
type Unsubscribe func()

// Source is the upstream adapter a Sender pulls channel data from. A
// real implementation sits outside this module and knows how to reach
// the actual measurement system (a Channel Access gateway, an
// archiver, a simulator); Sender only needs the two operations below.
//
// bareField tells the adapter whether it is being asked for a
// channel's default value (it should deliver the timestamped variant
// of the channel's native type and watch for both value and alarm
// changes) or for one specific field (plain type, value changes only).
// This mirrors the distinction a Channel Access client makes between
// subscribing to a bare PV and to PV.FIELD.
type Source interface {
	// Subscribe starts a live feed for name and calls onUpdate for
	// every value and connection-state change until the returned
	// Unsubscribe is invoked.
	Subscribe(name string, bareField bool, onUpdate func(Update)) (Unsubscribe, error)

	// ReadOnce fetches the current value of name a single time and
	// calls onUpdate exactly once with the result.
	ReadOnce(name string, onUpdate func(Update)) error
}
