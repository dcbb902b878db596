// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/epics-diode/diode-go/dbr"
	"github.com/epics-diode/diode-go/sender"
)

// simulatedSource stands in for the real upstream data-source client,
// which lives outside this module (see sender.Source). It gives
// diode-sender something to run against without a live process
// control network attached: every subscribed channel walks a random
// value once per tick, as a double.
type simulatedSource struct {
	tick time.Duration

	mu   sync.Mutex
	subs map[string]chan struct{}
}

func newSimulatedSource(tick time.Duration) *simulatedSource {
	return &simulatedSource{
		tick: tick,
		subs: make(map[string]chan struct{}),
	}
}

func (s *simulatedSource) Subscribe(name string, bareField bool, onUpdate func(sender.Update)) (sender.Unsubscribe, error) {
	stop := make(chan struct{})

	s.mu.Lock()
	s.subs[name] = stop
	s.mu.Unlock()

	go s.walk(name, stop, onUpdate)

	return func() {
		s.mu.Lock()
		delete(s.subs, name)
		s.mu.Unlock()
		close(stop)
	}, nil
}

func (s *simulatedSource) ReadOnce(name string, onUpdate func(sender.Update)) error {
	onUpdate(sender.Update{Connected: true, Type: dbr.TypeDouble, Count: 1, Value: encodeDouble(randomValue())})
	return nil
}

func (s *simulatedSource) walk(name string, stop chan struct{}, onUpdate func(sender.Update)) {
	onUpdate(sender.Update{Connected: true, Type: dbr.TypeDouble, Count: 1, Value: encodeDouble(randomValue())})

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			onUpdate(sender.Update{Connected: false})
			return
		case <-ticker.C:
			onUpdate(sender.Update{Connected: true, Type: dbr.TypeDouble, Count: 1, Value: encodeDouble(randomValue())})
		}
	}
}

func randomValue() float64 {
	return rand.NormFloat64() * 10
}

// encodeDouble matches the wire protocol's little-endian sub-message
// flag: every value byte this source produces is little-endian.
func encodeDouble(v float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}
