// SPDX-License-Identifier: GPL-3.0-or-later

package sender

import (
	"sync"

	"github.com/epics-diode/diode-go/dbr"
)

// updateQueue is the FIFO of parent channel indices awaiting a send,
// guarded by a mutex since polled-field callbacks, subscription
// callbacks and the send loop all touch it concurrently.
type updateQueue struct {
	mu    sync.Mutex
	items []uint32
}

func (q *updateQueue) push(index uint32) {
	q.mu.Lock()
	q.items = append(q.items, index)
	q.mu.Unlock()
}

func (q *updateQueue) peek() (uint32, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0], true
}

func (q *updateQueue) popFront() {
	q.mu.Lock()
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
	q.mu.Unlock()
}

func (q *updateQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// channel is one entry of the flattened channel table: either a bare
// channel (index == parentIndex) or one of its extra/polled fields.
// Fields route every state change through their parent, since a field
// going dirty is what makes the owning channel's whole value group a
// candidate for the next datagram.
type channel struct {
	index       uint32
	parentIndex uint32
	isPolled    bool

	mu                sync.Mutex
	connected         bool
	dataType          dbr.Type
	count             uint32
	value             []byte
	valueHashSet      bool
	valueHash         uint64
	pendingUpdate     bool
	updatesSinceLastHB int

	unsubscribe func()

	queue  *updateQueue
	parent *channel // == self for a bare channel
}

func (c *channel) isBare() bool {
	return c.index == c.parentIndex
}

// markUpdate enqueues the owning channel exactly once; a second call
// while an update is still pending is a no-op, matching the
// at-most-one-entry-per-parent invariant the send loop relies on.
func (c *channel) markUpdate() {
	if !c.isBare() {
		c.parent.markUpdate()
		return
	}
	c.mu.Lock()
	already := c.pendingUpdate
	if !already {
		c.pendingUpdate = true
		c.updatesSinceLastHB++
	}
	c.mu.Unlock()
	if !already {
		c.queue.push(c.parentIndex)
	}
}

// markHeartbeatUpdate re-marks the channel for sending if it produced
// no updates since the last heartbeat period, so a silent channel
// still refreshes a receiver's liveness timer. It reports whether it
// did so.
func (c *channel) markHeartbeatUpdate() bool {
	if !c.isBare() {
		return c.parent.markHeartbeatUpdate()
	}
	c.mu.Lock()
	toMark := c.updatesSinceLastHB == 0
	c.updatesSinceLastHB = 0
	c.mu.Unlock()
	if toMark {
		c.markUpdate()
	}
	return toMark
}

// clearUpdate pops the front of the queue and drops this channel's
// pending-update flag; the caller must have just peeked this channel's
// parent index at the front of the queue.
func (c *channel) clearUpdate() {
	if !c.isBare() {
		c.parent.clearUpdate()
		return
	}
	c.queue.popFront()
	c.mu.Lock()
	c.pendingUpdate = false
	c.mu.Unlock()
}

// applyUpdate stores a freshly delivered value and reports whether it
// actually changed (always true for a non-polled channel).
func (c *channel) applyUpdate(connected bool, t dbr.Type, count uint32, value []byte, hash func([]byte) uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = connected
	if !connected {
		c.dataType = 0
		c.count = 0
		c.value = nil
		return true
	}

	c.dataType = t
	c.count = count
	sizeChanged := len(c.value) != len(value)
	c.value = append(c.value[:0], value...)

	if !c.isPolled {
		return true
	}

	h := hash(value)
	changed := !c.valueHashSet || sizeChanged || c.valueHash != h
	c.valueHashSet = true
	c.valueHash = h
	return changed
}

func (c *channel) snapshot() (connected bool, t dbr.Type, count uint32, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected, c.dataType, c.count, c.value
}

// group describes the contiguous run of flattened indices occupied by
// one configured channel: its bare subscription and any extra/polled
// fields, in configuration order.
type group struct {
	startIndex uint32
	endIndex   uint32
}

func (g group) count() uint32 {
	return g.endIndex - g.startIndex + 1
}
