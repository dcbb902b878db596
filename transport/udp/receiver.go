// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// receiveTimeout bounds a single read so the receive loop's
// housekeeping pass (liveness checks) runs at least this often even
// when no datagram ever arrives.
const receiveTimeout = 250 * time.Millisecond

// Receiver listens for datagrams on one bound UDP socket.
type Receiver struct {
	log  *log.Entry
	conn *net.UDPConn
}

// NewReceiver binds listenAddress (host:port, host may be empty to
// bind every interface) and applies this platform's best-effort
// socket buffer tuning.
func NewReceiver(listenAddress string) (*Receiver, error) {
	logger := log.WithField("component", "transport.receiver")

	addr, err := net.ResolveUDPAddr("udp", listenAddress)
	if err != nil {
		return nil, fmt.Errorf("udp: invalid listen address %q: %w", listenAddress, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: bind %s: %w", listenAddress, err)
	}

	if err := tuneReceiveBuffer(conn); err != nil {
		logger.WithError(err).Debug("socket buffer tuning unavailable")
	}

	logger.Infof("listening on %s", listenAddress)
	return &Receiver{log: logger, conn: conn}, nil
}

// Receive blocks for at most receiveTimeout waiting for one datagram.
// A timeout is reported as (0, nil, err) with a net.Error whose
// Timeout() is true; callers should treat that as "nothing arrived
// this round", not a fatal condition.
func (r *Receiver) Receive(buf []byte) (int, net.Addr, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(receiveTimeout)); err != nil {
		return 0, nil, err
	}

	n, from, err := r.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, err
	}
	r.log.Debugf("received %d bytes from %s", n, from)
	return n, from, nil
}

// Close releases the underlying socket.
func (r *Receiver) Close() error {
	return r.conn.Close()
}
