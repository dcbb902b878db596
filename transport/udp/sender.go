// SPDX-License-Identifier: GPL-3.0-or-later

// Package udp provides the one-way datagram transport the sender and
// receiver packages address through their respective Transport
// interfaces: a fan-out sender with byte-rate limiting, and a
// receiver with a bounded receive timeout so its housekeeping pass
// never starves behind a socket read.
package udp

import (
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
)

// Sender fans a datagram out to every configured destination address,
// pacing its own send rate to stay under a configured byte budget.
type Sender struct {
	log         *log.Entry
	conn        *net.UDPConn
	addresses   []*net.UDPAddr
	rateLimiter *rateLimiter
}

// NewSender opens an unbound UDP socket and resolves every address in
// addressList (whitespace-separated host:port pairs) against
// defaultPort when a pair omits its own port.
func NewSender(addressList string, defaultPort int, rateLimitMBs uint32) (*Sender, error) {
	logger := log.WithField("component", "transport.sender")

	addresses, err := parseAddressList(addressList, defaultPort)
	if err != nil {
		return nil, err
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("udp: no send addresses configured")
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("udp: open send socket: %w", err)
	}

	logger.WithField("addresses", addressList).WithField("rate_limit_mbs", rateLimitMBs).Info("transport initialized")

	return &Sender{
		log:         logger,
		conn:        conn,
		addresses:   addresses,
		rateLimiter: newRateLimiter(rateLimitMBs, logger),
	}, nil
}

// Send paces itself against the configured rate limit and then writes
// datagram to every destination address. A write error to one
// destination is logged and does not prevent delivery to the others.
func (s *Sender) Send(datagram []byte) error {
	s.rateLimiter.wait(len(datagram))

	for _, addr := range s.addresses {
		n, err := s.conn.WriteToUDP(datagram, addr)
		if err != nil {
			s.log.WithError(err).Debugf("send error to %s", addr)
			continue
		}
		s.log.Debugf("sent %d bytes to %s", n, addr)
	}
	return nil
}

// Close releases the underlying socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}

func parseAddressList(list string, defaultPort int) ([]*net.UDPAddr, error) {
	var addrs []*net.UDPAddr
	for _, field := range splitFields(list) {
		host, port, err := net.SplitHostPort(field)
		if err != nil {
			host = field
			port = fmt.Sprintf("%d", defaultPort)
		}
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
		if err != nil {
			return nil, fmt.Errorf("udp: invalid send address %q: %w", field, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func splitFields(s string) []string {
	var fields []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if start >= 0 {
				fields = append(fields, s[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, s[start:])
	}
	return fields
}
