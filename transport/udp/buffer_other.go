// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package udp

import "net"

// tuneReceiveBuffer is a no-op on platforms without the Linux-specific
// socket option path.
func tuneReceiveBuffer(conn *net.UDPConn) error {
	return nil
}
