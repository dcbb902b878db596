// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package udp

import (
	"net"

	"golang.org/x/sys/unix"
)

// receiveBufferBytes sets SO_RCVBUF generously above one maximum-size
// datagram so a burst of back-to-back packets doesn't overrun the
// kernel socket buffer while this process is busy with housekeeping.
const receiveBufferBytes = 4 * 1024 * 1024

// tuneReceiveBuffer raises the kernel receive buffer on conn's socket.
// Failure here is non-fatal: the socket still works, just with
// whatever buffer size the platform default gives it.
func tuneReceiveBuffer(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var setErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, receiveBufferBytes)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return setErr
}
