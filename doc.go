// SPDX-License-Identifier: GPL-3.0-or-later

// Package diode implements a one-way UDP publisher/subscriber bridge for a
// fleet of named, typed measurement channels sourced from a process control
// network.
//
// A sender subscribes to live channel updates on its local side and emits a
// stream of UDP datagrams toward one or more receivers on an air-gapped or
// firewalled side. Receivers reconstruct the stream and dispatch each update
// into a local sink. There is no reverse channel: the transport is strictly
// send-and-pray over UDP, so the wire protocol and the sender/receiver state
// machines must survive loss, duplication, reorder, sender restarts and
// configuration skew without acknowledgements.
//
// The protocol itself lives in package wire. The sender and receiver state
// machines live in packages sender and receiver. package config holds the
// shared configuration and the configuration fingerprint both peers must
// agree on.
package diode
