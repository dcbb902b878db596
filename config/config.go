// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads and validates the channel list and timing
// parameters shared by a sender and its receivers. Both sides compute
// the same hash over this structure and refuse to talk to a peer whose
// hash disagrees, so the two processes never silently drift out of
// sync about which channel sits at which wire index.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Channel is one configured channel: its bare name, any extra fields
// subscribed to alongside the bare value, and any polled fields read on
// a timer instead of subscribed.
type Channel struct {
	Name         string
	ExtraFields  []string
	PolledFields []string
}

// Config is the full set of channels and timing parameters shared by a
// sender and its receivers.
type Config struct {
	MinUpdatePeriod          time.Duration
	PolledFieldsUpdatePeriod time.Duration
	HeartbeatPeriod          time.Duration
	RateLimitMBs             uint32
	Channels                 []Channel
}

// Default timing parameters, used when a field is absent from the
// loaded JSON document.
const (
	DefaultMinUpdatePeriod          = 100 * time.Millisecond
	DefaultPolledFieldsUpdatePeriod = 5 * time.Second
	DefaultHeartbeatPeriod          = 15 * time.Second
	DefaultRateLimitMBs      uint32 = 64
)

// Default returns a Config populated with the documented defaults and
// no channels.
func Default() Config {
	return Config{
		MinUpdatePeriod:          DefaultMinUpdatePeriod,
		PolledFieldsUpdatePeriod: DefaultPolledFieldsUpdatePeriod,
		HeartbeatPeriod:          DefaultHeartbeatPeriod,
		RateLimitMBs:             DefaultRateLimitMBs,
	}
}

// FlatChannel is one entry of the flattened channel index: a bare
// channel, one of its extra fields, or one of its polled fields,
// together with the index it occupies on the wire.
type FlatChannel struct {
	Index   uint32
	Channel int // index into Config.Channels
	Field   string // "" for the bare channel itself
	Polled  bool
}

// FullName returns the channel.field form used for logging, or the
// bare channel name when Field is empty.
func (f FlatChannel) FullName(cfg Config) string {
	name := cfg.Channels[f.Channel].Name
	if f.Field == "" {
		return name
	}
	return name + "." + f.Field
}

// Flatten expands Channels into the fixed-order index table that the
// wire protocol's channel_index values refer to: each channel's bare
// subscription first, then its extra fields, then its polled fields,
// in configuration order. The returned slice's position is the index.
func Flatten(cfg Config) []FlatChannel {
	flat := make([]FlatChannel, 0, totalChannelCount(cfg))
	var idx uint32
	for ci, ch := range cfg.Channels {
		flat = append(flat, FlatChannel{Index: idx, Channel: ci})
		idx++
		for _, f := range ch.ExtraFields {
			flat = append(flat, FlatChannel{Index: idx, Channel: ci, Field: f})
			idx++
		}
		for _, f := range ch.PolledFields {
			flat = append(flat, FlatChannel{Index: idx, Channel: ci, Field: f, Polled: true})
			idx++
		}
	}
	return flat
}

func totalChannelCount(cfg Config) int {
	n := 0
	for _, ch := range cfg.Channels {
		n += 1 + len(ch.ExtraFields) + len(ch.PolledFields)
	}
	return n
}

// Validate checks the loaded configuration for the constraints both
// sender and receiver rely on: no empty channel names, no duplicate
// field names within one channel, and sane positive timing parameters.
// It aggregates every problem it finds rather than stopping at the
// first one.
func Validate(cfg Config) error {
	var result *multierror.Error

	if cfg.MinUpdatePeriod <= 0 {
		result = multierror.Append(result, fmt.Errorf("min_update_period must be positive, got %s", cfg.MinUpdatePeriod))
	}
	if cfg.PolledFieldsUpdatePeriod <= 0 {
		result = multierror.Append(result, fmt.Errorf("polled_fields_update_period must be positive, got %s", cfg.PolledFieldsUpdatePeriod))
	}
	if cfg.HeartbeatPeriod <= 0 {
		result = multierror.Append(result, fmt.Errorf("heartbeat_period must be positive, got %s", cfg.HeartbeatPeriod))
	}
	if cfg.RateLimitMBs == 0 {
		result = multierror.Append(result, fmt.Errorf("rate_limit_mbs must be positive"))
	}
	if len(cfg.Channels) == 0 {
		result = multierror.Append(result, fmt.Errorf("no channels configured"))
	}

	seenNames := make(map[string]bool, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if ch.Name == "" {
			result = multierror.Append(result, fmt.Errorf("channel with empty name"))
			continue
		}
		if seenNames[ch.Name] {
			result = multierror.Append(result, fmt.Errorf("duplicate channel name %q", ch.Name))
		}
		seenNames[ch.Name] = true

		seenFields := make(map[string]bool, len(ch.ExtraFields)+len(ch.PolledFields))
		for _, f := range ch.ExtraFields {
			if seenFields[f] {
				result = multierror.Append(result, fmt.Errorf("channel %q: field %q listed more than once", ch.Name, f))
			}
			seenFields[f] = true
		}
		for _, f := range ch.PolledFields {
			if seenFields[f] {
				result = multierror.Append(result, fmt.Errorf("channel %q: field %q listed more than once", ch.Name, f))
			}
			seenFields[f] = true
		}
	}

	return result.ErrorOrNil()
}
