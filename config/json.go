// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

var configLog = log.WithField("component", "config")

// topLevelKeys are the only keys recognised at the document's root.
// Anything else is logged and ignored, matching how a stray key used
// to only earn a warning rather than a hard failure.
var topLevelKeys = map[string]bool{
	"min_update_period":          true,
	"polled_fields_update_period": true,
	"heartbeat_period":            true,
	"rate_limit_mbs":              true,
	"channel_names":               true,
}

// LoadFile reads and parses a JSON configuration document from path and
// returns the resulting Config with its Hash left uncomputed; callers
// call config.Hash explicitly once loading is done. Field order inside
// "channel_names" is preserved because it determines each channel's
// wire index.
//
// The document is walked with json.Decoder's token stream rather than
// unmarshalled into a map, since a plain map would lose the channel
// ordering the wire protocol depends on. This keeps the same
// level-by-level, one-token-at-a-time shape the configuration parser
// this bridge was modeled on used, just expressed against the standard
// library's tokenizer instead of a C push-parser.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	dec := json.NewDecoder(f)

	tok, err := dec.Token()
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if _, ok := tok.(json.Delim); !ok {
		return Config{}, fmt.Errorf("config: %s: expected a top-level object", path)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
		key, _ := keyTok.(string)

		if !topLevelKeys[key] {
			configLog.Warnf("unknown configuration node: %q", key)
		}

		switch key {
		case "min_update_period":
			v, err := decodeSeconds(dec)
			if err != nil {
				return Config{}, fmt.Errorf("config: %s: %s: %w", path, key, err)
			}
			cfg.MinUpdatePeriod = v
		case "polled_fields_update_period":
			v, err := decodeSeconds(dec)
			if err != nil {
				return Config{}, fmt.Errorf("config: %s: %s: %w", path, key, err)
			}
			cfg.PolledFieldsUpdatePeriod = v
		case "heartbeat_period":
			v, err := decodeSeconds(dec)
			if err != nil {
				return Config{}, fmt.Errorf("config: %s: %s: %w", path, key, err)
			}
			cfg.HeartbeatPeriod = v
		case "rate_limit_mbs":
			var v float64
			if err := dec.Decode(&v); err != nil {
				return Config{}, fmt.Errorf("config: %s: %s: %w", path, key, err)
			}
			cfg.RateLimitMBs = uint32(v)
		case "channel_names":
			channels, err := decodeChannels(dec)
			if err != nil {
				return Config{}, fmt.Errorf("config: %s: %s: %w", path, key, err)
			}
			cfg.Channels = channels
		default:
			if err := skipValue(dec); err != nil {
				return Config{}, fmt.Errorf("config: %s: skipping %q: %w", path, key, err)
			}
		}
	}

	if _, err := dec.Token(); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

func decodeSeconds(dec *json.Decoder) (time.Duration, error) {
	var v float64
	if err := dec.Decode(&v); err != nil {
		return 0, err
	}
	return time.Duration(v * float64(time.Second)), nil
}

// decodeChannels walks the object value of "channel_names", preserving
// the order its keys appear in the source document.
func decodeChannels(dec *json.Decoder) ([]Channel, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, fmt.Errorf("expected an object")
	}

	var channels []Channel
	for dec.More() {
		nameTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := nameTok.(string)

		ch, err := decodeOneChannel(dec)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", name, err)
		}
		ch.Name = name
		channels = append(channels, ch)
	}

	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, err
	}
	return channels, nil
}

func decodeOneChannel(dec *json.Decoder) (Channel, error) {
	tok, err := dec.Token()
	if err != nil {
		return Channel{}, err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return Channel{}, fmt.Errorf("expected an object")
	}

	var ch Channel
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Channel{}, err
		}
		key, _ := keyTok.(string)

		switch key {
		case "extra_fields":
			fields, err := decodeStringArray(dec)
			if err != nil {
				return Channel{}, err
			}
			ch.ExtraFields = fields
		case "polled_fields":
			fields, err := decodeStringArray(dec)
			if err != nil {
				return Channel{}, err
			}
			ch.PolledFields = fields
		default:
			configLog.Warnf("unknown configuration node: %q", key)
			if err := skipValue(dec); err != nil {
				return Channel{}, err
			}
		}
	}

	if _, err := dec.Token(); err != nil { // closing '}'
		return Channel{}, err
	}
	return ch, nil
}

func decodeStringArray(dec *json.Decoder) ([]string, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '[' {
		return nil, fmt.Errorf("expected an array")
	}

	var out []string
	for dec.More() {
		var s string
		if err := dec.Decode(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	if _, err := dec.Token(); err != nil { // closing ']'
		return nil, err
	}
	return out, nil
}

// skipValue discards one JSON value of any shape, used for unrecognised
// keys at any nesting level.
func skipValue(dec *json.Decoder) error {
	var raw json.RawMessage
	return dec.Decode(&raw)
}
