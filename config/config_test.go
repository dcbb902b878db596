// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "diode.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadFilePreservesChannelOrder(t *testing.T) {
	path := writeTempConfig(t, `{
		"min_update_period": 0.2,
		"heartbeat_period": 10,
		"rate_limit_mbs": 32,
		"channel_names": {
			"chan:b": {"extra_fields": ["HIHI", "LOLO"]},
			"chan:a": {"polled_fields": ["DESC"]},
			"chan:c": {}
		}
	}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if len(cfg.Channels) != 3 {
		t.Fatalf("expected 3 channels, got %d", len(cfg.Channels))
	}
	wantOrder := []string{"chan:b", "chan:a", "chan:c"}
	for i, want := range wantOrder {
		if cfg.Channels[i].Name != want {
			t.Fatalf("channel %d: got %q, want %q", i, cfg.Channels[i].Name, want)
		}
	}
	if cfg.MinUpdatePeriod != 200*time.Millisecond {
		t.Fatalf("min_update_period: got %s", cfg.MinUpdatePeriod)
	}
	if cfg.HeartbeatPeriod != 10*time.Second {
		t.Fatalf("heartbeat_period: got %s", cfg.HeartbeatPeriod)
	}
	if cfg.RateLimitMBs != 32 {
		t.Fatalf("rate_limit_mbs: got %d", cfg.RateLimitMBs)
	}
	if cfg.PolledFieldsUpdatePeriod != DefaultPolledFieldsUpdatePeriod {
		t.Fatalf("expected default polled_fields_update_period, got %s", cfg.PolledFieldsUpdatePeriod)
	}

	if cfg.Channels[0].ExtraFields[0] != "HIHI" || cfg.Channels[0].ExtraFields[1] != "LOLO" {
		t.Fatalf("unexpected extra fields: %+v", cfg.Channels[0])
	}
	if cfg.Channels[1].PolledFields[0] != "DESC" {
		t.Fatalf("unexpected polled fields: %+v", cfg.Channels[1])
	}
}

func TestLoadFileMissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestFlattenOrderAndIndices(t *testing.T) {
	cfg := Config{Channels: []Channel{
		{Name: "pv:1", ExtraFields: []string{"HIHI"}, PolledFields: []string{"DESC"}},
		{Name: "pv:2"},
	}}

	flat := Flatten(cfg)
	if len(flat) != 4 {
		t.Fatalf("expected 4 flat entries, got %d", len(flat))
	}

	wantNames := []string{"pv:1", "pv:1.HIHI", "pv:1.DESC", "pv:2"}
	for i, want := range wantNames {
		if flat[i].Index != uint32(i) {
			t.Fatalf("entry %d: index %d, want %d", i, flat[i].Index, i)
		}
		if got := flat[i].FullName(cfg); got != want {
			t.Fatalf("entry %d: name %q, want %q", i, got, want)
		}
	}
	if !flat[2].Polled {
		t.Fatal("expected pv:1.DESC to be polled")
	}
	if flat[1].Polled {
		t.Fatal("expected pv:1.HIHI to not be polled")
	}
}

func TestHashIsOrderSensitive(t *testing.T) {
	base := Config{
		MinUpdatePeriod:          DefaultMinUpdatePeriod,
		PolledFieldsUpdatePeriod: DefaultPolledFieldsUpdatePeriod,
		HeartbeatPeriod:          DefaultHeartbeatPeriod,
		RateLimitMBs:             DefaultRateLimitMBs,
		Channels: []Channel{
			{Name: "a"},
			{Name: "b"},
		},
	}
	reordered := base
	reordered.Channels = []Channel{base.Channels[1], base.Channels[0]}

	if Hash(base) == Hash(reordered) {
		t.Fatal("expected channel order to affect the hash")
	}
}

func TestHashIsStableAcrossCalls(t *testing.T) {
	cfg := Default()
	cfg.Channels = []Channel{{Name: "pv:1", ExtraFields: []string{"HIHI"}}}

	if Hash(cfg) != Hash(cfg) {
		t.Fatal("expected Hash to be deterministic")
	}
}

func TestValidateCatchesAllProblems(t *testing.T) {
	cfg := Config{
		MinUpdatePeriod: -1,
		Channels: []Channel{
			{Name: "dup", ExtraFields: []string{"A", "A"}},
			{Name: "dup"},
		},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := Default()
	cfg.Channels = []Channel{{Name: "pv:1"}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
