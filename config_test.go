// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"os"
	"testing"

	"github.com/kelseyhightower/envconfig"
)

func TestConfigDefaults(t *testing.T) {
	clearConfigEnv(t)
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		t.Fatalf("envconfig.Process: %v", err)
	}
	want := Config{
		OverrideMinImageCount: 0,
		StrictImageCount:      false,
		EnsureMinImageCount:   false,
		XwaylandWaitReady:     true,
	}
	if cfg != want {
		t.Fatalf("defaults = %+v, want %+v", cfg, want)
	}
}

func TestConfigOverridePrecedence(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("VK_X11_OVERRIDE_MIN_IMAGE_COUNT", "4")
	t.Setenv("VK_X11_STRICT_IMAGE_COUNT", "true")
	t.Setenv("VK_XWAYLAND_WAIT_READY", "false")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		t.Fatalf("envconfig.Process: %v", err)
	}
	if cfg.OverrideMinImageCount != 4 {
		t.Errorf("OverrideMinImageCount = %d, want 4", cfg.OverrideMinImageCount)
	}
	if !cfg.StrictImageCount {
		t.Error("StrictImageCount = false, want true")
	}
	if cfg.XwaylandWaitReady {
		t.Error("XwaylandWaitReady = true, want false (explicitly overridden)")
	}
	if cfg.EnsureMinImageCount {
		t.Error("EnsureMinImageCount = true, want false (untouched default)")
	}
}

func TestParseDebugFlags(t *testing.T) {
	cases := []struct {
		in   string
		want debugFlags
	}{
		{"", debugFlags{}},
		{"noshm", debugFlags{NoSHM: true}},
		{"NoSHM", debugFlags{NoSHM: true}},
		{"something,noshm,other", debugFlags{NoSHM: true}},
		{"something,other", debugFlags{}},
	}
	for _, c := range cases {
		if got := parseDebugFlags(c.in); got != c.want {
			t.Errorf("parseDebugFlags(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"VK_X11_OVERRIDE_MIN_IMAGE_COUNT",
		"VK_X11_STRICT_IMAGE_COUNT",
		"VK_X11_ENSURE_MIN_IMAGE_COUNT",
		"VK_XWAYLAND_WAIT_READY",
	} {
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("Unsetenv(%s): %v", k, err)
		}
	}
}
