// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
)

// PresentMode identifies the pacing discipline used by a swapchain.
type PresentMode int

const (
	Immediate PresentMode = iota
	Mailbox
	FIFO
	FIFORelaxed
)

func (m PresentMode) String() string {
	switch m {
	case Immediate:
		return "immediate"
	case Mailbox:
		return "mailbox"
	case FIFO:
		return "fifo"
	case FIFORelaxed:
		return "fifo_relaxed"
	}
	return "unknown"
}

// Config holds the tunables of §6, decoded from the environment via
// envconfig. Config is read once per process (see GlobalConfig) and copied
// into each swapchain at creation time; mutating the global afterwards has
// no effect on already-created swapchains, matching the spec's framing of
// these as process-wide driver knobs rather than per-call arguments.
type Config struct {
	// OverrideMinImageCount forces the minImageCount reported by
	// GetCapabilities. Zero means no override.
	OverrideMinImageCount int `envconfig:"VK_X11_OVERRIDE_MIN_IMAGE_COUNT" default:"0"`

	// StrictImageCount, when true, uses exactly the requested
	// minImageCount when creating a swapchain instead of raising it.
	StrictImageCount bool `envconfig:"VK_X11_STRICT_IMAGE_COUNT" default:"false"`

	// EnsureMinImageCount, when true, never creates a swapchain with
	// fewer than 3 images.
	EnsureMinImageCount bool `envconfig:"VK_X11_ENSURE_MIN_IMAGE_COUNT" default:"false"`

	// XwaylandWaitReady, when false, disables the pre-submit fence wait
	// that the worker otherwise performs under Xwayland.
	XwaylandWaitReady bool `envconfig:"VK_XWAYLAND_WAIT_READY" default:"true"`
}

// debugFlags holds the parsed bits of WSI_DEBUG.
type debugFlags struct {
	NoSHM bool
}

func parseDebugFlags(s string) debugFlags {
	var f debugFlags
	for _, tok := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(tok)) {
		case "noshm":
			f.NoSHM = true
		}
	}
	return f
}

var (
	globalOnce  sync.Once
	globalCfg   Config
	globalDebug debugFlags
)

// loadGlobalConfig decodes Config from the environment and WSI_DEBUG from
// its own variable, caching the result for the lifetime of the process.
func loadGlobalConfig() {
	globalOnce.Do(func() {
		var cfg Config
		if err := envconfig.Process("", &cfg); err != nil {
			log.Warn().Err(err).Msg("vkxpresent: falling back to default config")
			cfg = Config{XwaylandWaitReady: true}
		}
		globalCfg = cfg
		globalDebug = parseDebugFlags(os.Getenv("WSI_DEBUG"))
	})
}

// GlobalConfig returns the process-wide configuration, decoding it from the
// environment on first use.
func GlobalConfig() Config {
	loadGlobalConfig()
	return globalCfg
}

// debug returns the process-wide WSI_DEBUG bits.
func debug() debugFlags {
	loadGlobalConfig()
	return globalDebug
}
