// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"os"

	"github.com/rs/zerolog"
)

// log is the package-wide structured logger. It writes to stderr through a
// console writer and sets no level of its own; callers that embed this
// package into a larger driver can replace it wholesale with SetLogger to route through their own
// sink instead.
var log zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
	With().Timestamp().Str("component", "vkxpresent").Logger()

// SetLogger replaces the package-wide logger. It is not safe to call
// concurrently with any other exported function of this package.
func SetLogger(l zerolog.Logger) {
	log = l
}

// swapchainLog returns a logger annotated with fields identifying one
// swapchain, for use in event-handler and worker diagnostics.
func (s *Swapchain) swapchainLog() *zerolog.Logger {
	l := log.With().
		Uint32("window", uint32(s.window)).
		Str("present_mode", s.presentMode.String()).
		Logger()
	return &l
}
