// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Command wsiprobe connects to the X server named by $DISPLAY, probes its
// DRI3/Present/XFixes/MIT-SHM capability set, and optionally reports the
// surface capabilities of a given window. It exists to make the state
// vkxpresent.ConnectionRegistry derives at swapchain-creation time visible
// from a shell, without having to instrument an actual Vulkan application.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/spf13/cobra"

	"github.com/gviegas/vkxpresent"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var windowArg string

	cmd := &cobra.Command{
		Use:   "wsiprobe",
		Short: "Probe an X11 connection's WSI swapchain capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(windowArg)
		},
	}
	cmd.Flags().StringVarP(&windowArg, "window", "w", "", "window id (decimal or 0x-prefixed hex) to report surface capabilities for")
	return cmd
}

func run(windowArg string) error {
	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("connecting to X server: %w", err)
	}
	defer conn.Close()

	info, err := vkxpresent.Registry().Lookup(conn)
	if err != nil {
		return fmt.Errorf("probing connection: %w", err)
	}
	printConnectionInfo(info)

	if windowArg == "" {
		return nil
	}
	window, err := parseWindow(windowArg)
	if err != nil {
		return err
	}
	return printSurfaceInfo(conn, window)
}

func printConnectionInfo(info *vkxpresent.ConnectionInfo) {
	fmt.Printf("DRI3:            %v (modifiers: %v)\n", info.HasDRI3, info.HasDRI3Modifiers)
	fmt.Printf("Present:         %v\n", info.HasPresent)
	fmt.Printf("XFixes >= 2:     %v\n", info.HasXFixes)
	fmt.Printf("MIT-SHM:         %v\n", info.HasMITShm)
	fmt.Printf("Proprietary X11: %v\n", info.IsProprietaryX11)
	fmt.Printf("Xwayland:        %v\n", info.IsXwayland)
}

func printSurfaceInfo(conn *xgb.Conn, window xproto.Window) error {
	surf, err := vkxpresent.NewSurfaceFromXCB(conn, window)
	if err != nil {
		return fmt.Errorf("creating surface: %w", err)
	}
	supported, err := surf.GetSupport()
	if err != nil {
		return fmt.Errorf("querying support: %w", err)
	}
	fmt.Printf("\nWindow 0x%x support: %v\n", uint32(window), supported)
	if !supported {
		return nil
	}

	caps, err := surf.GetCapabilities()
	if err != nil {
		return fmt.Errorf("querying capabilities: %w", err)
	}
	fmt.Printf("min image count:     %d\n", caps.MinImageCount)
	fmt.Printf("current extent:      %dx%d\n", caps.CurrentExtent.Width, caps.CurrentExtent.Height)
	fmt.Printf("composite alpha:     %#x\n", uint32(caps.SupportedCompositeAlpha))

	formats, err := surf.GetFormats()
	if err != nil {
		return fmt.Errorf("querying formats: %w", err)
	}
	fmt.Printf("formats:             %v\n", formats)

	fmt.Printf("present modes:       %v\n", surf.GetPresentModes())
	return nil
}

func parseWindow(s string) (xproto.Window, error) {
	base := 10
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid window id %q: %w", s, err)
	}
	return xproto.Window(v), nil
}
