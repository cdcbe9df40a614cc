// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"errors"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// visual classes, mirroring the X11 core protocol's VisualClass values
// (xproto does not export named constants for these in every generator
// version, so they are restated here).
const (
	visualClassStaticGray = iota
	visualClassGrayScale
	visualClassStaticColor
	visualClassPseudoColor
	visualClassTrueColor
	visualClassDirectColor
)

// visualInfo is the subset of a VISUALTYPE record this package consults.
type visualInfo struct {
	class                        int
	redMask, greenMask, blueMask uint32
	hasAlphaBits                 bool
}

// visualFor locates the VISUALTYPE record for vid by walking the allowed
// depths of every screen in conn's setup information and returning the
// first visual whose ID matches; window is not consulted.
func visualFor(conn *xgb.Conn, window xproto.Window, vid xproto.Visualid) (visualInfo, error) {
	setup := xproto.Setup(conn)
	if setup == nil || len(setup.Roots) == 0 {
		return visualInfo{}, errors.New("vkxpresent: no screen in connection setup")
	}
	for _, screen := range setup.Roots {
		for _, depth := range screen.AllowedDepths {
			for _, v := range depth.Visuals {
				if v.VisualId != vid {
					continue
				}
				vi := visualInfo{
					class:     int(v.Class),
					redMask:   v.RedMask,
					greenMask: v.GreenMask,
					blueMask:  v.BlueMask,
				}
				// A visual has bits outside RGB (i.e., carries alpha) when
				// its depth exceeds the combined width of the three
				// channel masks, per spec §4.2's capability rule for
				// composite alpha.
				rgbBits := popcount(v.RedMask) + popcount(v.GreenMask) + popcount(v.BlueMask)
				vi.hasAlphaBits = int(depth.Depth) > rgbBits
				return vi, nil
			}
		}
	}
	return visualInfo{}, errors.New("vkxpresent: visual not found on connection's screen")
}
