// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// PixelFormat identifies one of the small set of swapchain image formats
// this backend is willing to advertise.
type PixelFormat int

const (
	BGRA8sRGB PixelFormat = iota
	BGRA8UNorm
	A2R10G10B10UNormPack32
)

// CompositeAlpha flags, matching VkCompositeAlphaFlagBitsKHR's subset used
// here.
type CompositeAlpha uint32

const (
	CompositeAlphaOpaque        CompositeAlpha = 1 << 0
	CompositeAlphaPreMultiplied CompositeAlpha = 1 << 1
	CompositeAlphaInherit       CompositeAlpha = 1 << 2
)

// ImageUsage flags, matching the subset of VkImageUsageFlagBits this
// backend advertises as supported swapchain image usage.
type ImageUsage uint32

const (
	UsageTransferSrc     ImageUsage = 1 << 0
	UsageTransferDst     ImageUsage = 1 << 1
	UsageSampled         ImageUsage = 1 << 2
	UsageStorage         ImageUsage = 1 << 3
	UsageColorAttachment ImageUsage = 1 << 4
	UsageInputAttachment ImageUsage = 1 << 5
)

const supportedUsage = UsageTransferSrc | UsageSampled | UsageTransferDst |
	UsageStorage | UsageColorAttachment | UsageInputAttachment

// Extent2D is a 2D size in pixels.
type Extent2D struct{ Width, Height uint32 }

// Rect is an integer rectangle.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}

// SurfaceFormat pairs a pixel format with a color space, as reported by
// GetFormats.
type SurfaceFormat struct {
	Format     PixelFormat
	ColorSpace string // always "SRGB_NONLINEAR" for this backend
}

// SurfaceCapabilities is the result of GetCapabilities.
type SurfaceCapabilities struct {
	MinImageCount           int
	MaxImageCount           int // 0 means unbounded
	CurrentExtent           Extent2D
	MinImageExtent          Extent2D
	MaxImageExtent          Extent2D
	MaxImageArrayLayers     int
	SupportedCompositeAlpha CompositeAlpha
	SupportedUsageFlags     ImageUsage
}

// Surface is a Vulkan surface object bound to a single (connection,
// window) pair.
type Surface struct {
	conn   *xgb.Conn
	window xproto.Window
	info   *ConnectionInfo
}

// NewSurfaceFromXCB creates a Surface bound to window on conn, probing (and
// caching) the connection's capabilities.
func NewSurfaceFromXCB(conn *xgb.Conn, window xproto.Window) (*Surface, error) {
	info, err := Registry().Lookup(conn)
	if err != nil {
		return nil, err
	}
	return &Surface{conn: conn, window: window, info: info}, nil
}

// NewSurfaceFromXlib creates a Surface from an Xlib display and window.
// This backend always receives an already-open XCB connection (the generic
// Vulkan WSI facade is responsible for converting an Xlib Display* via the
// XGetXCBConnection equivalent before calling into this package), so this
// constructor only documents that contract and forwards to
// NewSurfaceFromXCB.
func NewSurfaceFromXlib(conn *xgb.Conn, window uint32) (*Surface, error) {
	return NewSurfaceFromXCB(conn, xproto.Window(window))
}

// GetSupport reports whether this surface can be presented to at all. DRI3
// absence only drops a surface into the software PutImage path (see
// CreateSwapchain); it is never grounds for reporting no support.
func (s *Surface) GetSupport() (bool, error) {
	attrs, err := xproto.GetWindowAttributes(s.conn, s.window).Reply()
	if err != nil {
		return false, errForWindowQuery(err)
	}
	switch attrs.Class {
	case xproto.WindowClassInputOutput, xproto.WindowClassCopyFromParent:
	default:
		return false, nil
	}
	vis, err := visualFor(s.conn, s.window, attrs.Visual)
	if err != nil {
		return false, err
	}
	return vis.class == visualClassTrueColor || vis.class == visualClassDirectColor, nil
}

// GetCapabilities returns the surface's current capabilities.
func (s *Surface) GetCapabilities() (SurfaceCapabilities, error) {
	geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(s.window)).Reply()
	if err != nil {
		return SurfaceCapabilities{}, errForWindowQuery(err)
	}
	extent := Extent2D{Width: uint32(geom.Width), Height: uint32(geom.Height)}

	min := 3
	if cfg := GlobalConfig(); cfg.OverrideMinImageCount > 0 {
		min = cfg.OverrideMinImageCount
	}

	attrs, err := xproto.GetWindowAttributes(s.conn, s.window).Reply()
	if err != nil {
		return SurfaceCapabilities{}, errForWindowQuery(err)
	}
	vis, err := visualFor(s.conn, s.window, attrs.Visual)
	if err != nil {
		return SurfaceCapabilities{}, err
	}

	alpha := CompositeAlphaInherit | CompositeAlphaOpaque
	if vis.hasAlphaBits {
		alpha = CompositeAlphaInherit | CompositeAlphaPreMultiplied
	}

	return SurfaceCapabilities{
		MinImageCount:           min,
		MaxImageCount:           0,
		CurrentExtent:           extent,
		MinImageExtent:          extent,
		MaxImageExtent:          extent,
		MaxImageArrayLayers:     1,
		SupportedCompositeAlpha: alpha,
		SupportedUsageFlags:     supportedUsage,
	}, nil
}

// candidateFormats is the static table GetFormats filters against the
// window's visual.
var candidateFormats = []struct {
	format      PixelFormat
	bitsPerChan int
}{
	{BGRA8sRGB, 8},
	{BGRA8UNorm, 8},
	{A2R10G10B10UNormPack32, 10},
}

// GetFormats returns the surface formats supported by the window's visual.
func (s *Surface) GetFormats() ([]SurfaceFormat, error) {
	attrs, err := xproto.GetWindowAttributes(s.conn, s.window).Reply()
	if err != nil {
		return nil, errForWindowQuery(err)
	}
	vis, err := visualFor(s.conn, s.window, attrs.Visual)
	if err != nil {
		return nil, err
	}

	var out []SurfaceFormat
	for _, c := range candidateFormats {
		if popcount(vis.redMask) == c.bitsPerChan &&
			popcount(vis.greenMask) == c.bitsPerChan &&
			popcount(vis.blueMask) == c.bitsPerChan {
			out = append(out, SurfaceFormat{Format: c.format, ColorSpace: "SRGB_NONLINEAR"})
		}
	}
	return out, nil
}

// GetPresentModes returns the static list of present modes this backend
// implements.
func (s *Surface) GetPresentModes() []PresentMode {
	return []PresentMode{Immediate, Mailbox, FIFO, FIFORelaxed}
}

// GetPresentRectangles returns the single presentable rectangle at (0,0)
// covering the window's current geometry.
func (s *Surface) GetPresentRectangles() ([]Rect, error) {
	geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(s.window)).Reply()
	if err != nil {
		return nil, errForWindowQuery(err)
	}
	return []Rect{{X: 0, Y: 0, Width: uint32(geom.Width), Height: uint32(geom.Height)}}, nil
}

// errForWindowQuery maps a failed/NULL query reply (a destroyed window) to
// ErrSurfaceLost, per spec §4.2.
func errForWindowQuery(err error) error {
	return &surfaceLostError{cause: err}
}

type surfaceLostError struct{ cause error }

func (e *surfaceLostError) Error() string { return "vkxpresent: surface lost: " + e.cause.Error() }
func (e *surfaceLostError) Result() Result { return ErrSurfaceLost }

func popcount(mask uint32) int {
	n := 0
	for mask != 0 {
		n += int(mask & 1)
		mask >>= 1
	}
	return n
}
