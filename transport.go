// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/dri3"
	"github.com/jezek/xgb/present"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"
	"golang.org/x/sys/unix"
)

// present request options, matching the bit layout of the Present
// extension's PresentOptions.
const (
	presentOptionNone       uint32 = 0
	presentOptionAsync      uint32 = 1 << 0
	presentOptionCopy       uint32 = 1 << 1
	presentOptionUST        uint32 = 1 << 2
	presentOptionSuboptimal uint32 = 1 << 3
)

// dupCloexec duplicates fd with the close-on-exec flag set, for handing to
// a request that takes ownership of the duplicate. The caller retains (and
// is responsible for eventually closing) the original fd.
func dupCloexec(fd int) (int, error) {
	if fd < 0 {
		return -1, nil
	}
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("vkxpresent: dup fd: %w", err)
	}
	return int(nfd), nil
}

// createPixmap creates the server-side pixmap backing im, choosing among
// the DMA-buf-with-modifier, legacy single-FD, SHM-backed software and
// pixmap-less software paths according to the connection's capabilities
// and im's plane count.
func createPixmap(conn *xgb.Conn, info *ConnectionInfo, win xproto.Window, im *image, width, height uint16) error {
	switch {
	case im.CPUPointer != nil && info.HasMITShm:
		return createSoftwarePixmapFor(conn, win, im, width, height)
	case im.CPUPointer != nil:
		// No MIT-SHM: there is no pixmap to back. putImageChunked targets
		// the window directly with plain xproto.PutImage requests.
		return nil
	case info.HasDRI3Modifiers:
		return createDMABufPixmap(conn, win, im, width, height)
	case im.PlaneCount > 1:
		return &initFailedError{msg: "multi-plane image requires DRI3 modifier support"}
	default:
		return createLegacyPixmap(conn, win, im, width, height)
	}
}

// createDMABufPixmap implements the DRI3 >= 1.2 dri3.PixmapFromBuffers
// path: up to four dup'd, close-on-exec FDs (one per plane, -1 for unused
// planes), their pitches/offsets, and the format modifier.
func createDMABufPixmap(conn *xgb.Conn, win xproto.Window, im *image, width, height uint16) error {
	pixmap, err := xproto.NewPixmapId(conn)
	if err != nil {
		return err
	}

	var fds [4]int32
	for i := 0; i < 4; i++ {
		if i < im.PlaneCount {
			dup, err := dupCloexec(int(im.DmaBufFD[i]))
			if err != nil {
				return err
			}
			fds[i] = int32(dup)
		} else {
			fds[i] = -1
		}
	}

	err = dri3.PixmapFromBuffersChecked(
		conn, pixmap, win, uint8(im.PlaneCount),
		width, height,
		im.RowPitch[0], im.Offset[0],
		im.RowPitch[1], im.Offset[1],
		im.RowPitch[2], im.Offset[2],
		im.RowPitch[3], im.Offset[3],
		im.Depth, im.BitsPerPixel, im.Modifier,
		fds,
	).Check()
	if err != nil {
		return err
	}
	im.pixmap = pixmap
	return nil
}

// createLegacyPixmap implements the pre-1.2 DRI3 single-FD path. Callers
// must already have rejected multi-plane images.
func createLegacyPixmap(conn *xgb.Conn, win xproto.Window, im *image, width, height uint16) error {
	pixmap, err := xproto.NewPixmapId(conn)
	if err != nil {
		return err
	}
	dup, err := dupCloexec(int(im.DmaBufFD[0]))
	if err != nil {
		return err
	}
	size := uint32(im.PlaneSize[0])
	err = dri3.PixmapFromBufferChecked(
		conn, pixmap, win, size, width, height,
		uint16(im.RowPitch[0]), im.Depth, im.BitsPerPixel, int32(dup),
	).Check()
	if err != nil {
		return err
	}
	im.pixmap = pixmap
	return nil
}

// createSoftwarePixmapFor allocates a SysV SHM segment for im's linear
// buffer and attaches it server-side at im's row pitch.
func createSoftwarePixmapFor(conn *xgb.Conn, win xproto.Window, im *image, width, height uint16) error {
	size := int(im.RowPitch[0]) * int(height)
	seg, pixmap, err := newSoftwareSegment(conn, size, xproto.Drawable(win), width, height, im.Depth, im.RowPitch[0])
	if err != nil {
		return err
	}
	im.pixmap = pixmap
	im.shmSeg = seg.seg
	im.shmID = seg.id
	im.shmAddr = uintptr(seg.pointer())
	im.CPUPointer = seg.pointer()
	return nil
}

// setDamage copies up to 64 client-supplied damage rectangles into im's
// pre-allocated XFixes region, or clears it to mean "whole pixmap" when
// damage is empty.
func setDamage(conn *xgb.Conn, im *image, rects []Rect) error {
	if len(rects) == 0 {
		im.updateArea = 0
		return nil
	}
	if len(rects) > 64 {
		rects = rects[:64]
	}
	xr := make([]xproto.Rectangle, len(rects))
	for i, r := range rects {
		xr[i] = xproto.Rectangle{X: int16(r.X), Y: int16(r.Y), Width: uint16(r.Width), Height: uint16(r.Height)}
	}
	if err := xfixes.SetRegionChecked(conn, im.updateRegion, xr).Check(); err != nil {
		return err
	}
	im.updateArea = im.updateRegion
	return nil
}

// presentOptionsFor computes the Present request option bits for mode,
// per spec §4.3: ASYNC for IMMEDIATE, for MAILBOX on Xwayland, and for
// FIFO_RELAXED; SUBOPTIMAL when the connection supports DRI3 modifiers
// (opting into SUBOPTIMAL_COPY completion notifications).
func presentOptionsFor(mode PresentMode, isXwayland bool, hasModifiers bool, forcesPrimeBlit bool) uint32 {
	var opts uint32
	switch {
	case mode == Immediate:
		opts |= presentOptionAsync
	case mode == Mailbox && isXwayland:
		opts |= presentOptionAsync
	case mode == FIFORelaxed:
		opts |= presentOptionAsync
	}
	if hasModifiers {
		opts |= presentOptionSuboptimal
	}
	if forcesPrimeBlit {
		// The image was allocated on a different GPU than the one driving
		// this display; the server cannot flip it in place and must copy,
		// so ask for that up front instead of taking a COMPLETE_NOTIFY
		// round trip to discover it (see Swapchain.forcesPrimeBlit).
		opts |= presentOptionCopy
	}
	return opts
}

// presentPixmapRequest issues the Present extension's PresentPixmap
// request for im against window win.
func presentPixmapRequest(conn *xgb.Conn, win xproto.Window, im *image, serial uint32, options uint32, targetMSC uint64) error {
	return present.PresentPixmapChecked(
		conn, win, im.pixmap, serial,
		0,             /* valid region: none, whole pixmap valid */
		im.updateArea, /* update region */
		0, 0,          /* x-off, y-off */
		0, /* target CRTC: none specified */
		0, /* wait fence: none, we await client-side instead */
		im.syncFence,
		options,
		targetMSC,
		0, /* divisor */
		0, /* remainder */
		nil,
	).Check()
}

// putImageHeaderBytes is the fixed-size portion of a PutImage request
// ahead of the image data, per the core X11 protocol encoding.
const putImageHeaderBytes = 24

// scanlineChunk is one contiguous, non-overlapping range of scanlines
// sized to fit in a single PutImage request.
type scanlineChunk struct {
	startLine, lineCount int
}

// chunkScanlines computes the scanline ranges putImageChunked sends as
// separate PutImage requests, given the image's row pitch and the
// connection's maximum request size. Pure function, no I/O, so it is
// tested directly without a live connection.
func chunkScanlines(height, rowPitch, maxReqBytes int) []scanlineChunk {
	if rowPitch <= 0 || height <= 0 {
		return nil
	}
	linesPerChunk := (maxReqBytes - putImageHeaderBytes) / rowPitch
	if linesPerChunk < 1 {
		linesPerChunk = 1
	}
	var chunks []scanlineChunk
	for y := 0; y < height; y += linesPerChunk {
		n := linesPerChunk
		if y+n > height {
			n = height - y
		}
		chunks = append(chunks, scanlineChunk{startLine: y, lineCount: n})
	}
	return chunks
}

// putImageChunked implements the software present path: chunking a linear
// CPU-mapped buffer into xproto.PutImage requests no larger than the
// connection's maximum request length, with consecutive, non-overlapping
// scanline ranges.
func putImageChunked(conn *xgb.Conn, win xproto.Window, gc xproto.Gcontext, im *image, width, height uint16, maxReqBytes int) (chunks int, err error) {
	rowPitch := int(im.RowPitch[0])
	ranges := chunkScanlines(int(height), rowPitch, maxReqBytes)
	if ranges == nil {
		return 0, nil
	}
	data := unsafeBytesFromPointer(im.CPUPointer, rowPitch*int(height))

	for _, r := range ranges {
		chunk := data[r.startLine*rowPitch : (r.startLine+r.lineCount)*rowPitch]
		err := xproto.PutImageChecked(
			conn, xproto.ImageFormatZPixmap, xproto.Drawable(win), gc,
			width, uint16(r.lineCount), 0, int16(r.startLine), 0, im.Depth, chunk,
		).Check()
		if err != nil {
			return chunks, err
		}
		chunks++
	}
	return chunks, nil
}

// initFailedError reports an unrecoverable initialization condition at the
// transport layer (e.g., a multi-plane image with no modifier support).
type initFailedError struct{ msg string }

func (e *initFailedError) Error() string  { return "vkxpresent: " + e.msg }
func (e *initFailedError) Result() Result { return ErrInitializationFailed }
