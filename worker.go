// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// workerLoop is the goroutine that paces presentation for swapchains that
// need more than "submit and forget": FIFO-family modes (strict MSC
// pacing) and MAILBOX/IMMEDIATE-under-Xwayland (a pre-submit fence wait to
// avoid racing the compositor). See spec §4.4.5.
type workerLoop struct {
	s    *Swapchain
	done chan struct{}
}

// startWorker launches the worker goroutine for s and returns its handle.
// s.presentQueue must already be allocated.
func startWorker(s *Swapchain) *workerLoop {
	w := &workerLoop{s: s, done: make(chan struct{})}
	go w.run()
	return w
}

// run consumes presentQueue until it receives the sentinel or a present
// latches a fatal status. On exit it pushes the sentinel onto acquireQueue
// (when there is one) so a blocked AcquireNextImage returns the status.
func (w *workerLoop) run() {
	defer close(w.done)
	s := w.s
	wakeAcquirer := func() {
		if s.hasAcquireQueue {
			select {
			case s.acquireQueue <- sentinelIndex:
			default:
			}
		}
	}
	for {
		idx := <-s.presentQueue
		if idx == sentinelIndex {
			wakeAcquirer()
			return
		}
		w.presentOne(int(idx))
		if s.loadStatus().fatal() {
			wakeAcquirer()
			return
		}
	}
}

// presentOne carries one queued image through the optional pre-submit
// fence wait, target-MSC computation, the PresentPixmap request, and (for
// FIFO-family modes) the pacing drain that keeps the client from getting
// more than minImageCount-1 images ahead of the display.
func (w *workerLoop) presentOne(idx int) {
	s := w.s
	im := &s.images[idx]

	if s.needsPresubmitWait() {
		im.fence.await()
	}

	im.fence.reset()
	serial := nextSerial(s.sendSBC.Add(1))
	im.serial = serial
	im.presentQueued = true
	s.sentImageCount.Add(1)

	targetMSC := w.targetMSC()
	opts := presentOptionsFor(s.presentMode, s.connInfo.IsXwayland, s.connInfo.HasDRI3Modifiers, s.forcesPrimeBlit)

	if s.isSoftware {
		if _, err := putImageChunked(s.conn, s.window, s.gc, im, uint16(s.extent.Width), uint16(s.extent.Height), maxRequestBytes(s.conn)); err != nil {
			s.latch(resultFromError(err))
			im.fence.trigger()
			return
		}
		// Software presents have no server-side completion notification to
		// release the fence or mark the image idle, and no pixmap to hand
		// off to Present either; do both synchronously and stop here.
		im.fence.trigger()
		s.onImagePresentedSoftware(idx)
		return
	}

	if err := presentPixmapRequest(s.conn, s.window, im, serial, opts, targetMSC); err != nil {
		s.latch(resultFromError(err))
		return
	}

	if s.hasAcquireQueue {
		w.drainFIFOPacing(idx)
	}
}

// needsPresubmitWait reports whether this present should block on the
// image's fence before submitting, per spec §4.4.5: for MAILBOX, and for
// IMMEDIATE under Xwayland; under Xwayland with XwaylandWaitReady false,
// never.
func (s *Swapchain) needsPresubmitWait() bool {
	return needsPrefenceWait(s.presentMode, s.connInfo.IsXwayland, GlobalConfig())
}

// targetMSC computes the Present request's target_msc: the next vblank
// after the last one presented to, for FIFO-family modes (strict pacing);
// zero (present as soon as possible) otherwise.
func (w *workerLoop) targetMSC() uint64 {
	s := w.s
	if !s.hasAcquireQueue {
		return 0
	}
	last := s.lastPresentMSC.Load()
	if last == 0 {
		return 0
	}
	return last + 1
}

// drainFIFOPacing blocks until both: the image just presented (idx) has
// had its COMPLETE_NOTIFY processed (presentQueued cleared, which is also
// what stores lastPresentMSC for the next frame's targetMSC), and the
// image pool has room for another present to be queued without the client
// getting more than minImageCount-1 images ahead of the compositor, per
// spec §4.4.5's FIFO pacing rule. It processes events directly (this
// goroutine owns the special event stream in FIFO-family modes).
func (w *workerLoop) drainFIFOPacing(idx int) {
	s := w.s
	for {
		s.imagesMu.Lock()
		stillQueued := s.images[idx].presentQueued
		s.imagesMu.Unlock()
		if !stillQueued && int(s.sentImageCount.Load()) < s.minImg {
			return
		}
		ev := <-s.events
		s.handleEvent(ev)
	}
}

// onImagePresentedSoftware performs the idle/release bookkeeping that, on
// the DRI3/Present path, arrives as an IDLE_NOTIFY event: software
// presents have no such notification, so the worker does it inline right
// after the copy completes.
func (s *Swapchain) onImagePresentedSoftware(idx int) {
	s.imagesMu.Lock()
	s.images[idx].busy = false
	s.imagesMu.Unlock()
	s.sentImageCount.Add(-1)
	if s.hasAcquireQueue {
		s.acquireQueue <- uint32(idx)
	}
}

// maxRequestBytes returns the connection's maximum request length in
// bytes, for chunking software PutImage requests. MaximumRequestLength is
// expressed in units of 4 bytes, per the X11 connection setup reply.
func maxRequestBytes(conn *xgb.Conn) int {
	setup := xproto.Setup(conn)
	if setup == nil {
		return 16384
	}
	return int(setup.MaximumRequestLength) * 4
}
