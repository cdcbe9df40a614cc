// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/dri3"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"
	"golang.org/x/sys/unix"
)

// sentinelIndex wakes a blocked acquire/present queue consumer without
// delivering a real image index, used both to signal worker death and to
// wake destruction.
const sentinelIndex = ^uint32(0)

// ImageFactory is the external collaborator that allocates GPU images and
// exports them as WSIImage values. Its concrete implementation (device
// allocation, DMA-buf export, synchronization-primitive creation) is out of
// this package's scope.
type ImageFactory interface {
	// NewImages allocates n images of the given extent/depth, usable as
	// swapchain backbuffers.
	NewImages(n int, extent Extent2D, depth uint8) ([]WSIImage, error)

	// DestroyImage releases the resources backing one previously-allocated
	// WSIImage.
	DestroyImage(WSIImage)
}

// SwapchainCreateInfo configures a new Swapchain.
type SwapchainCreateInfo struct {
	Window        xproto.Window
	MinImageCount int
	Extent        Extent2D
	Depth         uint8
	PresentMode   PresentMode
	Factory       ImageFactory
	AdaptiveSync  bool
}

// Swapchain is the concurrent state machine described in spec §3/§4.4: a
// fixed-size pool of images, an image-ownership/event-driven status
// machine, and (for FIFO-family modes) a worker goroutine pacing
// presentation against the display's refresh.
type Swapchain struct {
	conn     *xgb.Conn
	connInfo *ConnectionInfo
	factory  ImageFactory

	window xproto.Window
	gc     xproto.Gcontext
	depth  uint8
	extent Extent2D

	presentMode PresentMode
	eventID     xproto.EventId
	events      chan presentEvent

	sendSBC        atomic.Uint64
	lastPresentMSC atomic.Uint64
	sentImageCount atomic.Int32

	statusMu         sync.Mutex
	status           Result
	copyIsSuboptimal bool

	minImg int

	hasPresentQueue bool
	hasAcquireQueue bool
	presentQueue    chan uint32
	acquireQueue    chan uint32

	imagesMu sync.Mutex
	images   []image

	isSoftware        bool
	xwaylandWaitReady bool
	forcesPrimeBlit   bool

	worker  *workerLoop
	closing atomic.Bool
}

// CreateSwapchain creates a new Swapchain against an already-open
// connection and window.
func CreateSwapchain(conn *xgb.Conn, info SwapchainCreateInfo) (*Swapchain, error) {
	connInfo, err := Registry().Lookup(conn)
	if err != nil {
		return nil, err
	}

	cfg := GlobalConfig()
	n := chooseImageCount(info.MinImageCount, info.PresentMode, cfg)

	wsiImages, err := info.Factory.NewImages(n, info.Extent, info.Depth)
	if err != nil {
		return nil, err
	}

	s := &Swapchain{
		conn:              conn,
		connInfo:          connInfo,
		factory:           info.Factory,
		window:            info.Window,
		depth:             info.Depth,
		extent:            info.Extent,
		presentMode:       info.PresentMode,
		minImg:            info.MinImageCount,
		images:            make([]image, n),
		isSoftware:        !connInfo.HasDRI3,
		xwaylandWaitReady: cfg.XwaylandWaitReady,
	}
	s.hasAcquireQueue = info.PresentMode == FIFO || info.PresentMode == FIFORelaxed
	s.hasPresentQueue = s.hasAcquireQueue || s.isSoftware ||
		needsPrefenceWait(info.PresentMode, connInfo.IsXwayland, cfg)

	if s.hasPresentQueue {
		s.presentQueue = make(chan uint32, n+1)
	}
	if s.hasAcquireQueue {
		s.acquireQueue = make(chan uint32, n+1)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		s.releaseImages(wsiImages)
		return nil, err
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(info.Window), 0, nil).Check(); err != nil {
		s.releaseImages(wsiImages)
		return nil, err
	}
	s.gc = gc

	if err := s.initImages(wsiImages); err != nil {
		s.teardownPartial()
		return nil, err
	}

	if info.Factory != nil && !s.isSoftware {
		if mismatch, ok := probeRenderNodeMismatch(conn, info.Window); ok {
			s.forcesPrimeBlit = mismatch
		}
	}

	s.events = make(chan presentEvent, 256)
	eid, err := selectPresentInput(conn, info.Window, s.events)
	if err != nil {
		s.teardownPartial()
		return nil, err
	}
	s.eventID = eid

	if s.hasAcquireQueue {
		for i := range s.images {
			s.acquireQueue <- uint32(i)
		}
	}

	if err := setAdaptiveSync(conn, connInfo, info.Window, info.AdaptiveSync); err != nil {
		s.swapchainLog().Warn().Err(err).Msg("failed to set adaptive sync hint")
	}

	if s.hasPresentQueue {
		s.worker = startWorker(s)
	}

	return s, nil
}

// chooseImageCount implements spec §4.4.1's three-way branch.
func chooseImageCount(requested int, mode PresentMode, cfg Config) int {
	n := requested
	switch {
	case cfg.StrictImageCount:
		// unchanged
	case needsPrefenceWaitForCount(mode):
		if n < 5 {
			n = 5
		}
	case cfg.EnsureMinImageCount:
		if n < 3 {
			n = 3
		}
	}
	return n
}

// needsPrefenceWaitForCount reports whether mode is one that, per spec
// §4.4.5, may perform a pre-present fence wait (MAILBOX always, or
// IMMEDIATE under Xwayland) and therefore needs extra backbuffers to avoid
// stalling the render thread on that wait.
func needsPrefenceWaitForCount(mode PresentMode) bool {
	return mode == Mailbox || mode == Immediate
}

// needsPrefenceWait additionally consults the Xwayland/config gating that
// decides whether the wait is actually performed: MAILBOX always waits and
// IMMEDIATE waits under Xwayland, except that under Xwayland with
// XwaylandWaitReady false no mode waits.
func needsPrefenceWait(mode PresentMode, isXwayland bool, cfg Config) bool {
	if isXwayland && !cfg.XwaylandWaitReady {
		return false
	}
	if mode == Mailbox {
		return true
	}
	if mode == Immediate && isXwayland {
		return true
	}
	return false
}

func (s *Swapchain) initImages(wsi []WSIImage) error {
	for i := range s.images {
		im := &s.images[i]
		im.WSIImage = wsi[i]

		region, err := xfixes.NewRegionId(s.conn)
		if err != nil {
			return err
		}
		if err := xfixes.CreateRegionChecked(s.conn, region, nil).Check(); err != nil {
			return err
		}
		im.updateRegion = region

		if err := createPixmap(s.conn, s.connInfo, s.window, im, uint16(s.extent.Width), uint16(s.extent.Height)); err != nil {
			return err
		}

		if s.isSoftware {
			// Software mode is selected precisely because DRI3 is absent
			// (see isSoftware), so there is no extension to bind a
			// server-triggered fence to: the driver always triggers this
			// one itself, synchronously, after each copy.
			fence, err := newLocalFence()
			if err != nil {
				return err
			}
			im.fence = fence
		} else {
			fence, sf, err := newShmFence(s.conn, xproto.Drawable(im.pixmap))
			if err != nil {
				return err
			}
			im.fence = fence
			im.syncFence = sf
		}
		im.reset()
	}
	return nil
}

func (s *Swapchain) releaseImages(wsi []WSIImage) {
	if s.factory == nil {
		return
	}
	for _, im := range wsi {
		s.factory.DestroyImage(im)
	}
}

func (s *Swapchain) teardownPartial() {
	for i := range s.images {
		s.destroyImage(i)
	}
	if s.gc != 0 {
		xproto.FreeGC(s.conn, s.gc)
	}
}

// AcquireNextImage implements spec §4.4.2. Only one goroutine may call this
// on a given swapchain at a time.
func (s *Swapchain) AcquireNextImage(timeout time.Duration) (int, Result) {
	if st := s.loadStatus(); st.fatal() {
		return -1, st
	}

	switch {
	case s.isSoftware && s.connInfo != nil && !s.connInfo.HasMITShm:
		return s.acquireSoftwareNoSHM()
	case s.hasAcquireQueue:
		return s.acquireFromQueue(timeout)
	default:
		return s.acquirePoll(timeout)
	}
}

// acquireSoftwareNoSHM implements the software-without-SHM path: scan for
// any non-busy image and claim it synchronously. Per spec §9 Open
// Question, timeout is ignored here by design; NotReady is returned
// immediately if every image is busy rather than polling.
func (s *Swapchain) acquireSoftwareNoSHM() (int, Result) {
	s.imagesMu.Lock()
	defer s.imagesMu.Unlock()
	for i := range s.images {
		if !s.images[i].busy {
			s.images[i].busy = true
			return i, s.sampleGeometryStatus()
		}
	}
	return -1, NotReady
}

// sampleGeometryStatus samples the window's current geometry and latches
// Suboptimal if it has drifted from the swapchain's extent.
func (s *Swapchain) sampleGeometryStatus() Result {
	geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(s.window)).Reply()
	if err != nil {
		return s.latch(ErrSurfaceLost)
	}
	if uint32(geom.Width) != s.extent.Width || uint32(geom.Height) != s.extent.Height {
		return s.latch(Suboptimal)
	}
	return s.loadStatus()
}

func (s *Swapchain) acquireFromQueue(timeout time.Duration) (int, Result) {
	if timeout == 0 {
		select {
		case idx := <-s.acquireQueue:
			return s.finishAcquire(idx)
		default:
			return -1, NotReady
		}
	}
	idx, ok := recvWithTimeout(s.acquireQueue, timeout)
	if !ok {
		return -1, Timeout
	}
	return s.finishAcquire(idx)
}

func (s *Swapchain) finishAcquire(idx uint32) (int, Result) {
	if idx == sentinelIndex {
		return -1, s.loadStatus()
	}
	s.images[idx].fence.await()
	return int(idx), s.loadStatus()
}

func (s *Swapchain) acquirePoll(timeout time.Duration) (int, Result) {
	deadline := time.Now().Add(timeout)
	for {
		s.imagesMu.Lock()
		for i := range s.images {
			if !s.images[i].busy {
				im := &s.images[i]
				s.imagesMu.Unlock()
				im.fence.await()
				return i, s.loadStatus()
			}
		}
		s.imagesMu.Unlock()

		if timeout == 0 {
			return -1, NotReady
		}

		remaining := timeout
		if timeout > 0 {
			if remaining = time.Until(deadline); remaining <= 0 {
				return -1, Timeout
			}
		}
		if ok := s.waitForEventOrDeadline(remaining); !ok {
			return -1, Timeout
		}
	}
}

// waitForEventOrDeadline drains and handles one pending event (blocking
// indefinitely if timeout < 0, otherwise bounded by an absolute deadline
// recomputed on every spurious wake so interrupts don't inflate the wait).
func (s *Swapchain) waitForEventOrDeadline(timeout time.Duration) bool {
	if timeout < 0 {
		ev := <-s.events
		s.handleEvent(ev)
		return true
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
			return true
		case <-time.After(remaining):
			return false
		}
	}
}

func recvWithTimeout(ch chan uint32, timeout time.Duration) (uint32, bool) {
	if timeout < 0 {
		return <-ch, true
	}
	if timeout == 0 {
		select {
		case v := <-ch:
			return v, true
		default:
			return 0, false
		}
	}
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		return 0, false
	}
}

// QueuePresent implements spec §4.4.3.
func (s *Swapchain) QueuePresent(imageIndex int, damage []Rect) Result {
	if st := s.loadStatus(); st.fatal() {
		return st
	}
	if err := setDamage(s.conn, &s.images[imageIndex], damage); err != nil {
		return s.latch(resultFromError(err))
	}

	s.imagesMu.Lock()
	s.images[imageIndex].busy = true
	s.imagesMu.Unlock()

	if s.hasPresentQueue {
		s.presentQueue <- uint32(imageIndex)
		return s.loadStatus()
	}
	return s.presentDirect(imageIndex)
}

// presentDirect handles the without-worker path (IMMEDIATE, or MAILBOX
// under Xwayland with XwaylandWaitReady false): no fence wait, no pacing,
// present right now.
func (s *Swapchain) presentDirect(imageIndex int) Result {
	im := &s.images[imageIndex]
	im.fence.reset()
	serial := nextSerial(s.sendSBC.Add(1))
	im.serial = serial
	im.presentQueued = true
	s.sentImageCount.Add(1)

	opts := presentOptionsFor(s.presentMode, s.connInfo.IsXwayland, s.connInfo.HasDRI3Modifiers, s.forcesPrimeBlit)
	if err := presentPixmapRequest(s.conn, s.window, im, serial, opts, 0); err != nil {
		return s.latch(resultFromError(err))
	}
	return s.loadStatus()
}

// handleEvent implements the event demultiplexer of spec §4.4.4.
func (s *Swapchain) handleEvent(ev presentEvent) {
	switch ev.kind {
	case eventConfigureNotify:
		if uint32(ev.width) != s.extent.Width || uint32(ev.height) != s.extent.Height {
			s.latch(Suboptimal)
		}
	case eventIdleNotify:
		s.onIdleNotify(ev.idlePixmap)
	case eventCompleteNotify:
		if ev.ckind == presentCompleteKindPixmap {
			s.onCompleteNotify(ev)
		}
	}
}

func (s *Swapchain) onIdleNotify(pixmap xproto.Pixmap) {
	s.imagesMu.Lock()
	defer s.imagesMu.Unlock()
	for i := range s.images {
		if s.images[i].pixmap == pixmap {
			s.images[i].busy = false
			s.sentImageCount.Add(-1)
			if s.hasAcquireQueue {
				s.acquireQueue <- uint32(i)
			}
			return
		}
	}
}

func (s *Swapchain) onCompleteNotify(ev presentEvent) {
	s.imagesMu.Lock()
	var found *image
	for i := range s.images {
		im := &s.images[i]
		if im.presentQueued && im.serial == ev.serial {
			found = im
			im.presentQueued = false
			break
		}
	}
	s.imagesMu.Unlock()
	if found == nil {
		return
	}
	s.lastPresentMSC.Store(ev.msc)

	switch ev.mode {
	case presentCompleteModeCopy:
		s.statusMu.Lock()
		suboptimal := s.copyIsSuboptimal
		s.statusMu.Unlock()
		if suboptimal {
			s.latch(Suboptimal)
		}
	case presentCompleteModeFlip:
		s.statusMu.Lock()
		s.copyIsSuboptimal = true
		s.statusMu.Unlock()
	case presentCompleteModeSuboptimalCopy:
		s.latch(Suboptimal)
	}
}

// latch applies the status reducer and returns the resulting status.
func (s *Swapchain) latch(incoming Result) Result {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	prev := s.status
	s.status = reduce(s.status, incoming)
	if s.status != prev {
		if s.status.fatal() {
			s.swapchainLog().Error().Stringer("result", s.status).Msg("swapchain status latched")
		} else if s.status == Suboptimal && prev != Suboptimal {
			s.swapchainLog().Debug().Msg("swapchain marked suboptimal")
		}
	}
	return s.status
}

func (s *Swapchain) loadStatus() Result {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// Destroy implements spec §3's destruction lifecycle: latch out-of-date,
// wake the worker via the sentinel, join it, free per-image resources, and
// unregister the special event stream.
func (s *Swapchain) Destroy() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	s.latch(ErrOutOfDate)

	if s.worker != nil {
		s.presentQueue <- sentinelIndex
		<-s.worker.done
	}

	for i := range s.images {
		s.destroyImage(i)
	}

	if s.gc != 0 {
		xproto.FreeGC(s.conn, s.gc)
	}

	deselectPresentInput(s.conn, s.window, s.eventID)
}

func (s *Swapchain) destroyImage(i int) {
	im := &s.images[i]
	if im.fence != nil {
		im.fence.close()
	}
	if im.syncFence != 0 {
		destroySyncFence(s.conn, im.syncFence)
	}
	if im.updateRegion != 0 {
		xfixes.DestroyRegion(s.conn, im.updateRegion)
	}
	if im.shmSeg != 0 {
		seg := &softwareSegment{id: im.shmID, addr: im.shmAddr, seg: im.shmSeg}
		seg.close(s.conn)
	}
	if im.pixmap != 0 {
		xproto.FreePixmap(s.conn, im.pixmap)
	}
	if s.factory != nil {
		s.factory.DestroyImage(im.WSIImage)
	}
}

// defaultRenderNode is the render node this host's GPU allocations are
// assumed to come from, absent a way for the Image Factory to report
// otherwise. This matches the common single-GPU case; it is the only node
// the DRI3 device is compared against.
const defaultRenderNode = "/dev/dri/renderD128"

// probeRenderNodeMismatch opens the DRI3 device FD backing window's screen
// (dri3.Open) and compares its device number against defaultRenderNode,
// reporting whether a mismatch was detected (the "surface is on a
// different GPU than the one images were allocated from" case that forces
// a PRIME copy instead of a flip) and whether the probe itself succeeded.
func probeRenderNodeMismatch(conn *xgb.Conn, window xproto.Window) (mismatch bool, ok bool) {
	reply, err := dri3.Open(conn, xproto.Drawable(window), 0).Reply()
	if err != nil {
		return false, false
	}
	fd := int(reply.DeviceFd)
	defer unix.Close(fd)

	var devStat, wantStat unix.Stat_t
	if err := unix.Fstat(fd, &devStat); err != nil {
		return false, false
	}
	if err := unix.Stat(defaultRenderNode, &wantStat); err != nil {
		return false, false
	}
	return devStat.Rdev != wantStat.Rdev, true
}
