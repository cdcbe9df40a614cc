// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"testing"
	"time"

	"github.com/jezek/xgb/xproto"
)

// triggeredFence returns a shmFence whose word is already set, without the
// mmap'd page newShmFence would otherwise require (which needs a live
// connection). close() on it is a no-op since mem is nil.
func triggeredFence() *shmFence {
	f := &shmFence{word: new(int32)}
	f.trigger()
	return f
}

func newTestSwapchain(n int, mode PresentMode) *Swapchain {
	s := &Swapchain{
		presentMode: mode,
		extent:      Extent2D{Width: 640, Height: 480},
		minImg:      n,
		images:      make([]image, n),
	}
	s.hasAcquireQueue = mode == FIFO || mode == FIFORelaxed
	if s.hasAcquireQueue {
		s.acquireQueue = make(chan uint32, n+1)
	}
	for i := range s.images {
		s.images[i].fence = triggeredFence()
	}
	return s
}

// TestNonBlockingAcquireDrains implements spec §8 scenario 1: a 3-image
// FIFO swapchain, four non-blocking acquires without presenting, expects
// [0, 1, 2, NotReady].
func TestNonBlockingAcquireDrains(t *testing.T) {
	s := newTestSwapchain(3, FIFO)
	for i := range s.images {
		s.acquireQueue <- uint32(i)
	}

	wantIdx := []int{0, 1, 2, -1}
	wantRes := []Result{Success, Success, Success, NotReady}
	for i := 0; i < 4; i++ {
		idx, res := s.AcquireNextImage(0)
		if idx != wantIdx[i] || res != wantRes[i] {
			t.Errorf("call %d: AcquireNextImage(0) = (%d, %v), want (%d, %v)", i, idx, res, wantIdx[i], wantRes[i])
		}
	}
}

// TestSuboptimalOnResize implements spec §8 scenario 2: a CONFIGURE_NOTIFY
// reporting a size that differs from the swapchain's extent latches
// Suboptimal, and it stays latched.
func TestSuboptimalOnResize(t *testing.T) {
	s := newTestSwapchain(3, FIFO)
	if got := s.loadStatus(); got != Success {
		t.Fatalf("initial status = %v, want Success", got)
	}

	s.handleEvent(presentEvent{kind: eventConfigureNotify, width: 800, height: 600})

	if got := s.loadStatus(); got != Suboptimal {
		t.Fatalf("status after resize = %v, want Suboptimal", got)
	}

	// Stays latched across further non-fatal events.
	s.handleEvent(presentEvent{kind: eventConfigureNotify, width: 800, height: 600})
	if got := s.loadStatus(); got != Suboptimal {
		t.Fatalf("status after second resize event = %v, want Suboptimal (sticky)", got)
	}
}

// TestFlipThenCopyLatchesSuboptimal implements spec §8 scenario 3: a FLIP
// completion sets the copy-is-suboptimal latch; a later COPY completion
// observes Suboptimal.
func TestFlipThenCopyLatchesSuboptimal(t *testing.T) {
	s := newTestSwapchain(3, FIFO)
	s.images[0].presentQueued = true
	s.images[0].serial = 1
	s.images[1].presentQueued = true
	s.images[1].serial = 2

	s.handleEvent(presentEvent{
		kind: eventCompleteNotify, ckind: presentCompleteKindPixmap,
		mode: presentCompleteModeFlip, serial: 1, msc: 100,
	})
	if got := s.loadStatus(); got != Success {
		t.Fatalf("status after FLIP completion = %v, want Success", got)
	}

	s.handleEvent(presentEvent{
		kind: eventCompleteNotify, ckind: presentCompleteKindPixmap,
		mode: presentCompleteModeCopy, serial: 2, msc: 101,
	})
	if got := s.loadStatus(); got != Suboptimal {
		t.Fatalf("status after subsequent COPY completion = %v, want Suboptimal", got)
	}
}

// TestDestroyWakesWorker implements spec §8 scenario 4: sending the
// sentinel on presentQueue causes the worker goroutine to observe it and
// exit within a bounded time, with no thread left running.
func TestDestroyWakesWorker(t *testing.T) {
	s := newTestSwapchain(3, FIFO)
	s.presentQueue = make(chan uint32, 4)
	s.worker = startWorker(s)

	// Simulate N-1 images still in flight; destroy must still return.
	s.sentImageCount.Store(2)

	s.presentQueue <- sentinelIndex

	select {
	case <-s.worker.done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit within 1s of receiving the sentinel")
	}
}

// TestIdleNotifyPushesAcquireQueueOnce implements the "at-most-once idle"
// universal property of spec §8 for a single IdleNotify event.
func TestIdleNotifyPushesAcquireQueueOnce(t *testing.T) {
	s := newTestSwapchain(2, FIFO)
	s.images[0].pixmap = xproto.Pixmap(42)
	s.images[0].busy = true
	s.sentImageCount.Store(1)

	s.handleEvent(presentEvent{kind: eventIdleNotify, idlePixmap: 42})

	select {
	case idx := <-s.acquireQueue:
		if idx != 0 {
			t.Fatalf("acquireQueue received %d, want 0", idx)
		}
	default:
		t.Fatal("acquireQueue did not receive a push after IdleNotify")
	}
	select {
	case idx := <-s.acquireQueue:
		t.Fatalf("acquireQueue received a second push (%d), want exactly one", idx)
	default:
	}
	if s.images[0].busy {
		t.Fatal("image 0 still marked busy after IdleNotify")
	}
}

func TestChooseImageCount(t *testing.T) {
	cases := []struct {
		name      string
		requested int
		mode      PresentMode
		cfg       Config
		want      int
	}{
		{"strict kept exact", 2, Mailbox, Config{StrictImageCount: true}, 2},
		{"mailbox needs 5", 2, Mailbox, Config{}, 5},
		{"immediate below needs-wait threshold unaffected without xwayland count rule", 2, Immediate, Config{}, 5},
		{"fifo ensureMin raises to 3", 2, FIFO, Config{EnsureMinImageCount: true}, 3},
		{"fifo no flags keeps requested", 4, FIFO, Config{}, 4},
		{"mailbox already above 5 kept", 6, Mailbox, Config{}, 6},
	}
	for _, c := range cases {
		got := chooseImageCount(c.requested, c.mode, c.cfg)
		if got != c.want {
			t.Errorf("%s: chooseImageCount(%d, %v, %+v) = %d, want %d", c.name, c.requested, c.mode, c.cfg, got, c.want)
		}
	}
}
