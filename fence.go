// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/dri3"
	xsync "github.com/jezek/xgb/sync"
	"github.com/jezek/xgb/xproto"
	"golang.org/x/sys/unix"
)

// syncFenceID identifies a server-side DRI3 Sync fence bound to a
// shmFence's shared page.
type syncFenceID = xsync.Fence

// shmFence is a single-word page of memory-backed-by-file-descriptor shared
// with the X server, used as a cross-process futex-like synchronization
// primitive, per the spec's glossary. It implements reset/trigger/await
// without a round trip to the server: the driver resets it before
// submitting a present and awaits it on acquire; the server triggers the
// very same page once it has finished reading the pixmap, via the Sync
// fence object DRI3FenceFromFD bound to the memfd backing this page.
type shmFence struct {
	mem  []byte
	word *int32
}

const (
	fenceUntriggered int32 = 0
	fenceTriggered   int32 = 1
)

// newShmFence creates a memfd, maps it, and hands a duplicate of its
// descriptor to the server via dri3.FenceFromFD so that the Sync fence
// object the server triggers is backed by the exact page the driver awaits,
// rather than two disconnected objects. The fence starts triggered (image
// slots begin driver-owned).
func newShmFence(conn *xgb.Conn, drawable xproto.Drawable) (*shmFence, syncFenceID, error) {
	memfd, err := unix.MemfdCreate("vkxpresent-fence", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, 0, fmt.Errorf("vkxpresent: memfd_create: %w", err)
	}
	defer unix.Close(memfd)

	if err := unix.Ftruncate(memfd, os1PageSize); err != nil {
		return nil, 0, fmt.Errorf("vkxpresent: ftruncate fence memfd: %w", err)
	}

	mem, err := unix.Mmap(memfd, 0, os1PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, 0, fmt.Errorf("vkxpresent: mmap shm fence page: %w", err)
	}
	f := &shmFence{mem: mem, word: (*int32)(unsafe.Pointer(&mem[0]))}
	atomic.StoreInt32(f.word, fenceTriggered)

	id, err := xsync.NewFenceId(conn)
	if err != nil {
		unix.Munmap(mem)
		return nil, 0, err
	}

	dupFD, err := dupCloexec(memfd)
	if err != nil {
		unix.Munmap(mem)
		return nil, 0, err
	}
	if err := dri3.FenceFromFDChecked(conn, drawable, id, true, int32(dupFD)).Check(); err != nil {
		unix.Munmap(mem)
		return nil, 0, err
	}
	return f, id, nil
}

// reset marks the fence untriggered. Called by the driver before
// submitting a present request.
func (f *shmFence) reset() {
	atomic.StoreInt32(f.word, fenceUntriggered)
}

// trigger marks the fence triggered. On the real protocol this transition
// is performed by the server; the software-present path (which has no
// server release event) calls it directly on the driver side instead.
func (f *shmFence) trigger() {
	atomic.StoreInt32(f.word, fenceTriggered)
}

// await blocks until the fence is triggered. It spins briefly (the common
// case: the server triggers the fence within microseconds of the pixmap
// becoming readable) then backs off to short sleeps to avoid burning a CPU
// core across a whole frame interval if the server is slow to respond.
func (f *shmFence) await() {
	const spinIters = 1000
	for i := 0; atomic.LoadInt32(f.word) != fenceTriggered; i++ {
		if i < spinIters {
			runtime.Gosched()
		} else {
			time.Sleep(100 * time.Microsecond)
		}
	}
}

// close unmaps the fence's shared page.
func (f *shmFence) close() error {
	if f.mem == nil {
		return nil
	}
	err := unix.Munmap(f.mem)
	f.mem = nil
	return err
}

// newLocalFence maps a driver-private anonymous page for a software-mode
// image. Software mode is only selected when DRI3 is absent from the
// connection (see Swapchain.isSoftware), so there is no extension to bind a
// server-side fence object to; the driver triggers this page itself,
// synchronously, right after each copy (see workerLoop.presentOne), so a
// page shared with the server is never needed.
func newLocalFence() (*shmFence, error) {
	mem, err := unix.Mmap(-1, 0, os1PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("vkxpresent: mmap local fence page: %w", err)
	}
	f := &shmFence{mem: mem, word: (*int32)(unsafe.Pointer(&mem[0]))}
	atomic.StoreInt32(f.word, fenceTriggered)
	return f, nil
}

// destroySyncFence releases the server-side Sync fence object. Errors are
// not actionable at the call sites that use this (teardown paths), so they
// are discarded the same way the rest of this package's destroy path
// discards best-effort cleanup errors.
func destroySyncFence(conn *xgb.Conn, id syncFenceID) {
	xsync.DestroyFence(conn, id)
}

// os1PageSize is the shared-memory fence page size. A full 4 KiB page is
// mapped even though only one word is used, matching the granularity mmap
// requires.
const os1PageSize = 4096
