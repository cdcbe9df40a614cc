// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"fmt"
	"unsafe"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/shm"
	"github.com/jezek/xgb/xproto"
	"golang.org/x/sys/unix"
)

// softwareSegment is one SysV shared-memory segment backing a software-mode
// image: allocated IPC_PRIVATE|0600, attached locally, marked IPC_RMID
// immediately (so the segment does not leak if the process dies before
// detaching), then attached on the server side via MIT-SHM.
type softwareSegment struct {
	id   int32
	addr uintptr
	size int
	seg  shm.Seg
}

// newSoftwareSegment allocates and attaches a SysV segment of size bytes,
// then registers it with the server as shmSeg and creates a pixmap from it
// at the given row pitch.
func newSoftwareSegment(conn *xgb.Conn, size int, drawable xproto.Drawable, width, height uint16, depth uint8, rowPitch uint32) (*softwareSegment, xproto.Pixmap, error) {
	id, err := unix.SysvShmGet(unix.IPC_PRIVATE, size, unix.IPC_CREAT|0600)
	if err != nil {
		return nil, 0, fmt.Errorf("vkxpresent: shmget: %w", err)
	}

	addr, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return nil, 0, fmt.Errorf("vkxpresent: shmat: %w", err)
	}

	// Mark for removal immediately: the segment stays valid as long as at
	// least one process (us) is attached, but the kernel will reclaim it
	// automatically once every attacher detaches, even on a crash.
	if _, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil); err != nil {
		unix.SysvShmDetach(addr)
		return nil, 0, fmt.Errorf("vkxpresent: shmctl(IPC_RMID): %w", err)
	}

	seg, err := shm.NewSegId(conn)
	if err != nil {
		unix.SysvShmDetach(addr)
		return nil, 0, err
	}
	if err := shm.AttachChecked(conn, seg, uint32(id), false).Check(); err != nil {
		unix.SysvShmDetach(addr)
		return nil, 0, err
	}

	pixmap, err := xproto.NewPixmapId(conn)
	if err != nil {
		shm.Detach(conn, seg)
		unix.SysvShmDetach(addr)
		return nil, 0, err
	}
	// The pixmap is as wide as the row pitch in pixels, so the server reads
	// each scanline at the image's stride; every format this backend
	// advertises is 32 bits per pixel.
	pitchWidth := uint16(rowPitch / 4)
	if err := shm.CreatePixmapChecked(conn, pixmap, drawable, pitchWidth, height, depth, seg, 0).Check(); err != nil {
		shm.Detach(conn, seg)
		unix.SysvShmDetach(addr)
		return nil, 0, err
	}

	return &softwareSegment{id: id, addr: addr, size: size, seg: seg}, pixmap, nil
}

// pointer returns the CPU-mapped base address of the segment.
func (s *softwareSegment) pointer() unsafe.Pointer {
	return unsafe.Pointer(s.addr)
}

// close detaches the segment from the server and from this process. The
// kernel segment itself was already marked IPC_RMID at creation, so no
// further cleanup is required once every attacher detaches.
func (s *softwareSegment) close(conn *xgb.Conn) error {
	shm.Detach(conn, s.seg)
	return unix.SysvShmDetach(s.addr)
}
