// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"unsafe"

	"github.com/jezek/xgb/shm"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"
)

// WSIImage is the output of the Image Factory collaborator: a GPU-backed
// image already exported as one or more DMA-buf planes (or, in software
// mode, already CPU-mapped). This package only reads these fields; it
// never allocates or frees the underlying GPU image.
type WSIImage struct {
	// Image is an opaque handle to the underlying GPU image, owned by the
	// Image Factory. Its concrete type is out of scope for this package.
	Image unsafe.Pointer

	// DmaBufFD holds one DMA-buf file descriptor per plane (entries below
	// PlaneCount are used), or -1 in software mode. Each plane's pitch,
	// offset and size are in RowPitch/Offset/PlaneSize at the same index;
	// the DRI3 pixmap paths dup these descriptors before handing them to
	// the server.
	DmaBufFD [4]int32

	PlaneCount   int
	RowPitch     [4]uint32
	Offset       [4]uint32
	PlaneSize    [4]uint64
	Modifier     uint64
	Depth        uint8
	BitsPerPixel uint8

	// CPUPointer is non-nil only in software mode: a linear, CPU-mapped
	// view of the image contents that queue_present copies/put_images
	// from directly.
	CPUPointer unsafe.Pointer
}

// image is one slot in a swapchain's fixed-size image pool.
type image struct {
	WSIImage

	pixmap       xproto.Pixmap
	updateRegion xfixes.Region
	updateArea   xfixes.Region

	busy          bool
	presentQueued bool
	serial        uint32

	fence     *shmFence
	syncFence syncFenceID

	shmSeg  shm.Seg
	shmID   int32
	shmAddr uintptr
}

// reset returns the image to its just-created state: driver-owned, no
// pending present, fence triggered (owned by the driver).
func (im *image) reset() {
	im.busy = false
	im.presentQueued = false
	im.serial = 0
	if im.fence != nil {
		im.fence.trigger()
	}
}
