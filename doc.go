// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package vkxpresent implements the X11 window-system-integration core of a
// Vulkan swapchain: the concurrent state machine that mediates between a
// GPU-rendering client and an X11 display server reached through the DRI3,
// Present, XFixes and (optionally) MIT-SHM extensions.
//
// The package does not allocate GPU images, export DMA-bufs or create
// synchronization primitives itself; it consumes those from an Image
// Factory collaborator (see WSIImage) and from an already-open X11
// connection (see ConnectionRegistry). It also does not create the X11
// window or dispatch the generic Vulkan WSI calls that select this package
// as a backend — both are assumed to exist already by the time
// CreateSwapchain is called.
package vkxpresent
