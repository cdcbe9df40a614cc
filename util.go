// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import "unsafe"

// unsafeBytesFromPointer views n bytes starting at p as a []byte, without
// copying. p must remain valid (and the memory must not be moved, which
// holds for the mmap'd/SHM-backed buffers this package deals with) for the
// lifetime of the returned slice.
func unsafeBytesFromPointer(p unsafe.Pointer, n int) []byte {
	if p == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

// resulter is implemented by internal error types that carry a specific
// Result code to propagate at the package boundary.
type resulter interface {
	Result() Result
}

// resultFromError maps err to a Result, consulting the resulter interface
// first and falling back to ErrInitializationFailed for anything else
// unrecognized, since an unexpected protocol-level error means this
// backend cannot continue operating the swapchain.
func resultFromError(err error) Result {
	if err == nil {
		return Success
	}
	if r, ok := err.(resulter); ok {
		return r.Result()
	}
	return ErrInitializationFailed
}
