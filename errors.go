// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

// Result is the boundary error/status code visible to the Vulkan WSI
// facade. It mirrors the small subset of VkResult values that this
// subsystem can produce or must propagate.
type Result int

const (
	// Success means the call completed with no error and no sticky
	// condition was latched.
	Success Result = iota

	// Suboptimal means the swapchain can still be used for presentation,
	// but the surface properties no longer match it exactly. Sticky.
	Suboptimal

	// NotReady means no image was available to acquire at this time.
	// Transient: never latched on the swapchain.
	NotReady

	// Timeout means a bounded wait elapsed with no result. Transient.
	Timeout

	// ErrOutOfDate means the swapchain can no longer be used for
	// presentation at all and must be recreated. Fatal, sticky.
	ErrOutOfDate

	// ErrSurfaceLost means the window backing the surface no longer
	// exists. Fatal, sticky.
	ErrSurfaceLost

	// ErrOutOfHostMemory means a host allocation failed. Fatal, sticky.
	ErrOutOfHostMemory

	// ErrInitializationFailed means some unrecoverable setup condition was
	// hit (e.g., a multi-plane image with no modifier support). Fatal,
	// sticky.
	ErrInitializationFailed
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Suboptimal:
		return "suboptimal"
	case NotReady:
		return "not ready"
	case Timeout:
		return "timeout"
	case ErrOutOfDate:
		return "out of date"
	case ErrSurfaceLost:
		return "surface lost"
	case ErrOutOfHostMemory:
		return "out of host memory"
	case ErrInitializationFailed:
		return "initialization failed"
	}
	return "unknown result"
}

// rank orders results for the monotonicity property: fatal < suboptimal <
// success. Transient results do not participate in the order (they are
// never latched), so they report the same rank as Success and must be
// special-cased by reduce before rank is consulted.
func (r Result) rank() int {
	switch r {
	case ErrOutOfDate, ErrSurfaceLost, ErrOutOfHostMemory, ErrInitializationFailed:
		return 0
	case Suboptimal:
		return 1
	default:
		return 2
	}
}

func (r Result) fatal() bool {
	switch r {
	case ErrOutOfDate, ErrSurfaceLost, ErrOutOfHostMemory, ErrInitializationFailed:
		return true
	}
	return false
}

func (r Result) transient() bool {
	return r == NotReady || r == Timeout
}

// reduce implements the single status-reducer policy of the error design:
//  1. A latched fatal status is absorbing.
//  2. An incoming fatal status is latched.
//  3. An incoming transient status passes through without being latched.
//  4. An incoming Suboptimal is latched, unless a worse status already is.
//  5. Otherwise the currently latched status is returned unchanged.
func reduce(current, incoming Result) Result {
	if current.fatal() {
		return current
	}
	if incoming.fatal() {
		return incoming
	}
	if incoming.transient() {
		return incoming
	}
	if incoming == Suboptimal {
		return Suboptimal
	}
	return current
}
