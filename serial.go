// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

// serialAfter reports whether a is strictly more recent than b, tolerating
// wraparound of the 32-bit wire serial. Only the low 32 bits of send_sbc
// travel on the wire (spec §3), so comparisons must use signed-difference
// arithmetic rather than plain integer ordering: a is considered "after" b
// when the signed difference a-b is positive, which holds for any pair of
// serials within 2^31 of each other regardless of where the wraparound
// boundary falls.
func serialAfter(a, b uint32) bool {
	return int32(a-b) > 0
}

// serialAtLeast reports whether a is the same as, or more recent than, b.
func serialAtLeast(a, b uint32) bool {
	return a == b || serialAfter(a, b)
}

// nextSerial returns the wire-visible low 32 bits of a monotonically
// increasing 64-bit send_sbc counter.
func nextSerial(sendSBC uint64) uint32 {
	return uint32(sendSBC & 0xFFFFFFFF)
}
