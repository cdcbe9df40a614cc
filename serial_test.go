// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import "testing"

func TestSerialAfterOrdinary(t *testing.T) {
	if !serialAfter(2, 1) {
		t.Fatal("serialAfter(2, 1) = false, want true")
	}
	if serialAfter(1, 2) {
		t.Fatal("serialAfter(1, 2) = true, want false")
	}
	if serialAfter(5, 5) {
		t.Fatal("serialAfter(5, 5) = true, want false")
	}
}

// TestSerialAfterWraparound covers the 2^31 boundary (spec §3 invariant 5):
// a serial that has wrapped around 2^32 must still compare as "after" the
// serial just before the wrap.
func TestSerialAfterWraparound(t *testing.T) {
	const boundary = uint32(1) << 31
	if !serialAfter(0, ^uint32(0)) {
		t.Fatal("serialAfter(0, max) = false, want true (0 follows wraparound from max)")
	}
	if !serialAfter(boundary+1, boundary) {
		t.Fatal("serialAfter(boundary+1, boundary) = false, want true")
	}
	if serialAfter(boundary, boundary+1) {
		t.Fatal("serialAfter(boundary, boundary+1) = true, want false")
	}
	// Exactly 2^31 apart is the ambiguous edge of signed-difference
	// comparison; this package does not rely on behavior at that exact
	// distance, only within it.
}

func TestSerialAtLeast(t *testing.T) {
	if !serialAtLeast(5, 5) {
		t.Fatal("serialAtLeast(5, 5) = false, want true")
	}
	if !serialAtLeast(6, 5) {
		t.Fatal("serialAtLeast(6, 5) = false, want true")
	}
	if serialAtLeast(4, 5) {
		t.Fatal("serialAtLeast(4, 5) = true, want false")
	}
}

func TestNextSerialTruncatesTo32Bits(t *testing.T) {
	got := nextSerial(0x1_0000_0005)
	if got != 5 {
		t.Fatalf("nextSerial(0x100000005) = %d, want 5", got)
	}
}
