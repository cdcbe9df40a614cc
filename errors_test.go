// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import "testing"

func TestReduceAbsorbsFatal(t *testing.T) {
	got := reduce(ErrOutOfDate, Success)
	if got != ErrOutOfDate {
		t.Fatalf("reduce(ErrOutOfDate, Success) = %v, want %v", got, ErrOutOfDate)
	}
}

func TestReduceLatchesIncomingFatal(t *testing.T) {
	got := reduce(Success, ErrSurfaceLost)
	if got != ErrSurfaceLost {
		t.Fatalf("reduce(Success, ErrSurfaceLost) = %v, want %v", got, ErrSurfaceLost)
	}
}

func TestReduceTransientPassesThrough(t *testing.T) {
	for _, transient := range []Result{NotReady, Timeout} {
		got := reduce(Suboptimal, transient)
		if got != transient {
			t.Errorf("reduce(Suboptimal, %v) = %v, want %v", transient, got, transient)
		}
	}
}

func TestReduceLatchesSuboptimalUnlessWorse(t *testing.T) {
	if got := reduce(Success, Suboptimal); got != Suboptimal {
		t.Fatalf("reduce(Success, Suboptimal) = %v, want %v", got, Suboptimal)
	}
	if got := reduce(ErrOutOfDate, Suboptimal); got != ErrOutOfDate {
		t.Fatalf("reduce(ErrOutOfDate, Suboptimal) = %v, want %v", got, ErrOutOfDate)
	}
}

func TestReduceDefaultKeepsCurrent(t *testing.T) {
	if got := reduce(Suboptimal, Success); got != Suboptimal {
		t.Fatalf("reduce(Suboptimal, Success) = %v, want %v", got, Suboptimal)
	}
}

// TestStatusMonotonicity exercises the "status monotonicity" universal
// property of spec §8: for any sequence of reduce inputs, the resulting
// rank stream of the latched status is non-increasing. A transient result
// is returned by reduce but never latched (rule 3), so it leaves the
// status unchanged.
func TestStatusMonotonicity(t *testing.T) {
	sequence := []Result{Success, Suboptimal, NotReady, Success, ErrOutOfDate, Suboptimal, Success}
	status := Success
	lastRank := status.rank()
	for _, incoming := range sequence {
		if next := reduce(status, incoming); !incoming.transient() {
			status = next
		}
		if status.rank() > lastRank {
			t.Fatalf("status rank increased: now %v (rank %d), was rank %d", status, status.rank(), lastRank)
		}
		lastRank = status.rank()
	}
}
