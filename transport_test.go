// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import "testing"

// TestChunkScanlinesTiling implements spec §8 scenario 5: a 4096x4096
// software image at 4 bytes/pixel against a 256 KiB max request must be
// split into the expected number of PutImage-sized chunks, with
// consecutive, non-overlapping y origins tiling [0, height).
func TestChunkScanlinesTiling(t *testing.T) {
	const (
		width      = 4096
		height     = 4096
		bytesPerPx = 4
		rowPitch   = width * bytesPerPx
		maxReq     = 256 * 1024
	)
	chunks := chunkScanlines(height, rowPitch, maxReq)

	linesPerChunk := (maxReq - putImageHeaderBytes) / rowPitch
	wantCount := (height + linesPerChunk - 1) / linesPerChunk
	if len(chunks) != wantCount {
		t.Fatalf("len(chunks) = %d, want %d", len(chunks), wantCount)
	}

	wantY := 0
	for i, c := range chunks {
		if c.startLine != wantY {
			t.Fatalf("chunk %d startLine = %d, want %d", i, c.startLine, wantY)
		}
		wantY += c.lineCount
	}
	if wantY != height {
		t.Fatalf("chunks cover %d lines, want %d", wantY, height)
	}
}

func TestChunkScanlinesDegenerate(t *testing.T) {
	if got := chunkScanlines(0, 16384, 1<<18); got != nil {
		t.Fatalf("chunkScanlines(height=0) = %v, want nil", got)
	}
	if got := chunkScanlines(10, 0, 1<<18); got != nil {
		t.Fatalf("chunkScanlines(rowPitch=0) = %v, want nil", got)
	}
}

func TestPresentOptionsFor(t *testing.T) {
	cases := []struct {
		name            string
		mode            PresentMode
		isXwayland      bool
		hasModifiers    bool
		forcesPrimeBlit bool
		want            uint32
	}{
		{"immediate", Immediate, false, false, false, presentOptionAsync},
		{"mailbox native", Mailbox, false, false, false, 0},
		{"mailbox xwayland", Mailbox, true, false, false, presentOptionAsync},
		{"fifo relaxed", FIFORelaxed, false, false, false, presentOptionAsync},
		{"fifo strict", FIFO, false, false, false, 0},
		{"with modifiers", FIFO, false, true, false, presentOptionSuboptimal},
		{"prime blit", FIFO, false, false, true, presentOptionCopy},
	}
	for _, c := range cases {
		got := presentOptionsFor(c.mode, c.isXwayland, c.hasModifiers, c.forcesPrimeBlit)
		if got != c.want {
			t.Errorf("%s: presentOptionsFor(...) = %#x, want %#x", c.name, got, c.want)
		}
	}
}
