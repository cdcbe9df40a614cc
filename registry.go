// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"strings"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/dri3"
	"github.com/jezek/xgb/present"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/shm"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"
)

// ConnectionInfo records the capability probe for one X11 connection. Its
// exported fields do not change once published into the registry; the
// cached variableRefreshAtom is filled in later, on first use.
type ConnectionInfo struct {
	HasDRI3          bool
	HasDRI3Modifiers bool // DRI3 >= 1.2 and Present >= 1.2
	HasPresent       bool
	HasXFixes        bool // version >= 2
	HasMITShm        bool
	IsProprietaryX11 bool
	IsXwayland       bool

	// variableRefreshAtom caches the interned _VARIABLE_REFRESH atom so
	// AdaptiveSyncHint does not re-intern it per swapchain.
	variableRefreshAtom xproto.Atom
}

// ConnectionRegistry is a process-wide cache of per-connection capability
// probes, keyed by connection identity. It is safe for concurrent use.
type ConnectionRegistry struct {
	mu      sync.Mutex
	entries map[*xgb.Conn]*ConnectionInfo
}

var globalRegistry = &ConnectionRegistry{entries: make(map[*xgb.Conn]*ConnectionInfo)}

// Registry returns the process-wide ConnectionRegistry.
func Registry() *ConnectionRegistry { return globalRegistry }

// Lookup returns the ConnectionInfo for conn, probing the server the first
// time a given connection is seen. The registry lock is held only across
// the map lookup/insert, never across the probe's I/O, so two goroutines
// racing to probe the same new connection will both talk to the server and
// the loser's result is discarded.
func (r *ConnectionRegistry) Lookup(conn *xgb.Conn) (*ConnectionInfo, error) {
	r.mu.Lock()
	if info, ok := r.entries[conn]; ok {
		r.mu.Unlock()
		return info, nil
	}
	r.mu.Unlock()

	info, err := probeConnection(conn)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[conn]; ok {
		// Lost the race; discard our probe result and keep the winner's.
		return existing, nil
	}
	r.entries[conn] = info
	return info, nil
}

// Close frees the entry associated with conn, if any.
func (r *ConnectionRegistry) Close(conn *xgb.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, conn)
}

// CloseAll frees every entry in the registry.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[*xgb.Conn]*ConnectionInfo)
}

// probeConnection performs the ~8 synchronous round trips needed to build a
// ConnectionInfo for a previously-unseen connection.
func probeConnection(conn *xgb.Conn) (*ConnectionInfo, error) {
	info := &ConnectionInfo{}

	if err := dri3.Init(conn); err == nil {
		if reply, err := dri3.QueryVersion(conn, 1, 2).Reply(); err == nil {
			info.HasDRI3 = true
			info.HasDRI3Modifiers = reply.MajorVersion > 1 ||
				(reply.MajorVersion == 1 && reply.MinorVersion >= 2)
		}
	}

	if err := present.Init(conn); err == nil {
		if reply, err := present.QueryVersion(conn, 1, 2).Reply(); err == nil {
			info.HasPresent = true
			if !(reply.MajorVersion > 1 || (reply.MajorVersion == 1 && reply.MinorVersion >= 2)) {
				info.HasDRI3Modifiers = false
			}
		}
	}
	if !info.HasPresent {
		info.HasDRI3Modifiers = false
	}

	if err := xfixes.Init(conn); err == nil {
		if reply, err := xfixes.QueryVersion(conn, 5, 0).Reply(); err == nil {
			info.HasXFixes = reply.MajorVersion >= 2
		}
	}

	if globalConfigWantsSHM() {
		if err := shm.Init(conn); err == nil {
			if _, err := shm.QueryVersion(conn).Reply(); err == nil {
				// Confirm the server actually implements the attach side
				// (some proxies advertise the extension but reject every
				// request) by probing a detach of the null segment: any
				// error other than BadRequest means the extension is live.
				err := shmDetachProbe(conn)
				info.HasMITShm = err == nil || !isBadRequest(err)
			}
		}
	}

	info.IsProprietaryX11 = hasProprietaryExtensions(conn)
	info.IsXwayland = detectXwayland(conn)

	return info, nil
}

// globalConfigWantsSHM reports whether software/SHM probing should be
// attempted at all, honoring the WSI_DEBUG=noshm escape hatch.
func globalConfigWantsSHM() bool {
	return !debug().NoSHM
}

// shmDetachProbe issues shm.Detach(seg=0), which a real MIT-SHM
// implementation answers with an X11 error (BadValue class, not
// BadRequest) because segment 0 was never attached; an implementation that
// does not support the extension at all answers with BadRequest instead.
func shmDetachProbe(conn *xgb.Conn) error {
	return shm.DetachChecked(conn, 0).Check()
}

// isBadRequest reports whether err represents an X11 BadRequest error,
// i.e., the server does not implement the request at all.
func isBadRequest(err error) bool {
	if xerr, ok := err.(xgb.Error); ok {
		return xerr.SequenceId() != 0 && isBadRequestCode(err)
	}
	return false
}

// isBadRequestCode inspects the generic error code carried by an X11
// error reply. jezek/xgb surfaces the X11 core BadRequest error as error
// code 1. Only a Code() int method is required, not the full xgb.Error
// interface, so this is directly unit-testable with a small fake.
func isBadRequestCode(err error) bool {
	type coder interface{ Code() int }
	if c, ok := err.(coder); ok {
		return c.Code() == 1
	}
	return false
}

// hasProprietaryExtensions reports whether the server advertises an
// ATI/NVIDIA proprietary control extension.
func hasProprietaryExtensions(conn *xgb.Conn) bool {
	for _, name := range []string{"NV-GLX", "NV-CONTROL", "ATIFGLRXDRI"} {
		reply, err := xproto.QueryExtension(conn, uint16(len(name)), name).Reply()
		if err == nil && reply.Present {
			return true
		}
	}
	return false
}

// detectXwayland implements the spec's Xwayland heuristic: either an
// XWAYLAND X extension is present, or RandR >= 1.3 reports an output whose
// name begins with "XWAYLAND".
func detectXwayland(conn *xgb.Conn) bool {
	reply, err := xproto.QueryExtension(conn, uint16(len("XWAYLAND")), "XWAYLAND").Reply()
	if err == nil && reply.Present {
		return true
	}

	if err := randr.Init(conn); err != nil {
		return false
	}
	verReply, err := randr.QueryVersion(conn, 1, 3).Reply()
	if err != nil || verReply.MajorVersion < 1 ||
		(verReply.MajorVersion == 1 && verReply.MinorVersion < 3) {
		return false
	}

	setup := xproto.Setup(conn)
	if setup == nil || len(setup.Roots) == 0 {
		return false
	}
	root := setup.Roots[0].Root

	resReply, err := randr.GetScreenResourcesCurrent(conn, root).Reply()
	if err != nil {
		return false
	}
	var names []string
	for _, out := range resReply.Outputs {
		infoReply, err := randr.GetOutputInfo(conn, out, resReply.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}
		names = append(names, string(infoReply.Name))
	}
	return anyOutputNameHasXwaylandPrefix(names)
}

// anyOutputNameHasXwaylandPrefix reports whether any RandR output name
// begins with "XWAYLAND", the naming convention Xwayland uses for its
// emulated outputs. Pure function, tested directly.
func anyOutputNameHasXwaylandPrefix(names []string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, "XWAYLAND") {
			return true
		}
	}
	return false
}
