// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

const variableRefreshAtomName = "_VARIABLE_REFRESH"

// setAdaptiveSync interns _VARIABLE_REFRESH (caching it on info so it is
// only interned once per connection, not once per swapchain) and sets or
// deletes the CARDINAL property on window accordingly. Swapchains are
// one-per-window by invariant, so this is effectively single-writer per
// window.
func setAdaptiveSync(conn *xgb.Conn, info *ConnectionInfo, window xproto.Window, enabled bool) error {
	atom, err := adaptiveSyncAtom(conn, info)
	if err != nil {
		return err
	}
	if !enabled {
		return xproto.DeletePropertyChecked(conn, window, atom).Check()
	}
	value := []byte{1, 0, 0, 0}
	return xproto.ChangePropertyChecked(
		conn, xproto.PropModeReplace, window, atom,
		xproto.AtomCardinal, 32, 1, value,
	).Check()
}

func adaptiveSyncAtom(conn *xgb.Conn, info *ConnectionInfo) (xproto.Atom, error) {
	if info.variableRefreshAtom != 0 {
		return info.variableRefreshAtom, nil
	}
	reply, err := xproto.InternAtom(conn, false, uint16(len(variableRefreshAtomName)), variableRefreshAtomName).Reply()
	if err != nil {
		return 0, err
	}
	info.variableRefreshAtom = reply.Atom
	return reply.Atom, nil
}
