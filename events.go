// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import (
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/present"
	"github.com/jezek/xgb/xproto"
)

// Present completion kinds/modes, per the Present extension protocol.
const (
	presentCompleteKindPixmap    = 0
	presentCompleteKindNotifyMSC = 1

	presentCompleteModeCopy           = 0
	presentCompleteModeFlip           = 1
	presentCompleteModeSkip           = 2
	presentCompleteModeSuboptimalCopy = 3
)

type presentEventKind int

const (
	eventConfigureNotify presentEventKind = iota
	eventIdleNotify
	eventCompleteNotify
)

// presentEvent is the demultiplexed, swapchain-private view of a Present
// extension event: the spec's "special event stream filtered to this
// swapchain only", realized here as a per-swapchain buffered channel fed
// by a shared per-connection reader goroutine (see connRouter) rather than
// a true XCB special-event queue, which jezek/xgb does not expose.
type presentEvent struct {
	kind presentEventKind

	// eventConfigureNotify
	width, height uint16

	// eventIdleNotify
	idlePixmap xproto.Pixmap

	// eventCompleteNotify
	serial uint32
	msc    uint64
	mode   uint8
	ckind  uint8
}

// connRouter demultiplexes Present events arriving on one connection to the
// swapchain that registered the matching event ID.
type connRouter struct {
	mu      sync.Mutex
	targets map[xproto.EventId]chan presentEvent
	once    sync.Once
}

var (
	routersMu sync.Mutex
	routers   = map[*xgb.Conn]*connRouter{}
)

func routerFor(conn *xgb.Conn) *connRouter {
	routersMu.Lock()
	defer routersMu.Unlock()
	r, ok := routers[conn]
	if !ok {
		r = &connRouter{targets: make(map[xproto.EventId]chan presentEvent)}
		routers[conn] = r
	}
	return r
}

// register associates eid with a swapchain's event channel. The shared
// reader goroutine is started separately, by start.
func (r *connRouter) register(eid xproto.EventId, ch chan presentEvent) {
	r.mu.Lock()
	r.targets[eid] = ch
	r.mu.Unlock()
}

func (r *connRouter) unregister(eid xproto.EventId) {
	r.mu.Lock()
	delete(r.targets, eid)
	r.mu.Unlock()
}

func (r *connRouter) start(conn *xgb.Conn) {
	r.once.Do(func() {
		go r.run(conn)
	})
}

func (r *connRouter) run(conn *xgb.Conn) {
	for {
		ev, err := conn.WaitForEvent()
		if err != nil {
			if ev == nil {
				return // connection closed
			}
			continue
		}
		pe, eid, ok := decodePresentEvent(ev)
		if !ok {
			continue
		}
		r.mu.Lock()
		ch := r.targets[eid]
		r.mu.Unlock()
		if ch == nil {
			continue
		}
		ch <- pe
	}
}

// decodePresentEvent converts a raw xgb event into this package's
// presentEvent shape, reporting the event ID the swapchain registered
// under so the router can find the right destination channel.
func decodePresentEvent(ev xgb.Event) (presentEvent, xproto.EventId, bool) {
	switch e := ev.(type) {
	case present.ConfigureNotifyEvent:
		return presentEvent{kind: eventConfigureNotify, width: e.Width, height: e.Height}, e.EventId, true
	case present.IdleNotifyEvent:
		return presentEvent{kind: eventIdleNotify, idlePixmap: e.Pixmap}, e.EventId, true
	case present.CompleteNotifyEvent:
		return presentEvent{
			kind:   eventCompleteNotify,
			serial: e.Serial,
			msc:    e.Msc,
			mode:   e.Mode,
			ckind:  e.Kind,
		}, e.EventId, true
	}
	return presentEvent{}, 0, false
}

// selectPresentInput registers window for CONFIGURE_NOTIFY, COMPLETE_NOTIFY
// and IDLE_NOTIFY events on a dedicated event ID, and wires the connection
// router to deliver them to ch.
func selectPresentInput(conn *xgb.Conn, window xproto.Window, ch chan presentEvent) (xproto.EventId, error) {
	eid, err := xproto.NewEventIdId(conn)
	if err != nil {
		return 0, err
	}
	const (
		maskConfigureNotify uint32 = 1 << 0
		maskCompleteNotify  uint32 = 1 << 1
		maskIdleNotify      uint32 = 1 << 2
	)
	err = present.SelectInputChecked(conn, eid, window,
		maskConfigureNotify|maskCompleteNotify|maskIdleNotify).Check()
	if err != nil {
		return 0, err
	}
	r := routerFor(conn)
	r.register(eid, ch)
	r.start(conn)
	return eid, nil
}

// deselectPresentInput unregisters eid and asks the server to stop
// delivering events for it (best-effort: select_input with an empty mask).
func deselectPresentInput(conn *xgb.Conn, window xproto.Window, eid xproto.EventId) {
	routerFor(conn).unregister(eid)
	present.SelectInput(conn, eid, window, 0)
}
