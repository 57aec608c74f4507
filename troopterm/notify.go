// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/tailscale/troopmap/player"
)

// A notifier hands player changes to the event loop. At most one wakeup is
// queued at a time; changes that arrive while it is pending replace the
// state it will deliver, so the event loop always sees the latest one.
type notifier struct {
	post func(tcell.Event) error

	mu      sync.Mutex
	prev    player.State // last state passed to notify
	latest  player.State
	fresh   bool // latest has not been taken
	wrapped bool // playback wrapped since the last take
	posted  bool // a wakeup is queued
}

func newNotifier(screen tcell.Screen) *notifier {
	return &notifier{post: screen.PostEvent}
}

// notify records st and wakes the event loop if it is not already due to
// wake. It must be called with changes in the order they happened.
func (n *notifier) notify(st player.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if st.Playing && st.Len > 1 && st.Frame == 0 && n.prev.Frame == st.Len-1 {
		n.wrapped = true
	}
	n.prev = st
	n.latest, n.fresh = st, true
	if n.posted {
		return
	}
	// On a full queue the state waits for the next event to be handled.
	n.posted = n.post(tcell.NewEventInterrupt(n)) == nil
}

// take returns the latest state not yet taken, and whether playback wrapped
// around since the previous take. It reports ok == false if nothing changed.
func (n *notifier) take() (st player.State, wrapped, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posted = false
	if !n.fresh {
		return player.State{}, false, false
	}
	st, wrapped = n.latest, n.wrapped
	n.fresh, n.wrapped = false, false
	return st, wrapped, true
}
