// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package player implements a frame controller: the current frame index of
// an animation, and a timer that advances it while playing.
package player

import (
	"context"
	"sync"
	"time"
)

// State is a snapshot of a Player.
type State struct {
	Frame   int  `json:"frame"`
	Playing bool `json:"playing"`
	Len     int  `json:"len"`
}

// Options are optional settings for a Player. A nil *Options is ready for use
// with default values.
type Options struct {
	// The period between frames while playing. Default: 20ms.
	Interval time.Duration

	// The initial frame index. Default: 0.
	Start int

	// If set, OnChange is called with the new state after every change.
	// Calls are made one at a time, in the order the changes happened, on a
	// goroutine separate from the caller and the timer. OnChange may call
	// methods of the Player.
	OnChange func(State)
}

func (o *Options) interval() time.Duration {
	if o == nil || o.Interval <= 0 {
		return 20 * time.Millisecond
	}
	return o.Interval
}

func (o *Options) start() int {
	if o == nil {
		return 0
	}
	return o.Start
}

func (o *Options) onChange() func(State) {
	if o == nil {
		return nil
	}
	return o.OnChange
}

// A Player tracks the current frame of an animation of a fixed length, and
// whether it is playing. A Player is safe for concurrent use by multiple
// goroutines; all state changes are serialized.
type Player struct {
	n        int
	interval time.Duration
	notify   func(State) // nil if not set

	mu         sync.Mutex
	frame      int
	task       *task   // nil when paused
	pending    []State // changes not yet passed to notify
	delivering bool    // a deliver goroutine is running
}

// A task is the handle of a running timer. At most one is live at a time.
type task struct {
	stop context.CancelFunc
	done sync.WaitGroup
}

func (t *task) wait() {
	if t != nil {
		t.done.Wait()
	}
}

// New constructs a paused Player for an animation of n frames. A nil *Options
// provides default settings (see [Options]).
func New(n int, opts *Options) *Player {
	return &Player{
		n:        n,
		interval: opts.interval(),
		notify:   opts.onChange(),
		frame:    opts.start(),
	}
}

// Len reports the number of frames.
func (p *Player) Len() int { return p.n }

// State returns the current state of p.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Player) stateLocked() State {
	return State{Frame: p.frame, Playing: p.task != nil, Len: p.n}
}

// Seek sets the current frame to i. If p is playing, it is paused first.
// The caller is responsible for ensuring 0 ≤ i < Len.
func (p *Player) Seek(i int) {
	p.mu.Lock()
	old := p.stopLocked()
	p.frame = i
	p.changedLocked()
	p.mu.Unlock()

	old.wait()
}

// TogglePlay pauses p if it is playing, or starts playing it if not. While
// playing, the frame advances by one every interval, wrapping to 0 after the
// last frame.
func (p *Player) TogglePlay() {
	p.mu.Lock()
	old := p.stopLocked()
	if old == nil {
		p.startLocked()
	}
	p.changedLocked()
	p.mu.Unlock()

	old.wait()
}

// Step advances the current frame by one, exactly as a timer tick does. It
// does not change whether p is playing.
func (p *Player) Step() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.changedLocked()
}

// Close stops the timer, if any, and waits for it to exit. The Player remains
// usable after Close, in the paused state.
func (p *Player) Close() {
	p.mu.Lock()
	old := p.stopLocked()
	p.mu.Unlock()
	old.wait()
}

func (p *Player) advanceLocked() {
	if p.frame+1 >= p.n {
		p.frame = 0
	} else {
		p.frame++
	}
}

// stopLocked detaches the live task, if any, and returns it. Once detached,
// no further tick of the task takes effect, though the caller should wait for
// its goroutine to exit after releasing p.mu.
func (p *Player) stopLocked() *task {
	t := p.task
	if t != nil {
		t.stop()
		p.task = nil
	}
	return t
}

func (p *Player) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{stop: cancel}
	t.done.Add(1)
	go func() {
		defer t.done.Done()
		p.run(ctx, t)
	}()
	p.task = t
}

func (p *Player) run(ctx context.Context, t *task) {
	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		p.mu.Lock()
		if p.task != t {
			p.mu.Unlock()
			return // stopped while waiting for the lock
		}
		p.advanceLocked()
		p.changedLocked()
		p.mu.Unlock()
	}
}

// changedLocked queues the current state for notify. The queue is drained in
// order by a single goroutine, started on demand, so neither the timer nor a
// caller of p ever waits for notify.
func (p *Player) changedLocked() {
	if p.notify == nil {
		return
	}
	p.pending = append(p.pending, p.stateLocked())
	if !p.delivering {
		p.delivering = true
		go p.deliver()
	}
}

func (p *Player) deliver() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.pending = nil
			p.delivering = false
			p.mu.Unlock()
			return
		}
		s := p.pending[0]
		p.pending = p.pending[1:]
		p.mu.Unlock()

		p.notify(s)
	}
}
