// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/tailscale/troopmap"
	"github.com/tailscale/troopmap/geo"
	"github.com/tailscale/troopmap/player"
	"github.com/tailscale/troopmap/scene"
)

// identity projects degrees directly onto pixels.
type identity struct{}

func (identity) Project(lon, lat float64) (float64, float64, bool) { return lon, lat, true }

func newTestScreen(t *testing.T, w, h int) tcell.SimulationScreen {
	t.Helper()
	s := tcell.NewSimulationScreen("UTF-8")
	if err := s.Init(); err != nil {
		t.Fatalf("Init screen: %v", err)
	}
	t.Cleanup(s.Fini)
	s.SetSize(w, h)
	return s
}

func newTestBuilder(t *testing.T) *scene.Builder {
	t.Helper()
	shape, err := geo.ParseShape([]byte(`{"type":"Polygon","coordinates":[[[0,0],[20,0],[20,20],[0,20],[0,0]]]}`))
	if err != nil {
		t.Fatalf("ParseShape: %v", err)
	}
	group := troopmap.SubjectData{
		Long: troopmap.Num(40), Lat: troopmap.Num(60),
		AdultM: troopmap.Num(20), AdultF: troopmap.Num(20), Total: troopmap.Num(40),
	}
	frames := []troopmap.Frame{
		{Time: "07:00", Subjects: [2]troopmap.SubjectData{group, {}}},
		{Time: "07:15", Subjects: [2]troopmap.SubjectData{group, {}}},
		{Time: "07:30", Subjects: [2]troopmap.SubjectData{group, {}}},
	}
	return scene.NewBuilder(frames, shape, &scene.Options{
		Projection: identity{},
		Width:      80,
		Height:     120,
		MinRadius:  20,
		MaxRadius:  20,
	})
}

func rowText(s tcell.SimulationScreen, y int) string {
	w, _ := s.Size()
	var sb strings.Builder
	for x := range w {
		r, _, _, _ := s.GetContent(x, y)
		sb.WriteRune(r)
	}
	return strings.TrimRight(sb.String(), " ")
}

func background(s tcell.SimulationScreen, x, y int) tcell.Color {
	_, _, style, _ := s.GetContent(x, y)
	_, bg, _ := style.Decompose()
	return bg
}

func TestPaint(t *testing.T) {
	s := newTestScreen(t, 40, 32)
	b := newTestBuilder(t)
	p := player.New(b.Len(), &player.Options{Interval: time.Hour})
	defer p.Close()

	v := newViewer(s, b, p)
	v.paint()

	if got, want := rowText(s, 0), "time: 07:00  frame 0/2  paused"; got != want {
		t.Errorf("Status: got %q, want %q", got, want)
	}
	if got := rowText(s, 31); got != helpText {
		t.Errorf("Help: got %q, want %q", got, helpText)
	}

	// The scene is 80×120 pixels on 40×30 cells, so one column is two pixels
	// and one row is four. The glyph is centered on cell (20, 16).
	male := cellColor(troopmap.Palette[troopmap.Male])
	female := cellColor(troopmap.Palette[troopmap.Female])
	gray := cellColor(troopmap.Background)
	tests := []struct {
		name string
		x, y int
		want tcell.Color
	}{
		{"outline", 2, 2, gray},
		{"right of center", 25, 16, male},
		{"left of center", 15, 16, female},
		{"above the glyph", 20, 8, tcell.ColorDefault},
		{"empty", 35, 28, tcell.ColorDefault},
	}
	for _, tc := range tests {
		if got := background(s, tc.x, tc.y); got != tc.want {
			t.Errorf("%s: cell (%d, %d) background is %v, want %v", tc.name, tc.x, tc.y, got, tc.want)
		}
	}
}

func TestKeys(t *testing.T) {
	s := newTestScreen(t, 40, 32)
	b := newTestBuilder(t)
	p := player.New(b.Len(), &player.Options{Interval: time.Hour})
	defer p.Close()
	v := newViewer(s, b, p)

	key := func(k tcell.Key, r rune) bool {
		return v.handleKey(tcell.NewEventKey(k, r, tcell.ModNone))
	}
	steps := []struct {
		key  tcell.Key
		r    rune
		want player.State
	}{
		{tcell.KeyLeft, 0, player.State{Frame: 0, Len: 3}},
		{tcell.KeyRight, 0, player.State{Frame: 1, Len: 3}},
		{tcell.KeyEnd, 0, player.State{Frame: 2, Len: 3}},
		{tcell.KeyRight, 0, player.State{Frame: 2, Len: 3}},
		{tcell.KeyRune, '.', player.State{Frame: 0, Len: 3}},
		{tcell.KeyRune, ' ', player.State{Frame: 0, Playing: true, Len: 3}},
		{tcell.KeyHome, 0, player.State{Frame: 0, Len: 3}},
	}
	for i, st := range steps {
		if !key(st.key, st.r) {
			t.Fatalf("Step %d: viewer exited", i)
		}
		if diff := cmp.Diff(st.want, p.State()); diff != "" {
			t.Errorf("Step %d: state (-want, +got):\n%s", i, diff)
		}
		if diff := cmp.Diff(st.want, v.st); diff != "" {
			t.Errorf("Step %d: viewer state (-want, +got):\n%s", i, diff)
		}
	}

	if key(tcell.KeyRune, 'q') {
		t.Error("Key q: viewer did not exit")
	}
	if key(tcell.KeyEscape, 0) {
		t.Error("Key Esc: viewer did not exit")
	}
}

func TestWrapChime(t *testing.T) {
	s := newTestScreen(t, 40, 32)
	b := newTestBuilder(t)
	p := player.New(b.Len(), &player.Options{Interval: time.Hour, Start: 2})
	defer p.Close()
	v := newViewer(s, b, p)
	n := &notifier{post: func(tcell.Event) error { return nil }}

	var chimes int
	v.onWrap = func() { chimes++ }
	deliver := func(st player.State) {
		n.notify(st)
		if st, wrapped, ok := n.take(); ok {
			v.update(st, wrapped)
		}
	}

	deliver(player.State{Frame: 2, Len: 3})
	deliver(player.State{Frame: 0, Len: 3}) // paused: no chime
	deliver(player.State{Frame: 2, Playing: true, Len: 3})
	deliver(player.State{Frame: 0, Playing: true, Len: 3})
	deliver(player.State{Frame: 0, Playing: true, Len: 3})
	if chimes != 1 {
		t.Errorf("Chimes: got %d, want 1", chimes)
	}

	// A wrap hidden between two taken states still chimes.
	n.notify(player.State{Frame: 1, Playing: true, Len: 3})
	n.notify(player.State{Frame: 2, Playing: true, Len: 3})
	n.notify(player.State{Frame: 0, Playing: true, Len: 3})
	n.notify(player.State{Frame: 1, Playing: true, Len: 3})
	st, wrapped, ok := n.take()
	if !ok || !wrapped {
		t.Fatalf("take: got wrapped=%v ok=%v, want both true", wrapped, ok)
	}
	v.update(st, wrapped)
	if chimes != 2 {
		t.Errorf("Chimes: got %d, want 2", chimes)
	}
	if v.shown.Index != 1 {
		t.Errorf("Shown frame: got %d, want 1", v.shown.Index)
	}
}

func TestNotifierCoalesce(t *testing.T) {
	var posts int
	full := false
	n := &notifier{post: func(tcell.Event) error {
		if full {
			return tcell.ErrEventQFull
		}
		posts++
		return nil
	}}

	for i := range 5 {
		n.notify(player.State{Frame: i, Playing: true, Len: 10})
	}
	if posts != 1 {
		t.Errorf("Posts while pending: got %d, want 1", posts)
	}
	st, wrapped, ok := n.take()
	if diff := cmp.Diff(player.State{Frame: 4, Playing: true, Len: 10}, st); diff != "" || wrapped || !ok {
		t.Errorf("take: wrapped=%v ok=%v, state (-want, +got):\n%s", wrapped, ok, diff)
	}
	if _, _, ok := n.take(); ok {
		t.Error("take: got a state twice")
	}

	// A full queue keeps the state for the next take, and a later change
	// tries to post again.
	full = true
	n.notify(player.State{Frame: 5, Len: 10})
	full = false
	n.notify(player.State{Frame: 6, Len: 10})
	if posts != 2 {
		t.Errorf("Posts after a full queue: got %d, want 2", posts)
	}
	if st, _, _ := n.take(); st.Frame != 6 {
		t.Errorf("take: got frame %d, want 6", st.Frame)
	}
}

func TestSkippedFrames(t *testing.T) {
	s := newTestScreen(t, 40, 32)
	group := func(lon, lat troopmap.Value) troopmap.SubjectData {
		return troopmap.SubjectData{
			Long: lon, Lat: lat,
			AdultM: troopmap.Num(5), AdultF: troopmap.Num(5), Total: troopmap.Num(10),
		}
	}
	here := group(troopmap.Num(10), troopmap.Num(20))
	lost := group(troopmap.NA, troopmap.NA)
	frames := []troopmap.Frame{
		{Time: "t0", Subjects: [2]troopmap.SubjectData{here, lost}},
		{Time: "t1", Subjects: [2]troopmap.SubjectData{here, group(troopmap.Num(30), troopmap.Num(40))}},
		{Time: "t2", Subjects: [2]troopmap.SubjectData{here, lost}},
	}
	b := scene.NewBuilder(frames, nil, &scene.Options{Projection: identity{}})
	p := player.New(b.Len(), &player.Options{Interval: time.Hour})
	defer p.Close()
	v := newViewer(s, b, p)

	// Frame 1 is never shown, but mt's position there carries into frame 2.
	v.update(player.State{Frame: 2, Playing: true, Len: 3}, false)
	if diff := cmp.Diff(b.Timeline()[2], v.pos); diff != "" {
		t.Errorf("Positions after skipping (-want, +got):\n%s", diff)
	}
	want := troopmap.Point{X: 30, Y: 40}
	if got := v.shown.Glyphs[1].Position; got != want {
		t.Errorf("mt center: got %v, want %v", got, want)
	}
}
