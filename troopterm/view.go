// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"math"

	"github.com/gdamore/tcell/v2"
	"github.com/tailscale/troopmap"
	"github.com/tailscale/troopmap/player"
	"github.com/tailscale/troopmap/scene"
)

const helpText = "space play/pause  ←/→ seek  home/end  . step  q quit"

// A viewer paints the scenes of a player onto a terminal screen. Its methods
// must be called from the goroutine that polls screen events.
type viewer struct {
	screen  tcell.Screen
	builder *scene.Builder
	player  *player.Player
	onWrap  func() // called when playback wraps to the first frame

	st    player.State
	shown *scene.Scene
	pos   troopmap.Positions // positions in effect after shown

	mask         []bool // background cells, indexed y*maskW+x
	maskW, maskH int
}

func newViewer(screen tcell.Screen, b *scene.Builder, p *player.Player) *viewer {
	v := &viewer{
		screen:  screen,
		builder: b,
		player:  p,
		onWrap:  func() {},
		pos:     b.Initial(),
	}
	v.update(p.State(), false)
	return v
}

// update moves the viewer to st, carrying subject positions forward from
// the frame shown before. While playing, frames passed over since the shown
// one are projected in order. wrapped reports that playback ran past the
// last frame on the way to st.
func (v *viewer) update(st player.State, wrapped bool) {
	n := v.builder.Len()
	if st.Frame < 0 || st.Frame >= n {
		return
	}
	if st.Playing && v.shown != nil {
		from := v.shown.Index + 1
		if wrapped {
			v.skip(from, n)
			from = 0
		}
		v.skip(from, st.Frame)
	}
	if wrapped && st.Playing && n > 1 {
		v.onWrap()
	}
	v.st = st
	v.shown, v.pos = v.builder.Build(st.Frame, v.pos)
}

// skip carries positions through frames [from, to) without showing them.
func (v *viewer) skip(from, to int) {
	for i := from; i < to; i++ {
		_, v.pos = v.builder.Project(v.builder.Frame(i), v.pos)
	}
}

// handleKey applies a key press to the player. It reports false if the
// viewer should exit.
func (v *viewer) handleKey(ev *tcell.EventKey) bool {
	last := v.player.Len() - 1
	cur := v.player.State().Frame
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyLeft:
		v.player.Seek(max(cur-1, 0))
	case tcell.KeyRight:
		v.player.Seek(min(cur+1, last))
	case tcell.KeyHome:
		v.player.Seek(0)
	case tcell.KeyEnd:
		v.player.Seek(last)
	case tcell.KeyRune:
		switch ev.Rune() {
		case ' ':
			v.player.TogglePlay()
		case '.':
			v.player.Step()
		case 'q', 'Q':
			return false
		}
	}
	v.update(v.player.State(), false)
	return true
}

// paint draws the current scene, with a status line on the first row and
// key help on the last.
func (v *viewer) paint() {
	s := v.screen
	s.Clear()
	w, h := s.Size()
	if v.shown == nil || w <= 0 || h < 3 {
		s.Show()
		return
	}

	verb := "paused"
	if v.st.Playing {
		verb = "playing"
	}
	status := fmt.Sprintf("time: %s  frame %d/%d  %s", v.shown.Time, v.st.Frame, v.st.Len-1, verb)
	drawText(s, 0, 0, tcell.StyleDefault.Bold(true), status)
	drawText(s, 0, h-1, tcell.StyleDefault.Dim(true), helpText)

	m := v.layout(w, h)
	if len(v.mask) != w*h || v.maskW != w || v.maskH != h {
		v.mask = v.backgroundMask(m, w, h)
		v.maskW, v.maskH = w, h
	}
	bg := tcell.StyleDefault.Background(cellColor(troopmap.Background))
	for i, in := range v.mask {
		if in {
			s.SetContent(i%w, i/w, ' ', nil, bg)
		}
	}
	for _, g := range v.shown.Glyphs {
		if g.Visible() {
			drawGlyph(s, m, g, h)
		}
	}
	s.Show()
}

// A cellMap maps between screen cells and scene pixels. Terminal cells are
// about twice as tall as they are wide.
type cellMap struct {
	k      float64 // columns per pixel; rows per pixel is k/2
	ox, oy float64 // cell position of the scene origin
}

func (m cellMap) pixel(cx, cy int) (x, y float64) {
	return (float64(cx) + 0.5 - m.ox) / m.k, (float64(cy) + 0.5 - m.oy) / (m.k / 2)
}

func (m cellMap) cell(x, y float64) (cx, cy int) {
	return int(math.Floor(x*m.k + m.ox)), int(math.Floor(y*m.k/2 + m.oy))
}

// layout fits the scene into the rows between the status and help lines,
// centered and preserving its aspect ratio.
func (v *viewer) layout(w, h int) cellMap {
	rows := float64(h - 2)
	sw, sh := v.builder.Size()
	k := min(float64(w)/sw, 2*rows/sh)
	return cellMap{
		k:  k,
		ox: (float64(w) - sw*k) / 2,
		oy: 1 + (rows-sh*k/2)/2,
	}
}

func (v *viewer) backgroundMask(m cellMap, w, h int) []bool {
	mask := make([]bool, w*h)
	shape := v.builder.Shape()
	if shape.Empty() {
		return mask
	}
	for cy := 1; cy < h-1; cy++ {
		for cx := range w {
			x, y := m.pixel(cx, cy)
			mask[cy*w+cx] = shape.Contains(x, y)
		}
	}
	return mask
}

// drawGlyph fills the cells covered by g with the color of the wedge under
// each cell. A glyph smaller than a cell still marks its center cell.
func drawGlyph(s tcell.Screen, m cellMap, g scene.Glyph, h int) {
	w, _ := s.Size()
	x0, y0 := m.cell(g.Position.X-g.Radius, g.Position.Y-g.Radius)
	x1, y1 := m.cell(g.Position.X+g.Radius, g.Position.Y+g.Radius)
	painted := false
	for cy := max(y0, 1); cy <= min(y1, h-2); cy++ {
		for cx := max(x0, 0); cx <= min(x1, w-1); cx++ {
			x, y := m.pixel(cx, cy)
			dx, dy := x-g.Position.X, y-g.Position.Y
			if dx*dx+dy*dy > g.Radius*g.Radius {
				continue
			}
			if wg, ok := wedgeAt(g, screenAngle(dx, dy)); ok {
				s.SetContent(cx, cy, ' ', nil, tcell.StyleDefault.Background(cellColor(wg.Color)))
				painted = true
			}
		}
	}
	if !painted {
		cx, cy := m.cell(g.Position.X, g.Position.Y)
		if wg, ok := largestWedge(g); ok && cx >= 0 && cx < w && cy >= 1 && cy < h-1 {
			s.SetContent(cx, cy, ' ', nil, tcell.StyleDefault.Background(cellColor(wg.Color)))
		}
	}
}

// screenAngle returns the angle of the offset (dx, dy) measured clockwise
// from 12 o'clock, in [0, 2π). Screen y grows downward.
func screenAngle(dx, dy float64) float64 {
	a := math.Atan2(dx, -dy)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

func wedgeAt(g scene.Glyph, a float64) (scene.Wedge, bool) {
	for _, wg := range g.Wedges {
		if wg.Slice.Span() > 0 && a >= wg.Slice.Start && a < wg.Slice.End {
			return wg, true
		}
	}
	return largestWedge(g) // rounding at 2π
}

func largestWedge(g scene.Glyph) (scene.Wedge, bool) {
	var best scene.Wedge
	var ok bool
	for _, wg := range g.Wedges {
		if wg.Slice.Span() > 0 && (!ok || wg.Slice.Span() > best.Slice.Span()) {
			best, ok = wg, true
		}
	}
	return best, ok
}

func cellColor(c troopmap.Color) tcell.Color {
	rgba := c.NRGBA()
	return tcell.NewRGBColor(int32(rgba.R), int32(rgba.G), int32(rgba.B))
}

func drawText(s tcell.Screen, x, y int, style tcell.Style, text string) {
	w, _ := s.Size()
	for _, r := range text {
		if x >= w {
			return
		}
		s.SetContent(x, y, r, nil, style)
		x++
	}
}
