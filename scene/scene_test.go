// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package scene

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/tailscale/troopmap"
)

// identity projects degrees directly onto pixels.
type identity struct{}

func (identity) Project(lon, lat float64) (float64, float64, bool) { return lon, lat, true }

var na = troopmap.NA

var ignoreShape = cmpopts.IgnoreFields(Scene{}, "Background")

func at(lon, lat float64) troopmap.SubjectData {
	return troopmap.SubjectData{
		Long: troopmap.Num(lon), Lat: troopmap.Num(lat),
		AdultM: troopmap.Num(1), AdultF: troopmap.Num(1), Total: troopmap.Num(4),
	}
}

func lost() troopmap.SubjectData {
	return troopmap.SubjectData{
		Long: na, Lat: na,
		AdultM: troopmap.Num(1), AdultF: troopmap.Num(1), Total: troopmap.Num(4),
	}
}

func testFrames() []troopmap.Frame {
	return []troopmap.Frame{
		{Time: "t0", Subjects: [2]troopmap.SubjectData{at(1, 2), lost()}},
		{Time: "t1", Subjects: [2]troopmap.SubjectData{lost(), at(5, 6)}},
		{Time: "t2", Subjects: [2]troopmap.SubjectData{at(3, 4), lost()}},
	}
}

func pt(x, y float64) troopmap.Point { return troopmap.Point{X: x, Y: y} }

func TestProjectOrder(t *testing.T) {
	b := NewBuilder(testFrames(), nil, &Options{Projection: identity{}})
	for i := range b.Len() {
		recs, _ := b.Project(b.Frame(i), troopmap.Positions{})
		if recs[0].Name != "kk" || recs[1].Name != "mt" {
			t.Errorf("frame %d: got subjects %q, %q; want kk, mt", i, recs[0].Name, recs[1].Name)
		}
	}
}

func TestCarryForward(t *testing.T) {
	b := NewBuilder(testFrames(), nil, &Options{Projection: identity{}})

	// The initial positions come from the last frame, since the dataset is
	// shorter than the default initial frame. mt is missing there.
	if diff := cmp.Diff(troopmap.Positions{pt(3, 4), pt(0, 0)}, b.Initial()); diff != "" {
		t.Errorf("Initial positions (-want, +got):\n%s", diff)
	}

	want := []troopmap.Positions{
		{pt(1, 2), pt(0, 0)},
		{pt(1, 2), pt(5, 6)},
		{pt(3, 4), pt(5, 6)},
	}
	if diff := cmp.Diff(want, b.Timeline()); diff != "" {
		t.Errorf("Timeline (-want, +got):\n%s", diff)
	}

	// Project is a pure function of its inputs.
	prev := troopmap.Positions{pt(9, 9), pt(8, 8)}
	_, got := b.Project(b.Frame(1), prev)
	if diff := cmp.Diff(troopmap.Positions{pt(9, 9), pt(5, 6)}, got); diff != "" {
		t.Errorf("Project (-want, +got):\n%s", diff)
	}
	if prev != (troopmap.Positions{pt(9, 9), pt(8, 8)}) {
		t.Errorf("Project modified its input: %v", prev)
	}

	// Stateless scenes agree with sequential playback.
	pos := b.Initial()
	for i := range b.Len() {
		var s *Scene
		s, pos = b.Build(i, pos)
		if diff := cmp.Diff(s, b.At(i), cmp.AllowUnexported(troopmap.Value{}), ignoreShape); diff != "" {
			t.Errorf("At(%d) differs from playback (-want, +got):\n%s", i, diff)
		}
	}
}

func TestInitialFrameZero(t *testing.T) {
	zero := 0
	b := NewBuilder(testFrames(), nil, &Options{Projection: identity{}, InitialFrame: &zero})
	if diff := cmp.Diff(troopmap.Positions{pt(1, 2), pt(0, 0)}, b.Initial()); diff != "" {
		t.Errorf("Initial positions (-want, +got):\n%s", diff)
	}

	// Unset falls back to the default, clamped to the last frame.
	b = NewBuilder(testFrames(), nil, &Options{Projection: identity{}})
	if diff := cmp.Diff(troopmap.Positions{pt(3, 4), pt(0, 0)}, b.Initial()); diff != "" {
		t.Errorf("Default initial positions (-want, +got):\n%s", diff)
	}
}

func TestUnprojectable(t *testing.T) {
	frames := []troopmap.Frame{
		{Subjects: [2]troopmap.SubjectData{at(29.65, 91), at(29.65, -4.65)}},
	}
	b := NewBuilder(frames, nil, nil)
	prev := troopmap.Positions{pt(7, 7), pt(0, 0)}
	_, got := b.Project(b.Frame(0), prev)
	if got[0] != pt(7, 7) {
		t.Errorf("unprojectable position: got %v, want %v", got[0], pt(7, 7))
	}
	if math.Abs(got[1].X-480) > 1e-6 || math.Abs(got[1].Y-250) > 1e-6 {
		t.Errorf("center position: got %v, want (480, 250)", got[1])
	}
}

func TestPopulation(t *testing.T) {
	frames := []troopmap.Frame{{
		Time: "2005-01-03",
		Subjects: [2]troopmap.SubjectData{{
			Long: troopmap.Num(1), Lat: troopmap.Num(1),
			AdultM: troopmap.Num(20), AdultF: troopmap.Num(25), Total: troopmap.Num(50),
		}, {
			Long: troopmap.Num(2), Lat: troopmap.Num(2),
			AdultM: troopmap.Num(4), AdultF: troopmap.Num(6), Total: troopmap.Num(10),
		}},
	}}
	b := NewBuilder(frames, nil, &Options{Projection: identity{}})
	s := b.At(0)

	kk := s.Glyphs[0]
	want := troopmap.Population{troopmap.Num(20), troopmap.Num(25), troopmap.Num(5)}
	if kk.Record.Population != want {
		t.Errorf("kk population: got %v, want %v", kk.Record.Population, want)
	}
	if kk.Radius != 50 {
		t.Errorf("kk radius: got %v, want 50", kk.Radius)
	}

	mt := s.Glyphs[1]
	if mt.Radius != 10 {
		t.Errorf("mt radius: got %v, want 10", mt.Radius)
	}

	// mt has no children, but still gets a (zero-angle) child wedge.
	var cats []string
	for _, w := range mt.Wedges {
		cats = append(cats, w.Category)
	}
	if diff := cmp.Diff([]string{"male", "female", "child"}, cats); diff != "" {
		t.Errorf("mt wedges (-want, +got):\n%s", diff)
	}
	if span := mt.Wedges[2].Slice.Span(); span != 0 {
		t.Errorf("mt child span: got %v, want 0", span)
	}
	if got, want := mt.Wedges[0].Color, troopmap.Palette[troopmap.Male]; got != want {
		t.Errorf("male color: got %v, want %v", got, want)
	}

	var total float64
	for _, w := range kk.Wedges {
		total += w.Slice.Span()
	}
	if math.Abs(total-2*math.Pi) > 1e-9 {
		t.Errorf("kk spans sum to %v, want 2π", total)
	}

	// Scenes are encodable as JSON.
	if _, err := json.Marshal(s); err != nil {
		t.Errorf("Marshal scene: %v", err)
	}
}

func TestRadiusScale(t *testing.T) {
	frames := testFrames()
	frames[0].Subjects[0].Total = troopmap.Num(30)
	frames[2].Subjects[1].Total = troopmap.Num(80)
	frames[1].Subjects[0].Total = na

	b := NewBuilder(frames, nil, &Options{Projection: identity{}})
	before := b.Scale()
	if want := [2]float64{4, 80}; before.Domain != want {
		t.Errorf("Domain: got %v, want %v", before.Domain, want)
	}
	if want := [2]float64{10, 50}; before.Range != want {
		t.Errorf("Range: got %v, want %v", before.Range, want)
	}

	// Processing frames does not affect the scale.
	pos := b.Initial()
	for i := range b.Len() {
		_, pos = b.Build(i, pos)
		if got := b.Scale(); got != before {
			t.Errorf("after frame %d: scale %v, want %v", i, got, before)
		}
	}
	if got := RadiusScale(frames, nil); got != before {
		t.Errorf("RadiusScale: got %v, want %v", got, before)
	}

	// A missing total yields an invisible glyph.
	g := b.At(1).Glyphs[0]
	if g.Radius != 0 || g.Visible() {
		t.Errorf("glyph with missing total: radius %v, visible %v", g.Radius, g.Visible())
	}
}
