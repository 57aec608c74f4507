// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package scene assembles drawable frames from a troop dataset.
//
// A Builder holds the static parts of the visualization: the dataset, the
// map projection, the projected background outline, and the radius scale.
// Per frame, the Builder projects each subject onto the surface (carrying
// the previous position forward when coordinates are missing) and derives
// the pie-chart geometry of its glyph.
package scene

import (
	"fmt"

	"github.com/creachadair/mds/slice"
	geojson "github.com/paulmach/go.geojson"
	"github.com/tailscale/troopmap"
	"github.com/tailscale/troopmap/chart"
	"github.com/tailscale/troopmap/geo"
)

// Options are optional settings for a Builder. A nil *Options is ready for
// use with default values.
type Options struct {
	// The projection used for subject positions and the background outline.
	// Default: geo.DefaultMercator().
	Projection geo.Projection

	// The frame whose positions seed carry-forward before the first frame
	// with valid coordinates. Values past the end of the dataset are clamped,
	// and negative values select frame 0. If nil, frame 11 is used.
	InitialFrame *int

	// Size of the drawing surface in pixels. Default: 800×1200.
	Width, Height float64

	// Glyph radius bounds in pixels. Default: 10 and 50.
	MinRadius, MaxRadius float64
}

func (o *Options) projection() geo.Projection {
	if o == nil || o.Projection == nil {
		return geo.DefaultMercator()
	}
	return o.Projection
}

func (o *Options) initialFrame() int {
	if o == nil || o.InitialFrame == nil {
		return 11
	}
	return max(*o.InitialFrame, 0)
}

func (o *Options) size() (w, h float64) {
	w, h = 800, 1200
	if o != nil && o.Width > 0 {
		w = o.Width
	}
	if o != nil && o.Height > 0 {
		h = o.Height
	}
	return w, h
}

func (o *Options) radii() (lo, hi float64) {
	if o == nil || o.MaxRadius <= 0 || o.MinRadius > o.MaxRadius {
		return 10, 50
	}
	return o.MinRadius, o.MaxRadius
}

// A Builder derives scenes from a fixed dataset. A Builder is immutable once
// constructed and safe for concurrent use by multiple goroutines.
type Builder struct {
	frames        []troopmap.Frame
	proj          geo.Projection
	shape         *geo.Shape
	scale         chart.LinearScale
	width, height float64
	initial       troopmap.Positions
	timeline      []troopmap.Positions
}

// NewBuilder constructs a Builder for frames. The background outline is
// projected once from shape, which may be nil. The frames must not be
// modified after NewBuilder returns.
func NewBuilder(frames []troopmap.Frame, shape *geojson.FeatureCollection, opts *Options) *Builder {
	b := &Builder{
		frames: frames,
		proj:   opts.projection(),
		scale:  RadiusScale(frames, opts),
	}
	b.width, b.height = opts.size()
	b.shape = geo.NewShape(shape, b.proj)

	if len(frames) != 0 {
		i := min(opts.initialFrame(), len(frames)-1)
		_, b.initial = b.Project(&frames[i], troopmap.Positions{})
	}
	b.timeline = make([]troopmap.Positions, len(frames))
	pos := b.initial
	for i := range frames {
		_, pos = b.Project(&frames[i], pos)
		b.timeline[i] = pos
	}
	return b
}

// RadiusScale returns the linear scale from group size to glyph radius. Its
// domain is the extent of every available total in frames, for both
// subjects.
func RadiusScale(frames []troopmap.Frame, opts *Options) chart.LinearScale {
	totals := make([]troopmap.Value, 0, 2*len(frames))
	for _, f := range frames {
		for _, sd := range f.Subjects {
			totals = append(totals, sd.Total)
		}
	}
	valid := slice.Partition(totals, troopmap.Value.Valid)
	vals := make([]float64, len(valid))
	for i, v := range valid {
		vals[i] = v.Float()
	}
	lo, hi := opts.radii()
	return chart.NewLinearScale(vals, lo, hi)
}

// Len reports the number of frames in the dataset.
func (b *Builder) Len() int { return len(b.frames) }

// Frame returns the frame at index i. It panics if i is out of range.
func (b *Builder) Frame(i int) *troopmap.Frame { return &b.frames[i] }

// Shape returns the projected background outline.
func (b *Builder) Shape() *geo.Shape { return b.shape }

// Scale returns the radius scale.
func (b *Builder) Scale() chart.LinearScale { return b.scale }

// Size returns the dimensions of the drawing surface.
func (b *Builder) Size() (w, h float64) { return b.width, b.height }

// Initial returns the positions in effect before the first frame.
func (b *Builder) Initial() troopmap.Positions { return b.initial }

// Timeline returns the resolved positions after each frame, as reached by
// sequential carry-forward from the initial positions. The caller must not
// modify the result.
func (b *Builder) Timeline() []troopmap.Positions { return b.timeline }

// Before returns the positions in effect before frame i is projected, as
// reached by sequential playback. It panics if i is out of range.
func (b *Builder) Before(i int) troopmap.Positions {
	if i == 0 {
		return b.initial
	}
	return b.timeline[i-1]
}

// Records returns the subject records of f, in subject order.
func (b *Builder) Records(f *troopmap.Frame) [2]troopmap.Record { return f.Records() }

// Project returns the records of f together with the screen position of each
// subject. A subject whose coordinates are missing, or cannot be projected,
// keeps its position from prev.
func (b *Builder) Project(f *troopmap.Frame, prev troopmap.Positions) ([2]troopmap.Record, troopmap.Positions) {
	recs := f.Records()
	pos := prev
	for i, r := range recs {
		if !r.Located() {
			continue
		}
		if x, y, ok := b.proj.Project(r.Long.Float(), r.Lat.Float()); ok {
			pos[i] = troopmap.Point{X: x, Y: y}
		}
	}
	return recs, pos
}

// A Wedge is one slice of a glyph.
type Wedge struct {
	Category string         `json:"category"`
	Color    troopmap.Color `json:"color"`
	Slice    chart.Slice    `json:"slice"`
	Path     string         `json:"path"` // relative to the glyph center
}

// A Glyph is the pie chart of one subject.
type Glyph struct {
	Record   troopmap.Record `json:"record"`
	Position troopmap.Point  `json:"position"`
	Radius   float64         `json:"radius"`
	Wedges   []Wedge         `json:"wedges"` // male, female, child
}

// Visible reports whether g has anything to draw. A glyph without a known
// total has no radius.
func (g Glyph) Visible() bool { return g.Radius > 0 }

// Radius returns the glyph radius for a group of the given size, or 0 if the
// size is not available.
func (b *Builder) Radius(total troopmap.Value) float64 {
	if !total.Valid() {
		return 0
	}
	return max(b.scale.Map(total.Float()), 0)
}

// Geometry returns the pie geometry of each record. Wedges are always
// reported in male, female, child order; a zero or missing count yields a
// zero-angle wedge rather than none.
func (b *Builder) Geometry(recs [2]troopmap.Record) [2][]Wedge {
	var out [2][]Wedge
	for i, r := range recs {
		var vals [troopmap.NumCategories]float64
		for c, v := range r.Population {
			if v.Valid() {
				vals[c] = v.Float()
			}
		}
		arc := chart.Arc{Outer: b.Radius(r.Total)}
		for _, s := range chart.Pie(vals[:]) {
			c := troopmap.Category(s.Index)
			out[i] = append(out[i], Wedge{
				Category: c.String(),
				Color:    troopmap.Palette[c],
				Slice:    s,
				Path:     arc.Path(s),
			})
		}
	}
	return out
}

// A Scene is everything needed to draw one frame.
type Scene struct {
	Index      int        `json:"index"`
	Time       string     `json:"time"`
	Width      float64    `json:"width"`
	Height     float64    `json:"height"`
	Background *geo.Shape `json:"-"`
	Glyphs     [2]Glyph   `json:"glyphs"`
}

func (s *Scene) String() string { return fmt.Sprintf("scene %d (%s)", s.Index, s.Time) }

// Build returns the scene for frame i given the positions prev in effect
// before it, together with the positions in effect after it. It panics if i
// is out of range.
func (b *Builder) Build(i int, prev troopmap.Positions) (*Scene, troopmap.Positions) {
	f := &b.frames[i]
	recs, pos := b.Project(f, prev)
	geom := b.Geometry(recs)
	s := &Scene{
		Index:      i,
		Time:       f.Time,
		Width:      b.width,
		Height:     b.height,
		Background: b.shape,
	}
	for j, r := range recs {
		s.Glyphs[j] = Glyph{
			Record:   r,
			Position: pos[j],
			Radius:   b.Radius(r.Total),
			Wedges:   geom[j],
		}
	}
	return s, pos
}

// At returns the scene for frame i as reached by sequential playback from
// the start of the dataset. It panics if i is out of range.
func (b *Builder) At(i int) *Scene {
	s, _ := b.Build(i, b.Before(i))
	return s
}
