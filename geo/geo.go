// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package geo projects geographic coordinates onto the rendering surface and
// converts GeoJSON outlines into drawable paths.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/fogleman/gg"
	geojson "github.com/paulmach/go.geojson"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/tailscale/troopmap/chart"
)

// A Projection maps a longitude/latitude pair in degrees to surface
// coordinates in pixels. It reports false if the point cannot be projected.
type Projection interface {
	Project(lon, lat float64) (x, y float64, ok bool)
}

// Mercator is a spherical Mercator projection. The Center point is mapped to
// the Translate point, and Scale is the number of pixels per radian.
type Mercator struct {
	Center    [2]float64 // lon, lat in degrees
	Scale     float64
	Translate [2]float64 // x, y in pixels
}

// DefaultMercator returns the projection used to draw the Gombe outline.
func DefaultMercator() Mercator {
	return Mercator{
		Center:    [2]float64{29.65, -4.65},
		Scale:     400000,
		Translate: [2]float64{480, 250},
	}
}

func mercatorY(phi float64) float64 {
	return math.Log(math.Tan((math.Pi/2 + phi) / 2))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Project implements Projection. Points at or beyond the poles, and
// non-finite inputs, cannot be projected.
func (m Mercator) Project(lon, lat float64) (x, y float64, ok bool) {
	if !finite(lon) || !finite(lat) || math.Abs(lat) >= 90 {
		return 0, 0, false
	}
	x = m.Translate[0] + m.Scale*(radians(lon)-radians(m.Center[0]))
	y = m.Translate[1] - m.Scale*(mercatorY(radians(lat))-mercatorY(radians(m.Center[1])))
	return x, y, finite(x) && finite(y)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// ParseShape decodes a GeoJSON document. In addition to a FeatureCollection,
// a single Feature or a bare Geometry is accepted and wrapped in a
// collection.
func ParseShape(data []byte) (*geojson.FeatureCollection, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode shape: %w", err)
	}
	switch head.Type {
	case "FeatureCollection":
		return geojson.UnmarshalFeatureCollection(data)
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, err
		}
		return geojson.NewFeatureCollection().AddFeature(f), nil
	case "":
		return nil, errors.New("decode shape: missing type")
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, err
		}
		return geojson.NewFeatureCollection().AddFeature(geojson.NewFeature(g)), nil
	}
}

// A Shape is a GeoJSON outline projected onto the surface. A Shape is
// immutable once constructed and safe for concurrent use.
type Shape struct {
	lines []line
	polys orb.MultiPolygon // closed rings, grouped for point tests
}

type line struct {
	pts    []Point
	closed bool
}

// A Point is a projected position.
type Point struct{ X, Y float64 }

// NewShape projects the line and polygon geometries of fc. Point geometries
// are ignored. Positions that p cannot project are dropped from their ring.
func NewShape(fc *geojson.FeatureCollection, p Projection) *Shape {
	s := new(Shape)
	if fc == nil {
		return s
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		s.addGeometry(f.Geometry, p)
	}
	return s
}

func (s *Shape) addGeometry(g *geojson.Geometry, p Projection) {
	if g == nil {
		return
	}
	switch {
	case g.IsLineString():
		s.addLine(g.LineString, false, p)
	case g.IsMultiLineString():
		for _, ls := range g.MultiLineString {
			s.addLine(ls, false, p)
		}
	case g.IsPolygon():
		s.addPolygon(g.Polygon, p)
	case g.IsMultiPolygon():
		for _, poly := range g.MultiPolygon {
			s.addPolygon(poly, p)
		}
	case g.IsCollection():
		for _, sub := range g.Geometries {
			s.addGeometry(sub, p)
		}
	}
}

// addPolygon adds the rings of one polygon. The first ring is the outer
// boundary and the rest are holes.
func (s *Shape) addPolygon(rings [][][]float64, p Projection) {
	var poly orb.Polygon
	for i, ring := range rings {
		pts := s.addLine(ring, true, p)
		if len(pts) == 0 {
			if i == 0 {
				poly = nil // no outer boundary
			}
			continue
		}
		if i != 0 && poly == nil {
			continue
		}
		r := make(orb.Ring, len(pts))
		for j, pt := range pts {
			r[j] = orb.Point{pt.X, pt.Y}
		}
		poly = append(poly, r)
	}
	if poly != nil {
		s.polys = append(s.polys, poly)
	}
}

// addLine projects coords and adds them as one line, returning the projected
// points. It returns nil if no point could be projected.
func (s *Shape) addLine(coords [][]float64, closed bool, p Projection) []Point {
	var pts []Point
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		x, y, ok := p.Project(c[0], c[1])
		if !ok {
			continue
		}
		pts = append(pts, Point{x, y})
	}
	// GeoJSON rings repeat their first position at the end; the closing
	// segment is drawn by the close command instead.
	if closed && len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	if len(pts) == 0 {
		return nil
	}
	s.lines = append(s.lines, line{pts: pts, closed: closed})
	return pts
}

// Empty reports whether s has nothing to draw.
func (s *Shape) Empty() bool { return s == nil || len(s.lines) == 0 }

// Path returns the SVG path data for s.
func (s *Shape) Path() string {
	if s.Empty() {
		return ""
	}
	var sb strings.Builder
	for _, ln := range s.lines {
		for i, pt := range ln.pts {
			if i == 0 {
				sb.WriteByte('M')
			} else {
				sb.WriteByte('L')
			}
			sb.WriteString(chart.FormatFloat(pt.X))
			sb.WriteByte(',')
			sb.WriteString(chart.FormatFloat(pt.Y))
		}
		if ln.closed {
			sb.WriteByte('Z')
		}
	}
	return sb.String()
}

// Trace adds the outline of s to the current path of dc. The caller decides
// whether to fill or stroke it.
func (s *Shape) Trace(dc *gg.Context) {
	if s.Empty() {
		return
	}
	for _, ln := range s.lines {
		dc.NewSubPath()
		for i, pt := range ln.pts {
			if i == 0 {
				dc.MoveTo(pt.X, pt.Y)
			} else {
				dc.LineTo(pt.X, pt.Y)
			}
		}
		if ln.closed {
			dc.ClosePath()
		}
	}
}

// Rings calls f for each projected line of s, with closed reporting whether
// the line is a polygon ring.
func (s *Shape) Rings(f func(pts []Point, closed bool)) {
	if s.Empty() {
		return
	}
	for _, ln := range s.lines {
		f(ln.pts, ln.closed)
	}
}

// Contains reports whether the point (x, y) lies inside one of the polygons
// of s, outside its holes. Points on a boundary are inside. Open lines
// enclose nothing.
func (s *Shape) Contains(x, y float64) bool {
	if s.Empty() {
		return false
	}
	return planar.MultiPolygonContains(s.polys, orb.Point{x, y})
}
