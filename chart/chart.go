// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package chart computes pie-chart geometry: linear scales, pie slice angles,
// and arc paths.
//
// Angles follow the usual charting convention: radians, measured clockwise
// from 12 o'clock, on a surface whose y axis points down.
package chart

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

const (
	tau     = 2 * math.Pi
	epsilon = 1e-12
)

// A LinearScale maps a continuous domain onto a continuous range. Inputs
// outside the domain are extrapolated, not clamped.
type LinearScale struct {
	Domain [2]float64
	Range  [2]float64
}

// NewLinearScale returns a scale whose domain is the extent of values and
// whose range is [r0, r1]. If values is empty the domain is [0, 1].
func NewLinearScale(values []float64, r0, r1 float64) LinearScale {
	s := LinearScale{Domain: [2]float64{0, 1}, Range: [2]float64{r0, r1}}
	if len(values) != 0 {
		s.Domain = [2]float64{slices.Min(values), slices.Max(values)}
	}
	return s
}

// Map returns the range value corresponding to v. A degenerate domain maps
// every input to the middle of the range.
func (s LinearScale) Map(v float64) float64 {
	d0, d1 := s.Domain[0], s.Domain[1]
	r0, r1 := s.Range[0], s.Range[1]
	if d1 == d0 {
		return (r0 + r1) / 2
	}
	t := (v - d0) / (d1 - d0)
	return r0 + t*(r1-r0)
}

func (s LinearScale) String() string {
	return fmt.Sprintf("linear[%g,%g]→[%g,%g]", s.Domain[0], s.Domain[1], s.Range[0], s.Range[1])
}

// A Slice is the angular span of one pie entry.
type Slice struct {
	Index int     `json:"index"` // position of the entry in the input
	Value float64 `json:"value"`
	Start float64 `json:"startAngle"`
	End   float64 `json:"endAngle"`
}

// Span returns the angular size of s.
func (s Slice) Span() float64 { return s.End - s.Start }

// ScreenAngles returns the start and end of s measured clockwise from the
// positive x axis, as used by raster drawing contexts.
func (s Slice) ScreenAngles() (a0, a1 float64) {
	return s.Start - math.Pi/2, s.End - math.Pi/2
}

// Pie lays values out around a full circle, in input order. Each positive
// value receives a span proportional to its share of the positive total;
// zero, negative and NaN values receive a zero-length span at the current
// position, so the output always has one slice per input.
func Pie(values []float64) []Slice {
	var sum float64
	for _, v := range values {
		if v > 0 {
			sum += v
		}
	}
	var k float64
	if sum > 0 {
		k = tau / sum
	}
	out := make([]Slice, len(values))
	a0 := 0.0
	for i, v := range values {
		a1 := a0
		if v > 0 {
			a1 += v * k
		}
		out[i] = Slice{Index: i, Value: v, Start: a0, End: a1}
		a0 = a1
	}
	return out
}

// An Arc generates wedge outlines between an inner and outer radius.
type Arc struct {
	Inner, Outer float64
}

// Path returns the SVG path data of the wedge covering s, relative to the
// center of the pie.
func (a Arc) Path(s Slice) string {
	var p pathBuilder
	r0, r1 := math.Max(a.Inner, 0), math.Max(a.Outer, 0)
	if r0 > r1 {
		r0, r1 = r1, r0
	}
	a0, a1 := s.ScreenAngles()
	da := math.Abs(a1 - a0)
	cw := a1 > a0

	switch {
	case !(r1 > epsilon):
		// A point.
		p.moveTo(0, 0)

	case da > tau-epsilon:
		// A full circle, or an annulus.
		p.moveTo(r1*math.Cos(a0), r1*math.Sin(a0))
		p.arc(r1, a0, a1, cw)
		if r0 > epsilon {
			p.moveTo(r0*math.Cos(a1), r0*math.Sin(a1))
			p.arc(r0, a1, a0, !cw)
		}

	default:
		x01, y01 := r1*math.Cos(a0), r1*math.Sin(a0)
		p.moveTo(x01, y01)
		if da > epsilon {
			p.arc(r1, a0, a1, cw)
		}
		p.lineTo(r0*math.Cos(a1), r0*math.Sin(a1))
		if r0 > epsilon && da > epsilon {
			p.arc(r0, a1, a0, !cw)
		}
	}
	p.close()
	return p.String()
}

// pathBuilder accumulates SVG path commands. Arcs are centered at the
// origin.
type pathBuilder struct {
	sb   strings.Builder
	open bool
}

func (p *pathBuilder) moveTo(x, y float64) {
	p.sb.WriteByte('M')
	p.point(x, y)
	p.open = true
}

func (p *pathBuilder) lineTo(x, y float64) {
	p.sb.WriteByte('L')
	p.point(x, y)
}

func (p *pathBuilder) close() {
	if p.open {
		p.sb.WriteByte('Z')
	}
}

// arc appends a circular arc of radius r from angle a0 to a1, drawn
// clockwise if cw is true. The current point must already be at the start
// of the arc. A sweep of a full turn is split in two halves, since a single
// SVG arc command cannot describe a closed circle.
func (p *pathBuilder) arc(r, a0, a1 float64, cw bool) {
	da := a1 - a0
	if !cw {
		da = a0 - a1
	}
	if da < 0 {
		da = math.Mod(da, tau) + tau
	}
	sweep := "0"
	if cw {
		sweep = "1"
	}
	if da > tau-epsilon {
		x0, y0 := r*math.Cos(a0), r*math.Sin(a0)
		p.arcTo(r, "1", sweep, -x0, -y0)
		p.arcTo(r, "1", sweep, x0, y0)
		return
	}
	if da > epsilon {
		large := "0"
		if da >= math.Pi {
			large = "1"
		}
		p.arcTo(r, large, sweep, r*math.Cos(a1), r*math.Sin(a1))
	}
}

func (p *pathBuilder) arcTo(r float64, large, sweep string, x, y float64) {
	rs := FormatFloat(r)
	fmt.Fprintf(&p.sb, "A%s,%s,0,%s,%s,", rs, rs, large, sweep)
	p.point(x, y)
}

func (p *pathBuilder) point(x, y float64) {
	p.sb.WriteString(FormatFloat(x))
	p.sb.WriteByte(',')
	p.sb.WriteString(FormatFloat(y))
}

func (p *pathBuilder) String() string { return p.sb.String() }

// FormatFloat formats a path coordinate rounded to three decimals.
func FormatFloat(v float64) string {
	v = math.Round(v*1000) / 1000
	if v == 0 {
		v = 0 // drop the sign of -0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
