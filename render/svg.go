// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package render paints scenes as SVG documents, raster images, and animated
// GIFs.
package render

import (
	"fmt"
	"io"

	svg "github.com/ajstarks/svgo"
	"github.com/tailscale/troopmap"
	"github.com/tailscale/troopmap/chart"
	"github.com/tailscale/troopmap/scene"
)

// Label returns the caption drawn at the top of a scene.
func Label(s *scene.Scene) string { return "time: " + s.Time }

// SVG writes s to w as a standalone SVG document: the caption, the
// background outline, and one translated group of wedges per visible glyph.
func SVG(w io.Writer, s *scene.Scene) error {
	ew := &errWriter{w: w}
	canvas := svg.New(ew)
	canvas.Start(int(s.Width), int(s.Height))
	canvas.Text(10, 20, Label(s))
	if d := s.Background.Path(); d != "" {
		canvas.Path(d, attr("fill", troopmap.Background.Hex()))
	}
	for _, g := range s.Glyphs {
		if !g.Visible() {
			continue
		}
		canvas.Gtransform(fmt.Sprintf("translate(%s,%s)",
			chart.FormatFloat(g.Position.X), chart.FormatFloat(g.Position.Y)))
		for _, wd := range g.Wedges {
			canvas.Path(wd.Path, attr("fill", wd.Color.Hex()), attr("class", wd.Category))
		}
		canvas.Gend()
	}
	canvas.End()
	return ew.err
}

// attr formats an attribute for svgo, which passes arguments containing "="
// through verbatim.
func attr(name, value string) string { return fmt.Sprintf("%s=%q", name, value) }

// errWriter records the first error reported by w and discards all writes
// after it.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(data []byte) (int, error) {
	if e.err != nil {
		return len(data), nil
	}
	n, err := e.w.Write(data)
	if err != nil {
		e.err = err
	}
	return n, err
}
