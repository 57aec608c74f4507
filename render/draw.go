// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/png"
	"io"
	"log"
	"runtime"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/tailscale/troopmap"
	"github.com/tailscale/troopmap/scene"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Preloaded font definition.
var goRegular *truetype.Font

func init() {
	var err error
	goRegular, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(fmt.Sprintf("Parsing font: %v", err))
	}
}

// fontForSize constructs a new font.Face for the specified point size. Faces
// cache glyphs and are not safe for concurrent use.
func fontForSize(points float64) font.Face {
	return truetype.NewFace(goRegular, &truetype.Options{Size: points})
}

// framePalette holds the exact colors of a scene, followed by a general
// palette for antialiased edges.
var framePalette = func() color.Palette {
	p := color.Palette{color.White, color.Black, troopmap.Background.NRGBA()}
	for _, c := range troopmap.Palette {
		p = append(p, c.NRGBA())
	}
	return append(p, palette.WebSafe...)
}()

// Image paints s onto a new raster image with a white background.
func Image(s *scene.Scene) image.Image {
	dc := gg.NewContext(int(s.Width), int(s.Height))
	dc.SetColor(color.White)
	dc.Clear()

	if !s.Background.Empty() {
		s.Background.Trace(dc)
		dc.SetColor(troopmap.Background.NRGBA())
		dc.Fill()
	}

	for _, g := range s.Glyphs {
		if !g.Visible() {
			continue
		}
		cx, cy := g.Position.X, g.Position.Y
		for _, w := range g.Wedges {
			if w.Slice.Span() <= 0 {
				continue
			}
			a0, a1 := w.Slice.ScreenAngles()
			dc.NewSubPath()
			dc.MoveTo(cx, cy)
			dc.DrawArc(cx, cy, g.Radius, a0, a1)
			dc.ClosePath()
			dc.SetColor(w.Color.NRGBA())
			dc.Fill()
		}
	}

	dc.SetFontFace(fontForSize(14))
	dc.SetColor(color.Black)
	dc.DrawString(Label(s), 10, 20)
	return dc.Image()
}

// PNG writes the raster image of s to w in PNG format.
func PNG(w io.Writer, s *scene.Scene) error {
	return png.Encode(w, Image(s))
}

// GIF renders every frame of b, as reached by sequential playback, into a
// looping animation with the given delay between frames in 100ths of a
// second. Frames are painted concurrently.
func GIF(b *scene.Builder, delay int) *gif.GIF {
	n := b.Len()
	out := &gif.GIF{
		Image: make([]*image.Paletted, n),
		Delay: make([]int, n),
	}
	rStart := time.Now()

	g, run := taskgroup.New(nil).Limit(runtime.NumCPU())
	for i := 0; i < n; i++ {
		i := i
		run(func() error {
			img := Image(b.At(i))
			dst := image.NewPaletted(img.Bounds(), framePalette)
			draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
			out.Image[i] = dst
			out.Delay[i] = delay
			return nil
		})
	}
	g.Wait()

	log.Printf("Rendering complete: %d frames in %v", n, time.Since(rStart).Round(time.Millisecond))
	return out
}
