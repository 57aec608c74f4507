// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package troopmap

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strings"
)

// Palette holds the fill colors of the pie slices, indexed by Category.
var Palette = [NumCategories]Color{
	Male:   MustColor("#98abc5"),
	Female: MustColor("#d89b95"),
	Child:  MustColor("#ff8c00"),
}

// Background is the fill color of the map outline.
var Background = MustColor("gray")

// MustColor constructs a color from a known color name or hex specification
// #xxx or #xxxxxx. It panics if s does not correspond to a valid color.
func MustColor(s string) Color {
	var c Color
	if err := c.UnmarshalText([]byte(s)); err != nil {
		panic("invalid color: " + err.Error())
	}
	return c
}

// A Color represents an RGB color encoded as hex. It supports encoding in JSON
// as a string, allowing "#xxxxxx" or "#xxx" format (the "#" is optional).
type Color [3]float64

func (c Color) R() float64 { return c[0] }
func (c Color) G() float64 { return c[1] }
func (c Color) B() float64 { return c[2] }

// Hex returns the "#xxxxxx" form of c, without name substitution.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", channel(c[0]), channel(c[1]), channel(c[2]))
}

func channel(v float64) byte { return byte(math.Round(v * 255)) }

// NRGBA returns c as an opaque image color.
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{R: channel(c[0]), G: channel(c[1]), B: channel(c[2]), A: 255}
}

func (c Color) MarshalText() ([]byte, error) {
	s := c.Hex()

	// Check for a name mapping.
	if n, ok := c2n[s]; ok {
		s = n
	}
	return []byte(s), nil
}

func (c *Color) UnmarshalText(data []byte) error {
	// As a special case, treat an empty string as "white".
	if len(data) == 0 {
		c[0], c[1], c[2] = 1, 1, 1
		return nil
	}
	p := strings.ToLower(string(data))

	// Check for a name mapping.
	if c, ok := n2c[p]; ok {
		p = c
	}

	p = strings.TrimPrefix(p, "#")
	var r, g, b byte
	var err error
	switch len(p) {
	case 3:
		_, err = fmt.Sscanf(p, "%1x%1x%1x", &r, &g, &b)
		r |= r << 4
		g |= g << 4
		b |= b << 4
	case 6:
		_, err = fmt.Sscanf(p, "%2x%2x%2x", &r, &g, &b)
	default:
		return errors.New("invalid hex color")
	}
	if err != nil {
		return err
	}
	c[0], c[1], c[2] = float64(r)/255, float64(g)/255, float64(b)/255
	return nil
}

// n2c maps color names to their equivalent hex strings in standard web RGB
// format (#xxxxxx). Names should be normalized to lower-case. If multiple
// names map to the same hex, the reverse mapping will not be deterministic.
var n2c = map[string]string{
	"white":      "#ffffff",
	"silver":     "#c0c0c0",
	"gray":       "#808080",
	"black":      "#000000",
	"red":        "#ff0000",
	"maroon":     "#800000",
	"yellow":     "#ffff00",
	"olive":      "#808000",
	"lime":       "#00ff00",
	"green":      "#008000",
	"aqua":       "#00ffff",
	"teal":       "#008080",
	"blue":       "#0000ff",
	"navy":       "#000080",
	"fuchsia":    "#ff00ff",
	"purple":     "#800080",
	"darkorange": "#ff8c00",
}

var c2n = make(map[string]string)

func init() {
	// Set up the reverse mapping from color code to name.
	for n, c := range n2c {
		_, ok := c2n[c]
		if !ok {
			c2n[c] = n
		}
	}
}
