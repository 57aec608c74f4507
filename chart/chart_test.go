// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package chart

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestLinearScale(t *testing.T) {
	s := NewLinearScale([]float64{50, 10, 30}, 0, 80)
	if want := [2]float64{10, 50}; s.Domain != want {
		t.Errorf("Domain: got %v, want %v", s.Domain, want)
	}
	tests := []struct {
		in, want float64
	}{
		{10, 0},
		{50, 80},
		{30, 40},
		{20, 20},
		{70, 120}, // extrapolated above
		{0, -20},  // extrapolated below
	}
	for _, tc := range tests {
		if got := s.Map(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Map(%v): got %v, want %v", tc.in, got, tc.want)
		}
	}

	flat := NewLinearScale([]float64{5, 5}, 10, 50)
	if got := flat.Map(5); got != 30 {
		t.Errorf("degenerate Map(5): got %v, want 30", got)
	}
	if got := NewLinearScale(nil, 10, 50).Domain; got != [2]float64{0, 1} {
		t.Errorf("empty Domain: got %v, want [0 1]", got)
	}
}

func TestPie(t *testing.T) {
	slices := Pie([]float64{20, 25, 5})
	if len(slices) != 3 {
		t.Fatalf("Pie: got %d slices, want 3", len(slices))
	}
	var total float64
	for i, s := range slices {
		if s.Index != i {
			t.Errorf("slice %d: index %d", i, s.Index)
		}
		if i > 0 && s.Start != slices[i-1].End {
			t.Errorf("slice %d starts at %v, previous ends at %v", i, s.Start, slices[i-1].End)
		}
		total += s.Span()
	}
	if math.Abs(total-tau) > 1e-9 {
		t.Errorf("total span: got %v, want 2π", total)
	}
	approx := cmpopts.EquateApprox(0, 1e-9)
	if diff := cmp.Diff(tau*25/50, slices[1].Span(), approx); diff != "" {
		t.Errorf("female span (-want, +got):\n%s", diff)
	}

	// Invalid entries keep their place but get no span.
	got := Pie([]float64{math.NaN(), -3, 0, 4})
	for i, s := range got[:3] {
		if s.Span() != 0 || s.Start != 0 {
			t.Errorf("slice %d: got %+v, want empty at 0", i, s)
		}
	}
	if diff := cmp.Diff(tau, got[3].Span(), approx); diff != "" {
		t.Errorf("positive span (-want, +got):\n%s", diff)
	}

	for _, s := range Pie([]float64{0, 0}) {
		if s.Span() != 0 {
			t.Errorf("all-zero pie: got span %v", s.Span())
		}
	}
}

func TestArcPath(t *testing.T) {
	arc := Arc{Outer: 10}
	tests := []struct {
		name  string
		arc   Arc
		slice Slice
		want  string
	}{
		{"full", arc, Pie([]float64{1})[0],
			"M0,-10A10,10,0,1,1,0,10A10,10,0,1,1,0,-10Z"},
		{"quarter", arc, Pie([]float64{1, 3})[0],
			"M0,-10A10,10,0,0,1,10,0L0,0Z"},
		{"three quarters", arc, Pie([]float64{3, 1})[0],
			"M0,-10A10,10,0,1,1,-10,0L0,0Z"},
		{"empty", arc, Pie([]float64{0, 1})[0],
			"M0,-10L0,0Z"},
		{"point", Arc{}, Pie([]float64{1})[0],
			"M0,0Z"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.arc.Path(tc.slice); got != tc.want {
				t.Errorf("Path: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{1.23456, "1.235"},
		{-2.5, "-2.5"},
		{480, "480"},
	}
	for _, tc := range tests {
		if got := FormatFloat(tc.in); got != tc.want {
			t.Errorf("FormatFloat(%v): got %q, want %q", tc.in, got, tc.want)
		}
	}
}
