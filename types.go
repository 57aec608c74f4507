// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package troopmap draws the ranging of two tracked subjects over a map, as
// pie-chart glyphs showing the composition of the party travelling with each
// subject, one dataset row (frame) at a time.
//
// This package defines shared data types used throughout the service.
package troopmap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// NotAvailable is the literal the dataset uses for a missing value.
const NotAvailable = "NA"

// A Value is a numeric dataset cell that may be "not available".
// The zero Value is not available.
type Value struct {
	n  float64
	ok bool
}

// NA is the not-available Value.
var NA Value

// Num returns an available Value holding v.
func Num(v float64) Value { return Value{n: v, ok: true} }

// Valid reports whether v holds a number.
func (v Value) Valid() bool { return v.ok }

// Float returns the number held by v, or NaN if v is not available.
func (v Value) Float() float64 {
	if !v.ok {
		return math.NaN()
	}
	return v.n
}

// Sub returns v - w. The result is not available if either input is not.
func (v Value) Sub(w Value) Value {
	if !v.ok || !w.ok {
		return NA
	}
	return Num(v.n - w.n)
}

func (v Value) String() string {
	if !v.ok {
		return NotAvailable
	}
	return strconv.FormatFloat(v.n, 'g', -1, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte(`"` + NotAvailable + `"`), nil
	}
	if math.IsInf(v.n, 0) || math.IsNaN(v.n) {
		return nil, fmt.Errorf("unencodable value %v", v.n)
	}
	return []byte(strconv.FormatFloat(v.n, 'g', -1, 64)), nil
}

// UnmarshalJSON decodes a JSON number, a string holding a number, or the
// "NA" sentinel. JSON null and the empty string also decode as NA.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty input")
	}
	s := string(data)
	switch {
	case s == "null":
		*v = NA
		return nil
	case data[0] == '"':
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" || s == NotAvailable {
			*v = NA
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", s)
	}
	*v = Num(f)
	return nil
}

// A Subject is one of the two tracked individuals.
type Subject string

// Subjects lists the tracked subjects in their fixed display order. Every
// per-subject array in this module is indexed in this order.
var Subjects = [2]Subject{"kk", "mt"}

// SubjectData holds the columns of one frame for a single subject.
type SubjectData struct {
	Long   Value  `json:"long"`
	Lat    Value  `json:"lat"`
	Sex    string `json:"sex,omitempty"` // "" if not available
	Age    Value  `json:"age"`
	AdultM Value  `json:"adultM"`
	AdultF Value  `json:"adultF"`
	Total  Value  `json:"total"`
}

// A Frame is one time step of the dataset.
type Frame struct {
	Time     string         // display label
	Subjects [2]SubjectData // indexed like Subjects
}

// subjectColumns maps the dataset column prefixes to the SubjectData field
// they populate. A column name is the prefix followed by the subject name,
// for example "long_kk".
var subjectColumns = []struct {
	prefix string
	field  func(*SubjectData) any
}{
	{"long_", func(s *SubjectData) any { return &s.Long }},
	{"lat_", func(s *SubjectData) any { return &s.Lat }},
	{"focal_sex_", func(s *SubjectData) any { return (*sexField)(&s.Sex) }},
	{"focal_age_", func(s *SubjectData) any { return &s.Age }},
	{"adult_m_", func(s *SubjectData) any { return &s.AdultM }},
	{"adult_f_", func(s *SubjectData) any { return &s.AdultF }},
	{"total_", func(s *SubjectData) any { return &s.Total }},
}

// sexField decodes a sex column, mapping "NA" and null to "".
type sexField string

func (s sexField) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal(NotAvailable)
	}
	return json.Marshal(string(s))
}

func (s *sexField) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == NotAvailable {
		v = ""
	}
	*s = sexField(v)
	return nil
}

// MarshalJSON encodes f as a flat dataset row.
func (f Frame) MarshalJSON() ([]byte, error) {
	row := map[string]any{"time": f.Time}
	for i, name := range Subjects {
		sd := f.Subjects[i]
		for _, col := range subjectColumns {
			row[col.prefix+string(name)] = col.field(&sd)
		}
	}
	return json.Marshal(row)
}

// UnmarshalJSON decodes a flat dataset row. Columns absent from the row are
// treated as not available.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var row map[string]json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	var out Frame
	if t, ok := row["time"]; ok {
		label, err := decodeLabel(t)
		if err != nil {
			return fmt.Errorf("column %q: %w", "time", err)
		}
		out.Time = label
	}
	for i, name := range Subjects {
		for _, col := range subjectColumns {
			key := col.prefix + string(name)
			raw, ok := row[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(raw, col.field(&out.Subjects[i])); err != nil {
				return fmt.Errorf("column %q: %w", key, err)
			}
		}
	}
	*f = out
	return nil
}

// decodeLabel accepts a time label written as a JSON string or number.
func decodeLabel(data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", errors.New("time label must be a string or number")
	}
	return n.String(), nil
}

// ReadFrames decodes a dataset, a JSON array of rows, from r.
func ReadFrames(r io.Reader) ([]Frame, error) {
	var rows []json.RawMessage
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	frames := make([]Frame, len(rows))
	for i, raw := range rows {
		if err := json.Unmarshal(raw, &frames[i]); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return frames, nil
}

// A Category is one slice of a subject's party composition.
type Category int

const (
	Male Category = iota
	Female
	Child

	NumCategories = 3
)

var categoryNames = [NumCategories]string{"male", "female", "child"}

func (c Category) String() string {
	if c < 0 || int(c) >= NumCategories {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// Population is the composition of a party, indexed by Category.
type Population [NumCategories]Value

// Sum returns the sum of all the categories. It is not available if any
// category is not.
func (p Population) Sum() Value {
	s := Num(0)
	for _, v := range p {
		if !v.ok {
			return NA
		}
		s.n += v.n
	}
	return s
}

// MarshalJSON encodes p as an ordered list of {type, n} entries.
func (p Population) MarshalJSON() ([]byte, error) {
	type entry struct {
		Type string `json:"type"`
		N    Value  `json:"n"`
	}
	var out [NumCategories]entry
	for i, v := range p {
		out[i] = entry{Type: Category(i).String(), N: v}
	}
	return json.Marshal(out)
}

// A Record is the view of one subject at one frame.
type Record struct {
	Name       Subject    `json:"name"`
	Long       Value      `json:"long"`
	Lat        Value      `json:"lat"`
	Sex        string     `json:"sex,omitempty"`
	Age        Value      `json:"age"`
	Population Population `json:"population"`
	Total      Value      `json:"total"`
}

// Located reports whether r carries usable coordinates.
func (r Record) Located() bool { return r.Long.Valid() && r.Lat.Valid() }

// Records returns the per-subject records of f, in Subjects order.
//
// The child count is derived as total - adult_m - adult_f. It is not
// clamped, so inconsistent source rows may produce a negative count.
func (f *Frame) Records() [2]Record {
	var out [2]Record
	for i, name := range Subjects {
		sd := f.Subjects[i]
		out[i] = Record{
			Name: name,
			Long: sd.Long,
			Lat:  sd.Lat,
			Sex:  sd.Sex,
			Age:  sd.Age,
			Population: Population{
				Male:   sd.AdultM,
				Female: sd.AdultF,
				Child:  sd.Total.Sub(sd.AdultM).Sub(sd.AdultF),
			},
			Total: sd.Total,
		}
	}
	return out
}

// A Point is a position on the rendering surface, in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Positions holds the screen position of each subject, in Subjects order.
type Positions [2]Point
