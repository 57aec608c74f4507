// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/tailscale/troopmap/player"
)

//go:embed ui/*
var uiFS embed.FS

//go:embed ui/style.css
var styleCSS string

//go:embed ui/script.js
var scriptJS string

var ui = template.Must(template.New("ui").ParseFS(uiFS, "ui/*.tmpl"))

// uiData is the value passed to HTML templates.
type uiData struct {
	Dataset       string
	Max           int // index of the last frame
	State         player.State
	Time          string
	Width, Height float64
}

func (s *troopServer) serveUI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != "GET" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	serveMetrics.Add("ui", 1)

	st := s.player.State()
	data := &uiData{
		Dataset: s.db.Dataset(),
		Max:     s.builder.Len() - 1,
		State:   st,
	}
	data.Width, data.Height = s.builder.Size()
	if st.Frame >= 0 && st.Frame < s.builder.Len() {
		data.Time = s.builder.Frame(st.Frame).Time
	}

	w.Header().Set("Content-Type", "text/html")
	var buf bytes.Buffer
	if err := ui.ExecuteTemplate(&buf, "index.tmpl", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	buf.WriteTo(w)
}

func (s *troopServer) serveCSS(w http.ResponseWriter, r *http.Request) {
	http.ServeContent(w, r, "style.css", time.Now(), strings.NewReader(styleCSS))
}

func (s *troopServer) serveJS(w http.ResponseWriter, r *http.Request) {
	http.ServeContent(w, r, "script.js", time.Now(), strings.NewReader(scriptJS))
}
