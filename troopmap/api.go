// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"expvar"
	"fmt"
	"image/gif"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tailscale/troopmap"
	"github.com/tailscale/troopmap/player"
	"github.com/tailscale/troopmap/render"
	"github.com/tailscale/troopmap/scene"
	"github.com/tailscale/troopmap/store"
	"tailscale.com/client/tailscale/apitype"
	"tailscale.com/metrics"
	"tailscale.com/tsnet"
	"tailscale.com/tsweb"
	"tailscale.com/util/singleflight"
)

// whoIser reports the identity of a tailnet peer. It is satisfied by a
// *tailscale.LocalClient.
type whoIser interface {
	WhoIs(ctx context.Context, remoteAddr string) (*apitype.WhoIsResponse, error)
}

type troopServer struct {
	db       *store.DB
	builder  *scene.Builder
	player   *player.Player
	lc       whoIser // nil when not serving on a tailnet
	gifDelay int     // in 100ths of a second

	renderSingleFlight singleflight.Group[string, string]
	imageFileEtags     sync.Map // :: string(path) → string(quoted etag)

	mu      sync.Mutex // guards livePos
	livePos troopmap.Positions
}

// newServer constructs a server for the dataset of b, with its shared player
// positioned at the start frame.
func newServer(db *store.DB, b *scene.Builder, interval time.Duration, start, gifDelay int) *troopServer {
	s := &troopServer{
		db:       db,
		builder:  b,
		gifDelay: gifDelay,
		livePos:  b.Initial(),
	}
	if b.Len() != 0 {
		start = min(max(start, 0), b.Len()-1)
		_, s.livePos = b.Project(b.Frame(start), s.livePos)
	}
	s.player = player.New(b.Len(), &player.Options{
		Interval: interval,
		Start:    start,
		OnChange: s.stateChanged,
	})
	return s
}

func (s *troopServer) initialize(ts *tsnet.Server) error {
	// Preload Etag values.
	var numTags int
	names := []string{"animation.gif"}
	for i := range s.builder.Len() {
		names = append(names, fmt.Sprintf("frame-%d.svg", i), fmt.Sprintf("frame-%d.png", i))
	}
	for _, name := range names {
		cachePath := s.db.CachePath(name)
		tag, err := makeFileEtag(cachePath)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return err
		}
		s.imageFileEtags.Store(cachePath, tag)
		numTags++
	}
	log.Printf("Preloaded %d image Etags", numTags)

	// Set up a metrics server.
	if ts != nil {
		ln, err := ts.Listen("tcp", ":8383")
		if err != nil {
			return err
		}
		go func() {
			defer ln.Close()
			log.Print("Starting debug server on :8383")
			mux := http.NewServeMux()
			tsweb.Debugger(mux)
			http.Serve(ln, mux)
		}()
	}

	// Enable the Slack integration.
	if *enableSlackBot {
		go startSlackBot(s)
	}
	return nil
}

var (
	serveMetrics  = &metrics.LabelMap{Label: "type"}
	renderMetrics = &metrics.LabelMap{Label: "type"}
	playerMetrics = &metrics.LabelMap{Label: "type"}
)

func init() {
	expvar.Publish("troopmap_serve_metrics", serveMetrics)
	expvar.Publish("troopmap_render_metrics", renderMetrics)
	expvar.Publish("troopmap_player_metrics", playerMetrics)
}

// stateChanged tracks the positions of the subjects as the shared player
// moves, carrying each position forward while its coordinates are missing.
func (s *troopServer) stateChanged(st player.State) {
	playerMetrics.Add("change", 1)
	if st.Frame < 0 || st.Frame >= s.builder.Len() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, s.livePos = s.builder.Project(s.builder.Frame(st.Frame), s.livePos)
}

// liveScene returns the scene of the player's current frame, drawn at the
// positions reached by the player so far.
func (s *troopServer) liveScene() (*scene.Scene, bool) {
	st := s.player.State()
	if st.Frame < 0 || st.Frame >= s.builder.Len() {
		return nil, false
	}
	s.mu.Lock()
	pos := s.livePos
	s.mu.Unlock()
	sc, _ := s.builder.Build(st.Frame, pos)
	return sc, true
}

// Len, Frame, and State satisfy bot.Source.
func (s *troopServer) Len() int { return s.builder.Len() }
func (s *troopServer) Frame(i int) *troopmap.Frame { return s.builder.Frame(i) }
func (s *troopServer) State() player.State { return s.player.State() }

// newMux constructs a router for the troopmap API.
//
// There are three groups of endpoints:
//
//   - The /api/ endpoints serve JSON state and control the shared player.
//   - The /content/ endpoints serve rendered images.
//   - The rest of the endpoints serve UI components.
func (s *troopServer) newMux() *http.ServeMux {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/state", s.serveAPIState)     // player state
	apiMux.HandleFunc("/api/seek", s.serveAPISeek)       // move to a frame
	apiMux.HandleFunc("/api/toggle", s.serveAPIToggle)   // play or pause
	apiMux.HandleFunc("/api/step", s.serveAPIStep)       // advance one frame
	apiMux.HandleFunc("/api/frame/", s.serveAPIFrame)    // one scene by index
	apiMux.HandleFunc("/api/frames", s.serveAPIFrames)   // frame labels
	apiMux.HandleFunc("/api/dataset", s.serveAPIDataset) // dataset summary

	contentMux := http.NewServeMux()
	contentMux.HandleFunc("/content/frame/", s.serveContentFrame)
	contentMux.HandleFunc("/content/animation.gif", s.serveContentAnimation)
	contentMux.HandleFunc("/content/live.svg", s.serveContentLive)

	uiMux := http.NewServeMux()
	uiMux.HandleFunc("/static/style.css", s.serveCSS)
	uiMux.HandleFunc("/static/script.js", s.serveJS)
	uiMux.HandleFunc("/", s.serveUI)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.Handle("/content/", contentMux)
	mux.Handle("/", uiMux)

	return mux
}

// checkAccess checks that the caller is logged in and not a tagged node.  If
// so, it reports true. Otherwise, it writes an error response to w and
// reports false. When the server is not on a tailnet, all callers are
// allowed.
func (s *troopServer) checkAccess(w http.ResponseWriter, r *http.Request, op string) bool {
	if s.lc == nil {
		return true
	}
	whois, err := s.lc.WhoIs(r.Context(), r.RemoteAddr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return false
	}
	if whois == nil {
		http.Error(w, "not logged in", http.StatusUnauthorized)
		return false
	}
	if whois.Node.IsTagged() {
		http.Error(w, "tagged nodes cannot "+op, http.StatusForbidden)
		return false
	}
	return true
}

type stateResponse struct {
	player.State
	Time string `json:"time"`
}

func (s *troopServer) writeState(w http.ResponseWriter) {
	st := s.player.State()
	rsp := stateResponse{State: st}
	if st.Frame >= 0 && st.Frame < s.builder.Len() {
		rsp.Time = s.builder.Frame(st.Frame).Time
	}
	writeJSON(w, rsp)
}

func (s *troopServer) serveAPIState(w http.ResponseWriter, r *http.Request) {
	serveMetrics.Add("api-state", 1)
	if r.Method != "GET" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeState(w)
}

func (s *troopServer) serveAPISeek(w http.ResponseWriter, r *http.Request) {
	serveMetrics.Add("api-seek", 1)
	if r.Method != "POST" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkAccess(w, r, "seek") {
		return // error already sent
	}
	i, err := parseIndex(r.FormValue("frame"), s.builder.Len())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.player.Seek(i)
	s.writeState(w)
}

func (s *troopServer) serveAPIToggle(w http.ResponseWriter, r *http.Request) {
	serveMetrics.Add("api-toggle", 1)
	if r.Method != "POST" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkAccess(w, r, "play or pause") {
		return // error already sent
	}
	s.player.TogglePlay()
	s.writeState(w)
}

func (s *troopServer) serveAPIStep(w http.ResponseWriter, r *http.Request) {
	serveMetrics.Add("api-step", 1)
	if r.Method != "POST" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkAccess(w, r, "step") {
		return // error already sent
	}
	s.player.Step()
	s.writeState(w)
}

func (s *troopServer) serveAPIFrame(w http.ResponseWriter, r *http.Request) {
	serveMetrics.Add("api-frame", 1)
	const apiPath = "/api/frame/"
	if r.Method != "GET" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	i, err := parseIndex(strings.TrimPrefix(r.URL.Path, apiPath), s.builder.Len())
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, s.builder.At(i))
}

func (s *troopServer) serveAPIFrames(w http.ResponseWriter, r *http.Request) {
	serveMetrics.Add("api-frames", 1)
	if r.Method != "GET" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type frameLabel struct {
		Index int    `json:"index"`
		Time  string `json:"time"`
	}
	all := make([]frameLabel, s.builder.Len())
	for i := range all {
		all[i] = frameLabel{Index: i, Time: s.builder.Frame(i).Time}
	}

	// Handle pagination.
	page, count, err := parsePageOptions(r, 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, struct {
		F []frameLabel `json:"frames"`
		N int          `json:"total"`
	}{F: slicePage(all, page, count), N: len(all)})
}

func (s *troopServer) serveAPIDataset(w http.ResponseWriter, r *http.Request) {
	serveMetrics.Add("api-dataset", 1)
	if r.Method != "GET" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	width, height := s.builder.Size()
	scale := s.builder.Scale()
	writeJSON(w, struct {
		Name   string     `json:"name"`
		Frames int        `json:"frames"`
		Width  float64    `json:"width"`
		Height float64    `json:"height"`
		Totals [2]float64 `json:"totals"` // extent of group sizes
		Radii  [2]float64 `json:"radii"`  // glyph radius bounds
	}{
		Name:   s.db.Dataset(),
		Frames: s.builder.Len(),
		Width:  width,
		Height: height,
		Totals: scale.Domain,
		Radii:  scale.Range,
	})
}

func (s *troopServer) serveContentFrame(w http.ResponseWriter, r *http.Request) {
	serveMetrics.Add("content-frame", 1)
	const apiPath = "/content/frame/"
	if r.Method != "GET" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Require /id.svg or /id.png.
	id := strings.TrimPrefix(r.URL.Path, apiPath)
	ext := filepath.Ext(id)
	i, err := parseIndex(strings.TrimSuffix(id, ext), s.builder.Len())
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	var gen func(io.Writer) error
	switch ext {
	case ".svg":
		gen = func(w io.Writer) error { return render.SVG(w, s.builder.At(i)) }
	case ".png":
		gen = func(w io.Writer) error { return render.PNG(w, s.builder.At(i)) }
	default:
		http.Error(w, "wrong file extension", http.StatusBadRequest)
		return
	}
	s.serveRendered(w, r, fmt.Sprintf("frame-%d%s", i, ext), gen)
}

func (s *troopServer) serveContentAnimation(w http.ResponseWriter, r *http.Request) {
	serveMetrics.Add("content-animation", 1)
	if r.Method != "GET" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.builder.Len() == 0 {
		http.Error(w, "no frames", http.StatusNotFound)
		return
	}
	s.serveRendered(w, r, "animation.gif", func(w io.Writer) error {
		return gif.EncodeAll(w, render.GIF(s.builder, s.gifDelay))
	})
}

func (s *troopServer) serveContentLive(w http.ResponseWriter, r *http.Request) {
	serveMetrics.Add("content-live", 1)
	if r.Method != "GET" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sc, ok := s.liveScene()
	if !ok {
		http.Error(w, "no frames", http.StatusNotFound)
		return
	}
	var buf bytes.Buffer
	if err := render.SVG(&buf, sc); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	buf.WriteTo(w)
}

// serveRendered serves the cached rendering with the given name, generating
// it with gen if it is not already cached.
func (s *troopServer) serveRendered(w http.ResponseWriter, r *http.Request, name string, gen func(io.Writer) error) {
	cachePath := s.db.CachePath(name)
	if _, err := os.Stat(cachePath); err == nil {
		renderMetrics.Add("cache-hit", 1)
		s.serveFileCached(w, r, cachePath, 24*time.Hour)
		return
	}
	if _, err, reused := s.renderSingleFlight.Do(cachePath, func() (string, error) {
		renderMetrics.Add("cache-miss", 1)
		return cachePath, s.generate(name, cachePath, gen)
	}); err != nil {
		log.Printf("error rendering %s: %v", name, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	} else if reused {
		renderMetrics.Add("cache-reused", 1)
	}

	s.serveFileCached(w, r, cachePath, 24*time.Hour)
}

func (s *troopServer) serveFileCached(w http.ResponseWriter, r *http.Request, path string, maxAge time.Duration) {
	w.Header().Set("Cache-Control", fmt.Sprintf(
		"public, max-age=%d, no-transform", maxAge/time.Second))
	if tag, ok := s.imageFileEtags.Load(path); ok {
		w.Header().Set("Etag", tag.(string))
	}
	http.ServeFile(w, r, path)
}

// generate renders into a temporary file and moves it into place at
// cachePath once complete, so concurrent readers never see a partial file.
func (s *troopServer) generate(name, cachePath string, gen func(io.Writer) error) (retErr error) {
	renderMetrics.Add("generate-"+strings.TrimPrefix(filepath.Ext(name), "."), 1)
	start := time.Now()
	defer func() {
		if retErr != nil {
			log.Printf("error generating %s: %v", name, retErr)
		} else {
			log.Printf("generated %s in %v", name, time.Since(start).Round(time.Millisecond))
		}
	}()

	tmpPath := cachePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	etagHash := sha256.New()
	dst := io.MultiWriter(etagHash, f)
	defer func() {
		if retErr != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := gen(dst); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, cachePath); err != nil {
		return err
	}
	s.imageFileEtags.Store(cachePath, formatEtag(etagHash))
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
