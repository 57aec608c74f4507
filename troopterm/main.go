// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Program troopterm plays a troop dataset in the terminal. Each subject is
// drawn as a pie of colored cells over the map outline.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/tailscale/troopmap"
	"github.com/tailscale/troopmap/geo"
	"github.com/tailscale/troopmap/player"
	"github.com/tailscale/troopmap/scene"
	"github.com/tailscale/troopmap/store"

	_ "modernc.org/sqlite"
)

var (
	// Either a dataset file or a server store directory to play from.
	dataFile  = flag.String("data", "", "Dataset to play (JSON array of rows)")
	shapeFile = flag.String("shape", "", "Map outline (GeoJSON)")
	storeDir  = flag.String("store", "", "Play the dataset of this troopmap store")

	interval   = flag.Duration("interval", 100*time.Millisecond, "Time between frames while playing")
	startFrame = flag.Int("start-frame", 11, "Frame shown at startup")
	doBeep     = flag.Bool("beep", false, "Play a tone when playback wraps around")
	logFile    = flag.String("log", "", "Write log output to this file")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %[1]s -data rows.json [-shape outline.geojson] <options>
       %[1]s -store /tmp/troopmap <options>

Play a troop dataset in the terminal.

Keys: %[2]s

Options:
`, filepath.Base(os.Args[0]), helpText)
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	if (*dataFile == "") == (*storeDir == "") {
		log.Fatal("You must provide exactly one of -data or -store")
	}

	b, err := load()
	if err != nil {
		log.Fatalf("Loading dataset: %v", err)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Fatalf("Creating screen: %v", err)
	}
	if err := screen.Init(); err != nil {
		log.Fatalf("Initializing screen: %v", err)
	}
	defer screen.Fini()

	// The screen owns the terminal from here on.
	log.SetOutput(io.Discard)
	if *logFile != "" {
		f, err := os.Create(*logFile)
		if err == nil {
			defer f.Close()
			log.SetOutput(f)
		}
	}

	n := newNotifier(screen)
	p := player.New(b.Len(), &player.Options{
		Interval: *interval,
		Start:    min(max(*startFrame, 0), b.Len()-1),
		OnChange: n.notify,
	})
	defer p.Close()

	v := newViewer(screen, b, p)
	if *doBeep {
		if err := initAudio(); err != nil {
			log.Printf("WARNING: audio unavailable: %v (continuing)", err)
		} else {
			v.onWrap = chime
		}
	}

	v.paint()
	for {
		switch ev := screen.PollEvent().(type) {
		case nil:
			return
		case *tcell.EventResize:
			screen.Sync()
		case *tcell.EventKey:
			if !v.handleKey(ev) {
				return
			}
		}
		if st, wrapped, ok := n.take(); ok {
			v.update(st, wrapped)
		}
		v.paint()
	}
}

// load reads the dataset and outline named by the flags.
func load() (*scene.Builder, error) {
	var frames []troopmap.Frame
	var shapeData []byte
	if *storeDir != "" {
		db, err := store.New(*storeDir, nil)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		frames = db.Frames()
		shapeData, err = db.Shape()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	} else {
		f, err := os.Open(*dataFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		frames, err = troopmap.ReadFrames(f)
		if err != nil {
			return nil, err
		}
	}
	if *shapeFile != "" {
		var err error
		shapeData, err = os.ReadFile(*shapeFile)
		if err != nil {
			return nil, err
		}
	}
	if len(frames) == 0 {
		return nil, errors.New("dataset has no frames")
	}

	opts := &scene.Options{InitialFrame: startFrame}
	if shapeData == nil {
		return scene.NewBuilder(frames, nil, opts), nil
	}
	shape, err := geo.ParseShape(shapeData)
	if err != nil {
		return nil, fmt.Errorf("map outline: %w", err)
	}
	return scene.NewBuilder(frames, shape, opts), nil
}
