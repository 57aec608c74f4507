// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Program troopmap is an animated map server that runs as a node on a
// tailnet. It replays the positions and group sizes of two tracked troops as
// pie glyphs over a map outline, and exposes a UI and API to control a shared
// player.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tailscale/troopmap"
	"github.com/tailscale/troopmap/bot"
	"github.com/tailscale/troopmap/geo"
	"github.com/tailscale/troopmap/scene"
	"github.com/tailscale/troopmap/store"
	"tailscale.com/tsnet"
	"tailscale.com/types/logger"

	_ "modernc.org/sqlite"
)

// Flag definitions
var (
	doVerbose = flag.Bool("v", false, "Enable verbose debug logging")

	// The hostname to advertise on the tailnet.
	hostName = flag.String("hostname", "troopmap",
		"The tailscale hostname to use for the server")

	// The data directory where the server keeps its dataset, the map outline,
	// and cached renderings.
	storeDir = flag.String("store", "/tmp/troopmap", "Storage directory (required)")

	// Files to import into the store at startup. Once imported, they are
	// loaded from the store on later runs.
	dataFile  = flag.String("data", "", "Dataset to import (JSON array of rows)")
	shapeFile = flag.String("shape", "", "Map outline to import (GeoJSON)")

	// If set, serve plain HTTP on this local address instead of joining a
	// tailnet. Access checks are disabled in this mode.
	listenAddr = flag.String("listen", "",
		"Serve on this local address instead of the tailnet (e.g., localhost:8080)")

	// Playback settings for the shared player.
	interval   = flag.Duration("interval", 20*time.Millisecond, "Time between frames while playing")
	startFrame = flag.Int("start-frame", 11, "Frame shown when the server starts")
	gifDelay   = flag.Int("gif-delay", 2, "Delay between animation frames in 100ths of a second")

	// Renderings are generated on the fly and cached. The server periodically
	// cleans up cached renderings that have not been accessed for some period
	// of time, once the cache exceeds a size threshold.
	maxAccessAge = flag.Duration("cache-max-access-age", 24*time.Hour,
		"How long after last access a cached rendering is eligible for cleanup")
	minPruneMiB = flag.Int64("cache-min-prune-mib", 512,
		"Minimum size of rendering cache in MiB to trigger a cleanup")
	cacheSeed = flag.String("cache-seed", "",
		"Hash seed used to generate cache keys")

	// Experimental features.

	enableSlackBot = flag.Bool("enable-slack-bot", false,
		"Enable Slack integration (experimental)")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: [TS_AUTHKEY=k] %[1]s <options>

Run an animated troop map as a node on a tailnet.  The service listens for
HTTP requests (not HTTPS) on port 80.

The first time you start %[1]s, you must import a dataset and authenticate
its node on the tailnet you want it to join. To do this, generate an auth key
[1] and pass it in via the TS_AUTHKEY environment variable:

  TS_AUTHKEY=tskey-auth-k______CNTRL-aBC0d1efG2h34iJkLM5nO6pqr7stUV8w9 \
    %[1]s -data rows.json -shape outline.geojson

We recommend you use a tagged auth key so that the node will not expire. Once
the node is authorized, you can just run the program itself.  The server runs
until terminated by SIGINT or SIGTERM.

To try the server without a tailnet, use -listen localhost:8080.

[1]: https://tailscale.com/kb/1085/auth-keys/

Options:
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	if *storeDir == "" {
		log.Fatal("You must provide a non-empty --store directory")
	} else if *gifDelay <= 0 {
		log.Fatal("The -gif-delay must be positive")
	}

	db, err := store.New(*storeDir, &store.Options{
		MaxAccessAge:  *maxAccessAge,
		MinPruneBytes: *minPruneMiB << 20,
	})
	if err != nil {
		log.Fatalf("Opening store: %v", err)
	} else if *cacheSeed != "" {
		err := db.SetCacheSeed(*cacheSeed)
		if err != nil {
			log.Fatalf("Setting cache seed: %v", err)
		}
	}
	defer db.Close()

	if err := importFiles(db, *dataFile, *shapeFile); err != nil {
		log.Fatalf("Importing: %v", err)
	}
	b, err := loadBuilder(db, &scene.Options{InitialFrame: startFrame})
	if err != nil {
		log.Fatalf("Loading dataset: %v", err)
	}
	log.Printf("Loaded dataset %q: %d frames, radius %v", db.Dataset(), b.Len(), b.Scale())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ts := newServer(db, b, *interval, *startFrame, *gifDelay)
	defer ts.player.Close()

	var ln net.Listener
	var srv *tsnet.Server
	if *listenAddr != "" {
		ln, err = net.Listen("tcp", *listenAddr)
		if err != nil {
			log.Fatalf("Listen: %v", err)
		}
	} else {
		logf := logger.Discard
		if *doVerbose {
			logf = log.Printf
		}
		srv = &tsnet.Server{
			Hostname: *hostName,
			Dir:      filepath.Join(*storeDir, "tsnet"),
			Logf:     logf,
		}
		ln, err = srv.Listen("tcp", ":80")
		if err != nil {
			panic(err)
		}
		lc, err := srv.LocalClient()
		if err != nil {
			panic(err)
		}
		ts.lc = lc
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		log.Print("Signal received, stopping server...")
		ln.Close()
		if srv != nil {
			srv.Close()
		}
	}()

	if err := ts.initialize(srv); err != nil {
		panic(err)
	}

	log.Printf("it's alive! serving on %v", ln.Addr())
	http.Serve(ln, ts.newMux())
}

// importFiles copies the given dataset and outline files into db. Empty
// paths are skipped.
func importFiles(db *store.DB, dataPath, shapePath string) error {
	if dataPath != "" {
		f, err := os.Open(dataPath)
		if err != nil {
			return err
		}
		frames, err := troopmap.ReadFrames(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", dataPath, err)
		}
		if err := db.ImportFrames(filepath.Base(dataPath), frames); err != nil {
			return err
		}
		log.Printf("Imported %d frames from %s", len(frames), dataPath)
	}
	if shapePath != "" {
		data, err := os.ReadFile(shapePath)
		if err != nil {
			return err
		}
		if err := db.SetShape(data); err != nil {
			return fmt.Errorf("read %s: %w", shapePath, err)
		}
		log.Printf("Imported map outline from %s", shapePath)
	}
	return nil
}

// loadBuilder constructs a scene builder from the dataset and outline in db.
// A missing outline is not an error; the map is drawn without a background.
func loadBuilder(db *store.DB, opts *scene.Options) (*scene.Builder, error) {
	frames := db.Frames()
	if len(frames) == 0 {
		return nil, errors.New("the store has no dataset (use -data to import one)")
	}
	data, err := db.Shape()
	if errors.Is(err, fs.ErrNotExist) {
		log.Print("WARNING: no map outline in the store (continuing)")
		return scene.NewBuilder(frames, nil, opts), nil
	} else if err != nil {
		return nil, err
	}
	shape, err := geo.ParseShape(data)
	if err != nil {
		return nil, fmt.Errorf("map outline: %w", err)
	}
	return scene.NewBuilder(frames, shape, opts), nil
}

func startSlackBot(src bot.Source) {
	b, err := bot.NewSlackBot(&bot.Config{
		Debug:  *doVerbose,
		Source: src,
	})
	if err != nil {
		log.Fatalf("Creating Slack bot: %v", err)
	}
	if err := b.Run(); err != nil {
		log.Fatalf("Running Slack bot: %v", err)
	}
}
