// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package store implements a data store for troop datasets.
//
// # Structure
//
// A DB manages a directory in the filesystem. At the top level of the
// directory is a SQLite database (index.db) that holds the frames of the
// current dataset and a few metadata settings. Next to it, shape.json holds
// the GeoJSON outline drawn behind the glyphs.
//
// The "frames" subdirectory is a cache of rendered images, and the DB
// maintains a background polling thread that cleans up files that have not
// been accessed for a while. It is safe to manually delete files inside the
// frames directory; the server will re-create them on demand.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tailscale/troopmap"
	"github.com/tailscale/troopmap/geo"
)

var subdirs = []string{"frames"}

const shapeFile = "shape.json"

// A DB is a troop dataset store. It consists of a directory containing the
// index database, the map outline, and a cache of rendered frames. A DB is
// safe for concurrent use by multiple goroutines.
type DB struct {
	dir           string
	stop          context.CancelFunc
	tasks         sync.WaitGroup
	minPruneBytes int64
	maxAccessAge  time.Duration

	mu        sync.Mutex
	sqldb     *sql.DB
	cacheSeed []byte
	dataset   []byte
	frames    []troopmap.Frame
}

// Options are optional settings for a DB.  A nil *Options is ready for use
// with default values.
type Options struct {
	// Do not prune the frame cache until it is at least this big.
	// Default: 50MB.
	MinPruneBytes int64

	// When pruning the cache, discard entries that have not been accessed in at
	// least this long. Default: 30m.
	MaxAccessAge time.Duration
}

func (o *Options) minPruneBytes() int64 {
	if o == nil || o.MinPruneBytes <= 0 {
		return 50 << 20
	}
	return o.MinPruneBytes
}

func (o *Options) maxAccessAge() time.Duration {
	if o == nil || o.MaxAccessAge <= 0 {
		return 30 * time.Minute
	}
	return o.MaxAccessAge
}

// New creates or opens a data store.  A store is a directory that is created
// if necessary. The DB assumes ownership of the directory contents.  A nil
// *Options provides default settings (see [Options]).
//
// The caller should Close the DB when it is no longer in use, to ensure the
// cache maintenance routine is stopped and cleaned up.
func New(dirPath string, opts *Options) (*DB, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, fmt.Errorf("store.New: %w", err)
	}

	// Create the standard subdirectories for image data.
	for _, sub := range subdirs {
		path := filepath.Join(dirPath, sub)
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, err
		}
	}

	dbPath := filepath.Join(dirPath, "index.db")
	sqldb, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	db := &DB{
		dir:           dirPath,
		minPruneBytes: opts.minPruneBytes(),
		maxAccessAge:  opts.maxAccessAge(),
		stop:          cancel,
		sqldb:         sqldb,
	}
	if err := db.loadSQLiteIndex(); err != nil {
		db.Close()
		return nil, err
	}
	db.tasks.Add(1)
	go func() {
		defer db.tasks.Done()
		db.cleanFrameCache(ctx)
	}()
	return db, nil
}

// Close stops background tasks and closes the index database.
func (db *DB) Close() error {
	db.stop()
	db.tasks.Wait()
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.sqldb != nil {
		err := db.sqldb.Close()
		db.sqldb = nil
		return err
	}
	return nil
}

// SetCacheSeed sets the base string used when generating cache keys for
// rendered frames. If not set, the value persisted in the index is used.
// Changing the cache seed invalidates cached entries.
func (db *DB) SetCacheSeed(s string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if s == string(db.cacheSeed) {
		return nil
	}
	_, err := db.sqldb.Exec(`INSERT OR REPLACE INTO Meta (key, value) VALUES (?,?)`,
		"cacheSeed", []byte(s))
	if err == nil {
		db.cacheSeed = []byte(s)
	}
	return err
}

// ImportFrames replaces the dataset with frames, recorded under the given
// name. It reports an error if frames is empty. Replacing the dataset
// discards all cached renderings.
func (db *DB) ImportFrames(name string, frames []troopmap.Frame) error {
	if len(frames) == 0 {
		return errors.New("dataset has no frames")
	}
	cp := make([]troopmap.Frame, len(frames))
	copy(cp, frames)

	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.replaceFramesLocked(name, cp); err != nil {
		return fmt.Errorf("import frames: %w", err)
	}
	db.frames = cp
	db.dataset = []byte(name)
	db.clearCacheLocked()
	return nil
}

// Frames returns the frames of the current dataset, in order. The result is
// shared and must not be modified by the caller.
func (db *DB) Frames() []troopmap.Frame {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.frames
}

// Dataset returns the name under which the current dataset was imported.
func (db *DB) Dataset() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return string(db.dataset)
}

// SetShape replaces the map outline with the given GeoJSON document. It
// reports an error without changing the store if data is not valid GeoJSON.
// Replacing the outline discards all cached renderings.
func (db *DB) SetShape(data []byte) error {
	if _, err := geo.ParseShape(data); err != nil {
		return fmt.Errorf("invalid shape: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	path := filepath.Join(db.dir, shapeFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	db.clearCacheLocked()
	return nil
}

// Shape returns the GeoJSON document of the map outline. If no outline has
// been stored, the error satisfies errors.Is(err, fs.ErrNotExist).
func (db *DB) Shape() ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return os.ReadFile(filepath.Join(db.dir, shapeFile))
}

// CachePath returns the path of the cache file holding the rendering with
// the given name, for example "frame-3.png". The path is returned even if
// the file is not cached.
func (db *DB) CachePath(name string) string {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := string(db.cacheSeed)
	if key == "" {
		key = "0000"
	}
	return filepath.Join(db.dir, "frames", key+"-"+filepath.Base(name))
}

// PruneCache runs one pass of cache cleanup immediately, and reports the
// number of files removed.
func (db *DB) PruneCache() int {
	return db.pruneCache(filepath.Join(db.dir, "frames"))
}
