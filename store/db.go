// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/tailscale/troopmap"
	"golang.org/x/sys/unix"
)

//go:embed schema.sql
var schema string

func openDatabase(url string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", url)
	if err != nil {
		return nil, err
	} else if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) loadSQLiteIndex() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ferr := db.loadFramesLocked()
	merr := db.loadMetadataLocked()

	return errors.Join(ferr, merr)
}

func (db *DB) loadFramesLocked() error {
	db.frames = nil
	rows, err := db.sqldb.Query(`SELECT id, raw FROM Frames ORDER BY id`)
	if err != nil {
		return fmt.Errorf("loading frames: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		var frameJSON []byte
		var frame troopmap.Frame

		if err := rows.Scan(&id, &frameJSON); err != nil {
			return fmt.Errorf("scanning frame: %w", err)
		}
		if id != len(db.frames) {
			return fmt.Errorf("frame id %d out of sequence (want %d)", id, len(db.frames))
		}
		if err := json.Unmarshal(frameJSON, &frame); err != nil {
			return fmt.Errorf("decode frame id %d: %w", id, err)
		}
		db.frames = append(db.frames, frame)
	}
	return rows.Err()
}

func (db *DB) loadMetadataLocked() error {
	for key, dst := range map[string]*[]byte{
		"cacheSeed": &db.cacheSeed,
		"dataset":   &db.dataset,
	} {
		row := db.sqldb.QueryRow(`SELECT value FROM Meta WHERE key = ?`, key)
		if err := row.Scan(dst); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("loading %s: %w", key, err)
		}
	}
	return nil
}

func (db *DB) replaceFramesLocked(name string, frames []troopmap.Frame) error {
	tx, err := db.sqldb.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM Frames`); err != nil {
		return err
	}
	for i, f := range frames {
		bits, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode frame %d: %w", i, err)
		}
		if _, err := tx.Exec(`INSERT INTO Frames (id, raw) VALUES (?, ?)`, i, bits); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO Meta (key, value) VALUES (?, ?)`,
		"dataset", []byte(name)); err != nil {
		return err
	}
	return tx.Commit()
}

// clearCacheLocked removes every file in the render cache.
func (db *DB) clearCacheLocked() {
	cacheDir := filepath.Join(db.dir, "frames")
	es, err := os.ReadDir(cacheDir)
	if err != nil {
		log.Printf("WARNING: reading cache directory: %v (continuing)", err)
		return
	}
	for _, e := range es {
		if e.Type().IsRegular() {
			os.Remove(filepath.Join(cacheDir, e.Name()))
		}
	}
}

func (db *DB) cleanFrameCache(ctx context.Context) {
	const pollInterval = time.Minute // how often to scan the cache
	log.Printf("Starting frame cache cleaner (poll=%v, max-age=%v, min-prune=%d bytes)",
		pollInterval, db.maxAccessAge, db.minPruneBytes)

	t := time.NewTicker(pollInterval)
	defer t.Stop()

	cacheDir := filepath.Join(db.dir, "frames")
	for {
		select {
		case <-ctx.Done():
			log.Printf("Frame cache cleaner exiting (%v)", ctx.Err())
			return
		case <-t.C:
		}
		db.pruneCache(cacheDir)
	}
}

// pruneCache removes files from cacheDir that have not been accessed within
// the maximum access age, provided the cache holds more than the minimum
// prune size. It reports the number of files removed.
func (db *DB) pruneCache(cacheDir string) int {
	// Phase 1: List all the files in the frame cache.
	es, err := os.ReadDir(cacheDir)
	if err != nil {
		log.Printf("WARNING: reading cache directory: %v (continuing)", err)
		return 0
	}

	// Phase 2: Select candidate paths for removal based on access time.
	var totalSize int64
	var cand []string
	for _, e := range es {
		if !e.Type().IsRegular() {
			continue
		}

		path := filepath.Join(cacheDir, e.Name())
		atime, err := getAccessTime(path)
		if err != nil {
			continue
		}
		if time.Since(atime) > db.maxAccessAge {
			cand = append(cand, path)
		}
		if fi, err := e.Info(); err == nil {
			totalSize += fi.Size()
		}
	}
	if totalSize <= db.minPruneBytes || len(cand) == 0 {
		return 0
	}

	// Phase 3: Grab the lock and clean up candidates. Holding the lock keeps
	// us from racing with a /content request that is about to serve the file;
	// if we win, that request regenerates it.
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int
	for _, path := range cand {
		if os.Remove(path) == nil {
			log.Printf("[frame cache] removed %q", path)
			n++
		}
	}
	return n
}

func getAccessTime(path string) (time.Time, error) {
	var sbuf unix.Stat_t
	if err := unix.Stat(path, &sbuf); err != nil {
		return time.Time{}, err
	}
	return time.Unix(sbuf.Atim.Sec, sbuf.Atim.Nsec).UTC(), nil
}
