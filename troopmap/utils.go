// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"strconv"
)

// parseIndex parses s as a frame index and checks that 0 ≤ index < n.
func parseIndex(s string, n int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid frame %q", s)
	} else if i < 0 || i >= n {
		return 0, fmt.Errorf("frame %d out of range [0, %d)", i, n)
	}
	return i, nil
}

// parsePageOptions parses "page" and "count" query parameters from r if they
// are present. If they are present, they give the page > 0 and count > 0 that
// the endpoint should return. Otherwise, page < 0 and count = 0. If the count
// parameter is not specified or is 0, defaultCount is returned.
// It is an error if these parameters are present but invalid.
func parsePageOptions(r *http.Request, defaultCount int) (page, count int, _ error) {
	pageStr := r.FormValue("page")
	if pageStr == "" {
		return -1, 0, nil // pagination not requested (ignore count)
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil {
		return -1, 0, fmt.Errorf("invalid page: %w", err)
	} else if page <= 0 {
		return -1, 0, errors.New("page must be positive")
	}

	countStr := r.FormValue("count")
	if countStr == "" {
		return page, defaultCount, nil
	}
	count, err = strconv.Atoi(countStr)
	if err != nil {
		return -1, 0, fmt.Errorf("invalid count: %w", err)
	} else if count < 0 {
		return -1, 0, errors.New("count must be non-negative")
	}

	if count == 0 {
		return page, defaultCount, nil
	}
	return page, count, nil
}

// slicePage returns the subslice of vs corresponding to the page and count
// parameters (as returned by parsePageOptions), or nil if the page and count
// are past the end of vs.
func slicePage[T any, S ~[]T](vs S, page, count int) S {
	if page < 0 {
		return vs // take the whole input, no pagination
	}
	start := (page - 1) * count
	if start >= len(vs) {
		return nil // the page starts after the end of vs
	}
	return vs[start:min(start+count, len(vs))]
}

func formatEtag(h hash.Hash) string { return fmt.Sprintf(`"%x"`, h.Sum(nil)) }

// makeFileEtag returns a quoted Etag hash ("<hex>") for the specified file
// path.
func makeFileEtag(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	etagHash := sha256.New()
	if _, err := io.Copy(etagHash, f); err != nil {
		return "", err
	}
	return formatEtag(etagHash), nil
}
