// Copyright (C) 2021  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package reproducible supplies the single clock that archive extraction
// clamps member timestamps to, so two installs of the same
// resolution on different machines (and at different real times) produce
// byte-identical vendor trees: SOURCE_DATE_EPOCH, when set, pins that
// clock; otherwise it falls back to wall-clock time for ordinary runs.
package reproducible

import (
	"os"
	"strconv"
	"sync"
	"time"
)

//nolint:gochecknoglobals // this needs to be global
var (
	nowOnce sync.Once
	now     time.Time
)

// Now returns this process's pinned reproducibility instant, reading
// SOURCE_DATE_EPOCH (Unix seconds) once and caching it for the life of
// the process.
func Now() time.Time {
	nowOnce.Do(func() {
		secs, err := strconv.ParseInt(os.Getenv("SOURCE_DATE_EPOCH"), 10, 64)
		if err == nil {
			now = time.Unix(secs, 0)
		} else {
			now = time.Now()
		}
	})
	return now
}

// Clamp returns t, or Now() if t is after it — the same clamp
// pkg/fsutil.LayerFromFileReferences applies to OCI layer member
// timestamps, applied here to extracted archive members so a rebuild
// under a pinned SOURCE_DATE_EPOCH never produces a file dated later than
// the pinned instant.
func Clamp(t time.Time) time.Time {
	if t.After(Now()) {
		return Now()
	}
	return t
}
