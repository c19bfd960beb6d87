package maildir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fenilsonani/mailstore/internal/logging"
	"github.com/fenilsonani/mailstore/internal/metrics"
)

// mtimeGrace absorbs filesystem mtime coarseness: a subdirectory only counts
// as externally modified when its mtime exceeds the last refresh by this
// much.
const mtimeGrace = 2 * time.Second

// keyIndex caches the mapping from message key to absolute file path,
// rebuilt by scanning the tmp, new, and cur subdirectories. Entries may lag
// reality up to the staleness window; every consumer either verifies the
// target file still exists or tolerates eventual consistency.
type keyIndex struct {
	subdirs     map[Subdir]string
	paths       map[string]string
	lastRefresh time.Time

	lazy       bool
	lazyPeriod time.Duration

	logger *logging.Logger
}

func newKeyIndex(subdirs map[Subdir]string, lazy bool, lazyPeriod time.Duration, logger *logging.Logger) *keyIndex {
	if lazyPeriod <= 0 {
		lazyPeriod = 5 * time.Second
	}
	return &keyIndex{
		subdirs:    subdirs,
		lazy:       lazy,
		lazyPeriod: lazyPeriod,
		logger:     logger.Index(),
	}
}

// maybeRefresh rescans the subdirectories when the index looks stale.
// An unpopulated index always refreshes. In lazy mode any refresh inside the
// lazy period is skipped wholesale. Otherwise the subdirectory mtimes decide.
func (ix *keyIndex) maybeRefresh() error {
	if ix.paths == nil {
		return ix.rescan()
	}

	if ix.lazy && time.Since(ix.lastRefresh) < ix.lazyPeriod {
		return nil
	}

	threshold := ix.lastRefresh.Add(mtimeGrace)
	for _, dir := range ix.subdirs {
		fi, err := os.Stat(dir)
		if err != nil {
			continue
		}
		if fi.ModTime().After(threshold) {
			return ix.rescan()
		}
	}
	return nil
}

// rescan replaces the mapping wholesale from a full directory walk.
func (ix *keyIndex) rescan() error {
	ix.lastRefresh = time.Now()
	ix.paths = make(map[string]string)

	for _, dir := range ix.subdirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, hiddenPrefix) {
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			key, _ := splitFilename(name)
			ix.paths[key] = filepath.Join(dir, name)
		}
	}

	metrics.IndexRefreshes.Inc()
	ix.logger.Debug("index refreshed", "keys", len(ix.paths))
	return nil
}

// hiddenPrefix marks directory entries the scan skips.
const hiddenPrefix = "."

// pathFor resolves a single key to its file path. The cached entry is
// trusted only while the target file still exists; a miss or vanished entry
// forces a full rescan regardless of lazy mode.
func (ix *keyIndex) pathFor(key string) (string, error) {
	if p, ok := ix.paths[key]; ok {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	metrics.IndexMisses.Inc()
	if err := ix.rescan(); err != nil {
		return "", err
	}
	p, ok := ix.paths[key]
	if !ok {
		return "", &UnknownKeyError{Key: key}
	}
	return p, nil
}

// keys returns the current key set after a conditional refresh.
func (ix *keyIndex) keys() ([]string, error) {
	if err := ix.maybeRefresh(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ix.paths))
	for k := range ix.paths {
		out = append(out, k)
	}
	return out, nil
}

// contains reports whether key is present after a conditional refresh.
func (ix *keyIndex) contains(key string) (bool, error) {
	if err := ix.maybeRefresh(); err != nil {
		return false, err
	}
	_, ok := ix.paths[key]
	return ok, nil
}

// set registers or moves a key without a rescan.
func (ix *keyIndex) set(key, path string) {
	if ix.paths == nil {
		ix.paths = make(map[string]string)
	}
	ix.paths[key] = path
}

// evict drops a key without a rescan.
func (ix *keyIndex) evict(key string) {
	delete(ix.paths, key)
}

// touch records that this instance just mutated a subdirectory. In lazy mode
// the lazy window restarts so our own rename is not immediately rescanned;
// otherwise the next conditional refresh is forced.
func (ix *keyIndex) touch() {
	if ix.lazy {
		ix.lastRefresh = time.Now()
	} else {
		ix.lastRefresh = time.Time{}
	}
}
