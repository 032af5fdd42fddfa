package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Catalog tracks the open segments of a data directory. Segments are never
// removed while the catalog is open, so readers handed out stay valid until
// Close.
type Catalog struct {
	dir     string
	mu      sync.RWMutex
	readers []*Reader
	loaded  map[string]struct{}
	logger  *slog.Logger
}

// OpenCatalog opens every segment already in dir. A missing directory is an
// empty catalog.
func OpenCatalog(dir string) (*Catalog, error) {
	c := &Catalog{
		dir:    dir,
		loaded: make(map[string]struct{}),
		logger: slog.Default().With("component", "segment-catalog", "dir", dir),
	}
	n, err := c.Refresh()
	if err != nil {
		return nil, err
	}
	c.logger.Info("segment recovery complete", "segments_loaded", n)
	return c, nil
}

// Refresh opens segments written since the last call and returns how many
// were added. Unreadable segments are logged and skipped.
func (c *Catalog) Refresh() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading data directory: %w", err)
	}
	segFiles := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), FileExt) {
			segFiles = append(segFiles, entry.Name())
		}
	}
	sort.Strings(segFiles)

	c.mu.Lock()
	defer c.mu.Unlock()
	added := 0
	for _, name := range segFiles {
		if _, ok := c.loaded[name]; ok {
			continue
		}
		reader, err := OpenReader(filepath.Join(c.dir, name))
		if err != nil {
			c.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		c.readers = append(c.readers, reader)
		c.loaded[name] = struct{}{}
		added++
		c.logger.Debug("segment loaded",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
			"taxonomy_generation", reader.Info().TaxonomyGeneration,
		)
	}
	return added, nil
}

// Add registers a segment opened by the caller.
func (c *Catalog) Add(r *Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readers = append(c.readers, r)
	c.loaded[r.Name()] = struct{}{}
}

// Readers returns the open segments, oldest first.
func (c *Catalog) Readers() []*Reader {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Reader, len(c.readers))
	copy(out, c.readers)
	return out
}

// DocCount sums the documents of every open segment.
func (c *Catalog) DocCount() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n uint64
	for _, r := range c.readers {
		n += uint64(r.DocCount())
	}
	return n
}

func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing segment %s: %w", r.Name(), err))
		}
	}
	c.readers = nil
	c.loaded = make(map[string]struct{})
	return errors.Join(errs...)
}
