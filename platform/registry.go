package platform

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/certflow/certflow/errors"
)

// Registry holds the loaded platform tables, keyed by platform ID.
// Reload swaps the whole table set atomically so in-flight lookups
// never observe a half-loaded directory.
type Registry struct {
	dir    string
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	platforms map[string]*Platform
}

// NewRegistry loads every *.yaml table under dir.
func NewRegistry(dir string, logger *zap.SugaredLogger) (*Registry, error) {
	r := &Registry{
		dir:       dir,
		logger:    logger,
		platforms: make(map[string]*Platform),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the directory the registry loads from.
func (r *Registry) Dir() string {
	return r.dir
}

// Get returns the platform table for id.
func (r *Registry) Get(id string) (*Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.platforms[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrPlatformUnsupported, "platform %q", id)
	}
	return p, nil
}

// IDs returns the loaded platform IDs, unordered.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.platforms))
	for id := range r.platforms {
		ids = append(ids, id)
	}
	return ids
}

// Reload re-reads every table from disk. A table that fails to parse or
// validate aborts the whole reload; the previous table set stays in effect.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return errors.Wrapf(err, "read platform directory %s", r.dir)
	}

	loaded := make(map[string]*Platform)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		p, err := LoadFile(filepath.Join(r.dir, name))
		if err != nil {
			return err
		}
		if _, dup := loaded[p.ID]; dup {
			return errors.Newf("duplicate platform id %q in %s", p.ID, name)
		}
		loaded[p.ID] = p
	}

	r.mu.Lock()
	r.platforms = loaded
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Infow("Platform tables loaded",
			"dir", r.dir,
			"platforms", len(loaded),
		)
	}
	return nil
}
