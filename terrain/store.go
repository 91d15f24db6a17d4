package terrain

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize bounds the number of decoded grids a Store keeps.
const DefaultCacheSize = 16

// Store serves named elevation grids from a directory of SRTM tiles
// (*.hgt, *.hgt.zip) and raw float32 grids (<name>_<w>x<h>.f32). Decoded
// grids are kept in an LRU cache; concurrent loads of the same grid are
// coalesced.
type Store struct {
	dir   string
	cache *lru.Cache
	group singleflight.Group

	mu     sync.RWMutex
	files  map[string]string
	pinned map[string]*Grid
}

// NewStore indexes dir and returns a Store caching up to cacheSize grids.
// An empty dir yields a Store that only serves grids added with Put.
func NewStore(dir string, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("grid cache: %w", err)
	}
	s := &Store{
		dir:    dir,
		cache:  cache,
		files:  make(map[string]string),
		pinned: make(map[string]*Grid),
	}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh rescans the store directory.
func (s *Store) Refresh() error {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan grid dir %s: %w", s.dir, err)
	}
	files := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := gridName(e.Name()); ok {
			files[name] = filepath.Join(s.dir, e.Name())
		}
	}
	s.mu.Lock()
	s.files = files
	s.mu.Unlock()
	return nil
}

// Put registers an in-memory grid under name. Pinned grids are never evicted.
func (s *Store) Put(name string, g *Grid) {
	s.mu.Lock()
	s.pinned[name] = g
	s.mu.Unlock()
}

// Names lists every grid the store can serve, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.files)+len(s.pinned))
	for n := range s.files {
		names = append(names, n)
	}
	for n := range s.pinned {
		if _, dup := s.files[n]; !dup {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Cached returns the number of decoded grids currently held in the cache.
func (s *Store) Cached() int {
	return s.cache.Len()
}

// Get returns the grid registered under name, loading it from disk if
// necessary.
func (s *Store) Get(name string) (*Grid, error) {
	s.mu.RLock()
	g, ok := s.pinned[name]
	path, known := s.files[name]
	s.mu.RUnlock()
	if ok {
		return g, nil
	}
	if v, ok := s.cache.Get(name); ok {
		return v.(*Grid), nil
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrGridNotFound, name)
	}

	v, err, _ := s.group.Do(name, func() (interface{}, error) {
		g, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		s.cache.Add(name, g)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Grid), nil
}

// LoadFile decodes a single grid file by extension.
func LoadFile(path string) (*Grid, error) {
	return loadFile(path)
}

func loadFile(path string) (*Grid, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".hgt"), strings.HasSuffix(lower, ".hgt.zip"):
		return LoadHGT(path)
	case strings.HasSuffix(lower, RawExt):
		_, w, h, err := ParseRawName(path)
		if err != nil {
			return nil, err
		}
		return OpenRaw(path, w, h)
	default:
		return nil, fmt.Errorf("unsupported grid file %s", path)
	}
}

func gridName(file string) (string, bool) {
	lower := strings.ToLower(file)
	switch {
	case strings.HasSuffix(lower, ".hgt.zip"):
		return strings.ToUpper(file[:len(file)-len(".hgt.zip")]), true
	case strings.HasSuffix(lower, ".hgt"):
		return strings.ToUpper(file[:len(file)-len(".hgt")]), true
	case strings.HasSuffix(lower, RawExt):
		name, _, _, err := ParseRawName(file)
		return name, err == nil
	default:
		return "", false
	}
}
