// Package assets handles loading and caching of the files a render needs:
// scene templates and the source images of material graphs.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Faultbox/raybridge/pkg/archive"
	"github.com/Faultbox/raybridge/pkg/imageio"
)

var (
	ErrNotFound = errors.New("asset not found")
)

// Manager finds files in search directories, then in zip archives. File
// contents and decoded images are cached until the file changes on disk.
type Manager struct {
	mu       sync.RWMutex
	dirs     []string
	archives []*archive.Archive
	cache    *Cache
	frames   map[string]frameEntry
}

type frameEntry struct {
	frame *imageio.Frame
	stamp Stamp
}

func NewManager() *Manager {
	return &Manager{
		cache:  NewCache(),
		frames: make(map[string]frameEntry),
	}
}

// AddDir adds a search directory. Directories are searched before
// archives, in the order they were added.
func (m *Manager) AddDir(dir string) {
	m.mu.Lock()
	m.dirs = append(m.dirs, dir)
	m.mu.Unlock()
}

// AddArchive adds a zip archive. The last archive added wins.
func (m *Manager) AddArchive(path string) error {
	a, err := archive.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", path, err)
	}
	m.mu.Lock()
	m.archives = append(m.archives, a)
	m.mu.Unlock()
	return nil
}

// Resolve returns the file path of a relative asset, looking in the search
// directories with a case-insensitive fallback. Absolute paths are
// returned as is when they exist.
func (m *Manager) Resolve(path string) (string, bool) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
		return "", false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, dir := range m.dirs {
		p := filepath.Join(dir, path)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	for _, dir := range m.dirs {
		if p, ok := archive.FindCaseInsensitive(dir, path); ok {
			return p, true
		}
	}
	return "", false
}

// Load returns the content of an asset.
func (m *Manager) Load(path string) ([]byte, error) {
	data, _, err := m.load(path)
	return data, err
}

// load also returns the stamp the content was read at. Archive members
// have the zero stamp.
func (m *Manager) load(path string) ([]byte, Stamp, error) {
	if p, ok := m.Resolve(path); ok {
		st, err := stampOf(p)
		if err != nil {
			return nil, Stamp{}, err
		}
		if data, ok := m.cache.Get(p, st); ok {
			return data, st, nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, Stamp{}, err
		}
		m.cache.Set(p, st, data)
		return data, st, nil
	}

	key := "zip:" + path
	if data, ok := m.cache.Get(key, Stamp{}); ok {
		return data, Stamp{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.archives) - 1; i >= 0; i-- {
		if data, err := m.archives[i].Read(path); err == nil {
			m.cache.Set(key, Stamp{}, data)
			return data, Stamp{}, nil
		}
	}
	return nil, Stamp{}, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// Frame loads an image asset as a float frame.
func (m *Manager) Frame(path string) (*imageio.Frame, error) {
	data, st, err := m.load(path)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	e, ok := m.frames[path]
	m.mu.RUnlock()
	if ok && e.stamp.Same(st) {
		return e.frame, nil
	}

	img, err := imageio.Decode(data, path)
	if err != nil {
		return nil, err
	}
	f := imageio.FromImage(img)

	m.mu.Lock()
	m.frames[path] = frameEntry{frame: f, stamp: st}
	m.mu.Unlock()
	return f, nil
}

// Close closes all archives and drops cached content.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.archives {
		a.Close()
	}
	m.archives = nil
	m.frames = make(map[string]frameEntry)
	m.cache.Clear()
}

// Stamp identifies one version of a file.
type Stamp struct {
	ModTime time.Time
	Size    int64
}

// Same reports whether s and o identify the same version.
func (s Stamp) Same(o Stamp) bool {
	return s.Size == o.Size && s.ModTime.Equal(o.ModTime)
}

func stampOf(path string) (Stamp, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{ModTime: fi.ModTime(), Size: fi.Size()}, nil
}

// Cache holds file contents keyed by path and stamp. An entry read at an
// older stamp is a miss.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry

	hits   int
	misses int
}

type cacheEntry struct {
	data  []byte
	stamp Stamp
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the content cached for key at stamp st.
func (c *Cache) Get(key string, st Stamp) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.stamp.Same(st) {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.data, true
}

func (c *Cache) Set(key string, st Stamp, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{data: data, stamp: st}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.hits, c.misses = 0, 0
}

// Stats returns the hit and miss counts since the last Clear.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
