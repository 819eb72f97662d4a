// Package manifest tracks committed checkpoint generations. A checkpoint
// becomes visible only when the CURRENT pointer names its manifest file, so
// readers never observe a half-written generation.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cardexio/cardex/codec"
)

const (
	// FileNamePrefix is the prefix of per-generation manifest files
	// (MANIFEST-000001.json).
	FileNamePrefix = "MANIFEST"

	// CurrentFileName is the pointer file naming the committed manifest.
	CurrentFileName = "CURRENT"

	// CurrentVersion is the manifest format version this build writes.
	CurrentVersion = 1
)

// FileInfo describes one checkpoint artifact with its integrity checksum.
type FileInfo struct {
	Name   string `json:"name"` // relative to the checkpoint dir
	Size   int64  `json:"size"`
	CRC32C uint32 `json:"crc32c"`
}

// Manifest describes one committed checkpoint generation.
type Manifest struct {
	Version     int        `json:"version"`
	ID          uint64     `json:"id"`
	Dimension   int        `json:"dimension"`
	Count       int        `json:"count"`
	Codec       string     `json:"codec"`       // codec name used for this file
	Compression string     `json:"compression"` // none, zstd or lz4
	WALSeq      uint64     `json:"wal_seq"`     // last WAL sequence covered
	CreatedAt   time.Time  `json:"created_at"`
	Files       []FileInfo `json:"files"`
}

// File returns the FileInfo for name.
func (m *Manifest) File(name string) (FileInfo, bool) {
	for _, f := range m.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileInfo{}, false
}

// Store manages manifest files in a checkpoint directory and flips the
// CURRENT pointer atomically.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a manifest store for the given checkpoint directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load reads the committed manifest. A missing CURRENT pointer means no
// checkpoint has been taken yet and yields an empty manifest.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(filepath.Join(s.dir, CurrentFileName))
	if os.IsNotExist(err) {
		return &Manifest{Version: CurrentVersion}, nil
	}
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(string(content))
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("manifest %q named by CURRENT: %w", name, err)
	}

	var m Manifest
	if err := decode(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %q: %w", name, err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported manifest version: %d (expected %d)", m.Version, CurrentVersion)
	}

	return &m, nil
}

// decode first peeks at the recorded codec name, then decodes with it.
func decode(data []byte, m *Manifest) error {
	var probe struct {
		Codec string `json:"codec"`
	}
	if err := codec.Default.Unmarshal(data, &probe); err != nil {
		return err
	}

	c, ok := codec.ByName(probe.Codec)
	if !ok {
		c = codec.Default
	}
	return c.Unmarshal(data, m)
}

// Save writes a new manifest generation and commits it by flipping the
// CURRENT pointer. Save increments m.ID.
func (s *Store) Save(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++
	m.Codec = codec.Default.Name()

	data, err := codec.Default.Marshal(m)
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("%s-%06d.json", FileNamePrefix, m.ID)
	if err := s.writeFileAtomic(filename, data); err != nil {
		return err
	}

	// The pointer flip is the commit point.
	if err := s.writeFileAtomic(CurrentFileName, []byte(filename)); err != nil {
		return err
	}

	return nil
}

// Prune removes manifest files older than the committed one.
func (s *Store) Prune() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(filepath.Join(s.dir, CurrentFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	current := strings.TrimSpace(string(content))

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == current || !strings.HasPrefix(name, FileNamePrefix+"-") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic writes name via a temp file, fsync, rename and directory
// fsync so the file is either fully present or absent after a crash.
func (s *Store) writeFileAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return syncDir(s.dir)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
