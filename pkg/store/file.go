package store

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

const (
	graphFileExt  = ".cfg"
	indexFileName = "index.msgpack"
)

// Entry describes one stored graph.
type Entry struct {
	Signature string    `msgpack:"sig" json:"signature"`
	Size      int64     `msgpack:"size" json:"size"`
	Written   time.Time `msgpack:"written" json:"written,omitempty"`
	RunID     string    `msgpack:"run" json:"run_id,omitempty"`
}

// indexData is the serialized form of the index sidecar.
type indexData struct {
	Version int              `msgpack:"v"`
	Entries map[string]Entry `msgpack:"entries"`
}

const indexVersion = 1

// FileOptions configures a FileStore.
type FileOptions struct {
	BranchExtensions bool
	// RunID tags entries written through this store. A random ID is used
	// when empty.
	RunID string
}

// FileStore keeps one binary file per graph in a directory. Files are
// written to a temporary name and renamed into place, so an interrupted
// write never damages another entry. An index sidecar records what was
// written, when, and by which run.
type FileStore struct {
	dir       string
	branchExt bool
	runID     string

	mu    sync.Mutex
	index map[string]Entry
}

// NewFileStore opens or creates a file store in dir.
func NewFileStore(dir string, opts FileOptions) (*FileStore, error) {
	if dir == "" {
		return nil, &CacheError{Op: "open", Err: errors.New("store directory is required")}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &CacheError{Op: "open", Err: fmt.Errorf("failed to create store directory: %w", err)}
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	s := &FileStore{dir: dir, branchExt: opts.BranchExtensions, runID: runID}
	if err := s.loadIndex(); err != nil {
		return nil, &CacheError{Op: "open", Err: err}
	}
	return s, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

// RunID returns the ID recorded for entries written through s.
func (s *FileStore) RunID() string { return s.runID }

func (s *FileStore) path(sig bytecode.MethodSignature) string {
	return filepath.Join(s.dir, url.QueryEscape(sig.String())+graphFileExt)
}

// Write stores g under sig.
func (s *FileStore) Write(sig bytecode.MethodSignature, g *cfg.Graph) error {
	size, err := s.writeFile(s.path(sig), func(f *os.File) error {
		return Encode(f, g, s.branchExt)
	})
	if err != nil {
		return &CacheError{Op: "write", Signature: sig, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[sig.String()] = Entry{Signature: sig.String(), Size: size, Written: time.Now().UTC(), RunID: s.runID}
	if err := s.saveIndex(); err != nil {
		return &CacheError{Op: "write", Signature: sig, Err: err}
	}
	return nil
}

// writeFile writes through a temporary file in the store directory and
// renames it to path.
func (s *FileStore) writeFile(path string, write func(*os.File) error) (int64, error) {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return 0, err
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return info.Size(), nil
}

// Read loads the graph stored under sig.
func (s *FileStore) Read(sig bytecode.MethodSignature) (*cfg.Graph, error) {
	f, err := os.Open(s.path(sig))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &CacheError{Op: "read", Signature: sig, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &CacheError{Op: "read", Signature: sig, Err: err}
	}
	defer f.Close()

	g, err := Decode(f, sig)
	if err != nil {
		return nil, &CacheError{Op: "read", Signature: sig, Err: err}
	}
	return g, nil
}

// Delete removes the graph stored under sig. Deleting a missing graph is
// not an error.
func (s *FileStore) Delete(sig bytecode.MethodSignature) error {
	if err := os.Remove(s.path(sig)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &CacheError{Op: "delete", Signature: sig, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[sig.String()]; !ok {
		return nil
	}
	delete(s.index, sig.String())
	if err := s.saveIndex(); err != nil {
		return &CacheError{Op: "delete", Signature: sig, Err: err}
	}
	return nil
}

// List returns the indexed entries sorted by signature.
func (s *FileStore) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Signature < entries[j].Signature })
	return entries, nil
}

// Close flushes the index.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveIndex(); err != nil {
		return &CacheError{Op: "close", Err: err}
	}
	return nil
}

// loadIndex reads the index sidecar. A missing index starts empty.
func (s *FileStore) loadIndex() error {
	s.index = make(map[string]Entry)

	file, err := os.Open(filepath.Join(s.dir, indexFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer file.Close()

	var data indexData
	if err := msgpack.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode index: %w", err)
	}
	if data.Version != indexVersion {
		return fmt.Errorf("unsupported index version %d", data.Version)
	}
	if data.Entries != nil {
		s.index = data.Entries
	}
	return nil
}

// saveIndex rewrites the index sidecar. Callers hold mu.
func (s *FileStore) saveIndex() error {
	_, err := s.writeFile(filepath.Join(s.dir, indexFileName), func(f *os.File) error {
		if err := msgpack.NewEncoder(f).Encode(&indexData{Version: indexVersion, Entries: s.index}); err != nil {
			return fmt.Errorf("failed to encode index: %w", err)
		}
		return nil
	})
	return err
}
