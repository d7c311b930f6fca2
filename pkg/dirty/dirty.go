// Package dirty remembers the content of the program descriptions a build
// consumed, so a later build can tell whether any of them changed.
package dirty

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultStateFile is the name of the state file in the tracker directory.
const DefaultStateFile = "programs.msgpack"

const stateVersion = 1

type fileState struct {
	Hash  string `msgpack:"hash"`
	Built int64  `msgpack:"built"` // Unix time of the build that recorded the hash
}

// stateData is the on-disk structure.
type stateData struct {
	Version int                  `msgpack:"v"`
	Files   map[string]fileState `msgpack:"files"`
}

// Tracker records content hashes of program files. It is safe for
// concurrent use.
type Tracker struct {
	mu     sync.Mutex
	path   string
	files  map[string]fileState
	now    func() time.Time
	noLoad bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStateFile sets the state file name.
func WithStateFile(name string) Option {
	return func(t *Tracker) {
		t.path = filepath.Join(filepath.Dir(t.path), name)
	}
}

// WithoutLoad starts the tracker empty, ignoring any state on disk.
func WithoutLoad() Option {
	return func(t *Tracker) { t.noLoad = true }
}

// Open returns a tracker whose state lives in dir, loading any state
// recorded earlier. A missing state file starts empty.
func Open(dir string, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		path:  filepath.Join(dir, DefaultStateFile),
		files: make(map[string]fileState),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.noLoad {
		return t, nil
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func absPaths(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		out[i] = abs
	}
	return out, nil
}

// Changed returns the absolute paths among paths whose content differs from
// what was last recorded, including paths never recorded.
func (t *Tracker) Changed(paths []string) ([]string, error) {
	abs, err := absPaths(paths)
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, p := range abs {
		hash, err := hashFile(p)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		st, ok := t.files[p]
		t.mu.Unlock()
		if !ok || st.Hash != hash {
			changed = append(changed, p)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

// Record stores the current content hashes of paths.
func (t *Tracker) Record(paths []string) error {
	abs, err := absPaths(paths)
	if err != nil {
		return err
	}
	built := t.now().Unix()
	for _, p := range abs {
		hash, err := hashFile(p)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.files[p] = fileState{Hash: hash, Built: built}
		t.mu.Unlock()
	}
	return nil
}

// Forget drops the recorded state of paths, so they count as changed.
func (t *Tracker) Forget(paths ...string) {
	abs, err := absPaths(paths)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range abs {
		delete(t.files, p)
	}
}

// Len returns the number of recorded files.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

// BuiltAt returns when path was last recorded.
func (t *Tracker) BuiltAt(path string) (time.Time, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return time.Time{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.files[abs]
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(st.Built, 0), true
}

// Save writes the state file through a temporary file.
func (t *Tracker) Save() error {
	t.mu.Lock()
	data, err := msgpack.Marshal(stateData{Version: stateVersion, Files: t.files})
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode tracker state: %w", err)
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write tracker state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("failed to save tracker state: %w", err)
	}
	return nil
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read tracker state: %w", err)
	}
	var st stateData
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to decode tracker state: %w", err)
	}
	if st.Version != stateVersion {
		return fmt.Errorf("unsupported tracker state version %d", st.Version)
	}
	if st.Files != nil {
		t.files = st.Files
	}
	return nil
}
