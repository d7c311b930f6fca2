// Package store persists control flow graphs in the binary graph layout.
// Graphs evicted from the in-memory cache are spilled to a Store and read
// back on demand.
package store

import (
	"errors"
	"fmt"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// ErrNotFound is returned when no graph is stored for a signature.
var ErrNotFound = errors.New("graph not stored")

// CacheError reports a failed store operation.
type CacheError struct {
	Op        string
	Signature bytecode.MethodSignature
	Err       error
}

func (e *CacheError) Error() string {
	if e.Signature == (bytecode.MethodSignature{}) {
		return fmt.Sprintf("graph store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("graph store %s %s: %v", e.Op, e.Signature, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// Store holds graphs keyed by method signature. Implementations are safe
// for concurrent use.
type Store interface {
	Write(sig bytecode.MethodSignature, g *cfg.Graph) error
	Read(sig bytecode.MethodSignature) (*cfg.Graph, error)
	Delete(sig bytecode.MethodSignature) error
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendBadger Backend = "badger"
	BackendMemory Backend = "memory"
)

// Options configures Open.
type Options struct {
	Backend Backend
	// Dir is the store directory; ignored by the memory backend.
	Dir string
	// BranchExtensions includes branch IDs in stored graphs.
	BranchExtensions bool
	// RunID tags entries written by this process in the file store index.
	RunID  string
	Logger log.Logger
}

// Open returns the store selected by opts.
func Open(opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Backend {
	case BackendFile, "":
		s, err = openFile(opts)
	case BackendBadger:
		s, err = openBadger(BadgerConfig{Path: opts.Dir, BranchExtensions: opts.BranchExtensions, SyncWrites: true, Logger: opts.Logger})
	case BackendMemory:
		s, err = openBadger(BadgerConfig{InMemory: true, BranchExtensions: opts.BranchExtensions, Logger: opts.Logger})
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openFile(opts Options) (Store, error) {
	s, err := NewFileStore(opts.Dir, FileOptions{BranchExtensions: opts.BranchExtensions, RunID: opts.RunID})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openBadger(c BadgerConfig) (Store, error) {
	s, err := NewBadgerStore(c)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Lister is implemented by stores that can enumerate their entries.
type Lister interface {
	List() ([]Entry, error)
}

var (
	_ Store  = (*FileStore)(nil)
	_ Store  = (*BadgerStore)(nil)
	_ Lister = (*FileStore)(nil)
	_ Lister = (*BadgerStore)(nil)
)
