package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

const graphKeyPrefix = "cfg/"

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool

	SyncWrites       bool
	BranchExtensions bool

	// GCInterval enables periodic value log garbage collection. 0 disables.
	GCInterval     time.Duration
	GCDiscardRatio float64

	Logger log.Logger
}

// badgerLogger adapts log.Logger to badger's logger interface. Badger's own
// info chatter is demoted to debug.
type badgerLogger struct {
	logger log.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// BadgerStore keeps graphs in a badger key-value database keyed by method
// signature.
type BadgerStore struct {
	db        *badger.DB
	branchExt bool
	logger    log.Logger

	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

// NewBadgerStore opens a badger database as a graph store.
func NewBadgerStore(c BadgerConfig) (*BadgerStore, error) {
	if !c.InMemory && c.Path == "" {
		return nil, &CacheError{Op: "open", Err: errors.New("path is required for persistent database")}
	}

	var opts badger.Options
	if c.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(c.Path, 0750); err != nil {
			return nil, &CacheError{Op: "open", Err: fmt.Errorf("failed to create database directory %s: %w", c.Path, err)}
		}
		opts = badger.DefaultOptions(c.Path)
	}
	opts = opts.WithSyncWrites(c.SyncWrites).WithNumVersionsToKeep(1)
	if c.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: c.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &CacheError{Op: "open", Err: fmt.Errorf("failed to open badger database: %w", err)}
	}

	s := &BadgerStore{db: db, branchExt: c.BranchExtensions, logger: log.OrDefault(c.Logger)}
	if c.GCInterval > 0 && !c.InMemory {
		ratio := c.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(c.GCInterval, ratio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect.
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC failed", "error", err)
			}
		}
	}
}

func graphKey(sig bytecode.MethodSignature) []byte {
	return []byte(graphKeyPrefix + sig.String())
}

// Write stores g under sig, replacing any earlier graph.
func (s *BadgerStore) Write(sig bytecode.MethodSignature, g *cfg.Graph) error {
	var buf bytes.Buffer
	if err := Encode(&buf, g, s.branchExt); err != nil {
		return &CacheError{Op: "write", Signature: sig, Err: err}
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(graphKey(sig), buf.Bytes())
	})
	if err != nil {
		return &CacheError{Op: "write", Signature: sig, Err: err}
	}
	return nil
}

// Read loads the graph stored under sig.
func (s *BadgerStore) Read(sig bytecode.MethodSignature) (*cfg.Graph, error) {
	var g *cfg.Graph
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(graphKey(sig))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			g, err = Decode(bytes.NewReader(val), sig)
			return err
		})
	})
	if err != nil {
		return nil, &CacheError{Op: "read", Signature: sig, Err: err}
	}
	return g, nil
}

// Delete removes the graph stored under sig. Deleting a missing graph is
// not an error.
func (s *BadgerStore) Delete(sig bytecode.MethodSignature) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(graphKey(sig))
	})
	if err != nil {
		return &CacheError{Op: "delete", Signature: sig, Err: err}
	}
	return nil
}

// List returns the stored entries sorted by signature.
func (s *BadgerStore) List() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(graphKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			entries = append(entries, Entry{
				Signature: strings.TrimPrefix(string(item.Key()), graphKeyPrefix),
				Size:      item.ValueSize(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, &CacheError{Op: "list", Err: err}
	}
	return entries, nil
}

// Close stops garbage collection and closes the database.
func (s *BadgerStore) Close() error {
	var err error
	s.once.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		if cerr := s.db.Close(); cerr != nil {
			err = &CacheError{Op: "close", Err: cerr}
		}
	})
	return err
}
