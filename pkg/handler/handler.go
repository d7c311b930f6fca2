// Package handler reads and writes the text interchange files of a class:
// the map file listing each method's blocks and the control flow file
// listing its edges. Files written without method signatures are legacy
// files; their methods are keyed by name only.
package handler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cache"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// File name suffixes. The base name of both files is the class name
// followed by SourceSuffix.
const (
	SourceSuffix = ".java"
	MapSuffix    = ".map"
	CFSuffix     = ".cf"
	DotSuffix    = ".dot"
)

// dateLayout matches the date format of existing files.
const dateLayout = "Mon Jan 02 15:04:05 MST 2006"

var (
	// ErrEmptyFile is returned for a file without a header.
	ErrEmptyFile = errors.New("empty file")
	// ErrMapNotLoaded is returned when a control flow file is read before
	// the map file of the same class.
	ErrMapNotLoaded = errors.New("map information not loaded")
	// ErrMethodNotFound is returned by lookups for methods the handler does
	// not hold.
	ErrMethodNotFound = errors.New("method not found")
)

// FormatError reports a file that does not follow the interchange format.
type FormatError struct {
	File   string
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

// Options configures a Handler.
type Options struct {
	// Legacy writes files without method signatures.
	Legacy bool
	// BranchExtensions writes and expects branch IDs in control flow files.
	BranchExtensions bool
	// Version is recorded in file headers.
	Version string
	Logger  log.Logger
	// Now stamps file headers; defaults to time.Now.
	Now func() time.Time
}

// Handler holds the graphs of the files it reads and writes. Graphs keyed
// by signature live in a GraphCache that may be shared with a builder;
// graphs read from legacy files are kept by method name.
type Handler struct {
	opts   Options
	logger log.Logger

	graphs    *cache.GraphCache
	byName    map[string]*cfg.Graph
	legacy    bool
	className string
}

// New returns a handler over graphs. A nil cache is replaced by an empty
// one.
func New(graphs *cache.GraphCache, opts Options) *Handler {
	if graphs == nil {
		graphs = cache.NewGraphCache(cache.GraphOptions{Logger: opts.Logger})
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		opts:   opts,
		logger: log.OrDefault(opts.Logger),
		graphs: graphs,
		byName: make(map[string]*cfg.Graph),
		legacy: opts.Legacy,
	}
}

// Legacy reports whether the handler works on legacy files.
func (h *Handler) Legacy() bool { return h.legacy }

// ClassName returns the class of the last file read, or "".
func (h *Handler) ClassName() string { return h.className }

// FileName returns the base name of the files of class.
func FileName(class string) string { return class + SourceSuffix }

// Add registers a complete graph. Graphs without a signature switch the
// handler to legacy mode.
func (h *Handler) Add(g *cfg.Graph) error {
	if h.legacy || g.Signature.Name == "" {
		h.legacy = true
		h.byName[g.DisplayName] = g
		return nil
	}
	return h.graphs.Put(g.Signature, g, cache.StatusComplete)
}

// Graph returns the graph of sig. Legacy files carry no signatures.
func (h *Handler) Graph(sig bytecode.MethodSignature) (*cfg.Graph, error) {
	if h.legacy && len(h.byName) > 0 {
		return nil, fmt.Errorf("%w: legacy files do not support signatures", ErrMethodNotFound)
	}
	entry, ok, err := h.graphs.Get(sig)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, sig)
	}
	return entry.Graph(), nil
}

// GraphByName returns the graph whose display name is name.
func (h *Handler) GraphByName(name string) (*cfg.Graph, error) {
	if g, ok := h.byName[name]; ok {
		return g, nil
	}
	graphs, err := h.graphs.Sorted()
	if err != nil {
		return nil, err
	}
	for _, g := range graphs {
		if g.DisplayName == name {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
}

// Methods returns the display names of the held graphs, sorted.
func (h *Handler) Methods() ([]string, error) {
	var names []string
	if h.legacy {
		for name := range h.byName {
			names = append(names, name)
		}
	} else {
		graphs, err := h.graphs.Sorted()
		if err != nil {
			return nil, err
		}
		for _, g := range graphs {
			names = append(names, g.DisplayName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Signatures returns the signatures of class sorted by method name. Legacy
// files yield none.
func (h *Handler) Signatures(class string) ([]bytecode.MethodSignature, error) {
	if h.legacy {
		h.logger.Warn("legacy files do not support signatures")
		return nil, nil
	}
	return h.graphs.KeysForClass(class)
}

// graphsFor returns the graphs to write for class, ordered by method name.
func (h *Handler) graphsFor(class string) ([]*cfg.Graph, error) {
	var graphs []*cfg.Graph
	if len(h.byName) > 0 {
		for _, g := range h.byName {
			graphs = append(graphs, g)
		}
	} else {
		var err error
		graphs, err = h.graphs.ForClass(class)
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(graphs, func(i, j int) bool { return graphs[i].DisplayName < graphs[j].DisplayName })
	return graphs, nil
}

// WriteFiles writes the map and control flow files of class into dir and
// returns their paths.
func (h *Handler) WriteFiles(dir, class string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	base := filepath.Join(dir, FileName(class))
	paths := []string{base + MapSuffix, base + CFSuffix}
	write := []func(f *os.File) error{
		func(f *os.File) error { return h.WriteMap(f, class) },
		func(f *os.File) error { return h.WriteCF(f, class) },
	}
	for i, path := range paths {
		if err := writeFile(path, write[i]); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// ReadFiles reads the map and control flow files of class from dir.
func (h *Handler) ReadFiles(dir, class string) error {
	base := filepath.Join(dir, FileName(class))
	if err := readFile(base+MapSuffix, func(f *os.File) error { return h.ReadMap(f, FileName(class)) }); err != nil {
		return err
	}
	return readFile(base+CFSuffix, func(f *os.File) error { return h.ReadCF(f, FileName(class)) })
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func readFile(path string, read func(f *os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return read(f)
}
