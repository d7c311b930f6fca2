package commands

import (
	"fmt"
	"os"

	"github.com/l3aro/go-cfg-engine/internal/config"
	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/internal/scanner"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/store"
)

// openStore opens the graph store selected by the configuration.
func openStore(cfg *config.Config, logger log.Logger) (store.Store, error) {
	st, err := store.Open(store.Options{
		Backend:          store.Backend(cfg.StoreBackend),
		Dir:              cfg.CacheDir,
		BranchExtensions: cfg.BranchExtensions,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening graph store: %w", err)
	}
	return st, nil
}

// programFiles resolves the build arguments to program files. Directories
// are scanned; files are taken as given.
func programFiles(args []string) (files []string, scanned map[string]bool, err error) {
	if len(args) == 0 {
		args = []string{"."}
	}
	scanned = make(map[string]bool)
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		found, err := scanner.Scan(arg)
		if err != nil {
			return nil, nil, err
		}
		for _, f := range found {
			files = append(files, f.FullPath)
			scanned[f.FullPath] = true
		}
	}
	return files, scanned, nil
}

// loadPrograms loads and merges program files. Scanned YAML files that are
// not program descriptions are skipped with a warning; files named on the
// command line must load.
func loadPrograms(files []string, scanned map[string]bool, logger log.Logger) (*bytecode.Program, error) {
	var progs []*bytecode.Program
	for _, path := range files {
		p, err := bytecode.LoadProgram(path)
		if err != nil {
			if scanned[path] {
				logger.Warn("skipping file", "path", path, "error", err)
				continue
			}
			return nil, err
		}
		logger.Debug("loaded program", "path", path, "classes", len(p.ClassNames()))
		progs = append(progs, p)
	}
	return bytecode.MergePrograms(progs...), nil
}
