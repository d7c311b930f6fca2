// Package scanner walks a project tree for the files the engine handles:
// YAML program descriptions to build and the map, cf and dot files written
// from them. It honours .jcfgignore files with gitignore-style patterns.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File is a discovered file.
type File struct {
	Path     string // relative to the scan root, slash-separated
	FullPath string
	Kind     Kind
	Size     int64
}

// Options configures a Scanner.
type Options struct {
	// SkipHidden skips files and directories whose name starts with ".".
	// The engine's own .jcfg directory is hidden.
	SkipHidden bool
	// Excludes are directory names never descended into.
	Excludes []string
	// IgnoreFileName is looked up in every directory.
	IgnoreFileName string
	// Kinds restricts results; empty means every known kind.
	Kinds []Kind
}

// DefaultOptions returns options that find program descriptions only.
func DefaultOptions() Options {
	return Options{
		SkipHidden:     true,
		IgnoreFileName: ".jcfgignore",
		Excludes: []string{
			"node_modules",
			"vendor",
			"target",
			"build",
			"out",
			"bin",
		},
		Kinds: []Kind{KindProgram},
	}
}

// Scanner finds engine files under a root directory.
type Scanner struct {
	opts Options
}

// New returns a scanner with opts.
func New(opts Options) *Scanner {
	return &Scanner{opts: opts}
}

type scopedPatterns struct {
	base     string // slash-separated directory relative to the root, "" for the root
	patterns []IgnorePattern
}

// Scan walks root and returns the matching files sorted by path.
func (s *Scanner) Scan(root string) ([]File, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	var scopes []scopedPatterns
	var files []File
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, the root is not.
			if path == absRoot {
				return err
			}
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if rel != "." {
			if s.opts.SkipHidden && strings.HasPrefix(d.Name(), ".") {
				return skip(d)
			}
			if d.IsDir() && s.excluded(d.Name()) {
				return filepath.SkipDir
			}
			if isIgnored(rel, d.IsDir(), scopes) {
				return skip(d)
			}
		}

		if d.IsDir() {
			patterns, err := s.loadIgnoreFile(path)
			if err != nil {
				return err
			}
			if len(patterns) > 0 {
				base := rel
				if base == "." {
					base = ""
				}
				scopes = append(scopes, scopedPatterns{base: base, patterns: patterns})
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		kind := KindOf(path)
		if kind == "" || !s.wanted(kind) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, File{Path: rel, FullPath: path, Kind: kind, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func skip(d fs.DirEntry) error {
	if d.IsDir() {
		return filepath.SkipDir
	}
	return nil
}

func (s *Scanner) excluded(name string) bool {
	for _, ex := range s.opts.Excludes {
		if strings.EqualFold(name, ex) {
			return true
		}
	}
	return false
}

func (s *Scanner) wanted(k Kind) bool {
	if len(s.opts.Kinds) == 0 {
		return true
	}
	for _, want := range s.opts.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

func (s *Scanner) loadIgnoreFile(dir string) ([]IgnorePattern, error) {
	if s.opts.IgnoreFileName == "" {
		return nil, nil
	}
	f, err := os.Open(filepath.Join(dir, s.opts.IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer f.Close()
	return ParseIgnoreFile(f)
}

// isIgnored matches rel against every ignore file above it. Patterns of a
// nested ignore file are relative to its directory and override outer ones.
func isIgnored(rel string, isDir bool, scopes []scopedPatterns) bool {
	out := false
	for _, sc := range scopes {
		sub := rel
		if sc.base != "" {
			if !strings.HasPrefix(rel, sc.base+"/") {
				continue
			}
			sub = strings.TrimPrefix(rel, sc.base+"/")
		}
		for _, p := range sc.patterns {
			if p.Match(sub, isDir) {
				out = !p.Negation()
			}
		}
	}
	return out
}

// Scan scans root with DefaultOptions.
func Scan(root string) ([]File, error) {
	return New(DefaultOptions()).Scan(root)
}
