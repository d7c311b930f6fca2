package scanner

import (
	"bufio"
	"io"
	"path"
	"strings"
)

// IgnorePattern is one line of an ignore file, with gitignore semantics:
// a leading "!" re-includes, a trailing "/" matches directories only, a
// leading "/" or an inner "/" anchors the pattern to the ignore file's
// directory, and "**" spans any number of directories.
type IgnorePattern struct {
	raw      string
	negate   bool
	dirOnly  bool
	anchored bool
	segments []string
}

// ParseIgnorePattern parses a single pattern line.
func ParseIgnorePattern(line string) IgnorePattern {
	p := IgnorePattern{raw: line}
	if strings.HasPrefix(line, "!") {
		p.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		p.anchored = true
		line = line[1:]
	} else if strings.Contains(line, "/") {
		p.anchored = true
	}
	p.segments = strings.Split(line, "/")
	return p
}

// ParseIgnoreFile reads patterns from r, skipping blank lines and comments.
func ParseIgnoreFile(r io.Reader) ([]IgnorePattern, error) {
	var patterns []IgnorePattern
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, ParseIgnorePattern(line))
	}
	return patterns, sc.Err()
}

// Negation reports whether the pattern re-includes what it matches.
func (p IgnorePattern) Negation() bool { return p.negate }

func (p IgnorePattern) String() string { return p.raw }

// Match reports whether the slash-separated relative path matches. A file
// inside a matched directory matches too.
func (p IgnorePattern) Match(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")
	// Every proper prefix of rel is a directory.
	for n := 1; n <= len(parts); n++ {
		if n == len(parts) && p.dirOnly && !isDir {
			break
		}
		if p.matchPrefix(parts[:n]) {
			return true
		}
	}
	return false
}

func (p IgnorePattern) matchPrefix(parts []string) bool {
	if p.anchored {
		return matchSegments(p.segments, parts)
	}
	for start := range parts {
		if matchSegments(p.segments, parts[start:]) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, parts []string) bool {
	if len(pattern) == 0 {
		return len(parts) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(parts); i++ {
			if matchSegments(pattern[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	if ok, err := path.Match(pattern[0], parts[0]); err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], parts[1:])
}
