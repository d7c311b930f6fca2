package scanner

import (
	"path/filepath"
	"strings"
)

// Kind classifies the files the engine consumes or produces.
type Kind string

const (
	// KindProgram is a YAML program description.
	KindProgram Kind = "program"
	// KindMap and KindCF are the interchange files written for a class.
	KindMap Kind = "map"
	KindCF  Kind = "cf"
	// KindDot is a Graphviz rendering of one method graph.
	KindDot Kind = "dot"
)

var kindBySuffix = map[string]Kind{
	".yaml":     KindProgram,
	".yml":      KindProgram,
	".java.map": KindMap,
	".java.cf":  KindCF,
	".dot":      KindDot,
}

// KindOf returns the kind of the file at path, or "" for files the engine
// does not handle. Interchange files are recognised by their double suffix.
func KindOf(path string) Kind {
	name := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(name)
	if ext == ".map" || ext == ".cf" {
		ext = filepath.Ext(strings.TrimSuffix(name, ext)) + ext
	}
	return kindBySuffix[ext]
}

// ClassOf returns the class name encoded in the name of a map or cf file,
// e.g. "demo.Sample" for "out/demo.Sample.java.cf".
func ClassOf(path string) (string, bool) {
	name := filepath.Base(path)
	for _, suffix := range []string{".java.map", ".java.cf"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return "", false
}
