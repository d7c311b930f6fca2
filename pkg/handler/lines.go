package handler

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
)

// lineReader walks the records of an interchange file. Each record is one
// line whose first field is its record type; type 0 lines are comments.
type lineReader struct {
	file string
	sc   *bufio.Scanner
	line int

	// pending holds a record pushed back by unread.
	pending *record
}

type record struct {
	kind   int
	fields []string
	raw    string
	line   int
}

func newLineReader(r io.Reader, file string) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &lineReader{file: file, sc: sc}
}

func (lr *lineReader) errorf(line int, format string, args ...interface{}) error {
	return &FormatError{File: lr.file, Line: line, Reason: fmt.Sprintf(format, args...)}
}

// rawLine returns the next line, blank or not.
func (lr *lineReader) rawLine() (string, bool, error) {
	if !lr.sc.Scan() {
		return "", false, lr.sc.Err()
	}
	lr.line++
	return lr.sc.Text(), true, nil
}

// header checks the four header lines and returns the class named by the
// file name in the second one.
func (lr *lineReader) header(fileName string) (string, error) {
	first, ok, err := lr.rawLine()
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(first) == "" {
		return "", ErrEmptyFile
	}
	second, ok, err := lr.rawLine()
	if err != nil {
		return "", err
	}
	fields := strings.Fields(second)
	if !ok || len(fields) < 3 {
		return "", lr.errorf(lr.line, "file is incomplete")
	}
	if fields[2] != fileName {
		return "", lr.errorf(lr.line, "file name does not match class name in header: %s", fields[2])
	}
	for i := 0; i < 2; i++ {
		if _, ok, err := lr.rawLine(); err != nil {
			return "", err
		} else if !ok {
			return "", ErrEmptyFile
		}
	}
	class := fileName
	if dot := strings.LastIndexByte(fileName, '.'); dot > 0 {
		class = fileName[:dot]
	}
	return class, nil
}

// next returns the next data record, skipping comments and blank lines.
// ok is false at end of file.
func (lr *lineReader) next() (rec record, ok bool, err error) {
	if lr.pending != nil {
		rec, lr.pending = *lr.pending, nil
		return rec, true, nil
	}
	for {
		raw, ok, err := lr.rawLine()
		if err != nil || !ok {
			return record{}, false, err
		}
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}
		kind, err := strconv.Atoi(fields[0])
		if err != nil {
			return record{}, false, lr.errorf(lr.line, "record type %q is not a number", fields[0])
		}
		if kind == 0 {
			continue
		}
		return record{kind: kind, fields: fields[1:], raw: raw, line: lr.line}, true, nil
	}
}

func (lr *lineReader) unread(rec record) {
	lr.pending = &rec
}

// methodHeader parses `1 "<name>" <nodes> <highest> [<ints>...]` and
// returns the name and the numbers after it.
func (lr *lineReader) methodHeader(rec record) (string, []int, error) {
	if rec.kind != 1 {
		return "", nil, lr.errorf(rec.line, "method header not found where expected")
	}
	open := strings.IndexByte(rec.raw, '"')
	end := strings.LastIndexByte(rec.raw, '"')
	if open < 0 || end <= open {
		return "", nil, lr.errorf(rec.line, "method name is not quoted")
	}
	name := rec.raw[open+1 : end]
	var nums []int
	for _, f := range strings.Fields(rec.raw[end+1:]) {
		n, err := strconv.Atoi(f)
		if err != nil {
			return "", nil, lr.errorf(rec.line, "method header field %q is not a number", f)
		}
		nums = append(nums, n)
	}
	if len(nums) < 2 {
		return "", nil, lr.errorf(rec.line, "method header is incomplete")
	}
	return name, nums, nil
}

// ints converts record fields to integers.
func (lr *lineReader) ints(rec record, fields []string) ([]int, error) {
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, lr.errorf(rec.line, "field %q is not a number", f)
		}
		out[i] = n
	}
	return out, nil
}

// formatSignature renders the `class#method#descriptor` form of a
// signature record.
func formatSignature(sig bytecode.MethodSignature) string {
	return sig.Class + "#" + sig.Name + "#" + sig.Descriptor
}

// parseSignature reads a signature record's payload. ok is false for
// payloads in any other form, such as the "0" of legacy files.
func parseSignature(s string) (bytecode.MethodSignature, bool) {
	parts := strings.Split(s, "#")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return bytecode.MethodSignature{}, false
	}
	if _, _, err := bytecode.ParseMethodDescriptor(parts[2]); err != nil {
		return bytecode.MethodSignature{}, false
	}
	return bytecode.MethodSignature{Class: parts[0], Name: parts[1], Descriptor: parts[2]}, true
}
