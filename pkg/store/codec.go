package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// Exception type tags of the binary layout.
const (
	tagAny       byte = 0
	tagSignature byte = 1
	tagUnknown   byte = 2
)

// maxUTFLen is the largest string the 2-byte length prefix can describe.
const maxUTFLen = 65535

var errUTFTooLong = errors.New("encoded string exceeds 65535 bytes")

// encoder writes the big-endian primitives of the binary graph layout.
type encoder struct {
	w   *bufio.Writer
	err error
	buf [4]byte
}

func (e *encoder) writeInt(v int) {
	if e.err != nil {
		return
	}
	binary.BigEndian.PutUint32(e.buf[:4], uint32(int32(v)))
	_, e.err = e.w.Write(e.buf[:4])
}

func (e *encoder) writeChar(v uint16) {
	if e.err != nil {
		return
	}
	binary.BigEndian.PutUint16(e.buf[:2], v)
	_, e.err = e.w.Write(e.buf[:2])
}

func (e *encoder) writeByte(v byte) {
	if e.err != nil {
		return
	}
	e.err = e.w.WriteByte(v)
}

func (e *encoder) writeBool(v bool) {
	if v {
		e.writeByte(1)
	} else {
		e.writeByte(0)
	}
}

// writeUTF writes s in Java's modified UTF-8: a 2-byte length, NUL as two bytes
// and supplementary characters as surrogate pairs.
func (e *encoder) writeUTF(s string) {
	if e.err != nil {
		return
	}
	var out []byte
	for _, u := range utf16.Encode([]rune(s)) {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, 0xc0|byte(u>>6), 0x80|byte(u&0x3f))
		default:
			out = append(out, 0xe0|byte(u>>12), 0x80|byte((u>>6)&0x3f), 0x80|byte(u&0x3f))
		}
	}
	if len(out) > maxUTFLen {
		e.err = errUTFTooLong
		return
	}
	e.writeChar(uint16(len(out)))
	if e.err == nil {
		_, e.err = e.w.Write(out)
	}
}

func (e *encoder) writeInts(ids []int) {
	e.writeInt(len(ids))
	for _, id := range ids {
		e.writeInt(id)
	}
}

// Encode writes g in the binary graph layout. Branch IDs, the branch count
// and the summary branch are written only when branchExt is set.
func Encode(w io.Writer, g *cfg.Graph, branchExt bool) error {
	e := &encoder{w: bufio.NewWriter(w)}

	e.writeUTF(g.DisplayName)
	blocks := g.Blocks()
	e.writeInt(len(blocks))
	e.writeBool(branchExt)
	if branchExt {
		e.writeInt(g.BranchCount)
		e.writeInt(g.SummaryBranchID)
	}

	for _, b := range blocks {
		e.writeInt(b.ID)
		e.writeChar(uint16(b.Label))
		e.writeInt(int(b.Type))
		e.writeInt(int(b.SubType))
		e.writeInt(b.StartOffset)
		e.writeInt(b.EndOffset)
	}
	for _, b := range blocks {
		e.writeInts(b.Successors)
		e.writeInts(b.Predecessors)
	}

	edges := g.Edges()
	e.writeInt(len(edges))
	for _, x := range edges {
		e.writeInt(x.ID)
		e.writeInt(x.Pred)
		e.writeInt(x.Succ)
		e.writeInt(x.SpecialNodeID)
		if branchExt {
			ids := x.BranchIDs().Slice()
			e.writeInt(len(ids))
			for _, id := range ids {
				e.writeInt(id.ID)
				e.writeInt(int(id.Type))
			}
		}

		e.writeBool(x.Label != "")
		if x.Label != "" {
			e.writeUTF(x.Label)
		}
		e.writeBool(x.HasAux)
		if x.HasAux {
			e.writeUTF(x.AuxLabel)
		}

		switch x.TypeKind {
		case cfg.TypeAny:
			e.writeByte(tagAny)
		case cfg.TypeExact:
			e.writeByte(tagSignature)
			e.writeUTF(bytecode.ClassDescriptor(x.Exception))
		default:
			e.writeByte(tagUnknown)
		}
	}

	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

// decoder reads what encoder writes. The first error sticks.
type decoder struct {
	r   *bufio.Reader
	err error
	buf [4]byte
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return d.buf[:n]
	}
	_, d.err = io.ReadFull(d.r, d.buf[:n])
	return d.buf[:n]
}

func (d *decoder) readInt() int {
	return int(int32(binary.BigEndian.Uint32(d.read(4))))
}

func (d *decoder) readChar() uint16 {
	return binary.BigEndian.Uint16(d.read(2))
}

func (d *decoder) readByte() byte {
	return d.read(1)[0]
}

func (d *decoder) readBool() bool {
	return d.readByte() != 0
}

func (d *decoder) readUTF() string {
	n := int(d.readChar())
	if d.err != nil {
		return ""
	}
	raw := make([]byte, n)
	if _, d.err = io.ReadFull(d.r, raw); d.err != nil {
		return ""
	}
	units := make([]uint16, 0, n)
	for i := 0; i < n; {
		c := raw[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0 && i+1 < n:
			units = append(units, uint16(c&0x1f)<<6|uint16(raw[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0 && i+2 < n:
			units = append(units, uint16(c&0x0f)<<12|uint16(raw[i+1]&0x3f)<<6|uint16(raw[i+2]&0x3f))
			i += 3
		default:
			d.err = fmt.Errorf("malformed modified UTF-8 at byte %d", i)
			return ""
		}
	}
	return string(utf16.Decode(units))
}

// maxPreallocBlocks caps the block slice reserved from a stored node count.
const maxPreallocBlocks = 1 << 12

// readCount reads a list length and rejects negative values.
func (d *decoder) readCount(what string) int {
	n := d.readInt()
	if d.err == nil && n < 0 {
		d.err = fmt.Errorf("negative %s count %d", what, n)
		return 0
	}
	return n
}

func (d *decoder) readInts(what string) []int {
	n := d.readCount(what)
	var out []int
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, d.readInt())
	}
	return out
}

// Decode reads a graph written by Encode. Nodes are read in two passes: the
// node records first, then every node's successor and predecessor lists. An
// unknown exception type tag or an out-of-range code is reported as a
// corrupt layout.
func Decode(r io.Reader, sig bytecode.MethodSignature) (*cfg.Graph, error) {
	d := &decoder{r: bufio.NewReader(r)}
	g := cfg.NewGraph(sig)

	g.DisplayName = d.readUTF()
	nodes := d.readCount("node")
	branchExt := d.readBool()
	if branchExt {
		g.BranchCount = d.readInt()
		g.SummaryBranchID = d.readInt()
	}
	if d.err != nil {
		return nil, d.err
	}

	// The count is untrusted until the records behind it have been read.
	blocks := make([]*cfg.Block, 0, min(nodes, maxPreallocBlocks))
	for i := 0; i < nodes; i++ {
		id := d.readInt()
		label := d.readChar()
		typ := d.readInt()
		sub := d.readInt()
		start := d.readInt()
		end := d.readInt()
		if d.err != nil {
			return nil, d.err
		}

		t, err := cfg.BlockTypeFromCode(typ)
		if err != nil {
			return nil, corrupt(err)
		}
		s, err := cfg.BlockSubTypeFromCode(sub)
		if err != nil {
			return nil, corrupt(err)
		}
		if label > 0xff {
			return nil, corrupt(fmt.Errorf("block label %#x out of range", label))
		}
		l, err := cfg.BlockLabelFromChar(byte(label))
		if err != nil {
			return nil, corrupt(err)
		}
		b := cfg.NewBlock(id, t, s, l, start, end)
		blocks = append(blocks, b)
		g.AddBlock(b)
	}
	for _, b := range blocks {
		b.Successors = d.readInts("successor")
		b.Predecessors = d.readInts("predecessor")
	}

	edges := d.readCount("edge")
	for i := 0; i < edges && d.err == nil; i++ {
		e := &cfg.Edge{}
		e.ID = d.readInt()
		e.Pred = d.readInt()
		e.Succ = d.readInt()
		e.SpecialNodeID = d.readInt()
		if branchExt {
			n := d.readCount("branch ID")
			ids := cfg.NewIDSet()
			for j := 0; j < n && d.err == nil; j++ {
				id := d.readInt()
				code := d.readInt()
				bt, err := cfg.BranchTypeFromCode(code)
				if err != nil && d.err == nil {
					return nil, corrupt(err)
				}
				ids.Add(cfg.BranchID{ID: id, Type: bt})
			}
			e.SetBranchIDs(ids)
		}

		if d.readBool() {
			e.Label = d.readUTF()
		}
		if d.readBool() {
			e.SetAuxLabel(d.readUTF())
		}

		switch tag := d.readByte(); tag {
		case tagAny:
			e.TypeKind = cfg.TypeAny
		case tagSignature:
			desc := d.readUTF()
			class, ok := bytecode.ObjectType(desc)
			if !ok && d.err == nil {
				return nil, corrupt(fmt.Errorf("exception type %q is not a class descriptor", desc))
			}
			e.TypeKind = cfg.TypeExact
			e.Exception = class
		case tagUnknown:
			e.TypeKind = cfg.TypeUnknown
		default:
			if d.err == nil {
				return nil, corrupt(fmt.Errorf("unknown exception type tag %d", tag))
			}
		}
		g.RestoreEdge(e)
		if e.ID >= g.NextEdgeID {
			g.NextEdgeID = e.ID + 1
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return g, nil
}

// ErrCorrupt marks stored data that does not follow the binary layout.
var ErrCorrupt = errors.New("corrupt graph layout")

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}
