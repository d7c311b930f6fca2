package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cache"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

var testSig = bytecode.MethodSignature{Class: "demo.Io", Name: "open", Descriptor: "(Ljava/lang/String;)V"}

// sampleGraph returns a small graph with a call, a subroutine edge pair and
// both kinds of exceptional edge. Every edge carries branch IDs.
func sampleGraph(t *testing.T) *cfg.Graph {
	t.Helper()
	g := cfg.NewGraph(testSig)
	g.SetLogger(log.Discard())
	blocks := []*cfg.Block{
		cfg.NewBlock(1, cfg.BlockEntry, cfg.SubDontCare, cfg.LabelEntry, -1, -1),
		cfg.NewBlock(2, cfg.BlockCall, cfg.SubDontCare, cfg.LabelCall, 0, 4),
		cfg.NewBlock(3, cfg.BlockReturn, cfg.SubDontCare, cfg.LabelReturn, 4, 4),
		cfg.NewBlock(4, cfg.BlockBasic, cfg.SubReturn, cfg.LabelBlock, 5, 9),
		cfg.NewBlock(5, cfg.BlockExit, cfg.SubDontCare, cfg.LabelExit, -1, -1),
		cfg.NewBlock(6, cfg.BlockExit, cfg.SubSummaryThrow, cfg.LabelExit, -1, -1),
		cfg.NewBlock(7, cfg.BlockExit, cfg.SubThrow, cfg.LabelExit, 0, 4),
	}
	for _, b := range blocks {
		g.AddBlock(b)
	}
	edges := []*cfg.Edge{
		cfg.NewEdge(1, 2, 1, ""),
		cfg.NewAuxEdge(2, 3, 2, "<r>", "0", 3),
		cfg.NewEdge(3, 4, 3, ""),
		cfg.NewEdge(4, 5, 4, ""),
		cfg.NewTypedEdge(5, 7, 2, "java.io.IOException"),
		cfg.NewTypedEdge(6, 7, 2, ""),
	}
	for i, e := range edges {
		require.NoError(t, g.AddEdge(e))
		e.AddBranchID(cfg.BranchID{ID: i + 1, Type: cfg.BranchCall})
	}
	g.BranchCount = 6
	g.SummaryBranchID = 6
	g.NextEdgeID = 7
	return g
}

func TestCodecRoundTrip(t *testing.T) {
	g := sampleGraph(t)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g, true))
	got, err := Decode(&buf, testSig)
	require.NoError(t, err)

	assert.True(t, g.Equal(got), "decoded graph differs:\n%s\nwant:\n%s", got, g)
	assert.Equal(t, testSig, got.Signature)
	assert.Equal(t, 7, got.NextEdgeID)

	e, ok := got.Edge(2, 7)
	require.True(t, ok)
	assert.Equal(t, cfg.TypeExact, e.TypeKind)
	assert.Equal(t, "java.io.IOException", e.Exception)
}

func TestCodecWithoutBranchExtensions(t *testing.T) {
	g := sampleGraph(t)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g, false))
	got, err := Decode(&buf, testSig)
	require.NoError(t, err)

	assert.Equal(t, 1, got.BranchCount)
	assert.Equal(t, -1, got.SummaryBranchID)
	for _, e := range got.Edges() {
		assert.Zero(t, e.BranchIDCount())
	}
	assert.Equal(t, g.NodeCount(), got.NodeCount())
	assert.Equal(t, g.EdgeCount(), got.EdgeCount())
}

func TestCodecLayout(t *testing.T) {
	g := cfg.NewGraph(bytecode.MethodSignature{Class: "a.B", Name: "f", Descriptor: "()V"})
	g.DisplayName = "f"
	g.AddBlock(cfg.NewBlock(1, cfg.BlockEntry, cfg.SubDontCare, cfg.LabelEntry, -1, -1))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g, false))

	want := []byte{
		0, 1, 'f', // display name
		0, 0, 0, 1, // node count
		0,          // no branch extensions
		0, 0, 0, 1, // ID
		0, 'E', // label
		0, 0, 0, 45, // type
		0xff, 0xff, 0xff, 0x9c, // subtype -100
		0xff, 0xff, 0xff, 0xff, // start
		0xff, 0xff, 0xff, 0xff, // end
		0, 0, 0, 0, // successors
		0, 0, 0, 0, // predecessors
		0, 0, 0, 0, // edge count
	}
	assert.Equal(t, want, buf.Bytes())
}

func TestCodecModifiedUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []byte
	}{
		{"ascii", "ab", []byte{0, 2, 'a', 'b'}},
		{"nul", "\x00", []byte{0, 2, 0xc0, 0x80}},
		{"two byte", "é", []byte{0, 2, 0xc3, 0xa9}},
		{"supplementary", "\U0001F600", []byte{0, 6, 0xed, 0xa0, 0xbd, 0xed, 0xb8, 0x80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			g := cfg.NewGraph(testSig)
			g.DisplayName = tt.in
			require.NoError(t, Encode(&buf, g, false))
			assert.Equal(t, tt.want, buf.Bytes()[:len(tt.want)])

			got, err := Decode(&buf, testSig)
			require.NoError(t, err)
			assert.Equal(t, tt.in, got.DisplayName)
		})
	}
}

func TestCodecCorrupt(t *testing.T) {
	g := sampleGraph(t)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g, false))
	data := buf.Bytes()

	t.Run("unknown type tag", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		// The last edge is catch-all, so its tag is the final byte.
		require.Equal(t, tagAny, bad[len(bad)-1])
		bad[len(bad)-1] = 7
		_, err := Decode(bytes.NewReader(bad), testSig)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(data[:len(data)-3]), testSig)
		assert.Error(t, err)
	})

	t.Run("huge node count", func(t *testing.T) {
		// A name, a node count of MaxInt32 and no node records.
		bad := []byte{0, 1, 'f', 0x7f, 0xff, 0xff, 0xff, 0}

		var before, after runtime.MemStats
		runtime.GC()
		runtime.ReadMemStats(&before)
		_, err := Decode(bytes.NewReader(bad), testSig)
		runtime.ReadMemStats(&after)

		assert.Error(t, err)
		assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
	})

	t.Run("huge successor count", func(t *testing.T) {
		// Keep the first node record only and claim MaxInt32 successors.
		head := 2 + len(g.DisplayName)
		bad := append([]byte(nil), data[:head+4+1+4+2+4*4]...)
		copy(bad[head:], []byte{0, 0, 0, 1})
		bad = append(bad, 0x7f, 0xff, 0xff, 0xff)
		_, err := Decode(bytes.NewReader(bad), testSig)
		assert.Error(t, err)
	})

	t.Run("bad block type", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		// Header: 2-byte name length, name, node count, flag; then ID and label.
		off := 2 + len(g.DisplayName) + 4 + 1 + 4 + 2
		bad[off+3] = 99
		_, err := Decode(bytes.NewReader(bad), testSig)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestStores(t *testing.T) {
	tests := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{"file", func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir(), FileOptions{BranchExtensions: true, RunID: "run-1"})
			require.NoError(t, err)
			return s
		}},
		{"badger in memory", func(t *testing.T) Store {
			s, err := NewBadgerStore(BadgerConfig{InMemory: true, BranchExtensions: true})
			require.NoError(t, err)
			return s
		}},
		{"badger on disk", func(t *testing.T) Store {
			s, err := NewBadgerStore(BadgerConfig{Path: filepath.Join(t.TempDir(), "db"), BranchExtensions: true})
			require.NoError(t, err)
			return s
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.open(t)
			defer s.Close()
			g := sampleGraph(t)

			_, err := s.Read(testSig)
			var ce *CacheError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, "read", ce.Op)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Write(testSig, g))
			got, err := s.Read(testSig)
			require.NoError(t, err)
			assert.True(t, g.Equal(got))

			entries, err := s.(Lister).List()
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, testSig.String(), entries[0].Signature)
			assert.Positive(t, entries[0].Size)

			require.NoError(t, s.Delete(testSig))
			require.NoError(t, s.Delete(testSig))
			_, err = s.Read(testSig)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestFileStoreIndexPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, FileOptions{RunID: "first"})
	require.NoError(t, err)
	require.NoError(t, s.Write(testSig, sampleGraph(t)))
	require.NoError(t, s.Close())

	s, err = NewFileStore(dir, FileOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, s.RunID())
	assert.NotEqual(t, "first", s.RunID())

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "first", entries[0].RunID)
	assert.False(t, entries[0].Written.IsZero())

	files, err := filepath.Glob(filepath.Join(dir, "*"+graphFileExt))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.NotContains(t, filepath.Base(files[0]), "/")
	leftovers, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileStoreBadIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFileName), []byte{0xc1}, 0644))
	_, err := NewFileStore(dir, FileOptions{})
	var ce *CacheError
	assert.True(t, errors.As(err, &ce))
}

func TestOpen(t *testing.T) {
	s, err := Open(Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(Options{Backend: "redis"})
	assert.Error(t, err)
}

func TestStoreBacksGraphCache(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), FileOptions{BranchExtensions: true})
	require.NoError(t, err)
	defer s.Close()

	c := cache.NewGraphCache(cache.GraphOptions{MaxResident: 1, Spill: s, Logger: log.Discard()})
	g := sampleGraph(t)
	require.NoError(t, c.Put(testSig, g, cache.StatusComplete))

	other := bytecode.MethodSignature{Class: "demo.Io", Name: "close", Descriptor: "()V"}
	require.NoError(t, c.Put(other, cfg.NewGraph(other), 0))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, ok, err := c.Get(testSig)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, g.Equal(got.Graph()))
	assert.NotSame(t, g, got.Graph())
}
