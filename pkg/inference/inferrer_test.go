package inference_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/builder"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
	"github.com/l3aro/go-cfg-engine/pkg/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const program = `
classes:
  - name: demo.Io
    methods:
      - name: choose
        descriptor: (I)V
        code:
          - "0: iload_0"
          - "1: ifeq 15"
          - "4: new java.lang.IllegalStateException"
          - "7: dup"
          - "8: invokespecial java.lang.IllegalStateException.<init>()V"
          - "11: astore_1"
          - "12: goto 23"
          - "15: new java.lang.IllegalArgumentException"
          - "18: dup"
          - "19: invokespecial java.lang.IllegalArgumentException.<init>()V"
          - "22: astore_1"
          - "23: aload_1"
          - "24: athrow"

      - name: throwNull
        descriptor: ()V
        code:
          - "0: aconst_null"
          - "1: athrow"

      - name: throwField
        descriptor: ()V
        code:
          - "0: getstatic demo.Io.last:Ljava/lang/IllegalStateException;"
          - "3: athrow"

      - name: open
        descriptor: ()V
        exceptions: [java.io.IOException]
        code:
          - "0: new java.io.IOException"
          - "3: dup"
          - "4: invokespecial java.io.IOException.<init>()V"
          - "7: athrow"

      - name: load
        descriptor: ()V
        exceptions: [java.io.IOException]
        code:
          - "0: invokestatic demo.Io.open()V"
          - "3: return"
`

const (
	ise = "java.lang.IllegalStateException"
	iae = "java.lang.IllegalArgumentException"
	ioe = "java.io.IOException"
	npe = "java.lang.NullPointerException"
)

var allLevels = []inference.Level{
	inference.LevelConservative,
	inference.LevelFlowSensitive,
	inference.LevelFlowInsensitive,
	inference.LevelCombined,
}

func newBuilder(t *testing.T, level inference.Level) *builder.Builder {
	t.Helper()
	prog, err := bytecode.DecodeProgram(strings.NewReader(program))
	require.NoError(t, err)
	b, err := builder.New(prog, builder.Options{
		Level:   level,
		Classes: prog.ClassNames(),
		Logger:  log.Discard(),
	})
	require.NoError(t, err)
	return b
}

// exceptional lists the exceptional edges of g as "pred->succ label".
func exceptional(g *cfg.Graph) []string {
	var out []string
	for _, e := range g.Edges() {
		if e.Exceptional() {
			out = append(out, fmt.Sprintf("%d->%d %s", e.Pred, e.Succ, e.Label))
		}
	}
	return out
}

func descriptor(method string) string {
	if method == "choose" {
		return "(I)V"
	}
	return "()V"
}

func TestInferenceLevels(t *testing.T) {
	tests := []struct {
		method    string
		levels    []inference.Level
		want      []string
		imprecise int
	}{
		{
			method:    "choose",
			levels:    []inference.Level{inference.LevelConservative},
			want:      []string{"5->8 <any>"},
			imprecise: 1,
		},
		{
			method: "choose",
			levels: []inference.Level{inference.LevelFlowSensitive, inference.LevelCombined},
			want:   []string{"5->8 " + iae, "5->9 " + ise},
		},
		{
			method:    "throwNull",
			levels:    []inference.Level{inference.LevelConservative},
			want:      []string{"2->5 <any>"},
			imprecise: 1,
		},
		{
			method: "throwNull",
			levels: []inference.Level{inference.LevelFlowSensitive, inference.LevelCombined},
			want:   []string{"2->5 " + npe},
		},
		{
			method:    "throwField",
			levels:    []inference.Level{inference.LevelFlowSensitive},
			want:      []string{"2->5 " + ise},
			imprecise: 1,
		},
		{
			method: "open",
			levels: allLevels,
			want:   []string{"2->5 " + ioe},
		},
		{
			method:    "load",
			levels:    []inference.Level{inference.LevelConservative, inference.LevelFlowSensitive},
			want:      []string{"2->7 " + ioe, "2->8 <any>"},
			imprecise: 1,
		},
		{
			method:    "load",
			levels:    []inference.Level{inference.LevelFlowInsensitive, inference.LevelCombined},
			want:      []string{"2->7 " + ioe, "2->8 <any>"},
			imprecise: -1,
		},
	}
	for _, tt := range tests {
		for _, level := range tt.levels {
			t.Run(tt.method+"/"+level.String(), func(t *testing.T) {
				b := newBuilder(t, level)
				g, err := b.Build(context.Background(), bytecode.MethodSignature{Class: "demo.Io", Name: tt.method, Descriptor: descriptor(tt.method)})
				require.NoError(t, err)
				require.NotNil(t, g)
				assert.Equal(t, tt.want, exceptional(g))
				if tt.imprecise >= 0 {
					assert.Equal(t, tt.imprecise, b.Inferrer().ImpreciseCount())
				}
			})
		}
	}
}

func TestParseLevel(t *testing.T) {
	for _, l := range allLevels {
		got, err := inference.ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := inference.ParseLevel("psychic")
	assert.Error(t, err)

	assert.True(t, inference.LevelCombined.Interprocedural())
	assert.True(t, inference.LevelFlowInsensitive.Interprocedural())
	assert.False(t, inference.LevelFlowSensitive.Interprocedural())
	assert.Equal(t, "Level(9)", inference.Level(9).String())
}

func TestNewInferrer(t *testing.T) {
	h := inference.NewHierarchy(bytecode.NewProgram(), 0)

	in, err := inference.NewInferrer(h, inference.InferrerOptions{})
	require.NoError(t, err)
	assert.Equal(t, inference.DefaultLevel, in.Level())

	_, err = inference.NewInferrer(h, inference.InferrerOptions{Level: 7})
	assert.Error(t, err)

	_, err = inference.NewInferrer(h, inference.InferrerOptions{Level: inference.LevelFlowInsensitive})
	assert.ErrorContains(t, err, "class list")

	_, err = inference.NewInferrer(h, inference.InferrerOptions{Level: inference.LevelCombined, Classes: []string{"demo.Io"}})
	assert.ErrorContains(t, err, "graph source")
}
