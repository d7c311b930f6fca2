package inference

import (
	"testing"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assemble(t *testing.T, lines ...string) []bytecode.Instruction {
	t.Helper()
	code := make([]bytecode.Instruction, len(lines))
	for i, l := range lines {
		ins, err := bytecode.ParseInstruction(l)
		require.NoError(t, err)
		code[i] = ins
	}
	return code
}

// producerOf runs r backwards over code and returns the index of the
// producer, or -1.
func producerOf(t *testing.T, r *StackReverser, code []bytecode.Instruction) (int, error) {
	t.Helper()
	for i := len(code) - 1; i >= 0; i-- {
		ok, err := r.Run(&code[i])
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

func TestStackReverserProducer(t *testing.T) {
	tests := []struct {
		name  string
		depth int
		code  []string
		want  int
	}{
		{
			name: "constructor call",
			code: []string{"0: new java.lang.IllegalStateException", "3: dup", "4: invokespecial java.lang.IllegalStateException.<init>()V"},
			want: 2,
		},
		{
			name: "load",
			code: []string{"0: aload_0"},
			want: 0,
		},
		{
			name: "skips balanced push and pop",
			code: []string{"0: aload_0", "1: iconst_1", "2: pop"},
			want: 0,
		},
		{
			name: "skips consumed operands",
			code: []string{"0: aload_1", "1: iload_2", "2: iload_3", "3: iadd", "4: pop"},
			want: 0,
		},
		{
			name:  "operand below the top",
			depth: 1,
			code:  []string{"0: aload_0", "1: aload_1"},
			want:  0,
		},
		{
			name: "field read",
			code: []string{"0: aload_0", "1: getfield demo.A.err:Ljava/lang/Exception;"},
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewStackReverserAt(tt.depth)
			got, err := producerOf(t, r, assemble(t, tt.code...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStackReverserInvalidFlow(t *testing.T) {
	tests := []struct {
		name string
		code []string
	}{
		{"return", []string{"0: return"}},
		{"athrow", []string{"0: athrow"}},
		{"uninitialized object", []string{"0: new java.lang.Exception"}},
		{"return address", []string{"0: jsr 3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := producerOf(t, NewStackReverser(), assemble(t, tt.code...))
			assert.Error(t, err)
		})
	}
}

func TestStackReverserCopy(t *testing.T) {
	code := assemble(t, "0: aload_0", "1: iconst_1", "2: pop")
	r := NewStackReverser()
	ok, err := r.Run(&code[2])
	require.NoError(t, err)
	require.False(t, ok)
	assert.False(t, r.AtPossibleProducer())

	c := r.Copy()
	ok, err = c.Run(&code[1])
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, c.AtPossibleProducer())
	assert.False(t, r.AtPossibleProducer(), "copy shares no state")
}
