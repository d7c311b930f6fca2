package bytecode

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstruction(t *testing.T) {
	tests := []struct {
		line  string
		check func(t *testing.T, ins Instruction)
	}{
		{"0: new java.lang.IllegalStateException", func(t *testing.T, ins Instruction) {
			assert.Equal(t, NEW, ins.Op)
			assert.Equal(t, "java.lang.IllegalStateException", ins.Owner)
		}},
		{"7: ifeq 21", func(t *testing.T, ins Instruction) {
			assert.Equal(t, IFEQ, ins.Op)
			assert.Equal(t, 21, ins.Target)
		}},
		{"3: invokespecial java.lang.Exception.<init>(Ljava/lang/String;)V", func(t *testing.T, ins Instruction) {
			assert.True(t, ins.IsConstructorCall())
			assert.Equal(t, "java.lang.Exception", ins.Owner)
			assert.Equal(t, "(Ljava/lang/String;)V", ins.Descriptor)
			assert.Equal(t, 2, ins.Pops())
			assert.Equal(t, 0, ins.Pushes())
		}},
		{"9: tableswitch 0:20 1:30 default:40", func(t *testing.T, ins Instruction) {
			assert.Equal(t, []int{0, 1}, ins.Matches)
			assert.Equal(t, []int{20, 30}, ins.Targets)
			assert.Equal(t, 40, ins.Target)
		}},
		{"4: getfield demo.A.err:Ljava/lang/Exception;", func(t *testing.T, ins Instruction) {
			typ, ok := ins.FieldType()
			require.True(t, ok)
			assert.Equal(t, "java.lang.Exception", typ)
			assert.Equal(t, 1, ins.Pops())
			assert.Equal(t, 1, ins.Pushes())
		}},
		{"5: astore_2", func(t *testing.T, ins Instruction) {
			assert.Equal(t, 2, ins.Local)
			assert.True(t, ins.Op.IsAStore())
		}},
		{"6: aload 7", func(t *testing.T, ins Instruction) {
			assert.Equal(t, 7, ins.Local)
			assert.True(t, ins.Op.IsALoad())
		}},
		{"8: invokestatic demo.A.f(JI)Ljava/lang/Error;", func(t *testing.T, ins Instruction) {
			assert.Equal(t, 3, ins.Pops())
			assert.Equal(t, 1, ins.Pushes())
			ret, ok := ins.ReturnType()
			require.True(t, ok)
			assert.Equal(t, "java.lang.Error", ret)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ins, err := ParseInstruction(tt.line)
			require.NoError(t, err)
			tt.check(t, ins)
			assert.Equal(t, tt.line, ins.String(), "String must reproduce the source line")
		})
	}
}

func TestParseInstructionErrors(t *testing.T) {
	bad := []string{
		"new java.lang.Object",
		"x: nop",
		"1: frobnicate",
		"1: goto",
		"1: lookupswitch 1:10",
		"1: invokevirtual demo.A.run",
		"1: getfield demo.A.x",
		"1: aload_0 3",
		"1: invokevirtual demo.A.run(Q)V",
	}
	for _, line := range bad {
		t.Run(line, func(t *testing.T) {
			_, err := ParseInstruction(line)
			assert.Error(t, err)
		})
	}
}

func TestDescriptors(t *testing.T) {
	args, ret, err := ParseMethodDescriptor("(I[Ljava/lang/String;J)Ljava/lang/Object;")
	require.NoError(t, err)
	assert.Equal(t, []string{"I", "[Ljava/lang/String;", "J"}, args)
	assert.Equal(t, "Ljava/lang/Object;", ret)

	name, err := TypeName("[[I")
	require.NoError(t, err)
	assert.Equal(t, "int[][]", name)

	cls, ok := ObjectType("Ljava/io/IOException;")
	assert.True(t, ok)
	assert.Equal(t, "java.io.IOException", cls)

	_, ok = ObjectType("[Ljava/io/IOException;")
	assert.False(t, ok)

	assert.Equal(t, "Ljava/io/IOException;", ClassDescriptor("java.io.IOException"))
	assert.Equal(t, 2, slots("D"))
	assert.Equal(t, 0, slots("V"))

	_, _, err = ParseMethodDescriptor("I)V")
	assert.Error(t, err)
}

func TestSignature(t *testing.T) {
	sig, err := ParseSignature("demo.pkg.A.run(ILjava/lang/String;)V")
	require.NoError(t, err)
	assert.Equal(t, MethodSignature{Class: "demo.pkg.A", Name: "run", Descriptor: "(ILjava/lang/String;)V"}, sig)
	assert.Equal(t, "demo.pkg.A.run(ILjava/lang/String;)V", sig.String())
	assert.Equal(t, "void demo.pkg.A.run(int, java.lang.String)", sig.Pretty())

	sigs := []MethodSignature{
		{Class: "A", Name: "b", Descriptor: "()V"},
		{Class: "A", Name: "a", Descriptor: "(II)V"},
		{Class: "A", Name: "a", Descriptor: "(I)V"},
	}
	SortByName(sigs)
	assert.Equal(t, "(I)V", sigs[0].Descriptor)
	assert.Equal(t, "(II)V", sigs[1].Descriptor)
	assert.Equal(t, "b", sigs[2].Name)

	_, err = ParseSignature("noparen")
	assert.Error(t, err)
}

const sampleProgram = `
classes:
  - name: demo.Thrower
    methods:
      - name: run
        descriptor: "(I)V"
        exceptions: [java.io.IOException]
        handlers:
          - {start: 0, end: 7, handler: 8, type: java.lang.RuntimeException}
        locals:
          - {index: 0, start: 0, length: 12, name: this, descriptor: "Ldemo/Thrower;"}
        code:
          - "0: new java.lang.IllegalStateException"
          - "3: dup"
          - "4: invokespecial java.lang.IllegalStateException.<init>()V"
          - "7: athrow"
          - "8: astore_2"
          - "9: return"
      - name: abstractOne
        descriptor: "()V"
        abstract: true
`

func TestDecodeProgram(t *testing.T) {
	prog, err := DecodeProgram(strings.NewReader(sampleProgram))
	require.NoError(t, err)

	assert.Equal(t, []string{"demo.Thrower"}, prog.ClassNames())

	c, err := prog.LoadClass("demo.Thrower")
	require.NoError(t, err)
	assert.Equal(t, ObjectClass, c.Super)

	m, ok := c.Method("run", "(I)V")
	require.True(t, ok)
	assert.Equal(t, "demo.Thrower", m.Class)
	assert.Len(t, m.Instructions, 6)
	assert.True(t, m.HasCode())

	idx, ok := m.IndexOf(7)
	require.True(t, ok)
	assert.Equal(t, ATHROW, m.Instructions[idx].Op)

	lv, ok := m.LocalVariableAt(0, 5)
	require.True(t, ok)
	assert.Equal(t, "this", lv.Name)

	abs, ok := c.Method("abstractOne", "()V")
	require.True(t, ok)
	assert.False(t, abs.HasCode())

	_, err = prog.LoadClass("demo.Missing")
	assert.True(t, errors.Is(err, ErrClassNotFound))

	sys, err := prog.LoadClass(NullPointerClass)
	require.NoError(t, err)
	assert.Equal(t, RuntimeExceptionClass, sys.Super)
}

func TestDecodeProgramRejectsBadTargets(t *testing.T) {
	src := `
classes:
  - name: demo.Bad
    methods:
      - name: f
        descriptor: "()V"
        code:
          - "0: goto 5"
          - "3: return"
`
	_, err := DecodeProgram(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset 5")
}

func TestOpcodeClassification(t *testing.T) {
	assert.True(t, IFNULL.IsIf())
	assert.True(t, GOTO_W.IsGoto())
	assert.True(t, JSR_W.IsBranch())
	assert.True(t, LOOKUPSWITCH.IsSwitch())
	assert.True(t, INVOKEINTERFACE.IsInvoke())
	assert.True(t, ARETURN.IsReturn())
	assert.True(t, ATHROW.EndsFlow())
	assert.False(t, IADD.EndsFlow())

	op, ok := LookupOpcode("dup2_x2")
	assert.True(t, ok)
	assert.Equal(t, DUP2_X2, op)
	assert.Equal(t, "dup2_x2", op.String())
}
