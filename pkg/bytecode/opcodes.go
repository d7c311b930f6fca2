package bytecode

import "fmt"

// Opcode is a JVM instruction opcode.
type Opcode uint8

// JVM opcodes.
const (
	NOP             Opcode = 0
	ACONST_NULL     Opcode = 1
	ICONST_M1       Opcode = 2
	ICONST_0        Opcode = 3
	ICONST_1        Opcode = 4
	ICONST_2        Opcode = 5
	ICONST_3        Opcode = 6
	ICONST_4        Opcode = 7
	ICONST_5        Opcode = 8
	LCONST_0        Opcode = 9
	LCONST_1        Opcode = 10
	FCONST_0        Opcode = 11
	FCONST_1        Opcode = 12
	FCONST_2        Opcode = 13
	DCONST_0        Opcode = 14
	DCONST_1        Opcode = 15
	BIPUSH          Opcode = 16
	SIPUSH          Opcode = 17
	LDC             Opcode = 18
	LDC_W           Opcode = 19
	LDC2_W          Opcode = 20
	ILOAD           Opcode = 21
	LLOAD           Opcode = 22
	FLOAD           Opcode = 23
	DLOAD           Opcode = 24
	ALOAD           Opcode = 25
	ILOAD_0         Opcode = 26
	ILOAD_1         Opcode = 27
	ILOAD_2         Opcode = 28
	ILOAD_3         Opcode = 29
	LLOAD_0         Opcode = 30
	LLOAD_1         Opcode = 31
	LLOAD_2         Opcode = 32
	LLOAD_3         Opcode = 33
	FLOAD_0         Opcode = 34
	FLOAD_1         Opcode = 35
	FLOAD_2         Opcode = 36
	FLOAD_3         Opcode = 37
	DLOAD_0         Opcode = 38
	DLOAD_1         Opcode = 39
	DLOAD_2         Opcode = 40
	DLOAD_3         Opcode = 41
	ALOAD_0         Opcode = 42
	ALOAD_1         Opcode = 43
	ALOAD_2         Opcode = 44
	ALOAD_3         Opcode = 45
	IALOAD          Opcode = 46
	LALOAD          Opcode = 47
	FALOAD          Opcode = 48
	DALOAD          Opcode = 49
	AALOAD          Opcode = 50
	BALOAD          Opcode = 51
	CALOAD          Opcode = 52
	SALOAD          Opcode = 53
	ISTORE          Opcode = 54
	LSTORE          Opcode = 55
	FSTORE          Opcode = 56
	DSTORE          Opcode = 57
	ASTORE          Opcode = 58
	ISTORE_0        Opcode = 59
	ISTORE_1        Opcode = 60
	ISTORE_2        Opcode = 61
	ISTORE_3        Opcode = 62
	LSTORE_0        Opcode = 63
	LSTORE_1        Opcode = 64
	LSTORE_2        Opcode = 65
	LSTORE_3        Opcode = 66
	FSTORE_0        Opcode = 67
	FSTORE_1        Opcode = 68
	FSTORE_2        Opcode = 69
	FSTORE_3        Opcode = 70
	DSTORE_0        Opcode = 71
	DSTORE_1        Opcode = 72
	DSTORE_2        Opcode = 73
	DSTORE_3        Opcode = 74
	ASTORE_0        Opcode = 75
	ASTORE_1        Opcode = 76
	ASTORE_2        Opcode = 77
	ASTORE_3        Opcode = 78
	IASTORE         Opcode = 79
	LASTORE         Opcode = 80
	FASTORE         Opcode = 81
	DASTORE         Opcode = 82
	AASTORE         Opcode = 83
	BASTORE         Opcode = 84
	CASTORE         Opcode = 85
	SASTORE         Opcode = 86
	POP             Opcode = 87
	POP2            Opcode = 88
	DUP             Opcode = 89
	DUP_X1          Opcode = 90
	DUP_X2          Opcode = 91
	DUP2            Opcode = 92
	DUP2_X1         Opcode = 93
	DUP2_X2         Opcode = 94
	SWAP            Opcode = 95
	IADD            Opcode = 96
	LADD            Opcode = 97
	FADD            Opcode = 98
	DADD            Opcode = 99
	ISUB            Opcode = 100
	LSUB            Opcode = 101
	FSUB            Opcode = 102
	DSUB            Opcode = 103
	IMUL            Opcode = 104
	LMUL            Opcode = 105
	FMUL            Opcode = 106
	DMUL            Opcode = 107
	IDIV            Opcode = 108
	LDIV            Opcode = 109
	FDIV            Opcode = 110
	DDIV            Opcode = 111
	IREM            Opcode = 112
	LREM            Opcode = 113
	FREM            Opcode = 114
	DREM            Opcode = 115
	INEG            Opcode = 116
	LNEG            Opcode = 117
	FNEG            Opcode = 118
	DNEG            Opcode = 119
	ISHL            Opcode = 120
	LSHL            Opcode = 121
	ISHR            Opcode = 122
	LSHR            Opcode = 123
	IUSHR           Opcode = 124
	LUSHR           Opcode = 125
	IAND            Opcode = 126
	LAND            Opcode = 127
	IOR             Opcode = 128
	LOR             Opcode = 129
	IXOR            Opcode = 130
	LXOR            Opcode = 131
	IINC            Opcode = 132
	I2L             Opcode = 133
	I2F             Opcode = 134
	I2D             Opcode = 135
	L2I             Opcode = 136
	L2F             Opcode = 137
	L2D             Opcode = 138
	F2I             Opcode = 139
	F2L             Opcode = 140
	F2D             Opcode = 141
	D2I             Opcode = 142
	D2L             Opcode = 143
	D2F             Opcode = 144
	I2B             Opcode = 145
	I2C             Opcode = 146
	I2S             Opcode = 147
	LCMP            Opcode = 148
	FCMPL           Opcode = 149
	FCMPG           Opcode = 150
	DCMPL           Opcode = 151
	DCMPG           Opcode = 152
	IFEQ            Opcode = 153
	IFNE            Opcode = 154
	IFLT            Opcode = 155
	IFGE            Opcode = 156
	IFGT            Opcode = 157
	IFLE            Opcode = 158
	IF_ICMPEQ       Opcode = 159
	IF_ICMPNE       Opcode = 160
	IF_ICMPLT       Opcode = 161
	IF_ICMPGE       Opcode = 162
	IF_ICMPGT       Opcode = 163
	IF_ICMPLE       Opcode = 164
	IF_ACMPEQ       Opcode = 165
	IF_ACMPNE       Opcode = 166
	GOTO            Opcode = 167
	JSR             Opcode = 168
	RET             Opcode = 169
	TABLESWITCH     Opcode = 170
	LOOKUPSWITCH    Opcode = 171
	IRETURN         Opcode = 172
	LRETURN         Opcode = 173
	FRETURN         Opcode = 174
	DRETURN         Opcode = 175
	ARETURN         Opcode = 176
	RETURN          Opcode = 177
	GETSTATIC       Opcode = 178
	PUTSTATIC       Opcode = 179
	GETFIELD        Opcode = 180
	PUTFIELD        Opcode = 181
	INVOKEVIRTUAL   Opcode = 182
	INVOKESPECIAL   Opcode = 183
	INVOKESTATIC    Opcode = 184
	INVOKEINTERFACE Opcode = 185
	INVOKEDYNAMIC   Opcode = 186
	NEW             Opcode = 187
	NEWARRAY        Opcode = 188
	ANEWARRAY       Opcode = 189
	ARRAYLENGTH     Opcode = 190
	ATHROW          Opcode = 191
	CHECKCAST       Opcode = 192
	INSTANCEOF      Opcode = 193
	MONITORENTER    Opcode = 194
	MONITOREXIT     Opcode = 195
	WIDE            Opcode = 196
	MULTIANEWARRAY  Opcode = 197
	IFNULL          Opcode = 198
	IFNONNULL       Opcode = 199
	GOTO_W          Opcode = 200
	JSR_W           Opcode = 201
)

// opInfo holds the mnemonic and the stack effect in words of each opcode.
// A negative count means the effect depends on the operand.
var opInfo = [...]struct {
	name string
	pop  int8
	push int8
}{
	NOP:             {"nop", 0, 0},
	ACONST_NULL:     {"aconst_null", 0, 1},
	ICONST_M1:       {"iconst_m1", 0, 1},
	ICONST_0:        {"iconst_0", 0, 1},
	ICONST_1:        {"iconst_1", 0, 1},
	ICONST_2:        {"iconst_2", 0, 1},
	ICONST_3:        {"iconst_3", 0, 1},
	ICONST_4:        {"iconst_4", 0, 1},
	ICONST_5:        {"iconst_5", 0, 1},
	LCONST_0:        {"lconst_0", 0, 2},
	LCONST_1:        {"lconst_1", 0, 2},
	FCONST_0:        {"fconst_0", 0, 1},
	FCONST_1:        {"fconst_1", 0, 1},
	FCONST_2:        {"fconst_2", 0, 1},
	DCONST_0:        {"dconst_0", 0, 2},
	DCONST_1:        {"dconst_1", 0, 2},
	BIPUSH:          {"bipush", 0, 1},
	SIPUSH:          {"sipush", 0, 1},
	LDC:             {"ldc", 0, 1},
	LDC_W:           {"ldc_w", 0, 1},
	LDC2_W:          {"ldc2_w", 0, 2},
	ILOAD:           {"iload", 0, 1},
	LLOAD:           {"lload", 0, 2},
	FLOAD:           {"fload", 0, 1},
	DLOAD:           {"dload", 0, 2},
	ALOAD:           {"aload", 0, 1},
	ILOAD_0:         {"iload_0", 0, 1},
	ILOAD_1:         {"iload_1", 0, 1},
	ILOAD_2:         {"iload_2", 0, 1},
	ILOAD_3:         {"iload_3", 0, 1},
	LLOAD_0:         {"lload_0", 0, 2},
	LLOAD_1:         {"lload_1", 0, 2},
	LLOAD_2:         {"lload_2", 0, 2},
	LLOAD_3:         {"lload_3", 0, 2},
	FLOAD_0:         {"fload_0", 0, 1},
	FLOAD_1:         {"fload_1", 0, 1},
	FLOAD_2:         {"fload_2", 0, 1},
	FLOAD_3:         {"fload_3", 0, 1},
	DLOAD_0:         {"dload_0", 0, 2},
	DLOAD_1:         {"dload_1", 0, 2},
	DLOAD_2:         {"dload_2", 0, 2},
	DLOAD_3:         {"dload_3", 0, 2},
	ALOAD_0:         {"aload_0", 0, 1},
	ALOAD_1:         {"aload_1", 0, 1},
	ALOAD_2:         {"aload_2", 0, 1},
	ALOAD_3:         {"aload_3", 0, 1},
	IALOAD:          {"iaload", 2, 1},
	LALOAD:          {"laload", 2, 2},
	FALOAD:          {"faload", 2, 1},
	DALOAD:          {"daload", 2, 2},
	AALOAD:          {"aaload", 2, 1},
	BALOAD:          {"baload", 2, 1},
	CALOAD:          {"caload", 2, 1},
	SALOAD:          {"saload", 2, 1},
	ISTORE:          {"istore", 1, 0},
	LSTORE:          {"lstore", 2, 0},
	FSTORE:          {"fstore", 1, 0},
	DSTORE:          {"dstore", 2, 0},
	ASTORE:          {"astore", 1, 0},
	ISTORE_0:        {"istore_0", 1, 0},
	ISTORE_1:        {"istore_1", 1, 0},
	ISTORE_2:        {"istore_2", 1, 0},
	ISTORE_3:        {"istore_3", 1, 0},
	LSTORE_0:        {"lstore_0", 2, 0},
	LSTORE_1:        {"lstore_1", 2, 0},
	LSTORE_2:        {"lstore_2", 2, 0},
	LSTORE_3:        {"lstore_3", 2, 0},
	FSTORE_0:        {"fstore_0", 1, 0},
	FSTORE_1:        {"fstore_1", 1, 0},
	FSTORE_2:        {"fstore_2", 1, 0},
	FSTORE_3:        {"fstore_3", 1, 0},
	DSTORE_0:        {"dstore_0", 2, 0},
	DSTORE_1:        {"dstore_1", 2, 0},
	DSTORE_2:        {"dstore_2", 2, 0},
	DSTORE_3:        {"dstore_3", 2, 0},
	ASTORE_0:        {"astore_0", 1, 0},
	ASTORE_1:        {"astore_1", 1, 0},
	ASTORE_2:        {"astore_2", 1, 0},
	ASTORE_3:        {"astore_3", 1, 0},
	IASTORE:         {"iastore", 3, 0},
	LASTORE:         {"lastore", 4, 0},
	FASTORE:         {"fastore", 3, 0},
	DASTORE:         {"dastore", 4, 0},
	AASTORE:         {"aastore", 3, 0},
	BASTORE:         {"bastore", 3, 0},
	CASTORE:         {"castore", 3, 0},
	SASTORE:         {"sastore", 3, 0},
	POP:             {"pop", 1, 0},
	POP2:            {"pop2", 2, 0},
	DUP:             {"dup", 1, 2},
	DUP_X1:          {"dup_x1", 2, 3},
	DUP_X2:          {"dup_x2", 3, 4},
	DUP2:            {"dup2", 2, 4},
	DUP2_X1:         {"dup2_x1", 3, 5},
	DUP2_X2:         {"dup2_x2", 4, 6},
	SWAP:            {"swap", 2, 2},
	IADD:            {"iadd", 2, 1},
	LADD:            {"ladd", 4, 2},
	FADD:            {"fadd", 2, 1},
	DADD:            {"dadd", 4, 2},
	ISUB:            {"isub", 2, 1},
	LSUB:            {"lsub", 4, 2},
	FSUB:            {"fsub", 2, 1},
	DSUB:            {"dsub", 4, 2},
	IMUL:            {"imul", 2, 1},
	LMUL:            {"lmul", 4, 2},
	FMUL:            {"fmul", 2, 1},
	DMUL:            {"dmul", 4, 2},
	IDIV:            {"idiv", 2, 1},
	LDIV:            {"ldiv", 4, 2},
	FDIV:            {"fdiv", 2, 1},
	DDIV:            {"ddiv", 4, 2},
	IREM:            {"irem", 2, 1},
	LREM:            {"lrem", 4, 2},
	FREM:            {"frem", 2, 1},
	DREM:            {"drem", 4, 2},
	INEG:            {"ineg", 1, 1},
	LNEG:            {"lneg", 2, 2},
	FNEG:            {"fneg", 1, 1},
	DNEG:            {"dneg", 2, 2},
	ISHL:            {"ishl", 2, 1},
	LSHL:            {"lshl", 3, 2},
	ISHR:            {"ishr", 2, 1},
	LSHR:            {"lshr", 3, 2},
	IUSHR:           {"iushr", 2, 1},
	LUSHR:           {"lushr", 3, 2},
	IAND:            {"iand", 2, 1},
	LAND:            {"land", 4, 2},
	IOR:             {"ior", 2, 1},
	LOR:             {"lor", 4, 2},
	IXOR:            {"ixor", 2, 1},
	LXOR:            {"lxor", 4, 2},
	IINC:            {"iinc", 0, 0},
	I2L:             {"i2l", 1, 2},
	I2F:             {"i2f", 1, 1},
	I2D:             {"i2d", 1, 2},
	L2I:             {"l2i", 2, 1},
	L2F:             {"l2f", 2, 1},
	L2D:             {"l2d", 2, 2},
	F2I:             {"f2i", 1, 1},
	F2L:             {"f2l", 1, 2},
	F2D:             {"f2d", 1, 2},
	D2I:             {"d2i", 2, 1},
	D2L:             {"d2l", 2, 2},
	D2F:             {"d2f", 2, 1},
	I2B:             {"i2b", 1, 1},
	I2C:             {"i2c", 1, 1},
	I2S:             {"i2s", 1, 1},
	LCMP:            {"lcmp", 4, 1},
	FCMPL:           {"fcmpl", 2, 1},
	FCMPG:           {"fcmpg", 2, 1},
	DCMPL:           {"dcmpl", 4, 1},
	DCMPG:           {"dcmpg", 4, 1},
	IFEQ:            {"ifeq", 1, 0},
	IFNE:            {"ifne", 1, 0},
	IFLT:            {"iflt", 1, 0},
	IFGE:            {"ifge", 1, 0},
	IFGT:            {"ifgt", 1, 0},
	IFLE:            {"ifle", 1, 0},
	IF_ICMPEQ:       {"if_icmpeq", 2, 0},
	IF_ICMPNE:       {"if_icmpne", 2, 0},
	IF_ICMPLT:       {"if_icmplt", 2, 0},
	IF_ICMPGE:       {"if_icmpge", 2, 0},
	IF_ICMPGT:       {"if_icmpgt", 2, 0},
	IF_ICMPLE:       {"if_icmple", 2, 0},
	IF_ACMPEQ:       {"if_acmpeq", 2, 0},
	IF_ACMPNE:       {"if_acmpne", 2, 0},
	GOTO:            {"goto", 0, 0},
	JSR:             {"jsr", 0, 1},
	RET:             {"ret", 0, 0},
	TABLESWITCH:     {"tableswitch", 1, 0},
	LOOKUPSWITCH:    {"lookupswitch", 1, 0},
	IRETURN:         {"ireturn", 1, 0},
	LRETURN:         {"lreturn", 2, 0},
	FRETURN:         {"freturn", 1, 0},
	DRETURN:         {"dreturn", 2, 0},
	ARETURN:         {"areturn", 1, 0},
	RETURN:          {"return", 0, 0},
	GETSTATIC:       {"getstatic", -1, -1},
	PUTSTATIC:       {"putstatic", -1, -1},
	GETFIELD:        {"getfield", -1, -1},
	PUTFIELD:        {"putfield", -1, -1},
	INVOKEVIRTUAL:   {"invokevirtual", -1, -1},
	INVOKESPECIAL:   {"invokespecial", -1, -1},
	INVOKESTATIC:    {"invokestatic", -1, -1},
	INVOKEINTERFACE: {"invokeinterface", -1, -1},
	INVOKEDYNAMIC:   {"invokedynamic", -1, -1},
	NEW:             {"new", 0, 1},
	NEWARRAY:        {"newarray", 1, 1},
	ANEWARRAY:       {"anewarray", 1, 1},
	ARRAYLENGTH:     {"arraylength", 1, 1},
	ATHROW:          {"athrow", 1, 0},
	CHECKCAST:       {"checkcast", 1, 1},
	INSTANCEOF:      {"instanceof", 1, 1},
	MONITORENTER:    {"monitorenter", 1, 0},
	MONITOREXIT:     {"monitorexit", 1, 0},
	WIDE:            {"wide", 0, 0},
	MULTIANEWARRAY:  {"multianewarray", -1, 1},
	IFNULL:          {"ifnull", 1, 0},
	IFNONNULL:       {"ifnonnull", 1, 0},
	GOTO_W:          {"goto_w", 0, 0},
	JSR_W:           {"jsr_w", 0, 1},
}

var byName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opInfo))
	for i, info := range opInfo {
		m[info.name] = Opcode(i)
	}
	return m
}()

// LookupOpcode returns the opcode for a mnemonic.
func LookupOpcode(mnemonic string) (Opcode, bool) {
	op, ok := byName[mnemonic]
	return op, ok
}

func (o Opcode) valid() bool {
	return int(o) < len(opInfo)
}

// String returns the mnemonic.
func (o Opcode) String() string {
	if !o.valid() {
		return fmt.Sprintf("opcode(%d)", uint8(o))
	}
	return opInfo[o].name
}

// IsIf reports whether o is a two-way conditional branch.
func (o Opcode) IsIf() bool {
	return (o >= IFEQ && o <= IF_ACMPNE) || o == IFNULL || o == IFNONNULL
}

// IsGoto reports whether o is an unconditional jump.
func (o Opcode) IsGoto() bool {
	return o == GOTO || o == GOTO_W
}

// IsJSR reports whether o is a subroutine call.
func (o Opcode) IsJSR() bool {
	return o == JSR || o == JSR_W
}

// IsBranch reports whether o transfers control to a single explicit target.
func (o Opcode) IsBranch() bool {
	return o.IsIf() || o.IsGoto() || o.IsJSR()
}

// IsSwitch reports whether o is a multi-way branch.
func (o Opcode) IsSwitch() bool {
	return o == TABLESWITCH || o == LOOKUPSWITCH
}

// IsInvoke reports whether o is a method call.
func (o Opcode) IsInvoke() bool {
	return o >= INVOKEVIRTUAL && o <= INVOKEDYNAMIC
}

// IsReturn reports whether o returns from the method.
func (o Opcode) IsReturn() bool {
	return o >= IRETURN && o <= RETURN
}

// IsField reports whether o reads or writes a field.
func (o Opcode) IsField() bool {
	return o >= GETSTATIC && o <= PUTFIELD
}

// IsALoad reports whether o loads a reference from a local variable.
func (o Opcode) IsALoad() bool {
	return o == ALOAD || (o >= ALOAD_0 && o <= ALOAD_3)
}

// IsAStore reports whether o stores a reference into a local variable.
func (o Opcode) IsAStore() bool {
	return o == ASTORE || (o >= ASTORE_0 && o <= ASTORE_3)
}

// IsLocalAccess reports whether o reads or writes a local variable slot.
func (o Opcode) IsLocalAccess() bool {
	return (o >= ILOAD && o <= ALOAD_3) || (o >= ISTORE && o <= ASTORE_3) || o == IINC || o == RET
}

// IsArrayLoad reports whether o loads an array element.
func (o Opcode) IsArrayLoad() bool {
	return o >= IALOAD && o <= SALOAD
}

// IsConstant reports whether o pushes a constant without other operands.
func (o Opcode) IsConstant() bool {
	return o >= ACONST_NULL && o <= LDC2_W
}

// EndsFlow reports whether control never falls through o.
func (o Opcode) EndsFlow() bool {
	return o.IsReturn() || o == ATHROW || o == RET || o.IsGoto() || o.IsSwitch()
}

// impliedLocal returns the local slot encoded in the short load/store forms.
func (o Opcode) impliedLocal() (int, bool) {
	switch {
	case o >= ILOAD_0 && o <= ALOAD_3:
		return int(o-ILOAD_0) % 4, true
	case o >= ISTORE_0 && o <= ASTORE_3:
		return int(o-ISTORE_0) % 4, true
	}
	return 0, false
}
