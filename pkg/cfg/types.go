// Package cfg defines the control flow graph model built from JVM method
// bytecode: blocks, edges carrying branch identifiers, and the graph that
// owns them.
package cfg

import "fmt"

// BlockType is the major kind of a block. The numeric values are the codes
// written to map, cf and binary graph files.
type BlockType int

const (
	BlockCall   BlockType = 44 // Method call site
	BlockEntry  BlockType = 45 // Virtual method entry
	BlockExit   BlockType = 46 // Virtual normal or exceptional exit
	BlockReturn BlockType = 50 // Virtual return continuation after a call
	BlockBasic  BlockType = 54 // Straight-line instruction run
)

// TypeMask selects blocks by BlockType.
type TypeMask int

const (
	MaskBasic  TypeMask = 1
	MaskEntry  TypeMask = 2
	MaskExit   TypeMask = 4
	MaskCall   TypeMask = 8
	MaskReturn TypeMask = 16
	MaskAll    TypeMask = MaskBasic | MaskEntry | MaskExit | MaskCall | MaskReturn
)

func (t BlockType) String() string {
	switch t {
	case BlockEntry:
		return "entry"
	case BlockExit:
		return "exit"
	case BlockCall:
		return "call"
	case BlockReturn:
		return "return"
	case BlockBasic:
		return "basic"
	default:
		return fmt.Sprintf("blocktype(%d)", int(t))
	}
}

// Mask returns the selection bit of the type.
func (t BlockType) Mask() TypeMask {
	switch t {
	case BlockBasic:
		return MaskBasic
	case BlockEntry:
		return MaskEntry
	case BlockExit:
		return MaskExit
	case BlockCall:
		return MaskCall
	case BlockReturn:
		return MaskReturn
	}
	return 0
}

// Virtual reports whether blocks of this type correspond to no instructions.
func (t BlockType) Virtual() bool {
	return t == BlockEntry || t == BlockExit || t == BlockReturn
}

// BlockTypeFromCode converts a file code into a BlockType.
func BlockTypeFromCode(code int) (BlockType, error) {
	switch t := BlockType(code); t {
	case BlockEntry, BlockExit, BlockCall, BlockReturn, BlockBasic:
		return t, nil
	}
	return 0, fmt.Errorf("unknown block type code %d", code)
}

// BlockSubType refines BlockType by the instruction that ends the block.
type BlockSubType int

const (
	SubReturn       BlockSubType = 61
	SubGoto         BlockSubType = 65
	SubJSR          BlockSubType = 68
	SubIf           BlockSubType = 71
	SubSwitch       BlockSubType = 75
	SubFinally      BlockSubType = 95 // Subroutine return (ret)
	SubThrow        BlockSubType = 96
	SubSystemExit   BlockSubType = 97
	SubSummaryThrow BlockSubType = 99 // Exit collecting unattributed exceptions
	SubDontCare     BlockSubType = -100
)

func (s BlockSubType) String() string {
	switch s {
	case SubIf:
		return "if"
	case SubGoto:
		return "goto"
	case SubJSR:
		return "jsr"
	case SubSwitch:
		return "switch"
	case SubReturn:
		return "return"
	case SubFinally:
		return "ret"
	case SubThrow:
		return "throw"
	case SubSummaryThrow:
		return "sumthrow"
	case SubSystemExit:
		return "exit"
	case SubDontCare:
		return "dontcare"
	default:
		return fmt.Sprintf("subtype(%d)", int(s))
	}
}

// BlockSubTypeFromCode converts a file code into a BlockSubType.
func BlockSubTypeFromCode(code int) (BlockSubType, error) {
	switch s := BlockSubType(code); s {
	case SubIf, SubGoto, SubJSR, SubSwitch, SubReturn, SubFinally, SubThrow,
		SubSummaryThrow, SubSystemExit, SubDontCare:
		return s, nil
	}
	return 0, fmt.Errorf("unknown block subtype code %d", code)
}

// BlockLabel is the single-character tag of a block in text files.
type BlockLabel byte

const (
	LabelEntry  BlockLabel = 'E'
	LabelExit   BlockLabel = 'X'
	LabelCall   BlockLabel = 'F'
	LabelReturn BlockLabel = 'T'
	LabelBlock  BlockLabel = 'K'
)

func (l BlockLabel) String() string {
	return string(rune(l))
}

// BlockLabelFromChar converts a label character into a BlockLabel.
func BlockLabelFromChar(c byte) (BlockLabel, error) {
	switch l := BlockLabel(c); l {
	case LabelEntry, LabelExit, LabelCall, LabelReturn, LabelBlock:
		return l, nil
	}
	return 0, fmt.Errorf("unknown block label %q", c)
}

// BranchType records the kind of decision a branch ID originates from.
type BranchType int

const (
	BranchDontCare BranchType = -1
	BranchIf       BranchType = 1
	BranchSwitch   BranchType = 2
	BranchThrow    BranchType = 4
	BranchCall     BranchType = 8
	BranchEntry    BranchType = 16
	BranchOther    BranchType = 32
)

func (b BranchType) String() string {
	switch b {
	case BranchIf:
		return "if"
	case BranchSwitch:
		return "switch"
	case BranchThrow:
		return "throw"
	case BranchCall:
		return "call"
	case BranchEntry:
		return "entry"
	case BranchOther:
		return "other"
	case BranchDontCare:
		return "dontcare"
	default:
		return fmt.Sprintf("branchtype(%d)", int(b))
	}
}

// BranchTypeFromCode converts a file code into a BranchType.
func BranchTypeFromCode(code int) (BranchType, error) {
	switch b := BranchType(code); b {
	case BranchIf, BranchSwitch, BranchThrow, BranchCall, BranchEntry, BranchOther, BranchDontCare:
		return b, nil
	}
	return 0, fmt.Errorf("unknown branch type code %d", code)
}

// BranchTypeOf returns the branch origin kind of a block with the given type
// and subtype.
func BranchTypeOf(t BlockType, s BlockSubType) BranchType {
	switch t {
	case BlockEntry:
		return BranchEntry
	case BlockCall:
		return BranchCall
	case BlockBasic:
		switch s {
		case SubIf:
			return BranchIf
		case SubSwitch:
			return BranchSwitch
		case SubThrow:
			return BranchThrow
		case SubSummaryThrow:
			return BranchOther
		}
	}
	return BranchDontCare
}
