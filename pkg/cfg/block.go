package cfg

import "fmt"

// Block is a node of the control flow graph. Successor and predecessor lists
// hold block IDs in the order edges were added.
type Block struct {
	ID          int          `json:"id"`
	Type        BlockType    `json:"type"`
	SubType     BlockSubType `json:"sub_type"`
	Label       BlockLabel   `json:"label"`
	StartOffset int          `json:"start_offset"`
	EndOffset   int          `json:"end_offset"`

	// StartRef and EndRef index the first and last instruction of the block
	// in the method's instruction list; -1 for virtual blocks and for blocks
	// read back from files.
	StartRef int `json:"-"`
	EndRef   int `json:"-"`

	Successors   []int `json:"successors"`
	Predecessors []int `json:"predecessors"`
}

// NewBlock returns a block without instruction anchors.
func NewBlock(id int, t BlockType, s BlockSubType, l BlockLabel, start, end int) *Block {
	return &Block{
		ID:          id,
		Type:        t,
		SubType:     s,
		Label:       l,
		StartOffset: start,
		EndOffset:   end,
		StartRef:    -1,
		EndRef:      -1,
	}
}

// Virtual reports whether the block stands for no instructions.
func (b *Block) Virtual() bool {
	return b.Type.Virtual()
}

// HasPredecessor reports whether id is a predecessor of b.
func (b *Block) HasPredecessor(id int) bool {
	for _, p := range b.Predecessors {
		if p == id {
			return true
		}
	}
	return false
}

func (b *Block) String() string {
	return fmt.Sprintf("(%d, (%s, %s, %s), [%d, %d])",
		b.ID, b.Type, b.SubType, b.Label, b.StartOffset, b.EndOffset)
}
