package ir

import "fmt"

// Block is a basic block. Its successor and predecessor lists are kept
// by the owning Function and change only through Function.SetTerminator
// and the other edge operations there.
type Block struct {
	ID    BlockID
	Label string
	Insts []Instruction

	preds []BlockID
	succs []BlockID
}

// Preds returns the predecessors in edge order. Phi arguments follow the
// same order. The slice must not be modified.
func (b *Block) Preds() []BlockID { return b.preds }

// Succs returns the successors in terminator target order. The slice
// must not be modified.
func (b *Block) Succs() []BlockID { return b.succs }

// PredIndex returns the position of p among the predecessors, or -1.
func (b *Block) PredIndex(p BlockID) int {
	for i, q := range b.preds {
		if q == p {
			return i
		}
	}
	return -1
}

// Terminator returns the last instruction, which must be a terminator
// once the block is complete. It is nil while the block is being built.
func (b *Block) Terminator() Instruction {
	if n := len(b.Insts); n > 0 && b.Insts[n-1].IsTerminator() {
		return b.Insts[n-1]
	}
	return nil
}

// Initiator returns the first instruction.
func (b *Block) Initiator() Instruction {
	if len(b.Insts) == 0 {
		return nil
	}
	return b.Insts[0]
}

// Phis returns the leading phi instructions.
func (b *Block) Phis() []*Phi {
	var phis []*Phi
	for _, inst := range b.Insts {
		p, ok := inst.(*Phi)
		if !ok {
			break
		}
		phis = append(phis, p)
	}
	return phis
}

// StartsWithPhi reports whether the first instruction is a phi.
func (b *Block) StartsWithPhi() bool {
	_, ok := b.Initiator().(*Phi)
	return ok
}

// IsNaive reports whether the block does nothing but jump: at most one
// instruction and at most one successor.
func (b *Block) IsNaive() bool {
	return len(b.Insts) <= 1 && len(b.succs) <= 1
}

// Index returns the position of inst in the block, or -1.
func (b *Block) Index(inst Instruction) int {
	for i, x := range b.Insts {
		if x == inst {
			return i
		}
	}
	return -1
}

// Insert places a non-terminator at position i.
func (b *Block) Insert(i int, inst Instruction) {
	if inst.IsTerminator() {
		panic(fmt.Sprintf("block %s: terminators are set through SetTerminator", b.Label))
	}
	b.Insts = append(b.Insts, nil)
	copy(b.Insts[i+1:], b.Insts[i:])
	b.Insts[i] = inst
}

// InsertAfterPhis places a non-terminator after the leading phis.
func (b *Block) InsertAfterPhis(inst Instruction) {
	b.Insert(len(b.Phis()), inst)
}

// InsertBeforeTerminator places a non-terminator right before the
// terminator, or at the end if there is none yet.
func (b *Block) InsertBeforeTerminator(inst Instruction) {
	if b.Terminator() != nil {
		b.Insert(len(b.Insts)-1, inst)
		return
	}
	b.Insert(len(b.Insts), inst)
}

// Append adds a non-terminator at the end of an unterminated block.
func (b *Block) Append(inst Instruction) {
	b.InsertBeforeTerminator(inst)
}

// Remove deletes a non-terminator from the block.
func (b *Block) Remove(inst Instruction) {
	if inst.IsTerminator() {
		panic(fmt.Sprintf("block %s: terminators are set through SetTerminator", b.Label))
	}
	i := b.Index(inst)
	if i < 0 {
		panic(fmt.Sprintf("block %s: instruction %q not found", b.Label, inst))
	}
	b.Insts = append(b.Insts[:i], b.Insts[i+1:]...)
}

// Replace swaps a non-terminator for another one in place.
func (b *Block) Replace(old, inst Instruction) {
	if old.IsTerminator() || inst.IsTerminator() {
		panic(fmt.Sprintf("block %s: terminators are set through SetTerminator", b.Label))
	}
	i := b.Index(old)
	if i < 0 {
		panic(fmt.Sprintf("block %s: instruction %q not found", b.Label, old))
	}
	b.Insts[i] = inst
}

func (b *Block) String() string { return b.Label }
