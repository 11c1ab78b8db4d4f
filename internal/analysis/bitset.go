package analysis

import (
	"math/bits"
	"strconv"
	"strings"
)

// BitSet is a fixed-size set of small non-negative integers.
type BitSet struct {
	words []uint64
	size  int
}

// NewBitSet returns an empty set that can hold 0..size-1.
func NewBitSet(size int) *BitSet {
	return &BitSet{words: make([]uint64, (size+63)/64), size: size}
}

func (s *BitSet) Size() int { return s.size }

func (s *BitSet) Set(i int)   { s.words[i/64] |= 1 << (uint(i) % 64) }
func (s *BitSet) Unset(i int) { s.words[i/64] &^= 1 << (uint(i) % 64) }

func (s *BitSet) Has(i int) bool {
	if i < 0 || i >= s.size {
		return false
	}
	return s.words[i/64]&(1<<(uint(i)%64)) != 0
}

// Fill adds every element.
func (s *BitSet) Fill() {
	for i := range s.words {
		s.words[i] = ^uint64(0)
	}
	if r := s.size % 64; r != 0 {
		s.words[len(s.words)-1] = 1<<uint(r) - 1
	}
}

func (s *BitSet) Clone() *BitSet {
	return &BitSet{words: append([]uint64(nil), s.words...), size: s.size}
}

// Union adds the members of o and reports whether s changed.
func (s *BitSet) Union(o *BitSet) bool {
	changed := false
	for i, w := range o.words {
		if n := s.words[i] | w; n != s.words[i] {
			s.words[i] = n
			changed = true
		}
	}
	return changed
}

// Intersect keeps only the members of o and reports whether s changed.
func (s *BitSet) Intersect(o *BitSet) bool {
	changed := false
	for i := range s.words {
		if n := s.words[i] & o.words[i]; n != s.words[i] {
			s.words[i] = n
			changed = true
		}
	}
	return changed
}

// Minus removes the members of o.
func (s *BitSet) Minus(o *BitSet) {
	for i, w := range o.words {
		s.words[i] &^= w
	}
}

func (s *BitSet) Equal(o *BitSet) bool {
	if s.size != o.size {
		return false
	}
	for i, w := range s.words {
		if o.words[i] != w {
			return false
		}
	}
	return true
}

func (s *BitSet) Count() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Each calls fn for every member in increasing order.
func (s *BitSet) Each(fn func(int)) {
	for i, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			fn(i*64 + b)
			w &^= 1 << uint(b)
		}
	}
}

func (s *BitSet) String() string {
	var parts []string
	s.Each(func(i int) { parts = append(parts, strconv.Itoa(i)) })
	return "{" + strings.Join(parts, " ") + "}"
}
