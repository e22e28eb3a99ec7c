package game

import (
	"fmt"
	"math/bits"
)

// Position is the generalized index of a claim in the game tree.
// The root is 1, the children of p are 2p (attack) and 2p+1 (defend).
type Position uint64

const RootPosition Position = 1

func (p Position) Depth() uint64 {
	return uint64(bits.Len64(uint64(p))) - 1
}

// IndexAtDepth is the position of the claim relative to the leftmost position at its depth.
func (p Position) IndexAtDepth() uint64 {
	return uint64(p) - (1 << p.Depth())
}

func (p Position) Attack() Position {
	return p << 1
}

func (p Position) Defend() Position {
	return p<<1 | 1
}

func (p Position) Parent() Position {
	return p >> 1
}

func (p Position) String() string {
	return fmt.Sprintf("%d (depth %d, index %d)", uint64(p), p.Depth(), p.IndexAtDepth())
}
