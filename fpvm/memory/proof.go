package memory

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// ProofLen is the number of 32 byte nodes in a memory proof:
	// the leaf, followed by the 64-5 siblings of a 64-bit address branch down to a 32 byte leaf.
	ProofLen  = 64 - 5 + 1
	ProofSize = ProofLen * 32

	WordSize = 8
)

var (
	ErrInvalidAddress        = errors.New("invalid address")
	ErrInvalidMemoryProof    = errors.New("invalid memory proof")
	ErrInsufficientProofData = errors.New("insufficient proof data")
)

// Proof is a merkle branch of memory: Proof[0] is the leaf, Proof[1:] are the siblings, bottom-up.
type Proof [ProofLen][32]byte

func HashPair(left, right [32]byte) [32]byte {
	return crypto.Keccak256Hash(left[:], right[:])
}

// ZeroHashes[i] is the root of a fully zeroed subtree of height i.
var ZeroHashes = func() [256][32]byte {
	var out [256][32]byte
	for i := 1; i < 256; i++ {
		out[i] = HashPair(out[i-1], out[i-1])
	}
	return out
}()

// ProofAt decodes the proof with the given index from concatenated proof data.
func ProofAt(data []byte, index uint8) (*Proof, error) {
	start := uint64(index) * ProofSize
	if uint64(len(data)) < start+ProofSize {
		return nil, fmt.Errorf("%w: need %d bytes for proof %d, got %d", ErrInsufficientProofData, start+ProofSize, index, len(data))
	}
	var p Proof
	for i := range p {
		copy(p[i][:], data[start+uint64(i)*32:])
	}
	return &p, nil
}

func ProofFromBytes(data []byte) (*Proof, error) {
	if len(data) != ProofSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInsufficientProofData, ProofSize, len(data))
	}
	return ProofAt(data, 0)
}

func (p *Proof) Encode() []byte {
	out := make([]byte, 0, ProofSize)
	for i := range p {
		out = append(out, p[i][:]...)
	}
	return out
}

func (p *Proof) Leaf() [32]byte {
	return p[0]
}

// WithLeaf returns a copy of the proof with the leaf replaced.
func (p *Proof) WithLeaf(leaf [32]byte) *Proof {
	out := *p
	out[0] = leaf
	return &out
}

// computeRoot hashes the leaf up the branch of the given address.
func (p *Proof) computeRoot(addr uint64, leaf [32]byte) [32]byte {
	path := addr >> 5 // 32 bytes of memory per leaf
	node := leaf
	for i := 1; i < ProofLen; i++ {
		if path&1 == 0 {
			node = HashPair(node, p[i])
		} else {
			node = HashPair(p[i], node)
		}
		path >>= 1
	}
	return node
}

func checkAligned(addr uint64) error {
	if addr&(WordSize-1) != 0 {
		return fmt.Errorf("%w: %016x not aligned to %d bytes", ErrInvalidAddress, addr, WordSize)
	}
	return nil
}

// ReadWord verifies the proof against the root, and returns the big-endian word at addr.
func ReadWord(root [32]byte, addr uint64, proof *Proof) (uint64, error) {
	if err := checkAligned(addr); err != nil {
		return 0, err
	}
	if got := proof.computeRoot(addr, proof[0]); got != root {
		return 0, fmt.Errorf("%w: got mem root %x, expected %x", ErrInvalidMemoryProof, got, root)
	}
	off := addr & 31
	return binary.BigEndian.Uint64(proof[0][off : off+WordSize]), nil
}

// WriteWord splices the word into the proof leaf and returns the resulting memory root.
// Warning: WriteWord does not verify the proof against the old root,
// callers must verify the same proof with ReadWord or IsValidProof first.
func WriteWord(addr uint64, proof *Proof, v uint64) ([32]byte, error) {
	if err := checkAligned(addr); err != nil {
		return [32]byte{}, err
	}
	return proof.computeRoot(addr, SpliceWord(proof[0], addr, v)), nil
}

// SpliceWord returns the leaf with the word at the given (aligned) address replaced.
func SpliceWord(leaf [32]byte, addr uint64, v uint64) [32]byte {
	off := addr & 31 &^ (WordSize - 1)
	binary.BigEndian.PutUint64(leaf[off:off+WordSize], v)
	return leaf
}

func IsValidProof(root [32]byte, addr uint64, proof *Proof) bool {
	_, err := ReadWord(root, addr, proof)
	return err == nil
}
