package mipsevm

import (
	"encoding/binary"
	"errors"
	"fmt"

	cannonvm "github.com/ethereum-optimism/optimism/cannon/mipsevm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/okx/xlayer-fault-proof/fpvm/memory"
	"github.com/okx/xlayer-fault-proof/fpvm/mips"
)

// StateWitnessSize is the size of the encoded state witness:
// memRoot, preimageKey, preimageOffset, pc, nextPC, lo, hi, heap, exitCode, exited, step, registers.
const StateWitnessSize = 32 + 32 + 8*6 + 1 + 1 + 8 + 32*8

var ErrInvalidWitness = errors.New("invalid state witness")

type CpuScalars struct {
	PC     uint64 `json:"pc"`
	NextPC uint64 `json:"nextPC"`
	LO     uint64 `json:"lo"`
	HI     uint64 `json:"hi"`
}

type State struct {
	// Memory is the full memory on the prover side, nil when the state is decoded from a witness.
	Memory *memory.Memory `json:"memory,omitempty"`
	// MemRoot is the memory root when Memory is nil.
	MemRoot common.Hash `json:"memRoot"`

	PreimageKey    common.Hash `json:"preimageKey"`
	PreimageOffset uint64      `json:"preimageOffset"`

	Cpu CpuScalars `json:"cpu"`

	Heap uint64 `json:"heap"` // to handle mmap growth

	ExitCode uint8 `json:"exit"`
	Exited   bool  `json:"exited"`

	Step uint64 `json:"step"`

	Registers [32]uint64 `json:"registers"`
}

func NewState() *State {
	return &State{
		Memory: memory.NewMemory(),
		Heap:   mips.HeapStart,
	}
}

func (s *State) MemoryRoot() common.Hash {
	if s.Memory != nil {
		return s.Memory.MerkleRoot()
	}
	return s.MemRoot
}

func (s *State) VMStatus() uint8 {
	return vmStatus(s.Exited, s.ExitCode)
}

func (s *State) EncodeWitness() StateWitness {
	out := make([]byte, 0, StateWitnessSize)
	memRoot := s.MemoryRoot()
	out = append(out, memRoot[:]...)
	out = append(out, s.PreimageKey[:]...)
	out = binary.BigEndian.AppendUint64(out, s.PreimageOffset)
	out = binary.BigEndian.AppendUint64(out, s.Cpu.PC)
	out = binary.BigEndian.AppendUint64(out, s.Cpu.NextPC)
	out = binary.BigEndian.AppendUint64(out, s.Cpu.LO)
	out = binary.BigEndian.AppendUint64(out, s.Cpu.HI)
	out = binary.BigEndian.AppendUint64(out, s.Heap)
	out = append(out, s.ExitCode)
	if s.Exited {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = binary.BigEndian.AppendUint64(out, s.Step)
	for _, r := range s.Registers {
		out = binary.BigEndian.AppendUint64(out, r)
	}
	return out
}

// DecodeWitness decodes a state witness into a State without memory.
func DecodeWitness(wit StateWitness) (*State, error) {
	if len(wit) != StateWitnessSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidWitness, StateWitnessSize, len(wit))
	}
	s := &State{}
	copy(s.MemRoot[:], wit[0:32])
	copy(s.PreimageKey[:], wit[32:64])
	rd := func(i int) uint64 { return binary.BigEndian.Uint64(wit[i : i+8]) }
	s.PreimageOffset = rd(64)
	s.Cpu.PC = rd(72)
	s.Cpu.NextPC = rd(80)
	s.Cpu.LO = rd(88)
	s.Cpu.HI = rd(96)
	s.Heap = rd(104)
	s.ExitCode = wit[112]
	switch wit[113] {
	case 0:
	case 1:
		s.Exited = true
	default:
		return nil, fmt.Errorf("%w: exited flag %d", ErrInvalidWitness, wit[113])
	}
	s.Step = rd(114)
	for i := range s.Registers {
		s.Registers[i] = rd(122 + i*8)
	}
	return s, nil
}

type StateWitness []byte

func (sw StateWitness) StateHash() (common.Hash, error) {
	if len(sw) != StateWitnessSize {
		return common.Hash{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidWitness, StateWitnessSize, len(sw))
	}
	hash := crypto.Keccak256Hash(sw)
	offset := 32*2 + 8*6
	exitCode := sw[offset]
	exited := sw[offset+1]
	hash[0] = vmStatus(exited == 1, exitCode)
	return hash, nil
}

func vmStatus(exited bool, exitCode uint8) uint8 {
	if !exited {
		return cannonvm.VMStatusUnfinished
	}
	switch exitCode {
	case 0:
		return cannonvm.VMStatusValid
	case 1:
		return cannonvm.VMStatusInvalid
	default:
		return cannonvm.VMStatusPanic
	}
}
