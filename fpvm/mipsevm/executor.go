package mipsevm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/okx/xlayer-fault-proof/fpvm/memory"
	"github.com/okx/xlayer-fault-proof/fpvm/mips"
	"github.com/okx/xlayer-fault-proof/fpvm/oracle"
)

var (
	ErrPreStateMismatch       = errors.New("witness does not match pre-state")
	ErrUnsupportedInstruction = errors.New("unsupported instruction")
)

// Proof indices of the memory proofs of a step.
const (
	insnProofIndex   = 0
	memoryProofIndex = 1
)

// proofMemory gives a syscall access to the single word of memory covered by a proof.
// Writes update the memory root.
type proofMemory struct {
	root  common.Hash
	proof *memory.Proof
	addr  uint64
	used  bool
}

func (m *proofMemory) check(addr uint64) error {
	if m.proof == nil {
		return fmt.Errorf("%w: no memory proof for %016x", memory.ErrInsufficientProofData, addr)
	}
	if m.used && addr != m.addr {
		return fmt.Errorf("%w: memory proof covers %016x, not %016x", memory.ErrInvalidMemoryProof, m.addr, addr)
	}
	return nil
}

func (m *proofMemory) ReadWord(addr uint64) (uint64, error) {
	if err := m.check(addr); err != nil {
		return 0, err
	}
	v, err := memory.ReadWord(m.root, addr, m.proof)
	if err != nil {
		return 0, err
	}
	m.addr, m.used = addr, true
	return v, nil
}

func (m *proofMemory) WriteWord(addr uint64, v uint64) error {
	if err := m.check(addr); err != nil {
		return err
	}
	if !memory.IsValidProof(m.root, addr, m.proof) {
		return fmt.Errorf("%w: cannot write %016x", memory.ErrInvalidMemoryProof, addr)
	}
	root, err := memory.WriteWord(addr, m.proof, v)
	if err != nil {
		return err
	}
	m.proof = m.proof.WithLeaf(memory.SpliceWord(m.proof.Leaf(), addr, v))
	m.root = root
	m.addr, m.used = addr, true
	return nil
}

// SyscallExecutor replays a single step of a program that is at a syscall instruction,
// from a state witness and the memory proofs of the step.
// Proof 0 proves the instruction, proof 1 the memory the syscall reads or writes.
// All other instructions are out of its reach and rejected.
type SyscallExecutor struct {
	Oracle       PreimageReader
	Caller       common.Address
	LocalContext common.Hash
	Log          log.Logger
}

func NewSyscallExecutor(o PreimageReader, caller common.Address, localContext common.Hash, logger log.Logger) *SyscallExecutor {
	return &SyscallExecutor{Oracle: o, Caller: caller, LocalContext: localContext, Log: logger}
}

// Step verifies the witness against the pre-state, executes the syscall, and returns the post-state hash.
// The claimed post-state is for logging only: the caller compares it with the result.
func (e *SyscallExecutor) Step(witness []byte, memProof []byte, pre common.Hash, post common.Hash) (common.Hash, error) {
	wit := StateWitness(witness)
	preHash, err := wit.StateHash()
	if err != nil {
		return common.Hash{}, err
	}
	if preHash != pre {
		return common.Hash{}, fmt.Errorf("%w: witness hashes to %s, expected %s", ErrPreStateMismatch, preHash, pre)
	}
	state, err := DecodeWitness(wit)
	if err != nil {
		return common.Hash{}, err
	}
	if state.Exited {
		// an exited program does not change anymore
		return preHash, nil
	}
	state.Step++

	insnProof, err := memory.ProofAt(memProof, insnProofIndex)
	if err != nil {
		return common.Hash{}, fmt.Errorf("missing instruction proof: %w", err)
	}
	insnAddr := state.Cpu.PC &^ (memory.WordSize - 1)
	insnWord, err := memory.ReadWord(state.MemRoot, insnAddr, insnProof)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read instruction at %016x: %w", state.Cpu.PC, err)
	}
	var b [memory.WordSize]byte
	binary.BigEndian.PutUint64(b[:], insnWord)
	insn := binary.BigEndian.Uint32(b[state.Cpu.PC&4:])
	if insn != mips.InsnSyscall {
		return common.Hash{}, fmt.Errorf("%w: %08x at %016x", ErrUnsupportedInstruction, insn, state.Cpu.PC)
	}

	syscallNum := state.Registers[mips.RegSyscallNum]
	mem := &proofMemory{root: state.MemRoot}
	if p, err := memory.ProofAt(memProof, memoryProofIndex); err == nil {
		mem.proof = p
	}
	sc := &SyscallContext{
		Memory:    mem,
		Preimages: e.Oracle,
		LocalizeKey: func(key [32]byte) [32]byte {
			return oracle.Localize(key, e.Caller, e.LocalContext)
		},
	}
	if err := HandleSyscall(state, sc); err != nil {
		return common.Hash{}, err
	}
	state.MemRoot = mem.root

	postHash, err := state.EncodeWitness().StateHash()
	if err != nil {
		return common.Hash{}, err
	}
	e.Log.Debug("Executed syscall step", "step", state.Step, "syscall", syscallNum,
		"pre", pre, "post", postHash, "claimedPost", post)
	return postHash, nil
}
