package mipsevm

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/okx/xlayer-fault-proof/fpvm/memory"
	"github.com/okx/xlayer-fault-proof/fpvm/mips"
)

type PreimageOracle interface {
	GetPreimage(k [32]byte) ([]byte, error)
}

// InstrumentedState runs syscall steps on a full state,
// and records the memory proofs and pre-image data needed to replay them from a witness.
type InstrumentedState struct {
	state *State

	log log.Logger

	memProofEnabled bool
	memProofs       [][memory.ProofSize]byte
	memAccess       []uint64

	preimageOracle PreimageOracle

	// cached pre-image data, including 8 byte length prefix
	lastPreimage []byte
	// key for above preimage
	lastPreimageKey [32]byte
	// offset we last read from, or max uint64 if nothing is read this step
	lastPreimageOffset uint64
}

func NewInstrumentedState(state *State, po PreimageOracle, logger log.Logger) *InstrumentedState {
	return &InstrumentedState{
		state:          state,
		log:            logger,
		preimageOracle: po,
	}
}

func (m *InstrumentedState) State() *State {
	return m.state
}

// Step executes the syscall at the program counter, and returns the witness of the step if proof is true.
func (m *InstrumentedState) Step(proof bool) (wit *StepWitness, err error) {
	m.memProofEnabled = proof
	m.memAccess = m.memAccess[:0]
	m.memProofs = m.memProofs[:0]
	m.lastPreimageOffset = ^uint64(0)

	if proof {
		wit = &StepWitness{
			State: m.state.EncodeWitness(), // we need the pre-state as wit-ness
		}
	}

	if err := m.syscallStep(); err != nil {
		return nil, err
	}

	if proof {
		wit.MemProof = make([]byte, 0, len(m.memProofs)*memory.ProofSize)
		for i := range m.memProofs {
			wit.MemProof = append(wit.MemProof, m.memProofs[i][:]...)
		}
		if m.lastPreimageOffset != ^uint64(0) {
			wit.PreimageOffset = m.lastPreimageOffset
			wit.PreimageKey = m.lastPreimageKey
			wit.PreimageValue = m.lastPreimage
		}
	}
	return wit, nil
}

func (m *InstrumentedState) syscallStep() error {
	if m.state.Exited {
		return nil
	}

	pc := m.state.Cpu.PC
	insnAddr := pc &^ (memory.WordSize - 1)
	if err := m.trackMemAccess(insnAddr, insnProofIndex); err != nil {
		return err
	}
	var b [memory.WordSize]byte
	binary.BigEndian.PutUint64(b[:], m.state.Memory.GetWord(insnAddr))
	if insn := binary.BigEndian.Uint32(b[pc&4:]); insn != mips.InsnSyscall {
		return fmt.Errorf("%w: %08x at %016x", ErrUnsupportedInstruction, insn, pc)
	}
	m.state.Step++

	syscallNum := m.state.Registers[mips.RegSyscallNum]
	if m.memProofEnabled {
		// the memory proof is always present, also when the syscall does not access memory
		addr := m.state.Registers[mips.RegA1] &^ (memory.WordSize - 1)
		if err := m.trackMemAccess(addr, memoryProofIndex); err != nil {
			return err
		}
	}
	sc := &SyscallContext{
		Memory:    &trackedMemory{m: m},
		Preimages: m,
	}
	if err := HandleSyscall(m.state, sc); err != nil {
		return err
	}
	m.log.Debug("Syscall", "step", m.state.Step, "num", syscallNum,
		"v0", m.state.Registers[mips.RegSyscallRet], "v1", m.state.Registers[mips.RegSyscallErr])
	return nil
}

// ReadPart serves pre-image parts from the host oracle, including the 8 byte length prefix.
func (m *InstrumentedState) ReadPart(key [32]byte, offset uint64) (dat [32]byte, datLen uint64, err error) {
	preimage := m.lastPreimage
	if preimage == nil || key != m.lastPreimageKey {
		data, err := m.preimageOracle.GetPreimage(key)
		if err != nil {
			return dat, 0, err
		}
		m.lastPreimageKey = key
		// add the length prefix
		preimage = make([]byte, 0, 8+len(data))
		preimage = binary.BigEndian.AppendUint64(preimage, uint64(len(data)))
		preimage = append(preimage, data...)
		m.lastPreimage = preimage
	}
	if offset >= uint64(len(preimage)) {
		return dat, 0, fmt.Errorf("pre-image offset %d out of bounds for key %s of %d bytes",
			offset, common.Hash(key), len(preimage))
	}
	m.lastPreimageOffset = offset
	datLen = uint64(copy(dat[:], preimage[offset:]))
	return dat, datLen, nil
}

// trackMemAccess remembers a merkle-branch of memory to the given address,
// and ensures it comes right after the last memory proof.
func (m *InstrumentedState) trackMemAccess(effAddr uint64, proofIndex uint8) error {
	if !m.memProofEnabled {
		return nil
	}
	if len(m.memProofs) != int(proofIndex) {
		return fmt.Errorf("mem access with unexpected proof index, got %d but expected %d", proofIndex, len(m.memProofs))
	}
	m.memProofs = append(m.memProofs, m.state.Memory.MerkleProof(effAddr))
	m.memAccess = append(m.memAccess, effAddr)
	return nil
}

// verifyMemAccess verifies a memory access reuses the memory proof of the syscall
func (m *InstrumentedState) verifyMemAccess(effAddr uint64) error {
	if !m.memProofEnabled {
		return nil
	}
	if len(m.memAccess) <= memoryProofIndex {
		return fmt.Errorf("mem access at %016x, but only aware of %d proofs", effAddr, len(m.memAccess))
	}
	if prior := m.memAccess[memoryProofIndex]; prior&^31 != effAddr&^31 {
		return fmt.Errorf("mem access at %016x with mismatching prior proof for address %016x", effAddr, prior)
	}
	return nil
}

func (m *InstrumentedState) LastPreimage() ([32]byte, []byte, uint64) {
	return m.lastPreimageKey, m.lastPreimage, m.lastPreimageOffset
}

// trackedMemory gives syscalls access to the full memory,
// limited to the word covered by the memory proof when proofs are recorded.
type trackedMemory struct {
	m *InstrumentedState
}

func (t *trackedMemory) ReadWord(addr uint64) (uint64, error) {
	if err := t.m.verifyMemAccess(addr); err != nil {
		return 0, err
	}
	if addr&(memory.WordSize-1) != 0 {
		return 0, fmt.Errorf("%w: %016x", memory.ErrInvalidAddress, addr)
	}
	return t.m.state.Memory.GetWord(addr), nil
}

func (t *trackedMemory) WriteWord(addr uint64, v uint64) error {
	if err := t.m.verifyMemAccess(addr); err != nil {
		return err
	}
	if addr&(memory.WordSize-1) != 0 {
		return fmt.Errorf("%w: %016x", memory.ErrInvalidAddress, addr)
	}
	t.m.state.Memory.SetWord(addr, v)
	return nil
}
