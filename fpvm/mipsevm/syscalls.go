package mipsevm

import (
	"encoding/binary"
	"fmt"

	preimage "github.com/ethereum-optimism/optimism/op-preimage"

	"github.com/okx/xlayer-fault-proof/fpvm/memory"
	"github.com/okx/xlayer-fault-proof/fpvm/mips"
)

// MemoryAccess reads and writes aligned words of the memory a syscall operates on.
type MemoryAccess interface {
	ReadWord(addr uint64) (uint64, error)
	WriteWord(addr uint64, v uint64) error
}

// PreimageReader returns the part of the pre-image at the offset, and how many bytes of it are available.
type PreimageReader interface {
	ReadPart(key [32]byte, offset uint64) (dat [32]byte, datLen uint64, err error)
}

type UnsupportedSyscallErr struct {
	SyscallNum uint64
}

func (e *UnsupportedSyscallErr) Error() string {
	return fmt.Sprintf("unrecognized syscall: %d", e.SyscallNum)
}

// SyscallContext holds the collaborators of a syscall.
type SyscallContext struct {
	Memory    MemoryAccess
	Preimages PreimageReader
	// LocalizeKey binds a raw local pre-image key to the dispute, nil to read keys as-is.
	LocalizeKey func(key [32]byte) [32]byte
}

// HandleSysMmap allocates anonymous memory from the heap when addr is 0.
// The size is rounded up to the page size.
func HandleSysMmap(a0, a1, heap uint64) (v0, v1, newHeap uint64) {
	v1 = 0
	newHeap = heap
	sz := a1
	if sz&mips.PageAddrMask != 0 { // adjust size to align with page size
		sz += mips.PageSize - (sz & mips.PageAddrMask)
	}
	if a0 == 0 {
		v0 = heap
		newHeap += sz
		// fail if the heap would overflow, or grow past its end
		if newHeap > mips.HeapEnd || newHeap < heap || sz < a1 {
			return mips.SysErrorSignal, mips.EINVAL, heap
		}
	} else {
		v0 = a0
	}
	return v0, v1, newHeap
}

// HandleSysRead reads up to a2 bytes, limited to the word at a1, from the descriptor a0.
func HandleSysRead(a0, a1, a2 uint64, preimageKey [32]byte, preimageOffset uint64, preimages PreimageReader, mem MemoryAccess) (v0, v1, newPreimageOffset uint64, err error) {
	newPreimageOffset = preimageOffset
	switch a0 {
	case mips.FdStdin:
		// read nothing, no error
	case mips.FdPreimageRead:
		effAddr := a1 &^ (memory.WordSize - 1)
		w, err := mem.ReadWord(effAddr)
		if err != nil {
			return 0, 0, preimageOffset, fmt.Errorf("failed to read memory for pre-image read: %w", err)
		}
		dat, datLen, err := preimages.ReadPart(preimageKey, preimageOffset)
		if err != nil {
			return 0, 0, preimageOffset, err
		}
		alignment := a1 & (memory.WordSize - 1)
		space := memory.WordSize - alignment
		if space < datLen {
			datLen = space
		}
		if a2 < datLen {
			datLen = a2
		}
		var outMem [memory.WordSize]byte
		binary.BigEndian.PutUint64(outMem[:], w)
		copy(outMem[alignment:], dat[:datLen])
		if err := mem.WriteWord(effAddr, binary.BigEndian.Uint64(outMem[:])); err != nil {
			return 0, 0, preimageOffset, fmt.Errorf("failed to write pre-image data to memory: %w", err)
		}
		newPreimageOffset += datLen
		v0 = datLen
	case mips.FdHintRead: // pretend the hint was read
		v0 = a2
	default:
		v0 = mips.SysErrorSignal
		v1 = mips.EBADF
	}
	return v0, v1, newPreimageOffset, nil
}

// HandleSysWrite writes up to a2 bytes, limited to the word at a1, to the descriptor a0.
// Bytes written to the pre-image descriptor are shifted into the pre-image key.
func HandleSysWrite(a0, a1, a2 uint64, preimageKey [32]byte, preimageOffset uint64, mem MemoryAccess) (v0, v1 uint64, newPreimageKey [32]byte, newPreimageOffset uint64, err error) {
	newPreimageKey = preimageKey
	newPreimageOffset = preimageOffset
	switch a0 {
	case mips.FdStdout, mips.FdStderr, mips.FdHintWrite:
		v0 = a2
	case mips.FdPreimageWrite:
		effAddr := a1 &^ (memory.WordSize - 1)
		w, err := mem.ReadWord(effAddr)
		if err != nil {
			return 0, 0, preimageKey, preimageOffset, fmt.Errorf("failed to read memory for pre-image write: %w", err)
		}
		key := preimageKey
		alignment := a1 & (memory.WordSize - 1)
		space := memory.WordSize - alignment
		if space < a2 {
			a2 = space
		}
		copy(key[:], key[a2:])
		var tmp [memory.WordSize]byte
		binary.BigEndian.PutUint64(tmp[:], w)
		copy(key[32-a2:], tmp[alignment:])
		newPreimageKey = key
		newPreimageOffset = 0
		v0 = a2
	default:
		v0 = mips.SysErrorSignal
		v1 = mips.EBADF
	}
	return v0, v1, newPreimageKey, newPreimageOffset, nil
}

// HandleSysFcntl answers F_GETFD and F_GETFL for the known descriptors.
func HandleSysFcntl(a0, a1 uint64) (v0, v1 uint64) {
	switch a1 {
	case mips.FcntlGetFD:
		switch a0 {
		case mips.FdStdin, mips.FdStdout, mips.FdStderr, mips.FdHintRead, mips.FdHintWrite, mips.FdPreimageRead, mips.FdPreimageWrite:
			v0 = 0 // no flags set
		default:
			v0 = mips.SysErrorSignal
			v1 = mips.EBADF
		}
	case mips.FcntlGetFL:
		switch a0 {
		case mips.FdStdin, mips.FdPreimageRead, mips.FdHintRead:
			v0 = mips.ORdOnly
		case mips.FdStdout, mips.FdStderr, mips.FdPreimageWrite, mips.FdHintWrite:
			v0 = mips.OWrOnly
		default:
			v0 = mips.SysErrorSignal
			v1 = mips.EBADF
		}
	default:
		v0 = mips.SysErrorSignal
		v1 = mips.EINVAL // cmd not recognized by this kernel
	}
	return v0, v1
}

// HandleSyscallUpdates stores the syscall results and advances the program counter.
func HandleSyscallUpdates(cpu *CpuScalars, registers *[32]uint64, v0, v1 uint64) {
	registers[mips.RegSyscallRet] = v0
	registers[mips.RegSyscallErr] = v1

	cpu.PC = cpu.NextPC
	cpu.NextPC = cpu.NextPC + mips.InsnWidth
}

// HandleSyscall executes the syscall selected by the syscall number register.
// Exiting syscalls leave the program counter unchanged.
func HandleSyscall(s *State, sc *SyscallContext) error {
	syscallNum := s.Registers[mips.RegSyscallNum]
	a0 := s.Registers[mips.RegA0]
	a1 := s.Registers[mips.RegA1]
	a2 := s.Registers[mips.RegA2]

	var v0, v1 uint64
	switch syscallNum {
	case mips.SysMmap:
		var newHeap uint64
		v0, v1, newHeap = HandleSysMmap(a0, a1, s.Heap)
		s.Heap = newHeap
	case mips.SysBrk:
		v0 = mips.ProgramBreak
	case mips.SysExit, mips.SysExitGroup:
		s.Exited = true
		s.ExitCode = uint8(a0)
		return nil
	case mips.SysRead:
		key := [32]byte(s.PreimageKey)
		if a0 == mips.FdPreimageRead && sc.LocalizeKey != nil && key[0] == byte(preimage.LocalKeyType) {
			key = sc.LocalizeKey(key)
		}
		var newOffset uint64
		var err error
		v0, v1, newOffset, err = HandleSysRead(a0, a1, a2, key, s.PreimageOffset, sc.Preimages, sc.Memory)
		if err != nil {
			return err
		}
		s.PreimageOffset = newOffset
	case mips.SysWrite:
		var newKey [32]byte
		var newOffset uint64
		var err error
		v0, v1, newKey, newOffset, err = HandleSysWrite(a0, a1, a2, s.PreimageKey, s.PreimageOffset, sc.Memory)
		if err != nil {
			return err
		}
		s.PreimageKey = newKey
		s.PreimageOffset = newOffset
	case mips.SysFcntl:
		v0, v1 = HandleSysFcntl(a0, a1)
	case mips.SysMunmap, mips.SysMprotect, mips.SysMadvise,
		mips.SysGetRLimit, mips.SysPrlimit64, mips.SysSchedYield,
		mips.SysRtSigaction, mips.SysRtSigprocmask, mips.SysSigaltstack:
		// accepted as no-ops
	default:
		return &UnsupportedSyscallErr{SyscallNum: syscallNum}
	}

	HandleSyscallUpdates(&s.Cpu, &s.Registers, v0, v1)
	return nil
}
