package mips

// MIPS64 n64 syscall numbers.
const (
	SysRead          = 5000
	SysWrite         = 5001
	SysMmap          = 5009
	SysMprotect      = 5010
	SysMunmap        = 5011
	SysBrk           = 5012
	SysRtSigaction   = 5013
	SysRtSigprocmask = 5014
	SysSchedYield    = 5023
	SysMadvise       = 5027
	SysExit          = 5058
	SysFcntl         = 5070
	SysGetRLimit     = 5095
	SysSigaltstack   = 5129
	SysExitGroup     = 5205
	SysPrlimit64     = 5297
)

const (
	FdStdin         = 0
	FdStdout        = 1
	FdStderr        = 2
	FdHintRead      = 3
	FdHintWrite     = 4
	FdPreimageRead  = 5
	FdPreimageWrite = 6
)

// fcntl commands and the flags reported for them
const (
	FcntlGetFD = 1
	FcntlGetFL = 3

	ORdOnly = 0
	OWrOnly = 1
)

const (
	SysErrorSignal = ^uint64(0)
	EBADF          = 0x9
	EINVAL         = 0x16
)

// Register slots used by the syscall ABI.
const (
	RegSyscallNum = 2 // v0
	RegA0         = 4
	RegA1         = 5
	RegA2         = 6
	RegSyscallRet = 2 // v0
	RegSyscallErr = 7 // a3
)

const (
	InsnSyscall = uint32(0x0000000c)
	InsnWidth   = 4
)

const (
	PageAddrSize = 12
	PageSize     = 1 << PageAddrSize
	PageAddrMask = PageSize - 1

	HeapStart    = uint64(0x4000_0000_0000)
	HeapEnd      = uint64(0x6000_0000_0000)
	ProgramBreak = uint64(0x4000_0000_0000)
)
