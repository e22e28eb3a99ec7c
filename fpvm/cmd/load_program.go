package cmd

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/okx/xlayer-fault-proof/fpvm/mipsevm"
)

var (
	LoadProgramPathFlag = &cli.PathFlag{
		Name:      "path",
		Usage:     "Path to the raw big-endian MIPS64 program image",
		TakesFile: true,
		Required:  true,
	}
	LoadProgramAddrFlag = &cli.Uint64Flag{
		Name:  "addr",
		Usage: "Address the program image is loaded at",
		Value: 0x1000,
	}
	LoadProgramPCFlag = &cli.Uint64Flag{
		Name:  "pc",
		Usage: "Entry point of the program. Defaults to the load address.",
	}
	LoadProgramOutFlag = &cli.PathFlag{
		Name:  "out",
		Usage: "Output path to write the JSON state to",
		Value: "state.json",
	}
)

// LoadProgram writes a fresh state with the program image loaded into memory.
func LoadProgram(ctx *cli.Context) error {
	l := Logger(os.Stderr, log.LevelInfo)
	path := ctx.Path(LoadProgramPathFlag.Name)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open program %s: %w", path, err)
	}
	defer f.Close()

	addr := ctx.Uint64(LoadProgramAddrFlag.Name)
	pc := addr
	if ctx.IsSet(LoadProgramPCFlag.Name) {
		pc = ctx.Uint64(LoadProgramPCFlag.Name)
	}
	if addr%4 != 0 || pc%4 != 0 {
		return fmt.Errorf("load address %s and entry %s must be instruction aligned", HexU64(addr), HexU64(pc))
	}

	state := mipsevm.NewState()
	state.Cpu.PC = pc
	state.Cpu.NextPC = pc + 4
	if err := state.Memory.SetMemoryRange(addr, f); err != nil {
		return fmt.Errorf("failed to load program %s: %w", path, err)
	}
	l.Info("Loaded program", "addr", HexU64(addr), "pc", HexU64(pc), "pages", state.Memory.PageCount(), "mem", state.Memory.Usage())

	if err := jsonutil.WriteJSON(ctx.Path(LoadProgramOutFlag.Name), state, OutFilePerm); err != nil {
		return fmt.Errorf("failed to write state output: %w", err)
	}
	return nil
}

var LoadProgramCommand = &cli.Command{
	Name:        "load-program",
	Usage:       "Load a raw program image into a fresh VM state",
	Description: "Load a raw program image at an address into the memory of a fresh VM state, and write the state as JSON.",
	Action:      LoadProgram,
	Flags: []cli.Flag{
		LoadProgramPathFlag,
		LoadProgramAddrFlag,
		LoadProgramPCFlag,
		LoadProgramOutFlag,
	},
}
