package cmd

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"

	cannon "github.com/ethereum-optimism/optimism/cannon/cmd"
	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/okx/xlayer-fault-proof/fpvm/mipsevm"
	"github.com/okx/xlayer-fault-proof/fpvm/oracle"
)

type Proof struct {
	Step uint64 `json:"step"`

	Pre  common.Hash `json:"pre"`
	Post common.Hash `json:"post"`

	StateData hexutil.Bytes `json:"state-data"`
	ProofData hexutil.Bytes `json:"proof-data"`

	OracleKey    hexutil.Bytes `json:"oracle-key,omitempty"`
	OracleValue  hexutil.Bytes `json:"oracle-value,omitempty"`
	OracleOffset uint64        `json:"oracle-offset,omitempty"`
}

var _ mipsevm.PreimageOracle = (*ProcessPreimageOracle)(nil)

// Verify replays the step of the witness against an oracle that only holds the staged pre-image part,
// and returns the post-state hash the replay computes.
func Verify(wit *mipsevm.StepWitness, store oracle.KeyValueStore, caller common.Address, localContext common.Hash, pre common.Hash, l log.Logger) (common.Hash, error) {
	o := oracle.NewOracle(store, l)
	if wit.HasPreimage() {
		key, err := wit.StageOracle(o, localContext, caller)
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to stage pre-image part: %w", err)
		}
		l.Info("Staged pre-image part", "key", common.Hash(key), "offset", wit.PreimageOffset)
	}
	return mipsevm.NewSyscallExecutor(o, caller, localContext, l).Step(wit.State, wit.MemProof, pre, common.Hash{})
}

func Step(ctx *cli.Context) error {
	if ctx.Bool(cannon.RunPProfCPU.Name) {
		defer profile.Start(profile.NoShutdownHook, profile.ProfilePath("."), profile.CPUProfile).Stop()
	}
	l := Logger(os.Stderr, log.LevelInfo)

	caller, err := addressFlag(ctx, CallerFlag.Name)
	if err != nil {
		return err
	}
	localContext, err := hashFlag(ctx, LocalContextFlag.Name)
	if err != nil {
		return err
	}
	state, err := jsonutil.LoadJSON[mipsevm.State](ctx.Path(cannon.RunInputFlag.Name))
	if err != nil {
		return err
	}
	if state.Memory == nil {
		return fmt.Errorf("input state %s has no memory", ctx.Path(cannon.RunInputFlag.Name))
	}

	// split CLI args after first '--'
	args := ctx.Args().Slice()
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		args = []string{""}
	}
	po, err := NewProcessPreimageOracle(args[0], args[1:],
		&LoggingWriter{Name: "pre-image server std-out", Log: l},
		&LoggingWriter{Name: "pre-image server std-err", Log: l})
	if err != nil {
		return fmt.Errorf("failed to create pre-image oracle process: %w", err)
	}
	if err := po.Start(); err != nil {
		return fmt.Errorf("failed to start pre-image oracle server: %w", err)
	}
	defer func() {
		if err := po.Close(); err != nil {
			l.Error("failed to close pre-image server", "err", err)
		}
	}()
	for _, hint := range ctx.StringSlice(HintFlag.Name) {
		po.Hint(hint)
	}

	step := state.Step
	pc := state.Cpu.PC
	pre, err := state.EncodeWitness().StateHash()
	if err != nil {
		return fmt.Errorf("failed to hash prestate witness: %w", err)
	}
	witness, err := mipsevm.NewInstrumentedState(state, po, l).Step(true)
	if err != nil {
		return fmt.Errorf("failed at step %d (PC: %s): %w", step, HexU64(pc), err)
	}
	post, err := state.EncodeWitness().StateHash()
	if err != nil {
		return fmt.Errorf("failed to hash poststate witness: %w", err)
	}
	l.Info("Stepped", "step", step, "pc", HexU64(pc), "pre", pre, "post", post, "exited", state.Exited,
		"pages", state.Memory.PageCount(), "mem", state.Memory.Usage())

	if ctx.Bool(VerifyFlag.Name) {
		store, err := oracle.NewLevelDBStore(ctx.Path(OracleDBFlag.Name))
		if err != nil {
			return err
		}
		defer store.Close()
		computed, err := Verify(witness, store, caller, localContext, pre, l)
		if err != nil {
			return fmt.Errorf("failed to replay step %d: %w", step, err)
		}
		if computed != post {
			return fmt.Errorf("replay of step %d computed %s, expected %s", step, computed, post)
		}
		l.Info("Verified step", "post", computed)
	}

	if proofPath := ctx.Path(ProofFlag.Name); proofPath != "" {
		proof := &Proof{
			Step:      step,
			Pre:       pre,
			Post:      post,
			StateData: hexutil.Bytes(witness.State),
			ProofData: witness.MemProof,
		}
		if witness.HasPreimage() {
			proof.OracleKey = witness.PreimageKey[:]
			proof.OracleValue = witness.PreimageValue
			proof.OracleOffset = witness.PreimageOffset
		}
		if err := jsonutil.WriteJSON(proofPath, proof, OutFilePerm); err != nil {
			return fmt.Errorf("failed to write proof data: %w", err)
		}
	}
	if output := ctx.Path(cannon.RunOutputFlag.Name); output != "" {
		if err := jsonutil.WriteJSON(output, state, OutFilePerm); err != nil {
			return fmt.Errorf("failed to write state output: %w", err)
		}
	}
	return nil
}

var StepCommand = &cli.Command{
	Name:        "step",
	Usage:       "Run one syscall step and generate its proof data",
	Description: "Run one syscall step from a JSON state, verify it by replaying the witness, and write the proof and the post state. A pre-image server command can be passed after '--'.",
	Action:      Step,
	Flags: []cli.Flag{
		cannon.RunInputFlag,
		cannon.RunOutputFlag,
		ProofFlag,
		VerifyFlag,
		OracleDBFlag,
		CallerFlag,
		LocalContextFlag,
		HintFlag,
		cannon.RunPProfCPU,
	},
}
