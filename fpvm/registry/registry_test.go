package registry

import (
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/clock"
	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/okx/xlayer-fault-proof/fpvm/game"
	"github.com/okx/xlayer-fault-proof/fpvm/mips"
	"github.com/okx/xlayer-fault-proof/fpvm/mipsevm"
	"github.com/okx/xlayer-fault-proof/fpvm/oracle"
)

var (
	factoryAddr = common.HexToAddress("0xfac7")
	proposer    = common.HexToAddress("0x1111")
	challenger  = common.HexToAddress("0x2222")
)

type noopExecutor struct{}

func (noopExecutor) Step(witness []byte, memProof []byte, pre common.Hash, post common.Hash) (common.Hash, error) {
	return post, nil
}

func testRegistryConfig() Config {
	return Config{FinalizationPeriod: 24 * time.Hour, MinCreationBond: uint256.NewInt(500)}
}

func testGameConfig(maxDepth uint64) game.Config {
	return game.Config{
		MaxDepth:    maxDepth,
		MaxDuration: time.Hour,
		MinBond:     uint256.NewInt(100),
	}
}

func newOutputs(t *testing.T, cl clock.Clock) *Outputs {
	outputs, err := NewOutputs(testRegistryConfig(), cl, testlog.Logger(t, log.LevelInfo))
	require.NoError(t, err)
	return outputs
}

func TestConfigCheck(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Check())
	cfg.FinalizationPeriod = 0
	require.ErrorIs(t, cfg.Check(), ErrInvalidConfig)
	cfg = DefaultConfig()
	cfg.MinCreationBond = nil
	require.ErrorIs(t, cfg.Check(), ErrInvalidConfig)
}

func TestOutputs(t *testing.T) {
	cl := clock.NewDeterministicClock(time.Unix(1_700_000_000, 0))
	outputs := newOutputs(t, cl)

	_, err := outputs.LatestIndex()
	require.ErrorIs(t, err, ErrUnitNotFound)
	_, err = outputs.Propose(proposer, common.Hash{}, common.Hash{})
	require.ErrorIs(t, err, ErrInvalidClaim)

	id0, err := outputs.Propose(proposer, common.Hash{0xa}, common.Hash{0x1})
	require.NoError(t, err)
	cl.AdvanceTime(time.Hour)
	id1, err := outputs.Propose(proposer, common.Hash{0xb}, common.Hash{0x2})
	require.NoError(t, err)
	require.Equal(t, uint64(0), id0)
	require.Equal(t, uint64(1), id1)
	require.Equal(t, uint64(2), outputs.NextIndex())
	latest, err := outputs.LatestIndex()
	require.NoError(t, err)
	require.Equal(t, id1, latest)

	claim, err := outputs.GetClaim(id1)
	require.NoError(t, err)
	require.Equal(t, proposer, claim.Proposer)
	require.Equal(t, common.Hash{0xb}, claim.StateHash)
	require.Equal(t, common.Hash{0x2}, claim.Root)
	require.Equal(t, cl.Now(), claim.Timestamp)

	_, err = outputs.GetClaim(2)
	require.ErrorIs(t, err, ErrUnitNotFound)

	t.Run("finalization", func(t *testing.T) {
		require.False(t, outputs.IsFinalized(id0))
		cl.AdvanceTime(23 * time.Hour)
		require.True(t, outputs.IsFinalized(id0))
		require.False(t, outputs.IsFinalized(id1))
		require.False(t, outputs.IsFinalized(7))
	})

	t.Run("retract", func(t *testing.T) {
		retractor := common.HexToAddress("0x9a3e")
		require.ErrorIs(t, outputs.Retract(retractor, id1), ErrNotAuthorized)
		outputs.Authorize(retractor)
		require.True(t, outputs.IsAuthorized(retractor))
		require.NoError(t, outputs.Retract(retractor, id1))

		_, err := outputs.GetClaim(id1)
		require.ErrorIs(t, err, ErrClaimRetracted)
		require.ErrorIs(t, outputs.Retract(retractor, id1), ErrClaimRetracted)
		require.ErrorIs(t, outputs.Retract(retractor, 9), ErrUnitNotFound)

		cl.AdvanceTime(48 * time.Hour)
		require.False(t, outputs.IsFinalized(id1), "retracted claims never finalize")
	})
}

func TestFactory(t *testing.T) {
	setup := func(t *testing.T) (*clock.DeterministicClock, *Outputs, *Factory) {
		cl := clock.NewDeterministicClock(time.Unix(1_700_000_000, 0))
		outputs := newOutputs(t, cl)
		factory, err := NewFactory(factoryAddr, testGameConfig(4), outputs, noopExecutor{}, cl, testlog.Logger(t, log.LevelInfo))
		require.NoError(t, err)
		return cl, outputs, factory
	}

	t.Run("create", func(t *testing.T) {
		_, outputs, factory := setup(t)
		unit, err := outputs.Propose(proposer, common.Hash{}, common.Hash{0x1})
		require.NoError(t, err)

		g, err := factory.Create(challenger, unit, common.Hash{0x2}, uint256.NewInt(500))
		require.NoError(t, err)
		require.Equal(t, crypto.CreateAddress(factoryAddr, 0), g.Address())
		require.Equal(t, unit, g.UnitID())
		require.Equal(t, uint256.NewInt(500), g.Balance())
		require.Equal(t, common.Hash{0x1}, g.RootClaim())
		require.True(t, outputs.IsAuthorized(g.Address()))

		got, err := factory.Game(g.Address())
		require.NoError(t, err)
		require.Same(t, g, got)
		active, ok := factory.ActiveGame(unit)
		require.True(t, ok)
		require.Same(t, g, active)
		require.Equal(t, []*game.Game{g}, factory.Games())

		_, err = factory.Create(challenger, unit, common.Hash{0x2}, uint256.NewInt(500))
		require.ErrorIs(t, err, ErrGameActive)
		_, err = factory.Game(common.Address{})
		require.ErrorIs(t, err, ErrGameNotFound)
	})

	t.Run("rejections", func(t *testing.T) {
		cl, outputs, factory := setup(t)
		_, err := factory.Create(challenger, 0, common.Hash{0x2}, uint256.NewInt(500))
		require.ErrorIs(t, err, ErrUnitNotFound)

		unit, err := outputs.Propose(proposer, common.Hash{}, common.Hash{0x1})
		require.NoError(t, err)
		_, err = factory.Create(challenger, unit, common.Hash{0x2}, uint256.NewInt(499))
		require.ErrorIs(t, err, ErrInsufficientBond)
		_, err = factory.Create(challenger, unit, common.Hash{0x2}, nil)
		require.ErrorIs(t, err, ErrInsufficientBond)

		cl.AdvanceTime(24 * time.Hour)
		_, err = factory.Create(challenger, unit, common.Hash{0x2}, uint256.NewInt(500))
		require.ErrorIs(t, err, ErrClaimFinalized)
		require.Empty(t, factory.Games())
	})

	t.Run("challenger wins", func(t *testing.T) {
		cl, outputs, factory := setup(t)
		unit, err := outputs.Propose(proposer, common.Hash{}, common.Hash{0x1})
		require.NoError(t, err)
		g, err := factory.Create(challenger, unit, common.Hash{0x2}, uint256.NewInt(500))
		require.NoError(t, err)
		_, err = g.Attack(challenger, 0, common.Hash{0x3}, uint256.NewInt(100))
		require.NoError(t, err)

		cl.AdvanceTime(time.Hour)
		status, err := g.Resolve()
		require.NoError(t, err)
		require.Equal(t, game.StatusChallengerWins, status)

		_, err = outputs.GetClaim(unit)
		require.ErrorIs(t, err, ErrClaimRetracted)
		_, ok := factory.ActiveGame(unit)
		require.False(t, ok)
		_, err = factory.Create(challenger, unit, common.Hash{0x2}, uint256.NewInt(500))
		require.ErrorIs(t, err, ErrClaimRetracted)
	})

	t.Run("defender wins", func(t *testing.T) {
		cl, outputs, factory := setup(t)
		unit, err := outputs.Propose(proposer, common.Hash{}, common.Hash{0x1})
		require.NoError(t, err)
		g, err := factory.Create(challenger, unit, common.Hash{0x2}, uint256.NewInt(500))
		require.NoError(t, err)

		cl.AdvanceTime(time.Hour)
		status, err := g.Resolve()
		require.NoError(t, err)
		require.Equal(t, game.StatusDefenderWins, status)
		require.Equal(t, uint256.NewInt(500), g.Credit(proposer))

		_, err = outputs.GetClaim(unit)
		require.NoError(t, err)
		again, err := factory.Create(challenger, unit, common.Hash{0x2}, uint256.NewInt(500))
		require.NoError(t, err, "the unit is free again")
		require.Equal(t, crypto.CreateAddress(factoryAddr, 1), again.Address())
		require.Len(t, factory.Games(), 2)
	})
}

// TestSyscallStepGame disputes a wrong published result of a single mmap syscall,
// and settles it with a step replayed by the syscall executor.
func TestSyscallStepGame(t *testing.T) {
	logger := testlog.Logger(t, log.LevelInfo)
	cl := clock.NewDeterministicClock(time.Unix(1_700_000_000, 0))

	state := mipsevm.NewState()
	state.Cpu = mipsevm.CpuScalars{PC: 0x1000, NextPC: 0x1004}
	state.Memory.SetWord(0x1000, uint64(mips.InsnSyscall)<<32)
	state.Registers[mips.RegSyscallNum] = mips.SysMmap
	state.Registers[mips.RegA1] = 5000

	pre, err := state.EncodeWitness().StateHash()
	require.NoError(t, err)
	wit, err := mipsevm.NewInstrumentedState(state, oracle.NewPreimages(), logger).Step(true)
	require.NoError(t, err)
	post, err := state.EncodeWitness().StateHash()
	require.NoError(t, err)
	require.Equal(t, uint64(mips.HeapStart+0x2000), state.Heap)

	outputs := newOutputs(t, cl)
	unit, err := outputs.Propose(proposer, common.Hash{}, common.HexToHash("0xbad"))
	require.NoError(t, err)

	cfg := testGameConfig(1)
	cfg.AbsolutePrestate = pre
	executor := mipsevm.NewSyscallExecutor(oracle.NewMemoryOracle(logger), challenger, common.Hash{}, logger)
	factory, err := NewFactory(factoryAddr, cfg, outputs, executor, cl, logger)
	require.NoError(t, err)
	g, err := factory.Create(challenger, unit, post, uint256.NewInt(500))
	require.NoError(t, err)

	require.NoError(t, g.Step(challenger, 0, wit.State, wit.MemProof, post))
	require.True(t, g.CanResolve())
	status, err := g.Resolve()
	require.NoError(t, err)
	require.Equal(t, game.StatusChallengerWins, status)
	require.Equal(t, challenger, g.Winner())

	_, err = outputs.GetClaim(unit)
	require.ErrorIs(t, err, ErrClaimRetracted)
}
