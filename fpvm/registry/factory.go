package registry

import (
	"fmt"
	"sync"

	"github.com/ethereum-optimism/optimism/op-service/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/okx/xlayer-fault-proof/fpvm/game"
)

// Factory creates dispute games against published claims, one active game per unit of work.
type Factory struct {
	mu sync.Mutex

	addr     common.Address
	nonce    uint64
	gameCfg  game.Config
	outputs  *Outputs
	executor game.StepExecutor
	clock    clock.Clock
	log      log.Logger

	games  map[common.Address]*game.Game
	order  []*game.Game
	active map[uint64]common.Address
}

func NewFactory(addr common.Address, gameCfg game.Config, outputs *Outputs, executor game.StepExecutor, cl clock.Clock, logger log.Logger) (*Factory, error) {
	if err := gameCfg.Check(); err != nil {
		return nil, err
	}
	return &Factory{
		addr:     addr,
		gameCfg:  gameCfg,
		outputs:  outputs,
		executor: executor,
		clock:    cl,
		log:      logger.New("factory", addr),
		games:    make(map[common.Address]*game.Game),
		active:   make(map[uint64]common.Address),
	}, nil
}

// Create starts a game disputing the published claim of unitID. The creation bond is escrowed in the game.
func (f *Factory) Create(creator common.Address, unitID uint64, challengerRoot common.Hash, bond *uint256.Int) (*game.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	minBond := f.outputs.Config().MinCreationBond
	if bond == nil || bond.Lt(minBond) {
		return nil, fmt.Errorf("%w: minimum is %s", ErrInsufficientBond, minBond)
	}
	if _, err := f.outputs.GetClaim(unitID); err != nil {
		return nil, err
	}
	if f.outputs.IsFinalized(unitID) {
		return nil, fmt.Errorf("%w: %d", ErrClaimFinalized, unitID)
	}
	if addr, ok := f.active[unitID]; ok {
		return nil, fmt.Errorf("%w: %d in game %s", ErrGameActive, unitID, addr)
	}

	addr := crypto.CreateAddress(f.addr, f.nonce)
	g, err := game.New(f.gameCfg, addr, unitID, challengerRoot, creator, bond, game.Deps{
		Registry:  f.outputs,
		Executor:  f.executor,
		Registrar: f,
		Clock:     f.clock,
		Log:       f.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create game for unit %d: %w", unitID, err)
	}
	f.outputs.Authorize(addr)
	f.nonce++
	f.games[addr] = g
	f.order = append(f.order, g)
	f.active[unitID] = addr
	return g, nil
}

// OnResolved frees the unit of work for a new game.
func (f *Factory) OnResolved(unitID uint64, status game.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, unitID)
	f.log.Info("Game resolved", "unit", unitID, "status", status)
}

func (f *Factory) Game(addr common.Address) (*game.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, addr)
	}
	return g, nil
}

func (f *Factory) ActiveGame(unitID uint64) (*game.Game, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr, ok := f.active[unitID]
	if !ok {
		return nil, false
	}
	return f.games[addr], true
}

// Games lists all games in creation order.
func (f *Factory) Games() []*game.Game {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*game.Game(nil), f.order...)
}
