package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/okx/xlayer-fault-proof/fpvm/game"
)

var (
	ErrInvalidConfig    = errors.New("invalid registry config")
	ErrInvalidClaim     = errors.New("invalid claim")
	ErrUnitNotFound     = errors.New("unit of work not found")
	ErrClaimRetracted   = errors.New("claim retracted")
	ErrClaimFinalized   = errors.New("claim finalized")
	ErrNotAuthorized    = errors.New("caller not authorized")
	ErrGameActive       = errors.New("unit of work already has an active game")
	ErrGameNotFound     = errors.New("game not found")
	ErrInsufficientBond = errors.New("insufficient creation bond")
)

type Config struct {
	// FinalizationPeriod is how long a published claim can be challenged.
	FinalizationPeriod time.Duration
	MinCreationBond    *uint256.Int
}

func DefaultConfig() Config {
	return Config{
		FinalizationPeriod: 7 * 24 * time.Hour,
		MinCreationBond:    uint256.NewInt(100_000_000_000_000_000), // 0.1 ETH
	}
}

func (c *Config) Check() error {
	if c.FinalizationPeriod <= 0 {
		return fmt.Errorf("%w: finalization period must be positive", ErrInvalidConfig)
	}
	if c.MinCreationBond == nil {
		return fmt.Errorf("%w: min creation bond must be set", ErrInvalidConfig)
	}
	return nil
}

type output struct {
	claim     game.PublishedClaim
	retracted bool
}

// Outputs keeps the claims published for each unit of work.
// Units are numbered in publication order starting at 0.
type Outputs struct {
	mu sync.RWMutex

	cfg   Config
	clock clock.Clock
	log   log.Logger

	outputs    map[uint64]*output
	nextIndex  uint64
	authorized map[common.Address]struct{}
}

func NewOutputs(cfg Config, cl clock.Clock, logger log.Logger) (*Outputs, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &Outputs{
		cfg:        cfg,
		clock:      cl,
		log:        logger,
		outputs:    make(map[uint64]*output),
		authorized: make(map[common.Address]struct{}),
	}, nil
}

// Propose publishes the claim of the next unit of work and returns its id.
func (o *Outputs) Propose(proposer common.Address, stateHash common.Hash, root common.Hash) (uint64, error) {
	if root == (common.Hash{}) {
		return 0, fmt.Errorf("%w: empty root", ErrInvalidClaim)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	unitID := o.nextIndex
	o.outputs[unitID] = &output{claim: game.PublishedClaim{
		Proposer:  proposer,
		StateHash: stateHash,
		Root:      root,
		Timestamp: o.clock.Now(),
	}}
	o.nextIndex = unitID + 1
	o.log.Info("Published claim", "unit", unitID, "proposer", proposer, "root", root, "stateHash", stateHash)
	return unitID, nil
}

func (o *Outputs) lookup(unitID uint64) (*output, error) {
	out, ok := o.outputs[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnitNotFound, unitID)
	}
	if out.retracted {
		return nil, fmt.Errorf("%w: %d", ErrClaimRetracted, unitID)
	}
	return out, nil
}

func (o *Outputs) GetClaim(unitID uint64) (game.PublishedClaim, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out, err := o.lookup(unitID)
	if err != nil {
		return game.PublishedClaim{}, err
	}
	return out.claim, nil
}

// IsFinalized reports whether the claim of the unit outlived its finalization period without being retracted.
func (o *Outputs) IsFinalized(unitID uint64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out, err := o.lookup(unitID)
	if err != nil {
		return false
	}
	return !o.clock.Now().Before(out.claim.Timestamp.Add(o.cfg.FinalizationPeriod))
}

// Authorize allows addr to retract claims.
func (o *Outputs) Authorize(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.authorized[addr] = struct{}{}
}

func (o *Outputs) IsAuthorized(addr common.Address) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.authorized[addr]
	return ok
}

// Retract removes the claim of the unit. A game that started before finalization may retract
// after the period elapsed, so finalization does not block retraction.
func (o *Outputs) Retract(caller common.Address, unitID uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.authorized[caller]; !ok {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, caller)
	}
	out, err := o.lookup(unitID)
	if err != nil {
		return err
	}
	out.retracted = true
	o.log.Warn("Retracted claim", "unit", unitID, "by", caller, "root", out.claim.Root)
	return nil
}

// LatestIndex is the id of the most recently published unit.
func (o *Outputs) LatestIndex() (uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.nextIndex == 0 {
		return 0, ErrUnitNotFound
	}
	return o.nextIndex - 1, nil
}

func (o *Outputs) NextIndex() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.nextIndex
}

func (o *Outputs) Config() Config {
	return o.cfg
}
