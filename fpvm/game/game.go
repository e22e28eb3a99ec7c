package game

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

type Status uint8

const (
	StatusInProgress Status = iota
	StatusChallengerWins
	StatusDefenderWins
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusChallengerWins:
		return "CHALLENGER_WINS"
	case StatusDefenderWins:
		return "DEFENDER_WINS"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

type Claim struct {
	Index    uint64
	Position Position
	Value    common.Hash
	// ParentIndex is nil for the root claim.
	ParentIndex *uint64
	Claimant    common.Address
	Bond        *uint256.Int
	// CounteredBy is the zero address while the claim is uncountered.
	CounteredBy common.Address
	CreatedAt   time.Time
}

func (c *Claim) IsCountered() bool {
	return c.CounteredBy != (common.Address{})
}

func (c *Claim) Depth() uint64 {
	return c.Position.Depth()
}

func (c *Claim) copy() Claim {
	out := *c
	if c.ParentIndex != nil {
		p := *c.ParentIndex
		out.ParentIndex = &p
	}
	if c.Bond != nil {
		out.Bond = c.Bond.Clone()
	}
	return out
}

// PublishedClaim is a claim about the result of a unit of work, as kept by the claim registry.
type PublishedClaim struct {
	Proposer  common.Address `json:"proposer"`
	StateHash common.Hash    `json:"stateHash"`
	Root      common.Hash    `json:"root"`
	Timestamp time.Time      `json:"timestamp"`
}

// ClaimRegistry keeps the published claims that games dispute.
type ClaimRegistry interface {
	GetClaim(unitID uint64) (PublishedClaim, error)
	// Retract removes the claim of the unit of work, the caller must be authorized to do so.
	Retract(caller common.Address, unitID uint64) error
}

// StepExecutor replays a single step from a state witness and its memory proofs.
// It fails if the witness does not hash to the pre-state, and returns the computed post-state.
type StepExecutor interface {
	Step(witness []byte, memProof []byte, pre common.Hash, post common.Hash) (common.Hash, error)
}

// Registrar is told when a game resolves.
type Registrar interface {
	OnResolved(unitID uint64, status Status)
}

type Deps struct {
	Registry  ClaimRegistry
	Executor  StepExecutor
	Registrar Registrar // optional
	Clock     clock.Clock
	Log       log.Logger
}

// Game is a bisection dispute game over the published claim of a unit of work.
// All operations are atomic: they either complete, or fail without changing the game.
type Game struct {
	mu sync.Mutex

	cfg  Config
	addr common.Address
	deps Deps
	log  log.Logger

	unitID         uint64
	proposerRoot   common.Hash
	challengerRoot common.Hash
	challenger     common.Address
	createdAt      time.Time

	claims       []*Claim
	status       Status
	stepped      bool
	steppedIndex uint64

	balance *uint256.Int
	winner  common.Address
	credit  map[common.Address]*uint256.Int
}

// New creates a game at addr, disputing the published claim of the unit of work.
// The root claim is the published claim, the creator bonds the game with the challenger root.
func New(cfg Config, addr common.Address, unitID uint64, challengerRoot common.Hash, creator common.Address, bond *uint256.Int, deps Deps) (*Game, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if deps.Registry == nil || deps.Executor == nil || deps.Clock == nil || deps.Log == nil {
		return nil, errors.New("game requires a registry, an executor, a clock and a logger")
	}
	published, err := deps.Registry.GetClaim(unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to load published claim %d: %w", unitID, err)
	}
	if bond == nil {
		bond = new(uint256.Int)
	}
	now := deps.Clock.Now()
	g := &Game{
		cfg:            cfg,
		addr:           addr,
		deps:           deps,
		log:            deps.Log.New("game", addr, "unit", unitID),
		unitID:         unitID,
		proposerRoot:   published.Root,
		challengerRoot: challengerRoot,
		challenger:     creator,
		createdAt:      now,
		status:         StatusInProgress,
		balance:        bond.Clone(),
		credit:         make(map[common.Address]*uint256.Int),
	}
	g.claims = append(g.claims, &Claim{
		Index:     0,
		Position:  RootPosition,
		Value:     published.Root,
		Claimant:  published.Proposer,
		Bond:      new(uint256.Int),
		CreatedAt: now,
	})
	g.log.Info("Created game", "root", published.Root, "challengerRoot", challengerRoot, "challenger", creator)
	return g, nil
}

func (g *Game) Attack(caller common.Address, parentIndex uint64, value common.Hash, bond *uint256.Int) (uint64, error) {
	return g.move(caller, parentIndex, value, bond, true)
}

func (g *Game) Defend(caller common.Address, parentIndex uint64, value common.Hash, bond *uint256.Int) (uint64, error) {
	return g.move(caller, parentIndex, value, bond, false)
}

func (g *Game) move(caller common.Address, parentIndex uint64, value common.Hash, bond *uint256.Int, isAttack bool) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusInProgress {
		return 0, ErrGameNotInProgress
	}
	if g.stepped {
		return 0, ErrStepAlreadyExecuted
	}
	now := g.deps.Clock.Now()
	if !now.Before(g.deadline()) {
		return 0, fmt.Errorf("%w: deadline %s passed", ErrClockExpired, g.deadline())
	}
	if parentIndex >= uint64(len(g.claims)) {
		return 0, fmt.Errorf("%w: index %d, %d claims", ErrInvalidParent, parentIndex, len(g.claims))
	}
	parent := g.claims[parentIndex]
	if parent.IsCountered() {
		return 0, fmt.Errorf("%w: claim %d countered by %s", ErrClaimAlreadyCountered, parentIndex, parent.CounteredBy)
	}
	if bond == nil || bond.Lt(g.cfg.MinBond) {
		return 0, fmt.Errorf("%w: minimum is %s", ErrInsufficientBond, g.cfg.MinBond)
	}
	pos := parent.Position.Defend()
	if isAttack {
		pos = parent.Position.Attack()
	}
	if pos.Depth() > g.cfg.MaxDepth {
		return 0, fmt.Errorf("%w: depth %d, max %d", ErrGameDepthExceeded, pos.Depth(), g.cfg.MaxDepth)
	}

	parent.CounteredBy = caller
	index := uint64(len(g.claims))
	pi := parentIndex
	g.claims = append(g.claims, &Claim{
		Index:       index,
		Position:    pos,
		Value:       value,
		ParentIndex: &pi,
		Claimant:    caller,
		Bond:        bond.Clone(),
		CreatedAt:   now,
	})
	g.balance.Add(g.balance, bond)
	g.log.Info("Move", "attack", isAttack, "parent", parentIndex, "index", index, "position", uint64(pos), "value", value, "claimant", caller)
	return index, nil
}

// Step replays the single step of the claim at step depth, and counters the claim if the step disproves it.
// The first claim is stepped from the absolute prestate, all others from the value of their parent.
// A step that confirms the claim is rejected with ErrValidStep, and the game's single step stays unused.
func (g *Game) Step(caller common.Address, claimIndex uint64, witness []byte, memProof []byte, claimedPostState common.Hash) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusInProgress {
		return ErrGameNotInProgress
	}
	if g.stepped {
		return ErrStepAlreadyExecuted
	}
	if claimIndex >= uint64(len(g.claims)) {
		return fmt.Errorf("%w: index %d", ErrClaimNotFound, claimIndex)
	}
	claim := g.claims[claimIndex]
	if claim.Depth()+1 < g.cfg.MaxDepth {
		return fmt.Errorf("%w: depth %d, max depth %d", ErrStepDepth, claim.Depth(), g.cfg.MaxDepth)
	}
	if claim.IsCountered() {
		return fmt.Errorf("%w: claim %d countered by %s", ErrClaimAlreadyCountered, claimIndex, claim.CounteredBy)
	}

	pre := g.cfg.AbsolutePrestate
	if claimIndex != 0 {
		pre = g.claims[*claim.ParentIndex].Value
	}
	post := claim.Value

	computed, err := g.deps.Executor.Step(witness, memProof, pre, post)
	if err != nil {
		return fmt.Errorf("step execution failed: %w", err)
	}
	if computed != claimedPostState {
		return fmt.Errorf("%w: computed %s, claimed %s", ErrPostStateMismatch, computed, claimedPostState)
	}
	if computed == post {
		return fmt.Errorf("%w: claim %d, post-state %s", ErrValidStep, claimIndex, post)
	}

	claim.CounteredBy = caller
	g.stepped = true
	g.steppedIndex = claimIndex
	g.log.Info("Step disproved claim", "index", claimIndex, "pre", pre, "claimed", post, "computed", computed, "caller", caller)
	return nil
}

func (g *Game) deadline() time.Time {
	return g.createdAt.Add(g.cfg.MaxDuration)
}

func (g *Game) canResolve() bool {
	return g.status == StatusInProgress && (g.stepped || !g.deps.Clock.Now().Before(g.deadline()))
}

// Resolve decides the game by the last uncountered claim: the challenger wins at odd depth,
// the defender at even depth. The claimant of that claim is credited with the whole balance.
func (g *Game) Resolve() (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusInProgress {
		return g.status, ErrGameNotInProgress
	}
	if !g.canResolve() {
		return g.status, fmt.Errorf("%w: deadline %s", ErrClockNotExpired, g.deadline())
	}

	var decisive *Claim
	for i := len(g.claims) - 1; i >= 0; i-- {
		if !g.claims[i].IsCountered() {
			decisive = g.claims[i]
			break
		}
	}
	var status Status
	var winner common.Address
	if decisive != nil {
		status = StatusDefenderWins
		if decisive.Depth()%2 == 1 {
			status = StatusChallengerWins
		}
		winner = decisive.Claimant
	} else {
		// every claim is countered, the step disproved the last claim standing
		decisive = g.claims[g.steppedIndex]
		status = StatusChallengerWins
		if decisive.Depth()%2 == 1 {
			status = StatusDefenderWins
		}
		winner = decisive.CounteredBy
	}

	if status == StatusChallengerWins {
		if err := g.deps.Registry.Retract(g.addr, g.unitID); err != nil {
			return g.status, fmt.Errorf("failed to retract claim %d: %w", g.unitID, err)
		}
	}

	g.status = status
	g.winner = winner
	credit, ok := g.credit[g.winner]
	if !ok {
		credit = new(uint256.Int)
		g.credit[g.winner] = credit
	}
	credit.Add(credit, g.balance)
	g.balance = new(uint256.Int)

	g.log.Info("Resolved game", "status", status, "winner", g.winner, "claim", decisive.Index, "depth", decisive.Depth(), "credit", credit)
	if g.deps.Registrar != nil {
		g.deps.Registrar.OnResolved(g.unitID, status)
	}
	return status, nil
}

// ClaimCredit pays out the credit of the address.
func (g *Game) ClaimCredit(addr common.Address) (*uint256.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	credit, ok := g.credit[addr]
	if !ok || credit.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrNoCredit, addr)
	}
	delete(g.credit, addr)
	return credit, nil
}

func (g *Game) Credit(addr common.Address) *uint256.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if credit, ok := g.credit[addr]; ok {
		return credit.Clone()
	}
	return new(uint256.Int)
}

func (g *Game) ClaimCount() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return uint64(len(g.claims))
}

func (g *Game) GetClaim(index uint64) (Claim, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if index >= uint64(len(g.claims)) {
		return Claim{}, fmt.Errorf("%w: index %d", ErrClaimNotFound, index)
	}
	return g.claims[index].copy(), nil
}

// CurrentDepth is the depth of the most recent claim.
func (g *Game) CurrentDepth() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.claims[len(g.claims)-1].Depth()
}

func (g *Game) CanResolve() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canResolve()
}

func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Winner is the zero address while the game is in progress.
func (g *Game) Winner() common.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.winner
}

func (g *Game) Balance() *uint256.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance.Clone()
}

func (g *Game) Stepped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stepped
}

func (g *Game) Address() common.Address {
	return g.addr
}

func (g *Game) UnitID() uint64 {
	return g.unitID
}

func (g *Game) Config() Config {
	return g.cfg
}

func (g *Game) CreatedAt() time.Time {
	return g.createdAt
}

func (g *Game) Deadline() time.Time {
	return g.deadline()
}

func (g *Game) RootClaim() common.Hash {
	return g.proposerRoot
}

func (g *Game) ChallengerRoot() common.Hash {
	return g.challengerRoot
}

func (g *Game) Challenger() common.Address {
	return g.challenger
}
