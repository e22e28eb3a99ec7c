package game

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxGameDepth keeps every position of the game tree within 64 bits.
const MaxGameDepth = 62

type Config struct {
	MaxDepth uint64
	// SplitDepth is the depth at which output bisection would turn into execution trace bisection.
	// It is recorded with the game, all depths are treated alike.
	SplitDepth  uint64
	MaxDuration time.Duration
	MinBond     *uint256.Int
	// AbsolutePrestate is the state hash the execution trace starts from.
	AbsolutePrestate common.Hash
}

func DefaultConfig() Config {
	return Config{
		MaxDepth:    30,
		SplitDepth:  14,
		MaxDuration: 7 * 24 * time.Hour,
		MinBond:     uint256.NewInt(1_000_000_000_000_000), // 0.001 ETH
	}
}

func (c *Config) Check() error {
	if c.MaxDepth == 0 || c.MaxDepth > MaxGameDepth {
		return fmt.Errorf("%w: max depth %d must be in [1, %d]", ErrInvalidConfig, c.MaxDepth, MaxGameDepth)
	}
	if c.SplitDepth >= c.MaxDepth {
		return fmt.Errorf("%w: split depth %d must be below max depth %d", ErrInvalidConfig, c.SplitDepth, c.MaxDepth)
	}
	if c.MaxDuration <= 0 {
		return fmt.Errorf("%w: max duration must be positive", ErrInvalidConfig)
	}
	if c.MinBond == nil {
		return fmt.Errorf("%w: min bond must be set", ErrInvalidConfig)
	}
	return nil
}
