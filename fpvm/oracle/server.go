package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	preimage "github.com/ethereum-optimism/optimism/op-preimage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// Preimages is the host side collection of full pre-images, served to the
// program over the pre-image channel, and staged into an Oracle for a step.
type Preimages struct {
	mu   sync.RWMutex
	data map[common.Hash][]byte
}

func NewPreimages() *Preimages {
	return &Preimages{data: make(map[common.Hash][]byte)}
}

// AddPreimage adds the data under its keccak256 key, and returns the key.
func (p *Preimages) AddPreimage(data []byte) common.Hash {
	return p.add(Keccak256Key(data), data)
}

func (p *Preimages) AddSha256(data []byte) common.Hash {
	return p.add(Sha256Key(data), data)
}

// AddLocalData adds local data under the raw local key of the identifier,
// as the program requests it.
func (p *Preimages) AddLocalData(ident uint64, data []byte) common.Hash {
	return p.add(preimage.LocalIndexKey(ident).PreimageKey(), data)
}

func (p *Preimages) add(key [32]byte, data []byte) common.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[key] = data
	return key
}

func (p *Preimages) GetPreimage(key [32]byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: key %x", ErrPreimageNotFound, key)
	}
	return v, nil
}

func (p *Preimages) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.data)
}

// Server answers pre-image requests and consumes hints from a program,
// following the op-preimage wire protocol.
type Server struct {
	preimages *Preimages
	hints     preimage.HintHandler
	log       log.Logger
}

func NewServer(preimages *Preimages, hints preimage.HintHandler, logger log.Logger) *Server {
	if hints == nil {
		hints = func(hint string) error { return nil }
	}
	return &Server{preimages: preimages, hints: hints, log: logger}
}

func (s *Server) getPreimage(key [32]byte) ([]byte, error) {
	v, err := s.preimages.GetPreimage(key)
	if err != nil {
		s.log.Warn("Pre-image not found", "key", common.Hash(key))
		return nil, err
	}
	s.log.Debug("Serving pre-image", "key", common.Hash(key), "size", len(v))
	return v, nil
}

// ServePreimages answers requests until the channel is closed or the context is done.
func (s *Server) ServePreimages(ctx context.Context, rw io.ReadWriter) error {
	srv := preimage.NewOracleServer(rw)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := srv.NextPreimageRequest(s.getPreimage); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to serve pre-image request: %w", err)
		}
	}
}

// ServeHints routes hints until the channel is closed or the context is done.
func (s *Server) ServeHints(ctx context.Context, rw io.ReadWriter) error {
	hr := preimage.NewHintReader(rw)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := hr.NextHint(s.hints); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read hint: %w", err)
		}
	}
}
