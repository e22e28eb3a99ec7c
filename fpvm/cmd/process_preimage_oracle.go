package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	preimage "github.com/ethereum-optimism/optimism/op-preimage"

	"github.com/okx/xlayer-fault-proof/fpvm/oracle"
)

type rawHint string

func (rh rawHint) Hint() string {
	return string(rh)
}

type rawKey [32]byte

func (rk rawKey) PreimageKey() [32]byte {
	return rk
}

// ProcessPreimageOracle fetches pre-images from a server process,
// connected through file descriptors 3 (hint read) to 6 (pre-image write).
type ProcessPreimageOracle struct {
	pCl      *preimage.OracleClient
	hCl      *preimage.HintWriter
	cmd      *exec.Cmd
	waitErr  chan error
	ioCtx    context.Context
	cancelIO context.CancelCauseFunc
}

const clientPollTimeout = time.Second * 15

// NewProcessPreimageOracle prepares the server process. Without a name, every lookup fails with oracle.ErrPreimageNotFound.
func NewProcessPreimageOracle(name string, args []string, stdout, stderr io.Writer) (*ProcessPreimageOracle, error) {
	if name == "" {
		return &ProcessPreimageOracle{}, nil
	}

	pClientRW, pOracleRW, err := preimage.CreateBidirectionalChannel()
	if err != nil {
		return nil, err
	}
	hClientRW, hOracleRW, err := preimage.CreateBidirectionalChannel()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(name, args...) // nosemgrep
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = []*os.File{
		hOracleRW.Reader(),
		hOracleRW.Writer(),
		pOracleRW.Reader(),
		pOracleRW.Writer(),
	}

	po := newPreimageOracleClient(pClientRW, hClientRW, clientPollTimeout)
	po.cmd = cmd
	po.waitErr = make(chan error)
	return po, nil
}

// newPreimageOracleClient connects to a server over the client ends of the pre-image and hint channels.
func newPreimageOracleClient(pClientRW, hClientRW preimage.FileChannel, pollTimeout time.Duration) *ProcessPreimageOracle {
	// the client ends stay open when the server exits, poll so reads do not block forever
	ctx, cancelIO := context.WithCancelCause(context.Background())
	preimageClientIO := preimage.NewFilePoller(ctx, pClientRW, pollTimeout)
	hostClientIO := preimage.NewFilePoller(ctx, hClientRW, pollTimeout)
	return &ProcessPreimageOracle{
		pCl:      preimage.NewOracleClient(preimageClientIO),
		hCl:      preimage.NewHintWriter(hostClientIO),
		ioCtx:    ctx,
		cancelIO: cancelIO,
	}
}

func (p *ProcessPreimageOracle) GetPreimage(k [32]byte) (data []byte, err error) {
	if p.pCl == nil {
		return nil, fmt.Errorf("%w: no pre-image server for key %x", oracle.ErrPreimageNotFound, k)
	}
	// the client panics on I/O errors, such as the server exiting on a key it does not hold
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: key %x: %v", oracle.ErrPreimageNotFound, k, r)
			if cause := context.Cause(p.ioCtx); cause != nil {
				err = fmt.Errorf("%w: %w", err, cause)
			}
		}
	}()
	return p.pCl.Get(rawKey(k)), nil
}

func (p *ProcessPreimageOracle) Start() error {
	if p.cmd == nil {
		return nil
	}
	err := p.cmd.Start()
	if err != nil {
		return err
	}
	go p.wait()
	return nil
}

func (p *ProcessPreimageOracle) Close() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Signal(os.Interrupt)
	return <-p.waitErr
}

func (p *ProcessPreimageOracle) wait() {
	err := p.cmd.Wait()
	var waitErr error
	var exitErr *exec.ExitError
	if err != nil && (!errors.As(err, &exitErr) || !exitErr.Success()) {
		waitErr = err
	}
	if waitErr != nil {
		p.cancelIO(fmt.Errorf("%w: pre-image server has exited", waitErr))
	} else {
		p.cancelIO(errors.New("pre-image server has exited"))
	}
	p.waitErr <- waitErr
	close(p.waitErr)
}
