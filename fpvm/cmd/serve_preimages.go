package cmd

import (
	"fmt"
	"os"

	preimage "github.com/ethereum-optimism/optimism/op-preimage"
	"github.com/ethereum-optimism/optimism/op-service/jsonutil"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/okx/xlayer-fault-proof/fpvm/oracle"
)

// File descriptors of the server end, as handed to the process by ProcessPreimageOracle.
const (
	hintReadFd      = 3
	hintWriteFd     = 4
	preimageReadFd  = 5
	preimageWriteFd = 6
)

// PreimageFile lists the pre-images a server answers with.
type PreimageFile struct {
	Keccak256 []hexutil.Bytes          `json:"keccak256,omitempty"`
	Sha256    []hexutil.Bytes          `json:"sha256,omitempty"`
	Local     map[uint64]hexutil.Bytes `json:"local,omitempty"`
}

func (f *PreimageFile) Preimages() (*oracle.Preimages, error) {
	p := oracle.NewPreimages()
	for _, v := range f.Keccak256 {
		p.AddPreimage(v)
	}
	for _, v := range f.Sha256 {
		p.AddSha256(v)
	}
	for ident, v := range f.Local {
		if len(v) > oracle.MaxLocalDataSize {
			return nil, fmt.Errorf("local data %d is %d bytes, max %d", ident, len(v), oracle.MaxLocalDataSize)
		}
		p.AddLocalData(ident, v)
	}
	return p, nil
}

func ServePreimages(ctx *cli.Context) error {
	l := Logger(os.Stderr, log.LevelInfo).New("role", "preimage-server")
	file, err := jsonutil.LoadJSON[PreimageFile](ctx.Path(PreimagesFlag.Name))
	if err != nil {
		return fmt.Errorf("failed to load pre-images: %w", err)
	}
	preimages, err := file.Preimages()
	if err != nil {
		return err
	}

	srv := oracle.NewServer(preimages, func(hint string) error {
		l.Info("Received hint", "hint", hint)
		return nil
	}, l)
	hints := preimage.NewReadWritePair(os.NewFile(hintReadFd, "preimage-hint-read"), os.NewFile(hintWriteFd, "preimage-hint-write"))
	requests := preimage.NewReadWritePair(os.NewFile(preimageReadFd, "preimage-oracle-read"), os.NewFile(preimageWriteFd, "preimage-oracle-write"))
	defer hints.Close()
	defer requests.Close()

	l.Info("Serving pre-images", "count", preimages.Len())
	errs := make(chan error, 2)
	go func() {
		errs <- srv.ServeHints(ctx.Context, hints)
	}()
	go func() {
		errs <- srv.ServePreimages(ctx.Context, requests)
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if err != nil {
				return err
			}
		case <-ctx.Context.Done():
			l.Info("Shutting down")
			return nil
		}
	}
	return nil
}

var ServePreimagesCommand = &cli.Command{
	Name:        "serve-preimages",
	Usage:       "Serve pre-images to a VM host over file descriptors 3 to 6",
	Description: "Serve pre-images and consume hints over the pre-image oracle protocol, on the file descriptors a VM host passes to its pre-image server.",
	Action:      ServePreimages,
	Flags: []cli.Flag{
		PreimagesFlag,
	},
}
