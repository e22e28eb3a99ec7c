package cmd

import (
	"fmt"

	preimage "github.com/ethereum-optimism/optimism/op-preimage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/okx/xlayer-fault-proof/fpvm/oracle"
)

func parseHashKind(s string) (oracle.HashKind, error) {
	switch s {
	case "keccak256", "keccak":
		return oracle.HashKeccak256, nil
	case "sha256":
		return oracle.HashSha256, nil
	default:
		return 0, fmt.Errorf("%w: %q", oracle.ErrUnsupportedHashKind, s)
	}
}

// PreimageKey derives the key a pre-image is stored under.
// Local keys are localized only when a caller is given.
func PreimageKey(ctx *cli.Context) error {
	var key [32]byte
	switch kind := ctx.String(KindFlag.Name); kind {
	case "local":
		ident := ctx.Uint64(IdentFlag.Name)
		if !ctx.IsSet(CallerFlag.Name) {
			key = preimage.LocalIndexKey(ident).PreimageKey()
			break
		}
		caller, err := addressFlag(ctx, CallerFlag.Name)
		if err != nil {
			return err
		}
		localContext, err := hashFlag(ctx, LocalContextFlag.Name)
		if err != nil {
			return err
		}
		key = oracle.LocalKey(ident, caller, localContext)
	default:
		hashKind, err := parseHashKind(kind)
		if err != nil {
			return err
		}
		data, err := hexutil.Decode(ctx.String(DataFlag.Name))
		if err != nil {
			return fmt.Errorf("invalid pre-image data: %w", err)
		}
		key, err = oracle.ContentKey(data, hashKind)
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(ctx.App.Writer, common.Hash(key).Hex())
	return nil
}

var PreimageKeyCommand = &cli.Command{
	Name:        "preimage-key",
	Usage:       "Derive the key of a pre-image",
	Description: "Derive the key of a pre-image. Local keys are localized to the caller and local context when a caller is set.",
	Action:      PreimageKey,
	Flags: []cli.Flag{
		KindFlag,
		DataFlag,
		IdentFlag,
		CallerFlag,
		LocalContextFlag,
	},
}
