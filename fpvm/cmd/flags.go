package cmd

import (
	"fmt"
	"os"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "FP"

var OutFilePerm = os.FileMode(0o755)

func prefixEnvVars(name string) []string {
	return opservice.PrefixEnvVar(EnvVarPrefix, name)
}

var (
	CallerFlag = &cli.StringFlag{
		Name:    "caller",
		Usage:   "Address that local pre-image data is localized to",
		EnvVars: prefixEnvVars("CALLER"),
		Value:   common.Address{}.Hex(),
	}
	LocalContextFlag = &cli.StringFlag{
		Name:    "local-context",
		Usage:   "32 byte context that local pre-image data is localized to",
		EnvVars: prefixEnvVars("LOCAL_CONTEXT"),
		Value:   common.Hash{}.Hex(),
	}
	OracleDBFlag = &cli.PathFlag{
		Name:    "oracle.db",
		Usage:   "LevelDB directory of the pre-image part store. Kept in memory if empty.",
		EnvVars: prefixEnvVars("ORACLE_DB"),
	}
	PreimagesFlag = &cli.PathFlag{
		Name:     "preimages",
		Usage:    "JSON file with the pre-images to serve",
		EnvVars:  prefixEnvVars("PREIMAGES"),
		Required: true,
	}
	ProofFlag = &cli.PathFlag{
		Name:    "proof",
		Usage:   "Path to write the step proof JSON to. Not written if empty.",
		EnvVars: prefixEnvVars("PROOF"),
	}
	VerifyFlag = &cli.BoolFlag{
		Name:    "verify",
		Usage:   "Replay the step from its witness and check the post-state",
		EnvVars: prefixEnvVars("VERIFY"),
		Value:   true,
	}
	HintFlag = &cli.StringSliceFlag{
		Name:    "hint",
		Usage:   "Hints to send to the pre-image server before stepping",
		EnvVars: prefixEnvVars("HINT"),
	}
	KindFlag = &cli.StringFlag{
		Name:    "kind",
		Usage:   "Pre-image key kind: local, keccak256 or sha256",
		EnvVars: prefixEnvVars("KIND"),
		Value:   "keccak256",
	}
	DataFlag = &cli.StringFlag{
		Name:    "data",
		Usage:   "Hex encoded pre-image",
		EnvVars: prefixEnvVars("DATA"),
	}
	IdentFlag = &cli.Uint64Flag{
		Name:    "ident",
		Usage:   "Identifier of local data",
		EnvVars: prefixEnvVars("IDENT"),
	}
)

func addressFlag(ctx *cli.Context, name string) (common.Address, error) {
	v := ctx.String(name)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, v)
	}
	return common.HexToAddress(v), nil
}

func hashFlag(ctx *cli.Context, name string) (common.Hash, error) {
	var h common.Hash
	if err := h.UnmarshalText([]byte(ctx.String(name))); err != nil {
		return common.Hash{}, fmt.Errorf("invalid %s %q: %w", name, ctx.String(name), err)
	}
	return h, nil
}
