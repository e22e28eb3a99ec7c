package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/okx/xlayer-fault-proof/fpvm/cmd"
)

func main() {
	// flags fall back to FP_* variables, which may come from a .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load .env file: %v\n", err)
		os.Exit(1)
	}

	app := cli.NewApp()
	app.Name = "xlayer-fault-proof"
	app.Usage = "Interactive fault proof tool"
	app.Description = "Pre-image oracle, witness and syscall step tooling for interactive fault proofs"
	app.Commands = []*cli.Command{
		cmd.WitnessCommand,
		cmd.PreimageKeyCommand,
		cmd.ServePreimagesCommand,
		cmd.LoadProgramCommand,
		cmd.StepCommand,
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			<-c
			cancel()
			fmt.Println("\r\nExiting...")
		}
	}()

	err := app.RunContext(ctx, os.Args)
	if err != nil {
		if errors.Is(err, ctx.Err()) {
			_, _ = fmt.Fprintf(os.Stderr, "command interrupted")
			os.Exit(130)
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v", err)
			os.Exit(1)
		}
	}
}
