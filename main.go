package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"crop-bidding/internal/config"
	"crop-bidding/utils"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "crop-bidding",
		Usage: "crop marketplace auctions: run the backend or bid from the terminal",
		Flags: config.GlobalFlags,
		Before: func(cctx *cli.Context) error {
			return utils.SetLevel(cctx.String("log-level"))
		},
		Commands: []*cli.Command{
			cmdServe,
			cmdList,
			cmdWatch,
			cmdBid,
		},
	}

	if err := app.Run(os.Args); err != nil {
		utils.Fatal("command failed", map[string]any{"error": err.Error()})
	}
}

// reqContext is cancelled on SIGINT or SIGTERM
func reqContext(cctx *cli.Context) (context.Context, context.CancelFunc) {
	parent := cctx.Context
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, g := range groups {
		flags = append(flags, g...)
	}
	return flags
}
