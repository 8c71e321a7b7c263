package main

import (
	"errors"
	"fmt"

	bidding "crop-bidding/internal/biddingService"
	"crop-bidding/internal/biddingerrors"
	"crop-bidding/internal/config"

	"github.com/urfave/cli/v2"
)

var cmdBid = &cli.Command{
	Name:      "bid",
	Usage:     "Place a bid on an auction",
	ArgsUsage: "<amount>",
	Flags:     withFlags(config.ClientFlags, []cli.Flag{auctionFlag}),
	Action: func(cctx *cli.Context) error {
		ctx, stop := reqContext(cctx)
		defer stop()

		if cctx.NArg() != 1 {
			return cli.Exit("usage: bid --auction <id> <amount>", 2)
		}
		amount, err := bidding.ParseAmount(cctx.Args().First())
		if err != nil {
			return userError(err)
		}

		client, identity, err := dialAPI(ctx, config.FromCLI(cctx))
		if err != nil {
			return err
		}
		session := bidding.NewSession(client, nil, identity)
		if err := session.Open(ctx, cctx.String(flagAuction)); err != nil {
			return userError(err)
		}
		defer session.Close()

		bid, err := session.Submit(ctx, amount)
		if err != nil {
			if v, viewErr := session.View(); viewErr == nil && !errors.Is(err, biddingerrors.ErrNetworkFailure) {
				printView(v)
			}
			return userError(err)
		}

		fmt.Printf("bid placed: %s (id %s)\n", bid.Amount.StringFixed(2), bid.ID)
		if v, err := session.View(); err == nil {
			fmt.Printf("suggested next bid: %s\n", v.SuggestedBid.StringFixed(2))
		}
		return nil
	},
}
