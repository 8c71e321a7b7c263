package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"crop-bidding/internal/apiclient"
	bidding "crop-bidding/internal/biddingService"
	"crop-bidding/internal/biddingerrors"
	"crop-bidding/internal/config"
	model "crop-bidding/internal/models"

	"github.com/urfave/cli/v2"
)

const flagAuction = "auction"

var auctionFlag = &cli.StringFlag{
	Name:     flagAuction,
	Usage:    "auction id",
	Required: true,
}

var cmdList = &cli.Command{
	Name:  "list",
	Usage: "List auctions with their current price",
	Flags: withFlags(config.ClientFlags, []cli.Flag{
		&cli.BoolFlag{Name: "all", Usage: "include closed auctions"},
		&cli.BoolFlag{Name: "mine", Usage: "only the authenticated farmer's auctions"},
	}),
	Action: func(cctx *cli.Context) error {
		ctx, stop := reqContext(cctx)
		defer stop()

		client, _, err := dialAPI(ctx, config.FromCLI(cctx))
		if err != nil {
			return err
		}

		var auctions []model.Auction
		if cctx.Bool("mine") {
			auctions, err = client.ListFarmerAuctions(ctx)
		} else {
			auctions, err = client.ListAuctions(ctx, !cctx.Bool("all"))
		}
		if err != nil {
			return userError(err)
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCROP\tWEIGHT\tPRICE\tMIN NEXT\tENDS")
		for _, a := range auctions {
			fmt.Fprintf(w, "%s\t%s (%s)\t%.0f kg\t%s\t%s\t%s\n",
				a.ID, a.CropName, a.Variety, a.Weight,
				bidding.CurrentWinningAmount(a).StringFixed(2),
				bidding.MinimumBid(a).StringFixed(2),
				bidding.TimeRemaining(a, now))
		}
		return w.Flush()
	},
}

// dialAPI builds an API client and resolves the token's identity
func dialAPI(ctx context.Context, cfg config.Config) (*apiclient.Client, model.Identity, error) {
	if cfg.Token == "" {
		return nil, model.Identity{}, errors.New("an API token is required (--token or API_TOKEN)")
	}
	client := apiclient.New(cfg.APIBaseURL, model.Identity{Token: cfg.Token})
	identity, err := client.Me(ctx)
	if err != nil {
		return nil, model.Identity{}, userError(err)
	}
	return client, identity, nil
}

// userError turns err into the message the user should see
func userError(err error) error {
	return cli.Exit(biddingerrors.Reason(err), 1)
}

func printView(v bidding.View) {
	a := v.Auction
	fmt.Printf("%s (%s), %.0f kg from %s, sold by %s\n", a.CropName, a.Variety, a.Weight, a.Location, a.FarmerName)
	if v.Best != nil {
		fmt.Printf("  current bid: %s by %s\n", v.Best.Amount.StringFixed(2), v.Best.BidderName)
	} else {
		fmt.Printf("  base price:  %s (no bids yet)\n", a.BasePrice.StringFixed(2))
	}
	if v.Active {
		fmt.Printf("  minimum next bid: %s  (time left: %s)\n", v.MinimumNextBid.StringFixed(2), v.TimeRemaining)
	} else {
		fmt.Println("  auction ended")
	}
}
