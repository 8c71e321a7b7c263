package main

import (
	"fmt"
	"time"

	bidding "crop-bidding/internal/biddingService"
	"crop-bidding/internal/config"
	"crop-bidding/internal/push"
	"crop-bidding/utils"

	"github.com/urfave/cli/v2"
)

var cmdWatch = &cli.Command{
	Name:  "watch",
	Usage: "Follow an auction's bids live until interrupted",
	Flags: withFlags(config.ClientFlags, config.PushFlags, []cli.Flag{
		auctionFlag,
		&cli.DurationFlag{Name: "refresh", Value: 30 * time.Second, Usage: "refetch interval, 0 to disable"},
	}),
	Action: func(cctx *cli.Context) error {
		ctx, stop := reqContext(cctx)
		defer stop()

		cfg := config.FromCLI(cctx)
		if err := cfg.Validate(); err != nil {
			return err
		}
		client, identity, err := dialAPI(ctx, cfg)
		if err != nil {
			return err
		}

		b, err := connectBroker(ctx, cfg)
		if err != nil {
			return err
		}
		var subscriber push.Subscriber
		switch {
		case b != nil:
			defer b.Close()
			subscriber = b.subscriber
		case cfg.PushTransport == config.PushSSE:
			subscriber = client.Events()
		}

		interval := cctx.Duration("refresh")
		offline := "live updates unavailable"
		if interval > 0 {
			offline += fmt.Sprintf(", refreshing every %s", interval)
		}

		session := bidding.NewSession(client, subscriber, identity, bidding.WithListener(bidding.ListenerFuncs{
			OnBestChanged: func(v bidding.View) {
				printView(v)
			},
			OnNotify: func(n bidding.Notification) {
				fmt.Printf("%s  %s\n", n.Bid.Timestamp.Local().Format(time.Kitchen), n.Message)
			},
			OnConnectivityChanged: func(connected bool) {
				if connected {
					fmt.Println("live updates connected")
				} else {
					fmt.Println(offline)
				}
			},
		}))

		auctionID := cctx.String(flagAuction)
		if err := session.Open(ctx, auctionID); err != nil {
			return userError(err)
		}
		defer session.Close()
		if v, err := session.View(); err == nil && v.Best == nil {
			printView(v)
		}

		if interval <= 0 {
			<-ctx.Done()
			return nil
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := session.Refresh(ctx); err != nil && ctx.Err() == nil {
					utils.Warn("refresh failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
				}
			}
		}
	},
}
