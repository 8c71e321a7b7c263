package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	bidding "crop-bidding/internal/biddingService"
	"crop-bidding/internal/config"
	model "crop-bidding/internal/models"
	"crop-bidding/internal/push"
	"crop-bidding/internal/repository"
	"crop-bidding/internal/server"
	"crop-bidding/utils"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var cmdServe = &cli.Command{
	Name:  "serve",
	Usage: "Start the marketplace backend",
	Flags: withFlags(config.ServeFlags, config.PushFlags),
	Action: func(cctx *cli.Context) error {
		ctx, stop := reqContext(cctx)
		defer stop()

		cfg := config.FromCLI(cctx)
		if err := cfg.Validate(); err != nil {
			return err
		}
		tokens, err := config.ParseTokens(cfg.Tokens)
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			utils.Warn("no auth tokens configured, every API request will be rejected", nil)
		}

		hub := push.NewHub()
		defer hub.Close()
		publishers := push.MultiPublisher{hub}

		b, err := connectBroker(ctx, cfg)
		if err != nil {
			return err
		}
		if b != nil {
			defer b.Close()
			publishers = append(publishers, b.publisher)
		}

		repo := repository.NewMemoryRepo()
		if cfg.Seed {
			if err := seedAuctions(repo, time.Now().UTC()); err != nil {
				return err
			}
		}

		svc := bidding.NewBiddingService(repo, bidding.WithPublisher(publishers))
		srv := &http.Server{
			Addr:              cfg.ListenAddr(),
			Handler:           server.SetupRouter(svc, hub, server.TokenStore(tokens), cfg.CORSOrigins),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			utils.Info("starting auction server", map[string]any{"addr": srv.Addr, "push": cfg.PushTransport})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			// Open event streams block until the hub closes them.
			hub.Close()
			utils.Info("shutting down auction server", nil)
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

// seedAuctions adds sample listings to the in-memory repo
func seedAuctions(repo *repository.MemoryRepo, now time.Time) error {
	auctions := []model.Auction{
		{
			ID: "auction1", FarmerID: "farmer1", FarmerName: "Ravi Kumar",
			CropName: "Wheat", Variety: "Sharbati", Weight: 500, Location: "Sehore, MP",
			Description: "Sun-dried, cleaned and bagged",
			BasePrice:   decimal.NewFromInt(2200), Deadline: now.Add(48 * time.Hour), CreatedAt: now,
		},
		{
			ID: "auction2", FarmerID: "farmer1", FarmerName: "Ravi Kumar",
			CropName: "Soybean", Variety: "JS-335", Weight: 300, Location: "Indore, MP",
			BasePrice: decimal.NewFromInt(4100), Deadline: now.Add(6 * time.Hour), CreatedAt: now,
		},
		{
			ID: "auction3", FarmerID: "farmer2", FarmerName: "Lakshmi Devi",
			CropName: "Rice", Variety: "Basmati 1121", Weight: 1000, Location: "Karnal, HR",
			Description: "Aged six months",
			BasePrice:   decimal.NewFromInt(3500), Deadline: now.Add(30 * time.Minute), CreatedAt: now,
		},
	}

	for _, auction := range auctions {
		if err := repo.AddAuction(auction); err != nil {
			return fmt.Errorf("seed auctions: %w", err)
		}
	}
	return nil
}
