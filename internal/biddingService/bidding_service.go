package bidding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crop-bidding/internal/biddingerrors"
	"crop-bidding/internal/clock"
	"crop-bidding/internal/models"
	"crop-bidding/internal/push"
	"crop-bidding/internal/repository"
	"crop-bidding/utils"

	"github.com/shopspring/decimal"
)

// BiddingService is the authoritative side of the protocol: it re-validates
// every bid at commit time and broadcasts accepted bids to viewers.
type BiddingService struct {
	repo      repository.AuctionDB
	publisher push.Publisher
	clock     clock.Clock
}

// ServiceOption configures a BiddingService
type ServiceOption func(*BiddingService)

func WithServiceClock(c clock.Clock) ServiceOption {
	return func(s *BiddingService) { s.clock = c }
}

func WithPublisher(p push.Publisher) ServiceOption {
	return func(s *BiddingService) { s.publisher = p }
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, opts ...ServiceOption) *BiddingService {
	s := &BiddingService{
		repo:  repo,
		clock: clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAuctionInput is what a farmer submits to list a crop
type CreateAuctionInput struct {
	CropName    string
	Variety     string
	Weight      float64
	Location    string
	Description string
	BasePrice   float64
	Deadline    time.Time
}

// PlaceBid validates and records a buyer's bid on an auction
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID string, bidder models.Identity, amount float64) (models.Bid, error) {
	if auctionID == "" || bidder.UserID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - missing auctionID or bidder", biddingerrors.ErrInvalidAuction)
	}
	if bidder.Role != models.RoleBuyer {
		return models.Bid{}, fmt.Errorf("service: %w - role %q cannot bid", biddingerrors.ErrForbidden, bidder.Role)
	}

	bid, err := s.repo.CommitBid(auctionID, func(auction models.Auction) (models.Bid, error) {
		if auction.FarmerID == bidder.UserID {
			return models.Bid{}, fmt.Errorf("%w - farmers cannot bid on their own auction", biddingerrors.ErrForbidden)
		}
		now := s.clock.Now()
		normalized, err := ValidateBid(auction, amount, now)
		if err != nil {
			return models.Bid{}, err
		}
		return models.Bid{
			ID:         utils.GenerateID(),
			AuctionID:  auction.ID,
			Amount:     normalized,
			BidderID:   bidder.UserID,
			BidderName: bidder.Name,
			Timestamp:  now,
		}, nil
	})
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to record bid for auction %s by user %s: %w", auctionID, bidder.UserID, err)
	}

	if s.publisher != nil {
		// The bid is committed; a failed broadcast only delays other viewers until their next fetch.
		if err := s.publisher.Publish(ctx, bid); err != nil {
			utils.Error("service: failed to broadcast bid", map[string]any{
				"auction_id": auctionID,
				"bid_id":     bid.ID,
				"error":      err.Error(),
			})
		}
	}

	return bid, nil
}

// GetAuction returns a specific auction with its current bid
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	auction, err := s.repo.GetAuction(auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

// GetBids returns all bids for a specific auction in arrival order
func (s *BiddingService) GetBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	bids, err := s.repo.GetBidsByAuction(auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// ListAuctions returns all auctions, or only those still open when activeOnly is set
func (s *BiddingService) ListAuctions(ctx context.Context, activeOnly bool) ([]models.Auction, error) {
	auctions, err := s.repo.ListAuctions()
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}
	if !activeOnly {
		return auctions, nil
	}

	now := s.clock.Now()
	active := make([]models.Auction, 0, len(auctions))
	for _, a := range auctions {
		if IsActive(a, now) {
			active = append(active, a)
		}
	}
	return active, nil
}

// ListFarmerAuctions returns the auctions created by a farmer
func (s *BiddingService) ListFarmerAuctions(ctx context.Context, farmerID string) ([]models.Auction, error) {
	if farmerID == "" {
		return nil, fmt.Errorf("service: %w - empty farmer ID", biddingerrors.ErrInvalidAuction)
	}

	auctions, err := s.repo.ListAuctions()
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions for farmer %s: %w", farmerID, err)
	}

	owned := make([]models.Auction, 0)
	for _, a := range auctions {
		if a.FarmerID == farmerID {
			owned = append(owned, a)
		}
	}
	return owned, nil
}

// CreateAuction lists a new crop auction for a farmer
func (s *BiddingService) CreateAuction(ctx context.Context, farmer models.Identity, in CreateAuctionInput) (models.Auction, error) {
	if farmer.Role != models.RoleFarmer {
		return models.Auction{}, fmt.Errorf("service: %w - only farmers can create auctions", biddingerrors.ErrForbidden)
	}

	now := s.clock.Now()
	if err := validateAuctionInput(in, now); err != nil {
		return models.Auction{}, fmt.Errorf("service: %w", err)
	}

	auction := models.Auction{
		ID:          utils.GenerateID(),
		FarmerID:    farmer.UserID,
		FarmerName:  farmer.Name,
		CropName:    strings.TrimSpace(in.CropName),
		Variety:     strings.TrimSpace(in.Variety),
		Weight:      in.Weight,
		Location:    strings.TrimSpace(in.Location),
		Description: strings.TrimSpace(in.Description),
		BasePrice:   decimal.NewFromFloat(in.BasePrice).Round(amountPrecision),
		Deadline:    in.Deadline.UTC(),
		CreatedAt:   now,
	}
	if err := s.repo.AddAuction(auction); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to create auction: %w", err)
	}

	utils.Info("service: auction created", map[string]any{
		"auction_id": auction.ID,
		"farmer_id":  farmer.UserID,
		"crop":       auction.CropName,
	})
	return auction, nil
}

func validateAuctionInput(in CreateAuctionInput, now time.Time) error {
	switch {
	case len(strings.TrimSpace(in.CropName)) < 2:
		return fmt.Errorf("%w - crop name is required", biddingerrors.ErrInvalidAuction)
	case len(strings.TrimSpace(in.Variety)) < 2:
		return fmt.Errorf("%w - variety is required", biddingerrors.ErrInvalidAuction)
	case len(strings.TrimSpace(in.Location)) < 2:
		return fmt.Errorf("%w - location is required", biddingerrors.ErrInvalidAuction)
	case in.Weight < 1:
		return fmt.Errorf("%w - weight must be at least 1 kg", biddingerrors.ErrInvalidAuction)
	case in.BasePrice < 1:
		return fmt.Errorf("%w - base price must be at least 1", biddingerrors.ErrInvalidAuction)
	case !in.Deadline.After(now):
		return fmt.Errorf("%w - deadline must be in the future", biddingerrors.ErrInvalidAuction)
	}
	return nil
}
