package repository

import (
	"crop-bidding/internal/biddingerrors"
	model "crop-bidding/internal/models"
	"fmt"
	"sort"
	"sync"
	"time"
)

// CommitFunc decides, against the latest auction snapshot, which bid to record.
// It runs inside the repository's write lock.
type CommitFunc func(auction model.Auction) (model.Bid, error)

//go:generate mockgen -destination=mock_repository.go -package=repository crop-bidding/internal/repository AuctionDB

// AuctionDB defines the auction and bid storage interface of the marketplace backend
type AuctionDB interface {
	AddAuction(auction model.Auction) error
	GetAuction(auctionID string) (model.Auction, error)
	ListAuctions() ([]model.Auction, error)
	GetBidsByAuction(auctionID string) ([]model.Bid, error)
	CommitBid(auctionID string, decide CommitFunc) (model.Bid, error)
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu       sync.RWMutex
	auctions map[string]model.Auction // key: auctionID -> value: auction
	bids     map[string][]model.Bid   // key: auctionID -> value: bids in arrival order
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]model.Auction),
		bids:     make(map[string][]model.Bid),
	}
}

// AddAuction stores a new auction
func (r *MemoryRepo) AddAuction(auction model.Auction) error {
	if auction.ID == "" {
		return fmt.Errorf("add auction: %w - empty ID", biddingerrors.ErrInvalidAuction)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.auctions[auction.ID]; exists {
		return fmt.Errorf("add auction %s: %w - duplicate ID", auction.ID, biddingerrors.ErrInvalidAuction)
	}
	r.auctions[auction.ID] = auction
	return nil
}

// GetAuction returns an auction with its current bid
func (r *MemoryRepo) GetAuction(auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return copyAuction(auction), nil
}

// ListAuctions returns all auctions, soonest deadline first
func (r *MemoryRepo) ListAuctions() ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auctions := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		auctions = append(auctions, copyAuction(a))
	}
	sort.Slice(auctions, func(i, j int) bool {
		if !auctions[i].Deadline.Equal(auctions[j].Deadline) {
			return auctions[i].Deadline.Before(auctions[j].Deadline)
		}
		return auctions[i].ID < auctions[j].ID
	})
	return auctions, nil
}

// GetBidsByAuction returns all bids for an auction in arrival order
func (r *MemoryRepo) GetBidsByAuction(auctionID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	bids := r.bids[auctionID]
	if len(bids) == 0 {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return append([]model.Bid(nil), bids...), nil
}

// CommitBid runs decide against the current auction and records the bid it
// returns as the auction's new current bid. Commits are serialized, so of two
// equal bids racing, the first to commit wins and the second sees it.
func (r *MemoryRepo) CommitBid(auctionID string, decide CommitFunc) (model.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return model.Bid{}, fmt.Errorf("commit bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	bid, err := decide(copyAuction(auction))
	if err != nil {
		return model.Bid{}, fmt.Errorf("commit bid for auction %s: %w", auctionID, err)
	}
	if bid.Timestamp.IsZero() {
		bid.Timestamp = time.Now().UTC()
	}
	bid.AuctionID = auctionID

	r.bids[auctionID] = append(r.bids[auctionID], bid)
	current := bid
	auction.CurrentBid = &current
	r.auctions[auctionID] = auction
	return bid, nil
}

func copyAuction(a model.Auction) model.Auction {
	if a.CurrentBid != nil {
		b := *a.CurrentBid
		a.CurrentBid = &b
	}
	return a
}
