package bidding

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"crop-bidding/internal/biddingerrors"
	"crop-bidding/internal/models"

	"github.com/shopspring/decimal"
)

// BidIncrement is the flat platform increment over the current bid.
// It does not scale with the auction value.
const BidIncrement = 10

// amountPrecision is the number of decimal places kept for currency amounts
const amountPrecision int32 = 2

var bidIncrement = decimal.NewFromInt(BidIncrement)

// MinimumBid returns the smallest amount a new bid must meet: the current bid
// plus the increment, or the base price when no positive bid exists yet.
func MinimumBid(auction models.Auction) decimal.Decimal {
	if auction.CurrentBid != nil && auction.CurrentBid.Amount.IsPositive() {
		return auction.CurrentBid.Amount.Add(bidIncrement)
	}
	return auction.BasePrice
}

// SuggestedNextBid returns the default amount offered to the bidder
func SuggestedNextBid(auction models.Auction) decimal.Decimal {
	return MinimumBid(auction)
}

// ValidateBid decides whether amount may be submitted against the auction
// snapshot at now. It returns the normalized amount to submit.
//
// The check is advisory on the client; the backend re-validates at commit time.
func ValidateBid(auction models.Auction, amount float64, now time.Time) (decimal.Decimal, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return decimal.Zero, fmt.Errorf("validator: %w - %v is not a positive number", biddingerrors.ErrInvalidAmount, amount)
	}

	normalized := decimal.NewFromFloat(amount).Round(amountPrecision)
	if !normalized.IsPositive() {
		return decimal.Zero, fmt.Errorf("validator: %w - %v rounds to zero", biddingerrors.ErrInvalidAmount, amount)
	}

	if !IsActive(auction, now) {
		return decimal.Zero, fmt.Errorf("validator: auction %s ended at %s: %w", auction.ID, auction.Deadline.UTC().Format(time.RFC3339), biddingerrors.ErrAuctionClosed)
	}

	minimum := MinimumBid(auction)
	if normalized.LessThan(minimum) {
		return decimal.Zero, fmt.Errorf("validator: %w", &biddingerrors.BelowMinimumError{Minimum: minimum})
	}

	return normalized, nil
}

// ParseAmount parses a user-entered amount
func ParseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("validator: %w - %q is not a number", biddingerrors.ErrInvalidAmount, s)
	}
	return v, nil
}
