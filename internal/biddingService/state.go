package bidding

import (
	"fmt"
	"time"

	"crop-bidding/internal/models"

	"github.com/shopspring/decimal"
)

// IsActive reports whether the auction still accepts bids at now.
// Closing is purely a function of time; nothing marks an auction closed.
func IsActive(auction models.Auction, now time.Time) bool {
	return now.Before(auction.Deadline)
}

// CurrentWinningAmount returns the amount to display as the current price:
// the current bid if one exists, else the base price.
func CurrentWinningAmount(auction models.Auction) decimal.Decimal {
	if auction.CurrentBid != nil {
		return auction.CurrentBid.Amount
	}
	return auction.BasePrice
}

// ApplyAccepted returns auction with bid as its current bid when the bid beats
// the current winning amount. Otherwise auction is returned unchanged and
// applied is false, signalling a stale update.
func ApplyAccepted(auction models.Auction, bid models.Bid) (updated models.Auction, applied bool) {
	if !bid.Amount.GreaterThan(CurrentWinningAmount(auction)) {
		return auction, false
	}
	b := bid
	auction.CurrentBid = &b
	return auction, true
}

// TimeRemaining formats the time left before the deadline for listing cards.
func TimeRemaining(auction models.Auction, now time.Time) string {
	diff := auction.Deadline.Sub(now)
	if diff <= 0 {
		return "Ended"
	}

	days := int(diff / (24 * time.Hour))
	hours := int((diff % (24 * time.Hour)) / time.Hour)
	minutes := int((diff % time.Hour) / time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
