package bidding

import (
	"testing"
	"time"

	"crop-bidding/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testAuction(base int64, deadline time.Time, current *models.Bid) models.Auction {
	return models.Auction{
		ID:         "auction1",
		FarmerID:   "farmer1",
		FarmerName: "Ravi",
		CropName:   "Wheat",
		Variety:    "Sharbati",
		Weight:     500,
		Location:   "Sehore",
		BasePrice:  decimal.NewFromInt(base),
		Deadline:   deadline,
		CurrentBid: current,
	}
}

func testBid(id string, amount int64, at time.Time) models.Bid {
	return models.Bid{
		ID:         id,
		AuctionID:  "auction1",
		Amount:     decimal.NewFromInt(amount),
		BidderID:   "buyer-" + id,
		BidderName: "Buyer " + id,
		Timestamp:  at,
	}
}

func TestIsActive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		deadline time.Time
		expected bool
	}{
		{name: "future_deadline", deadline: testNow.Add(time.Minute), expected: true},
		{name: "deadline_equals_now", deadline: testNow, expected: false},
		{name: "past_deadline", deadline: testNow.Add(-time.Second), expected: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, IsActive(testAuction(100, tc.deadline, nil), testNow))
		})
	}
}

func TestCurrentWinningAmount(t *testing.T) {
	t.Parallel()

	bid := testBid("b1", 150, testNow)
	require.True(t, decimal.NewFromInt(100).Equal(CurrentWinningAmount(testAuction(100, testNow, nil))))
	require.True(t, decimal.NewFromInt(150).Equal(CurrentWinningAmount(testAuction(100, testNow, &bid))))
}

func TestApplyAccepted(t *testing.T) {
	t.Parallel()

	current := testBid("b1", 150, testNow)

	tests := []struct {
		name          string
		auction       models.Auction
		bid           models.Bid
		expectApplied bool
		expectedID    string
	}{
		{
			name:          "higher_than_current_bid",
			auction:       testAuction(100, testNow.Add(time.Hour), &current),
			bid:           testBid("b2", 160, testNow),
			expectApplied: true,
			expectedID:    "b2",
		},
		{
			name:          "equal_to_current_bid_is_stale",
			auction:       testAuction(100, testNow.Add(time.Hour), &current),
			bid:           testBid("b2", 150, testNow),
			expectApplied: false,
			expectedID:    "b1",
		},
		{
			name:          "lower_than_current_bid_is_stale",
			auction:       testAuction(100, testNow.Add(time.Hour), &current),
			bid:           testBid("b2", 140, testNow),
			expectApplied: false,
			expectedID:    "b1",
		},
		{
			name:          "above_base_price_without_bids",
			auction:       testAuction(100, testNow.Add(time.Hour), nil),
			bid:           testBid("b2", 120, testNow),
			expectApplied: true,
			expectedID:    "b2",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			updated, applied := ApplyAccepted(tc.auction, tc.bid)
			require.Equal(t, tc.expectApplied, applied)
			require.NotNil(t, updated.CurrentBid)
			require.Equal(t, tc.expectedID, updated.CurrentBid.ID)
		})
	}
}

func TestApplyAccepted_DoesNotAliasBid(t *testing.T) {
	t.Parallel()

	bid := testBid("b1", 120, testNow)
	updated, applied := ApplyAccepted(testAuction(100, testNow.Add(time.Hour), nil), bid)
	require.True(t, applied)

	bid.Amount = decimal.NewFromInt(1)
	require.True(t, decimal.NewFromInt(120).Equal(updated.CurrentBid.Amount))
}

func TestTimeRemaining(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		left     time.Duration
		expected string
	}{
		{name: "ended", left: -time.Minute, expected: "Ended"},
		{name: "exactly_at_deadline", left: 0, expected: "Ended"},
		{name: "minutes", left: 42*time.Minute + 10*time.Second, expected: "42m"},
		{name: "hours", left: 5*time.Hour + 7*time.Minute, expected: "5h 7m"},
		{name: "days", left: 49*time.Hour + 30*time.Minute, expected: "2d 1h"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, TimeRemaining(testAuction(100, testNow.Add(tc.left), nil), testNow))
		})
	}
}
