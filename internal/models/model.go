package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts travel as JSON numbers, the way the marketplace API has always sent them.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Role is the marketplace role attached to an authenticated identity
type Role string

const (
	RoleFarmer Role = "farmer"
	RoleBuyer  Role = "buyer"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleFarmer || r == RoleBuyer
}

// Identity is the authenticated user a session or API client acts for
type Identity struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Token  string `json:"-"`
}

// Auction represents a crop listing open for bidding until its deadline
type Auction struct {
	ID          string          `json:"id"`
	FarmerID    string          `json:"farmerId"`
	FarmerName  string          `json:"farmerName"`
	CropName    string          `json:"cropName"`
	Variety     string          `json:"variety"`
	Weight      float64         `json:"weight"`
	Location    string          `json:"location"`
	Description string          `json:"description,omitempty"`
	BasePrice   decimal.Decimal `json:"basePrice"`
	Deadline    time.Time       `json:"deadline"`
	CurrentBid  *Bid            `json:"currentBid,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Bid represents an immutable offer of an amount against an auction
type Bid struct {
	ID         string          `json:"id"`
	AuctionID  string          `json:"auctionId"`
	Amount     decimal.Decimal `json:"amount"`
	BidderID   string          `json:"bidderId"`
	BidderName string          `json:"bidderName"`
	Timestamp  time.Time       `json:"timestamp"`
}
