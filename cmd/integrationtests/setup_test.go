package integrationtests

import (
	"net/http/httptest"
	"testing"
	"time"

	"crop-bidding/internal/apiclient"
	bidding "crop-bidding/internal/biddingService"
	model "crop-bidding/internal/models"
	"crop-bidding/internal/push"
	"crop-bidding/internal/repository"
	"crop-bidding/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	buyerA = model.Identity{UserID: "buyerA", Name: "Asha", Role: model.RoleBuyer, Token: "t-a"}
	buyerB = model.Identity{UserID: "buyerB", Name: "Meera", Role: model.RoleBuyer, Token: "t-b"}
	farmer = model.Identity{UserID: "farmer1", Name: "Ravi", Role: model.RoleFarmer, Token: "t-f"}
)

// Marketplace is a running backend plus the push hub viewers subscribe to
type Marketplace struct {
	URL string
	Hub *push.Hub
}

// SetupMarketplace starts the backend over HTTP, seeded with auctions.
func SetupMarketplace(t *testing.T, auctions ...model.Auction) *Marketplace {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepo()
	for _, a := range auctions {
		require.NoError(t, repo.AddAuction(a))
	}

	hub := push.NewHub()
	service := bidding.NewBiddingService(repo, bidding.WithPublisher(hub))
	tokens := server.TokenStore{}
	for _, id := range []model.Identity{buyerA, buyerB, farmer} {
		tokens[id.Token] = model.Identity{UserID: id.UserID, Name: id.Name, Role: id.Role}
	}

	srv := httptest.NewServer(server.SetupRouter(service, hub, tokens, nil))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &Marketplace{URL: srv.URL + "/api", Hub: hub}
}

// Client returns an API client acting as identity
func (m *Marketplace) Client(identity model.Identity) *apiclient.Client {
	return apiclient.New(m.URL, identity)
}

// NewAuction builds an auction owned by farmer closing after d
func NewAuction(id string, basePrice int64, d time.Duration) model.Auction {
	now := time.Now().UTC()
	return model.Auction{
		ID:         id,
		FarmerID:   farmer.UserID,
		FarmerName: farmer.Name,
		CropName:   "Wheat",
		Variety:    "Sharbati",
		Weight:     500,
		Location:   "Sehore",
		BasePrice:  decimal.NewFromInt(basePrice),
		Deadline:   now.Add(d),
		CreatedAt:  now,
	}
}
