package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	bidding "crop-bidding/internal/biddingService"
	"crop-bidding/internal/biddingerrors"
	model "crop-bidding/internal/models"
	"crop-bidding/internal/push"
	"crop-bidding/services/bidding/helpers"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	buyer  = model.Identity{UserID: "buyer1", Name: "Asha", Role: model.RoleBuyer}
	farmer = model.Identity{UserID: "farmer1", Name: "Ravi", Role: model.RoleFarmer}
)

func init() {
	gin.SetMode(gin.TestMode)
}

// as stands in for the auth middleware
func as(identity model.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(helpers.IdentityKey, identity)
		c.Next()
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// Test PlaceBidHandler
func TestPlaceBidHandler(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	tests := []struct {
		name           string
		identity       model.Identity
		requestBody    any
		mockSetup      func(mockService *MockAuctionServiceInterface)
		expectedStatus int
		expectedMsg    string
		validateData   func(t *testing.T, data map[string]any)
	}{
		{
			name:        "success_valid_bid",
			identity:    buyer,
			requestBody: helpers.PlaceBidRequest{Amount: 160},
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), "auction1", buyer, 160.0).
					Return(model.Bid{
						ID:         uuid.NewString(),
						AuctionID:  "auction1",
						Amount:     decimal.NewFromInt(160),
						BidderID:   "buyer1",
						BidderName: "Asha",
						Timestamp:  now,
					}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "bid placed successfully",
			validateData: func(t *testing.T, data map[string]any) {
				_, parseErr := uuid.Parse(data["id"].(string))
				require.NoError(t, parseErr, "bid ID should be a valid UUID")
				require.Equal(t, "auction1", data["auctionId"])
				require.Equal(t, "buyer1", data["bidderId"])
				require.Equal(t, 160.0, data["amount"])
			},
		},
		{
			name:           "invalid_json",
			identity:       buyer,
			requestBody:    `{invalid json}`,
			mockSetup:      func(*MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:           "zero_amount",
			identity:       buyer,
			requestBody:    helpers.PlaceBidRequest{Amount: 0},
			mockSetup:      func(*MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:           "negative_amount",
			identity:       buyer,
			requestBody:    helpers.PlaceBidRequest{Amount: -10},
			mockSetup:      func(*MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:        "below_minimum",
			identity:    buyer,
			requestBody: helpers.PlaceBidRequest{Amount: 150},
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), "auction1", buyer, 150.0).
					Return(model.Bid{}, fmt.Errorf("service: %w", &biddingerrors.BelowMinimumError{Minimum: decimal.NewFromInt(160)}))
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "bid must be at least 160.00",
		},
		{
			name:        "auction_closed",
			identity:    buyer,
			requestBody: helpers.PlaceBidRequest{Amount: 500},
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), "auction1", buyer, 500.0).
					Return(model.Bid{}, biddingerrors.ErrAuctionClosed)
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "auction closed",
		},
		{
			name:        "farmer_forbidden",
			identity:    farmer,
			requestBody: helpers.PlaceBidRequest{Amount: 500},
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), "auction1", farmer, 500.0).
					Return(model.Bid{}, biddingerrors.ErrForbidden)
			},
			expectedStatus: http.StatusForbidden,
			expectedMsg:    "forbidden",
		},
		{
			name:        "auction_not_found",
			identity:    buyer,
			requestBody: helpers.PlaceBidRequest{Amount: 500},
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), "auction1", buyer, 500.0).
					Return(model.Bid{}, biddingerrors.ErrAuctionNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "auction not found",
		},
		{
			name:        "service_generic_error",
			identity:    buyer,
			requestBody: helpers.PlaceBidRequest{Amount: 500},
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().
					PlaceBid(gomock.Any(), "auction1", buyer, 500.0).
					Return(model.Bid{}, errors.New("database failure"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			mockService := NewMockAuctionServiceInterface(ctrl)
			tc.mockSetup(mockService)

			router := gin.New()
			router.POST("/auctions/:auction_id/bids", as(tc.identity), NewAuctionHandler(mockService, nil).PlaceBidHandler)

			var reqBody []byte
			var err error
			switch v := tc.requestBody.(type) {
			case string:
				reqBody = []byte(v)
			default:
				reqBody, err = json.Marshal(v)
				require.NoError(t, err)
			}

			req := httptest.NewRequest(http.MethodPost, "/auctions/auction1/bids", bytes.NewReader(reqBody))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			require.Equal(t, tc.expectedStatus, w.Code)
			resp := decodeBody(t, w)
			require.Contains(t, resp["message"], tc.expectedMsg)

			if tc.validateData != nil && w.Code == http.StatusCreated {
				tc.validateData(t, resp["data"].(map[string]any))
			}
		})
	}
}

// Test GetBidsHandler
func TestGetBidsHandler(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	tests := []struct {
		name           string
		auctionID      string
		mockSetup      func(mockService *MockAuctionServiceInterface)
		expectedStatus int
		expectedMsg    string
		expectedCount  int
	}{
		{
			name:      "success_multiple_bids",
			auctionID: "auction1",
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().GetBids(gomock.Any(), "auction1").Return([]model.Bid{
					{ID: uuid.NewString(), AuctionID: "auction1", BidderID: "user1", Amount: decimal.NewFromInt(100), Timestamp: now},
					{ID: uuid.NewString(), AuctionID: "auction1", BidderID: "user2", Amount: decimal.NewFromInt(150), Timestamp: now},
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "bids retrieved successfully",
			expectedCount:  2,
		},
		{
			name:      "service_no_bids_error",
			auctionID: "auction2",
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().GetBids(gomock.Any(), "auction2").Return(nil, biddingerrors.ErrNoBids)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "bids retrieved successfully",
			expectedCount:  0,
		},
		{
			name:      "auction_not_found",
			auctionID: "auction3",
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().GetBids(gomock.Any(), "auction3").Return(nil, biddingerrors.ErrAuctionNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "auction not found",
		},
		{
			name:      "service_generic_error",
			auctionID: "auction4",
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().GetBids(gomock.Any(), "auction4").Return(nil, errors.New("database failure"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			mockService := NewMockAuctionServiceInterface(ctrl)
			tc.mockSetup(mockService)

			router := gin.New()
			router.GET("/auctions/:auction_id/bids", NewAuctionHandler(mockService, nil).GetBidsHandler)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auctions/"+tc.auctionID+"/bids", nil))

			require.Equal(t, tc.expectedStatus, w.Code)
			resp := decodeBody(t, w)
			require.Contains(t, resp["message"], tc.expectedMsg)
			if w.Code == http.StatusOK {
				require.Len(t, resp["data"].([]any), tc.expectedCount)
			}
		})
	}
}

// Test GetAuctionHandler
func TestGetAuctionHandler(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	mockService := NewMockAuctionServiceInterface(ctrl)
	mockService.EXPECT().GetAuction(gomock.Any(), "auction1").Return(model.Auction{
		ID:        "auction1",
		CropName:  "Wheat",
		BasePrice: decimal.NewFromInt(2200),
		CurrentBid: &model.Bid{
			ID: "b1", AuctionID: "auction1", Amount: decimal.RequireFromString("2210.50"),
		},
	}, nil)
	mockService.EXPECT().GetAuction(gomock.Any(), "missing").Return(model.Auction{}, biddingerrors.ErrAuctionNotFound)

	router := gin.New()
	router.GET("/auctions/:auction_id", NewAuctionHandler(mockService, nil).GetAuctionHandler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auctions/auction1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	require.Equal(t, "Wheat", data["cropName"])
	require.Equal(t, 2200.0, data["basePrice"])
	require.Equal(t, 2210.5, data["currentBid"].(map[string]any)["amount"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auctions/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

// Test ListAuctionsHandler and ListFarmerAuctionsHandler
func TestListAuctionsHandlers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		identity       model.Identity
		path           string
		mockSetup      func(mockService *MockAuctionServiceInterface)
		expectedStatus int
		expectedCount  int
	}{
		{
			name:     "all_auctions",
			identity: buyer,
			path:     "/auctions",
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().ListAuctions(gomock.Any(), false).Return([]model.Auction{{ID: "a1"}, {ID: "a2"}}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:     "active_only",
			identity: buyer,
			path:     "/auctions?active=true",
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().ListAuctions(gomock.Any(), true).Return(nil, nil)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  0,
		},
		{
			name:     "farmer_listing",
			identity: farmer,
			path:     "/auctions/farmer",
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().ListFarmerAuctions(gomock.Any(), "farmer1").Return([]model.Auction{{ID: "a1"}}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  1,
		},
		{
			name:           "buyer_cannot_list_farmer_auctions",
			identity:       buyer,
			path:           "/auctions/farmer",
			mockSetup:      func(*MockAuctionServiceInterface) {},
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			mockService := NewMockAuctionServiceInterface(ctrl)
			tc.mockSetup(mockService)
			h := NewAuctionHandler(mockService, nil)

			router := gin.New()
			router.Use(as(tc.identity))
			router.GET("/auctions", h.ListAuctionsHandler)
			router.GET("/auctions/farmer", h.ListFarmerAuctionsHandler)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))

			require.Equal(t, tc.expectedStatus, w.Code)
			if w.Code == http.StatusOK {
				require.Len(t, decodeBody(t, w)["data"].([]any), tc.expectedCount)
			}
		})
	}
}

// Test CreateAuctionHandler
func TestCreateAuctionHandler(t *testing.T) {
	t.Parallel()

	deadline := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	valid := helpers.CreateAuctionRequest{
		CropName:  "Wheat",
		Variety:   "Sharbati",
		Weight:    500,
		Location:  "Sehore",
		BasePrice: 2200,
		Deadline:  deadline,
	}

	tests := []struct {
		name           string
		identity       model.Identity
		requestBody    any
		mockSetup      func(mockService *MockAuctionServiceInterface)
		expectedStatus int
		expectedMsg    string
	}{
		{
			name:        "created",
			identity:    farmer,
			requestBody: valid,
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().
					CreateAuction(gomock.Any(), farmer, bidding.CreateAuctionInput{
						CropName: "Wheat", Variety: "Sharbati", Weight: 500, Location: "Sehore", BasePrice: 2200, Deadline: deadline,
					}).
					Return(model.Auction{ID: "a9", CropName: "Wheat"}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "auction created successfully",
		},
		{
			name:     "missing_fields",
			identity: farmer,
			requestBody: helpers.CreateAuctionRequest{
				CropName: "W",
				Deadline: deadline,
			},
			mockSetup:      func(*MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:        "buyer_forbidden",
			identity:    buyer,
			requestBody: valid,
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().CreateAuction(gomock.Any(), buyer, gomock.Any()).Return(model.Auction{}, biddingerrors.ErrForbidden)
			},
			expectedStatus: http.StatusForbidden,
			expectedMsg:    "forbidden",
		},
		{
			name:        "past_deadline",
			identity:    farmer,
			requestBody: valid,
			mockSetup: func(mockService *MockAuctionServiceInterface) {
				mockService.EXPECT().CreateAuction(gomock.Any(), farmer, gomock.Any()).Return(model.Auction{}, biddingerrors.ErrInvalidAuction)
			},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid auction details",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			mockService := NewMockAuctionServiceInterface(ctrl)
			tc.mockSetup(mockService)

			router := gin.New()
			router.POST("/auctions", as(tc.identity), NewAuctionHandler(mockService, nil).CreateAuctionHandler)

			body, err := json.Marshal(tc.requestBody)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/auctions", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tc.expectedStatus, w.Code)
			require.Contains(t, decodeBody(t, w)["message"], tc.expectedMsg)
		})
	}
}

// Test MeHandler
func TestMeHandler(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.GET("/me", as(farmer), NewAuctionHandler(nil, nil).MeHandler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	require.Equal(t, "farmer1", data["id"])
	require.Equal(t, "farmer", data["role"])
	require.NotContains(t, data, "token")
}

// Test StreamEventsHandler
func TestStreamEventsHandler(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	mockService := NewMockAuctionServiceInterface(ctrl)
	mockService.EXPECT().GetAuction(gomock.Any(), "auction1").Return(model.Auction{ID: "auction1"}, nil)
	mockService.EXPECT().GetAuction(gomock.Any(), "missing").Return(model.Auction{}, biddingerrors.ErrAuctionNotFound)

	hub := push.NewHub()
	defer hub.Close()

	router := gin.New()
	router.GET("/auctions/:auction_id/events", NewAuctionHandler(mockService, hub).StreamEventsHandler)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/auctions/missing/events")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/auctions/auction1/events", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	// Headers only arrive after the subscription is registered, so this bid cannot be missed.
	bid := model.Bid{ID: "b1", AuctionID: "auction1", Amount: decimal.NewFromInt(150), BidderName: "Meera"}
	require.NoError(t, hub.Publish(ctx, bid))

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:{") {
			continue
		}
		got, err := push.Decode([]byte(strings.TrimPrefix(line, "data:")))
		require.NoError(t, err)
		require.Equal(t, "b1", got.ID)
		require.Equal(t, "150", got.Amount.String())
		return
	}
	t.Fatalf("stream ended without a bid event: %v", scanner.Err())
}
