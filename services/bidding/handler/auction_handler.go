package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	bidding "crop-bidding/internal/biddingService"
	"crop-bidding/internal/biddingerrors"
	model "crop-bidding/internal/models"
	"crop-bidding/internal/push"
	"crop-bidding/services/bidding/helpers"
	"crop-bidding/utils"

	"github.com/gin-gonic/gin"
)

//go:generate mockgen -destination=mock_auction_service.go -package=handler crop-bidding/services/bidding/handler AuctionServiceInterface

type AuctionServiceInterface interface {
	PlaceBid(ctx context.Context, auctionID string, bidder model.Identity, amount float64) (model.Bid, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	GetBids(ctx context.Context, auctionID string) ([]model.Bid, error)
	ListAuctions(ctx context.Context, activeOnly bool) ([]model.Auction, error)
	ListFarmerAuctions(ctx context.Context, farmerID string) ([]model.Auction, error)
	CreateAuction(ctx context.Context, farmer model.Identity, in bidding.CreateAuctionInput) (model.Auction, error)
}

type AuctionHandler struct {
	service AuctionServiceInterface
	events  push.Subscriber
}

func NewAuctionHandler(service AuctionServiceInterface, events push.Subscriber) *AuctionHandler {
	return &AuctionHandler{service: service, events: events}
}

// PlaceBidHandler handles POST /auctions/:auction_id/bids
func (h *AuctionHandler) PlaceBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	identity, ok := helpers.IdentityFrom(c)
	if !ok {
		utils.JSONError(c, http.StatusUnauthorized, biddingerrors.ErrUnauthorized, "unauthorized")
		return
	}

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), auctionID, identity, req.Amount)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("PlaceBidHandler: failed to place bid", map[string]any{
			"handler":    "PlaceBidHandler",
			"auction_id": auctionID,
			"user_id":    identity.UserID,
			"amount":     req.Amount,
			"error":      err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, bid, "bid placed successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid placed successfully", map[string]any{
		"bid_id":     bid.ID,
		"auction_id": bid.AuctionID,
		"user_id":    identity.UserID,
		"amount":     bid.Amount.String(),
	})
}

// GetBidsHandler handles GET /auctions/:auction_id/bids
func (h *AuctionHandler) GetBidsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBids(c.Request.Context(), auctionID)
	if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetBidsHandler: error retrieving bids", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	if bids == nil {
		bids = []model.Bid{}
	}

	utils.JSONResponse(c, http.StatusOK, bids, "bids retrieved successfully")
	helpers.LogSuccess("GetBidsHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(bids),
	})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *AuctionHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetAuctionHandler: error retrieving auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, auction, "auction retrieved successfully")
}

// MeHandler handles GET /me, returning the authenticated identity
func (h *AuctionHandler) MeHandler(c *gin.Context) {
	identity, ok := helpers.IdentityFrom(c)
	if !ok {
		utils.JSONError(c, http.StatusUnauthorized, biddingerrors.ErrUnauthorized, "unauthorized")
		return
	}
	utils.JSONResponse(c, http.StatusOK, identity, "identity retrieved successfully")
}

// ListAuctionsHandler handles GET /auctions
func (h *AuctionHandler) ListAuctionsHandler(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	auctions, err := h.service.ListAuctions(c.Request.Context(), activeOnly)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("ListAuctionsHandler: error listing auctions", map[string]any{"error": err.Error()})
		return
	}

	if auctions == nil {
		auctions = []model.Auction{}
	}
	utils.JSONResponse(c, http.StatusOK, auctions, "auctions retrieved successfully")
}

// ListFarmerAuctionsHandler handles GET /auctions/farmer
func (h *AuctionHandler) ListFarmerAuctionsHandler(c *gin.Context) {
	identity, ok := helpers.IdentityFrom(c)
	if !ok || identity.Role != model.RoleFarmer {
		utils.JSONError(c, http.StatusForbidden, biddingerrors.ErrForbidden, "forbidden")
		return
	}

	auctions, err := h.service.ListFarmerAuctions(c.Request.Context(), identity.UserID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("ListFarmerAuctionsHandler: error listing auctions", map[string]any{"user_id": identity.UserID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, auctions, "auctions retrieved successfully")
}

// CreateAuctionHandler handles POST /auctions
func (h *AuctionHandler) CreateAuctionHandler(c *gin.Context) {
	identity, ok := helpers.IdentityFrom(c)
	if !ok {
		utils.JSONError(c, http.StatusUnauthorized, biddingerrors.ErrUnauthorized, "unauthorized")
		return
	}

	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), identity, bidding.CreateAuctionInput{
		CropName:    req.CropName,
		Variety:     req.Variety,
		Weight:      req.Weight,
		Location:    req.Location,
		Description: req.Description,
		BasePrice:   req.BasePrice,
		Deadline:    req.Deadline,
	})
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("CreateAuctionHandler: failed to create auction", map[string]any{"user_id": identity.UserID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, auction, "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.ID,
		"user_id":    identity.UserID,
	})
}

// StreamEventsHandler handles GET /auctions/:auction_id/events as a server-sent event stream
func (h *AuctionHandler) StreamEventsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	if _, err := h.service.GetAuction(c.Request.Context(), auctionID); err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		return
	}

	sub, err := h.events.Subscribe(c.Request.Context(), auctionID)
	if err != nil {
		utils.JSONError(c, http.StatusServiceUnavailable, err, "live updates unavailable")
		utils.Error("StreamEventsHandler: subscribe failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	utils.Info("StreamEventsHandler: viewer connected", map[string]any{"auction_id": auctionID})
	c.Stream(func(w io.Writer) bool {
		select {
		case d, ok := <-sub.Deliveries():
			if !ok {
				return false
			}
			switch d.Kind {
			case push.DeliveryConnected:
				c.SSEvent("connected", auctionID)
				return true
			case push.DeliveryDisconnected:
				return false
			}
			body, err := push.Encode(d.Bid)
			if err != nil {
				utils.Warn("StreamEventsHandler: encode failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
				return true
			}
			c.SSEvent("message", string(body))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	utils.Info("StreamEventsHandler: viewer disconnected", map[string]any{"auction_id": auctionID})
}
