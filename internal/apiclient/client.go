package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crop-bidding/internal/biddingerrors"
	"crop-bidding/internal/models"

	"github.com/shopspring/decimal"
)

const defaultTimeout = 10 * time.Second

// envelope mirrors the backend's JSON response wrapper
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CreateAuctionRequest is the body of POST /auctions
type CreateAuctionRequest struct {
	CropName    string    `json:"cropName"`
	Variety     string    `json:"variety"`
	Weight      float64   `json:"weight"`
	Location    string    `json:"location"`
	Description string    `json:"description,omitempty"`
	BasePrice   float64   `json:"basePrice"`
	Deadline    time.Time `json:"deadline"`
}

// Client talks to the marketplace REST API on behalf of one identity
type Client struct {
	baseURL  string
	identity models.Identity
	http     *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for baseURL (e.g. http://localhost:8080/api) acting as identity
func New(baseURL string, identity models.Identity, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		identity: identity,
		http:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Me resolves the client's token to the identity and role the backend knows it by
func (c *Client) Me(ctx context.Context) (models.Identity, error) {
	var identity models.Identity
	if err := c.do(ctx, http.MethodGet, "/me", nil, &identity); err != nil {
		return models.Identity{}, fmt.Errorf("apiclient: resolve identity: %w", err)
	}
	identity.Token = c.identity.Token
	c.identity = identity
	return identity, nil
}

// GetAuction fetches an auction snapshot
func (c *Client) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	var auction models.Auction
	if err := c.do(ctx, http.MethodGet, "/auctions/"+url.PathEscape(auctionID), nil, &auction); err != nil {
		return models.Auction{}, fmt.Errorf("apiclient: get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

// ListBids fetches the bids of an auction in arrival order
func (c *Client) ListBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	var bids []models.Bid
	if err := c.do(ctx, http.MethodGet, "/auctions/"+url.PathEscape(auctionID)+"/bids", nil, &bids); err != nil {
		return nil, fmt.Errorf("apiclient: list bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// PlaceBid submits a bid. Backend-side validation failures come back as
// ErrServerRejected carrying the backend's reason.
func (c *Client) PlaceBid(ctx context.Context, auctionID string, amount decimal.Decimal) (models.Bid, error) {
	var bid models.Bid
	err := c.do(ctx, http.MethodPost, "/auctions/"+url.PathEscape(auctionID)+"/bids", placeBidRequest{Amount: amount}, &bid)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.rejection() {
			err = &biddingerrors.ServerRejectedError{Reason: apiErr.message}
		}
		return models.Bid{}, fmt.Errorf("apiclient: place bid on auction %s: %w", auctionID, err)
	}
	return bid, nil
}

// ListAuctions fetches the auction listing; activeOnly drops closed auctions
func (c *Client) ListAuctions(ctx context.Context, activeOnly bool) ([]models.Auction, error) {
	path := "/auctions"
	if activeOnly {
		path += "?active=true"
	}
	var auctions []models.Auction
	if err := c.do(ctx, http.MethodGet, path, nil, &auctions); err != nil {
		return nil, fmt.Errorf("apiclient: list auctions: %w", err)
	}
	return auctions, nil
}

// ListFarmerAuctions fetches the auctions of the authenticated farmer
func (c *Client) ListFarmerAuctions(ctx context.Context) ([]models.Auction, error) {
	var auctions []models.Auction
	if err := c.do(ctx, http.MethodGet, "/auctions/farmer", nil, &auctions); err != nil {
		return nil, fmt.Errorf("apiclient: list farmer auctions: %w", err)
	}
	return auctions, nil
}

// CreateAuction lists a new auction as the authenticated farmer
func (c *Client) CreateAuction(ctx context.Context, req CreateAuctionRequest) (models.Auction, error) {
	var auction models.Auction
	if err := c.do(ctx, http.MethodPost, "/auctions", req, &auction); err != nil {
		return models.Auction{}, fmt.Errorf("apiclient: create auction: %w", err)
	}
	return auction, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.identity.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.identity.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", biddingerrors.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", biddingerrors.ErrNetworkFailure, err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, env)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// apiError is a non-2xx backend response
type apiError struct {
	status  int
	message string
	kind    error
}

func newAPIError(status int, env envelope) *apiError {
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	var kind error
	switch {
	case status == http.StatusUnauthorized:
		kind = biddingerrors.ErrUnauthorized
	case status == http.StatusForbidden:
		kind = biddingerrors.ErrForbidden
	case status == http.StatusNotFound:
		kind = biddingerrors.ErrAuctionNotFound
	case status >= 500:
		kind = biddingerrors.ErrNetworkFailure
	}
	return &apiError{status: status, message: msg, kind: kind}
}

func (e *apiError) Error() string {
	return fmt.Sprintf("backend responded %d: %s", e.status, e.message)
}

func (e *apiError) Unwrap() error {
	return e.kind
}

// rejection reports whether the backend refused the request on its merits
func (e *apiError) rejection() bool {
	return e.status >= 400 && e.status < 500 &&
		e.status != http.StatusUnauthorized &&
		e.status != http.StatusNotFound
}
