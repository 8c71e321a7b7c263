package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crop-bidding/internal/models"

	"github.com/shopspring/decimal"
)

// EventNewBid is the only event the bidding view reacts to
const EventNewBid = "new_bid"

// ErrIgnoredEvent is returned by Decode for well-formed messages of other event types
var ErrIgnoredEvent = errors.New("push: ignored event")

// Message is the wire form of a push notification: the event name plus the bid fields
type Message struct {
	Event      string          `json:"event"`
	ID         string          `json:"id"`
	AuctionID  string          `json:"auctionId"`
	Amount     decimal.Decimal `json:"amount"`
	BidderID   string          `json:"bidderId"`
	BidderName string          `json:"bidderName"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Encode builds the new_bid message body for bid
func Encode(bid models.Bid) ([]byte, error) {
	body, err := json.Marshal(Message{
		Event:      EventNewBid,
		ID:         bid.ID,
		AuctionID:  bid.AuctionID,
		Amount:     bid.Amount,
		BidderID:   bid.BidderID,
		BidderName: bid.BidderName,
		Timestamp:  bid.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("push: encode bid %s: %w", bid.ID, err)
	}
	return body, nil
}

// Decode parses a message body into a bid
func Decode(body []byte) (models.Bid, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return models.Bid{}, fmt.Errorf("push: decode message: %w", err)
	}
	if msg.Event != EventNewBid {
		return models.Bid{}, fmt.Errorf("%w: %q", ErrIgnoredEvent, msg.Event)
	}
	return models.Bid{
		ID:         msg.ID,
		AuctionID:  msg.AuctionID,
		Amount:     msg.Amount,
		BidderID:   msg.BidderID,
		BidderName: msg.BidderName,
		Timestamp:  msg.Timestamp,
	}, nil
}

// Topic returns the pub/sub channel name for an auction
func Topic(auctionID string) string {
	return "auction:" + auctionID
}

// RoutingKey returns the AMQP routing key for an auction
func RoutingKey(auctionID string) string {
	return "auction." + auctionID
}

// DeliveryKind distinguishes bids from connectivity changes
type DeliveryKind int

const (
	DeliveryBid DeliveryKind = iota
	DeliveryConnected
	DeliveryDisconnected
)

// Delivery is one item read from a subscription
type Delivery struct {
	Kind DeliveryKind
	Bid  models.Bid
	Err  error
}

// Subscription is a live, topic-scoped push listener.
// Deliveries is closed after Close or when the transport gives up.
type Subscription interface {
	Deliveries() <-chan Delivery
	Close() error
}

// Subscriber opens subscriptions keyed by auction id
type Subscriber interface {
	Subscribe(ctx context.Context, auctionID string) (Subscription, error)
}

// Publisher broadcasts an accepted bid to every viewer of its auction
type Publisher interface {
	Publish(ctx context.Context, bid models.Bid) error
}

// MultiPublisher publishes to every publisher, joining their errors
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, bid models.Bid) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, bid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
