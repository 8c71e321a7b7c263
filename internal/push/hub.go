package push

import (
	"context"
	"errors"
	"sync"

	"crop-bidding/internal/models"
	"crop-bidding/utils"
)

// ErrHubClosed is returned when publishing to or subscribing on a closed hub
var ErrHubClosed = errors.New("push: hub closed")

// ErrSubscriberLagging ends a subscription that fell subscriberBuffer deliveries behind
var ErrSubscriberLagging = errors.New("push: subscriber fell behind")

const subscriberBuffer = 64

// Hub is an in-process fan-out of bid events to subscribers grouped by auction.
// A single goroutine owns the subscriber table. A subscriber that falls
// subscriberBuffer deliveries behind gets DeliveryDisconnected and is dropped;
// its viewer resubscribes and refetches to catch up.
type Hub struct {
	register   chan *hubSubscription
	unregister chan *hubSubscription
	messages   chan models.Bid
	done       chan struct{}
	closeOnce  sync.Once

	byAuction map[string]map[*hubSubscription]struct{}
}

type hubSubscription struct {
	hub       *Hub
	auctionID string
	ch        chan Delivery
	closeOnce sync.Once
}

// NewHub starts a hub; call Close to stop it
func NewHub() *Hub {
	h := &Hub{
		register:   make(chan *hubSubscription),
		unregister: make(chan *hubSubscription),
		messages:   make(chan models.Bid),
		done:       make(chan struct{}),
		byAuction:  make(map[string]map[*hubSubscription]struct{}),
	}
	go h.listen()
	return h
}

func (h *Hub) listen() {
	for {
		select {
		case sub := <-h.register:
			if h.byAuction[sub.auctionID] == nil {
				h.byAuction[sub.auctionID] = make(map[*hubSubscription]struct{})
			}
			h.byAuction[sub.auctionID][sub] = struct{}{}
			utils.Debug("push hub: subscriber registered", map[string]any{"auction_id": sub.auctionID})

		case sub := <-h.unregister:
			if subs, ok := h.byAuction[sub.auctionID]; ok {
				if _, ok := subs[sub]; ok {
					delete(subs, sub)
					close(sub.ch)
				}
				if len(subs) == 0 {
					delete(h.byAuction, sub.auctionID)
				}
			}
			utils.Debug("push hub: subscriber removed", map[string]any{"auction_id": sub.auctionID})

		case bid := <-h.messages:
			h.broadcast(bid)

		case <-h.done:
			for _, subs := range h.byAuction {
				for sub := range subs {
					close(sub.ch)
				}
			}
			h.byAuction = nil
			return
		}
	}
}

func (h *Hub) broadcast(bid models.Bid) {
	subs := h.byAuction[bid.AuctionID]
	for sub := range subs {
		// The hub is the only sender, so the last slot is always free for the notice.
		if len(sub.ch) >= subscriberBuffer {
			utils.Warn("push hub: subscriber fell behind, dropping it", map[string]any{
				"auction_id": bid.AuctionID,
				"bid_id":     bid.ID,
			})
			sub.ch <- Delivery{Kind: DeliveryDisconnected, Err: ErrSubscriberLagging}
			close(sub.ch)
			delete(subs, sub)
			continue
		}
		sub.ch <- Delivery{Kind: DeliveryBid, Bid: bid}
	}
	if len(subs) == 0 {
		delete(h.byAuction, bid.AuctionID)
	}
}

// Publish delivers bid to all current subscribers of its auction
func (h *Hub) Publish(ctx context.Context, bid models.Bid) error {
	select {
	case h.messages <- bid:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubClosed
	}
}

// Subscribe registers a subscriber for auctionID. The first delivery is DeliveryConnected.
func (h *Hub) Subscribe(ctx context.Context, auctionID string) (Subscription, error) {
	sub := &hubSubscription{
		hub:       h,
		auctionID: auctionID,
		ch:        make(chan Delivery, subscriberBuffer+1),
	}
	sub.ch <- Delivery{Kind: DeliveryConnected}

	select {
	case h.register <- sub:
		return sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrHubClosed
	}
}

// Close stops the hub and closes every subscription
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (s *hubSubscription) Deliveries() <-chan Delivery {
	return s.ch
}

func (s *hubSubscription) Close() error {
	s.closeOnce.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
	return nil
}
