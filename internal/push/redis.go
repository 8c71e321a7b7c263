package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crop-bidding/internal/models"
	"crop-bidding/utils"

	"github.com/go-redis/redis/v8"
)

const redisRetryDelay = 5 * time.Second

// RedisPublisher publishes bids on the auction's pub/sub channel
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, bid models.Bid) error {
	body, err := Encode(bid)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, Topic(bid.AuctionID), body).Err(); err != nil {
		return fmt.Errorf("push: redis publish to %s: %w", Topic(bid.AuctionID), err)
	}
	return nil
}

// RedisSubscriber listens on the auction's pub/sub channel. Redis pub/sub
// keeps no backlog, so a reconnect never replays missed bids.
type RedisSubscriber struct {
	client     *redis.Client
	retryDelay time.Duration
}

func NewRedisSubscriber(client *redis.Client) *RedisSubscriber {
	return &RedisSubscriber{client: client, retryDelay: redisRetryDelay}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, auctionID string) (Subscription, error) {
	topic := Topic(auctionID)
	ps := s.client.Subscribe(ctx, topic)

	// Wait for the subscribe confirmation so failures surface here.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("push: redis subscribe to %s: %w", topic, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		ps:     ps,
		topic:  topic,
		ch:     make(chan Delivery, subscriberBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sub.ch <- Delivery{Kind: DeliveryConnected}
	go sub.receive(loopCtx, s.retryDelay)
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	topic  string
	ch     chan Delivery
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *redisSubscription) receive(ctx context.Context, retryDelay time.Duration) {
	defer close(s.done)
	defer close(s.ch)

	connected := true
	for {
		msg, err := s.ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			if connected {
				connected = false
				utils.Warn("push: redis subscription lost", map[string]any{"topic": s.topic, "error": err.Error()})
				if !s.send(ctx, Delivery{Kind: DeliveryDisconnected, Err: err}) {
					return
				}
			}
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" && !connected {
				connected = true
				utils.Info("push: redis subscription restored", map[string]any{"topic": s.topic})
				if !s.send(ctx, Delivery{Kind: DeliveryConnected}) {
					return
				}
			}
		case *redis.Message:
			bid, err := Decode([]byte(m.Payload))
			if err != nil {
				if !errors.Is(err, ErrIgnoredEvent) {
					utils.Warn("push: dropping malformed message", map[string]any{"topic": s.topic, "error": err.Error()})
				}
				continue
			}
			if !s.send(ctx, Delivery{Kind: DeliveryBid, Bid: bid}) {
				return
			}
		}
	}
}

func (s *redisSubscription) send(ctx context.Context, d Delivery) bool {
	select {
	case s.ch <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *redisSubscription) Deliveries() <-chan Delivery {
	return s.ch
}

func (s *redisSubscription) Close() error {
	s.cancel()
	err := s.ps.Close()
	<-s.done
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("push: close redis subscription %s: %w", s.topic, err)
	}
	return nil
}
