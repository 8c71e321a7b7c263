package main

import (
	"context"
	"fmt"

	"crop-bidding/internal/config"
	"crop-bidding/internal/push"
	"crop-bidding/utils"

	"github.com/go-redis/redis/v8"
	amqp "github.com/rabbitmq/amqp091-go"
)

// broker is a connected external push transport
type broker struct {
	publisher  push.Publisher
	subscriber push.Subscriber
	closers    []func() error
}

func (b *broker) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			utils.Warn("closing push transport", map[string]any{"error": err.Error()})
		}
	}
}

// connectBroker dials the transport named by cfg. It returns nil when the
// transport is "none" or "sse", which need no broker.
func connectBroker(ctx context.Context, cfg config.Config) (*broker, error) {
	switch cfg.PushTransport {
	case config.PushRedis:
		rds := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: "",
			DB:       0,
		})
		pong, err := rds.Ping(ctx).Result()
		if err != nil {
			_ = rds.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		utils.Info("redis connected", map[string]any{"addr": cfg.RedisAddr, "response": pong})
		return &broker{
			publisher:  push.NewRedisPublisher(rds),
			subscriber: push.NewRedisSubscriber(rds),
			closers:    []func() error{rds.Close},
		}, nil

	case config.PushAMQP:
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return nil, fmt.Errorf("connect amqp broker: %w", err)
		}
		publisher, err := push.NewAMQPPublisher(conn, cfg.Exchange)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		subscriber := push.NewAMQPSubscriber(conn, cfg.Exchange, push.WithAMQPRedial(func() (*amqp.Connection, error) {
			return amqp.Dial(cfg.AMQPURL)
		}))
		utils.Info("amqp connected", map[string]any{"exchange": cfg.Exchange})
		return &broker{
			publisher:  publisher,
			subscriber: subscriber,
			closers:    []func() error{conn.Close, publisher.Close, subscriber.Close},
		}, nil
	}
	return nil, nil
}
