package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crop-bidding/internal/models"
	"crop-bidding/utils"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange bid events are published on
const DefaultExchange = "auction_events"

// DeclareExchange declares the durable topic exchange used for bid events
func DeclareExchange(ch *amqp.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("push: declare exchange %s: %w", name, err)
	}
	return nil
}

// AMQPPublisher publishes bids to the topic exchange keyed by auction
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

func NewAMQPPublisher(conn *amqp.Connection, exchange string) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("push: open channel: %w", err)
	}
	if err := DeclareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &AMQPPublisher{ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, bid models.Bid) error {
	body, err := Encode(bid)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(bid.AuctionID),
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("push: publish to exchange %s: %w", p.exchange, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}

const amqpRetryDelay = 5 * time.Second

// amqpChannel is the part of *amqp.Channel a subscription uses
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// AMQPOption configures an AMQPSubscriber
type AMQPOption func(*AMQPSubscriber)

// WithAMQPRedial lets the subscriber dial a new connection once the one it
// was given is closed.
func WithAMQPRedial(dial func() (*amqp.Connection, error)) AMQPOption {
	return func(s *AMQPSubscriber) { s.dial = dial }
}

// WithAMQPRetryDelay sets the wait between reconnect attempts
func WithAMQPRetryDelay(d time.Duration) AMQPOption {
	return func(s *AMQPSubscriber) { s.retryDelay = d }
}

// AMQPSubscriber binds a temporary exclusive queue per subscription. The
// queue dies with its channel and every reconnect declares a new one, so
// nothing published while disconnected is ever replayed.
type AMQPSubscriber struct {
	exchange   string
	retryDelay time.Duration
	dial       func() (*amqp.Connection, error)
	open       func() (amqpChannel, error)

	mu     sync.Mutex
	conn   *amqp.Connection
	dialed []*amqp.Connection
}

func NewAMQPSubscriber(conn *amqp.Connection, exchange string, opts ...AMQPOption) *AMQPSubscriber {
	s := &AMQPSubscriber{conn: conn, exchange: exchange, retryDelay: amqpRetryDelay}
	for _, opt := range opts {
		opt(s)
	}
	s.open = s.channel
	return s
}

// channel opens a channel on the current connection, redialing when it is gone
func (s *AMQPSubscriber) channel() (amqpChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() {
		if s.dial == nil {
			return nil, errors.New("push: amqp connection closed")
		}
		conn, err := s.dial()
		if err != nil {
			return nil, fmt.Errorf("push: redial amqp broker: %w", err)
		}
		utils.Info("push: amqp connection redialed", map[string]any{"exchange": s.exchange})
		s.conn = conn
		s.dialed = append(s.dialed, conn)
	}

	ch, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("push: open channel: %w", err)
	}
	return ch, nil
}

// Close closes the connections the subscriber dialed itself
func (s *AMQPSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, conn := range s.dialed {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.dialed = nil
	return errors.Join(errs...)
}

// attach opens a channel bound to auctionID's routing key and starts consuming
func (s *AMQPSubscriber) attach(auctionID string) (amqpChannel, <-chan amqp.Delivery, chan *amqp.Error, error) {
	ch, err := s.open()
	if err != nil {
		return nil, nil, nil, err
	}
	fail := func(err error) (amqpChannel, <-chan amqp.Delivery, chan *amqp.Error, error) {
		_ = ch.Close()
		return nil, nil, nil, err
	}

	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		return fail(fmt.Errorf("push: declare exchange %s: %w", s.exchange, err))
	}
	q, err := ch.QueueDeclare(
		"",
		false,
		true,
		true,
		false,
		nil,
	)
	if err != nil {
		return fail(fmt.Errorf("push: declare temp queue: %w", err))
	}
	if err := ch.QueueBind(q.Name, RoutingKey(auctionID), s.exchange, false, nil); err != nil {
		return fail(fmt.Errorf("push: bind queue to %s: %w", RoutingKey(auctionID), err))
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fail(fmt.Errorf("push: consume %s: %w", q.Name, err))
	}
	return ch, msgs, ch.NotifyClose(make(chan *amqp.Error, 1)), nil
}

func (s *AMQPSubscriber) Subscribe(ctx context.Context, auctionID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, msgs, closed, err := s.attach(auctionID)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &amqpSubscription{
		owner:      s,
		auctionID:  auctionID,
		routingKey: RoutingKey(auctionID),
		out:        make(chan Delivery, subscriberBuffer),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	sub.out <- Delivery{Kind: DeliveryConnected}
	go sub.run(loopCtx, ch, msgs, closed)
	return sub, nil
}

type amqpSubscription struct {
	owner      *AMQPSubscriber
	auctionID  string
	routingKey string
	out        chan Delivery
	cancel     context.CancelFunc
	done       chan struct{}
	closeErr   error
}

// run consumes until Close, reattaching with a fresh queue after every loss
func (s *amqpSubscription) run(ctx context.Context, ch amqpChannel, msgs <-chan amqp.Delivery, closed chan *amqp.Error) {
	defer close(s.done)
	defer close(s.out)

	for {
		lost := s.consume(ctx, msgs, closed)
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) && ctx.Err() != nil {
			s.closeErr = fmt.Errorf("push: close amqp subscription %s: %w", s.routingKey, err)
		}
		if ctx.Err() != nil {
			return
		}

		utils.Warn("push: amqp subscription lost", map[string]any{"routing_key": s.routingKey, "error": lost.Error()})
		if !s.send(ctx, Delivery{Kind: DeliveryDisconnected, Err: lost}) {
			return
		}

		for {
			select {
			case <-time.After(s.owner.retryDelay):
			case <-ctx.Done():
				return
			}
			var err error
			ch, msgs, closed, err = s.owner.attach(s.auctionID)
			if err == nil {
				break
			}
			utils.Warn("push: amqp reconnect failed", map[string]any{"routing_key": s.routingKey, "error": err.Error()})
		}

		utils.Info("push: amqp subscription restored", map[string]any{"routing_key": s.routingKey})
		if !s.send(ctx, Delivery{Kind: DeliveryConnected}) {
			_ = ch.Close()
			return
		}
	}
}

// consume forwards bids until the context ends or the channel is lost,
// returning the loss reason.
func (s *amqpSubscription) consume(ctx context.Context, msgs <-chan amqp.Delivery, closed <-chan *amqp.Error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				return amqpErr
			}
			return errors.New("push: amqp channel closed")

		case d, ok := <-msgs:
			if !ok {
				return errors.New("push: amqp consumer cancelled")
			}
			bid, err := Decode(d.Body)
			if err != nil {
				if !errors.Is(err, ErrIgnoredEvent) {
					utils.Warn("push: dropping malformed message", map[string]any{"routing_key": s.routingKey, "error": err.Error()})
				}
				continue
			}
			if !s.send(ctx, Delivery{Kind: DeliveryBid, Bid: bid}) {
				return ctx.Err()
			}
		}
	}
}

func (s *amqpSubscription) send(ctx context.Context, d Delivery) bool {
	select {
	case s.out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *amqpSubscription) Deliveries() <-chan Delivery {
	return s.out
}

func (s *amqpSubscription) Close() error {
	s.cancel()
	<-s.done
	return s.closeErr
}
