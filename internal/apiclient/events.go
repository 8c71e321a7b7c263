package apiclient

import (
	"bufio"
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
	"crop-bidding/internal/push"
	"crop-bidding/utils"
)

const (
	eventRetryDelay = 5 * time.Second
	maxEventSize    = 1 << 20
)

// EventStream follows the backend's server-sent bid events. It implements
// push.Subscriber for viewers that have no broker to subscribe to.
type EventStream struct {
	client     *Client
	http       *http.Client
	retryDelay time.Duration
}

// Events returns a push.Subscriber over GET /auctions/:id/events
func (c *Client) Events() *EventStream {
	// No overall timeout: the response body is the stream.
	return &EventStream{
		client:     c,
		http:       &http.Client{Transport: c.http.Transport},
		retryDelay: eventRetryDelay,
	}
}

// Subscribe opens the event stream of auctionID. Failures to connect the first
// time are returned; later drops are reported as DeliveryDisconnected and the
// stream is reopened after a delay. Nothing missed in between is replayed.
func (e *EventStream) Subscribe(ctx context.Context, auctionID string) (push.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	body, err := e.open(loopCtx, auctionID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("apiclient: subscribe to auction %s events: %w", auctionID, err)
	}

	sub := &eventSubscription{
		stream:    e,
		auctionID: auctionID,
		out:       make(chan push.Delivery, 64),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go sub.run(loopCtx, body)
	return sub, nil
}

func (e *EventStream) open(ctx context.Context, auctionID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.client.baseURL+"/auctions/"+url.PathEscape(auctionID)+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if e.client.identity.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.client.identity.Token)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", biddingerrors.ErrNetworkFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var env envelope
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxEventSize))
		_ = json.Unmarshal(raw, &env)
		return nil, newAPIError(resp.StatusCode, env)
	}
	return resp.Body, nil
}

type eventSubscription struct {
	stream    *EventStream
	auctionID string
	out       chan push.Delivery
	cancel    context.CancelFunc
	done      chan struct{}
}

func (s *eventSubscription) run(ctx context.Context, body io.ReadCloser) {
	defer close(s.done)
	defer close(s.out)

	for {
		err := s.read(ctx, body)
		_ = body.Close()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("apiclient: event stream ended")
		}
		utils.Warn("apiclient: event stream lost", map[string]any{"auction_id": s.auctionID, "error": err.Error()})
		if !s.send(ctx, push.Delivery{Kind: push.DeliveryDisconnected, Err: err}) {
			return
		}

		for {
			select {
			case <-time.After(s.stream.retryDelay):
			case <-ctx.Done():
				return
			}
			body, err = s.stream.open(ctx, s.auctionID)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			utils.Warn("apiclient: event stream reconnect failed", map[string]any{"auction_id": s.auctionID, "error": err.Error()})
		}
		// The backend's "connected" event reports the restored stream.
	}
}

// read dispatches events until the stream ends
func (s *eventSubscription) read(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)

	var (
		event string
		data  []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !s.dispatch(ctx, event, strings.Join(data, "\n")) {
				return ctx.Err()
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data = append(data, value)
			}
		}
	}
	return scanner.Err()
}

func (s *eventSubscription) dispatch(ctx context.Context, event, data string) bool {
	switch event {
	case "connected":
		return s.send(ctx, push.Delivery{Kind: push.DeliveryConnected})
	case "", "message":
		if data == "" {
			return true
		}
		bid, err := push.Decode([]byte(data))
		if err != nil {
			if !errors.Is(err, push.ErrIgnoredEvent) {
				utils.Warn("apiclient: dropping malformed event", map[string]any{"auction_id": s.auctionID, "error": err.Error()})
			}
			return true
		}
		return s.send(ctx, push.Delivery{Kind: push.DeliveryBid, Bid: bid})
	}
	return true
}

func (s *eventSubscription) send(ctx context.Context, d push.Delivery) bool {
	select {
	case s.out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *eventSubscription) Deliveries() <-chan push.Delivery {
	return s.out
}

func (s *eventSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}
