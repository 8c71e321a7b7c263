package bidding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"crop-bidding/internal/biddingerrors"
	"crop-bidding/internal/clock"
	"crop-bidding/internal/models"
	"crop-bidding/internal/push"
	"crop-bidding/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

//go:generate mockgen -destination=mock_backend_client.go -package=bidding crop-bidding/internal/biddingService BackendClient

// BackendClient is the marketplace API the session reads from and submits to
type BackendClient interface {
	GetAuction(ctx context.Context, auctionID string) (models.Auction, error)
	ListBids(ctx context.Context, auctionID string) ([]models.Bid, error)
	PlaceBid(ctx context.Context, auctionID string, amount decimal.Decimal) (models.Bid, error)
}

// View is what the display layer renders for the open auction
type View struct {
	Auction              models.Auction
	CurrentWinningAmount decimal.Decimal
	Active               bool
	MinimumNextBid       decimal.Decimal
	SuggestedBid         decimal.Decimal
	Best                 *models.Bid
	History              []models.Bid
	Connected            bool
	TimeRemaining        string
}

// Notification is a user-facing message about a bid from another viewer
type Notification struct {
	Bid     models.Bid
	Message string
}

// Listener receives display updates. Calls are serialized and never happen
// after Close returns. Callbacks must not call Open or Close.
type Listener interface {
	BestChanged(v View)
	HistoryChanged(v View)
	Notify(n Notification)
	ConnectivityChanged(connected bool)
}

// ListenerFuncs adapts optional functions to Listener
type ListenerFuncs struct {
	OnBestChanged         func(View)
	OnHistoryChanged      func(View)
	OnNotify              func(Notification)
	OnConnectivityChanged func(bool)
}

func (f ListenerFuncs) BestChanged(v View) {
	if f.OnBestChanged != nil {
		f.OnBestChanged(v)
	}
}

func (f ListenerFuncs) HistoryChanged(v View) {
	if f.OnHistoryChanged != nil {
		f.OnHistoryChanged(v)
	}
}

func (f ListenerFuncs) Notify(n Notification) {
	if f.OnNotify != nil {
		f.OnNotify(n)
	}
}

func (f ListenerFuncs) ConnectivityChanged(connected bool) {
	if f.OnConnectivityChanged != nil {
		f.OnConnectivityChanged(connected)
	}
}

// SessionOption configures a Session
type SessionOption func(*Session)

func WithClock(c clock.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

func WithListener(l Listener) SessionOption {
	return func(s *Session) { s.listener = l }
}

// Session owns the view of one auction and its push subscription for one
// viewer. It is the only writer of that view's state.
type Session struct {
	client     BackendClient
	subscriber push.Subscriber
	identity   models.Identity
	clock      clock.Clock
	listener   Listener

	mu         sync.Mutex
	view       *auctionView
	generation atomic.Uint64

	// emitMu serializes listener callbacks against each other and against Close
	emitMu sync.Mutex
}

type auctionView struct {
	id        string
	gen       uint64
	rec       *Reconciler
	sub       push.Subscription
	connected atomic.Bool
	closed    atomic.Bool

	mu        sync.Mutex
	suggested decimal.Decimal
}

// NewSession creates a session for identity. subscriber may be nil, in which
// case the view only changes on fetches and local submissions.
func NewSession(client BackendClient, subscriber push.Subscriber, identity models.Identity, opts ...SessionOption) *Session {
	s := &Session{
		client:     client,
		subscriber: subscriber,
		identity:   identity,
		clock:      clock.NewSystem(),
		listener:   ListenerFuncs{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open subscribes to auctionID's live bids, then loads its snapshot and bid
// list, replacing any view that was already open. Bids pushed while the fetch
// is in flight wait in the subscription and are observed after it.
func (s *Session) Open(ctx context.Context, auctionID string) error {
	if auctionID == "" {
		return fmt.Errorf("session: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	s.Close()
	startGen := s.generation.Load()

	var sub push.Subscription
	if s.subscriber != nil {
		var err error
		sub, err = s.subscriber.Subscribe(ctx, auctionID)
		if err != nil {
			utils.Warn("session: push subscription unavailable", map[string]any{
				"auction_id": auctionID,
				"error":      err.Error(),
			})
			sub = nil
		}
	}
	closeSub := func() {
		if sub != nil {
			_ = sub.Close()
		}
	}

	var (
		auction models.Auction
		bids    []models.Bid
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		auction, err = s.client.GetAuction(gctx, auctionID)
		return err
	})
	g.Go(func() error {
		var err error
		bids, err = s.client.ListBids(gctx, auctionID)
		if errors.Is(err, biddingerrors.ErrNoBids) {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		closeSub()
		return fmt.Errorf("session: open auction %s: %w", auctionID, err)
	}

	view := &auctionView{
		id:  auctionID,
		rec: NewReconciler(auction),
		sub: sub,
	}
	view.rec.ObserveFetch(bids)

	s.mu.Lock()
	if s.generation.Load() != startGen || s.view != nil {
		// Closed or reopened while loading.
		s.mu.Unlock()
		closeSub()
		return fmt.Errorf("session: open auction %s: %w", auctionID, biddingerrors.ErrSessionClosed)
	}
	view.gen = s.generation.Inc()
	s.view = view
	s.mu.Unlock()

	utils.Info("session: auction opened", map[string]any{
		"auction_id": auctionID,
		"bids":       len(bids),
		"user_id":    s.identity.UserID,
	})
	_, hasBest := view.rec.Best()
	s.emit(view, Update{HistoryChanged: true, Changed: hasBest})

	if view.sub != nil {
		go s.listen(view)
	} else {
		s.reportOffline(view)
	}
	return nil
}

// Close tears down the open view and its subscription. Submissions still in
// flight resolve with ErrSessionClosed and are not applied.
func (s *Session) Close() {
	s.mu.Lock()
	view := s.view
	s.view = nil
	s.generation.Inc()
	s.mu.Unlock()

	if view == nil {
		return
	}

	s.emitMu.Lock()
	view.closed.Store(true)
	s.emitMu.Unlock()

	if view.sub != nil {
		if err := view.sub.Close(); err != nil {
			utils.Warn("session: closing push subscription", map[string]any{"auction_id": view.id, "error": err.Error()})
		}
	}
	utils.Info("session: auction closed", map[string]any{"auction_id": view.id})
}

// Refresh refetches the bid list of the open auction
func (s *Session) Refresh(ctx context.Context) error {
	view, err := s.currentView()
	if err != nil {
		return err
	}
	return s.refresh(ctx, view)
}

func (s *Session) refresh(ctx context.Context, view *auctionView) error {
	bids, err := s.client.ListBids(ctx, view.id)
	if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
		return fmt.Errorf("session: refresh bids for auction %s: %w", view.id, err)
	}
	if !s.isCurrent(view) {
		return fmt.Errorf("session: refresh bids for auction %s: %w", view.id, biddingerrors.ErrSessionClosed)
	}
	s.emit(view, view.rec.ObserveFetch(bids))
	return nil
}

// Submit validates amount against the current view and, if it passes, places
// the bid with the backend. Local validation failures never reach the backend.
func (s *Session) Submit(ctx context.Context, amount float64) (models.Bid, error) {
	if s.identity.Role != models.RoleBuyer {
		return models.Bid{}, fmt.Errorf("session: %w", biddingerrors.ErrNotBuyer)
	}
	view, err := s.currentView()
	if err != nil {
		return models.Bid{}, err
	}

	normalized, err := ValidateBid(view.rec.Auction(), amount, s.clock.Now())
	if err != nil {
		return models.Bid{}, fmt.Errorf("session: bid on auction %s: %w", view.id, err)
	}

	bid, err := s.client.PlaceBid(ctx, view.id, normalized)
	if !s.isCurrent(view) {
		utils.Info("session: discarding bid result for closed view", map[string]any{"auction_id": view.id})
		return models.Bid{}, fmt.Errorf("session: bid on auction %s: %w", view.id, biddingerrors.ErrSessionClosed)
	}
	if err != nil {
		if errors.Is(err, biddingerrors.ErrServerRejected) {
			// Our view was stale; the backend's current bid wins.
			if refreshErr := s.refresh(ctx, view); refreshErr != nil {
				utils.Warn("session: reconcile after rejection failed", map[string]any{
					"auction_id": view.id,
					"error":      refreshErr.Error(),
				})
			}
		}
		utils.Warn("session: bid not placed", map[string]any{
			"auction_id": view.id,
			"amount":     normalized.String(),
			"error":      err.Error(),
		})
		return models.Bid{}, fmt.Errorf("session: bid on auction %s: %w", view.id, err)
	}

	view.mu.Lock()
	view.suggested = bid.Amount.Add(bidIncrement)
	view.mu.Unlock()

	s.emit(view, view.rec.Observe(bid, SourceLocal))
	utils.Info("session: bid placed", map[string]any{
		"auction_id": view.id,
		"bid_id":     bid.ID,
		"amount":     bid.Amount.String(),
	})

	if err := s.refresh(ctx, view); err != nil {
		utils.Warn("session: refresh after bid failed", map[string]any{"auction_id": view.id, "error": err.Error()})
	}
	return bid, nil
}

// View returns the display snapshot of the open auction
func (s *Session) View() (View, error) {
	view, err := s.currentView()
	if err != nil {
		return View{}, err
	}
	return s.snapshot(view), nil
}

func (s *Session) snapshot(view *auctionView) View {
	auction := view.rec.Auction()
	now := s.clock.Now()

	minimum := MinimumBid(auction)
	view.mu.Lock()
	suggested := view.suggested
	view.mu.Unlock()
	if suggested.LessThan(minimum) {
		suggested = minimum
	}

	return View{
		Auction:              auction,
		CurrentWinningAmount: CurrentWinningAmount(auction),
		Active:               IsActive(auction, now),
		MinimumNextBid:       minimum,
		SuggestedBid:         suggested,
		Best:                 auction.CurrentBid,
		History:              view.rec.History(),
		Connected:            view.connected.Load(),
		TimeRemaining:        TimeRemaining(auction, now),
	}
}

func (s *Session) listen(view *auctionView) {
	for d := range view.sub.Deliveries() {
		if !s.isCurrent(view) {
			return
		}
		switch d.Kind {
		case push.DeliveryBid:
			if d.Bid.AuctionID != "" && d.Bid.AuctionID != view.id {
				continue
			}
			s.emit(view, view.rec.Observe(d.Bid, SourcePush))
		case push.DeliveryConnected:
			s.emitConnectivity(view, true)
		case push.DeliveryDisconnected:
			s.emitConnectivity(view, false)
		}
	}
	if s.isCurrent(view) {
		s.emitConnectivity(view, false)
	}
}

func (s *Session) emit(view *auctionView, upd Update) {
	if !upd.Changed && !upd.HistoryChanged {
		return
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if view.closed.Load() {
		return
	}

	v := s.snapshot(view)
	if upd.Changed {
		s.listener.BestChanged(v)
	}
	if upd.Notify && upd.Best != nil {
		s.listener.Notify(Notification{
			Bid:     *upd.Best,
			Message: fmt.Sprintf("New bid: %s by %s", upd.Best.Amount.StringFixed(2), upd.Best.BidderName),
		})
	}
	if upd.HistoryChanged {
		s.listener.HistoryChanged(v)
	}
}

func (s *Session) emitConnectivity(view *auctionView, connected bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if view.closed.Load() {
		return
	}
	if view.connected.Swap(connected) == connected {
		return
	}
	if !connected {
		utils.Warn("session: live updates disconnected", map[string]any{"auction_id": view.id})
	}
	s.listener.ConnectivityChanged(connected)
}

// reportOffline tells the display layer the view has no live updates at all
func (s *Session) reportOffline(view *auctionView) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if view.closed.Load() {
		return
	}
	view.connected.Store(false)
	s.listener.ConnectivityChanged(false)
}

func (s *Session) currentView() (*auctionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == nil {
		return nil, fmt.Errorf("session: %w", biddingerrors.ErrNoSession)
	}
	return s.view, nil
}

func (s *Session) isCurrent(view *auctionView) bool {
	return !view.closed.Load() && s.generation.Load() == view.gen
}
