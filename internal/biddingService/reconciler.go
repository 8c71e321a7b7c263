package bidding

import (
	"sort"
	"sync"

	"crop-bidding/internal/models"
)

// Source identifies where a bid observation came from
type Source int

const (
	SourceFetch Source = iota
	SourcePush
	SourceLocal
)

func (s Source) String() string {
	switch s {
	case SourceFetch:
		return "fetch"
	case SourcePush:
		return "push"
	case SourceLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Update describes the outcome of one observation
type Update struct {
	// Changed is true when the observed bid replaced the best bid
	Changed bool
	// Notify is true when the display layer should tell the user about a new bid.
	// Only push-sourced replacements notify.
	Notify bool
	// HistoryChanged is true when the bid history gained entries or was resorted
	HistoryChanged bool
	Best           *models.Bid
}

// Reconciler merges fetched, pushed and locally acknowledged bids into one
// current winner. The winner is decided by amount alone, so the result does
// not depend on arrival order and never regresses.
type Reconciler struct {
	mu      sync.RWMutex
	auction models.Auction
	best    *models.Bid
	history []models.Bid
	seen    map[string]struct{}
}

// NewReconciler seeds the reconciler from an auction snapshot
func NewReconciler(auction models.Auction) *Reconciler {
	r := &Reconciler{
		auction: auction,
		seen:    make(map[string]struct{}),
	}
	if auction.CurrentBid != nil {
		b := *auction.CurrentBid
		r.best = &b
		r.appendHistory(b)
	}
	return r
}

// Observe feeds a single bid from src
func (r *Reconciler) Observe(bid models.Bid, src Source) Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := r.appendHistory(bid)
	if added {
		sortHistory(r.history)
	}

	upd := r.observe(bid, src)
	upd.HistoryChanged = added
	return upd
}

// ObserveFetch merges a full bid-list fetch. The history is append-only, so
// a stale list never removes bids already seen from other sources.
func (r *Reconciler) ObserveFetch(bids []models.Bid) Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range bids {
		r.appendHistory(b)
	}
	sortHistory(r.history)

	upd := Update{HistoryChanged: true, Best: r.bestCopy()}
	if max, ok := highest(bids); ok {
		upd = r.observe(max, SourceFetch)
		upd.HistoryChanged = true
	}
	return upd
}

func (r *Reconciler) observe(bid models.Bid, src Source) Update {
	if r.best != nil && !bid.Amount.GreaterThan(r.best.Amount) {
		return Update{Best: r.bestCopy()}
	}

	if r.best == nil {
		// The first bid seen is taken as reported; the backend already accepted it.
		b := bid
		r.auction.CurrentBid = &b
	} else {
		r.auction, _ = ApplyAccepted(r.auction, bid)
	}

	b := bid
	r.best = &b
	return Update{
		Changed: true,
		Notify:  src == SourcePush,
		Best:    r.bestCopy(),
	}
}

func (r *Reconciler) appendHistory(bid models.Bid) bool {
	if bid.ID != "" {
		if _, dup := r.seen[bid.ID]; dup {
			return false
		}
		r.seen[bid.ID] = struct{}{}
	}
	r.history = append(r.history, bid)
	return true
}

func (r *Reconciler) bestCopy() *models.Bid {
	if r.best == nil {
		return nil
	}
	b := *r.best
	return &b
}

// Best returns the current winning bid, if any
func (r *Reconciler) Best() (models.Bid, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.best == nil {
		return models.Bid{}, false
	}
	return *r.best, true
}

// Auction returns the auction snapshot with its current bid kept in step with Best
func (r *Reconciler) Auction() models.Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a := r.auction
	a.CurrentBid = r.bestCopy()
	return a
}

// History returns the bid history, newest first
func (r *Reconciler) History() []models.Bid {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Bid(nil), r.history...)
}

// highest returns the bid with the largest amount; ties go to the earliest entry
func highest(bids []models.Bid) (models.Bid, bool) {
	if len(bids) == 0 {
		return models.Bid{}, false
	}
	best := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(best.Amount) {
			best = b
		}
	}
	return best, true
}

// sortHistory orders bids newest first for display
func sortHistory(bids []models.Bid) {
	sort.SliceStable(bids, func(i, j int) bool {
		if !bids[i].Timestamp.Equal(bids[j].Timestamp) {
			return bids[i].Timestamp.After(bids[j].Timestamp)
		}
		if !bids[i].Amount.Equal(bids[j].Amount) {
			return bids[i].Amount.GreaterThan(bids[j].Amount)
		}
		return bids[i].ID < bids[j].ID
	})
}
