package locations

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/zappai-client/internal/models"
	"github.com/kjstillabower/zappai-client/internal/observability"
	"github.com/kjstillabower/zappai-client/internal/poller"
)

// Lister fetches the authoritative location list.
type Lister interface {
	ListLocations(ctx context.Context) ([]models.Location, error)
}

// OutcomeRecorder receives the outcome of every poll cycle. *traffic.Tracker satisfies it.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordError(err error)
}

// ViewOptions configures a View.
type ViewOptions struct {
	Interval time.Duration
	Clock    poller.Clock
	Logger   *zap.Logger
	Outcomes OutcomeRecorder // optional
}

// View is one mounted consumer of the location list: its own Collection, its own
// Poller and its own cancellation handle.
type View struct {
	api      Lister
	coll     *Collection
	poller   *poller.Poller[[]models.Location]
	interval time.Duration
	outcomes OutcomeRecorder
	logger   *zap.Logger

	mu     sync.Mutex
	handle *poller.Handle
}

// NewView creates an unmounted view over coll.
func NewView(api Lister, coll *Collection, opts ViewOptions) *View {
	logger := observability.OrNop(opts.Logger)
	return &View{
		api:      api,
		coll:     coll,
		poller:   poller.New[[]models.Location](poller.Options{Name: "locations", Clock: opts.Clock, Logger: logger}),
		interval: opts.Interval,
		outcomes: opts.Outcomes,
		logger:   logger,
	}
}

// Collection returns the view's collection.
func (v *View) Collection() *Collection {
	return v.coll
}

// Mount starts polling. Polling stops on Unmount or when ctx ends.
func (v *View) Mount(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	h, err := v.poller.Start(ctx, v.interval, v.api.ListLocations, v.onUpdate, v.onError)
	if err != nil {
		return err
	}
	v.handle = h
	return nil
}

func (v *View) onUpdate(items []models.Location) {
	if v.outcomes != nil {
		v.outcomes.RecordSuccess()
	}
	v.coll.Replace(items)
}

func (v *View) onError(err error) {
	if v.outcomes != nil {
		v.outcomes.RecordError(err)
	}
	v.coll.SetError(err)
}

// Unmount cancels polling and waits for the loop to exit. A fetch still in flight
// is not aborted; Unmount returns once it completes and its result is discarded.
func (v *View) Unmount() {
	v.mu.Lock()
	h := v.handle
	v.handle = nil
	v.mu.Unlock()
	if h == nil {
		return
	}
	h.Cancel()
	h.Wait()
}
