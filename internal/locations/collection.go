// Package locations holds the view-local cache of polled locations and the
// optimistic mutations applied to it.
package locations

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/kjstillabower/zappai-client/internal/config"
	"github.com/kjstillabower/zappai-client/internal/models"
	"github.com/kjstillabower/zappai-client/internal/observability"
)

// Snapshot is a copy of the collection state.
type Snapshot struct {
	Items []models.Location
	// Err is the sticky message of the last failed poll or mutation; empty when clear.
	Err     string
	Loading bool
}

// Options configures a Collection.
type Options struct {
	// Reconcile is config.ReconcileReplace (default) or config.ReconcileMerge.
	Reconcile   string
	PendingHold time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Collection is the local copy of the location list for one mounted view.
//
// Mutations are serialized; subscribers are notified in mutation order, outside
// the state lock, so a subscriber may call Snapshot, Items or Filter but not a
// mutating method.
type Collection struct {
	mu      sync.Mutex
	items   []models.Location
	errMsg  string
	loading bool
	pending *pendingSet

	notifyMu sync.Mutex
	subs     []subscriber
	nextID   int

	logger *zap.Logger
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// NewCollection returns an empty collection in the loading state.
func NewCollection(opts Options) *Collection {
	c := &Collection{
		loading: true,
		logger:  observability.OrNop(opts.Logger),
	}
	if opts.Reconcile == config.ReconcileMerge {
		clk := opts.Clock
		if clk == nil {
			clk = clock.New()
		}
		hold := opts.PendingHold
		if hold <= 0 {
			hold = 2 * 30 * time.Second
		}
		c.pending = newPendingSet(clk, hold)
	}
	return c
}

// Snapshot returns a deep copy of the current state.
func (c *Collection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Items returns a deep copy of the current list.
func (c *Collection) Items() []models.Location {
	return c.Snapshot().Items
}

// Subscribe registers fn for every future change.
func (c *Collection) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.notifyMu.Lock()
			defer c.notifyMu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Replace applies a successful poll: overwrites the list (subject to the merge
// policy, when enabled), clears the sticky error and ends loading.
func (c *Collection) Replace(items []models.Location) {
	c.mutate(func() {
		next := cloneAll(items)
		if c.pending != nil {
			next = c.pending.apply(next)
		}
		c.items = next
		c.errMsg = ""
		c.loading = false
	})
}

// SetError records a failed poll or mutation without touching the list.
func (c *Collection) SetError(err error) {
	if err == nil {
		return
	}
	c.mutate(func() {
		c.errMsg = err.Error()
		c.loading = false
	})
}

// ClearError drops the sticky error.
func (c *Collection) ClearError() {
	c.mutate(func() { c.errMsg = "" })
}

// Filter returns the locations whose country, name, latitude or longitude contain
// query, case-insensitively. An empty query returns everything.
func (c *Collection) Filter(query string) []models.Location {
	items := c.Items()
	q := strings.ToLower(query)
	if q == "" {
		return items
	}
	out := items[:0]
	for _, l := range items {
		if strings.Contains(strings.ToLower(l.Country), q) ||
			strings.Contains(strings.ToLower(l.Name), q) ||
			strings.Contains(formatCoord(l.Latitude), q) ||
			strings.Contains(formatCoord(l.Longitude), q) {
			out = append(out, l)
		}
	}
	return out
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// removeLocal drops id and returns the removed entity and its index.
func (c *Collection) removeLocal(id string) (models.Location, int, bool) {
	var (
		removed models.Location
		index   = -1
	)
	c.mutate(func() {
		for i, l := range c.items {
			if l.ID == id {
				removed, index = l, i
				c.items = append(c.items[:i:i], c.items[i+1:]...)
				if c.pending != nil {
					c.pending.addRemove(id)
				}
				return
			}
		}
	})
	return removed, index, index >= 0
}

// confirmRemove records a successful delete.
func (c *Collection) confirmRemove() {
	c.mutate(func() { c.errMsg = "" })
}

// rollbackRemove puts loc back at index unless a poll already brought the id back,
// and records err. It reports whether the entity was reinserted.
func (c *Collection) rollbackRemove(loc models.Location, index int, err error) bool {
	restored := false
	c.mutate(func() {
		if c.pending != nil {
			c.pending.forget(loc.ID)
		}
		c.errMsg = err.Error()
		if indexOf(c.items, loc.ID) >= 0 {
			return
		}
		if index > len(c.items) {
			index = len(c.items)
		}
		c.items = append(c.items[:index:index], append([]models.Location{loc}, c.items[index:]...)...)
		restored = true
	})
	return restored
}

// markLocal sets IsDownloadingPastClimateData on id if it is still present.
func (c *Collection) markLocal(id string) bool {
	found := false
	c.mutate(func() {
		c.errMsg = ""
		i := indexOf(c.items, id)
		if i < 0 {
			return
		}
		found = true
		c.items[i].IsDownloadingPastClimateData = true
		if c.pending != nil {
			c.pending.addMark(id)
		}
	})
	return found
}

func (c *Collection) contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return indexOf(c.items, id) >= 0
}

// mutate runs fn under the state lock, then notifies subscribers with the result.
// notifyMu is held across both so notifications follow mutation order.
func (c *Collection) mutate(fn func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	fn()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	for _, s := range c.subs {
		s.fn(Snapshot{Items: cloneAll(snap.Items), Err: snap.Err, Loading: snap.Loading})
	}
}

func (c *Collection) snapshotLocked() Snapshot {
	return Snapshot{Items: cloneAll(c.items), Err: c.errMsg, Loading: c.loading}
}

func indexOf(items []models.Location, id string) int {
	for i, l := range items {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(items []models.Location) []models.Location {
	out := make([]models.Location, len(items))
	for i, l := range items {
		out[i] = l.Clone()
	}
	return out
}
