package locations

import (
	"time"

	"github.com/facebookgo/clock"

	"github.com/kjstillabower/zappai-client/internal/models"
)

type pendingKind int

const (
	pendingRemove pendingKind = iota
	pendingMark
)

type pendingOp struct {
	kind pendingKind
	at   time.Time
}

// pendingSet keeps optimistic changes the backend has not reflected yet, for the
// merge reconciliation policy. An entry is dropped when a poll agrees with it or
// when it is older than hold; after that the poll value wins.
type pendingSet struct {
	clock clock.Clock
	hold  time.Duration
	ops   map[string]pendingOp
}

func newPendingSet(clk clock.Clock, hold time.Duration) *pendingSet {
	return &pendingSet{clock: clk, hold: hold, ops: map[string]pendingOp{}}
}

func (p *pendingSet) addRemove(id string) {
	p.ops[id] = pendingOp{kind: pendingRemove, at: p.clock.Now()}
}

func (p *pendingSet) addMark(id string) {
	p.ops[id] = pendingOp{kind: pendingMark, at: p.clock.Now()}
}

func (p *pendingSet) forget(id string) {
	delete(p.ops, id)
}

// apply re-applies pending changes on top of a fresh poll snapshot.
func (p *pendingSet) apply(items []models.Location) []models.Location {
	now := p.clock.Now()
	for id, op := range p.ops {
		if now.Sub(op.at) >= p.hold {
			delete(p.ops, id)
			continue
		}
		i := indexOf(items, id)
		switch op.kind {
		case pendingRemove:
			if i < 0 {
				delete(p.ops, id)
				continue
			}
			items = append(items[:i], items[i+1:]...)
		case pendingMark:
			if i < 0 || items[i].IsDownloadingPastClimateData {
				delete(p.ops, id)
				continue
			}
			items[i].IsDownloadingPastClimateData = true
		}
	}
	return items
}

func (p *pendingSet) len() int {
	return len(p.ops)
}
