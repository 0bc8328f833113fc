package locations

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/zappai-client/internal/observability"
)

// ErrUnknownLocation is returned when the id is not in the local collection.
var ErrUnknownLocation = errors.New("unknown location")

// MutationAPI is the backend surface needed by Mutator.
type MutationAPI interface {
	DeleteLocation(ctx context.Context, id string) error
	TriggerPastClimateDownload(ctx context.Context, id string) error
}

// Mutator applies user actions to a Collection ahead of the next poll.
type Mutator struct {
	api    MutationAPI
	coll   *Collection
	logger *zap.Logger
}

// NewMutator creates a Mutator over coll.
func NewMutator(api MutationAPI, coll *Collection, logger *zap.Logger) *Mutator {
	return &Mutator{api: api, coll: coll, logger: observability.OrNop(logger)}
}

// Remove drops id from the collection immediately and deletes it on the backend.
// On failure the entity is restored at its previous position (unless a poll has
// already brought it back), the error becomes the collection error and is returned.
func (m *Mutator) Remove(ctx context.Context, id string) error {
	loc, index, ok := m.coll.removeLocal(id)
	if !ok {
		observability.OptimisticMutationsTotal.WithLabelValues("remove", "rejected").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownLocation, id)
	}

	if err := m.api.DeleteLocation(ctx, id); err != nil {
		restored := m.coll.rollbackRemove(loc, index, err)
		observability.OptimisticMutationsTotal.WithLabelValues("remove", "rolled_back").Inc()
		m.logger.Warn("delete failed, rolled back",
			zap.String("location_id", id),
			zap.Bool("restored", restored),
			zap.Error(err),
		)
		return fmt.Errorf("delete location %s: %w", id, err)
	}

	m.coll.confirmRemove()
	observability.OptimisticMutationsTotal.WithLabelValues("remove", "applied").Inc()
	m.logger.Info("location deleted", zap.String("location_id", id))
	return nil
}

// MarkInProgress triggers the past climate download and, once the trigger is
// accepted, flags the local entity as downloading. A failed trigger changes
// nothing locally; the error becomes the collection error and is returned.
func (m *Mutator) MarkInProgress(ctx context.Context, id string) error {
	if !m.coll.contains(id) {
		observability.OptimisticMutationsTotal.WithLabelValues("mark_in_progress", "rejected").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownLocation, id)
	}

	if err := m.api.TriggerPastClimateDownload(ctx, id); err != nil {
		m.coll.SetError(err)
		observability.OptimisticMutationsTotal.WithLabelValues("mark_in_progress", "rejected").Inc()
		m.logger.Warn("download trigger failed", zap.String("location_id", id), zap.Error(err))
		return fmt.Errorf("trigger download %s: %w", id, err)
	}

	if !m.coll.markLocal(id) {
		m.logger.Debug("location gone before download flag could be set", zap.String("location_id", id))
	}
	observability.OptimisticMutationsTotal.WithLabelValues("mark_in_progress", "applied").Inc()
	m.logger.Info("past climate download started", zap.String("location_id", id))
	return nil
}
