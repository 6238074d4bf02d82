package caches

import (
	"context"
	"fmt"

	"github.com/discord-net/dgate/model"
)

// EventKind says how an incoming model relates to what is cached.
type EventKind int

const (
	EventCreate EventKind = iota
	EventUpdate
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	}
	return fmt.Sprintf("event_kind(%d)", int(k))
}

// Apply merges incoming onto existing. Create takes incoming verbatim. Update copies every specified
// field of incoming onto existing, and when nothing is cached merges onto an empty model so that an
// update which overtook its create still produces a usable entry. Delete returns existing unchanged.
func Apply[M model.Model[M]](existing *M, incoming M, kind EventKind) (M, model.ChangeSet) {
	switch kind {
	case EventCreate:
		return incoming, nil
	case EventUpdate:
		var base M
		if existing != nil {
			base = *existing
		}
		return base.Merge(incoming)
	default:
		if existing != nil {
			return *existing, nil
		}
		return incoming, nil
	}
}

// Result describes what a reconcile did to the cache.
type Result[M any] struct {
	// Before is the cached model prior to the change, nil if there was none.
	Before *M
	// After is the cached model after the change. For deletes it is the removed model, or the
	// incoming one if nothing was cached.
	After   M
	Changes model.ChangeSet
	// Placeholder is set when an update arrived for an entity which was never created.
	Placeholder bool
}

// Reconcile applies incoming to the store partition under parent atomically, then brings live
// objects in line: updates are pushed into them and deletes invalidate their handles.
func (b *Broker[M, E]) Reconcile(ctx context.Context, parent model.Snowflake, incoming M, kind EventKind) (Result[M], error) {
	var res Result[M]
	store := b.stores.Store(parent)
	id := incoming.EntityID()
	_, _, err := store.Update(ctx, id, func(existing M, ok bool) (M, bool) {
		var prev *M
		if ok {
			before := existing
			prev = &before
		}
		res.Before = prev
		res.Placeholder = kind == EventUpdate && !ok
		res.After, res.Changes = Apply(prev, incoming, kind)
		return res.After, kind != EventDelete
	})
	if err != nil {
		return res, fmt.Errorf("reconcile %s %s %s: %w", kind, store.Partition(), id, err)
	}
	if res.Placeholder {
		logger.Debug().Str("partition", store.Partition().String()).Str("id", id.String()).
			Msg("update for uncached entity, stored placeholder")
	}
	if kind == EventDelete {
		b.Invalidate(parent, id)
	} else {
		b.Refresh(parent, res.After)
	}
	return res, nil
}

// ReconcileAll applies a batch of models of the same kind, e.g. the channels embedded in a guild create.
func (b *Broker[M, E]) ReconcileAll(ctx context.Context, parent model.Snowflake, incoming []M, kind EventKind) error {
	for _, m := range incoming {
		if _, err := b.Reconcile(ctx, parent, m, kind); err != nil {
			return err
		}
	}
	return nil
}
