package caches

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/discord-net/dgate/model"
)

// RawStore is an external backend which stores models as encoded JSON documents. One RawStore
// serves every partition.
type RawStore interface {
	Upsert(ctx context.Context, p Partition, id model.Snowflake, data []byte) error
	Get(ctx context.Context, p Partition, id model.Snowflake) ([]byte, bool, error)
	Remove(ctx context.Context, p Partition, id model.Snowflake) ([]byte, bool, error)
	QueryRange(ctx context.Context, p Partition, from model.Snowflake, dir Direction, limit int) ([][]byte, error)
	All(ctx context.Context, p Partition) ([][]byte, error)
	// Update runs fn with the current document for id and atomically stores what it returns. keep=false
	// deletes the row.
	Update(ctx context.Context, p Partition, id model.Snowflake, fn func(data []byte, ok bool) (next []byte, keep bool, err error)) error
	Count(ctx context.Context, p Partition) (int, error)
	Clear(ctx context.Context, p Partition) error
}

// rawModelStore adapts a RawStore partition into a typed ModelStore.
type rawModelStore[M model.Model[M]] struct {
	raw       RawStore
	partition Partition
}

func NewRawModelStore[M model.Model[M]](raw RawStore, p Partition) ModelStore[M] {
	return &rawModelStore[M]{raw: raw, partition: p}
}

func (s *rawModelStore[M]) decode(data []byte) (M, error) {
	var m M
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode %s model: %w", s.partition, err)
	}
	return m, nil
}

func (s *rawModelStore[M]) decodeAll(rows [][]byte) ([]M, error) {
	out := make([]M, 0, len(rows))
	for _, row := range rows {
		m, err := s.decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *rawModelStore[M]) Partition() Partition {
	return s.partition
}

func (s *rawModelStore[M]) Upsert(ctx context.Context, m M) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.raw.Upsert(ctx, s.partition, m.EntityID(), data)
}

func (s *rawModelStore[M]) Get(ctx context.Context, id model.Snowflake) (M, bool, error) {
	var zero M
	data, ok, err := s.raw.Get(ctx, s.partition, id)
	if err != nil || !ok {
		return zero, false, err
	}
	m, err := s.decode(data)
	return m, err == nil, err
}

func (s *rawModelStore[M]) Remove(ctx context.Context, id model.Snowflake) (M, bool, error) {
	var zero M
	data, ok, err := s.raw.Remove(ctx, s.partition, id)
	if err != nil || !ok {
		return zero, false, err
	}
	m, err := s.decode(data)
	return m, err == nil, err
}

func (s *rawModelStore[M]) QueryRange(ctx context.Context, from model.Snowflake, dir Direction, limit int) ([]M, error) {
	rows, err := s.raw.QueryRange(ctx, s.partition, from, dir, limit)
	if err != nil {
		return nil, err
	}
	return s.decodeAll(rows)
}

func (s *rawModelStore[M]) All(ctx context.Context) ([]M, error) {
	rows, err := s.raw.All(ctx, s.partition)
	if err != nil {
		return nil, err
	}
	return s.decodeAll(rows)
}

func (s *rawModelStore[M]) Update(ctx context.Context, id model.Snowflake, fn UpdateFunc[M]) (M, bool, error) {
	var result M
	var stored bool
	err := s.raw.Update(ctx, s.partition, id, func(data []byte, ok bool) ([]byte, bool, error) {
		var existing M
		if ok {
			var err error
			if existing, err = s.decode(data); err != nil {
				return nil, false, err
			}
		}
		next, keep := fn(existing, ok)
		if !keep {
			return nil, false, nil
		}
		b, err := json.Marshal(next)
		if err != nil {
			return nil, false, err
		}
		result, stored = next, true
		return b, true, nil
	})
	if err != nil {
		var zero M
		return zero, false, err
	}
	return result, stored, nil
}

func (s *rawModelStore[M]) Len(ctx context.Context) (int, error) {
	return s.raw.Count(ctx, s.partition)
}

func (s *rawModelStore[M]) Clear(ctx context.Context) error {
	return s.raw.Clear(ctx, s.partition)
}
