package caches

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/discord-net/dgate/model"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

var ErrInvalidDirection = errors.New("caches: invalid range direction")

// Direction of a range query relative to its anchor id.
type Direction int

const (
	Before Direction = iota
	After
	Around
)

func (d Direction) String() string {
	switch d {
	case Before:
		return "before"
	case After:
		return "after"
	case Around:
		return "around"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Kind names an entity table.
type Kind string

const (
	KindGuild   Kind = "guild"
	KindChannel Kind = "channel"
	KindRole    Kind = "role"
	KindMember  Kind = "member"
	KindUser    Kind = "user"
	KindMessage Kind = "message"
)

// Partition identifies one store: an entity kind, optionally scoped under a parent id. Parent is zero
// for unpartitioned kinds such as guilds and users.
type Partition struct {
	Kind   Kind
	Parent model.Snowflake
}

func (p Partition) String() string {
	if p.Parent == 0 {
		return string(p.Kind)
	}
	return string(p.Kind) + "/" + p.Parent.String()
}

// UpdateFunc computes the next value for a key from its current value. Returning keep=false removes
// the key.
type UpdateFunc[M any] func(existing M, ok bool) (next M, keep bool)

// ModelStore is the backing table for one partition of one entity kind. Implementations must be safe
// for concurrent use and must make Update atomic per key.
type ModelStore[M model.Model[M]] interface {
	Partition() Partition
	Upsert(ctx context.Context, m M) error
	Get(ctx context.Context, id model.Snowflake) (M, bool, error)
	Remove(ctx context.Context, id model.Snowflake) (M, bool, error)
	// QueryRange returns up to limit models ordered by ascending id, positioned relative to from.
	// Around includes from itself when present and splits the rest of the limit evenly either side.
	QueryRange(ctx context.Context, from model.Snowflake, dir Direction, limit int) ([]M, error)
	All(ctx context.Context) ([]M, error)
	// Update atomically replaces the value for id with the result of fn. It returns the value stored
	// afterwards and whether one is stored at all.
	Update(ctx context.Context, id model.Snowflake, fn UpdateFunc[M]) (M, bool, error)
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// selectRange picks the window for a range query out of ids sorted ascending.
func selectRange(sorted []model.Snowflake, from model.Snowflake, dir Direction, limit int) ([]model.Snowflake, error) {
	if limit <= 0 || len(sorted) == 0 {
		return nil, nil
	}
	// first index with id >= from
	idx, found := slices.BinarySearch(sorted, from)
	switch dir {
	case Before:
		start := idx - limit
		if start < 0 {
			start = 0
		}
		return sorted[start:idx], nil
	case After:
		start := idx
		if found {
			start++
		}
		end := start + limit
		if end > len(sorted) {
			end = len(sorted)
		}
		return sorted[start:end], nil
	case Around:
		rest := limit
		if found {
			rest--
		}
		before := rest / 2
		after := rest - before
		start := idx - before
		if start < 0 {
			start = 0
		}
		afterStart := idx
		if found {
			afterStart++
		}
		end := afterStart + after
		if end > len(sorted) {
			end = len(sorted)
		}
		return sorted[start:end], nil
	}
	return nil, ErrInvalidDirection
}
