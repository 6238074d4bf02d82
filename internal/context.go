package internal

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type ctx string

var (
	ctxData ctx = "dgate_data"
)

// logging metadata for a single gateway connection
type data struct {
	mu         sync.Mutex
	shardID    int
	shardCount int
	connID     string
	sessionID  string
	seq        int64
}

// ShardContext prepares a context which carries logging metadata for one shard.
func ShardContext(ctx context.Context, shardID, shardCount int) context.Context {
	d := &data{
		shardID:    shardID,
		shardCount: shardCount,
		seq:        -1,
	}
	return context.WithValue(ctx, ctxData, d)
}

// SetContextConnection records the id of the current connection attempt. Need to have called ShardContext first.
func SetContextConnection(ctx context.Context, connID string) {
	d := ctx.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.mu.Lock()
	da.connID = connID
	da.mu.Unlock()
}

// SetContextSession records the gateway session and the last seen sequence number. A negative seq
// means none has been seen yet.
func SetContextSession(ctx context.Context, sessionID string, seq int64) {
	d := ctx.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.mu.Lock()
	da.sessionID = sessionID
	da.seq = seq
	da.mu.Unlock()
}

func DecorateLogger(ctx context.Context, l *zerolog.Event) *zerolog.Event {
	d := ctx.Value(ctxData)
	if d == nil {
		return l
	}
	da := d.(*data)
	da.mu.Lock()
	defer da.mu.Unlock()
	l = l.Int("shard", da.shardID)
	if da.shardCount > 1 {
		l = l.Int("shards", da.shardCount)
	}
	if da.connID != "" {
		l = l.Str("c", da.connID)
	}
	if da.sessionID != "" {
		l = l.Str("s", da.sessionID)
	}
	if da.seq >= 0 {
		l = l.Int64("q", da.seq)
	}
	return l
}
