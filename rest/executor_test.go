package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/discord-net/dgate/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, handler http.HandlerFunc) *HTTPExecutor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPExecutor(srv.URL+"/api/v10/", "secret")
}

func TestExecuteDecodesResponse(t *testing.T) {
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v10/guilds/42", r.URL.Path)
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), "DiscordBot")
		w.Write([]byte(`{"id":"42","name":"guild","description":null}`))
	})
	var g model.Guild
	require.NoError(t, exec.Execute(context.Background(), GetGuild(42), &g))
	assert.Equal(t, model.Snowflake(42), g.ID)
	assert.Equal(t, "guild", g.Name.OrElse(""))
	assert.True(t, g.Description.IsNull())
	assert.False(t, g.Icon.IsSpecified())
}

func TestExecuteSendsJSONBody(t *testing.T) {
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"content":"hi"}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	})
	route := Route{Method: http.MethodPost, Path: "/channels/1/messages", Body: map[string]string{"content": "hi"}}
	var out map[string]any
	require.NoError(t, exec.Execute(context.Background(), route, &out))
	assert.Nil(t, out)
}

func TestExecuteErrorCategories(t *testing.T) {
	testCases := []struct {
		status   int
		body     string
		category Category
		code     int
		message  string
	}{
		{400, `{"code":50035,"message":"Invalid Form Body"}`, CategoryBadRequest, 50035, "Invalid Form Body"},
		{401, `{"code":0,"message":"401: Unauthorized"}`, CategoryUnauthorized, 0, "401: Unauthorized"},
		{403, `{"code":50001,"message":"Missing Access"}`, CategoryForbidden, 50001, "Missing Access"},
		{404, `{"code":10004,"message":"Unknown Guild"}`, CategoryNotFound, 10004, "Unknown Guild"},
		{502, `<html>bad gateway</html>`, CategoryServerError, 0, ""},
	}
	for _, tc := range testCases {
		exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(tc.body))
		})
		err := exec.Execute(context.Background(), GetGuild(1), nil)
		var restErr *Error
		require.ErrorAs(t, err, &restErr, "status %d", tc.status)
		assert.Equal(t, tc.status, restErr.Status)
		assert.Equal(t, tc.category, restErr.Category, "status %d", tc.status)
		assert.Equal(t, tc.code, restErr.Code)
		assert.Equal(t, tc.message, restErr.Message)
	}
}

func TestExecuteRetriesRateLimited(t *testing.T) {
	var calls atomic.Int32
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"You are being rate limited.","retry_after":0.01,"global":false}`))
			return
		}
		w.Write([]byte(`{"id":"7","username":"bob"}`))
	})
	var u model.User
	require.NoError(t, exec.Execute(context.Background(), GetUser(7), &u))
	assert.Equal(t, "bob", u.Username.OrElse(""))
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecuteGivesUpOnPersistentRateLimit(t *testing.T) {
	var calls atomic.Int32
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	exec.MaxRetries = 2
	err := exec.Execute(context.Background(), GetUser(7), nil)
	var restErr *Error
	require.ErrorAs(t, err, &restErr)
	assert.Equal(t, CategoryRateLimited, restErr.Category)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteHoldsExhaustedBucket(t *testing.T) {
	var waits []time.Duration
	orig := timeAfter
	timeAfter = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	t.Cleanup(func() { timeAfter = orig })

	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset-After", "30")
		w.Write([]byte(`{}`))
	})
	require.NoError(t, exec.Execute(context.Background(), GetChannel(1), nil))
	require.NoError(t, exec.Execute(context.Background(), GetChannel(1), nil))
	require.Len(t, waits, 1)
	assert.Greater(t, waits[0], 25*time.Second)
	// other buckets are unaffected
	require.NoError(t, exec.Execute(context.Background(), GetGuild(1), nil))
	assert.Len(t, waits, 1)
}

func TestExecuteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	exec := NewHTTPExecutor(srv.URL, "secret")
	err := exec.Execute(context.Background(), GetGuild(1), nil)
	var restErr *Error
	require.ErrorAs(t, err, &restErr)
	assert.Equal(t, CategoryTransport, restErr.Category)
	assert.Zero(t, restErr.Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	live := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {})
	err = live.Execute(ctx, GetGuild(1), nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestGatewayURLResolver(t *testing.T) {
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v10/gateway/bot", r.URL.Path)
		json.NewEncoder(w).Encode(GatewayBot{
			URL:    "wss://gateway.example",
			Shards: 2,
			SessionStartLimit: SessionStartLimit{
				Total: 1000, Remaining: 999, MaxConcurrency: 1,
			},
		})
	})
	gb, err := GetGatewayBot(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, 2, gb.Shards)
	assert.Equal(t, 999, gb.SessionStartLimit.Remaining)

	resolved, err := GatewayURLResolver(exec)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.example", resolved)
}

func TestGetChannelMessagesQuery(t *testing.T) {
	route := GetChannelMessages(5, 10, "before", 50)
	assert.Equal(t, "/channels/5/messages", route.Path)
	assert.Equal(t, "10", route.Query.Get("before"))
	assert.Equal(t, "50", route.Query.Get("limit"))
	assert.Equal(t, "channels/5/messages", route.bucket())
	assert.Equal(t, "GET /x", Route{Method: "GET", Path: "/x"}.bucket())
}
