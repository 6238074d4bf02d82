package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

const (
	DefaultBaseURL    = "https://discord.com/api/v10"
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
)

var Version = "dev"

var timeAfter = time.After

// Route is one REST call. Path is relative to the executor's base URL.
type Route struct {
	Method string
	Path   string
	Query  url.Values
	// Body is encoded as JSON when non nil.
	Body any
	// Bucket groups routes which share a rate limit. Defaults to the method and path.
	Bucket string
}

func (r Route) bucket() string {
	if r.Bucket != "" {
		return r.Bucket
	}
	return r.Method + " " + r.Path
}

// Executor performs REST calls, decoding successful responses into out when it is non nil.
// Failures are *Error.
type Executor interface {
	Execute(ctx context.Context, route Route, out any) error
}

// HTTPExecutor talks to the Discord HTTP API. Rate limited requests are retried after the time the
// server asks for, up to MaxRetries times. A bucket whose limit is exhausted holds further requests
// until it resets.
type HTTPExecutor struct {
	Client     *http.Client
	BaseURL    string
	Token      string
	MaxRetries int

	mu          sync.Mutex
	blocked     map[string]time.Time
	globalUntil time.Time
}

var _ Executor = (*HTTPExecutor)(nil)

func NewHTTPExecutor(baseURL, token string) *HTTPExecutor {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPExecutor{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   DefaultTimeout,
		},
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		MaxRetries: DefaultMaxRetries,
		blocked:    make(map[string]time.Time),
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, route Route, out any) error {
	var body []byte
	if route.Body != nil {
		var err error
		if body, err = json.Marshal(route.Body); err != nil {
			return fmt.Errorf("rest: encode %s %s: %w", route.Method, route.Path, err)
		}
	}
	bucket := route.bucket()
	for attempt := 0; ; attempt++ {
		if err := e.waitForBucket(ctx, bucket); err != nil {
			return &Error{Category: CategoryTransport, Err: err}
		}
		resBody, res, err := e.do(ctx, route, body)
		if err != nil {
			return &Error{Category: CategoryTransport, Err: err}
		}
		e.track(bucket, res)
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			if out == nil || len(resBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(resBody, out); err != nil {
				return fmt.Errorf("rest: decode %s %s: %w", route.Method, route.Path, err)
			}
			return nil
		}
		restErr := parseError(res, resBody)
		if restErr.Category != CategoryRateLimited || attempt >= e.MaxRetries {
			return restErr
		}
		logger.Warn().Str("bucket", bucket).Dur("retry_after", restErr.RetryAfter).Bool("global", restErr.Global).
			Int("attempt", attempt+1).Msg("rate limited, retrying")
		e.block(bucket, restErr.RetryAfter, restErr.Global)
	}
}

func (e *HTTPExecutor) do(ctx context.Context, route Route, body []byte) ([]byte, *http.Response, error) {
	target := e.BaseURL + route.Path
	if len(route.Query) > 0 {
		target += "?" + route.Query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, route.Method, target, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", "DiscordBot (https://github.com/discord-net/dgate, "+Version+")")
	if e.Token != "" {
		req.Header.Set("Authorization", "Bot "+e.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := e.Client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, err
	}
	return resBody, res, nil
}

// track records an exhausted bucket from the rate limit headers.
func (e *HTTPExecutor) track(bucket string, res *http.Response) {
	if res.Header.Get("X-RateLimit-Remaining") != "0" {
		return
	}
	resetAfter, err := strconv.ParseFloat(res.Header.Get("X-RateLimit-Reset-After"), 64)
	if err != nil {
		return
	}
	e.block(bucket, time.Duration(resetAfter*float64(time.Second)), false)
}

func (e *HTTPExecutor) block(bucket string, d time.Duration, global bool) {
	until := time.Now().Add(d)
	e.mu.Lock()
	defer e.mu.Unlock()
	if global {
		e.globalUntil = until
		return
	}
	if e.blocked == nil {
		e.blocked = make(map[string]time.Time)
	}
	e.blocked[bucket] = until
}

func (e *HTTPExecutor) waitForBucket(ctx context.Context, bucket string) error {
	e.mu.Lock()
	until := e.blocked[bucket]
	if e.globalUntil.After(until) {
		until = e.globalUntil
	}
	e.mu.Unlock()
	wait := time.Until(until)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timeAfter(wait):
		return nil
	}
}
