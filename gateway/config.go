package gateway

import (
	"runtime"
	"time"
)

// APIVersion is the gateway protocol version requested when connecting.
const APIVersion = 10

const (
	DefaultConnectTimeout             = 30 * time.Second
	DefaultRateLimitCooldown          = 60 * time.Second
	DefaultBackoffInitial             = time.Second
	DefaultBackoffMax                 = 60 * time.Second
	DefaultMaxConsecutiveDecodeErrors = 5
	DefaultSendLimit                  = 120
	DefaultSendWindow                 = 60 * time.Second
)

// Config is everything one shard needs to identify and stay connected.
type Config struct {
	Token          string
	Intents        Intents
	Encoding       string
	Compress       bool
	LargeThreshold int
	ShardID        int
	ShardCount     int
	Presence       *PresenceUpdate
	Properties     ConnectionProperties
	// GatewayURL skips gateway discovery when set.
	GatewayURL string

	ConnectTimeout    time.Duration
	RateLimitCooldown time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	// MaxReconnectAttempts is the number of consecutive failed connections tolerated, 0 is unlimited.
	MaxReconnectAttempts       int
	MaxConsecutiveDecodeErrors int
	MaxMissedAcks              int
	// SendLimit commands may be sent per SendWindow. Heartbeats are not counted.
	SendLimit  int
	SendWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShardCount <= 0 {
		c.ShardCount = 1
	}
	if c.Encoding == "" {
		c.Encoding = EncodingJSON
	}
	if c.Properties == (ConnectionProperties{}) {
		c.Properties = ConnectionProperties{OS: runtime.GOOS, Browser: "dgate", Device: "dgate"}
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.MaxConsecutiveDecodeErrors <= 0 {
		c.MaxConsecutiveDecodeErrors = DefaultMaxConsecutiveDecodeErrors
	}
	if c.MaxMissedAcks <= 0 {
		c.MaxMissedAcks = DefaultMaxMissedAcks
	}
	if c.SendLimit <= 0 {
		c.SendLimit = DefaultSendLimit
	}
	if c.SendWindow <= 0 {
		c.SendWindow = DefaultSendWindow
	}
	return c
}
