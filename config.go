package dgate

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/discord-net/dgate/gateway"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	EnvPrefix = "DGATE"
)

// Config is everything a Client needs. It can be loaded from a TOML file and DGATE_* environment
// variables with LoadConfig.
type Config struct {
	Token    string          `mapstructure:"token" toml:"token"`
	Intents  gateway.Intents `mapstructure:"intents" toml:"intents"`
	Encoding string          `mapstructure:"encoding" toml:"encoding"`
	Compress bool            `mapstructure:"compress" toml:"compress"`
	// LargeThreshold is the member count above which guilds are sent without offline members.
	LargeThreshold int `mapstructure:"large_threshold" toml:"large_threshold"`
	// ShardCount of 0 uses the count recommended by GET /gateway/bot.
	ShardCount int `mapstructure:"shard_count" toml:"shard_count"`
	// ShardIDs this process runs. Empty runs every shard.
	ShardIDs []int                  `mapstructure:"shard_ids" toml:"shard_ids"`
	Presence *gateway.PresenceUpdate `mapstructure:"presence" toml:"presence,omitempty"`

	// GatewayURL skips gateway discovery when set.
	GatewayURL string `mapstructure:"gateway_url" toml:"gateway_url"`
	APIBaseURL string `mapstructure:"api_base_url" toml:"api_base_url"`

	ConnectTimeout       time.Duration `mapstructure:"connect_timeout" toml:"connect_timeout"`
	RateLimitCooldown    time.Duration `mapstructure:"rate_limit_cooldown" toml:"rate_limit_cooldown"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" toml:"max_reconnect_attempts"`

	// MessageCacheSize bounds cached messages per channel. 0 keeps every message.
	MessageCacheSize uint64 `mapstructure:"message_cache_size" toml:"message_cache_size"`
	// MemberTTL evicts members not seen for this long. 0 keeps them forever.
	MemberTTL time.Duration `mapstructure:"member_ttl" toml:"member_ttl"`

	Store       string `mapstructure:"store" toml:"store"`
	PostgresDSN string `mapstructure:"postgres_dsn" toml:"postgres_dsn"`

	EnablePrometheus bool   `mapstructure:"enable_prometheus" toml:"enable_prometheus"`
	HTTPAddr         string `mapstructure:"http_addr" toml:"http_addr"`
	SentryDSN        string `mapstructure:"sentry_dsn" toml:"sentry_dsn"`
	OTLPURL          string `mapstructure:"otlp_url" toml:"otlp_url"`
	OTLPUsername     string `mapstructure:"otlp_username" toml:"otlp_username"`
	OTLPPassword     string `mapstructure:"otlp_password" toml:"otlp_password"`
}

func DefaultConfig() Config {
	return Config{
		Intents:           gateway.IntentsDefault,
		Encoding:          gateway.EncodingJSON,
		LargeThreshold:    50,
		ConnectTimeout:    gateway.DefaultConnectTimeout,
		RateLimitCooldown: gateway.DefaultRateLimitCooldown,
		MessageCacheSize:  1000,
		Store:             StoreMemory,
		HTTPAddr:          "127.0.0.1:8095",
	}
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("token", def.Token)
	v.SetDefault("intents", uint64(def.Intents))
	v.SetDefault("encoding", def.Encoding)
	v.SetDefault("compress", def.Compress)
	v.SetDefault("large_threshold", def.LargeThreshold)
	v.SetDefault("shard_count", def.ShardCount)
	v.SetDefault("shard_ids", def.ShardIDs)
	v.SetDefault("gateway_url", def.GatewayURL)
	v.SetDefault("api_base_url", def.APIBaseURL)
	v.SetDefault("connect_timeout", def.ConnectTimeout)
	v.SetDefault("rate_limit_cooldown", def.RateLimitCooldown)
	v.SetDefault("max_reconnect_attempts", def.MaxReconnectAttempts)
	v.SetDefault("message_cache_size", def.MessageCacheSize)
	v.SetDefault("member_ttl", def.MemberTTL)
	v.SetDefault("store", def.Store)
	v.SetDefault("postgres_dsn", def.PostgresDSN)
	v.SetDefault("enable_prometheus", def.EnablePrometheus)
	v.SetDefault("http_addr", def.HTTPAddr)
	v.SetDefault("sentry_dsn", def.SentryDSN)
	v.SetDefault("otlp_url", def.OTLPURL)
	v.SetDefault("otlp_username", def.OTLPUsername)
	v.SetDefault("otlp_password", def.OTLPPassword)
}

// LoadConfig reads the TOML file at path, then lets DGATE_* environment variables override it, e.g.
// DGATE_TOKEN or DGATE_SHARD_COUNT. An empty path looks for dgate.toml in the working directory and
// tolerates its absence.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dgate")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting which cannot work.
func (c Config) Validate() error {
	if c.Token == "" {
		return errors.New("config: token is required")
	}
	if _, err := gateway.CodecFor(c.Encoding); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Store {
	case "", StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errors.New("config: postgres_dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.ShardCount < 0 {
		return fmt.Errorf("config: shard_count %d is negative", c.ShardCount)
	}
	for _, id := range c.ShardIDs {
		if id < 0 || (c.ShardCount > 0 && id >= c.ShardCount) {
			return fmt.Errorf("config: shard id %d out of range for %d shards", id, c.ShardCount)
		}
	}
	return nil
}

// WriteConfig writes cfg as TOML.
func WriteConfig(w io.Writer, cfg Config) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(cfg)
}

func (c Config) shardConfig(id, count int) gateway.Config {
	return gateway.Config{
		Token:                c.Token,
		Intents:              c.Intents,
		Encoding:             c.Encoding,
		Compress:             c.Compress,
		LargeThreshold:       c.LargeThreshold,
		ShardID:              id,
		ShardCount:           count,
		Presence:             c.Presence,
		GatewayURL:           c.GatewayURL,
		ConnectTimeout:       c.ConnectTimeout,
		RateLimitCooldown:    c.RateLimitCooldown,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
	}
}
