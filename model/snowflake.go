package model

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// DiscordEpoch is the first second of 2015 in unix milliseconds, the zero point of every Snowflake timestamp.
const DiscordEpoch = 1420070400000

// Snowflake is a 64-bit Discord identifier. It is always encoded as a JSON string, but decodes from
// either a string or a bare number since some encodings carry it natively.
type Snowflake uint64

func ParseSnowflake(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	return Snowflake(v), nil
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

func (s Snowflake) IsZero() bool {
	return s == 0
}

// Time returns the creation time encoded in the top 42 bits.
func (s Snowflake) Time() time.Time {
	return time.UnixMilli(int64(uint64(s)>>22) + DiscordEpoch)
}

// ShardID returns which shard of shardCount receives events for this guild id.
func (s Snowflake) ShardID(shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	return int((uint64(s) >> 22) % uint64(shardCount))
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = 0
		return nil
	}
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}
	if len(b) == 0 {
		*s = 0
		return nil
	}
	v, err := ParseSnowflake(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s Snowflake) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Snowflake) UnmarshalText(b []byte) error {
	v, err := ParseSnowflake(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
