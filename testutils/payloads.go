package testutils

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/tidwall/sjson"
)

// a snowflake from 2024, low bits are the counter
var snowflakeCounter atomic.Uint64

// NewSnowflake returns a unique id string which sorts after every previous one.
func NewSnowflake() string {
	return strconv.FormatUint(1_200_000_000_000_000_000+snowflakeCounter.Add(1), 10)
}

// PayloadModifier edits a payload built by one of the New*Payload functions.
type PayloadModifier func(t *testing.T, payload []byte) []byte

// With sets path to value, using sjson path syntax.
func With(path string, value any) PayloadModifier {
	return func(t *testing.T, payload []byte) []byte {
		t.Helper()
		out, err := sjson.SetBytes(payload, path, value)
		if err != nil {
			t.Fatalf("failed to set %s: %s", path, err)
		}
		return out
	}
}

// WithRaw sets path to a raw JSON value.
func WithRaw(path string, raw string) PayloadModifier {
	return func(t *testing.T, payload []byte) []byte {
		t.Helper()
		out, err := sjson.SetRawBytes(payload, path, []byte(raw))
		if err != nil {
			t.Fatalf("failed to set %s: %s", path, err)
		}
		return out
	}
}

func Without(path string) PayloadModifier {
	return func(t *testing.T, payload []byte) []byte {
		t.Helper()
		out, err := sjson.DeleteBytes(payload, path)
		if err != nil {
			t.Fatalf("failed to delete %s: %s", path, err)
		}
		return out
	}
}

func build(t *testing.T, base any, mods []PayloadModifier) json.RawMessage {
	t.Helper()
	j, err := json.Marshal(base)
	if err != nil {
		t.Fatalf("failed to make payload JSON: %s", err)
	}
	for _, mod := range mods {
		j = mod(t, j)
	}
	return j
}

func NewGuildPayload(t *testing.T, guildID, name string, mods ...PayloadModifier) json.RawMessage {
	t.Helper()
	return build(t, map[string]any{
		"id":       guildID,
		"name":     name,
		"owner_id": NewSnowflake(),
	}, mods)
}

func NewChannelPayload(t *testing.T, channelID string, channelType int, name string, mods ...PayloadModifier) json.RawMessage {
	t.Helper()
	return build(t, map[string]any{
		"id":   channelID,
		"type": channelType,
		"name": name,
	}, mods)
}

func NewRolePayload(t *testing.T, roleID, name string, mods ...PayloadModifier) json.RawMessage {
	t.Helper()
	return build(t, map[string]any{
		"id":          roleID,
		"name":        name,
		"permissions": "0",
	}, mods)
}

func NewUserPayload(t *testing.T, userID, username string, mods ...PayloadModifier) json.RawMessage {
	t.Helper()
	return build(t, map[string]any{
		"id":       userID,
		"username": username,
	}, mods)
}

func NewMemberPayload(t *testing.T, userID, username string, mods ...PayloadModifier) json.RawMessage {
	t.Helper()
	return build(t, map[string]any{
		"user":      NewUserPayload(t, userID, username),
		"roles":     []string{},
		"joined_at": "2024-01-01T00:00:00.000000+00:00",
	}, mods)
}

func NewMessagePayload(t *testing.T, messageID, channelID, authorID, content string, mods ...PayloadModifier) json.RawMessage {
	t.Helper()
	return build(t, map[string]any{
		"id":         messageID,
		"channel_id": channelID,
		"author":     NewUserPayload(t, authorID, "author"+authorID),
		"content":    content,
		"timestamp":  "2024-01-01T00:00:00.000000+00:00",
	}, mods)
}
