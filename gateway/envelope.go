package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/discord-net/dgate/model"
)

// Envelope is one decoded gateway frame. Data is kept as raw JSON whatever the wire encoding was.
type Envelope struct {
	Op    Opcode
	Data  json.RawMessage
	Seq   *int64
	Event string
}

// NewEnvelope marshals payload as the data of a frame with opcode op.
func NewEnvelope(op Opcode, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", op, err)
	}
	return Envelope{Op: op, Data: data}, nil
}

// Sequence returns the frame's sequence number, if it has one.
func (e Envelope) Sequence() (int64, bool) {
	if e.Seq == nil {
		return 0, false
	}
	return *e.Seq, true
}

func (e Envelope) String() string {
	if e.Op == OpDispatch {
		seq, _ := e.Sequence()
		return fmt.Sprintf("%s(%s #%d)", e.Op, e.Event, seq)
	}
	return e.Op.String()
}

// Intents selects which dispatch events the gateway sends.
type Intents uint64

const (
	IntentGuilds                 Intents = 1 << 0
	IntentGuildMembers           Intents = 1 << 1
	IntentGuildModeration        Intents = 1 << 2
	IntentGuildEmojis            Intents = 1 << 3
	IntentGuildIntegrations      Intents = 1 << 4
	IntentGuildWebhooks          Intents = 1 << 5
	IntentGuildInvites           Intents = 1 << 6
	IntentGuildVoiceStates       Intents = 1 << 7
	IntentGuildPresences         Intents = 1 << 8
	IntentGuildMessages          Intents = 1 << 9
	IntentGuildMessageReactions  Intents = 1 << 10
	IntentGuildMessageTyping     Intents = 1 << 11
	IntentDirectMessages         Intents = 1 << 12
	IntentDirectMessageReactions Intents = 1 << 13
	IntentDirectMessageTyping    Intents = 1 << 14
	IntentMessageContent         Intents = 1 << 15

	// IntentsDefault is every intent which is not privileged.
	IntentsDefault = IntentGuilds | IntentGuildModeration | IntentGuildEmojis | IntentGuildIntegrations |
		IntentGuildWebhooks | IntentGuildInvites | IntentGuildVoiceStates | IntentGuildMessages |
		IntentGuildMessageReactions | IntentGuildMessageTyping | IntentDirectMessages |
		IntentDirectMessageReactions | IntentDirectMessageTyping
)

// Has reports whether every bit of other is set.
func (i Intents) Has(other Intents) bool {
	return i&other == other
}

type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

func (h Hello) Interval() time.Duration {
	return time.Duration(h.HeartbeatInterval) * time.Millisecond
}

type ConnectionProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type Identify struct {
	Token          string               `json:"token"`
	Properties     ConnectionProperties `json:"properties"`
	Intents        Intents              `json:"intents"`
	Compress       bool                 `json:"compress,omitempty"`
	LargeThreshold int                  `json:"large_threshold,omitempty"`
	Shard          *[2]int              `json:"shard,omitempty"`
	Presence       *PresenceUpdate      `json:"presence,omitempty"`
}

type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type Activity struct {
	Name  string `json:"name" mapstructure:"name" toml:"name"`
	Type  int    `json:"type" mapstructure:"type" toml:"type"`
	URL   string `json:"url,omitempty" mapstructure:"url" toml:"url,omitempty"`
	State string `json:"state,omitempty" mapstructure:"state" toml:"state,omitempty"`
}

type PresenceUpdate struct {
	Since      *int64     `json:"since" mapstructure:"since" toml:"since,omitempty"`
	Activities []Activity `json:"activities" mapstructure:"activities" toml:"activities"`
	Status     string     `json:"status" mapstructure:"status" toml:"status"`
	AFK        bool       `json:"afk" mapstructure:"afk" toml:"afk"`
}

type RequestGuildMembers struct {
	GuildID   model.Snowflake   `json:"guild_id"`
	Query     *string           `json:"query,omitempty"`
	Limit     int               `json:"limit"`
	Presences bool              `json:"presences,omitempty"`
	UserIDs   []model.Snowflake `json:"user_ids,omitempty"`
	Nonce     string            `json:"nonce,omitempty"`
}

// Ready is the data of the READY dispatch.
type Ready struct {
	Version          int                      `json:"v"`
	User             model.User               `json:"user"`
	Guilds           []model.UnavailableGuild `json:"guilds"`
	SessionID        string                   `json:"session_id"`
	ResumeGatewayURL string                   `json:"resume_gateway_url"`
	Shard            *[2]int                  `json:"shard,omitempty"`
}
