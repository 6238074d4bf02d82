package dispatch

import (
	"encoding/json"

	"github.com/discord-net/dgate/model"
)

// Event is delivered to listeners. Events are plain values: On[E] resolves the event name through the
// zero value of E, so every Type method has a value receiver.
type Event interface {
	Type() string
}

const (
	TypeUnknown              = "UNKNOWN"
	TypeSessionInvalidated   = "SESSION_INVALIDATED"
	TypeDisconnected         = "DISCONNECTED"
	TypeAuthenticationFailed = "AUTHENTICATION_FAILED"
)

type Ready struct {
	ShardID   int
	SessionID string
	User      model.User
	Guilds    []model.UnavailableGuild
	// Purged counts the guilds dropped from the cache because a fresh session will resend them.
	Purged int
}

func (Ready) Type() string { return "READY" }

type Resumed struct {
	ShardID int
}

func (Resumed) Type() string { return "RESUMED" }

type GuildCreate struct {
	Guild    model.Guild
	Channels []model.Channel
	Threads  []model.Channel
	Roles    []model.Role
	Members  []model.Member
}

func (GuildCreate) Type() string { return "GUILD_CREATE" }

type GuildUpdate struct {
	Before  *model.Guild
	Guild   model.Guild
	Changes model.ChangeSet
}

func (GuildUpdate) Type() string { return "GUILD_UPDATE" }

// GuildDelete is sent when the bot leaves a guild, or with Unavailable set when the guild goes down
// in an outage, in which case it stays cached.
type GuildDelete struct {
	GuildID     model.Snowflake
	Unavailable bool
	// Cached is the guild as it was before the delete, nil if it was never cached.
	Cached *model.Guild
}

func (GuildDelete) Type() string { return "GUILD_DELETE" }

type ChannelCreate struct {
	Channel model.Channel
}

func (ChannelCreate) Type() string { return "CHANNEL_CREATE" }

type ChannelUpdate struct {
	Before  *model.Channel
	Channel model.Channel
	Changes model.ChangeSet
}

func (ChannelUpdate) Type() string { return "CHANNEL_UPDATE" }

type ChannelDelete struct {
	Channel model.Channel
}

func (ChannelDelete) Type() string { return "CHANNEL_DELETE" }

type ThreadCreate struct {
	Thread model.Channel
}

func (ThreadCreate) Type() string { return "THREAD_CREATE" }

type ThreadUpdate struct {
	Before  *model.Channel
	Thread  model.Channel
	Changes model.ChangeSet
}

func (ThreadUpdate) Type() string { return "THREAD_UPDATE" }

type ThreadDelete struct {
	Thread model.Channel
}

func (ThreadDelete) Type() string { return "THREAD_DELETE" }

type RoleCreate struct {
	GuildID model.Snowflake
	Role    model.Role
}

func (RoleCreate) Type() string { return "GUILD_ROLE_CREATE" }

type RoleUpdate struct {
	GuildID model.Snowflake
	Before  *model.Role
	Role    model.Role
	Changes model.ChangeSet
}

func (RoleUpdate) Type() string { return "GUILD_ROLE_UPDATE" }

type RoleDelete struct {
	GuildID model.Snowflake
	RoleID  model.Snowflake
	Cached  *model.Role
}

func (RoleDelete) Type() string { return "GUILD_ROLE_DELETE" }

type MemberAdd struct {
	GuildID model.Snowflake
	Member  model.Member
}

func (MemberAdd) Type() string { return "GUILD_MEMBER_ADD" }

type MemberUpdate struct {
	GuildID model.Snowflake
	Before  *model.Member
	Member  model.Member
	Changes model.ChangeSet
}

func (MemberUpdate) Type() string { return "GUILD_MEMBER_UPDATE" }

type MemberRemove struct {
	GuildID model.Snowflake
	User    model.User
	Cached  *model.Member
}

func (MemberRemove) Type() string { return "GUILD_MEMBER_REMOVE" }

type MembersChunk struct {
	GuildID    model.Snowflake
	Members    []model.Member
	ChunkIndex int
	ChunkCount int
	Nonce      string
}

func (MembersChunk) Type() string { return "GUILD_MEMBERS_CHUNK" }

type MessageCreate struct {
	Message model.Message
}

func (MessageCreate) Type() string { return "MESSAGE_CREATE" }

type MessageUpdate struct {
	Before  *model.Message
	Message model.Message
	Changes model.ChangeSet
}

func (MessageUpdate) Type() string { return "MESSAGE_UPDATE" }

type MessageDelete struct {
	ID        model.Snowflake
	ChannelID model.Snowflake
	GuildID   model.Snowflake
	Cached    *model.Message
}

func (MessageDelete) Type() string { return "MESSAGE_DELETE" }

type MessageDeleteBulk struct {
	IDs       []model.Snowflake
	ChannelID model.Snowflake
	GuildID   model.Snowflake
	// Cached holds the deleted messages which were in the cache.
	Cached []model.Message
}

func (MessageDeleteBulk) Type() string { return "MESSAGE_DELETE_BULK" }

type UserUpdate struct {
	Before  *model.User
	User    model.User
	Changes model.ChangeSet
}

func (UserUpdate) Type() string { return "USER_UPDATE" }

// Unknown carries a dispatch with no entry in the event table, untouched.
type Unknown struct {
	Name string
	Data json.RawMessage
}

func (Unknown) Type() string { return TypeUnknown }

// SessionInvalidated is published when the gateway rejected the session and the shard identifies
// again. Cached guilds are rebuilt by the READY that follows.
type SessionInvalidated struct {
	ShardID int
}

func (SessionInvalidated) Type() string { return TypeSessionInvalidated }

// Disconnected is published when a shard gives up: the retry ceiling was hit or the gateway refused
// the configuration.
type Disconnected struct {
	ShardID int
	Err     error
	Fatal   bool
}

func (Disconnected) Type() string { return TypeDisconnected }

type AuthenticationFailed struct {
	ShardID int
	Err     error
}

func (AuthenticationFailed) Type() string { return TypeAuthenticationFailed }
