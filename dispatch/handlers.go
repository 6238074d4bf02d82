package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/discord-net/dgate/caches"
	"github.com/discord-net/dgate/gateway"
	"github.com/discord-net/dgate/model"
	"github.com/tidwall/gjson"
)

// handler decodes one dispatch and applies it to the cache, returning the event for listeners.
type handler func(ctx context.Context, session Session, data json.RawMessage) (Event, error)

func (r *Router) buildTable() map[string]handler {
	return map[string]handler{
		"READY":               r.onReady,
		"RESUMED":             r.onResumed,
		"GUILD_CREATE":        r.onGuildCreate,
		"GUILD_UPDATE":        r.onGuildUpdate,
		"GUILD_DELETE":        r.onGuildDelete,
		"CHANNEL_CREATE":      r.channelHandler(caches.EventCreate, false),
		"CHANNEL_UPDATE":      r.channelHandler(caches.EventUpdate, false),
		"CHANNEL_DELETE":      r.channelHandler(caches.EventDelete, false),
		"THREAD_CREATE":       r.channelHandler(caches.EventCreate, true),
		"THREAD_UPDATE":       r.channelHandler(caches.EventUpdate, true),
		"THREAD_DELETE":       r.channelHandler(caches.EventDelete, true),
		"GUILD_ROLE_CREATE":   r.roleHandler(caches.EventCreate),
		"GUILD_ROLE_UPDATE":   r.roleHandler(caches.EventUpdate),
		"GUILD_ROLE_DELETE":   r.onRoleDelete,
		"GUILD_MEMBER_ADD":    r.memberHandler(caches.EventCreate),
		"GUILD_MEMBER_UPDATE": r.memberHandler(caches.EventUpdate),
		"GUILD_MEMBER_REMOVE": r.onMemberRemove,
		"GUILD_MEMBERS_CHUNK": r.onMembersChunk,
		"MESSAGE_CREATE":      r.messageHandler(caches.EventCreate),
		"MESSAGE_UPDATE":      r.messageHandler(caches.EventUpdate),
		"MESSAGE_DELETE":      r.onMessageDelete,
		"MESSAGE_DELETE_BULK": r.onMessageDeleteBulk,
		"USER_UPDATE":         r.onUserUpdate,
	}
}

func snowflakeAt(data []byte, path string) (model.Snowflake, error) {
	res := gjson.GetBytes(data, path)
	if !res.Exists() || res.Type == gjson.Null {
		return 0, fmt.Errorf("missing %s", path)
	}
	return model.ParseSnowflake(res.String())
}

// optionalSnowflakeAt is zero when the field is absent.
func optionalSnowflakeAt(data []byte, path string) (model.Snowflake, error) {
	res := gjson.GetBytes(data, path)
	if !res.Exists() || res.Type == gjson.Null {
		return 0, nil
	}
	return model.ParseSnowflake(res.String())
}

// onReady starts a fresh session: guilds this shard owns are dropped so that the GUILD_CREATE burst
// rebuilds them, and the READY stubs are cached as unavailable until then.
func (r *Router) onReady(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
	var ready gateway.Ready
	if err := json.Unmarshal(data, &ready); err != nil {
		return nil, err
	}
	ids, err := r.state.GuildIDs(ctx)
	if err != nil {
		return nil, err
	}
	purged := 0
	for _, id := range ids {
		if id.ShardID(session.ShardCount()) != session.ShardID() {
			continue
		}
		if err := r.state.PurgeGuild(ctx, id); err != nil {
			return nil, err
		}
		purged++
	}
	if ready.User.ID != 0 {
		if _, err := r.state.ApplyUser(ctx, ready.User, caches.EventUpdate); err != nil {
			return nil, err
		}
	}
	for _, g := range ready.Guilds {
		stub := model.Guild{ID: g.ID, Unavailable: model.Some(true)}
		if _, err := r.state.ApplyGuild(ctx, stub, caches.EventCreate); err != nil {
			return nil, err
		}
	}
	logger.Info().Int("shard", session.ShardID()).Int("guilds", len(ready.Guilds)).Int("purged", purged).Msg("session ready")
	return Ready{
		ShardID:   session.ShardID(),
		SessionID: ready.SessionID,
		User:      ready.User,
		Guilds:    ready.Guilds,
		Purged:    purged,
	}, nil
}

func (r *Router) onResumed(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
	return Resumed{ShardID: session.ShardID()}, nil
}

type guildCreatePayload struct {
	Channels []model.Channel `json:"channels"`
	Threads  []model.Channel `json:"threads"`
	Roles    []model.Role    `json:"roles"`
	Members  []model.Member  `json:"members"`
}

func (r *Router) onGuildCreate(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
	var guild model.Guild
	if err := json.Unmarshal(data, &guild); err != nil {
		return nil, err
	}
	var extra guildCreatePayload
	if err := json.Unmarshal(data, &extra); err != nil {
		return nil, err
	}
	if _, err := r.state.ApplyGuild(ctx, guild, caches.EventCreate); err != nil {
		return nil, err
	}
	for _, list := range [][]model.Channel{extra.Channels, extra.Threads} {
		for i := range list {
			// channels nested in a guild omit their guild id
			list[i].GuildID = model.Some(guild.ID)
			if _, err := r.state.ApplyChannel(ctx, list[i], caches.EventCreate); err != nil {
				return nil, err
			}
		}
	}
	for _, role := range extra.Roles {
		if _, err := r.state.ApplyRole(ctx, guild.ID, role, caches.EventCreate); err != nil {
			return nil, err
		}
	}
	for _, m := range extra.Members {
		if _, err := r.state.ApplyMember(ctx, guild.ID, m, caches.EventCreate); err != nil {
			return nil, err
		}
	}
	return GuildCreate{
		Guild:    guild,
		Channels: extra.Channels,
		Threads:  extra.Threads,
		Roles:    extra.Roles,
		Members:  extra.Members,
	}, nil
}

func (r *Router) onGuildUpdate(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
	var guild model.Guild
	if err := json.Unmarshal(data, &guild); err != nil {
		return nil, err
	}
	res, err := r.state.ApplyGuild(ctx, guild, caches.EventUpdate)
	if err != nil {
		return nil, err
	}
	return GuildUpdate{Before: res.Before, Guild: res.After, Changes: res.Changes}, nil
}

func (r *Router) onGuildDelete(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
	var stub model.UnavailableGuild
	if err := json.Unmarshal(data, &stub); err != nil {
		return nil, err
	}
	ev := GuildDelete{GuildID: stub.ID, Unavailable: stub.Unavailable}
	if stub.Unavailable {
		res, err := r.state.ApplyGuild(ctx, model.Guild{ID: stub.ID, Unavailable: model.Some(true)}, caches.EventUpdate)
		if err != nil {
			return nil, err
		}
		ev.Cached = res.Before
		return ev, nil
	}
	res, err := r.state.ApplyGuild(ctx, model.Guild{ID: stub.ID}, caches.EventDelete)
	if err != nil {
		return nil, err
	}
	ev.Cached = res.Before
	return ev, nil
}

func (r *Router) channelHandler(kind caches.EventKind, thread bool) handler {
	return func(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
		var ch model.Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			return nil, err
		}
		res, err := r.state.ApplyChannel(ctx, ch, kind)
		if err != nil {
			return nil, err
		}
		switch {
		case kind == caches.EventCreate && thread:
			return ThreadCreate{Thread: res.After}, nil
		case kind == caches.EventCreate:
			return ChannelCreate{Channel: res.After}, nil
		case kind == caches.EventUpdate && thread:
			return ThreadUpdate{Before: res.Before, Thread: res.After, Changes: res.Changes}, nil
		case kind == caches.EventUpdate:
			return ChannelUpdate{Before: res.Before, Channel: res.After, Changes: res.Changes}, nil
		case thread:
			return ThreadDelete{Thread: res.After}, nil
		default:
			return ChannelDelete{Channel: res.After}, nil
		}
	}
}

type rolePayload struct {
	GuildID model.Snowflake `json:"guild_id"`
	Role    model.Role      `json:"role"`
}

func (r *Router) roleHandler(kind caches.EventKind) handler {
	return func(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
		var p rolePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		res, err := r.state.ApplyRole(ctx, p.GuildID, p.Role, kind)
		if err != nil {
			return nil, err
		}
		if kind == caches.EventCreate {
			return RoleCreate{GuildID: p.GuildID, Role: res.After}, nil
		}
		return RoleUpdate{GuildID: p.GuildID, Before: res.Before, Role: res.After, Changes: res.Changes}, nil
	}
}

func (r *Router) onRoleDelete(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
	guildID, err := snowflakeAt(data, "guild_id")
	if err != nil {
		return nil, err
	}
	roleID, err := snowflakeAt(data, "role_id")
	if err != nil {
		return nil, err
	}
	res, err := r.state.ApplyRole(ctx, guildID, model.Role{ID: roleID}, caches.EventDelete)
	if err != nil {
		return nil, err
	}
	return RoleDelete{GuildID: guildID, RoleID: roleID, Cached: res.Before}, nil
}

func (r *Router) memberHandler(kind caches.EventKind) handler {
	return func(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
		guildID, err := snowflakeAt(data, "guild_id")
		if err != nil {
			return nil, err
		}
		var m model.Member
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		res, err := r.state.ApplyMember(ctx, guildID, m, kind)
		if err != nil {
			return nil, err
		}
		if kind == caches.EventCreate {
			return MemberAdd{GuildID: guildID, Member: res.After}, nil
		}
		return MemberUpdate{GuildID: guildID, Before: res.Before, Member: res.After, Changes: res.Changes}, nil
	}
}

type memberRemovePayload struct {
	GuildID model.Snowflake `json:"guild_id"`
	User    model.User      `json:"user"`
}

func (r *Router) onMemberRemove(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
	var p memberRemovePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	res, err := r.state.ApplyMember(ctx, p.GuildID, model.Member{User: p.User}, caches.EventDelete)
	if err != nil {
		return nil, err
	}
	return MemberRemove{GuildID: p.GuildID, User: p.User, Cached: res.Before}, nil
}

type membersChunkPayload struct {
	GuildID    model.Snowflake `json:"guild_id"`
	Members    []model.Member  `json:"members"`
	ChunkIndex int             `json:"chunk_index"`
	ChunkCount int             `json:"chunk_count"`
	Nonce      string          `json:"nonce"`
}

func (r *Router) onMembersChunk(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
	var p membersChunkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	for _, m := range p.Members {
		if _, err := r.state.ApplyMember(ctx, p.GuildID, m, caches.EventCreate); err != nil {
			return nil, err
		}
	}
	return MembersChunk(p), nil
}

func (r *Router) messageHandler(kind caches.EventKind) handler {
	return func(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		res, err := r.state.ApplyMessage(ctx, msg, kind)
		if err != nil {
			return nil, err
		}
		if kind == caches.EventCreate {
			return MessageCreate{Message: res.After}, nil
		}
		return MessageUpdate{Before: res.Before, Message: res.After, Changes: res.Changes}, nil
	}
}

func (r *Router) onMessageDelete(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
	id, err := snowflakeAt(data, "id")
	if err != nil {
		return nil, err
	}
	channelID, err := snowflakeAt(data, "channel_id")
	if err != nil {
		return nil, err
	}
	guildID, err := optionalSnowflakeAt(data, "guild_id")
	if err != nil {
		return nil, err
	}
	res, err := r.state.ApplyMessage(ctx, model.Message{ID: id, ChannelID: channelID}, caches.EventDelete)
	if err != nil {
		return nil, err
	}
	return MessageDelete{ID: id, ChannelID: channelID, GuildID: guildID, Cached: res.Before}, nil
}

type messageDeleteBulkPayload struct {
	IDs       []model.Snowflake `json:"ids"`
	ChannelID model.Snowflake   `json:"channel_id"`
	GuildID   model.Snowflake   `json:"guild_id"`
}

func (r *Router) onMessageDeleteBulk(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
	var p messageDeleteBulkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	ev := MessageDeleteBulk{IDs: p.IDs, ChannelID: p.ChannelID, GuildID: p.GuildID}
	for _, id := range p.IDs {
		res, err := r.state.ApplyMessage(ctx, model.Message{ID: id, ChannelID: p.ChannelID}, caches.EventDelete)
		if err != nil {
			return nil, err
		}
		if res.Before != nil {
			ev.Cached = append(ev.Cached, *res.Before)
		}
	}
	return ev, nil
}

func (r *Router) onUserUpdate(ctx context.Context, session Session, data json.RawMessage) (Event, error) {
	var u model.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	res, err := r.state.ApplyUser(ctx, u, caches.EventUpdate)
	if err != nil {
		return nil, err
	}
	return UserUpdate{Before: res.Before, User: res.After, Changes: res.Changes}, nil
}
