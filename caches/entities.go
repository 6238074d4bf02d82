package caches

import (
	"context"
	"sync"

	"github.com/discord-net/dgate/model"
)

// Live holds the latest cached model of one entity. Live objects are what Handles lease.
type Live[M model.Model[M]] struct {
	mu sync.RWMutex
	m  M
}

func (l *Live[M]) ID() model.Snowflake {
	return l.Model().EntityID()
}

// Model returns a copy of the latest model.
func (l *Live[M]) Model() M {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.m
}

func (l *Live[M]) update(m M) {
	l.mu.Lock()
	l.m = m
	l.mu.Unlock()
}

type (
	GuildHandle   = Handle[model.Guild, *Guild]
	ChannelHandle = Handle[model.Channel, Channel]
	RoleHandle    = Handle[model.Role, *Role]
	MemberHandle  = Handle[model.Member, *Member]
	UserHandle    = Handle[model.User, *User]
	MessageHandle = Handle[model.Message, *Message]
)

type Guild struct {
	Live[model.Guild]
	state *State
}

func (g *Guild) Name() string {
	return g.Model().Name.OrElse("")
}

// Channels returns the cached channels of this guild, threads included.
func (g *Guild) Channels(ctx context.Context) ([]model.Channel, error) {
	return g.state.Channels.Stores().Store(g.ID()).All(ctx)
}

func (g *Guild) Channel(ctx context.Context, id model.Snowflake) (*ChannelHandle, error) {
	return g.state.Channels.Get(ctx, id, g.ID())
}

func (g *Guild) Roles(ctx context.Context) ([]model.Role, error) {
	return g.state.Roles.Stores().Store(g.ID()).All(ctx)
}

func (g *Guild) Role(ctx context.Context, id model.Snowflake) (*RoleHandle, error) {
	return g.state.Roles.Get(ctx, id, g.ID())
}

func (g *Guild) Member(ctx context.Context, userID model.Snowflake) (*MemberHandle, error) {
	return g.state.Members.Get(ctx, userID, g.ID())
}

// Owner returns the member who owns the guild, or nil if they are not cached.
func (g *Guild) Owner(ctx context.Context) (*MemberHandle, error) {
	owner, ok := g.Model().OwnerID.Get()
	if !ok {
		return nil, nil
	}
	return g.Member(ctx, owner)
}

// Channel is the live object for any kind of channel. The concrete type depends on the channel's
// class, see Hierarchy.
type Channel interface {
	ID() model.Snowflake
	Model() model.Channel
	Class() ChannelClass
	// GuildID is zero for private channels.
	GuildID() model.Snowflake
	update(m model.Channel)
}

type baseChannel struct {
	Live[model.Channel]
	state  *State
	parent model.Snowflake
}

func (c *baseChannel) GuildID() model.Snowflake {
	return c.parent
}

func (c *baseChannel) Name() string {
	return c.Model().Name.OrElse("")
}

// Guild returns a handle to the owning guild, nil for private channels.
func (c *baseChannel) Guild(ctx context.Context) (*GuildHandle, error) {
	if c.parent == 0 {
		return nil, nil
	}
	return c.state.Guilds.Get(ctx, c.parent, 0)
}

type TextChannel struct {
	*baseChannel
}

func (c *TextChannel) Class() ChannelClass { return ClassText }

func (c *TextChannel) Topic() string {
	return c.Model().Topic.OrElse("")
}

// Messages returns up to limit cached messages positioned relative to anchor.
func (c *TextChannel) Messages(ctx context.Context, anchor model.Snowflake, dir Direction, limit int) ([]model.Message, error) {
	return c.state.Messages.Stores().Store(c.ID()).QueryRange(ctx, anchor, dir, limit)
}

func (c *TextChannel) Message(ctx context.Context, id model.Snowflake) (*MessageHandle, error) {
	return c.state.Messages.Get(ctx, id, c.ID())
}

type VoiceChannel struct {
	*baseChannel
}

func (c *VoiceChannel) Class() ChannelClass { return ClassVoice }

func (c *VoiceChannel) Bitrate() int {
	return c.Model().Bitrate.OrElse(0)
}

func (c *VoiceChannel) UserLimit() int {
	return c.Model().UserLimit.OrElse(0)
}

type CategoryChannel struct {
	*baseChannel
}

func (c *CategoryChannel) Class() ChannelClass { return ClassCategory }

// Children returns the cached channels whose parent is this category.
func (c *CategoryChannel) Children(ctx context.Context) ([]model.Channel, error) {
	all, err := c.state.Channels.Stores().Store(c.parent).All(ctx)
	if err != nil {
		return nil, err
	}
	var children []model.Channel
	for _, ch := range all {
		if p, ok := ch.ParentID.Get(); ok && p == c.ID() {
			children = append(children, ch)
		}
	}
	return children, nil
}

type ThreadChannel struct {
	TextChannel
}

func (c *ThreadChannel) Class() ChannelClass { return ClassThread }

// Parent returns a handle to the channel the thread was started in.
func (c *ThreadChannel) Parent(ctx context.Context) (*ChannelHandle, error) {
	parentID, ok := c.Model().ParentID.Get()
	if !ok {
		return nil, nil
	}
	return c.state.Channels.Get(ctx, parentID, c.parent)
}

type PrivateChannel struct {
	TextChannel
}

func (c *PrivateChannel) Class() ChannelClass { return ClassPrivate }

type Role struct {
	Live[model.Role]
}

func (r *Role) Name() string {
	return r.Model().Name.OrElse("")
}

type Member struct {
	Live[model.Member]
	state   *State
	guildID model.Snowflake
}

func (m *Member) GuildID() model.Snowflake {
	return m.guildID
}

// DisplayName prefers the guild nickname over the user's own names.
func (m *Member) DisplayName() string {
	mod := m.Model()
	if nick, ok := mod.Nick.Get(); ok && nick != "" {
		return nick
	}
	return mod.User.DisplayName()
}

// Roles resolves the member's role ids against the guild's cached roles. Uncached roles are skipped.
func (m *Member) Roles(ctx context.Context) ([]model.Role, error) {
	ids := m.Model().Roles.OrElse(nil)
	store := m.state.Roles.Stores().Store(m.guildID)
	roles := make([]model.Role, 0, len(ids))
	for _, id := range ids {
		r, ok, err := store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			roles = append(roles, r)
		}
	}
	return roles, nil
}

type User struct {
	Live[model.User]
}

type Message struct {
	Live[model.Message]
	state *State
}

// Channel returns a handle to the channel the message was sent in.
func (m *Message) Channel(ctx context.Context) (*ChannelHandle, error) {
	return m.state.Channel(ctx, m.Model().ChannelID)
}
