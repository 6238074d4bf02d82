package caches

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/discord-net/dgate/model"
	"github.com/prometheus/client_golang/prometheus"
)

// Options configure a State.
type Options struct {
	// Raw stores every partition in an external backend. When nil, models are kept in memory.
	Raw RawStore
	// Eviction bounds memory stores per kind. Kinds which are absent are unbounded. Ignored when Raw
	// is set.
	Eviction map[Kind]EvictionPolicy
	// Registerer receives the cache size gauges. Nil disables metrics.
	Registerer prometheus.Registerer
}

// State is the entity cache of one client: a broker per entity kind over partitioned stores. It is
// created once at client startup and passed explicitly to every component which reads or writes the
// cache.
type State struct {
	Guilds    *Broker[model.Guild, *Guild]
	Channels  *Broker[model.Channel, Channel]
	Roles     *Broker[model.Role, *Role]
	Members   *Broker[model.Member, *Member]
	Users     *Broker[model.User, *User]
	Messages  *Broker[model.Message, *Message]
	Hierarchy *Hierarchy

	// channel id -> guild id, zero for private channels
	channelParents sync.Map
	gauges         []prometheus.Collector
	registerer     prometheus.Registerer
}

func factoryFor[M model.Model[M]](opts Options, kind Kind) StoreFactory[M] {
	if opts.Raw != nil {
		return RawStoreFactory[M](opts.Raw)
	}
	return MemoryStoreFactory[M](opts.Eviction[kind])
}

func NewState(opts Options) (*State, error) {
	s := &State{
		Hierarchy: NewHierarchy(),
	}
	s.Guilds = NewBroker[model.Guild, *Guild](NewPartitioned(KindGuild, factoryFor[model.Guild](opts, KindGuild)),
		func(ctx context.Context, parent model.Snowflake, m model.Guild) (*Guild, error) {
			g := &Guild{state: s}
			g.update(m)
			return g, nil
		},
		func(g *Guild, m model.Guild) { g.update(m) },
	)
	s.Channels = NewBroker[model.Channel, Channel](NewPartitioned(KindChannel, factoryFor[model.Channel](opts, KindChannel)),
		func(ctx context.Context, parent model.Snowflake, m model.Channel) (Channel, error) {
			base := &baseChannel{state: s, parent: parent}
			base.update(m)
			return s.Hierarchy.build(base), nil
		},
		func(c Channel, m model.Channel) { c.update(m) },
	)
	s.Roles = NewBroker[model.Role, *Role](NewPartitioned(KindRole, factoryFor[model.Role](opts, KindRole)),
		func(ctx context.Context, parent model.Snowflake, m model.Role) (*Role, error) {
			r := &Role{}
			r.update(m)
			return r, nil
		},
		func(r *Role, m model.Role) { r.update(m) },
	)
	s.Members = NewBroker[model.Member, *Member](NewPartitioned(KindMember, factoryFor[model.Member](opts, KindMember)),
		func(ctx context.Context, parent model.Snowflake, m model.Member) (*Member, error) {
			mem := &Member{state: s, guildID: parent}
			mem.update(m)
			return mem, nil
		},
		func(mem *Member, m model.Member) { mem.update(m) },
	)
	s.Users = NewBroker[model.User, *User](NewPartitioned(KindUser, factoryFor[model.User](opts, KindUser)),
		func(ctx context.Context, parent model.Snowflake, m model.User) (*User, error) {
			u := &User{}
			u.update(m)
			return u, nil
		},
		func(u *User, m model.User) { u.update(m) },
	)
	s.Messages = NewBroker[model.Message, *Message](NewPartitioned(KindMessage, factoryFor[model.Message](opts, KindMessage)),
		func(ctx context.Context, parent model.Snowflake, m model.Message) (*Message, error) {
			msg := &Message{state: s}
			msg.update(m)
			return msg, nil
		},
		func(msg *Message, m model.Message) { msg.update(m) },
	)
	if opts.Registerer != nil {
		if err := s.registerMetrics(opts.Registerer); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *State) registerMetrics(reg prometheus.Registerer) error {
	sizes := map[Kind]func(context.Context) (int, error){
		KindGuild:   s.Guilds.Stores().Len,
		KindChannel: s.Channels.Stores().Len,
		KindRole:    s.Roles.Stores().Len,
		KindMember:  s.Members.Stores().Len,
		KindUser:    s.Users.Stores().Len,
		KindMessage: s.Messages.Stores().Len,
	}
	for kind, size := range sizes {
		size := size
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "dgate",
			Subsystem:   "cache",
			Name:        "entities",
			Help:        "Number of cached entities",
			ConstLabels: prometheus.Labels{"kind": string(kind)},
		}, func() float64 {
			n, err := size(context.Background())
			if err != nil {
				logger.Warn().Err(err).Msg("failed to count cached entities")
				return 0
			}
			return float64(n)
		})
		if err := reg.Register(g); err != nil {
			return fmt.Errorf("register cache gauge: %w", err)
		}
		s.gauges = append(s.gauges, g)
	}
	s.registerer = reg
	return nil
}

// Close unregisters metrics and releases every store.
func (s *State) Close() {
	for _, g := range s.gauges {
		s.registerer.Unregister(g)
	}
	s.gauges = nil
	s.Guilds.Stores().Close()
	s.Channels.Stores().Close()
	s.Roles.Stores().Close()
	s.Members.Stores().Close()
	s.Users.Stores().Close()
	s.Messages.Stores().Close()
}

// ChannelParent returns the guild a cached channel belongs to. Private channels have parent zero.
func (s *State) ChannelParent(channelID model.Snowflake) (model.Snowflake, bool) {
	v, ok := s.channelParents.Load(channelID)
	if !ok {
		return 0, false
	}
	return v.(model.Snowflake), true
}

func (s *State) channelPartition(ch model.Channel) model.Snowflake {
	if guildID, ok := ch.GuildID.Get(); ok {
		return guildID
	}
	if parent, ok := s.ChannelParent(ch.ID); ok {
		return parent
	}
	return 0
}

func (s *State) Guild(ctx context.Context, id model.Snowflake) (*GuildHandle, error) {
	return s.Guilds.Get(ctx, id, 0)
}

// Channel finds a channel by id alone, looking up which guild it belongs to.
func (s *State) Channel(ctx context.Context, id model.Snowflake) (*ChannelHandle, error) {
	parent, ok := s.ChannelParent(id)
	if !ok {
		return nil, nil
	}
	return s.Channels.Get(ctx, id, parent)
}

func (s *State) User(ctx context.Context, id model.Snowflake) (*UserHandle, error) {
	return s.Users.Get(ctx, id, 0)
}

func (s *State) Member(ctx context.Context, guildID, userID model.Snowflake) (*MemberHandle, error) {
	return s.Members.Get(ctx, userID, guildID)
}

func (s *State) Message(ctx context.Context, channelID, id model.Snowflake) (*MessageHandle, error) {
	return s.Messages.Get(ctx, id, channelID)
}

// GuildIDs lists every cached guild.
func (s *State) GuildIDs(ctx context.Context) ([]model.Snowflake, error) {
	guilds, err := s.Guilds.Stores().Store(0).All(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]model.Snowflake, 0, len(guilds))
	for _, g := range guilds {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func (s *State) ApplyGuild(ctx context.Context, g model.Guild, kind EventKind) (Result[model.Guild], error) {
	res, err := s.Guilds.Reconcile(ctx, 0, g, kind)
	if err != nil {
		return res, err
	}
	if kind == EventDelete {
		err = s.dropGuildChildren(ctx, g.ID)
	}
	return res, err
}

func (s *State) ApplyChannel(ctx context.Context, ch model.Channel, kind EventKind) (Result[model.Channel], error) {
	parent := s.channelPartition(ch)
	res, err := s.Channels.Reconcile(ctx, parent, ch, kind)
	if err != nil {
		return res, err
	}
	if kind == EventDelete {
		s.channelParents.Delete(ch.ID)
		s.Messages.InvalidateParent(ch.ID)
		err = s.Messages.Stores().Drop(ctx, ch.ID)
	} else {
		s.channelParents.Store(ch.ID, parent)
	}
	return res, err
}

func (s *State) ApplyRole(ctx context.Context, guildID model.Snowflake, r model.Role, kind EventKind) (Result[model.Role], error) {
	return s.Roles.Reconcile(ctx, guildID, r, kind)
}

// ApplyMember caches the member and merges the embedded user into the user cache.
func (s *State) ApplyMember(ctx context.Context, guildID model.Snowflake, m model.Member, kind EventKind) (Result[model.Member], error) {
	if kind != EventDelete && m.User.ID != 0 {
		if _, err := s.Users.Reconcile(ctx, 0, m.User, EventUpdate); err != nil {
			return Result[model.Member]{}, err
		}
	}
	return s.Members.Reconcile(ctx, guildID, m, kind)
}

func (s *State) ApplyUser(ctx context.Context, u model.User, kind EventKind) (Result[model.User], error) {
	return s.Users.Reconcile(ctx, 0, u, kind)
}

// ApplyMessage caches the message under its channel. A created message also merges its author into
// the user cache and advances the channel's last message id.
func (s *State) ApplyMessage(ctx context.Context, msg model.Message, kind EventKind) (Result[model.Message], error) {
	res, err := s.Messages.Reconcile(ctx, msg.ChannelID, msg, kind)
	if err != nil || kind != EventCreate {
		return res, err
	}
	if author, ok := msg.Author.Get(); ok && author.ID != 0 {
		if _, err := s.Users.Reconcile(ctx, 0, author, EventUpdate); err != nil {
			return res, err
		}
	}
	if parent, ok := s.ChannelParent(msg.ChannelID); ok {
		_, err = s.Channels.Reconcile(ctx, parent, model.Channel{
			ID:            msg.ChannelID,
			LastMessageID: model.Some(msg.ID),
		}, EventUpdate)
	}
	return res, err
}

// PurgeGuild forgets a guild and everything cached under it, invalidating outstanding handles.
func (s *State) PurgeGuild(ctx context.Context, guildID model.Snowflake) error {
	if _, err := s.Guilds.Reconcile(ctx, 0, model.Guild{ID: guildID}, EventDelete); err != nil {
		return err
	}
	return s.dropGuildChildren(ctx, guildID)
}

func (s *State) dropGuildChildren(ctx context.Context, guildID model.Snowflake) error {
	var errs []error
	if store, ok := s.Channels.Stores().Lookup(guildID); ok {
		channels, err := store.All(ctx)
		errs = append(errs, err)
		for _, ch := range channels {
			s.channelParents.Delete(ch.ID)
			s.Messages.InvalidateParent(ch.ID)
			errs = append(errs, s.Messages.Stores().Drop(ctx, ch.ID))
		}
	}
	s.Channels.InvalidateParent(guildID)
	s.Roles.InvalidateParent(guildID)
	s.Members.InvalidateParent(guildID)
	errs = append(errs,
		s.Channels.Stores().Drop(ctx, guildID),
		s.Roles.Stores().Drop(ctx, guildID),
		s.Members.Stores().Drop(ctx, guildID),
	)
	return errors.Join(errs...)
}
