package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/discord-net/dgate/caches"
	"github.com/discord-net/dgate/gateway"
	"github.com/discord-net/dgate/model"
	"github.com/discord-net/dgate/testutils"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu    sync.Mutex
	seq   *int64
	id    int
	count int
}

func (s *fakeSession) AdvanceSequence(seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != nil && seq <= *s.seq {
		return false
	}
	s.seq = &seq
	return true
}

func (s *fakeSession) ShardID() int { return s.id }

func (s *fakeSession) ShardCount() int {
	if s.count == 0 {
		return 1
	}
	return s.count
}

// recorder collects delivered events of one type.
type recorder[E Event] struct {
	mu     sync.Mutex
	events []E
}

func record[E Event](r *Router) *recorder[E] {
	rec := &recorder[E]{}
	On(r, func(ctx context.Context, ev E) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.events = append(rec.events, ev)
	})
	return rec
}

func (r *recorder[E]) wait(t *testing.T, n int) []E {
	t.Helper()
	var out []E
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		out = append([]E(nil), r.events...)
		return len(out) >= n
	}, 5*time.Second, 5*time.Millisecond, "waiting for %d events", n)
	return out
}

func newTestRouter(t *testing.T, reg prometheus.Registerer) (*Router, *caches.State) {
	t.Helper()
	state, err := caches.NewState(caches.Options{})
	require.NoError(t, err)
	r, err := NewRouter(Options{State: state, Registerer: reg, Workers: 4})
	require.NoError(t, err)
	r.Start(context.Background())
	t.Cleanup(func() {
		r.Close()
		state.Close()
	})
	return r, state
}

func route(t *testing.T, r *Router, sess Session, seq int64, event string, data json.RawMessage) {
	t.Helper()
	env := gateway.Envelope{Op: gateway.OpDispatch, Data: data, Seq: &seq, Event: event}
	require.NoError(t, r.Route(context.Background(), sess, env))
}

func sf(t *testing.T, s string) model.Snowflake {
	t.Helper()
	id, err := model.ParseSnowflake(s)
	require.NoError(t, err)
	return id
}

func cachedGuild(t *testing.T, state *caches.State, id model.Snowflake) (model.Guild, bool) {
	t.Helper()
	g, ok, err := state.Guilds.Stores().Store(0).Get(context.Background(), id)
	require.NoError(t, err)
	return g, ok
}

func TestRouteDropsDuplicateSequence(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, state := newTestRouter(t, reg)
	updates := record[GuildUpdate](r)
	sess := &fakeSession{}
	guildID := testutils.NewSnowflake()

	route(t, r, sess, 1, "GUILD_CREATE", testutils.NewGuildPayload(t, guildID, "first"))
	route(t, r, sess, 1, "GUILD_UPDATE", testutils.NewGuildPayload(t, guildID, "replayed"))
	g, ok := cachedGuild(t, state, sf(t, guildID))
	require.True(t, ok)
	assert.Equal(t, "first", g.Name.OrElse(""), "a duplicate must not touch the cache")

	route(t, r, sess, 2, "GUILD_UPDATE", testutils.NewGuildPayload(t, guildID, "second"))
	g, _ = cachedGuild(t, state, sf(t, guildID))
	assert.Equal(t, "second", g.Name.OrElse(""))

	got := updates.wait(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Guild.Name.OrElse(""))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.dispatched.WithLabelValues("GUILD_UPDATE", "duplicate")))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.dispatched.WithLabelValues("GUILD_UPDATE", "applied")))
}

func TestListenersSeeEventsInOrder(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	created := record[MessageCreate](r)
	var anyMu sync.Mutex
	var anyTypes []string
	r.OnAny(func(ctx context.Context, ev Event) {
		anyMu.Lock()
		defer anyMu.Unlock()
		anyTypes = append(anyTypes, ev.Type())
	})
	sess := &fakeSession{}
	channelID := testutils.NewSnowflake()
	var want []model.Snowflake
	for i := 0; i < 50; i++ {
		id := testutils.NewSnowflake()
		want = append(want, sf(t, id))
		route(t, r, sess, int64(i+1), "MESSAGE_CREATE", testutils.NewMessagePayload(t, id, channelID, "7", fmt.Sprintf("msg %d", i)))
	}
	got := created.wait(t, 50)
	ids := make([]model.Snowflake, len(got))
	for i, ev := range got {
		ids[i] = ev.Message.ID
	}
	assert.Equal(t, want, ids)
	anyMu.Lock()
	defer anyMu.Unlock()
	assert.Len(t, anyTypes, 50)
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	On(r, func(ctx context.Context, ev MessageCreate) {
		panic("listener bug")
	})
	created := record[MessageCreate](r)
	sess := &fakeSession{}
	channelID := testutils.NewSnowflake()
	route(t, r, sess, 1, "MESSAGE_CREATE", testutils.NewMessagePayload(t, testutils.NewSnowflake(), channelID, "7", "one"))
	route(t, r, sess, 2, "MESSAGE_CREATE", testutils.NewMessagePayload(t, testutils.NewSnowflake(), channelID, "7", "two"))
	got := created.wait(t, 2)
	assert.Equal(t, "one", got[0].Message.Content.OrElse(""))
	assert.Equal(t, "two", got[1].Message.Content.OrElse(""))
}

func TestUnknownEventsPassThrough(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	unknown := record[Unknown](r)
	sess := &fakeSession{}
	route(t, r, sess, 5, "BRAND_NEW_EVENT", json.RawMessage(`{"x":1}`))
	got := unknown.wait(t, 1)
	assert.Equal(t, "BRAND_NEW_EVENT", got[0].Name)
	assert.JSONEq(t, `{"x":1}`, string(got[0].Data))
	assert.Equal(t, int64(5), *sess.seq, "unknown dispatches still advance the sequence")
}

func TestNonDispatchFramesAreIgnored(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	sess := &fakeSession{}
	seq := int64(3)
	err := r.Route(context.Background(), sess, gateway.Envelope{Op: gateway.OpHeartbeatAck, Seq: &seq})
	require.NoError(t, err)
	assert.Nil(t, sess.seq)
}

func TestRouteMalformedPayload(t *testing.T) {
	r, state := newTestRouter(t, nil)
	sess := &fakeSession{}
	err := r.Route(context.Background(), sess, gateway.Envelope{
		Op:    gateway.OpDispatch,
		Data:  json.RawMessage(`{"id":"not a number"}`),
		Seq:   func() *int64 { s := int64(1); return &s }(),
		Event: "GUILD_CREATE",
	})
	require.Error(t, err)
	ids, err := state.GuildIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGuildCreatePopulatesCache(t *testing.T) {
	r, state := newTestRouter(t, nil)
	creates := record[GuildCreate](r)
	sess := &fakeSession{}
	ctx := context.Background()
	guildID := testutils.NewSnowflake()
	textID := testutils.NewSnowflake()
	voiceID := testutils.NewSnowflake()
	threadID := testutils.NewSnowflake()
	roleID := testutils.NewSnowflake()
	userID := testutils.NewSnowflake()

	payload := testutils.NewGuildPayload(t, guildID, "my guild",
		testutils.WithRaw("channels", fmt.Sprintf(`[%s,%s]`,
			testutils.NewChannelPayload(t, textID, int(model.ChannelGuildText), "general", testutils.With("topic", "hello")),
			testutils.NewChannelPayload(t, voiceID, int(model.ChannelGuildVoice), "voice", testutils.With("bitrate", 64000)),
		)),
		testutils.WithRaw("threads", fmt.Sprintf(`[%s]`,
			testutils.NewChannelPayload(t, threadID, int(model.ChannelPublicThread), "thread", testutils.With("parent_id", textID)),
		)),
		testutils.WithRaw("roles", fmt.Sprintf(`[%s]`, testutils.NewRolePayload(t, roleID, "mods"))),
		testutils.WithRaw("members", fmt.Sprintf(`[%s]`, testutils.NewMemberPayload(t, userID, "alice", testutils.With("nick", "al")))),
	)
	route(t, r, sess, 1, "GUILD_CREATE", payload)

	gh, err := state.Guild(ctx, sf(t, guildID))
	require.NoError(t, err)
	require.NotNil(t, gh)
	defer gh.Release()
	guild, ok := gh.Entity()
	require.True(t, ok)
	assert.Equal(t, "my guild", guild.Name())
	channels, err := guild.Channels(ctx)
	require.NoError(t, err)
	assert.Len(t, channels, 3)

	ch, err := state.Channel(ctx, sf(t, textID))
	require.NoError(t, err)
	require.NotNil(t, ch)
	defer ch.Release()
	live, ok := ch.Entity()
	require.True(t, ok)
	text, ok := live.(*caches.TextChannel)
	require.True(t, ok, "got %T", live)
	assert.Equal(t, "hello", text.Topic())
	assert.Equal(t, sf(t, guildID), text.GuildID())

	vh, err := state.Channel(ctx, sf(t, voiceID))
	require.NoError(t, err)
	defer vh.Release()
	voice, _ := vh.Entity()
	require.IsType(t, &caches.VoiceChannel{}, voice)
	assert.Equal(t, 64000, voice.(*caches.VoiceChannel).Bitrate())

	th, err := state.Channel(ctx, sf(t, threadID))
	require.NoError(t, err)
	defer th.Release()
	thread, _ := th.Entity()
	require.IsType(t, &caches.ThreadChannel{}, thread)

	mh, err := state.Member(ctx, sf(t, guildID), sf(t, userID))
	require.NoError(t, err)
	require.NotNil(t, mh)
	defer mh.Release()
	member, _ := mh.Entity()
	assert.Equal(t, "al", member.DisplayName())

	uh, err := state.User(ctx, sf(t, userID))
	require.NoError(t, err)
	require.NotNil(t, uh, "members carry their user into the user cache")
	uh.Release()

	got := creates.wait(t, 1)
	assert.Len(t, got[0].Roles, 1)
	assert.Len(t, got[0].Threads, 1)
}

func TestReadyPurgesGuildsOfThisShard(t *testing.T) {
	r, state := newTestRouter(t, nil)
	readies := record[Ready](r)
	ctx := context.Background()
	// shard 0 of 2 owns guilds whose (id >> 22) is even
	ours := model.Snowflake(2 << 22)
	theirs := model.Snowflake(3 << 22)
	fresh := model.Snowflake(4 << 22)
	channelID := model.Snowflake(5 << 22)
	for _, id := range []model.Snowflake{ours, theirs} {
		_, err := state.ApplyGuild(ctx, model.Guild{ID: id, Name: model.Some("g")}, caches.EventCreate)
		require.NoError(t, err)
	}
	_, err := state.ApplyChannel(ctx, model.Channel{ID: channelID, GuildID: model.Some(ours), Name: model.Some("c")}, caches.EventCreate)
	require.NoError(t, err)
	held, err := state.Guild(ctx, ours)
	require.NoError(t, err)
	require.NotNil(t, held)

	sess := &fakeSession{id: 0, count: 2}
	ready := map[string]any{
		"v":                  10,
		"user":               map[string]any{"id": "99", "username": "bot"},
		"guilds":             []map[string]any{{"id": fresh.String(), "unavailable": true}},
		"session_id":         "abc",
		"resume_gateway_url": "wss://resume.example",
	}
	data, err := json.Marshal(ready)
	require.NoError(t, err)
	route(t, r, sess, 1, "READY", data)

	_, ok := cachedGuild(t, state, ours)
	assert.False(t, ok, "this shard's guild is purged")
	_, ok = cachedGuild(t, state, theirs)
	assert.True(t, ok, "other shards' guilds are kept")
	stub, ok := cachedGuild(t, state, fresh)
	require.True(t, ok)
	assert.True(t, stub.Unavailable.OrElse(false))
	_, ok = state.ChannelParent(channelID)
	assert.False(t, ok, "channels of purged guilds are dropped")
	_, alive := held.Entity()
	assert.False(t, alive, "handles to purged guilds report removal")

	self, err := state.User(ctx, 99)
	require.NoError(t, err)
	require.NotNil(t, self)
	self.Release()

	got := readies.wait(t, 1)
	assert.Equal(t, 1, got[0].Purged)
	assert.Equal(t, "abc", got[0].SessionID)
}

func TestUpdateMergesOntoRESTBaseline(t *testing.T) {
	r, state := newTestRouter(t, nil)
	updates := record[GuildUpdate](r)
	ctx := context.Background()
	id := model.Snowflake(1 << 30)
	_, err := state.ApplyGuild(ctx, model.Guild{
		ID:          id,
		Name:        model.Some("baseline"),
		Description: model.Some("from rest"),
		MemberCount: model.Some(10),
	}, caches.EventUpdate)
	require.NoError(t, err)

	route(t, r, &fakeSession{}, 1, "GUILD_UPDATE",
		json.RawMessage(fmt.Sprintf(`{"id":"%s","name":"renamed","description":null}`, id)))

	g, ok := cachedGuild(t, state, id)
	require.True(t, ok)
	assert.Equal(t, "renamed", g.Name.OrElse(""))
	assert.True(t, g.Description.IsNull())
	assert.Equal(t, 10, g.MemberCount.OrElse(0), "unspecified fields keep the cached value")

	got := updates.wait(t, 1)
	assert.ElementsMatch(t, []string{"name", "description"}, got[0].Changes.Fields())
	require.NotNil(t, got[0].Before)
	assert.Equal(t, "baseline", got[0].Before.Name.OrElse(""))
}

func TestUpdateBeforeCreateStoresPlaceholder(t *testing.T) {
	r, state := newTestRouter(t, nil)
	updates := record[ChannelUpdate](r)
	guildID := testutils.NewSnowflake()
	channelID := testutils.NewSnowflake()
	route(t, r, &fakeSession{}, 1, "CHANNEL_UPDATE",
		testutils.NewChannelPayload(t, channelID, int(model.ChannelGuildText), "late", testutils.With("guild_id", guildID)))

	parent, ok := state.ChannelParent(sf(t, channelID))
	require.True(t, ok)
	assert.Equal(t, sf(t, guildID), parent)
	got := updates.wait(t, 1)
	assert.Nil(t, got[0].Before)
	assert.Equal(t, "late", got[0].Channel.Name.OrElse(""))
}

func TestMemberAndRoleLifecycle(t *testing.T) {
	r, state := newTestRouter(t, nil)
	removes := record[MemberRemove](r)
	roleDeletes := record[RoleDelete](r)
	ctx := context.Background()
	sess := &fakeSession{}
	guildID := testutils.NewSnowflake()
	userID := testutils.NewSnowflake()
	roleID := testutils.NewSnowflake()

	route(t, r, sess, 1, "GUILD_MEMBER_ADD", testutils.NewMemberPayload(t, userID, "bob", testutils.With("guild_id", guildID)))
	route(t, r, sess, 2, "GUILD_MEMBER_UPDATE", testutils.NewMemberPayload(t, userID, "bob",
		testutils.With("guild_id", guildID), testutils.With("nick", "bobby")))
	mh, err := state.Member(ctx, sf(t, guildID), sf(t, userID))
	require.NoError(t, err)
	require.NotNil(t, mh)
	member, _ := mh.Entity()
	assert.Equal(t, "bobby", member.DisplayName())

	route(t, r, sess, 3, "GUILD_MEMBER_REMOVE",
		json.RawMessage(fmt.Sprintf(`{"guild_id":"%s","user":{"id":"%s"}}`, guildID, userID)))
	_, alive := mh.Entity()
	assert.False(t, alive)
	mh.Release()
	got := removes.wait(t, 1)
	require.NotNil(t, got[0].Cached)

	route(t, r, sess, 4, "GUILD_ROLE_CREATE",
		json.RawMessage(fmt.Sprintf(`{"guild_id":"%s","role":%s}`, guildID, testutils.NewRolePayload(t, roleID, "mods"))))
	route(t, r, sess, 5, "GUILD_ROLE_DELETE",
		json.RawMessage(fmt.Sprintf(`{"guild_id":"%s","role_id":"%s"}`, guildID, roleID)))
	deleted := roleDeletes.wait(t, 1)
	require.NotNil(t, deleted[0].Cached)
	assert.Equal(t, "mods", deleted[0].Cached.Name.OrElse(""))

	chunk := fmt.Sprintf(`{"guild_id":"%s","members":[%s,%s],"chunk_index":0,"chunk_count":1}`, guildID,
		testutils.NewMemberPayload(t, testutils.NewSnowflake(), "c1"),
		testutils.NewMemberPayload(t, testutils.NewSnowflake(), "c2"))
	route(t, r, sess, 6, "GUILD_MEMBERS_CHUNK", json.RawMessage(chunk))
	members, err := state.Members.Stores().Store(sf(t, guildID)).All(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestMessageDeletes(t *testing.T) {
	r, state := newTestRouter(t, nil)
	bulk := record[MessageDeleteBulk](r)
	ctx := context.Background()
	sess := &fakeSession{}
	channelID := testutils.NewSnowflake()
	var ids []string
	for i := 0; i < 3; i++ {
		id := testutils.NewSnowflake()
		ids = append(ids, id)
		route(t, r, sess, int64(i+1), "MESSAGE_CREATE", testutils.NewMessagePayload(t, id, channelID, "7", "hi"))
	}
	route(t, r, sess, 4, "MESSAGE_DELETE_BULK",
		json.RawMessage(fmt.Sprintf(`{"ids":["%s","%s"],"channel_id":"%s"}`, ids[0], ids[1], channelID)))
	got := bulk.wait(t, 1)
	assert.Len(t, got[0].Cached, 2)

	route(t, r, sess, 5, "MESSAGE_DELETE",
		json.RawMessage(fmt.Sprintf(`{"id":"%s","channel_id":"%s"}`, ids[2], channelID)))
	remaining, err := state.Messages.Stores().Store(sf(t, channelID)).All(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestUnregister(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	id := r.OnAny(func(ctx context.Context, ev Event) {})
	assert.True(t, r.Unregister(id))
	assert.False(t, r.Unregister(id))
	assert.False(t, r.Unregister(ListenerID(12345)))
}

func TestLifecycleEventsArePublished(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	invalidated := record[SessionInvalidated](r)
	authFailed := record[AuthenticationFailed](r)
	disconnected := record[Disconnected](r)
	shard, err := gateway.NewShard(gateway.Config{Token: "token", GatewayURL: "ws://127.0.0.1:1", ShardID: 1, ShardCount: 2}, gateway.Options{})
	require.NoError(t, err)
	ctx := context.Background()

	r.HandleLifecycle(ctx, shard, gateway.LifecycleEvent{Kind: gateway.LifecycleSessionInvalidated})
	r.HandleLifecycle(ctx, shard, gateway.LifecycleEvent{Kind: gateway.LifecycleAuthenticationFailed, Err: gateway.ErrAuthenticationFailed, Fatal: true})
	r.HandleLifecycle(ctx, shard, gateway.LifecycleEvent{Kind: gateway.LifecycleDisconnected, Err: gateway.ErrRetriesExhausted, Fatal: true})

	assert.Equal(t, 1, invalidated.wait(t, 1)[0].ShardID)
	assert.ErrorIs(t, authFailed.wait(t, 1)[0].Err, gateway.ErrAuthenticationFailed)
	d := disconnected.wait(t, 1)[0]
	assert.True(t, d.Fatal)
	assert.ErrorIs(t, d.Err, gateway.ErrRetriesExhausted)
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	state, err := caches.NewState(caches.Options{})
	require.NoError(t, err)
	defer state.Close()
	r, err := NewRouter(Options{State: state})
	require.NoError(t, err)
	var mu sync.Mutex
	seen := 0
	r.OnAny(func(ctx context.Context, ev Event) {
		mu.Lock()
		seen++
		mu.Unlock()
	})
	r.Start(context.Background())
	sess := &fakeSession{}
	for i := 1; i <= 10; i++ {
		route(t, r, sess, int64(i), "SOMETHING", json.RawMessage(`{}`))
	}
	require.NoError(t, r.Close())
	mu.Lock()
	assert.Equal(t, 10, seen)
	mu.Unlock()
	assert.Error(t, r.Route(context.Background(), sess, gateway.Envelope{
		Op: gateway.OpDispatch, Event: "SOMETHING", Data: json.RawMessage(`{}`),
	}))
}
