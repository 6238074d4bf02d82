package caches

import (
	"context"
	"testing"

	"github.com/discord-net/dgate/model"
)

func TestHierarchyResolve(t *testing.T) {
	h := NewHierarchy()
	testCases := []struct {
		typ  model.ChannelType
		want ChannelClass
	}{
		{model.ChannelGuildText, ClassText},
		{model.ChannelGuildAnnouncement, ClassText},
		{model.ChannelGuildForum, ClassText},
		{model.ChannelGuildVoice, ClassVoice},
		{model.ChannelGuildStageVoice, ClassVoice},
		{model.ChannelGuildCategory, ClassCategory},
		{model.ChannelPublicThread, ClassThread},
		{model.ChannelPrivateThread, ClassThread},
		{model.ChannelAnnouncementThread, ClassThread},
		{model.ChannelDM, ClassPrivate},
		{model.ChannelGroupDM, ClassPrivate},
		{model.ChannelType(99), ClassText},
	}
	for _, tc := range testCases {
		if got := h.Resolve(tc.typ); got != tc.want {
			t.Errorf("Resolve(%v) got %v want %v", tc.typ, got, tc.want)
		}
	}
}

func TestHierarchyMemoizes(t *testing.T) {
	h := NewHierarchy()
	for i := 0; i < 100; i++ {
		h.Resolve(model.ChannelGuildVoice)
		h.Resolve(model.ChannelPublicThread)
	}
	if got := h.Walks(); got != 2 {
		t.Fatalf("rule walks got %d want 2", got)
	}
}

func TestChannelBrokerBuildsConcreteTypes(t *testing.T) {
	ctx := context.Background()
	s, _ := NewState(Options{})
	defer s.Close()
	guildID := model.Snowflake(1)
	s.ApplyChannel(ctx, model.Channel{ID: 10, GuildID: model.Some(guildID), Type: model.Some(model.ChannelGuildCategory)}, EventCreate)
	s.ApplyChannel(ctx, model.Channel{ID: 11, GuildID: model.Some(guildID), Type: model.Some(model.ChannelGuildVoice), ParentID: model.Some(model.Snowflake(10)), Bitrate: model.Some(96000)}, EventCreate)
	s.ApplyChannel(ctx, model.Channel{ID: 12, GuildID: model.Some(guildID), Type: model.Some(model.ChannelGuildText), ParentID: model.Some(model.Snowflake(10))}, EventCreate)
	s.ApplyChannel(ctx, model.Channel{ID: 13, GuildID: model.Some(guildID), Type: model.Some(model.ChannelPublicThread), ParentID: model.Some(model.Snowflake(12))}, EventCreate)
	s.ApplyChannel(ctx, model.Channel{ID: 14, Type: model.Some(model.ChannelDM)}, EventCreate)

	h, err := s.Channel(ctx, 11)
	if err != nil || h == nil {
		t.Fatalf("Channel(11): %v %v", h, err)
	}
	defer h.Release()
	e, _ := h.Entity()
	voice, ok := e.(*VoiceChannel)
	if !ok {
		t.Fatalf("channel 11 built as %T want *VoiceChannel", e)
	}
	if voice.Bitrate() != 96000 || voice.GuildID() != guildID {
		t.Fatalf("voice channel got bitrate %d guild %v", voice.Bitrate(), voice.GuildID())
	}

	ch, _ := s.Channel(ctx, 10)
	e, _ = ch.Entity()
	category, ok := e.(*CategoryChannel)
	if !ok {
		t.Fatalf("channel 10 built as %T want *CategoryChannel", e)
	}
	children, err := category.Children(ctx)
	if err != nil || len(children) != 2 {
		t.Fatalf("category children got %d (%v) want 2", len(children), err)
	}

	th, _ := s.Channel(ctx, 13)
	e, _ = th.Entity()
	thread, ok := e.(*ThreadChannel)
	if !ok {
		t.Fatalf("channel 13 built as %T want *ThreadChannel", e)
	}
	parent, err := thread.Parent(ctx)
	if err != nil || parent == nil || parent.ID() != 12 {
		t.Fatalf("thread parent got %v %v", parent, err)
	}

	dm, _ := s.Channel(ctx, 14)
	e, _ = dm.Entity()
	if _, ok := e.(*PrivateChannel); !ok || e.GuildID() != 0 {
		t.Fatalf("channel 14 built as %T in guild %v", e, e.GuildID())
	}
}
