package model

import "strconv"

type ChannelType int

const (
	ChannelGuildText          ChannelType = 0
	ChannelDM                 ChannelType = 1
	ChannelGuildVoice         ChannelType = 2
	ChannelGroupDM            ChannelType = 3
	ChannelGuildCategory      ChannelType = 4
	ChannelGuildAnnouncement  ChannelType = 5
	ChannelAnnouncementThread ChannelType = 10
	ChannelPublicThread       ChannelType = 11
	ChannelPrivateThread      ChannelType = 12
	ChannelGuildStageVoice    ChannelType = 13
	ChannelGuildDirectory     ChannelType = 14
	ChannelGuildForum         ChannelType = 15
	ChannelGuildMedia         ChannelType = 16
)

var channelTypeNames = map[ChannelType]string{
	ChannelGuildText:          "guild_text",
	ChannelDM:                 "dm",
	ChannelGuildVoice:         "guild_voice",
	ChannelGroupDM:            "group_dm",
	ChannelGuildCategory:      "guild_category",
	ChannelGuildAnnouncement:  "guild_announcement",
	ChannelAnnouncementThread: "announcement_thread",
	ChannelPublicThread:       "public_thread",
	ChannelPrivateThread:      "private_thread",
	ChannelGuildStageVoice:    "guild_stage_voice",
	ChannelGuildDirectory:     "guild_directory",
	ChannelGuildForum:         "guild_forum",
	ChannelGuildMedia:         "guild_media",
}

func (t ChannelType) String() string {
	if name, ok := channelTypeNames[t]; ok {
		return name
	}
	return "channel_type_" + strconv.Itoa(int(t))
}

func (t ChannelType) IsThread() bool {
	return t == ChannelAnnouncementThread || t == ChannelPublicThread || t == ChannelPrivateThread
}

func (t ChannelType) IsVoice() bool {
	return t == ChannelGuildVoice || t == ChannelGuildStageVoice
}

func (t ChannelType) IsPrivate() bool {
	return t == ChannelDM || t == ChannelGroupDM
}

type Channel struct {
	ID               Snowflake             `json:"id"`
	Type             Optional[ChannelType] `json:"type,omitzero"`
	GuildID          Optional[Snowflake]   `json:"guild_id,omitzero"`
	Name             Optional[string]      `json:"name,omitzero"`
	Topic            Optional[string]      `json:"topic,omitzero"`
	Position         Optional[int]         `json:"position,omitzero"`
	ParentID         Optional[Snowflake]   `json:"parent_id,omitzero"`
	OwnerID          Optional[Snowflake]   `json:"owner_id,omitzero"`
	NSFW             Optional[bool]        `json:"nsfw,omitzero"`
	LastMessageID    Optional[Snowflake]   `json:"last_message_id,omitzero"`
	Bitrate          Optional[int]         `json:"bitrate,omitzero"`
	UserLimit        Optional[int]         `json:"user_limit,omitzero"`
	RateLimitPerUser Optional[int]         `json:"rate_limit_per_user,omitzero"`
	RTCRegion        Optional[string]      `json:"rtc_region,omitzero"`
}

func (c Channel) EntityID() Snowflake { return c.ID }

// Kind returns the channel type, defaulting to a guild text channel for placeholders which never saw one.
func (c Channel) Kind() ChannelType {
	return c.Type.OrElse(ChannelGuildText)
}

func (c Channel) Merge(in Channel) (Channel, ChangeSet) {
	var cs ChangeSet
	mergeID(&cs, "id", &c.ID, in.ID)
	mergeField(&cs, "type", &c.Type, in.Type)
	mergeField(&cs, "guild_id", &c.GuildID, in.GuildID)
	mergeField(&cs, "name", &c.Name, in.Name)
	mergeField(&cs, "topic", &c.Topic, in.Topic)
	mergeField(&cs, "position", &c.Position, in.Position)
	mergeField(&cs, "parent_id", &c.ParentID, in.ParentID)
	mergeField(&cs, "owner_id", &c.OwnerID, in.OwnerID)
	mergeField(&cs, "nsfw", &c.NSFW, in.NSFW)
	mergeField(&cs, "last_message_id", &c.LastMessageID, in.LastMessageID)
	mergeField(&cs, "bitrate", &c.Bitrate, in.Bitrate)
	mergeField(&cs, "user_limit", &c.UserLimit, in.UserLimit)
	mergeField(&cs, "rate_limit_per_user", &c.RateLimitPerUser, in.RateLimitPerUser)
	mergeField(&cs, "rtc_region", &c.RTCRegion, in.RTCRegion)
	return c, cs
}
