package model

// Message is scoped under its channel.
type Message struct {
	ID              Snowflake           `json:"id"`
	ChannelID       Snowflake           `json:"channel_id"`
	GuildID         Optional[Snowflake] `json:"guild_id,omitzero"`
	Author          Optional[User]      `json:"author,omitzero"`
	Content         Optional[string]    `json:"content,omitzero"`
	Timestamp       Optional[string]    `json:"timestamp,omitzero"`
	EditedTimestamp Optional[string]    `json:"edited_timestamp,omitzero"`
	TTS             Optional[bool]      `json:"tts,omitzero"`
	MentionEveryone Optional[bool]      `json:"mention_everyone,omitzero"`
	Pinned          Optional[bool]      `json:"pinned,omitzero"`
	Type            Optional[int]       `json:"type,omitzero"`
	Flags           Optional[int]       `json:"flags,omitzero"`
}

func (m Message) EntityID() Snowflake { return m.ID }

func (m Message) Merge(in Message) (Message, ChangeSet) {
	var cs ChangeSet
	mergeID(&cs, "id", &m.ID, in.ID)
	mergeID(&cs, "channel_id", &m.ChannelID, in.ChannelID)
	mergeField(&cs, "guild_id", &m.GuildID, in.GuildID)
	mergeField(&cs, "author", &m.Author, in.Author)
	mergeField(&cs, "content", &m.Content, in.Content)
	mergeField(&cs, "timestamp", &m.Timestamp, in.Timestamp)
	mergeField(&cs, "edited_timestamp", &m.EditedTimestamp, in.EditedTimestamp)
	mergeField(&cs, "tts", &m.TTS, in.TTS)
	mergeField(&cs, "mention_everyone", &m.MentionEveryone, in.MentionEveryone)
	mergeField(&cs, "pinned", &m.Pinned, in.Pinned)
	mergeField(&cs, "type", &m.Type, in.Type)
	mergeField(&cs, "flags", &m.Flags, in.Flags)
	return m, cs
}
