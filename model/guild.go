package model

type Guild struct {
	ID                Snowflake           `json:"id"`
	Name              Optional[string]    `json:"name,omitzero"`
	Icon              Optional[string]    `json:"icon,omitzero"`
	Description       Optional[string]    `json:"description,omitzero"`
	OwnerID           Optional[Snowflake] `json:"owner_id,omitzero"`
	AFKChannelID      Optional[Snowflake] `json:"afk_channel_id,omitzero"`
	SystemChannelID   Optional[Snowflake] `json:"system_channel_id,omitzero"`
	VerificationLevel Optional[int]       `json:"verification_level,omitzero"`
	PreferredLocale   Optional[string]    `json:"preferred_locale,omitzero"`
	MemberCount       Optional[int]       `json:"member_count,omitzero"`
	Large             Optional[bool]      `json:"large,omitzero"`
	Unavailable       Optional[bool]      `json:"unavailable,omitzero"`
}

func (g Guild) EntityID() Snowflake { return g.ID }

func (g Guild) Merge(in Guild) (Guild, ChangeSet) {
	var cs ChangeSet
	mergeID(&cs, "id", &g.ID, in.ID)
	mergeField(&cs, "name", &g.Name, in.Name)
	mergeField(&cs, "icon", &g.Icon, in.Icon)
	mergeField(&cs, "description", &g.Description, in.Description)
	mergeField(&cs, "owner_id", &g.OwnerID, in.OwnerID)
	mergeField(&cs, "afk_channel_id", &g.AFKChannelID, in.AFKChannelID)
	mergeField(&cs, "system_channel_id", &g.SystemChannelID, in.SystemChannelID)
	mergeField(&cs, "verification_level", &g.VerificationLevel, in.VerificationLevel)
	mergeField(&cs, "preferred_locale", &g.PreferredLocale, in.PreferredLocale)
	mergeField(&cs, "member_count", &g.MemberCount, in.MemberCount)
	mergeField(&cs, "large", &g.Large, in.Large)
	mergeField(&cs, "unavailable", &g.Unavailable, in.Unavailable)
	return g, cs
}

// Role is scoped under a guild.
type Role struct {
	ID          Snowflake        `json:"id"`
	Name        Optional[string] `json:"name,omitzero"`
	Color       Optional[int]    `json:"color,omitzero"`
	Hoist       Optional[bool]   `json:"hoist,omitzero"`
	Position    Optional[int]    `json:"position,omitzero"`
	Permissions Optional[string] `json:"permissions,omitzero"`
	Managed     Optional[bool]   `json:"managed,omitzero"`
	Mentionable Optional[bool]   `json:"mentionable,omitzero"`
}

func (r Role) EntityID() Snowflake { return r.ID }

func (r Role) Merge(in Role) (Role, ChangeSet) {
	var cs ChangeSet
	mergeID(&cs, "id", &r.ID, in.ID)
	mergeField(&cs, "name", &r.Name, in.Name)
	mergeField(&cs, "color", &r.Color, in.Color)
	mergeField(&cs, "hoist", &r.Hoist, in.Hoist)
	mergeField(&cs, "position", &r.Position, in.Position)
	mergeField(&cs, "permissions", &r.Permissions, in.Permissions)
	mergeField(&cs, "managed", &r.Managed, in.Managed)
	mergeField(&cs, "mentionable", &r.Mentionable, in.Mentionable)
	return r, cs
}

// Member is scoped under a guild and keyed by its user's id.
type Member struct {
	User                       User                  `json:"user"`
	Nick                       Optional[string]      `json:"nick,omitzero"`
	Avatar                     Optional[string]      `json:"avatar,omitzero"`
	Roles                      Optional[[]Snowflake] `json:"roles,omitzero"`
	JoinedAt                   Optional[string]      `json:"joined_at,omitzero"`
	PremiumSince               Optional[string]      `json:"premium_since,omitzero"`
	Deaf                       Optional[bool]        `json:"deaf,omitzero"`
	Mute                       Optional[bool]        `json:"mute,omitzero"`
	Pending                    Optional[bool]        `json:"pending,omitzero"`
	CommunicationDisabledUntil Optional[string]      `json:"communication_disabled_until,omitzero"`
}

func (m Member) EntityID() Snowflake { return m.User.ID }

func (m Member) Merge(in Member) (Member, ChangeSet) {
	var cs ChangeSet
	var userChanges ChangeSet
	m.User, userChanges = m.User.Merge(in.User)
	cs = append(cs, prefixed("user", userChanges)...)
	mergeField(&cs, "nick", &m.Nick, in.Nick)
	mergeField(&cs, "avatar", &m.Avatar, in.Avatar)
	mergeFieldFunc(&cs, "roles", &m.Roles, in.Roles, snowflakesEqual)
	mergeField(&cs, "joined_at", &m.JoinedAt, in.JoinedAt)
	mergeField(&cs, "premium_since", &m.PremiumSince, in.PremiumSince)
	mergeField(&cs, "deaf", &m.Deaf, in.Deaf)
	mergeField(&cs, "mute", &m.Mute, in.Mute)
	mergeField(&cs, "pending", &m.Pending, in.Pending)
	mergeField(&cs, "communication_disabled_until", &m.CommunicationDisabledUntil, in.CommunicationDisabledUntil)
	return m, cs
}

// UnavailableGuild is the stub sent in READY and GUILD_DELETE.
type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable,omitempty"`
}
