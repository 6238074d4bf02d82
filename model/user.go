package model

type User struct {
	ID            Snowflake        `json:"id"`
	Username      Optional[string] `json:"username,omitzero"`
	GlobalName    Optional[string] `json:"global_name,omitzero"`
	Discriminator Optional[string] `json:"discriminator,omitzero"`
	Avatar        Optional[string] `json:"avatar,omitzero"`
	Bot           Optional[bool]   `json:"bot,omitzero"`
	System        Optional[bool]   `json:"system,omitzero"`
}

func (u User) EntityID() Snowflake { return u.ID }

func (u User) Merge(in User) (User, ChangeSet) {
	var cs ChangeSet
	mergeID(&cs, "id", &u.ID, in.ID)
	mergeField(&cs, "username", &u.Username, in.Username)
	mergeField(&cs, "global_name", &u.GlobalName, in.GlobalName)
	mergeField(&cs, "discriminator", &u.Discriminator, in.Discriminator)
	mergeField(&cs, "avatar", &u.Avatar, in.Avatar)
	mergeField(&cs, "bot", &u.Bot, in.Bot)
	mergeField(&cs, "system", &u.System, in.System)
	return u, cs
}

// DisplayName prefers the global name over the username.
func (u User) DisplayName() string {
	if name, ok := u.GlobalName.Get(); ok && name != "" {
		return name
	}
	return u.Username.OrElse("")
}
