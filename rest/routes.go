package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/discord-net/dgate/model"
)

func GetGuild(id model.Snowflake) Route {
	return Route{Method: http.MethodGet, Path: "/guilds/" + id.String(), Bucket: "guilds/" + id.String()}
}

func GetChannel(id model.Snowflake) Route {
	return Route{Method: http.MethodGet, Path: "/channels/" + id.String(), Bucket: "channels/" + id.String()}
}

func GetUser(id model.Snowflake) Route {
	return Route{Method: http.MethodGet, Path: "/users/" + id.String(), Bucket: "users"}
}

func GetGuildMember(guildID, userID model.Snowflake) Route {
	return Route{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/guilds/%s/members/%s", guildID, userID),
		Bucket: "guilds/" + guildID.String() + "/members",
	}
}

func GetGuildRoles(guildID model.Snowflake) Route {
	return Route{Method: http.MethodGet, Path: fmt.Sprintf("/guilds/%s/roles", guildID), Bucket: "guilds/" + guildID.String()}
}

func GetChannelMessage(channelID, id model.Snowflake) Route {
	return Route{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/channels/%s/messages/%s", channelID, id),
		Bucket: "channels/" + channelID.String() + "/messages",
	}
}

// GetChannelMessages lists messages around, before or after anchor. direction is "around",
// "before" or "after".
func GetChannelMessages(channelID, anchor model.Snowflake, direction string, limit int) Route {
	q := url.Values{}
	if anchor != 0 {
		q.Set(direction, anchor.String())
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return Route{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/channels/%s/messages", channelID),
		Query:  q,
		Bucket: "channels/" + channelID.String() + "/messages",
	}
}

type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBot is the response of GET /gateway/bot.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

func GetGatewayBot(ctx context.Context, exec Executor) (GatewayBot, error) {
	var gb GatewayBot
	err := exec.Execute(ctx, Route{Method: http.MethodGet, Path: "/gateway/bot", Bucket: "gateway"}, &gb)
	return gb, err
}

// GatewayURLResolver asks REST for the gateway URL, for gateway.Options.ResolveURL.
func GatewayURLResolver(exec Executor) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		gb, err := GetGatewayBot(ctx, exec)
		if err != nil {
			return "", err
		}
		if gb.URL == "" {
			return "", fmt.Errorf("rest: /gateway/bot returned no url")
		}
		return gb.URL, nil
	}
}
