package caches

import (
	"sync"
	"sync/atomic"

	"github.com/discord-net/dgate/model"
)

// ChannelClass groups channel types which share a live object implementation.
type ChannelClass int

const (
	ClassText ChannelClass = iota
	ClassVoice
	ClassCategory
	ClassThread
	ClassPrivate
)

func (c ChannelClass) String() string {
	switch c {
	case ClassVoice:
		return "voice"
	case ClassCategory:
		return "category"
	case ClassThread:
		return "thread"
	case ClassPrivate:
		return "private"
	default:
		return "text"
	}
}

type channelRule struct {
	class ChannelClass
	match func(t model.ChannelType) bool
	build func(base *baseChannel) Channel
}

// Hierarchy resolves a channel type tag to the class responsible for it. Rules are checked most
// specific first and the outcome is memoized per tag, so only the first sighting of a type walks them.
type Hierarchy struct {
	rules    []channelRule
	fallback channelRule
	resolved sync.Map // model.ChannelType -> *channelRule
	walks    atomic.Int64
}

func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		rules: []channelRule{
			{
				class: ClassThread,
				match: model.ChannelType.IsThread,
				build: func(base *baseChannel) Channel { return &ThreadChannel{TextChannel{baseChannel: base}} },
			},
			{
				class: ClassVoice,
				match: model.ChannelType.IsVoice,
				build: func(base *baseChannel) Channel { return &VoiceChannel{baseChannel: base} },
			},
			{
				class: ClassCategory,
				match: func(t model.ChannelType) bool { return t == model.ChannelGuildCategory },
				build: func(base *baseChannel) Channel { return &CategoryChannel{baseChannel: base} },
			},
			{
				class: ClassPrivate,
				match: model.ChannelType.IsPrivate,
				build: func(base *baseChannel) Channel { return &PrivateChannel{TextChannel{baseChannel: base}} },
			},
		},
		fallback: channelRule{
			class: ClassText,
			match: func(model.ChannelType) bool { return true },
			build: func(base *baseChannel) Channel { return &TextChannel{baseChannel: base} },
		},
	}
}

func (h *Hierarchy) rule(t model.ChannelType) *channelRule {
	if r, ok := h.resolved.Load(t); ok {
		return r.(*channelRule)
	}
	h.walks.Add(1)
	r := &h.fallback
	for i := range h.rules {
		if h.rules[i].match(t) {
			r = &h.rules[i]
			break
		}
	}
	actual, _ := h.resolved.LoadOrStore(t, r)
	return actual.(*channelRule)
}

// Resolve returns the class for a channel type.
func (h *Hierarchy) Resolve(t model.ChannelType) ChannelClass {
	return h.rule(t).class
}

// Walks is the number of times resolution had to consult the rules rather than the memo.
func (h *Hierarchy) Walks() int64 {
	return h.walks.Load()
}

func (h *Hierarchy) build(base *baseChannel) Channel {
	return h.rule(base.Model().Kind()).build(base)
}
