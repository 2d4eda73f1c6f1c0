package chat

import (
	"github.com/npezzotti/go-chatroom-client/internal/realtime"
	"github.com/npezzotti/go-chatroom-client/internal/types"
)

// The functions below derive a new message list from the current one. They
// never modify their input. Server mutations only ever touch messages of
// OriginServer; locally synthesized messages have no server id to match.

func matches(m types.Message, id types.MessageId) bool {
	return m.Origin == types.OriginServer && m.Id == id
}

func clone(list []types.Message, extra int) []types.Message {
	out := make([]types.Message, len(list), len(list)+extra)
	copy(out, list)
	return out
}

// Replace discards list and returns the fetched history. A repeated id keeps
// its first occurrence, so every id names exactly one message.
func Replace(history []types.Message) []types.Message {
	out := make([]types.Message, 0, len(history))
	seen := make(map[types.MessageId]struct{}, len(history))
	for _, m := range history {
		if _, ok := seen[m.Id]; ok {
			continue
		}
		seen[m.Id] = struct{}{}
		m = m.Clone()
		m.Origin = types.OriginServer
		out = append(out, m)
	}
	return out
}

// Contains reports whether a server message with id is present.
func Contains(list []types.Message, id types.MessageId) bool {
	for _, m := range list {
		if matches(m, id) {
			return true
		}
	}
	return false
}

// Append adds a server message. A message whose id is already present is
// skipped, so a snapshot and a late event for the same message do not
// produce a duplicate.
func Append(list []types.Message, msg types.Message) []types.Message {
	msg = msg.Clone()
	msg.Origin = types.OriginServer
	if Contains(list, msg.Id) {
		return list
	}
	out := clone(list, 1)
	return append(out, msg)
}

// AppendLocal adds a message synthesized on the client.
func AppendLocal(list []types.Message, msg types.Message) []types.Message {
	msg = msg.Clone()
	msg.Origin = types.OriginLocal
	out := clone(list, 1)
	return append(out, msg)
}

// Edit replaces the content of the message with id. Nothing else changes.
func Edit(list []types.Message, id types.MessageId, content string) []types.Message {
	out := clone(list, 0)
	for i, m := range out {
		if matches(m, id) {
			m = m.Clone()
			m.Content = content
			out[i] = m
		}
	}
	return out
}

// Delete removes the message with id.
func Delete(list []types.Message, id types.MessageId) []types.Message {
	out := make([]types.Message, 0, len(list))
	for _, m := range list {
		if matches(m, id) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// React appends r to the reactions of the message with id.
func React(list []types.Message, id types.MessageId, r types.Reaction) []types.Message {
	out := clone(list, 0)
	for i, m := range out {
		if matches(m, id) {
			m = m.Clone()
			m.Reactions = append(m.Reactions, r)
			out[i] = m
		}
	}
	return out
}

// Apply folds one real-time event into list. Room filtering is the caller's
// job.
func Apply(list []types.Message, ev realtime.Event) []types.Message {
	switch {
	case ev.Message != nil:
		return Append(list, *ev.Message)
	case ev.Edited != nil:
		return Edit(list, ev.Edited.MessageId, ev.Edited.Content)
	case ev.Deleted != nil:
		return Delete(list, ev.Deleted.MessageId)
	case ev.Reaction != nil:
		return React(list, ev.Reaction.MessageId, types.Reaction{
			UserId: ev.Reaction.UserId,
			Emoji:  ev.Reaction.Emoji,
		})
	default:
		return list
	}
}
