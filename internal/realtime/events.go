package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/npezzotti/go-chatroom-client/internal/types"
)

// Event names on the wire.
const (
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventMessage        = "message"
	EventMessageEdited  = "messageEdited"
	EventMessageDeleted = "messageDeleted"
	EventReaction       = "reaction"
	EventJoinedRoom     = "joinedRoom"
)

// Frame is one JSON object per websocket text frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewFrame(event string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return &Frame{Event: event, Data: raw}, nil
}

type MessageEdited struct {
	MessageId types.MessageId `json:"messageId"`
	Content   string          `json:"content"`
	RoomId    types.RoomId    `json:"roomId"`
}

type MessageDeleted struct {
	MessageId types.MessageId `json:"messageId"`
	RoomId    types.RoomId    `json:"roomId"`
}

type ReactionAdded struct {
	MessageId types.MessageId `json:"messageId"`
	UserId    types.UserId    `json:"userId"`
	Emoji     string          `json:"emoji"`
	RoomId    types.RoomId    `json:"roomId"`
}

// Event is a decoded inbound frame. Exactly one payload field is set,
// matching Name.
type Event struct {
	Name     string
	RoomId   types.RoomId
	Message  *types.Message
	Edited   *MessageEdited
	Deleted  *MessageDeleted
	Reaction *ReactionAdded
}

// ErrUnknownEvent is returned by DecodeEvent for names the client does not
// handle.
type ErrUnknownEvent struct {
	Name string
}

func (e *ErrUnknownEvent) Error() string {
	return fmt.Sprintf("unknown event %q", e.Name)
}

// DecodeEvent turns a frame into a typed event. Identifiers are normalized to
// their canonical numeric form here, so consumers never coerce.
func DecodeEvent(f *Frame) (Event, error) {
	ev := Event{Name: f.Event}

	switch f.Event {
	case EventMessage:
		var m types.Message
		if err := json.Unmarshal(f.Data, &m); err != nil {
			return ev, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		m.Origin = types.OriginServer
		ev.Message = &m
		ev.RoomId = m.RoomId
	case EventMessageEdited:
		var p MessageEdited
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return ev, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		ev.Edited = &p
		ev.RoomId = p.RoomId
	case EventMessageDeleted:
		var p MessageDeleted
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return ev, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		ev.Deleted = &p
		ev.RoomId = p.RoomId
	case EventReaction:
		var p ReactionAdded
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return ev, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		ev.Reaction = &p
		ev.RoomId = p.RoomId
	case EventJoinedRoom:
		var id types.RoomId
		if err := json.Unmarshal(f.Data, &id); err != nil {
			return ev, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		ev.RoomId = id
	default:
		return ev, &ErrUnknownEvent{Name: f.Event}
	}

	return ev, nil
}
