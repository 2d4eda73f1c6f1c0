package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MessageId is the canonical form of a server-assigned message identifier.
// It decodes from a JSON number or a JSON string holding a number, so callers
// only ever compare int64 values.
type MessageId int64

func (id *MessageId) UnmarshalJSON(b []byte) error {
	n, err := parseNumericId(b)
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*id = MessageId(n)
	return nil
}

func (id MessageId) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// RoomId identifies a room. It is rendered as decimal text when sent on the
// real-time channel.
type RoomId int64

func (id *RoomId) UnmarshalJSON(b []byte) error {
	n, err := parseNumericId(b)
	if err != nil {
		return fmt.Errorf("room id: %w", err)
	}
	*id = RoomId(n)
	return nil
}

func (id RoomId) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseRoomId parses the decimal text form of a room id.
func ParseRoomId(s string) (RoomId, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid room id %q: %w", s, err)
	}
	return RoomId(n), nil
}

func parseNumericId(b []byte) (int64, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return 0, nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		b = []byte(s)
	}

	if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
		return n, nil
	}

	// Some encoders emit integral ids as floats ("3.0", 3e0).
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %s", b)
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("not an integer: %s", b)
	}
	return int64(f), nil
}

// Origin tells server-confirmed messages apart from ones synthesized locally.
type Origin int

const (
	OriginServer Origin = iota
	OriginLocal
)

func (o Origin) String() string {
	switch o {
	case OriginServer:
		return "server"
	case OriginLocal:
		return "local"
	default:
		return "unknown"
	}
}

// UserId is the reacting user's identifier. Servers send it either as a
// number or as a string; both decode to the same text.
type UserId string

func (u *UserId) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("user id: %w", err)
		}
		*u = UserId(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*u = UserId(n.String())
	return nil
}

type Reaction struct {
	UserId UserId `json:"userId"`
	Emoji  string `json:"emoji"`
}

type Message struct {
	Id          MessageId  `json:"id"`
	RoomId      RoomId     `json:"room_id"`
	Username    string     `json:"username"`
	Content     string     `json:"content"`
	IsAiMessage bool       `json:"isAiMessage,omitempty"`
	Reactions   []Reaction `json:"reactions"`

	// Origin and LocalId are client-side only.
	Origin  Origin `json:"-"`
	LocalId string `json:"-"`
}

// Key identifies a message within a rendered list regardless of origin.
func (m Message) Key() string {
	if m.Origin == OriginLocal {
		return "local:" + m.LocalId
	}
	return "server:" + m.Id.String()
}

// Clone returns a copy that shares no backing storage with m.
func (m Message) Clone() Message {
	if m.Reactions != nil {
		r := make([]Reaction, len(m.Reactions))
		copy(r, m.Reactions)
		m.Reactions = r
	}
	return m
}

type User struct {
	Username string `json:"username"`
}
