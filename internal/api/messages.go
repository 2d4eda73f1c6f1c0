package api

import (
	"context"
	"net/http"

	"github.com/npezzotti/go-chatroom-client/internal/types"
)

type sendMessageRequest struct {
	Content string       `json:"content"`
	RoomId  types.RoomId `json:"roomId"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

type aiChatRequest struct {
	Message string `json:"message"`
}

type aiChatResponse struct {
	Reply string `json:"reply"`
}

// Messages fetches the history of a room, oldest first.
func (c *Client) Messages(ctx context.Context, roomId types.RoomId) ([]types.Message, error) {
	var msgs []types.Message
	if err := c.do(ctx, http.MethodGet, nil, &msgs, "rooms", roomId.String(), "messages"); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	return msgs, nil
}

// SendMessage posts a message. The returned message is informational; the
// visible list is updated from the real-time channel.
func (c *Client) SendMessage(ctx context.Context, content string, roomId types.RoomId) (types.Message, error) {
	var msg types.Message
	err := c.do(ctx, http.MethodPost, sendMessageRequest{Content: content, RoomId: roomId}, &msg, "messages")
	return msg, err
}

func (c *Client) EditMessage(ctx context.Context, id types.MessageId, content string) error {
	return c.do(ctx, http.MethodPut, editMessageRequest{Content: content}, nil, "messages", id.String())
}

func (c *Client) DeleteMessage(ctx context.Context, id types.MessageId) error {
	return c.do(ctx, http.MethodDelete, nil, nil, "messages", id.String())
}

func (c *Client) AddReaction(ctx context.Context, id types.MessageId, emoji string) error {
	return c.do(ctx, http.MethodPost, reactionRequest{Emoji: emoji}, nil, "messages", id.String(), "reactions")
}

// AskAI sends message to the AI endpoint and returns its reply text.
func (c *Client) AskAI(ctx context.Context, message string) (string, error) {
	var resp aiChatResponse
	if err := c.do(ctx, http.MethodPost, aiChatRequest{Message: message}, &resp, "api", "chat"); err != nil {
		return "", err
	}
	return resp.Reply, nil
}
