// Package realtime is the persistent, bearer-authenticated event channel
// between the client and the chat backend.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	MetricEventsReceived = "events_received"
)

var (
	ErrNoCredential  = errors.New("no credential")
	ErrNotConnected  = errors.New("channel not connected")
	ErrAlreadyUsed   = errors.New("channel already connected once")
	ErrSendQueueFull = errors.New("send queue full")
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// CredentialSource supplies the bearer token presented at connect time.
type CredentialSource interface {
	Credential() (string, bool)
}

// Channel is a single-use connection: once it disconnects, its Events
// channel is closed and a new Channel must be created.
type Channel struct {
	url    string
	creds  CredentialSource
	dialer *websocket.Dialer
	log    zerolog.Logger
	stats  stats.StatsProvider

	state    atomic.Int32
	used     atomic.Bool
	conn     *websocket.Conn
	send     chan []byte
	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewChannel(wsURL string, creds CredentialSource, logger zerolog.Logger, st stats.StatsProvider) *Channel {
	st.RegisterMetric(MetricEventsReceived)
	return &Channel{
		url:    wsURL,
		creds:  creds,
		dialer: websocket.DefaultDialer,
		log:    logger,
		stats:  st,
		send:   make(chan []byte, 256),
		events: make(chan Event, 256),
		stop:   make(chan struct{}),
	}
}

func (c *Channel) State() State {
	return State(c.state.Load())
}

// Events delivers decoded inbound events. It is closed when the connection
// ends.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Connect dials the server, presenting the bearer credential.
func (c *Channel) Connect(ctx context.Context) error {
	if !c.used.CompareAndSwap(false, true) {
		return ErrAlreadyUsed
	}

	token, ok := c.creds.Credential()
	if !ok {
		close(c.events)
		return ErrNoCredential
	}

	c.setState(Connecting)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.setState(Disconnected)
		close(c.events)
		if resp != nil {
			c.log.Error().Err(err).Int("status", resp.StatusCode).Msg("connect error")
			return fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		c.log.Error().Err(err).Msg("connect error")
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.conn = conn
	c.setState(Connected)
	c.log.Info().Str("url", c.url).Msg("channel connected")

	c.wg.Add(2)
	go c.writePump()
	go c.readPump()
	return nil
}

func (c *Channel) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.log.Debug().Stringer("from", prev).Stringer("to", s).Msg("channel state")
	}
}

// Join asks the server to deliver events for room.
func (c *Channel) Join(room types.RoomId) error {
	return c.emit(EventJoinRoom, room.String())
}

// Leave stops delivery for room. Frames are sent in call order, so a Leave
// followed by a Join reaches the server in that order.
func (c *Channel) Leave(room types.RoomId) error {
	return c.emit(EventLeaveRoom, room.String())
}

func (c *Channel) emit(event string, data any) error {
	if c.State() != Connected {
		return ErrNotConnected
	}

	f, err := NewFrame(event, data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	if !c.queueMessage(b) {
		return ErrSendQueueFull
	}
	c.log.Debug().Str("event", event).Interface("data", data).Msg("emitted")
	return nil
}

func (c *Channel) queueMessage(b []byte) bool {
	select {
	case c.send <- b:
	default:
		c.log.Warn().Msg("failed to queue frame, send channel is full")
		return false
	}

	return true
}

// Close disconnects and waits for the pumps to exit.
func (c *Channel) Close() error {
	c.stopClient()
	c.wg.Wait()
	return nil
}

func (c *Channel) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.wg.Done()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case b := <-c.send:
			if !c.sendMessage(websocket.TextMessage, b) {
				return
			}
		case <-c.stop:
			if !c.flush() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Channel) readPump() {
	defer func() {
		c.conn.Close()
		c.stopClient()
		c.setState(Disconnected)
		close(c.events)
		c.wg.Done()
		c.log.Info().Msg("channel disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Warn().Err(err).Msg("error parsing frame")
			continue
		}

		ev, err := DecodeEvent(&f)
		if err != nil {
			var unknown *ErrUnknownEvent
			if errors.As(err, &unknown) {
				c.log.Debug().Str("event", unknown.Name).Msg("ignoring event")
			} else {
				c.log.Warn().Err(err).Msg("error decoding event")
			}
			continue
		}
		c.stats.Incr(MetricEventsReceived)

		if ev.Name == EventJoinedRoom {
			c.log.Info().Stringer("room", ev.RoomId).Msg("joined room")
		}

		select {
		case c.events <- ev:
		case <-c.stop:
			return
		}
	}
}

// flush writes the frames still queued at close time, so a Leave issued
// right before Close reaches the server ahead of the close frame.
func (c *Channel) flush() bool {
	for {
		select {
		case b := <-c.send:
			if !c.sendMessage(websocket.TextMessage, b) {
				return false
			}
		default:
			return true
		}
	}
}

func (c *Channel) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}
