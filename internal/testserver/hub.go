package testserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatroom-client/internal/realtime"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn     *websocket.Conn
	username string
	send     chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

type hub struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]map[types.RoomId]struct{}
	joinLog []string
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		log:     logger,
		clients: make(map[*wsClient]map[types.RoomId]struct{}),
	}
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("upgrade")
		return
	}

	c := &wsClient{
		conn:     conn,
		username: u.username,
		send:     make(chan []byte, 256),
		stop:     make(chan struct{}),
	}
	s.hub.register(c)

	go s.hub.write(c)
	go s.hub.read(c)
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = make(map[types.RoomId]struct{})
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *hub) write(c *wsClient) {
	defer c.conn.Close()

	for {
		select {
		case b := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
			return
		}
	}
}

func (h *hub) read(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.stopOnce.Do(func() { close(c.stop) })
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var f realtime.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			h.log.Warn().Err(err).Msg("error parsing frame")
			continue
		}

		var room types.RoomId
		if err := json.Unmarshal(f.Data, &room); err != nil {
			h.log.Warn().Err(err).Str("event", f.Event).Msg("invalid room id")
			continue
		}

		switch f.Event {
		case realtime.EventJoinRoom:
			h.join(c, room)
			h.queue(c, realtime.EventJoinedRoom, room.String())
		case realtime.EventLeaveRoom:
			h.leave(c, room)
		default:
			h.log.Warn().Str("event", f.Event).Msg("unexpected event")
		}
	}
}

func (h *hub) join(c *wsClient, room types.RoomId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rooms, ok := h.clients[c]; ok {
		rooms[room] = struct{}{}
	}
	h.joinLog = append(h.joinLog, realtime.EventJoinRoom+":"+room.String())
	h.log.Debug().Str("user", c.username).Stringer("room", room).Msg("joined")
}

func (h *hub) leave(c *wsClient, room types.RoomId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rooms, ok := h.clients[c]; ok {
		delete(rooms, room)
	}
	h.joinLog = append(h.joinLog, realtime.EventLeaveRoom+":"+room.String())
	h.log.Debug().Str("user", c.username).Stringer("room", room).Msg("left")
}

func (h *hub) queue(c *wsClient, event string, data any) {
	f, err := realtime.NewFrame(event, data)
	if err != nil {
		h.log.Error().Err(err).Msg("encode frame")
		return
	}
	b, err := json.Marshal(f)
	if err != nil {
		h.log.Error().Err(err).Msg("encode frame")
		return
	}

	select {
	case c.send <- b:
	default:
		h.log.Warn().Str("user", c.username).Msg("send channel full, dropping frame")
	}
}

// broadcast sends to clients joined to room, or to everyone when room is nil.
func (h *hub) broadcast(room *types.RoomId, event string, data any) {
	h.mu.Lock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c, rooms := range h.clients {
		if room != nil {
			if _, ok := rooms[*room]; !ok {
				continue
			}
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.queue(c, event, data)
	}
}

func (h *hub) members(room types.RoomId) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, rooms := range h.clients {
		if _, ok := rooms[room]; ok {
			n++
		}
	}
	return n
}

func (h *hub) connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) channelLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.joinLog))
	copy(out, h.joinLog)
	return out
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.stopOnce.Do(func() { close(c.stop) })
	}
}
