// Package chat keeps the message list of the active room in sync with the
// server. REST calls mutate the server; the list changes only when the
// real-time channel reports the mutation, except for AI replies which are
// appended locally.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatroom-client/internal/api"
	"github.com/npezzotti/go-chatroom-client/internal/realtime"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	MetricEventsDiscarded = "events_discarded"
	MetricEventsApplied   = "events_applied"

	AIUsername = "AI Assistant"
)

// User-visible error strings. Only the latest one is shown.
const (
	ErrTextAuth    = "Failed to authenticate. Please log in again."
	ErrTextFetch   = "Failed to fetch messages. Please try again."
	ErrTextSend    = "Failed to send message. Please try again."
	ErrTextEdit    = "Failed to edit message. Please try again."
	ErrTextDelete  = "Failed to delete message. Please try again."
	ErrTextReact   = "Failed to add reaction. Please try again."
	ErrTextAI      = "Failed to get AI response. Please try again."
	ErrTextChannel = "Failed to join room. Live updates are unavailable."
)

// ReactionEmojis is the fixed reaction picker, in display order.
var ReactionEmojis = [...]string{"👍", "❤️", "😂", "😮", "😢", "😠"}

var ErrUnauthenticated = errors.New("not authenticated")

type API interface {
	Messages(ctx context.Context, roomId types.RoomId) ([]types.Message, error)
	CurrentUser(ctx context.Context) (string, error)
	SendMessage(ctx context.Context, content string, roomId types.RoomId) (types.Message, error)
	EditMessage(ctx context.Context, id types.MessageId, content string) error
	DeleteMessage(ctx context.Context, id types.MessageId) error
	AddReaction(ctx context.Context, id types.MessageId, emoji string) error
	AskAI(ctx context.Context, message string) (string, error)
}

type Channel interface {
	Join(room types.RoomId) error
	Leave(room types.RoomId) error
	Events() <-chan realtime.Event
	State() realtime.State
	Close() error
}

type Session interface {
	Credential() (string, bool)
	SetUsername(username string) error
	Clear() error
}

// View is an immutable snapshot of the room for rendering.
type View struct {
	RoomId        types.RoomId
	Messages      []types.Message
	CurrentUser   string
	Authenticated bool
	Loaded        bool
	Error         string
	Input         string
	Editing       types.MessageId
	IsEditing     bool
	Connection    realtime.State
}

// Owns reports whether viewer may edit or delete m.
func Owns(m types.Message, viewer string) bool {
	return m.Origin == types.OriginServer && viewer != "" && m.Username == viewer
}

type Room struct {
	api   API
	ch    Channel
	sess  Session
	log   zerolog.Logger
	stats stats.StatsProvider

	now     func() time.Time
	localId func() string
	changed chan struct{}

	mu            sync.Mutex
	active        types.RoomId
	gen           uint64
	loaded        bool
	pending       []realtime.Event
	messages      []types.Message
	currentUser   string
	authenticated bool
	revoked       bool
	lastErr       string
	input         string
	editing       types.MessageId
	isEditing     bool
}

func NewRoom(room types.RoomId, a API, ch Channel, sess Session, logger zerolog.Logger, st stats.StatsProvider) *Room {
	st.RegisterMetric(MetricEventsDiscarded)
	st.RegisterMetric(MetricEventsApplied)

	return &Room{
		api:      a,
		ch:       ch,
		sess:     sess,
		log:      logger.With().Str("component", "room").Logger(),
		stats:    st,
		now:      time.Now,
		localId:  uuid.NewString,
		changed:  make(chan struct{}, 1),
		active:   room,
		messages: []types.Message{},
	}
}

// Changed is signalled after every state change. Signals coalesce.
func (r *Room) Changed() <-chan struct{} {
	return r.changed
}

func (r *Room) notify() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Mount joins the active room and loads the current user and the room
// history concurrently. Events arriving before the history are buffered and
// replayed on top of it.
func (r *Room) Mount(ctx context.Context) error {
	if _, ok := r.sess.Credential(); !ok {
		r.mu.Lock()
		r.authenticated = false
		r.mu.Unlock()
		r.notify()
		return ErrUnauthenticated
	}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	room := r.active
	r.loaded = false
	r.pending = nil
	r.lastErr = ""
	r.revoked = false
	r.mu.Unlock()

	r.join(room)

	var g errgroup.Group
	g.Go(func() error { return r.fetchCurrentUser(ctx) })
	g.Go(func() error { return r.fetchHistory(ctx, room, gen) })
	return g.Wait()
}

// Unmount leaves the active room.
func (r *Room) Unmount() {
	r.mu.Lock()
	room := r.active
	r.mu.Unlock()

	r.leave(room)
}

func (r *Room) join(room types.RoomId) {
	if r.ch == nil {
		return
	}
	if err := r.ch.Join(room); err != nil {
		r.log.Warn().Err(err).Stringer("room", room).Msg("join room")
		r.setError(ErrTextChannel)
		return
	}
	r.log.Info().Stringer("room", room).Msg("emitted join")
}

func (r *Room) leave(room types.RoomId) {
	if r.ch == nil {
		return
	}
	if err := r.ch.Leave(room); err != nil {
		r.log.Warn().Err(err).Stringer("room", room).Msg("leave room")
		return
	}
	r.log.Info().Stringer("room", room).Msg("emitted leave")
}

func (r *Room) fetchCurrentUser(ctx context.Context) error {
	username, err := r.api.CurrentUser(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("fetch current user")
		r.mu.Lock()
		r.authenticated = false
		r.lastErr = ErrTextAuth
		r.mu.Unlock()
		if api.IsUnauthorized(err) {
			r.revoke()
		}
		r.notify()
		return err
	}

	r.mu.Lock()
	r.currentUser = username
	r.authenticated = true
	r.mu.Unlock()

	if err := r.sess.SetUsername(username); err != nil {
		r.log.Warn().Err(err).Msg("store username")
	}
	r.notify()
	return nil
}

func (r *Room) fetchHistory(ctx context.Context, room types.RoomId, gen uint64) error {
	history, fetchErr := r.api.Messages(ctx, room)
	if fetchErr != nil {
		r.log.Error().Err(fetchErr).Stringer("room", room).Msg("fetch messages")
		history = nil
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		r.log.Debug().Stringer("room", room).Msg("discarding stale history")
		return nil
	}

	r.messages = Replace(history)
	replayed := 0
	for _, ev := range r.pending {
		if ev.RoomId != r.active {
			continue
		}
		r.messages = Apply(r.messages, ev)
		replayed++
	}
	r.pending = nil
	r.loaded = true
	if fetchErr != nil {
		r.lastErr = ErrTextFetch
	}
	r.mu.Unlock()

	if replayed > 0 {
		r.log.Debug().Int("events", replayed).Msg("replayed buffered events")
	}
	if fetchErr != nil && api.IsUnauthorized(fetchErr) {
		r.revoke()
	}
	r.notify()
	return fetchErr
}

// Run consumes channel events until the channel closes or ctx is done.
func (r *Room) Run(ctx context.Context) {
	if r.ch == nil {
		return
	}
	events := r.ch.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				r.log.Info().Msg("event channel closed")
				r.notify()
				return
			}
			r.HandleEvent(ev)
		}
	}
}

// HandleEvent applies one real-time event. Events for other rooms are
// dropped; events that arrive before the history are buffered.
func (r *Room) HandleEvent(ev realtime.Event) {
	if ev.Name == realtime.EventJoinedRoom {
		r.log.Info().Stringer("room", ev.RoomId).Msg("successfully joined room")
		return
	}

	r.mu.Lock()
	if r.revoked {
		r.mu.Unlock()
		r.log.Debug().Str("event", ev.Name).Msg("session revoked, discarding")
		return
	}
	if ev.RoomId != r.active {
		r.mu.Unlock()
		r.stats.Incr(MetricEventsDiscarded)
		r.log.Debug().Str("event", ev.Name).Stringer("room", ev.RoomId).Msg("room id mismatch, discarding")
		return
	}
	if !r.loaded {
		r.pending = append(r.pending, ev)
		r.mu.Unlock()
		return
	}
	r.messages = Apply(r.messages, ev)
	r.mu.Unlock()

	r.stats.Incr(MetricEventsApplied)
	r.notify()
}

// SwitchRoom leaves the active room before joining the new one, then
// replaces the list with the new room's history.
func (r *Room) SwitchRoom(ctx context.Context, room types.RoomId) error {
	r.mu.Lock()
	if room == r.active {
		r.mu.Unlock()
		return nil
	}
	old := r.active
	r.active = room
	r.gen++
	gen := r.gen
	r.messages = []types.Message{}
	r.pending = nil
	r.loaded = false
	r.isEditing = false
	r.editing = 0
	r.lastErr = ""
	r.mu.Unlock()
	r.notify()

	r.leave(old)
	r.join(room)

	return r.fetchHistory(ctx, room, gen)
}

func (r *Room) setError(msg string) {
	r.mu.Lock()
	r.lastErr = msg
	r.mu.Unlock()
	r.notify()
}

// fail records a mutation failure. The input is left untouched so the user
// can resubmit.
func (r *Room) fail(err error, text string) error {
	r.log.Error().Err(err).Msg(strings.ToLower(text))
	r.setError(text)
	if api.IsUnauthorized(err) {
		r.revoke()
	}
	return err
}

// revoke drops the session after the server rejected it and tears down the
// channel opened with it. Later events are ignored.
func (r *Room) revoke() {
	if err := r.sess.Clear(); err != nil {
		r.log.Warn().Err(err).Msg("clear session")
	}
	r.mu.Lock()
	r.authenticated = false
	r.revoked = true
	r.pending = nil
	r.mu.Unlock()

	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.Warn().Err(err).Msg("close channel")
		}
	}
	r.notify()
}

// clearInput empties the input unless it changed while sent was in flight.
func (r *Room) clearInput(sent string) {
	r.mu.Lock()
	if r.input == sent {
		r.input = ""
	}
	r.mu.Unlock()
}

func (r *Room) ready() (types.RoomId, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.authenticated {
		return 0, "", ErrUnauthenticated
	}
	return r.active, r.input, nil
}

func (r *Room) SetInput(s string) {
	r.mu.Lock()
	r.input = s
	r.mu.Unlock()
}

// Commit saves the edit in progress, or sends the input as a new message.
func (r *Room) Commit(ctx context.Context) error {
	r.mu.Lock()
	editing := r.isEditing
	r.mu.Unlock()

	if editing {
		return r.SaveEdit(ctx)
	}
	return r.Send(ctx)
}

func (r *Room) Send(ctx context.Context) error {
	room, content, err := r.ready()
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	if _, err := r.api.SendMessage(ctx, content, room); err != nil {
		return r.fail(err, ErrTextSend)
	}

	r.clearInput(content)
	r.notify()
	return nil
}

// StartEdit seeds the input with the message's content. Only the viewer's
// own messages can be edited, one at a time.
func (r *Room) StartEdit(id types.MessageId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.messages {
		if matches(m, id) {
			if !Owns(m, r.currentUser) {
				return false
			}
			r.editing = id
			r.isEditing = true
			r.input = m.Content
			return true
		}
	}
	return false
}

func (r *Room) CancelEdit() {
	r.mu.Lock()
	r.isEditing = false
	r.editing = 0
	r.input = ""
	r.mu.Unlock()
}

func (r *Room) SaveEdit(ctx context.Context) error {
	_, content, err := r.ready()
	if err != nil {
		return err
	}

	r.mu.Lock()
	id, editing := r.editing, r.isEditing
	r.mu.Unlock()
	if !editing || strings.TrimSpace(content) == "" {
		return nil
	}

	if err := r.api.EditMessage(ctx, id, content); err != nil {
		return r.fail(err, ErrTextEdit)
	}

	r.mu.Lock()
	if r.isEditing && r.editing == id {
		r.isEditing = false
		r.editing = 0
		r.input = ""
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

func (r *Room) Delete(ctx context.Context, id types.MessageId) error {
	if _, _, err := r.ready(); err != nil {
		return err
	}
	if err := r.api.DeleteMessage(ctx, id); err != nil {
		return r.fail(err, ErrTextDelete)
	}
	return nil
}

func (r *Room) React(ctx context.Context, id types.MessageId, emoji string) error {
	if _, _, err := r.ready(); err != nil {
		return err
	}
	if err := r.api.AddReaction(ctx, id, emoji); err != nil {
		return r.fail(err, ErrTextReact)
	}
	return nil
}

// AskAI sends the input to the AI endpoint and appends the reply locally.
// The reply never goes through the server's message list.
func (r *Room) AskAI(ctx context.Context) error {
	_, content, err := r.ready()
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	reply, err := r.api.AskAI(ctx, content)
	if err != nil {
		return r.fail(err, ErrTextAI)
	}

	r.mu.Lock()
	if gen == r.gen {
		r.messages = AppendLocal(r.messages, types.Message{
			Id:          types.MessageId(r.now().UnixMilli()),
			RoomId:      r.active,
			Username:    AIUsername,
			Content:     reply,
			IsAiMessage: true,
			Reactions:   []types.Reaction{},
			LocalId:     r.localId(),
		})
	} else {
		r.log.Debug().Msg("room changed, dropping AI reply")
	}
	if r.input == content {
		r.input = ""
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

// Snapshot returns a copy of the current state.
func (r *Room) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := make([]types.Message, len(r.messages))
	for i, m := range r.messages {
		msgs[i] = m.Clone()
	}

	v := View{
		RoomId:        r.active,
		Messages:      msgs,
		CurrentUser:   r.currentUser,
		Authenticated: r.authenticated,
		Loaded:        r.loaded,
		Error:         r.lastErr,
		Input:         r.input,
		Editing:       r.editing,
		IsEditing:     r.isEditing,
		Connection:    realtime.Disconnected,
	}
	if r.ch != nil {
		v.Connection = r.ch.State()
	}
	return v
}
