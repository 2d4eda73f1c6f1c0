// Package ui renders a chat room in the terminal with Bubble Tea.
package ui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/npezzotti/go-chatroom-client/internal/chat"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/rs/zerolog"
)

const (
	headerHeight = 1
	footerHeight = 3

	// PlaceholderText is shown instead of the chat when there is no session.
	PlaceholderText = "Please log in to access the chat."
)

// Controller is the part of chat.Room the model drives.
type Controller interface {
	Snapshot() chat.View
	Changed() <-chan struct{}
	SetInput(s string)
	Commit(ctx context.Context) error
	StartEdit(id types.MessageId) bool
	CancelEdit()
	Delete(ctx context.Context, id types.MessageId) error
	React(ctx context.Context, id types.MessageId, emoji string) error
	AskAI(ctx context.Context) error
	SwitchRoom(ctx context.Context, room types.RoomId) error
}

type focus int

const (
	focusInput focus = iota
	focusList
)

type changedMsg struct{}

type opKind int

const (
	opCommit opKind = iota
	opAskAI
	opDelete
	opReact
	opSwitch
)

const switchCommand = "/room "

type opDoneMsg struct {
	kind opKind
	err  error
}

type Options struct {
	// GlamourStyle names a standard glamour style; empty means detect from
	// the terminal.
	GlamourStyle string
}

type Model struct {
	ctx   context.Context
	room  Controller
	log   zerolog.Logger
	opts  Options
	input textinput.Model
	vp    viewport.Model
	md    *glamour.TermRenderer

	view     chat.View
	focus    focus
	selected int
	busy     bool
	width    int
	height   int
	ready    bool
}

func NewModel(ctx context.Context, room Controller, logger zerolog.Logger, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message (enter to send, ctrl+a to ask AI)"
	ti.Prompt = "> "
	ti.CharLimit = 4096
	ti.Focus()

	return Model{
		ctx:      ctx,
		room:     room,
		log:      logger.With().Str("component", "ui").Logger(),
		opts:     opts,
		input:    ti,
		vp:       viewport.New(80, 20),
		view:     room.Snapshot(),
		selected: -1,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChange())
}

// waitForChange blocks until the room reports a change.
func (m Model) waitForChange() tea.Cmd {
	changed := m.room.Changed()
	return func() tea.Msg {
		select {
		case <-changed:
			return changedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) run(kind opKind, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{kind: kind, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case changedMsg:
		m.refresh()
		return m, m.waitForChange()

	case opDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.log.Debug().Err(msg.err).Int("op", int(msg.kind)).Msg("operation failed")
		} else if msg.kind == opCommit || msg.kind == opAskAI {
			m.input.SetValue(m.room.Snapshot().Input)
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if !m.view.Authenticated {
			return m, nil
		}
		if m.focus == focusList {
			return m.updateList(msg)
		}
		return m.updateInput(msg)
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		if m.busy {
			return m, nil
		}
		if arg, ok := strings.CutPrefix(m.input.Value(), switchCommand); ok {
			room, err := types.ParseRoomId(strings.TrimSpace(arg))
			if err != nil || room <= 0 {
				return m, nil
			}
			m.busy = true
			m.input.SetValue("")
			m.room.SetInput("")
			return m, m.run(opSwitch, func(ctx context.Context) error { return m.room.SwitchRoom(ctx, room) })
		}
		m.busy = true
		return m, m.run(opCommit, m.room.Commit)
	case tea.KeyCtrlA:
		if m.busy {
			return m, nil
		}
		m.busy = true
		return m, m.run(opAskAI, m.room.AskAI)
	case tea.KeyEsc:
		if m.view.IsEditing {
			m.room.CancelEdit()
			m.input.SetValue("")
			m.refresh()
		}
		return m, nil
	case tea.KeyUp, tea.KeyDown:
		if len(m.view.Messages) == 0 {
			return m, nil
		}
		m.focus = focusList
		m.input.Blur()
		if m.selected < 0 {
			m.selected = len(m.view.Messages) - 1
		}
		m.render()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.room.SetInput(m.input.Value())
	return m, cmd
}

func (m Model) updateList(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k := key.String(); k {
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.view.Messages)-1 {
			m.selected++
		}
	case "esc", "tab", "i":
		m.toInput()
	case "e":
		msg, ok := m.selectedMessage()
		if ok && chat.Owns(msg, m.view.CurrentUser) && m.room.StartEdit(msg.Id) {
			m.input.SetValue(m.room.Snapshot().Input)
			m.input.CursorEnd()
			m.toInput()
			m.refresh()
			return m, nil
		}
	case "d":
		if msg, ok := m.selectedMessage(); ok && chat.Owns(msg, m.view.CurrentUser) {
			id := msg.Id
			return m, m.run(opDelete, func(ctx context.Context) error { return m.room.Delete(ctx, id) })
		}
	case "1", "2", "3", "4", "5", "6":
		msg, ok := m.selectedMessage()
		if !ok || msg.Origin != types.OriginServer {
			break
		}
		id, emoji := msg.Id, chat.ReactionEmojis[k[0]-'1']
		return m, m.run(opReact, func(ctx context.Context) error { return m.room.React(ctx, id, emoji) })
	}
	m.render()
	return m, nil
}

func (m *Model) toInput() {
	m.focus = focusInput
	m.selected = -1
	m.input.Focus()
	m.render()
}

func (m Model) selectedMessage() (types.Message, bool) {
	if m.selected < 0 || m.selected >= len(m.view.Messages) {
		return types.Message{}, false
	}
	return m.view.Messages[m.selected], true
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	vpHeight := height - headerHeight - footerHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.ready {
		m.vp = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.vp.Width = width
		m.vp.Height = vpHeight
	}
	m.input.Width = width - len(m.input.Prompt) - 1

	wrap := width - 4
	if wrap < 20 {
		wrap = 20
	}
	md, err := newRenderer(m.opts.GlamourStyle, wrap)
	if err != nil {
		m.log.Warn().Err(err).Msg("markdown renderer")
		md = nil
	}
	m.md = md
}

func newRenderer(style string, wrap int) (*glamour.TermRenderer, error) {
	if style == "" {
		return glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(wrap))
	}
	return glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(wrap))
}

// refresh pulls a new snapshot from the room and re-renders.
func (m *Model) refresh() {
	m.view = m.room.Snapshot()
	if m.selected >= len(m.view.Messages) {
		m.selected = len(m.view.Messages) - 1
	}
	if m.focus == focusList && m.selected < 0 {
		m.toInput()
		return
	}
	m.render()
}

func (m *Model) render() {
	atBottom := m.vp.AtBottom()
	m.vp.SetContent(m.renderMessages())
	if m.focus == focusInput && atBottom {
		m.vp.GotoBottom()
	}
}

func (m Model) View() string {
	if !m.view.Authenticated {
		return m.placeholderView()
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	b.WriteString(m.footerView())
	return b.String()
}
