package ui

import (
	"fmt"
	"strings"

	"github.com/npezzotti/go-chatroom-client/internal/chat"
	"github.com/npezzotti/go-chatroom-client/internal/types"
)

func (m Model) headerView() string {
	title := titleStyle.Render(fmt.Sprintf("gochat · room %s", m.view.RoomId))
	status := mutedStyle.Render(fmt.Sprintf("%s · %s", m.view.CurrentUser, m.view.Connection))
	return title + " " + status
}

func (m Model) footerView() string {
	var lines []string
	if m.view.Error != "" {
		lines = append(lines, errorStyle.Render(m.view.Error))
	}
	lines = append(lines, m.input.View())

	var help string
	switch {
	case m.focus == focusList:
		help = "↑/↓ select · e edit · d delete · 1-6 react · esc back"
	case m.view.IsEditing:
		help = "editing · enter save · esc cancel"
	default:
		help = "enter send · ctrl+a ask AI · ↑ select · ctrl+c quit"
	}
	lines = append(lines, mutedStyle.Render(help))
	return footerStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) placeholderView() string {
	body := PlaceholderText
	if m.view.Error != "" {
		body += "\n\n" + errorStyle.Render(m.view.Error)
	}
	body += "\n\n" + mutedStyle.Render("Run `gochat login`, then start the chat again.")
	return placeholderStyle.Render(body)
}

func (m Model) renderMessages() string {
	if !m.view.Loaded {
		return mutedStyle.Render("Loading messages...")
	}
	if len(m.view.Messages) == 0 {
		return mutedStyle.Render("No messages yet.")
	}

	var b strings.Builder
	for i, msg := range m.view.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(i, msg))
	}
	return b.String()
}

func (m Model) renderMessage(i int, msg types.Message) string {
	own := chat.Owns(msg, m.view.CurrentUser)

	var name string
	switch {
	case msg.IsAiMessage:
		name = aiNameStyle.Render(msg.Username)
	case own:
		name = ownNameStyle.Render(msg.Username)
	default:
		name = otherNameStyle.Render(msg.Username)
	}

	content := msg.Content
	if msg.IsAiMessage && m.md != nil {
		if out, err := m.md.Render(msg.Content); err == nil {
			content = strings.TrimSpace(out)
		}
	}
	if m.view.IsEditing && msg.Origin == types.OriginServer && msg.Id == m.view.Editing {
		content += " " + mutedStyle.Render("(editing)")
	}

	lines := []string{name + ": " + content}
	if r := reactionSummary(msg.Reactions); r != "" {
		lines = append(lines, mutedStyle.Render(r))
	}

	selected := m.focus == focusList && i == m.selected
	if selected {
		actions := make([]string, 0, 3)
		if own {
			actions = append(actions, "[e]dit", "[d]elete")
		}
		if msg.Origin == types.OriginServer {
			picker := make([]string, len(chat.ReactionEmojis))
			for j, e := range chat.ReactionEmojis {
				picker[j] = fmt.Sprintf("%d %s", j+1, e)
			}
			actions = append(actions, strings.Join(picker, " "))
		}
		if len(actions) > 0 {
			lines = append(lines, mutedStyle.Render(strings.Join(actions, " · ")))
		}
		return selectedStyle.Render(strings.Join(lines, "\n"))
	}
	return unselectedStyle.Render(strings.Join(lines, "\n"))
}

// reactionSummary counts reactions per emoji in first-seen order.
func reactionSummary(reactions []types.Reaction) string {
	if len(reactions) == 0 {
		return ""
	}
	counts := make(map[string]int)
	var order []string
	for _, r := range reactions {
		if counts[r.Emoji] == 0 {
			order = append(order, r.Emoji)
		}
		counts[r.Emoji]++
	}

	parts := make([]string, len(order))
	for i, e := range order {
		parts[i] = fmt.Sprintf("%s %d", e, counts[e])
	}
	return strings.Join(parts, "  ")
}
