package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/x/ansi"

	"github.com/papercomputeco/streamchat/pkg/llm"
)

const (
	glamourDark  = "dark"
	glamourLight = "light"
	glamourPlain = "notty"
)

// markdown renders committed assistant replies. A nil renderer, or one that
// fails, falls back to the raw text.
type markdown struct {
	renderer *glamour.TermRenderer
}

func newMarkdown(style string, width int) markdown {
	if width <= 0 {
		return markdown{}
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return markdown{}
	}
	return markdown{renderer: r}
}

func (m markdown) render(s string) string {
	if m.renderer == nil {
		return s
	}
	out, err := m.renderer.Render(s)
	if err != nil {
		return s
	}
	return strings.Trim(out, "\n")
}

// renderLog draws the committed conversation. Only finished replies go
// through markdown; text still streaming is shown as it arrives.
func renderLog(st Styles, md markdown, msgs []llm.ChatMessage) string {
	var b strings.Builder
	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleUser:
			b.WriteString(st.User.Render("you"))
			b.WriteString("\n")
			b.WriteString(msg.Content)
		case llm.RoleAssistant:
			b.WriteString(st.Assistant.Render("assistant"))
			b.WriteString("\n")
			b.WriteString(md.render(msg.Content))
		default:
			b.WriteString(st.System.Render(msg.Content))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// fit truncates a single line to width cells, keeping ANSI styling intact.
func fit(line string, width int) string {
	if width <= 0 || ansi.StringWidth(line) <= width {
		return line
	}
	return ansi.Truncate(line, width, "…")
}
