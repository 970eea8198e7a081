package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"firstprinciple-chat/internal/history"
	"firstprinciple-chat/internal/models"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A78BFA")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#22D3EE")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

type renderer struct {
	markdown *glamour.TermRenderer
}

func newRenderer() *renderer {
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		// plain text
		md = nil
	}
	return &renderer{markdown: md}
}

func (r *renderer) markdownText(content string) string {
	if r.markdown == nil {
		return content
	}
	out, err := r.markdown.Render(content)
	if err != nil {
		return content
	}
	return out
}

func (r *renderer) message(msg models.Message) string {
	if msg.Role == models.RoleUser {
		return userStyle.Render("you> ") + msg.Content
	}
	return r.markdownText(msg.Content)
}

func (r *renderer) transcript(msgs []models.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(r.message(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func banner() string {
	return bannerStyle.Render("First Principles Chat") + "\n" +
		infoStyle.Render("Ask anything. /help lists commands, Ctrl-C cancels a request, Ctrl-D quits.")
}

func helpText() string {
	lines := []string{
		"/retry                 resend the last question",
		"/again <mode>          re-explain the last answer (retry, different-angle, simplify, detail)",
		"/clear                 forget the conversation",
		"/history               show the conversation",
		"/stats                 storage and rate-limit usage",
		"/quit                  leave",
	}
	return infoStyle.Render(strings.Join(lines, "\n"))
}

func statsText(stats history.Stats, remaining int) string {
	return infoStyle.Render(fmt.Sprintf(
		"messages %d/%d, storage %d/%d bytes (%d%%), requests left this window %d",
		stats.MessageCount, stats.MaxMessages,
		stats.Usage, stats.MaxSize, stats.UsagePercentage,
		remaining,
	))
}
