package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"

	"firstprinciple-chat/internal/chat"
	"firstprinciple-chat/internal/models"
)

type command struct {
	name string
	arg  string
}

// parseCommand splits "/name arg" input. ok is false for plain messages.
func parseCommand(input string) (cmd command, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return command{}, false
	}
	name, arg, _ := strings.Cut(input[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

type app struct {
	session *chat.Session
	line    *liner.State
	render  *renderer
	out     io.Writer
}

func (a *app) run(ctx context.Context) error {
	fmt.Fprintln(a.out, banner())
	if msgs := a.session.Messages(); len(msgs) > 0 {
		fmt.Fprintln(a.out, infoStyle.Render(fmt.Sprintf("restored %d messages", len(msgs))))
	}

	for {
		input, err := a.line.Prompt("you> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(a.out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		a.line.AppendHistory(input)

		if cmd, ok := parseCommand(input); ok {
			if quit := a.handle(ctx, cmd); quit {
				return nil
			}
			continue
		}

		a.exchange(func() (models.Message, error) { return a.session.Send(ctx, input) })
	}
}

// handle runs a slash command and reports whether the user asked to quit.
func (a *app) handle(ctx context.Context, cmd command) bool {
	switch cmd.name {
	case "quit", "exit", "q":
		return true
	case "help":
		fmt.Fprintln(a.out, helpText())
	case "retry":
		if !a.session.CanRetry() {
			fmt.Fprintln(a.out, warningStyle.Render("nothing to retry"))
			return false
		}
		a.exchange(func() (models.Message, error) { return a.session.Retry(ctx) })
	case "again":
		mode := chat.Mode(cmd.arg)
		if mode == "" {
			mode = chat.ModeRetry
		}
		id, ok := lastAnswerID(a.session.Messages())
		if !ok {
			fmt.Fprintln(a.out, warningStyle.Render("no answer to explain again"))
			return false
		}
		a.exchange(func() (models.Message, error) { return a.session.Reexplain(ctx, id, mode) })
	case "clear":
		if a.session.Clear(ctx) {
			fmt.Fprintln(a.out, infoStyle.Render("conversation cleared"))
		} else {
			fmt.Fprintln(a.out, errorStyle.Render("[Error] ")+"could not clear the saved conversation")
		}
	case "history":
		fmt.Fprint(a.out, a.render.transcript(a.session.Messages()))
	case "stats":
		fmt.Fprintln(a.out, statsText(a.session.Stats(ctx), a.session.Remaining()))
	default:
		fmt.Fprintln(a.out, warningStyle.Render("unknown command /"+cmd.name))
	}
	return false
}

func (a *app) exchange(do func() (models.Message, error)) {
	fmt.Fprintln(a.out, infoStyle.Render("thinking..."))

	reply, err := do()
	if err != nil {
		fmt.Fprintln(a.out, errorStyle.Render("[Error] ")+chat.Describe(err))
		if a.session.CanRetry() {
			fmt.Fprintln(a.out, infoStyle.Render("type /retry to try again"))
		}
		return
	}
	fmt.Fprintln(a.out, a.render.message(reply))
}

func lastAnswerID(msgs []models.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleAssistant {
			return msgs[i].ID, true
		}
	}
	return "", false
}
