package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/personality"
)

// CommandFunc serves a command for every bot type.
type CommandFunc func(t *personality.Turn) error

// Command is a universal command with its handler and menu metadata.
type Command struct {
	Handler     CommandFunc
	Description string
	Hidden      bool
}

// CommandInfo is the menu entry of a visible command.
type CommandInfo struct {
	Name        string
	Description string
}

// Commands holds the universal commands. Anything not registered here is
// delegated to the bot's strategy.
type Commands struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewCommands returns an empty registry.
func NewCommands() *Commands {
	return &Commands{commands: make(map[string]Command)}
}

// Register adds a command. Invalid and duplicate registrations are skipped with a warning.
func (r *Commands) Register(name string, cmd Command) {
	if name == "" || cmd.Handler == nil || cmd.Description == "" {
		logger.Warn(context.Background(), logger.CompEngine, "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "invalid"),
		)
		return
	}
	if name[0] != '/' {
		logger.Warn(context.Background(), logger.CompEngine, "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "no_slash_prefix"),
		)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; exists {
		logger.Warn(context.Background(), logger.CompEngine, "register.command.duplicate",
			slog.String("name", name),
		)
		return
	}
	r.commands[name] = cmd
}

// Lookup returns the command registered under name.
func (r *Commands) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// List returns the commands sorted by name, optionally without hidden ones.
func (r *Commands) List(visibleOnly bool) []CommandInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]CommandInfo, 0, len(r.commands))
	for name, meta := range r.commands {
		if visibleOnly && meta.Hidden {
			continue
		}
		list = append(list, CommandInfo{Name: name, Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

const helpText = "Available commands:\n" +
	"/start - Start the bot\n" +
	"/help - Show this help"

func defaultCommands() *Commands {
	r := NewCommands()
	r.Register("/start", Command{Handler: start, Description: "Start the bot"})
	r.Register("/help", Command{Handler: help, Description: "Show this help"})
	return r
}

// start greets the user. When the bot collects phones and none is on file the
// welcome and the phone prompt go out as one message with the share button.
func start(t *personality.Turn) error {
	welcome := t.Bot().Welcome()
	u := t.User()
	switch {
	case t.NeedsPhone():
		t.RequestPhone(welcome)
	case u.PhoneNumber != "":
		t.Reply("Welcome back! 👋\n\nYour phone: " + u.PhoneNumber)
		t.SetState(domain.StateRegistered)
	default:
		if welcome != "" {
			t.Reply(welcome)
		}
		t.SetState(domain.StateWelcomed)
	}
	return nil
}

func help(t *personality.Turn) error {
	t.Reply(helpText)
	return nil
}
