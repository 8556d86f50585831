// Package personality implements the per-bot-type conversation behaviors.
//
// Phone collection, /start and /help are handled by the engine; a strategy
// only supplies text handling, custom commands and the hook that resumes a
// conversation once a phone number arrives.
package personality

import (
	"fmt"
	"sort"
	"sync"

	"github.com/m3rciful/flowbot/core/domain"
)

// Strategy is the capability set every bot behavior provides.
type Strategy interface {
	Name() string
	// HandleCommand serves any command other than /start and /help.
	HandleCommand(t *Turn, cmd string) error
	// HandleText serves free text and media captions.
	HandleText(t *Turn, text string) error
	// AfterPhone runs once right after a phone number was stored.
	AfterPhone(t *Turn) error
}

// unknownCommands is embedded by strategies without custom commands.
type unknownCommands struct{}

func (unknownCommands) HandleCommand(t *Turn, cmd string) error {
	t.Reply(fmt.Sprintf("Unknown command: %s", cmd))
	return nil
}

// noResume is embedded by strategies with nothing to continue after a phone arrives.
type noResume struct{}

func (noResume) AfterPhone(*Turn) error { return nil }

// Registry maps bot types to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.BotType]Strategy
	fallback   Strategy
}

// NewRegistry returns a registry with the built-in behaviors. flows feeds the
// flow-driven behavior.
func NewRegistry(flows FlowSource) *Registry {
	plain := Plain{}
	r := &Registry{strategies: make(map[domain.BotType]Strategy), fallback: plain}
	r.Register(domain.BotPlain, plain)
	r.Register(domain.BotRegistration, Registration{})
	r.Register(domain.BotSurvey, Survey{})
	r.Register(domain.BotSupport, Support{})
	r.Register(domain.BotFlow, &FlowDriven{Flows: flows})
	return r
}

// Register binds a strategy to a bot type, replacing any previous one.
func (r *Registry) Register(t domain.BotType, s Strategy) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[t] = s
}

// Select returns the strategy for t. Unknown types get the plain behavior.
func (r *Registry) Select(t domain.BotType) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.strategies[t]; ok {
		return s
	}
	if canon, _ := t.Canonical(); canon != t {
		if s, ok := r.strategies[canon]; ok {
			return s
		}
	}
	return r.fallback
}

// Types lists the registered bot types.
func (r *Registry) Types() []domain.BotType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.BotType, 0, len(r.strategies))
	for t := range r.strategies {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
