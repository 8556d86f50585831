package personality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/flow"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/store"
)

// FlowSource resolves the scripts of a bot.
type FlowSource interface {
	DefaultFlow(ctx context.Context, botID string) (*domain.Flow, error)
	FlowByTrigger(ctx context.Context, botID, trigger string) (*domain.Flow, error)
}

// FlowLookupError reports a stored flow that could not be parsed or walked.
// The turn that hit it must not change the conversation. Store failures are
// returned as plain errors.
type FlowLookupError struct {
	FlowID int64
	Step   string
	Err    error
}

func (e *FlowLookupError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("flow %d step %q: %v", e.FlowID, e.Step, e.Err)
	}
	return fmt.Sprintf("flow %d: %v", e.FlowID, e.Err)
}

func (e *FlowLookupError) Unwrap() error { return e.Err }

// FlowDriven runs the admin-authored scripts of a bot.
type FlowDriven struct {
	noResume
	Flows FlowSource
}

func (*FlowDriven) Name() string { return "flow" }

func (f *FlowDriven) HandleText(t *Turn, text string) error {
	def, err := f.Flows.DefaultFlow(t.Context(), t.Bot().ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		t.Reply(TextNoFlow)
		return nil
	case err != nil:
		return fmt.Errorf("default flow: %w", err)
	}
	return f.run(t, def, text)
}

// HandleCommand starts the flow whose trigger equals cmd from its first step.
func (f *FlowDriven) HandleCommand(t *Turn, cmd string) error {
	def, err := f.Flows.FlowByTrigger(t.Context(), t.Bot().ID, cmd)
	switch {
	case errors.Is(err, store.ErrNotFound):
		t.Reply("Unknown command: " + cmd)
		return nil
	case err != nil:
		return fmt.Errorf("flow for %s: %w", cmd, err)
	}
	delete(t.User().Data, domain.KeyCurrentStep)
	return f.run(t, def, cmd)
}

func (f *FlowDriven) run(t *Turn, rec *domain.Flow, input string) error {
	def, err := flow.Parse(rec.Definition)
	if err != nil {
		return &FlowLookupError{FlowID: rec.ID, Err: err}
	}
	res, err := flow.Execute(def, t.User().Data, input)
	if err != nil {
		return &FlowLookupError{FlowID: rec.ID, Step: res.Step, Err: err}
	}

	t.UseFlow(rec.ID)
	for _, m := range res.Messages {
		t.Reply(m)
	}
	if res.Changed {
		t.User().Data = res.Data
		if res.State != "" {
			t.SetState(res.State)
		}
	}
	logger.Debug(t.Context(), logger.CompFlow, "flow.step",
		slog.Int64("flow_id", rec.ID),
		slog.String("kind", def.Shape.String()),
		slog.String("step", res.Step),
		slog.String("state", string(t.State())),
	)
	return nil
}
