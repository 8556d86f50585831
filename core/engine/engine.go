// Package engine runs conversation turns: one inbound event for one user of
// one bot, from user resolution through strategy selection to the single
// state write and the outbound sends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/personality"
	"github.com/m3rciful/flowbot/core/store"
)

// Sender delivers one outbound message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, bot *domain.Bot, chatID int64, msg personality.Outbound) (int, error)
}

// Outcomes reported in Result and in the turn summary log.
const (
	OutcomeOK         = "ok"
	OutcomeDropped    = "dropped"
	OutcomeBlocked    = "blocked"
	OutcomeInactive   = "inactive"
	OutcomeFlowFailed = "flow_failed"
	OutcomeFallback   = "fallback"
)

// Result summarizes a finished turn.
type Result struct {
	Outcome   string
	Handler   string
	Created   bool
	PrevState domain.State
	State     domain.State
	Sent      int
	Failed    int
	Attempts  int
}

// Options tune an Engine. Zero values pick the defaults.
type Options struct {
	// Locker serializes turns of one user. Defaults to an in-process lock.
	Locker Locker
	// AuditOutbound also records every successful send in the message log.
	AuditOutbound bool
	// MaxAttempts bounds replays of a turn that lost an optimistic write race.
	MaxAttempts int
	Now         func() time.Time
}

// Engine executes turns. It is safe for concurrent use.
type Engine struct {
	store         store.Store
	sender        Sender
	strategies    *personality.Registry
	commands      *Commands
	locker        Locker
	auditOutbound bool
	maxAttempts   int
	now           func() time.Time
}

// New wires an engine over the store, the outbound channel and the strategy registry.
func New(st store.Store, sender Sender, strategies *personality.Registry, opts Options) *Engine {
	if strategies == nil {
		strategies = personality.NewRegistry(st)
	}
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:         st,
		sender:        sender,
		strategies:    strategies,
		commands:      defaultCommands(),
		locker:        opts.Locker,
		auditOutbound: opts.AuditOutbound,
		maxAttempts:   opts.MaxAttempts,
		now:           opts.Now,
	}
}

// Commands exposes the universal command registry, e.g. for the provider command menu.
func (e *Engine) Commands() *Commands { return e.commands }

// Handle runs one turn. Only persistence failures are returned; send and flow
// failures are logged and reflected in the Result.
func (e *Engine) Handle(ctx context.Context, bot *domain.Bot, ev Event) (res Result, err error) {
	start := time.Now()
	ctx = logger.WithTurn(ctx, bot.ID, ev.ChatID, ev.UpdateID)
	res.Handler = handlerName(ev)
	ctx = logger.WithHandler(ctx, res.Handler)
	defer func() { e.logSummary(ctx, bot, start, res, err) }()

	if ev.ChatID == 0 {
		res.Outcome = OutcomeDropped
		derr := &Error{Kind: KindUserResolution, Op: "resolve_user", Err: ErrNoChat}
		logger.Debug(ctx, logger.CompEngine, "turn.dropped",
			slog.String("err", derr.Error()),
			slog.String("err_code", derr.Code()),
		)
		return res, nil
	}
	if !bot.IsActive {
		res.Outcome = OutcomeInactive
		return res, nil
	}

	unlock, err := e.locker.Lock(ctx, turnKey(bot.ID, ev.ChatID))
	if err != nil {
		return res, &Error{Kind: KindPersistence, Op: "lock", Err: err}
	}
	defer unlock()

	user, created, err := e.store.GetOrCreateUser(ctx, bot.ID, ev.ChatID, ev.Profile)
	if err != nil {
		return res, &Error{Kind: KindPersistence, Op: "get_or_create_user", Err: err}
	}
	res.Created = created
	res.PrevState = user.State
	if user.IsBlocked {
		res.Outcome = OutcomeBlocked
		res.State = user.State
		return res, nil
	}
	e.audit(ctx, &domain.MessageRecord{
		BotID:             bot.ID,
		UserID:            user.ID,
		Kind:              ev.kind(),
		Direction:         domain.Incoming,
		Text:              ev.Text,
		FileRef:           ev.FileRef,
		ExternalMessageID: int64(ev.MessageID),
	})

	var t *personality.Turn
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		var outcome string
		t, outcome, err = e.decide(ctx, bot, user, ev)
		res.Outcome = outcome
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= e.maxAttempts {
			return res, &Error{Kind: KindPersistence, Op: "save_user", Err: err}
		}
		logger.Debug(ctx, logger.CompEngine, "turn.replay", slog.Int("attempt", attempt))
		if user, err = e.store.GetUser(ctx, bot.ID, ev.ChatID); err != nil {
			return res, &Error{Kind: KindPersistence, Op: "reload_user", Err: err}
		}
	}
	res.State = t.State()

	res.Sent, res.Failed = e.deliver(ctx, bot, t)
	return res, nil
}

// decide runs the strategy against a private copy of user and commits the
// outcome with a single conditional write. Nothing has been sent when it
// returns, so a lost write race can be replayed from fresh state.
func (e *Engine) decide(ctx context.Context, bot *domain.Bot, user *domain.User, ev Event) (*personality.Turn, string, error) {
	work := user.Clone()
	work.ApplyProfile(ev.Profile)
	work.LastInteraction = e.now()

	t := personality.NewTurn(ctx, bot, work)
	strategy := e.strategies.Select(bot.Type)
	outcome := OutcomeOK

	if err := e.route(t, strategy, ev); err != nil {
		// roll the snapshot back; only the profile refresh survives
		*work = *user.Clone()
		work.ApplyProfile(ev.Profile)
		work.LastInteraction = e.now()
		t.Discard()

		var lookup *personality.FlowLookupError
		if errors.As(err, &lookup) {
			outcome = OutcomeFlowFailed
			ferr := &Error{Kind: KindFlowLookup, Op: strategy.Name(), Err: err}
			logger.Warn(ctx, logger.CompEngine, "turn.flow_failed",
				slog.String("err", logger.Err(ferr)),
				slog.String("err_code", ferr.Code()),
				slog.Int64("flow_id", lookup.FlowID),
				slog.String("step", lookup.Step),
			)
		} else {
			outcome = OutcomeFallback
			logger.Error(ctx, logger.CompEngine, "turn.strategy_failed",
				slog.String("strategy", strategy.Name()),
				slog.String("err", logger.Err(err)),
				slog.String("err_code", ErrorCode(err)),
			)
			t.Reply(personality.TextFallback)
		}
	}

	if err := e.store.SaveUser(ctx, work); err != nil {
		return nil, outcome, err
	}
	return t, outcome, nil
}

// route dispatches the event to the contact, command or text handler.
func (e *Engine) route(t *personality.Turn, s personality.Strategy, ev Event) error {
	switch ev.Route() {
	case RouteContact:
		return e.contact(t, s, ev.Phone)
	case RouteCommand:
		name := ev.Command()
		if cmd, ok := e.commands.Lookup(name); ok {
			return cmd.Handler(t)
		}
		return s.HandleCommand(t, name)
	default:
		if t.State() == domain.StateAwaitingPhone {
			t.ReplyWith(personality.TextPhoneReminder, personality.AffordRequestPhone)
			return nil
		}
		return s.HandleText(t, ev.Text)
	}
}

// contact stores a shared phone number in any state and resumes the strategy.
func (e *Engine) contact(t *personality.Turn, s personality.Strategy, phone string) error {
	if phone == "" {
		return nil
	}
	t.User().PhoneNumber = phone
	t.SetState(domain.StateRegistered)
	t.ReplyWith(t.Bot().AfterPhoneMessage(), personality.AffordRemove)
	return s.AfterPhone(t)
}

// deliver sends the outbox in order. A failed send is logged and skipped.
func (e *Engine) deliver(ctx context.Context, bot *domain.Bot, t *personality.Turn) (sent, failed int) {
	for i, msg := range t.Outbox() {
		msgID, err := e.sender.Send(ctx, bot, t.User().ChatID, msg)
		if err != nil {
			failed++
			derr := &Error{Kind: KindDispatch, Op: "send", Err: err}
			logger.Warn(ctx, logger.CompEngine, "turn.send_failed",
				slog.Int("index", i),
				slog.String("err", logger.Err(derr)),
				slog.String("err_code", derr.Code()),
			)
			continue
		}
		sent++
		if e.auditOutbound {
			e.audit(ctx, &domain.MessageRecord{
				BotID:             bot.ID,
				UserID:            t.User().ID,
				FlowID:            t.FlowID(),
				Kind:              domain.KindText,
				Direction:         domain.Outgoing,
				Text:              msg.Text,
				ExternalMessageID: int64(msgID),
			})
		}
	}
	return sent, failed
}

// audit appends to the message log. The log is best-effort.
func (e *Engine) audit(ctx context.Context, rec *domain.MessageRecord) {
	if err := e.store.AppendMessage(ctx, rec); err != nil {
		logger.Warn(ctx, logger.CompEngine, "audit.failed",
			slog.String("direction", string(rec.Direction)),
			slog.String("err", logger.Err(err)),
		)
	}
}

func handlerName(ev Event) string {
	switch ev.Route() {
	case RouteCommand:
		if name := ev.Command(); name != "" {
			return name[1:]
		}
		return "command"
	default:
		return string(ev.Route())
	}
}

func (e *Engine) logSummary(ctx context.Context, bot *domain.Bot, start time.Time, res Result, err error) {
	status := "ok"
	level := slog.LevelInfo
	switch {
	case err != nil:
		status, level = "fail", slog.LevelError
	case res.Outcome == OutcomeDropped, res.Outcome == OutcomeBlocked, res.Outcome == OutcomeInactive:
		status, level = "skip", slog.LevelDebug
	case res.Failed > 0, res.Outcome == OutcomeFlowFailed, res.Outcome == OutcomeFallback:
		status = "warn"
	}
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("bot_type", string(bot.Type)),
		slog.String("outcome", res.Outcome),
		slog.String("prev_state", string(res.PrevState)),
		slog.String("state", string(res.State)),
		slog.Bool("created", res.Created),
		slog.Int("sends", res.Sent),
		slog.Duration("duration", logger.RoundMS(logger.Took(start))),
	}
	if res.Failed > 0 {
		attrs = append(attrs, slog.Int("send_failures", res.Failed))
	}
	if res.Attempts > 1 {
		attrs = append(attrs, slog.Int("attempts", res.Attempts))
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(logger.Err(err), 256)),
			slog.String("err_code", ErrorCode(err)),
		)
	}
	logger.Log(ctx, logger.CompEngine, level, "turn.handled", attrs...)
}

// String renders the result compactly for CLI and debugging output.
func (r Result) String() string {
	return fmt.Sprintf("%s %s->%s sent=%d failed=%d", r.Outcome, r.PrevState, r.State, r.Sent, r.Failed)
}
