package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/personality"
	"github.com/m3rciful/flowbot/core/store"
)

type sent struct {
	chatID int64
	msg    personality.Outbound
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []sent
	fail func(personality.Outbound) error
}

func (r *recordingSender) Send(_ context.Context, _ *domain.Bot, chatID int64, msg personality.Outbound) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(msg); err != nil {
			return 0, err
		}
	}
	r.msgs = append(r.msgs, sent{chatID, msg})
	return len(r.msgs), nil
}

func (r *recordingSender) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.msg.Text)
	}
	return out
}

func (r *recordingSender) reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

type fixture struct {
	t      *testing.T
	mem    *store.Memory
	sender *recordingSender
	reg    *personality.Registry
	eng    *Engine
	bot    *domain.Bot
}

func newFixture(t *testing.T, bot domain.Bot, opts Options) *fixture {
	t.Helper()
	mem := store.NewMemory()
	if bot.ID == "" {
		bot.ID = "bot-1"
	}
	if bot.Token == "" {
		bot.Token = bot.ID + "-token"
	}
	bot.IsActive = true
	if err := mem.CreateBot(context.Background(), &bot); err != nil {
		t.Fatalf("create bot: %v", err)
	}
	sender := &recordingSender{}
	reg := personality.NewRegistry(mem)
	return &fixture{t: t, mem: mem, sender: sender, reg: reg, eng: New(mem, sender, reg, opts), bot: &bot}
}

func (f *fixture) handle(ev Event) Result {
	f.t.Helper()
	if ev.ChatID == 0 {
		ev.ChatID = 42
	}
	res, err := f.eng.Handle(context.Background(), f.bot, ev)
	if err != nil {
		f.t.Fatalf("handle %+v: %v", ev, err)
	}
	return res
}

func (f *fixture) text(s string) Result { return f.handle(Event{Kind: domain.KindText, Text: s}) }

func (f *fixture) user() *domain.User {
	f.t.Helper()
	u, err := f.mem.GetUser(context.Background(), f.bot.ID, 42)
	if err != nil {
		f.t.Fatalf("get user: %v", err)
	}
	return u
}

func TestEventWithoutChatIsDropped(t *testing.T) {
	for _, typ := range []domain.BotType{domain.BotPlain, domain.BotRegistration, domain.BotSurvey, domain.BotSupport, domain.BotFlow} {
		f := newFixture(t, domain.Bot{ID: "b-" + string(typ), Type: typ}, Options{})
		res, err := f.eng.Handle(context.Background(), f.bot, Event{Text: "/start"})
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if res.Outcome != OutcomeDropped {
			t.Fatalf("%s: outcome = %s", typ, res.Outcome)
		}
		if len(f.sender.texts()) != 0 {
			t.Fatalf("%s: sends on dropped event", typ)
		}
		if _, err := f.mem.GetUser(context.Background(), f.bot.ID, 0); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("%s: user created for dropped event", typ)
		}
	}
}

func TestPlainEchoAndUnknownTypeFallback(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: "hologram"}, Options{})
	res := f.text("hi")
	if !res.Created || res.State != domain.StateNew {
		t.Fatalf("result = %+v", res)
	}
	if got := f.sender.texts(); len(got) != 1 || got[0] != "You said: hi" {
		t.Fatalf("sent %q", got)
	}
	if n := f.user().Version; n != 2 {
		t.Fatalf("version = %d, want one write", n)
	}
}

type countingStrategy struct {
	personality.Plain
	mu     sync.Mutex
	resume int
}

func (c *countingStrategy) AfterPhone(t *personality.Turn) error {
	c.mu.Lock()
	c.resume++
	c.mu.Unlock()
	t.Reply("resumed")
	return nil
}

func TestPhoneGating(t *testing.T) {
	f := newFixture(t, domain.Bot{
		Type:           "counting",
		WelcomeEnabled: true,
		WelcomeText:    "Hello there",
		PhoneRequired:  true,
		PhonePrompt:    "Share your phone",
		AfterPhoneText: "Saved!",
	}, Options{})
	counter := &countingStrategy{}
	f.reg.Register("counting", counter)

	f.handle(Event{Text: "/start"})
	f.sender.mu.Lock()
	msgs := append([]sent(nil), f.sender.msgs...)
	f.sender.mu.Unlock()
	if len(msgs) != 1 {
		t.Fatalf("start sent %d messages", len(msgs))
	}
	if msgs[0].msg.Text != "Hello there\n\nShare your phone" || msgs[0].msg.Affordance != personality.AffordRequestPhone {
		t.Fatalf("start message = %+v", msgs[0].msg)
	}
	if st := f.user().State; st != domain.StateAwaitingPhone {
		t.Fatalf("state = %s", st)
	}

	f.sender.reset()
	f.text("let me in")
	if got := f.sender.texts(); len(got) != 1 || got[0] != personality.TextPhoneReminder {
		t.Fatalf("reminder = %q", got)
	}
	if st := f.user().State; st != domain.StateAwaitingPhone {
		t.Fatalf("text advanced state to %s", st)
	}

	f.sender.reset()
	f.handle(Event{Kind: domain.KindContact, Phone: "+15550100"})
	u := f.user()
	if u.State != domain.StateRegistered || u.PhoneNumber != "+15550100" {
		t.Fatalf("user = %s %q", u.State, u.PhoneNumber)
	}
	if counter.resume != 1 {
		t.Fatalf("resume hook ran %d times", counter.resume)
	}
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	if len(f.sender.msgs) != 2 || f.sender.msgs[0].msg.Text != "Saved!" || f.sender.msgs[0].msg.Affordance != personality.AffordRemove {
		t.Fatalf("contact messages = %+v", f.sender.msgs)
	}
}

func TestContactWithoutPhoneIsNoop(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotPlain, PhoneRequired: true}, Options{})
	f.handle(Event{Text: "/start"})
	f.sender.reset()
	f.handle(Event{Kind: domain.KindContact})
	if len(f.sender.texts()) != 0 || f.user().State != domain.StateAwaitingPhone {
		t.Fatalf("empty contact changed something: %q %s", f.sender.texts(), f.user().State)
	}
}

func TestStartVariants(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotPlain, WelcomeEnabled: true, WelcomeText: "Hi!"}, Options{})
	f.handle(Event{Text: "/start@MyBot extra"})
	if got := f.sender.texts(); len(got) != 1 || got[0] != "Hi!" || f.user().State != domain.StateWelcomed {
		t.Fatalf("welcome: %q %s", got, f.user().State)
	}

	u := f.user()
	u.PhoneNumber = "+1"
	if err := f.mem.SaveUser(context.Background(), u); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.sender.reset()
	f.handle(Event{Text: "/START"})
	if got := f.sender.texts(); len(got) != 1 || got[0] != "Welcome back! 👋\n\nYour phone: +1" {
		t.Fatalf("welcome back = %q", got)
	}
	if f.user().State != domain.StateRegistered {
		t.Fatalf("state = %s", f.user().State)
	}

	f.sender.reset()
	f.handle(Event{Text: "/help"})
	if got := f.sender.texts(); len(got) != 1 || got[0] != helpText || f.user().State != domain.StateRegistered {
		t.Fatalf("help = %q state %s", got, f.user().State)
	}
}

func TestStartWithoutWelcomeIsSilent(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotPlain}, Options{})
	f.handle(Event{Text: "/start"})
	if len(f.sender.texts()) != 0 || f.user().State != domain.StateWelcomed {
		t.Fatalf("got %q state %s", f.sender.texts(), f.user().State)
	}
}

func TestLinearFlowThroughEngine(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotFlow}, Options{AuditOutbound: true})
	err := f.mem.CreateFlow(context.Background(), &domain.Flow{
		BotID: f.bot.ID, Name: "main", IsDefault: true, IsActive: true, Trigger: domain.TriggerDefault,
		Definition: []byte(`{"initial_step":"s1","steps":[{"id":"s1","text":"Q1","save_to":"a1","next":"s2"},{"id":"s2","text":"Q2"}]}`),
	})
	if err != nil {
		t.Fatalf("flow: %v", err)
	}

	f.text("X")
	f.text("Y")
	if got := f.sender.texts(); len(got) != 2 || got[0] != "Q1" || got[1] != "Q2" {
		t.Fatalf("sent %q", got)
	}
	u := f.user()
	if u.State != domain.StateRegistered || len(u.Data) != 1 || u.Data.String("a1") != "X" {
		t.Fatalf("user = %s %v", u.State, u.Data)
	}

	var out int
	for _, m := range f.mem.Messages(f.bot.ID) {
		if m.Direction == domain.Outgoing {
			out++
			if m.FlowID == nil {
				t.Fatal("outgoing record lost its flow id")
			}
		}
	}
	if out != 2 {
		t.Fatalf("outgoing records = %d", out)
	}
}

func TestMissingFlowStepChangesNothing(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotFlow}, Options{})
	_ = f.mem.CreateFlow(context.Background(), &domain.Flow{
		BotID: f.bot.ID, Name: "main", IsDefault: true, IsActive: true,
		Definition: []byte(`{"initial_step":"s1","steps":[{"id":"s1","text":"Q1"}]}`),
	})
	f.text("first")
	u := f.user()
	u.State = domain.StateWelcomed
	u.Data = domain.StateData{domain.KeyCurrentStep: "ghost", "kept": "yes"}
	if err := f.mem.SaveUser(context.Background(), u); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.sender.reset()

	res := f.text("second")
	if res.Outcome != OutcomeFlowFailed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if len(f.sender.texts()) != 0 {
		t.Fatalf("sent %q", f.sender.texts())
	}
	after := f.user()
	if after.State != domain.StateWelcomed || after.Data.String(domain.KeyCurrentStep) != "ghost" || after.Data.String("kept") != "yes" {
		t.Fatalf("state changed: %s %v", after.State, after.Data)
	}
}

func TestSurveyThroughEngine(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotSurvey}, Options{})
	f.handle(Event{Text: "/start"})

	want := []domain.State{domain.StateSurveyQ1, domain.StateSurveyQ2, domain.StateSurveyQ3, domain.StateRegistered}
	for i, in := range []string{"go", "4", "No", "fine"} {
		res := f.text(in)
		if res.State != want[i] {
			t.Fatalf("input %d: state = %s, want %s", i, res.State, want[i])
		}
	}
	if got := f.user().Data.String("q3_comments"); got != "fine" {
		t.Fatalf("q3 = %q", got)
	}
}

func TestSupportTicketsThroughEngine(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotSupport}, Options{})
	f.handle(Event{Text: "/start"})
	f.text("menu")
	f.text("1")
	f.text("printer broken")
	f.text("menu")
	f.sender.reset()
	f.text("2")

	tickets := f.user().Data.Tickets()
	if len(tickets) != 1 || tickets[0].Description != "printer broken" || tickets[0].Status != "open" {
		t.Fatalf("tickets = %+v", tickets)
	}
	got := f.sender.texts()
	want := fmt.Sprintf("ID: %s\nStatus: open\n", tickets[0].ID)
	if len(got) != 1 || !strings.Contains(got[0], want) {
		t.Fatalf("status reply = %q", got)
	}
}

// ticketer files a ticket for every text it sees.
type ticketer struct{ personality.Plain }

func (ticketer) HandleText(t *personality.Turn, text string) error {
	t.User().Data.AppendTicket(domain.Ticket{ID: text, Description: text, Status: "open"})
	return nil
}

type noLock struct{}

func (noLock) Lock(context.Context, string) (func(), error) { return func() {}, nil }

func TestConcurrentTurnsKeepEveryTicket(t *testing.T) {
	cases := map[string]Options{
		"keyed lock":       {},
		"optimistic only": {Locker: noLock{}, MaxAttempts: 20},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, domain.Bot{Type: "ticketer"}, opts)
			f.reg.Register("ticketer", ticketer{})
			f.text("seed")

			const n = 8
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := f.eng.Handle(context.Background(), f.bot, Event{ChatID: 42, Text: fmt.Sprintf("t%d", i)})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("turn: %v", err)
				}
			}
			if got := len(f.user().Data.Tickets()); got != n+1 {
				t.Fatalf("tickets = %d, want %d", got, n+1)
			}
		})
	}
}

func TestConcurrentFirstContactCountsOnce(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotPlain}, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.eng.Handle(context.Background(), f.bot, Event{ChatID: 7, Text: "hi"})
		}()
	}
	wg.Wait()
	st, err := f.mem.Stats(context.Background(), f.bot.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.UserCount != 1 || st.IncomingMessages != 10 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSendFailureKeepsState(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotSupport}, Options{AuditOutbound: true})
	f.sender.fail = func(personality.Outbound) error { return errors.New("telegram down") }
	f.handle(Event{Text: "/start"})
	res := f.text("hello")
	if res.Failed != 1 || res.Sent != 0 {
		t.Fatalf("result = %+v", res)
	}
	if f.user().State != domain.StateSupportMenu {
		t.Fatalf("state = %s", f.user().State)
	}
	for _, m := range f.mem.Messages(f.bot.ID) {
		if m.Direction == domain.Outgoing {
			t.Fatal("failed send must not be audited")
		}
	}
}

type failingSaves struct {
	store.Store
}

func (failingSaves) SaveUser(context.Context, *domain.User) error {
	return errors.New("connection reset")
}

func TestPersistenceFailureIsReturned(t *testing.T) {
	mem := store.NewMemory()
	bot := &domain.Bot{ID: "b", Token: "t", Type: domain.BotPlain, IsActive: true}
	_ = mem.CreateBot(context.Background(), bot)
	sender := &recordingSender{}
	eng := New(failingSaves{mem}, sender, nil, Options{})

	_, err := eng.Handle(context.Background(), bot, Event{ChatID: 1, Text: "hi"})
	if !IsKind(err, KindPersistence) {
		t.Fatalf("err = %v", err)
	}
	if ErrorCode(err) != "PERSISTENCE_FAILED" {
		t.Fatalf("code = %s", ErrorCode(err))
	}
	if len(sender.texts()) != 0 {
		t.Fatal("nothing may be sent when the state write fails")
	}
}

func TestBlockedAndInactive(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotPlain}, Options{})
	f.text("hi")
	u := f.user()
	u.IsBlocked = true
	_ = f.mem.SaveUser(context.Background(), u)
	f.sender.reset()

	if res := f.text("again"); res.Outcome != OutcomeBlocked {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	f.bot.IsActive = false
	if res := f.text("again"); res.Outcome != OutcomeInactive {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if len(f.sender.texts()) != 0 {
		t.Fatalf("sent %q", f.sender.texts())
	}
}

func TestMediaIsAuditedWithFileRef(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotPlain}, Options{})
	f.handle(Event{Kind: domain.KindPhoto, Text: "look", FileRef: "file-1", MessageID: 9})
	msgs := f.mem.Messages(f.bot.ID)
	if len(msgs) != 1 || msgs[0].Kind != domain.KindPhoto || msgs[0].FileRef != "file-1" || msgs[0].ExternalMessageID != 9 {
		t.Fatalf("audit = %+v", msgs)
	}
	if got := f.sender.texts(); len(got) != 1 || got[0] != "You said: look" {
		t.Fatalf("sent %q", got)
	}
}

type unreachableFlows struct{}

func (unreachableFlows) DefaultFlow(context.Context, string) (*domain.Flow, error) {
	return nil, errors.New("connection refused")
}

func (unreachableFlows) FlowByTrigger(context.Context, string, string) (*domain.Flow, error) {
	return nil, errors.New("connection refused")
}

func TestFlowStoreFailureSendsFallback(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotFlow}, Options{})
	f.eng = New(f.mem, f.sender, personality.NewRegistry(unreachableFlows{}), Options{})

	res := f.text("hello")
	if res.Outcome != OutcomeFallback {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := f.sender.texts(); len(got) != 1 || got[0] != personality.TextFallback {
		t.Fatalf("sent %q", got)
	}
}

func TestCaptionWithSlashIsText(t *testing.T) {
	f := newFixture(t, domain.Bot{Type: domain.BotPlain}, Options{})
	res := f.handle(Event{Kind: domain.KindPhoto, Text: "/start", FileRef: "file-2"})
	if res.Handler != "text" {
		t.Fatalf("handler = %q", res.Handler)
	}
	if got := f.sender.texts(); len(got) != 1 || got[0] != "You said: /start" {
		t.Fatalf("sent %q", got)
	}
}
