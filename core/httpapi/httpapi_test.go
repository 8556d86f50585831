package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/engine"
	"github.com/m3rciful/flowbot/core/store"
	"github.com/m3rciful/flowbot/core/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type handled struct {
	botID string
	ev    engine.Event
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []handled
}

func (f *fakeEngine) Handle(_ context.Context, bot *domain.Bot, ev engine.Event) (engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, handled{botID: bot.ID, ev: ev})
	return engine.Result{Outcome: engine.OutcomeOK}, nil
}

// inlinePool runs tasks on the submitting goroutine.
type inlinePool struct{ err error }

func (p inlinePool) Submit(ctx context.Context, t worker.Task) error {
	if p.err != nil {
		return p.err
	}
	return t.Run(ctx)
}

type fakeProvider struct {
	verifyErr  error
	webhookErr error
	hooks      map[string]string
	removed    []string
}

func (p *fakeProvider) VerifyToken(_ context.Context, token string) (string, error) {
	if p.verifyErr != nil {
		return "", p.verifyErr
	}
	return "bot_" + token[:3], nil
}

func (p *fakeProvider) SetWebhook(_ context.Context, token, url string) error {
	if p.webhookErr != nil {
		return p.webhookErr
	}
	if p.hooks == nil {
		p.hooks = map[string]string{}
	}
	p.hooks[token] = url
	return nil
}

func (p *fakeProvider) RemoveWebhook(_ context.Context, token string) error {
	p.removed = append(p.removed, token)
	return nil
}

type fixture struct {
	st       *store.Memory
	eng      *fakeEngine
	provider *fakeProvider
	router   *gin.Engine
}

func newFixture(t *testing.T, mut func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{st: store.NewMemory(), eng: &fakeEngine{}, provider: &fakeProvider{}}
	d := Deps{
		Store:     f.st,
		Engine:    f.eng,
		Pool:      inlinePool{},
		Provider:  f.provider,
		PublicURL: "https://bots.example.org",
	}
	if mut != nil {
		mut(&d)
	}
	f.router = NewRouter(d)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedBot(t *testing.T, id string) {
	t.Helper()
	b := &domain.Bot{ID: id, Name: id, Token: id + "-token", Type: domain.BotPlain, IsActive: true}
	if err := f.st.CreateBot(context.Background(), b); err != nil {
		t.Fatalf("seed bot: %v", err)
	}
}

const textUpdate = `{"update_id":11,"message":{"message_id":5,"date":1,"chat":{"id":42,"type":"private"},"from":{"id":42,"first_name":"Ann"},"text":"hi"}}`

func TestWebhookQueuesTurnAndAcks(t *testing.T) {
	f := newFixture(t, nil)
	f.seedBot(t, "b1")

	rec := f.do(t, http.MethodPost, "/api/webhook/b1", textUpdate, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("body = %s", rec.Body)
	}
	if len(f.eng.calls) != 1 {
		t.Fatalf("turns = %d, want 1", len(f.eng.calls))
	}
	got := f.eng.calls[0]
	if got.botID != "b1" || got.ev.ChatID != 42 || got.ev.Text != "hi" || got.ev.UpdateID != 11 {
		t.Fatalf("event = %+v", got)
	}
	st, _ := f.st.Stats(context.Background(), "b1")
	if st.RequestCount != 1 {
		t.Fatalf("request count = %d", st.RequestCount)
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("missing request id header")
	}
}

func TestWebhookUnknownBot(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/webhook/nope", textUpdate, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.eng.calls) != 0 {
		t.Fatal("no turn expected")
	}
}

func TestWebhookBadBody(t *testing.T) {
	f := newFixture(t, nil)
	f.seedBot(t, "b1")
	rec := f.do(t, http.MethodPost, "/api/webhook/b1", "{not json", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookIgnoresNonMessageUpdates(t *testing.T) {
	f := newFixture(t, nil)
	f.seedBot(t, "b1")
	body := `{"update_id":3,"callback_query":{"id":"x","from":{"id":1,"first_name":"A"},"data":"d"}}`
	rec := f.do(t, http.MethodPost, "/api/webhook/b1", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.eng.calls) != 0 {
		t.Fatal("callback must not start a turn")
	}
}

func TestWebhookAcksWhenQueueFull(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Pool = inlinePool{err: worker.ErrQueueFull} })
	f.seedBot(t, "b1")
	rec := f.do(t, http.MethodPost, "/api/webhook/b1", textUpdate, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookRateLimitPerChat(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.RateInterval = time.Hour })
	f.seedBot(t, "b1")
	for i := 0; i < 3; i++ {
		if rec := f.do(t, http.MethodPost, "/api/webhook/b1", textUpdate, nil); rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	if len(f.eng.calls) != 1 {
		t.Fatalf("turns = %d, want 1 inside the interval", len(f.eng.calls))
	}
	other := strings.Replace(textUpdate, `"id":42,"type"`, `"id":43,"type"`, 1)
	f.do(t, http.MethodPost, "/api/webhook/b1", other, nil)
	if len(f.eng.calls) != 2 {
		t.Fatalf("turns = %d, other chat must pass", len(f.eng.calls))
	}
}

func TestChatLimiterInterval(t *testing.T) {
	l := newChatLimiter(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	if !l.Allow("b", 1) {
		t.Fatal("first delivery must pass")
	}
	if l.Allow("b", 1) {
		t.Fatal("second delivery inside interval must be throttled")
	}
	if !l.Allow("c", 1) {
		t.Fatal("other bot must pass")
	}
	now = now.Add(time.Second)
	if !l.Allow("b", 1) {
		t.Fatal("delivery after interval must pass")
	}
}

func TestCreateBotAutoWebhook(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"name":"Shop","token":"123:abc","bot_type":"ecommerce","has_get_number":true}`
	rec := f.do(t, http.MethodPost, "/api/bots", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, leaked := got["token"]; leaked {
		t.Fatal("token must not be serialized")
	}
	if got["bot_type"] != "custom" || got["username"] != "bot_123" {
		t.Fatalf("bot = %v", got)
	}
	id, _ := got["id"].(string)
	want := "https://bots.example.org/api/webhook/" + id
	if f.provider.hooks["123:abc"] != want {
		t.Fatalf("webhook = %q, want %q", f.provider.hooks["123:abc"], want)
	}
	bot, err := f.st.GetBot(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bot.IsWebhookSet || bot.WebhookURL != want || !bot.IsActive || !bot.PhoneRequired {
		t.Fatalf("stored bot = %+v", bot)
	}
}

func TestCreateBotRejects(t *testing.T) {
	f := newFixture(t, nil)
	cases := map[string]string{
		"missing token": `{"name":"x"}`,
		"unknown type":  `{"name":"x","token":"1:a","bot_type":"weather"}`,
	}
	for name, body := range cases {
		if rec := f.do(t, http.MethodPost, "/api/bots", body, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", name, rec.Code)
		}
	}

	f.provider.verifyErr = errors.New("unauthorized")
	if rec := f.do(t, http.MethodPost, "/api/bots", `{"name":"x","token":"1:a"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad token: status = %d", rec.Code)
	}
}

func TestCreateBotDuplicateToken(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.PublicURL = "" })
	body := `{"name":"x","token":"555:dup"}`
	if rec := f.do(t, http.MethodPost, "/api/bots", body, nil); rec.Code != http.StatusCreated {
		t.Fatalf("first: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/bots", body, nil); rec.Code != http.StatusConflict {
		t.Fatalf("second: status = %d", rec.Code)
	}
	if len(f.provider.hooks) != 0 {
		t.Fatal("no webhook without a public url")
	}
}

func TestWebhookAdminRoutes(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.PublicURL = "" })
	f.seedBot(t, "b1")

	if rec := f.do(t, http.MethodPost, "/api/bots/b1/webhook", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("no base: status = %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/bots/b1/webhook", `{"webhook_url":"https://h.example/"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("set: status = %d, body %s", rec.Code, rec.Body)
	}
	if f.provider.hooks["b1-token"] != "https://h.example/api/webhook/b1" {
		t.Fatalf("hook = %q", f.provider.hooks["b1-token"])
	}

	if rec := f.do(t, http.MethodDelete, "/api/bots/b1/webhook", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	bot, _ := f.st.GetBot(context.Background(), "b1")
	if bot.IsWebhookSet || len(f.provider.removed) != 1 {
		t.Fatalf("after delete: %+v removed=%v", bot, f.provider.removed)
	}

	f.provider.webhookErr = errors.New("bad gateway")
	if rec := f.do(t, http.MethodPost, "/api/bots/b1/webhook", `{"webhook_url":"https://h.example"}`, nil); rec.Code != http.StatusBadGateway {
		t.Fatalf("provider failure: status = %d", rec.Code)
	}
}

func TestGetBotListAndStats(t *testing.T) {
	f := newFixture(t, nil)
	f.seedBot(t, "b1")

	if rec := f.do(t, http.MethodGet, "/api/bots/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/bots/b1", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/api/bots", "", nil)
	var list []domain.Bot
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list = %s (%v)", rec.Body, err)
	}

	f.do(t, http.MethodPost, "/api/webhook/b1", textUpdate, nil)
	rec = f.do(t, http.MethodGet, "/api/bots/b1/stats", "", nil)
	var st domain.BotStats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.RequestCount != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestCreateFlow(t *testing.T) {
	f := newFixture(t, nil)
	f.seedBot(t, "b1")

	body := `{"name":"Order","trigger_command":"order","flow_data":{"steps":[{"id":"step1","text":"Name?","save_to":"name","next":"step2"},{"id":"step2","text":"Thanks"}]}}`
	rec := f.do(t, http.MethodPost, "/api/bots/b1/flows", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	fl, err := f.st.FlowByTrigger(context.Background(), "b1", "/order")
	if err != nil {
		t.Fatalf("trigger lookup: %v", err)
	}
	if !fl.IsActive || fl.Name != "Order" {
		t.Fatalf("flow = %+v", fl)
	}

	def := `{"name":"Default","is_default":true,"flow_data":{"response":"hello"}}`
	if rec := f.do(t, http.MethodPost, "/api/bots/b1/flows", def, nil); rec.Code != http.StatusCreated {
		t.Fatalf("default: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/bots/b1/flows", def, nil); rec.Code != http.StatusConflict {
		t.Fatalf("second default: status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/bots/b1/flows", "", nil)
	var flows []domain.Flow
	if err := json.Unmarshal(rec.Body.Bytes(), &flows); err != nil || len(flows) != 2 {
		t.Fatalf("flows = %s (%v)", rec.Body, err)
	}
}

func TestCreateFlowRejectsInvalidScripts(t *testing.T) {
	f := newFixture(t, nil)
	f.seedBot(t, "b1")
	cases := []string{
		`{"name":"x","flow_data":{"foo":1}}`,
		`{"name":"x","flow_data":{"steps":[{"id":"a","text":"t","next":"zz"}],"initial_step":"a"}}`,
		`{"name":"x","flow_data":{"steps":[]}}`,
	}
	for _, body := range cases {
		if rec := f.do(t, http.MethodPost, "/api/bots/b1/flows", body, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, rec.Code)
		}
	}
}

func TestAdminRequiresToken(t *testing.T) {
	const secret = "s3cret"
	f := newFixture(t, func(d *Deps) { d.JWTSecret = secret })
	f.seedBot(t, "b1")

	if rec := f.do(t, http.MethodGet, "/api/bots", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}
	bad, _ := IssueToken("other", "ops", time.Hour)
	if rec := f.do(t, http.MethodGet, "/api/bots", "", map[string]string{"Authorization": "Bearer " + bad}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: status = %d", rec.Code)
	}
	expired, _ := IssueToken(secret, "ops", -time.Minute)
	if rec := f.do(t, http.MethodGet, "/api/bots", "", map[string]string{"Authorization": "Bearer " + expired}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired: status = %d", rec.Code)
	}

	tok, err := IssueToken(secret, "ops", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rec := f.do(t, http.MethodGet, "/api/bots", "", map[string]string{"Authorization": "Bearer " + tok}); rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d", rec.Code)
	}
	// deliveries from the provider carry no admin token
	if rec := f.do(t, http.MethodPost, "/api/webhook/b1", textUpdate, nil); rec.Code != http.StatusOK {
		t.Fatalf("webhook: status = %d", rec.Code)
	}
}

func TestIssueTokenNeedsSecret(t *testing.T) {
	if _, err := IssueToken("", "ops", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestRecovererReturns500(t *testing.T) {
	r := gin.New()
	r.Use(requestLogger(), recoverer())
	r.GET("/boom", func(*gin.Context) { panic("boom") })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
