package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/engine"
	"github.com/m3rciful/flowbot/core/personality"
)

type apiCall struct {
	method string
	params map[string]any
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	srv   *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		body, _ := io.ReadAll(r.Body)
		params := map[string]any{}
		_ = json.Unmarshal(body, &params)
		f.mu.Lock()
		f.calls = append(f.calls, apiCall{method: method, params: params})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getMe":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Flow","username":"flow_bot"}}`)
		case "sendMessage":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":77,"date":1,"chat":{"id":42,"type":"private"},"text":"x"}}`)
		default:
			_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) last(method string) (apiCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method {
			return f.calls[i], true
		}
	}
	return apiCall{}, false
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	c, err := NewClient(config.TelegramConfig{APIURL: api.srv.URL, RequestTimeoutMS: 2000})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func TestSendWithPhoneKeyboard(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api)
	bot := &domain.Bot{ID: "b", Token: "123456:secret-token-value-abcdef"}

	id, err := c.Send(context.Background(), bot, 42, personality.Outbound{Text: "share please", Affordance: personality.AffordRequestPhone})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != 77 {
		t.Fatalf("message id = %d", id)
	}
	call, ok := api.last("sendMessage")
	if !ok {
		t.Fatal("sendMessage not called")
	}
	if call.params["text"] != "share please" {
		t.Fatalf("text = %v", call.params["text"])
	}
	markup, _ := call.params["reply_markup"].(string)
	if !strings.Contains(markup, "request_contact") || !strings.Contains(markup, "one_time_keyboard") {
		t.Fatalf("reply_markup = %q", markup)
	}

	if _, err := c.Send(context.Background(), bot, 42, personality.Outbound{Text: "done", Affordance: personality.AffordRemove}); err != nil {
		t.Fatalf("send: %v", err)
	}
	call, _ = api.last("sendMessage")
	if markup, _ := call.params["reply_markup"].(string); !strings.Contains(markup, "remove_keyboard") {
		t.Fatalf("reply_markup = %q", markup)
	}
}

func TestClientPoolsHandlesPerToken(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api)
	a1, _ := c.handle("1:a")
	a2, _ := c.handle("1:a")
	b, _ := c.handle("2:b")
	if a1 != a2 || a1 == b {
		t.Fatal("handles must be pooled per token")
	}
	c.Forget("1:a")
	if a3, _ := c.handle("1:a"); a3 == a1 {
		t.Fatal("forgotten handle reused")
	}
	if _, err := c.handle(""); err != ErrNoToken {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyTokenAndWebhook(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api)
	ctx := context.Background()

	name, err := c.VerifyToken(ctx, "9:tok")
	if err != nil || name != "flow_bot" {
		t.Fatalf("verify = %q, %v", name, err)
	}
	if err := c.SetWebhook(ctx, "9:tok", "https://bots.example.org/api/webhook/b"); err != nil {
		t.Fatalf("set webhook: %v", err)
	}
	call, ok := api.last("setWebhook")
	if !ok || call.params["url"] != "https://bots.example.org/api/webhook/b" {
		t.Fatalf("setWebhook call = %+v", call)
	}
	if err := c.RemoveWebhook(ctx, "9:tok"); err != nil {
		t.Fatalf("remove webhook: %v", err)
	}
	if _, ok := api.last("deleteWebhook"); !ok {
		t.Fatal("deleteWebhook not called")
	}
	if err := c.SetCommands(ctx, "9:tok", []engine.CommandInfo{{Name: "/start", Description: "Start the bot"}}); err != nil {
		t.Fatalf("set commands: %v", err)
	}
	if _, ok := api.last("setMyCommands"); !ok {
		t.Fatal("setMyCommands not called")
	}
}

func TestHTTPClientIgnoresProxyEnvironment(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://env-proxy.invalid:3128")
	t.Setenv("HTTP_PROXY", "http://env-proxy.invalid:3128")

	hc, err := BuildHTTPClient(config.TelegramConfig{RequestTimeoutMS: 1000})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tr := baseTransport(t, hc); tr.Proxy != nil {
		t.Fatal("proxy must not come from the environment")
	}

	hc, err = BuildHTTPClient(config.TelegramConfig{ProxyURL: "http://proxy.local:8080", RequestTimeoutMS: 1000})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, "https://api.telegram.org/", nil)
	u, err := baseTransport(t, hc).Proxy(req)
	if err != nil || u == nil || u.Host != "proxy.local:8080" {
		t.Fatalf("proxy = %v, %v", u, err)
	}

	if _, err := BuildHTTPClient(config.TelegramConfig{ProxyURL: "not a url"}); err == nil {
		t.Fatal("expected invalid proxy error")
	}
}

func baseTransport(t *testing.T, hc *http.Client) *http.Transport {
	t.Helper()
	rt, ok := hc.Transport.(*retryTransport)
	if !ok {
		t.Fatalf("transport = %T", hc.Transport)
	}
	tr, ok := rt.base.(*http.Transport)
	if !ok {
		t.Fatalf("base = %T", rt.base)
	}
	return tr
}
