package telegram

import (
	"testing"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/engine"
)

func decode(t *testing.T, body string) (engine.Event, bool) {
	t.Helper()
	u, err := DecodeUpdate([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return EventFromUpdate(u)
}

func TestEventFromTextUpdate(t *testing.T) {
	ev, ok := decode(t, `{"update_id":10,"message":{"message_id":5,"date":1,
		"from":{"id":42,"is_bot":false,"first_name":"Ann","last_name":"Lee","username":"ann","language_code":"en"},
		"chat":{"id":42,"type":"private"},"text":"/start"}}`)
	if !ok {
		t.Fatal("message update ignored")
	}
	if ev.UpdateID != 10 || ev.ChatID != 42 || ev.MessageID != 5 || ev.Text != "/start" || ev.Kind != domain.KindText {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Profile.FirstName != "Ann" || ev.Profile.LanguageCode != "en" || ev.Profile.Username != "ann" {
		t.Fatalf("profile = %+v", ev.Profile)
	}
	if ev.Route() != engine.RouteCommand {
		t.Fatalf("route = %s", ev.Route())
	}
}

func TestEventFromContactUpdate(t *testing.T) {
	ev, _ := decode(t, `{"update_id":11,"message":{"message_id":6,"date":1,
		"chat":{"id":42,"type":"private"},
		"contact":{"phone_number":"+15550100","first_name":"Ann"}}}`)
	if ev.Kind != domain.KindContact || ev.Phone != "+15550100" || ev.Route() != engine.RouteContact {
		t.Fatalf("event = %+v", ev)
	}
}

func TestEventFromPhotoKeepsLargestSize(t *testing.T) {
	ev, _ := decode(t, `{"update_id":12,"message":{"message_id":7,"date":1,
		"chat":{"id":42,"type":"private"},"caption":"look",
		"photo":[{"file_id":"small","file_unique_id":"s","width":90,"height":90},
		         {"file_id":"large","file_unique_id":"l","width":800,"height":800}]}}`)
	if ev.Kind != domain.KindPhoto || ev.FileRef != "large" || ev.Text != "look" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestEventFromDocumentAndVoice(t *testing.T) {
	ev, _ := decode(t, `{"update_id":13,"message":{"message_id":8,"date":1,"chat":{"id":1,"type":"private"},
		"document":{"file_id":"doc-1","file_unique_id":"d"}}}`)
	if ev.Kind != domain.KindDocument || ev.FileRef != "doc-1" {
		t.Fatalf("document event = %+v", ev)
	}
	ev, _ = decode(t, `{"update_id":14,"message":{"message_id":9,"date":1,"chat":{"id":1,"type":"private"},
		"voice":{"file_id":"v-1","file_unique_id":"v","duration":3}}}`)
	if ev.Kind != domain.KindVoice || ev.FileRef != "v-1" {
		t.Fatalf("voice event = %+v", ev)
	}
}

func TestNonMessageUpdateIsIgnored(t *testing.T) {
	if _, ok := decode(t, `{"update_id":15,"callback_query":{"id":"1","from":{"id":1,"is_bot":false,"first_name":"A"},"data":"x"}}`); ok {
		t.Fatal("callback update must be ignored")
	}
	if _, err := DecodeUpdate([]byte(`{not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMissingChatYieldsZeroChat(t *testing.T) {
	ev, ok := decode(t, `{"update_id":16,"message":{"message_id":1,"date":1,"text":"hi"}}`)
	if !ok || ev.ChatID != 0 {
		t.Fatalf("event = %+v ok=%v", ev, ok)
	}
}
