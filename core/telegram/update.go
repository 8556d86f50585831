package telegram

import (
	"encoding/json"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/engine"
)

// DecodeUpdate parses a webhook body.
func DecodeUpdate(body []byte) (tele.Update, error) {
	var u tele.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return tele.Update{}, fmt.Errorf("telegram: decode update: %w", err)
	}
	return u, nil
}

// EventFromUpdate converts an update into an engine event. It reports false
// for updates that carry no message, such as callbacks or edits.
func EventFromUpdate(u tele.Update) (engine.Event, bool) {
	m := u.Message
	if m == nil {
		return engine.Event{}, false
	}
	ev := engine.Event{
		UpdateID:  u.ID,
		MessageID: m.ID,
		Text:      m.Text,
		Kind:      domain.KindText,
	}
	if m.Chat != nil {
		ev.ChatID = m.Chat.ID
	}
	if s := m.Sender; s != nil {
		ev.Profile = domain.Profile{
			Username:     s.Username,
			FirstName:    s.FirstName,
			LastName:     s.LastName,
			LanguageCode: s.LanguageCode,
		}
	}
	if ev.Text == "" {
		ev.Text = m.Caption
	}

	switch {
	case m.Contact != nil:
		ev.Kind = domain.KindContact
		ev.Phone = m.Contact.PhoneNumber
	case m.Photo != nil:
		// the photo decoder keeps the largest size
		ev.Kind, ev.FileRef = domain.KindPhoto, m.Photo.FileID
	case m.Video != nil:
		ev.Kind, ev.FileRef = domain.KindVideo, m.Video.FileID
	case m.Document != nil:
		ev.Kind, ev.FileRef = domain.KindDocument, m.Document.FileID
	case m.Audio != nil:
		ev.Kind, ev.FileRef = domain.KindAudio, m.Audio.FileID
	case m.Voice != nil:
		ev.Kind, ev.FileRef = domain.KindVoice, m.Voice.FileID
	case m.Sticker != nil:
		ev.Kind, ev.FileRef = domain.KindSticker, m.Sticker.FileID
	case m.Location != nil:
		ev.Kind = domain.KindLocation
	}
	return ev, true
}
