package telegram

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/personality"
)

const sharePhoneButton = "📱 Share Phone Number"

// markupFor renders an affordance as a reply keyboard, or nil for none.
func markupFor(a personality.Affordance) *tele.ReplyMarkup {
	switch a {
	case personality.AffordRequestPhone:
		return requestPhoneKeyboard()
	case personality.AffordRemove:
		return removeKeyboard()
	default:
		return nil
	}
}

// requestPhoneKeyboard is a one-shot keyboard with a single contact button.
func requestPhoneKeyboard() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	markup.Reply(markup.Row(markup.Contact(sharePhoneButton)))
	return markup
}

func removeKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}
