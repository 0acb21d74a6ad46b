package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/domain"
)

// Day navigation keyboard. GMs also get clock buttons.
func dayKeyboard(e *calendar.Engine, d domain.CalendarDate, gm bool) tgbotapi.InlineKeyboardMarkup {
	var nav []tgbotapi.InlineKeyboardButton
	if prev, err := e.AddDays(d, -1); err == nil {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️", "day:"+prev.Key()))
	}
	nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("📅 Today", "today"))
	if next, err := e.AddDays(d, 1); err == nil {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("➡️", "day:"+next.Key()))
	}

	rows := [][]tgbotapi.InlineKeyboardButton{nav}
	if gm {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("+1 hour", "adv:hour:1"),
			tgbotapi.NewInlineKeyboardButtonData("+1 day", "adv:day:1"),
			tgbotapi.NewInlineKeyboardButtonData("+1 week", "adv:week:1"),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
