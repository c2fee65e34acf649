package formatter

import (
	"encoding/json"
	"slices"

	"github.com/go-telegram/bot/models"

	appmodels "github.com/mixelka/mailcore/pkg/models"
)

// BuildMessageKeyboard creates an inline keyboard for a stored message.
// Buttons only offer actions that would change the message tags.
func BuildMessageKeyboard(seq int64, tags []string) *models.InlineKeyboardMarkup {
	button := func(text string, action appmodels.CallbackAction) models.InlineKeyboardButton {
		return models.InlineKeyboardButton{
			Text:         text,
			CallbackData: EncodeCallback(appmodels.CallbackData{Action: action, Seq: seq}),
		}
	}

	var tagRow []models.InlineKeyboardButton
	if slices.Contains(tags, "unread") {
		tagRow = append(tagRow, button("Прочитано", appmodels.CallbackMarkRead))
	}
	if slices.Contains(tags, "inbox") {
		tagRow = append(tagRow, button("В архив", appmodels.CallbackArchive))
	}

	actionRow := []models.InlineKeyboardButton{
		button("Открыть", appmodels.CallbackView),
		button("Ответить", appmodels.CallbackReply),
	}

	rows := [][]models.InlineKeyboardButton{}
	if len(tagRow) > 0 {
		rows = append(rows, tagRow)
	}
	rows = append(rows, actionRow)

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data appmodels.CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (appmodels.CallbackData, error) {
	var cb appmodels.CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
