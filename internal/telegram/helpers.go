package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/mailcore/internal/database"
	"github.com/mixelka/mailcore/internal/eml"
)

// commandArgs returns the text after the command word
func commandArgs(text string) string {
	_, args, _ := strings.Cut(strings.TrimSpace(text), " ")
	return strings.TrimSpace(args)
}

// callbackChat returns where a callback button was pressed
func callbackChat(callback *models.CallbackQuery) (int64, int) {
	if m := callback.Message.Message; m != nil {
		return m.Chat.ID, m.MessageThreadID
	}
	return 0, 0
}

// replyDraft builds the draft for a quick reply. A reply whose From lists
// several addresses is sent on behalf of account, using its display name
// from From when it is there.
func replyDraft(tmpl *eml.ReplyTemplate, text, account string) *eml.Draft {
	draft := &eml.Draft{Meta: tmpl.Meta, Body: strings.TrimSpace(text) + tmpl.Body}
	if len(draft.Meta.From) < 2 || draft.Meta.Sender != nil || account == "" {
		return draft
	}

	sender := eml.Mailbox{Address: account}
	for _, m := range draft.Meta.From {
		if strings.EqualFold(m.Address, account) {
			sender = m
			break
		}
	}
	draft.Meta.Sender = &sender
	return draft
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// replyError logs err and tells the user what went wrong
func (b *Bot) replyError(ctx context.Context, msg *models.Message, text string, err error) {
	b.logger.Error(text, "error", err, "command", msg.Text)

	var pe *eml.ParseError
	switch {
	case errors.Is(err, database.ErrNotFound):
		text = "Письмо не найдено"
	case errors.Is(err, database.ErrInvalidQuery):
		text = "Неверный запрос: <code>" + escape(err.Error()) + "</code>"
	case errors.As(err, &pe):
		text = fmt.Sprintf("%s: <code>%s</code>", text, escape(pe.Error()))
	}
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, text)
}

// sendMessage sends a message to a topic
func (b *Bot) sendMessage(ctx context.Context, chatID int64, topicID int, text string) (*models.Message, error) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}

	if topicID != 0 {
		params.MessageThreadID = topicID
	}

	return b.bot.SendMessage(ctx, params)
}

// sendMessageWithKeyboard sends a message with inline keyboard
func (b *Bot) sendMessageWithKeyboard(ctx context.Context, chatID int64, topicID int, text string, keyboard *models.InlineKeyboardMarkup) (*models.Message, error) {
	params := &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: keyboard,
	}

	if topicID != 0 {
		params.MessageThreadID = topicID
	}

	return b.bot.SendMessage(ctx, params)
}

// editMessageReplyMarkup edits the reply markup of a message
func (b *Bot) editMessageReplyMarkup(ctx context.Context, chatID int64, msgID int, keyboard *models.InlineKeyboardMarkup) error {
	_, err := b.bot.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
		ChatID:      chatID,
		MessageID:   msgID,
		ReplyMarkup: keyboard,
	})
	return err
}

// answerCallback answers a callback query
func (b *Bot) answerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	_, err := b.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       showAlert,
	})
	return err
}
