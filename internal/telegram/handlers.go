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
	"github.com/mixelka/mailcore/internal/formatter"
	"github.com/mixelka/mailcore/internal/transport"
	appmodels "github.com/mixelka/mailcore/pkg/models"
)

// handleSearch handles /search command
// Usage: /search query
func (b *Bot) handleSearch(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	query := commandArgs(msg.Text)

	results, err := b.service.ListEml(ctx, query)
	if err != nil {
		b.replyError(ctx, msg, "Ошибка поиска", err)
		return
	}

	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, b.formatter.FormatList(results))
}

// handleCount handles /count command
// Usage: /count query
func (b *Bot) handleCount(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	query := commandArgs(msg.Text)

	n, err := b.service.CountMatches(ctx, query)
	if err != nil {
		b.replyError(ctx, msg, "Ошибка поиска", err)
		return
	}

	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, fmt.Sprintf("Найдено писем: <b>%d</b>", n))
}

// handleView handles /view command
// Usage: /view id
func (b *Bot) handleView(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	id := commandArgs(msg.Text)
	if id == "" {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Использование: <code>/view id</code>")
		return
	}

	stored, err := b.db.FindMessage(ctx, id)
	if err != nil {
		b.replyError(ctx, msg, "Письмо не найдено", err)
		return
	}
	b.showMessage(ctx, msg.Chat.ID, msg.MessageThreadID, stored)
}

// handleTags handles /tags command
func (b *Bot) handleTags(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	tags, err := b.service.ListTags(ctx)
	if err != nil {
		b.replyError(ctx, msg, "Ошибка получения тегов", err)
		return
	}

	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, b.formatter.FormatTags(tags))
}

// handleTag handles /tag command
// Usage: /tag tag query
func (b *Bot) handleTag(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.changeTag(ctx, update.Message, true)
}

// handleUntag handles /untag command
// Usage: /untag tag query
func (b *Bot) handleUntag(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.changeTag(ctx, update.Message, false)
}

func (b *Bot) changeTag(ctx context.Context, msg *models.Message, add bool) {
	tag, query, ok := strings.Cut(commandArgs(msg.Text), " ")
	if !ok || strings.TrimSpace(query) == "" {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID,
			"Использование: <code>/tag тег запрос</code> или <code>/untag тег запрос</code>")
		return
	}

	var (
		n   int64
		err error
	)
	if add {
		n, err = b.service.ApplyTag(ctx, query, tag)
	} else {
		n, err = b.service.RemoveTag(ctx, query, tag)
	}
	if err != nil {
		b.replyError(ctx, msg, "Ошибка изменения тегов", err)
		return
	}

	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, fmt.Sprintf("Изменено писем: <b>%d</b>", n))
}

// handleReply handles /reply command
// Usage: /reply id
func (b *Bot) handleReply(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	id := commandArgs(msg.Text)
	if id == "" {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Использование: <code>/reply id</code>")
		return
	}
	b.showReply(ctx, msg.Chat.ID, msg.MessageThreadID, id)
}

// handleSend handles /send command
// Usage: /send id text
func (b *Bot) handleSend(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	id, text, ok := strings.Cut(commandArgs(msg.Text), " ")
	if !ok || strings.TrimSpace(text) == "" {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Использование: <code>/send id текст ответа</code>")
		return
	}

	tmpl, err := b.service.ReplyTemplate(ctx, id)
	if err != nil {
		b.replyError(ctx, msg, "Не удалось подготовить ответ", err)
		return
	}

	draft := replyDraft(tmpl, text, b.account)
	sent, err := b.service.Send(ctx, draft)
	if err != nil {
		var refused *transport.DeliveryError
		if errors.As(err, &refused) {
			b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID,
				fmt.Sprintf("Сервер отклонил письмо: <code>%d %s</code>", refused.Code, escape(refused.Message)))
			return
		}
		b.replyError(ctx, msg, "Ошибка отправки", err)
		return
	}

	b.logger.Info("reply sent", "in_reply_to", id, "id", sent.ID())
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID,
		fmt.Sprintf("Ответ отправлен\n<code>%s</code>", escape(sent.ID())))
}

// handleCallback handles inline button callbacks
func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Error("failed to decode callback", "error", err, "data", callback.Data)
		b.answerCallback(ctx, callback.ID, "Ошибка", false)
		return
	}

	stored, err := b.db.FindMessageBySeq(ctx, data.Seq)
	if err != nil {
		b.logger.Error("failed to get message", "error", err, "seq", data.Seq)
		b.answerCallback(ctx, callback.ID, "Сообщение не найдено", false)
		return
	}

	switch data.Action {
	case appmodels.CallbackMarkRead:
		b.handleRemoveTag(ctx, callback, stored, "unread", "Помечено как прочитанное")
	case appmodels.CallbackArchive:
		b.handleRemoveTag(ctx, callback, stored, "inbox", "Перемещено в архив")
	case appmodels.CallbackView:
		b.answerCallback(ctx, callback.ID, "", false)
		chatID, threadID := callbackChat(callback)
		b.showMessage(ctx, chatID, threadID, stored)
	case appmodels.CallbackReply:
		b.answerCallback(ctx, callback.ID, "", false)
		chatID, threadID := callbackChat(callback)
		b.showReply(ctx, chatID, threadID, stored.ID())
	default:
		b.answerCallback(ctx, callback.ID, "Неизвестное действие", false)
	}
}

// handleRemoveTag removes a tag from the message behind a button and
// refreshes the keyboard
func (b *Bot) handleRemoveTag(ctx context.Context, callback *models.CallbackQuery, stored *database.Message, tag, done string) {
	if err := b.db.RemoveTag(ctx, stored.ID(), tag); err != nil {
		b.logger.Error("failed to remove tag", "error", err, "id", stored.ID(), "tag", tag)
		b.answerCallback(ctx, callback.ID, "Ошибка: "+err.Error(), false)
		return
	}

	updated, err := b.db.FindMessage(ctx, stored.ID())
	if err != nil {
		b.logger.Error("failed to reload message", "error", err)
	} else if m := callback.Message.Message; m != nil {
		keyboard := formatter.BuildMessageKeyboard(updated.Seq(), updated.Tags())
		if err := b.editMessageReplyMarkup(ctx, m.Chat.ID, m.ID, keyboard); err != nil {
			b.logger.Warn("failed to update keyboard", "error", err)
		}
	}

	b.answerCallback(ctx, callback.ID, done, false)
}

// showMessage sends a stored message with its keyboard
func (b *Bot) showMessage(ctx context.Context, chatID int64, threadID int, stored *database.Message) {
	meta, err := b.service.ViewMeta(ctx, stored.ID())
	if err != nil {
		b.logger.Warn("failed to extract message", "error", err, "id", stored.ID())
		b.sendMessage(ctx, chatID, threadID, fmt.Sprintf("Не удалось прочитать письмо: <code>%s</code>", escape(err.Error())))
		return
	}
	body, err := b.service.ViewEml(ctx, stored.ID())
	if err != nil {
		b.logger.Warn("failed to decompose message", "error", err, "id", stored.ID())
		body = &eml.Body{Mimetype: "text/plain", Content: "[" + err.Error() + "]"}
	}

	keyboard := formatter.BuildMessageKeyboard(stored.Seq(), stored.Tags())
	if _, err := b.sendMessageWithKeyboard(ctx, chatID, threadID, b.formatter.FormatMessage(meta, body), keyboard); err != nil {
		b.logger.Error("failed to send to telegram", "error", err)
	}
}

// showReply sends the reply template for a message
func (b *Bot) showReply(ctx context.Context, chatID int64, threadID int, id string) {
	tmpl, err := b.service.ReplyTemplate(ctx, id)
	if err != nil {
		b.logger.Warn("failed to template reply", "error", err, "id", id)
		b.sendMessage(ctx, chatID, threadID, fmt.Sprintf("Не удалось подготовить ответ: <code>%s</code>", escape(err.Error())))
		return
	}

	text := b.formatter.FormatReply(tmpl) +
		fmt.Sprintf("\n\nОтправить: <code>/send %s текст</code>", escape(id))
	b.sendMessage(ctx, chatID, threadID, text)
}
