package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/mixelka/mailcore/internal/database"
)

// SetupEmailCallbacks routes new mail and ingestion errors to the chat
func (b *Bot) SetupEmailCallbacks() {
	if b.emailManager == nil {
		return
	}
	b.emailManager.SetMessageHandler(b.onNewEmail)
	b.emailManager.SetErrorHandler(b.onEmailError)
}

// onNewEmail announces a newly stored message
func (b *Bot) onNewEmail(account string, msg *database.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b.logger.Info("received new email",
		"account", account,
		"id", msg.ID(),
		"subject", msg.Subject(),
	)

	b.showMessage(ctx, b.chatID, 0, msg)
}

// onEmailError handles an email error
func (b *Bot) onEmailError(account string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b.logger.Error("email error", "account", account, "error", err)

	text := fmt.Sprintf("Ошибка получения почты <b>%s</b>:\n<code>%s</code>\n\nПовторю при следующей проверке.",
		escape(account), escape(err.Error()))
	b.sendMessage(ctx, b.chatID, 0, text)
}
