package telegram

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/mailcore/internal/config"
	"github.com/mixelka/mailcore/internal/database"
	"github.com/mixelka/mailcore/internal/email"
	"github.com/mixelka/mailcore/internal/formatter"
	"github.com/mixelka/mailcore/internal/service"
)

// Bot represents the Telegram bot
type Bot struct {
	bot          *bot.Bot
	db           *database.DB
	service      *service.Service
	emailManager *email.Manager
	formatter    *formatter.TelegramFormatter
	logger       *slog.Logger
	chatID       int64
	account      string
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Config       *config.Config
	DB           *database.DB
	Service      *service.Service
	EmailManager *email.Manager // nil when IMAP is not configured
	Formatter    *formatter.TelegramFormatter
	Logger       *slog.Logger
}

// NewBot creates a new Telegram bot
func NewBot(deps BotDeps) (*Bot, error) {
	b := &Bot{
		db:           deps.DB,
		service:      deps.Service,
		emailManager: deps.EmailManager,
		formatter:    deps.Formatter,
		logger:       deps.Logger.With("component", "telegram_bot"),
		chatID:       deps.Config.TelegramChatID,
		account:      deps.Config.IMAPEmail,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithMiddlewares(b.onlyConfiguredChat),
	}

	tgBot, err := bot.New(deps.Config.TelegramToken, opts...)
	if err != nil {
		return nil, err
	}

	b.bot = tgBot
	b.registerHandlers()

	return b, nil
}

// registerHandlers registers command handlers
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/search", bot.MatchTypePrefix, b.handleSearch)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/count", bot.MatchTypePrefix, b.handleCount)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/view", bot.MatchTypePrefix, b.handleView)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/tags", bot.MatchTypeExact, b.handleTags)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/tag ", bot.MatchTypePrefix, b.handleTag)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/untag", bot.MatchTypePrefix, b.handleUntag)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/reply", bot.MatchTypePrefix, b.handleReply)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/send", bot.MatchTypePrefix, b.handleSend)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.handleHelp)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, b.handleHelp)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// Start starts the bot
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("starting telegram bot", "chat_id", b.chatID)
	b.bot.Start(ctx)
}

// onlyConfiguredChat drops updates from any chat but the configured one
func (b *Bot) onlyConfiguredChat(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
		var chatID int64
		switch {
		case update.Message != nil:
			chatID = update.Message.Chat.ID
		case update.CallbackQuery != nil && update.CallbackQuery.Message.Message != nil:
			chatID = update.CallbackQuery.Message.Message.Chat.ID
		}
		if chatID != b.chatID {
			b.logger.Debug("ignoring update from foreign chat", "chat_id", chatID)
			return
		}
		next(ctx, tgBot, update)
	}
}

// defaultHandler handles unknown messages
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	// Ignore non-message updates and messages without text
	if update.Message == nil {
		return
	}

	// Log unknown commands
	if update.Message.Text != "" && update.Message.Text[0] == '/' {
		b.logger.Debug("unknown command", "text", update.Message.Text)
	}
}

// handleHelp handles /help and /start commands
func (b *Bot) handleHelp(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	text := `<b>Почтовый ящик в Telegram</b>

<b>Команды:</b>
/search запрос - найти письма (новые сверху)
/count запрос - сколько писем подходит под запрос
/view id - показать письмо
/tags - список тегов
/tag тег запрос - добавить тег письмам
/untag тег запрос - снять тег с писем
/reply id - черновик ответа
/send id текст - отправить ответ

<b>Запросы:</b>
<code>tag:inbox and not tag:archive</code>
<code>from:alice subject:"счёт"</code>
<code>(tag:work or to:me@example.org) thread:abc</code>`

	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, text)
}
