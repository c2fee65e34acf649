package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mixelka/mailcore/internal/config"
	"github.com/mixelka/mailcore/internal/database"
	"github.com/mixelka/mailcore/internal/email"
	"github.com/mixelka/mailcore/internal/formatter"
	"github.com/mixelka/mailcore/internal/parser"
	"github.com/mixelka/mailcore/internal/service"
	"github.com/mixelka/mailcore/internal/telegram"
	"github.com/mixelka/mailcore/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateBot(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := cfg.NewLogger(os.Stdout)
	logger.Info("starting mail bot", "root", cfg.MailRoot)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Open the mail store, creating it and running migrations when needed
	db, err := database.Open(ctx, cfg.MailRoot, database.ReadWrite)
	if err != nil {
		logger.Error("failed to open mail store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	sender, err := transport.FromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create transport", "error", err)
		os.Exit(1)
	}
	if sender == nil {
		logger.Warn("no transport configured, sending is disabled")
	} else {
		logger.Info("transport enabled", "transport", sender.Name())
	}

	// Create components
	svc := service.New(db, sender, parser.NewCleaner(), service.Config{ListLimit: cfg.ListLimit}, logger)
	tgFormatter := formatter.NewTelegramFormatter(parser.NewHTMLParser())

	var emailManager *email.Manager
	var account email.Account
	if cfg.IMAPEnabled() {
		server := cfg.IMAPServer
		if server == "" {
			server, err = email.ResolveIMAPServer(cfg.IMAPEmail)
			if err != nil {
				logger.Error("failed to resolve IMAP server", "error", err, "email", cfg.IMAPEmail)
				os.Exit(1)
			}
		}
		account = email.Account{Email: cfg.IMAPEmail, Password: cfg.IMAPPassword, Server: server}
		emailManager = email.NewManager(db, cfg.IMAPPollInterval, cfg.IMAPDialTimeout, logger)
	}

	// Create bot
	bot, err := telegram.NewBot(telegram.BotDeps{
		Config:       cfg,
		DB:           db,
		Service:      svc,
		EmailManager: emailManager,
		Formatter:    tgFormatter,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	// Setup email callbacks before polling starts
	bot.SetupEmailCallbacks()
	if emailManager != nil {
		emailManager.Start(ctx, account)
		defer emailManager.Stop()
	}

	// Start bot (blocks until ctx is cancelled)
	logger.Info("bot is running, press Ctrl+C to stop")
	bot.Start(ctx)

	logger.Info("shutting down")
}
