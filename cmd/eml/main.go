// Command eml exposes the mail store and the message core as a JSON CLI.
//
//	eml [-root dir] <command> [args]
//
// Drafts for preview and send are read as JSON from stdin.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/mixelka/mailcore/internal/config"
	"github.com/mixelka/mailcore/internal/database"
	"github.com/mixelka/mailcore/internal/email"
	"github.com/mixelka/mailcore/internal/eml"
	"github.com/mixelka/mailcore/internal/parser"
	"github.com/mixelka/mailcore/internal/service"
	"github.com/mixelka/mailcore/internal/transport"
)

// errUsage is returned for malformed command lines
var errUsage = errors.New("usage")

type command struct {
	usage    string
	writes   bool
	needArgs int
	run      func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"list":    {usage: "list <query>", run: cmdList},
	"count":   {usage: "count <query>", run: cmdCount},
	"view":    {usage: "view <id>", needArgs: 1, run: cmdView},
	"meta":    {usage: "meta <id>", needArgs: 1, run: cmdMeta},
	"tags":    {usage: "tags", run: cmdTags},
	"tag":     {usage: "tag <tag> <query>", writes: true, needArgs: 2, run: cmdTag(true)},
	"untag":   {usage: "untag <tag> <query>", writes: true, needArgs: 2, run: cmdTag(false)},
	"reply":   {usage: "reply <id>", needArgs: 1, run: cmdReply},
	"preview": {usage: "preview < draft.json", run: cmdPreview},
	"send":    {usage: "send < draft.json", writes: true, run: cmdSend},
	"index":   {usage: "index <file> [tag...]", writes: true, needArgs: 1, run: cmdIndex},
	"import":  {usage: "import <mbox> [tag...]", writes: true, needArgs: 1, run: cmdImport},
	"export":  {usage: "export <mbox|-> <query>", needArgs: 1, run: cmdExport},
	"sync":    {usage: "sync", writes: true, run: cmdSync},
	"relay":   {usage: "relay <id> <from> <to...>", needArgs: 3, run: cmdRelay},
}

// app carries what every command needs
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *database.DB
	svc    *service.Service
	sender transport.Sender
	stdin  io.Reader
	stdout io.Writer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{
		cfg:    cfg,
		logger: cfg.NewLogger(os.Stderr),
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		a.writeError(err)
		os.Exit(1)
	}
}

func usage() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("usage: eml [-root dir] <command> [args]\n\ncommands:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "  %s\n", commands[name].usage)
	}
	return sb.String()
}

// run parses the command line and executes one command
func (a *app) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eml", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	root := fs.String("root", a.cfg.MailRoot, "mail store directory")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v\n%s", errUsage, err, usage())
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("%w: missing command\n%s", errUsage, usage())
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q\n%s", errUsage, rest[0], usage())
	}
	if len(rest)-1 < cmd.needArgs {
		return fmt.Errorf("%w: eml %s", errUsage, cmd.usage)
	}

	mode := database.ReadOnly
	if cmd.writes {
		mode = database.ReadWrite
	}
	db, err := database.Open(ctx, *root, mode)
	if err != nil {
		return err
	}
	defer db.Close()
	a.db = db

	if a.sender == nil {
		a.sender, err = transport.FromConfig(ctx, a.cfg, a.logger)
		if err != nil {
			return err
		}
	}
	a.svc = service.New(db, a.sender, parser.NewCleaner(), service.Config{ListLimit: a.cfg.ListLimit}, a.logger)

	return cmd.run(ctx, a, rest[1:])
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeError reports err as JSON, keeping the structure of parse errors
func (a *app) writeError(err error) {
	var pe *eml.ParseError
	if errors.As(err, &pe) {
		a.writeJSON(map[string]any{"err": pe})
		return
	}
	a.writeJSON(map[string]any{"err": map[string]string{"reason": err.Error()}})
}

func (a *app) readDraft() (*eml.Draft, error) {
	var draft eml.Draft
	if err := json.NewDecoder(a.stdin).Decode(&draft); err != nil {
		return nil, fmt.Errorf("failed to decode draft: %w", err)
	}
	return &draft, nil
}

func cmdList(ctx context.Context, a *app, args []string) error {
	results, err := a.svc.ListEml(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return a.writeJSON(results)
}

func cmdCount(ctx context.Context, a *app, args []string) error {
	n, err := a.svc.CountMatches(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return a.writeJSON(map[string]int{"count": n})
}

func cmdView(ctx context.Context, a *app, args []string) error {
	body, err := a.svc.ViewEml(ctx, args[0])
	if err != nil {
		return err
	}
	return a.writeJSON(body)
}

func cmdMeta(ctx context.Context, a *app, args []string) error {
	meta, err := a.svc.ViewMeta(ctx, args[0])
	if err != nil {
		return err
	}
	return a.writeJSON(meta)
}

func cmdTags(ctx context.Context, a *app, args []string) error {
	tags, err := a.svc.ListTags(ctx)
	if err != nil {
		return err
	}
	return a.writeJSON(tags)
}

func cmdTag(add bool) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		tag, query := args[0], strings.Join(args[1:], " ")

		var (
			n   int64
			err error
		)
		if add {
			n, err = a.svc.ApplyTag(ctx, query, tag)
		} else {
			n, err = a.svc.RemoveTag(ctx, query, tag)
		}
		if err != nil {
			return err
		}
		return a.writeJSON(map[string]int64{"changed": n})
	}
}

func cmdReply(ctx context.Context, a *app, args []string) error {
	tmpl, err := a.svc.ReplyTemplate(ctx, args[0])
	if err != nil {
		return err
	}
	return a.writeJSON(tmpl)
}

func cmdPreview(ctx context.Context, a *app, args []string) error {
	draft, err := a.readDraft()
	if err != nil {
		return err
	}
	raw, err := a.svc.Preview(draft)
	if err != nil {
		return err
	}
	_, err = io.WriteString(a.stdout, raw)
	return err
}

func cmdSend(ctx context.Context, a *app, args []string) error {
	draft, err := a.readDraft()
	if err != nil {
		return err
	}
	msg, err := a.svc.Send(ctx, draft)
	if err != nil {
		return err
	}
	return a.writeJSON(messageJSON(msg))
}

func cmdIndex(ctx context.Context, a *app, args []string) error {
	msg, err := a.db.IndexFile(ctx, args[0], args[1:]...)
	if err != nil {
		return err
	}
	return a.writeJSON(messageJSON(msg))
}

func cmdImport(ctx context.Context, a *app, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	stats, err := a.db.ImportMbox(ctx, f, args[1:]...)
	if err != nil {
		return err
	}
	return a.writeJSON(map[string]int{"imported": stats.Imported, "duplicates": stats.Duplicates})
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	query := strings.Join(args[1:], " ")
	if args[0] == "-" {
		_, err := a.db.ExportMbox(ctx, a.stdout, query)
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	n, err := a.db.ExportMbox(ctx, f, query)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return a.writeJSON(map[string]int{"exported": n})
}

func cmdSync(ctx context.Context, a *app, args []string) error {
	if !a.cfg.IMAPEnabled() {
		return errors.New("IMAP_EMAIL and IMAP_PASSWORD are not set")
	}
	server := a.cfg.IMAPServer
	if server == "" {
		var err error
		if server, err = email.ResolveIMAPServer(a.cfg.IMAPEmail); err != nil {
			return err
		}
	}

	manager := email.NewManager(a.db, a.cfg.IMAPPollInterval, a.cfg.IMAPDialTimeout, a.logger)
	n, err := manager.SyncOnce(ctx, email.Account{
		Email:    a.cfg.IMAPEmail,
		Password: a.cfg.IMAPPassword,
		Server:   server,
	})
	if err != nil {
		return err
	}
	return a.writeJSON(map[string]int{"stored": n})
}

func cmdRelay(ctx context.Context, a *app, args []string) error {
	env, err := transport.NewEnvelope(args[1], args[2:])
	if err != nil {
		return err
	}
	resp, err := a.svc.Relay(ctx, args[0], env)
	if err != nil {
		return err
	}
	return a.writeJSON(resp)
}

type storedMessage struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"thread_id"`
	Seq      int64    `json:"seq"`
	Tags     []string `json:"tags"`
	Filename string   `json:"filename"`
}

func messageJSON(m *database.Message) storedMessage {
	return storedMessage{
		ID:       m.ID(),
		ThreadID: m.ThreadID(),
		Seq:      m.Seq(),
		Tags:     m.Tags(),
		Filename: m.Filename(),
	}
}
