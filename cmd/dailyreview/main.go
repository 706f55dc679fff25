package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/conorfennell/dailyreview/internal/config"
	"github.com/conorfennell/dailyreview/internal/deck"
	"github.com/conorfennell/dailyreview/internal/domain"
	"github.com/conorfennell/dailyreview/internal/fsrs"
	"github.com/conorfennell/dailyreview/internal/gitsource"
	"github.com/conorfennell/dailyreview/internal/grader"
	"github.com/conorfennell/dailyreview/internal/lifecycle"
	"github.com/conorfennell/dailyreview/internal/logging"
	"github.com/conorfennell/dailyreview/internal/mcp"
	"github.com/conorfennell/dailyreview/internal/storage"
	sourcesync "github.com/conorfennell/dailyreview/internal/sync"
	"github.com/conorfennell/dailyreview/internal/web"
)

// Version is set via -ldflags at build time.
var Version = "dev"

const usage = `dailyreview - spaced repetition for things worth remembering

Usage: dailyreview <command> [flags]

Commands:
  serve    Run the HTTP API and review page
  mcp      Serve MCP tools over stdio
  sync     Import cards from the configured markdown sources
  add      Create a card: dailyreview add "front" [--context ..] [--tags a,b]
  due      Print the due queue as JSON
  counts   Print triage and due counts as JSON
  version  Print the version

Every command accepts the configuration flags below; run
"dailyreview <command> --help" to list them.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd := args[0]
	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	case "version", "--version":
		fmt.Fprintln(stdout, Version)
		return 0
	case "serve", "mcp", "sync", "add", "due", "counts":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	var add addFlags
	if cmd == "add" {
		fs.StringVar(&add.context, "context", "", "Card context")
		fs.StringSliceVar(&add.tags, "tags", nil, "Comma separated tags")
		fs.StringVar(&add.source, "source", "", "Where the card came from")
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.LoadFlags(fs)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger, err := logging.New(stderr, cfg.Log)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer a.close()

	switch cmd {
	case "serve":
		err = a.serve(ctx)
	case "mcp":
		err = mcp.Run(a.deck, cfg.Owner, Version, logger)
	case "sync":
		err = a.sync(ctx, stdout)
	case "add":
		add.front = strings.Join(fs.Args(), " ")
		err = a.add(ctx, stdout, add)
	case "due":
		err = a.printJSON(stdout, func() (any, error) { return a.deck.Due(ctx, cfg.Owner) })
	case "counts":
		err = a.printJSON(stdout, func() (any, error) { return a.deck.Counts(ctx, cfg.Owner) })
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		return 1
	}
	return 0
}

// app wires the services a command needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  storage.Store
	deck   *deck.Service
	syncer *sourcesync.Syncer
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	sched, err := fsrs.NewScheduler(cfg.Scheduler.Params())
	if err != nil {
		return nil, err
	}
	g, err := grader.New(cfg.Grader)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	svc := deck.New(store, lifecycle.New(sched),
		deck.WithGrader(g),
		deck.WithPolicy(grader.PolicyFrom(cfg.Policy)),
		deck.WithLogger(logger),
	)
	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		deck:   svc,
		syncer: sourcesync.New(svc, gitsource.New(logger), cfg.Sync, logger),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

func (a *app) serve(ctx context.Context) error {
	srv, err := web.NewServer(a.deck, a.cfg.Owner, a.logger)
	if err != nil {
		return err
	}

	var background func(context.Context)
	if len(a.cfg.Sources) > 0 {
		background = func(ctx context.Context) {
			if _, err := a.syncer.Run(ctx, a.cfg.Owner, a.cfg.Sources); err != nil {
				a.logger.Warn("initial sync incomplete", "error", err)
			}
			if a.cfg.Sync.Watch {
				if err := a.syncer.Watch(ctx, a.cfg.Owner, a.cfg.Sources); err != nil {
					a.logger.Error("watching sources", "error", err)
				}
			}
		}
	}

	return alongside(ctx, background, func(ctx context.Context) error {
		return web.Run(ctx, web.NewHTTPServer(a.cfg.Server, srv), a.cfg.Server.ShutdownTimeout, a.logger)
	})
}

// alongside runs bg in a goroutine while fg runs. When fg returns, bg's
// context is cancelled and alongside waits for bg before returning fg's error.
// A nil bg is skipped.
func alongside(ctx context.Context, bg func(context.Context), fg func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if bg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bg(ctx)
		}()
	}
	err := fg(ctx)
	cancel()
	wg.Wait()
	return err
}

func (a *app) sync(ctx context.Context, stdout io.Writer) error {
	reports, runErr := a.syncer.Run(ctx, a.cfg.Owner, a.cfg.Sources)
	for _, r := range reports {
		fmt.Fprintf(stdout, "%s: %d files, %d cards, %d new, %d pruned, %d errors\n",
			r.Root, r.Files, r.Parsed, r.Created, r.Pruned, len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(stdout, "  - %s\n", e)
		}
	}
	if runErr != nil || !a.cfg.Sync.Watch {
		return runErr
	}
	return a.syncer.Watch(ctx, a.cfg.Owner, a.cfg.Sources)
}

type addFlags struct {
	front   string
	context string
	tags    []string
	source  string
}

func (a *app) add(ctx context.Context, stdout io.Writer, f addFlags) error {
	d := domain.Draft{Front: f.front, Tags: f.tags}
	if f.context != "" {
		d.Context = &f.context
	}
	if f.source != "" {
		d.SourceConversation = &f.source
	}
	return a.printJSON(stdout, func() (any, error) {
		cards, err := a.deck.Create(ctx, a.cfg.Owner, []domain.Draft{d})
		if err != nil {
			return nil, err
		}
		return cards[0], nil
	})
}

func (a *app) printJSON(w io.Writer, fn func() (any, error)) error {
	v, err := fn()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
