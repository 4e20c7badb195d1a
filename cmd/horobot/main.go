// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"go.astrophena.name/horobot/internal/bot"
	"go.astrophena.name/horobot/internal/catalog"
	"go.astrophena.name/horobot/internal/cli"
	"go.astrophena.name/horobot/internal/cli/envflag"
	"go.astrophena.name/horobot/internal/dispatch"
	"go.astrophena.name/horobot/internal/filelock"
	"go.astrophena.name/horobot/internal/format"
	"go.astrophena.name/horobot/internal/horoscope"
	"go.astrophena.name/horobot/internal/httplogger"
	"go.astrophena.name/horobot/internal/logger"
	"go.astrophena.name/horobot/internal/request"
	"go.astrophena.name/horobot/internal/schedule"
	"go.astrophena.name/horobot/internal/store"
	"go.astrophena.name/horobot/internal/systemd"
	"go.astrophena.name/horobot/internal/telegram"
	"go.astrophena.name/horobot/internal/tgmarkup"
	"go.astrophena.name/horobot/internal/web"

	"golang.org/x/sync/errgroup"
)

const logRingSize = 1000 // N last log lines kept for /debug/logs

var errNoToken = fmt.Errorf("%w: Telegram token is required, pass -token or set TELEGRAM_TOKEN", cli.ErrInvalidArgs)

func main() { cli.Main(new(app)) }

type app struct {
	// configuration
	token      *string
	dbPath     *string
	configPath *string
	sendAt     *string
	tz         *string
	poll       *time.Duration
	adminAddr  *string
	dry        bool
	json       bool
	verbose    bool

	// used in tests
	httpc    *http.Client
	stateDir string
	ready    func(*serveState)

	// initialized by doInit
	logf      logger.Logf
	slog      *slog.Logger
	slogLevel *slog.LevelVar
	logRing   *logger.Ring
}

func (a *app) Flags(ctx context.Context, fs *flag.FlagSet) {
	getenv := cli.GetEnv(ctx).Getenv
	a.token = envflag.Value(fs, getenv, "token", "TELEGRAM_TOKEN", "", "Telegram Bot API token.")
	a.dbPath = envflag.Value(fs, getenv, "db", "DB_PATH", "", "Path to the subscriptions database. Guessed if empty.")
	a.configPath = envflag.Value(fs, getenv, "config", "CONFIG_FILE", "", "Path to a config.star file with categories and the content source. Built-in defaults if empty.")
	a.sendAt = envflag.Value(fs, getenv, "at", "SEND_AT", "08:00", "Daily delivery time, HH:MM.")
	a.tz = envflag.Value(fs, getenv, "tz", "TZ_NAME", "", "Time zone of the delivery time, like Europe/Moscow. Local time zone if empty.")
	a.poll = envflag.Value(fs, getenv, "poll", "POLL_INTERVAL", schedule.DefaultInterval, "How often the scheduler checks the clock.")
	a.adminAddr = envflag.Value(fs, getenv, "admin-addr", "ADMIN_ADDR", "", "Address of the admin HTTP server (health, logs, last dispatch). Disabled if empty.")
	fs.BoolVar(&a.dry, "dry", false, "Enable dry-run mode: log daily messages instead of sending them.")
	fs.BoolVar(&a.json, "json", false, "Output in JSON format (honored in supported commands).")
	fs.BoolVar(&a.verbose, "v", false, "Enable debug logging.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	a.doInit(env)

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}
	command := env.Args[0]

	switch command {
	case "serve":
		return a.serve(ctx)
	case "send":
		return a.send(ctx, env.Stdout)
	case "subscribers":
		return a.listSubscribers(ctx, env.Stdout)
	case "categories":
		return a.listCategories(env.Stdout)
	case "fetch":
		if len(env.Args) != 2 {
			return fmt.Errorf("%w: fetch command expects a category", cli.ErrInvalidArgs)
		}
		return a.fetch(ctx, env.Stdout, env.Args[1])
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

func (a *app) doInit(env *cli.Env) {
	a.logf = env.Logf
	if a.httpc == nil {
		a.httpc = request.DefaultClient
	}
	a.slogLevel = new(slog.LevelVar)
	// Enable debug logging in dry-run mode.
	if a.verbose || a.dry {
		a.slogLevel.Set(slog.LevelDebug)
	}
	a.logRing = logger.NewRing(logRingSize)
	a.slog = logger.New(env.Stderr, a.logRing, a.slogLevel)

	if a.verbose {
		a.httpc = &http.Client{
			Timeout:   a.httpc.Timeout,
			Transport: httplogger.New(a.httpc.Transport, a.slog, telegram.Scrubber(*a.token)),
		}
	}
}

func (a *app) loadConfig() (*catalog.Config, error) {
	if *a.configPath == "" {
		return catalog.Default(), nil
	}
	src, err := os.ReadFile(*a.configPath)
	if err != nil {
		return nil, err
	}
	return catalog.Parse(filepath.Base(*a.configPath), string(src), a.slog)
}

func (a *app) databasePath(getenv func(string) string) string {
	if *a.dbPath == "" && a.stateDir != "" {
		return filepath.Join(a.stateDir, "users.db")
	}
	return store.ResolvePath(*a.dbPath, getenv)
}

func (a *app) openStore(ctx context.Context, cat *catalog.Catalog) (*store.SQLiteStore, error) {
	path := a.databasePath(cli.GetEnv(ctx).Getenv)
	a.slog.Debug("opening database", slog.String("path", path))
	return store.NewSQLiteStore(ctx, path, cat)
}

func (a *app) telegramClient() *telegram.Client {
	return telegram.New(telegram.Config{
		Token:      *a.token,
		HTTPClient: a.httpc,
		Logger:     a.slog,
	})
}

// dryRunSender logs messages instead of sending them.
type dryRunSender struct{ slog *slog.Logger }

func (s dryRunSender) SendMessage(_ context.Context, chatID int64, msg tgmarkup.Message) error {
	s.slog.Info("dry run: would send message", slog.Int64("chat_id", chatID), slog.String("text", msg.Text))
	return nil
}

func (a *app) transport() (dispatch.Sender, error) {
	if a.dry {
		return dryRunSender{a.slog}, nil
	}
	if *a.token == "" {
		return nil, errNoToken
	}
	return a.telegramClient(), nil
}

func (a *app) cycle(cfg *catalog.Config, st dispatch.Lister, tr dispatch.Sender) *dispatch.Cycle {
	return dispatch.New(dispatch.Config{
		Store:     st,
		Fetcher:   &horoscope.Fetcher{Source: cfg.Source, HTTPClient: a.httpc},
		Transport: tr,
		Catalog:   cfg.Catalog,
		Logger:    a.slog,
	})
}

// serveState is what a running serve command consists of.
type serveState struct {
	store     *store.SQLiteStore
	cycle     *dispatch.Cycle
	scheduler *schedule.Scheduler
	bot       *bot.Bot
	mux       *http.ServeMux
}

func (a *app) serve(ctx context.Context) error {
	if *a.token == "" {
		return errNoToken
	}
	env := cli.GetEnv(ctx)

	at, err := schedule.ParseTimeOfDay(*a.sendAt)
	if err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}
	loc := time.Local
	if *a.tz != "" {
		loc, err = time.LoadLocation(*a.tz)
		if err != nil {
			return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
		}
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	dbPath := a.databasePath(env.Getenv)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return err
	}
	lock, err := filelock.Acquire(filelock.PathFor(dbPath))
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := a.openStore(ctx, cfg.Catalog)
	if err != nil {
		return err
	}
	defer st.Close()

	tg := a.telegramClient()
	me, err := tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("checking Telegram token: %w", err)
	}

	tr, err := a.transport()
	if err != nil {
		return err
	}

	s := &serveState{store: st, cycle: a.cycle(cfg, st, tr)}
	s.scheduler = &schedule.Scheduler{
		At:       at,
		Interval: *a.poll,
		Location: loc,
		Logger:   a.slog,
		Job: func(ctx context.Context) {
			if _, err := s.cycle.RunOnce(ctx); err != nil {
				a.slog.Error("dispatch failed", slog.Any("err", err))
			}
		},
	}
	s.bot = bot.New(bot.Config{
		Catalog:  cfg.Catalog,
		Store:    st,
		Client:   tg,
		Logger:   a.slog,
		Username: me.Username,
		SendAt:   at.String(),
	})
	s.mux = a.adminMux(env, s)

	a.slog.Info(
		"bot started",
		slog.String("username", me.Username),
		slog.String("send_at", at.String()),
		slog.String("tz", loc.String()),
		slog.Int("categories", cfg.Catalog.Len()),
	)

	sd := &systemd.Notifier{Getenv: env.Getenv, Logger: a.slog}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.bot.Poll(ctx) })
	g.Go(func() error { sd.WatchdogLoop(ctx); return nil })
	g.Go(func() error { return s.scheduler.Run(ctx) })
	if *a.adminAddr != "" {
		g.Go(func() error {
			return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
				Addr:       *a.adminAddr,
				Mux:        s.mux,
				Logf:       a.logf,
				Debuggable: true,
			})
		})
	}
	sd.Notify(systemd.Ready, systemd.Status("delivering daily at "+at.String()))
	if a.ready != nil {
		a.ready(s)
	}

	err = g.Wait()
	sd.Notify(systemd.Stopping)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.slog.Info("bot stopped")
	return nil
}

func (a *app) adminMux(env *cli.Env, s *serveState) *http.ServeMux {
	mux := http.NewServeMux()

	health := web.NewHealth()
	health.Register("store", func(ctx context.Context) (string, bool) {
		n, err := s.store.Count(ctx)
		if err != nil {
			return err.Error(), false
		}
		return fmt.Sprintf("%d subscriptions", n), true
	})
	health.Register("dispatch", func(context.Context) (string, bool) {
		state, next := s.scheduler.State()
		status := state.String()
		if !next.IsZero() {
			status += ", next at " + next.Format(time.RFC3339)
		}
		if last := s.cycle.Last(); last != nil {
			status += fmt.Sprintf("; last pass %s: %s", last.StartedAt.Format(time.RFC3339), summary(last))
		}
		return status, true
	})
	mux.Handle("/health", health)

	mux.Handle("/debug/logs", a.logRing)
	mux.HandleFunc("/debug/dispatch", func(w http.ResponseWriter, r *http.Request) {
		last := s.cycle.Last()
		if last == nil {
			web.RespondJSONError(env.Logf, w, fmt.Errorf("no dispatch pass yet: %w", web.ErrNotFound))
			return
		}
		web.RespondJSON(w, last)
	})
	return mux
}

func summary(r *dispatch.Report) string {
	return fmt.Sprintf(
		"%d recipients, %d delivered, %d content unavailable, %d failed",
		len(r.Results),
		r.Count(dispatch.Delivered),
		r.Count(dispatch.ContentUnavailable),
		r.Count(dispatch.TransportFailed),
	)
}

func (a *app) send(ctx context.Context, w io.Writer) error {
	tr, err := a.transport()
	if err != nil {
		return err
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	st, err := a.openStore(ctx, cfg.Catalog)
	if err != nil {
		return err
	}
	defer st.Close()

	r, err := a.cycle(cfg, st, tr).RunOnce(ctx)
	if err != nil {
		return err
	}
	if a.json {
		return printJSON(w, r)
	}
	fmt.Fprintf(w, "Pass %s: %s.\n", r.ID, summary(r))
	return nil
}

func (a *app) listSubscribers(ctx context.Context, w io.Writer) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	st, err := a.openStore(ctx, cfg.Catalog)
	if err != nil {
		return err
	}
	defer st.Close()

	subs, err := st.List(ctx)
	if err != nil {
		return err
	}

	if a.json {
		if subs == nil {
			subs = []store.Subscription{}
		}
		return printJSON(w, subs)
	}
	if len(subs) == 0 {
		fmt.Fprintln(w, "No subscribers.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECIPIENT\tCATEGORY")
	for _, sub := range subs {
		name, err := cfg.Catalog.DisplayName(sub.CategoryID)
		if err != nil {
			name = "unknown"
		}
		fmt.Fprintf(tw, "%d\t%s (%s)\n", sub.RecipientID, sub.CategoryID, name)
	}
	return tw.Flush()
}

func (a *app) listCategories(w io.Writer) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.json {
		return printJSON(w, cfg.Catalog.All())
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, cat := range cfg.Catalog.All() {
		fmt.Fprintf(tw, "/%s\t%s\n", cat.ID, cat.Name)
	}
	return tw.Flush()
}

func (a *app) fetch(ctx context.Context, w io.Writer, category string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	category = strings.TrimPrefix(category, "/")
	cat, err := cfg.Catalog.Lookup(category)
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrInvalidArgs, err)
	}

	f := &horoscope.Fetcher{Source: cfg.Source, HTTPClient: a.httpc}
	text, err := f.Fetch(ctx, cat.ID)
	snap := format.Snapshot{CategoryID: cat.ID, Text: text, Err: err}
	fmt.Fprintln(w, format.Text(cat, snap))
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
