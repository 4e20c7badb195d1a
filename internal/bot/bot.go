// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bot implements the chat command surface: choosing a category and
// inspecting the current subscription.
package bot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.astrophena.name/horobot/internal/catalog"
	"go.astrophena.name/horobot/internal/store"
	"go.astrophena.name/horobot/internal/telegram"
	"go.astrophena.name/horobot/internal/tgmarkup"
)

const (
	defaultPollTimeout = 30 * time.Second
	retryDelay         = 5 * time.Second
)

// Store is the part of [store.Store] used by the bot.
type Store interface {
	Upsert(ctx context.Context, recipientID int64, categoryID string) error
	Get(ctx context.Context, recipientID int64) (sub store.Subscription, ok bool, err error)
}

// Client is the part of the Telegram client used by the bot.
type Client interface {
	SendMessage(ctx context.Context, chatID int64, msg tgmarkup.Message) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Config configures a [Bot].
type Config struct {
	Catalog *catalog.Catalog
	Store   Store
	Client  Client
	Logger  *slog.Logger
	// Username of the bot, without "@". Commands addressed to other bots
	// are ignored when set.
	Username string
	// SendAt is shown in the greeting, like "08:00".
	SendAt string
	// PollTimeout is the long polling timeout. Defaults to 30 seconds.
	PollTimeout time.Duration
}

// Bot handles incoming messages.
type Bot struct {
	catalog     *catalog.Catalog
	store       Store
	client      Client
	slog        *slog.Logger
	username    string
	sendAt      string
	pollTimeout time.Duration
	retryDelay  time.Duration
}

// New returns a new Bot.
func New(cfg Config) *Bot {
	b := &Bot{
		catalog:     cfg.Catalog,
		store:       cfg.Store,
		client:      cfg.Client,
		slog:        cfg.Logger,
		username:    strings.TrimPrefix(cfg.Username, "@"),
		sendAt:      cmp.Or(cfg.SendAt, "08:00"),
		pollTimeout: cmp.Or(cfg.PollTimeout, defaultPollTimeout),
		retryDelay:  retryDelay,
	}
	if b.slog == nil {
		b.slog = slog.Default()
	}
	return b
}

// Register subscribes recipientID to the category named by text, which may be
// a bare id or a command like "/leo" or "/leo@horo_bot". The category is
// validated before anything is written; an unknown one results in a
// [*catalog.ValidationError] and leaves the store untouched.
func (b *Bot) Register(ctx context.Context, recipientID int64, text string) (catalog.Category, error) {
	id, _ := b.parseCommand(text)
	cat, err := b.catalog.Lookup(id)
	if err != nil {
		return catalog.Category{}, err
	}
	if err := b.store.Upsert(ctx, recipientID, cat.ID); err != nil {
		return catalog.Category{}, err
	}
	return cat, nil
}

// Handle processes a single update, replying to the sender when needed.
func (b *Bot) Handle(ctx context.Context, u telegram.Update) error {
	msg := u.Message
	if msg == nil || !strings.HasPrefix(msg.Text, "/") {
		return nil
	}
	cmd, ok := b.parseCommand(msg.Text)
	if !ok {
		return nil
	}
	chatID := msg.Chat.ID

	switch cmd {
	case "start", "help":
		return b.reply(ctx, chatID, b.greeting())
	case "me":
		return b.handleMe(ctx, chatID)
	}

	cat, err := b.Register(ctx, chatID, cmd)
	var verr *catalog.ValidationError
	switch {
	case errors.As(err, &verr):
		if rerr := b.reply(ctx, chatID, markdown(unknownCategoryReply)); rerr != nil {
			return rerr
		}
		return err
	case err != nil:
		return errors.Join(err, b.reply(ctx, chatID, markdown(storageErrorReply)))
	}

	b.slog.Info("subscribed", slog.Int64("recipient", chatID), slog.String("category", cat.ID))
	return b.reply(ctx, chatID, markdown(subscribedReply, cat.Name))
}

func (b *Bot) handleMe(ctx context.Context, chatID int64) error {
	sub, ok, err := b.store.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if !ok {
		return b.reply(ctx, chatID, markdown(notSubscribedReply))
	}
	name, err := b.catalog.DisplayName(sub.CategoryID)
	if err != nil {
		name = sub.CategoryID
	}
	return b.reply(ctx, chatID, markdown(currentReply, name, b.sendAt))
}

func (b *Bot) greeting() tgmarkup.Message {
	var r tgmarkup.Builder
	r.Append(markdown(greetingReply, b.sendAt))
	r.Text("\n\n")
	for i, cat := range b.catalog.All() {
		if i > 0 {
			r.Text("\n")
		}
		r.Text("/" + cat.ID + " — " + cat.Name)
	}
	return r.Message()
}

func (b *Bot) reply(ctx context.Context, chatID int64, msg tgmarkup.Message) error {
	return b.client.SendMessage(ctx, chatID, msg)
}

// Replies are Markdown templates. Arguments are escaped, so names from the
// config are shown as written.
const (
	greetingReply        = "Выбери знак, и я буду присылать гороскоп каждый день в **%s**:"
	subscribedReply      = "✅ Подписка оформлена: **%s**"
	unknownCategoryReply = "Не знаю такого знака. Список знаков: /start"
	storageErrorReply    = "Не удалось сохранить подписку, попробуй позже."
	notSubscribedReply   = "Ты ещё не подписан. Выбери знак: /start"
	currentReply         = "Твой знак: **%s**\nГороскоп приходит каждый день в %s."
)

func markdown(format string, args ...string) tgmarkup.Message {
	escaped := make([]any, len(args))
	for i, arg := range args {
		escaped[i] = tgmarkup.Escape(arg)
	}
	return tgmarkup.FromMarkdown(fmt.Sprintf(format, escaped...))
}

// parseCommand extracts the command name from text. It reports false when the
// command is addressed to another bot.
func (b *Bot) parseCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	cmd, target, hasTarget := strings.Cut(cmd, "@")
	if hasTarget && b.username != "" && !strings.EqualFold(target, b.username) {
		return "", false
	}
	return strings.ToLower(cmd), true
}

// Poll receives updates until ctx is canceled. Errors are logged and never
// stop polling.
func (b *Bot) Poll(ctx context.Context) error {
	b.slog.Info("polling for updates", slog.String("username", b.username))

	var offset int64
	for {
		updates, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.slog.Warn("getting updates failed", slog.Any("err", err), slog.Duration("retry_in", b.retryDelay))
			if !sleep(ctx, b.retryDelay) {
				return ctx.Err()
			}
			continue
		}

		for _, u := range updates {
			offset = max(offset, u.UpdateID+1)
			if err := b.Handle(ctx, u); err != nil {
				b.logHandleError(u, err)
			}
		}
	}
}

func (b *Bot) logHandleError(u telegram.Update, err error) {
	attrs := []any{slog.Int64("update", u.UpdateID), slog.Any("err", err)}
	if u.Message != nil {
		attrs = append(attrs, slog.Int64("chat", u.Message.Chat.ID))
	}
	var serr *store.StorageError
	var verr *catalog.ValidationError
	switch {
	case errors.As(err, &serr):
		b.slog.Error("handling update failed", attrs...)
	case errors.As(err, &verr):
		b.slog.Debug("unknown command", attrs...)
	default:
		b.slog.Warn("handling update failed", attrs...)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
