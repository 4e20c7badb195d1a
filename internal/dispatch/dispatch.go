// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package dispatch runs delivery passes: one attempt to send today's content
// to every subscribed recipient.
package dispatch

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.astrophena.name/horobot/internal/catalog"
	"go.astrophena.name/horobot/internal/format"
	"go.astrophena.name/horobot/internal/store"
	"go.astrophena.name/horobot/internal/syncx"
	"go.astrophena.name/horobot/internal/tgmarkup"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	sendConcurrencyLimit = 2  // N sends that can run at the same time
	sendsPerSecond       = 25 // Telegram allows about 30 messages per second overall
)

// Lister returns a snapshot of subscriptions.
type Lister interface {
	List(ctx context.Context) ([]store.Subscription, error)
}

// Fetcher obtains the current content for a category.
type Fetcher interface {
	Fetch(ctx context.Context, category string) (string, error)
}

// Sender delivers a message to a recipient.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, msg tgmarkup.Message) error
}

// Config configures a [Cycle].
type Config struct {
	Store     Lister
	Fetcher   Fetcher
	Transport Sender
	Catalog   *catalog.Catalog
	Logger    *slog.Logger
	// Limiter paces sends. If nil, sends are limited to 25 per second.
	Limiter *rate.Limiter
	// Concurrency is the number of sends that can run at the same time.
	Concurrency int
}

// Cycle performs delivery passes.
type Cycle struct {
	store       Lister
	fetcher     Fetcher
	transport   Sender
	catalog     *catalog.Catalog
	slog        *slog.Logger
	limiter     *rate.Limiter
	concurrency int
	now         func() time.Time

	last *syncx.Protected[*Report]
}

// New returns a new Cycle.
func New(cfg Config) *Cycle {
	c := &Cycle{
		store:       cfg.Store,
		fetcher:     cfg.Fetcher,
		transport:   cfg.Transport,
		catalog:     cfg.Catalog,
		slog:        cfg.Logger,
		limiter:     cfg.Limiter,
		concurrency: cmp.Or(cfg.Concurrency, sendConcurrencyLimit),
		now:         time.Now,
		last:        syncx.Protect[*Report](nil),
	}
	if c.slog == nil {
		c.slog = slog.Default()
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(sendsPerSecond, 1)
	}
	return c
}

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	// Delivered means the content was sent.
	Delivered Outcome = iota
	// ContentUnavailable means the content couldn't be fetched and the
	// unavailable notice was sent instead.
	ContentUnavailable
	// TransportFailed means the message couldn't be sent.
	TransportFailed
)

var outcomeNames = map[Outcome]string{
	Delivered:          "delivered",
	ContentUnavailable: "content_unavailable",
	TransportFailed:    "transport_failed",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalText implements [encoding.TextMarshaler].
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Result describes what happened to one recipient during a pass.
type Result struct {
	RecipientID int64   `json:"recipient_id"`
	CategoryID  string  `json:"category_id"`
	Outcome     Outcome `json:"outcome"`
	Err         error   `json:"-"`
}

// MarshalJSON implements [json.Marshaler].
func (r Result) MarshalJSON() ([]byte, error) {
	type result Result
	var errStr string
	if r.Err != nil {
		errStr = r.Err.Error()
	}
	return json.Marshal(struct {
		result
		Error string `json:"error,omitempty"`
	}{result(r), errStr})
}

// Report summarizes a pass.
type Report struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	// Fetches is the number of content fetches performed, one per distinct
	// category.
	Fetches int      `json:"fetches"`
	Results []Result `json:"results"`
}

// Count returns the number of results with the outcome.
func (r *Report) Count(o Outcome) int {
	var n int
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Last returns the report of the most recent completed pass, or nil.
func (c *Cycle) Last() *Report { return c.last.Load() }

// RunOnce performs a single pass over all subscriptions.
//
// Content for each distinct category is fetched at most once per pass and
// shared by all its recipients. Every recipient is attempted exactly once;
// failures are recorded in the returned report and don't affect other
// recipients. The only error returned is a failure to read subscriptions.
func (c *Cycle) RunOnce(ctx context.Context) (*Report, error) {
	r := &Report{ID: uuid.NewString(), StartedAt: c.now()}
	log := c.slog.With(slog.String("pass", r.ID))

	subs, err := c.store.List(ctx)
	if err != nil {
		log.Error("listing subscriptions failed", slog.Any("err", err))
		return nil, err
	}
	log.Info("dispatch started", slog.Int("recipients", len(subs)))

	// Built before any sends start, so it's only read concurrently.
	cache := make(map[string]*syncx.Lazy[string])
	for _, sub := range subs {
		if _, ok := cache[sub.CategoryID]; !ok {
			cache[sub.CategoryID] = new(syncx.Lazy[string])
		}
	}
	var fetches atomic.Int64

	r.Results = make([]Result, len(subs))
	lwg := syncx.NewLimitedWaitGroup(c.concurrency)
	for i, sub := range subs {
		lwg.Go(func() {
			snap := c.snapshot(ctx, sub.CategoryID, cache[sub.CategoryID], &fetches)
			r.Results[i] = c.deliver(ctx, sub, snap)
			if err := r.Results[i].Err; err != nil {
				log.Warn(
					"delivery problem",
					slog.Int64("recipient", sub.RecipientID),
					slog.String("category", sub.CategoryID),
					slog.String("outcome", r.Results[i].Outcome.String()),
					slog.Any("err", err),
				)
			}
		})
	}
	lwg.Wait()

	r.Fetches = int(fetches.Load())
	r.Duration = c.now().Sub(r.StartedAt)
	c.last.Swap(r)

	log.Info(
		"dispatch finished",
		slog.Int("delivered", r.Count(Delivered)),
		slog.Int("content_unavailable", r.Count(ContentUnavailable)),
		slog.Int("transport_failed", r.Count(TransportFailed)),
		slog.Int("fetches", r.Fetches),
		slog.Duration("duration", r.Duration),
	)
	return r, nil
}

func (c *Cycle) snapshot(ctx context.Context, category string, lazy *syncx.Lazy[string], fetches *atomic.Int64) format.Snapshot {
	text, err := lazy.GetErr(func() (text string, err error) {
		if err := c.catalog.Validate(category); err != nil {
			return "", err
		}
		fetches.Add(1)
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("fetch panicked: %v", p)
			}
		}()
		text, err = c.fetcher.Fetch(ctx, category)
		if err == nil {
			c.slog.Debug("fetched content", slog.String("category", category), slog.Int("len", len(text)))
		}
		return text, err
	})
	return format.Snapshot{CategoryID: category, Text: text, Err: err}
}

func (c *Cycle) deliver(ctx context.Context, sub store.Subscription, snap format.Snapshot) (res Result) {
	res = Result{RecipientID: sub.RecipientID, CategoryID: sub.CategoryID}
	defer func() {
		if p := recover(); p != nil {
			res.Outcome = TransportFailed
			res.Err = fmt.Errorf("send panicked: %v", p)
		}
	}()

	cat, err := c.catalog.Lookup(sub.CategoryID)
	if err != nil {
		cat = catalog.Category{ID: sub.CategoryID, Name: sub.CategoryID}
	}
	msg := format.Format(cat, snap)

	if err := c.limiter.Wait(ctx); err != nil {
		res.Outcome, res.Err = TransportFailed, err
		return res
	}
	if err := c.transport.SendMessage(ctx, sub.RecipientID, msg); err != nil {
		res.Outcome, res.Err = TransportFailed, err
		return res
	}
	if !snap.OK() {
		res.Outcome, res.Err = ContentUnavailable, snap.Err
		if res.Err == nil {
			res.Err = fmt.Errorf("empty content for %q", sub.CategoryID)
		}
		return res
	}
	res.Outcome = Delivered
	return res
}
