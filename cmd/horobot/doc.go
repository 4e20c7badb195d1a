// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Horobot is a Telegram bot that sends a daily horoscope.

Users pick a zodiac sign by sending a command like /leo. Every day at the
configured time the bot fetches today's horoscope for each sign that has
subscribers, once per sign, and sends it to everyone subscribed to that sign.
When a horoscope can't be fetched, subscribers get a short notice instead.

# Usage

	$ horobot [flags...] <command>

# Commands

  - serve: answer bot commands and send the daily horoscope on schedule.
  - send: send today's horoscope to all subscribers now.
  - subscribers: print stored subscriptions.
  - categories: print available signs.
  - fetch <sign>: fetch and print today's message for a sign.

# Bot Commands

  - /start, /help: list available signs.
  - /<sign>: subscribe to a sign, replacing the previous choice.
  - /me: show the current subscription.

# Environment Variables

Every flag can also be set with an environment variable:

  - TELEGRAM_TOKEN: Telegram Bot API token. Required for serve and send.
  - DB_PATH: path to the SQLite database. If not set, /data/users.db is used
    when /data exists, then $STATE_DIRECTORY/users.db, then
    $XDG_STATE_HOME/horobot/users.db.
  - CONFIG_FILE: path to a config.star file.
  - SEND_AT: daily delivery time, 08:00 by default.
  - TZ_NAME: time zone of the delivery time.
  - POLL_INTERVAL: how often the scheduler checks the clock, 30s by default.
  - ADMIN_ADDR: address of the admin HTTP server.

# Configuration

Signs and the content source are defined in Starlark. The built-in
configuration is equivalent to:

	categories = [
	    category("aries", "Овен"),
	    category("taurus", "Телец"),
	    # ...
	    category("pisces", "Рыбы"),
	]

	source = html_source(
	    url = "https://horo.mail.ru/prediction/{category}/today/",
	    selector = "div.article__item.article__item_alignment_left.article__item_html",
	)

# Admin Server

When ADMIN_ADDR is set, serve also exposes:

  - /health: state of the database and the scheduler.
  - /debug/logs: recent log lines (add ?follow to stream).
  - /debug/dispatch: report of the last delivery pass.
  - /debug/pprof/: runtime profiles.

# Running under systemd

serve reports readiness and shutdown with sd_notify and keeps the watchdog
alive when WatchdogSec= is set, so Type=notify units work as is. With -v
every outgoing HTTP request is logged, with the token hidden.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/horobot/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
