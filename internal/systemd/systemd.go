// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd reports service state to systemd over the sd_notify
// protocol.
//
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// State is an sd_notify state line.
type State string

const (
	// Ready tells the service manager that startup is finished.
	Ready State = "READY=1"
	// Stopping tells the service manager that shutdown has begun.
	Stopping State = "STOPPING=1"
	// Watchdog updates the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Status returns a state line carrying a free-form status shown by
// systemctl status.
func Status(msg string) State { return State("STATUS=" + msg) }

// Notifier sends notifications to the socket named by $NOTIFY_SOCKET. The
// zero value reads nothing from the environment and does nothing.
type Notifier struct {
	Getenv func(string) string
	Logger *slog.Logger
}

func (n *Notifier) getenv(name string) string {
	if n.Getenv == nil {
		return ""
	}
	return n.Getenv(name)
}

func (n *Notifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

// Enabled reports whether the process runs under systemd with notifications
// enabled.
func (n *Notifier) Enabled() bool { return n.getenv("NOTIFY_SOCKET") != "" }

// Notify sends states in a single datagram. Failures are logged.
func (n *Notifier) Notify(states ...State) {
	if !n.Enabled() || len(states) == 0 {
		return
	}
	var msg []byte
	for i, s := range states {
		if i > 0 {
			msg = append(msg, '\n')
		}
		msg = append(msg, s...)
	}

	addr := &net.UnixAddr{Net: "unixgram", Name: n.getenv("NOTIFY_SOCKET")}
	conn, err := net.DialUnix(addr.Net, nil, addr)
	if err != nil {
		n.logger().Warn("systemd notify failed", slog.Any("err", err))
		return
	}
	defer conn.Close()
	if _, err := conn.Write(msg); err != nil {
		n.logger().Warn("systemd notify failed", slog.Any("err", err))
	}
}

// WatchdogLoop pings the watchdog at half of $WATCHDOG_USEC until ctx is
// canceled. It returns immediately when the watchdog is not enabled.
func (n *Notifier) WatchdogLoop(ctx context.Context) {
	if !n.Enabled() || n.getenv("WATCHDOG_USEC") == "" {
		return
	}
	interval, err := watchdogInterval(n.getenv("WATCHDOG_USEC"))
	if err != nil {
		n.logger().Warn("systemd watchdog disabled", slog.Any("err", err))
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.Notify(Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

func watchdogInterval(usec string) (time.Duration, error) {
	s, err := strconv.Atoi(usec)
	if err != nil {
		return 0, fmt.Errorf("parsing WATCHDOG_USEC: %w", err)
	}
	if s <= 0 {
		return 0, errors.New("WATCHDOG_USEC must be positive")
	}
	return time.Duration(s) * time.Microsecond, nil
}
