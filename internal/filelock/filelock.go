// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package filelock keeps a single bot process running per database, using
// non-blocking advisory file locks.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyLocked indicates the lock is currently held by another process.
var ErrAlreadyLocked = errors.New("already locked")

// Lock is a held file lock.
type Lock struct{ file *os.File }

// PathFor returns the lock file path guarding the database at dbPath.
func PathFor(dbPath string) string { return dbPath + ".lock" }

// Acquire obtains a non-blocking exclusive lock on path and records the
// current process ID in it. If another process holds the lock, the returned
// error matches [ErrAlreadyLocked] and names the holder when known.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readPID(f)
		if closeErr := f.Close(); closeErr != nil {
			return nil, errors.Join(err, closeErr)
		}
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			if holder > 0 {
				return nil, fmt.Errorf("%s: %w by pid %d", path, ErrAlreadyLocked, holder)
			}
			return nil, fmt.Errorf("%s: %w", path, ErrAlreadyLocked)
		}
		return nil, err
	}

	l := &Lock{file: f}
	if err := writePID(f, os.Getpid()); err != nil {
		return nil, errors.Join(err, l.Release())
	}
	return l, nil
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := f.WriteString("pid=" + strconv.Itoa(pid) + "\n")
	return err
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	s, ok := strings.CutPrefix(strings.TrimSpace(string(buf[:n])), "pid=")
	if !ok {
		return 0
	}
	pid, _ := strconv.Atoi(s)
	return pid
}

// Release unlocks and closes the lock file. The file itself is left in
// place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}
