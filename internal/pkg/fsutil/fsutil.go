// Package fsutil provides the cross-process file-locking and atomic-write
// primitives used by the session store (locking and atomic write) and by the
// cron store and device registry (atomic write): exclusive-create lock files
// with stale eviction, and write-to-temp-then-rename with a best-effort
// backup copy. The configuration layer keeps its own helpers.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/openclaw/core/internal/coreerr"
)

// LockOptions configures AcquireLock. Zero values fall back to the
// session-store defaults from the spec (25ms retry, 10s timeout, 30s stale).
type LockOptions struct {
	RetryInterval time.Duration
	Timeout       time.Duration
	StaleAfter    time.Duration
}

func (o LockOptions) withDefaults() LockOptions {
	if o.RetryInterval <= 0 {
		o.RetryInterval = 25 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Second
	}
	return o
}

// Unlock releases a lock acquired with AcquireLock.
type Unlock func()

// AcquireLock exclusively creates lockPath, writing the current pid and
// acquisition time into it as JSON ({"pid":..,"startedAt":..}). If the file
// already exists and its age exceeds StaleAfter, it is forcibly removed once
// and creation is retried; otherwise the call retries every RetryInterval
// until Timeout elapses, at which point it returns coreerr.ErrLockTimeout.
func AcquireLock(lockPath string, opts LockOptions) (Unlock, error) {
	opts = opts.withDefaults()
	start := time.Now()
	staleEvicted := false

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, `{"pid":%d,"startedAt":%q}`, os.Getpid(), time.Now().UTC().Format(time.RFC3339Nano))
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("fsutil: create lock file: %w", err)
		}

		if !staleEvicted {
			if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > opts.StaleAfter {
				_ = os.Remove(lockPath)
				staleEvicted = true
				continue
			}
		}

		if time.Since(start) > opts.Timeout {
			return nil, fmt.Errorf("fsutil: %w after %s", coreerr.ErrLockTimeout, opts.Timeout)
		}

		time.Sleep(opts.RetryInterval)
	}
}

// AtomicWrite writes data to a temp file alongside path and renames it into
// place, preserving path's existing file mode if present. It leaves a
// best-effort ".bak" copy of the previous contents before replacing them.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsutil: create directory: %w", err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
		backupBestEffort(path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("fsutil: stat existing file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("fsutil: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsutil: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fsutil: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("fsutil: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("fsutil: rename into place: %w", err)
	}

	cleanup = false
	return nil
}

func backupBestEffort(path string) {
	src, err := os.Open(path)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".bak", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return
	}
	defer dst.Close()

	_, _ = io.Copy(dst, src)
}

// RenameAside moves a corrupt store file out of the way with a timestamp
// suffix, leaving the original path free for a fresh, empty store.
func RenameAside(path string) (string, error) {
	dest := fmt.Sprintf("%s.corrupt.%s", path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(path, dest); err != nil {
		if os.IsNotExist(err) {
			return dest, nil
		}
		return "", fmt.Errorf("fsutil: rename corrupt store aside: %w", err)
	}
	return dest, nil
}
