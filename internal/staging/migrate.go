package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// DefaultMigrationRetries bounds retries of transient migration failures.
const DefaultMigrationRetries = 3

var (
	// ErrInsufficientSpace is returned when the durable volume cannot hold
	// the session.
	ErrInsufficientSpace = errors.New("insufficient space on durable storage")

	// ErrDestinationExists is returned instead of overwriting a session
	// already present in durable storage.
	ErrDestinationExists = errors.New("destination already exists")
)

// MigratorOption configures a Migrator.
type MigratorOption func(*Migrator)

// WithMigratorLogger sets the logger. Defaults to slog.Default().
func WithMigratorLogger(l *slog.Logger) MigratorOption {
	return func(m *Migrator) {
		m.logger = l
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) MigratorOption {
	return func(m *Migrator) {
		if n >= 0 {
			m.retries = uint64(n)
		}
	}
}

// WithInitialBackoff sets the first retry delay.
func WithInitialBackoff(d time.Duration) MigratorOption {
	return func(m *Migrator) {
		m.initial = d
	}
}

// withFreeSpace replaces the free-space probe.
func withFreeSpace(fn func(path string) (uint64, error)) MigratorOption {
	return func(m *Migrator) {
		m.freeSpace = fn
	}
}

// withRename replaces the fast-path rename.
func withRename(fn func(src, dst string) error) MigratorOption {
	return func(m *Migrator) {
		m.rename = fn
	}
}

// withCopyFile replaces the per-file copy of the slow path.
func withCopyFile(fn func(src, dst string, mode fs.FileMode) error) MigratorOption {
	return func(m *Migrator) {
		m.copyFile = fn
	}
}

// Migrator moves finished sessions from staging to durable storage.
//
// The durable directory appears atomically: either the session is
// renamed in one step, or it is copied into a hidden partial directory
// that is renamed into place only once every file is synced. The staging
// copy is removed only after that rename.
type Migrator struct {
	logger    *slog.Logger
	retries   uint64
	initial   time.Duration
	freeSpace func(path string) (uint64, error)
	rename    func(src, dst string) error
	copyFile  func(src, dst string, mode fs.FileMode) error
}

// NewMigrator creates a Migrator.
func NewMigrator(opts ...MigratorOption) *Migrator {
	m := &Migrator{
		logger:    slog.Default(),
		retries:   DefaultMigrationRetries,
		initial:   200 * time.Millisecond,
		freeSpace: freeSpace,
		rename:    os.Rename,
		copyFile:  copyFileSync,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Migrate moves stagingDir to <durableRoot>/records/<id> and returns the
// final path. On failure the staging directory is left untouched.
func (m *Migrator) Migrate(ctx context.Context, stagingDir, durableRoot, id string) (string, error) {
	dst := DurableDir(durableRoot, id)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initial
	policy := backoff.WithContext(backoff.WithMaxRetries(b, m.retries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := m.migrateOnce(stagingDir, dst, id)
		if err != nil && !errors.Is(err, ErrInsufficientSpace) && !errors.Is(err, ErrDestinationExists) {
			m.logger.Warn("migration attempt failed",
				"session", id, "attempt", attempt, "error", err)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
	if err != nil {
		return "", fmt.Errorf("migrate session %s: %w", id, err)
	}

	m.logger.Info("session migrated", "session", id, "location", dst, "attempts", attempt)
	return dst, nil
}

func (m *Migrator) migrateOnce(src, dst, id string) error {
	if _, err := os.Stat(src); err != nil {
		return backoff.Permanent(fmt.Errorf("staging dir: %w", err))
	}
	if exists(dst) {
		return fmt.Errorf("%s: %w", dst, ErrDestinationExists)
	}

	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create records dir: %w", err)
	}

	need, err := dirSize(src)
	if err != nil {
		return fmt.Errorf("measure staging dir: %w", err)
	}
	free, err := m.freeSpace(parent)
	if err != nil {
		return fmt.Errorf("probe free space: %w", err)
	}
	if free < need {
		return fmt.Errorf("need %d bytes, %d available: %w", need, free, ErrInsufficientSpace)
	}

	// Same filesystem: one atomic rename.
	if err := m.rename(src, dst); err == nil {
		return nil
	}

	partial := filepath.Join(parent, fmt.Sprintf(".%s.partial-%s", id, uuid.NewString()))
	if err := m.copyTree(src, partial); err != nil {
		os.RemoveAll(partial)
		return fmt.Errorf("copy to durable storage: %w", err)
	}
	if err := os.Rename(partial, dst); err != nil {
		os.RemoveAll(partial)
		return fmt.Errorf("publish durable copy: %w", err)
	}
	syncDir(parent)

	if err := os.RemoveAll(src); err != nil {
		// The durable copy is complete; a leftover staging dir is only clutter.
		m.logger.Warn("remove staging dir", "dir", src, "error", err)
	}
	return nil
}

func (m *Migrator) copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return m.copyFile(path, target, info.Mode().Perm())
	})
}

func copyFileSync(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	f.Close()
}

func dirSize(root string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += uint64(info.Size())
		return nil
	})
	return total, err
}
