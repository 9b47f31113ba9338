// Package lockfile serializes transform jobs against the same logical
// object path with named advisory lock files.
//
// Two jobs racing the same object is exactly the condition that corrupts
// data in naive implementations: a second open-triggered decompress landing
// mid-way through a put-triggered compress truncates the object. At most
// one job holds the lock for a given key; acquisition polls with jittered
// backoff inside a bounded wait, and a lock whose holder crashed is
// breakable once it exceeds a staleness ceiling.
package lockfile

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/packfs/packfs/pkg/errors"
	"github.com/packfs/packfs/pkg/logging"
	"github.com/packfs/packfs/pkg/retry"
)

// metadata is stored inside each lock file so a contender can judge
// staleness and a releaser can verify ownership.
type metadata struct {
	PID        int       `json:"pid"`
	Token      string    `json:"token"`
	ObjectPath string    `json:"object_path"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Manager is the lock table: a directory of lock files keyed by a digest of
// the canonical object path.
type Manager struct {
	dir          string
	staleAfter   time.Duration
	pollInterval time.Duration
	logger       *logging.Logger
}

// Lock is a held advisory lock. Its lifetime is scoped to the job that
// acquired it and it is released on every exit path.
type Lock struct {
	manager    *Manager
	path       string
	token      string
	objectPath string
}

// Options configures a Manager.
type Options struct {
	// Dir is the directory holding lock files; created on demand.
	Dir string

	// StaleAfter is the ceiling beyond which a lock is considered
	// abandoned by a crashed holder and may be stolen.
	StaleAfter time.Duration

	// PollInterval is the base delay between acquisition attempts.
	PollInterval time.Duration
}

// NewManager creates a lock manager.
func NewManager(opts Options, logger *logging.Logger) (*Manager, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("lock directory cannot be empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}

	return &Manager{
		dir:          opts.Dir,
		staleAfter:   staleAfter,
		pollInterval: pollInterval,
		logger:       logger.WithComponent("lockfile"),
	}, nil
}

// keyFor derives the lock file path for an object path. Hashing keeps lock
// names flat and independent of the object path's depth or characters.
func (m *Manager) keyFor(objectPath string) string {
	sum := blake3.Sum256([]byte(path.Clean(objectPath)))
	return filepath.Join(m.dir, hex.EncodeToString(sum[:16])+".lock")
}

// Acquire obtains the lock for the object path, waiting up to timeout.
// A timed-out acquisition returns a LOCK_TIMEOUT error; the job must fail
// rather than proceed unsafely.
func (m *Manager) Acquire(ctx context.Context, objectPath string, timeout time.Duration) (*Lock, error) {
	lockPath := m.keyFor(objectPath)
	token := uuid.NewString()

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retryer := retry.New(retry.Config{
		MaxAttempts:     0, // bounded by the deadline
		InitialDelay:    m.pollInterval,
		MaxDelay:        m.pollInterval * 10,
		Multiplier:      1.5,
		Jitter:          true,
		RetryableErrors: []errors.ErrorCode{errors.ErrCodeLockBusy},
	})

	err := retryer.DoWithContext(deadline, func(ctx context.Context) error {
		return m.tryAcquire(lockPath, token, objectPath)
	})
	if err != nil {
		if deadline.Err() != nil {
			return nil, errors.NewError(errors.ErrCodeLockTimeout,
				fmt.Sprintf("could not acquire lock for %s within %s", objectPath, timeout)).
				WithComponent("lockfile").
				WithOperation("acquire").
				WithCause(err)
		}
		return nil, err
	}

	return &Lock{
		manager:    m,
		path:       lockPath,
		token:      token,
		objectPath: objectPath,
	}, nil
}

// tryAcquire attempts a single exclusive creation of the lock file. An
// existing lock is inspected for staleness and stolen if its holder is
// presumed dead.
func (m *Manager) tryAcquire(lockPath, token, objectPath string) error {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		meta := metadata{
			PID:        os.Getpid(),
			Token:      token,
			ObjectPath: objectPath,
			AcquiredAt: time.Now().UTC(),
		}
		encodeErr := json.NewEncoder(f).Encode(&meta)
		if closeErr := f.Close(); encodeErr == nil {
			encodeErr = closeErr
		}
		if encodeErr != nil {
			os.Remove(lockPath)
			return errors.NewError(errors.ErrCodeInternalError,
				fmt.Sprintf("failed to write lock metadata: %v", encodeErr)).
				WithComponent("lockfile").
				WithCause(encodeErr)
		}
		return nil
	}
	if !os.IsExist(err) {
		return errors.NewError(errors.ErrCodeInternalError,
			fmt.Sprintf("failed to create lock file: %v", err)).
			WithComponent("lockfile").
			WithCause(err)
	}

	if m.breakIfStale(lockPath, token, objectPath) {
		// Stolen; contend for it on the next attempt.
		return errors.NewError(errors.ErrCodeLockBusy, "lock stolen, retrying").
			WithComponent("lockfile")
	}

	return errors.NewError(errors.ErrCodeLockBusy,
		fmt.Sprintf("lock held for %s", objectPath)).
		WithComponent("lockfile")
}

// breakIfStale removes the lock file if its holder exceeded the staleness
// ceiling. Returns true if the lock was removed.
func (m *Manager) breakIfStale(lockPath, token, objectPath string) bool {
	meta, err := readMetadata(lockPath)
	if err != nil {
		// Unreadable metadata usually means the holder is mid-write or the
		// file just vanished; treat the lock as live.
		return false
	}

	age := time.Since(meta.AcquiredAt)
	if age <= m.staleAfter {
		return false
	}

	if !m.claimStale(lockPath, meta, token) {
		return false
	}

	m.logger.Warning("broke stale lock",
		map[string]interface{}{
			"object": objectPath,
			"holder": meta.PID,
			"age":    age.String(),
		})
	return true
}

// claimStale removes a lock file previously judged stale. The removal goes
// through a rename so that concurrent contenders cannot double-break: only
// one rename of a given file succeeds, losers see ENOENT and keep polling.
// The claimed file is verified against the metadata the caller observed;
// a fresh lock acquired by a faster contender in the window after the read
// is handed straight back.
func (m *Manager) claimStale(lockPath string, observed *metadata, token string) bool {
	claimed := lockPath + ".breaking." + token
	if err := os.Rename(lockPath, claimed); err != nil {
		return false
	}

	current, err := readMetadata(claimed)
	if err != nil || current.Token != observed.Token {
		if err := os.Rename(claimed, lockPath); err != nil {
			m.logger.Error("failed to restore live lock after misjudged break",
				map[string]interface{}{"path": lockPath, "error": err.Error()})
		}
		return false
	}

	if err := os.Remove(claimed); err != nil && !os.IsNotExist(err) {
		m.logger.Warning("failed to remove claimed stale lock file",
			map[string]interface{}{"path": claimed, "error": err.Error()})
	}
	return true
}

func readMetadata(lockPath string) (*metadata, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Release removes the lock file. If the lock was stolen by a contender
// after a staleness break, the file now belongs to someone else and is left
// alone with a warning.
func (l *Lock) Release() error {
	meta, err := readMetadata(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.manager.logger.Warning("lock file already gone at release",
				map[string]interface{}{"object": l.objectPath})
			return nil
		}
		return err
	}

	if meta.Token != l.token {
		l.manager.logger.Warning("lock was stolen while held, not releasing",
			map[string]interface{}{"object": l.objectPath, "holder": meta.PID})
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
