// Package staging allocates and tracks the remote and local scratch
// locations a transform job uses, and guarantees their cleanup.
//
// Scratch roots are shared by all jobs; scratch leaf names never are. Leaf
// names derive from the object's basename plus a random token, not from
// wall-clock time, so rapid repeated triggers for the same object cannot
// collide.
package staging

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/packfs/packfs/pkg/logging"
)

// Lease is the set of scratch locations allocated to one job. It is owned
// exclusively by the job that allocated it.
type Lease struct {
	// LocalIn is the local scratch path the remote object is fetched to.
	LocalIn string

	// LocalOut is the local scratch path the transform engine writes to.
	LocalOut string

	// Remote is the remote scratch path used for the staged upload before
	// the atomic replace.
	Remote string

	token string
}

// Area manages a pair of scratch roots. Its lifetime is tied to process
// configuration; many jobs allocate from the same area concurrently.
type Area struct {
	localRoot  string
	remoteRoot string

	retainLocal  bool
	retainRemote bool

	mu    sync.Mutex
	inUse map[string]struct{}

	logger *logging.Logger
}

// Options configures an Area.
type Options struct {
	LocalRoot  string
	RemoteRoot string

	// RetainLocal and RetainRemote disable scratch deletion on release, a
	// debug option.
	RetainLocal  bool
	RetainRemote bool
}

// NewArea creates a staging area. The local root is created eagerly so that
// allocation failures surface at configuration time rather than mid-job;
// the remote root is the store's concern.
func NewArea(opts Options, logger *logging.Logger) (*Area, error) {
	if opts.LocalRoot == "" {
		return nil, fmt.Errorf("local scratch root cannot be empty")
	}
	if err := os.MkdirAll(opts.LocalRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local scratch root: %w", err)
	}

	return &Area{
		localRoot:    opts.LocalRoot,
		remoteRoot:   opts.RemoteRoot,
		retainLocal:  opts.RetainLocal,
		retainRemote: opts.RetainRemote,
		inUse:        make(map[string]struct{}),
		logger:       logger.WithComponent("staging"),
	}, nil
}

// RetainRemote reports whether remote scratch files are retained on
// release.
func (a *Area) RetainRemote() bool {
	return a.retainRemote
}

// Allocate produces a fresh, collision-free lease for the given object
// path. The returned names are reserved until Release is called.
func (a *Area) Allocate(objectPath string) (*Lease, error) {
	base := path.Base(objectPath)

	a.mu.Lock()
	defer a.mu.Unlock()

	// A UUID collision is effectively impossible, but the reservation
	// table makes the uniqueness contract independent of that assumption.
	for {
		token := uuid.NewString()
		if _, taken := a.inUse[token]; taken {
			continue
		}
		a.inUse[token] = struct{}{}

		lease := &Lease{
			LocalIn:  filepath.Join(a.localRoot, fmt.Sprintf("%s.%s.in", base, token)),
			LocalOut: filepath.Join(a.localRoot, fmt.Sprintf("%s.%s.out", base, token)),
			token:    token,
		}
		if a.remoteRoot != "" {
			lease.Remote = path.Join(a.remoteRoot, fmt.Sprintf("%s.%s", base, token))
		} else {
			// Without a remote scratch root, stage next to the object
			// under a hidden name; the rename is then same-directory.
			lease.Remote = path.Join(path.Dir(objectPath), fmt.Sprintf(".%s.%s.staged", base, token))
		}
		return lease, nil
	}
}

// Release deletes the lease's local scratch files (unless retention is
// configured) and returns the lease's names to the pool. Deletion failures
// are logged, never raised: they must not mask the job's primary result.
// Remote scratch cleanup goes through the object store and is the
// pipeline's responsibility.
func (a *Area) Release(lease *Lease) {
	if lease == nil {
		return
	}

	if a.retainLocal {
		a.logger.Debug("retaining local scratch files",
			map[string]interface{}{"in": lease.LocalIn, "out": lease.LocalOut})
	} else {
		for _, p := range []string{lease.LocalIn, lease.LocalOut} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				a.logger.Warning("failed to remove local scratch file",
					map[string]interface{}{"path": p, "error": err.Error()})
			}
		}
	}

	a.mu.Lock()
	delete(a.inUse, lease.token)
	a.mu.Unlock()
}

// Live returns the number of leases currently allocated, for tests and
// diagnostics.
func (a *Area) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
