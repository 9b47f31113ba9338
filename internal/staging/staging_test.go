package staging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packfs/packfs/pkg/logging"
)

func newTestArea(t *testing.T, opts Options) *Area {
	t.Helper()
	if opts.LocalRoot == "" {
		opts.LocalRoot = filepath.Join(t.TempDir(), "scratch")
	}
	area, err := NewArea(opts, logging.Discard())
	require.NoError(t, err)
	return area
}

func TestNewArea_Validation(t *testing.T) {
	_, err := NewArea(Options{}, logging.Discard())
	assert.Error(t, err)
}

func TestNewArea_CreatesLocalRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b", "scratch")
	newTestArea(t, Options{LocalRoot: root})

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestAllocate_LeaseShape(t *testing.T) {
	area := newTestArea(t, Options{RemoteRoot: "/iplant/scratch"})

	lease, err := area.Allocate("/iplant/home/s1.fastq")
	require.NoError(t, err)
	defer area.Release(lease)

	assert.Contains(t, lease.LocalIn, "s1.fastq")
	assert.Contains(t, lease.LocalOut, "s1.fastq")
	assert.NotEqual(t, lease.LocalIn, lease.LocalOut)
	assert.True(t, strings.HasPrefix(lease.Remote, "/iplant/scratch/"))
	assert.Equal(t, 1, area.Live())
}

func TestAllocate_StagesNextToObjectWithoutRemoteRoot(t *testing.T) {
	area := newTestArea(t, Options{})

	lease, err := area.Allocate("/iplant/home/s1.fastq")
	require.NoError(t, err)
	defer area.Release(lease)

	assert.Equal(t, "/iplant/home", filepath.Dir(lease.Remote))
	assert.True(t, strings.HasPrefix(filepath.Base(lease.Remote), ".s1.fastq."))
	assert.True(t, strings.HasSuffix(lease.Remote, ".staged"))
}

func TestAllocate_UniqueUnderConcurrency(t *testing.T) {
	area := newTestArea(t, Options{RemoteRoot: "/iplant/scratch"})

	const workers = 50
	var mu sync.Mutex
	seen := make(map[string]struct{})
	leases := make([]*Lease, 0, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := area.Allocate("/iplant/home/s1.fastq")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, name := range []string{lease.LocalIn, lease.LocalOut, lease.Remote} {
				if _, dup := seen[name]; dup {
					t.Errorf("duplicate scratch name: %s", name)
				}
				seen[name] = struct{}{}
			}
			leases = append(leases, lease)
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, area.Live())
	for _, lease := range leases {
		area.Release(lease)
	}
	assert.Equal(t, 0, area.Live())
}

func TestRelease_DeletesLocalScratch(t *testing.T) {
	area := newTestArea(t, Options{})

	lease, err := area.Allocate("/iplant/home/s1.fastq")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(lease.LocalIn, []byte("in"), 0o600))
	require.NoError(t, os.WriteFile(lease.LocalOut, []byte("out"), 0o600))

	area.Release(lease)

	assert.NoFileExists(t, lease.LocalIn)
	assert.NoFileExists(t, lease.LocalOut)
	assert.Equal(t, 0, area.Live())
}

func TestRelease_MissingFilesAreFine(t *testing.T) {
	area := newTestArea(t, Options{})

	lease, err := area.Allocate("/iplant/home/s1.fastq")
	require.NoError(t, err)

	// A job that failed before fetching leaves no scratch files behind.
	area.Release(lease)
	assert.Equal(t, 0, area.Live())
}

func TestRelease_Retention(t *testing.T) {
	area := newTestArea(t, Options{RetainLocal: true, RetainRemote: true})

	lease, err := area.Allocate("/iplant/home/s1.fastq")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(lease.LocalIn, []byte("in"), 0o600))
	area.Release(lease)

	assert.FileExists(t, lease.LocalIn)
	assert.True(t, area.RetainRemote())
	assert.Equal(t, 0, area.Live())
}

func TestRelease_NilLease(t *testing.T) {
	area := newTestArea(t, Options{})
	area.Release(nil)
}
