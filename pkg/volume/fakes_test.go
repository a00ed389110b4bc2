package volume

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/btrfs"
	"github.com/cuemby/burrow/pkg/fetch"
	"github.com/cuemby/burrow/pkg/journal"
	"github.com/cuemby/burrow/pkg/shell/shelltest"
	"github.com/cuemby/burrow/pkg/target"
	"github.com/cuemby/burrow/pkg/types"
)

// dirStore stands in for btrfs: subvolumes are plain directories and
// snapshots are recursive copies
type dirStore struct {
	mu        sync.Mutex
	deleteErr error
	deleted   []string
}

func (s *dirStore) CreateSubvolume(ctx context.Context, path string) error {
	if _, err := os.Lstat(path); err == nil {
		return types.Errorf(types.ErrAlreadyExists, "%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.Mkdir(path, 0755)
}

func (s *dirStore) SnapshotSubvolume(ctx context.Context, src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return types.Errorf(types.ErrAlreadyExists, "%s already exists", dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.CopyFS(dst, os.DirFS(src))
}

func (s *dirStore) DeleteSubvolume(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, err := os.Lstat(path); err != nil {
		return types.Wrap(types.ErrExternalToolFailure, err, "ERROR: cannot access subvolume %s", path)
	}
	s.deleted = append(s.deleted, path)
	return os.RemoveAll(path)
}

func (s *dirStore) Move(src, dst string) error {
	return btrfs.Move(src, dst)
}

type fakeFetcher struct {
	mu    sync.Mutex
	data  []byte
	err   error
	calls []fetch.Source
}

func (f *fakeFetcher) Fetch(ctx context.Context, src fetch.Source, dst string) error {
	f.mu.Lock()
	f.calls = append(f.calls, src)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, f.data, 0644)
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNormalizer struct {
	err   error
	paths []string
}

func (n *fakeNormalizer) Normalize(ctx context.Context, path string) error {
	n.paths = append(n.paths, path)
	return n.err
}

type testEnv struct {
	root       string
	manager    *Manager
	store      *dirStore
	fetcher    *fakeFetcher
	normalizer *fakeNormalizer
	registry   *target.Registry
	runner     *shelltest.FakeRunner
	journal    *journal.BoltStore
}

// newTestEnv builds a manager over a temp root that the mount table reports
// as btrfs. The root is not initialized.
func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()

	base := t.TempDir()
	root := filepath.Join(base, "pool")
	require.NoError(t, os.Mkdir(root, 0755))

	runner := shelltest.NewFakeRunner()
	registry := target.NewRegistry(target.Options{
		ConfigDir: filepath.Join(base, "conf.d"),
		Runner:    runner,
		Now: func() time.Time {
			return time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC)
		},
	})

	j, err := journal.Open(filepath.Join(base, "journal.db"), 100)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	env := &testEnv{
		root:       root,
		store:      &dirStore{},
		fetcher:    &fakeFetcher{data: []byte("template image")},
		normalizer: &fakeNormalizer{},
		registry:   registry,
		runner:     runner,
		journal:    j,
	}

	opts := Options{
		Store:      env.store,
		Normalizer: env.normalizer,
		Fetcher:    env.fetcher,
		Targets:    registry,
		Journal:    j,
		Mounts: btrfs.StaticMounts{
			{Mountpoint: "/", FSType: "ext4"},
			{Mountpoint: root, FSType: "btrfs"},
		},
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	m, err := NewManager(opts)
	require.NoError(t, err)
	env.manager = m
	return env
}

// initialized returns an env whose root is initialized
func initialized(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	env := newTestEnv(t, mutate...)
	_, err := env.manager.Init(context.Background(), &types.InitRequest{RootFolderPath: env.root})
	require.NoError(t, err)
	return env
}

func (e *testEnv) path(parts ...string) string {
	return filepath.Join(append([]string{e.root}, parts...)...)
}

func (e *testEnv) lastEntry(t *testing.T) types.JournalEntry {
	t.Helper()
	entries, err := e.journal.List(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func stepStatuses(entry types.JournalEntry) map[string]types.StepStatus {
	out := make(map[string]types.StepStatus, len(entry.Steps))
	for _, s := range entry.Steps {
		out[s.Name] = s.Status
	}
	return out
}
