package btrfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/moby/sys/mountinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/shell/shelltest"
	"github.com/cuemby/burrow/pkg/types"
)

func TestStore_CreateSubvolume(t *testing.T) {
	root := t.TempDir()
	runner := shelltest.NewFakeRunner()
	store := NewStore(runner, "")

	path := filepath.Join(root, "nested", "vol1")
	require.NoError(t, store.CreateSubvolume(context.Background(), path))

	// Parent must have been created before the tool ran
	info, err := os.Stat(filepath.Join(root, "nested"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.Equal(t, []string{"btrfs subvolume create " + path}, runner.Lines())
}

func TestStore_CreateSubvolume_Exists(t *testing.T) {
	root := t.TempDir()
	runner := shelltest.NewFakeRunner()
	store := NewStore(runner, "/usr/sbin/btrfs")

	path := filepath.Join(root, "vol1")
	require.NoError(t, os.Mkdir(path, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "disk.img"), []byte("keep"), 0644))

	err := store.CreateSubvolume(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, types.ErrAlreadyExists, types.CodeOf(err))
	assert.Empty(t, runner.Calls())

	data, err := os.ReadFile(filepath.Join(path, "disk.img"))
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestStore_SnapshotSubvolume(t *testing.T) {
	root := t.TempDir()
	runner := shelltest.NewFakeRunner()
	store := NewStore(runner, "")

	src := filepath.Join(root, "tmpl")
	dst := filepath.Join(root, "vols", "root1")
	require.NoError(t, store.SnapshotSubvolume(context.Background(), src, dst))

	assert.Equal(t, []string{"btrfs subvolume snapshot " + src + " " + dst}, runner.Lines())
	assert.DirExists(t, filepath.Join(root, "vols"))
}

func TestStore_DeleteSubvolume_ToolFailure(t *testing.T) {
	runner := shelltest.NewFakeRunner()
	runner.Handler = func(name string, args []string) (string, error) {
		return "", types.Errorf(types.ErrExternalToolFailure, "ERROR: cannot access subvolume")
	}
	store := NewStore(runner, "")

	err := store.DeleteSubvolume(context.Background(), "/pool/missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrExternalToolFailure, types.CodeOf(err))
}

func TestMove(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "image.img")
	dst := filepath.Join(root, "disk.img")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))

	require.NoError(t, Move(src, dst))
	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)

	err := Move(src, dst)
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestCheckMounted(t *testing.T) {
	mounts := StaticMounts{
		{Mountpoint: "/", FSType: "ext4"},
		{Mountpoint: "/pool", FSType: "btrfs"},
		{Mountpoint: "/pool/scratch", FSType: "tmpfs"},
		{Mountpoint: "/poolx", FSType: "xfs"},
	}

	tests := []struct {
		name    string
		root    string
		wantErr bool
	}{
		{name: "mountpoint itself", root: "/pool", wantErr: false},
		{name: "directory inside btrfs mount", root: "/pool/ps", wantErr: false},
		{name: "trailing slash", root: "/pool/", wantErr: false},
		{name: "nested non-btrfs mount", root: "/pool/scratch/ps", wantErr: true},
		{name: "sibling prefix is not a parent", root: "/poolx/ps", wantErr: true},
		{name: "root filesystem", root: "/var/lib", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckMounted(mounts, tt.root)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrPreconditionFailed, types.CodeOf(err))
				assert.Contains(t, err.Error(), "is not mounted as btrfs in system")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckMounted_EmptyTable(t *testing.T) {
	err := CheckMounted(StaticMounts([]*mountinfo.Info{}), "/pool")
	assert.Equal(t, types.ErrPreconditionFailed, types.CodeOf(err))
}
