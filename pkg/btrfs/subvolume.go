package btrfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/shell"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	// DirPermissions are used for parent directories created before a subvolume
	DirPermissions = 0755
)

// Store creates, snapshots and deletes btrfs subvolumes with the btrfs CLI
type Store struct {
	runner shell.Runner
	binary string
	logger zerolog.Logger
}

// NewStore creates a subvolume store. binary defaults to "btrfs".
func NewStore(runner shell.Runner, binary string) *Store {
	if binary == "" {
		binary = "btrfs"
	}
	return &Store{runner: runner, binary: binary, logger: log.WithComponent("btrfs")}
}

// CreateSubvolume creates a new subvolume at path. It refuses to touch an
// existing path and creates missing parent directories first.
func (s *Store) CreateSubvolume(ctx context.Context, path string) error {
	if err := ensureAbsent(path); err != nil {
		return err
	}
	if err := ensureParent(path); err != nil {
		return err
	}

	if _, err := s.runner.Run(ctx, s.binary, "subvolume", "create", path); err != nil {
		return err
	}

	s.logger.Debug().Str("path", path).Msg("subvolume created")
	return nil
}

// SnapshotSubvolume makes a writable snapshot of src at dst
func (s *Store) SnapshotSubvolume(ctx context.Context, src, dst string) error {
	if err := ensureAbsent(dst); err != nil {
		return err
	}
	if err := ensureParent(dst); err != nil {
		return err
	}

	if _, err := s.runner.Run(ctx, s.binary, "subvolume", "snapshot", src, dst); err != nil {
		return err
	}

	s.logger.Debug().Str("src", src).Str("dst", dst).Msg("subvolume snapshotted")
	return nil
}

// DeleteSubvolume destroys the subvolume at path. There is no existence
// check; a missing subvolume is reported by the btrfs tool itself.
func (s *Store) DeleteSubvolume(ctx context.Context, path string) error {
	if _, err := s.runner.Run(ctx, s.binary, "subvolume", "delete", path); err != nil {
		return err
	}

	s.logger.Debug().Str("path", path).Msg("subvolume deleted")
	return nil
}

// Move renames src to dst, which may live in another subvolume of the same filesystem
func (s *Store) Move(src, dst string) error {
	return Move(src, dst)
}

// Move renames src to dst
func Move(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.Wrap(types.ErrNotFound, err, "failed to move %s to %s", src, dst)
		}
		return types.Wrap(types.ErrIOFailure, err, "failed to move %s to %s", src, dst)
	}
	return nil
}

func ensureAbsent(path string) error {
	_, err := os.Lstat(path)
	if err == nil {
		return types.Errorf(types.ErrAlreadyExists, "%s already exists", path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return types.Wrap(types.ErrIOFailure, err, "failed to check %s", path)
	}
	return nil
}

func ensureParent(path string) error {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, DirPermissions); err != nil {
		return types.Wrap(types.ErrIOFailure, err, "failed to create parent directory %s", parent)
	}
	return nil
}
