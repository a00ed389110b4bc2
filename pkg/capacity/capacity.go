// Package capacity reports total and available bytes of a storage root.
//
// Available is computed from the apparent size of everything under the
// root rather than from free blocks, so sparse raw volumes are charged at
// their full logical size.
package capacity

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/cuemby/burrow/pkg/types"
)

// Snapshot is a point-in-time capacity reading in bytes
type Snapshot struct {
	Total     int64
	Available int64
}

// Used returns the apparent bytes in use
func (s Snapshot) Used() int64 {
	return s.Total - s.Available
}

// Prober reads capacity for a root path
type Prober interface {
	Probe(ctx context.Context, root string) (Snapshot, error)
}

// FSProber probes the local filesystem
type FSProber struct{}

// NewFSProber creates a filesystem-backed prober
func NewFSProber() *FSProber {
	return &FSProber{}
}

// Probe returns the total filesystem size at root and total minus the
// apparent size of all files under root
func (p *FSProber) Probe(ctx context.Context, root string) (Snapshot, error) {
	if root == "" {
		return Snapshot{}, types.Errorf(types.ErrIOFailure, "storage root is not set")
	}

	total, err := TotalBytes(root)
	if err != nil {
		return Snapshot{}, err
	}

	used, err := ApparentSize(ctx, root)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{Total: total, Available: total - used}, nil
}

// TotalBytes returns the total size of the filesystem containing path
func TotalBytes(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, types.Wrap(types.ErrIOFailure, err, "failed to statfs %s", path)
	}
	return fragmentTotal(st.Blocks, int64(st.Frsize), int64(st.Bsize)), nil
}

// fragmentTotal sizes the filesystem in fragments as statvfs does. Block
// counts are in fragment units; bsize is only used when the kernel reports
// no fragment size.
func fragmentTotal(blocks uint64, frsize, bsize int64) int64 {
	if frsize <= 0 {
		frsize = bsize
	}
	return int64(blocks) * frsize
}

// ApparentSize sums the logical size of every entry under root without
// following symlinks, like du --apparent-size
func ApparentSize(ctx context.Context, root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != root {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		info, err := d.Info()
		if err != nil {
			// entry vanished mid-walk, e.g. a concurrent subvolume delete
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() && path != root {
			total += info.Size()
			return nil
		}
		if info.Mode().IsRegular() || info.Mode()&fs.ModeSymlink != 0 {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, types.Wrap(types.ErrIOFailure, err, "failed to compute apparent size of %s", root)
	}
	return total, nil
}
