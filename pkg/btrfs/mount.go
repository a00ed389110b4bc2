package btrfs

import (
	"path/filepath"
	"strings"

	"github.com/moby/sys/mountinfo"

	"github.com/cuemby/burrow/pkg/types"
)

// FSType is the filesystem type a storage root must be mounted with
const FSType = "btrfs"

// MountLister returns the current mount table
type MountLister interface {
	Mounts() ([]*mountinfo.Info, error)
}

// SystemMounts reads /proc/self/mountinfo
type SystemMounts struct{}

// Mounts returns every mount visible to this process
func (SystemMounts) Mounts() ([]*mountinfo.Info, error) {
	return mountinfo.GetMounts(nil)
}

// StaticMounts is a fixed mount table, used when the caller already has one
type StaticMounts []*mountinfo.Info

// Mounts returns the fixed table
func (s StaticMounts) Mounts() ([]*mountinfo.Info, error) {
	return s, nil
}

// CheckMounted verifies that root lives on a btrfs mount. The mount whose
// mountpoint is the longest prefix of root decides, so a root below a
// non-btrfs mount nested inside a btrfs one is rejected.
func CheckMounted(lister MountLister, root string) error {
	mounts, err := lister.Mounts()
	if err != nil {
		return types.Wrap(types.ErrIOFailure, err, "failed to read mount table")
	}

	clean := filepath.Clean(root)
	var best *mountinfo.Info
	for _, m := range mounts {
		if !within(clean, m.Mountpoint) {
			continue
		}
		if best == nil || len(m.Mountpoint) >= len(best.Mountpoint) {
			best = m
		}
	}

	if best == nil || best.FSType != FSType {
		return types.Errorf(types.ErrPreconditionFailed, "%s is not mounted as %s in system", root, FSType)
	}
	return nil
}

func within(path, mountpoint string) bool {
	mp := filepath.Clean(mountpoint)
	if mp == "/" || path == mp {
		return true
	}
	return strings.HasPrefix(path, mp+string(filepath.Separator))
}
