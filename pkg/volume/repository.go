package volume

import (
	"errors"
	"io/fs"
	"os"

	"github.com/cuemby/burrow/pkg/types"
)

// Repository answers existence questions from the filesystem and the target
// registry. No state is cached.
type Repository struct {
	targets TargetRegistry
}

// NewRepository creates a repository backed by targets
func NewRepository(targets TargetRegistry) *Repository {
	return &Repository{targets: targets}
}

// SubvolumeExists reports whether anything exists at the subvolume path
func (r *Repository) SubvolumeExists(path string) (bool, error) {
	return exists(path)
}

// FileExists reports whether anything exists at path
func (r *Repository) FileExists(path string) (bool, error) {
	return exists(path)
}

// TargetExists reports whether a target config file exists for the volume
func (r *Repository) TargetExists(volumeUUID string) (bool, error) {
	return r.targets.Exists(volumeUUID)
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, types.Wrap(types.ErrIOFailure, err, "failed to stat %s", path)
}
