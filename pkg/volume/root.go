package volume

import (
	"path/filepath"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

// Root is the initialized storage root. It is immutable; re-initializing
// produces a new handle.
type Root struct {
	path string
}

// NewRoot validates and cleans an absolute root path
func NewRoot(path string) (*Root, error) {
	if path == "" {
		return nil, types.Errorf(types.ErrInvalidArgument, "root folder path is required")
	}
	if !filepath.IsAbs(path) {
		return nil, types.Errorf(types.ErrInvalidArgument, "root folder path %s is not absolute", path)
	}
	return &Root{path: filepath.Clean(path)}, nil
}

// Path returns the cleaned root path
func (r *Root) Path() string {
	return r.path
}

// Resolve cleans p and checks that it lies strictly inside the root
func (r *Root) Resolve(p string) (string, error) {
	if p == "" {
		return "", types.Errorf(types.ErrInvalidArgument, "path is required")
	}
	if !filepath.IsAbs(p) {
		return "", types.Errorf(types.ErrInvalidArgument, "path %s is not absolute", p)
	}
	clean := filepath.Clean(p)
	rel, err := filepath.Rel(r.path, clean)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", types.Errorf(types.ErrInvalidArgument, "path %s is outside of storage root %s", p, r.path)
	}
	return clean, nil
}

// Subvolume resolves a file path and returns it together with the subvolume
// directory that holds it. The subvolume may not be the root itself.
func (r *Root) Subvolume(installPath string) (path, subvolume string, err error) {
	path, err = r.Resolve(installPath)
	if err != nil {
		return "", "", err
	}
	subvolume = filepath.Dir(path)
	if subvolume == r.path {
		return "", "", types.Errorf(types.ErrInvalidArgument, "path %s must be inside a subvolume of %s, not the root itself", installPath, r.path)
	}
	return path, subvolume, nil
}
