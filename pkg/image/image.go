// Package image inspects downloaded disk images and converts them to the
// raw format tgt serves as a backing store.
package image

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/shell"
	"github.com/cuemby/burrow/pkg/types"
)

// Format is a disk image container format as reported by qemu-img
type Format string

const (
	FormatRaw   Format = "raw"
	FormatQCOW2 Format = "qcow2"
)

// FilePermissions are the permissions for allocated raw files
const FilePermissions = 0644

// Info is the subset of `qemu-img info --output=json` burrow reads
type Info struct {
	Format      Format `json:"format"`
	VirtualSize int64  `json:"virtual-size"`
	ActualSize  int64  `json:"actual-size"`
}

// Normalizer converts images in place to raw
type Normalizer struct {
	runner shell.Runner
	binary string
}

// NewNormalizer creates a normalizer. binary defaults to "qemu-img".
func NewNormalizer(runner shell.Runner, binary string) *Normalizer {
	if binary == "" {
		binary = "qemu-img"
	}
	return &Normalizer{runner: runner, binary: binary}
}

// Inspect returns the image info of the file at path
func (n *Normalizer) Inspect(ctx context.Context, path string) (Info, error) {
	out, err := n.runner.Run(ctx, n.binary, "info", "--output=json", path)
	if err != nil {
		return Info{}, err
	}

	var info Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return Info{}, types.Wrap(types.ErrExternalToolFailure, err, "cannot get image format of %s, qemu-img info outputs:\n%s\n", path, out)
	}
	if info.Format == "" {
		return Info{}, types.Errorf(types.ErrExternalToolFailure, "cannot get image format of %s, qemu-img info outputs:\n%s\n", path, out)
	}
	return info, nil
}

// Normalize leaves raw images alone, converts qcow2 images to raw in place
// and rejects anything else
func (n *Normalizer) Normalize(ctx context.Context, path string) error {
	logger := log.WithComponent("image")

	info, err := n.Inspect(ctx, path)
	if err != nil {
		return err
	}

	switch Format(strings.TrimSpace(string(info.Format))) {
	case FormatRaw:
		logger.Debug().Str("path", path).Msg("image already raw")
		return nil
	case FormatQCOW2:
		if err := n.convert(ctx, path, FormatQCOW2); err != nil {
			return err
		}
		logger.Info().Str("path", path).Str("from", string(FormatQCOW2)).Msg("image converted to raw")
		return nil
	default:
		return types.Errorf(types.ErrPreconditionFailed, "unsupported image format[%s] of %s", info.Format, path)
	}
}

// convert writes the raw image next to the source and renames it over the source
func (n *Normalizer) convert(ctx context.Context, path string, from Format) error {
	tmp := path + ".raw.tmp"
	if _, err := n.runner.Run(ctx, n.binary, "convert", "-f", string(from), "-O", string(FormatRaw), path, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return types.Wrap(types.ErrIOFailure, err, "failed to replace %s with converted image", path)
	}
	return nil
}

// Allocate creates a sparse raw file of exactly size bytes at path
func Allocate(path string, size int64) error {
	if size <= 0 {
		return types.Errorf(types.ErrInvalidArgument, "invalid volume size %d", size)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, FilePermissions)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return types.Errorf(types.ErrAlreadyExists, "%s already exists", path)
		}
		return types.Wrap(types.ErrIOFailure, err, "failed to create raw file %s", path)
	}

	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return types.Wrap(types.ErrIOFailure, err, "failed to allocate %d bytes for %s", size, path)
	}

	if err := f.Close(); err != nil {
		return types.Wrap(types.ErrIOFailure, err, "failed to close %s", path)
	}
	return nil
}
