package volume

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/moby/locker"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/btrfs"
	"github.com/cuemby/burrow/pkg/capacity"
	"github.com/cuemby/burrow/pkg/fetch"
	"github.com/cuemby/burrow/pkg/image"
	"github.com/cuemby/burrow/pkg/journal"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/target"
	"github.com/cuemby/burrow/pkg/types"
)

// Operation names, used in logs, metrics and the journal
const (
	OpInit        = "init"
	OpDownload    = "downloadFromSftp"
	OpCheckBits   = "checkBitsExistence"
	OpDeleteBits  = "deleteBits"
	OpCreateRoot  = "createRootVolumeFromTemplate"
	OpCreateEmpty = "createEmptyVolume"
)

// Lock key prefix for per-volume target locks, kept apart from path keys
const targetLockShard = "target:"

// SubvolumeStore creates and removes the subvolumes volumes live in
type SubvolumeStore interface {
	CreateSubvolume(ctx context.Context, path string) error
	SnapshotSubvolume(ctx context.Context, src, dst string) error
	DeleteSubvolume(ctx context.Context, path string) error
	Move(src, dst string) error
}

// Normalizer turns a downloaded image into a raw image in place
type Normalizer interface {
	Normalize(ctx context.Context, path string) error
}

// TargetRegistry exposes volumes as iSCSI targets
type TargetRegistry interface {
	Register(ctx context.Context, reg target.Registration) (target.Target, error)
	Unregister(ctx context.Context, volumeUUID string) error
	Exists(volumeUUID string) (bool, error)
	ConfigPath(volumeUUID string) string
}

// Allocator creates a raw file of the given size
type Allocator func(path string, size int64) error

// Options configures a Manager
type Options struct {
	Store      SubvolumeStore
	Normalizer Normalizer
	Fetcher    fetch.Fetcher
	Targets    TargetRegistry

	// Optional; defaults are the local filesystem implementations
	Prober   capacity.Prober
	Mounts   btrfs.MountLister
	Allocate Allocator

	// Journal records mutating operations when set
	Journal journal.Journal

	// DisableRollback leaves partial state on disk when an operation fails
	DisableRollback bool
}

// Manager runs volume lifecycle operations against the storage root
type Manager struct {
	store      SubvolumeStore
	normalizer Normalizer
	fetcher    fetch.Fetcher
	targets    TargetRegistry
	prober     capacity.Prober
	mounts     btrfs.MountLister
	allocate   Allocator
	journal    journal.Journal
	rollback   bool

	repo  *Repository
	locks *locker.Locker
	root  atomic.Pointer[Root]
}

// NewManager creates a manager. The storage root is unset until Init.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil || opts.Normalizer == nil || opts.Fetcher == nil || opts.Targets == nil {
		return nil, fmt.Errorf("store, normalizer, fetcher and targets are required")
	}

	m := &Manager{
		store:      opts.Store,
		normalizer: opts.Normalizer,
		fetcher:    opts.Fetcher,
		targets:    opts.Targets,
		prober:     opts.Prober,
		mounts:     opts.Mounts,
		allocate:   opts.Allocate,
		journal:    opts.Journal,
		rollback:   !opts.DisableRollback,
		repo:       NewRepository(opts.Targets),
		locks:      locker.New(),
	}
	if m.prober == nil {
		m.prober = capacity.NewFSProber()
	}
	if m.mounts == nil {
		m.mounts = btrfs.SystemMounts{}
	}
	if m.allocate == nil {
		m.allocate = image.Allocate
	}
	return m, nil
}

// Root returns the current storage root, or nil before Init
func (m *Manager) Root() *Root {
	return m.root.Load()
}

// Init checks that the root folder is on btrfs and makes it the storage
// root. Initializing again with the same root is a no-op.
func (m *Manager) Init(ctx context.Context, req *types.InitRequest) (*types.InitResponse, error) {
	var resp *types.InitResponse
	err := m.track(OpInit, "", req.RootFolderPath, false, func(logger zerolog.Logger, entry *types.JournalEntry) error {
		root, err := NewRoot(req.RootFolderPath)
		if err != nil {
			return err
		}
		if err := btrfs.CheckMounted(m.mounts, root.Path()); err != nil {
			return err
		}

		if !m.root.CompareAndSwap(nil, root) {
			current := m.root.Load()
			if current.Path() != root.Path() {
				return types.Errorf(types.ErrPreconditionFailed, "storage root already initialized at %s", current.Path())
			}
			root = current
		} else {
			logger.Info().Str("root", root.Path()).Msg("storage root initialized")
		}

		snap, err := m.probe(ctx, root)
		if err != nil {
			return err
		}
		resp = &types.InitResponse{}
		resp.Success = true
		resp.SetCapacity(snap.Total, snap.Available)
		return nil
	})
	return resp, err
}

// DownloadFromBackup creates a template subvolume and fills it with an image
// fetched from backup storage
func (m *Manager) DownloadFromBackup(ctx context.Context, req *types.DownloadRequest) (*types.DownloadResponse, error) {
	var resp *types.DownloadResponse
	err := m.track(OpDownload, "", req.PrimaryStorageInstallPath, true, func(logger zerolog.Logger, entry *types.JournalEntry) error {
		root, err := m.currentRoot()
		if err != nil {
			return err
		}
		path, subvol, err := root.Subvolume(req.PrimaryStorageInstallPath)
		if err != nil {
			return err
		}
		if req.Hostname == "" || req.BackupStorageInstallPath == "" {
			return types.Errorf(types.ErrInvalidArgument, "hostname and backupStorageInstallPath are required")
		}

		unlock := m.lock(subvol)
		defer unlock()

		exists, err := m.repo.SubvolumeExists(subvol)
		if err != nil {
			return err
		}
		if exists {
			return types.Errorf(types.ErrAlreadyExists, "cannot download template; %s exists.", subvol)
		}

		src := fetch.Source{Host: req.Hostname, PrivateKey: req.SSHKey, Path: req.BackupStorageInstallPath}
		plan := NewPlan(OpDownload, m.rollback, logger).
			Add(Step{
				Name: "create subvolume",
				Do:   func(ctx context.Context) error { return m.store.CreateSubvolume(ctx, subvol) },
				Undo: func(ctx context.Context) error { return m.store.DeleteSubvolume(ctx, subvol) },
			}).
			Add(Step{
				Name: "fetch image",
				Do:   func(ctx context.Context) error { return m.fetcher.Fetch(ctx, src, path) },
			}).
			Add(Step{
				Name: "normalize image",
				Do:   func(ctx context.Context) error { return m.normalizer.Normalize(ctx, path) },
			})

		err = plan.Run(ctx)
		entry.Steps = plan.Records()
		if err != nil {
			return err
		}

		logger.Info().Str("host", req.Hostname).Str("source", req.BackupStorageInstallPath).Msg("template downloaded")

		snap, err := m.probe(ctx, root)
		if err != nil {
			return err
		}
		resp = &types.DownloadResponse{}
		resp.Success = true
		resp.SetCapacity(snap.Total, snap.Available)
		return nil
	})
	return resp, err
}

// CheckBitsExistence reports whether a path exists. It works before Init,
// and an empty path simply does not exist.
func (m *Manager) CheckBitsExistence(ctx context.Context, req *types.CheckBitsRequest) (*types.CheckBitsResponse, error) {
	var resp *types.CheckBitsResponse
	err := m.track(OpCheckBits, "", req.Path, false, func(logger zerolog.Logger, entry *types.JournalEntry) error {
		exists := false
		if req.Path != "" {
			found, err := m.repo.FileExists(req.Path)
			if err != nil {
				return err
			}
			exists = found
		}
		resp = &types.CheckBitsResponse{IsExisting: exists}
		resp.Success = true
		return nil
	})
	return resp, err
}

// DeleteBits deletes the subvolume holding the install path. When a volume
// UUID is given its target is unregistered first; failing to do so does not
// stop the deletion.
func (m *Manager) DeleteBits(ctx context.Context, req *types.DeleteBitsRequest) (*types.DeleteBitsResponse, error) {
	var resp *types.DeleteBitsResponse
	err := m.track(OpDeleteBits, req.VolumeUUID, req.InstallPath, true, func(logger zerolog.Logger, entry *types.JournalEntry) error {
		root, err := m.currentRoot()
		if err != nil {
			return err
		}
		_, subvol, err := root.Subvolume(req.InstallPath)
		if err != nil {
			return err
		}
		keys := []string{subvol}
		if req.VolumeUUID != "" {
			if err := target.ValidateUUID(req.VolumeUUID); err != nil {
				return err
			}
			keys = append(keys, targetLockShard+req.VolumeUUID)
		}

		unlock := m.lock(keys...)
		defer unlock()

		plan := NewPlan(OpDeleteBits, false, logger)
		if req.VolumeUUID != "" {
			plan.Add(Step{
				Name:       "unregister target",
				Do:         func(ctx context.Context) error { return m.targets.Unregister(ctx, req.VolumeUUID) },
				BestEffort: true,
			})
		}
		plan.Add(Step{
			Name: "delete subvolume",
			Do:   func(ctx context.Context) error { return m.store.DeleteSubvolume(ctx, subvol) },
		})

		err = plan.Run(ctx)
		entry.Steps = plan.Records()
		if err != nil {
			return err
		}

		snap, err := m.probe(ctx, root)
		if err != nil {
			return err
		}
		resp = &types.DeleteBitsResponse{}
		resp.Success = true
		resp.SetCapacity(snap.Total, snap.Available)
		return nil
	})
	return resp, err
}

// CreateRootVolumeFromTemplate snapshots a template subvolume into a new root
// volume and exposes it as an iSCSI target
func (m *Manager) CreateRootVolumeFromTemplate(ctx context.Context, req *types.CreateRootVolumeRequest) (*types.CreateRootVolumeResponse, error) {
	var resp *types.CreateRootVolumeResponse
	err := m.track(OpCreateRoot, req.VolumeUUID, req.InstallPath, true, func(logger zerolog.Logger, entry *types.JournalEntry) error {
		root, err := m.currentRoot()
		if err != nil {
			return err
		}
		templatePath, templateSubvol, err := root.Subvolume(req.TemplatePathInCache)
		if err != nil {
			return err
		}
		path, subvol, err := root.Subvolume(req.InstallPath)
		if err != nil {
			return err
		}
		reg := target.Registration{
			VolumeUUID:   req.VolumeUUID,
			InstallPath:  path,
			ChapUsername: req.ChapUsername,
			ChapPassword: req.ChapPassword,
		}
		if err := target.ValidateRegistration(reg); err != nil {
			return err
		}
		if templateSubvol == subvol {
			return types.Errorf(types.ErrInvalidArgument, "volume %s must not be in the template subvolume %s", req.InstallPath, templateSubvol)
		}

		unlock := m.lock(templateSubvol, subvol, targetLockShard+req.VolumeUUID)
		defer unlock()

		found, err := m.repo.FileExists(templatePath)
		if err != nil {
			return err
		}
		if !found {
			return types.Errorf(types.ErrNotFound, "cannot find template[%s] in cache", req.TemplatePathInCache)
		}
		if err := m.checkVolumeAbsent(subvol, req.VolumeUUID, "cannot create root volume; %s already exists"); err != nil {
			return err
		}

		plan := NewPlan(OpCreateRoot, m.rollback, logger).
			Add(Step{
				Name: "snapshot template",
				Do:   func(ctx context.Context) error { return m.store.SnapshotSubvolume(ctx, templateSubvol, subvol) },
				Undo: func(ctx context.Context) error { return m.store.DeleteSubvolume(ctx, subvol) },
			})

		if moved := filepath.Join(subvol, filepath.Base(templatePath)); moved != path {
			plan.Add(Step{
				Name: "move image",
				Do:   func(ctx context.Context) error { return m.store.Move(moved, path) },
			})
		}

		var tgt target.Target
		plan.Add(m.registerStep(&tgt, reg))

		err = plan.Run(ctx)
		entry.Steps = plan.Records()
		if err != nil {
			return err
		}

		logger.Info().Str("template", req.TemplatePathInCache).Str("target", tgt.Name).Str("config", tgt.ConfigPath).Msg("root volume created")

		snap, err := m.probe(ctx, root)
		if err != nil {
			return err
		}
		resp = &types.CreateRootVolumeResponse{IscsiPath: tgt.Name}
		resp.Success = true
		resp.SetCapacity(snap.Total, snap.Available)
		return nil
	})
	return resp, err
}

// CreateEmptyVolume creates a subvolume holding a sparse raw file of the
// requested size and exposes it as an iSCSI target
func (m *Manager) CreateEmptyVolume(ctx context.Context, req *types.CreateEmptyVolumeRequest) (*types.CreateEmptyVolumeResponse, error) {
	var resp *types.CreateEmptyVolumeResponse
	err := m.track(OpCreateEmpty, req.VolumeUUID, req.InstallPath, true, func(logger zerolog.Logger, entry *types.JournalEntry) error {
		root, err := m.currentRoot()
		if err != nil {
			return err
		}
		path, subvol, err := root.Subvolume(req.InstallPath)
		if err != nil {
			return err
		}
		reg := target.Registration{
			VolumeUUID:   req.VolumeUUID,
			InstallPath:  path,
			ChapUsername: req.ChapUsername,
			ChapPassword: req.ChapPassword,
		}
		if err := target.ValidateRegistration(reg); err != nil {
			return err
		}
		if req.Size <= 0 {
			return types.Errorf(types.ErrInvalidArgument, "invalid volume size %d", req.Size)
		}

		unlock := m.lock(subvol, targetLockShard+req.VolumeUUID)
		defer unlock()

		if err := m.checkVolumeAbsent(subvol, req.VolumeUUID, "cannot create empty volume; %s already exists"); err != nil {
			return err
		}

		var tgt target.Target
		plan := NewPlan(OpCreateEmpty, m.rollback, logger).
			Add(Step{
				Name: "create subvolume",
				Do:   func(ctx context.Context) error { return m.store.CreateSubvolume(ctx, subvol) },
				Undo: func(ctx context.Context) error { return m.store.DeleteSubvolume(ctx, subvol) },
			}).
			Add(m.registerStep(&tgt, reg)).
			Add(Step{
				Name: "allocate raw file",
				Do:   func(ctx context.Context) error { return m.allocate(path, req.Size) },
			})

		err = plan.Run(ctx)
		entry.Steps = plan.Records()
		if err != nil {
			return err
		}

		logger.Info().Int64("size", req.Size).Str("target", tgt.Name).Str("config", tgt.ConfigPath).Msg("empty volume created")

		snap, err := m.probe(ctx, root)
		if err != nil {
			return err
		}
		resp = &types.CreateEmptyVolumeResponse{IscsiPath: tgt.Name}
		resp.Success = true
		resp.SetCapacity(snap.Total, snap.Available)
		return nil
	})
	return resp, err
}

// registerStep registers a target and, on rollback, removes the config file
// only if this step wrote it
func (m *Manager) registerStep(out *target.Target, reg target.Registration) Step {
	return Step{
		Name: "register target",
		Do: func(ctx context.Context) error {
			t, err := m.targets.Register(ctx, reg)
			*out = t
			return err
		},
		Undo: func(ctx context.Context) error {
			if out.ConfigPath == "" {
				return nil
			}
			return m.targets.Unregister(ctx, reg.VolumeUUID)
		},
		UndoOnFailure: true,
	}
}

// checkVolumeAbsent fails with ALREADY_EXISTS when the subvolume or the
// volume's target config already exists
func (m *Manager) checkVolumeAbsent(subvol, volumeUUID, format string) error {
	exists, err := m.repo.SubvolumeExists(subvol)
	if err != nil {
		return err
	}
	if exists {
		return types.Errorf(types.ErrAlreadyExists, format, subvol)
	}

	exists, err = m.repo.TargetExists(volumeUUID)
	if err != nil {
		return err
	}
	if exists {
		return types.Errorf(types.ErrAlreadyExists, "ISCSI target configure file[%s] already exists", m.targets.ConfigPath(volumeUUID))
	}
	return nil
}

func (m *Manager) currentRoot() (*Root, error) {
	root := m.root.Load()
	if root == nil {
		return nil, types.Errorf(types.ErrPreconditionFailed, "storage root is not initialized")
	}
	return root, nil
}

func (m *Manager) probe(ctx context.Context, root *Root) (capacity.Snapshot, error) {
	snap, err := m.prober.Probe(ctx, root.Path())
	if err != nil {
		return capacity.Snapshot{}, err
	}
	metrics.CapacityTotalBytes.Set(float64(snap.Total))
	metrics.CapacityAvailableBytes.Set(float64(snap.Available))
	return snap, nil
}

// lock takes the keyed locks in a fixed order and returns the release func
func (m *Manager) lock(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var held []string
	for i, k := range sorted {
		if i > 0 && k == sorted[i-1] {
			continue
		}
		m.locks.Lock(k)
		held = append(held, k)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = m.locks.Unlock(held[i])
		}
	}
}

// track wraps an operation with logging, metrics and, for mutating
// operations, a journal entry
func (m *Manager) track(op, volumeUUID, installPath string, journaled bool, fn func(zerolog.Logger, *types.JournalEntry) error) error {
	timer := metrics.NewTimer()
	metrics.InflightOperations.Inc()
	defer metrics.InflightOperations.Dec()

	logger := log.WithComponent("volume").With().
		Str("operation", op).
		Str("install_path", installPath).
		Logger()
	logger = log.WithVolumeID(logger, volumeUUID)
	logger.Debug().Msg("operation started")

	entry := &types.JournalEntry{
		Operation:   op,
		VolumeUUID:  volumeUUID,
		InstallPath: installPath,
		StartedAt:   time.Now().UTC(),
	}

	err := fn(logger, entry)

	entry.FinishedAt = time.Now().UTC()
	entry.Success = err == nil
	if err != nil {
		entry.ErrorCode = types.CodeOf(err)
		entry.Error = err.Error()
	}

	timer.ObserveDurationVec(metrics.OperationDuration, op)
	metrics.OperationsTotal.WithLabelValues(op, metrics.Result(err)).Inc()

	if journaled && m.journal != nil {
		if jerr := m.journal.Record(entry); jerr != nil {
			logger.Warn().Err(jerr).Msg("failed to journal operation")
		}
	}

	if err != nil {
		logger.Error().Err(err).
			Str("error_code", string(types.CodeOf(err))).
			Dur("duration", timer.Duration()).
			Msg("operation failed")
		return err
	}
	logger.Info().Dur("duration", timer.Duration()).Msg("operation completed")
	return nil
}
