package target

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/shell"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	// DefaultConfigDir is where tgt-admin picks up per-target config files
	DefaultConfigDir = "/etc/tgt/conf.d"

	// DefaultNamespace is the organization segment of generated IQNs
	DefaultNamespace = "zstack"

	// DefaultDriver is the tgt driver used for every target
	DefaultDriver = "iscsi"

	// ConfigPermissions are the permissions of written config files
	ConfigPermissions = 0644

	configExt = ".conf"
)

// Registration describes the target to expose for one volume
type Registration struct {
	VolumeUUID   string
	InstallPath  string
	ChapUsername string
	ChapPassword string
}

// Target is a registered iSCSI target
type Target struct {
	Name         string
	VolumeUUID   string
	BackingStore string
	CHAP         bool
	ConfigPath   string
}

// Info converts the target to its wire form
func (t Target) Info() types.TargetInfo {
	return types.TargetInfo{
		Name:         t.Name,
		VolumeUUID:   t.VolumeUUID,
		BackingStore: t.BackingStore,
		CHAP:         t.CHAP,
		ConfigPath:   t.ConfigPath,
	}
}

// Options configures a Registry
type Options struct {
	ConfigDir string
	Namespace string
	Driver    string
	TgtAdmin  string
	Runner    shell.Runner

	// Now is the clock used for IQN dates. Defaults to time.Now.
	Now func() time.Time

	// OnReload is called after every reload attempt with its outcome
	OnReload func(err error)
}

// Registry writes one tgt config file per volume and reloads tgt.
// Writes and reloads are serialized by a single mutex because the reload is
// global.
type Registry struct {
	configDir string
	namespace string
	driver    string
	tgtAdmin  string
	runner    shell.Runner
	now       func() time.Time
	onReload  func(err error)

	mu sync.Mutex
}

// NewRegistry creates a registry
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		configDir: opts.ConfigDir,
		namespace: opts.Namespace,
		driver:    opts.Driver,
		tgtAdmin:  opts.TgtAdmin,
		runner:    opts.Runner,
		now:       opts.Now,
		onReload:  opts.OnReload,
	}
	if r.configDir == "" {
		r.configDir = DefaultConfigDir
	}
	if r.namespace == "" {
		r.namespace = DefaultNamespace
	}
	if r.driver == "" {
		r.driver = DefaultDriver
	}
	if r.tgtAdmin == "" {
		r.tgtAdmin = "tgt-admin"
	}
	if r.runner == nil {
		r.runner = shell.NewExecRunner()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// ConfigDir returns the directory holding target config files
func (r *Registry) ConfigDir() string {
	return r.configDir
}

// Name returns the IQN for a volume at the registry's current date
func (r *Registry) Name(volumeUUID string) string {
	return fmt.Sprintf("iqn.%s.org.%s:%s", r.now().Format("2006-01"), r.namespace, volumeUUID)
}

// ConfigPath returns the config file path for a volume
func (r *Registry) ConfigPath(volumeUUID string) string {
	return filepath.Join(r.configDir, volumeUUID+configExt)
}

// Register writes the config file for a new target and reloads tgt. It
// never overwrites an existing config file.
func (r *Registry) Register(ctx context.Context, reg Registration) (Target, error) {
	if err := ValidateRegistration(reg); err != nil {
		return Target{}, err
	}

	t := Target{
		Name:         r.Name(reg.VolumeUUID),
		VolumeUUID:   reg.VolumeUUID,
		BackingStore: reg.InstallPath,
		CHAP:         reg.ChapUsername != "" && reg.ChapPassword != "",
		ConfigPath:   r.ConfigPath(reg.VolumeUUID),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.configDir, 0755); err != nil {
		return Target{}, types.Wrap(types.ErrIOFailure, err, "failed to create %s", r.configDir)
	}

	if _, err := os.Lstat(t.ConfigPath); err == nil {
		return Target{}, types.Errorf(types.ErrAlreadyExists, "ISCSI target configure file[%s] already exists", t.ConfigPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Target{}, types.Wrap(types.ErrIOFailure, err, "failed to stat %s", t.ConfigPath)
	}

	data := render(t.Name, reg.InstallPath, r.driver, reg.ChapUsername, reg.ChapPassword)
	if err := writeFileAtomic(t.ConfigPath, data, ConfigPermissions); err != nil {
		return Target{}, types.Wrap(types.ErrIOFailure, err, "failed to write %s", t.ConfigPath)
	}

	if err := r.reload(ctx); err != nil {
		return t, err
	}

	logger := log.WithComponent("target")
	logger.Info().
		Str("target", t.Name).
		Str("volume_id", t.VolumeUUID).
		Str("backing_store", t.BackingStore).
		Bool("chap", t.CHAP).
		Msg("target registered")
	return t, nil
}

// Unregister removes the config file of a volume and reloads tgt. A missing
// config file is not an error.
func (r *Registry) Unregister(ctx context.Context, volumeUUID string) error {
	if err := ValidateUUID(volumeUUID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.ConfigPath(volumeUUID)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return types.Wrap(types.ErrIOFailure, err, "failed to remove %s", path)
	}

	if err := r.reload(ctx); err != nil {
		return err
	}

	logger := log.WithComponent("target")
	logger.Info().Str("volume_id", volumeUUID).Msg("target unregistered")
	return nil
}

// Exists reports whether a config file exists for the volume
func (r *Registry) Exists(volumeUUID string) (bool, error) {
	if err := ValidateUUID(volumeUUID); err != nil {
		return false, err
	}
	_, err := os.Lstat(r.ConfigPath(volumeUUID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, types.Wrap(types.ErrIOFailure, err, "failed to stat %s", r.ConfigPath(volumeUUID))
}

// List parses every config file in the config directory. Files that do not
// describe a target are skipped.
func (r *Registry) List() ([]Target, error) {
	logger := log.WithComponent("target")

	entries, err := os.ReadDir(r.configDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Target{}, nil
		}
		return nil, types.Wrap(types.ErrIOFailure, err, "failed to read %s", r.configDir)
	}

	targets := make([]Target, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), configExt) {
			continue
		}
		path := filepath.Join(r.configDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable target config")
			continue
		}
		t, err := parse(data)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("skipping unparsable target config")
			continue
		}
		t.VolumeUUID = strings.TrimSuffix(e.Name(), configExt)
		t.ConfigPath = path
		targets = append(targets, t)
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].VolumeUUID < targets[j].VolumeUUID })
	return targets, nil
}

func (r *Registry) reload(ctx context.Context) error {
	_, err := r.runner.Run(ctx, r.tgtAdmin, "--update", "ALL", "--force")
	if r.onReload != nil {
		r.onReload(err)
	}
	return err
}

// ValidateUUID rejects volume UUIDs that could escape the config directory
// or break the target block they are written into
func ValidateUUID(volumeUUID string) error {
	if volumeUUID == "" {
		return types.Errorf(types.ErrInvalidArgument, "volume uuid is required")
	}
	if strings.ContainsRune(volumeUUID, filepath.Separator) || strings.Contains(volumeUUID, "..") || !isConfigToken(volumeUUID) {
		return types.Errorf(types.ErrInvalidArgument, "invalid volume uuid %q", volumeUUID)
	}
	return nil
}

// ValidateRegistration checks every field that ends up in a config file.
// Values are written as bare tokens, so whitespace, control characters and
// the block delimiters are rejected.
func ValidateRegistration(reg Registration) error {
	if err := ValidateUUID(reg.VolumeUUID); err != nil {
		return err
	}
	if reg.InstallPath == "" {
		return types.Errorf(types.ErrInvalidArgument, "backing store path is required")
	}
	if !isConfigToken(reg.InstallPath) {
		return types.Errorf(types.ErrInvalidArgument, "invalid backing store path %q", reg.InstallPath)
	}
	// Secrets are never echoed back in errors
	if reg.ChapUsername != "" && !isConfigToken(reg.ChapUsername) {
		return types.Errorf(types.ErrInvalidArgument, "invalid chap username")
	}
	if reg.ChapPassword != "" && !isConfigToken(reg.ChapPassword) {
		return types.Errorf(types.ErrInvalidArgument, "invalid chap password")
	}
	return nil
}

func isConfigToken(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '<' || r == '>' || r == '#' {
			return false
		}
	}
	return true
}

func render(name, backingStore, driver, user, password string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<target %s>\n", name)
	fmt.Fprintf(&b, "    backing-store %s\n", backingStore)
	fmt.Fprintf(&b, "    driver %s\n", driver)
	if user != "" && password != "" {
		fmt.Fprintf(&b, "    incominguser %s %s\n", user, password)
	}
	b.WriteString("    write-cache on\n")
	b.WriteString("</target>\n")
	return b.Bytes()
}

func parse(data []byte) (Target, error) {
	var t Target
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "<target":
			if t.Name != "" {
				return Target{}, fmt.Errorf("more than one <target> block")
			}
			if len(fields) == 2 {
				t.Name = strings.TrimSuffix(fields[1], ">")
			}
		case "backing-store":
			if len(fields) == 2 {
				t.BackingStore = fields[1]
			}
		case "incominguser":
			t.CHAP = len(fields) == 3
		}
	}
	if err := scanner.Err(); err != nil {
		return Target{}, err
	}
	if t.Name == "" {
		return Target{}, fmt.Errorf("no <target> block")
	}
	return t, nil
}
