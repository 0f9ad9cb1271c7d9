package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottershipper/installer/internal/config"
	"github.com/ottershipper/installer/internal/release"
	"github.com/ottershipper/installer/internal/repository/state"
)

// fakeRunner simulates the host: the package system, the service supervisor
// and the container engine. It records every command for assertions and keeps
// just enough state for the supervisor transitions to behave realistically.
type fakeRunner struct {
	mu sync.Mutex

	calls   []string
	fail    map[string]error // Command prefix to forced failure.
	missing map[string]bool  // Executables absent from PATH.

	serviceActive bool // Whether the supervised unit reports active.
	engineUp      bool // Whether the container engine daemon answers.

	users map[string]*user.User // Host accounts, shared with lookupUser.
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		fail:    map[string]error{},
		missing: map[string]bool{dependencyBinary: true},
		users:   map[string]*user.User{},
	}
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	command := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, command)

	for prefix, err := range r.fail {
		if strings.HasPrefix(command, prefix) {
			return err
		}
	}

	switch {
	case command == "systemctl start "+ServiceName:
		r.serviceActive = true
	case command == "systemctl stop "+ServiceName:
		r.serviceActive = false
	case strings.HasPrefix(command, "systemctl is-active"):
		if !r.serviceActive {
			return errors.New("inactive")
		}
	case command == dependencyBinary+" info":
		if !r.engineUp {
			return errors.New("cannot connect to the daemon")
		}
	case strings.HasPrefix(command, "apt-get install"):
		delete(r.missing, dependencyBinary)
	case command == "systemctl enable --now "+dependencyUnit,
		command == "systemctl start "+dependencyUnit:
		r.engineUp = true
	case name == "useradd":
		username := args[len(args)-1]
		r.users[username] = &user.User{
			Uid:      "990",
			Gid:      "990",
			Username: username,
		}
	}

	return nil
}

func (r *fakeRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	return "", r.Run(ctx, name, args...)
}

func (r *fakeRunner) LookPath(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.missing[name] {
		return "", errors.New(name + ": executable file not found in $PATH")
	}

	return "/usr/bin/" + name, nil
}

// callCount reports how many recorded commands start with the prefix.
func (r *fakeRunner) callCount(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, call := range r.calls {
		if strings.HasPrefix(call, prefix) {
			count++
		}
	}

	return count
}

// newTestInstaller builds an installer pointed at temp directories with every
// host side effect faked out.
func newTestInstaller(t *testing.T, opts *Options) (*installer, *fakeRunner) {
	t.Helper()

	root := t.TempDir()
	paths := Paths{
		BinDir:    filepath.Join(root, "bin"),
		ConfigDir: filepath.Join(root, "etc"),
		DataDir:   filepath.Join(root, "data"),
		UnitDir:   filepath.Join(root, "units"),
		LockFile:  filepath.Join(root, "install.lock"),
	}

	// The unit directory exists on a real host before the installer runs.
	require.NoError(t, os.MkdirAll(paths.UnitDir, 0o755))

	runner := newFakeRunner()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	inst := &installer{
		opts:       opts,
		paths:      paths,
		runner:     runner,
		resolver:   release.NewResolver(),
		fetcher:    release.NewFetcher(),
		stagingDir: t.TempDir(),
		goos:       "linux",
		goarch:     "amd64",
		lookupUser: func(name string) (*user.User, error) {
			runner.mu.Lock()
			defer runner.mu.Unlock()

			if record, ok := runner.users[name]; ok {
				return record, nil
			}

			return nil, user.UnknownUserError(name)
		},
		chown: func(string, int, int) error { return nil },
		listen: func(string, string) (net.Listener, error) {
			return nil, nil
		},
		dial: func(string, string, time.Duration) (net.Conn, error) {
			return nil, nil
		},
		sleep: func(time.Duration) {},
		now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}

	return inst, runner
}

// writeLocalBinary stages a pre-built binary for the local install path.
func writeLocalBinary(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), release.BinaryBaseName)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o755))

	return path
}

func hexDigest(contents string) string {
	sum := sha256.Sum256([]byte(contents))
	return hex.EncodeToString(sum[:])
}

func requireCategory(t *testing.T, err error, category Category) {
	t.Helper()

	var categorized *Error

	require.ErrorAs(t, err, &categorized)
	require.Equal(t, category, categorized.Category)
}

func TestRun_FreshInstall(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "server build one")
	inst, runner := newTestInstaller(t, &Options{LocalBinary: binary})
	ctx := context.Background()

	require.NoError(t, inst.run(ctx))

	// Binary installed with the staged bytes.
	installed, err := os.ReadFile(inst.paths.BinaryPath())
	require.NoError(t, err)
	assert.Equal(t, "server build one", string(installed))

	info, err := os.Stat(inst.paths.BinaryPath())
	require.NoError(t, err)
	assert.Equal(t, binaryFileMode, info.Mode().Perm())

	// No previous binary, so no backup.
	assert.Empty(t, inst.state.BackupPath)

	// Default configuration written once.
	assert.True(t, inst.state.ConfigCreated)

	cfg, err := config.Load(inst.paths.ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, config.DefaultTransport, cfg.Server.Transport)
	assert.Equal(t, config.DefaultPort, cfg.Server.Port)
	assert.Equal(t, filepath.Join(inst.paths.DataDir, config.DatabaseFilename), cfg.Database.Path)

	// Unit file carries the supervision and hardening settings.
	unit, err := os.ReadFile(inst.paths.UnitPath())
	require.NoError(t, err)
	assert.Contains(t, string(unit), "User="+ServiceName)
	assert.Contains(t, string(unit), "ExecStart="+inst.paths.BinaryPath())
	assert.Contains(t, string(unit), "Restart=on-failure")
	assert.Contains(t, string(unit), "RestartSec=5")
	assert.Contains(t, string(unit), "NoNewPrivileges=true")
	assert.Contains(t, string(unit), "After=network-online.target "+dependencyUnit+".service")

	// Absent container engine was installed and enabled.
	assert.Equal(t, 1, runner.callCount("apt-get update"))
	assert.Equal(t, 1, runner.callCount("apt-get install -y "+dependencyPackage))
	assert.Equal(t, 1, runner.callCount("systemctl enable --now "+dependencyUnit))

	// Service identity created and the unit brought up.
	assert.Equal(t, 1, runner.callCount("useradd"))
	assert.Equal(t, 1, runner.callCount("systemctl daemon-reload"))
	assert.Equal(t, 1, runner.callCount("systemctl start "+ServiceName))

	// Receipt recorded the verified digest and the local source.
	receipt, err := state.NewFileRepository(inst.paths.ReceiptPath()).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(release.ChannelStable), receipt.Channel)
	assert.Equal(t, hexDigest("server build one"), receipt.Digest)
	assert.Equal(t, inst.paths.BinaryPath(), receipt.BinaryPath)
	assert.True(t, strings.HasPrefix(receipt.Source, "local:"))
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "server build one")
	inst, runner := newTestInstaller(t, &Options{LocalBinary: binary})
	ctx := context.Background()

	require.NoError(t, inst.run(ctx))

	// The operator tunes the configuration between runs.
	cfg, err := config.Load(inst.paths.ConfigPath())
	require.NoError(t, err)
	cfg.Database.Path = "/mnt/fast/ottershipper.db"
	require.NoError(t, config.Save(inst.paths.ConfigPath(), cfg))

	require.NoError(t, inst.run(ctx))

	// Existing configuration survives untouched.
	assert.False(t, inst.state.ConfigCreated)

	reloaded, err := config.Load(inst.paths.ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, "/mnt/fast/ottershipper.db", reloaded.Database.Path)

	// The user exists already, so no second creation.
	assert.Equal(t, 1, runner.callCount("useradd"))

	// The bootstrapped engine is only probed, never reinstalled.
	assert.Equal(t, 1, runner.callCount("apt-get install"))

	// Same bytes reinstalled; the previous copy became the backup.
	installed, err := os.ReadFile(inst.paths.BinaryPath())
	require.NoError(t, err)
	assert.Equal(t, "server build one", string(installed))

	backups, err := filepath.Glob(inst.paths.BinaryPath() + backupSuffix + "*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
}

func TestRun_UpgradeKeepsOneBackup(t *testing.T) {
	t.Parallel()

	inst, runner := newTestInstaller(t, &Options{LocalBinary: writeLocalBinary(t, "build one")})
	ctx := context.Background()

	require.NoError(t, inst.run(ctx))

	inst.opts.LocalBinary = writeLocalBinary(t, "build two")
	require.NoError(t, inst.run(ctx))

	inst.opts.LocalBinary = writeLocalBinary(t, "build three")
	require.NoError(t, inst.run(ctx))

	installed, err := os.ReadFile(inst.paths.BinaryPath())
	require.NoError(t, err)
	assert.Equal(t, "build three", string(installed))

	// Exactly one prior version is retained and it is the immediate predecessor.
	backups, err := filepath.Glob(inst.paths.BinaryPath() + backupSuffix + "*")
	require.NoError(t, err)
	require.Len(t, backups, 1)

	backup, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "build two", string(backup))

	// A running previous instance was stopped before each replacement.
	assert.Equal(t, 2, runner.callCount("systemctl stop "+ServiceName))
}

func TestRun_PortConflictAbortsBeforeHostMutation(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "server build one")
	inst, runner := newTestInstaller(t, &Options{LocalBinary: binary})
	inst.listen = func(string, string) (net.Listener, error) {
		return nil, errors.New("address already in use")
	}

	err := inst.run(context.Background())
	requireCategory(t, err, CategoryPortConflict)
	assert.Equal(t, 8, ExitCode(err))

	// Nothing ran on the host and nothing was written outside staging.
	assert.Empty(t, runner.calls)
	assert.NoFileExists(t, inst.paths.BinaryPath())
	assert.NoFileExists(t, inst.paths.ConfigPath())
	assert.NoFileExists(t, inst.paths.UnitPath())
}

// mismatchFetcher stages a binary whose manifest digest does not match its bytes.
type mismatchFetcher struct{}

func (mismatchFetcher) Fetch(
	_ context.Context,
	reference *release.ArtifactReference,
	stagingDir string,
) (*release.Artifact, error) {
	stagedBinary := filepath.Join(stagingDir, reference.BinaryName)
	if err := os.WriteFile(stagedBinary, []byte("tampered payload"), 0o600); err != nil {
		return nil, err
	}

	return &release.Artifact{
		Reference:  reference,
		BinaryPath: stagedBinary,
		Manifest: &release.Manifest{
			Entries: []release.ManifestEntry{
				{Digest: hexDigest("expected payload"), Filename: reference.BinaryName},
			},
		},
	}, nil
}

func TestRun_IntegrityFailureLeavesHostUntouched(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "previous build")
	inst, runner := newTestInstaller(t, &Options{LocalBinary: binary})
	inst.fetcher = mismatchFetcher{}

	// A previous installation is in place.
	require.NoError(t, os.MkdirAll(inst.paths.BinDir, 0o755))
	require.NoError(t, os.WriteFile(inst.paths.BinaryPath(), []byte("previous build"), 0o755))

	err := inst.run(context.Background())
	requireCategory(t, err, CategoryIntegrity)
	assert.Equal(t, 6, ExitCode(err))

	// The previously installed binary is untouched and nothing else happened.
	installed, readErr := os.ReadFile(inst.paths.BinaryPath())
	require.NoError(t, readErr)
	assert.Equal(t, "previous build", string(installed))

	backups, globErr := filepath.Glob(inst.paths.BinaryPath() + backupSuffix + "*")
	require.NoError(t, globErr)
	assert.Empty(t, backups)

	assert.Empty(t, runner.calls)
	assert.NoFileExists(t, inst.paths.ConfigPath())
	assert.NoFileExists(t, inst.paths.UnitPath())
}

func TestRun_UnsupportedPlatform(t *testing.T) {
	t.Parallel()

	inst, _ := newTestInstaller(t, &Options{LocalBinary: writeLocalBinary(t, "build")})
	inst.goos = "darwin"

	err := inst.run(context.Background())
	requireCategory(t, err, CategoryDetection)
	assert.Equal(t, 3, ExitCode(err))
}

func TestRun_MissingLocalBinary(t *testing.T) {
	t.Parallel()

	inst, _ := newTestInstaller(t, &Options{
		LocalBinary: filepath.Join(t.TempDir(), "no-such-binary"),
	})

	err := inst.run(context.Background())
	requireCategory(t, err, CategoryResolution)
}

func TestRun_DependencyInstallFailure(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "server build one")
	inst, runner := newTestInstaller(t, &Options{LocalBinary: binary})
	runner.fail["apt-get install"] = errors.New("no installation candidate")

	err := inst.run(context.Background())
	requireCategory(t, err, CategoryDependency)
	assert.Equal(t, 7, ExitCode(err))

	// The failure precedes any deployment step.
	assert.NoFileExists(t, inst.paths.BinaryPath())
}

func TestRun_UnresponsiveEngineIsStarted(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "server build one")
	inst, runner := newTestInstaller(t, &Options{LocalBinary: binary})

	// Engine installed but its daemon is down.
	runner.missing = map[string]bool{}

	require.NoError(t, inst.run(context.Background()))

	assert.Equal(t, 1, runner.callCount("systemctl start "+dependencyUnit))
	assert.Zero(t, runner.callCount("apt-get"))
}

func TestRun_StopFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "server build two")
	inst, runner := newTestInstaller(t, &Options{LocalBinary: binary})

	// A previous instance is running and refuses to stop.
	runner.serviceActive = true
	runner.fail["systemctl stop "+ServiceName] = errors.New("timed out")

	require.NoError(t, inst.run(context.Background()))

	installed, err := os.ReadFile(inst.paths.BinaryPath())
	require.NoError(t, err)
	assert.Equal(t, "server build two", string(installed))
}

func TestRun_EnableFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "server build one")
	inst, runner := newTestInstaller(t, &Options{LocalBinary: binary})
	runner.fail["systemctl enable "+ServiceName] = errors.New("masked")

	require.NoError(t, inst.run(context.Background()))
	assert.Equal(t, 1, runner.callCount("systemctl start "+ServiceName))
}

func TestRun_StartFailureIsFatal(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "server build one")
	inst, runner := newTestInstaller(t, &Options{LocalBinary: binary})
	runner.fail["systemctl start "+ServiceName] = errors.New("exit status 1")

	err := inst.run(context.Background())
	requireCategory(t, err, CategoryDeployment)
	assert.Equal(t, 10, ExitCode(err))
}

func TestRun_HealthFailureIsFatal(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "server build one")
	inst, runner := newTestInstaller(t, &Options{LocalBinary: binary})
	runner.fail["systemctl is-active"] = errors.New("inactive")

	err := inst.run(context.Background())
	requireCategory(t, err, CategoryHealth)
	assert.Equal(t, 11, ExitCode(err))
	assert.Contains(t, err.Error(), "journalctl")
}

func TestRun_NightlyChannelInReceipt(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "nightly build")
	inst, _ := newTestInstaller(t, &Options{Nightly: true, LocalBinary: binary})
	ctx := context.Background()

	require.NoError(t, inst.run(ctx))

	receipt, err := state.NewFileRepository(inst.paths.ReceiptPath()).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(release.ChannelNightly), receipt.Channel)
}

func TestRun_PortFromExistingConfig(t *testing.T) {
	t.Parallel()

	binary := writeLocalBinary(t, "server build one")
	inst, _ := newTestInstaller(t, &Options{LocalBinary: binary})

	// Pre-existing configuration moves the service to another port.
	require.NoError(t, os.MkdirAll(inst.paths.ConfigDir, 0o755))

	cfg := config.Default(inst.paths.DataDir)
	cfg.Server.Port = 8443
	require.NoError(t, config.Save(inst.paths.ConfigPath(), cfg))

	var probed string

	inst.listen = func(_, address string) (net.Listener, error) {
		probed = address
		return nil, nil
	}

	require.NoError(t, inst.run(context.Background()))
	assert.Equal(t, ":8443", probed)
}
