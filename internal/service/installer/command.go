package installer

import (
	"context"
	"encoding/hex"
	"net"
	"os"
	"os/user"
	"runtime"
	"time"

	"github.com/ottershipper/installer/internal/config"
	"github.com/ottershipper/installer/internal/logger"
	"github.com/ottershipper/installer/internal/release"
	"github.com/ottershipper/installer/internal/repository/state"
	"github.com/ottershipper/installer/internal/service/common"
	"github.com/ottershipper/installer/internal/version"
)

// Options are inputs accepted by the installer entry point.
type Options struct {
	// Nightly selects the nightly channel instead of stable.
	Nightly bool
	// LocalBinary bypasses remote fetch and installs from this path.
	LocalBinary string
}

// artifactResolver decides which artifact a run needs.
type artifactResolver interface {
	Resolve(ctx context.Context, channel release.Channel, arch release.Architecture,
		localBinary string) (*release.ArtifactReference, error)
}

// artifactFetcher stages the binary and its manifest on local disk.
type artifactFetcher interface {
	Fetch(ctx context.Context, reference *release.ArtifactReference,
		stagingDir string) (*release.Artifact, error)
}

// installer holds the mutable state and helpers for a single installation run.
// It is intentionally unexported; callers go through Run(ctx, Options).
type installer struct {
	opts     *Options         // Invocation inputs.
	paths    Paths            // Host locations this run touches.
	runner   common.Runner    // Host command execution.
	resolver artifactResolver // Channel and tag resolution.
	fetcher  artifactFetcher  // Artifact staging.

	stagingDir   string // Scoped download directory, removed on exit.
	lockAcquired bool   // Whether this run owns the lock file.

	// Host environment, threaded in explicitly instead of read ad hoc.
	goos   string
	goarch string

	// Host side effects, overridable in tests.
	lookupUser func(name string) (*user.User, error)
	chown      func(path string, uid, gid int) error
	listen     func(network, address string) (net.Listener, error)
	dial       func(network, address string, timeout time.Duration) (net.Conn, error)
	sleep      func(d time.Duration)
	now        func() time.Time

	// Results threaded between steps.
	reference *release.ArtifactReference
	artifact  *release.Artifact
	digest    []byte
	state     *InstallationState
}

// Run executes the installation pipeline and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "ottershipper-install")

	inst, err := newInstaller(ctx, opts)
	if inst != nil {
		defer inst.cleanup(ctx)
	}

	if err != nil {
		return err
	}

	if err = inst.run(ctx); err != nil {
		logger.ErrorKV(ctx, "Installation failed", "error", err)
		return err
	}

	logger.Info(ctx, "Installation completed")

	return nil
}

// newInstaller prepares the run: audit logging, the concurrent-run lock and
// the scoped staging directory.
func newInstaller(ctx context.Context, opts *Options) (*installer, error) {
	inst := &installer{
		opts:       opts,
		paths:      DefaultPaths(),
		runner:     common.ExecRunner{},
		resolver:   release.NewResolver(),
		fetcher:    release.NewFetcher(),
		goos:       runtime.GOOS,
		goarch:     runtime.GOARCH,
		lookupUser: user.Lookup,
		chown:      os.Chown,
		listen:     net.Listen,
		dial:       net.DialTimeout,
		sleep:      time.Sleep,
		now:        time.Now,
	}

	if operator, err := common.DetectOperator(); err == nil {
		logger.InfoKV(ctx, "Starting installer",
			"host", operator.Hostname, "user", operator.Username, "version", version.Short())
	}

	if err := acquireLock(ctx, inst.paths.LockFile); err != nil {
		return inst, err
	}

	inst.lockAcquired = true

	stagingDir, err := os.MkdirTemp("", ServiceName+"-install-")
	if err != nil {
		return inst, failf(CategoryGeneral, "create staging directory: %v", err)
	}

	inst.stagingDir = stagingDir

	return inst, nil
}

// run executes the pipeline for this run instance:
// 1) Detect the host platform.
// 2) Resolve the artifact for the requested channel.
// 3) Fetch the binary and its checksum manifest into staging.
// 4) Verify the binary digest against the manifest.
// 5) Confirm the target port is free.
// 6) Bootstrap the container engine dependency.
// 7) Provision the service user and directories.
// 8) Write the default configuration if none exists.
// 9) Deploy the binary and the supervised unit.
// 10) Confirm the new instance is healthy.
// The first fatal step failure aborts the remainder.
func (i *installer) run(ctx context.Context) error {
	arch, err := release.DetectPlatform(i.goos, i.goarch)
	if err != nil {
		return newError(CategoryDetection, err)
	}

	channel := release.ChannelStable
	if i.opts.Nightly {
		channel = release.ChannelNightly
	}

	logger.InfoKV(ctx, "Resolving release", "channel", channel, "architecture", arch)

	i.reference, err = i.resolver.Resolve(ctx, channel, arch, i.opts.LocalBinary)
	if err != nil {
		return newError(CategoryResolution, err)
	}

	logger.InfoKV(ctx, "Fetching artifact",
		"source", i.reference.Source.String(), "binary", i.reference.BinaryName)

	i.artifact, err = i.fetcher.Fetch(ctx, i.reference, i.stagingDir)
	if err != nil {
		return newError(CategoryFetch, err)
	}

	logger.Info(ctx, "Verifying artifact integrity")

	i.digest, err = release.Verify(i.artifact)
	if err != nil {
		return newError(CategoryIntegrity, err)
	}

	logger.InfoKV(ctx, "Artifact verified", "digest", hex.EncodeToString(i.digest))

	i.state = &InstallationState{
		BinaryInstallPath: i.paths.BinaryPath(),
		ConfigPath:        i.paths.ConfigPath(),
		DataDir:           i.paths.DataDir,
		ServiceIdentity:   ServiceName,
		UnitPath:          i.paths.UnitPath(),
	}

	// The port pre-flight runs ahead of the dependency bootstrap so a conflict
	// aborts before anything mutates the host.
	if err = i.checkPort(ctx); err != nil {
		return err
	}

	if err = i.bootstrapDependency(ctx); err != nil {
		return err
	}

	if err = i.provisionHost(ctx); err != nil {
		return err
	}

	if err = i.ensureConfig(ctx); err != nil {
		return err
	}

	if err = i.deploy(ctx); err != nil {
		return err
	}

	if err = i.checkHealth(ctx); err != nil {
		return err
	}

	i.writeReceipt(ctx)

	return nil
}

// ensureConfig writes the default configuration on first install only.
func (i *installer) ensureConfig(ctx context.Context) error {
	created, err := config.WriteDefault(i.state.ConfigPath, i.state.DataDir)
	if err != nil {
		return newError(CategoryProvisioning, err)
	}

	i.state.ConfigCreated = created

	if created {
		logger.InfoKV(ctx, "Wrote default configuration", "path", i.state.ConfigPath)
	} else {
		logger.InfoKV(ctx, "Keeping existing configuration", "path", i.state.ConfigPath)
	}

	return nil
}

// writeReceipt records the successful installation in the data directory.
// The receipt is informational; failure to write it does not fail the run.
func (i *installer) writeReceipt(ctx context.Context) {
	receipt := &state.Receipt{
		Channel:          string(i.reference.Channel),
		Tag:              i.reference.Source.Tag,
		Source:           i.reference.Source.String(),
		Digest:           hex.EncodeToString(i.digest),
		BinaryPath:       i.state.BinaryInstallPath,
		BackupPath:       i.state.BackupPath,
		InstalledAt:      i.now().UTC(),
		InstallerVersion: version.Short(),
	}

	if err := state.NewFileRepository(i.paths.ReceiptPath()).Save(ctx, receipt); err != nil {
		logger.WarnKV(ctx, "Could not write install receipt", "error", err)
		return
	}

	logger.InfoKV(ctx, "Wrote install receipt", "path", i.paths.ReceiptPath())
}

// cleanup releases transient resources: the staging directory and the lock.
// Host-level mutations already applied are deliberately left in place for
// operator inspection or a follow-up run.
func (i *installer) cleanup(ctx context.Context) {
	if i.stagingDir != "" {
		if _, err := os.Stat(i.stagingDir); err == nil {
			_ = os.RemoveAll(i.stagingDir)
		}
	}

	if i.lockAcquired {
		releaseLock(i.paths.LockFile)
	}

	logger.Info(ctx, "The installer has stopped")
}
