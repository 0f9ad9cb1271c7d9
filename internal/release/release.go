package release

import (
	"errors"
	"fmt"
)

// Channel is the release track an installation follows.
type Channel string

const (
	// ChannelStable follows the latest published release.
	ChannelStable Channel = "stable"
	// ChannelNightly follows the rolling nightly build.
	ChannelNightly Channel = "nightly"
)

// Architecture is the CPU architecture of the target host, in release-asset notation.
type Architecture string

const (
	// ArchX8664 is the 64-bit x86 architecture.
	ArchX8664 Architecture = "x86_64"
	// ArchAarch64 is the 64-bit ARM architecture.
	ArchAarch64 Architecture = "aarch64"
)

const (
	// BinaryBaseName is the service executable name without the target suffix.
	BinaryBaseName = "ottershipper"

	// targetSuffix completes the Rust-style target triple used in asset names.
	targetSuffix = "unknown-linux-gnu"

	// manifestExtension is appended to the binary asset name to form the manifest asset name.
	manifestExtension = ".sha256"
)

// errUnsupportedPlatform is returned when the host OS or architecture has no published artifacts.
var errUnsupportedPlatform = errors.New("platform not supported")

// Target returns the asset target triple for the architecture.
func (a Architecture) Target() string {
	return fmt.Sprintf("%s-%s", a, targetSuffix)
}

// DetectPlatform maps Go runtime identifiers to the release architecture.
// The identifiers are threaded in explicitly so callers control the probe.
func DetectPlatform(goos, goarch string) (Architecture, error) {
	if goos != "linux" {
		return "", fmt.Errorf("%s: %w", goos, errUnsupportedPlatform)
	}

	switch goarch {
	case "amd64":
		return ArchX8664, nil
	case "arm64":
		return ArchAarch64, nil
	default:
		return "", fmt.Errorf("%s/%s: %w", goos, goarch, errUnsupportedPlatform)
	}
}

// Source designates where the artifact comes from.
// Exactly one of the fields is set.
type Source struct {
	// LocalPath is the path to a pre-built binary on the local filesystem.
	LocalPath string
	// Tag is the published release tag to download.
	Tag string
}

// IsLocal reports whether the artifact is taken from the local filesystem.
func (s Source) IsLocal() bool {
	return s.LocalPath != ""
}

// String renders the source for logs.
func (s Source) String() string {
	if s.IsLocal() {
		return "local:" + s.LocalPath
	}

	return "release:" + s.Tag
}

// ArtifactReference identifies the exact artifact an installation run works with.
// It is produced once by the resolver and immutable afterwards.
type ArtifactReference struct {
	// Channel is the release track the artifact belongs to.
	Channel Channel
	// Architecture is the target host architecture.
	Architecture Architecture
	// BinaryName is the release asset name of the service binary.
	BinaryName string
	// ManifestName is the release asset name of the checksum manifest.
	ManifestName string
	// Source designates where the binary and manifest are obtained from.
	Source Source
}

// BinaryAssetName returns the deterministic binary asset name for a channel and architecture.
func BinaryAssetName(arch Architecture) string {
	return fmt.Sprintf("%s-%s", BinaryBaseName, arch.Target())
}

// ManifestAssetName returns the deterministic manifest asset name for a channel and architecture.
func ManifestAssetName(arch Architecture) string {
	return BinaryAssetName(arch) + manifestExtension
}
