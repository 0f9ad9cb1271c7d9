package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

const (
	// defaultOwner is the GitHub organization publishing releases.
	defaultOwner = "ottershipper"
	// defaultRepo is the GitHub repository publishing releases.
	defaultRepo = "ottershipper"

	// nightlyTag is the rolling tag nightly builds are published under.
	nightlyTag = "nightly"
)

var (
	errEmptyReleaseTag = errors.New("latest release has no tag")
	errLocalBinary     = errors.New("local binary is not usable")
)

// Resolver decides which artifact an installation run needs and where it comes from.
type Resolver struct {
	// client is the GitHub API client used to resolve the latest stable tag.
	client *github.Client
	// owner and repo identify the release repository.
	owner string
	repo  string
}

// NewResolver creates a resolver for the ottershipper release repository.
// When the GITHUB_TOKEN environment variable is set, API calls are authenticated,
// which raises the rate limit and allows private release repositories.
func NewResolver() *Resolver {
	var httpClient *http.Client

	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), source)
	}

	return &Resolver{
		client: github.NewClient(httpClient),
		owner:  defaultOwner,
		repo:   defaultRepo,
	}
}

// Resolve produces the artifact reference for the requested channel and
// architecture. A non-empty localBinary short-circuits remote resolution and
// yields a local source. For the stable channel the latest published release
// tag is queried; the nightly channel always maps to the rolling nightly tag.
func (r *Resolver) Resolve(
	ctx context.Context,
	channel Channel,
	arch Architecture,
	localBinary string,
) (*ArtifactReference, error) {
	reference := &ArtifactReference{
		Channel:      channel,
		Architecture: arch,
		BinaryName:   BinaryAssetName(arch),
		ManifestName: ManifestAssetName(arch),
	}

	if localBinary != "" {
		absolutePath, err := filepath.Abs(localBinary)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errLocalBinary, err)
		}

		info, err := os.Stat(absolutePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errLocalBinary, err)
		}

		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", errLocalBinary, absolutePath)
		}

		reference.Source = Source{LocalPath: absolutePath}

		return reference, nil
	}

	tag, err := r.resolveTag(ctx, channel)
	if err != nil {
		return nil, err
	}

	reference.Source = Source{Tag: tag}

	return reference, nil
}

// resolveTag returns the release tag for the channel.
func (r *Resolver) resolveTag(ctx context.Context, channel Channel) (string, error) {
	if channel == ChannelNightly {
		return nightlyTag, nil
	}

	latest, _, err := r.client.Repositories.GetLatestRelease(ctx, r.owner, r.repo)
	if err != nil {
		return "", fmt.Errorf("query latest release of %s/%s: %w", r.owner, r.repo, err)
	}

	tag := latest.GetTagName()
	if tag == "" {
		return "", errEmptyReleaseTag
	}

	// Stable tags follow semantic versioning; a tag that does not parse points
	// at a misconfigured release and is rejected up front.
	if _, err = semver.NewVersion(strings.TrimPrefix(tag, "v")); err != nil {
		return "", fmt.Errorf("release tag %q is not a semantic version: %w", tag, err)
	}

	return tag, nil
}
