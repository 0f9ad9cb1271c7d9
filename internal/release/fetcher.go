package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"
)

const (
	// downloadTimeout bounds a single asset download.
	downloadTimeout = 5 * time.Minute

	// stagedFileMode is the mode staged artifacts are created with.
	stagedFileMode os.FileMode = 0o600
)

var errUnexpectedStatus = errors.New("unexpected http status")

// Artifact is a fetched binary plus its checksum manifest, staged on local disk.
type Artifact struct {
	// Reference identifies the artifact this staging belongs to.
	Reference *ArtifactReference
	// BinaryPath is the staged binary inside the run's staging directory.
	BinaryPath string
	// Manifest lists the expected digests for the release assets.
	Manifest *Manifest
}

// Fetcher obtains release artifacts and stages them in a scoped directory.
// The staging directory's lifetime is owned by the caller.
type Fetcher struct {
	// httpClient performs asset downloads.
	httpClient *http.Client
	// downloadBase is the release asset download location, joined with <tag>/<asset>.
	downloadBase string
	// token, when set, authenticates asset downloads.
	token string
}

// NewFetcher creates a fetcher for the ottershipper release repository.
// GITHUB_TOKEN, when set, is attached to download requests.
func NewFetcher() *Fetcher {
	return &Fetcher{
		httpClient:   &http.Client{Timeout: downloadTimeout},
		downloadBase: fmt.Sprintf("https://github.com/%s/%s/releases/download", defaultOwner, defaultRepo),
		token:        os.Getenv("GITHUB_TOKEN"),
	}
}

// Fetch stages the binary and its checksum manifest under stagingDir.
// For a local source the manifest is computed from the file itself; for a
// remote source both assets are downloaded and any transport failure aborts
// the run before the host is touched.
func (f *Fetcher) Fetch(ctx context.Context, reference *ArtifactReference, stagingDir string) (*Artifact, error) {
	if reference.Source.IsLocal() {
		return f.stageLocal(reference, stagingDir)
	}

	return f.stageRemote(ctx, reference, stagingDir)
}

// stageLocal copies the local binary into staging and self-issues its manifest.
func (f *Fetcher) stageLocal(reference *ArtifactReference, stagingDir string) (*Artifact, error) {
	stagedBinary := filepath.Join(stagingDir, reference.BinaryName)

	if err := copyFile(reference.Source.LocalPath, stagedBinary); err != nil {
		return nil, fmt.Errorf("stage local binary: %w", err)
	}

	manifest, err := SelfIssuedManifest(stagedBinary, reference.BinaryName)
	if err != nil {
		return nil, fmt.Errorf("compute local manifest: %w", err)
	}

	return &Artifact{
		Reference:  reference,
		BinaryPath: stagedBinary,
		Manifest:   manifest,
	}, nil
}

// stageRemote downloads the binary and manifest assets into staging.
func (f *Fetcher) stageRemote(ctx context.Context, reference *ArtifactReference, stagingDir string) (*Artifact, error) {
	stagedBinary := filepath.Join(stagingDir, reference.BinaryName)
	if err := f.downloadAsset(ctx, reference.Source.Tag, reference.BinaryName, stagedBinary); err != nil {
		return nil, err
	}

	stagedManifest := filepath.Join(stagingDir, reference.ManifestName)
	if err := f.downloadAsset(ctx, reference.Source.Tag, reference.ManifestName, stagedManifest); err != nil {
		return nil, err
	}

	contents, err := os.ReadFile(stagedManifest)
	if err != nil {
		return nil, fmt.Errorf("read staged manifest: %w", err)
	}

	manifest, err := ParseManifest(contents)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", reference.ManifestName, err)
	}

	return &Artifact{
		Reference:  reference,
		BinaryPath: stagedBinary,
		Manifest:   manifest,
	}, nil
}

// downloadAsset fetches one release asset to the destination path.
func (f *Fetcher) downloadAsset(ctx context.Context, tag, asset, destination string) error {
	assetURL, err := url.Parse(f.downloadBase)
	if err != nil {
		return fmt.Errorf("parse download base: %w", err)
	}

	// path.Join normalizes duplicate slashes when composing the URL path.
	assetURL.Path = path.Join(assetURL.Path, tag, asset)
	finalURL := assetURL.String()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", finalURL, err)
	}

	if f.token != "" {
		request.Header.Set("Authorization", "Bearer "+f.token)
	}

	response, err := f.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("download %s: %w", finalURL, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s: %w", finalURL, response.Status, errUnexpectedStatus)
	}

	destinationFile, err := os.OpenFile(filepath.Clean(destination), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, stagedFileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", destination, err)
	}

	if _, err = io.Copy(destinationFile, response.Body); err != nil {
		_ = destinationFile.Close()

		return fmt.Errorf("write %s: %w", destination, err)
	}

	if err = destinationFile.Close(); err != nil {
		return fmt.Errorf("close %s: %w", destination, err)
	}

	return nil
}

// copyFile copies a regular file, truncating the destination if it exists.
func copyFile(source, destination string) error {
	sourceFile, err := os.Open(filepath.Clean(source))
	if err != nil {
		return err
	}

	defer func() {
		_ = sourceFile.Close()
	}()

	destinationFile, err := os.OpenFile(filepath.Clean(destination), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, stagedFileMode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(destinationFile, sourceFile); err != nil {
		_ = destinationFile.Close()

		return err
	}

	return destinationFile.Close()
}
