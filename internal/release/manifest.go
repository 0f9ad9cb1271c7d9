package release

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	errManifestEmpty     = errors.New("checksum manifest is empty")
	errManifestMalformed = errors.New("malformed checksum manifest line")
	errNoManifestEntry   = errors.New("no manifest entry for file")
	errDuplicateEntry    = errors.New("more than one manifest entry for file")
)

// ManifestEntry is a single filename/digest pair from a checksum manifest.
type ManifestEntry struct {
	// Digest is the lowercase hex SHA-256 digest of the file.
	Digest string
	// Filename is the asset name the digest covers.
	Filename string
}

// Manifest is an ordered checksum listing in the sha256sum convention:
// one `<hex-digest>  <filename>` pair per line.
type Manifest struct {
	// Entries preserves the order the manifest listed files in.
	Entries []ManifestEntry
}

// ParseManifest parses sha256sum-style manifest contents.
// Blank lines are skipped; anything else that does not look like a
// digest/filename pair fails the parse.
func ParseManifest(data []byte) (*Manifest, error) {
	manifest := new(Manifest)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %q", errManifestMalformed, line)
		}

		digest := strings.ToLower(fields[0])
		if _, err := hex.DecodeString(digest); err != nil || len(digest) != sha256.Size*2 {
			return nil, fmt.Errorf("%w: %q", errManifestMalformed, line)
		}

		// sha256sum prefixes filenames with '*' in binary mode.
		filename := strings.TrimPrefix(fields[1], "*")

		manifest.Entries = append(manifest.Entries, ManifestEntry{
			Digest:   digest,
			Filename: filename,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan manifest: %w", err)
	}

	if len(manifest.Entries) == 0 {
		return nil, errManifestEmpty
	}

	return manifest, nil
}

// DigestFor returns the digest for the named file.
// Exactly one entry must match; zero or several matches fail verification.
func (m *Manifest) DigestFor(filename string) (string, error) {
	var (
		digest string
		found  bool
	)

	for _, entry := range m.Entries {
		if entry.Filename != filename {
			continue
		}

		if found {
			return "", fmt.Errorf("%s: %w", filename, errDuplicateEntry)
		}

		digest = entry.Digest
		found = true
	}

	if !found {
		return "", fmt.Errorf("%s: %w", filename, errNoManifestEntry)
	}

	return digest, nil
}

// SelfIssuedManifest computes a single-entry manifest for a local file.
// It carries self-issued trust: the digest is derived from the file itself
// and only guards the copy between staging and the install path.
func SelfIssuedManifest(path, filename string) (*Manifest, error) {
	digest, err := FileDigest(path)
	if err != nil {
		return nil, err
	}

	return &Manifest{
		Entries: []ManifestEntry{
			{Digest: digest, Filename: filename},
		},
	}, nil
}

// FileDigest returns the lowercase hex SHA-256 digest of a file.
func FileDigest(path string) (string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
