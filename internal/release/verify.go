package release

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var errChecksumMismatch = errors.New("checksum mismatch")

// Verify computes the digest of the staged binary and compares it against the
// manifest entry for the binary asset. It returns the raw digest bytes so the
// deployment step can re-validate the bytes it applies.
//
// Verification runs before any host mutation; a failed verification means the
// staged binary is discarded with the staging directory and the host is left
// untouched.
func Verify(artifact *Artifact) ([]byte, error) {
	expected, err := artifact.Manifest.DigestFor(artifact.Reference.BinaryName)
	if err != nil {
		return nil, err
	}

	actual, err := FileDigest(artifact.BinaryPath)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(expected, actual) {
		return nil, fmt.Errorf("%s: manifest %s, computed %s: %w",
			artifact.Reference.BinaryName, expected, actual, errChecksumMismatch)
	}

	digest, err := hex.DecodeString(expected)
	if err != nil {
		return nil, fmt.Errorf("decode manifest digest: %w", err)
	}

	return digest, nil
}
