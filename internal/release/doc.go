// Package release resolves, fetches and verifies ottershipper release
// artifacts.
//
// A resolution picks the channel (stable or nightly), probes the host
// architecture and yields an immutable artifact reference whose source is
// either a published release tag or a local file. The fetcher stages the
// binary and its sha256sum-style checksum manifest in a scoped directory, and
// Verify gates the rest of the installation on a digest match.
package release
