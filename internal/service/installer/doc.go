// Package installer brings the ottershipper server binary onto a host and
// under systemd supervision.
//
// A run is a strictly sequential pipeline: resolve the release artifact,
// fetch and verify it in a scoped staging directory, confirm the target port
// is free, bootstrap the container engine dependency, provision the service
// identity and directories, write the default configuration once, deploy the
// binary with its unit, and confirm the new instance is healthy. Every step
// is idempotent; the first fatal failure aborts the remainder, and only
// transient resources are released on exit. Fatal failures carry a Category
// that maps to a dedicated process exit code.
package installer
