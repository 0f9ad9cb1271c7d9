// Package config models the TOML configuration document consumed by the
// ottershipper server and provides helpers to generate, load and save it.
//
// The installer writes a default document on first install only; existing
// files are never regenerated so operator customization survives upgrades.
package config
