// Package state persists the install receipt: a YAML record of the last
// successful installation written into the service data directory.
package state
