//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"os/user"
)

// Operator identifies who is running the installer, for the audit trail.
type Operator struct {
	// Hostname of the machine the installer runs on.
	Hostname string
	// Username of the invoking user.
	Username string
}

// DetectOperator gathers host and user information for the audit trail.
func DetectOperator() (*Operator, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &Operator{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}

// IsRoot reports whether the installer runs with root privileges.
// Host provisioning (system user, directory ownership, unit files) requires them.
func IsRoot() bool {
	return os.Geteuid() == 0
}
