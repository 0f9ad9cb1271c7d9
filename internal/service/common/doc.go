// Package common provides host plumbing shared by installer steps: a Runner
// abstraction over host command execution and operator/privilege detection.
package common
