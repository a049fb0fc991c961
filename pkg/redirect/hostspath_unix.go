//go:build !windows
// +build !windows

package redirect

// Standard hosts file location on Unix-like systems
const defaultHostsPath = "/etc/hosts"
