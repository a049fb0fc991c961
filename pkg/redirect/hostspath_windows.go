//go:build windows
// +build windows

package redirect

// Standard hosts file location on Windows
const defaultHostsPath = `C:\Windows\System32\drivers\etc\hosts`
