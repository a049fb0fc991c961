package redirect

import (
	"fmt"
	"os"
	"strings"
)

// entryTag marks hosts entries written by this client so they can be told
// apart from user-managed lines and cleaned up after a crash.
const entryTag = "# park-link"

// HostsInstaller substitutes the vendor host by rewriting the system hosts
// file: every game lookup of the vendor host then resolves to the local
// relay address.
type HostsInstaller struct {
	Path       string // hosts file path; empty means the platform default
	VendorHost string // host name to redirect (the vendor's hard-coded endpoint)
	RelayIP    string // address the entry points at (the local relay bind IP)
}

// NewHostsInstaller creates an installer for the platform hosts file
func NewHostsInstaller(path, vendorHost, relayIP string) *HostsInstaller {
	if path == "" {
		path = defaultHostsPath
	}
	return &HostsInstaller{Path: path, VendorHost: vendorHost, RelayIP: relayIP}
}

// Install rewrites the hosts file with any previous vendor-host redirect
// removed and a single tagged entry appended.
func (h *HostsInstaller) Install() error {
	lines, err := h.readFiltered()
	if err != nil {
		return err
	}
	lines = append(lines, fmt.Sprintf("%s %s %s", h.RelayIP, h.VendorHost, entryTag))
	return h.write(lines)
}

// Remove strips every vendor-host redirect line, restoring the file to its
// pre-install content. No-op if no entry is present.
func (h *HostsInstaller) Remove() error {
	content, err := h.read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	lines := filterHostLines(content, h.VendorHost)
	return h.write(lines)
}

// Installed reports whether a redirect entry for the vendor host exists,
// including stale entries left by a crashed previous instance.
func (h *HostsInstaller) Installed() (bool, error) {
	content, err := h.read()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	for _, line := range strings.Split(content, "\n") {
		if isHostRedirectLine(line, h.VendorHost) {
			return true, nil
		}
	}
	return false, nil
}

func (h *HostsInstaller) readFiltered() ([]string, error) {
	content, err := h.read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("hosts file missing: %s", h.Path)
		}
		return nil, err
	}
	return filterHostLines(content, h.VendorHost), nil
}

func (h *HostsInstaller) read() (string, error) {
	data, err := os.ReadFile(h.Path)
	if err != nil {
		if os.IsPermission(err) {
			return "", fmt.Errorf("%w: reading %s", ErrPermissionDenied, h.Path)
		}
		return "", err
	}
	return string(data), nil
}

func (h *HostsInstaller) write(lines []string) error {
	output := strings.Join(lines, "\n")
	if !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	if err := os.WriteFile(h.Path, []byte(output), 0o644); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: writing %s", ErrPermissionDenied, h.Path)
		}
		return fmt.Errorf("failed to write hosts file: %v", err)
	}
	return nil
}

// filterHostLines returns the file's lines with every redirect entry for the
// vendor host removed. Comments and unrelated lines pass through untouched.
func filterHostLines(content, vendorHost string) []string {
	in := strings.Split(strings.TrimRight(content, "\n"), "\n")
	out := make([]string, 0, len(in))
	for _, line := range in {
		if !isHostRedirectLine(line, vendorHost) {
			out = append(out, line)
		}
	}
	return out
}

// isHostRedirectLine reports whether a hosts line maps the vendor host.
// Commented-out and malformed lines are not redirects.
func isHostRedirectLine(line, vendorHost string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || !strings.Contains(trimmed, vendorHost) {
		return false
	}

	// Only the content before an inline comment counts
	if idx := strings.Index(trimmed, "#"); idx != -1 {
		trimmed = strings.TrimSpace(trimmed[:idx])
	}
	if trimmed == "" {
		return false
	}

	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return false
	}
	// fields[0] is the address; any of the mapped names may be the vendor host
	for _, name := range fields[1:] {
		if strings.EqualFold(name, vendorHost) {
			return true
		}
	}
	return false
}
