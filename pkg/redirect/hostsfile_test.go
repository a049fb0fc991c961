package redirect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleHosts = `127.0.0.1 localhost
::1 localhost
# gosredirector.ea.com commented out, must survive
192.168.1.5 fileserver.lan
`

func writeHosts(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write hosts: %v", err)
	}
	return path
}

func readHosts(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read hosts: %v", err)
	}
	return string(data)
}

func TestHostsInstaller_InstallAppendsTaggedEntry(t *testing.T) {
	path := writeHosts(t, sampleHosts)
	h := NewHostsInstaller(path, "gosredirector.ea.com", "127.0.0.1")

	if err := h.Install(); err != nil {
		t.Fatalf("install: %v", err)
	}

	content := readHosts(t, path)
	if !strings.Contains(content, "127.0.0.1 gosredirector.ea.com "+entryTag) {
		t.Fatalf("redirect entry missing:\n%s", content)
	}
	// Untouched lines survive
	if !strings.Contains(content, "192.168.1.5 fileserver.lan") {
		t.Fatalf("unrelated line lost:\n%s", content)
	}
	if !strings.Contains(content, "# gosredirector.ea.com commented out") {
		t.Fatalf("commented line lost:\n%s", content)
	}
}

func TestHostsInstaller_ReinstallKeepsSingleEntry(t *testing.T) {
	path := writeHosts(t, sampleHosts)
	h := NewHostsInstaller(path, "gosredirector.ea.com", "127.0.0.1")

	if err := h.Install(); err != nil {
		t.Fatalf("first install: %v", err)
	}
	if err := h.Install(); err != nil {
		t.Fatalf("second install: %v", err)
	}

	count := 0
	for _, line := range strings.Split(readHosts(t, path), "\n") {
		if isHostRedirectLine(line, "gosredirector.ea.com") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("got %d redirect entries, want exactly 1", count)
	}
}

func TestHostsInstaller_RemoveRestoresOriginal(t *testing.T) {
	path := writeHosts(t, sampleHosts)
	h := NewHostsInstaller(path, "gosredirector.ea.com", "127.0.0.1")

	if err := h.Install(); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := h.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if readHosts(t, path) != sampleHosts {
		t.Fatalf("hosts file not restored:\n%s", readHosts(t, path))
	}
}

func TestHostsInstaller_RemoveWithoutEntryIsNoop(t *testing.T) {
	path := writeHosts(t, sampleHosts)
	h := NewHostsInstaller(path, "gosredirector.ea.com", "127.0.0.1")

	if err := h.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if readHosts(t, path) != sampleHosts {
		t.Fatal("remove on clean file must not change it")
	}
}

func TestHostsInstaller_DetectsStaleEntry(t *testing.T) {
	// Entry written by a previous instance, no tag variations
	path := writeHosts(t, sampleHosts+"127.0.0.1 gosredirector.ea.com "+entryTag+"\n")
	h := NewHostsInstaller(path, "gosredirector.ea.com", "127.0.0.1")

	installed, err := h.Installed()
	if err != nil {
		t.Fatalf("installed: %v", err)
	}
	if !installed {
		t.Fatal("stale entry not detected")
	}
}

func TestHostsInstaller_InstalledFalseOnCleanFile(t *testing.T) {
	path := writeHosts(t, sampleHosts)
	h := NewHostsInstaller(path, "gosredirector.ea.com", "127.0.0.1")

	installed, err := h.Installed()
	if err != nil {
		t.Fatalf("installed: %v", err)
	}
	if installed {
		t.Fatal("clean file reported as installed")
	}
}

func TestIsHostRedirectLine(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"127.0.0.1 gosredirector.ea.com", true},
		{"  10.0.0.1\tgosredirector.ea.com  ", true},
		{"127.0.0.1 other.example.org gosredirector.ea.com", true},
		{"127.0.0.1 gosredirector.ea.com # park-link", true},
		{"# 127.0.0.1 gosredirector.ea.com", false},
		{"127.0.0.1 localhost", false},
		{"gosredirector.ea.com", false},
		{"", false},
		{"# plain comment mentioning gosredirector.ea.com", false},
	}
	for _, tc := range cases {
		if got := isHostRedirectLine(tc.line, "gosredirector.ea.com"); got != tc.want {
			t.Errorf("isHostRedirectLine(%q)=%v want %v", tc.line, got, tc.want)
		}
	}
}

func TestLock_ReclaimsDeadOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redirect.lock")
	// PID 1 is alive on Unix but never this client; use an absurd PID instead
	if err := os.WriteFile(path, []byte("999999999\n"), 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	lock := NewLock(path)
	if err := lock.Acquire(); err != nil {
		t.Fatalf("acquire over dead owner: %v", err)
	}
	lock.Release()
}

func TestLock_ReleaseWithoutAcquireIsSafe(t *testing.T) {
	lock := NewLock(filepath.Join(t.TempDir(), "redirect.lock"))
	lock.Release()
}
