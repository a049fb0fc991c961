//go:build windows
// +build windows

package redirect

// On Windows there is no cheap liveness probe, so an existing lock is
// conservatively treated as held by a running instance.
func processAlive(pid int) bool {
	return pid > 0
}
