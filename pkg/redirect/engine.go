package redirect

import (
	"fmt"
	"sync"

	"github.com/park-link/pkg/logging"
	"github.com/park-link/pkg/relay"
	"github.com/park-link/pkg/types"
)

// Engine owns the process-wide redirection state. It is the only component
// that touches host-level resources: the hosts file (through the Installer),
// the local relay listener and the single-instance lock. All transitions
// happen under one mutex so concurrent callers serialize.
type Engine struct {
	mu        sync.Mutex
	state     State
	record    *types.ServerRecord
	reason    string
	installer Installer
	relay     *relay.Relay
	lock      *Lock
}

// NewEngine creates an inactive engine
func NewEngine(installer Installer, r *relay.Relay, lock *Lock) *Engine {
	return &Engine{
		state:     StateInactive,
		installer: installer,
		relay:     r,
		lock:      lock,
	}
}

// Activate installs the substitution so connections intended for the vendor
// endpoint reach record's endpoint instead: the relay starts forwarding to
// the record and the installer points the vendor host at the relay.
// Reentrant-safe: activating while already active swaps cleanly, the prior
// redirect is fully removed before the new one is installed. Failures are
// reported, never retried here.
func (e *Engine) Activate(record types.ServerRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := record.Endpoint.Validate(); err != nil {
		return fmt.Errorf("refusing to activate: %v", err)
	}

	if err := e.lock.Acquire(); err != nil {
		return err
	}

	// Swap: tear the prior redirect down before installing the new one so
	// the host-level resource never reflects a mixture of two targets.
	if e.state == StateActive {
		prior := e.record
		e.state = StateRestoring
		e.relay.Stop()
		if err := e.installer.Remove(); err != nil {
			e.fail(fmt.Sprintf("failed to remove prior redirect: %v", err))
			return err
		}
		if prior != nil {
			logging.Logf("[redirect] removed prior redirect to %s", prior.Endpoint)
		}
	}

	e.state = StateInstalling
	e.record = nil
	e.reason = ""

	if err := e.relay.Start(record.Endpoint); err != nil {
		e.fail(err.Error())
		return err
	}

	if err := e.installer.Install(); err != nil {
		e.relay.Stop()
		e.fail(err.Error())
		return err
	}

	e.state = StateActive
	e.record = &record
	logging.Logf("[redirect] active: vendor traffic now reaches %s (%s, protocol v%d)",
		record.Endpoint, record.DisplayName, record.ProtocolVersion)
	return nil
}

// Deactivate removes the installed substitution and restores the prior
// system state. Safe to call from Inactive (no-op) and from Failed, which
// clears the failure and removes any substitution a failed restore left
// behind. The engine always reaches Inactive unless the restore itself
// fails.
func (e *Engine) Deactivate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateInactive:
		return nil
	case StateFailed:
		// A failed restore leaves the substitution installed; clearing the
		// failure must still remove it before reporting Inactive.
		e.relay.Stop()
		installed, err := e.installer.Installed()
		if err != nil {
			e.reason = fmt.Sprintf("failed to inspect host state: %v", err)
			return err
		}
		if installed {
			if err := e.installer.Remove(); err != nil {
				e.reason = fmt.Sprintf("failed to restore host state: %v", err)
				return err
			}
		}
		e.lock.Release()
		e.state = StateInactive
		e.record = nil
		e.reason = ""
		return nil
	}

	e.state = StateRestoring
	e.relay.Stop()
	if err := e.installer.Remove(); err != nil {
		e.fail(fmt.Sprintf("failed to restore host state: %v", err))
		return err
	}
	e.lock.Release()
	e.state = StateInactive
	e.record = nil
	e.reason = ""
	logging.Log("[redirect] restored, redirection inactive")
	return nil
}

// ClearStale removes a redirect left behind by a crashed previous instance.
// Intended to run once at startup, before the first Activate.
func (e *Engine) ClearStale() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInactive {
		return nil
	}
	installed, err := e.installer.Installed()
	if err != nil {
		return err
	}
	if !installed {
		return nil
	}
	logging.Log("[redirect] clearing stale redirect from a previous instance")
	return e.installer.Remove()
}

// Current returns a read-only snapshot of the redirection state
func (e *Engine) Current() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := Status{State: e.state, Reason: e.reason}
	if e.record != nil {
		record := *e.record
		status.Record = &record
	}
	return status
}

// fail records a failure; callers hold the mutex
func (e *Engine) fail(reason string) {
	e.state = StateFailed
	e.record = nil
	e.reason = reason
	logging.Logf("[redirect] failed: %s", reason)
}
