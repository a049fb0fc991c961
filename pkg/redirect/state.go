package redirect

import "github.com/park-link/pkg/types"

// State is the lifecycle state of the redirection. The machine is small on
// purpose:
//
// inactive   -> installing
// installing -> active | failed
// active     -> restoring | installing (swap to a new record)
// restoring  -> inactive
// failed     -> installing | inactive (cleared by Deactivate)
//
// On clean shutdown the engine always reaches inactive with the host-level
// substitution removed.
type State string

const (
	StateInactive   State = "inactive"
	StateInstalling State = "installing"
	StateActive     State = "active"
	StateFailed     State = "failed"
	StateRestoring  State = "restoring"
)

// Status is a read-only snapshot of the engine state. Record is only set
// while active; Reason is only set while failed.
type Status struct {
	State  State
	Record *types.ServerRecord
	Reason string
}
