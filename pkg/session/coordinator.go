package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/park-link/pkg/api"
	"github.com/park-link/pkg/config"
	"github.com/park-link/pkg/logging"
	"github.com/park-link/pkg/metrics"
	"github.com/park-link/pkg/probe"
	"github.com/park-link/pkg/redirect"
	"github.com/park-link/pkg/resolver"
	"github.com/park-link/pkg/trust"
	"github.com/park-link/pkg/types"
)

// Coordinator drives the connect sequence: resolve the target, probe it,
// persist the trust association, activate the redirect. One connect intent
// at a time; concurrent Connect/Disconnect calls serialize on a single mutex.
type Coordinator struct {
	mu     sync.Mutex
	cfg    *config.Config
	prober *probe.Prober
	store  *trust.Store
	engine *redirect.Engine

	collector *metrics.Collector // optional

	subMu       sync.RWMutex
	subscribers map[Subscriber]bool

	tokenMu sync.RWMutex
	token   string
}

// New creates a coordinator over the given components. collector may be nil.
func New(cfg *config.Config, prober *probe.Prober, store *trust.Store, engine *redirect.Engine, collector *metrics.Collector) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		prober:      prober,
		store:       store,
		engine:      engine,
		collector:   collector,
		subscribers: make(map[Subscriber]bool),
	}
}

// Start loads persisted state and clears leftovers from a crashed previous
// instance. Corrupt trust data is downgraded to a warning: the store starts
// empty rather than failing the process.
func (c *Coordinator) Start() error {
	records, err := c.store.Load()
	if err != nil {
		if errors.Is(err, trust.ErrCorruptStore) {
			logging.Logf("Warning: %v, starting with an empty trust store", err)
		} else {
			return err
		}
	} else {
		logging.Logf("[session] loaded %d trusted server(s)", len(records))
	}

	if err := c.engine.ClearStale(); err != nil {
		logging.Logf("Warning: could not clear stale redirect: %v", err)
	}
	return nil
}

// Connect resolves, probes, trusts and activates the given server address.
// The first failure short-circuits and is surfaced with its kind unchanged.
// A context cancellation mid-probe leaves the redirect Inactive and the
// trust store untouched.
func (c *Coordinator) Connect(ctx context.Context, input string) (types.ServerRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.record(func(m *metrics.Collector) { m.IncConnectAttempt() })

	endpoint, err := resolver.Resolve(input, c.cfg.Redirect.VendorPort)
	if err != nil {
		return types.ServerRecord{}, c.connectFailed(err)
	}
	c.notify(StageResolved, fmt.Sprintf("resolved %s", endpoint))

	probeStart := time.Now()
	record, err := c.prober.Probe(ctx, endpoint)
	if err != nil {
		return types.ServerRecord{}, c.connectFailed(err)
	}
	c.record(func(m *metrics.Collector) { m.ObserveProbeLatency(time.Since(probeStart).Seconds()) })
	c.notify(StageProbed, fmt.Sprintf("probed %s: %s (protocol v%d)", endpoint, record.DisplayName, record.ProtocolVersion))

	// A cancellation that raced the probe's completion must not persist or
	// activate anything the caller never approved.
	if err := ctx.Err(); err != nil {
		return types.ServerRecord{}, c.connectFailed(err)
	}

	if err := c.store.Upsert(record); err != nil {
		return types.ServerRecord{}, c.connectFailed(err)
	}
	c.notify(StageTrusted, fmt.Sprintf("trusted %s", endpoint))

	if err := c.engine.Activate(record); err != nil {
		return types.ServerRecord{}, c.connectFailed(err)
	}
	c.notify(StageActivated, fmt.Sprintf("redirect active for %s", endpoint))

	c.record(func(m *metrics.Collector) { m.IncConnectSuccess() })
	return record, nil
}

// Disconnect deactivates the redirect and restores the host state
func (c *Coordinator) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Deactivate()
}

// Forget removes a server from the trust store (user-initiated removal is
// the only way records leave the store)
func (c *Coordinator) Forget(endpoint types.Endpoint) error {
	return c.store.Remove(endpoint)
}

// Current returns a read-only snapshot of the redirection state
func (c *Coordinator) Current() redirect.Status {
	return c.engine.Current()
}

// TrustedServers returns a copy of the persisted server records
func (c *Coordinator) TrustedServers() map[string]types.ServerRecord {
	return c.store.Records()
}

// Authenticate logs into the currently active server and keeps the session
// token for later use. Requires an active redirect.
func (c *Coordinator) Authenticate(ctx context.Context, username, password string) error {
	status := c.engine.Current()
	if status.State != redirect.StateActive || status.Record == nil {
		return fmt.Errorf("not connected to a server")
	}

	client := api.NewClient(*status.Record, c.cfg.Probe.SkipTLSVerify)
	token, err := client.Login(ctx, username, password)
	if err != nil {
		return err
	}

	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
	logging.Logf("[session] authenticated as %s", username)
	return nil
}

// Token returns the session token from the last successful Authenticate
func (c *Coordinator) Token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

func (c *Coordinator) connectFailed(err error) error {
	c.record(func(m *metrics.Collector) { m.IncConnectFailure(metrics.FailureReason(err)) })
	return err
}

// record applies a metrics update when a collector is attached
func (c *Coordinator) record(fn func(*metrics.Collector)) {
	if c.collector != nil {
		fn(c.collector)
	}
}
