package session

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/park-link/pkg/config"
	"github.com/park-link/pkg/probe"
	"github.com/park-link/pkg/redirect"
	"github.com/park-link/pkg/relay"
	"github.com/park-link/pkg/trust"
)

// fakeInstaller satisfies redirect.Installer against an in-memory resource
type fakeInstaller struct {
	mu        sync.Mutex
	installed bool
}

func (f *fakeInstaller) Install() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = true
	return nil
}

func (f *fakeInstaller) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = false
	return nil
}

func (f *fakeInstaller) Installed() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed, nil
}

// newTestCoordinator wires a coordinator over temp paths and a fake installer
func newTestCoordinator(t *testing.T) (*Coordinator, *trust.Store) {
	t.Helper()

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Trust.StorePath = filepath.Join(t.TempDir(), "servers.json")
	cfg.Redirect.LockFile = filepath.Join(t.TempDir(), "redirect.lock")
	cfg.Probe.Timeout = 2

	store := trust.NewStore(cfg.Trust.StorePath)
	prober := probe.New(cfg)
	lock := redirect.NewLock(cfg.Redirect.LockFile)
	localRelay := relay.New("127.0.0.1", 0, false)
	engine := redirect.NewEngine(&fakeInstaller{}, localRelay, lock)

	coordinator := New(cfg, prober, store, engine, nil)
	if err := coordinator.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = coordinator.Disconnect() })
	return coordinator, store
}

// startDetailsServer runs a compatible identification endpoint and returns
// its host:port address
func startDetailsServer(t *testing.T) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/link/client/details" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"ident":"PARK","version":3,"name":"Community Server"}`))
	}))
	t.Cleanup(ts.Close)
	return ts.Listener.Addr().String()
}

func TestConnect_FullSequence(t *testing.T) {
	coordinator, store := newTestCoordinator(t)
	addr := startDetailsServer(t)

	events := coordinator.Subscribe()
	defer coordinator.Unsubscribe(events)

	record, err := coordinator.Connect(context.Background(), addr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if record.ProtocolVersion != 3 || record.DisplayName != "Community Server" {
		t.Fatalf("unexpected record: %+v", record)
	}

	if got := coordinator.Current().State; got != redirect.StateActive {
		t.Fatalf("state=%s want active", got)
	}
	if _, ok := store.Get(record.Endpoint); !ok {
		t.Fatal("record not persisted in trust store")
	}

	// Stage notifications arrive in sequence order
	wantStages := []Stage{StageResolved, StageProbed, StageTrusted, StageActivated}
	for _, want := range wantStages {
		select {
		case event := <-events:
			if event.Stage != want {
				t.Fatalf("stage=%s want %s", event.Stage, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s notification", want)
		}
	}
}

func TestConnect_UnreachableLeavesInactive(t *testing.T) {
	coordinator, store := newTestCoordinator(t)

	// Reserve a port nothing listens on
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	_, err = coordinator.Connect(context.Background(), addr)
	if !errors.Is(err, probe.ErrUnreachable) {
		t.Fatalf("got %v want ErrUnreachable", err)
	}
	if got := coordinator.Current().State; got != redirect.StateInactive {
		t.Fatalf("state=%s want inactive after failed connect", got)
	}
	if store.Len() != 0 {
		t.Fatal("failed connect must not persist a record")
	}
}

func TestConnect_IncompatibleSurfacedVerbatim(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ident":"OFFICIAL","version":1}`))
	}))
	defer ts.Close()

	_, err := coordinator.Connect(context.Background(), ts.Listener.Addr().String())
	if !errors.Is(err, probe.ErrIncompatibleServer) {
		t.Fatalf("got %v want ErrIncompatibleServer", err)
	}
}

func TestConnect_CancelMidProbe(t *testing.T) {
	coordinator, store := newTestCoordinator(t)

	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := coordinator.Connect(ctx, ts.Listener.Addr().String())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
	if got := coordinator.Current().State; got != redirect.StateInactive {
		t.Fatalf("state=%s want inactive after cancel", got)
	}
	if store.Len() != 0 {
		t.Fatal("cancelled connect must leave the trust store unchanged")
	}
}

func TestConnect_InvalidAddress(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)

	_, err := coordinator.Connect(context.Background(), "bad:port:extra")
	if err == nil {
		t.Fatal("expected error for malformed address")
	}
	if got := coordinator.Current().State; got != redirect.StateInactive {
		t.Fatalf("state=%s want inactive", got)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	addr := startDetailsServer(t)

	if _, err := coordinator.Connect(context.Background(), addr); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := coordinator.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := coordinator.Disconnect(); err != nil {
		t.Fatalf("second disconnect must be a no-op: %v", err)
	}
}

func TestReconnect_UpdatesExistingRecord(t *testing.T) {
	coordinator, store := newTestCoordinator(t)
	addr := startDetailsServer(t)

	first, err := coordinator.Connect(context.Background(), addr)
	if err != nil {
		t.Fatalf("first connect: %v", err)
	}
	second, err := coordinator.Connect(context.Background(), addr)
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if store.Len() != 1 {
		t.Fatalf("store len=%d want 1 (same endpoint identity)", store.Len())
	}
	if second.LastVerifiedAt.Before(first.LastVerifiedAt) {
		t.Fatal("reprobe must refresh LastVerifiedAt")
	}
}

func TestForget_RemovesRecord(t *testing.T) {
	coordinator, store := newTestCoordinator(t)
	addr := startDetailsServer(t)

	record, err := coordinator.Connect(context.Background(), addr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := coordinator.Forget(record.Endpoint); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("forget must remove the record")
	}
}

func TestAuthenticate_RequiresActiveRedirect(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	if err := coordinator.Authenticate(context.Background(), "u", "p"); err == nil {
		t.Fatal("authenticate must fail when not connected")
	}
}
