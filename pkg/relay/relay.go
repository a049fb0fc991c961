package relay

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/park-link/pkg/logging"
	"github.com/park-link/pkg/types"
)

// Relay is the local listener the redirected vendor host points at. The game
// connects to it on the vendor port and each accepted connection is forwarded
// byte-for-byte to the approved alternative server.
type Relay struct {
	BindIP        string
	Port          int
	SkipTLSVerify bool
	DialTimeout   time.Duration

	mu       sync.Mutex
	listener net.Listener
	target   types.Endpoint
	closing  bool
	wg       sync.WaitGroup
}

// New creates a relay bound to bindIP:port. Port 0 picks an ephemeral port.
func New(bindIP string, port int, skipTLSVerify bool) *Relay {
	return &Relay{
		BindIP:        bindIP,
		Port:          port,
		SkipTLSVerify: skipTLSVerify,
		DialTimeout:   10 * time.Second,
	}
}

// Start binds the listener and begins forwarding to the target endpoint.
// Returns an error if the relay is already running or the bind fails.
func (r *Relay) Start(target types.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listener != nil {
		return fmt.Errorf("relay already running on %s", r.listener.Addr())
	}

	addr := net.JoinHostPort(r.BindIP, strconv.Itoa(r.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind relay on %s: %w", addr, err)
	}

	r.listener = listener
	r.target = target
	r.closing = false

	r.wg.Add(1)
	go r.acceptLoop(listener, target)

	logging.Logf("[relay] listening on %s, forwarding to %s", listener.Addr(), target)
	return nil
}

// Stop closes the listener and stops accepting. In-flight connections are
// closed by their peers; Stop does not wait for them to drain.
func (r *Relay) Stop() {
	r.mu.Lock()
	listener := r.listener
	r.listener = nil
	r.closing = true
	r.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
		logging.Logf("[relay] stopped listening on %s", listener.Addr())
	}
	r.wg.Wait()
}

// Addr returns the bound listener address, or "" when not running
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

func (r *Relay) acceptLoop(listener net.Listener, target types.Endpoint) {
	defer r.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			r.mu.Lock()
			closing := r.closing
			r.mu.Unlock()
			if !closing {
				logging.Logf("[relay] accept error: %v", err)
			}
			return
		}
		go r.forward(conn, target)
	}
}

// forward dials the target and copies bytes in both directions until either
// side closes.
func (r *Relay) forward(client net.Conn, target types.Endpoint) {
	defer client.Close()

	server, err := r.dialTarget(target)
	if err != nil {
		logging.Logf("[relay] failed to reach %s: %v", target, err)
		return
	}
	defer server.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(server, client)
		closeWrite(server)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(client, server)
		closeWrite(client)
		done <- struct{}{}
	}()
	<-done
	<-done
}

func (r *Relay) dialTarget(target types.Endpoint) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: r.DialTimeout}
	if target.Transport == types.TransportTLS {
		return tls.DialWithDialer(dialer, "tcp", target.Key(), &tls.Config{
			InsecureSkipVerify: r.SkipTLSVerify,
			ServerName:         target.Host,
		})
	}
	return dialer.Dial("tcp", target.Key())
}

// closeWrite half-closes the write side when the transport supports it, so
// the other direction can still drain.
func closeWrite(conn net.Conn) {
	type writeCloser interface{ CloseWrite() error }
	if wc, ok := conn.(writeCloser); ok {
		_ = wc.CloseWrite()
		return
	}
	_ = conn.Close()
}
