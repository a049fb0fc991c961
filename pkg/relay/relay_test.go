package relay

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/park-link/pkg/types"
)

// startEchoServer returns the endpoint of a line-echo TCP server
func startEchoServer(t *testing.T) types.Endpoint {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				scanner := bufio.NewScanner(c)
				for scanner.Scan() {
					_, _ = c.Write(append(scanner.Bytes(), '\n'))
				}
			}(conn)
		}
	}()

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return types.Endpoint{Host: host, Port: port, Transport: types.TransportPlaintext}
}

func TestRelay_ForwardsBothDirections(t *testing.T) {
	target := startEchoServer(t)

	r := New("127.0.0.1", 0, false)
	if err := r.Start(target); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	conn, err := net.DialTimeout("tcp", r.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if line != "ping\n" {
		t.Fatalf("got %q want %q", line, "ping\n")
	}
}

func TestRelay_DoubleStartFails(t *testing.T) {
	target := startEchoServer(t)

	r := New("127.0.0.1", 0, false)
	if err := r.Start(target); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	if err := r.Start(target); err == nil {
		t.Fatal("second start must fail while running")
	}
}

func TestRelay_StopReleasesPort(t *testing.T) {
	target := startEchoServer(t)

	r := New("127.0.0.1", 0, false)
	if err := r.Start(target); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := r.Addr()
	r.Stop()

	if r.Addr() != "" {
		t.Fatal("Addr must be empty after Stop")
	}

	// The port must be immediately rebindable
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("port %s not released: %v", addr, err)
	}
	_ = listener.Close()
}

func TestRelay_StopIsIdempotent(t *testing.T) {
	target := startEchoServer(t)

	r := New("127.0.0.1", 0, false)
	if err := r.Start(target); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.Stop()
	r.Stop()
}
