package resolver

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/park-link/pkg/types"
)

var (
	// ErrInvalidAddress indicates the input could not be parsed as host or host:port
	ErrInvalidAddress = errors.New("invalid server address")
	// ErrResolutionFailed indicates the host name did not resolve
	ErrResolutionFailed = errors.New("server address did not resolve")
)

// LookupIPFunc resolves a host name to IP addresses. A variable so tests can
// inject a fake lookup; defaults to net.LookupIP.
var LookupIPFunc = net.LookupIP

// Resolve normalizes a user-supplied server address and verifies it resolves
// to a concrete network endpoint. Accepted forms:
//
//	host            -> host:defaultPort, plaintext
//	host:port       -> as given, plaintext
//	tls://host[:port]  -> TLS transport
//	tcp://host[:port]  -> plaintext transport
//
// The returned endpoint keeps the host name (not the resolved IP) so that the
// association survives DNS changes; resolution only proves the name is live.
// No side effects; pure given the same DNS state.
func Resolve(input string, defaultPort int) (types.Endpoint, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return types.Endpoint{}, fmt.Errorf("%w: empty input", ErrInvalidAddress)
	}

	transport := types.TransportPlaintext
	if rest, ok := strings.CutPrefix(input, "tls://"); ok {
		transport = types.TransportTLS
		input = rest
	} else if rest, ok := strings.CutPrefix(input, "tcp://"); ok {
		input = rest
	} else if strings.Contains(input, "://") {
		return types.Endpoint{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidAddress, input)
	}

	host, port, err := splitHostPort(input, defaultPort)
	if err != nil {
		return types.Endpoint{}, err
	}

	endpoint := types.Endpoint{Host: host, Port: port, Transport: transport}
	if err := endpoint.Validate(); err != nil {
		return types.Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	// IP literals need no lookup
	if net.ParseIP(host) != nil {
		return endpoint, nil
	}

	ips, err := LookupIPFunc(host)
	if err != nil || len(ips) == 0 {
		return types.Endpoint{}, fmt.Errorf("%w: %s", ErrResolutionFailed, host)
	}

	return endpoint, nil
}

// splitHostPort splits "host" or "host:port", applying defaultPort when the
// port is omitted. IPv6 literals must be bracketed to carry a port.
func splitHostPort(input string, defaultPort int) (string, int, error) {
	// Bare IPv6 literal without brackets: colons but not a host:port form
	if ip := net.ParseIP(input); ip != nil {
		return input, defaultPort, nil
	}

	if !strings.Contains(input, ":") {
		return input, defaultPort, nil
	}

	host, portStr, err := net.SplitHostPort(input)
	if err != nil || host == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidAddress, input)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, portStr)
	}
	return host, port, nil
}
