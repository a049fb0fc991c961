package types

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Transport identifies how a connection to an endpoint is carried.
type Transport string

const (
	TransportPlaintext Transport = "plaintext"
	TransportTLS       Transport = "tls"
)

// Endpoint is a host+port+transport triple identifying a network destination.
type Endpoint struct {
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Transport Transport `json:"transport"`
}

// Validate checks the endpoint invariants: non-empty host, port in [1,65535].
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("endpoint host is empty")
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("endpoint port %d out of range", e.Port)
	}
	return nil
}

// Key returns the endpoint identity used by the trust store (host:port).
// Transport is intentionally not part of the identity: the same server
// reached over plaintext or TLS is still the same server.
func (e Endpoint) Key() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns the host:port form. Resolving this string again yields an
// equal endpoint (round-trip stable).
func (e Endpoint) String() string {
	return e.Key()
}

// ServerRecord is the trust association for an approved alternative server.
// Created when a probe succeeds, refreshed on every successful reprobe.
type ServerRecord struct {
	Endpoint           Endpoint  `json:"endpoint"`
	DisplayName        string    `json:"display_name"`
	ProtocolVersion    int       `json:"protocol_version"`
	TrustedFingerprint []byte    `json:"trusted_fingerprint,omitempty"` // SHA-256 of the server TLS certificate, empty for plaintext
	LastVerifiedAt     time.Time `json:"last_verified_at"`
}
