package probe

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/park-link/pkg/config"
	"github.com/park-link/pkg/types"
)

var (
	// ErrUnreachable indicates no connection could be established within the timeout
	ErrUnreachable = errors.New("server unreachable")
	// ErrTimeout indicates the server accepted the connection but never answered in time
	ErrTimeout = errors.New("server probe timed out")
	// ErrIncompatibleServer indicates the response carried no valid identification marker
	ErrIncompatibleServer = errors.New("not a compatible alternative server")
	// ErrVersionMismatch indicates a valid marker with a protocol version outside the supported range
	ErrVersionMismatch = errors.New("server protocol version not supported")
)

// details is the identification payload a compatible server returns.
// Unknown fields are ignored so newer servers keep working.
type details struct {
	Ident   string `json:"ident"`
	Version int    `json:"version"`
	Name    string `json:"name"`
}

// Prober performs the lightweight identification handshake against a
// candidate endpoint. The probe is read-only: persisting the resulting
// record is the caller's decision.
type Prober struct {
	Marker        string
	MinVersion    int
	MaxVersion    int
	DetailsPath   string
	Timeout       time.Duration
	SkipTLSVerify bool
}

// New creates a prober from configuration
func New(cfg *config.Config) *Prober {
	return &Prober{
		Marker:        cfg.Probe.Marker,
		MinVersion:    cfg.Probe.MinVersion,
		MaxVersion:    cfg.Probe.MaxVersion,
		DetailsPath:   cfg.Probe.DetailsPath,
		Timeout:       cfg.GetProbeTimeout(),
		SkipTLSVerify: cfg.Probe.SkipTLSVerify,
	}
}

// Probe connects to the endpoint, requests its identification document and
// validates marker and version. Every exit path releases the connection; the
// timeout is enforced through the context so no probe can block indefinitely.
func (p *Prober) Probe(ctx context.Context, endpoint types.Endpoint) (types.ServerRecord, error) {
	if err := endpoint.Validate(); err != nil {
		return types.ServerRecord{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scheme := "http"
	if endpoint.Transport == types.TransportTLS {
		scheme = "https"
	}
	url := scheme + "://" + endpoint.Key() + p.DetailsPath

	// Alternative servers run on self-signed certificates, so verification
	// is optional; the certificate fingerprint is pinned in the record instead.
	transport := &http.Transport{
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: p.SkipTLSVerify},
		DisableKeepAlives: true,
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.ServerRecord{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return types.ServerRecord{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.ServerRecord{}, fmt.Errorf("%w: status %d", ErrIncompatibleServer, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return types.ServerRecord{}, classifyTransportError(err)
	}

	var d details
	if err := json.Unmarshal(body, &d); err != nil {
		return types.ServerRecord{}, fmt.Errorf("%w: unparseable identification response", ErrIncompatibleServer)
	}
	if d.Ident != p.Marker {
		return types.ServerRecord{}, fmt.Errorf("%w: ident %q", ErrIncompatibleServer, d.Ident)
	}
	if d.Version < p.MinVersion || d.Version > p.MaxVersion {
		return types.ServerRecord{}, fmt.Errorf("%w: version %d, supported [%d,%d]",
			ErrVersionMismatch, d.Version, p.MinVersion, p.MaxVersion)
	}

	record := types.ServerRecord{
		Endpoint:        endpoint,
		DisplayName:     d.Name,
		ProtocolVersion: d.Version,
		LastVerifiedAt:  time.Now().UTC(),
	}
	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		sum := sha256.Sum256(resp.TLS.PeerCertificates[0].Raw)
		record.TrustedFingerprint = sum[:]
	}
	return record, nil
}

// classifyTransportError maps a transport failure to the probe taxonomy:
// failures while dialing are Unreachable, failures after the connection was
// established are Timeout (when time ran out) or Incompatible otherwise. A
// server that accepts the connection but answers with something that is not
// an identification response never identified itself, so it counts as
// incompatible, not unreachable.
func classifyTransportError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrIncompatibleServer, err)
}
