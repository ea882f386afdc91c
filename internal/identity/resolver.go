package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Resolver derives a best-effort stable identity for a test-taker. The
// identity only namespaces persisted session state; it is not a security
// credential, and a client on a different network legitimately resolves to a
// different identity (accepted weakness of the trust model).
//
// Resolution order:
//  1. the client's own address, when it is a usable public IP;
//  2. the service's public IP from an external IP-echo endpoint (covers
//     LAN/kiosk deployments where every client appears private), cached for
//     the process lifetime;
//  3. a generated session_<timestamp>_<random> token, also cached.
//
// Resolve never fails: it always produces some identity string.
type Resolver struct {
	lookupURL string
	client    *http.Client
	log       zerolog.Logger

	mu     sync.Mutex
	cached string
}

// NewResolver creates a Resolver. timeout bounds the external lookup call.
func NewResolver(lookupURL string, timeout time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{
		lookupURL: lookupURL,
		client:    &http.Client{Timeout: timeout},
		log:       log.With().Str("component", "identity_resolver").Logger(),
	}
}

// Resolve returns the identity for a client connecting from remoteAddr.
func (r *Resolver) Resolve(ctx context.Context, remoteAddr string) string {
	if ip := net.ParseIP(remoteAddr); ip != nil && isPublic(ip) {
		return remoteAddr
	}
	return r.processIdentity(ctx)
}

// processIdentity returns the cached process-wide identity, resolving it on
// first use.
func (r *Resolver) processIdentity(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != "" {
		return r.cached
	}

	ip, err := r.lookup(ctx)
	if err != nil {
		r.cached = fallbackToken()
		r.log.Warn().Err(err).Str("identity", r.cached).Msg("IP lookup failed, using session token")
		return r.cached
	}

	r.cached = ip
	r.log.Debug().Str("identity", ip).Msg("Resolved public IP identity")
	return r.cached
}

type lookupResponse struct {
	IP string `json:"ip"`
}

// lookup queries the external IP-echo service. It accepts both the JSON
// shape {"ip":"..."} and a bare-text address body.
func (r *Resolver) lookup(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.lookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ip lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip lookup: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("read lookup response: %w", err)
	}

	candidate := strings.TrimSpace(string(body))
	var decoded lookupResponse
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.IP != "" {
		candidate = decoded.IP
	}

	if net.ParseIP(candidate) == nil {
		return "", fmt.Errorf("ip lookup: malformed response %q", candidate)
	}
	return candidate, nil
}

// fallbackToken generates a pseudo-identity of the form the browser client
// used: session_<timestamp>_<random>.
func fallbackToken() string {
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), strings.SplitN(uuid.NewString(), "-", 2)[0])
}

func isPublic(ip net.IP) bool {
	return !ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsUnspecified()
}
