package ipresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/pkg/circuitbreaker"
)

// HTTPResolver asks an IP echo endpoint for the caller's address. The
// endpoint answers {"ip": "..."}.
type HTTPResolver struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

var _ ports.IPResolver = (*HTTPResolver)(nil)

type Option func(*HTTPResolver)

// WithBreaker stops querying the endpoint while cb is open. Rejected
// lookups fail with circuitbreaker.ErrOpen, which callers record as an
// unknown address.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(r *HTTPResolver) { r.breaker = cb }
}

func NewHTTPResolver(url string, timeout time.Duration, opts ...Option) *HTTPResolver {
	r := &HTTPResolver{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type ipResponse struct {
	IP string `json:"ip"`
}

func (r *HTTPResolver) ResolveIP(ctx context.Context) (string, error) {
	if r.breaker == nil {
		return r.fetch(ctx)
	}
	return circuitbreaker.ExecuteWithResult(ctx, r.breaker, func() (string, error) {
		return r.fetch(ctx)
	})
}

func (r *HTTPResolver) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip endpoint returned %d", resp.StatusCode)
	}

	var body ipResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode ip response: %w", err)
	}
	if body.IP == "" {
		return domain.UnknownIPAddress, nil
	}
	return body.IP, nil
}

// Static always answers with the same address. The console uses it to bind
// a request's address to the registry serving that request.
type Static string

func (s Static) ResolveIP(ctx context.Context) (string, error) {
	if s == "" {
		return domain.UnknownIPAddress, nil
	}
	return string(s), nil
}

// FromRequest picks the client address of r: the first X-Forwarded-For
// entry, then X-Real-IP, then CF-Connecting-IP, then the peer address.
func FromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return domain.UnknownIPAddress
}
