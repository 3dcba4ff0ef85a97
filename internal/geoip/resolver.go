// Package geoip resolves the caller's geographic region from public
// geolocation services.
package geoip

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultRegion is returned when every geolocation service fails.
const DefaultRegion = "US"

const (
	probeTimeout  = 5 * time.Second
	probeAttempts = 2
	maxBodyBytes  = 64
)

// Services queried in order.  Each returns a bare ISO-3166 country
// code as the response body.
var defaultServices = []string{
	"https://ipinfo.io/country",
	"https://ifconfig.co/country-iso",
	"https://ipapi.co/country",
}

// Resolver determines a region code by querying geolocation services
// in order until one returns a usable value.
type Resolver struct {
	client   *http.Client
	services []string
	attempts int
}

// NewResolver creates a Resolver with the default service list.
func NewResolver() *Resolver {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 1

	return &Resolver{
		client: &http.Client{
			Transport: tr,
			Timeout:   probeTimeout,
		},
		services: defaultServices,
		attempts: probeAttempts,
	}
}

// NewResolverWithServices creates a Resolver for the given service
// URLs, mainly for tests.
func NewResolverWithServices(client *http.Client, services []string) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &Resolver{
		client:   client,
		services: services,
		attempts: probeAttempts,
	}
}

// Resolve returns the region code to use.
//
// A non-empty, non-placeholder override is returned verbatim without
// any network call; unknown codes are tolerated because the catalog
// falls back to its default bucket at lookup time.  Otherwise the
// services are probed in order and the first usable answer wins.  When
// everything fails, the fixed default region is returned with a
// warning; this is an expected, recoverable path, never an error.
func (r *Resolver) Resolve(ctx context.Context, override string) string {
	if code, ok := normalizeOverride(override); ok {
		slog.Info("using region override", "region", code)
		return code
	}

	for _, service := range r.services {
		code, err := r.probe(ctx, service)
		if err != nil {
			slog.Debug("geolocation service failed", "service", service, "error", err)
			continue
		}
		slog.Info("region detected", "region", code, "service", service)
		return code
	}

	slog.Warn("all geolocation services failed, using default region", "region", DefaultRegion)
	return DefaultRegion
}

// probe queries one service with a bounded retry budget.
func (r *Resolver) probe(ctx context.Context, service string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		code, err := r.fetch(ctx, service)
		if err == nil {
			return code, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (r *Resolver) fetch(ctx context.Context, service string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, service, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "sourcectl")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("status %d from %s", resp.StatusCode, service)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}

	code := strings.ToUpper(strings.TrimSpace(string(body)))
	if !usableCode(code) {
		return "", errors.Newf("unusable region value %q from %s", code, service)
	}
	return code, nil
}

// normalizeOverride reports whether the override should short-circuit
// resolution.  Placeholder values behave like no override at all.
func normalizeOverride(override string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(override))
	switch code {
	case "", "AUTO", "NONE":
		return "", false
	}
	return code, true
}

// usableCode rejects empty bodies and the sentinel failure strings
// some services return instead of an HTTP error.
func usableCode(code string) bool {
	switch code {
	case "", "NULL", "UNDEFINED", "NONE":
		return false
	}
	if len(code) != 2 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
