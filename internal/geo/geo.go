// Package geo resolves the caller's IP address and location.
package geo

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ClientIP returns the caller's IP. When trustProxy is set the left-most
// X-Forwarded-For entry wins over the connection's remote address.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(first) != nil {
				return first
			}
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xr) != nil {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Locator resolves the city of a request's origin.
type Locator interface {
	City(ctx context.Context, r *http.Request, ip string) (string, error)
}

// HeaderLocator reads the city from a header set by a CDN or reverse proxy
// (e.g. cf-ipcity).
type HeaderLocator struct {
	Header string
}

// City implements Locator.
func (h *HeaderLocator) City(_ context.Context, r *http.Request, _ string) (string, error) {
	if h.Header == "" {
		return "", nil
	}
	return strings.TrimSpace(r.Header.Get(h.Header)), nil
}

// LookupLocator queries an HTTP IP lookup service returning a JSON object
// with a "city" field. URL may contain a %s placeholder for the IP, e.g.
// "https://ipinfo.io/%s/json".
type LookupLocator struct {
	URL    string
	Client *http.Client
}

// NewLookupLocator returns a LookupLocator with a bounded HTTP client.
func NewLookupLocator(u string) *LookupLocator {
	return &LookupLocator{
		URL:    u,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

type lookupResponse struct {
	City string `json:"city"`
}

// City implements Locator.
func (l *LookupLocator) City(ctx context.Context, _ *http.Request, ip string) (string, error) {
	target := l.URL
	if strings.Contains(target, "%s") {
		target = fmt.Sprintf(target, url.PathEscape(ip))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", errors.Wrap(err, "building lookup request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := l.Client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "location lookup")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("location lookup: unexpected status %d", resp.StatusCode)
	}
	var lr lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", errors.Wrap(err, "decoding lookup response")
	}
	return lr.City, nil
}

// Chain tries each Locator in order and returns the first non-empty city.
// Errors are skipped unless every locator fails.
type Chain []Locator

// City implements Locator.
func (c Chain) City(ctx context.Context, r *http.Request, ip string) (string, error) {
	var lastErr error
	for _, l := range c {
		city, err := l.City(ctx, r, ip)
		if err != nil {
			lastErr = err
			continue
		}
		if city != "" {
			return city, nil
		}
	}
	return "", lastErr
}
