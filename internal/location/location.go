// Package location supplies a best-effort position for seizure records and
// SMS messages. Lookups never block the alert path for long and may return
// nothing at all.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Fix is one best-effort position sample.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Provider returns the most recent known position, or nil when none is
// available. Implementations must be safe for concurrent use.
type Provider interface {
	BestEffort(ctx context.Context) *Fix
}

// Static always returns a fixed position, typically seeded from config for
// installations without a positioning source. A zero Static returns nil.
type Static struct {
	Fix *Fix
}

func (s *Static) BestEffort(context.Context) *Fix {
	if s.Fix == nil {
		return nil
	}
	f := *s.Fix
	return &f
}

// Geocoded wraps a Provider and fills in the street address by reverse
// geocoding against a Nominatim-style endpoint. The resolved address is
// cached per coordinate so repeated seizures at the same spot cost one
// lookup.
type Geocoded struct {
	Base     Provider
	Endpoint string
	Client   *http.Client

	mu       sync.Mutex
	cacheKey string
	cached   string
}

func (g *Geocoded) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return &http.Client{Timeout: 5 * time.Second}
}

// BestEffort returns the base fix with Address populated when the lookup
// succeeds. Geocoding failures are logged and otherwise ignored.
func (g *Geocoded) BestEffort(ctx context.Context) *Fix {
	fix := g.Base.BestEffort(ctx)
	if fix == nil || g.Endpoint == "" {
		return fix
	}
	if fix.Address != "" {
		return fix
	}

	key := fmt.Sprintf("%.5f,%.5f", fix.Latitude, fix.Longitude)
	g.mu.Lock()
	if g.cacheKey == key && g.cached != "" {
		fix.Address = g.cached
		g.mu.Unlock()
		return fix
	}
	g.mu.Unlock()

	addr, err := g.reverse(ctx, fix.Latitude, fix.Longitude)
	if err != nil {
		slog.Warn("[LOCATION] reverse geocode failed", "error", err)
		return fix
	}

	g.mu.Lock()
	g.cacheKey = key
	g.cached = addr
	g.mu.Unlock()

	fix.Address = addr
	return fix
}

// reverse queries the endpoint for a display name.
func (g *Geocoded) reverse(ctx context.Context, lat, lon float64) (string, error) {
	u, err := url.Parse(g.Endpoint)
	if err != nil {
		return "", fmt.Errorf("location: endpoint: %w", err)
	}
	q := u.Query()
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("location: geocoder returned %s", resp.Status)
	}

	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.DisplayName == "" {
		return "", fmt.Errorf("location: geocoder returned no address")
	}
	return body.DisplayName, nil
}
