package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultDiscoveryTTL is how long a fetched metadata document is reused.
const DefaultDiscoveryTTL = 24 * time.Hour

// Metadata is the subset of the OpenID Connect discovery document the SDK
// consumes.
type Metadata struct {
	AuthorizationEndpoint       string `json:"authorization_endpoint"`
	TokenEndpoint               string `json:"token_endpoint"`
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
	JWKSURI                     string `json:"jwks_uri"`
	Issuer                      string `json:"issuer"`
}

// Discoverer fetches and caches discovery documents keyed by URL.
type Discoverer struct {
	HTTPClient *http.Client
	Logger     *slog.Logger

	docs *gocache.Cache
}

// NewDiscoverer returns a Discoverer caching documents for ttl. A zero ttl
// uses DefaultDiscoveryTTL.
func NewDiscoverer(client *http.Client, ttl time.Duration) *Discoverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultDiscoveryTTL
	}
	return &Discoverer{
		HTTPClient: client,
		Logger:     slog.Default(),
		docs:       gocache.New(ttl, ttl/2),
	}
}

// Discover returns the metadata for a, fetching it on a cache miss.
func (d *Discoverer) Discover(ctx context.Context, a Authority) (*Metadata, error) {
	docURL := a.DiscoveryURL()
	if v, ok := d.docs.Get(docURL); ok {
		md := v.(Metadata)
		return &md, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery document: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery request failed with status %d", resp.StatusCode)
	}

	var md Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if md.TokenEndpoint == "" || md.AuthorizationEndpoint == "" {
		return nil, fmt.Errorf("discovery document for %s is missing endpoints", a.BaseURL())
	}

	d.docs.SetDefault(docURL, md)
	d.Logger.Debug("discovery document cached",
		slog.String("authority", a.BaseURL()),
		slog.String("issuer", md.Issuer),
	)
	return &md, nil
}

// Forget drops the cached document for a.
func (d *Discoverer) Forget(a Authority) {
	d.docs.Delete(a.DiscoveryURL())
}
