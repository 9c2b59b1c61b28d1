package routing

import (
	"fmt"
	"strings"
)

const (
	ProviderORS    = "openrouteservice"
	ProviderGoogle = "google"
	ProviderOSRM   = "osrm"
)

// NewProviderFromConfig returns nil (haversine only) when routing is disabled,
// the provider is "haversine", or its credentials are missing.
func NewProviderFromConfig(cfg Config) (Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderORS, "ors":
		if cfg.ORSAPIKey == "" {
			return nil, nil
		}
		return NewORSProvider(cfg.ORSAPIKey, cfg.ORSEndpoint), nil
	case ProviderGoogle:
		if cfg.GoogleAPIKey == "" {
			return nil, nil
		}
		p, err := NewGoogleProvider(cfg.GoogleAPIKey, cfg.GoogleBaseURL, nil)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderOSRM:
		if cfg.OSRMEndpoint == "" {
			return nil, nil
		}
		return NewOSRMProvider(cfg.OSRMEndpoint), nil
	case HaversineSource, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown routing provider %q", cfg.Provider)
	}
}
