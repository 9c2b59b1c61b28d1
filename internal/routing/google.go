package routing

import (
	"context"
	"fmt"
	"net/http"

	"googlemaps.github.io/maps"

	"github.com/example/mali-ride/internal/models"
)

// GoogleProvider uses the Distance Matrix API.
type GoogleProvider struct {
	client *maps.Client
}

// NewGoogleProvider fails when apiKey is empty. baseURL overrides the Google
// host and is mostly useful in tests.
func NewGoogleProvider(apiKey, baseURL string, httpClient *http.Client) (*GoogleProvider, error) {
	opts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, maps.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, maps.WithHTTPClient(httpClient))
	}
	c, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("google maps client: %w", err)
	}
	return &GoogleProvider{client: c}, nil
}

func (g *GoogleProvider) Name() string { return ProviderGoogle }

func (g *GoogleProvider) RouteMeters(ctx context.Context, from, to models.Coord) (float64, error) {
	resp, err := g.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      []string{latLng(from)},
		Destinations: []string{latLng(to)},
		Mode:         maps.TravelModeDriving,
		Units:        maps.UnitsImperial,
	})
	if err != nil {
		return 0, fmt.Errorf("distance matrix: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 || resp.Rows[0].Elements[0] == nil {
		return 0, fmt.Errorf("distance matrix: empty response")
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("distance matrix element status %s", el.Status)
	}
	return float64(el.Distance.Meters), nil
}

func latLng(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}
