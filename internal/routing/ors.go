package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/example/mali-ride/internal/models"
)

const DefaultORSEndpoint = "https://api.openrouteservice.org/v2/directions/driving-car"

// ORSProvider posts the coordinate pair to openrouteservice's directions API.
type ORSProvider struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func NewORSProvider(apiKey, endpoint string) *ORSProvider {
	if endpoint == "" {
		endpoint = DefaultORSEndpoint
	}
	return &ORSProvider{APIKey: apiKey, Endpoint: endpoint, Client: &http.Client{}}
}

func (o *ORSProvider) Name() string { return ProviderORS }

type orsRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
}

// The geojson shape carries the distance on the first segment; the plain json
// shape carries it on the route summary.
type orsResponse struct {
	Features []struct {
		Properties struct {
			Segments []struct {
				Distance float64 `json:"distance"`
			} `json:"segments"`
		} `json:"properties"`
	} `json:"features"`
	Routes []struct {
		Summary struct {
			Distance *float64 `json:"distance"`
		} `json:"summary"`
	} `json:"routes"`
}

func (o *ORSProvider) RouteMeters(ctx context.Context, from, to models.Coord) (float64, error) {
	if o.APIKey == "" {
		return 0, errors.New("ors: missing api key")
	}
	body, err := json.Marshal(orsRequest{Coordinates: [][2]float64{{from.Lon, from.Lat}, {to.Lon, to.Lat}}})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", o.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("ors status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out orsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("ors decode: %w", err)
	}
	if len(out.Features) > 0 && len(out.Features[0].Properties.Segments) > 0 {
		return out.Features[0].Properties.Segments[0].Distance, nil
	}
	if len(out.Routes) > 0 && out.Routes[0].Summary.Distance != nil {
		return *out.Routes[0].Summary.Distance, nil
	}
	return 0, errors.New("ors: no route in response")
}
