// Package payments holds the fare on the rider's card at booking and settles
// it when the trip completes or is cancelled.
package payments

import (
	"context"
	"fmt"
	"net/http"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/example/mali-ride/internal/money"
)

// Gateway is what ride orchestration depends on. An empty hold id means
// nothing was held and Capture/Release are no-ops.
type Gateway interface {
	Hold(ctx context.Context, amountXOF int64, tripID string) (string, error)
	// Capture settles amountXOF of the hold and releases the remainder.
	Capture(ctx context.Context, holdID string, amountXOF int64) error
	Release(ctx context.Context, holdID string) error
}

// StripeClient drives PaymentIntents with capture_method=manual.
type StripeClient struct {
	api *client.API
}

func NewStripeClient(apiKey string) *StripeClient {
	return &StripeClient{api: client.New(apiKey, nil)}
}

// NewStripeClientWithURL points the client at another API base, e.g. stripe-mock.
func NewStripeClientWithURL(apiKey, baseURL string, httpClient *http.Client) *StripeClient {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:        stripe.String(baseURL),
		HTTPClient: httpClient,
	})
	return &StripeClient{api: client.New(apiKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})}
}

func (s *StripeClient) Hold(ctx context.Context, amountXOF int64, tripID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountXOF),
		Currency:      stripe.String(money.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.AddMetadata("trip_id", tripID)
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", fmt.Errorf("hold %d %s: %w", amountXOF, money.Currency, err)
	}
	return pi.ID, nil
}

func (s *StripeClient) Capture(ctx context.Context, holdID string, amountXOF int64) error {
	if holdID == "" {
		return nil
	}
	params := &stripe.PaymentIntentCaptureParams{AmountToCapture: stripe.Int64(amountXOF)}
	params.Context = ctx
	if _, err := s.api.PaymentIntents.Capture(holdID, params); err != nil {
		return fmt.Errorf("capture %s: %w", holdID, err)
	}
	return nil
}

func (s *StripeClient) Release(ctx context.Context, holdID string) error {
	if holdID == "" {
		return nil
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := s.api.PaymentIntents.Cancel(holdID, params); err != nil {
		return fmt.Errorf("release %s: %w", holdID, err)
	}
	return nil
}

// NopGateway is used when no Stripe key is configured.
type NopGateway struct{}

func (NopGateway) Hold(context.Context, int64, string) (string, error) { return "", nil }
func (NopGateway) Capture(context.Context, string, int64) error        { return nil }
func (NopGateway) Release(context.Context, string) error               { return nil }
