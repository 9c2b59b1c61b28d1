// Package rides quotes, books, cancels and completes trips. It ties the
// distance resolver, fare calculator, commission engine and cancellation
// policy to the stores, the payment hold and the outbound notifications.
package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/mali-ride/internal/cancellation"
	"github.com/example/mali-ride/internal/commission"
	"github.com/example/mali-ride/internal/dispatch"
	"github.com/example/mali-ride/internal/ingest"
	"github.com/example/mali-ride/internal/matcher"
	"github.com/example/mali-ride/internal/models"
	"github.com/example/mali-ride/internal/observability"
	"github.com/example/mali-ride/internal/payments"
	"github.com/example/mali-ride/internal/pricing"
	"github.com/example/mali-ride/internal/routing"
	"github.com/example/mali-ride/internal/storage"
)

// DistanceResolver is satisfied by *routing.Resolver.
type DistanceResolver interface {
	Resolve(ctx context.Context, from, to models.Coord) (routing.Result, error)
}

// Config is the engine configuration; it is read-only after construction.
type Config struct {
	Calculator   pricing.Calculator
	Commission   *commission.Engine
	Policy       cancellation.Policy
	WeeklyWindow time.Duration
}

const cancelAttempts = 3

type Service struct {
	store    storage.Store
	resolver DistanceResolver
	matcher  *matcher.Service
	cfg      Config

	payments payments.Gateway
	events   ingest.Publisher
	notifier dispatch.Notifier
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

func WithPayments(g payments.Gateway) Option { return func(s *Service) { s.payments = g } }
func WithPublisher(p ingest.Publisher) Option { return func(s *Service) { s.events = p } }
func WithNotifier(n dispatch.Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithIDGenerator(gen func() string) Option { return func(s *Service) { s.newID = gen } }

func NewService(store storage.Store, resolver DistanceResolver, m *matcher.Service, cfg Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg.Commission == nil {
		return nil, errors.New("rides: commission engine required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("rides: %w", err)
	}
	if cfg.WeeklyWindow <= 0 {
		cfg.WeeklyWindow = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		resolver: resolver,
		matcher:  m,
		cfg:      cfg,
		payments: payments.NopGateway{},
		events:   ingest.NopPublisher{},
		notifier: dispatch.NopNotifier{},
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

type QuoteRequest struct {
	Pickup    models.Coord `json:"pickup"`
	Dropoff   models.Coord `json:"dropoff"`
	City      string       `json:"city,omitempty"`
	PromoCode string       `json:"promo_code,omitempty"`
}

type Quote struct {
	DistanceMiles         float64             `json:"distance_miles"`
	RoutingProvider       string              `json:"routing_provider"`
	FareXOF               int64               `json:"fare_xof"`
	DiscountXOF           int64               `json:"discount_xof"`
	PriceXOF              int64               `json:"price_xof"`
	CommissionSchedule    string              `json:"commission_schedule"`
	CommissionPct         int                 `json:"platform_pct"`
	PlatformCommissionXOF int64               `json:"platform_commission_xof"`
	DriverEarningsXOF     int64               `json:"driver_earnings_xof"`
	Drivers               []matcher.Candidate `json:"drivers"`
}

// Quote prices pickup→dropoff and ranks available drivers. The commission
// split is reported for the nearest driver, or for a driver with no recent
// trips when nobody is available.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	route, err := s.resolver.Resolve(ctx, req.Pickup, req.Dropoff)
	if err != nil {
		return Quote{}, err
	}
	fare, err := s.cfg.Calculator.Quote(route.Miles)
	if err != nil {
		return Quote{}, err
	}
	price, discount, err := s.cfg.Calculator.ApplyPromo(req.PromoCode, fare)
	if err != nil {
		return Quote{}, err
	}

	drivers, err := s.store.ListDrivers(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("list drivers: %w", err)
	}
	ranked, err := s.matcher.Rank(ctx, req.Pickup, drivers, matcher.Filter{City: req.City})
	if err != nil {
		return Quote{}, err
	}
	weekly := 0
	if len(ranked) > 0 {
		if weekly, err = s.weeklyTrips(ctx, ranked[0].Driver); err != nil {
			return Quote{}, err
		}
	}
	pct, split, err := s.cfg.Commission.Apply(price, weekly)
	if err != nil {
		return Quote{}, err
	}
	for i := range ranked {
		ranked[i].Driver.PINHash = ""
	}
	return Quote{
		DistanceMiles:         route.Miles,
		RoutingProvider:       route.Source,
		FareXOF:               fare,
		DiscountXOF:           discount,
		PriceXOF:              price,
		CommissionSchedule:    s.cfg.Commission.Schedule.Name,
		CommissionPct:         pct,
		PlatformCommissionXOF: split.PlatformCommission,
		DriverEarningsXOF:     split.DriverEarnings,
		Drivers:               ranked,
	}, nil
}

type BookRequest struct {
	Pickup  models.Coord `json:"pickup"`
	Dropoff models.Coord `json:"dropoff"`
	// DriverUsername wins over DriverIndex when set. Index 0 is the nearest.
	DriverUsername   string `json:"driver_username,omitempty"`
	DriverIndex      int    `json:"driver_index,omitempty"`
	City             string `json:"city,omitempty"`
	RouteMode        string `json:"route_mode,omitempty"`
	PromoCode        string `json:"promo_code,omitempty"`
	PassengerName    string `json:"passenger_name,omitempty"`
	OriginLabel      string `json:"origin_label,omitempty"`
	DestinationLabel string `json:"destination_label,omitempty"`
}

// Book confirms a trip with one driver. Concurrent bookings of the same
// driver race on the driver's status; the loser gets models.ErrStatusConflict.
func (s *Service) Book(ctx context.Context, req BookRequest) (models.Trip, error) {
	if err := req.Pickup.Validate(); err != nil {
		return models.Trip{}, fmt.Errorf("pickup: %w", err)
	}
	if err := req.Dropoff.Validate(); err != nil {
		return models.Trip{}, fmt.Errorf("dropoff: %w", err)
	}
	drivers, err := s.store.ListDrivers(ctx)
	if err != nil {
		return models.Trip{}, fmt.Errorf("list drivers: %w", err)
	}
	ranked, err := s.matcher.Rank(ctx, req.Pickup, drivers, matcher.Filter{City: req.City})
	if err != nil {
		return models.Trip{}, err
	}
	var picked matcher.Candidate
	if req.DriverUsername != "" {
		picked, err = matcher.SelectByUsername(ranked, req.DriverUsername)
	} else {
		picked, err = matcher.Select(ranked, req.DriverIndex)
	}
	if err != nil {
		return models.Trip{}, err
	}
	driver := picked.Driver

	if err := s.store.CompareAndSetStatus(ctx, driver.Username, models.DriverAvailable, models.DriverBusy); err != nil {
		if errors.Is(err, models.ErrStatusConflict) {
			observability.BookingConflicts.Inc()
		}
		return models.Trip{}, err
	}

	trip, err := s.confirm(ctx, req, driver)
	if err != nil {
		s.releaseDriver(ctx, driver.Username)
		return models.Trip{}, err
	}

	observability.BookingsTotal.Inc()
	observability.FareXOF.Observe(float64(trip.PriceXOF))
	s.logger.Info("trip booked",
		"trip_id", trip.ID,
		"driver", trip.DriverUsername,
		"price_xof", trip.PriceXOF,
		"platform_pct", trip.CommissionPct,
		"routing_provider", trip.RoutingProvider,
	)
	s.announce(ctx, ingest.TripBooked, dispatch.KindBooked, trip)
	return trip, nil
}

// confirm prices the trip, holds the fare and saves it. The driver is
// already marked busy.
func (s *Service) confirm(ctx context.Context, req BookRequest, driver models.Driver) (models.Trip, error) {
	route, err := s.resolver.Resolve(ctx, req.Pickup, req.Dropoff)
	if err != nil {
		return models.Trip{}, err
	}
	fare, err := s.cfg.Calculator.Quote(route.Miles)
	if err != nil {
		return models.Trip{}, err
	}
	price, discount, err := s.cfg.Calculator.ApplyPromo(req.PromoCode, fare)
	if err != nil {
		return models.Trip{}, err
	}
	weekly, err := s.weeklyTrips(ctx, driver)
	if err != nil {
		return models.Trip{}, err
	}
	pct, split, err := s.cfg.Commission.Apply(price, weekly)
	if err != nil {
		return models.Trip{}, err
	}

	promo := strings.ToUpper(strings.TrimSpace(req.PromoCode))
	trip := models.Trip{
		ID:                    s.newID(),
		DriverUsername:        driver.Username,
		DriverName:            driver.FullName(),
		PassengerName:         req.PassengerName,
		Pickup:                req.Pickup,
		Dropoff:               req.Dropoff,
		DistanceMiles:         route.Miles,
		PriceXOF:              price,
		PlatformCommissionXOF: split.PlatformCommission,
		DriverEarningsXOF:     split.DriverEarnings,
		CommissionPct:         pct,
		PromoCode:             promo,
		DiscountXOF:           discount,
		Status:                models.TripConfirmed,
		City:                  driver.City,
		RouteMode:             req.RouteMode,
		RoutingProvider:       route.Source,
		OriginLabel:           req.OriginLabel,
		DestinationLabel:      req.DestinationLabel,
		CreatedAt:             s.now(),
	}

	holdID, err := s.payments.Hold(ctx, price, trip.ID)
	if err != nil {
		return models.Trip{}, fmt.Errorf("payment hold: %w", err)
	}
	trip.PaymentIntentID = holdID

	if err := s.store.SaveTrip(ctx, trip); err != nil {
		if rerr := s.payments.Release(context.WithoutCancel(ctx), holdID); rerr != nil {
			s.logger.Error("releasing hold after failed save", "trip_id", trip.ID, "error", rerr)
		}
		return models.Trip{}, fmt.Errorf("save trip: %w", err)
	}
	return trip, nil
}

// weeklyTrips is the configured override or the trailing-window count.
func (s *Service) weeklyTrips(ctx context.Context, d models.Driver) (int, error) {
	if d.WeeklyTrips != nil {
		return *d.WeeklyTrips, nil
	}
	n, err := s.store.CountDriverTripsSince(ctx, d.Username, s.now().Add(-s.cfg.WeeklyWindow))
	if err != nil {
		return 0, fmt.Errorf("count trips for %s: %w", d.Username, err)
	}
	return n, nil
}

func (s *Service) releaseDriver(ctx context.Context, username string) {
	err := s.store.CompareAndSetStatus(context.WithoutCancel(ctx), username, models.DriverBusy, models.DriverAvailable)
	if err != nil {
		s.logger.Error("reverting driver status", "driver", username, "error", err)
	}
}

type CancelResult struct {
	Trip   models.Trip    `json:"trip"`
	Driver *models.Driver `json:"driver,omitempty"`
	FeeXOF int64          `json:"cancellation_fee_xof"`
}

// Cancel moves a confirmed trip to cancelled_by_<actor>. The fee and, for a
// driver cancellation, the rating penalty are persisted in one store call.
// The driver's status is left as it is.
func (s *Service) Cancel(ctx context.Context, tripID string, actor cancellation.Actor) (CancelResult, error) {
	var out cancellation.Outcome
	for attempt := 1; ; attempt++ {
		trip, err := s.store.GetTrip(ctx, tripID)
		if err != nil {
			return CancelResult{}, err
		}
		var driver *models.Driver
		if actor == cancellation.Driver {
			d, err := s.store.GetDriver(ctx, trip.DriverUsername)
			if err != nil {
				return CancelResult{}, fmt.Errorf("load driver %s: %w", trip.DriverUsername, err)
			}
			driver = &d
		}
		out, err = s.cfg.Policy.Apply(trip, driver, actor)
		if err != nil {
			return CancelResult{}, err
		}
		at := s.now()
		out.Trip.CancelledAt = &at

		err = s.store.CancelTrip(ctx, storage.Cancellation{Trip: out.Trip, Driver: out.Driver})
		if err == nil {
			break
		}
		// the driver record moved under us; recompute from a fresh read
		if errors.Is(err, models.ErrStatusConflict) && attempt < cancelAttempts {
			continue
		}
		return CancelResult{}, err
	}

	s.settleCancellation(ctx, out)
	observability.CancellationsTotal.WithLabelValues(string(actor)).Inc()
	s.logger.Info("trip cancelled", "trip_id", out.Trip.ID, "actor", actor, "fee_xof", out.Fee)
	s.announce(ctx, ingest.TripCancelled, dispatch.KindCancelled, out.Trip)

	res := CancelResult{Trip: out.Trip, FeeXOF: out.Fee}
	if out.Driver != nil {
		d := *out.Driver
		d.PINHash = ""
		res.Driver = &d
	}
	return res, nil
}

// settleCancellation captures the fee and lets the rest of the hold lapse.
// The trip is already cancelled, so payment errors are only logged.
func (s *Service) settleCancellation(ctx context.Context, out cancellation.Outcome) {
	id := out.Trip.PaymentIntentID
	if id == "" {
		return
	}
	var err error
	if out.Fee > 0 {
		err = s.payments.Capture(ctx, id, out.Fee)
	} else {
		err = s.payments.Release(ctx, id)
	}
	if err != nil {
		s.logger.Error("settling cancellation payment", "trip_id", out.Trip.ID, "error", err)
	}
}

// Complete closes a confirmed trip, captures the fare and frees the driver.
func (s *Service) Complete(ctx context.Context, tripID string) (models.Trip, error) {
	if err := s.store.UpdateTripStatus(ctx, tripID, models.TripConfirmed, models.TripCompleted); err != nil {
		return models.Trip{}, err
	}
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return models.Trip{}, err
	}
	if err := s.payments.Capture(ctx, trip.PaymentIntentID, trip.PriceXOF); err != nil {
		s.logger.Error("capturing fare", "trip_id", trip.ID, "error", err)
	}
	if err := s.store.CompareAndSetStatus(ctx, trip.DriverUsername, models.DriverBusy, models.DriverAvailable); err != nil && !errors.Is(err, models.ErrStatusConflict) {
		s.logger.Warn("freeing driver after completion", "driver", trip.DriverUsername, "error", err)
	}
	observability.CompletionsTotal.Inc()
	s.announce(ctx, ingest.TripCompleted, dispatch.KindCompleted, trip)
	return trip, nil
}

// Trips returns every trip, newest first.
func (s *Service) Trips(ctx context.Context) ([]models.Trip, error) {
	return s.store.ListTrips(ctx)
}

func (s *Service) announce(ctx context.Context, event ingest.TripEventType, kind string, trip models.Trip) {
	at := s.now()
	if err := s.events.PublishTripEvent(ctx, ingest.NewTripEvent(event, trip, at)); err != nil {
		s.logger.Warn("trip event publish failed", "trip_id", trip.ID, "event", event, "error", err)
	}
	if err := s.notifier.Notify(ctx, trip.DriverUsername, dispatch.NotificationFromTrip(kind, trip, at)); err != nil {
		s.logger.Debug("driver notification not delivered", "driver", trip.DriverUsername, "error", err)
	}
}
