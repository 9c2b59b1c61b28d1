// Package drivers registers drivers and keeps their status and location current.
package drivers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/example/mali-ride/internal/geo"
	"github.com/example/mali-ride/internal/ingest"
	"github.com/example/mali-ride/internal/models"
	"github.com/example/mali-ride/internal/observability"
	"github.com/example/mali-ride/internal/storage"
)

type RegisterRequest struct {
	Username       string        `json:"username"`
	PIN            string        `json:"pin"`
	FirstName      string        `json:"first_name"`
	LastName       string        `json:"last_name"`
	Age            int           `json:"age"`
	City           string        `json:"city"`
	TransportType  string        `json:"transport_type"`
	PaymentMethods []string      `json:"payment_methods"`
	Loc            *models.Coord `json:"loc,omitempty"`
	WeeklyTrips    *int          `json:"weekly_trips,omitempty"`
}

type Service struct {
	store     storage.DriverStore
	geo       geo.Index
	publisher ingest.Publisher
	logger    *slog.Logger
	cost      int
	dummyHash []byte
	now       func() time.Time
}

type Option func(*Service)

func WithGeoIndex(idx geo.Index) Option { return func(s *Service) { s.geo = idx } }

func WithPublisher(p ingest.Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithBcryptCost lowers the hashing cost, mainly for tests.
func WithBcryptCost(cost int) Option { return func(s *Service) { s.cost = cost } }

func NewService(store storage.DriverStore, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     store,
		publisher: ingest.NopPublisher{},
		logger:    logger,
		cost:      bcrypt.DefaultCost,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	// compared against for unknown usernames so lookups and bad PINs take the same time
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("0000"), s.cost)
	return s
}

func validatePIN(pin string) error {
	if len(pin) != 4 {
		return &models.InputError{Field: "pin", Reason: "must be 4 digits"}
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return &models.InputError{Field: "pin", Reason: "must be 4 digits"}
		}
	}
	return nil
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (models.Driver, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return models.Driver{}, &models.InputError{Field: "username", Reason: "required"}
	}
	if err := validatePIN(req.PIN); err != nil {
		return models.Driver{}, err
	}
	if req.WeeklyTrips != nil && *req.WeeklyTrips < 0 {
		return models.Driver{}, &models.InputError{Field: "weekly_trips", Reason: "negative"}
	}
	if req.Age < 0 {
		return models.Driver{}, &models.InputError{Field: "age", Reason: "negative"}
	}
	loc := models.CityCenter(req.City)
	if req.Loc != nil {
		loc = *req.Loc
	}
	if req.City == "" {
		req.City = "Bamako"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), s.cost)
	if err != nil {
		return models.Driver{}, fmt.Errorf("hash pin: %w", err)
	}
	now := s.now()
	d := models.Driver{
		Username:       req.Username,
		PINHash:        string(hash),
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Age:            req.Age,
		Loc:            loc,
		Status:         models.DriverAvailable,
		City:           req.City,
		TransportType:  req.TransportType,
		PaymentMethods: req.PaymentMethods,
		Rating:         models.DefaultRating,
		WeeklyTrips:    req.WeeklyTrips,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.Validate(); err != nil {
		return models.Driver{}, err
	}
	if err := s.store.CreateDriver(ctx, d); err != nil {
		return models.Driver{}, err
	}
	s.logger.Info("driver registered", "driver", d.Username, "city", d.City)
	s.mirror(ctx, d)
	s.refreshGauge(ctx)
	return public(d), nil
}

// Authenticate checks a PIN. Unknown usernames and wrong PINs both return
// models.ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, username, pin string) (models.Driver, error) {
	d, err := s.store.GetDriver(ctx, username)
	if errors.Is(err, models.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(pin))
		return models.Driver{}, models.ErrUnauthorized
	}
	if err != nil {
		return models.Driver{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(d.PINHash), []byte(pin)) != nil {
		return models.Driver{}, models.ErrUnauthorized
	}
	return d, nil
}

func (s *Service) UpdateStatus(ctx context.Context, username, pin string, status models.DriverStatus) (models.Driver, error) {
	status, err := models.ParseDriverStatus(string(status))
	if err != nil {
		return models.Driver{}, err
	}
	if _, err := s.Authenticate(ctx, username, pin); err != nil {
		return models.Driver{}, err
	}
	d, err := s.store.UpdateDriver(ctx, username, models.DriverUpdate{Status: &status})
	if err != nil {
		return models.Driver{}, err
	}
	s.logger.Info("driver status changed", "driver", username, "status", status)
	s.mirror(ctx, d)
	s.refreshGauge(ctx)
	return public(d), nil
}

func (s *Service) UpdateLocation(ctx context.Context, username, pin string, loc models.Coord) (models.Driver, error) {
	if err := loc.Validate(); err != nil {
		return models.Driver{}, err
	}
	if _, err := s.Authenticate(ctx, username, pin); err != nil {
		return models.Driver{}, err
	}
	d, err := s.store.UpdateDriver(ctx, username, models.DriverUpdate{Loc: &loc})
	if err != nil {
		return models.Driver{}, err
	}
	observability.LocationUpdates.WithLabelValues("api").Inc()
	s.mirror(ctx, d)
	return public(d), nil
}

// List returns registered drivers without their PIN hashes.
func (s *Service) List(ctx context.Context) ([]models.Driver, error) {
	ds, err := s.store.ListDrivers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ds {
		ds[i] = public(ds[i])
	}
	return ds, nil
}

// mirror pushes the driver's position to the geo index and the location
// stream. Failures are logged; the store remains the source of truth.
func (s *Service) mirror(ctx context.Context, d models.Driver) {
	if s.geo != nil {
		var err error
		if d.Status == models.DriverOffline {
			err = s.geo.Remove(ctx, d.Username)
		} else {
			err = s.geo.Upsert(ctx, d.Username, d.Loc)
		}
		if err != nil {
			s.logger.Warn("geo index update failed", "driver", d.Username, "err", err)
		}
	}
	if err := s.publisher.PublishLocation(ctx, ingest.LocationFromDriver(d, s.now())); err != nil {
		s.logger.Warn("location publish failed", "driver", d.Username, "err", err)
	}
}

// SyncIndex rebuilds the geo index from the store: offline drivers are
// removed, everyone else is upserted at their stored location. It returns the
// number of drivers indexed.
func (s *Service) SyncIndex(ctx context.Context) (int, error) {
	if s.geo == nil {
		return 0, nil
	}
	ds, err := s.store.ListDrivers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list drivers: %w", err)
	}
	var errs []error
	n := 0
	for _, d := range ds {
		if d.Status == models.DriverOffline {
			if err := s.geo.Remove(ctx, d.Username); err != nil {
				errs = append(errs, fmt.Errorf("remove %s: %w", d.Username, err))
			}
			continue
		}
		if err := s.geo.Upsert(ctx, d.Username, d.Loc); err != nil {
			errs = append(errs, fmt.Errorf("upsert %s: %w", d.Username, err))
			continue
		}
		n++
	}
	s.refreshGauge(ctx)
	return n, errors.Join(errs...)
}

// KeepIndexSynced runs SyncIndex every interval until ctx is done, so a lost
// or restarted index converges back to the store.
func (s *Service) KeepIndexSynced(ctx context.Context, interval time.Duration) {
	if s.geo == nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := s.SyncIndex(ctx); err != nil {
				s.logger.Warn("geo index resync incomplete", "indexed", n, "err", err)
			}
		}
	}
}

func (s *Service) refreshGauge(ctx context.Context) {
	ds, err := s.store.ListDrivers(ctx)
	if err != nil {
		return
	}
	counts := map[models.DriverStatus]int{models.DriverAvailable: 0, models.DriverBusy: 0, models.DriverOffline: 0}
	for _, d := range ds {
		counts[d.Status]++
	}
	for st, n := range counts {
		observability.DriversByStatus.WithLabelValues(string(st)).Set(float64(n))
	}
}

func public(d models.Driver) models.Driver {
	d.PINHash = ""
	return d
}
