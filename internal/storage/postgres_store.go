package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/example/mali-ride/internal/models"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStoreFromDB(db), nil
}

func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate applies the embedded schema. It is idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type rowScanner interface {
	Scan(dest ...any) error
}

const driverColumns = `username, pin_hash, first_name, last_name, age, lat, lon, status, city, transport_type, payment_methods, rating, cancel_count, weekly_trips, created_at, updated_at`

func scanDriver(row rowScanner) (models.Driver, error) {
	var (
		d      models.Driver
		status string
		weekly sql.NullInt64
	)
	err := row.Scan(&d.Username, &d.PINHash, &d.FirstName, &d.LastName, &d.Age, &d.Loc.Lat, &d.Loc.Lon,
		&status, &d.City, &d.TransportType, pq.Array(&d.PaymentMethods), &d.Rating, &d.CancelCount,
		&weekly, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Driver{}, err
	}
	d.Status = models.DriverStatus(status)
	if weekly.Valid {
		w := int(weekly.Int64)
		d.WeeklyTrips = &w
	}
	return d, nil
}

func (p *PostgresStore) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers ORDER BY created_at, username`)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	defer rows.Close()
	var out []models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetDriver(ctx context.Context, username string) (models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, &models.NotFoundError{Kind: "driver", Key: username}
	}
	if err != nil {
		return models.Driver{}, fmt.Errorf("get driver %s: %w", username, err)
	}
	return d, nil
}

func (p *PostgresStore) CreateDriver(ctx context.Context, d models.Driver) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = p.now()
	}
	var weekly sql.NullInt64
	if d.WeeklyTrips != nil {
		weekly = sql.NullInt64{Int64: int64(*d.WeeklyTrips), Valid: true}
	}
	methods := d.PaymentMethods
	if methods == nil {
		methods = []string{}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers (`+driverColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.Username, d.PINHash, d.FirstName, d.LastName, d.Age, d.Loc.Lat, d.Loc.Lon, string(d.Status),
		d.City, d.TransportType, pq.Array(methods), d.Rating, d.CancelCount, weekly, d.CreatedAt, d.CreatedAt)
	if isUniqueViolation(err) {
		return &models.DuplicateEntityError{Kind: "driver", Key: d.Username}
	}
	if err != nil {
		return fmt.Errorf("insert driver %s: %w", d.Username, err)
	}
	return nil
}

func (p *PostgresStore) UpdateDriver(ctx context.Context, username string, u models.DriverUpdate) (models.Driver, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.Status != nil {
		set("status", string(*u.Status))
	}
	if u.Loc != nil {
		set("lat", u.Loc.Lat)
		set("lon", u.Loc.Lon)
	}
	if u.Rating != nil {
		set("rating", *u.Rating)
	}
	if u.CancelCount != nil {
		set("cancel_count", *u.CancelCount)
	}
	set("updated_at", p.now())
	args = append(args, username)

	q := fmt.Sprintf(`UPDATE drivers SET %s WHERE username = $%d RETURNING %s`, strings.Join(sets, ", "), len(args), driverColumns)
	d, err := scanDriver(p.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, &models.NotFoundError{Kind: "driver", Key: username}
	}
	if err != nil {
		return models.Driver{}, fmt.Errorf("update driver %s: %w", username, err)
	}
	return d, nil
}

func (p *PostgresStore) CompareAndSetStatus(ctx context.Context, username string, from, to models.DriverStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET status = $1, updated_at = $2 WHERE username = $3 AND status = $4`,
		string(to), p.now(), username, string(from))
	if err != nil {
		return fmt.Errorf("set driver status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}
	var cur string
	err = p.db.QueryRowContext(ctx, `SELECT status FROM drivers WHERE username = $1`, username).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.NotFoundError{Kind: "driver", Key: username}
	}
	if err != nil {
		return fmt.Errorf("read driver status: %w", err)
	}
	return fmt.Errorf("driver %s is %s, not %s: %w", username, cur, from, models.ErrStatusConflict)
}

const tripColumns = `id, driver_username, driver_name, passenger_name, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, distance_miles, price_xof, platform_commission_xof, driver_earnings_xof, platform_pct, cancellation_fee_xof, promo_code, discount_xof, status, city, route_mode, routing_provider, origin_label, destination_label, payment_intent_id, created_at, cancelled_at`

func scanTrip(row rowScanner) (models.Trip, error) {
	var (
		t         models.Trip
		status    string
		cancelled sql.NullTime
	)
	err := row.Scan(&t.ID, &t.DriverUsername, &t.DriverName, &t.PassengerName,
		&t.Pickup.Lat, &t.Pickup.Lon, &t.Dropoff.Lat, &t.Dropoff.Lon, &t.DistanceMiles,
		&t.PriceXOF, &t.PlatformCommissionXOF, &t.DriverEarningsXOF, &t.CommissionPct,
		&t.CancellationFeeXOF, &t.PromoCode, &t.DiscountXOF, &status, &t.City, &t.RouteMode,
		&t.RoutingProvider, &t.OriginLabel, &t.DestinationLabel, &t.PaymentIntentID,
		&t.CreatedAt, &cancelled)
	if err != nil {
		return models.Trip{}, err
	}
	t.Status = models.TripStatus(status)
	if cancelled.Valid {
		at := cancelled.Time
		t.CancelledAt = &at
	}
	return t, nil
}

func (p *PostgresStore) SaveTrip(ctx context.Context, t models.Trip) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO trips (`+tripColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		t.ID, t.DriverUsername, t.DriverName, t.PassengerName, t.Pickup.Lat, t.Pickup.Lon,
		t.Dropoff.Lat, t.Dropoff.Lon, t.DistanceMiles, t.PriceXOF, t.PlatformCommissionXOF,
		t.DriverEarningsXOF, t.CommissionPct, t.CancellationFeeXOF, t.PromoCode, t.DiscountXOF,
		string(t.Status), t.City, t.RouteMode, t.RoutingProvider, t.OriginLabel, t.DestinationLabel,
		t.PaymentIntentID, t.CreatedAt, t.CancelledAt)
	if isUniqueViolation(err) {
		return &models.DuplicateEntityError{Kind: "trip", Key: t.ID}
	}
	if err != nil {
		return fmt.Errorf("insert trip %s: %w", t.ID, err)
	}
	return nil
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (models.Trip, error) {
	t, err := scanTrip(p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Trip{}, &models.NotFoundError{Kind: "trip", Key: id}
	}
	if err != nil {
		return models.Trip{}, fmt.Errorf("get trip %s: %w", id, err)
	}
	return t, nil
}

func (p *PostgresStore) ListTrips(ctx context.Context) ([]models.Trip, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+tripColumns+` FROM trips ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()
	var out []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountDriverTripsSince(ctx context.Context, username string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips WHERE driver_username = $1 AND created_at >= $2 AND status IN ($3, $4)`,
		username, since, string(models.TripConfirmed), string(models.TripCompleted)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trips for %s: %w", username, err)
	}
	return n, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// explainTripMiss resolves why a conditional trip update touched no rows.
func explainTripMiss(ctx context.Context, q querier, id, op string) error {
	var cur string
	err := q.QueryRowContext(ctx, `SELECT status FROM trips WHERE id = $1`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.NotFoundError{Kind: "trip", Key: id}
	}
	if err != nil {
		return fmt.Errorf("read trip status: %w", err)
	}
	return tripStateError(id, models.TripStatus(cur), op)
}

func (p *PostgresStore) UpdateTripStatus(ctx context.Context, id string, from, to models.TripStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE trips SET status = $1 WHERE id = $2 AND status = $3`, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("update trip status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}
	return explainTripMiss(ctx, p.db, id, "move to "+string(to))
}

func (p *PostgresStore) CancelTrip(ctx context.Context, c Cancellation) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	t := c.Trip
	res, err := tx.ExecContext(ctx, `UPDATE trips SET status = $1, cancellation_fee_xof = $2, platform_commission_xof = $3, driver_earnings_xof = $4, cancelled_at = $5 WHERE id = $6 AND status = $7`,
		string(t.Status), t.CancellationFeeXOF, t.PlatformCommissionXOF, t.DriverEarningsXOF, t.CancelledAt, t.ID, string(models.TripConfirmed))
	if err != nil {
		return fmt.Errorf("cancel trip %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return explainTripMiss(ctx, tx, t.ID, "cancel")
	}

	if d := c.Driver; d != nil {
		res, err = tx.ExecContext(ctx, `UPDATE drivers SET rating = $1, cancel_count = $2, updated_at = $3 WHERE username = $4 AND cancel_count = $5`,
			d.Rating, d.CancelCount, p.now(), d.Username, c.previousCancelCount())
		if err != nil {
			return fmt.Errorf("penalise driver %s: %w", d.Username, err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("driver %s changed during cancellation: %w", d.Username, models.ErrStatusConflict)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}
	return nil
}
