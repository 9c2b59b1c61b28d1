package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/mali-ride/internal/cancellation"
	"github.com/example/mali-ride/internal/dispatch"
	"github.com/example/mali-ride/internal/drivers"
	"github.com/example/mali-ride/internal/models"
	"github.com/example/mali-ride/internal/rides"
	"github.com/example/mali-ride/internal/stats"
	"github.com/example/mali-ride/internal/storage"
)

// Checker reports whether a dependency is ready to serve traffic.
type Checker func(ctx context.Context) error

type Server struct {
	Drivers *drivers.Service
	Rides   *rides.Service
	Store   storage.Store
	WSReg   *dispatch.WSRegistry
	Ready   map[string]Checker

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(drv *drivers.Service, rs *rides.Service, store storage.Store, ws *dispatch.WSRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Drivers: drv,
		Rides:   rs,
		Store:   store,
		WSReg:   ws,
		Ready:   map[string]Checker{},
		logger:  logger,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods(http.MethodPost)
	api.HandleFunc("/drivers", s.handleListDrivers).Methods(http.MethodGet)
	api.HandleFunc("/drivers/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{username}/status", s.handleDriverStatus).Methods(http.MethodPatch)
	api.HandleFunc("/drivers/{username}/location", s.handleDriverLocation).Methods(http.MethodPatch)

	api.HandleFunc("/rides/quote", s.handleQuote).Methods(http.MethodPost)
	api.HandleFunc("/rides/book", s.handleBook).Methods(http.MethodPost)
	api.HandleFunc("/rides", s.handleListRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/complete", s.handleComplete).Methods(http.MethodPost)

	api.HandleFunc("/admin/dashboard", s.handleDashboard).Methods(http.MethodGet)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req drivers.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.Drivers.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	ds, err := s.Drivers.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": ds})
}

type loginRequest struct {
	Username string `json:"username"`
	PIN      string `json:"pin"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.Drivers.Authenticate(r.Context(), req.Username, req.PIN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d.PINHash = ""
	writeJSON(w, http.StatusOK, d)
}

type statusRequest struct {
	PIN    string `json:"pin"`
	Status string `json:"status"`
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.Drivers.UpdateStatus(r.Context(), mux.Vars(r)["username"], req.PIN, models.DriverStatus(req.Status))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type locationRequest struct {
	PIN string  `json:"pin"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decode(w, r, &req) {
		return
	}
	loc := models.Coord{Lat: req.Lat, Lon: req.Lon}
	d, err := s.Drivers.UpdateLocation(r.Context(), mux.Vars(r)["username"], req.PIN, loc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req rides.QuoteRequest
	if !decode(w, r, &req) {
		return
	}
	q, err := s.Rides.Quote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var req rides.BookRequest
	if !decode(w, r, &req) {
		return
	}
	trip, err := s.Rides.Book(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	trips, err := s.Rides.Trips(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trips": trips})
}

type cancelRequest struct {
	Actor string `json:"actor"`
	// PIN of the assigned driver; required when the driver cancels.
	PIN string `json:"pin,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}
	actor, err := cancellation.ParseActor(req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	if actor == cancellation.Driver {
		trip, err := s.Store.GetTrip(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if _, err := s.Drivers.Authenticate(r.Context(), trip.DriverUsername, req.PIN); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	res, err := s.Rides.Cancel(r.Context(), id, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	trip, err := s.Rides.Complete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	f, err := parseDashboardFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ds, err := s.Store.ListDrivers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trips, err := s.Store.ListTrips(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Summarize(ds, trips, f))
}

func parseDashboardFilter(r *http.Request) (stats.Filter, error) {
	q := r.URL.Query()
	var f stats.Filter
	var err error
	if f.From, err = parseDate("from", q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = parseDate("to", q.Get("to")); err != nil {
		return f, err
	}
	f.Providers = splitValues(q["provider"])
	f.Cities = splitValues(q["city"])
	if v := q.Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, &models.InputError{Field: "top", Reason: "must be a positive integer"}
		}
		f.TopN = n
	}
	return f, nil
}

func parseDate(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &models.InputError{Field: field, Reason: "expected YYYY-MM-DD or RFC3339"}
}

// splitValues accepts repeated and comma-separated query values.
func splitValues(vs []string) []string {
	var out []string
	for _, v := range vs {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range s.Ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", "dependency", name, "error", err)
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Debug("ws upgrade failed", "driver", id, "error", err)
		return
	}
	s.WSReg.Serve(id, conn)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

