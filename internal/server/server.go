package server

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

const (
	defaultDays = 30
	maxDays     = 366
)

// Server provides the dashboard API over pre-computed aggregates.
type Server struct {
	store    storage.Storage
	metrics  http.Handler
	tokens   []string
	currency string
	mux      *http.ServeMux
	logger   *slog.Logger
	now      func() time.Time
}

// Options configures a Server.
type Options struct {
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// APITokens are accepted as bearer tokens on /api routes.
	APITokens []string
	// Currency is used when a request names none.
	Currency string
}

// NewServer creates an API server.
func NewServer(store storage.Storage, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		store:    store,
		metrics:  opts.Metrics,
		tokens:   opts.APITokens,
		currency: opts.Currency,
		mux:      http.NewServeMux(),
		logger:   logger,
		now:      time.Now,
	}
	if s.currency == "" {
		s.currency = "EUR"
	}
	s.routes()
	return s
}

// WithClock overrides the clock that defines "today".
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	s.mux.Handle("GET /api/v1/costs/summary", s.authorize(s.handleSummary))
	s.mux.Handle("GET /api/v1/costs/by-subscription", s.authorize(s.handleBreakdown(model.DimensionSubscription)))
	s.mux.Handle("GET /api/v1/costs/by-service", s.authorize(s.handleBreakdown(model.DimensionService)))
	s.mux.Handle("GET /api/v1/costs/by-resource-group", s.authorize(s.handleBreakdown(model.DimensionResourceGroup)))
	s.mux.Handle("GET /api/v1/costs/daily-trend", s.authorize(s.handleDailyTrend))
	s.mux.Handle("GET /api/v1/costs/export", s.authorize(s.handleExport))
	s.mux.Handle("GET /api/v1/anomalies", s.authorize(s.handleAnomalies))
	s.mux.Handle("GET /api/v1/forecasts", s.authorize(s.handleForecasts))
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorize admits requests carrying a configured bearer token and
// same-origin browser requests.
func (s *Server) authorize(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.validToken(r) || sameOrigin(r) {
			next(w, r)
			return
		}
		s.logger.Warn("api request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "forbidden")
	})
}

func (s *Server) validToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	for _, t := range s.tokens {
		if t != "" && subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func sameOrigin(r *http.Request) bool {
	if site := r.Header.Get("Sec-Fetch-Site"); site != "" {
		return site == "same-origin"
	}
	for _, h := range []string{"Origin", "Referer"} {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		u, err := url.Parse(v)
		if err != nil {
			return false
		}
		return u.Host != "" && strings.EqualFold(u.Host, r.Host)
	}
	return false
}

// params are the common query parameters.
type params struct {
	days           int
	currency       string
	dimensionType  model.DimensionType
	dimensionValue string
	from, to       string
}

func (s *Server) parseParams(r *http.Request) (params, error) {
	q := r.URL.Query()
	p := params{
		days:           defaultDays,
		currency:       strings.ToUpper(q.Get("currency")),
		dimensionType:  model.DimensionType(q.Get("dimension_type")),
		dimensionValue: q.Get("dimension_value"),
	}
	if p.currency == "" {
		p.currency = s.currency
	}
	if v := q.Get("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 || days > maxDays {
			return p, errBadParam("days must be an integer between 1 and " + strconv.Itoa(maxDays))
		}
		p.days = days
	}
	if p.dimensionType != "" && !p.dimensionType.Valid() {
		return p, errBadParam("unknown dimension_type " + strconv.Quote(string(p.dimensionType)))
	}

	start, end := model.TrailingWindow(s.now(), p.days)
	p.from = start.Format(model.DateLayout)
	p.to = end.Format(model.DateLayout)
	return p, nil
}

type errBadParam string

func (e errBadParam) Error() string { return string(e) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
