// Package httpapi implements the HTTP/JSON façade (§6): a gorilla/mux
// router exposing the read surface (C9), the credential store (C1),
// and the configuration store (C8), wrapped in request-id and access
// logging middleware in the teacher's style. Every response is
// {ok, data?, error?}.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"

	"github.com/skinarb/skinarb/pkg/config"
	"github.com/skinarb/skinarb/pkg/credentials"
	skerrors "github.com/skinarb/skinarb/pkg/errors"
	"github.com/skinarb/skinarb/pkg/marketplace"
	"github.com/skinarb/skinarb/pkg/query"
)

// Refresher is the subset of *orchestrator.Orchestrator the façade
// drives directly. Cancellation is not exposed externally (§5).
type Refresher interface {
	RefreshFull(ctx context.Context) error
}

// CredentialTester adapts a marketplace client's minimal authenticated
// read into credentials.TestFunc.
type CredentialTester func(ctx context.Context, id marketplace.ID) (itemsObserved int, err error)

// Server wires the route table over the process-wide singletons.
type Server struct {
	router   *mux.Router
	query    *query.Surface
	refresh  Refresher
	creds    *credentials.Store
	cfg      *config.Store
	tester   CredentialTester
	startedAt time.Time
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithCredentialTester wires the function used by POST
// /tokens/test/{marketplace}.
func WithCredentialTester(fn CredentialTester) Option {
	return func(s *Server) { s.tester = fn }
}

// New builds a Server and registers all routes.
func New(q *query.Surface, refresh Refresher, creds *credentials.Store, cfg *config.Store, opts ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		query:     q,
		refresh:   refresh,
		creds:     creds,
		cfg:       cfg,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the fully wrapped http.Handler: CORS, access logging,
// and panic recovery around the route table, in that order.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = handlers.RecoveryHandler()(h)
	h = handlers.CombinedLoggingHandler(os.Stdout, h)
	return cors.AllowAll().Handler(h)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(requestIDMiddleware)

	r.HandleFunc("/items", s.handleListItems).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/statistics", s.handleStatistics).Methods(http.MethodGet)
	r.HandleFunc("/update", s.handleUpdate).Methods(http.MethodPost)
	r.HandleFunc("/settings", s.handleSettings).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/price_range", s.handlePriceRange).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/buff_price_range", s.handleBuffPriceRange).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/tokens/status", s.handleTokensStatus).Methods(http.MethodGet)
	r.HandleFunc("/tokens/{marketplace}", s.handleTokensUpdate).Methods(http.MethodPost)
	r.HandleFunc("/tokens/test/{marketplace}", s.handleTokensTest).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/status", s.handleStatusStream).Methods(http.MethodGet)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// envelope is the {ok, data?, error?} response shape every endpoint uses.
type envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, e envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{OK: false, Error: err.Error()})
}

func statusFor(err error) int {
	skErr, ok := err.(*skerrors.Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch skErr.Code {
	case skerrors.CodeValidationFailed:
		return http.StatusBadRequest
	case skerrors.CodeAlreadyRunning:
		return http.StatusConflict
	case skerrors.CodeAuthFailed:
		return http.StatusUnauthorized
	case skerrors.CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var minDiff *decimal.Decimal
	if raw := q.Get("min_diff"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, skerrors.Wrap(skerrors.CodeValidationFailed, "invalid min_diff", err))
			return
		}
		minDiff = &d
	}

	sortBy := query.SortByMargin
	if raw := q.Get("sort_by"); raw == "diff" {
		sortBy = query.SortByDiff
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, skerrors.Wrap(skerrors.CodeValidationFailed, "invalid limit", err))
			return
		}
		limit = n
	}

	pairs := s.query.List(minDiff, sortBy, limit)
	writeData(w, pairs)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.query.Status())
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.query.Stats())
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if err := s.refresh.RefreshFull(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, map[string]string{"status": "refresh complete"})
}

type settingsBody struct {
	DiffBandLo   *string `json:"diff_band_lo,omitempty"`
	DiffBandHi   *string `json:"diff_band_hi,omitempty"`
	PriceBandLo  *string `json:"price_band_lo,omitempty"`
	PriceBandHi  *string `json:"price_band_hi,omitempty"`
	MaxOutput    *int    `json:"max_output,omitempty"`
	AMaxPages    *int    `json:"a_max_pages,omitempty"`
	BMaxPages    *int    `json:"b_max_pages,omitempty"`
	APageSize    *int    `json:"a_page_size,omitempty"`
	BPageSize    *int    `json:"b_page_size,omitempty"`
	AMinDelaySec *float64 `json:"a_min_delay_s,omitempty"`
	BMinDelaySec *float64 `json:"b_min_delay_s,omitempty"`
	HeavyCadenceSec *float64 `json:"heavy_cadence_s,omitempty"`
	LightCadenceSec *float64 `json:"light_cadence_s,omitempty"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeData(w, s.cfg.Snapshot())
		return
	}

	var body settingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, skerrors.Wrap(skerrors.CodeValidationFailed, "invalid request body", err))
		return
	}

	err := s.cfg.Update(func(p *config.Params) {
		applyDecimal(&p.DiffBandLo, body.DiffBandLo)
		applyDecimal(&p.DiffBandHi, body.DiffBandHi)
		applyDecimal(&p.PriceBandLo, body.PriceBandLo)
		applyDecimal(&p.PriceBandHi, body.PriceBandHi)
		if body.MaxOutput != nil {
			p.MaxOutput = *body.MaxOutput
		}
		if body.AMaxPages != nil {
			p.AMaxPages = *body.AMaxPages
		}
		if body.BMaxPages != nil {
			p.BMaxPages = *body.BMaxPages
		}
		if body.APageSize != nil {
			p.APageSize = *body.APageSize
		}
		if body.BPageSize != nil {
			p.BPageSize = *body.BPageSize
		}
		if body.AMinDelaySec != nil {
			p.AMinDelay = time.Duration(*body.AMinDelaySec * float64(time.Second))
		}
		if body.BMinDelaySec != nil {
			p.BMinDelay = time.Duration(*body.BMinDelaySec * float64(time.Second))
		}
		if body.HeavyCadenceSec != nil {
			p.HeavyCadence = time.Duration(*body.HeavyCadenceSec * float64(time.Second))
		}
		if body.LightCadenceSec != nil {
			p.LightCadence = time.Duration(*body.LightCadenceSec * float64(time.Second))
		}
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, s.cfg.Snapshot())
}

func applyDecimal(dst *decimal.Decimal, raw *string) {
	if raw == nil {
		return
	}
	if d, err := decimal.NewFromString(*raw); err == nil {
		*dst = d
	}
}

func (s *Server) handlePriceRange(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		snap := s.cfg.Snapshot()
		writeData(w, map[string]string{"diff_band_lo": snap.DiffBandLo.String(), "diff_band_hi": snap.DiffBandHi.String()})
		return
	}

	var body struct {
		Lo string `json:"diff_band_lo"`
		Hi string `json:"diff_band_hi"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, skerrors.Wrap(skerrors.CodeValidationFailed, "invalid request body", err))
		return
	}
	lo, errLo := decimal.NewFromString(body.Lo)
	hi, errHi := decimal.NewFromString(body.Hi)
	if errLo != nil || errHi != nil {
		writeError(w, http.StatusBadRequest, skerrors.New(skerrors.CodeValidationFailed, "diff band values must be decimals"))
		return
	}

	err := s.cfg.Update(func(p *config.Params) {
		p.DiffBandLo = lo
		p.DiffBandHi = hi
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, s.cfg.Snapshot())
}

func (s *Server) handleBuffPriceRange(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		snap := s.cfg.Snapshot()
		writeData(w, map[string]string{"price_band_lo": snap.PriceBandLo.String(), "price_band_hi": snap.PriceBandHi.String()})
		return
	}

	var body struct {
		Lo string `json:"price_band_lo"`
		Hi string `json:"price_band_hi"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, skerrors.Wrap(skerrors.CodeValidationFailed, "invalid request body", err))
		return
	}
	lo, errLo := decimal.NewFromString(body.Lo)
	hi, errHi := decimal.NewFromString(body.Hi)
	if errLo != nil || errHi != nil {
		writeError(w, http.StatusBadRequest, skerrors.New(skerrors.CodeValidationFailed, "price band values must be decimals"))
		return
	}

	err := s.cfg.Update(func(p *config.Params) {
		p.PriceBandLo = lo
		p.PriceBandHi = hi
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, s.cfg.Snapshot())
}

func (s *Server) handleTokensStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.creds.Status())
}

type tokensUpdateBody struct {
	Fields  map[string]string `json:"fields"`
	Headers map[string]string `json:"headers"`
}

func (s *Server) handleTokensUpdate(w http.ResponseWriter, r *http.Request) {
	id := marketplace.ID(mux.Vars(r)["marketplace"])

	var body tokensUpdateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, skerrors.Wrap(skerrors.CodeValidationFailed, "invalid request body", err))
		return
	}

	if err := s.creds.Update(id, body.Fields, body.Headers); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, map[string]string{"status": "updated"})
}

func (s *Server) handleTokensTest(w http.ResponseWriter, r *http.Request) {
	id := marketplace.ID(mux.Vars(r)["marketplace"])
	if s.tester == nil {
		writeError(w, http.StatusServiceUnavailable, skerrors.New(skerrors.CodeValidationFailed, "no credential tester configured"))
		return
	}
	result := s.creds.Test(r.Context(), id, credentials.TestFunc(s.tester))
	writeData(w, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]any{"status": "ok", "uptime_s": time.Since(s.startedAt).Seconds()})
}
