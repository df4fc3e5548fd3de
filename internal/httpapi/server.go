// Package httpapi serves the REST surface: health, live market reads,
// persisted history and the Prometheus endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/alerts"
	"github.com/vietquant/vnpulse/internal/market"
	"github.com/vietquant/vnpulse/internal/metrics"
	"github.com/vietquant/vnpulse/internal/models"
	"github.com/vietquant/vnpulse/internal/runloop"
	"github.com/vietquant/vnpulse/internal/store"
	"github.com/vietquant/vnpulse/internal/ws"
)

const (
	liveReadTimeout = 2 * time.Second

	defaultBasisMinutes = 30
	maxBasisMinutes     = 120
	defaultAlertLimit   = 50
	maxAlertLimit       = 200
	defaultForeignDays  = 5
	maxForeignDays      = 30
)

// Upstream reports broker connectivity for the health endpoint.
type Upstream interface {
	Connected() bool
}

// Server holds the handler dependencies. Live reads are proxied through the
// run loop; history reads go straight to the store.
type Server struct {
	loop    *runloop.Loop
	core    *market.Processor
	alerts  *alerts.Service
	hub     *ws.Hub
	db      *store.DB
	history *store.History
	reg     *metrics.Registry

	upstream   Upstream
	components []string
	origins    map[string]bool
}

// New builds the API server. db and history may be nil when persistence is
// disabled; upstream may be nil before the stream supervisor exists.
func New(loop *runloop.Loop, core *market.Processor, alertSvc *alerts.Service, hub *ws.Hub,
	db *store.DB, history *store.History, reg *metrics.Registry,
	upstream Upstream, components []string, corsOrigins []string) *Server {
	origins := make(map[string]bool, len(corsOrigins))
	for _, o := range corsOrigins {
		origins[o] = true
	}
	return &Server{
		loop:       loop,
		core:       core,
		alerts:     alertSvc,
		hub:        hub,
		db:         db,
		history:    history,
		reg:        reg,
		upstream:   upstream,
		components: components,
		origins:    origins,
	}
}

// Router builds the full route table, including the WS upgrade endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware, s.metricsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", s.reg.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/vn30-components", s.handleComponents).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/market/snapshot", s.handleSnapshot).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/market/foreign-detail", s.handleForeignDetail).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/market/volume-stats", s.handleVolumeStats).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/market/basis-trend", s.handleBasisTrend).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/market/alerts", s.handleAlerts).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/history/candles", s.handleCandleHistory).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/history/foreign-daily", s.handleForeignDaily).Methods(http.MethodGet, http.MethodOptions)

	ws.RegisterRoutes(r, s.hub)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbAvailable := false
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), liveReadTimeout)
		defer cancel()
		dbAvailable = s.db.Healthy(ctx)
	}
	connected := s.upstream != nil && s.upstream.Connected()

	status := "ok"
	if !connected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"ssi_connected": connected,
		"db_available":  dbAvailable,
		"clients":       int(s.reg.TotalWSConnections(market.Channels())),
	})
}

func (s *Server) handleComponents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"index":   "VN30",
		"symbols": s.components,
		"count":   len(s.components),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap *models.MarketSnapshot
	if err := s.liveRead(r.Context(), func() { snap = s.core.Snapshot() }); err != nil {
		writeError(w, http.StatusServiceUnavailable, "market core unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleForeignDetail(w http.ResponseWriter, r *http.Request) {
	var summary *models.ForeignSummary
	var detail map[string]*models.ForeignInvestorData
	err := s.liveRead(r.Context(), func() {
		summary = s.core.ForeignSummary()
		detail = s.core.ForeignDetail()
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "market core unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"symbols": detail,
	})
}

func (s *Server) handleVolumeStats(w http.ResponseWriter, r *http.Request) {
	var stats map[string]*models.SessionStats
	if err := s.liveRead(r.Context(), func() { stats = s.core.AllStats() }); err != nil {
		writeError(w, http.StatusServiceUnavailable, "market core unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleBasisTrend serves the in-memory trend, falling back to the persisted
// table when the window outruns what the core holds.
func (s *Server) handleBasisTrend(w http.ResponseWriter, r *http.Request) {
	minutes := intQuery(r, "minutes", defaultBasisMinutes, 1, maxBasisMinutes)

	var trend []models.BasisPoint
	if err := s.liveRead(r.Context(), func() { trend = s.core.BasisTrend(minutes) }); err != nil {
		writeError(w, http.StatusServiceUnavailable, "market core unavailable")
		return
	}

	if len(trend) == 0 && s.history != nil {
		persisted, err := s.history.BasisTrend(r.Context(), minutes)
		if err != nil {
			log.Warn().Err(err).Msg("persisted basis trend read failed")
		} else {
			trend = persisted
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"minutes": minutes,
		"points":  trend,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", defaultAlertLimit, 1, maxAlertLimit)
	typeFilter := models.AlertType(r.URL.Query().Get("type"))
	severityFilter := models.AlertSeverity(r.URL.Query().Get("severity"))

	// The alert ring is mutated on the run loop; read it there too.
	var recent []*models.Alert
	if err := s.liveRead(r.Context(), func() {
		recent = s.alerts.Recent(limit, typeFilter, severityFilter)
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "market core unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": recent,
		"count":  len(recent),
	})
}

func (s *Server) handleCandleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence unavailable")
		return
	}
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	end := timeQuery(r, "end", time.Now())
	start := timeQuery(r, "start", end.Add(-24*time.Hour))

	bars, err := s.history.Candles(r.Context(), symbol, start, end)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("candle history read failed")
		writeError(w, http.StatusServiceUnavailable, "persistence unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"candles": bars,
		"count":   len(bars),
	})
}

func (s *Server) handleForeignDaily(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence unavailable")
		return
	}
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	days := intQuery(r, "days", defaultForeignDays, 1, maxForeignDays)

	rows, err := s.history.ForeignDaily(r.Context(), symbol, days)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("foreign daily read failed")
		writeError(w, http.StatusServiceUnavailable, "persistence unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"days":   rows,
		"count":  len(rows),
	})
}

// liveRead runs fn on the run loop and waits for it, bounded by the live
// read timeout.
func (s *Server) liveRead(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, liveReadTimeout)
	defer cancel()
	return s.loop.Do(ctx, fn)
}

func intQuery(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func timeQuery(r *http.Request, key string, def time.Time) time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"detail": msg})
}
