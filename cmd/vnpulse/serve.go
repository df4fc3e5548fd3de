package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vietquant/vnpulse/internal/alerts"
	"github.com/vietquant/vnpulse/internal/cache"
	"github.com/vietquant/vnpulse/internal/httpapi"
	"github.com/vietquant/vnpulse/internal/market"
	"github.com/vietquant/vnpulse/internal/metrics"
	"github.com/vietquant/vnpulse/internal/models"
	"github.com/vietquant/vnpulse/internal/runloop"
	"github.com/vietquant/vnpulse/internal/sched"
	"github.com/vietquant/vnpulse/internal/ssi"
	"github.com/vietquant/vnpulse/internal/store"
	"github.com/vietquant/vnpulse/internal/stream"
	"github.com/vietquant/vnpulse/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	metrics.Init()
	reg := metrics.Default

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence is optional: without a reachable database the pipeline
	// still streams, and history endpoints answer 503.
	var (
		db      *store.DB
		writer  *store.Writer
		history *store.History
	)
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err = store.Connect(connectCtx, cfg.Database, reg)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("database unavailable, running without persistence")
		db = nil
	} else {
		if err := store.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		writer = store.NewWriter(db, reg)
		writer.Start()
		history = store.NewHistory(db)
	}

	// Broker surface: auth, REST metadata, watchlist.
	auth := ssi.NewAuthService(cfg.SSI)
	rest := ssi.NewRestClient(cfg.SSI, auth, cache.NewAuto(cfg.Redis.Addr))

	components, err := rest.IndexComponents(ctx, "VN30")
	if err != nil {
		return fmt.Errorf("VN30 component fetch failed: %w", err)
	}
	watchlist := append(append([]string{}, components...), cfg.WatchlistExtras()...)
	futures := market.NewFuturesResolver(cfg.Market.FuturesOverride)
	log.Info().Int("watchlist", len(watchlist)).Strs("futures", futures.WatchSymbols()).Msg("symbol universe resolved")

	// Core: single run loop owning all market state.
	loop := runloop.New()
	loop.Start()

	alertSvc := alerts.NewService(reg)
	var candleSink market.CandleSink
	if writer != nil {
		candleSink = writer.EnqueueCandle
	}
	core := market.NewProcessor(watchlist, reg, alertSvc, candleSink)

	// Client fan-out.
	hub := ws.NewHub(cfg, reg)
	pub := ws.NewPublisher(loop, hub, core, cfg.ThrottleInterval(), cfg.BroadcastInterval())
	core.Subscribe(pub.Notify)
	alertSvc.Subscribe(pub.OnAlert)
	pub.Start()

	// Upstream demux: typed events into the core, rows into the writer.
	demux := ssi.NewDemux(loop, reg)
	demux.OnQuote = core.HandleQuote
	demux.OnTrade = func(ev *models.TradeEvent) {
		classified, _, bp := core.HandleTrade(ev)
		if writer == nil {
			return
		}
		if classified != nil {
			writer.EnqueueTick(classified)
		}
		if bp != nil {
			writer.EnqueueBasis(bp)
		}
	}
	demux.OnForeign = func(ev *models.ForeignEvent) {
		if d := core.HandleForeign(ev); d != nil && writer != nil {
			writer.EnqueueForeign(d)
		}
	}
	demux.OnIndex = func(ev *models.IndexEvent) {
		if d := core.HandleIndex(ev); d != nil && writer != nil {
			writer.EnqueueIndex(d)
		}
	}

	sup := stream.New(stream.Config{
		Client:       ssi.NewStreamClient(cfg.SSI.StreamURL, auth),
		Snapshots:    rest,
		Loop:         loop,
		Reconcile:    core.Reconcile,
		OnMessage:    demux.HandleRaw,
		OnDisconnect: pub.OnUpstreamDisconnect,
		OnReconnect:  pub.OnUpstreamReconnect,
	})
	if err := sup.Connect(streamChannels(futures)); err != nil {
		return err
	}

	// Daily session reset on the exchange clock.
	loc, err := cfg.ResetLocation()
	if err != nil {
		return err
	}
	daily, err := sched.NewDailyReset(loc, cfg.ResetCronSpec(), loop,
		core.FlushCandles, core.ResetSession, alertSvc.ResetDaily)
	if err != nil {
		return fmt.Errorf("invalid reset schedule: %w", err)
	}
	daily.Start()

	// HTTP surface.
	addr := cfg.HTTPAddr()
	if flagAddr != "" {
		addr = flagAddr
	}
	api := httpapi.New(loop, core, alertSvc, hub, db, history, reg, sup, components, cfg.CORSOriginList())
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdown(sup, hub, pub, loop, core, writer, daily, srv)
	return nil
}

// shutdown unwinds startup in reverse: stop ingesting, drain the fan-out,
// flush persistence, then close the listener and the loop.
func shutdown(sup *stream.Supervisor, hub *ws.Hub, pub *ws.Publisher, loop *runloop.Loop,
	core *market.Processor, writer *store.Writer, daily *sched.DailyReset, srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sup.Disconnect(ctx); err != nil {
		log.Warn().Err(err).Msg("stream supervisor did not stop cleanly")
	}
	if err := daily.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("reset scheduler did not stop cleanly")
	}
	hub.DisconnectAll()
	pub.Stop()

	// Emit open candles while the writer still accepts rows, then flush.
	if err := loop.Do(ctx, core.FlushCandles); err != nil {
		log.Warn().Err(err).Msg("candle flush failed")
	}
	if writer != nil {
		writer.Stop()
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := loop.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("run loop did not drain")
	}
	log.Info().Msg("shutdown complete")
}

// streamChannels builds the upstream subscription list: all stock trades and
// quotes, foreign flow, the two indices, per-contract futures and bars.
func streamChannels(futures *market.FuturesResolver) []string {
	channels := []string{"X-TRADE:ALL", "X-QUOTE:ALL", "R:ALL", "MI:VN30", "MI:VNINDEX"}
	for _, contract := range futures.WatchSymbols() {
		channels = append(channels, "X:"+contract)
	}
	return append(channels, "B:ALL")
}
