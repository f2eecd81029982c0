// Package coordinator is the explicit lifecycle that wires every other
// internal package into a running process (spec §9, "Global singletons →
// explicit lifecycles"): Start builds every collaborator in dependency
// order and returns a Handle; Shutdown tears them down in reverse,
// draining in-flight snapshot work before anything is closed. Grounded on
// cmd/tr-engine/main.go's top-to-bottom wiring order, pulled one layer
// in from main() so cmd/listen-together stays a thin flag/signal shim.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/listen-together/internal/catalog"
	"github.com/snarg/listen-together/internal/clusterbus"
	"github.com/snarg/listen-together/internal/config"
	"github.com/snarg/listen-together/internal/database"
	"github.com/snarg/listen-together/internal/fanout"
	"github.com/snarg/listen-together/internal/group"
	"github.com/snarg/listen-together/internal/groupstore"
	"github.com/snarg/listen-together/internal/membership"
	"github.com/snarg/listen-together/internal/mutationlock"
	"github.com/snarg/listen-together/internal/obs"
	"github.com/snarg/listen-together/internal/presence"
	"github.com/snarg/listen-together/internal/snapshotpipe"
)

// groupEventQueueSize bounds the channel bridging group.Manager's Emitter
// callback to the fanout hub. Spec §9's design note rules out drop-oldest
// for this path, so a full queue blocks the mutation that produced the
// event (see buildEmitter) rather than silently losing it.
const groupEventQueueSize = 256

// Handle holds every long-lived collaborator started by Start, enough for
// Shutdown to close them in the right order.
type Handle struct {
	cfg *config.Config
	log zerolog.Logger

	db         *database.DB
	locker     *mutationlock.Locker
	store      *groupstore.Store
	bus        *clusterbus.Bus
	pipe       *snapshotpipe.Pipe
	hub        *fanout.Hub
	mgr        *group.Manager
	presence   *presence.Presence
	membership *membership.Store

	events chan group.Event

	httpServer *http.Server

	bgCancel context.CancelFunc
	bgDone   chan struct{}
}

// Start brings up every collaborator in dependency order: database, then
// the C2-C4 durable/coordination layer, then C5's in-memory state machine
// wired to C8 via a bounded event channel, then C7's connection layer on
// top, then the HTTP server. Returns a *Handle the caller must pass to
// Shutdown exactly once.
func Start(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Handle, error) {
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		return nil, fmt.Errorf("coordinator: connect database: %w", err)
	}
	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("coordinator: migrate database: %w", err)
	}

	locker := mutationlock.New(mutationlock.Options{
		Pool:    db.Pool,
		TTL:     cfg.MutationLockTTL,
		Prefix:  cfg.MutationLockPrefix,
		Enabled: cfg.MutationLockEnabled,
		Log:     log.With().Str("component", "mutationlock").Logger(),
	})
	if err := locker.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("coordinator: ensure lock schema: %w", err)
	}

	// The snapshot TTL is independent of the lock TTL — snapshots should
	// outlive a single mutation lease by a wide margin. 24h covers any
	// plausible inter-pod resync gap without keeping dead groups forever.
	const snapshotTTL = 24 * time.Hour
	store, err := groupstore.Open(cfg.StateStoreDir, snapshotTTL, cfg.StateStoreEnabled, log.With().Str("component", "groupstore").Logger())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("coordinator: open group store: %w", err)
	}

	events := make(chan group.Event, groupEventQueueSize)
	eventLog := log.With().Str("component", "fanout").Logger()
	mgr := group.NewManager(cfg.ReadyTimeout, cfg.JoinLead, buildEmitter(events, eventLog))

	// The cluster bus delivers every snapshot it receives (including this
	// pod's own publishes) back through mgr.LoadSnapshot, which is
	// idempotent against replays of an equal-or-older version.
	bus, err := clusterbus.Connect(clusterbus.Options{
		BrokerURL: cfg.MQTTBrokerURL,
		ClientID:  cfg.MQTTClientID,
		Enabled:   cfg.RedisAdapterEnabled,
		Log:       log.With().Str("component", "clusterbus").Logger(),
	}, mgr.LoadSnapshot)
	if err != nil {
		store.Close()
		db.Close()
		return nil, fmt.Errorf("coordinator: connect cluster bus: %w", err)
	}

	pipe := snapshotpipe.New(store, bus, log.With().Str("component", "snapshotpipe").Logger())
	hub := fanout.NewHub()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	bgDone := make(chan struct{})
	go runEventLoop(bgCtx, bgDone, events, hub, pipe, log.With().Str("component", "coordinator").Logger())

	memberStore := membership.New(db, jwtOrSessionSecret(cfg), log.With().Str("component", "membership").Logger())
	cat, err := buildCatalog(cfg)
	if err != nil {
		bgCancel()
		bus.Close()
		store.Close()
		db.Close()
		return nil, fmt.Errorf("coordinator: build catalog: %w", err)
	}

	pres := presence.New(presence.Options{
		Manager:         mgr,
		Store:           store,
		Locker:          locker,
		Pipe:            pipe,
		Hub:             hub,
		Catalog:         cat,
		Auth:            memberStore,
		Membership:      memberStore,
		Log:             log.With().Str("component", "presence").Logger(),
		DisconnectGrace: cfg.DisconnectGrace,
		ReconnectSLO:    cfg.ReconnectSLO,
		ObsLogEvery:     cfg.ObsLogEvery,
	})

	if cfg.MetricsEnabled {
		prometheus.MustRegister(obs.NewCollector(pres))
	}

	go obs.RunPeriodicLog(bgCtx, cfg.StatusLogInterval, pres, log.With().Str("component", "obs").Logger())
	go store.RunGC(bgCtx, cfg.GroupStoreGCInterval)

	httpLog := log.With().Str("component", "http").Logger()
	srv := newHTTPServer(cfg, pres, httpLog)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpLog.Error().Err(err).Msg("http server error")
		}
	}()
	httpLog.Info().Str("addr", cfg.HTTPAddr).Msg("listen-together http server started")

	return &Handle{
		cfg:        cfg,
		log:        log,
		db:         db,
		locker:     locker,
		store:      store,
		bus:        bus,
		pipe:       pipe,
		hub:        hub,
		mgr:        mgr,
		presence:   pres,
		membership: memberStore,
		events:     events,
		httpServer: srv,
		bgCancel:   bgCancel,
		bgDone:     bgDone,
	}, nil
}

// buildEmitter adapts group.Manager's synchronous Emitter callback onto the
// bounded event channel C8 drains, per spec §9's "callback-driven emits →
// bounded channels" design note: the channel is block-with-bound, never
// drop-oldest, so a saturated channel back-pressures the mutation that
// produced the event instead of losing it. The non-blocking probe is only
// there to log saturation once per occurrence before falling through to
// the blocking send.
func buildEmitter(events chan group.Event, log zerolog.Logger) group.Emitter {
	return func(ev group.Event) {
		select {
		case events <- ev:
			return
		default:
		}
		log.Warn().Str("groupId", ev.GroupID).Str("kind", string(ev.Kind)).Msg("group event queue saturated, blocking")
		events <- ev
	}
}

// runEventLoop drains the bounded event channel, publishing every event to
// the fanout hub and, on a group-ended event, tearing down its snapshot
// chain and durable entry (spec §4.5: "membership becomes empty → group is
// torn down").
func runEventLoop(ctx context.Context, done chan<- struct{}, events <-chan group.Event, hub *fanout.Hub, pipe *snapshotpipe.Pipe, log zerolog.Logger) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			hub.Publish(ev)
			if ev.Kind == group.EventGroupEnded {
				obs.GroupsEndedTotal.Inc()
				pipe.Teardown(context.Background(), ev.GroupID)
				log.Info().Str("groupId", ev.GroupID).Msg("group ended, snapshot chain torn down")
			}
		}
	}
}

func jwtOrSessionSecret(cfg *config.Config) string {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret
	}
	return cfg.SessionSecret
}

// buildCatalog loads the static track catalog (internal/catalog) from
// cfg.CatalogSeedPath if set, otherwise returns an empty one — queue
// mutations will simply fail catalog validation until a real
// music-library-backed Catalog is wired in (spec Non-goals: catalog lookup
// itself is out of scope for this core).
func buildCatalog(cfg *config.Config) (*catalog.StaticCatalog, error) {
	if cfg.CatalogSeedPath == "" {
		return catalog.NewStaticCatalog(nil), nil
	}
	raw, err := os.ReadFile(cfg.CatalogSeedPath)
	if err != nil {
		return nil, fmt.Errorf("read catalog seed %s: %w", cfg.CatalogSeedPath, err)
	}
	var items []group.QueueItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse catalog seed %s: %w", cfg.CatalogSeedPath, err)
	}
	return catalog.NewStaticCatalog(items), nil
}

// newHTTPServer assembles the chi router: the websocket upgrade endpoint,
// Prometheus scrape endpoint, and a liveness check. Shaped on
// internal/api/server.go's middleware-group-then-route pattern, trimmed to
// what this service actually exposes over HTTP (the control surface is the
// websocket verb table, not a REST API).
func newHTTPServer(cfg *config.Config, pres *presence.Presence, log zerolog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log))
	r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(req).Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", status).
			Dur("duration_ms", dur).
			Msg("request")
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsEnabled {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}
	r.Get("/ws", pres.ServeHTTP)

	return &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
	}
}

// Shutdown drains and closes every collaborator in reverse dependency
// order: stop taking new connections, let in-flight snapshot work finish,
// then close storage/transport. Safe to call once per Handle.
func Shutdown(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	note(h.httpServer.Shutdown(ctx))

	h.bgCancel()
	close(h.events)
	select {
	case <-h.bgDone:
	case <-ctx.Done():
	}

	h.pipe.Close()
	h.hub.Close()
	h.bus.Close()
	note(h.store.Close())
	h.db.Close()

	h.log.Info().Msg("listen-together coordinator stopped")
	return firstErr
}
