package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pliu/chatterbox/internal/auth"
	"github.com/pliu/chatterbox/internal/config"
	"github.com/pliu/chatterbox/internal/dispatch"
	"github.com/pliu/chatterbox/internal/handlers"
	"github.com/pliu/chatterbox/internal/metrics"
	"github.com/pliu/chatterbox/internal/middleware"
	"github.com/pliu/chatterbox/internal/store"
	"github.com/pliu/chatterbox/internal/store/rediscache"
	"github.com/pliu/chatterbox/internal/store/sqlstore"
	"github.com/pliu/chatterbox/internal/ws"
)

var addr = flag.String("addr", "", "http service address, overrides CHAT_HTTP_ADDR")

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	log, err := newLogger(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("invalid logger configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
	log.Info("server stopped")
}

func newLogger(cfg config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

func openStore(cfg config.Config, log logrus.FieldLogger) (store.Store, error) {
	db, err := sqlstore.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", cfg.DBDriver)
	}
	if cfg.RedisAddr == "" {
		return db, nil
	}

	rdb, err := rediscache.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.WithField("addr", cfg.RedisAddr).Info("membership cache enabled")
	return rediscache.New(db, rdb, cfg.RedisTTL, log.WithField("component", "rediscache")), nil
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := ws.NewRegistry(log)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry, func() float64 { return float64(registry.Len()) })

	dispatcher := dispatch.New(st, registry, log,
		dispatch.WithMetrics(m),
		dispatch.WithTimeout(cfg.RequestTimeout),
	)

	opts := ws.DefaultOptions()
	opts.MaxMessageSize = cfg.WSMaxMessageSize
	opts.SendBuffer = cfg.WSSendBuffer

	socketHandler := handlers.NewSocketHandler(registry, dispatcher, cfg.WSReadBuffer, cfg.WSWriteBuffer, cfg.WSOrigins, opts, log)
	healthHandler := &handlers.HealthHandler{Store: st, Log: log}
	signer := auth.NewSigner(cfg.SIDSecret)

	r := mux.NewRouter()
	r.Use(middleware.Logging(log))

	r.Handle("/ws", middleware.Session(signer)(http.HandlerFunc(socketHandler.ServeWs))).Methods("GET")
	r.HandleFunc("/healthz", healthHandler.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})).Methods("GET")

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Open WebSockets end with ctx; Shutdown does not close hijacked
		// connections.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
