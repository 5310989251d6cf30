package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/config"
	"github.com/ariefcatur/go-storefront-checkout/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-checkout/internal/kafka"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/metrics"
	"github.com/ariefcatur/go-storefront-checkout/internal/notify"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payment"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/ariefcatur/go-storefront-checkout/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logx.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Kafka producer for lifecycle events
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderLifecycle, 1024, log)
	prod.Start(ctx)

	catalogRepo := &catalog.Repo{DB: db}
	notifier := notify.NewDispatcher(log, m, sinks(cfg, log, prod, catalogRepo)...)

	// Services
	carts := cart.NewService(&cart.Repo{DB: db}, catalogRepo, log)
	orderSvc := orders.NewService(orders.Deps{
		Store:     &orders.Repo{DB: db},
		Carts:     carts,
		Addresses: catalogRepo,
		Notifier:  notifier,
		Metrics:   m,
		Log:       log,
		Currency:  cfg.DefaultCurrency,
	})
	payDeps := payment.Deps{
		Orders:        orderSvc,
		KeyID:         cfg.RazorpayKeyID,
		KeySecret:     cfg.RazorpayKeySecret,
		WebhookSecret: cfg.WebhookSecret(),
		Dedup:         redisx.NewDeduper(rdb),
		Metrics:       m,
		Log:           log,
	}
	if gw := payment.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, log); gw != nil {
		payDeps.Gateway = gw
	}
	payments := payment.NewService(payDeps)

	// HTTP
	router := httpx.NewRouter(log, m)
	router.Handle("/metrics", metrics.Handler(reg))
	(&httpx.WebhookHandler{Payments: payments, Log: log}).Register(router)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	auth := &httpx.Authenticator{Secret: []byte(cfg.JWTSecret), Log: log}
	router.Group(func(r chi.Router) {
		r.Use(auth.Authenticate)
		(&httpx.CartHandler{Carts: carts, Timeout: cfg.RequestTimeout, Log: log}).Register(r)
		(&httpx.OrdersHandler{
			Orders:      orderSvc,
			Payments:    payments,
			Idempotency: redisx.NewIdempotencyStore(rdb),
			Timeout:     cfg.RequestTimeout,
			Log:         log,
		}).Register(r)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.Traced(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	prod.Close()      // stop accepting, flush buffered events
	prod.WaitClosed() // drain
	cancel()
}

func sinks(cfg config.Config, log *zap.Logger, prod *kafkax.Producer, customers notify.Customers) []notify.Sink {
	var out []notify.Sink
	if cfg.SinkEnabled("log") {
		out = append(out, notify.LogSink{Log: log})
	}
	if cfg.SinkEnabled("kafka") {
		out = append(out, notify.KafkaSink{Producer: prod, Service: cfg.ServiceName})
	}
	if cfg.SinkEnabled("email") {
		mailer, err := notify.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom)
		if err != nil {
			log.Warn("e-mail sink disabled", zap.Error(err))
		} else {
			out = append(out, notify.EmailSink{Customers: customers, Mailer: mailer, FrontendURL: cfg.FrontendURL, Log: log})
		}
	}
	if cfg.SinkEnabled("push") {
		out = append(out, notify.PushSink{Customers: customers, Log: log})
	}
	return out
}
