package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/jd-fulfillment-bridge/internal/callback"
	"github.com/certen/jd-fulfillment-bridge/internal/config"
	"github.com/certen/jd-fulfillment-bridge/internal/engine"
	"github.com/certen/jd-fulfillment-bridge/internal/httpapi"
	"github.com/certen/jd-fulfillment-bridge/internal/inventory"
	"github.com/certen/jd-fulfillment-bridge/internal/notifier"
	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		listenAddr = flag.String("listen-addr", "", "HTTP listen address (overrides LISTEN_ADDR env var)")
		migrate    = flag.Bool("migrate", false, "Run pending schema migrations before serving")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	dbClient, err := store.NewClient(cfg, store.WithLogger(
		log.New(log.Writer(), "[Store] ", log.LstdFlags),
	))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbClient.Close()

	if *migrate {
		if err := dbClient.MigrateUp(context.Background()); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Println("schema migrations applied")
	}

	repos := store.NewRepositories(dbClient)

	callbackClient := callback.NewClient(cfg.CallbackTimeout, log.New(log.Writer(), "[Callback] ", log.LstdFlags))
	inventoryClient := inventory.NewClient(cfg.InventoryTimeout, log.New(log.Writer(), "[Inventory] ", log.LstdFlags))
	notifierService := notifier.New(cfg.NotifierRetryIntervals, cfg.NotifierHTTPTimeout,
		repos.Notifications, repos.Orders, log.New(log.Writer(), "[Notifier] ", log.LstdFlags))

	fulfillmentEngine := engine.New(repos, callbackClient, inventoryClient, notifierService,
		log.New(log.Writer(), "[Engine] ", log.LstdFlags))

	handler := httpapi.New(repos, fulfillmentEngine, notifierService, cfg, log.New(log.Writer(), "[HTTP] ", log.LstdFlags))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Routes())

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.Printf("fulfillment bridge listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("shutdown complete")
}
