package main

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avetrano/outpost/internal/api"
	"github.com/avetrano/outpost/internal/audit"
	"github.com/avetrano/outpost/internal/breaker"
	"github.com/avetrano/outpost/internal/config"
	"github.com/avetrano/outpost/internal/dispatch"
	"github.com/avetrano/outpost/internal/hooks"
	"github.com/avetrano/outpost/internal/jobqueue"
	"github.com/avetrano/outpost/internal/middleware"
	"github.com/avetrano/outpost/internal/notify"
	"github.com/avetrano/outpost/internal/runner"
	"github.com/avetrano/outpost/internal/tasks"
)

func main() {
	cfg := config.Load()

	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	filters := hooks.Default()

	ledger, err := audit.NewPostgresLedger(cfg.PostgresDSN, filters)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := ledger.Close(); err != nil {
			log.Printf("failed to close audit ledger: %v", err)
		}
	}()

	q, err := jobqueue.NewQueue(cfg.RedisAddr)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := q.Close(); err != nil {
			log.Printf("failed to close server queue: %v", err)
		}
	}()

	b := breaker.NewBreaker(q.Client())
	dispatcher := dispatch.NewDispatcher(cfg.Gateway, b, ledger, q, filters)

	var alerter runner.Alerter
	if emailAlerter := notify.NewEmailAlerter(cfg.Email); emailAlerter.Enabled() {
		alerter = emailAlerter
	}

	r := runner.NewRunner(dispatcher, ledger, filters, alerter)
	tasks.RegisterSamples(r, cfg.Tasks)

	apiHandler := api.NewAPI(ledger, b, r, q)

	mux := http.NewServeMux()
	mux.Handle("/api/", middleware.MetricsMiddleware(apiHandler))
	mux.Handle("/metrics", promhttp.Handler())

	go startMetricsCollector(q, b)

	log.Printf("Server starting on :%s", cfg.HTTPPort)
	log.Printf("Connected to Redis at %s", cfg.RedisAddr)

	if err := http.ListenAndServe(":"+cfg.HTTPPort, mux); err != nil {
		log.Fatal(err)
	}
}
