package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	apihttp "adms-gateway/internal/api/http"
	"adms-gateway/internal/audit"
	"adms-gateway/internal/auth"
	commandsapp "adms-gateway/internal/commands/application"
	commandsevents "adms-gateway/internal/commands/application/events"
	commandshttp "adms-gateway/internal/commands/interfaces/http"
	devicesapp "adms-gateway/internal/devices/application"
	deviceshttp "adms-gateway/internal/devices/interfaces/http"
	"adms-gateway/internal/directlink"
	"adms-gateway/internal/discovery"
	"adms-gateway/internal/eventing"
	"adms-gateway/internal/observability/metrics"
	pushapp "adms-gateway/internal/push/application"
	pushhttp "adms-gateway/internal/push/interfaces/http"
	recordsapp "adms-gateway/internal/records/application"
	recordsrepo "adms-gateway/internal/records/infrastructure/postgres"
	recordshttp "adms-gateway/internal/records/interfaces/http"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	} else {
		logger.Print("DATABASE_URL not set: record persistence and audit log disabled")
	}

	metrics.Init()
	auditRepo := audit.NewRepository(db)

	bus := eventing.NewBus()
	bus.Subscribe(eventing.EventTypeOf[commandsevents.CommandAcked](), func(_ context.Context, event any) error {
		evt, ok := event.(commandsevents.CommandAcked)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		logger.Printf("command acked: sn=%s id=%s return=%d", evt.SerialNumber, evt.CommandID, evt.ReturnCode)
		return nil
	})
	bus.Subscribe(eventing.EventTypeOf[commandsevents.CommandFailed](), func(_ context.Context, event any) error {
		evt, ok := event.(commandsevents.CommandFailed)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		logger.Printf("command failed: sn=%s id=%s reason=%s", evt.SerialNumber, evt.CommandID, evt.Reason)
		return nil
	})

	registry := devicesapp.NewRegistry()
	dialer := directlink.NewTCPDialer(cfg.DirectTimeout)

	discoveryCfg, err := discovery.LoadConfig()
	if err != nil {
		logger.Fatalf("discovery config error: %v", err)
	}
	scanner, err := discovery.NewScanner(discoveryCfg, dialer, logger)
	if err != nil {
		logger.Fatalf("discovery scanner error: %v", err)
	}
	if len(discoveryCfg.Subnets) > 0 {
		go func() {
			for {
				if found, err := scanner.Scan(context.Background()); err != nil {
					logger.Printf("discovery scan error: %v", err)
				} else {
					logger.Printf("discovery scan found %d device(s)", found)
				}
				if discoveryCfg.Interval <= 0 {
					return
				}
				time.Sleep(discoveryCfg.Interval)
			}
		}()
	}

	arbiter, err := devicesapp.NewArbiter(dialer, scanner, cfg.DirectTimeout, logger)
	if err != nil {
		logger.Fatalf("arbiter error: %v", err)
	}

	pushService, err := pushapp.NewService(registry, arbiter, bus, logger,
		pushapp.WithLogPullInterval(cfg.LogPullInterval),
		pushapp.WithCommandTimeout(cfg.CommandTimeout),
	)
	if err != nil {
		logger.Fatalf("push service error: %v", err)
	}
	if cfg.CommandTimeout > 0 {
		go func() {
			ticker := time.NewTicker(cfg.CommandTimeout / 2)
			defer ticker.Stop()
			for range ticker.C {
				if n := pushService.SweepTimeouts(context.Background()); n > 0 {
					logger.Printf("command sweep failed %d stuck command(s)", n)
				}
			}
		}()
	}
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			pushService.UpdateDeviceGauges()
		}
	}()

	var recordsService *recordsapp.Service
	if db != nil {
		store, err := recordsrepo.NewStore(db)
		if err != nil {
			logger.Fatalf("record store error: %v", err)
		}
		recordsService, err = recordsapp.NewService(store, logger)
		if err != nil {
			logger.Fatalf("records service error: %v", err)
		}
	}

	var ingestor pushhttp.RecordIngestor
	if recordsService != nil {
		ingestor = recordsService
	}
	pushHandler, err := pushhttp.NewHandler(pushService, ingestor, logger)
	if err != nil {
		logger.Fatalf("push handler error: %v", err)
	}

	commandService, err := commandsapp.NewService(registry, bus, logger, cfg.KeepAcked)
	if err != nil {
		logger.Fatalf("command service error: %v", err)
	}
	commandHandler, err := commandshttp.NewHandler(commandService, auditRepo)
	if err != nil {
		logger.Fatalf("command handler error: %v", err)
	}

	deviceHandler, err := deviceshttp.NewHandler(registry, arbiter, auditRepo, logger)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}

	scanHandler, err := apihttp.NewScanHandler(scanner, logger)
	if err != nil {
		logger.Fatalf("scan handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/iclock/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	pushHandler.Register(mux)
	commandHandler.Register(mux)
	deviceHandler.Register(mux)
	if recordsService != nil {
		recordsHandler, err := recordshttp.NewHandler(recordsService, auditRepo, logger)
		if err != nil {
			logger.Fatalf("records handler error: %v", err)
		}
		recordsHandler.Register(mux)
	}
	var counter apihttp.RecordCounter
	if recordsService != nil {
		counter = recordsService
	}
	mux.Handle("/api/v1/stats", apihttp.NewStatsHandler(registry, counter))
	mux.Handle("/api/v1/discovery/scan", scanHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", apihttp.HealthHandler())

	handler := loggingMiddleware(auth.RequestID(authMiddleware.Wrap(mux)), logger)
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL     string
	HTTPAddr        string
	JWTSecret       string
	LogPullInterval time.Duration
	CommandTimeout  time.Duration
	DirectTimeout   time.Duration
	KeepAcked       int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:       getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		LogPullInterval: getenvDuration("LOG_PULL_INTERVAL", 5*time.Minute),
		CommandTimeout:  getenvDuration("COMMAND_TIMEOUT", 0),
		DirectTimeout:   getenvDuration("DIRECT_TIMEOUT", 5*time.Second),
		KeepAcked:       getenvIntDefault("COMMAND_KEEP_ACKED", 100),
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
