// Command bomforge is the BOM enrichment orchestrator's entry point,
// wiring tenant auth, the supplier gateway, the audit sink, the catalog,
// the snapshot sync worker, and the workflow engine into a running
// process. Flag-dispatched: default to the server, with explicit
// subcommands for health checks.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/bomforge/core/pkg/aiprovider"
	"github.com/Mindburn-Labs/bomforge/core/pkg/audit"
	"github.com/Mindburn-Labs/bomforge/core/pkg/audit/fielddiff"
	"github.com/Mindburn-Labs/bomforge/core/pkg/blobstore"
	"github.com/Mindburn-Labs/bomforge/core/pkg/bomstore"
	"github.com/Mindburn-Labs/bomforge/core/pkg/breaker"
	"github.com/Mindburn-Labs/bomforge/core/pkg/catalog"
	"github.com/Mindburn-Labs/bomforge/core/pkg/config"
	"github.com/Mindburn-Labs/bomforge/core/pkg/eventbus"
	"github.com/Mindburn-Labs/bomforge/core/pkg/eventbus/dispatch"
	"github.com/Mindburn-Labs/bomforge/core/pkg/idempotency"
	"github.com/Mindburn-Labs/bomforge/core/pkg/lock"
	"github.com/Mindburn-Labs/bomforge/core/pkg/observability"
	"github.com/Mindburn-Labs/bomforge/core/pkg/ratelimit"
	"github.com/Mindburn-Labs/bomforge/core/pkg/snapshot"
	"github.com/Mindburn-Labs/bomforge/core/pkg/supplier"
	"github.com/Mindburn-Labs/bomforge/core/pkg/supplier/digikey"
	"github.com/Mindburn-Labs/bomforge/core/pkg/supplier/element14"
	"github.com/Mindburn-Labs/bomforge/core/pkg/supplier/mouser"
	"github.com/Mindburn-Labs/bomforge/core/pkg/workflow/engine"
	"github.com/Mindburn-Labs/bomforge/core/pkg/workflow/history"

	"github.com/redis/go-redis/v9"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow substitution in tests.
var startServer = runServer

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "bomforge - BOM Enrichment Orchestrator")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  bomforge [server|serve]   run the enrichment worker (default)")
	fmt.Fprintln(w, "  bomforge health           check a running instance's health endpoint")
	fmt.Fprintln(w, "  bomforge help             show this message")
}

func runHealthCmd(out, errOut io.Writer) int {
	resp, err := http.Get("http://localhost:8081/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(out, "OK")
	return 0
}

// runServer wires the whole pipeline into a running process: consumer
// loops drain the four platform streams into the dispatcher, the
// snapshot sync worker mirrors the staging cache, a small HTTP listener
// serves /health, and the main goroutine blocks on a shutdown signal.
func runServer() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "DEBUG" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("bomforge starting")

	telemetry, err := observability.New(ctx, telemetryConfig())
	if err != nil {
		log.Fatalf("bomforge: init telemetry: %v", err)
	}
	defer func() { _ = telemetry.Shutdown(context.Background()) }()

	db, err := sql.Open(sqlDriverFor(cfg.DatabaseURL), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bomforge: connect database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("bomforge: ping database: %v", err)
	}
	logger.Info("database: connected")

	redisClient := redis.NewClient(asRedisOptions(cfg.RedisURL))
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("bomforge: connect redis: %v", err)
	}
	logger.Info("redis: connected")

	// Durable stores, initialized in dependency order.
	configStore := config.NewPostgresStore(db)
	if err := configStore.Init(ctx); err != nil {
		log.Fatalf("bomforge: init config store: %v", err)
	}
	configCache := config.NewCache(configStore)

	boms := bomstore.NewStore(db)
	if err := boms.Init(ctx); err != nil {
		log.Fatalf("bomforge: init bom store: %v", err)
	}

	cat := catalog.NewPostgresCatalog(db)
	if err := cat.Init(ctx); err != nil {
		log.Fatalf("bomforge: init catalog: %v", err)
	}

	workflowLog := history.NewPostgresLog(db)
	if err := workflowLog.Init(ctx); err != nil {
		log.Fatalf("bomforge: init workflow history: %v", err)
	}

	idemStore := idempotency.NewPostgresStore(db, time.Hour)
	if err := idemStore.Init(ctx); err != nil {
		log.Fatalf("bomforge: init idempotency store: %v", err)
	}

	snapStore := snapshot.NewPostgresStore(db)
	if err := snapStore.Init(ctx); err != nil {
		log.Fatalf("bomforge: init snapshot store: %v", err)
	}

	lockStore := lock.NewRedisStore(redisClient)
	snapWriter := snapshot.NewWriter(redisClient)

	blobs, err := blobstore.NewS3Store(ctx, blobstore.S3StoreConfig{Bucket: cfg.S3Bucket})
	if err != nil {
		log.Fatalf("bomforge: init blob store: %v", err)
	}
	sink := audit.NewSink(blobs)
	fieldDiff := fielddiff.NewWorker(blobs)

	bus, err := eventbus.Connect(cfg.AMQPURL)
	if err != nil {
		log.Fatalf("bomforge: connect eventbus: %v", err)
	}
	defer bus.Close()

	gateway := buildSupplierGateway()
	aiRegistry := aiprovider.NewRegistry()

	tunables, err := configCache.Snapshot(ctx)
	if err != nil {
		log.Fatalf("bomforge: invalid tunables at startup: %v", err)
	}
	logger.Info("tunables loaded", "batch_size", tunables.BatchSize, "quality_threshold", tunables.QualityThreshold)

	activities := &engine.DefaultActivities{
		Gateway:     gateway,
		AIProviders: aiRegistry,
		Catalog:     cat,
		Sink:        sink,
		Snapshot:    snapWriter,
		Repo:        boms,
		LockStore:   lockStore,
		Publisher:   bus,
		Telemetry:   telemetry,
		Tunables:    tunables,
	}
	eng := engine.New(workflowLog, lockStore, activities, tunables.BatchSize)

	dispatcher, err := dispatch.New(eng, boms, configCache, idemStore, fieldDiff)
	if err != nil {
		log.Fatalf("bomforge: build dispatcher: %v", err)
	}
	dispatcher.WithPromoter(snapshot.NewPromoter(snapStore, cat))

	// One consumer loop per platform stream; each reconnects on its own.
	consume := func(key eventbus.RoutingKey, group string, handle func(context.Context, eventbus.Envelope) error) {
		dedup := eventbus.NewDedup(10000)
		go eventbus.ConsumeLoop(ctx, bus, key, group, dedup, func(env eventbus.Envelope) error {
			return handle(ctx, env)
		})
	}
	consume(eventbus.RoutingBOM, "enrichment-worker", dispatcher.HandleBOMEvent)
	consume(eventbus.RoutingAdmin, "enrichment-worker", dispatcher.HandleAdminEvent)
	consume(eventbus.RoutingEnrichment, "component-worker", dispatcher.HandleComponentEvent)
	consume(eventbus.RoutingAudit, "fielddiff-worker", dispatcher.HandleAuditEvent)
	logger.Info("consumers attached", "streams", 4)

	syncWorker := snapshot.NewWorker(redisClient, snapStore, lockStore)
	go syncWorker.Run(ctx)
	logger.Info("snapshot sync worker started")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	go func() {
		logger.Info("health server listening", "addr", ":8081")
		//nolint:gosec // internal health endpoint only
		if err := http.ListenAndServe(":8081", mux); err != nil {
			logger.Error("health server failed", "error", err)
		}
	}()

	logger.Info("bomforge ready")
	<-ctx.Done()
	logger.Info("bomforge shutting down")
}

func telemetryConfig() *observability.Config {
	c := observability.DefaultConfig()
	if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
		c.OTLPEndpoint = endpoint
	} else {
		c.Enabled = false
	}
	if env := os.Getenv("DEPLOY_ENV"); env != "" {
		c.Environment = env
	}
	c.Insecure = os.Getenv("OTLP_INSECURE") == "true"
	return c
}

// sqlDriverFor picks lib/pq for postgres URLs and the pure-Go sqlite
// driver for file DSNs, so a laptop run needs no Postgres.
func sqlDriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "file:") || strings.HasSuffix(dsn, ".db") {
		return "sqlite"
	}
	return "postgres"
}

func buildSupplierGateway() *supplier.Gateway {
	quotas := map[string]ratelimit.Quota{
		"mouser":    {PerMinute: 30, Burst: 5},
		"digikey":   {PerMinute: 60, Burst: 10},
		"element14": {PerMinute: 20, Burst: 5},
	}
	limiter := ratelimit.NewInMemoryLimiter(func(key string) *ratelimit.TokenBucket {
		q, ok := quotas[key]
		if !ok {
			return ratelimit.NewTokenBucket(30)
		}
		return ratelimit.NewTokenBucket(q.PerMinute)
	})

	gw := supplier.NewGateway(limiter, 3, time.Second)
	breakerCfg := breaker.Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 60 * time.Second}

	if apiKey := os.Getenv("MOUSER_API_KEY"); apiKey != "" {
		gw.Register(mouser.New(apiKey), supplier.TierPrimary, breakerCfg)
	}
	if clientID, token := os.Getenv("DIGIKEY_CLIENT_ID"), os.Getenv("DIGIKEY_BEARER_TOKEN"); clientID != "" && token != "" {
		gw.Register(digikey.New(clientID, token), supplier.TierSecondary, breakerCfg)
	}
	if apiKey, store := os.Getenv("ELEMENT14_API_KEY"), os.Getenv("ELEMENT14_STORE_CODE"); apiKey != "" {
		gw.Register(element14.New(apiKey, store), supplier.TierFallback, breakerCfg)
	}
	return gw
}

func asRedisOptions(url string) *redis.Options {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return &redis.Options{Addr: "localhost:6379"}
	}
	return opts
}
