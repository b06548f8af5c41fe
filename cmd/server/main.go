package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/smartcity/trafficcore/internal/delivery/http"
	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/internal/repository/memory"
	"github.com/smartcity/trafficcore/internal/repository/postgres"
	"github.com/smartcity/trafficcore/internal/repository/redis"
	"github.com/smartcity/trafficcore/internal/repository/sqlfile"
	"github.com/smartcity/trafficcore/internal/repository/sqlite"
	"github.com/smartcity/trafficcore/internal/service"
	"github.com/smartcity/trafficcore/internal/stepper/sandbox"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Configuration
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Dependency Injection: Repositories
	dataRepo := openRepository(ctx, cfg)
	defer dataRepo.Close()

	cache := openCache(ctx, cfg)
	defer cache.Close()

	// Simulation
	stepper, err := sandbox.Open(cfg.NetworkFile)
	if err != nil {
		log.Fatalf("[Start Up] Could not start simulation: %v", err)
	}
	defer stepper.Close()

	topology, err := service.BuildTopology(ctx, stepper, dataRepo, cfg.ControllerPrefix)
	if err != nil {
		log.Fatalf("[Start Up] Could not analyse network: %v", err)
	}

	// Dependency Injection: Services
	gate := service.NewGate()
	scheduler := service.NewTaskScheduler()
	events := service.NewEventManager(stepper)
	webhooks := service.NewWebhookNotifier(10 * time.Second)
	publisher := newPublisher(cfg, cache)

	loop := service.NewSimulationLoop(service.LoopDeps{
		Stepper:   stepper,
		Gate:      gate,
		Scheduler: scheduler,
		Events:    events,
		Topology:  topology,
		Publisher: publisher,
		Webhooks:  webhooks,
		Interval:  cfg.LoopInterval,
	})
	snapshots := service.NewSnapshotService(cache, loop, dataRepo, events)
	control := service.NewControlService(service.ControlDeps{
		Stepper:       stepper,
		Gate:          gate,
		Scheduler:     scheduler,
		Events:        events,
		Topology:      topology,
		Snapshots:     snapshots,
		Repo:          dataRepo,
		VerifyTimeout: cfg.VerifyTimeout,
	})

	if err := loop.Start(context.Background()); err != nil {
		log.Fatalf("[Start Up] Could not start simulation loop: %v", err)
	}

	// Fiber App
	app := http.NewApp(cfg.VerifyTimeout+5*time.Second, cfg.Env)

	// Routes
	http.SetupRoutes(app, snapshots, control)

	// Graceful shutdown
	go func() {
		port := cfg.Port
		if port == "" {
			port = "8080"
		}
		log.Printf("Server starting on :%s (%s)", port, cfg.Env)
		if err := app.Listen(":" + port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	loop.Stop()
	publisher.Close()
	webhooks.WaitBackground()
	control.WaitBackground()
	log.Println("Server exited gracefully")
}

// openRepository prefers PostgreSQL, then a local SQLite file, then memory.
// Without a database the flow relations come straight from the SQL dump.
func openRepository(ctx context.Context, cfg *Config) service.DataRepository {
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err == nil {
			err = pool.Ping(ctx)
		}
		if err == nil {
			log.Println("Connected to PostgreSQL")
			return postgres.NewPostgresRepository(pool)
		}
		log.Printf("Warning: Could not connect to database: %v", err)
		if pool != nil {
			pool.Close()
		}
	}

	dump := sqlfile.NewSource(cfg.RelationsFile)

	if cfg.SQLitePath != "" {
		repo, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Printf("Warning: Could not open SQLite database: %v", err)
		} else {
			seedSQLite(ctx, repo, dump)
			log.Printf("Using SQLite database at %s", cfg.SQLitePath)
			return repo
		}
	}

	log.Println("Running with in-memory event log only")
	return postgres.NewMockRepository(dump)
}

func seedSQLite(ctx context.Context, repo *sqlite.Repository, dump domain.RelationSource) {
	n, err := repo.CountRelations(ctx)
	if err != nil || n > 0 {
		return
	}
	rows, err := dump.LoadFlowRelations(ctx)
	if err != nil {
		log.Printf("Warning: Could not read flow relations dump: %v", err)
		return
	}
	if err := repo.ImportRelations(ctx, rows); err != nil {
		log.Printf("Warning: Could not import flow relations: %v", err)
		return
	}
	log.Printf("Imported %d flow relations into SQLite", len(rows))
}

func openCache(ctx context.Context, cfg *Config) service.SnapshotCache {
	if cfg.RedisAddr != "" {
		c, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			log.Println("Connected to Redis")
			return c
		}
		log.Printf("Warning: Could not connect to Redis: %v", err)
	}
	log.Println("Using in-memory snapshot cache")
	return memory.New()
}

func newPublisher(cfg *Config, cache service.SnapshotCache) service.SnapshotPublisher {
	if cfg.PublishMode == "queued" {
		return service.NewQueuedPublisher(cache, cfg.CacheTTL, cfg.PublishQueueSize)
	}
	return service.NewDirectPublisher(cache, cfg.CacheTTL)
}

type Config struct {
	Port             string
	Env              string
	DatabaseURL      string
	SQLitePath       string
	RelationsFile    string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	CacheTTL         time.Duration
	NetworkFile      string
	ControllerPrefix string
	LoopInterval     time.Duration
	VerifyTimeout    time.Duration
	PublishMode      string
	PublishQueueSize int
}

func loadConfig() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("GO_ENV", "development"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		SQLitePath:       getEnv("SQLITE_PATH", ""),
		RelationsFile:    getEnv("RELATIONS_SQL_FILE", "configs/junction_flow_relations.sql"),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		CacheTTL:         time.Duration(getEnvInt("CACHE_TTL_SECONDS", 600)) * time.Second,
		NetworkFile:      getEnv("SANDBOX_NETWORK_FILE", "configs/network.yaml"),
		ControllerPrefix: getEnv("CONTROLLER_PREFIX", service.DefaultControllerPrefix),
		LoopInterval:     time.Duration(getEnvInt("LOOP_INTERVAL_MS", 100)) * time.Millisecond,
		VerifyTimeout:    time.Duration(getEnvInt("VERIFY_TIMEOUT_SECONDS", 40)) * time.Second,
		PublishMode:      getEnv("PUBLISH_MODE", "direct"),
		PublishQueueSize: getEnvInt("PUBLISH_QUEUE_SIZE", 8),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: %s=%q is not a number, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
