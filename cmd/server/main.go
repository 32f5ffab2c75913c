package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-livehub/internal/api"
	"github.com/npezzotti/go-livehub/internal/config"
	"github.com/npezzotti/go-livehub/internal/database"
	"github.com/npezzotti/go-livehub/internal/presence"
	"github.com/npezzotti/go-livehub/internal/server"
	"github.com/npezzotti/go-livehub/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

var (
	addr           string
	driver         string
	dsn            string
	signingKey     string
	redisURL       string
	initTimeout    time.Duration
	sendBuffer     int
	maxMessageSize int
	allowedOrigins stringSliceFlag
)

func main() {
	logger := log.New(os.Stderr, "[livehub] ", log.LstdFlags)

	// a missing .env file is fine; the environment may be set another way
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("load .env:", err)
	}

	flag.StringVar(&addr, "addr", envOr("LIVEHUB_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&driver, "db-driver", envOr("LIVEHUB_DB_DRIVER", database.DriverSqlite), "message store driver (postgres, sqlite3, memory)")
	flag.StringVar(&dsn, "dsn", envOr("LIVEHUB_DSN", "file:livehub.db?_foreign_keys=on"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("LIVEHUB_SIGNING_KEY", ""), "base64 encoded token signing key, empty disables auth")
	flag.StringVar(&redisURL, "redis-url", envOr("LIVEHUB_REDIS_URL", ""), "redis url for the presence mirror, empty disables it")
	flag.DurationVar(&initTimeout, "init-timeout", envDurationOr("LIVEHUB_INIT_TIMEOUT", config.DefaultInitTimeout), "how long a connection may stay unregistered, 0 disables")
	flag.IntVar(&sendBuffer, "send-buffer", envIntOr("LIVEHUB_SEND_BUFFER", config.DefaultSendBufferSize), "outbound events buffered per connection")
	flag.IntVar(&maxMessageSize, "max-message-size", envIntOr("LIVEHUB_MAX_MESSAGE_SIZE", config.DefaultMaxMessageSize), "largest inbound frame in bytes")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := os.Getenv("LIVEHUB_ALLOWED_ORIGINS"); v != "" {
			allowedOrigins.Set(v)
		}
	}

	cfg, err := config.NewConfig(addr, driver, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config: ", err)
	}
	cfg.RedisURL = redisURL
	cfg.InitTimeout = initTimeout
	cfg.SendBufferSize = sendBuffer
	cfg.MaxMessageSize = int64(maxMessageSize)
	cfg.WithDefaults()

	if len(cfg.SigningKey) == 0 {
		logger.Println("no signing key configured, websocket connections are not authenticated")
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open: ", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	opts := []server.Option{
		server.WithInitTimeout(cfg.InitTimeout),
		server.WithSendBufferSize(cfg.SendBufferSize),
		server.WithMaxMessageSize(cfg.MaxMessageSize),
	}

	var mirror *presence.RedisPresence
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := presence.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			cancel()
			logger.Fatal("redis: ", err)
		}
		defer rdb.Close()

		mirror = presence.NewRedisPresence(rdb, presence.DefaultKey)
		if err := mirror.Reset(ctx); err != nil {
			logger.Println("reset presence mirror:", err)
		}
		cancel()

		opts = append(opts, server.WithPresenceMirror(mirror))
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	hub := server.NewHub(logger, db, statsUpdater, opts...)

	app := api.NewHubApp(mux, logger, hub, db, cfg)
	if mirror != nil {
		app.WithPresence(mirror)
	}

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Println("shutdown:", err)
	}

	logger.Println("shutdown complete")
}
