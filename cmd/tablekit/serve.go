package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tablekit/tablekit/cache"
	"github.com/tablekit/tablekit/engine"
	"github.com/tablekit/tablekit/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configured resources over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "tablekit.yaml", "server configuration file")
	serveCmd.Flags().String("resources", "resources.yaml", "resource definition file")
}

// serverConfig is read through viper; every key can also come from the
// TABLEKIT_* environment
type serverConfig struct {
	Addr   string
	Driver string
	DSN    string

	JWTSecret string

	CacheBackend string
	CacheTTL     time.Duration
	CacheSWR     time.Duration
	RedisAddr    string

	EstimateThreshold int64
}

func loadServerConfig(path string) (*serverConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TABLEKIT")
	// nested keys map to TABLEKIT_CACHE_TTL and friends
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("driver", "pgx")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.swr", "60s")
	v.SetDefault("count.estimateThreshold", 10000)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, err
		}
	}

	return &serverConfig{
		Addr:              v.GetString("addr"),
		Driver:            v.GetString("driver"),
		DSN:               v.GetString("dsn"),
		JWTSecret:         v.GetString("auth.jwtSecret"),
		CacheBackend:      v.GetString("cache.backend"),
		CacheTTL:          v.GetDuration("cache.ttl"),
		CacheSWR:          v.GetDuration("cache.swr"),
		RedisAddr:         v.GetString("cache.redisAddr"),
		EstimateThreshold: v.GetInt64("count.estimateThreshold"),
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	resourcePath, _ := cmd.Flags().GetString("resources")

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := loadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry, err := LoadResources(resourcePath)
	if err != nil {
		return fmt.Errorf("loading resources: %w", err)
	}

	dialect, err := engine.ParseDialect(cfg.Driver)
	if err != nil {
		return err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	eng := engine.NewWithConfig(db, registry, engine.Config{
		Dialect:           dialect,
		Logger:            logger,
		EstimateThreshold: cfg.EstimateThreshold,
	})

	executor, cleanup, err := buildExecutor(eng, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var extract web.ContextExtractor
	if cfg.JWTSecret != "" {
		extract = web.NewTokenVerifier(cfg.JWTSecret).Extract
	}

	handler := web.NewHandler(executor, registry, extract, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Routes(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Strings("resources", registry.Names()))
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return server.Shutdown(ctx)
}

// buildExecutor wires the cache decorator around the engine per
// configuration. The cleanup closes whatever store was opened.
func buildExecutor(eng *engine.Engine, cfg *serverConfig, logger *zap.Logger) (engine.Executor, func(), error) {
	execCfg := cache.ExecutorConfig{
		TTL:    cfg.CacheTTL,
		SWR:    cfg.CacheSWR,
		Logger: logger,
	}

	switch cfg.CacheBackend {
	case "none":
		return eng, func() {}, nil
	case "memory":
		store := cache.NewMemoryStore()
		return cache.NewCachedExecutor(eng, store, execCfg), func() { store.Close() }, nil
	case "redis":
		store, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:   cfg.RedisAddr,
			Config: cache.DefaultConfig(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return cache.NewCachedExecutor(eng, store, execCfg), func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend: %s", cfg.CacheBackend)
	}
}
