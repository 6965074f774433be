// Command mfad runs the goMFA engine as a standalone HTTP service.
//
// Configuration comes from a TOML file (default mfad.toml, override with
// -config) plus environment variables for secrets. A .env file in the
// working directory is loaded first when present.
//
// Environment:
//
//	GOMFA_HMAC_SECRET      hs256 signing secret (required for hs256)
//	GOMFA_REDIS_PASSWORD   overrides [redis] password
//
// Run:
//
//	go run ./cmd/mfad -config mfad.toml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/MrEthical07/goMFA/httpapi"
	"github.com/MrEthical07/goMFA/matchers"
	"github.com/MrEthical07/goMFA/metrics/export/prometheus"
	"github.com/MrEthical07/goMFA/providers/sqlite"
)

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type fileConfig struct {
	Server struct {
		ListenAddr        string   `toml:"listen_addr"`
		MetricsAddr       string   `toml:"metrics_addr"`
		AllowedOrigins    []string `toml:"allowed_origins"`
		RequestTimeout    duration `toml:"request_timeout"`
		RequestsPerSecond float64  `toml:"requests_per_second"`
		RequestBurst      int      `toml:"request_burst"`
		Development       bool     `toml:"development"`
	} `toml:"server"`

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	} `toml:"redis"`

	Storage struct {
		SQLiteDSN string `toml:"sqlite_dsn"`
	} `toml:"storage"`

	JWT struct {
		SigningMethod  string   `toml:"signing_method"`
		Issuer         string   `toml:"issuer"`
		Audience       string   `toml:"audience"`
		AccessTTL      duration `toml:"access_ttl"`
		RefreshTTL     duration `toml:"refresh_ttl"`
		PrivateKeyFile string   `toml:"private_key_file"`
		PublicKeyFile  string   `toml:"public_key_file"`
	} `toml:"jwt"`

	Engine struct {
		ProductionMode bool `toml:"production_mode"`
	} `toml:"engine"`
}

func main() {
	configPath := flag.String("config", "mfad.toml", "path to TOML config file")
	flag.Parse()

	_ = godotenv.Load()

	var fc fileConfig
	if _, err := toml.DecodeFile(*configPath, &fc); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(fc.Server.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(fc, logger); err != nil {
		logger.Fatal("mfad exited", zap.Error(err))
	}
}

func buildLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(fc fileConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := engineConfig(fc)
	if err != nil {
		return err
	}

	dsn := fc.Storage.SQLiteDSN
	if dsn == "" {
		dsn = "mfad.db"
	}
	provider, err := sqlite.Open(dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = provider.Close() }()

	redisPassword := fc.Redis.Password
	if env := os.Getenv("GOMFA_REDIS_PASSWORD"); env != "" {
		redisPassword = env
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fc.Redis.Addr,
		Password: redisPassword,
		DB:       fc.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	engine, err := goMFA.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(provider).
		WithMatchers(goMFA.Matchers{
			Face:      matchers.NewCosineMatcher(),
			Voice:     matchers.NewCosineMatcher(),
			Gesture:   matchers.NewTraceMatcher(),
			Keystroke: matchers.NewTimingMatcher(),
		}).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	server := httpapi.NewServer(engine, logger, httpapi.Options{
		AllowedOrigins:    fc.Server.AllowedOrigins,
		RequestTimeout:    fc.Server.RequestTimeout.Duration,
		RequestsPerSecond: fc.Server.RequestsPerSecond,
		RequestBurst:      fc.Server.RequestBurst,
	})

	listenAddr := fc.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	apiServer := &http.Server{
		Addr:              listenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("api listening", zap.String("addr", listenAddr))
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var metricsServer *http.Server
	if fc.Server.MetricsAddr != "" {
		exporter := prometheus.NewPrometheusExporter(engine)
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		metricsServer = &http.Server{
			Addr:              fc.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		group.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", fc.Server.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		shutdownErr := apiServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); shutdownErr == nil {
				shutdownErr = err
			}
		}
		return shutdownErr
	})

	return group.Wait()
}

func engineConfig(fc fileConfig) (goMFA.Config, error) {
	cfg := goMFA.DefaultConfig()
	cfg.Security.ProductionMode = fc.Engine.ProductionMode

	if fc.JWT.SigningMethod != "" {
		cfg.JWT.SigningMethod = fc.JWT.SigningMethod
	}
	if fc.JWT.Issuer != "" {
		cfg.JWT.Issuer = fc.JWT.Issuer
	}
	if fc.JWT.Audience != "" {
		cfg.JWT.Audience = fc.JWT.Audience
	}
	if fc.JWT.AccessTTL.Duration > 0 {
		cfg.JWT.AccessTTL = fc.JWT.AccessTTL.Duration
	}
	if fc.JWT.RefreshTTL.Duration > 0 {
		cfg.JWT.RefreshTTL = fc.JWT.RefreshTTL.Duration
	}

	switch cfg.JWT.SigningMethod {
	case "hs256":
		secret := os.Getenv("GOMFA_HMAC_SECRET")
		if secret == "" {
			return goMFA.Config{}, errors.New("hs256 requires GOMFA_HMAC_SECRET")
		}
		cfg.JWT.HMACSecret = []byte(secret)
	case "ed25519":
		if fc.JWT.PrivateKeyFile == "" || fc.JWT.PublicKeyFile == "" {
			return goMFA.Config{}, errors.New("ed25519 requires private_key_file and public_key_file")
		}
		priv, err := os.ReadFile(fc.JWT.PrivateKeyFile)
		if err != nil {
			return goMFA.Config{}, fmt.Errorf("read private key: %w", err)
		}
		pub, err := os.ReadFile(fc.JWT.PublicKeyFile)
		if err != nil {
			return goMFA.Config{}, fmt.Errorf("read public key: %w", err)
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	default:
		return goMFA.Config{}, fmt.Errorf("unsupported signing method %q", cfg.JWT.SigningMethod)
	}

	return cfg, nil
}
