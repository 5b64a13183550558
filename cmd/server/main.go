package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	echoapi "go.craftbench.dev/auth/api/echo"
	"go.craftbench.dev/auth/cache"
	redicache "go.craftbench.dev/auth/cache/redis"
	"go.craftbench.dev/auth/config"
	"go.craftbench.dev/auth/internal/auth"
	"go.craftbench.dev/auth/internal/federation"
	"go.craftbench.dev/auth/internal/metrics"
	"go.craftbench.dev/auth/log"
	"go.craftbench.dev/auth/mongodb"
	"go.craftbench.dev/auth/services"
	"go.craftbench.dev/auth/tracing"
)

var (
	appLogger      log.Logger
	tracerProvider *sdktrace.TracerProvider
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger = log.NewZerologAdapter(logLevel, cfg.LogPretty)
	ctx := context.Background()
	appLogger.Info(ctx, "Starting craftbench-auth server", map[string]interface{}{
		"http_port":     cfg.HTTPPort,
		"mongo_db_name": cfg.MongoDBName,
		"log_level":     cfg.LogLevel,
	})

	metrics.Init(prometheus.DefaultRegisterer)

	tracerProvider, err = tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err)
	}

	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		appLogger.Fatal(ctx, "Failed to initialize MongoDB connection", err)
	}
	db := mongodb.GetDB()

	// Repositories
	userRepo, err := mongodb.NewUserRepositoryMongo(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize user repository", err)
	}
	bindingRepo, err := mongodb.NewSSOBindingRepositoryMongo(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize SSO binding repository", err)
	}
	passkeyRepo, err := mongodb.NewPasskeyRepositoryMongo(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize passkey repository", err)
	}
	twoFactorRepo, err := mongodb.NewTwoFactorRepositoryMongo(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize two-factor repository", err)
	}
	tokenRepo, err := mongodb.NewTokenRepositoryMongo(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize token repository", err)
	}

	// Revocation cache: Redis when configured, in-memory otherwise.
	var revocations cache.RevocationStore
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			appLogger.Fatal(ctx, "Failed to connect to Redis", err)
		}
		revocations = redicache.NewRevocationStore(redisClient)
		appLogger.Info(ctx, "Using Redis revocation cache", map[string]interface{}{"addr": cfg.RedisAddr})
	} else {
		memStore := cache.NewMemoryRevocationStore()
		defer memStore.Stop()
		revocations = memStore
		appLogger.Info(ctx, "Using in-memory revocation cache")
	}

	// Identity providers
	providers := federation.NewService()
	if cfg.GithubClientID != "" {
		github, err := federation.NewGitHubProvider(federation.Config{
			ClientID:     cfg.GithubClientID,
			ClientSecret: cfg.GithubClientSecret,
			RedirectURL:  cfg.GithubRedirectURL,
		})
		if err != nil {
			appLogger.Fatal(ctx, "Failed to configure GitHub provider", err)
		}
		providers.Register(github)
	}
	if cfg.GoogleClientID != "" {
		google, err := federation.NewGoogleProvider(federation.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
		if err != nil {
			appLogger.Fatal(ctx, "Failed to configure Google provider", err)
		}
		providers.Register(google)
	}

	// Services
	signer := services.NewTokenSigner()
	signer.AddKey(cfg.JWTKeyID, []byte(cfg.JWTSecretKey))

	tokenService := services.NewTokenService(
		tokenRepo, userRepo, revocations, signer, cfg.TokenIssuer,
		time.Duration(cfg.AccessTokenTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTokenTTLHour)*time.Hour,
	)
	hasher := auth.NewBcryptPasswordHasher(cfg.BcryptCost)
	twoFactorService := services.NewTwoFactorService(twoFactorRepo, userRepo, tokenService, cfg.TokenIssuer)
	passkeyService := services.NewPasskeyService(
		passkeyRepo, userRepo, bindingRepo,
		time.Duration(cfg.ChallengeTTLMin)*time.Minute,
	)
	ssoService := services.NewSSOService(providers, bindingRepo, userRepo, passkeyRepo)
	loginService := services.NewLoginService(userRepo, hasher, tokenService, ssoService, passkeyService, twoFactorService)
	userService := services.NewUserService(userRepo, hasher, tokenService)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	api := echoapi.NewAuthAPI(loginService, tokenService, twoFactorService, passkeyService, ssoService, userService)
	api.RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(ctx, "HTTP server failed", err)
		}
	}()
	appLogger.Info(ctx, "HTTP server listening", map[string]interface{}{"port": cfg.HTTPPort})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info(ctx, "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown failed", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "TracerProvider shutdown failed", err)
	}
	mongodb.CloseMongoDB(shutdownCtx)
	appLogger.Info(ctx, "Shutdown complete")
}
