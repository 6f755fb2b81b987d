package main // Entry point package

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/custom-gpt-portal/internal/config"
	"github.com/iliyamo/custom-gpt-portal/internal/database"
	"github.com/iliyamo/custom-gpt-portal/internal/handler"
	"github.com/iliyamo/custom-gpt-portal/internal/logging"
	"github.com/iliyamo/custom-gpt-portal/internal/middleware"
	"github.com/iliyamo/custom-gpt-portal/internal/queue"
	"github.com/iliyamo/custom-gpt-portal/internal/repository"
	"github.com/iliyamo/custom-gpt-portal/internal/router"
	"github.com/iliyamo/custom-gpt-portal/internal/service"
	"github.com/iliyamo/custom-gpt-portal/internal/strategy"
	"github.com/iliyamo/custom-gpt-portal/internal/utils"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil { // optional local overrides
		slog.Warn("dotenv", "error", err)
	}
	cfg := config.MustLoad() // missing secrets stop the process here

	log := logging.New(cfg.LogLevel, cfg.Production)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	users, closeStore, err := openUserStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis is optional unless the refresh allow-list needs it.
	rdb, err := config.NewRedisClient(ctx, config.LoadRedisConfig())
	if err != nil {
		if cfg.RefreshAllowlist {
			return err
		}
		log.Warn("redis unavailable; rate limiting disabled", "error", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	events := openPublisher(cfg, log)
	defer events.Close()
	if cfg.EventsEnabled {
		go func() {
			if err := queue.StartAuthConsumer(ctx, cfg.RabbitURL, cfg.EventLogDir, log); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("auth event consumer stopped", "error", err)
			}
		}()
	}

	issuer, err := utils.NewTokenIssuer(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		return err
	}
	cookies := utils.NewCookieManager(cfg.RefreshCookieName, cfg.Production, cfg.RefreshTTL)
	local, err := strategy.NewLocal(users, cfg.BcryptCost)
	if err != nil {
		return err
	}

	auth := &handler.AuthHandler{
		Users:       users,
		Issuer:      issuer,
		Cookies:     cookies,
		Local:       local,
		Events:      events,
		FrontendURL: cfg.FrontendURL,
		BcryptCost:  cfg.BcryptCost,
	}
	if cfg.Google.Enabled() {
		auth.Google = strategy.NewGoogle(strategy.GoogleOptions{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			CallbackURL:  cfg.Google.CallbackURL,
			BcryptCost:   cfg.BcryptCost,
		}, users, cookies)
	} else {
		log.Info("google sign-in disabled")
	}
	if cfg.RefreshAllowlist {
		auth.Allowlist = repository.NewTokenRepo(rdb)
	}

	deps := map[string]handler.Pinger{"users": users}
	if rdb != nil {
		deps["redis"] = redisPinger{rdb}
	}

	e := router.New(log, cfg.CORSOrigins)
	guard := middleware.NewGuard(issuer, users, cfg.AccessCookieName)
	router.RegisterRoutes(e, deps)
	router.RegisterAuth(e, auth, guard, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	router.RegisterAdmin(e, handler.NewAdminHandler(users), guard)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "env", cfg.Env, "store", cfg.UserStore)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openUserStore connects the backend chosen by USER_STORE.
func openUserStore(ctx context.Context, cfg config.Config, log *slog.Logger) (repository.UserStore, func(), error) {
	switch cfg.UserStore {
	case config.StoreMySQL:
		db, err := database.OpenMySQL(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, nil, err
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repository.NewUserRepo(db), func() { db.Close() }, nil

	case config.StoreMemory:
		log.Warn("using in-memory user store; accounts are lost on restart")
		return repository.NewMemoryUserRepo(), func() {}, nil

	default:
		client, db, err := database.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewMongoUserRepo(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil
	}
}

func openPublisher(cfg config.Config, log *slog.Logger) service.Publisher {
	if !cfg.EventsEnabled {
		return service.NopPublisher{}
	}
	p, err := service.NewAMQPPublisher(cfg.RabbitURL)
	if err != nil {
		log.Warn("rabbitmq unavailable; auth events not published", "error", err)
		return service.NopPublisher{}
	}
	return p
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
