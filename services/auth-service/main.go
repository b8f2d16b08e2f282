package main

import (
	"context"
	"time"

	"complaint-portal/pkg/auth"
	"complaint-portal/pkg/config"
	"complaint-portal/pkg/database"
	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/server"
	"complaint-portal/pkg/store"
	"complaint-portal/pkg/supervisor"
	"complaint-portal/services/auth-service/handlers"
)

func main() {
	cfg, err := config.Load("auth-service", 8081)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: cfg.Service})

	ctx := context.Background()

	db, err := database.ConnectPostgres(cfg.Postgres.DSN)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	rdb, err := database.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open document store")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(closeCtx)
	}()

	provider, err := auth.NewProvider(db, auth.NewRedisSessionStore(rdb), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to start auth provider")
	}
	unsubscribe := provider.OnAuthStateChange(func(ev auth.AuthEvent) {
		logging.Info().Str("user_id", ev.Identity.UserID).Bool("signed_in", ev.SignedIn).Msg("auth state changed")
	})
	defer unsubscribe()

	r := server.NewRouter(cfg.Service, cfg.Security, map[string]server.Check{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"store": st.Ping,
	})
	handlers.New(auth.NewGate(provider, st)).Mount(r, cfg.Security.RateLimitReqs, cfg.Security.RateLimitWindow)

	httpSvc := supervisor.NewHTTPService(server.NewHTTPServer(cfg.Server, r), cfg.Server.Timeout)
	if err := supervisor.Run(cfg.Service, httpSvc); err != nil {
		logging.Error().Err(err).Msg("auth service stopped")
	}
}
