package main

import (
	"context"
	"time"

	"complaint-portal/pkg/config"
	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/server"
	"complaint-portal/pkg/store"
	"complaint-portal/pkg/supervisor"
	"complaint-portal/services/notification-service/handlers"
)

func main() {
	cfg, err := config.Load("notification-service", 8084)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: cfg.Service})

	st, err := store.Open(context.Background(), cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open document store")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(ctx)
	}()

	r := server.NewRouter(cfg.Service, cfg.Security, map[string]server.Check{"store": st.Ping})
	handlers.New(st).Mount(r, cfg.Security.RateLimitReqs, cfg.Security.RateLimitWindow)

	httpSvc := supervisor.NewHTTPService(server.NewHTTPServer(cfg.Server, r), cfg.Server.Timeout)
	if err := supervisor.Run(cfg.Service, httpSvc); err != nil {
		logging.Error().Err(err).Msg("notification service stopped")
	}
}
