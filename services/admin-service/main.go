package main

import (
	"context"
	"time"

	"complaint-portal/pkg/auth"
	"complaint-portal/pkg/blob"
	"complaint-portal/pkg/config"
	"complaint-portal/pkg/database"
	"complaint-portal/pkg/events"
	"complaint-portal/pkg/lifecycle"
	"complaint-portal/pkg/live"
	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/queue"
	"complaint-portal/pkg/server"
	"complaint-portal/pkg/store"
	"complaint-portal/pkg/supervisor"
	"complaint-portal/services/admin-service/handlers"

	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	cfg, err := config.Load("admin-service", 8082)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: cfg.Service})

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open document store")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(closeCtx)
	}()

	db, err := database.ConnectPostgres(cfg.Postgres.DSN)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	rdb, err := database.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	provider, err := auth.NewProvider(db, auth.NewRedisSessionStore(rdb), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to start auth provider")
	}
	gate := auth.NewGate(provider, st)

	conn, ch, err := queue.ConnectRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer conn.Close()
	defer ch.Close()
	publisher, err := events.NewRabbitPublisher(ch, cfg.RabbitMQ.Queue)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to declare event queue")
	}

	proofs, err := blob.NewMinioStore(ctx, cfg.MinIO)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to object storage")
	}

	hub := live.NewHub(st, cfg.Security.CORSOrigins)

	r := server.NewRouter(cfg.Service, cfg.Security, map[string]server.Check{
		"store": st.Ping,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"queue": func(context.Context) error {
			if conn.IsClosed() {
				return amqp.ErrClosed
			}
			return nil
		},
	})
	handlers.New(handlers.Deps{
		Complaints:  st,
		Authorities: st,
		Controller:  lifecycle.NewController(st, st, publisher, proofs),
		Registrar:   gate,
		Live:        hub,
	}).Mount(r, provider, gate)

	httpSvc := supervisor.NewHTTPService(server.NewHTTPServer(cfg.Server, r), cfg.Server.Timeout)
	if err := supervisor.Run(cfg.Service, httpSvc, hub); err != nil {
		logging.Error().Err(err).Msg("admin service stopped")
	}
}
