package main

import (
	"context"
	"net/http"
	"time"

	"complaint-portal/pkg/config"
	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/push"
	"complaint-portal/pkg/response"
	"complaint-portal/pkg/server"
	"complaint-portal/pkg/store"
	"complaint-portal/pkg/supervisor"
	"complaint-portal/services/dispatcher-service/dispatcher"
)

func main() {
	cfg, err := config.Load("dispatcher-service", 8083)
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

	var sender push.Sender = push.LogSender{}
	if cfg.Push.Provider == config.PushFCM {
		fcm, err := push.NewFCMSender(ctx, cfg.Push.CredentialsFile)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to initialise FCM")
		}
		sender = fcm
	}
	breaker := push.NewBreakerSender(sender, push.BreakerConfig{
		Name:             "push-" + cfg.Push.Provider,
		FailureThreshold: cfg.Push.BreakerFailures,
		Timeout:          cfg.Push.BreakerTimeout,
	})
	fanout := push.NewFanout(st, breaker)

	r := server.NewRouter(cfg.Service, cfg.Security, map[string]server.Check{"store": st.Ping})
	r.Get("/breaker", func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"state": breaker.State()})
	})

	err = supervisor.Run(cfg.Service,
		supervisor.NewHTTPService(server.NewHTTPServer(cfg.Server, r), cfg.Server.Timeout),
		dispatcher.NewTrigger(st, fanout),
		dispatcher.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, fanout),
	)
	if err != nil {
		logging.Error().Err(err).Msg("dispatcher service stopped")
	}
}
