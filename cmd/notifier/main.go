// Command notifier listens to fault desk events on the MQTT broker, keeps the latest ones in
// memory and streams them to browsers.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voltguard/internal/config"
	"voltguard/internal/events"
	"voltguard/internal/notify"
	"voltguard/internal/sse"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("NOTIFIER_CONFIG"), "YAML config file")
	flag.Parse()

	cfg, err := config.LoadNotifier(*cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger, closeLog := config.SetupLogger(cfg.Logging, "notifier")
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Error("notifier stopped", "error", err)
		_ = closeLog()
		os.Exit(1)
	}
}

func run(cfg config.NotifierConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := sse.NewHub(logger)
	go hub.Run(ctx)
	svc := notify.New(cfg.EventBufferSize, hub, logger)

	client, err := events.ConnectMQTT(events.MQTTConfig{
		BrokerURL: cfg.MQTT.Broker,
		ClientID:  cfg.MQTT.ClientID,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	events.SubscribeMQTT(client, logger, svc.Handle, events.TopicAllRequests, events.TopicAllChat)

	srv := &http.Server{Addr: cfg.Addr, Handler: svc.Routes(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "mqtt", cfg.MQTT.Broker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("stopped")
	return nil
}
