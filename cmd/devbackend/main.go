// Command devbackend serves the fault desk REST API on a local sqlite file, for development and
// demos of the voltguard client.
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
	"voltguard/internal/devbackend"
	"voltguard/internal/events"
	"voltguard/internal/faults"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("DEVBACKEND_CONFIG"), "YAML config file")
	flag.Parse()

	cfg, err := config.LoadBackend(*cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger, closeLog := config.SetupLogger(cfg.Logging, "devbackend")
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Error("devbackend stopped", "error", err)
		_ = closeLog()
		os.Exit(1)
	}
}

func run(cfg config.BackendConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := devbackend.OpenStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewBus()
	defer bus.Close()
	if cfg.MQTT.Broker != "" {
		client, err := events.ConnectMQTT(events.MQTTConfig{
			BrokerURL: cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("mqtt unavailable, events stay local", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			done := events.Bridge(ctx, bus, client, logger)
			defer func() {
				bus.Close()
				<-done
				client.Disconnect(250)
			}()
		}
	}

	api := devbackend.NewAPI(store, devbackend.Options{
		Secret:   cfg.JWTSecret,
		TokenTTL: cfg.TokenTTL,
		Logger:   logger,
		Bus:      bus,
	})
	if cfg.BootstrapAdmin {
		if err := api.EnsureUser(ctx, cfg.BootstrapEmail, cfg.BootstrapPass, "Administrator", faults.RoleAdmin); err != nil {
			logger.Warn("bootstrap admin", "email", cfg.BootstrapEmail, "error", err)
		}
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "db", cfg.DBPath, "mqtt", cfg.MQTT.Broker)
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
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
