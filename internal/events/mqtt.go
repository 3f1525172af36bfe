package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	topicPrefix = "voltguard/requests/"

	// TopicAllRequests matches every lifecycle event.
	TopicAllRequests = topicPrefix + "+"
	// TopicAllChat matches message_sent events of every request.
	TopicAllChat = "voltguard/chat/+"
)

// Topic is where an event is published on the broker.
func Topic(e Event) string {
	if e.Kind == MessageSent {
		return "voltguard/chat/" + e.RequestID
	}
	return topicPrefix + string(e.Kind)
}

type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Logger    *slog.Logger
}

func ConnectMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("MQTT broker URL is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "voltguard-client"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if cfg.Logger != nil {
		opts.OnConnectionLost = func(_ mqtt.Client, err error) {
			cfg.Logger.Warn("mqtt connection lost", "error", err)
		}
		opts.OnConnect = func(_ mqtt.Client) {
			cfg.Logger.Info("mqtt connected", "broker", cfg.BrokerURL, "client_id", cfg.ClientID)
		}
	}

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, errors.New("mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

// Bridge forwards every event published on bus to the broker. It subscribes before returning.
// The returned channel is closed when ctx ends, or when the bus is closed and the backlog has been
// forwarded.
func Bridge(ctx context.Context, bus *Bus, client mqtt.Client, logger *slog.Logger) <-chan struct{} {
	ch, unsubscribe := bus.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				publishMQTT(client, e, logger)
			}
		}
	}()
	return done
}

func publishMQTT(c mqtt.Client, e Event, logger *slog.Logger) {
	topic := Topic(e)
	if c == nil || !c.IsConnected() {
		logger.Warn("mqtt not connected; skipping publish", "topic", topic)
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		logger.Error("marshal event", "error", err)
		return
	}
	tok := c.Publish(topic, 1, false, b)
	tok.WaitTimeout(3 * time.Second)
	if err := tok.Error(); err != nil {
		logger.Error("mqtt publish failed", "topic", topic, "error", err)
	}
}

// SubscribeMQTT delivers raw payloads from the given topic filters to fn.
func SubscribeMQTT(c mqtt.Client, logger *slog.Logger, fn func(topic string, payload []byte), topics ...string) {
	for _, topic := range topics {
		token := c.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			fn(msg.Topic(), msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Error("mqtt subscribe failed", "topic", topic, "error", err)
		} else {
			logger.Info("mqtt subscribed", "topic", topic)
		}
	}
}

// Decode parses a payload received from the broker back into an Event.
func Decode(topic string, payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, err
	}
	if e.Kind == "" {
		if strings.HasPrefix(topic, topicPrefix) {
			e.Kind = Kind(strings.TrimPrefix(topic, topicPrefix))
		} else {
			e.Kind = MessageSent
		}
	}
	return e, nil
}
