// Package events publishes task lifecycle events to an MQTT broker.
// Publishing is best-effort: a broker outage or publish failure is
// logged and never fails the request that caused the event. The
// package is nil-safe; callers hold a Publisher and may leave it nil
// when eventing is disabled.
package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/task"
)

// Event types carried in the published payload.
const (
	TaskCreated   = "task.created"
	TaskUpdated   = "task.updated"
	TaskCompleted = "task.completed"
	TaskDeleted   = "task.deleted"
)

// Publisher emits task lifecycle events. Implementations never return
// an error to the caller; delivery is best-effort.
type Publisher interface {
	PublishTask(ctx context.Context, eventType string, t *task.Task)
}

// taskEvent is the wire payload for one lifecycle event.
type taskEvent struct {
	Event     string `json:"event"`
	TaskID    int64  `json:"task_id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Timestamp string `json:"timestamp"`
}

func payload(eventType string, t *task.Task, now time.Time) ([]byte, error) {
	return json.Marshal(taskEvent{
		Event:     eventType,
		TaskID:    t.ID,
		UserID:    t.UserID,
		Title:     t.Title,
		Completed: t.Completed,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// MQTTPublisher delivers task events to a broker over MQTT with QoS 1.
// It reconnects automatically; events raised while disconnected are
// dropped, not queued.
type MQTTPublisher struct {
	cfg    config.EventsConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// NewMQTT creates a publisher but does not connect. Call
// [MQTTPublisher.Start] before publishing.
func NewMQTT(cfg config.EventsConfig, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{cfg: cfg, logger: logger}
}

// Topic returns the topic events are published to.
func (p *MQTTPublisher) Topic() string {
	if p.cfg.Topic != "" {
		return p.cfg.Topic
	}
	return "taskpilot/events"
}

// Start connects to the broker. It returns once the connection
// manager is running; the initial connection may still be pending,
// in which case autopaho keeps retrying in the background.
func (p *MQTTPublisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse events broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("events connected to broker", "broker", p.cfg.Broker, "topic", p.Topic())
		},
		OnConnectError: func(err error) {
			p.logger.Warn("events broker connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "taskpilot-events",
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("events broker connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("events initial connection pending, retrying in background", "error", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (p *MQTTPublisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	return p.cm.Disconnect(ctx)
}

// PublishTask sends one lifecycle event. Failures are logged only.
func (p *MQTTPublisher) PublishTask(ctx context.Context, eventType string, t *task.Task) {
	if p == nil || p.cm == nil || t == nil {
		return
	}

	body, err := payload(eventType, t, time.Now())
	if err != nil {
		p.logger.Error("events marshal payload", "event", eventType, "error", err)
		return
	}

	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.Topic(),
		Payload: body,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("events publish failed", "event", eventType, "task", t.ID, "error", err)
		return
	}
	p.logger.Debug("events published", "event", eventType, "task", t.ID, "user", t.UserID)
}
