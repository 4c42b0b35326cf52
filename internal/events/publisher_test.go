package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/task"
)

func TestPayload(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	tk := &task.Task{ID: 7, UserID: "u-1", Title: "buy milk", Completed: true}

	body, err := payload(TaskCompleted, tk, now)
	if err != nil {
		t.Fatalf("payload() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if got["event"] != TaskCompleted {
		t.Errorf("event = %v", got["event"])
	}
	if got["task_id"] != float64(7) {
		t.Errorf("task_id = %v", got["task_id"])
	}
	if got["user_id"] != "u-1" {
		t.Errorf("user_id = %v", got["user_id"])
	}
	if got["completed"] != true {
		t.Errorf("completed = %v", got["completed"])
	}
	if got["timestamp"] != "2025-03-14T09:26:53Z" {
		t.Errorf("timestamp = %v", got["timestamp"])
	}
}

func TestTopicDefault(t *testing.T) {
	p := NewMQTT(config.EventsConfig{Broker: "mqtt://localhost:1883"}, nil)
	if got := p.Topic(); got != "taskpilot/events" {
		t.Errorf("Topic() = %q", got)
	}

	p = NewMQTT(config.EventsConfig{Broker: "mqtt://localhost:1883", Topic: "custom/topic"}, nil)
	if got := p.Topic(); got != "custom/topic" {
		t.Errorf("Topic() = %q", got)
	}
}

func TestPublishBeforeStartIsNoop(t *testing.T) {
	p := NewMQTT(config.EventsConfig{Broker: "mqtt://localhost:1883"}, nil)
	// Must not panic or block when never connected.
	p.PublishTask(context.Background(), TaskCreated, &task.Task{ID: 1, UserID: "u-1", Title: "x"})

	var nilPub *MQTTPublisher
	nilPub.PublishTask(context.Background(), TaskCreated, &task.Task{ID: 1})
}

func TestStartRejectsBadBrokerURL(t *testing.T) {
	p := NewMQTT(config.EventsConfig{Broker: "://not-a-url"}, nil)
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start() accepted an unparseable broker URL")
	}
}
