package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"rombuilder/internal/dispatcher"
	"rombuilder/internal/job"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*Redis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	r, err := NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { raw.Close() })

	return r, raw
}

func TestRedis_Deliver(t *testing.T) {
	t.Parallel()
	r, raw := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Subscribe before publishing, pub/sub has no replay.
	pubsub := raw.Subscribe(ctx, "rombuilder.jobs")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := r.Deliver(ctx, outcomeEvent("redis:rombuilder.jobs")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	msg, err := pubsub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	var event struct {
		Type    string         `json:"type"`
		Subject string         `json:"subject"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if event.Type != job.EventTypeCompleted || event.Subject != "alice_1700000000_abcd1234" {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.Data["result"] != "https://drive/out.zip" {
		t.Errorf("expected result in data, got %v", event.Data)
	}
}

func TestRedis_EmptyChannel(t *testing.T) {
	t.Parallel()
	r, _ := setupRedis(t)

	err := r.Deliver(context.Background(), outcomeEvent("redis:"))
	if !dispatcher.IsPermanent(err) {
		t.Errorf("expected a permanent error, got %v", err)
	}
}

func TestNewRedis_InvalidURL(t *testing.T) {
	t.Parallel()
	if _, err := NewRedis("http://not-redis"); err == nil {
		t.Error("expected an error for a non-redis URL")
	}
}
