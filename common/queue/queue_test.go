package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stratahq/strata/common/logger"
)

func TestMemoryQueuePublishSubscribe(t *testing.T) {
	q := NewMemoryQueue(logger.New("error", "json"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 1)
	err := q.Subscribe(ctx, TopicObjectCreated, func(ctx context.Context, key string, value []byte) error {
		received <- key
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := q.Publish(ctx, TopicObjectCreated, "obj-1", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case key := <-received:
		if key != "obj-1" {
			t.Fatalf("received key %q, want obj-1", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestMemoryQueueFullTopicDropsInsteadOfBlocking(t *testing.T) {
	q := NewMemoryQueue(logger.New("error", "json"))
	ctx := context.Background()

	// No subscriber draining; fill past the channel capacity.
	for i := 0; i < 1100; i++ {
		if err := q.Publish(ctx, TopicObjectVersioned, "k", []byte(`{}`)); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
}

func TestPublishJSON(t *testing.T) {
	q := NewMemoryQueue(logger.New("error", "json"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type event struct {
		ID string `json:"id"`
	}

	received := make(chan []byte, 1)
	q.Subscribe(ctx, TopicBranchCreated, func(ctx context.Context, key string, value []byte) error {
		received <- value
		return nil
	})

	if err := PublishJSON(ctx, q, TopicBranchCreated, "b1", event{ID: "b1"}); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}

	select {
	case raw := <-received:
		var got event
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
		if got.ID != "b1" {
			t.Fatalf("payload = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
}
