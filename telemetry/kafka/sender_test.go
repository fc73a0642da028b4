package kafka

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/recsync/core"
)

func TestNewSender_Validation(t *testing.T) {
	_, err := NewSender(Config{Topic: "events"}, logr.Discard())
	assert.True(t, core.IsInvalidInput(err))

	_, err = NewSender(Config{Brokers: []string{"localhost:9092"}}, logr.Discard())
	assert.True(t, core.IsInvalidInput(err))
}

func TestSender_Record(t *testing.T) {
	// kgo.NewClient 不会立即连接 broker
	s, err := NewSender(Config{Brokers: []string{"127.0.0.1:1"}, Topic: "events"}, logr.Discard())
	require.NoError(t, err)
	defer s.client.Close()

	ev := core.Event{EventType: core.EventRating, ItemID: core.ItemRef(5), SessionID: "sess", Metadata: map[string]any{"score": 4.0}}
	r, err := s.record(ev)
	require.NoError(t, err)
	assert.Equal(t, "events", r.Topic)
	assert.Equal(t, []byte("sess"), r.Key)

	var decoded core.Event
	require.NoError(t, json.Unmarshal(r.Value, &decoded))
	assert.Equal(t, ev.EventType, decoded.EventType)
	assert.Equal(t, int64(5), *decoded.ItemID)

	require.NoError(t, s.SendEvents(context.Background(), nil))
}

// 需要真实 Kafka：RECSYNC_KAFKA_BROKERS=localhost:9092 go test ./telemetry/kafka/
func TestSender_Produce(t *testing.T) {
	brokers := os.Getenv("RECSYNC_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("RECSYNC_KAFKA_BROKERS not set")
	}
	s, err := NewSender(Config{Brokers: strings.Split(brokers, ","), Topic: "recsync-test-events"}, logr.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events := []core.Event{{EventType: core.EventSearch, SessionID: "s", Metadata: map[string]any{"query": "q"}}}
	require.NoError(t, s.SendEvents(ctx, events))
	s.BeaconEvents(events)
	require.NoError(t, s.Close(ctx))
}
