package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/models"
)

type memoryOutbox struct {
	mu        sync.Mutex
	records   []Record
	processed map[int64]bool
}

func (m *memoryOutbox) Pending(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if !m.processed[r.ID] && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryOutbox) MarkProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[id] = true
	return nil
}

type recordingSink struct {
	failKey  string
	messages map[string][]byte
}

func (s *recordingSink) Publish(_ context.Context, key string, value []byte) error {
	if key == s.failKey {
		return errors.New("broker unavailable")
	}
	s.messages[key] = value
	return nil
}

func (s *recordingSink) Close() error { return nil }

func TestRelayFlushPublishesAndAcknowledges(t *testing.T) {
	store := &memoryOutbox{
		records: []Record{
			{ID: 1, EventID: "e1", EventType: TypeMediaCreated, AggregateID: "m1", Payload: []byte(`{"mediaId":"m1"}`)},
			{ID: 2, EventID: "e2", EventType: TypeMediaCreated, AggregateID: "m2", Payload: []byte(`{"mediaId":"m2"}`)},
		},
		processed: map[int64]bool{},
	}
	sink := &recordingSink{failKey: "m2", messages: map[string][]byte{}}

	relay, err := NewRelay(RelayConfig{Store: store, Sink: sink, Interval: time.Second, BatchSize: 10})
	require.NoError(t, err)

	marked, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	assert.True(t, store.processed[1])
	assert.False(t, store.processed[2], "failed publish must stay pending")

	var env envelope
	require.NoError(t, json.Unmarshal(sink.messages["m1"], &env))
	assert.Equal(t, "e1", env.EventID)
	assert.JSONEq(t, `{"mediaId":"m1"}`, string(env.Data))
}

func TestNewRelayValidation(t *testing.T) {
	_, err := NewRelay(RelayConfig{Sink: LogSink{}, Interval: time.Second, BatchSize: 1})
	assert.Error(t, err)

	_, err = NewRelay(RelayConfig{Store: &memoryOutbox{}, Sink: LogSink{}, BatchSize: 1})
	assert.Error(t, err)
}

func TestNewMediaEventSnapshotsAsset(t *testing.T) {
	asset := models.MediaAsset{
		ID:               "m1",
		OwnerID:          "u1",
		Stage:            lifecycle.StageApproved,
		ModerationStatus: lifecycle.ModerationApproved,
		ApprovalStatus:   lifecycle.ApprovalApproved,
		Visibility:       lifecycle.VisibilityPublic,
	}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	event, err := NewMediaEvent(TypeForTransition(lifecycle.EventAdminApproved), asset, now)
	require.NoError(t, err)
	assert.Equal(t, "media.admin_approved", event.Type)
	assert.Equal(t, "m1", event.AggregateID)
	assert.NotEmpty(t, event.ID)

	var snapshot MediaSnapshot
	require.NoError(t, json.Unmarshal(event.Payload, &snapshot))
	assert.Equal(t, lifecycle.VisibilityPublic, snapshot.Visibility)
	assert.Equal(t, now, snapshot.OccurredAt)
}

func TestNewKafkaSinkValidation(t *testing.T) {
	_, err := NewKafkaSink(nil, "topic")
	assert.Error(t, err)

	_, err = NewKafkaSink([]string{"localhost:9092"}, "")
	assert.Error(t, err)

	sink, err := NewKafkaSink([]string{"localhost:9092"}, "media-events")
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}
