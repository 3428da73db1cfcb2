package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/realtime"
)

type mockWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

type recordingPublisher struct {
	notices []realtime.Notice
	err     error
}

func (r *recordingPublisher) Publish(ctx context.Context, n realtime.Notice) error {
	r.notices = append(r.notices, n)
	return r.err
}

func TestKafkaPublisherWritesKeyedJSON(t *testing.T) {
	w := &mockWriter{}
	p := NewKafkaPublisherWithWriter(w, "volunteer.events")

	n := realtime.NewNotice(realtime.ActionCreated, core.Event{ID: 42, Name: "Tree planting"})
	require.NoError(t, p.Publish(context.Background(), n))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "42", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "created", string(msg.Headers[0].Value))

	var decoded realtime.Notice
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, int64(42), decoded.EventID)
	require.NotNil(t, decoded.Event)
	assert.Equal(t, "Tree planting", decoded.Event.Name)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker unavailable")
	p := NewKafkaPublisherWithWriter(&mockWriter{err: boom}, "volunteer.events")

	err := p.Publish(context.Background(), realtime.NewNotice(realtime.ActionDeleted, core.Event{ID: 1}))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}

func TestFanoutDeliversToAll(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("down")}
	ok := &recordingPublisher{}
	f := Fanout{failing, nil, ok, Discard{}}

	err := f.Publish(context.Background(), realtime.NewNotice(realtime.ActionUpdated, core.Event{ID: 5}))
	require.Error(t, err)
	assert.Len(t, failing.notices, 1)
	assert.Len(t, ok.notices, 1)

	assert.NoError(t, Fanout{ok}.Publish(context.Background(), realtime.Notice{}))
}
