package commbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
	closed    bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMessage{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "zoe.workflow_finished", RoutingKey("WorkflowFinished"))
	assert.Equal(t, "zoe.classification_completed", RoutingKey("ClassificationCompleted"))
	assert.Equal(t, "zoe.x", RoutingKey("X"))
}

func TestAMQPForwarderPublishesJSON(t *testing.T) {
	ch := &fakeChannel{}
	fwd := NewAMQPForwarder(ch, "zoe.events", nil)
	bus := newTestBus()
	detach := fwd.Attach(bus, PipelineEventTypes)

	require.NoError(t, bus.Publish(context.Background(), &WorkflowFinished{WorkflowID: "wf_1", State: "completed"}))

	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "zoe.events", got.exchange)
	assert.Equal(t, "zoe.workflow_finished", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, "WorkflowFinished", got.msg.Type)

	var body map[string]any
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, "wf_1", body["workflow_id"])

	detach()
	for _, typ := range PipelineEventTypes {
		assert.Equal(t, 0, bus.SubscriberCount(typ))
	}
}

func TestAMQPForwarderErrorFeedsCircuitBreaker(t *testing.T) {
	ch := &fakeChannel{err: errors.New("connection reset")}
	fwd := NewAMQPForwarder(ch, "zoe.events", nil)
	cb := NewCircuitBreakerMiddleware(2, 0, nil, nil)
	bus := newTestBus()
	bus.AddMiddleware(cb)
	fwd.Attach(bus, []string{"InteractionCompleted"})

	_, err := fwd.Forward(context.Background(), &InteractionCompleted{})
	var cbe *CommBusError
	require.ErrorAs(t, err, &cbe)

	for i := 0; i < 2; i++ {
		require.NoError(t, bus.Publish(context.Background(), &InteractionCompleted{}))
	}
	assert.Equal(t, "open", cb.GetStates()["InteractionCompleted"])
}

func TestAMQPForwarderClose(t *testing.T) {
	ch := &fakeChannel{}
	fwd := NewAMQPForwarder(ch, "x", nil)
	require.NoError(t, fwd.Close())
	assert.True(t, ch.closed)

	var nilFwd *AMQPForwarder
	assert.NoError(t, nilFwd.Close())
}

func TestDialAMQPForwarderRequiresURL(t *testing.T) {
	_, err := DialAMQPForwarder("", "", nil)
	assert.Error(t, err)
}
