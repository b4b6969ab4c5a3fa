package consumer

import (
	"context"
	"errors"
	"testing"

	mqttcommon "github.com/DreamThemeGH/mqtt-history-injector/common/mqtt"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/ingest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	subscribeErr error
	topic        string
	qos          byte
	handler      mqttcommon.MessageHandler
	unsubscribed []string
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.topic, f.qos, f.handler = topic, qos, handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) error {
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

type fakeProcessor struct {
	result   ingest.Result
	topics   []string
	payloads [][]byte
}

func (f *fakeProcessor) Process(_ context.Context, topic string, payload []byte) ingest.Result {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return f.result
}

func TestMQTTConsumer_StartSubscribesAndDispatches(t *testing.T) {
	sub := &fakeSubscriber{}
	proc := &fakeProcessor{result: ingest.Result{Status: ingest.StatusCompleted, EntityID: "sensor.a", Written: 1}}
	c := NewMQTTConsumer("homeassistant/history/+", 1, sub, proc, zap.NewNop())

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, "homeassistant/history/+", sub.topic)
	assert.Equal(t, byte(1), sub.qos)
	require.NotNil(t, sub.handler)

	err := sub.handler("homeassistant/history/sensor.a", []byte(`{"state":"1"}`))
	assert.NoError(t, err)
	assert.Equal(t, []string{"homeassistant/history/sensor.a"}, proc.topics)
	assert.Equal(t, `{"state":"1"}`, string(proc.payloads[0]))
}

func TestMQTTConsumer_RejectedMessageReturnsError(t *testing.T) {
	sub := &fakeSubscriber{}
	proc := &fakeProcessor{result: ingest.Result{Status: ingest.StatusRejected, Err: ingest.ErrMissingEntityID}}
	c := NewMQTTConsumer("history/#", 0, sub, proc, zap.NewNop())
	require.NoError(t, c.Start(context.Background()))

	err := sub.handler("history", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ingest.ErrMissingEntityID))
}

func TestMQTTConsumer_StartSubscribeError(t *testing.T) {
	sub := &fakeSubscriber{subscribeErr: errors.New("not connected")}
	c := NewMQTTConsumer("history/#", 0, sub, &fakeProcessor{}, zap.NewNop())

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestMQTTConsumer_Stop(t *testing.T) {
	sub := &fakeSubscriber{}
	c := NewMQTTConsumer("history/#", 0, sub, &fakeProcessor{}, zap.NewNop())

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, []string{"history/#"}, sub.unsubscribed)
}
