package geo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-attendance/common/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBroker 内存 MQTT：收到定位请求后按 reply 回调生成定位结果
type fakeBroker struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	reply    func(req FixRequest) *FixMessage
	requests int
}

func newFakeBroker(reply func(req FixRequest) *FixMessage) *fakeBroker {
	return &fakeBroker{handlers: map[string]mqtt.MessageHandler{}, reply: reply}
}

func (b *fakeBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	var req FixRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	b.mu.Lock()
	b.requests++
	reply := b.reply
	b.mu.Unlock()
	if reply == nil {
		return nil
	}
	msg := reply(req)
	if msg == nil {
		return nil
	}
	go func() {
		data, _ := json.Marshal(msg)
		b.mu.Lock()
		h := b.handlers["attendance/location/dev-1/fix"]
		b.mu.Unlock()
		if h != nil {
			_ = h("attendance/location/dev-1/fix", data)
		}
	}()
	return nil
}

func TestMQTTLocator_ReturnsFix(t *testing.T) {
	acc := 4.5
	broker := newFakeBroker(func(req FixRequest) *FixMessage {
		assert.True(t, req.EnableHighAccuracy)
		assert.Equal(t, int64(0), req.MaximumAge)
		return &FixMessage{RequestID: req.RequestID, Latitude: 40, Longitude: -75, Accuracy: &acc}
	})
	l := NewMQTTLocator(broker, "dev-1", "", 1, zap.NewNop())

	c, err := Acquire(context.Background(), l, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 40.0, c.Latitude)
	require.NotNil(t, c.Accuracy)
	assert.Equal(t, 4.5, *c.Accuracy)
}

func TestMQTTLocator_DeviceDenied(t *testing.T) {
	broker := newFakeBroker(func(req FixRequest) *FixMessage {
		return &FixMessage{RequestID: req.RequestID, Error: "denied"}
	})
	l := NewMQTTLocator(broker, "dev-1", "", 1, zap.NewNop())

	_, err := Acquire(context.Background(), l, time.Second)
	assert.True(t, errors.Is(err, ErrLocationUnavailable))
}

func TestMQTTLocator_NoReplyTimesOut(t *testing.T) {
	broker := newFakeBroker(nil)
	l := NewMQTTLocator(broker, "dev-1", "", 1, zap.NewNop())

	_, err := Acquire(context.Background(), l, 50*time.Millisecond)
	assert.True(t, errors.Is(err, ErrLocationUnavailable))
	assert.Equal(t, 1, broker.requests)
}

func TestMQTTLocator_IgnoresFixForOtherRequest(t *testing.T) {
	broker := newFakeBroker(func(req FixRequest) *FixMessage {
		return &FixMessage{RequestID: "someone-else", Latitude: 1, Longitude: 1}
	})
	l := NewMQTTLocator(broker, "dev-1", "", 1, zap.NewNop())

	_, err := Acquire(context.Background(), l, 50*time.Millisecond)
	assert.True(t, errors.Is(err, ErrLocationUnavailable))
}
