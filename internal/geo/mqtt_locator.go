package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wisefido-attendance/common/mqtt"
	"wisefido-attendance/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PubSub MQTT 客户端最小接口（便于测试替换）
type PubSub interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// FixRequest 定位请求（发布到 <prefix>/<deviceID>/request）
type FixRequest struct {
	RequestID          string `json:"request_id"`
	EnableHighAccuracy bool   `json:"enable_high_accuracy"`
	MaximumAge         int64  `json:"maximum_age"`
	TimeoutMs          int64  `json:"timeout_ms"`
}

// FixMessage 定位结果（订阅 <prefix>/<deviceID>/fix）
type FixMessage struct {
	RequestID string   `json:"request_id,omitempty"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Error     string   `json:"error,omitempty"` // "denied" | "unavailable" | "timeout"
}

type fixResult struct {
	coord domain.Coordinate
	err   error
}

// MQTTLocator 通过 MQTT 向设备定位模块请求单次定位
// 只接受请求发出之后到达的定位结果（maximumAge = 0）
type MQTTLocator struct {
	client   PubSub
	deviceID string
	prefix   string
	qos      byte
	timeout  time.Duration
	logger   *zap.Logger

	mu         sync.Mutex
	subscribed bool
	waiters    map[string]chan fixResult
}

// NewMQTTLocator 创建 MQTT 定位源
func NewMQTTLocator(client PubSub, deviceID, prefix string, qos byte, logger *zap.Logger) *MQTTLocator {
	if prefix == "" {
		prefix = "attendance/location"
	}
	return &MQTTLocator{
		client:   client,
		deviceID: deviceID,
		prefix:   prefix,
		qos:      qos,
		timeout:  DefaultTimeout,
		logger:   logger,
		waiters:  map[string]chan fixResult{},
	}
}

func (l *MQTTLocator) requestTopic() string {
	return fmt.Sprintf("%s/%s/request", l.prefix, l.deviceID)
}

func (l *MQTTLocator) fixTopic() string {
	return fmt.Sprintf("%s/%s/fix", l.prefix, l.deviceID)
}

func (l *MQTTLocator) ensureSubscribed() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subscribed {
		return nil
	}
	if err := l.client.Subscribe(l.fixTopic(), l.qos, l.handleFix); err != nil {
		return err
	}
	l.subscribed = true
	return nil
}

func (l *MQTTLocator) handleFix(topic string, payload []byte) error {
	var msg FixMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to decode fix: %w", err)
	}

	res := fixResult{coord: domain.Coordinate{
		Latitude:  msg.Latitude,
		Longitude: msg.Longitude,
		Accuracy:  msg.Accuracy,
	}}
	switch msg.Error {
	case "":
	case "denied":
		res.err = ErrPermissionDenied
	case "unavailable":
		res.err = ErrNoCapability
	default:
		res.err = fmt.Errorf("device reported %s", msg.Error)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ch := range l.waiters {
		// 带 request_id 的结果只投递给对应请求
		if msg.RequestID != "" && msg.RequestID != id {
			continue
		}
		select {
		case ch <- res:
		default:
		}
	}
	return nil
}

// CurrentPosition 发布定位请求并等待下一条定位结果
func (l *MQTTLocator) CurrentPosition(ctx context.Context) (domain.Coordinate, error) {
	if err := l.ensureSubscribed(); err != nil {
		return domain.Coordinate{}, fmt.Errorf("%w: %v", ErrNoCapability, err)
	}

	requestID := uuid.NewString()
	ch := make(chan fixResult, 1)
	l.mu.Lock()
	l.waiters[requestID] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.waiters, requestID)
		l.mu.Unlock()
	}()

	req, _ := json.Marshal(FixRequest{
		RequestID:          requestID,
		EnableHighAccuracy: true,
		MaximumAge:         0,
		TimeoutMs:          l.timeout.Milliseconds(),
	})
	if err := l.client.Publish(l.requestTopic(), l.qos, false, req); err != nil {
		return domain.Coordinate{}, err
	}

	l.logger.Debug("Location fix requested",
		zap.String("device_id", l.deviceID),
		zap.String("request_id", requestID),
	)

	select {
	case res := <-ch:
		return res.coord, res.err
	case <-ctx.Done():
		return domain.Coordinate{}, ctx.Err()
	}
}
