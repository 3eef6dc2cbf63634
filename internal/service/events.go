package service

import (
	"context"
	"time"

	commonredis "wisefido-attendance/common/redis"
	"wisefido-attendance/internal/domain"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 考勤事件类型
const (
	EventCheckIn  = "check_in"
	EventCheckOut = "check_out"
)

// AttendanceEvent 签到/签退事件
type AttendanceEvent struct {
	Type       string    `json:"type"`
	RecordID   string    `json:"record_id"`
	UserID     string    `json:"user_id"`
	HospitalID string    `json:"hospital_id"`
	DeviceID   string    `json:"device_id"`
	Flagged    bool      `json:"flagged"`
	Anomaly    string    `json:"anomaly,omitempty"`
	Distance   float64   `json:"distance_from_center"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newAttendanceEvent(typ string, rec domain.AttendanceRecord, deviceID string, at time.Time) AttendanceEvent {
	return AttendanceEvent{
		Type:       typ,
		RecordID:   rec.ID,
		UserID:     rec.UserID,
		HospitalID: rec.HospitalID,
		DeviceID:   deviceID,
		Flagged:    rec.Flagged,
		Anomaly:    string(rec.Anomaly),
		Distance:   rec.DistanceFromCenter,
		OccurredAt: at,
	}
}

// EventPublisher 事件发布
type EventPublisher interface {
	Publish(ctx context.Context, evt AttendanceEvent) error
}

// NopPublisher 未配置事件流时使用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AttendanceEvent) error { return nil }

// StreamPublisher 发布到 Redis Stream
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

func NewStreamPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (p *StreamPublisher) Publish(ctx context.Context, evt AttendanceEvent) error {
	id, err := commonredis.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, evt)
	if err != nil {
		return err
	}
	p.logger.Debug("Attendance event published",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("type", evt.Type),
		zap.String("record_id", evt.RecordID),
	)
	return nil
}
