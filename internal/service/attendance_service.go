package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"wisefido-attendance/internal/device"
	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/geo"
	"wisefido-attendance/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AttendanceService 考勤状态机：OFF_SHIFT -> ACTIVE_SHIFT -> OFF_SHIFT
type AttendanceService interface {
	CheckIn(ctx context.Context, user domain.StaffUser, hospital domain.Hospital) (*domain.AttendanceRecord, error)
	CheckOut(ctx context.Context, open domain.AttendanceRecord, user domain.StaffUser) (*CheckOutResult, error)
	OpenRecord(ctx context.Context, userID string) (*domain.AttendanceRecord, error)

	CheckInByID(ctx context.Context, userID string) (*domain.AttendanceRecord, error)
	CheckOutByID(ctx context.Context, userID string) (*CheckOutResult, error)
}

// AttendanceOptions 考勤参数
type AttendanceOptions struct {
	GPSTolerance    float64       // 围栏容差（米）
	LocationTimeout time.Duration // 单次定位超时
	StrictDevice    bool          // 签到/签退时重新执行设备检查
}

// CheckOutResult 签退结果；Warning 非空表示降级签退（未取得位置）
type CheckOutResult struct {
	Record  domain.AttendanceRecord `json:"record"`
	Warning string                  `json:"warning,omitempty"`
}

const warnCheckoutNoLocation = "Location unavailable; checked out without location verification."

type attendanceService struct {
	local    *store.LocalStore
	identity *device.Identity
	auth     AuthService
	sync     SyncService
	locator  geo.Locator
	events   EventPublisher
	opts     AttendanceOptions
	now      func() time.Time
	logger   *zap.Logger

	// 查找进行中记录 -> 写入 必须串行
	mu sync.Mutex
}

// NewAttendanceService 创建 AttendanceService 实例
func NewAttendanceService(
	local *store.LocalStore,
	identity *device.Identity,
	auth AuthService,
	syncSvc SyncService,
	locator geo.Locator,
	events EventPublisher,
	opts AttendanceOptions,
	logger *zap.Logger,
) AttendanceService {
	if events == nil {
		events = NopPublisher{}
	}
	if opts.LocationTimeout <= 0 {
		opts.LocationTimeout = geo.DefaultTimeout
	}
	return &attendanceService{
		local:    local,
		identity: identity,
		auth:     auth,
		sync:     syncSvc,
		locator:  locator,
		events:   events,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

func effectiveRadius(h domain.Hospital) float64 {
	if h.Radius <= 0 {
		return domain.DefaultGeofenceRadius
	}
	return h.Radius
}

func (s *attendanceService) OpenRecord(ctx context.Context, userID string) (*domain.AttendanceRecord, error) {
	open, err := s.local.Records.Find(ctx, func(r domain.AttendanceRecord) bool {
		return r.UserID == userID && r.IsOpen()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	if len(open) == 0 {
		return nil, nil
	}
	// 理论上最多一条；若存在多条取最新的
	latest := open[0]
	for _, r := range open[1:] {
		if r.CheckInTime.After(latest.CheckInTime) {
			latest = r
		}
	}
	return &latest, nil
}

func (s *attendanceService) CheckIn(ctx context.Context, user domain.StaffUser, hospital domain.Hospital) (*domain.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open, err := s.OpenRecord(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		s.logger.Warn("Check-in rejected: shift already open",
			zap.String("user_id", user.ID),
			zap.String("record_id", open.ID),
		)
		return nil, ErrShiftAlreadyOpen
	}

	if s.opts.StrictDevice {
		if _, err := s.auth.VerifyDevice(ctx, user); err != nil {
			return nil, err
		}
	}

	// 签到时定位失败为硬失败，不产生记录
	pos, err := geo.Acquire(ctx, s.locator, s.opts.LocationTimeout)
	if err != nil {
		s.logger.Warn("Check-in rejected: location unavailable",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		return nil, err
	}

	distance := geo.Distance(pos, hospital.Coords)
	flagged := geo.OutsideGeofence(distance, effectiveRadius(hospital), s.opts.GPSTolerance)

	// 未绑定时首次签到绑定设备
	var deviceID string
	if user.Role.IsAdmin() {
		deviceID, err = s.identity.GetOrCreate(ctx)
	} else {
		user, deviceID, err = s.auth.BindDevice(ctx, user.ID)
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := domain.AttendanceRecord{
		ID:                 uuid.NewString(),
		UserID:             user.ID,
		UserName:           user.Name,
		HospitalID:         hospital.ID,
		HospitalName:       hospital.Name,
		CheckInTime:        now,
		CheckInCoords:      pos,
		Flagged:            flagged,
		DistanceFromCenter: distance,
		CheckInDeviceID:    deviceID,
	}
	rec = normalizeRecord(rec)
	if err := s.sync.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("Checked in",
		zap.String("user_id", user.ID),
		zap.String("hospital_id", hospital.ID),
		zap.String("record_id", rec.ID),
		zap.Float64("distance_m", distance),
		zap.Bool("flagged", flagged),
	)
	s.publish(ctx, EventCheckIn, rec, deviceID, now)
	return &rec, nil
}

func (s *attendanceService) CheckOut(ctx context.Context, open domain.AttendanceRecord, user domain.StaffUser) (*CheckOutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.local.Records.Get(ctx, open.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	if !ok || !rec.IsOpen() || rec.UserID != user.ID {
		return nil, ErrNoOpenShift
	}

	if s.opts.StrictDevice {
		if _, err := s.auth.VerifyDevice(ctx, user); err != nil {
			return nil, err
		}
	}

	result := &CheckOutResult{}

	// 签退不因定位失败而阻塞
	hospital, found, err := s.local.Hospitals.Get(ctx, rec.HospitalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load hospital: %w", err)
	}
	pos, err := geo.Acquire(ctx, s.locator, s.opts.LocationTimeout)
	if err != nil {
		s.logger.Warn("Checking out without location",
			zap.String("user_id", user.ID),
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
		result.Warning = warnCheckoutNoLocation
	} else {
		rec.CheckOutCoords = &pos
		if found {
			distance := geo.Distance(pos, hospital.Coords)
			// 标记只累加不清除
			rec.Flagged = rec.Flagged || geo.OutsideGeofence(distance, effectiveRadius(hospital), s.opts.GPSTolerance)
		}
	}

	now := s.now()
	minutes := int(math.Round(float64(now.Sub(rec.CheckInTime).Milliseconds()) / 60000))
	if minutes < 0 {
		s.logger.Warn("Negative shift duration clamped to zero",
			zap.String("record_id", rec.ID),
			zap.Time("check_in_time", rec.CheckInTime),
			zap.Time("now", now),
		)
		minutes = 0
	}
	rec.CheckOutTime = &now
	rec.DurationMinutes = &minutes

	deviceID, err := s.identity.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	rec.CheckOutDeviceID = deviceID

	bound := user.BoundDeviceID
	if stored, ok, err := s.local.Users.Get(ctx, user.ID); err == nil && ok {
		bound = stored.BoundDeviceID
	}
	rec.Anomaly = domain.AnomalyNone
	if bound != "" && bound != deviceID {
		rec.Anomaly = domain.AnomalyDeviceMismatch
		s.logger.Warn("Device mismatch at check-out",
			zap.String("user_id", user.ID),
			zap.String("record_id", rec.ID),
			zap.String("bound_suffix", domain.DeviceSuffix(bound)),
			zap.String("device_suffix", domain.DeviceSuffix(deviceID)),
		)
	}

	rec = normalizeRecord(rec)
	if err := s.sync.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}
	result.Record = rec

	s.logger.Info("Checked out",
		zap.String("user_id", user.ID),
		zap.String("record_id", rec.ID),
		zap.Int("duration_minutes", minutes),
		zap.Bool("flagged", rec.Flagged),
		zap.String("anomaly", string(rec.Anomaly)),
	)
	s.publish(ctx, EventCheckOut, rec, deviceID, now)
	return result, nil
}

func (s *attendanceService) CheckInByID(ctx context.Context, userID string) (*domain.AttendanceRecord, error) {
	user, hospital, err := s.userAndHospital(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.CheckIn(ctx, user, hospital)
}

func (s *attendanceService) CheckOutByID(ctx context.Context, userID string) (*CheckOutResult, error) {
	user, ok, err := s.local.Users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !ok {
		return nil, ErrUserNotFound
	}
	open, err := s.OpenRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, ErrNoOpenShift
	}
	return s.CheckOut(ctx, *open, user)
}

func (s *attendanceService) userAndHospital(ctx context.Context, userID string) (domain.StaffUser, domain.Hospital, error) {
	user, ok, err := s.local.Users.Get(ctx, userID)
	if err != nil {
		return user, domain.Hospital{}, fmt.Errorf("failed to load user: %w", err)
	}
	if !ok {
		return user, domain.Hospital{}, ErrUserNotFound
	}
	hospital, ok, err := s.local.Hospitals.Get(ctx, user.HospitalID)
	if err != nil {
		return user, hospital, fmt.Errorf("failed to load hospital: %w", err)
	}
	if !ok {
		return user, hospital, ErrHospitalNotFound
	}
	return user, hospital, nil
}

// publish 事件发布失败只记录日志
func (s *attendanceService) publish(ctx context.Context, typ string, rec domain.AttendanceRecord, deviceID string, at time.Time) {
	if err := s.events.Publish(ctx, newAttendanceEvent(typ, rec, deviceID, at.UTC())); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Failed to publish attendance event",
			zap.String("type", typ),
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}
}
