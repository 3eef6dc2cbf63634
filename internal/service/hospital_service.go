package service

import (
	"context"
	"fmt"
	"strings"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/geo"
	"wisefido-attendance/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HospitalService 医院与员工管理
type HospitalService interface {
	RegisterHospital(ctx context.Context, req RegisterHospitalRequest) (*domain.Hospital, error)
	UpdateHospital(ctx context.Context, id string, req UpdateHospitalRequest) (*domain.Hospital, error)
	RecaptureGeofence(ctx context.Context, id string) (*domain.Hospital, error)
	DeleteHospital(ctx context.Context, id string) (*DeleteHospitalResult, error)
	GetHospital(ctx context.Context, id string) (*domain.Hospital, error)
	ListHospitals(ctx context.Context) ([]domain.Hospital, error)

	CreateStaff(ctx context.Context, req CreateStaffRequest) (*domain.StaffUser, error)
	DeleteStaff(ctx context.Context, id string) error
	ResetDeviceBinding(ctx context.Context, userID string) (*domain.StaffUser, error)
	ListStaff(ctx context.Context, hospitalID string) ([]domain.StaffUser, error)
}

// RegisterHospitalRequest 注册医院（坐标取自注册时的实时定位）
type RegisterHospitalRequest struct {
	Name               string                    `json:"name" validate:"required"`
	RegistrationNumber string                    `json:"registrationNumber"`
	LoginUsername      string                    `json:"loginUsername" validate:"required"`
	LoginPassword      string                    `json:"loginPassword" validate:"required,min=6"`
	LogViewPassword    string                    `json:"logViewPassword" validate:"omitempty,min=6"`
	Radius             float64                   `json:"radius" validate:"gte=0"`
	EmailReportConfig  *domain.EmailReportConfig `json:"emailReportConfig,omitempty"`
}

// UpdateHospitalRequest 修改身份信息；坐标/半径不可通过此接口修改
type UpdateHospitalRequest struct {
	Name               *string                   `json:"name,omitempty"`
	RegistrationNumber *string                   `json:"registrationNumber,omitempty"`
	LoginUsername      *string                   `json:"loginUsername,omitempty"`
	LoginPassword      *string                   `json:"loginPassword,omitempty" validate:"omitempty,min=6"`
	LogViewPassword    *string                   `json:"logViewPassword,omitempty" validate:"omitempty,min=6"`
	EmailReportConfig  *domain.EmailReportConfig `json:"emailReportConfig,omitempty"`
}

// CreateStaffRequest 新建员工（PIN 或 username 至少一个）
type CreateStaffRequest struct {
	HospitalID string      `json:"hospitalId" validate:"required"`
	Name       string      `json:"name" validate:"required"`
	Role       domain.Role `json:"role,omitempty"`
	Pin        string      `json:"pin,omitempty" validate:"required_without=Username"`
	Username   string      `json:"username,omitempty" validate:"required_without=Pin"`
}

// DeleteHospitalResult 级联删除结果
type DeleteHospitalResult struct {
	HospitalID     string `json:"hospitalId"`
	StaffDeleted   int    `json:"staffDeleted"`
	RecordsDeleted int    `json:"recordsDeleted"`
}

type hospitalService struct {
	local    *store.LocalStore
	sync     SyncService
	locator  geo.Locator
	opts     AttendanceOptions
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHospitalService 创建 HospitalService 实例
func NewHospitalService(local *store.LocalStore, syncSvc SyncService, locator geo.Locator, opts AttendanceOptions, logger *zap.Logger) HospitalService {
	return &hospitalService{
		local:    local,
		sync:     syncSvc,
		locator:  locator,
		opts:     opts,
		validate: validator.New(),
		logger:   logger,
	}
}

func (s *hospitalService) invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
}

func (s *hospitalService) loginUsernameTaken(ctx context.Context, username, exceptID string) (bool, error) {
	found, err := s.local.Hospitals.Find(ctx, func(h domain.Hospital) bool {
		return h.ID != exceptID && strings.EqualFold(h.LoginUsername, username)
	})
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

func (s *hospitalService) RegisterHospital(ctx context.Context, req RegisterHospitalRequest) (*domain.Hospital, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.LoginUsername = strings.TrimSpace(req.LoginUsername)
	if err := s.validate.Struct(req); err != nil {
		return nil, s.invalid(err)
	}
	taken, err := s.loginUsernameTaken(ctx, req.LoginUsername, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load hospitals: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("%w: login username already in use", ErrConflict)
	}

	// 围栏中心必须来自实时定位
	pos, err := geo.Acquire(ctx, s.locator, s.opts.LocationTimeout)
	if err != nil {
		return nil, err
	}

	h := domain.Hospital{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		RegistrationNumber: req.RegistrationNumber,
		LoginUsername:      req.LoginUsername,
		Coords:             pos,
		Radius:             req.Radius,
		EmailReportConfig:  req.EmailReportConfig,
	}
	if h.Radius <= 0 {
		h.Radius = domain.DefaultGeofenceRadius
	}
	if h.LoginPassword, err = HashPassword(req.LoginPassword); err != nil {
		return nil, err
	}
	if req.LogViewPassword != "" {
		if h.LogViewPassword, err = HashPassword(req.LogViewPassword); err != nil {
			return nil, err
		}
	}

	if err := s.sync.SaveHospital(ctx, h); err != nil {
		return nil, err
	}
	s.logger.Info("Hospital registered",
		zap.String("hospital_id", h.ID),
		zap.Float64("latitude", pos.Latitude),
		zap.Float64("longitude", pos.Longitude),
		zap.Float64("radius", h.Radius),
	)
	return &h, nil
}

func (s *hospitalService) UpdateHospital(ctx context.Context, id string, req UpdateHospitalRequest) (*domain.Hospital, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, s.invalid(err)
	}
	h, err := s.GetHospital(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
		}
		h.Name = strings.TrimSpace(*req.Name)
	}
	if req.RegistrationNumber != nil {
		h.RegistrationNumber = *req.RegistrationNumber
	}
	if req.LoginUsername != nil {
		username := strings.TrimSpace(*req.LoginUsername)
		taken, err := s.loginUsernameTaken(ctx, username, h.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load hospitals: %w", err)
		}
		if username == "" || taken {
			return nil, fmt.Errorf("%w: login username unavailable", ErrConflict)
		}
		h.LoginUsername = username
	}
	if req.LoginPassword != nil {
		if h.LoginPassword, err = HashPassword(*req.LoginPassword); err != nil {
			return nil, err
		}
	}
	if req.LogViewPassword != nil {
		if h.LogViewPassword, err = HashPassword(*req.LogViewPassword); err != nil {
			return nil, err
		}
	}
	if req.EmailReportConfig != nil {
		h.EmailReportConfig = req.EmailReportConfig
	}

	if err := s.sync.SaveHospital(ctx, *h); err != nil {
		return nil, err
	}
	return h, nil
}

// RecaptureGeofence 用实时定位重新设置围栏中心（唯一的坐标修改途径）
func (s *hospitalService) RecaptureGeofence(ctx context.Context, id string) (*domain.Hospital, error) {
	h, err := s.GetHospital(ctx, id)
	if err != nil {
		return nil, err
	}
	pos, err := geo.Acquire(ctx, s.locator, s.opts.LocationTimeout)
	if err != nil {
		return nil, err
	}
	prev := h.Coords
	h.Coords = pos
	if err := s.sync.SaveHospital(ctx, *h); err != nil {
		return nil, err
	}
	s.logger.Info("Hospital geofence recaptured",
		zap.String("hospital_id", h.ID),
		zap.Float64("moved_m", geo.Distance(prev, pos)),
	)
	return h, nil
}

// DeleteHospital 级联删除：考勤记录、员工、医院（本地 + 远端）
func (s *hospitalService) DeleteHospital(ctx context.Context, id string) (*DeleteHospitalResult, error) {
	if _, err := s.GetHospital(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.sync.DeleteRecordsByHospital(ctx, id)
	if err != nil {
		return nil, err
	}
	staff, err := s.sync.DeleteUsersByHospital(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.sync.DeleteHospital(ctx, id); err != nil {
		return nil, err
	}
	res := &DeleteHospitalResult{HospitalID: id, StaffDeleted: len(staff), RecordsDeleted: len(records)}
	s.logger.Info("Hospital deleted",
		zap.String("hospital_id", id),
		zap.Int("staff_deleted", res.StaffDeleted),
		zap.Int("records_deleted", res.RecordsDeleted),
	)
	return res, nil
}

func (s *hospitalService) GetHospital(ctx context.Context, id string) (*domain.Hospital, error) {
	h, ok, err := s.local.Hospitals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load hospital: %w", err)
	}
	if !ok {
		return nil, ErrHospitalNotFound
	}
	return &h, nil
}

func (s *hospitalService) ListHospitals(ctx context.Context) ([]domain.Hospital, error) {
	return s.local.Hospitals.All(ctx)
}

func (s *hospitalService) CreateStaff(ctx context.Context, req CreateStaffRequest) (*domain.StaffUser, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Pin = strings.TrimSpace(req.Pin)
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validate.Struct(req); err != nil {
		return nil, s.invalid(err)
	}
	if req.Role == "" {
		req.Role = domain.RoleStaff
	}
	if req.Role != domain.RoleStaff && req.Role != domain.RoleHospitalAdmin {
		return nil, fmt.Errorf("%w: role %s", ErrInvalidArgument, req.Role)
	}
	if _, err := s.GetHospital(ctx, req.HospitalID); err != nil {
		return nil, err
	}

	// 同一医院内登录标识唯一
	dup, err := s.local.Users.Find(ctx, func(u domain.StaffUser) bool {
		return u.HospitalID == req.HospitalID && (u.Matches(req.Pin) || u.Matches(req.Username))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load staff: %w", err)
	}
	if len(dup) > 0 {
		return nil, fmt.Errorf("%w: pin or username already in use", ErrConflict)
	}

	u := domain.StaffUser{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Role:       req.Role,
		HospitalID: req.HospitalID,
		Pin:        req.Pin,
		Username:   req.Username,
	}
	if err := s.sync.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("Staff created",
		zap.String("user_id", u.ID),
		zap.String("hospital_id", u.HospitalID),
		zap.String("role", string(u.Role)),
	)
	return &u, nil
}

// DeleteStaff 删除员工；历史考勤记录保留
func (s *hospitalService) DeleteStaff(ctx context.Context, id string) error {
	_, ok, err := s.local.Users.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load staff: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	return s.sync.DeleteUser(ctx, id)
}

// ResetDeviceBinding 清除设备绑定，下次登录/签到重新绑定
func (s *hospitalService) ResetDeviceBinding(ctx context.Context, userID string) (*domain.StaffUser, error) {
	u, ok, err := s.local.Users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load staff: %w", err)
	}
	if !ok {
		return nil, ErrUserNotFound
	}
	prev := u.BoundDeviceID
	u.BoundDeviceID = ""
	if err := s.sync.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("Device binding reset",
		zap.String("user_id", u.ID),
		zap.String("previous_suffix", domain.DeviceSuffix(prev)),
	)
	return &u, nil
}

func (s *hospitalService) ListStaff(ctx context.Context, hospitalID string) ([]domain.StaffUser, error) {
	return s.local.Users.Find(ctx, func(u domain.StaffUser) bool { return u.HospitalID == hospitalID })
}
