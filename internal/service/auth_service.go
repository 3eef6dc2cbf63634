package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"wisefido-attendance/internal/device"
	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/store"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthService 设备绑定认证
type AuthService interface {
	// Authenticate 员工登录（username / PIN），执行完整的设备绑定检查
	Authenticate(ctx context.Context, req AuthRequest) (*AuthResult, error)
	// BindDevice 设备绑定检查 + 未绑定时绑定（管理员跳过）
	BindDevice(ctx context.Context, userID string) (domain.StaffUser, string, error)
	// VerifyDevice 只做检查不绑定（严格模式签到/签退时使用）
	VerifyDevice(ctx context.Context, user domain.StaffUser) (string, error)

	HospitalLogin(ctx context.Context, req HospitalLoginRequest) (*AuthResult, error)
	ParseToken(token string) (*Claims, error)
}

// AuthRequest 员工登录请求
type AuthRequest struct {
	HospitalID string // 可选，限定在某个医院内查找
	Identifier string // username 或 PIN
}

// HospitalLoginRequest 医院/超级管理员登录
type HospitalLoginRequest struct {
	Username string
	Password string
}

// AuthResult 认证结果
type AuthResult struct {
	Granted   bool             `json:"granted"`
	User      domain.StaffUser `json:"user"`
	Hospital  *domain.Hospital `json:"hospital,omitempty"`
	DeviceID  string           `json:"deviceId,omitempty"`
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// SuperAdminCredentials 超级管理员凭据（来自配置，可为空）
type SuperAdminCredentials struct {
	Username string
	Password string
}

type authService struct {
	local      *store.LocalStore
	identity   *device.Identity
	sync       SyncService
	tokens     *TokenIssuer
	superAdmin SuperAdminCredentials
	logger     *zap.Logger

	// 绑定检查到写入之间不能插入其他绑定
	bindMu sync.Mutex
}

// NewAuthService 创建 AuthService 实例
func NewAuthService(local *store.LocalStore, identity *device.Identity, syncSvc SyncService, tokens *TokenIssuer, superAdmin SuperAdminCredentials, logger *zap.Logger) AuthService {
	return &authService{
		local:      local,
		identity:   identity,
		sync:       syncSvc,
		tokens:     tokens,
		superAdmin: superAdmin,
		logger:     logger,
	}
}

func (s *authService) Authenticate(ctx context.Context, req AuthRequest) (*AuthResult, error) {
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		return nil, ErrUserNotFound
	}

	// 1. 查找账号
	matches, err := s.local.Users.Find(ctx, func(u domain.StaffUser) bool {
		return u.Matches(identifier) && (req.HospitalID == "" || u.HospitalID == req.HospitalID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	if len(matches) == 0 {
		s.logger.Warn("Staff login failed",
			zap.String("hospital_id", req.HospitalID),
			zap.String("reason", "user_not_found"),
		)
		return nil, ErrUserNotFound
	}
	// PIN/username 只在医院内唯一
	if len(matches) > 1 {
		s.logger.Warn("Staff login failed",
			zap.String("hospital_id", req.HospitalID),
			zap.String("reason", "ambiguous_identifier"),
			zap.Int("matches", len(matches)),
		)
		return nil, ErrAmbiguousAccount
	}
	target := matches[0]

	// 2-6. 设备绑定检查
	user, deviceID, err := s.BindDevice(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	result := &AuthResult{Granted: true, User: user, DeviceID: deviceID}
	if h, ok, err := s.local.Hospitals.Get(ctx, user.HospitalID); err == nil && ok {
		result.Hospital = &h
	}
	result.Token, result.ExpiresAt, err = s.tokens.Issue(user.ID, user.Role, user.HospitalID, deviceID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Staff login succeeded",
		zap.String("user_id", user.ID),
		zap.String("hospital_id", user.HospitalID),
		zap.String("role", string(user.Role)),
	)
	return result, nil
}

func (s *authService) BindDevice(ctx context.Context, userID string) (domain.StaffUser, string, error) {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	user, ok, err := s.local.Users.Get(ctx, userID)
	if err != nil {
		return domain.StaffUser{}, "", fmt.Errorf("failed to load user: %w", err)
	}
	if !ok {
		return domain.StaffUser{}, "", ErrUserNotFound
	}

	// 2. 管理员跳过设备检查
	if user.Role.IsAdmin() {
		return user, "", nil
	}

	// 3-5.
	deviceID, err := s.checkDevice(ctx, user)
	if err != nil {
		return user, deviceID, err
	}

	// 6. 首次登录绑定
	if user.BoundDeviceID == "" {
		user.BoundDeviceID = deviceID
		if err := s.sync.SaveUser(ctx, user); err != nil {
			return user, deviceID, fmt.Errorf("failed to bind device: %w", err)
		}
		s.logger.Info("Device bound to staff account",
			zap.String("user_id", user.ID),
			zap.String("device_suffix", domain.DeviceSuffix(deviceID)),
		)
	}
	return user, deviceID, nil
}

func (s *authService) VerifyDevice(ctx context.Context, user domain.StaffUser) (string, error) {
	if user.Role.IsAdmin() {
		return s.identity.GetOrCreate(ctx)
	}
	// 以存储中的绑定为准
	if stored, ok, err := s.local.Users.Get(ctx, user.ID); err == nil && ok {
		user = stored
	}
	return s.checkDevice(ctx, user)
}

// checkDevice 步骤 3-5：当前设备 ID、他人占用、账号绑定在别处
func (s *authService) checkDevice(ctx context.Context, user domain.StaffUser) (string, error) {
	deviceID, err := s.identity.GetOrCreate(ctx)
	if err != nil {
		return "", err
	}

	owners, err := s.local.Users.Find(ctx, func(u domain.StaffUser) bool {
		return u.ID != user.ID && u.BoundDeviceID == deviceID
	})
	if err != nil {
		return deviceID, fmt.Errorf("failed to load users: %w", err)
	}
	if len(owners) > 0 {
		s.logger.Warn("Device binding rejected",
			zap.String("user_id", user.ID),
			zap.String("owner_id", owners[0].ID),
			zap.String("reason", "device_owned_by_other"),
		)
		return deviceID, ErrDeviceOwnedByOther
	}

	if user.BoundDeviceID != "" && user.BoundDeviceID != deviceID {
		s.logger.Warn("Device binding rejected",
			zap.String("user_id", user.ID),
			zap.String("bound_suffix", domain.DeviceSuffix(user.BoundDeviceID)),
			zap.String("device_suffix", domain.DeviceSuffix(deviceID)),
			zap.String("reason", "account_bound_elsewhere"),
		)
		return deviceID, ErrAccountBoundElsewhere
	}
	return deviceID, nil
}

func (s *authService) HospitalLogin(ctx context.Context, req HospitalLoginRequest) (*AuthResult, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	if s.superAdmin.Username != "" && s.superAdmin.Password != "" &&
		subtle.ConstantTimeCompare([]byte(username), []byte(s.superAdmin.Username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.superAdmin.Password)) == 1 {
		user := domain.StaffUser{ID: "super-admin", Name: username, Role: domain.RoleSuperAdmin}
		return s.grant(user, nil)
	}

	hospitals, err := s.local.Hospitals.Find(ctx, func(h domain.Hospital) bool {
		return h.LoginUsername == username
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load hospitals: %w", err)
	}
	for _, h := range hospitals {
		h := h
		var role domain.Role
		switch {
		case checkPassword(h.LoginPassword, req.Password):
			role = domain.RoleHospitalAdmin
		case checkPassword(h.LogViewPassword, req.Password):
			role = domain.RoleLogViewer
		default:
			continue
		}
		user := domain.StaffUser{ID: h.ID, Name: h.Name, Role: role, HospitalID: h.ID}
		s.logger.Info("Hospital login succeeded",
			zap.String("hospital_id", h.ID),
			zap.String("role", string(role)),
		)
		return s.grant(user, &h)
	}

	s.logger.Warn("Hospital login failed", zap.String("reason", "invalid_credentials"))
	return nil, ErrInvalidCredentials
}

func (s *authService) grant(user domain.StaffUser, h *domain.Hospital) (*AuthResult, error) {
	token, exp, err := s.tokens.Issue(user.ID, user.Role, user.HospitalID, "")
	if err != nil {
		return nil, err
	}
	return &AuthResult{Granted: true, User: user, Hospital: h, Token: token, ExpiresAt: exp}, nil
}

func (s *authService) ParseToken(token string) (*Claims, error) {
	return s.tokens.Parse(token)
}

// HashPassword bcrypt 哈希
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
