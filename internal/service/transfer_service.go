package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/store"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// TransferService 离线手动传输（批量考勤记录 / 医院配置）
// 载荷格式：base64url(JSON)
type TransferService interface {
	ExportBatch(ctx context.Context, hospitalID, userID string) (string, error)
	ImportBatch(ctx context.Context, blob string) (*ImportResult, error)
	ExportConfig(ctx context.Context, hospitalID string) (string, error)
	ImportConfig(ctx context.Context, blob string) (*ConfigImportResult, error)
}

// ImportResult 批量导入结果
type ImportResult struct {
	Imported int `json:"importedCount"`
	Updated  int `json:"updatedCount"`
	Skipped  int `json:"skippedCount"`
}

// ConfigPayload 医院配置载荷 {hospital, staff[], timestamp}
type ConfigPayload struct {
	Hospital  *domain.Hospital   `json:"hospital" validate:"required"`
	Staff     []domain.StaffUser `json:"staff" validate:"required"`
	Timestamp time.Time          `json:"timestamp"`
}

// ConfigImportResult 配置导入结果
type ConfigImportResult struct {
	HospitalID string `json:"hospitalId"`
	StaffCount int    `json:"staffCount"`
}

type transferService struct {
	local    *store.LocalStore
	sync     SyncService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewTransferService 创建 TransferService 实例
func NewTransferService(local *store.LocalStore, syncSvc SyncService, logger *zap.Logger) TransferService {
	return &transferService{
		local:    local,
		sync:     syncSvc,
		validate: validator.New(),
		logger:   logger,
	}
}

func encodePayload(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// decodePayload 兼容 base64url / 无填充 / 标准 base64
func decodePayload(blob string) ([]byte, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrCorruptPayload)
	}
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding, base64.RawStdEncoding} {
		if data, err := enc.DecodeString(blob); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: not base64", ErrCorruptPayload)
}

func (s *transferService) ExportBatch(ctx context.Context, hospitalID, userID string) (string, error) {
	records, err := s.local.Records.Find(ctx, func(r domain.AttendanceRecord) bool {
		return r.HospitalID == hospitalID && (userID == "" || r.UserID == userID)
	})
	if err != nil {
		return "", fmt.Errorf("failed to load records: %w", err)
	}
	s.logger.Info("Attendance batch exported",
		zap.String("hospital_id", hospitalID),
		zap.String("user_id", userID),
		zap.Int("count", len(records)),
	)
	return encodePayload(records)
}

// ImportBatch 先完整解码校验，任何失败都不做修改
// 合并规则：未知 id 插入；已知 id 仅当导入记录补充了签退信息时覆盖
func (s *transferService) ImportBatch(ctx context.Context, blob string) (*ImportResult, error) {
	data, err := decodePayload(blob)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: expected an array of records", ErrCorruptPayload)
	}
	records := make([]domain.AttendanceRecord, 0, len(raw))
	for i, item := range raw {
		trimmed := bytes.TrimSpace(item)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrCorruptPayload, i)
		}
		var rec domain.AttendanceRecord
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrCorruptPayload, i, err)
		}
		if err := s.validate.Struct(rec); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrCorruptPayload, i, err)
		}
		if rec.CheckOutTime != nil && rec.CheckOutTime.Before(rec.CheckInTime) {
			return nil, fmt.Errorf("%w: element %d: check-out before check-in", ErrCorruptPayload, i)
		}
		// 已签退的记录必须带时长
		if rec.CheckOutTime != nil && rec.DurationMinutes == nil {
			return nil, fmt.Errorf("%w: element %d: check-out without duration", ErrCorruptPayload, i)
		}
		records = append(records, rec)
	}

	result := &ImportResult{}
	for _, rec := range records {
		existing, ok, err := s.local.Records.Get(ctx, rec.ID)
		if err != nil {
			return result, fmt.Errorf("failed to load record: %w", err)
		}
		switch {
		case !ok:
			if rec.IsOpen() {
				// 每个用户最多一条进行中记录
				open, err := s.local.Records.Find(ctx, func(r domain.AttendanceRecord) bool {
					return r.UserID == rec.UserID && r.IsOpen()
				})
				if err != nil {
					return result, fmt.Errorf("failed to load records: %w", err)
				}
				if len(open) > 0 {
					result.Skipped++
					continue
				}
			}
			if err := s.sync.SaveRecord(ctx, rec); err != nil {
				return result, err
			}
			result.Imported++
		case existing.IsOpen() && !rec.IsOpen():
			if err := s.sync.SaveRecord(ctx, rec); err != nil {
				return result, err
			}
			result.Updated++
		default:
			result.Skipped++
		}
	}

	s.logger.Info("Attendance batch imported",
		zap.Int("imported", result.Imported),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *transferService) ExportConfig(ctx context.Context, hospitalID string) (string, error) {
	h, ok, err := s.local.Hospitals.Get(ctx, hospitalID)
	if err != nil {
		return "", fmt.Errorf("failed to load hospital: %w", err)
	}
	if !ok {
		return "", ErrHospitalNotFound
	}
	staff, err := s.local.Users.Find(ctx, func(u domain.StaffUser) bool { return u.HospitalID == hospitalID })
	if err != nil {
		return "", fmt.Errorf("failed to load staff: %w", err)
	}
	return encodePayload(ConfigPayload{Hospital: &h, Staff: staff, Timestamp: time.Now().UTC()})
}

func (s *transferService) ImportConfig(ctx context.Context, blob string) (*ConfigImportResult, error) {
	data, err := decodePayload(blob)
	if err != nil {
		return nil, err
	}
	var payload ConfigPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	if err := s.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	h := *payload.Hospital
	if h.ID == "" {
		return nil, fmt.Errorf("%w: hospital missing id", ErrCorruptPayload)
	}
	for i, u := range payload.Staff {
		if u.ID == "" {
			return nil, fmt.Errorf("%w: staff %d missing id", ErrCorruptPayload, i)
		}
		if u.HospitalID != "" && u.HospitalID != h.ID {
			return nil, fmt.Errorf("%w: staff %s belongs to another hospital", ErrCorruptPayload, u.ID)
		}
	}

	if err := s.sync.SaveHospital(ctx, h); err != nil {
		return nil, err
	}
	for _, u := range payload.Staff {
		u.HospitalID = h.ID
		if u.Role == "" {
			u.Role = domain.RoleStaff
		}
		if u.BoundDeviceID != "" {
			// 同一设备不能绑定两个账号：与本地其他账号冲突时丢弃导入的绑定
			others, err := s.local.Users.Find(ctx, func(o domain.StaffUser) bool {
				return o.ID != u.ID && o.BoundDeviceID == u.BoundDeviceID
			})
			if err != nil {
				return nil, fmt.Errorf("failed to load staff: %w", err)
			}
			if len(others) > 0 {
				s.logger.Warn("Dropping conflicting device binding from config import",
					zap.String("user_id", u.ID),
					zap.String("owner_id", others[0].ID),
				)
				u.BoundDeviceID = ""
			}
		}
		if err := s.sync.SaveUser(ctx, u); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Hospital config imported",
		zap.String("hospital_id", h.ID),
		zap.Int("staff", len(payload.Staff)),
	)
	return &ConfigImportResult{HospitalID: h.ID, StaffCount: len(payload.Staff)}, nil
}
