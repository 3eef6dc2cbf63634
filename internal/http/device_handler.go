package httpapi

import (
	"context"
	"net/http"

	"wisefido-attendance/internal/domain"

	"go.uber.org/zap"
)

// DeviceIDSource 本机设备 ID（device.Identity 满足该接口）
type DeviceIDSource interface {
	GetOrCreate(ctx context.Context) (string, error)
}

// DeviceHandler 本机设备信息
type DeviceHandler struct {
	identity DeviceIDSource
	logger   *zap.Logger
}

func NewDeviceHandler(identity DeviceIDSource, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{identity: identity, logger: logger}
}

type deviceInfo struct {
	DeviceID string `json:"deviceId"`
	Suffix   string `json:"suffix"`
}

func (h *DeviceHandler) Identity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, err := h.identity.GetOrCreate(r.Context())
	if err != nil {
		h.logger.Error("Failed to resolve device id", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(deviceInfo{DeviceID: id, Suffix: domain.DeviceSuffix(id)}))
}
