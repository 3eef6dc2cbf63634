package httpapi

import (
	"net/http"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/service"

	"go.uber.org/zap"
)

// TransferHandler 离线传输：导出为 base64url 文本，导入时整体校验
type TransferHandler struct {
	transfer service.TransferService
	logger   *zap.Logger
}

func NewTransferHandler(transfer service.TransferService, logger *zap.Logger) *TransferHandler {
	return &TransferHandler{transfer: transfer, logger: logger}
}

type transferPayload struct {
	Payload string `json:"payload"`
}

// ServeHTTP 员工只能导出自己的记录；其余操作需要管理员
func (h *TransferHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if !claims.Role.IsAdmin() && !(r.URL.Path == "/transfer/api/v1/batch" && r.Method == http.MethodGet) {
		writeJSON(w, http.StatusForbidden, Fail("insufficient role"))
		return
	}
	switch r.URL.Path {
	case "/transfer/api/v1/batch":
		switch r.Method {
		case http.MethodGet:
			h.ExportBatch(w, r)
		case http.MethodPost:
			h.ImportBatch(w, r)
		default:
			methodNotAllowed(w)
		}
	case "/transfer/api/v1/config":
		switch r.Method {
		case http.MethodGet:
			h.ExportConfig(w, r)
		case http.MethodPost:
			h.ImportConfig(w, r)
		default:
			methodNotAllowed(w)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *TransferHandler) ExportBatch(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	hospitalID, ok := scopeHospital(claims, r.URL.Query().Get("hospitalId"))
	if !ok {
		writeJSON(w, http.StatusForbidden, Fail("hospital out of scope"))
		return
	}
	if hospitalID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("hospitalId is required"))
		return
	}
	userID := r.URL.Query().Get("userId")
	if claims.Role == domain.RoleStaff {
		userID = claims.UserID
	}
	blob, err := h.transfer.ExportBatch(r.Context(), hospitalID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(transferPayload{Payload: blob}))
}

func (h *TransferHandler) ImportBatch(w http.ResponseWriter, r *http.Request) {
	var req transferPayload
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	res, err := h.transfer.ImportBatch(r.Context(), req.Payload)
	if err != nil {
		h.logger.Warn("Batch import rejected", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

func (h *TransferHandler) ExportConfig(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := scopeHospital(claimsFrom(r.Context()), r.URL.Query().Get("hospitalId"))
	if !ok {
		writeJSON(w, http.StatusForbidden, Fail("hospital out of scope"))
		return
	}
	if hospitalID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("hospitalId is required"))
		return
	}
	blob, err := h.transfer.ExportConfig(r.Context(), hospitalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(transferPayload{Payload: blob}))
}

func (h *TransferHandler) ImportConfig(w http.ResponseWriter, r *http.Request) {
	var req transferPayload
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	res, err := h.transfer.ImportConfig(r.Context(), req.Payload)
	if err != nil {
		h.logger.Warn("Config import rejected", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}
