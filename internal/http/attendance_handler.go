package httpapi

import (
	"net/http"

	"wisefido-attendance/internal/service"

	"go.uber.org/zap"
)

// AttendanceHandler 签到/签退，员工 ID 取自会话令牌
type AttendanceHandler struct {
	attendance service.AttendanceService
	logger     *zap.Logger
}

func NewAttendanceHandler(attendance service.AttendanceService, logger *zap.Logger) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance, logger: logger}
}

func (h *AttendanceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/attendance/api/v1/check-in":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.CheckIn(w, r)
	case "/attendance/api/v1/check-out":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.CheckOut(w, r)
	case "/attendance/api/v1/open":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.Open(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *AttendanceHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var rep LocationReport
	if err := readBodyJSON(r, 1<<20, &rep); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	r = withLocation(r, rep)

	rec, err := h.attendance.CheckInByID(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Info("Check-in rejected", zap.String("user_id", claims.UserID), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rec))
}

func (h *AttendanceHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var rep LocationReport
	if err := readBodyJSON(r, 1<<20, &rep); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	r = withLocation(r, rep)

	res, err := h.attendance.CheckOutByID(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Info("Check-out rejected", zap.String("user_id", claims.UserID), zap.Error(err))
		writeError(w, err)
		return
	}
	if res.Warning != "" {
		writeJSON(w, http.StatusOK, Warn(res.Warning, res))
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// Open 当前进行中的班次；没有则 result 为 null
func (h *AttendanceHandler) Open(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	rec, err := h.attendance.OpenRecord(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rec))
}
