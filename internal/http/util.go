package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/geo"
	"wisefido-attendance/internal/service"
)

const maxBodyBytes = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// statusFor 哨兵错误 -> HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrDeviceOwnedByOther),
		errors.Is(err, service.ErrAccountBoundElsewhere):
		return http.StatusForbidden
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrHospitalNotFound),
		errors.Is(err, service.ErrNoOpenShift):
		return http.StatusNotFound
	case errors.Is(err, service.ErrShiftAlreadyOpen),
		errors.Is(err, service.ErrAmbiguousAccount),
		errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrCorruptPayload),
		errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrLocationUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrRemoteUnreachable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError 统一错误输出；5xx 不向调用方暴露内部错误
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	res := Fail(err.Error())
	if status == http.StatusInternalServerError {
		res.Message = "internal error"
	}
	res.Remediation = service.Remediation(err)
	writeJSON(w, status, res)
}

func methodNotAllowed(w http.ResponseWriter) {
	w.WriteHeader(http.StatusMethodNotAllowed)
}

// LocationReport UI 端随请求上报的定位结果（浏览器 geolocation）
type LocationReport struct {
	Location      *domain.Coordinate `json:"location,omitempty"`
	LocationError string             `json:"locationError,omitempty"`
}

// withLocation 把上报的定位结果放进 context，供 geo.ContextLocator 使用
func withLocation(r *http.Request, rep LocationReport) *http.Request {
	ctx := r.Context()
	switch {
	case rep.Location != nil:
		ctx = geo.WithReportedFix(ctx, *rep.Location)
	case rep.LocationError != "":
		ctx = geo.WithReportedDenial(ctx, rep.LocationError)
	default:
		return r
	}
	return r.WithContext(ctx)
}

// parseTimeParam 支持 RFC3339 或 YYYY-MM-DD（按 loc 解析）
func parseTimeParam(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad time %q", service.ErrInvalidArgument, s)
	}
	return &t, nil
}
