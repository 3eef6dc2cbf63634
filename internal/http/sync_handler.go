package httpapi

import (
	"net/http"

	"wisefido-attendance/internal/service"

	"go.uber.org/zap"
)

// SyncHandler 手动触发同步 / 查看状态
type SyncHandler struct {
	sync   service.SyncService
	logger *zap.Logger
}

func NewSyncHandler(sync service.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{sync: sync, logger: logger}
}

func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/sync/api/v1/pull":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		res := h.sync.PullAndReconcile(r.Context())
		if !res.Success {
			writeJSON(w, http.StatusOK, Result[service.SyncResult]{Code: ResultError, Type: "error", Message: res.Message, Result: res})
			return
		}
		writeJSON(w, http.StatusOK, Result[service.SyncResult]{Code: ResultSuccess, Type: "success", Message: res.Message, Result: res})
	case "/sync/api/v1/push":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		n, err := h.sync.PushPending(r.Context())
		if err != nil {
			// 已推送部分仍然返回数量，剩余留在 outbox
			h.logger.Warn("Manual push incomplete", zap.Int("pushed", n), zap.Error(err))
			res := Fail(err.Error())
			res.Result = map[string]int{"pushed": n}
			writeJSON(w, statusFor(err), res)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]int{"pushed": n}))
	case "/sync/api/v1/status":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, Ok(h.sync.Status(r.Context())))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
