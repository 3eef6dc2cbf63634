package httpapi

import (
	"net/http"

	"wisefido-attendance/internal/domain"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	auth   *Authenticator
	logger *zap.Logger
}

func NewRouter(auth *Authenticator, logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		auth:   auth,
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

var (
	adminRoles  = []domain.Role{domain.RoleHospitalAdmin, domain.RoleSuperAdmin}
	reportRoles = []domain.Role{domain.RoleHospitalAdmin, domain.RoleSuperAdmin, domain.RoleLogViewer}
)

// RegisterAuthRoutes 登录（无需令牌）
func (r *Router) RegisterAuthRoutes(h *AuthHandler) {
	r.Handle("/auth/api/v1/login", h.ServeHTTP)
	r.Handle("/auth/api/v1/hospital-login", h.ServeHTTP)
}

// RegisterAttendanceRoutes 签到/签退（员工令牌）
func (r *Router) RegisterAttendanceRoutes(h *AttendanceHandler) {
	r.Handle("/attendance/api/v1/check-in", r.auth.Require(h.ServeHTTP))
	r.Handle("/attendance/api/v1/check-out", r.auth.Require(h.ServeHTTP))
	r.Handle("/attendance/api/v1/open", r.auth.Require(h.ServeHTTP))
}

func (r *Router) RegisterSyncRoutes(h *SyncHandler) {
	r.Handle("/sync/api/v1/pull", r.auth.Require(h.ServeHTTP))
	r.Handle("/sync/api/v1/push", r.auth.Require(h.ServeHTTP))
	r.Handle("/sync/api/v1/status", r.auth.Require(h.ServeHTTP))
}

func (r *Router) RegisterTransferRoutes(h *TransferHandler) {
	r.Handle("/transfer/api/v1/batch", r.auth.Require(h.ServeHTTP))
	r.Handle("/transfer/api/v1/config", r.auth.Require(h.ServeHTTP))
}

// RegisterAdminRoutes 管理接口（医院管理员 / 超级管理员）
func (r *Router) RegisterAdminRoutes(h *AdminHandler) {
	r.Handle("/admin/api/v1/hospitals", r.auth.Require(h.Hospitals, adminRoles...))
	r.Handle("/admin/api/v1/hospitals/", r.auth.Require(h.Hospitals, adminRoles...))
	r.Handle("/admin/api/v1/staff", r.auth.Require(h.Staff, adminRoles...))
	r.Handle("/admin/api/v1/staff/", r.auth.Require(h.Staff, adminRoles...))
}

// RegisterReportRoutes 报表（含只读的日志查看角色）
func (r *Router) RegisterReportRoutes(h *ReportHandler) {
	r.Handle("/report/api/v1/records", r.auth.Require(h.ServeHTTP, reportRoles...))
	r.Handle("/report/api/v1/export", r.auth.Require(h.ServeHTTP, reportRoles...))
	r.Handle("/report/api/v1/summary", r.auth.Require(h.ServeHTTP, reportRoles...))
}

// RegisterDeviceRoutes 本机设备信息（无需令牌，登录页展示）
func (r *Router) RegisterDeviceRoutes(h *DeviceHandler) {
	r.Handle("/device/api/v1/identity", h.Identity)
}

func (r *Router) RegisterHealthRoutes() {
	r.Handle("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}
