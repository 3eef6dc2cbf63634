package httpapi

import (
	"net/http"
	"strings"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/service"

	"go.uber.org/zap"
)

// AuthHandler 登录
type AuthHandler struct {
	authService service.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, logger: logger}
}

func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	switch r.URL.Path {
	case "/auth/api/v1/login":
		h.Login(w, r)
	case "/auth/api/v1/hospital-login":
		h.HospitalLogin(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type loginRequest struct {
	HospitalID string `json:"hospitalId"`
	Identifier string `json:"identifier"`
}

// Login 员工登录（username / PIN），首次登录绑定本设备
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" {
		writeJSON(w, http.StatusBadRequest, Fail("identifier is required"))
		return
	}

	res, err := h.authService.Authenticate(r.Context(), service.AuthRequest{
		HospitalID: strings.TrimSpace(req.HospitalID),
		Identifier: req.Identifier,
	})
	if err != nil {
		h.logger.Info("Login rejected", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(sanitizeAuth(res)))
}

type hospitalLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HospitalLogin 医院管理员 / 查看日志 / 超级管理员登录
func (h *AuthHandler) HospitalLogin(w http.ResponseWriter, r *http.Request) {
	var req hospitalLoginRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	res, err := h.authService.HospitalLogin(r.Context(), service.HospitalLoginRequest{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
	})
	if err != nil {
		h.logger.Info("Hospital login rejected", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(sanitizeAuth(res)))
}

func sanitizeAuth(res *service.AuthResult) *service.AuthResult {
	out := *res
	if out.Hospital != nil {
		h := publicHospital(*out.Hospital)
		out.Hospital = &h
	}
	out.User.Pin = ""
	return &out
}

// publicHospital 对外输出时去掉密码哈希
func publicHospital(h domain.Hospital) domain.Hospital {
	h.LoginPassword = ""
	h.LogViewPassword = ""
	return h
}
