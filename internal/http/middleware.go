package httpapi

import (
	"context"
	"net/http"
	"strings"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/service"

	"go.uber.org/zap"
)

type claimsKey struct{}

// TokenParser 校验会话令牌（service.AuthService 满足该接口）
type TokenParser interface {
	ParseToken(token string) (*service.Claims, error)
}

func claimsFrom(ctx context.Context) *service.Claims {
	c, _ := ctx.Value(claimsKey{}).(*service.Claims)
	return c
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Authenticator 令牌校验 + 角色限制
type Authenticator struct {
	tokens TokenParser
	logger *zap.Logger
}

func NewAuthenticator(tokens TokenParser, logger *zap.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, logger: logger}
}

// Require 要求有效令牌；roles 为空表示任意角色
func (a *Authenticator) Require(next http.HandlerFunc, roles ...domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			res := Fail("missing bearer token")
			res.Code = ResultTokenExpired
			writeJSON(w, http.StatusUnauthorized, res)
			return
		}
		claims, err := a.tokens.ParseToken(token)
		if err != nil {
			res := Fail("invalid or expired token")
			res.Code = ResultTokenExpired
			writeJSON(w, http.StatusUnauthorized, res)
			return
		}
		if len(roles) > 0 && !hasRole(claims.Role, roles) {
			a.logger.Warn("Forbidden route",
				zap.String("user_id", claims.UserID),
				zap.String("role", string(claims.Role)),
				zap.String("path", r.URL.Path),
			)
			writeJSON(w, http.StatusForbidden, Fail("insufficient role"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}

func hasRole(role domain.Role, allowed []domain.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// scopeHospital 医院级角色只能访问本院数据；超级管理员可访问任意医院
func scopeHospital(c *service.Claims, requested string) (string, bool) {
	if c.Role == domain.RoleSuperAdmin {
		return requested, true
	}
	if requested == "" || requested == c.HospitalID {
		return c.HospitalID, true
	}
	return "", false
}
