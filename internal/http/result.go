package httpapi

// Result 本地 API 统一响应结构
// - code: 2000 成功，-1 失败，60401 令牌无效/过期
// - type: 'success' | 'error' | 'warning'
// - remediation: 失败时给用户的处理建议（可为空）
type Result[T any] struct {
	Code        int    `json:"code"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
	Result      T      `json:"result"`
}

const (
	ResultSuccess      = 2000
	ResultError        = -1
	ResultTokenExpired = 60401
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

// Warn 操作成功但有降级（例如签退未取得位置）
func Warn[T any](message string, result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "warning", Message: message, Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}
