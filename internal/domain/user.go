package domain

// Role 用户角色
type Role string

const (
	RoleStaff         Role = "STAFF"
	RoleHospitalAdmin Role = "HOSPITAL_ADMIN"
	RoleSuperAdmin    Role = "SUPER_ADMIN"
	RoleLogViewer     Role = "LOG_VIEWER"
)

// IsAdmin 管理类角色跳过设备绑定检查
func (r Role) IsAdmin() bool {
	return r == RoleHospitalAdmin || r == RoleSuperAdmin
}

// StaffUser 员工领域模型，对应 users 表
// 不变量：同一个设备 ID 最多绑定一个员工
type StaffUser struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Role          Role   `json:"role"`
	HospitalID    string `json:"hospitalId"`
	Pin           string `json:"pin,omitempty"`
	Username      string `json:"username,omitempty"`
	BoundDeviceID string `json:"boundDeviceId,omitempty"`
}

func (u StaffUser) EntityID() string { return u.ID }

// Matches 按 username 或 PIN 匹配登录标识
func (u StaffUser) Matches(identifier string) bool {
	if identifier == "" {
		return false
	}
	return u.Username == identifier || u.Pin == identifier
}
