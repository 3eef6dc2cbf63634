package domain

// DefaultGeofenceRadius 医院地理围栏默认半径（米）
const DefaultGeofenceRadius = 15.0

// Hospital 医院（租户）领域模型，对应 hospitals 表
// Coords + Radius 构成地理围栏；Coords 只能通过显式重新采集修改
type Hospital struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	RegistrationNumber string             `json:"registrationNumber"`
	LoginUsername      string             `json:"loginUsername"`
	LoginPassword      string             `json:"loginPassword"`   // bcrypt hash
	LogViewPassword    string             `json:"logViewPassword"` // bcrypt hash
	Coords             Coordinate         `json:"coords"`
	Radius             float64            `json:"radius"`
	EmailReportConfig  *EmailReportConfig `json:"emailReportConfig,omitempty"`
}

// EmailReportConfig 每日报表邮件配置
type EmailReportConfig struct {
	Enabled    bool     `json:"enabled"`
	Recipients []string `json:"recipients"`
	Cc         []string `json:"cc,omitempty"`
}

func (h Hospital) EntityID() string { return h.ID }
