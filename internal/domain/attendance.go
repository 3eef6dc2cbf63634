package domain

import "time"

// Anomaly 记录级异常标记
type Anomaly string

const (
	AnomalyNone           Anomaly = ""
	AnomalyDeviceMismatch Anomaly = "DEVICE_MISMATCH"
)

// AttendanceRecord 考勤记录，对应 attendance_records 表
// CheckOutTime 为空表示班次进行中；每个用户最多一条进行中的记录
type AttendanceRecord struct {
	ID                 string      `json:"id" validate:"required"`
	UserID             string      `json:"userId" validate:"required"`
	UserName           string      `json:"userName"`
	HospitalID         string      `json:"hospitalId" validate:"required"`
	HospitalName       string      `json:"hospitalName"`
	CheckInTime        time.Time   `json:"checkInTime" validate:"required"`
	CheckOutTime       *time.Time  `json:"checkOutTime,omitempty"`
	CheckInCoords      Coordinate  `json:"checkInCoords"`
	CheckOutCoords     *Coordinate `json:"checkOutCoords,omitempty"`
	Flagged            bool        `json:"flagged"`
	DistanceFromCenter float64     `json:"distanceFromCenter" validate:"gte=0"`
	DurationMinutes    *int        `json:"durationMinutes,omitempty" validate:"omitempty,gte=0"`
	CheckInDeviceID    string      `json:"checkInDeviceId"`
	CheckOutDeviceID   string      `json:"checkOutDeviceId,omitempty"`
	Anomaly            Anomaly     `json:"anomaly,omitempty"`
}

func (r AttendanceRecord) EntityID() string { return r.ID }

// IsOpen 是否为进行中的班次
func (r AttendanceRecord) IsOpen() bool {
	return r.CheckOutTime == nil
}

// DeviceSuffix 设备 ID 末 4 位（报表备注用）
func DeviceSuffix(deviceID string) string {
	if len(deviceID) <= 4 {
		return deviceID
	}
	return deviceID[len(deviceID)-4:]
}
