package repository

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"wisefido-attendance/internal/domain"
)

// 实体字段 <-> 远端列 的双向映射（camelCase <-> snake_case）
// 任何字段都必须可无损往返

// HospitalToRow Hospital -> hospitals 行
func HospitalToRow(h domain.Hospital) Row {
	row := Row{
		"id":                  h.ID,
		"name":                h.Name,
		"registration_number": h.RegistrationNumber,
		"login_username":      h.LoginUsername,
		"login_password":      h.LoginPassword,
		"log_view_password":   h.LogViewPassword,
		"coords":              toJSONValue(h.Coords),
		"radius":              h.Radius,
		"email_report_config": nil,
	}
	if h.EmailReportConfig != nil {
		row["email_report_config"] = toJSONValue(h.EmailReportConfig)
	}
	return row
}

// RowToHospital hospitals 行 -> Hospital
func RowToHospital(row Row) (domain.Hospital, error) {
	var h domain.Hospital
	var err error
	if h.ID, err = requiredString(row, "id"); err != nil {
		return h, err
	}
	h.Name = asString(row["name"])
	h.RegistrationNumber = asString(row["registration_number"])
	h.LoginUsername = asString(row["login_username"])
	h.LoginPassword = asString(row["login_password"])
	h.LogViewPassword = asString(row["log_view_password"])
	if err := fromJSONValue(row["coords"], &h.Coords); err != nil {
		return h, fmt.Errorf("hospital %s coords: %w", h.ID, err)
	}
	if h.Radius, err = asFloat(row["radius"]); err != nil {
		return h, fmt.Errorf("hospital %s radius: %w", h.ID, err)
	}
	if v := row["email_report_config"]; v != nil {
		var cfg domain.EmailReportConfig
		if err := fromJSONValue(v, &cfg); err != nil {
			return h, fmt.Errorf("hospital %s email_report_config: %w", h.ID, err)
		}
		h.EmailReportConfig = &cfg
	}
	return h, nil
}

// UserToRow StaffUser -> users 行
func UserToRow(u domain.StaffUser) Row {
	return Row{
		"id":              u.ID,
		"name":            u.Name,
		"role":            string(u.Role),
		"hospital_id":     u.HospitalID,
		"pin":             nullableString(u.Pin),
		"username":        nullableString(u.Username),
		"bound_device_id": nullableString(u.BoundDeviceID),
	}
}

// RowToUser users 行 -> StaffUser
func RowToUser(row Row) (domain.StaffUser, error) {
	var u domain.StaffUser
	var err error
	if u.ID, err = requiredString(row, "id"); err != nil {
		return u, err
	}
	u.Name = asString(row["name"])
	u.Role = domain.Role(asString(row["role"]))
	if u.Role == "" {
		u.Role = domain.RoleStaff
	}
	u.HospitalID = asString(row["hospital_id"])
	u.Pin = asString(row["pin"])
	u.Username = asString(row["username"])
	u.BoundDeviceID = asString(row["bound_device_id"])
	return u, nil
}

// RecordToRow AttendanceRecord -> attendance_records 行
func RecordToRow(r domain.AttendanceRecord) Row {
	row := Row{
		"id":                   r.ID,
		"user_id":              r.UserID,
		"user_name":            r.UserName,
		"hospital_id":          r.HospitalID,
		"hospital_name":        r.HospitalName,
		"check_in_time":        r.CheckInTime.UTC(),
		"check_out_time":       nil,
		"check_in_coords":      toJSONValue(r.CheckInCoords),
		"check_out_coords":     nil,
		"flagged":              r.Flagged,
		"distance_from_center": r.DistanceFromCenter,
		"duration_minutes":     nil,
		"check_in_device_id":   r.CheckInDeviceID,
		"check_out_device_id":  nullableString(r.CheckOutDeviceID),
		"anomaly":              nullableString(string(r.Anomaly)),
	}
	if r.CheckOutTime != nil {
		row["check_out_time"] = r.CheckOutTime.UTC()
	}
	if r.CheckOutCoords != nil {
		row["check_out_coords"] = toJSONValue(*r.CheckOutCoords)
	}
	if r.DurationMinutes != nil {
		row["duration_minutes"] = int64(*r.DurationMinutes)
	}
	return row
}

// RowToRecord attendance_records 行 -> AttendanceRecord
func RowToRecord(row Row) (domain.AttendanceRecord, error) {
	var r domain.AttendanceRecord
	var err error
	if r.ID, err = requiredString(row, "id"); err != nil {
		return r, err
	}
	r.UserID = asString(row["user_id"])
	r.UserName = asString(row["user_name"])
	r.HospitalID = asString(row["hospital_id"])
	r.HospitalName = asString(row["hospital_name"])

	if r.CheckInTime, err = asTime(row["check_in_time"]); err != nil {
		return r, fmt.Errorf("record %s check_in_time: %w", r.ID, err)
	}
	if v := row["check_out_time"]; v != nil {
		t, err := asTime(v)
		if err != nil {
			return r, fmt.Errorf("record %s check_out_time: %w", r.ID, err)
		}
		r.CheckOutTime = &t
	}
	if err := fromJSONValue(row["check_in_coords"], &r.CheckInCoords); err != nil {
		return r, fmt.Errorf("record %s check_in_coords: %w", r.ID, err)
	}
	if v := row["check_out_coords"]; v != nil {
		var c domain.Coordinate
		if err := fromJSONValue(v, &c); err != nil {
			return r, fmt.Errorf("record %s check_out_coords: %w", r.ID, err)
		}
		r.CheckOutCoords = &c
	}
	r.Flagged = asBool(row["flagged"])
	if r.DistanceFromCenter, err = asFloat(row["distance_from_center"]); err != nil {
		return r, fmt.Errorf("record %s distance_from_center: %w", r.ID, err)
	}
	if v := row["duration_minutes"]; v != nil {
		n, err := asInt(v)
		if err != nil {
			return r, fmt.Errorf("record %s duration_minutes: %w", r.ID, err)
		}
		d := int(n)
		r.DurationMinutes = &d
	}
	r.CheckInDeviceID = asString(row["check_in_device_id"])
	r.CheckOutDeviceID = asString(row["check_out_device_id"])
	r.Anomaly = domain.Anomaly(asString(row["anomaly"]))
	return r, nil
}

func requiredString(row Row, col string) (string, error) {
	s := asString(row[col])
	if s == "" {
		return "", fmt.Errorf("row missing %s", col)
	}
	return s, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func asFloat(v any) (float64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	default:
		return 0, fmt.Errorf("unexpected float value %T", v)
	}
}

func asInt(v any) (int64, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		if val != math.Trunc(val) {
			return 0, fmt.Errorf("non-integer value %v", val)
		}
		return int64(val), nil
	case json.Number:
		return val.Int64()
	default:
		return 0, fmt.Errorf("unexpected int value %T", v)
	}
}

func asBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "t"
	default:
		return false
	}
}

func asTime(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected time value %T", v)
	}
}

// toJSONValue 结构体 -> 通用 JSON 值（map[string]any）
func toJSONValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// fromJSONValue 通用 JSON 值（map / []byte / string）-> 结构体
func fromJSONValue(v any, dst any) error {
	var data []byte
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("missing value")
	case []byte:
		data = val
	case string:
		data = []byte(val)
	case json.RawMessage:
		data = val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		data = b
	}
	return json.Unmarshal(data, dst)
}
