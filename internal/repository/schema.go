package repository

import "fmt"

// ColumnKind 列类型
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindFloat
	KindInt
	KindBool
	KindTime
	KindJSON
)

// Column 列定义
type Column struct {
	Name     string
	Kind     ColumnKind
	Nullable bool
}

// TableSchema 表结构（列顺序即 SELECT/INSERT 顺序）
type TableSchema struct {
	Name    string
	Columns []Column
}

// HasColumn 列是否存在
func (s TableSchema) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ColumnNames 列名列表
func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

var schemas = map[string]TableSchema{
	TableHospitals: {
		Name: TableHospitals,
		Columns: []Column{
			{Name: "id", Kind: KindText},
			{Name: "name", Kind: KindText},
			{Name: "registration_number", Kind: KindText},
			{Name: "login_username", Kind: KindText},
			{Name: "login_password", Kind: KindText},
			{Name: "log_view_password", Kind: KindText},
			{Name: "coords", Kind: KindJSON},
			{Name: "radius", Kind: KindFloat},
			{Name: "email_report_config", Kind: KindJSON, Nullable: true},
		},
	},
	TableUsers: {
		Name: TableUsers,
		Columns: []Column{
			{Name: "id", Kind: KindText},
			{Name: "name", Kind: KindText},
			{Name: "role", Kind: KindText},
			{Name: "hospital_id", Kind: KindText},
			{Name: "pin", Kind: KindText, Nullable: true},
			{Name: "username", Kind: KindText, Nullable: true},
			{Name: "bound_device_id", Kind: KindText, Nullable: true},
		},
	},
	TableRecords: {
		Name: TableRecords,
		Columns: []Column{
			{Name: "id", Kind: KindText},
			{Name: "user_id", Kind: KindText},
			{Name: "user_name", Kind: KindText},
			{Name: "hospital_id", Kind: KindText},
			{Name: "hospital_name", Kind: KindText},
			{Name: "check_in_time", Kind: KindTime},
			{Name: "check_out_time", Kind: KindTime, Nullable: true},
			{Name: "check_in_coords", Kind: KindJSON},
			{Name: "check_out_coords", Kind: KindJSON, Nullable: true},
			{Name: "flagged", Kind: KindBool},
			{Name: "distance_from_center", Kind: KindFloat},
			{Name: "duration_minutes", Kind: KindInt, Nullable: true},
			{Name: "check_in_device_id", Kind: KindText},
			{Name: "check_out_device_id", Kind: KindText, Nullable: true},
			{Name: "anomaly", Kind: KindText, Nullable: true},
		},
	},
}

// SchemaFor 查询表结构
func SchemaFor(table string) (TableSchema, error) {
	s, ok := schemas[table]
	if !ok {
		return TableSchema{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return s, nil
}

// PostgresDDL 远端建表语句（幂等）
const PostgresDDL = `
CREATE TABLE IF NOT EXISTS hospitals (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	registration_number TEXT NOT NULL DEFAULT '',
	login_username      TEXT NOT NULL DEFAULT '',
	login_password      TEXT NOT NULL DEFAULT '',
	log_view_password   TEXT NOT NULL DEFAULT '',
	coords              JSONB NOT NULL,
	radius              DOUBLE PRECISION NOT NULL DEFAULT 15,
	email_report_config JSONB
);

CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	role            TEXT NOT NULL DEFAULT 'STAFF',
	hospital_id     TEXT NOT NULL,
	pin             TEXT,
	username        TEXT,
	bound_device_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_users_hospital_id ON users (hospital_id);

CREATE TABLE IF NOT EXISTS attendance_records (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	user_name            TEXT NOT NULL DEFAULT '',
	hospital_id          TEXT NOT NULL,
	hospital_name        TEXT NOT NULL DEFAULT '',
	check_in_time        TIMESTAMPTZ NOT NULL,
	check_out_time       TIMESTAMPTZ,
	check_in_coords      JSONB NOT NULL,
	check_out_coords     JSONB,
	flagged              BOOLEAN NOT NULL DEFAULT FALSE,
	distance_from_center DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_minutes     INTEGER,
	check_in_device_id   TEXT NOT NULL DEFAULT '',
	check_out_device_id  TEXT,
	anomaly              TEXT
);
CREATE INDEX IF NOT EXISTS idx_attendance_records_hospital_id ON attendance_records (hospital_id);
CREATE INDEX IF NOT EXISTS idx_attendance_records_user_id ON attendance_records (user_id);
`
