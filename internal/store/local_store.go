package store

import "wisefido-attendance/internal/domain"

// 本地存储 key
const (
	KeyHospitals = "attendance:hospitals"
	KeyUsers     = "attendance:users"
	KeyRecords   = "attendance:records"
	KeyOutbox    = "attendance:sync:outbox"
	KeyDeviceID  = "attendance:device:id"
)

// LocalStore 设备本地的三个实体集合 + 同步队列
type LocalStore struct {
	KV        KV
	Hospitals *Collection[domain.Hospital]
	Users     *Collection[domain.StaffUser]
	Records   *Collection[domain.AttendanceRecord]
	Outbox    *Outbox
}

func NewLocalStore(kv KV) *LocalStore {
	return &LocalStore{
		KV:        kv,
		Hospitals: NewCollection[domain.Hospital](kv, KeyHospitals),
		Users:     NewCollection[domain.StaffUser](kv, KeyUsers),
		Records:   NewCollection[domain.AttendanceRecord](kv, KeyRecords),
		Outbox:    NewOutbox(kv, KeyOutbox),
	}
}
