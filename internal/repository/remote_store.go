package repository

import (
	"context"
	"errors"
)

// 远端表名
const (
	TableHospitals = "hospitals"
	TableUsers     = "users"
	TableRecords   = "attendance_records"
)

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
	// ErrRemoteUnreachable 远端不可达（同步软失败）
	ErrRemoteUnreachable = errors.New("remote store unreachable")
	// ErrRowRejected 远端拒绝该行（约束/数据错误），重试无意义
	ErrRowRejected = errors.New("row rejected by remote store")
)

// Row 远端行：列名 -> 值
// 值类型约定：text=string, float=float64, int=int64, bool=bool, time=time.Time, json=map[string]any/[]any
// 可空列为 nil
type Row map[string]any

// RemoteStore 远端表格存储契约
// 三张表：hospitals / users / attendance_records，均以 id 为主键
type RemoteStore interface {
	Ping(ctx context.Context) error
	SelectAll(ctx context.Context, table string) ([]Row, error)
	Upsert(ctx context.Context, table string, row Row) error
	DeleteByID(ctx context.Context, table, id string) error
	DeleteWhere(ctx context.Context, table, column, value string) error
}
