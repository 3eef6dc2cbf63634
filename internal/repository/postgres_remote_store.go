package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresRemoteStore 远端 PostgreSQL 实现（lib/pq）
// SQL 由静态表结构生成，列名不接受外部输入
type PostgresRemoteStore struct {
	db     *sql.DB
	logger *zap.Logger
	// 离线启动时建表推迟到第一次 Ping 成功
	schemaReady atomic.Bool
}

// NewPostgresRemoteStore 创建远端存储
func NewPostgresRemoteStore(db *sql.DB, logger *zap.Logger) *PostgresRemoteStore {
	return &PostgresRemoteStore{db: db, logger: logger}
}

// 确保实现了接口
var _ RemoteStore = (*PostgresRemoteStore)(nil)

// EnsureSchema 建表（幂等）
func (s *PostgresRemoteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	s.schemaReady.Store(true)
	return nil
}

// Ping 连通性检查；首次连通时确保表结构存在
func (s *PostgresRemoteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	if !s.schemaReady.Load() {
		if err := s.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
		}
	}
	return nil
}

// rejected 数据异常(22)/约束冲突(23) 重试也不会成功
func rejected(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return fmt.Errorf("%w: %v", ErrRowRejected, err)
		}
	}
	return err
}

// SelectAll 全表查询（按 id 排序）
func (s *PostgresRemoteStore) SelectAll(ctx context.Context, table string) ([]Row, error) {
	schema, err := SchemaFor(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`,
		strings.Join(schema.ColumnNames(), ", "), schema.Name)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", table, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		dest := scanTargets(schema)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		row, err := rowFromTargets(schema, dest)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
	}
	return out, nil
}

// Upsert INSERT ... ON CONFLICT (id) DO UPDATE
func (s *PostgresRemoteStore) Upsert(ctx context.Context, table string, row Row) error {
	schema, err := SchemaFor(table)
	if err != nil {
		return err
	}
	if asString(row["id"]) == "" {
		return fmt.Errorf("upsert %s: row missing id", table)
	}

	cols := schema.ColumnNames()
	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	args := make([]any, len(cols))
	for i, c := range schema.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if c.Name != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c.Name, c.Name))
		}
		arg, err := toSQLArg(c, row[c.Name])
		if err != nil {
			return fmt.Errorf("upsert %s.%s: %w", table, c.Name, err)
		}
		args[i] = arg
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s`,
		schema.Name,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", table, rejected(err))
	}
	return nil
}

// DeleteByID 按主键删除
func (s *PostgresRemoteStore) DeleteByID(ctx context.Context, table, id string) error {
	schema, err := SchemaFor(table)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, schema.Name)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, rejected(err))
	}
	return nil
}

// DeleteWhere 按外键删除（列名必须在表结构中）
func (s *PostgresRemoteStore) DeleteWhere(ctx context.Context, table, column, value string) error {
	schema, err := SchemaFor(table)
	if err != nil {
		return err
	}
	if !schema.HasColumn(column) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, column)
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, schema.Name, column)
	res, err := s.db.ExecContext(ctx, query, value)
	if err != nil {
		return fmt.Errorf("failed to delete from %s by %s: %w", table, column, rejected(err))
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug("Remote rows deleted",
			zap.String("table", table),
			zap.String("column", column),
			zap.Int64("rows", n),
		)
	}
	return nil
}

func scanTargets(schema TableSchema) []any {
	dest := make([]any, len(schema.Columns))
	for i, c := range schema.Columns {
		switch c.Kind {
		case KindText:
			dest[i] = new(sql.NullString)
		case KindFloat:
			dest[i] = new(sql.NullFloat64)
		case KindInt:
			dest[i] = new(sql.NullInt64)
		case KindBool:
			dest[i] = new(sql.NullBool)
		case KindTime:
			dest[i] = new(sql.NullTime)
		case KindJSON:
			dest[i] = new([]byte)
		}
	}
	return dest
}

func rowFromTargets(schema TableSchema, dest []any) (Row, error) {
	row := Row{}
	for i, c := range schema.Columns {
		var v any
		switch d := dest[i].(type) {
		case *sql.NullString:
			if d.Valid {
				v = d.String
			}
		case *sql.NullFloat64:
			if d.Valid {
				v = d.Float64
			}
		case *sql.NullInt64:
			if d.Valid {
				v = d.Int64
			}
		case *sql.NullBool:
			if d.Valid {
				v = d.Bool
			}
		case *sql.NullTime:
			if d.Valid {
				v = d.Time.UTC()
			}
		case *[]byte:
			if *d != nil {
				var decoded any
				if err := json.Unmarshal(*d, &decoded); err != nil {
					return nil, fmt.Errorf("column %s: %w", c.Name, err)
				}
				v = decoded
			}
		}
		row[c.Name] = v
	}
	return row, nil
}

func toSQLArg(c Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Kind {
	case KindJSON:
		// jsonb 参数以文本传递
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case KindTime:
		return asTime(v)
	case KindInt:
		return asInt(v)
	case KindFloat:
		return asFloat(v)
	default:
		return v, nil
	}
}
