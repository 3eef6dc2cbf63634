package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRemoteStore 进程内远端（测试、演示）；可模拟离线
type MemoryRemoteStore struct {
	mu      sync.RWMutex
	tables  map[string]map[string]Row
	offline bool
	failW   bool
	calls   map[string]int
}

func NewMemoryRemoteStore() *MemoryRemoteStore {
	return &MemoryRemoteStore{
		tables: map[string]map[string]Row{
			TableHospitals: {},
			TableUsers:     {},
			TableRecords:   {},
		},
		calls: map[string]int{},
	}
}

var _ RemoteStore = (*MemoryRemoteStore)(nil)

// SetOffline 模拟网络中断
func (m *MemoryRemoteStore) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// SetFailWrites 模拟可读不可写（推送失败）
func (m *MemoryRemoteStore) SetFailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failW = fail
}

// Calls 操作计数（op:table）
func (m *MemoryRemoteStore) Calls(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[key]
}

func (m *MemoryRemoteStore) check(op, table string) (map[string]Row, error) {
	m.calls[op+":"+table]++
	if m.offline {
		return nil, ErrRemoteUnreachable
	}
	if m.failW && op != "select" {
		return nil, ErrRemoteUnreachable
	}
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return t, nil
}

func (m *MemoryRemoteStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.offline {
		return ErrRemoteUnreachable
	}
	return nil
}

func (m *MemoryRemoteStore) SelectAll(_ context.Context, table string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.check("select", table)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Row, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRow(t[id]))
	}
	return out, nil
}

func (m *MemoryRemoteStore) Upsert(_ context.Context, table string, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.check("upsert", table)
	if err != nil {
		return err
	}
	id := asString(row["id"])
	if id == "" {
		return fmt.Errorf("upsert %s: row missing id", table)
	}
	t[id] = copyRow(row)
	return nil
}

func (m *MemoryRemoteStore) DeleteByID(_ context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.check("delete", table)
	if err != nil {
		return err
	}
	delete(t, id)
	return nil
}

func (m *MemoryRemoteStore) DeleteWhere(_ context.Context, table, column, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.check("delete_where", table)
	if err != nil {
		return err
	}
	schema, _ := SchemaFor(table)
	if !schema.HasColumn(column) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, column)
	}
	for id, row := range t {
		if asString(row[column]) == value {
			delete(t, id)
		}
	}
	return nil
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
