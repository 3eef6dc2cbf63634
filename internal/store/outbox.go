package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Outbox 操作类型
const (
	OpUpsert      = "upsert"
	OpDelete      = "delete"
	OpDeleteWhere = "delete_where"
)

// OutboxEntry 待推送到远端的写操作（按 Seq 顺序推送）
type OutboxEntry struct {
	Seq        int64           `json:"seq"`
	Op         string          `json:"op"`
	Table      string          `json:"table"`
	ID         string          `json:"id,omitempty"`
	Column     string          `json:"column,omitempty"`
	Value      string          `json:"value,omitempty"`
	Entity     json.RawMessage `json:"entity,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
}

type outboxState struct {
	NextSeq int64         `json:"next_seq"`
	Entries []OutboxEntry `json:"entries"`
}

// Outbox 持久化的远端写队列；本地写成功后入队，远端不可达时保留
type Outbox struct {
	kv  KV
	key string
	mu  sync.Mutex
}

func NewOutbox(kv KV, key string) *Outbox {
	return &Outbox{kv: kv, key: key}
}

func (o *Outbox) load(ctx context.Context) (outboxState, error) {
	st := outboxState{NextSeq: 1}
	raw, err := o.kv.Get(ctx, o.key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return st, nil
		}
		return st, fmt.Errorf("failed to read outbox: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return st, fmt.Errorf("failed to decode outbox: %w", err)
	}
	if st.NextSeq <= 0 {
		st.NextSeq = 1
	}
	return st, nil
}

func (o *Outbox) save(ctx context.Context, st outboxState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode outbox: %w", err)
	}
	return o.kv.Set(ctx, o.key, string(data), 0)
}

// Append 入队，返回分配的序号
func (o *Outbox) Append(ctx context.Context, e OutboxEntry) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, err := o.load(ctx)
	if err != nil {
		return 0, err
	}
	e.Seq = st.NextSeq
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}
	st.NextSeq++
	st.Entries = append(st.Entries, e)
	return e.Seq, o.save(ctx, st)
}

// Pending 当前未推送的操作（按序）
func (o *Outbox) Pending(ctx context.Context) ([]OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	return st.Entries, nil
}

// Ack 移除已推送成功的操作
func (o *Outbox) Ack(ctx context.Context, seq int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, err := o.load(ctx)
	if err != nil {
		return err
	}
	kept := st.Entries[:0]
	for _, e := range st.Entries {
		if e.Seq != seq {
			kept = append(kept, e)
		}
	}
	st.Entries = kept
	return o.save(ctx, st)
}

// MarkAttempt 记录一次失败的推送
func (o *Outbox) MarkAttempt(ctx context.Context, seq int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, err := o.load(ctx)
	if err != nil {
		return err
	}
	for i := range st.Entries {
		if st.Entries[i].Seq == seq {
			st.Entries[i].Attempts++
		}
	}
	return o.save(ctx, st)
}

// PendingTables 有待推送操作的表
func (o *Outbox) PendingTables(ctx context.Context) (map[string]int, error) {
	entries, err := o.Pending(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for _, e := range entries {
		out[e.Table]++
	}
	return out, nil
}
