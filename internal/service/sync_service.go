package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/store"

	"go.uber.org/zap"
)

// SyncService 本地优先的写入 + 远端拉取合并
//
// 写入：先写本地，再写入 outbox，由后台推送协程按序推送到远端。
// 拉取：先清空 outbox，再逐集合对齐（远端为空则以本地为准推送，否则远端整集合覆盖本地）。
type SyncService interface {
	SaveHospital(ctx context.Context, h domain.Hospital) error
	SaveUser(ctx context.Context, u domain.StaffUser) error
	SaveRecord(ctx context.Context, r domain.AttendanceRecord) error

	DeleteHospital(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, id string) error
	DeleteUsersByHospital(ctx context.Context, hospitalID string) ([]domain.StaffUser, error)
	DeleteRecordsByHospital(ctx context.Context, hospitalID string) ([]domain.AttendanceRecord, error)

	PushPending(ctx context.Context) (int, error)
	PullAndReconcile(ctx context.Context) SyncResult
	Status(ctx context.Context) SyncStatus

	RunPusher(ctx context.Context)
	Run(ctx context.Context, interval time.Duration)
}

// SyncOptions 同步参数
type SyncOptions struct {
	Timeout    time.Duration // 单次远端调用超时
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// 集合对齐结果
const (
	ActionPulled    = "pulled"
	ActionSeeded    = "seeded"
	ActionUnchanged = "unchanged"
	ActionSkipped   = "skipped"
	ActionFailed    = "failed"
)

// CollectionResult 单个集合的对齐结果
type CollectionResult struct {
	Table  string `json:"table"`
	Action string `json:"action"`
	Count  int    `json:"count"`
	Error  string `json:"error,omitempty"`
}

// SyncResult pullAndReconcile 结果
type SyncResult struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message"`
	Collections []CollectionResult `json:"collections,omitempty"`
}

// SyncStatus 同步状态
type SyncStatus struct {
	RemoteConfigured bool   `json:"remoteConfigured"`
	Online           bool   `json:"online"`
	PendingOps       int    `json:"pendingOps"`
	LastPullAt       string `json:"lastPullAt,omitempty"`
	LastPullMessage  string `json:"lastPullMessage,omitempty"`
}

const (
	msgNoRemote = "No remote store configured; running local-only."
	msgOffline  = "Remote store unreachable; working offline. Local data unchanged."
)

type syncService struct {
	local  *store.LocalStore
	remote repository.RemoteStore // nil 表示仅本地
	opts   SyncOptions
	logger *zap.Logger

	// 本地写入取读锁，拉取覆盖取写锁，避免覆盖与写入交错
	mu     sync.RWMutex
	pushMu sync.Mutex
	notify chan struct{}

	statusMu sync.Mutex
	lastPull time.Time
	lastMsg  string
}

// NewSyncService 创建 SyncService；remote 为 nil 时为仅本地模式
func NewSyncService(local *store.LocalStore, remote repository.RemoteStore, opts SyncOptions, logger *zap.Logger) SyncService {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = 30 * time.Second
	}
	return &syncService{
		local:  local,
		remote: remote,
		opts:   opts,
		logger: logger,
		notify: make(chan struct{}, 1),
	}
}

// normalizeRecord 时间统一为 UTC 毫秒精度，保证与远端往返无损
func normalizeRecord(r domain.AttendanceRecord) domain.AttendanceRecord {
	r.CheckInTime = r.CheckInTime.UTC().Truncate(time.Millisecond)
	if r.CheckOutTime != nil {
		t := r.CheckOutTime.UTC().Truncate(time.Millisecond)
		r.CheckOutTime = &t
	}
	return r
}

func (s *syncService) SaveHospital(ctx context.Context, h domain.Hospital) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.local.Hospitals.Upsert(ctx, h); err != nil {
		return fmt.Errorf("failed to save hospital locally: %w", err)
	}
	return s.enqueueUpsert(ctx, repository.TableHospitals, h.ID, h)
}

func (s *syncService) SaveUser(ctx context.Context, u domain.StaffUser) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.local.Users.Upsert(ctx, u); err != nil {
		return fmt.Errorf("failed to save user locally: %w", err)
	}
	return s.enqueueUpsert(ctx, repository.TableUsers, u.ID, u)
}

func (s *syncService) SaveRecord(ctx context.Context, r domain.AttendanceRecord) error {
	r = normalizeRecord(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.local.Records.Upsert(ctx, r); err != nil {
		return fmt.Errorf("failed to save record locally: %w", err)
	}
	return s.enqueueUpsert(ctx, repository.TableRecords, r.ID, r)
}

func (s *syncService) DeleteHospital(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.local.Hospitals.DeleteWhere(ctx, func(h domain.Hospital) bool { return h.ID == id }); err != nil {
		return fmt.Errorf("failed to delete hospital locally: %w", err)
	}
	return s.enqueue(ctx, store.OutboxEntry{Op: store.OpDelete, Table: repository.TableHospitals, ID: id})
}

func (s *syncService) DeleteUser(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.local.Users.DeleteWhere(ctx, func(u domain.StaffUser) bool { return u.ID == id }); err != nil {
		return fmt.Errorf("failed to delete user locally: %w", err)
	}
	return s.enqueue(ctx, store.OutboxEntry{Op: store.OpDelete, Table: repository.TableUsers, ID: id})
}

func (s *syncService) DeleteUsersByHospital(ctx context.Context, hospitalID string) ([]domain.StaffUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	removed, err := s.local.Users.DeleteWhere(ctx, func(u domain.StaffUser) bool { return u.HospitalID == hospitalID })
	if err != nil {
		return nil, fmt.Errorf("failed to delete users locally: %w", err)
	}
	err = s.enqueue(ctx, store.OutboxEntry{Op: store.OpDeleteWhere, Table: repository.TableUsers, Column: "hospital_id", Value: hospitalID})
	return removed, err
}

func (s *syncService) DeleteRecordsByHospital(ctx context.Context, hospitalID string) ([]domain.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	removed, err := s.local.Records.DeleteWhere(ctx, func(r domain.AttendanceRecord) bool { return r.HospitalID == hospitalID })
	if err != nil {
		return nil, fmt.Errorf("failed to delete records locally: %w", err)
	}
	err = s.enqueue(ctx, store.OutboxEntry{Op: store.OpDeleteWhere, Table: repository.TableRecords, Column: "hospital_id", Value: hospitalID})
	return removed, err
}

func (s *syncService) enqueueUpsert(ctx context.Context, table, id string, entity any) error {
	if s.remote == nil {
		return nil
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s for sync: %w", table, id, err)
	}
	return s.enqueue(ctx, store.OutboxEntry{Op: store.OpUpsert, Table: table, ID: id, Entity: data})
}

// enqueue 本地写入已成功；入队失败只记录日志，不回滚本地写入
func (s *syncService) enqueue(ctx context.Context, e store.OutboxEntry) error {
	if s.remote == nil {
		return nil
	}
	seq, err := s.local.Outbox.Append(ctx, e)
	if err != nil {
		s.logger.Error("Failed to enqueue remote write",
			zap.String("table", e.Table),
			zap.String("op", e.Op),
			zap.String("id", e.ID),
			zap.Error(err),
		)
		return nil
	}
	s.logger.Debug("Remote write enqueued",
		zap.Int64("seq", seq),
		zap.String("table", e.Table),
		zap.String("op", e.Op),
	)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// PushPending 按序推送 outbox，遇到远端失败即停止（保持顺序）
func (s *syncService) PushPending(ctx context.Context) (int, error) {
	if s.remote == nil {
		return 0, nil
	}
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	entries, err := s.local.Outbox.Pending(ctx)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, e := range entries {
		err := s.apply(ctx, e)
		if err != nil && !isPermanent(err) {
			if markErr := s.local.Outbox.MarkAttempt(ctx, e.Seq); markErr != nil {
				s.logger.Warn("Failed to record push attempt", zap.Int64("seq", e.Seq), zap.Error(markErr))
			}
			return pushed, err
		}
		if err != nil {
			// 无法解码/未知表，重试也不会成功
			s.logger.Error("Dropping unpushable outbox entry",
				zap.Int64("seq", e.Seq),
				zap.String("table", e.Table),
				zap.String("op", e.Op),
				zap.Error(err),
			)
		}
		if err := s.local.Outbox.Ack(ctx, e.Seq); err != nil {
			return pushed, err
		}
		pushed++
	}
	return pushed, nil
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p) ||
		errors.Is(err, repository.ErrUnknownTable) ||
		errors.Is(err, repository.ErrUnknownColumn) ||
		errors.Is(err, repository.ErrRowRejected)
}

func (s *syncService) apply(ctx context.Context, e store.OutboxEntry) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	switch e.Op {
	case store.OpUpsert:
		row, err := entityRow(e.Table, e.Entity)
		if err != nil {
			return permanentError{err}
		}
		return s.remote.Upsert(ctx, e.Table, row)
	case store.OpDelete:
		return s.remote.DeleteByID(ctx, e.Table, e.ID)
	case store.OpDeleteWhere:
		return s.remote.DeleteWhere(ctx, e.Table, e.Column, e.Value)
	default:
		return permanentError{fmt.Errorf("unknown outbox op %q", e.Op)}
	}
}

func entityRow(table string, raw json.RawMessage) (repository.Row, error) {
	switch table {
	case repository.TableHospitals:
		var h domain.Hospital
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, err
		}
		return repository.HospitalToRow(h), nil
	case repository.TableUsers:
		var u domain.StaffUser
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, err
		}
		return repository.UserToRow(u), nil
	case repository.TableRecords:
		var r domain.AttendanceRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return repository.RecordToRow(r), nil
	default:
		return nil, fmt.Errorf("%w: %s", repository.ErrUnknownTable, table)
	}
}

// RunPusher 后台推送协程：有新写入或定时重试；失败按指数退避
func (s *syncService) RunPusher(ctx context.Context) {
	if s.remote == nil {
		return
	}
	backoff := s.opts.BackoffMin
	for {
		n, err := s.PushPending(ctx)
		if err != nil {
			s.logger.Warn("Remote push failed, will retry",
				zap.Int("pushed", n),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.opts.BackoffMax {
				backoff = s.opts.BackoffMax
			}
			continue
		}
		if n > 0 {
			s.logger.Info("Remote push completed", zap.Int("pushed", n))
		}
		backoff = s.opts.BackoffMin

		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		case <-time.After(s.opts.BackoffMax):
		}
	}
}

// PullAndReconcile 拉取远端并与本地对齐
func (s *syncService) PullAndReconcile(ctx context.Context) SyncResult {
	res := s.pullAndReconcile(ctx)
	s.statusMu.Lock()
	s.lastPull = time.Now().UTC()
	s.lastMsg = res.Message
	s.statusMu.Unlock()
	return res
}

func (s *syncService) pullAndReconcile(ctx context.Context) SyncResult {
	if s.remote == nil {
		return SyncResult{Success: true, Message: msgNoRemote}
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	err := s.remote.Ping(pingCtx)
	cancel()
	if err != nil {
		s.logger.Info("Skipping reconcile: remote unreachable", zap.Error(err))
		return SyncResult{Success: true, Message: msgOffline}
	}

	if n, err := s.PushPending(ctx); err != nil {
		s.logger.Warn("Outbox flush before pull incomplete", zap.Int("pushed", n), zap.Error(err))
	}

	results, err := s.reconcileAll(ctx)
	if err != nil {
		return SyncResult{Success: false, Message: fmt.Sprintf("failed to read outbox: %v", err)}
	}

	// 引导数据在锁外推送；推送失败时留在 outbox，下次拉取会跳过该集合
	for _, r := range results {
		if r.Action == ActionSeeded {
			if n, err := s.PushPending(ctx); err != nil {
				s.logger.Warn("Seeding push incomplete", zap.Int("pushed", n), zap.Error(err))
			}
			break
		}
	}

	return summarize(results)
}

func (s *syncService) reconcileAll(ctx context.Context) ([]CollectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.local.Outbox.PendingTables(ctx)
	if err != nil {
		return nil, err
	}
	return []CollectionResult{
		reconcile(ctx, s, repository.TableHospitals, s.local.Hospitals, repository.RowToHospital, pending),
		reconcile(ctx, s, repository.TableUsers, s.local.Users, repository.RowToUser, pending),
		reconcile(ctx, s, repository.TableRecords, s.local.Records, repository.RowToRecord, pending),
	}, nil
}

// reconcile 单集合对齐：要么整集合替换，要么本地不动
func reconcile[T store.Entity](
	ctx context.Context,
	s *syncService,
	table string,
	coll *store.Collection[T],
	fromRow func(repository.Row) (T, error),
	pending map[string]int,
) CollectionResult {
	res := CollectionResult{Table: table}
	logFail := func(err error) CollectionResult {
		s.logger.Warn("Collection reconcile failed; local left untouched",
			zap.String("table", table),
			zap.Error(err),
		)
		res.Action = ActionFailed
		res.Error = err.Error()
		return res
	}

	if n := pending[table]; n > 0 {
		res.Action = ActionSkipped
		res.Count = n
		res.Error = fmt.Sprintf("%d local changes not yet pushed", n)
		return res
	}

	local, err := coll.All(ctx)
	if err != nil {
		return logFail(err)
	}

	selCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	rows, err := s.remote.SelectAll(selCtx, table)
	cancel()
	if err != nil {
		return logFail(err)
	}

	if len(rows) == 0 {
		if len(local) == 0 {
			res.Action = ActionUnchanged
			return res
		}
		// 远端尚未初始化：本地为准，全部入队推送
		for _, item := range local {
			data, err := json.Marshal(item)
			if err != nil {
				return logFail(err)
			}
			if _, err := s.local.Outbox.Append(ctx, store.OutboxEntry{
				Op: store.OpUpsert, Table: table, ID: item.EntityID(), Entity: data,
			}); err != nil {
				return logFail(err)
			}
		}
		s.logger.Info("Seeding empty remote collection from local",
			zap.String("table", table),
			zap.Int("count", len(local)),
		)
		res.Action = ActionSeeded
		res.Count = len(local)
		return res
	}

	// 先全部解码，任何一行失败则不写本地
	items := make([]T, 0, len(rows))
	for _, row := range rows {
		item, err := fromRow(row)
		if err != nil {
			return logFail(err)
		}
		items = append(items, item)
	}
	if err := coll.Replace(ctx, items); err != nil {
		return logFail(err)
	}
	res.Action = ActionPulled
	res.Count = len(items)
	return res
}

func summarize(results []CollectionResult) SyncResult {
	failed, skipped := 0, 0
	for _, r := range results {
		switch r.Action {
		case ActionFailed:
			failed++
		case ActionSkipped:
			skipped++
		}
	}
	out := SyncResult{Success: failed == 0, Collections: results}
	switch {
	case failed > 0:
		out.Message = fmt.Sprintf("Sync partially failed: %d of %d collections not reconciled.", failed, len(results))
	case skipped > 0:
		out.Message = fmt.Sprintf("Sync completed; %d collections kept local changes pending upload.", skipped)
	default:
		out.Message = "Sync completed."
	}
	return out
}

func (s *syncService) Status(ctx context.Context) SyncStatus {
	st := SyncStatus{RemoteConfigured: s.remote != nil}
	if s.remote != nil {
		pingCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		st.Online = s.remote.Ping(pingCtx) == nil
		cancel()
		if entries, err := s.local.Outbox.Pending(ctx); err == nil {
			st.PendingOps = len(entries)
		}
	}
	s.statusMu.Lock()
	if !s.lastPull.IsZero() {
		st.LastPullAt = s.lastPull.Format(time.RFC3339)
	}
	st.LastPullMessage = s.lastMsg
	s.statusMu.Unlock()
	return st
}

// Run 周期性拉取（启动时先执行一次）
func (s *syncService) Run(ctx context.Context, interval time.Duration) {
	if s.remote == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res := s.PullAndReconcile(ctx)
		s.logger.Info("Periodic reconcile finished",
			zap.Bool("success", res.Success),
			zap.String("message", res.Message),
		)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
